package records

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/apex/log"
	"github.com/blacktop/reviewsync/internal/model"
	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds the conflict retries of an upsert.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryPolicy is 3 attempts half a second apart.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, Backoff: 500 * time.Millisecond}

// UpsertWithRetry runs op until it succeeds, fails with something other than
// ErrServerRecordChanged, or the policy's attempts are used up. op must
// re-fetch the record and re-apply its changes on every attempt.
func UpsertWithRetry(ctx context.Context, policy RetryPolicy, op func(ctx context.Context, attempt int) error) error {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	attempt := 0
	operation := func() error {
		attempt++
		err := op(ctx, attempt)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrServerRecordChanged) {
			log.WithFields(log.Fields{"attempt": attempt, "max": policy.MaxAttempts}).Debug("record changed on server, retrying")
			return err
		}
		return backoff.Permanent(err)
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(policy.Backoff), uint64(policy.MaxAttempts-1)),
		ctx,
	)
	err := backoff.Retry(operation, b)
	if err != nil && errors.Is(err, ErrServerRecordChanged) {
		return model.NewError(model.Conflict, "upsert", fmt.Sprintf("gave up after %d attempts", attempt), err)
	}
	return err
}
