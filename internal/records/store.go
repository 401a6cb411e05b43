package records

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/apex/log"
	"github.com/blacktop/reviewsync/internal/model"
	lru "github.com/hashicorp/golang-lru/v2"
)

const snapshotCacheSize = 4096

// Store is the typed record API used by the sync engine.
type Store struct {
	backend Backend
	policy  RetryPolicy

	// snapshots holds the fields this client last wrote per record, the base
	// for computing changed keys.
	snapshots *lru.Cache[string, map[string]any]
	available atomic.Bool
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithRetryPolicy overrides DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) StoreOption {
	return func(s *Store) { s.policy = p }
}

// NewStore creates a Store over backend. A nil backend yields a store whose
// operations all return ErrNotConfigured.
func NewStore(backend Backend, opts ...StoreOption) *Store {
	cache, _ := lru.New[string, map[string]any](snapshotCacheSize)
	s := &Store{
		backend:   backend,
		policy:    DefaultRetryPolicy,
		snapshots: cache,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Available checks the backend once per session; after a successful check it
// returns nil without contacting the backend again.
func (s *Store) Available(ctx context.Context) error {
	if s == nil || s.backend == nil {
		return ErrNotConfigured
	}
	if s.available.Load() {
		return nil
	}
	if err := s.backend.Status(ctx); err != nil {
		return model.NewError(model.RemoteUnavailable, "record store", "record store unavailable", err)
	}
	s.available.Store(true)
	return nil
}

// Close closes the backend.
func (s *Store) Close() error {
	if s == nil || s.backend == nil {
		return nil
	}
	return s.backend.Close()
}

// upsert writes desired under name: create when absent, recreate on a kind
// mismatch, otherwise write only the changed keys.
func (s *Store) upsert(ctx context.Context, name string, kind Kind, desired fields) error {
	if err := s.Available(ctx); err != nil {
		return err
	}
	return UpsertWithRetry(ctx, s.policy, func(ctx context.Context, attempt int) error {
		current, err := s.backend.Fetch(ctx, name)
		if err != nil && !errors.Is(err, ErrUnknownRecord) {
			return err
		}

		if current != nil && current.Kind != kind {
			log.WithFields(log.Fields{
				"record": name,
				"found":  current.Kind,
				"want":   kind,
			}).Warn("record has unexpected type, recreating it")
			if err := s.backend.Delete(ctx, name); err != nil {
				return fmt.Errorf("failed to delete record %s: %w", name, err)
			}
			s.snapshots.Remove(name)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.policy.Backoff):
			}
			current = nil
		}

		rec := &Record{Name: name, Kind: kind, Fields: map[string]any(desired)}
		var keys []string
		if current != nil {
			base, ok := s.snapshots.Get(name)
			if !ok {
				base = current.Fields
			}
			keys = changedKeys(base, desired)
			if len(keys) == 0 {
				s.snapshots.Add(name, cloneFields(desired))
				return nil
			}
			rec.ChangeTag = current.ChangeTag
		}

		if _, err := s.backend.Save(ctx, rec, keys); err != nil {
			return err
		}
		s.snapshots.Add(name, cloneFields(desired))
		log.WithFields(log.Fields{"record": name, "keys": len(keys), "attempt": attempt}).Debug("saved record")
		return nil
	})
}

func (s *Store) fetch(ctx context.Context, name string) (*Record, error) {
	if err := s.Available(ctx); err != nil {
		return nil, err
	}
	return s.backend.Fetch(ctx, name)
}

func (s *Store) query(ctx context.Context, kind Kind, pred *Predicate) ([]*Record, error) {
	if err := s.Available(ctx); err != nil {
		return nil, err
	}
	return s.backend.Query(ctx, kind, pred)
}

// SaveCredentials uploads the API credentials.
func (s *Store) SaveCredentials(ctx context.Context, creds model.Credentials) error {
	return s.upsert(ctx, CredentialsName, KindCredentials, encodeCredentials(creds))
}

// FetchCredentials returns the stored credentials or a NotFound error.
func (s *Store) FetchCredentials(ctx context.Context) (model.Credentials, error) {
	rec, err := s.fetch(ctx, CredentialsName)
	if err != nil {
		return model.Credentials{}, err
	}
	return decodeCredentials(rec), nil
}

// DeleteCredentials removes the stored credentials.
func (s *Store) DeleteCredentials(ctx context.Context) error {
	if err := s.Available(ctx); err != nil {
		return err
	}
	s.snapshots.Remove(CredentialsName)
	return s.backend.Delete(ctx, CredentialsName)
}

// SaveAppMetadata stores when the reviews of an app were last looked at.
func (s *Store) SaveAppMetadata(ctx context.Context, appID string, lastChecked time.Time) error {
	return s.upsert(ctx, AppMetadataName(appID), KindAppMetadata, encodeAppMetadata(appID, lastChecked))
}

// FetchAppMetadata returns the last checked date of an app.
func (s *Store) FetchAppMetadata(ctx context.Context, appID string) (time.Time, error) {
	rec, err := s.fetch(ctx, AppMetadataName(appID))
	if err != nil {
		return time.Time{}, err
	}
	return getTime(rec, fieldLastCheckedDate), nil
}

// FetchAllAppMetadata returns the last checked dates keyed by app ID.
func (s *Store) FetchAllAppMetadata(ctx context.Context) (map[string]time.Time, error) {
	recs, err := s.query(ctx, KindAppMetadata, nil)
	if err != nil {
		return nil, err
	}
	out := make(map[string]time.Time, len(recs))
	for _, rec := range recs {
		if id := getString(rec, fieldAppID); id != "" {
			out[id] = getTime(rec, fieldLastCheckedDate)
		}
	}
	return out, nil
}

// SaveApp upserts an app.
func (s *Store) SaveApp(ctx context.Context, app *model.App) error {
	if app == nil || app.ID == "" {
		return model.NewError(model.InvalidInput, "save app", "missing app id", nil)
	}
	return s.upsert(ctx, AppName(app.ID), KindApp, encodeApp(app))
}

// FetchApps returns all apps ordered by name.
func (s *Store) FetchApps(ctx context.Context) ([]*model.App, error) {
	recs, err := s.query(ctx, KindApp, nil)
	if err != nil {
		return nil, err
	}
	apps := make([]*model.App, 0, len(recs))
	for _, rec := range recs {
		app := decodeApp(rec)
		if app.ID == "" {
			log.WithField("record", rec.Name).Warn("skipping app record without id")
			continue
		}
		apps = append(apps, app)
	}
	slices.SortStableFunc(apps, func(a, b *model.App) int { return cmp.Compare(a.Name, b.Name) })
	return apps, nil
}

// SaveReview upserts a review with its response flattened into the record.
func (s *Store) SaveReview(ctx context.Context, review *model.CustomerReview) error {
	if err := review.Validate(); err != nil {
		return err
	}
	return s.upsert(ctx, ReviewName(review.ID), KindReview, encodeReview(review))
}

// FetchReviews returns the reviews of an app, newest first.
func (s *Store) FetchReviews(ctx context.Context, appID string) ([]*model.CustomerReview, error) {
	recs, err := s.query(ctx, KindReview, Eq(fieldAppID, appID))
	if err != nil {
		return nil, err
	}
	reviews := make([]*model.CustomerReview, 0, len(recs))
	for _, rec := range recs {
		reviews = append(reviews, decodeReview(rec))
	}
	model.SortNewest.Sort(reviews)
	return reviews, nil
}

// SaveUserSettings stores the settings shared between installations.
func (s *Store) SaveUserSettings(ctx context.Context, settings model.UserSettings) error {
	return s.upsert(ctx, UserSettingsName, KindUserSettings, encodeUserSettings(settings))
}

// FetchUserSettings returns the shared settings, empty when none were saved.
func (s *Store) FetchUserSettings(ctx context.Context) (model.UserSettings, error) {
	rec, err := s.fetch(ctx, UserSettingsName)
	if err != nil {
		if errors.Is(err, ErrUnknownRecord) {
			return model.UserSettings{}, nil
		}
		return model.UserSettings{}, err
	}
	return decodeUserSettings(rec), nil
}
