package model

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidateResponseBody(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"exact limit", strings.Repeat("a", MaxResponseLength), false},
		{"one over", strings.Repeat("a", MaxResponseLength+1), true},
		{"multibyte at limit", strings.Repeat("감", MaxResponseLength), false},
		{"empty", "", true},
		{"whitespace", "  \n\t", true},
		{"short", "Thanks!", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateResponseBody(tt.body)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateResponseBody() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrValidation) {
				t.Errorf("expected validation failure, got %v", err)
			}
		})
	}
}

func TestReviewValidate(t *testing.T) {
	for rating := -1; rating <= 6; rating++ {
		r := &CustomerReview{ID: "r", Rating: rating}
		err := r.Validate()
		if rating >= 1 && rating <= 5 {
			assert.NoError(t, err, "rating %d", rating)
		} else {
			assert.ErrorIs(t, err, ErrValidation, "rating %d", rating)
		}
	}
}

func TestErrorKinds(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewError(NotFound, "fetch", "no record", nil))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrConflict)
	assert.Equal(t, NotFound, KindOf(err))
	assert.Equal(t, Unknown, KindOf(errors.New("plain")))
	assert.Equal(t, "fetch: no record", NewError(NotFound, "fetch", "no record", nil).Error())
}

func TestBatchReport(t *testing.T) {
	var r BatchReport
	r.Success()
	assert.NoError(t, r.Err())
	r.Fail("app2", errors.New("boom"))
	err := r.Err()
	assert.ErrorIs(t, err, ErrPartialFailure)
	assert.Contains(t, err.Error(), "1 of 2 items failed (app2)")
}

func TestParseVersionState(t *testing.T) {
	assert.Equal(t, InReview, ParseVersionState("IN_REVIEW"))
	assert.Equal(t, VersionState(""), ParseVersionState("SOMETHING_NEW"))
	assert.Equal(t, "red", Rejected.BadgeColor())
	assert.Equal(t, "Ready For Sale", ReadyForSale.DisplayName())
}

func TestApplyOrder(t *testing.T) {
	apps := []*App{
		{ID: "a", Name: "Alpha"},
		{ID: "b", Name: "Beta", UnansweredCount: 3},
		{ID: "c", Name: "Gamma", UnansweredCount: 1},
		{ID: "d", Name: "Delta"},
	}
	got := ApplyOrder(apps, []string{"d", "missing", "a"})
	var ids []string
	for _, a := range got {
		ids = append(ids, a.ID)
	}
	assert.Equal(t, []string{"d", "a", "b", "c"}, ids)

	got = ApplyOrder(apps, nil)
	ids = ids[:0]
	for _, a := range got {
		ids = append(ids, a.ID)
	}
	assert.Equal(t, []string{"b", "c", "a", "d"}, ids)
}

func TestFilterAndSort(t *testing.T) {
	now := time.Now()
	reviews := []*CustomerReview{
		{ID: "1", Rating: 5, CreatedDate: now.Add(-2 * time.Hour)},
		{ID: "2", Rating: 1, CreatedDate: now, Response: &Response{ID: "x"}},
		{ID: "3", Rating: 3, CreatedDate: now.Add(-time.Hour)},
	}
	assert.Len(t, FilterUnanswered.Apply(reviews), 2)
	assert.Len(t, FilterAnswered.Apply(reviews), 1)
	assert.Len(t, FilterFiveStars.Apply(reviews), 1)
	assert.Equal(t, 2, CountUnanswered(reviews))

	SortNewest.Sort(reviews)
	assert.Equal(t, "2", reviews[0].ID)
	SortLowestRating.Sort(reviews)
	assert.Equal(t, "2", reviews[0].ID)
	SortHighestRating.Sort(reviews)
	assert.Equal(t, "1", reviews[0].ID)
	assert.Equal(t, "★★★★★", reviews[0].Stars())
}

func TestCredentialsString(t *testing.T) {
	c := Credentials{IssuerID: "iss", KeyID: "kid", PrivateKey: "secret-material"}
	assert.NotContains(t, c.String(), "secret")
	assert.True(t, c.Complete())
	assert.False(t, Credentials{IssuerID: "iss"}.Complete())
}
