// Package db is the local cache of apps, reviews and responses.
package db

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/blacktop/reviewsync/internal/model"
)

const cacheDBName = "reviews.db"

// Database is the interface that wraps the local cache operations.
//
// Upserts match by ID: an existing entry is updated in place, a missing one
// is created. Deleting an app deletes its reviews, deleting a review deletes
// its response.
type Database interface {
	// Connect opens the database.
	Connect() error

	// UpsertApps creates or updates apps, not their reviews.
	UpsertApps(apps ...*model.App) error

	// UpsertReviews creates or updates the reviews of an app together with
	// their responses. A review without a response loses any cached one.
	UpsertReviews(appID string, reviews []*model.CustomerReview) error

	// GetApp returns the app with the given ID.
	// It returns model.ErrNotFound if the app does not exist.
	GetApp(id string) (*model.App, error)

	// ListApps returns all apps ordered by name with their unanswered count.
	ListApps() ([]*model.App, error)

	// ListReviews returns the reviews of an app, newest first.
	ListReviews(appID string) ([]*model.CustomerReview, error)

	// SetLastChecked records when the reviews of an app were last looked at.
	SetLastChecked(appID string, lastChecked time.Time) error

	// DeleteApp removes an app, its reviews and their responses.
	DeleteApp(id string) error

	// DeleteReview removes a review and its response.
	DeleteReview(id string) error

	// Close closes the database.
	Close() error
}

// DefaultPath returns the cache location under the user config directory.
func DefaultPath() (string, error) {
	userConfigDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}
	dir := filepath.Join(userConfigDir, "reviewsync")
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("failed to create config directory '%s': %w", dir, err)
	}
	return filepath.Join(dir, cacheDBName), nil
}

func notFound(what, id string) error {
	return model.NewError(model.NotFound, "local cache", fmt.Sprintf("%s %s not found", what, id), nil)
}

// mergeApp copies the synced fields of src onto dst, keeping local-only
// values src does not carry.
func mergeApp(dst, src *model.App) {
	dst.Name = src.Name
	dst.BundleID = src.BundleID
	dst.SKU = src.SKU
	dst.PrimaryLocale = src.PrimaryLocale
	dst.CurrentVersion = src.CurrentVersion
	dst.VersionState = src.VersionState
	if src.IconURL != "" {
		dst.IconURL = src.IconURL
	}
	if !src.LastCheckedDate.IsZero() {
		dst.LastCheckedDate = src.LastCheckedDate
	}
	if !src.LastSynced.IsZero() {
		dst.LastSynced = src.LastSynced
	}
}

// mergeReview copies the mutable fields of src onto dst. The creation date is
// immutable once observed.
func mergeReview(dst, src *model.CustomerReview) {
	dst.AppID = src.AppID
	dst.Rating = src.Rating
	dst.Title = src.Title
	dst.Body = src.Body
	dst.ReviewerNickname = src.ReviewerNickname
	dst.Territory = src.Territory
	if dst.CreatedDate.IsZero() {
		dst.CreatedDate = src.CreatedDate
	}
}
