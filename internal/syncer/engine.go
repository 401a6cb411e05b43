// Package syncer moves apps and reviews between the App Store Connect API,
// the record store and the local cache.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/apex/log"
	"github.com/blacktop/reviewsync/internal/config"
	"github.com/blacktop/reviewsync/internal/db"
	"github.com/blacktop/reviewsync/internal/icons"
	"github.com/blacktop/reviewsync/internal/model"
)

var (
	// ErrStoreEmpty is returned by SyncAll when the record store holds no
	// apps yet; a backup has to run first.
	ErrStoreEmpty = model.NewError(model.NotFound, "sync", "no apps in the record store, run a backup from the machine with API access first", nil)
	// ErrBusy is returned when a run is already in flight.
	ErrBusy = model.NewError(model.Conflict, "busy", "already in progress", nil)
)

// State is the phase of a run.
type State int32

const (
	Idle State = iota
	FetchingApps
	SavingApps
	SyncingReviews
	BackingUp
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case FetchingApps:
		return "fetching apps"
	case SavingApps:
		return "saving apps"
	case SyncingReviews:
		return "syncing reviews"
	case BackingUp:
		return "backing up"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Progress is reported while a run goes through the apps.
type Progress struct {
	State   State
	Current int
	Total   int
	AppID   string
	AppName string
}

func (p Progress) String() string {
	if p.Total == 0 {
		return p.State.String()
	}
	return fmt.Sprintf("%s: %s (%d/%d)", p.State, p.AppName, p.Current, p.Total)
}

// ProgressFunc receives progress updates; it may be nil.
type ProgressFunc func(Progress)

// Report summarizes a run.
type Report struct {
	Apps    int
	Reviews int
	Batch   *model.BatchReport
	Started time.Time
	Elapsed time.Duration
}

// ReviewSource is the authoritative source of reviews.
type ReviewSource interface {
	ListReviews(ctx context.Context, appID string) ([]*model.CustomerReview, error)
}

// RecordStore is the sync hub.
type RecordStore interface {
	FetchApps(ctx context.Context) ([]*model.App, error)
	FetchReviews(ctx context.Context, appID string) ([]*model.CustomerReview, error)
	SaveApp(ctx context.Context, app *model.App) error
	SaveReview(ctx context.Context, review *model.CustomerReview) error
	SaveAppMetadata(ctx context.Context, appID string, lastChecked time.Time) error
}

// Engine runs syncs. At most one run is in flight at a time.
type Engine struct {
	api      ReviewSource
	store    RecordStore
	local    db.Database
	settings config.Settings
	icons    icons.Resolver
	now      func() time.Time

	state atomic.Int32
	busy  atomic.Bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithIcons sets the icon resolver used to fill in icon URLs.
func WithIcons(r icons.Resolver) Option {
	return func(e *Engine) { e.icons = r }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine.
func New(api ReviewSource, store RecordStore, local db.Database, settings config.Settings, opts ...Option) *Engine {
	e := &Engine{
		api:      api,
		store:    store,
		local:    local,
		settings: settings,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the phase of the current or last run.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Busy reports whether a run is in flight.
func (e *Engine) Busy() bool {
	return e.busy.Load()
}

func (e *Engine) set(s State, progress ProgressFunc, current, total int, app *model.App) {
	e.state.Store(int32(s))
	if progress == nil {
		return
	}
	p := Progress{State: s, Current: current, Total: total}
	if app != nil {
		p.AppID, p.AppName = app.ID, app.Name
	}
	progress(p)
}

func (e *Engine) begin() (*Report, error) {
	if !e.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	return &Report{Batch: &model.BatchReport{}, Started: e.now()}, nil
}

func (e *Engine) finish(r *Report, progress ProgressFunc, err error) (*Report, error) {
	defer e.busy.Store(false)
	r.Elapsed = e.now().Sub(r.Started)
	if err != nil {
		e.set(Failed, progress, 0, 0, nil)
		return r, err
	}
	e.set(Done, progress, 0, 0, nil)
	return r, r.Batch.Err()
}

// SyncAll downloads apps and reviews from the record store into the local
// cache. A failing app is recorded in the report and skipped; the returned
// error is then a PartialFailure.
func (e *Engine) SyncAll(ctx context.Context, progress ProgressFunc) (*Report, error) {
	report, err := e.begin()
	if err != nil {
		return nil, err
	}
	return e.finish(report, progress, e.syncAll(ctx, report, progress))
}

func (e *Engine) syncAll(ctx context.Context, report *Report, progress ProgressFunc) error {
	e.set(FetchingApps, progress, 0, 0, nil)
	apps, err := e.store.FetchApps(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch apps from record store: %w", err)
	}
	if len(apps) == 0 {
		return ErrStoreEmpty
	}

	if e.icons != nil {
		for _, app := range apps {
			if u, ok := e.icons.CachedURL(app.BundleID); ok {
				app.IconURL = u
			}
		}
	}

	e.set(SavingApps, progress, 0, len(apps), nil)
	if err := e.local.UpsertApps(apps...); err != nil {
		return fmt.Errorf("failed to save apps locally: %w", err)
	}
	report.Apps = len(apps)

	for i, app := range apps {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.set(SyncingReviews, progress, i+1, len(apps), app)

		reviews, err := e.store.FetchReviews(ctx, app.ID)
		if err != nil {
			log.WithError(err).WithField("app", app.Name).Warn("failed to fetch reviews from record store")
			report.Batch.Fail(app.ID, err)
			continue
		}
		if err := e.local.UpsertReviews(app.ID, reviews); err != nil {
			log.WithError(err).WithField("app", app.Name).Warn("failed to save reviews locally")
			report.Batch.Fail(app.ID, err)
			continue
		}
		report.Reviews += len(reviews)
		report.Batch.Success()
	}

	if e.settings != nil {
		if err := e.settings.Set(config.KeyLastSyncDate, e.now()); err != nil {
			log.WithError(err).Warn("failed to save last sync date")
		}
	}
	log.WithFields(log.Fields{"apps": report.Apps, "reviews": report.Reviews}).Info("sync finished")
	return nil
}

// BackupAll uploads apps and their reviews, fetched fresh from the API, to
// the record store. A nil apps slice backs up the apps of the local cache.
// A failing app is recorded in the report and skipped.
func (e *Engine) BackupAll(ctx context.Context, apps []*model.App, progress ProgressFunc) (*Report, error) {
	report, err := e.begin()
	if err != nil {
		return nil, err
	}
	return e.finish(report, progress, e.backupAll(ctx, apps, report, progress))
}

func (e *Engine) backupAll(ctx context.Context, apps []*model.App, report *Report, progress ProgressFunc) error {
	if apps == nil {
		var err error
		if apps, err = e.local.ListApps(); err != nil {
			return fmt.Errorf("failed to list local apps: %w", err)
		}
	}

	for i, app := range apps {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.set(BackingUp, progress, i+1, len(apps), app)

		if err := e.store.SaveApp(ctx, app); err != nil {
			log.WithError(err).WithField("app", app.Name).Warn("failed to back up app")
			report.Batch.Fail(app.ID, err)
			continue
		}
		report.Apps++

		reviews, err := e.api.ListReviews(ctx, app.ID)
		if err != nil {
			log.WithError(err).WithField("app", app.Name).Warn("failed to fetch reviews")
			report.Batch.Fail(app.ID, err)
			continue
		}
		var errs []error
		for _, review := range reviews {
			if err := e.store.SaveReview(ctx, review); err != nil {
				errs = append(errs, fmt.Errorf("review %s: %w", review.ID, err))
				continue
			}
			report.Reviews++
		}
		if len(errs) > 0 {
			log.WithField("app", app.Name).Warnf("failed to back up %d of %d reviews", len(errs), len(reviews))
			report.Batch.Fail(app.ID, errors.Join(errs...))
			continue
		}
		report.Batch.Success()
	}

	for _, app := range apps {
		lastChecked := app.LastCheckedDate
		if e.settings != nil {
			if t := e.settings.GetTime(config.LastCheckedKey(app.ID)); t.After(lastChecked) {
				lastChecked = t
			}
		}
		if lastChecked.IsZero() {
			continue
		}
		if err := e.store.SaveAppMetadata(ctx, app.ID, lastChecked); err != nil {
			log.WithError(err).WithField("app", app.Name).Warn("failed to back up last checked date")
		}
	}

	log.WithFields(log.Fields{"apps": report.Apps, "reviews": report.Reviews}).Info("backup finished")
	return nil
}

// LoadIcons points the cached apps at the icons of this machine's icon
// cache, downloading the ones it does not have yet.
func (e *Engine) LoadIcons(ctx context.Context) error {
	if e.icons == nil {
		return nil
	}
	apps, err := e.local.ListApps()
	if err != nil {
		return err
	}
	byBundle := make(map[string]*model.App)
	var missing []string
	for _, app := range apps {
		if app.BundleID == "" {
			continue
		}
		if u, ok := e.icons.CachedURL(app.BundleID); ok {
			if app.IconURL != u {
				e.saveIconURL(app, u)
			}
			continue
		}
		byBundle[app.BundleID] = app
		missing = append(missing, app.BundleID)
	}
	if len(missing) == 0 {
		return nil
	}
	return icons.LoadBatched(ctx, e.icons, missing, func(bundleID, u string) {
		e.saveIconURL(byBundle[bundleID], u)
	})
}

func (e *Engine) saveIconURL(app *model.App, u string) {
	app = app.Clone()
	app.IconURL = u
	if err := e.local.UpsertApps(app); err != nil {
		log.WithError(err).WithField("app", app.Name).Warn("failed to save icon url")
	}
}

// Run syncs every interval until ctx is done.
func (e *Engine) Run(ctx context.Context, interval time.Duration, progress ProgressFunc) error {
	if interval <= 0 {
		interval = config.DefaultSyncInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := e.SyncAll(ctx, progress); err != nil {
				if errors.Is(err, ErrBusy) {
					log.Debug("skipping auto sync, previous run still in progress")
					continue
				}
				log.WithError(err).Error("auto sync failed")
			}
		}
	}
}
