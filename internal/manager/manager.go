// Package manager ties the API client, the record store, the local cache and
// the local settings together behind the operations a front end needs.
package manager

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apex/log"
	"github.com/blacktop/reviewsync/internal/config"
	"github.com/blacktop/reviewsync/internal/db"
	"github.com/blacktop/reviewsync/internal/icons"
	"github.com/blacktop/reviewsync/internal/model"
	"github.com/blacktop/reviewsync/internal/records"
	"github.com/blacktop/reviewsync/internal/syncer"
)

// ErrBusy is returned when the same kind of operation is already running.
var ErrBusy = syncer.ErrBusy

// API is the subset of the App Store Connect client the manager uses.
type API interface {
	Configure(creds model.Credentials) error
	Reset()
	Configured() bool
	ListApps(ctx context.Context) ([]*model.App, error)
	ListReviews(ctx context.Context, appID string) ([]*model.CustomerReview, error)
	Respond(ctx context.Context, reviewID, body string) error
	DeleteResponse(ctx context.Context, responseID string) error
	Sum30DayDownloads(ctx context.Context, vendorNumber string) (int, error)
}

// Store is the record store as seen by the manager.
type Store interface {
	syncer.RecordStore
	Available(ctx context.Context) error
	SaveCredentials(ctx context.Context, creds model.Credentials) error
	FetchCredentials(ctx context.Context) (model.Credentials, error)
	FetchAllAppMetadata(ctx context.Context) (map[string]time.Time, error)
	SaveUserSettings(ctx context.Context, settings model.UserSettings) error
	FetchUserSettings(ctx context.Context) (model.UserSettings, error)
}

// Manager owns the in-memory app and review collections. Readers get copies.
type Manager struct {
	api      API
	store    Store
	local    db.Database
	settings config.Settings
	icons    icons.Resolver
	engine   *syncer.Engine
	now      func() time.Time

	mu       sync.RWMutex
	apps     []*model.App // every app of the account, in display order
	reviews  []*model.CustomerReview
	selected string

	fetchingApps    atomic.Bool
	fetchingReviews atomic.Bool
	background      sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithStore enables syncing through the record store.
func WithStore(s Store) Option {
	return func(m *Manager) { m.store = s }
}

// WithIcons sets the icon resolver.
func WithIcons(r icons.Resolver) Option {
	return func(m *Manager) { m.icons = r }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New creates a manager.
func New(api API, local db.Database, settings config.Settings, opts ...Option) *Manager {
	m := &Manager{
		api:      api,
		local:    local,
		settings: settings,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.store != nil {
		var eopts []syncer.Option
		if m.icons != nil {
			eopts = append(eopts, syncer.WithIcons(m.icons))
		}
		eopts = append(eopts, syncer.WithClock(m.now))
		m.engine = syncer.New(api, m.store, local, settings, eopts...)
	}
	return m
}

// storeReady reports whether the record store can be used right now.
func (m *Manager) storeReady(ctx context.Context) bool {
	if m.store == nil {
		return false
	}
	if err := m.store.Available(ctx); err != nil {
		log.WithError(err).Debug("record store not available")
		return false
	}
	return true
}

// Wait blocks until background uploads and icon downloads are done.
func (m *Manager) Wait() {
	m.background.Wait()
}

func (m *Manager) goBackground(ctx context.Context, fn func(ctx context.Context)) {
	ctx = context.WithoutCancel(ctx)
	m.background.Add(1)
	go func() {
		defer m.background.Done()
		fn(ctx)
	}()
}

// Authenticated reports whether API credentials are configured.
func (m *Manager) Authenticated() bool {
	return m.api.Configured()
}

func (m *Manager) localCredentials() model.Credentials {
	return model.Credentials{
		IssuerID:   m.settings.GetString(config.KeyIssuerID),
		KeyID:      m.settings.GetString(config.KeyKeyID),
		PrivateKey: m.settings.GetString(config.KeyPrivateKey),
	}
}

func (m *Manager) saveLocalCredentials(creds model.Credentials) error {
	return errors.Join(
		m.settings.Set(config.KeyIssuerID, creds.IssuerID),
		m.settings.Set(config.KeyKeyID, creds.KeyID),
		m.settings.Set(config.KeyPrivateKey, creds.PrivateKey),
	)
}

// LoadCredentials configures the API client from the local settings, or
// from the record store when nothing is saved locally. It also pulls the
// shared app metadata and user settings. It reports whether credentials
// were found.
func (m *Manager) LoadCredentials(ctx context.Context) (bool, error) {
	ready := m.storeReady(ctx)
	if ready {
		m.pullSharedState(ctx)
	}

	if creds := m.localCredentials(); creds.Complete() {
		if err := m.api.Configure(creds); err != nil {
			return false, err
		}
		log.WithField("credentials", creds).Debug("loaded local credentials")
		return true, nil
	}

	if !ready {
		return false, nil
	}
	creds, err := m.store.FetchCredentials(ctx)
	if err != nil {
		if errors.Is(err, records.ErrUnknownRecord) {
			return false, nil
		}
		log.WithError(err).Warn("failed to fetch credentials from record store")
		return false, nil
	}
	if !creds.Complete() {
		return false, nil
	}
	if err := m.api.Configure(creds); err != nil {
		return false, err
	}
	if err := m.saveLocalCredentials(creds); err != nil {
		log.WithError(err).Warn("failed to save credentials locally")
	}
	log.WithField("credentials", creds).Info("loaded credentials from record store")
	return true, nil
}

// pullSharedState copies the last checked dates and the user settings
// from the record store into the local settings.
func (m *Manager) pullSharedState(ctx context.Context) {
	metadata, err := m.store.FetchAllAppMetadata(ctx)
	if err != nil {
		log.WithError(err).Warn("failed to fetch app metadata from record store")
	}
	for appID, lastChecked := range metadata {
		if lastChecked.After(m.settings.GetTime(config.LastCheckedKey(appID))) {
			if err := m.settings.Set(config.LastCheckedKey(appID), lastChecked); err != nil {
				log.WithError(err).Warn("failed to save last checked date")
			}
		}
	}

	us, err := m.store.FetchUserSettings(ctx)
	if err != nil {
		log.WithError(err).Warn("failed to fetch user settings from record store")
		return
	}
	if us.HiddenApps != nil {
		_ = m.settings.Set(config.KeyHiddenApps, us.HiddenApps)
	}
	if us.AppOrder != nil {
		_ = m.settings.Set(config.KeyAppOrder, us.AppOrder)
	}
}

// Configure validates and saves new credentials locally and in the record
// store.
func (m *Manager) Configure(ctx context.Context, creds model.Credentials) error {
	if err := m.api.Configure(creds); err != nil {
		return err
	}
	if err := m.saveLocalCredentials(creds); err != nil {
		return err
	}
	if m.storeReady(ctx) {
		if err := m.store.SaveCredentials(ctx, creds); err != nil {
			log.WithError(err).Warn("failed to save credentials to record store")
		}
	}
	return nil
}

// Logout forgets the local credentials and clears the collections. The
// credentials saved in the record store are kept.
func (m *Manager) Logout() error {
	m.api.Reset()
	m.mu.Lock()
	m.apps, m.reviews, m.selected = nil, nil, ""
	m.mu.Unlock()
	return errors.Join(
		m.settings.Delete(config.KeyIssuerID),
		m.settings.Delete(config.KeyKeyID),
		m.settings.Delete(config.KeyPrivateKey),
	)
}
