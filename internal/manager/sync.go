package manager

import (
	"context"
	"time"

	"github.com/apex/log"
	"github.com/blacktop/reviewsync/internal/model"
	"github.com/blacktop/reviewsync/internal/records"
	"github.com/blacktop/reviewsync/internal/syncer"
)

func (m *Manager) syncEngine(ctx context.Context) (*syncer.Engine, error) {
	if m.engine == nil {
		return nil, records.ErrNotConfigured
	}
	if err := m.store.Available(ctx); err != nil {
		return nil, err
	}
	return m.engine, nil
}

// SyncState returns the phase of the current or last sync run.
func (m *Manager) SyncState() syncer.State {
	if m.engine == nil {
		return syncer.Idle
	}
	return m.engine.State()
}

// BackupAll uploads every known app with its reviews, fetched fresh from
// the API, to the record store.
func (m *Manager) BackupAll(ctx context.Context, progress syncer.ProgressFunc) (*syncer.Report, error) {
	engine, err := m.syncEngine(ctx)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	var apps []*model.App
	for _, app := range m.apps {
		apps = append(apps, app.Clone())
	}
	m.mu.RUnlock()
	return engine.BackupAll(ctx, apps, progress)
}

// SyncAll downloads the record store into the local cache and reloads the
// app list from it. Missing icons are downloaded in the background.
func (m *Manager) SyncAll(ctx context.Context, progress syncer.ProgressFunc) (*syncer.Report, error) {
	engine, err := m.syncEngine(ctx)
	if err != nil {
		return nil, err
	}
	report, err := engine.SyncAll(ctx, progress)
	if report == nil || report.Apps == 0 {
		return report, err
	}

	if apps, lerr := m.local.ListApps(); lerr == nil {
		for _, app := range apps {
			m.loadCachedDownloads(app)
		}
		m.mu.Lock()
		m.apps = model.ApplyOrder(apps, m.userSettings().AppOrder)
		m.mu.Unlock()
	} else {
		log.WithError(lerr).Warn("failed to reload apps from local cache")
	}

	if m.icons != nil {
		m.goBackground(ctx, func(ctx context.Context) {
			if err := engine.LoadIcons(ctx); err != nil {
				log.WithError(err).Warn("icon download interrupted")
			}
		})
	}
	return report, err
}

// LoadCached fills the app list from the local cache, for use before the
// first fetch or when the API is unreachable.
func (m *Manager) LoadCached() ([]*model.App, error) {
	apps, err := m.local.ListApps()
	if err != nil {
		return nil, err
	}
	for _, app := range apps {
		m.loadCachedDownloads(app)
	}
	m.mu.Lock()
	m.apps = model.ApplyOrder(apps, m.userSettings().AppOrder)
	m.mu.Unlock()
	return m.Apps(), nil
}

// RunAutoSync syncs every interval until ctx is done.
func (m *Manager) RunAutoSync(ctx context.Context, interval time.Duration, progress syncer.ProgressFunc) error {
	engine, err := m.syncEngine(ctx)
	if err != nil {
		return err
	}
	return engine.Run(ctx, interval, progress)
}
