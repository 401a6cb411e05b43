package manager

import (
	"context"
	"slices"
	"time"

	"github.com/apex/log"
	"github.com/blacktop/reviewsync/internal/config"
	"github.com/blacktop/reviewsync/internal/icons"
	"github.com/blacktop/reviewsync/internal/model"
)

// Apps returns the visible apps in display order.
func (m *Manager) Apps() []*model.App {
	hidden := m.userSettings()
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.App
	for _, app := range m.apps {
		if !hidden.IsHidden(app.ID) {
			out = append(out, app.Clone())
		}
	}
	return out
}

// HiddenApps returns the apps the user hid.
func (m *Manager) HiddenApps() []*model.App {
	hidden := m.userSettings()
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.App
	for _, app := range m.apps {
		if hidden.IsHidden(app.ID) {
			out = append(out, app.Clone())
		}
	}
	return out
}

// App returns a copy of one app.
func (m *Manager) App(appID string) (*model.App, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i := m.indexOf(appID)
	if i < 0 {
		return nil, false
	}
	return m.apps[i].Clone(), true
}

// indexOf must be called with mu held.
func (m *Manager) indexOf(appID string) int {
	return slices.IndexFunc(m.apps, func(a *model.App) bool { return a.ID == appID })
}

// FetchApps loads the apps from the API, computes their unanswered review
// badges and applies the saved order. Apps and reviews are cached locally
// and uploaded to the record store in the background; missing icons are
// downloaded in the background too.
func (m *Manager) FetchApps(ctx context.Context) ([]*model.App, error) {
	if !m.fetchingApps.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer m.fetchingApps.Store(false)

	apps, err := m.api.ListApps(ctx)
	if err != nil {
		return nil, err
	}

	reviews := make(map[string][]*model.CustomerReview, len(apps))
	for _, app := range apps {
		app.LastCheckedDate = m.settings.GetTime(config.LastCheckedKey(app.ID))
		if m.icons != nil {
			if u, ok := m.icons.CachedURL(app.BundleID); ok {
				app.IconURL = u
			}
		}
		m.loadCachedDownloads(app)

		rs, err := m.api.ListReviews(ctx, app.ID)
		if err != nil {
			log.WithError(err).WithField("app", app.Name).Warn("failed to count unanswered reviews")
			app.UnansweredCount = 0
			continue
		}
		reviews[app.ID] = rs
		app.UnansweredCount = model.CountUnanswered(rs)
	}

	m.cacheLocally(apps, reviews)

	ordered := model.ApplyOrder(apps, m.userSettings().AppOrder)
	m.mu.Lock()
	m.apps = ordered
	m.mu.Unlock()

	if m.storeReady(ctx) {
		upload := make([]*model.App, 0, len(ordered))
		for _, app := range ordered {
			upload = append(upload, app.Clone())
		}
		m.goBackground(ctx, func(ctx context.Context) { m.uploadApps(ctx, upload) })
	}
	if m.icons != nil {
		m.goBackground(ctx, m.loadIcons)
	}

	return m.Apps(), nil
}

func (m *Manager) cacheLocally(apps []*model.App, reviews map[string][]*model.CustomerReview) {
	if err := m.local.UpsertApps(apps...); err != nil {
		log.WithError(err).Warn("failed to cache apps locally")
		return
	}
	for appID, rs := range reviews {
		if err := m.local.UpsertReviews(appID, rs); err != nil {
			log.WithError(err).WithField("app", appID).Warn("failed to cache reviews locally")
		}
	}
}

func (m *Manager) uploadApps(ctx context.Context, apps []*model.App) {
	var failed int
	for _, app := range apps {
		if err := m.store.SaveApp(ctx, app); err != nil {
			log.WithError(err).WithField("app", app.Name).Warn("failed to upload app")
			failed++
		}
	}
	log.WithFields(log.Fields{"apps": len(apps) - failed, "failed": failed}).Debug("uploaded apps to record store")
}

// loadIcons downloads the icons the icon cache does not have yet.
func (m *Manager) loadIcons(ctx context.Context) {
	m.mu.RLock()
	var missing []string
	for _, app := range m.apps {
		if app.BundleID == "" {
			continue
		}
		if _, ok := m.icons.CachedURL(app.BundleID); !ok {
			missing = append(missing, app.BundleID)
		}
	}
	m.mu.RUnlock()
	if len(missing) == 0 {
		return
	}

	log.WithField("count", len(missing)).Debug("downloading app icons")
	err := icons.LoadBatched(ctx, m.icons, missing, func(bundleID, u string) {
		m.mu.Lock()
		var updated *model.App
		for _, app := range m.apps {
			if app.BundleID == bundleID {
				app.IconURL = u
				updated = app.Clone()
			}
		}
		m.mu.Unlock()
		if updated != nil {
			if err := m.local.UpsertApps(updated); err != nil {
				log.WithError(err).WithField("app", updated.Name).Warn("failed to cache icon url")
			}
		}
	})
	if err != nil {
		log.WithError(err).Warn("icon download interrupted")
	}
}

func (m *Manager) userSettings() model.UserSettings {
	return model.UserSettings{
		HiddenApps: m.settings.GetStringSlice(config.KeyHiddenApps),
		AppOrder:   m.settings.GetStringSlice(config.KeyAppOrder),
	}
}

// saveUserSettings stores the settings locally and shares them through the
// record store.
func (m *Manager) saveUserSettings(ctx context.Context, us model.UserSettings) error {
	if err := m.settings.Set(config.KeyHiddenApps, us.HiddenApps); err != nil {
		return err
	}
	if err := m.settings.Set(config.KeyAppOrder, us.AppOrder); err != nil {
		return err
	}
	if m.storeReady(ctx) {
		if err := m.store.SaveUserSettings(ctx, us); err != nil {
			log.WithError(err).Warn("failed to share user settings")
		}
	}
	return nil
}

// MoveApp moves a visible app to position index of the visible list and
// saves the resulting order.
func (m *Manager) MoveApp(ctx context.Context, appID string, index int) error {
	us := m.userSettings()

	m.mu.Lock()
	from := m.indexOf(appID)
	if from < 0 {
		m.mu.Unlock()
		return model.NewError(model.NotFound, "move app", "unknown app "+appID, nil)
	}
	var visible []*model.App
	var hidden []*model.App
	for _, app := range m.apps {
		if us.IsHidden(app.ID) {
			hidden = append(hidden, app)
		} else {
			visible = append(visible, app)
		}
	}
	vi := slices.IndexFunc(visible, func(a *model.App) bool { return a.ID == appID })
	if vi < 0 {
		m.mu.Unlock()
		return model.NewError(model.InvalidInput, "move app", "app "+appID+" is hidden", nil)
	}
	app := visible[vi]
	visible = slices.Delete(visible, vi, vi+1)
	index = min(max(index, 0), len(visible))
	visible = slices.Insert(visible, index, app)
	m.apps = append(visible, hidden...)

	order := make([]string, 0, len(m.apps))
	for _, a := range m.apps {
		order = append(order, a.ID)
	}
	m.mu.Unlock()

	us.AppOrder = order
	return m.saveUserSettings(ctx, us)
}

// HideApp removes an app from the visible list.
func (m *Manager) HideApp(ctx context.Context, appID string) error {
	us := m.userSettings()
	if us.IsHidden(appID) {
		return nil
	}
	us.HiddenApps = append(us.HiddenApps, appID)
	return m.saveUserSettings(ctx, us)
}

// ShowApp makes a hidden app visible again.
func (m *Manager) ShowApp(ctx context.Context, appID string) error {
	us := m.userSettings()
	if !us.IsHidden(appID) {
		return nil
	}
	us.HiddenApps = slices.DeleteFunc(us.HiddenApps, func(id string) bool { return id == appID })
	return m.saveUserSettings(ctx, us)
}

// MarkChecked records that the reviews of an app were looked at.
func (m *Manager) MarkChecked(ctx context.Context, appID string, at time.Time) {
	if err := m.settings.Set(config.LastCheckedKey(appID), at); err != nil {
		log.WithError(err).Warn("failed to save last checked date")
	}
	if err := m.local.SetLastChecked(appID, at); err != nil {
		log.WithError(err).WithField("app", appID).Debug("app not cached locally")
	}
	m.mu.Lock()
	if i := m.indexOf(appID); i >= 0 {
		m.apps[i].LastCheckedDate = at
	}
	m.mu.Unlock()

	if m.storeReady(ctx) {
		if err := m.store.SaveAppMetadata(ctx, appID, at); err != nil {
			log.WithError(err).Warn("failed to share last checked date")
		}
	}
}

func (m *Manager) loadCachedDownloads(app *model.App) {
	fetched := m.settings.GetTime(config.DownloadsFetchedKey(app.ID))
	if fetched.IsZero() {
		return
	}
	app.Downloads30Days = m.settings.GetInt(config.DownloadsKey(app.ID))
	app.DownloadsFetched = fetched
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Local().Date()
	by, bm, bd := b.Local().Date()
	return ay == by && am == bm && ad == bd
}

// FetchDownloadStatistics returns the units downloaded over the last 30
// days. The vendor-wide total is fetched at most once per day per app.
func (m *Manager) FetchDownloadStatistics(ctx context.Context, appID string) (int, error) {
	vendor := m.settings.GetString(config.KeyVendorNumber)
	if vendor == "" {
		return 0, model.NewError(model.InvalidInput, "download statistics", "vendor number is not set", nil)
	}

	now := m.now()
	if fetched := m.settings.GetTime(config.DownloadsFetchedKey(appID)); !fetched.IsZero() && sameDay(fetched, now) {
		log.WithField("app", appID).Debug("using cached download statistics")
		return m.settings.GetInt(config.DownloadsKey(appID)), nil
	}

	downloads, err := m.api.Sum30DayDownloads(ctx, vendor)
	if err != nil {
		return 0, err
	}

	if err := m.settings.Set(config.DownloadsKey(appID), downloads); err != nil {
		log.WithError(err).Warn("failed to cache download statistics")
	}
	if err := m.settings.Set(config.DownloadsFetchedKey(appID), now); err != nil {
		log.WithError(err).Warn("failed to cache download statistics")
	}

	m.mu.Lock()
	if i := m.indexOf(appID); i >= 0 {
		m.apps[i].Downloads30Days = downloads
		m.apps[i].DownloadsFetched = now
	}
	m.mu.Unlock()

	return downloads, nil
}
