package manager

import (
	"context"
	"slices"

	"github.com/apex/log"
	"github.com/blacktop/reviewsync/internal/model"
)

// Reviews returns the reviews of the selected app.
func (m *Manager) Reviews() []*model.CustomerReview {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.CustomerReview, 0, len(m.reviews))
	for _, r := range m.reviews {
		out = append(out, r.Clone())
	}
	return out
}

// Selected returns the ID of the app whose reviews were fetched last.
func (m *Manager) Selected() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.selected
}

// FetchReviews loads the reviews of an app from the API, refreshes its
// badge and marks it checked. The reviews are cached locally and uploaded
// to the record store.
func (m *Manager) FetchReviews(ctx context.Context, appID string) ([]*model.CustomerReview, error) {
	if !m.fetchingReviews.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer m.fetchingReviews.Store(false)
	return m.fetchReviews(ctx, appID)
}

// fetchReviews must be called with fetchingReviews held.
func (m *Manager) fetchReviews(ctx context.Context, appID string) ([]*model.CustomerReview, error) {
	reviews, err := m.api.ListReviews(ctx, appID)
	if err != nil {
		return nil, err
	}

	app, known := m.App(appID)
	if known {
		m.cacheLocally([]*model.App{app}, map[string][]*model.CustomerReview{appID: reviews})
	} else if err := m.local.UpsertReviews(appID, reviews); err != nil {
		log.WithError(err).WithField("app", appID).Debug("failed to cache reviews locally")
	}

	if m.storeReady(ctx) {
		m.uploadReviews(ctx, app, reviews)
	}

	m.mu.Lock()
	m.reviews = reviews
	m.selected = appID
	if i := m.indexOf(appID); i >= 0 {
		m.apps[i].UnansweredCount = model.CountUnanswered(reviews)
	}
	m.apps = model.ApplyOrder(m.apps, m.userSettings().AppOrder)
	m.mu.Unlock()

	m.MarkChecked(ctx, appID, m.now())

	return m.Reviews(), nil
}

func (m *Manager) uploadReviews(ctx context.Context, app *model.App, reviews []*model.CustomerReview) {
	if app != nil {
		if err := m.store.SaveApp(ctx, app); err != nil {
			log.WithError(err).WithField("app", app.Name).Warn("failed to upload app")
			return
		}
	}
	for _, r := range reviews {
		if err := m.store.SaveReview(ctx, r); err != nil {
			log.WithError(err).WithField("review", r.ID).Warn("failed to upload review")
			return
		}
	}
}

// review finds a review among the fetched ones, then in the local cache.
func (m *Manager) review(reviewID string) (*model.CustomerReview, error) {
	m.mu.RLock()
	i := slices.IndexFunc(m.reviews, func(r *model.CustomerReview) bool { return r.ID == reviewID })
	if i >= 0 {
		r := m.reviews[i].Clone()
		m.mu.RUnlock()
		return r, nil
	}
	apps := make([]string, 0, len(m.apps))
	for _, app := range m.apps {
		apps = append(apps, app.ID)
	}
	m.mu.RUnlock()

	for _, appID := range apps {
		reviews, err := m.local.ListReviews(appID)
		if err != nil {
			continue
		}
		for _, r := range reviews {
			if r.ID == reviewID {
				return r, nil
			}
		}
	}
	return nil, model.NewError(model.NotFound, "review", "unknown review "+reviewID, nil)
}

// Respond posts a response to a review and re-fetches the reviews of its
// app so the response shows up with its publication state. It returns
// ErrBusy without posting while reviews are being fetched.
func (m *Manager) Respond(ctx context.Context, reviewID, body string) ([]*model.CustomerReview, error) {
	if err := model.ValidateResponseBody(body); err != nil {
		return nil, err
	}
	if !m.fetchingReviews.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer m.fetchingReviews.Store(false)

	review, err := m.review(reviewID)
	if err != nil {
		return nil, err
	}
	if err := m.api.Respond(ctx, reviewID, body); err != nil {
		return nil, err
	}
	log.WithField("review", reviewID).Info("response sent")
	return m.fetchReviews(ctx, review.AppID)
}

// DeleteResponse deletes the response of a review and re-fetches the
// reviews of its app.
func (m *Manager) DeleteResponse(ctx context.Context, reviewID string) ([]*model.CustomerReview, error) {
	if !m.fetchingReviews.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer m.fetchingReviews.Store(false)

	review, err := m.review(reviewID)
	if err != nil {
		return nil, err
	}
	if review.Response == nil {
		return nil, model.NewError(model.InvalidInput, "delete response", "review "+reviewID+" has no response", nil)
	}
	if err := m.api.DeleteResponse(ctx, review.Response.ID); err != nil {
		return nil, err
	}
	log.WithField("review", reviewID).Info("response deleted")
	return m.fetchReviews(ctx, review.AppID)
}
