package db

import (
	"cmp"
	"encoding/gob"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/blacktop/reviewsync/internal/model"
	"github.com/pkg/errors"
)

// Memory is a database that keeps data in memory and persists it to a gob
// file on Close.
type Memory struct {
	Apps    map[string]*model.App
	Reviews map[string]*model.CustomerReview
	Path    string

	mu sync.RWMutex
}

type memorySnapshot struct {
	Apps    map[string]*model.App
	Reviews map[string]*model.CustomerReview
}

// NewInMemory creates a new in-memory database.
func NewInMemory(path string) (Database, error) {
	if path == "" {
		return nil, errors.New("'path' is required")
	}
	return &Memory{
		Apps:    make(map[string]*model.App),
		Reviews: make(map[string]*model.CustomerReview),
		Path:    path,
	}, nil
}

// Connect loads the gob file if it exists.
func (m *Memory) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := os.Open(m.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "failed to open %s", m.Path)
	}
	defer f.Close()

	var snap memorySnapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return errors.Wrapf(err, "failed to decode %s", m.Path)
	}
	if snap.Apps != nil {
		m.Apps = snap.Apps
	}
	if snap.Reviews != nil {
		m.Reviews = snap.Reviews
	}
	return nil
}

func (m *Memory) UpsertApps(apps ...*model.App) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, app := range apps {
		if app == nil || app.ID == "" {
			return model.NewError(model.InvalidInput, "upsert app", "missing app id", nil)
		}
		if existing, ok := m.Apps[app.ID]; ok {
			mergeApp(existing, app)
			continue
		}
		c := app.Clone()
		c.UnansweredCount = 0
		m.Apps[app.ID] = c
	}
	return nil
}

func (m *Memory) UpsertReviews(appID string, reviews []*model.CustomerReview) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Apps[appID]; !ok {
		return notFound("app", appID)
	}
	for _, review := range reviews {
		if err := review.Validate(); err != nil {
			return err
		}
		existing, ok := m.Reviews[review.ID]
		if !ok {
			existing = &model.CustomerReview{ID: review.ID}
			m.Reviews[review.ID] = existing
		}
		mergeReview(existing, review)
		existing.AppID = appID
		if review.Response == nil {
			existing.Response = nil
			continue
		}
		resp := *review.Response
		resp.ReviewID = review.ID
		existing.Response = &resp
	}
	return nil
}

func (m *Memory) GetApp(id string) (*model.App, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	app, ok := m.Apps[id]
	if !ok {
		return nil, notFound("app", id)
	}
	c := app.Clone()
	c.UnansweredCount = m.unanswered(id)
	return c, nil
}

func (m *Memory) unanswered(appID string) int {
	var n int
	for _, r := range m.Reviews {
		if r.AppID == appID && !r.Answered() {
			n++
		}
	}
	return n
}

func (m *Memory) ListApps() ([]*model.App, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	apps := make([]*model.App, 0, len(m.Apps))
	for _, app := range m.Apps {
		c := app.Clone()
		c.UnansweredCount = m.unanswered(app.ID)
		apps = append(apps, c)
	}
	slices.SortFunc(apps, func(a, b *model.App) int {
		if a.Name == b.Name {
			return cmp.Compare(a.ID, b.ID)
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return apps, nil
}

func (m *Memory) ListReviews(appID string) ([]*model.CustomerReview, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var reviews []*model.CustomerReview
	for _, r := range m.Reviews {
		if r.AppID == appID {
			reviews = append(reviews, r.Clone())
		}
	}
	slices.SortFunc(reviews, func(a, b *model.CustomerReview) int {
		if c := b.CreatedDate.Compare(a.CreatedDate); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return reviews, nil
}

func (m *Memory) SetLastChecked(appID string, lastChecked time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.Apps[appID]
	if !ok {
		return notFound("app", appID)
	}
	app.LastCheckedDate = lastChecked
	return nil
}

func (m *Memory) DeleteApp(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Apps[id]; !ok {
		return notFound("app", id)
	}
	for rid, r := range m.Reviews {
		if r.AppID == id {
			delete(m.Reviews, rid)
		}
	}
	delete(m.Apps, id)
	return nil
}

func (m *Memory) DeleteReview(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Reviews[id]; !ok {
		return notFound("review", id)
	}
	delete(m.Reviews, id)
	return nil
}

// Close writes the database to its gob file.
func (m *Memory) Close() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, err := os.Create(m.Path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", m.Path)
	}
	defer f.Close()
	return gob.NewEncoder(f).Encode(memorySnapshot{Apps: m.Apps, Reviews: m.Reviews})
}
