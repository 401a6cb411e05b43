package db

import (
	"errors"
	"fmt"
	"time"

	"github.com/blacktop/reviewsync/internal/model"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Sqlite is a database that stores data in a sqlite database.
type Sqlite struct {
	URL     string
	Verbose bool

	db *gorm.DB
}

// NewSqlite creates a new Sqlite database.
func NewSqlite(path string) (Database, error) {
	if path == "" {
		return nil, fmt.Errorf("'path' is required")
	}
	return &Sqlite{URL: path}, nil
}

// Connect connects to the database.
func (s *Sqlite) Connect() (err error) {
	s.db, err = gorm.Open(sqlite.Open(s.URL), &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to connect sqlite database: %w", err)
	}
	if s.Verbose {
		s.db.Logger = logger.Default.LogMode(logger.Info)
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	// pragmas are per connection
	sqlDB.SetMaxOpenConns(1)
	if err := s.db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return s.db.AutoMigrate(
		&model.App{},
		&model.CustomerReview{},
		&model.Response{},
	)
}

// UpsertApps creates or updates apps, not their reviews.
func (s *Sqlite) UpsertApps(apps ...*model.App) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		for _, app := range apps {
			if app == nil || app.ID == "" {
				return model.NewError(model.InvalidInput, "upsert app", "missing app id", nil)
			}
			var existing model.App
			err := tx.Where("id = ?", app.ID).First(&existing).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				created := app.Clone()
				if err := tx.Omit(clause.Associations).Create(created).Error; err != nil {
					return fmt.Errorf("failed to create app %s: %w", app.ID, err)
				}
			case err != nil:
				return err
			default:
				mergeApp(&existing, app)
				if err := tx.Omit(clause.Associations).Save(&existing).Error; err != nil {
					return fmt.Errorf("failed to update app %s: %w", app.ID, err)
				}
			}
		}
		return nil
	})
}

// UpsertReviews creates or updates the reviews of an app with their responses.
func (s *Sqlite) UpsertReviews(appID string, reviews []*model.CustomerReview) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var app model.App
		if err := tx.Where("id = ?", appID).First(&app).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFound("app", appID)
			}
			return err
		}

		for _, review := range reviews {
			if err := review.Validate(); err != nil {
				return err
			}
			var existing model.CustomerReview
			err := tx.Preload("Response").Where("id = ?", review.ID).First(&existing).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				existing = model.CustomerReview{ID: review.ID}
				mergeReview(&existing, review)
				existing.AppID = app.ID
				if err := tx.Omit(clause.Associations).Create(&existing).Error; err != nil {
					return fmt.Errorf("failed to create review %s: %w", review.ID, err)
				}
			case err != nil:
				return err
			default:
				mergeReview(&existing, review)
				existing.AppID = app.ID
				if err := tx.Omit(clause.Associations).Save(&existing).Error; err != nil {
					return fmt.Errorf("failed to update review %s: %w", review.ID, err)
				}
			}

			if err := upsertResponse(tx, &existing, review.Response); err != nil {
				return err
			}
		}
		return nil
	})
}

// upsertResponse makes the cached response of review match resp.
func upsertResponse(tx *gorm.DB, review *model.CustomerReview, resp *model.Response) error {
	current := review.Response
	if resp == nil {
		if current == nil {
			return nil
		}
		if err := tx.Delete(&model.Response{}, "review_id = ?", review.ID).Error; err != nil {
			return fmt.Errorf("failed to delete response of review %s: %w", review.ID, err)
		}
		return nil
	}

	if current != nil && current.ID != resp.ID {
		// replaced upstream, the new one gets a new ID
		if err := tx.Delete(&model.Response{}, "review_id = ?", review.ID).Error; err != nil {
			return fmt.Errorf("failed to replace response of review %s: %w", review.ID, err)
		}
		current = nil
	}

	save := tx.Save
	if current == nil {
		current = &model.Response{ID: resp.ID}
		save = tx.Create
	}
	current.ReviewID = review.ID
	current.Body = resp.Body
	current.LastModifiedDate = resp.LastModifiedDate
	current.State = resp.State
	if err := save(current).Error; err != nil {
		return fmt.Errorf("failed to save response of review %s: %w", review.ID, err)
	}
	review.Response = current
	return nil
}

// GetApp returns the app with the given ID.
func (s *Sqlite) GetApp(id string) (*model.App, error) {
	var app model.App
	if err := s.db.Where("id = ?", id).First(&app).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("app", id)
		}
		return nil, err
	}
	counts, err := s.unansweredCounts()
	if err != nil {
		return nil, err
	}
	app.UnansweredCount = counts[app.ID]
	return &app, nil
}

// ListApps returns all apps ordered by name.
func (s *Sqlite) ListApps() ([]*model.App, error) {
	var apps []*model.App
	if err := s.db.Order("name").Find(&apps).Error; err != nil {
		return nil, fmt.Errorf("failed to list apps: %w", err)
	}
	counts, err := s.unansweredCounts()
	if err != nil {
		return nil, err
	}
	for _, app := range apps {
		app.UnansweredCount = counts[app.ID]
	}
	return apps, nil
}

func (s *Sqlite) unansweredCounts() (map[string]int, error) {
	var rows []struct {
		AppID string
		N     int
	}
	if err := s.db.Raw(`SELECT customer_reviews.app_id AS app_id, COUNT(*) AS n
		FROM customer_reviews
		LEFT JOIN responses ON responses.review_id = customer_reviews.id
		WHERE responses.id IS NULL
		GROUP BY customer_reviews.app_id`).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to count unanswered reviews: %w", err)
	}
	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.AppID] = r.N
	}
	return counts, nil
}

// ListReviews returns the reviews of an app, newest first.
func (s *Sqlite) ListReviews(appID string) ([]*model.CustomerReview, error) {
	var reviews []*model.CustomerReview
	if err := s.db.Preload("Response").
		Where("app_id = ?", appID).
		Order("created_date DESC").
		Find(&reviews).Error; err != nil {
		return nil, fmt.Errorf("failed to list reviews of app %s: %w", appID, err)
	}
	// stored timestamps keep their zone, so text order is not time order
	model.SortNewest.Sort(reviews)
	return reviews, nil
}

// SetLastChecked records when the reviews of an app were last looked at.
func (s *Sqlite) SetLastChecked(appID string, lastChecked time.Time) error {
	res := s.db.Model(&model.App{}).Where("id = ?", appID).Update("last_checked_date", lastChecked)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound("app", appID)
	}
	return nil
}

// DeleteApp removes an app, its reviews and their responses.
func (s *Sqlite) DeleteApp(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("review_id IN (?)",
			tx.Model(&model.CustomerReview{}).Select("id").Where("app_id = ?", id),
		).Delete(&model.Response{}).Error; err != nil {
			return err
		}
		if err := tx.Where("app_id = ?", id).Delete(&model.CustomerReview{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&model.App{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return notFound("app", id)
		}
		return nil
	})
}

// DeleteReview removes a review and its response.
func (s *Sqlite) DeleteReview(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("review_id = ?", id).Delete(&model.Response{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&model.CustomerReview{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return notFound("review", id)
		}
		return nil
	})
}

// Close closes the database.
func (s *Sqlite) Close() error {
	if s.db == nil {
		return nil
	}
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}
