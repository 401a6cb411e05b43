package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type recordRow struct {
	Name      string    `gorm:"primaryKey"`
	Kind      string    `gorm:"index;not null"`
	Fields    string    `gorm:"type:text"`
	ChangeTag string    `gorm:"not null"`
	Modified  time.Time `gorm:"not null"`
}

func (recordRow) TableName() string { return "sync_records" }

func (row recordRow) record() (*Record, error) {
	rec := &Record{
		Name:      row.Name,
		Kind:      Kind(row.Kind),
		ChangeTag: row.ChangeTag,
		Modified:  row.Modified,
		Fields:    make(map[string]any),
	}
	if row.Fields != "" {
		if err := json.Unmarshal([]byte(row.Fields), &rec.Fields); err != nil {
			return nil, fmt.Errorf("failed to decode fields of record %s: %w", row.Name, err)
		}
	}
	return rec, nil
}

func toRow(rec *Record) (recordRow, error) {
	data, err := json.Marshal(rec.Fields)
	if err != nil {
		return recordRow{}, fmt.Errorf("failed to encode fields of record %s: %w", rec.Name, err)
	}
	return recordRow{
		Name:      rec.Name,
		Kind:      string(rec.Kind),
		Fields:    string(data),
		ChangeTag: rec.ChangeTag,
		Modified:  rec.Modified,
	}, nil
}

// SQL is a record store in a relational database, a shared Postgres
// server or a SQLite file.
type SQL struct {
	dialector gorm.Dialector
	name      string

	db *gorm.DB
}

// NewPostgres creates a record store on a Postgres server.
func NewPostgres(host, port, user, password, database string) (*SQL, error) {
	if host == "" || port == "" || user == "" || database == "" {
		return nil, fmt.Errorf("'host', 'port', 'user' and 'database' are required")
	}
	return &SQL{
		name:      "postgres",
		dialector: postgres.Open(postgresDSN(host, port, user, password, database)),
	}, nil
}

func postgresDSN(host, port, user, password, database string) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(user, password),
		Host:     net.JoinHostPort(host, port),
		Path:     "/" + database,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// NewSQLite creates a record store in a SQLite file.
func NewSQLite(path string) (*SQL, error) {
	if path == "" {
		return nil, fmt.Errorf("'path' is required")
	}
	return &SQL{name: "sqlite", dialector: sqlite.Open(path)}, nil
}

// Connect opens the database and migrates the records table.
func (s *SQL) Connect() (err error) {
	s.db, err = gorm.Open(s.dialector, &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to connect %s record store: %w", s.name, err)
	}
	if s.name == "sqlite" {
		sqlDB, err := s.db.DB()
		if err != nil {
			return err
		}
		sqlDB.SetMaxOpenConns(1) // single writer
	}
	return s.db.AutoMigrate(&recordRow{})
}

func (s *SQL) Status(ctx context.Context) error {
	if s.db == nil {
		return ErrNotConfigured
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func fetchRow(tx *gorm.DB, name string) (*Record, error) {
	var row recordRow
	if err := tx.Where("name = ?", name).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownRecord
		}
		return nil, err
	}
	return row.record()
}

func (s *SQL) Fetch(ctx context.Context, name string) (*Record, error) {
	return fetchRow(s.db.WithContext(ctx), name)
}

func (s *SQL) Save(ctx context.Context, rec *Record, keys []string) (*Record, error) {
	var out *Record
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := fetchRow(tx, rec.Name)
		if err != nil && !errors.Is(err, ErrUnknownRecord) {
			return err
		}
		out, err = prepareSave(current, rec, keys, time.Now().UTC())
		if err != nil {
			return err
		}
		row, err := toRow(out)
		if err != nil {
			return err
		}

		if current == nil {
			if err := tx.Create(&row).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return ErrServerRecordChanged
				}
				return err
			}
			return nil
		}

		res := tx.Model(&recordRow{}).
			Where("name = ? AND change_tag = ?", rec.Name, current.ChangeTag).
			Updates(map[string]any{
				"fields":     row.Fields,
				"change_tag": row.ChangeTag,
				"modified":   row.Modified,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrServerRecordChanged
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQL) Delete(ctx context.Context, name string) error {
	return s.db.WithContext(ctx).Where("name = ?", name).Delete(&recordRow{}).Error
}

func (s *SQL) Query(ctx context.Context, kind Kind, pred *Predicate) ([]*Record, error) {
	var rows []recordRow
	if err := s.db.WithContext(ctx).Where("kind = ?", string(kind)).Order("name").Find(&rows).Error; err != nil {
		return nil, err
	}
	recs := make([]*Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return filter(recs, pred), nil
}

func (s *SQL) Close() error {
	if s.db == nil {
		return nil
	}
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}
