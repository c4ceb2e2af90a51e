package backendsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// ErrNotFound is returned when a projection row does not exist.
var ErrNotFound = errors.New("record not found")

// BackendStore is the persistence boundary of the projection.
type BackendStore interface {
	List(ctx context.Context) ([]ActiveModel, error)
	GetBySlug(ctx context.Context, slug string) (*ActiveModel, error)
	// Upsert writes a row by unique slug, preserving is_default and a
	// previously assigned sort_order.
	Upsert(ctx context.Context, row *ActiveModel) error
	// Deactivate sets is_active=false on the given slugs.
	Deactivate(ctx context.Context, slugs []string) error
	// Activate sets is_active=true on the given slug.
	Activate(ctx context.Context, slug string) error
	// SetDefault marks slug as the default of its model type.
	SetDefault(ctx context.Context, slug string) error
	// Insert creates a new row verbatim.
	Insert(ctx context.Context, row *ActiveModel) error
}

// RDBBackendStore implements BackendStore over a relational handle.
type RDBBackendStore struct {
	db     *gorm.DB
	logger zerolog.Logger
}

var _ BackendStore = (*RDBBackendStore)(nil)

// NewPostgresBackendStore opens the projection store over Postgres.
func NewPostgresBackendStore(dsn string, logger zerolog.Logger) (*RDBBackendStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("backend store DSN is required")
	}
	db, err := gorm.Open(postgres.New(postgres.Config{DSN: dsn}), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open backend store: %w", err)
	}
	if err := db.AutoMigrate(&ActiveModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate backend store: %w", err)
	}
	return &RDBBackendStore{db: db, logger: logger}, nil
}

// NewSQLiteBackendStore opens a SQLite-backed projection store for tests and
// local development.
func NewSQLiteBackendStore(path string, logger zerolog.Logger) (*RDBBackendStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite backend store: %w", err)
	}
	if err := db.AutoMigrate(&ActiveModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate sqlite backend store: %w", err)
	}
	return &RDBBackendStore{db: db, logger: logger}, nil
}

// List retrieves every projection row.
func (s *RDBBackendStore) List(ctx context.Context) ([]ActiveModel, error) {
	var rows []ActiveModel
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// GetBySlug retrieves one row by its unique slug.
func (s *RDBBackendStore) GetBySlug(ctx context.Context, slug string) (*ActiveModel, error) {
	var row ActiveModel
	if err := s.db.WithContext(ctx).Where("model_slug = ?", slug).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &row, nil
}

// Upsert writes a staged row. A default flag already set in the store is
// preserved, as is a previously assigned non-zero sort order.
func (s *RDBBackendStore) Upsert(ctx context.Context, row *ActiveModel) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing ActiveModel
		err := tx.Where("model_slug = ?", row.ModelSlug).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(row).Error
		}
		if err != nil {
			return err
		}

		if existing.IsDefault {
			row.IsDefault = true
		}
		if existing.SortOrder != 0 {
			row.SortOrder = existing.SortOrder
		}
		row.ID = existing.ID
		row.CreatedAt = existing.CreatedAt
		return tx.Save(row).Error
	})
}

// Insert creates a new row verbatim.
func (s *RDBBackendStore) Insert(ctx context.Context, row *ActiveModel) error {
	return s.db.WithContext(ctx).Create(row).Error
}

// Deactivate sets is_active=false on the given slugs.
func (s *RDBBackendStore) Deactivate(ctx context.Context, slugs []string) error {
	if len(slugs) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&ActiveModel{}).
		Where("model_slug IN ?", slugs).
		Update("is_active", false).Error
}

// Activate sets is_active=true on the given slug.
func (s *RDBBackendStore) Activate(ctx context.Context, slug string) error {
	return s.db.WithContext(ctx).
		Model(&ActiveModel{}).
		Where("model_slug = ?", slug).
		Update("is_active", true).Error
}

// SetDefault marks slug as the default of its model type and clears the
// flag on the type's other rows.
func (s *RDBBackendStore) SetDefault(ctx context.Context, slug string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row ActiveModel
		if err := tx.Where("model_slug = ?", slug).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if err := tx.Model(&ActiveModel{}).
			Where("model_type = ? AND model_slug <> ?", row.ModelType, slug).
			Update("is_default", false).Error; err != nil {
			return err
		}
		return tx.Model(&ActiveModel{}).
			Where("model_slug = ?", slug).
			Update("is_default", true).Error
	})
}
