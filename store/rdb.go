package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/g2scv/llm-cost/store/tables"
)

// RDBStore implements PricingStore on top of a relational database handle.
// The same implementation serves Postgres in production and SQLite in tests.
type RDBStore struct {
	db     *gorm.DB
	logger zerolog.Logger
}

var _ PricingStore = (*RDBStore)(nil)

func (s *RDBStore) txOrDB(ctx context.Context, tx ...*gorm.DB) *gorm.DB {
	if len(tx) > 0 && tx[0] != nil {
		return tx[0].WithContext(ctx)
	}
	return s.db.WithContext(ctx)
}

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&tables.Provider{},
		&tables.Model{},
		&tables.ModelProvider{},
		&tables.PricingSnapshot{},
		&tables.BYOKVerification{},
	)
}

// UpsertProvider creates or updates a provider by slug. Derived URLs never
// overwrite an existing value with an absent one.
func (s *RDBStore) UpsertProvider(ctx context.Context, provider *tables.Provider, tx ...*gorm.DB) error {
	db := s.txOrDB(ctx, tx...)

	var existing tables.Provider
	err := db.Where("slug = ?", provider.Slug).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return db.Create(provider).Error
	}
	if err != nil {
		return err
	}

	existing.DisplayName = provider.DisplayName
	if provider.HomepageURL != nil {
		existing.HomepageURL = provider.HomepageURL
	}
	if provider.PricingURL != nil {
		existing.PricingURL = provider.PricingURL
	}
	if err := db.Save(&existing).Error; err != nil {
		return err
	}
	*provider = existing
	return nil
}

// GetProviderBySlug retrieves a provider by its unique slug.
func (s *RDBStore) GetProviderBySlug(ctx context.Context, slug string) (*tables.Provider, error) {
	var provider tables.Provider
	if err := s.db.WithContext(ctx).Where("slug = ?", slug).First(&provider).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &provider, nil
}

// GetProviderByID retrieves a provider by its primary key.
func (s *RDBStore) GetProviderByID(ctx context.Context, id uint) (*tables.Provider, error) {
	var provider tables.Provider
	if err := s.db.WithContext(ctx).First(&provider, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &provider, nil
}

// ListProviders retrieves all providers.
func (s *RDBStore) ListProviders(ctx context.Context) ([]tables.Provider, error) {
	var providers []tables.Provider
	if err := s.db.WithContext(ctx).Find(&providers).Error; err != nil {
		return nil, err
	}
	return providers, nil
}

// UpsertModel creates or updates a model by slug.
func (s *RDBStore) UpsertModel(ctx context.Context, model *tables.Model, tx ...*gorm.DB) error {
	db := s.txOrDB(ctx, tx...)

	var existing tables.Model
	err := db.Where("slug = ?", model.Slug).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return db.Create(model).Error
	}
	if err != nil {
		return err
	}

	existing.CanonicalSlug = model.CanonicalSlug
	existing.DisplayName = model.DisplayName
	existing.Description = model.Description
	existing.ContextLength = model.ContextLength
	existing.Architecture = model.Architecture
	existing.SupportedParameters = model.SupportedParameters
	existing.HuggingFaceID = model.HuggingFaceID
	if err := db.Save(&existing).Error; err != nil {
		return err
	}
	*model = existing
	return nil
}

// GetModelBySlug retrieves a model by its unique slug.
func (s *RDBStore) GetModelBySlug(ctx context.Context, slug string) (*tables.Model, error) {
	var model tables.Model
	if err := s.db.WithContext(ctx).Where("slug = ?", slug).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &model, nil
}

// ListModels retrieves all models.
func (s *RDBStore) ListModels(ctx context.Context) ([]tables.Model, error) {
	var models []tables.Model
	if err := s.db.WithContext(ctx).Find(&models).Error; err != nil {
		return nil, err
	}
	return models, nil
}

// LinkModelProvider creates or updates the (model, provider) link.
func (s *RDBStore) LinkModelProvider(ctx context.Context, link *tables.ModelProvider, tx ...*gorm.DB) error {
	db := s.txOrDB(ctx, tx...)

	var existing tables.ModelProvider
	err := db.Where("model_id = ? AND provider_id = ?", link.ModelID, link.ProviderID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return db.Create(link).Error
	}
	if err != nil {
		return err
	}

	existing.IsTopProvider = link.IsTopProvider
	if link.ProviderMetadata != nil {
		existing.ProviderMetadata = link.ProviderMetadata
	}
	if err := db.Save(&existing).Error; err != nil {
		return err
	}
	*link = existing
	return nil
}

// ListModelProviders retrieves all provider links of a model.
func (s *RDBStore) ListModelProviders(ctx context.Context, modelID uint) ([]tables.ModelProvider, error) {
	var links []tables.ModelProvider
	if err := s.db.WithContext(ctx).Where("model_id = ?", modelID).Find(&links).Error; err != nil {
		return nil, err
	}
	return links, nil
}

// InsertPricingSnapshot writes a daily snapshot with same-day idempotence:
// within one transaction the row matching the full key is deleted, then the
// new row inserted. NULL provider keys must match via IS NULL, not equality.
func (s *RDBStore) InsertPricingSnapshot(ctx context.Context, snapshot *tables.PricingSnapshot) error {
	if snapshot.Currency == "" {
		snapshot.Currency = "USD"
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		del := tx.Where(
			"model_id = ? AND snapshot_date = ? AND source_type = ?",
			snapshot.ModelID, snapshot.SnapshotDate, snapshot.SourceType,
		)
		if snapshot.ProviderID == nil {
			del = del.Where("provider_id IS NULL")
		} else {
			del = del.Where("provider_id = ?", *snapshot.ProviderID)
		}
		if err := del.Delete(&tables.PricingSnapshot{}).Error; err != nil {
			return fmt.Errorf("failed to delete prior same-day snapshot: %w", err)
		}
		snapshot.ID = 0
		return tx.Create(snapshot).Error
	})
}

func (s *RDBStore) latestPricingQuery(ctx context.Context, modelID uint, sourceType string) *gorm.DB {
	return s.db.WithContext(ctx).
		Where("model_id = ? AND source_type = ?", modelID, sourceType).
		Order("snapshot_date DESC").
		Order("collected_at DESC")
}

// LatestPricing returns the most recent snapshot for a model filtered by
// source type and provider. Snapshots of different source types are never
// compared to each other.
func (s *RDBStore) LatestPricing(ctx context.Context, modelID uint, providerID *uint, sourceType string) (*tables.PricingSnapshot, error) {
	q := s.latestPricingQuery(ctx, modelID, sourceType)
	if providerID == nil {
		q = q.Where("provider_id IS NULL")
	} else {
		q = q.Where("provider_id = ?", *providerID)
	}

	var snapshot tables.PricingSnapshot
	if err := q.First(&snapshot).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &snapshot, nil
}

// LatestPricingSince returns the most recent snapshot of the given source
// type whose snapshot_date is on or after sinceDate, regardless of provider.
func (s *RDBStore) LatestPricingSince(ctx context.Context, modelID uint, sourceType, sinceDate string) (*tables.PricingSnapshot, error) {
	var snapshot tables.PricingSnapshot
	err := s.latestPricingQuery(ctx, modelID, sourceType).
		Where("snapshot_date >= ?", sinceDate).
		First(&snapshot).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &snapshot, nil
}

// ListSnapshots retrieves all snapshots of a model ordered by date.
func (s *RDBStore) ListSnapshots(ctx context.Context, modelID uint) ([]tables.PricingSnapshot, error) {
	var snapshots []tables.PricingSnapshot
	err := s.db.WithContext(ctx).
		Where("model_id = ?", modelID).
		Order("snapshot_date ASC").
		Find(&snapshots).Error
	if err != nil {
		return nil, err
	}
	return snapshots, nil
}

// RecentPricedModelSlugs returns the distinct slugs of models that have a
// snapshot of the given source type on or after sinceDate.
func (s *RDBStore) RecentPricedModelSlugs(ctx context.Context, sourceType, sinceDate string) ([]string, error) {
	var slugs []string
	err := s.db.WithContext(ctx).
		Model(&tables.PricingSnapshot{}).
		Distinct("models.slug").
		Joins("JOIN models ON models.id = model_pricing_daily.model_id").
		Where("model_pricing_daily.source_type = ? AND model_pricing_daily.snapshot_date >= ?", sourceType, sinceDate).
		Pluck("models.slug", &slugs).Error
	if err != nil {
		return nil, err
	}
	return slugs, nil
}

// InsertBYOKVerification appends one audit row. Rows are never mutated.
func (s *RDBStore) InsertBYOKVerification(ctx context.Context, verification *tables.BYOKVerification) error {
	return s.db.WithContext(ctx).Create(verification).Error
}

// ExecuteTransaction executes fn within one database transaction.
func (s *RDBStore) ExecuteTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}
