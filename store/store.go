// Package store is the repository over the primary pricing database. It owns
// the catalogue tables, the immutable daily snapshot history, and the BYOK
// audit log.
package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/g2scv/llm-cost/store/tables"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// PricingStore is the persistence boundary of the pipeline. All methods are
// safe for concurrent use; the optional trailing tx scopes a call into an
// enclosing transaction.
type PricingStore interface {
	// Catalogue
	UpsertProvider(ctx context.Context, provider *tables.Provider, tx ...*gorm.DB) error
	GetProviderBySlug(ctx context.Context, slug string) (*tables.Provider, error)
	GetProviderByID(ctx context.Context, id uint) (*tables.Provider, error)
	ListProviders(ctx context.Context) ([]tables.Provider, error)
	UpsertModel(ctx context.Context, model *tables.Model, tx ...*gorm.DB) error
	GetModelBySlug(ctx context.Context, slug string) (*tables.Model, error)
	ListModels(ctx context.Context) ([]tables.Model, error)
	LinkModelProvider(ctx context.Context, link *tables.ModelProvider, tx ...*gorm.DB) error
	ListModelProviders(ctx context.Context, modelID uint) ([]tables.ModelProvider, error)

	// Snapshots
	InsertPricingSnapshot(ctx context.Context, snapshot *tables.PricingSnapshot) error
	LatestPricing(ctx context.Context, modelID uint, providerID *uint, sourceType string) (*tables.PricingSnapshot, error)
	LatestPricingSince(ctx context.Context, modelID uint, sourceType, sinceDate string) (*tables.PricingSnapshot, error)
	ListSnapshots(ctx context.Context, modelID uint) ([]tables.PricingSnapshot, error)
	RecentPricedModelSlugs(ctx context.Context, sourceType, sinceDate string) ([]string, error)

	// BYOK audit
	InsertBYOKVerification(ctx context.Context, verification *tables.BYOKVerification) error

	// ExecuteTransaction executes fn within one database transaction.
	ExecuteTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error
}
