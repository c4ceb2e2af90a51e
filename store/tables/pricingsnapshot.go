package tables

import (
	"time"

	"github.com/shopspring/decimal"
)

// SnapshotDateLayout is the canonical format of PricingSnapshot.SnapshotDate.
const SnapshotDateLayout = "2006-01-02"

// PricingSnapshot is an immutable daily pricing fact row keyed by
// (model, provider|NULL, snapshot_date, source_type). Re-ingestion on the
// same key within the same day replaces the prior row; different days
// accumulate history. NULL provider rows rely on the store's
// delete-then-insert since unique indexes treat NULLs as distinct.
type PricingSnapshot struct {
	ID           uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	ModelID      uint   `gorm:"not null;uniqueIndex:idx_pricing_snapshot_key" json:"model_id"`
	ProviderID   *uint  `gorm:"uniqueIndex:idx_pricing_snapshot_key" json:"provider_id,omitempty"`
	SnapshotDate string `gorm:"type:varchar(10);not null;uniqueIndex:idx_pricing_snapshot_key" json:"snapshot_date"`
	SourceType   string `gorm:"type:varchar(32);not null;uniqueIndex:idx_pricing_snapshot_key" json:"source_type"`

	SourceURL *string `gorm:"type:varchar(1024)" json:"source_url,omitempty"`

	PromptUSDPerMillion            decimal.NullDecimal `gorm:"type:decimal(18,6)" json:"prompt_usd_per_million,omitempty"`
	CompletionUSDPerMillion        decimal.NullDecimal `gorm:"type:decimal(18,6)" json:"completion_usd_per_million,omitempty"`
	RequestUSD                     decimal.NullDecimal `gorm:"type:decimal(18,6)" json:"request_usd,omitempty"`
	ImageUSD                       decimal.NullDecimal `gorm:"type:decimal(18,6)" json:"image_usd,omitempty"`
	WebSearchUSD                   decimal.NullDecimal `gorm:"type:decimal(18,6)" json:"web_search_usd,omitempty"`
	InternalReasoningUSDPerMillion decimal.NullDecimal `gorm:"type:decimal(18,6)" json:"internal_reasoning_usd_per_million,omitempty"`
	InputCacheReadUSDPerMillion    decimal.NullDecimal `gorm:"type:decimal(18,6)" json:"input_cache_read_usd_per_million,omitempty"`
	InputCacheWriteUSDPerMillion   decimal.NullDecimal `gorm:"type:decimal(18,6)" json:"input_cache_write_usd_per_million,omitempty"`

	Currency    string    `gorm:"type:varchar(8);not null;default:USD" json:"currency"`
	CollectedAt time.Time `gorm:"not null" json:"collected_at"`
	Notes       *string   `gorm:"type:text" json:"notes,omitempty"`
}

// TableName returns the table name for the PricingSnapshot model.
func (PricingSnapshot) TableName() string {
	return "model_pricing_daily"
}
