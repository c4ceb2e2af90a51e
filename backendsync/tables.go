// Package backendsync maintains the denormalised "active models" projection
// in the downstream store: staging, upsert, deactivation of vanished models,
// the protected set, and default selection.
package backendsync

import (
	"time"

	"github.com/shopspring/decimal"
)

// Model types recognised by the projection.
const (
	ModelTypeChat      = "chat"
	ModelTypeEmbedding = "embedding"
)

// Pricing tiers recorded in row metadata.
const (
	TierPremium  = "premium"
	TierStandard = "standard"
	TierBudget   = "budget"
)

// ActiveModel is one denormalised backend-projection row, keyed by unique
// model_slug. Downstream applications read this table directly.
type ActiveModel struct {
	ID          uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	ModelSlug   string `gorm:"type:varchar(255);not null;uniqueIndex" json:"model_slug"`
	DisplayName string `gorm:"type:varchar(255);not null" json:"display_name"`
	Provider    string `gorm:"type:varchar(255);not null" json:"provider"`
	ModelType   string `gorm:"type:varchar(32);not null;default:chat" json:"model_type"`

	ContextWindow   *int `json:"context_window,omitempty"`
	MaxOutputTokens *int `json:"max_output_tokens,omitempty"`

	CostPerMillionInput  decimal.NullDecimal `gorm:"type:decimal(18,6)" json:"cost_per_million_input,omitempty"`
	CostPerMillionOutput decimal.NullDecimal `gorm:"type:decimal(18,6)" json:"cost_per_million_output,omitempty"`

	IsActive        bool `gorm:"not null;default:true" json:"is_active"`
	IsDefault       bool `gorm:"not null;default:false" json:"is_default"`
	IsThinkingModel bool `gorm:"not null;default:false" json:"is_thinking_model"`
	SortOrder       int  `gorm:"not null;default:0" json:"sort_order"`

	Capabilities *string `gorm:"type:text" json:"capabilities,omitempty"`
	Metadata     *string `gorm:"type:text" json:"metadata,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for the ActiveModel model.
func (ActiveModel) TableName() string {
	return "llm_models"
}
