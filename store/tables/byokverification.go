package tables

import (
	"time"

	"github.com/shopspring/decimal"
)

// BYOKVerification is an audit row recording a tiny real completion request
// used to reconcile aggregator-reported cost with upstream-provider cost.
// Rows are never mutated.
type BYOKVerification struct {
	ID        string `gorm:"type:varchar(36);primaryKey" json:"id"`
	ModelID   uint   `gorm:"not null;index" json:"model_id"`
	ModelSlug string `gorm:"type:varchar(255);not null" json:"model_slug"`
	OK        bool   `gorm:"not null" json:"ok"`

	AggregatorCostUSD decimal.NullDecimal `gorm:"type:decimal(18,10)" json:"aggregator_cost_usd,omitempty"`
	UpstreamCostUSD   decimal.NullDecimal `gorm:"type:decimal(18,10)" json:"upstream_cost_usd,omitempty"`
	PromptTokens      int                 `json:"prompt_tokens"`
	CompletionTokens  int                 `json:"completion_tokens"`
	ResponseMS        int64               `json:"response_ms"`
	RawUsage          *string             `gorm:"type:text" json:"raw_usage,omitempty"`
	Error             *string             `gorm:"type:text" json:"error,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for the BYOKVerification model.
func (BYOKVerification) TableName() string {
	return "byok_verifications"
}
