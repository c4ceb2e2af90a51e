package tables

import "time"

// ModelProvider links a model to one of its hosting providers. A model may
// have zero, one, or many links; absence is expected when the aggregator
// does not attribute a specific provider.
type ModelProvider struct {
	ID               uint    `gorm:"primaryKey;autoIncrement" json:"id"`
	ModelID          uint    `gorm:"not null;uniqueIndex:idx_model_provider" json:"model_id"`
	ProviderID       uint    `gorm:"not null;uniqueIndex:idx_model_provider" json:"provider_id"`
	IsTopProvider    bool    `gorm:"default:false" json:"is_top_provider"`
	ProviderMetadata *string `gorm:"type:text" json:"provider_metadata,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for the ModelProvider model.
func (ModelProvider) TableName() string {
	return "model_providers"
}
