// Package tables defines the GORM table structs of the pricing store.
package tables

import "time"

// Provider is an upstream company or hosting service that runs models.
// Rows are created on first sighting in the aggregator's providers feed and
// never deleted; metadata may be updated.
type Provider struct {
	ID          uint    `gorm:"primaryKey;autoIncrement" json:"id"`
	Slug        string  `gorm:"type:varchar(255);not null;uniqueIndex" json:"slug"`
	DisplayName string  `gorm:"type:varchar(255);not null" json:"display_name"`
	HomepageURL *string `gorm:"type:varchar(1024)" json:"homepage_url,omitempty"`
	PricingURL  *string `gorm:"type:varchar(1024)" json:"pricing_url,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for the Provider model.
func (Provider) TableName() string {
	return "providers"
}
