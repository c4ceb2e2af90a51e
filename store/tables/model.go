package tables

import "time"

// Model is one catalogue entry. Architecture and SupportedParameters are
// stored as JSON text; the pipeline treats them as opaque except where the
// backend projection derives capabilities from them.
type Model struct {
	ID                  uint    `gorm:"primaryKey;autoIncrement" json:"id"`
	Slug                string  `gorm:"type:varchar(255);not null;uniqueIndex" json:"slug"`
	CanonicalSlug       *string `gorm:"type:varchar(255)" json:"canonical_slug,omitempty"`
	DisplayName         string  `gorm:"type:varchar(255);not null" json:"display_name"`
	Description         *string `gorm:"type:text" json:"description,omitempty"`
	ContextLength       *int    `json:"context_length,omitempty"`
	Architecture        *string `gorm:"type:text" json:"architecture,omitempty"`
	SupportedParameters *string `gorm:"type:text" json:"supported_parameters,omitempty"`
	HuggingFaceID       *string `gorm:"type:varchar(255)" json:"hugging_face_id,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for the Model model.
func (Model) TableName() string {
	return "models"
}
