package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Permit type codes seeded by default
const (
	PermitTypeServiceCommission = "COMISION_SERVICIO"
	PermitTypePersonal          = "PERMISO_PERSONAL"
)

// PermitType is the reference configuration of a kind of leave request.
// It is owned by administrators and read-only for the workflow.
type PermitType struct {
	ID        string    `gorm:"type:uuid;primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name        string `gorm:"not null" json:"name"`
	Code        string `gorm:"not null;uniqueIndex" json:"code"`
	Description string `gorm:"type:text" json:"description,omitempty"`

	RequiresInstitutionSignature bool     `gorm:"not null" json:"requires_institution_signature"`
	MaxDurationHours             *float64 `json:"max_duration_hours"` // nil = open ended
	IsActive                     bool     `gorm:"not null;index" json:"is_active"`
}

// BeforeCreate hook to generate UUID
func (pt *PermitType) BeforeCreate(tx *gorm.DB) error {
	if pt.ID == "" {
		pt.ID = uuid.New().String()
	}
	return nil
}

// TableName specifies the table name for PermitType model
func (PermitType) TableName() string {
	return "permit_types"
}

// HasDurationLimit reports whether the type enforces a maximum duration
func (pt *PermitType) HasDurationLimit() bool {
	return pt.MaxDurationHours != nil
}
