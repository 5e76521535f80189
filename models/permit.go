package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Reasons recorded when a permit is closed without approval
const (
	ClosedReasonCancelled = "cancelled"
	ClosedReasonExpired   = "expired"
	ClosedReasonRejected  = "rejected"
)

// Permit is a leave request ("papeleta") moving through multi-party sign-off
type Permit struct {
	ID        string         `gorm:"type:uuid;primarykey" json:"id"`
	CreatedAt time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	RequesterID string `gorm:"not null;index" json:"requester_id"`

	TypeID string     `gorm:"type:uuid;not null;index" json:"type_id"`
	Type   PermitType `gorm:"foreignKey:TypeID" json:"type,omitempty"`

	StateID string      `gorm:"type:uuid;not null;index:idx_permit_state_end" json:"state_id"`
	State   PermitState `gorm:"foreignKey:StateID" json:"state,omitempty"`

	// Time window
	StartAt          time.Time  `gorm:"not null;index" json:"start_at"`
	EndAt            *time.Time `gorm:"index:idx_permit_state_end" json:"end_at,omitempty"`
	ExpectedReturnAt *time.Time `json:"expected_return_at"`
	ReturnedAt       *time.Time `json:"returned_at,omitempty"`

	Reason             string  `gorm:"type:text;not null" json:"reason"`
	Justification      string  `gorm:"type:text" json:"justification"`
	VisitedInstitution *string `json:"visited_institution,omitempty"`

	// Signature slots
	RequesterSignature   Signature `gorm:"embedded;embeddedPrefix:requester_" json:"requester_signature"`
	SupervisorSignature  Signature `gorm:"embedded;embeddedPrefix:supervisor_" json:"supervisor_signature"`
	HRSignature          Signature `gorm:"embedded;embeddedPrefix:hr_" json:"hr_signature"`
	InstitutionSignature Signature `gorm:"embedded;embeddedPrefix:institution_" json:"institution_signature"`

	// Closing details
	RejectionNote string `gorm:"type:text" json:"rejection_note,omitempty"`
	ClosedReason  string `json:"closed_reason,omitempty"`

	// Artifacts
	DocumentHash  string `json:"document_hash,omitempty"`
	PDFPath       string `json:"pdf_path,omitempty"`
	SignedPDFPath string `json:"signed_pdf_path,omitempty"`

	// Last pending-signature reminder
	ReminderSentAt *time.Time `json:"-"`

	// Optimistic lock guarding read-modify-write of signature slots
	Version int `gorm:"not null;default:1" json:"version"`
}

// BeforeCreate hook to generate UUID
func (p *Permit) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return nil
}

// TableName specifies the table name for Permit model
func (Permit) TableName() string {
	return "permits"
}

// Slot returns a copy of the signature slot for a role
func (p *Permit) Slot(role SignatureRole) Signature {
	switch role {
	case RoleRequester:
		return p.RequesterSignature
	case RoleSupervisor:
		return p.SupervisorSignature
	case RoleHR:
		return p.HRSignature
	case RoleInstitution:
		return p.InstitutionSignature
	}
	return Signature{}
}

// Number returns the short papeleta number printed on documents
func (p *Permit) Number() string {
	if len(p.ID) < 8 {
		return p.ID
	}
	return strings.ToUpper(p.ID[:8])
}
