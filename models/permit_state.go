package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Lifecycle state codes. The catalog must contain all of them for the
// signature workflow to move permits between states.
const (
	StateCodePending              = "PENDING"
	StateCodeApprovedBySupervisor = "APPROVED_BY_SUPERVISOR"
	StateCodeApprovedByHR         = "APPROVED_BY_HR"
	StateCodeApproved             = "APPROVED"
	StateCodeRejected             = "REJECTED"
	StateCodeCancelled            = "CANCELLED"
)

// PermitState is an entry of the lifecycle state catalog
type PermitState struct {
	ID        string    `gorm:"type:uuid;primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name        string `gorm:"not null" json:"name"`
	Code        string `gorm:"not null;uniqueIndex" json:"code"`
	Description string `gorm:"type:text" json:"description,omitempty"`
}

// BeforeCreate hook to generate UUID
func (s *PermitState) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	return nil
}

// TableName specifies the table name for PermitState model
func (PermitState) TableName() string {
	return "permit_states"
}

// IsTerminal reports whether no further signatures or transitions are accepted
func (s *PermitState) IsTerminal() bool {
	return IsTerminalStateCode(s.Code)
}

// IsTerminalStateCode checks a state code against the terminal set
func IsTerminalStateCode(code string) bool {
	switch code {
	case StateCodeApproved, StateCodeRejected, StateCodeCancelled:
		return true
	}
	return false
}

// RequiredStateCodes lists every code the workflow looks up
func RequiredStateCodes() []string {
	return []string{
		StateCodePending,
		StateCodeApprovedBySupervisor,
		StateCodeApprovedByHR,
		StateCodeApproved,
		StateCodeRejected,
		StateCodeCancelled,
	}
}
