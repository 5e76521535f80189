package models

import (
	"time"

	"gorm.io/datatypes"
)

// SignatureRole identifies a signer category on a permit
type SignatureRole string

// Signing order: requester, supervisor, HR, then institution when the
// permit type asks for it.
const (
	RoleRequester   SignatureRole = "requester"
	RoleSupervisor  SignatureRole = "supervisor"
	RoleHR          SignatureRole = "hr"
	RoleInstitution SignatureRole = "institution"
)

// SignatureMethod is how a slot was signed
type SignatureMethod string

const (
	MethodManual  SignatureMethod = "manual"  // base64 image of a handwritten signature
	MethodDigital SignatureMethod = "digital" // PKCS#7 blob from a digital certificate
)

// SignatureOrder is the fixed signing sequence
var SignatureOrder = []SignatureRole{RoleRequester, RoleSupervisor, RoleHR, RoleInstitution}

// IsValidRole checks if the role is a known signer category
func IsValidRole(role SignatureRole) bool {
	for _, r := range SignatureOrder {
		if r == role {
			return true
		}
	}
	return false
}

// IsValidMethod checks if the signing method is supported
func IsValidMethod(method SignatureMethod) bool {
	return method == MethodManual || method == MethodDigital
}

// ColumnPrefix returns the column prefix of the role's embedded slot
func (r SignatureRole) ColumnPrefix() string {
	return string(r) + "_"
}

// DisplayName returns a human-readable role name
func (r SignatureRole) DisplayName() string {
	names := map[SignatureRole]string{
		RoleRequester:   "Solicitante",
		RoleSupervisor:  "Jefe de Área",
		RoleHR:          "Recursos Humanos",
		RoleInstitution: "Institución Visitada",
	}
	if name, ok := names[r]; ok {
		return name
	}
	return string(r)
}

// Signature is one signer slot. Once SignedAt is set the slot is never
// written again.
type Signature struct {
	Payload     *string          `gorm:"type:text" json:"payload,omitempty"`
	Method      *SignatureMethod `json:"method,omitempty"`
	SignedAt    *time.Time       `json:"signed_at,omitempty"`
	SignerID    *string          `json:"signer_id,omitempty"`
	Certificate datatypes.JSON   `json:"certificate,omitempty"`
	Validated   *bool            `json:"validated,omitempty"`
}

// IsSigned reports whether the slot is populated
func (s Signature) IsSigned() bool {
	return s.SignedAt != nil
}
