package services

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"permit_flow_app_go/models"

	"gorm.io/datatypes"
)

// manualSignatureRegex accepts base64 data URLs of signature images
var manualSignatureRegex = regexp.MustCompile(`^data:image/(png|jpg|jpeg|gif);base64,[A-Za-z0-9+/=\s]+$`)

// SignatureSlots is an immutable snapshot of which slots are populated
type SignatureSlots struct {
	Requester   bool
	Supervisor  bool
	HR          bool
	Institution bool
}

// SlotsOf takes a snapshot of the permit's signature slots
func SlotsOf(p *models.Permit) SignatureSlots {
	return SignatureSlots{
		Requester:   p.RequesterSignature.IsSigned(),
		Supervisor:  p.SupervisorSignature.IsSigned(),
		HR:          p.HRSignature.IsSigned(),
		Institution: p.InstitutionSignature.IsSigned(),
	}
}

// Has reports whether the role's slot is populated
func (s SignatureSlots) Has(role models.SignatureRole) bool {
	switch role {
	case models.RoleRequester:
		return s.Requester
	case models.RoleSupervisor:
		return s.Supervisor
	case models.RoleHR:
		return s.HR
	case models.RoleInstitution:
		return s.Institution
	}
	return false
}

// With returns a copy of the snapshot with the role's slot populated
func (s SignatureSlots) With(role models.SignatureRole) SignatureSlots {
	switch role {
	case models.RoleRequester:
		s.Requester = true
	case models.RoleSupervisor:
		s.Supervisor = true
	case models.RoleHR:
		s.HR = true
	case models.RoleInstitution:
		s.Institution = true
	}
	return s
}

// RequiredRoles lists the roles that must sign a permit of the given type,
// in signing order
func RequiredRoles(pt *models.PermitType) []models.SignatureRole {
	roles := []models.SignatureRole{models.RoleRequester, models.RoleSupervisor, models.RoleHR}
	if pt != nil && pt.RequiresInstitutionSignature {
		roles = append(roles, models.RoleInstitution)
	}
	return roles
}

// CanSign checks whether role may sign now. Failures are WorkflowErrors
// that the signer resolves by resubmitting in the correct order.
func CanSign(slots SignatureSlots, role models.SignatureRole, pt *models.PermitType) error {
	if !models.IsValidRole(role) {
		return newWorkflowError(CodeInvalidRole, "invalid signature role %q", role)
	}
	if role == models.RoleInstitution && (pt == nil || !pt.RequiresInstitutionSignature) {
		return newWorkflowError(CodeNotApplicable, "this permit type does not require an institution signature")
	}
	if slots.Has(role) {
		return &WorkflowError{Code: CodeAlreadySigned, Message: fmt.Sprintf("the %s signature was already recorded", role), Role: role}
	}

	switch role {
	case models.RoleSupervisor:
		if !slots.Requester {
			return priorSignatureRequired(models.RoleRequester)
		}
	case models.RoleHR:
		if !slots.Supervisor {
			return priorSignatureRequired(models.RoleSupervisor)
		}
	case models.RoleInstitution:
		if !slots.HR {
			return priorSignatureRequired(models.RoleHR)
		}
	}
	return nil
}

// Derivation is the lifecycle outcome of a signature snapshot
type Derivation struct {
	Complete    bool                   `json:"complete"`
	Missing     []models.SignatureRole `json:"missing,omitempty"`
	TargetState string                 `json:"target_state"`
}

// DeriveState maps a slot snapshot to the lifecycle state it implies.
// Completion needs every required slot; intermediate states follow the
// populated prefix of the signing order.
func DeriveState(slots SignatureSlots, pt *models.PermitType) Derivation {
	var missing []models.SignatureRole
	for _, role := range RequiredRoles(pt) {
		if !slots.Has(role) {
			missing = append(missing, role)
		}
	}

	d := Derivation{Complete: len(missing) == 0, Missing: missing}
	switch {
	case d.Complete:
		d.TargetState = models.StateCodeApproved
	case slots.Requester && slots.Supervisor && slots.HR:
		d.TargetState = models.StateCodeApprovedByHR
	case slots.Requester && slots.Supervisor:
		d.TargetState = models.StateCodeApprovedBySupervisor
	default:
		d.TargetState = models.StateCodePending
	}
	return d
}

// NextSigner returns the next role expected to sign, or false when all
// required signatures are present
func NextSigner(slots SignatureSlots, pt *models.PermitType) (models.SignatureRole, bool) {
	for _, role := range RequiredRoles(pt) {
		if !slots.Has(role) {
			return role, true
		}
	}
	return "", false
}

// ValidateManualPayload checks a manual signature image
func ValidateManualPayload(payload string) error {
	if !manualSignatureRegex.MatchString(payload) {
		return newWorkflowError(CodeInvalidPayload, "manual signatures must be a base64 png, jpg or gif data URL")
	}
	return nil
}

// BuildSignature assembles the slot value written for a signature event.
// Certificate metadata is only kept for digital signatures.
func BuildSignature(payload string, method models.SignatureMethod, signerID string, signedAt time.Time, cert *CertificateInfo) (models.Signature, error) {
	sig := models.Signature{
		Payload:  &payload,
		Method:   &method,
		SignedAt: &signedAt,
	}
	if signerID != "" {
		sig.SignerID = &signerID
	}

	if method == models.MethodDigital && cert != nil {
		raw, err := json.Marshal(cert)
		if err != nil {
			return models.Signature{}, fmt.Errorf("failed to encode certificate info: %w", err)
		}
		validated := true
		sig.Certificate = datatypes.JSON(raw)
		sig.Validated = &validated
	}
	return sig, nil
}

// slotColumns returns the column updates that populate the role's slot
func slotColumns(role models.SignatureRole, sig models.Signature) map[string]interface{} {
	prefix := role.ColumnPrefix()
	cols := map[string]interface{}{
		prefix + "payload":   *sig.Payload,
		prefix + "method":    string(*sig.Method),
		prefix + "signed_at": *sig.SignedAt,
		prefix + "signer_id": nil,
	}
	if sig.SignerID != nil {
		cols[prefix+"signer_id"] = *sig.SignerID
	}
	if len(sig.Certificate) > 0 && sig.Validated != nil {
		cols[prefix+"certificate"] = sig.Certificate
		cols[prefix+"validated"] = *sig.Validated
	}
	return cols
}

// CertificateOf decodes the certificate metadata stored on a slot
func CertificateOf(sig models.Signature) (*CertificateInfo, error) {
	if len(sig.Certificate) == 0 {
		return nil, nil
	}
	var info CertificateInfo
	if err := json.Unmarshal(sig.Certificate, &info); err != nil {
		return nil, fmt.Errorf("failed to decode certificate info: %w", err)
	}
	return &info, nil
}
