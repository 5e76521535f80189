package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log"
	"strings"
	"sync"
	"time"

	"permit_flow_app_go/models"

	"github.com/microcosm-cc/bluemonday"
	"gorm.io/gorm"
)

// Default pagination for permit listings
const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

var strictPolicy = bluemonday.StrictPolicy()

// sanitizeText strips markup from free text before it is stored
func sanitizeText(s string) string {
	return strings.TrimSpace(html.UnescapeString(strictPolicy.Sanitize(s)))
}

// PermitWorkflow runs the leave-request lifecycle: submission, ordered
// signatures, rejection, cancellation and return registration. Side
// effects on artifacts and notifications never undo a committed change.
type PermitWorkflow struct {
	DB        *gorm.DB
	Catalog   *Catalog
	Validator CertificateValidator
	Artifacts ArtifactGenerator
	Notifier  Notifier
	Location  *time.Location
	AppURL    string
	Now       func() time.Time
	// Async runs artifact regeneration and notifications in a goroutine
	Async bool

	pending sync.WaitGroup
}

// NewPermitWorkflow creates a workflow with the system clock
func NewPermitWorkflow(db *gorm.DB, catalog *Catalog) *PermitWorkflow {
	return &PermitWorkflow{
		DB:       db,
		Catalog:  catalog,
		Location: time.UTC,
		Now:      time.Now,
	}
}

func (w *PermitWorkflow) now() time.Time {
	if w.Now != nil {
		return w.Now().UTC()
	}
	return time.Now().UTC()
}

func (w *PermitWorkflow) location() *time.Location {
	if w.Location != nil {
		return w.Location
	}
	return time.UTC
}

// SubmitInput is a new leave request. Timestamps are ISO 8601 strings;
// values without an offset are read in the workflow location.
type SubmitInput struct {
	RequesterID        string `json:"requester_id"`
	TypeID             string `json:"type_id"`
	StartAt            string `json:"start_at"`
	EndAt              string `json:"end_at"`
	Reason             string `json:"reason"`
	Justification      string `json:"justification"`
	VisitedInstitution string `json:"visited_institution"`
}

// UpdateInput changes a permit that nobody signed yet. Nil fields are left
// as they are; an empty EndAt clears the end time.
type UpdateInput struct {
	StartAt            *string `json:"start_at"`
	EndAt              *string `json:"end_at"`
	Reason             *string `json:"reason"`
	Justification      *string `json:"justification"`
	VisitedInstitution *string `json:"visited_institution"`
}

// SignInput is one signature event
type SignInput struct {
	Role     models.SignatureRole   `json:"role"`
	Payload  string                 `json:"payload"`
	Method   models.SignatureMethod `json:"method"`
	SignerID string                 `json:"signer_id"`
}

// SignResult is the outcome of a recorded signature
type SignResult struct {
	Permit       *models.Permit `json:"permit"`
	Derivation   Derivation     `json:"derivation"`
	Verification *Verification  `json:"verification,omitempty"`
}

// PermitFilter narrows permit listings
type PermitFilter struct {
	RequesterID string
	TypeID      string
	StateCode   string
	StartFrom   *time.Time
	StartTo     *time.Time
	Page        int
	Limit       int
}

// Normalize applies the default page and clamps the page size
func (f *PermitFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
}

// Submit validates and stores a new permit in PENDING
func (w *PermitWorkflow) Submit(ctx context.Context, in SubmitInput, actor AuditContext) (*models.Permit, error) {
	in.RequesterID = strings.TrimSpace(in.RequesterID)
	in.Reason = sanitizeText(in.Reason)
	switch {
	case in.RequesterID == "":
		return nil, newWorkflowError(CodeMissingField, "requester_id is required")
	case in.TypeID == "":
		return nil, newWorkflowError(CodeMissingField, "type_id is required")
	case in.Reason == "":
		return nil, newWorkflowError(CodeMissingField, "reason is required")
	}

	pt, err := w.Catalog.TypeByID(ctx, in.TypeID)
	if err != nil {
		return nil, err
	}
	if !pt.IsActive {
		return nil, newWorkflowError(CodeTypeInactive, "permit type %s is not active", pt.Code)
	}

	start, err := ParseTimestamp(in.StartAt, w.location())
	if err != nil {
		return nil, err
	}
	start = start.UTC()
	var end *time.Time
	if strings.TrimSpace(in.EndAt) != "" {
		parsed, err := ParseTimestamp(in.EndAt, w.location())
		if err != nil {
			return nil, err
		}
		parsed = parsed.UTC()
		end = &parsed
	}

	if err := validateWindow(start, end, pt); err != nil {
		return nil, err
	}

	// Submission creates PENDING when the catalog lacks it
	pending, err := w.Catalog.EnsureState(ctx, models.StateCodePending)
	if err != nil {
		return nil, err
	}

	permit := &models.Permit{
		RequesterID:      in.RequesterID,
		TypeID:           pt.ID,
		StateID:          pending.ID,
		StartAt:          start,
		EndAt:            end,
		ExpectedReturnAt: ComputeExpectedReturn(start, end, pt.MaxDurationHours),
		Reason:           in.Reason,
		Justification:    sanitizeText(in.Justification),
		Version:          1,
	}
	permit.VisitedInstitution = visitedInstitution(pt, in.VisitedInstitution)

	err = w.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(permit).Error; err != nil {
			return fmt.Errorf("failed to create permit: %w", err)
		}
		return RecordAuditEvent(tx, actor, AuditEntry{
			Action:       models.AuditActionSubmit,
			ResourceType: "Permit",
			ResourceID:   permit.ID,
			ResourceName: permit.Number(),
			Description:  fmt.Sprintf("Submitted %s permit", pt.Code),
			NewValues:    permit,
		})
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[PERMIT] Submitted %s (%s) for requester %s", permit.Number(), pt.Code, permit.RequesterID)
	created, err := w.Get(ctx, permit.ID)
	if err != nil {
		return nil, err
	}
	w.afterChange(created, "")
	return created, nil
}

// visitedInstitution keeps the institution name only for types that
// collect the institution's signature
func visitedInstitution(pt *models.PermitType, name string) *string {
	if !pt.RequiresInstitutionSignature {
		return nil
	}
	if v := sanitizeText(name); v != "" {
		return &v
	}
	return nil
}

// validateWindow checks the time range and the type duration limit
func validateWindow(start time.Time, end *time.Time, pt *models.PermitType) error {
	if err := ValidateTimeRange(start, end); err != nil {
		return err
	}
	return ValidateDuration(start, end, pt.MaxDurationHours).Err()
}

// Get fetches a permit with its type and state
func (w *PermitWorkflow) Get(ctx context.Context, id string) (*models.Permit, error) {
	return GetPermit(w.DB.WithContext(ctx), id)
}

// GetPermit fetches a permit with its type and state
func GetPermit(db *gorm.DB, id string) (*models.Permit, error) {
	var permit models.Permit
	if err := db.Preload("Type").Preload("State").First(&permit, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPermitNotFound
		}
		return nil, err
	}
	return &permit, nil
}

// List returns a page of permits, newest first, and the total match count
func (w *PermitWorkflow) List(ctx context.Context, filter PermitFilter) ([]models.Permit, int64, error) {
	return ListPermits(w.DB.WithContext(ctx), filter)
}

// ListPermits returns a page of permits, newest first, and the total match count
func ListPermits(db *gorm.DB, filter PermitFilter) ([]models.Permit, int64, error) {
	filter.Normalize()

	query := db.Model(&models.Permit{})
	if filter.RequesterID != "" {
		query = query.Where("requester_id = ?", filter.RequesterID)
	}
	if filter.TypeID != "" {
		query = query.Where("type_id = ?", filter.TypeID)
	}
	if filter.StateCode != "" {
		query = query.Where("state_id IN (?)", db.Model(&models.PermitState{}).Select("id").Where("code = ?", filter.StateCode))
	}
	if filter.StartFrom != nil {
		query = query.Where("start_at >= ?", filter.StartFrom.UTC())
	}
	if filter.StartTo != nil {
		query = query.Where("start_at <= ?", filter.StartTo.UTC())
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var permits []models.Permit
	offset := (filter.Page - 1) * filter.Limit
	err := query.Preload("Type").Preload("State").
		Order("created_at DESC").
		Offset(offset).
		Limit(filter.Limit).
		Find(&permits).Error

	return permits, total, err
}

// Update edits a permit while it is PENDING and unsigned. The window is
// validated again and the expected return recomputed.
func (w *PermitWorkflow) Update(ctx context.Context, id string, in UpdateInput, actor AuditContext) (*models.Permit, error) {
	permit, err := w.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if permit.State.Code != models.StateCodePending || SlotsOf(permit) != (SignatureSlots{}) {
		return nil, newWorkflowError(CodeNotEditable, "only unsigned pending permits can be edited")
	}

	pt, err := w.Catalog.TypeByID(ctx, permit.TypeID)
	if err != nil {
		return nil, err
	}

	before := *permit
	updates := map[string]interface{}{}

	start, end := permit.StartAt, permit.EndAt
	if in.StartAt != nil {
		parsed, err := ParseTimestamp(*in.StartAt, w.location())
		if err != nil {
			return nil, err
		}
		start = parsed.UTC()
	}
	if in.EndAt != nil {
		end = nil
		if strings.TrimSpace(*in.EndAt) != "" {
			parsed, err := ParseTimestamp(*in.EndAt, w.location())
			if err != nil {
				return nil, err
			}
			parsed = parsed.UTC()
			end = &parsed
		}
	}
	if in.StartAt != nil || in.EndAt != nil {
		if err := validateWindow(start, end, pt); err != nil {
			return nil, err
		}
		updates["start_at"] = start
		updates["end_at"] = end
		updates["expected_return_at"] = ComputeExpectedReturn(start, end, pt.MaxDurationHours)
	}

	if in.Reason != nil {
		reason := sanitizeText(*in.Reason)
		if reason == "" {
			return nil, newWorkflowError(CodeMissingField, "reason is required")
		}
		updates["reason"] = reason
	}
	if in.Justification != nil {
		updates["justification"] = sanitizeText(*in.Justification)
	}
	if in.VisitedInstitution != nil {
		updates["visited_institution"] = visitedInstitution(pt, *in.VisitedInstitution)
	}

	if len(updates) == 0 {
		return permit, nil
	}

	err = w.guardedUpdate(ctx, permit, "requester_signed_at IS NULL", updates, AuditEntry{
		Action:      models.AuditActionUpdate,
		Description: "Edited permit details",
		OldValues:   before,
	}, actor)
	if err != nil {
		return nil, err
	}

	updated, err := w.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	w.afterChange(updated, "")
	return updated, nil
}

// Sign records a signature for in.Role and moves the permit to the state
// implied by its slots, both in one write guarded by the permit version
func (w *PermitWorkflow) Sign(ctx context.Context, id string, in SignInput, actor AuditContext) (*SignResult, error) {
	if !models.IsValidRole(in.Role) {
		return nil, newWorkflowError(CodeInvalidRole, "invalid signature role %q", in.Role)
	}
	if !models.IsValidMethod(in.Method) {
		return nil, newWorkflowError(CodeInvalidMethod, "invalid signature method %q", in.Method)
	}
	if strings.TrimSpace(in.Payload) == "" {
		return nil, newWorkflowError(CodeMissingField, "signature payload is required")
	}

	permit, err := w.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if permit.State.IsTerminal() {
		return nil, newWorkflowError(CodeTerminalState, "permit is %s and accepts no further signatures", permit.State.Code)
	}

	pt, err := w.Catalog.TypeByID(ctx, permit.TypeID)
	if err != nil {
		return nil, err
	}

	slots := SlotsOf(permit)
	if err := CanSign(slots, in.Role, pt); err != nil {
		return nil, err
	}

	var cert *CertificateInfo
	switch in.Method {
	case models.MethodManual:
		if err := ValidateManualPayload(in.Payload); err != nil {
			return nil, err
		}
	case models.MethodDigital:
		cert, err = w.validateDigital(ctx, in)
		if err != nil {
			return nil, err
		}
	}

	signedAt := w.now()
	sig, err := BuildSignature(in.Payload, in.Method, in.SignerID, signedAt, cert)
	if err != nil {
		return nil, err
	}

	derivation := DeriveState(slots.With(in.Role), pt)
	updates := slotColumns(in.Role, sig)

	target, err := w.Catalog.StateByCode(ctx, derivation.TargetState)
	switch {
	case errors.Is(err, ErrStateNotFound):
		log.Printf("[WARNING] State %s missing from catalog, recording %s signature on %s without transition",
			derivation.TargetState, in.Role, permit.Number())
	case err != nil:
		return nil, err
	case target.ID != permit.StateID:
		updates["state_id"] = target.ID
	}

	if in.Method == models.MethodDigital && permit.DocumentHash == "" {
		updates["document_hash"] = DocumentHash(permit)
	}

	err = w.guardedUpdate(ctx, permit, in.Role.ColumnPrefix()+"signed_at IS NULL", updates, AuditEntry{
		Action:      models.AuditActionSign,
		Description: fmt.Sprintf("%s signed (%s)", in.Role.DisplayName(), in.Method),
		NewValues:   map[string]interface{}{"role": in.Role, "method": in.Method, "signer_id": in.SignerID, "target_state": derivation.TargetState},
	}, actor)
	if err != nil {
		return nil, err
	}

	log.Printf("[PERMIT] %s signed %s via %s, target state %s", in.Role, permit.Number(), in.Method, derivation.TargetState)

	updated, err := w.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	result := &SignResult{Permit: updated, Derivation: derivation}
	if cert != nil {
		v, err := BuildVerification(w.AppURL, updated.ID, in.Role, cert, signedAt)
		if err != nil {
			log.Printf("[WARNING] Failed to build verification for %s: %v", updated.Number(), err)
		} else {
			result.Verification = v
		}
	}

	event := EventAwaitingSignature
	if derivation.Complete {
		event = EventApproved
	}
	w.afterChange(updated, event)
	return result, nil
}

// validateDigital asks the certificate validator about a digital payload
func (w *PermitWorkflow) validateDigital(ctx context.Context, in SignInput) (*CertificateInfo, error) {
	if w.Validator == nil {
		return nil, newWorkflowError(CodeInvalidDigitalSignature, "digital signatures are not enabled")
	}
	res, err := w.Validator.Validate(ctx, in.Payload, in.SignerID)
	if err != nil {
		log.Printf("[WARNING] Certificate validator failed: %v", err)
		return nil, newWorkflowError(CodeInvalidDigitalSignature, "could not validate the digital signature: %v", err)
	}
	if res == nil || !res.Valid {
		reason := "signature rejected"
		if res != nil && res.Reason != "" {
			reason = res.Reason
		}
		return nil, newWorkflowError(CodeInvalidDigitalSignature, "%s", reason)
	}
	return res.Info, nil
}

// Reject closes a pre-terminal permit as REJECTED with a note
func (w *PermitWorkflow) Reject(ctx context.Context, id string, note string, actor AuditContext) (*models.Permit, error) {
	return w.close(ctx, id, models.StateCodeRejected, models.ClosedReasonRejected, note, models.AuditActionReject, EventRejected, actor)
}

// Cancel closes a pre-terminal permit as CANCELLED
func (w *PermitWorkflow) Cancel(ctx context.Context, id string, reason string, actor AuditContext) (*models.Permit, error) {
	return w.close(ctx, id, models.StateCodeCancelled, models.ClosedReasonCancelled, reason, models.AuditActionCancel, EventCancelled, actor)
}

func (w *PermitWorkflow) close(ctx context.Context, id, stateCode, closedReason, note string, action models.AuditAction, event NotificationEvent, actor AuditContext) (*models.Permit, error) {
	permit, err := w.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if permit.State.IsTerminal() {
		return nil, newWorkflowError(CodeTerminalState, "permit is already %s", permit.State.Code)
	}

	// Unlike signatures, closing is nothing but a transition
	target, err := w.Catalog.StateByCode(ctx, stateCode)
	if err != nil {
		return nil, err
	}

	note = sanitizeText(note)
	updates := map[string]interface{}{
		"state_id":      target.ID,
		"closed_reason": closedReason,
	}
	if note != "" {
		updates["rejection_note"] = note
	}

	err = w.guardedUpdate(ctx, permit, "", updates, AuditEntry{
		Action:      action,
		Description: fmt.Sprintf("Moved from %s to %s", permit.State.Code, stateCode),
		OldValues:   map[string]interface{}{"state": permit.State.Code},
		NewValues:   map[string]interface{}{"state": stateCode, "note": note},
	}, actor)
	if err != nil {
		return nil, err
	}

	log.Printf("[PERMIT] %s moved to %s", permit.Number(), stateCode)
	updated, err := w.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	w.afterChange(updated, event)
	return updated, nil
}

// Delete soft-deletes a permit in any state, then removes its stored
// documents. A failed document removal is logged; the permit stays deleted.
func (w *PermitWorkflow) Delete(ctx context.Context, id string, actor AuditContext) error {
	permit, err := w.Get(ctx, id)
	if err != nil {
		return err
	}

	err = w.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND version = ?", permit.ID, permit.Version).Delete(&models.Permit{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete permit: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrConcurrentUpdate
		}
		return RecordAuditEvent(tx, actor, AuditEntry{
			Action:       models.AuditActionDelete,
			ResourceType: "Permit",
			ResourceID:   permit.ID,
			ResourceName: permit.Number(),
			Description:  fmt.Sprintf("Deleted permit in state %s", permit.State.Code),
			OldValues:    permit,
		})
	})
	if err != nil {
		return err
	}

	log.Printf("[PERMIT] Deleted %s", permit.Number())
	if w.Artifacts != nil {
		if err := w.Artifacts.RemoveDocuments(ctx, permit); err != nil {
			log.Printf("[WARNING] Failed to remove documents of %s: %v", permit.Number(), err)
		}
	}
	return nil
}

// RegisterReturn records when the requester came back. Late returns are
// recorded as they are; the duration limit does not apply here.
func (w *PermitWorkflow) RegisterReturn(ctx context.Context, id string, returnedAt string, actor AuditContext) (*models.Permit, error) {
	permit, err := w.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch permit.State.Code {
	case models.StateCodeRejected, models.StateCodeCancelled:
		return nil, newWorkflowError(CodeTerminalState, "permit is %s", permit.State.Code)
	}
	if permit.ReturnedAt != nil {
		return nil, newWorkflowError(CodeAlreadyReturned, "return was already registered at %s", permit.ReturnedAt.Format(time.RFC3339))
	}

	returned := w.now()
	if strings.TrimSpace(returnedAt) != "" {
		parsed, err := ParseTimestamp(returnedAt, w.location())
		if err != nil {
			return nil, err
		}
		returned = parsed.UTC()
	}
	if returned.Before(permit.StartAt) {
		return nil, newWorkflowError(CodeInvalidTimeRange, "return %s precedes start %s",
			returned.Format(time.RFC3339), permit.StartAt.Format(time.RFC3339))
	}

	err = w.guardedUpdate(ctx, permit, "returned_at IS NULL", map[string]interface{}{"returned_at": returned}, AuditEntry{
		Action:      models.AuditActionReturn,
		Description: "Registered return",
		NewValues:   map[string]interface{}{"returned_at": returned},
	}, actor)
	if err != nil {
		return nil, err
	}

	updated, err := w.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	w.afterChange(updated, "")
	return updated, nil
}

// guardedUpdate applies updates only if the permit still has the version
// that was read, together with its audit entry
func (w *PermitWorkflow) guardedUpdate(ctx context.Context, permit *models.Permit, extraPredicate string, updates map[string]interface{}, entry AuditEntry, actor AuditContext) error {
	updates["version"] = gorm.Expr("version + 1")

	entry.ResourceType = "Permit"
	entry.ResourceID = permit.ID
	entry.ResourceName = permit.Number()

	return w.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Model(&models.Permit{}).Where("id = ? AND version = ?", permit.ID, permit.Version)
		if extraPredicate != "" {
			query = query.Where(extraPredicate)
		}
		res := query.Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("failed to update permit: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrConcurrentUpdate
		}
		return RecordAuditEvent(tx, actor, entry)
	})
}

// afterChange refreshes the document and sends notifications. Failures
// are logged; the change is already committed.
func (w *PermitWorkflow) afterChange(permit *models.Permit, event NotificationEvent) {
	run := func() {
		ctx := context.Background()
		if w.Artifacts != nil {
			if err := w.Artifacts.Regenerate(ctx, permit.ID); err != nil {
				log.Printf("[WARNING] Failed to regenerate document for %s: %v", permit.Number(), err)
			}
		}
		if w.Notifier != nil && event != "" {
			if err := w.Notifier.Notify(ctx, permit, event); err != nil {
				log.Printf("[WARNING] Failed to notify %s for %s: %v", event, permit.Number(), err)
			}
		}
	}

	if w.Async {
		w.pending.Add(1)
		go func() {
			defer w.pending.Done()
			run()
		}()
		return
	}
	run()
}

// Drain waits for side effects still running in the background, or
// until ctx is done
func (w *PermitWorkflow) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DurationInfo summarizes the time window of a permit
type DurationInfo struct {
	StartAt          time.Time  `json:"start_at"`
	EndAt            *time.Time `json:"end_at,omitempty"`
	ExpectedReturnAt *time.Time `json:"expected_return_at,omitempty"`
	ReturnedAt       *time.Time `json:"returned_at,omitempty"`
	MaxDurationHours *float64   `json:"max_duration_hours,omitempty"`
	Hours            *float64   `json:"hours,omitempty"`
	ExcessHours      float64    `json:"excess_hours,omitempty"`
}

// GetDurationInfo computes elapsed hours from the return time when it is
// known, otherwise from the declared end
func GetDurationInfo(p *models.Permit, pt *models.PermitType) DurationInfo {
	info := DurationInfo{
		StartAt:          p.StartAt,
		EndAt:            p.EndAt,
		ExpectedReturnAt: p.ExpectedReturnAt,
		ReturnedAt:       p.ReturnedAt,
	}
	if pt != nil && pt.HasDurationLimit() {
		info.MaxDurationHours = pt.MaxDurationHours
	}

	end := p.EndAt
	if p.ReturnedAt != nil {
		end = p.ReturnedAt
	}
	if end == nil {
		return info
	}

	hours := HoursBetween(p.StartAt, *end)
	info.Hours = &hours
	if info.MaxDurationHours != nil && hours > *info.MaxDurationHours {
		info.ExcessHours = hours - *info.MaxDurationHours
	}
	return info
}

// SignatureDetail describes a single slot for verification
type SignatureDetail struct {
	Role        models.SignatureRole    `json:"role"`
	RoleName    string                  `json:"role_name"`
	Method      *models.SignatureMethod `json:"method,omitempty"`
	SignedAt    *time.Time              `json:"signed_at,omitempty"`
	SignerID    *string                 `json:"signer_id,omitempty"`
	Validated   bool                    `json:"validated"`
	Certificate *CertificateInfo        `json:"certificate,omitempty"`
	// DaysRemaining counts down to the certificate's expiry, negative once expired
	DaysRemaining *int          `json:"certificate_days_remaining,omitempty"`
	Verification  *Verification `json:"verification,omitempty"`
}

// SignatureDetails returns the slot for role, with a verification link
// for digital signatures
func (w *PermitWorkflow) SignatureDetails(ctx context.Context, id string, role models.SignatureRole) (*SignatureDetail, error) {
	if !models.IsValidRole(role) {
		return nil, newWorkflowError(CodeInvalidRole, "invalid signature role %q", role)
	}
	permit, err := w.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	slot := permit.Slot(role)
	if !slot.IsSigned() {
		return nil, ErrSignatureNotFound
	}

	detail := &SignatureDetail{
		Role:      role,
		RoleName:  role.DisplayName(),
		Method:    slot.Method,
		SignedAt:  slot.SignedAt,
		SignerID:  slot.SignerID,
		Validated: slot.Validated != nil && *slot.Validated,
	}

	cert, err := CertificateOf(slot)
	if err != nil {
		return nil, err
	}
	if cert != nil {
		detail.Certificate = cert
		days := cert.DaysRemaining(w.now())
		detail.DaysRemaining = &days
		v, err := BuildVerification(w.AppURL, permit.ID, role, cert, *slot.SignedAt)
		if err != nil {
			return nil, err
		}
		detail.Verification = v
	}
	return detail, nil
}
