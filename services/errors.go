package services

import (
	"errors"
	"fmt"

	"permit_flow_app_go/models"
)

// Lookup and storage errors
var (
	ErrPermitNotFound     = errors.New("permit not found")
	ErrPermitTypeNotFound = errors.New("permit type not found")
	ErrStateNotFound      = errors.New("lifecycle state not found")
	ErrSignatureNotFound  = errors.New("signature not found")
	ErrConcurrentUpdate   = errors.New("permit was modified concurrently, retry")
	ErrCatalogIncomplete  = errors.New("lifecycle state catalog is incomplete")
	ErrInvalidTimestamp   = errors.New("invalid timestamp")

	ErrPermitStateNotFound = errors.New("permit state not found")
	ErrCatalogConflict     = errors.New("catalog code already in use")
	ErrCatalogInUse        = errors.New("catalog entry is in use")
)

// ErrorCode classifies a business-rule violation
type ErrorCode string

const (
	CodeDurationExceeded        ErrorCode = "DURATION_EXCEEDED"
	CodeInvalidTimeRange        ErrorCode = "INVALID_TIME_RANGE"
	CodeMissingField            ErrorCode = "MISSING_FIELD"
	CodePriorSignatureRequired  ErrorCode = "PRIOR_SIGNATURE_REQUIRED"
	CodeAlreadySigned           ErrorCode = "ALREADY_SIGNED"
	CodeNotApplicable           ErrorCode = "NOT_APPLICABLE"
	CodeInvalidDigitalSignature ErrorCode = "INVALID_DIGITAL_SIGNATURE"
	CodeInvalidRole             ErrorCode = "INVALID_ROLE"
	CodeInvalidMethod           ErrorCode = "INVALID_METHOD"
	CodeInvalidPayload          ErrorCode = "INVALID_SIGNATURE_PAYLOAD"
	CodeTypeInactive            ErrorCode = "TYPE_INACTIVE"
	CodeTerminalState           ErrorCode = "TERMINAL_STATE"
	CodeNotEditable             ErrorCode = "NOT_EDITABLE"
	CodeAlreadyReturned         ErrorCode = "ALREADY_RETURNED"
	CodeInvalidCatalogEntry     ErrorCode = "INVALID_CATALOG_ENTRY"
)

// WorkflowError is a user-facing business-rule violation. It is never
// retried; the caller has to correct the request and resubmit.
type WorkflowError struct {
	Code    ErrorCode            `json:"code"`
	Message string               `json:"message"`
	Role    models.SignatureRole `json:"role,omitempty"`   // prior role required, where applicable
	Excess  float64              `json:"excess,omitempty"` // excess hours, where applicable
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newWorkflowError(code ErrorCode, format string, args ...interface{}) *WorkflowError {
	return &WorkflowError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// priorSignatureRequired builds the error for an out-of-order signature
func priorSignatureRequired(role models.SignatureRole) *WorkflowError {
	return &WorkflowError{
		Code:    CodePriorSignatureRequired,
		Message: fmt.Sprintf("the %s signature is required first", role),
		Role:    role,
	}
}

// AsWorkflowError unwraps err into a WorkflowError when it is one
func AsWorkflowError(err error) (*WorkflowError, bool) {
	var we *WorkflowError
	if errors.As(err, &we) {
		return we, true
	}
	return nil, false
}

// HasCode reports whether err is a WorkflowError with the given code
func HasCode(err error, code ErrorCode) bool {
	we, ok := AsWorkflowError(err)
	return ok && we.Code == code
}
