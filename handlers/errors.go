package handlers

import (
	"errors"
	"log"
	"net/http"

	"permit_flow_app_go/services"

	"github.com/labstack/echo/v4"
)

// errorResponse is the JSON body of a rejected request
type errorResponse struct {
	Error   string  `json:"error"`
	Message string  `json:"message"`
	Role    string  `json:"role,omitempty"`
	Excess  float64 `json:"excess_hours,omitempty"`
}

// respondError maps service errors to HTTP responses. Business-rule
// violations carry their code so clients can react to them.
func respondError(c echo.Context, err error) error {
	if we, ok := services.AsWorkflowError(err); ok {
		status := http.StatusBadRequest
		switch we.Code {
		case services.CodeTerminalState, services.CodeAlreadySigned, services.CodeAlreadyReturned, services.CodeNotEditable:
			status = http.StatusConflict
		case services.CodePriorSignatureRequired:
			status = http.StatusUnprocessableEntity
		}
		return c.JSON(status, errorResponse{
			Error:   string(we.Code),
			Message: we.Message,
			Role:    string(we.Role),
			Excess:  we.Excess,
		})
	}

	switch {
	case errors.Is(err, services.ErrPermitNotFound),
		errors.Is(err, services.ErrPermitTypeNotFound),
		errors.Is(err, services.ErrSignatureNotFound),
		errors.Is(err, services.ErrPermitStateNotFound),
		errors.Is(err, services.ErrDocumentNotReady):
		return c.JSON(http.StatusNotFound, errorResponse{Error: "NOT_FOUND", Message: err.Error()})
	case errors.Is(err, services.ErrStateNotFound), errors.Is(err, services.ErrCatalogIncomplete):
		log.Printf("[ERROR] Lifecycle catalog problem: %v", err)
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "CATALOG_INCOMPLETE", Message: err.Error()})
	case errors.Is(err, services.ErrConcurrentUpdate):
		return c.JSON(http.StatusConflict, errorResponse{Error: "CONCURRENT_UPDATE", Message: err.Error()})
	case errors.Is(err, services.ErrCatalogConflict):
		return c.JSON(http.StatusConflict, errorResponse{Error: "CATALOG_CONFLICT", Message: err.Error()})
	case errors.Is(err, services.ErrCatalogInUse):
		return c.JSON(http.StatusConflict, errorResponse{Error: "CATALOG_IN_USE", Message: err.Error()})
	case errors.Is(err, services.ErrInvalidTimestamp):
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "INVALID_TIMESTAMP", Message: err.Error()})
	case errors.Is(err, services.ErrInvalidUpload):
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "INVALID_UPLOAD", Message: err.Error()})
	}

	log.Printf("[ERROR] %s %s: %v", c.Request().Method, c.Path(), err)
	return echo.NewHTTPError(http.StatusInternalServerError, "Internal server error")
}
