package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"permit_flow_app_go/middleware"
	"permit_flow_app_go/models"
	"permit_flow_app_go/services"

	"github.com/labstack/echo/v4"
)

// PermitHandler serves the papeleta workflow
type PermitHandler struct {
	Workflow  *services.PermitWorkflow
	Artifacts *services.ArtifactService
	Location  *time.Location
}

func (h *PermitHandler) location() *time.Location {
	if h.Location != nil {
		return h.Location
	}
	return time.UTC
}

// permitResponse is a permit with its derived time and signature info
type permitResponse struct {
	*models.Permit
	Duration   services.DurationInfo `json:"duration"`
	NextSigner models.SignatureRole  `json:"next_signer,omitempty"`
}

func newPermitResponse(p *models.Permit) permitResponse {
	resp := permitResponse{Permit: p, Duration: services.GetDurationInfo(p, &p.Type)}
	if !p.State.IsTerminal() {
		if role, pending := services.NextSigner(services.SlotsOf(p), &p.Type); pending {
			resp.NextSigner = role
		}
	}
	return resp
}

// filterFromQuery reads listing filters. Dates are YYYY-MM-DD in the
// configured timezone; start_to includes the whole day.
func (h *PermitHandler) filterFromQuery(c echo.Context) (services.PermitFilter, error) {
	filter := services.PermitFilter{
		RequesterID: c.QueryParam("requester_id"),
		TypeID:      c.QueryParam("type_id"),
		StateCode:   c.QueryParam("state"),
	}
	if p, err := strconv.Atoi(c.QueryParam("page")); err == nil && p > 0 {
		filter.Page = p
	}
	if l, err := strconv.Atoi(c.QueryParam("limit")); err == nil && l > 0 {
		filter.Limit = l
	}

	loc := h.location()
	if v := c.QueryParam("start_from"); v != "" {
		d, err := services.ParseDate(v)
		if err != nil {
			return filter, echo.NewHTTPError(http.StatusBadRequest, "start_from: "+err.Error())
		}
		from := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
		filter.StartFrom = &from
	}
	if v := c.QueryParam("start_to"); v != "" {
		d, err := services.ParseDate(v)
		if err != nil {
			return filter, echo.NewHTTPError(http.StatusBadRequest, "start_to: "+err.Error())
		}
		to := time.Date(d.Year(), d.Month(), d.Day(), 23, 59, 59, 0, loc)
		filter.StartTo = &to
	}
	return filter, nil
}

// GetPermitsHandler lists permits with filters and pagination
func (h *PermitHandler) GetPermitsHandler(c echo.Context) error {
	filter, err := h.filterFromQuery(c)
	if err != nil {
		return err
	}
	filter.Normalize()

	permits, total, err := h.Workflow.List(c.Request().Context(), filter)
	if err != nil {
		return respondError(c, err)
	}

	items := make([]permitResponse, 0, len(permits))
	for i := range permits {
		items = append(items, newPermitResponse(&permits[i]))
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"permits": items,
		"total":   total,
		"page":    filter.Page,
		"limit":   filter.Limit,
	})
}

// GetPermitHandler returns one permit
func (h *PermitHandler) GetPermitHandler(c echo.Context) error {
	permit, err := h.Workflow.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, newPermitResponse(permit))
}

// CreatePermitHandler submits a new permit
func (h *PermitHandler) CreatePermitHandler(c echo.Context) error {
	var in services.SubmitInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	actor := middleware.GetAuditContext(c)
	if in.RequesterID == "" {
		in.RequesterID = actor.UserID
	}

	permit, err := h.Workflow.Submit(c.Request().Context(), in, actor)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, newPermitResponse(permit))
}

// UpdatePermitHandler edits a permit nobody signed yet
func (h *PermitHandler) UpdatePermitHandler(c echo.Context) error {
	var in services.UpdateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	permit, err := h.Workflow.Update(c.Request().Context(), c.Param("id"), in, middleware.GetAuditContext(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, newPermitResponse(permit))
}

// SignPermitHandler records a signature
func (h *PermitHandler) SignPermitHandler(c echo.Context) error {
	var in services.SignInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	actor := middleware.GetAuditContext(c)
	if in.SignerID == "" {
		in.SignerID = actor.UserID
	}

	result, err := h.Workflow.Sign(c.Request().Context(), c.Param("id"), in, actor)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"permit":       newPermitResponse(result.Permit),
		"derivation":   result.Derivation,
		"verification": result.Verification,
	})
}

type rejectRequest struct {
	Note string `json:"note" form:"note"`
}

// RejectPermitHandler rejects a permit
func (h *PermitHandler) RejectPermitHandler(c echo.Context) error {
	var req rejectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	permit, err := h.Workflow.Reject(c.Request().Context(), c.Param("id"), req.Note, middleware.GetAuditContext(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, newPermitResponse(permit))
}

type cancelRequest struct {
	Reason string `json:"reason" form:"reason"`
}

// CancelPermitHandler cancels a permit
func (h *PermitHandler) CancelPermitHandler(c echo.Context) error {
	var req cancelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	permit, err := h.Workflow.Cancel(c.Request().Context(), c.Param("id"), req.Reason, middleware.GetAuditContext(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, newPermitResponse(permit))
}

type returnRequest struct {
	ReturnedAt string `json:"returned_at" form:"returned_at"`
}

// RegisterReturnHandler records when the requester came back
func (h *PermitHandler) RegisterReturnHandler(c echo.Context) error {
	var req returnRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	permit, err := h.Workflow.RegisterReturn(c.Request().Context(), c.Param("id"), req.ReturnedAt, middleware.GetAuditContext(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, newPermitResponse(permit))
}

// DeletePermitHandler deletes a permit and its documents
func (h *PermitHandler) DeletePermitHandler(c echo.Context) error {
	if err := h.Workflow.Delete(c.Request().Context(), c.Param("id"), middleware.GetAuditContext(c)); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// historyEntry is an audit row with its field changes expanded
type historyEntry struct {
	models.AuditLog
	Changes []models.AuditChange `json:"changes"`
}

// GetPermitHistoryHandler lists the audit trail of a permit, oldest first
func (h *PermitHandler) GetPermitHistoryHandler(c echo.Context) error {
	permit, err := h.Workflow.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}

	logs, err := services.GetResourceAuditHistory(h.Workflow.DB.WithContext(c.Request().Context()), "Permit", permit.ID)
	if err != nil {
		return respondError(c, err)
	}

	entries := make([]historyEntry, len(logs))
	for i := range logs {
		entries[i] = historyEntry{AuditLog: logs[i], Changes: logs[i].Changes()}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"history": entries})
}

// GetSignatureHandler returns one signature slot. With ?hash= it also
// reports whether the hash printed on the papeleta matches.
func (h *PermitHandler) GetSignatureHandler(c echo.Context) error {
	detail, err := h.Workflow.SignatureDetails(c.Request().Context(), c.Param("id"), models.SignatureRole(c.Param("role")))
	if err != nil {
		return respondError(c, err)
	}

	resp := map[string]interface{}{"signature": detail}
	if hash := c.QueryParam("hash"); hash != "" {
		resp["verified"] = detail.Verification != nil && detail.Verification.Hash == hash
	}
	return c.JSON(http.StatusOK, resp)
}

// GetPermitPDFHandler streams the papeleta, or the signed copy with
// ?signed=true. With ?redirect=true it redirects to a temporary storage link.
func (h *PermitHandler) GetPermitPDFHandler(c echo.Context) error {
	signed, _ := strconv.ParseBool(c.QueryParam("signed"))

	if redirect, _ := strconv.ParseBool(c.QueryParam("redirect")); redirect {
		url, err := h.Artifacts.DocumentURL(c.Request().Context(), c.Param("id"), signed, middleware.GetAuditContext(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.Redirect(http.StatusFound, url)
	}

	doc, err := h.Artifacts.OpenDocument(c.Request().Context(), c.Param("id"), signed, middleware.GetAuditContext(c))
	if err != nil {
		return respondError(c, err)
	}
	defer doc.Body.Close()

	c.Response().Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", doc.FileName))
	return c.Stream(http.StatusOK, doc.ContentType, doc.Body)
}

// UploadSignedPDFHandler stores a signed copy of the papeleta
func (h *PermitHandler) UploadSignedPDFHandler(c echo.Context) error {
	file, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "No file uploaded")
	}

	permit, err := h.Artifacts.UploadSignedPDF(c.Request().Context(), c.Param("id"), file, middleware.GetAuditContext(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, newPermitResponse(permit))
}

// ExportPermitsHandler downloads the filtered permits as an Excel workbook
func (h *PermitHandler) ExportPermitsHandler(c echo.Context) error {
	filter, err := h.filterFromQuery(c)
	if err != nil {
		return err
	}

	buf, err := services.ExportPermitsXLSX(c.Request().Context(), h.Workflow.DB, filter, h.location())
	if err != nil {
		return respondError(c, err)
	}

	filename := fmt.Sprintf("papeletas_%s.xlsx", time.Now().In(h.location()).Format("20060102_150405"))
	c.Response().Header().Set("Content-Disposition", "attachment; filename="+filename)
	return c.Blob(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}
