package handlers

import (
	"net/http"
	"strconv"

	"permit_flow_app_go/middleware"
	"permit_flow_app_go/services"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
)

// CatalogHandler serves permit types and lifecycle states. Changes go
// through Catalog so its cache is dropped.
type CatalogHandler struct {
	DB      *gorm.DB
	Catalog *services.Catalog
}

// GetPermitTypesHandler lists permit types, only active ones unless ?all=true
func (h *CatalogHandler) GetPermitTypesHandler(c echo.Context) error {
	all, _ := strconv.ParseBool(c.QueryParam("all"))
	types, err := services.ListPermitTypes(h.DB.WithContext(c.Request().Context()), !all)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, types)
}

// GetPermitTypeHandler returns one permit type
func (h *CatalogHandler) GetPermitTypeHandler(c echo.Context) error {
	pt, err := services.GetPermitType(h.DB.WithContext(c.Request().Context()), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, pt)
}

// GetStatesHandler lists the lifecycle states
func (h *CatalogHandler) GetStatesHandler(c echo.Context) error {
	states, err := services.ListStates(h.DB.WithContext(c.Request().Context()))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, states)
}

// CreatePermitTypeHandler adds a permit type
func (h *CatalogHandler) CreatePermitTypeHandler(c echo.Context) error {
	var in services.PermitTypeInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	pt, err := h.Catalog.CreatePermitType(c.Request().Context(), in, middleware.GetAuditContext(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, pt)
}

// UpdatePermitTypeHandler replaces the editable fields of a permit type
func (h *CatalogHandler) UpdatePermitTypeHandler(c echo.Context) error {
	var in services.PermitTypeInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	pt, err := h.Catalog.UpdatePermitType(c.Request().Context(), c.Param("id"), in, middleware.GetAuditContext(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, pt)
}

// DeletePermitTypeHandler removes an unused permit type
func (h *CatalogHandler) DeletePermitTypeHandler(c echo.Context) error {
	if err := h.Catalog.DeletePermitType(c.Request().Context(), c.Param("id"), middleware.GetAuditContext(c)); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// CreateStateHandler adds a lifecycle state
func (h *CatalogHandler) CreateStateHandler(c echo.Context) error {
	var in services.StateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	state, err := h.Catalog.CreateState(c.Request().Context(), in, middleware.GetAuditContext(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, state)
}

// UpdateStateHandler renames or describes a lifecycle state
func (h *CatalogHandler) UpdateStateHandler(c echo.Context) error {
	var in services.StateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	state, err := h.Catalog.UpdateState(c.Request().Context(), c.Param("id"), in, middleware.GetAuditContext(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, state)
}

// DeleteStateHandler removes an unused lifecycle state
func (h *CatalogHandler) DeleteStateHandler(c echo.Context) error {
	if err := h.Catalog.DeleteState(c.Request().Context(), c.Param("id"), middleware.GetAuditContext(c)); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
