package handlers

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Ticker runs one sweep cycle on demand
type Ticker interface {
	Tick(ctx context.Context) (int64, error)
}

// SweepHandler triggers the expiry sweep outside its schedule
type SweepHandler struct {
	Sweeper Ticker
}

// RunSweepHandler runs the sweep now and reports how many permits expired
func (h *SweepHandler) RunSweepHandler(c echo.Context) error {
	count, err := h.Sweeper.Tick(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"expired": count})
}
