package handlers

import (
	"permit_flow_app_go/middleware"

	"github.com/labstack/echo/v4"
)

// Routes bundles the handlers mounted under /api
type Routes struct {
	Permits *PermitHandler
	Catalog *CatalogHandler
	// Sweep is only mounted when set, in development
	Sweep *SweepHandler
	// SignLimiter throttles the state-changing PATCH routes
	SignLimiter *middleware.RateLimiter
	// AdminRoles may edit the catalog and delete permits, defaults to DefaultAdminRoles
	AdminRoles []string
}

// DefaultAdminRoles are the gateway roles allowed to administer the catalog
var DefaultAdminRoles = []string{"admin", "hr"}

// Register mounts the API on e
func (r *Routes) Register(e *echo.Echo) {
	api := e.Group("/api")
	api.Use(middleware.AuditContext())

	adminRoles := r.AdminRoles
	if len(adminRoles) == 0 {
		adminRoles = DefaultAdminRoles
	}
	admin := middleware.RequireRole(adminRoles...)

	api.GET("/permit-types", r.Catalog.GetPermitTypesHandler)
	api.GET("/permit-types/:id", r.Catalog.GetPermitTypeHandler)
	api.POST("/permit-types", r.Catalog.CreatePermitTypeHandler, admin)
	api.PUT("/permit-types/:id", r.Catalog.UpdatePermitTypeHandler, admin)
	api.DELETE("/permit-types/:id", r.Catalog.DeletePermitTypeHandler, admin)
	api.GET("/states", r.Catalog.GetStatesHandler)
	api.POST("/states", r.Catalog.CreateStateHandler, admin)
	api.PUT("/states/:id", r.Catalog.UpdateStateHandler, admin)
	api.DELETE("/states/:id", r.Catalog.DeleteStateHandler, admin)

	permits := api.Group("/permits")
	{
		permits.GET("", r.Permits.GetPermitsHandler)
		permits.POST("", r.Permits.CreatePermitHandler)
		permits.GET("/export.xlsx", r.Permits.ExportPermitsHandler)
		permits.GET("/:id", r.Permits.GetPermitHandler)
		permits.PUT("/:id", r.Permits.UpdatePermitHandler)
		permits.DELETE("/:id", r.Permits.DeletePermitHandler, admin)
		permits.GET("/:id/history", r.Permits.GetPermitHistoryHandler)
		permits.GET("/:id/signatures/:role", r.Permits.GetSignatureHandler)
		permits.GET("/:id/pdf", r.Permits.GetPermitPDFHandler)
		permits.POST("/:id/signed-pdf", r.Permits.UploadSignedPDFHandler)
	}

	var limit []echo.MiddlewareFunc
	if r.SignLimiter != nil {
		limit = append(limit, r.SignLimiter.Middleware())
	}
	permits.PATCH("/:id/sign", r.Permits.SignPermitHandler, limit...)
	permits.PATCH("/:id/reject", r.Permits.RejectPermitHandler, limit...)
	permits.PATCH("/:id/cancel", r.Permits.CancelPermitHandler, limit...)
	permits.PATCH("/:id/return", r.Permits.RegisterReturnHandler, limit...)

	if r.Sweep != nil {
		api.POST("/sweep", r.Sweep.RunSweepHandler)
	}
}
