package middleware

import (
	"strings"

	"permit_flow_app_go/services"

	"github.com/labstack/echo/v4"
)

const ContextKeyAuditContext = "audit_context"

// Identity headers set by the upstream gateway that authenticates users
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserName = "X-User-Name"
	HeaderUserRole = "X-User-Role"
)

// AuditContext is middleware that extracts the acting user for audit logging
func AuditContext() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header
			ctx := services.AuditContext{
				UserID:    strings.TrimSpace(header.Get(HeaderUserID)),
				UserName:  strings.TrimSpace(header.Get(HeaderUserName)),
				UserRole:  strings.ToLower(strings.TrimSpace(header.Get(HeaderUserRole))),
				IPAddress: c.RealIP(),
				UserAgent: c.Request().UserAgent(),
			}

			c.Set(ContextKeyAuditContext, ctx)
			return next(c)
		}
	}
}

// GetAuditContext retrieves the audit context from the request
func GetAuditContext(c echo.Context) services.AuditContext {
	if ctx, ok := c.Get(ContextKeyAuditContext).(services.AuditContext); ok {
		return ctx
	}
	return services.AuditContext{}
}
