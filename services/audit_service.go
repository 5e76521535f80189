package services

import (
	"encoding/json"
	"log"

	"permit_flow_app_go/models"

	"gorm.io/gorm"
)

// AuditContext contains contextual information for audit logging
type AuditContext struct {
	UserID    string
	UserName  string
	UserRole  string
	IPAddress string
	UserAgent string
}

// AuditEntry describes one audited operation on a resource
type AuditEntry struct {
	Action       models.AuditAction
	ResourceType string
	ResourceID   string
	ResourceName string
	Description  string
	OldValues    interface{}
	NewValues    interface{}
}

func (e AuditEntry) record(ctx AuditContext) models.AuditLog {
	var oldJSON, newJSON string
	if e.OldValues != nil {
		if bytes, err := json.Marshal(e.OldValues); err == nil {
			oldJSON = string(bytes)
		}
	}
	if e.NewValues != nil {
		if bytes, err := json.Marshal(e.NewValues); err == nil {
			newJSON = string(bytes)
		}
	}

	return models.AuditLog{
		UserID:       ptrIfNotEmpty(ctx.UserID),
		UserName:     ctx.UserName,
		UserRole:     ctx.UserRole,
		ResourceType: e.ResourceType,
		ResourceID:   e.ResourceID,
		ResourceName: e.ResourceName,
		Action:       e.Action,
		Description:  e.Description,
		OldValues:    oldJSON,
		NewValues:    newJSON,
		IPAddress:    ctx.IPAddress,
		UserAgent:    ctx.UserAgent,
	}
}

// RecordAuditEvent writes an audit entry with tx, so it commits or rolls
// back together with the operation it describes
func RecordAuditEvent(tx *gorm.DB, ctx AuditContext, entry AuditEntry) error {
	auditLog := entry.record(ctx)
	return tx.Create(&auditLog).Error
}

// LogAuditEvent creates a new audit log entry asynchronously
func LogAuditEvent(db *gorm.DB, ctx AuditContext, entry AuditEntry) {
	// Run in goroutine to avoid blocking the request
	go func() {
		if err := RecordAuditEvent(db, ctx, entry); err != nil {
			log.Printf("[AUDIT] Failed to create audit log: %v", err)
		}
	}()
}

// ptrIfNotEmpty returns a pointer to the string if not empty, nil otherwise
func ptrIfNotEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// GetResourceAuditHistory retrieves the audit history for a specific resource
func GetResourceAuditHistory(db *gorm.DB, resourceType, resourceID string) ([]models.AuditLog, error) {
	var logs []models.AuditLog
	err := db.Where("resource_type = ? AND resource_id = ?", resourceType, resourceID).
		Order("created_at ASC").
		Find(&logs).Error
	return logs, err
}
