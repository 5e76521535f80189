package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"permit_flow_app_go/models"

	"gorm.io/gorm"
)

// sweepableStates are the states a permit may expire from
var sweepableStates = []string{models.StateCodePending, models.StateCodeApprovedBySupervisor}

// SweepExpired cancels every PENDING or APPROVED_BY_SUPERVISOR permit whose
// end time has passed. Permits without an end time are never swept. A
// second run with no changes in between affects nothing.
func SweepExpired(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	expired, err := ExpireOverdue(ctx, db, now)
	return int64(len(expired)), err
}

// ExpireOverdue is SweepExpired returning the cancelled permits. The
// selection and the update run in one transaction, each permit gets an
// EXPIRE audit entry. If the update touches fewer rows than were
// selected nothing is committed and ErrConcurrentUpdate is returned.
func ExpireOverdue(ctx context.Context, db *gorm.DB, now time.Time) ([]models.Permit, error) {
	codes := append(append([]string{}, sweepableStates...), models.StateCodeCancelled)

	var states []models.PermitState
	if err := db.WithContext(ctx).Where("code IN ?", codes).Find(&states).Error; err != nil {
		return nil, fmt.Errorf("failed to load lifecycle states: %w", err)
	}

	byCode := make(map[string]string, len(states))
	for _, s := range states {
		byCode[s.Code] = s.ID
	}
	var missing []string
	for _, code := range codes {
		if _, ok := byCode[code]; !ok {
			missing = append(missing, code)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %v", ErrCatalogIncomplete, missing)
	}

	fromIDs := make([]string, 0, len(sweepableStates))
	for _, code := range sweepableStates {
		fromIDs = append(fromIDs, byCode[code])
	}
	cutoff := now.UTC()

	var expired []models.Permit
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("state_id IN ? AND end_at IS NOT NULL AND end_at < ?", fromIDs, cutoff).
			Find(&expired).Error; err != nil {
			return err
		}
		if len(expired) == 0 {
			return nil
		}

		ids := make([]string, len(expired))
		for i, p := range expired {
			ids[i] = p.ID
		}
		res := tx.Model(&models.Permit{}).
			Where("id IN ? AND state_id IN ? AND end_at < ?", ids, fromIDs, cutoff).
			Updates(map[string]interface{}{
				"state_id":      byCode[models.StateCodeCancelled],
				"closed_reason": models.ClosedReasonExpired,
				"version":       gorm.Expr("version + 1"),
			})
		if res.Error != nil {
			return res.Error
		}
		// A permit moved out of a sweepable state between the select and
		// the update; give up and let the next cycle pick up the rest
		if res.RowsAffected != int64(len(expired)) {
			return fmt.Errorf("%w: selected %d permits, updated %d", ErrConcurrentUpdate, len(expired), res.RowsAffected)
		}

		for _, p := range expired {
			if err := RecordAuditEvent(tx, AuditContext{UserName: "system"}, AuditEntry{
				Action:       models.AuditActionExpire,
				ResourceType: "Permit",
				ResourceID:   p.ID,
				ResourceName: p.Number(),
				Description:  "Expired without the required signatures",
				NewValues:    map[string]interface{}{"state": models.StateCodeCancelled, "closed_reason": models.ClosedReasonExpired},
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to expire permits: %w", err)
	}

	if len(expired) > 0 {
		log.Printf("[SWEEP] Cancelled %d expired permits", len(expired))
	}
	return expired, nil
}

// ListAwaitingSignature returns open permits with a missing signature that
// were last touched before the cutoff, oldest first
func ListAwaitingSignature(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]models.Permit, error) {
	openStates := db.Model(&models.PermitState{}).Select("id").Where("code IN ?", []string{
		models.StateCodePending,
		models.StateCodeApprovedBySupervisor,
		models.StateCodeApprovedByHR,
	})

	var permits []models.Permit
	err := db.WithContext(ctx).Preload("Type").Preload("State").
		Where("state_id IN (?)", openStates).
		Where("updated_at < ?", cutoff.UTC()).
		Where("(reminder_sent_at IS NULL OR reminder_sent_at < updated_at)").
		Order("updated_at ASC").
		Limit(limit).
		Find(&permits).Error
	return permits, err
}

// MarkReminderSent records that a pending signature reminder went out
func MarkReminderSent(ctx context.Context, db *gorm.DB, permitID string, at time.Time) error {
	return db.WithContext(ctx).Model(&models.Permit{}).Where("id = ?", permitID).
		UpdateColumn("reminder_sent_at", at.UTC()).Error
}
