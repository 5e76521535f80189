package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"permit_flow_app_go/models"

	"gorm.io/gorm"
)

// PermitTypeInput is the editable part of a permit type. A nil IsActive
// means active on create and unchanged on update.
type PermitTypeInput struct {
	Name                         string   `json:"name"`
	Code                         string   `json:"code"`
	Description                  string   `json:"description"`
	RequiresInstitutionSignature bool     `json:"requires_institution_signature"`
	MaxDurationHours             *float64 `json:"max_duration_hours"`
	IsActive                     *bool    `json:"is_active"`
}

func (in *PermitTypeInput) validate() error {
	in.Name = sanitizeText(in.Name)
	in.Code = strings.ToUpper(strings.TrimSpace(in.Code))
	in.Description = sanitizeText(in.Description)

	switch {
	case in.Name == "":
		return newWorkflowError(CodeMissingField, "name is required")
	case in.Code == "":
		return newWorkflowError(CodeMissingField, "code is required")
	case in.MaxDurationHours != nil && *in.MaxDurationHours <= 0:
		return newWorkflowError(CodeInvalidCatalogEntry, "max_duration_hours must be positive")
	}
	return nil
}

// StateInput is the editable part of a lifecycle state
type StateInput struct {
	Name        string `json:"name"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

func (in *StateInput) validate() error {
	in.Name = sanitizeText(in.Name)
	in.Code = strings.ToUpper(strings.TrimSpace(in.Code))
	in.Description = sanitizeText(in.Description)

	if in.Name == "" {
		return newWorkflowError(CodeMissingField, "name is required")
	}
	if in.Code == "" {
		return newWorkflowError(CodeMissingField, "code is required")
	}
	return nil
}

// ensureUniqueCode fails when another row of model already uses code
func ensureUniqueCode(tx *gorm.DB, model interface{}, code, exceptID string) error {
	var count int64
	if err := tx.Model(model).Where("code = ? AND id <> ?", code, exceptID).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: %s", ErrCatalogConflict, code)
	}
	return nil
}

// CreatePermitType adds a permit type
func (c *Catalog) CreatePermitType(ctx context.Context, in PermitTypeInput, actor AuditContext) (*models.PermitType, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	pt := &models.PermitType{
		Name:                         in.Name,
		Code:                         in.Code,
		Description:                  in.Description,
		RequiresInstitutionSignature: in.RequiresInstitutionSignature,
		MaxDurationHours:             in.MaxDurationHours,
		IsActive:                     in.IsActive == nil || *in.IsActive,
	}

	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureUniqueCode(tx, &models.PermitType{}, pt.Code, ""); err != nil {
			return err
		}
		if err := tx.Create(pt).Error; err != nil {
			return fmt.Errorf("failed to create permit type: %w", err)
		}
		return RecordAuditEvent(tx, actor, AuditEntry{
			Action:       models.AuditActionCreate,
			ResourceType: "PermitType",
			ResourceID:   pt.ID,
			ResourceName: pt.Code,
			NewValues:    pt,
		})
	})
	if err != nil {
		return nil, err
	}

	c.Invalidate()
	log.Printf("[CATALOG] Created permit type %s", pt.Code)
	return pt, nil
}

// UpdatePermitType replaces the editable fields of a permit type. The
// institution flag cannot change while permits of the type are still
// open, since it decides which signatures they need.
func (c *Catalog) UpdatePermitType(ctx context.Context, id string, in PermitTypeInput, actor AuditContext) (*models.PermitType, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var updated *models.PermitType
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pt, err := GetPermitType(tx, id)
		if err != nil {
			return err
		}
		before := *pt

		if err := ensureUniqueCode(tx, &models.PermitType{}, in.Code, pt.ID); err != nil {
			return err
		}
		if in.RequiresInstitutionSignature != pt.RequiresInstitutionSignature {
			open, err := countOpenPermits(tx, pt.ID)
			if err != nil {
				return err
			}
			if open > 0 {
				return fmt.Errorf("%w: %d open permits of type %s depend on its signature rules", ErrCatalogInUse, open, pt.Code)
			}
		}

		changes := map[string]interface{}{
			"name":                           in.Name,
			"code":                           in.Code,
			"description":                    in.Description,
			"requires_institution_signature": in.RequiresInstitutionSignature,
			"max_duration_hours":             in.MaxDurationHours,
		}
		if in.IsActive != nil {
			changes["is_active"] = *in.IsActive
		}
		if err := tx.Model(pt).Updates(changes).Error; err != nil {
			return fmt.Errorf("failed to update permit type: %w", err)
		}

		if updated, err = GetPermitType(tx, id); err != nil {
			return err
		}
		return RecordAuditEvent(tx, actor, AuditEntry{
			Action:       models.AuditActionUpdate,
			ResourceType: "PermitType",
			ResourceID:   pt.ID,
			ResourceName: updated.Code,
			OldValues:    before,
			NewValues:    updated,
		})
	})
	if err != nil {
		return nil, err
	}

	c.Invalidate()
	log.Printf("[CATALOG] Updated permit type %s", updated.Code)
	return updated, nil
}

// DeletePermitType removes a permit type no permit refers to. Types in
// use can only be deactivated.
func (c *Catalog) DeletePermitType(ctx context.Context, id string, actor AuditContext) error {
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pt, err := GetPermitType(tx, id)
		if err != nil {
			return err
		}

		var count int64
		if err := tx.Unscoped().Model(&models.Permit{}).Where("type_id = ?", pt.ID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: %d permits use type %s, deactivate it instead", ErrCatalogInUse, count, pt.Code)
		}

		if err := tx.Delete(pt).Error; err != nil {
			return fmt.Errorf("failed to delete permit type: %w", err)
		}
		return RecordAuditEvent(tx, actor, AuditEntry{
			Action:       models.AuditActionDelete,
			ResourceType: "PermitType",
			ResourceID:   pt.ID,
			ResourceName: pt.Code,
			OldValues:    pt,
		})
	})
	if err != nil {
		return err
	}

	c.Invalidate()
	return nil
}

// countOpenPermits counts the permits of a type still waiting on signatures
func countOpenPermits(tx *gorm.DB, typeID string) (int64, error) {
	terminal := tx.Model(&models.PermitState{}).Select("id").Where("code IN ?", []string{
		models.StateCodeApproved,
		models.StateCodeRejected,
		models.StateCodeCancelled,
	})

	var count int64
	err := tx.Model(&models.Permit{}).
		Where("type_id = ?", typeID).
		Where("state_id NOT IN (?)", terminal).
		Count(&count).Error
	return count, err
}

// GetState fetches a lifecycle state by id
func GetState(db *gorm.DB, id string) (*models.PermitState, error) {
	var state models.PermitState
	if err := db.First(&state, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPermitStateNotFound
		}
		return nil, err
	}
	return &state, nil
}

// isRequiredState reports whether the workflow looks code up
func isRequiredState(code string) bool {
	for _, required := range models.RequiredStateCodes() {
		if code == required {
			return true
		}
	}
	return false
}

// CreateState adds a lifecycle state
func (c *Catalog) CreateState(ctx context.Context, in StateInput, actor AuditContext) (*models.PermitState, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	state := &models.PermitState{Name: in.Name, Code: in.Code, Description: in.Description}
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureUniqueCode(tx, &models.PermitState{}, state.Code, ""); err != nil {
			return err
		}
		if err := tx.Create(state).Error; err != nil {
			return fmt.Errorf("failed to create lifecycle state: %w", err)
		}
		return RecordAuditEvent(tx, actor, AuditEntry{
			Action:       models.AuditActionCreate,
			ResourceType: "PermitState",
			ResourceID:   state.ID,
			ResourceName: state.Code,
			NewValues:    state,
		})
	})
	if err != nil {
		return nil, err
	}

	c.Invalidate()
	log.Printf("[CATALOG] Created lifecycle state %s", state.Code)
	return state, nil
}

// UpdateState renames or describes a lifecycle state. Codes the workflow
// depends on keep their code.
func (c *Catalog) UpdateState(ctx context.Context, id string, in StateInput, actor AuditContext) (*models.PermitState, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var updated *models.PermitState
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		state, err := GetState(tx, id)
		if err != nil {
			return err
		}
		before := *state

		if in.Code != state.Code {
			if isRequiredState(state.Code) {
				return fmt.Errorf("%w: the workflow relies on state code %s", ErrCatalogInUse, state.Code)
			}
			if err := ensureUniqueCode(tx, &models.PermitState{}, in.Code, state.ID); err != nil {
				return err
			}
		}

		if err := tx.Model(state).Updates(map[string]interface{}{
			"name":        in.Name,
			"code":        in.Code,
			"description": in.Description,
		}).Error; err != nil {
			return fmt.Errorf("failed to update lifecycle state: %w", err)
		}

		if updated, err = GetState(tx, id); err != nil {
			return err
		}
		return RecordAuditEvent(tx, actor, AuditEntry{
			Action:       models.AuditActionUpdate,
			ResourceType: "PermitState",
			ResourceID:   state.ID,
			ResourceName: updated.Code,
			OldValues:    before,
			NewValues:    updated,
		})
	})
	if err != nil {
		return nil, err
	}

	c.Invalidate()
	return updated, nil
}

// DeleteState removes an unused lifecycle state the workflow does not
// depend on
func (c *Catalog) DeleteState(ctx context.Context, id string, actor AuditContext) error {
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		state, err := GetState(tx, id)
		if err != nil {
			return err
		}
		if isRequiredState(state.Code) {
			return fmt.Errorf("%w: the workflow relies on state code %s", ErrCatalogInUse, state.Code)
		}

		var count int64
		if err := tx.Unscoped().Model(&models.Permit{}).Where("state_id = ?", state.ID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: %d permits are in state %s", ErrCatalogInUse, count, state.Code)
		}

		if err := tx.Delete(state).Error; err != nil {
			return fmt.Errorf("failed to delete lifecycle state: %w", err)
		}
		return RecordAuditEvent(tx, actor, AuditEntry{
			Action:       models.AuditActionDelete,
			ResourceType: "PermitState",
			ResourceID:   state.ID,
			ResourceName: state.Code,
			OldValues:    state,
		})
	})
	if err != nil {
		return err
	}

	c.Invalidate()
	return nil
}
