package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"permit_flow_app_go/models"

	"gorm.io/gorm"
)

// Catalog caches permit types and lifecycle states. Both are reference
// data changed only by administrators, so stale entries are acceptable
// until the TTL runs out or Invalidate is called.
type Catalog struct {
	db  *gorm.DB
	ttl time.Duration
	now func() time.Time

	mu       sync.RWMutex
	states   map[string]models.PermitState // by code
	types    map[string]models.PermitType  // by id
	loadedAt time.Time
}

// NewCatalog creates a catalog cache backed by db
func NewCatalog(db *gorm.DB, ttl time.Duration) *Catalog {
	return &Catalog{db: db, ttl: ttl, now: time.Now}
}

func (c *Catalog) stale() bool {
	return c.states == nil || c.now().Sub(c.loadedAt) > c.ttl
}

// refresh reloads both tables
func (c *Catalog) refresh(ctx context.Context) error {
	var states []models.PermitState
	if err := c.db.WithContext(ctx).Find(&states).Error; err != nil {
		return fmt.Errorf("failed to load lifecycle states: %w", err)
	}
	var types []models.PermitType
	if err := c.db.WithContext(ctx).Find(&types).Error; err != nil {
		return fmt.Errorf("failed to load permit types: %w", err)
	}

	stateMap := make(map[string]models.PermitState, len(states))
	for _, s := range states {
		stateMap[s.Code] = s
	}
	typeMap := make(map[string]models.PermitType, len(types))
	for _, t := range types {
		typeMap[t.ID] = t
	}

	c.mu.Lock()
	c.states = stateMap
	c.types = typeMap
	c.loadedAt = c.now()
	c.mu.Unlock()
	return nil
}

// lookup reads from the cache, reloading once when stale or on a miss
func (c *Catalog) lookup(ctx context.Context, read func() bool) error {
	c.mu.RLock()
	fresh := !c.stale()
	found := fresh && read()
	c.mu.RUnlock()
	if found {
		return nil
	}

	if err := c.refresh(ctx); err != nil {
		return err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if !read() {
		return errNotCached
	}
	return nil
}

var errNotCached = errors.New("not cached")

// StateByCode resolves a lifecycle state by its code
func (c *Catalog) StateByCode(ctx context.Context, code string) (*models.PermitState, error) {
	var state models.PermitState
	err := c.lookup(ctx, func() bool {
		s, ok := c.states[code]
		state = s
		return ok
	})
	if errors.Is(err, errNotCached) {
		return nil, fmt.Errorf("%w: %s", ErrStateNotFound, code)
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// TypeByID resolves a permit type by its id
func (c *Catalog) TypeByID(ctx context.Context, id string) (*models.PermitType, error) {
	var pt models.PermitType
	err := c.lookup(ctx, func() bool {
		t, ok := c.types[id]
		pt = t
		return ok
	})
	if errors.Is(err, errNotCached) {
		return nil, ErrPermitTypeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &pt, nil
}

// States returns every cached lifecycle state keyed by code
func (c *Catalog) States(ctx context.Context) (map[string]models.PermitState, error) {
	if err := c.lookup(ctx, func() bool { return true }); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]models.PermitState, len(c.states))
	for k, v := range c.states {
		out[k] = v
	}
	return out, nil
}

// EnsureState returns the state for code, creating it when the catalog
// lacks it. Only submission relies on this; other transitions treat a
// missing state as a degraded catalog.
func (c *Catalog) EnsureState(ctx context.Context, code string) (*models.PermitState, error) {
	state, err := c.StateByCode(ctx, code)
	if err == nil {
		return state, nil
	}
	if !errors.Is(err, ErrStateNotFound) {
		return nil, err
	}

	created := models.PermitState{Code: code, Name: stateNames[code]}
	if created.Name == "" {
		created.Name = code
	}
	if err := c.db.WithContext(ctx).Where(models.PermitState{Code: code}).FirstOrCreate(&created).Error; err != nil {
		return nil, fmt.Errorf("failed to create lifecycle state %s: %w", code, err)
	}
	log.Printf("[CATALOG] Created missing lifecycle state %s", code)
	c.Invalidate()
	return &created, nil
}

// Invalidate drops the cached entries so the next lookup reloads them
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	c.states = nil
	c.types = nil
	c.mu.Unlock()
}

var stateNames = map[string]string{
	models.StateCodePending:              "Pendiente",
	models.StateCodeApprovedBySupervisor: "Aprobado por Jefe",
	models.StateCodeApprovedByHR:         "Aprobado por RRHH",
	models.StateCodeApproved:             "Aprobado",
	models.StateCodeRejected:             "Rechazado",
	models.StateCodeCancelled:            "Cancelado",
}

// SeedCatalog creates the default lifecycle states and permit types.
// Existing rows are left untouched.
func SeedCatalog(db *gorm.DB) error {
	for _, code := range models.RequiredStateCodes() {
		state := models.PermitState{Code: code, Name: stateNames[code]}
		if err := db.Where(models.PermitState{Code: code}).FirstOrCreate(&state).Error; err != nil {
			return fmt.Errorf("failed to seed state %s: %w", code, err)
		}
	}

	personalLimit := 2.0
	types := []models.PermitType{
		{
			Code:                         models.PermitTypeServiceCommission,
			Name:                         "Comisión de Servicio",
			Description:                  "Salida por encargo institucional; requiere la firma de la institución visitada",
			RequiresInstitutionSignature: true,
			IsActive:                     true,
		},
		{
			Code:             models.PermitTypePersonal,
			Name:             "Permiso Personal",
			Description:      "Salida por motivos personales, máximo dos horas",
			MaxDurationHours: &personalLimit,
			IsActive:         true,
		},
	}
	for _, pt := range types {
		pt := pt
		if err := db.Where(models.PermitType{Code: pt.Code}).FirstOrCreate(&pt).Error; err != nil {
			return fmt.Errorf("failed to seed permit type %s: %w", pt.Code, err)
		}
	}

	log.Println("[SEED] Permit catalog ready")
	return nil
}

// ListPermitTypes returns the permit types, optionally only active ones
func ListPermitTypes(db *gorm.DB, activeOnly bool) ([]models.PermitType, error) {
	var types []models.PermitType
	query := db.Order("name ASC")
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	if err := query.Find(&types).Error; err != nil {
		return nil, err
	}
	return types, nil
}

// GetPermitType fetches a permit type by id
func GetPermitType(db *gorm.DB, id string) (*models.PermitType, error) {
	var pt models.PermitType
	if err := db.First(&pt, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPermitTypeNotFound
		}
		return nil, err
	}
	return &pt, nil
}

// ListStates returns the lifecycle state catalog
func ListStates(db *gorm.DB) ([]models.PermitState, error) {
	var states []models.PermitState
	if err := db.Order("code ASC").Find(&states).Error; err != nil {
		return nil, err
	}
	return states, nil
}
