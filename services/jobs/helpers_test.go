package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"permit_flow_app_go/models"
	"permit_flow_app_go/services"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupJobsTestDB(t *testing.T, seed bool) *gorm.DB {
	t.Helper()
	dsn := "file:jobs_" + uuid.New().String() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&models.PermitType{}, &models.PermitState{}, &models.Permit{}, &models.AuditLog{}))
	if seed {
		require.NoError(t, services.SeedCatalog(db))
	}
	return db
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func stateID(t *testing.T, db *gorm.DB, code string) string {
	t.Helper()
	var s models.PermitState
	require.NoError(t, db.First(&s, "code = ?", code).Error)
	return s.ID
}

func typeByCode(t *testing.T, db *gorm.DB, code string) models.PermitType {
	t.Helper()
	var pt models.PermitType
	require.NoError(t, db.First(&pt, "code = ?", code).Error)
	return pt
}

func createPermit(t *testing.T, db *gorm.DB, stateCode string, start time.Time, end *time.Time) *models.Permit {
	t.Helper()
	pt := typeByCode(t, db, models.PermitTypeServiceCommission)
	p := &models.Permit{
		RequesterID: "12345678",
		TypeID:      pt.ID,
		StateID:     stateID(t, db, stateCode),
		StartAt:     start.UTC(),
		Reason:      "Diligencia",
		Version:     1,
	}
	if end != nil {
		e := end.UTC()
		p.EndAt = &e
	}
	require.NoError(t, db.Create(p).Error)
	return p
}

func stateOf(t *testing.T, db *gorm.DB, id string) models.Permit {
	t.Helper()
	var p models.Permit
	require.NoError(t, db.Preload("State").First(&p, "id = ?", id).Error)
	return p
}

type recordingNotifier struct {
	mu     sync.Mutex
	events map[string][]services.NotificationEvent
	fail   bool
}

func (n *recordingNotifier) Notify(ctx context.Context, p *models.Permit, event services.NotificationEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return context.DeadlineExceeded
	}
	if n.events == nil {
		n.events = map[string][]services.NotificationEvent{}
	}
	n.events[p.ID] = append(n.events[p.ID], event)
	return nil
}
