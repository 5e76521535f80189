package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"permit_flow_app_go/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// A 1x1 transparent png
const testManualSignature = "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII="

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:services_" + uuid.New().String() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&models.PermitType{}, &models.PermitState{}, &models.Permit{}, &models.AuditLog{}))
	return db
}

func setupSeededDB(t *testing.T) *gorm.DB {
	t.Helper()
	db := setupTestDB(t)
	require.NoError(t, SeedCatalog(db))
	return db
}

func permitTypeByCode(t *testing.T, db *gorm.DB, code string) *models.PermitType {
	t.Helper()
	var pt models.PermitType
	require.NoError(t, db.First(&pt, "code = ?", code).Error)
	return &pt
}

func stateByCode(t *testing.T, db *gorm.DB, code string) *models.PermitState {
	t.Helper()
	var s models.PermitState
	require.NoError(t, db.First(&s, "code = ?", code).Error)
	return &s
}

type fakeValidator struct {
	result *CertificateResult
	err    error
	calls  int
}

func (v *fakeValidator) Validate(ctx context.Context, payload string, signerID string) (*CertificateResult, error) {
	v.calls++
	return v.result, v.err
}

type fakeArtifacts struct {
	mu      sync.Mutex
	calls   []string
	removed []string
	err     error
}

func (a *fakeArtifacts) Regenerate(ctx context.Context, permitID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, permitID)
	return a.err
}

func (a *fakeArtifacts) RemoveDocuments(ctx context.Context, permit *models.Permit) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.removed = append(a.removed, permit.ID)
	return a.err
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []NotificationEvent
	err    error
}

func (n *fakeNotifier) Notify(ctx context.Context, permit *models.Permit, event NotificationEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.err
}

type fakeRenderer struct {
	html string
	err  error
}

func (r *fakeRenderer) Render(ctx context.Context, htmlContent string) ([]byte, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.html = htmlContent
	return []byte("%PDF-1.4 test"), nil
}

var errBoom = errors.New("boom")

type workflowFixture struct {
	db         *gorm.DB
	workflow   *PermitWorkflow
	validator  *fakeValidator
	artifacts  *fakeArtifacts
	notifier   *fakeNotifier
	now        time.Time
	personal   *models.PermitType
	commission *models.PermitType
	actor      AuditContext
}

func newWorkflowFixture(t *testing.T) *workflowFixture {
	t.Helper()
	db := setupSeededDB(t)
	now := time.Date(2024, 1, 1, 7, 0, 0, 0, time.UTC)

	f := &workflowFixture{
		db:         db,
		validator:  &fakeValidator{},
		artifacts:  &fakeArtifacts{},
		notifier:   &fakeNotifier{},
		now:        now,
		personal:   permitTypeByCode(t, db, models.PermitTypePersonal),
		commission: permitTypeByCode(t, db, models.PermitTypeServiceCommission),
		actor:      AuditContext{UserID: "u-1", UserName: "Ana", UserRole: "hr"},
	}
	f.workflow = &PermitWorkflow{
		DB:        db,
		Catalog:   NewCatalog(db, time.Minute),
		Validator: f.validator,
		Artifacts: f.artifacts,
		Notifier:  f.notifier,
		Location:  time.UTC,
		AppURL:    "http://papeletas.test",
		Now:       func() time.Time { return now },
	}
	return f
}

func (f *workflowFixture) submit(t *testing.T, pt *models.PermitType, start, end string) *models.Permit {
	t.Helper()
	p, err := f.workflow.Submit(context.Background(), SubmitInput{
		RequesterID: "12345678",
		TypeID:      pt.ID,
		StartAt:     start,
		EndAt:       end,
		Reason:      "Trámite personal",
	}, f.actor)
	require.NoError(t, err)
	return p
}

func (f *workflowFixture) signManual(t *testing.T, id string, role models.SignatureRole) *SignResult {
	t.Helper()
	res, err := f.workflow.Sign(context.Background(), id, SignInput{
		Role:    role,
		Payload: testManualSignature,
		Method:  models.MethodManual,
	}, f.actor)
	require.NoError(t, err)
	return res
}
