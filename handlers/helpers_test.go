package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"permit_flow_app_go/middleware"
	"permit_flow_app_go/models"
	"permit_flow_app_go/services"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const testManualSignature = "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII="

type stubRenderer struct{}

func (stubRenderer) Render(ctx context.Context, html string) ([]byte, error) {
	return []byte("%PDF-1.4 " + html[:10]), nil
}

type stubTicker struct {
	count int64
	err   error
}

func (s *stubTicker) Tick(ctx context.Context) (int64, error) {
	return s.count, s.err
}

type testServer struct {
	e        *echo.Echo
	db       *gorm.DB
	workflow *services.PermitWorkflow
	personal models.PermitType
	sweeper  *stubTicker
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:handlers_" + uuid.New().String() + "?mode=memory&cache=shared"
	database, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	sqlDB, err := database.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, database.AutoMigrate(&models.PermitType{}, &models.PermitState{}, &models.Permit{}, &models.AuditLog{}))
	require.NoError(t, services.SeedCatalog(database))
	return database
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	database := setupTestDB(t)

	catalog := services.NewCatalog(database, time.Minute)
	workflow := services.NewPermitWorkflow(database, catalog)
	workflow.AppURL = "http://papeletas.test"
	artifacts := &services.ArtifactService{
		DB:       database,
		Renderer: stubRenderer{},
		Storage:  services.NewLocalStorage(t.TempDir()),
		AppURL:   workflow.AppURL,
		Location: time.UTC,
	}
	workflow.Artifacts = artifacts

	var personal models.PermitType
	require.NoError(t, database.First(&personal, "code = ?", models.PermitTypePersonal).Error)

	limiter := middleware.NewSignRateLimiter()
	t.Cleanup(limiter.Stop)

	s := &testServer{e: echo.New(), db: database, workflow: workflow, personal: personal, sweeper: &stubTicker{}}
	routes := &Routes{
		Permits:     &PermitHandler{Workflow: workflow, Artifacts: artifacts, Location: time.UTC},
		Catalog:     &CatalogHandler{DB: database, Catalog: catalog},
		Sweep:       &SweepHandler{Sweeper: s.sweeper},
		SignLimiter: limiter,
	}
	routes.Register(s.e)
	return s
}

// do sends a request as user u-1 with the hr role and returns the recorder
func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	return s.doAs(t, "hr", method, path, body)
}

func (s *testServer) doAs(t *testing.T, role, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	req.Header.Set(middleware.HeaderUserID, "u-1")
	req.Header.Set(middleware.HeaderUserName, "Ana")
	req.Header.Set(middleware.HeaderUserRole, role)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (s *testServer) submit(t *testing.T, start, end string) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/permits", map[string]string{
		"requester_id": "12345678",
		"type_id":      s.personal.ID,
		"start_at":     start,
		"end_at":       end,
		"reason":       "Cita médica",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode(t, rec)["id"].(string)
}

func (s *testServer) sign(t *testing.T, id string, role models.SignatureRole) *httptest.ResponseRecorder {
	t.Helper()
	return s.do(t, http.MethodPatch, "/api/permits/"+id+"/sign", map[string]string{
		"role":    string(role),
		"method":  string(models.MethodManual),
		"payload": testManualSignature,
	})
}
