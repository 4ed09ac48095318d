package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"aura-gateway/internal/auth"
	"aura-gateway/internal/hashing"
	"aura-gateway/internal/models"
	"aura-gateway/internal/pipeline"
	"aura-gateway/internal/repository"
	"aura-gateway/internal/repository/memory"
	"aura-gateway/internal/service"
)

const (
	validTelemetry = `{"eventId":"evt-1","endpointId":"HR-LAPTOP-14","userId":"sara.smith",
		"eventType":"DECOY_ACCESS","timestamp":1735689600,"contextData":{"path":"/finance/salaries.xlsx"}}`

	validAlert = `{"alertId":"alert-1","endpointId":"HR-LAPTOP-14","userId":"sara.smith",
		"creationTimestamp":"2025-01-01T00:00:00Z","mlScore":0.97,"cognitiveAnalysis":"decoy opened outside hours",
		"auraConfidenceScore":0.93,"status":"CONFIRMED_RISK"}`
)

type fakeSubmitter struct {
	mu     sync.Mutex
	events []models.TelemetryEvent
	err    error
}

func (f *fakeSubmitter) Submit(event models.TelemetryEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

type fakeChecker map[string]error

func (f fakeChecker) HealthCheck(context.Context) map[string]error { return f }

type testServer struct {
	router    http.Handler
	submitter *fakeSubmitter
	repo      *memory.AlertRepository
}

func newTestServer(t *testing.T, checker HealthChecker) *testServer {
	t.Helper()
	logger := zap.NewNop()

	hasher := hashing.NewHasher(hashing.Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1})
	idp, err := auth.NewStaticIdentityProvider(hasher, []auth.Binding{
		{Username: "agent", Secret: "agente123", Role: auth.RoleAgent},
		{Username: "scoring", Secret: "scoring-secret", Role: auth.RoleInternal},
		{Username: "analyst", Secret: "analyst-secret", Role: auth.RoleUser},
	})
	require.NoError(t, err)
	gate := auth.NewGate(idp, "aura-gateway", logger)

	submitter := &fakeSubmitter{}
	repo := memory.NewAlertRepository()
	alerts := service.NewAlertService(repo, nil, 0, logger)

	router := NewRouter(Handlers{
		Telemetry: NewTelemetryHandler(submitter, 1<<10, logger),
		Alerts:    NewAlertHandler(alerts, 1<<20, logger),
		Dashboard: NewDashboardHandler(alerts, logger),
		Health:    NewHealthHandler("aura-gateway", checker, nil, logger),
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("# metrics"))
		}),
	}, gate, RouterOptions{MetricsPath: "/metrics"}, logger)

	return &testServer{router: router, submitter: submitter, repo: repo}
}

func (s *testServer) do(method, path, user, pass, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.SetBasicAuth(user, pass)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func TestRouter_RoleEnforcement(t *testing.T) {
	srv := newTestServer(t, nil)

	tests := []struct {
		name   string
		path   string
		user   string
		pass   string
		body   string
		status int
	}{
		{"agent submits telemetry", "/telemetry", "agent", "agente123", validTelemetry, http.StatusAccepted},
		{"agent on versioned path", "/api/v1/agent/telemetry", "agent", "agente123", validTelemetry, http.StatusAccepted},
		{"anonymous telemetry", "/telemetry", "", "", validTelemetry, http.StatusUnauthorized},
		{"bad password", "/telemetry", "agent", "wrong", validTelemetry, http.StatusUnauthorized},
		{"internal cannot submit telemetry", "/telemetry", "scoring", "scoring-secret", validTelemetry, http.StatusForbidden},
		{"user cannot submit telemetry", "/telemetry", "analyst", "analyst-secret", validTelemetry, http.StatusForbidden},
		{"agent cannot ingest alerts", "/alert-ingestion", "agent", "agente123", validAlert, http.StatusForbidden},
		{"anonymous alert", "/alert-ingestion", "", "", validAlert, http.StatusUnauthorized},
		{"user cannot ingest alerts", "/api/v1/internal/alert-ingestion", "analyst", "analyst-secret", validAlert, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := srv.do(http.MethodPost, tt.path, tt.user, tt.pass, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.status == http.StatusUnauthorized {
				assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")
			}
		})
	}

	// only the two agent requests reached the pipeline, and no alert was stored
	assert.Equal(t, 2, srv.submitter.count())
	alerts, err := srv.repo.List(context.Background(), listAll())
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestTelemetry_AcceptedWithEmptyBody(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := srv.do(http.MethodPost, "/telemetry", "agent", "agente123", validTelemetry)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, rec.Body.String())

	require.Equal(t, 1, srv.submitter.count())
	event := srv.submitter.events[0]
	assert.Equal(t, "evt-1", event.EventID)
	path, ok := event.ContextData.String("path")
	assert.True(t, ok)
	assert.Equal(t, "/finance/salaries.xlsx", path)
}

func TestTelemetry_Rejections(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		submitErr error
		status    int
	}{
		{"malformed json", `{"eventId":`, nil, http.StatusBadRequest},
		{"missing endpoint", `{"eventId":"e","userId":"u","eventType":"AUTH_FAIL","timestamp":1}`, nil, http.StatusBadRequest},
		{"empty body", ``, nil, http.StatusBadRequest},
		{"too large", `{"eventId":"` + strings.Repeat("x", 2048) + `"}`, nil, http.StatusRequestEntityTooLarge},
		{"queue saturated", validTelemetry, pipeline.ErrQueueSaturated, http.StatusServiceUnavailable},
		{"pipeline closed", validTelemetry, pipeline.ErrPipelineClosed, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, nil)
			srv.submitter.err = tt.submitErr

			rec := srv.do(http.MethodPost, "/telemetry", "agent", "agente123", tt.body)
			assert.Equal(t, tt.status, rec.Code)

			resp := decodeResponse(t, rec)
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Error)
			if tt.status == http.StatusServiceUnavailable {
				assert.Equal(t, "1", rec.Header().Get("Retry-After"))
			}
		})
	}
}

func TestAlertIngestion(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := srv.do(http.MethodPost, "/alert-ingestion", "scoring", "scoring-secret", validAlert)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Empty(t, rec.Body.String())

	stored, err := srv.repo.Get(context.Background(), "alert-1")
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusPending, stored.Status)
	assert.Equal(t, 0.93, stored.AuraConfidenceScore)

	rec = srv.do(http.MethodPost, "/api/v1/internal/alert-ingestion", "scoring", "scoring-secret", validAlert)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = srv.do(http.MethodPost, "/alert-ingestion", "scoring", "scoring-secret",
		strings.Replace(validAlert, `"mlScore":0.97`, `"mlScore":1.7`, 1))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDashboard_ListGetAndTransition(t *testing.T) {
	srv := newTestServer(t, nil)
	for _, id := range []string{"alert-1", "alert-2"} {
		body := strings.Replace(validAlert, `"alert-1"`, `"`+id+`"`, 1)
		rec := srv.do(http.MethodPost, "/alert-ingestion", "scoring", "scoring-secret", body)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := srv.do(http.MethodGet, "/api/v1/dashboard/alerts?status=pending", "analyst", "analyst-secret", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Meta)
	assert.Equal(t, 2, resp.Meta.Total)

	rec = srv.do(http.MethodGet, "/api/v1/dashboard/alerts/alert-2", "analyst", "analyst-secret", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(http.MethodGet, "/api/v1/dashboard/alerts/missing", "analyst", "analyst-secret", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = srv.do(http.MethodPatch, "/api/v1/dashboard/alerts/alert-1/status", "analyst", "analyst-secret", `{"status":"MITIGATED"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = srv.do(http.MethodPatch, "/api/v1/dashboard/alerts/alert-1/status", "analyst", "analyst-secret", `{"status":"CONFIRMED_RISK"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = srv.do(http.MethodPatch, "/api/v1/dashboard/alerts/alert-2/status", "analyst", "analyst-secret", `{"status":"PENDING"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = srv.do(http.MethodPatch, "/api/v1/dashboard/alerts/alert-2/status", "analyst", "analyst-secret", `{"status":"CLOSED"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(http.MethodPatch, "/api/v1/dashboard/alerts/missing/status", "analyst", "analyst-secret", `{"status":"MITIGATED"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = srv.do(http.MethodGet, "/api/v1/dashboard/alerts?status=PENDING", "analyst", "analyst-secret", "")
	resp = decodeResponse(t, rec)
	assert.Equal(t, 1, resp.Meta.Total)
}

func TestDashboard_RejectsBadQueryAndOtherRoles(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := srv.do(http.MethodGet, "/api/v1/dashboard/alerts?limit=-3", "analyst", "analyst-secret", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(http.MethodGet, "/api/v1/dashboard/alerts?status=unknown", "analyst", "analyst-secret", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(http.MethodGet, "/api/v1/dashboard/alerts", "agent", "agente123", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = srv.do(http.MethodGet, "/api/v1/dashboard/alerts", "scoring", "scoring-secret", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHealthAndReady(t *testing.T) {
	srv := newTestServer(t, fakeChecker{"alert_store": nil})

	rec := srv.do(http.MethodGet, "/health", "", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")

	rec = srv.do(http.MethodGet, "/ready", "", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	srv = newTestServer(t, fakeChecker{"alert_store": nil, "kafka": errors.New("no brokers")})
	rec = srv.do(http.MethodGet, "/ready", "", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "no brokers")
}

func TestRouter_FallbackHandlers(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := srv.do(http.MethodGet, "/nope", "", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = srv.do(http.MethodGet, "/telemetry", "agent", "agente123", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = srv.do(http.MethodGet, "/metrics", "", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, getStatusCode(auth.ErrUnauthenticated))
	assert.Equal(t, http.StatusForbidden, getStatusCode(auth.ErrForbidden))
	assert.Equal(t, http.StatusServiceUnavailable, getStatusCode(models.StoreError("get", errors.New("eof"))))
	assert.Equal(t, http.StatusRequestEntityTooLarge, getStatusCode(&http.MaxBytesError{Limit: 1}))
	assert.Equal(t, http.StatusInternalServerError, getStatusCode(errors.New("boom")))
}

func listAll() repository.ListFilter { return repository.ListFilter{} }
