package factory

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"aura-gateway/internal/auth"
	"aura-gateway/internal/config"
	"aura-gateway/internal/models"
	"aura-gateway/internal/pipeline"
)

func testConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		Auth: config.AuthConfig{
			AgentUsername:     "agent",
			AgentPassword:     "agente123",
			InternalUsername:  "internal",
			InternalPassword:  "internal-secret",
			DashboardUsername: "dashboard-user",
			Argon2MemoryCost:  1024,
			Argon2TimeCost:    1,
			Argon2Parallelism: 1,

			MaxConcurrentVerifies: 2,
			VerifyWait:            time.Second,
		},
		Pipeline: config.PipelineConfig{
			Workers:        2,
			QueueSize:      8,
			ShutdownGrace:  time.Second,
			ArchiveTimeout: time.Second,
		},
		Scoring: config.ScoringConfig{
			BaseURL: "http://127.0.0.1:1/intelligence/api/v1",
			Timeout: 100 * time.Millisecond,
		},
		Store:   config.StoreConfig{Backend: config.StoreBackendMemory, WriteTimeout: time.Second},
		Archive: config.ArchiveConfig{Sinks: []string{config.SinkLog}},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

func TestNew_MemoryBackend(t *testing.T) {
	f, err := New(testConfig(), zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, []string{"log"}, f.sinkNames())
	assert.Nil(t, f.indexer())
	assert.Nil(t, f.TLSManager())
	require.NotNil(t, f.ServiceFactory().AlertService())

	health := f.HealthCheck(context.Background())
	assert.Contains(t, health, "alert_store")
	assert.NoError(t, health["alert_store"])
	assert.True(t, f.IsHealthy(context.Background()))

	rec := httptest.NewRecorder()
	f.MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)

	event := models.NewTelemetryEvent("HR-LAPTOP-14", "sara.smith", models.EventTypeAuthFail, nil)
	require.NoError(t, f.Pipeline().Submit(event))

	require.NoError(t, f.Close())
	assert.NoError(t, f.Close())
	assert.ErrorIs(t, f.Pipeline().Submit(event), pipeline.ErrPipelineClosed)
	f.WaitForClose()
}

func TestNew_GateBindsConfiguredRoles(t *testing.T) {
	f, err := New(testConfig(), zap.NewNop())
	require.NoError(t, err)
	defer f.Close()

	assert.NotNil(t, f.Logger())

	req := httptest.NewRequest("POST", "/telemetry", nil)
	req.SetBasicAuth("agent", "agente123")
	assert.Equal(t, auth.RoleAgent, f.Gate().Resolve(req).Role)

	// no dashboard password configured: that role cannot authenticate at all
	req = httptest.NewRequest("GET", "/api/v1/dashboard/alerts", nil)
	req.SetBasicAuth("dashboard-user", "")
	assert.Equal(t, auth.Anonymous, f.Gate().Resolve(req))
}

func TestNew_MetricsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Enabled = false
	cfg.Archive.Sinks = nil

	f, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	defer f.Close()

	assert.Nil(t, f.MetricsHandler())
	assert.Empty(t, f.sinkNames())
}
