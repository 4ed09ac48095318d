package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnvFile(t *testing.T) {
	t.Helper()
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
}

func TestLoadConfig_Defaults(t *testing.T) {
	noEnvFile(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Auth.MaxConcurrentVerifies)
	assert.Equal(t, 250*time.Millisecond, cfg.Auth.VerifyWait)
	assert.False(t, cfg.Kafka.TLS)
	assert.Equal(t, "/app/certs/ca.crt", cfg.Redis.TLSCAFile)
	assert.Empty(t, cfg.Scylla.CAFile)
	assert.Empty(t, cfg.Clickhouse.CAFile)
	assert.Same(t, cfg, Get())
}

func TestLoadConfig_TransportTLSSettings(t *testing.T) {
	noEnvFile(t)
	t.Setenv("KAFKA_TLS", "true")
	t.Setenv("REDIS_TLS_CA_FILE", "/etc/aura/redis-ca.pem")
	t.Setenv("REDIS_TLS_CERT_FILE", "/etc/aura/redis.crt")
	t.Setenv("REDIS_TLS_KEY_FILE", "/etc/aura/redis.key")
	t.Setenv("SCYLLA_CA_FILE", "/etc/aura/scylla-ca.pem")
	t.Setenv("CLICKHOUSE_CA_FILE", "/etc/aura/ch-ca.pem")
	t.Setenv("AUTH_MAX_CONCURRENT_VERIFIES", "8")
	t.Setenv("AUTH_VERIFY_WAIT", "1s")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.Kafka.TLS)
	assert.Equal(t, "/etc/aura/redis-ca.pem", cfg.Redis.TLSCAFile)
	assert.Equal(t, "/etc/aura/redis.crt", cfg.Redis.TLSCertFile)
	assert.Equal(t, "/etc/aura/redis.key", cfg.Redis.TLSKeyFile)
	assert.Equal(t, "/etc/aura/scylla-ca.pem", cfg.Scylla.CAFile)
	assert.Equal(t, "/etc/aura/ch-ca.pem", cfg.Clickhouse.CAFile)
	assert.Equal(t, 8, cfg.Auth.MaxConcurrentVerifies)
	assert.Equal(t, time.Second, cfg.Auth.VerifyWait)
}

func TestLoadConfig_RejectsInvalidSettings(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "no verify slots", env: map[string]string{"AUTH_MAX_CONCURRENT_VERIFIES": "0"}},
		{name: "redis cert without key", env: map[string]string{"REDIS_TLS_CERT_FILE": "/etc/aura/redis.crt"}},
		{name: "scylla key without cert", env: map[string]string{"SCYLLA_KEY_FILE": "/etc/aura/scylla.key"}},
		{name: "unknown store", env: map[string]string{"ALERT_STORE_BACKEND": "postgres"}},
		{name: "unknown sink", env: map[string]string{"ARCHIVE_SINKS": "log,s3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			noEnvFile(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}
