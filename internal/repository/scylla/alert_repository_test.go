package scylla

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"aura-gateway/internal/config"
	"aura-gateway/internal/repository"
	"aura-gateway/internal/repository/repotest"

	"go.uber.org/zap"
)

// Runs only when SCYLLA_TEST_NODES points at a disposable cluster.
func TestAlertRepository_Contract(t *testing.T) {
	nodes := os.Getenv("SCYLLA_TEST_NODES")
	if nodes == "" {
		t.Skip("SCYLLA_TEST_NODES not set")
	}

	cfg := &config.Config{
		Environment: "development",
		Scylla: config.ScyllaConfig{
			Nodes:    strings.Split(nodes, ","),
			Keyspace: "aura_sentinel_test",
		},
	}
	client, err := NewScyllaClient(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(client.Close)

	repotest.Run(t, func(t *testing.T) repository.AlertRepository {
		require.NoError(t, client.Query(`TRUNCATE alerts`).WithContext(context.Background()).Exec())
		return NewAlertRepository(client, zap.NewNop())
	})
}
