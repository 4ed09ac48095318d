package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"aura-gateway/internal/config"
)

const createAlertsTable = `
CREATE TABLE IF NOT EXISTS alerts (
    alert_id              text PRIMARY KEY,
    endpoint_id           text,
    user_id               text,
    creation_ts           timestamp,
    ml_score              double,
    cognitive_analysis    text,
    aura_confidence_score double,
    status                text,
    received_at           timestamp,
    updated_at            timestamp
)`

type ScyllaClient struct {
	Session *gocql.Session
	config  *config.ScyllaConfig
	logger  *zap.Logger
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.SerialConsistency = gocql.LocalSerial
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.PageSize = 500
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        100 * time.Millisecond,
		Max:        2 * time.Second,
		NumRetries: 3,
	}

	if caPath := scyllaConfig.CAFile; caPath != "" {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 caPath,
			CertPath:               scyllaConfig.CertFile,
			KeyPath:                scyllaConfig.KeyFile,
			EnableHostVerification: !cfg.IsDevelopment(),
		}
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
		logger:  logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := client.EnsureSchema(ctx); err != nil {
		session.Close()
		return nil, err
	}

	logger.Info("ScyllaDB client initialized",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

// EnsureSchema creates the alerts table in the session keyspace.
func (s *ScyllaClient) EnsureSchema(ctx context.Context) error {
	if err := s.Session.Query(createAlertsTable).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("failed to create alerts table: %w", err)
	}
	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		s.logger.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) Query(stmt string, values ...interface{}) *gocql.Query {
	return s.Session.Query(stmt, values...)
}

func (s *ScyllaClient) HealthCheck(ctx context.Context) error {
	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}

	s.logger.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}
