package factory

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"aura-gateway/internal/archive"
	"aura-gateway/internal/auth"
	"aura-gateway/internal/bucketing"
	"aura-gateway/internal/client"
	"aura-gateway/internal/config"
	"aura-gateway/internal/hashing"
	"aura-gateway/internal/metrics"
	"aura-gateway/internal/pipeline"
	"aura-gateway/internal/repository"
	"aura-gateway/internal/repository/memory"
	redisrepo "aura-gateway/internal/repository/redis"
	"aura-gateway/internal/repository/scylla"
	"aura-gateway/internal/scoring"
	"aura-gateway/internal/search"
	"aura-gateway/internal/service"
	"aura-gateway/internal/tls"
	"aura-gateway/internal/util"
)

const authRealm = "aura-gateway"

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	logger     *zap.Logger
	tlsManager *tls.TLSManager

	// Clients, nil unless the configured backend or sinks need them
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	hasher *hashing.Hasher
	gate   *auth.Gate

	alertRepository repository.AlertRepository
	alertIndexer    *search.AlertIndexer
	serviceFactory  *service.ServiceFactory

	archiveSinks  []archive.Sink
	scoringClient *scoring.Client
	pipeline      *pipeline.Pipeline

	metricsHandler http.Handler

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory loads the configuration and builds every component the gateway
// runs with. The ingestion pipeline is started before it returns.
func NewFactory() (*Factory, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)
	return New(cfg, logger)
}

// New builds the factory from an already loaded configuration.
func New(cfg *config.Config, logger *zap.Logger) (*Factory, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Factory{
		config: cfg,
		logger: logger,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		f.tlsManager = tls.NewTLSManager(cfg.Server, cfg.IsProduction(), logger)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"metrics", f.initializeMetrics},
		{"auth", f.initializeAuth},
		{"alert store", f.initializeAlertStore},
		{"search", f.initializeSearch},
		{"archive", f.initializeArchive},
		{"pipeline", f.initializePipeline},
	}
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			f.closeClients()
			return nil, fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
	}

	f.serviceFactory = service.NewServiceFactory(f.alertRepository, f.indexer(), cfg.Store.WriteTimeout, logger)
	f.pipeline.Start()

	logger.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.String("alert_store", cfg.Store.Backend),
		util.Strings("archive_sinks", f.sinkNames()),
		util.Bool("search_enabled", f.alertIndexer != nil),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("metrics_enabled", cfg.Metrics.Enabled),
	)
	return f, nil
}

// degrade decides what an optional component failure means: fatal in
// production, a warning elsewhere.
func (f *Factory) degrade(component string, err error) error {
	if f.config.IsProduction() {
		return fmt.Errorf("%s: %w", component, err)
	}
	f.logger.Warn("Optional component unavailable, continuing without it",
		util.String("component", component),
		util.ErrorField(err),
	)
	return nil
}

func (f *Factory) initializeMetrics(context.Context) error {
	if !f.config.Metrics.Enabled {
		return nil
	}
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return err
	}
	f.metricsHandler = promhttp.Handler()
	return nil
}

func (f *Factory) initializeAuth(context.Context) error {
	a := f.config.Auth
	f.hasher = hashing.NewHasher(hashing.Argon2Params{
		Memory:      uint32(a.Argon2MemoryCost),
		Iterations:  uint32(a.Argon2TimeCost),
		Parallelism: uint8(a.Argon2Parallelism),
	})

	idp, err := auth.NewStaticIdentityProvider(f.hasher, []auth.Binding{
		{Username: a.AgentUsername, Secret: a.AgentPassword, Role: auth.RoleAgent},
		{Username: a.InternalUsername, Secret: a.InternalPassword, Role: auth.RoleInternal},
		{Username: a.DashboardUsername, Secret: a.DashboardPassword, Role: auth.RoleUser},
	}, auth.WithVerifyLimit(a.MaxConcurrentVerifies, a.VerifyWait))
	if err != nil {
		return err
	}
	if idp.Len() < 3 {
		f.logger.Warn("Some roles have no credentials configured; their routes will reject every caller",
			util.Int("bindings", idp.Len()),
		)
	}

	f.gate = auth.NewGate(idp, authRealm, f.logger)
	f.gate.OnReject = func(r *http.Request, required auth.Role, _ auth.Principal) {
		if required == auth.RoleAgent {
			metrics.TelemetryRejected(metrics.ReasonUnauthorized)
		}
	}
	return nil
}

func (f *Factory) initializeAlertStore(ctx context.Context) error {
	switch f.config.Store.Backend {
	case config.StoreBackendRedis:
		rc, err := client.NewRedisClient(f.config, f.logger)
		if err != nil {
			return err
		}
		f.redisClient = rc
		f.alertRepository = redisrepo.NewAlertRepository(rc.Client, f.config.Redis.KeyPrefix, f.logger)

	case config.StoreBackendScylla:
		sc, err := scylla.NewScyllaClient(f.config, f.logger)
		if err != nil {
			return err
		}
		f.scyllaClient = sc
		if err := sc.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("scylla schema: %w", err)
		}
		f.alertRepository = scylla.NewAlertRepository(sc, f.logger)

	default:
		if f.config.IsProduction() {
			f.logger.Warn("In-memory alert store in production; alerts are lost on restart")
		}
		f.alertRepository = memory.NewAlertRepository()
	}

	if err := f.alertRepository.HealthCheck(ctx); err != nil {
		return fmt.Errorf("alert store health check: %w", err)
	}
	f.logger.Info("Alert store initialized and healthy", util.String("backend", f.config.Store.Backend))
	return nil
}

func (f *Factory) initializeSearch(ctx context.Context) error {
	if !f.config.Elasticsearch.Enabled {
		return nil
	}
	es, err := client.NewElasticsearchClient(f.config, f.logger)
	if err != nil {
		return f.degrade("elasticsearch", err)
	}

	indexer := search.NewAlertIndexer(es, f.config.Elasticsearch.AlertIndex, f.logger)
	if err := indexer.EnsureIndex(ctx); err != nil {
		es.Close()
		return f.degrade("elasticsearch", err)
	}
	f.esClient = es
	f.alertIndexer = indexer
	f.logger.Info("Elasticsearch alert index ready", util.String("index", f.config.Elasticsearch.AlertIndex))
	return nil
}

func (f *Factory) initializeArchive(ctx context.Context) error {
	for _, name := range f.config.Archive.Sinks {
		switch name {
		case config.SinkLog:
			f.archiveSinks = append(f.archiveSinks, archive.NewLogSink(f.logger))

		case config.SinkKafka:
			producer, err := client.NewKafkaProducer(f.config, f.logger)
			if err != nil {
				if err := f.degrade("kafka", err); err != nil {
					return err
				}
				continue
			}
			f.kafkaProducer = producer
			f.archiveSinks = append(f.archiveSinks, archive.NewKafkaSink(producer))

		case config.SinkClickhouse:
			sink, err := f.clickhouseSink(ctx)
			if err != nil {
				if err := f.degrade("clickhouse", err); err != nil {
					return err
				}
				continue
			}
			f.archiveSinks = append(f.archiveSinks, sink)
		}
	}
	return nil
}

func (f *Factory) clickhouseSink(ctx context.Context) (*archive.ClickHouseSink, error) {
	ch, err := client.NewClickHouseClient(f.config, f.logger)
	if err != nil {
		return nil, err
	}
	buckets := bucketing.NewBucketingManager(f.config.Clickhouse.Buckets)

	sink, err := archive.NewClickHouseSink(ch, f.config.Clickhouse.Table, buckets)
	if err == nil {
		err = sink.EnsureTable(ctx)
	}
	if err != nil {
		ch.Close()
		return nil, err
	}
	f.clickhouseClient = ch
	return sink, nil
}

func (f *Factory) initializePipeline(context.Context) error {
	sc, err := scoring.NewClientFromConfig(f.config, f.logger)
	if err != nil {
		return err
	}
	f.scoringClient = sc
	f.logger.Info("Scoring relay configured", util.String("endpoint", sc.Endpoint()))

	// a nil *FanOut must not reach the pipeline as a non-nil interface
	var archiver pipeline.Archiver
	if len(f.archiveSinks) > 0 {
		archiver = archive.NewFanOut(f.archiveSinks...)
	}
	f.pipeline = pipeline.New(pipeline.ConfigFrom(f.config), archiver, sc, f.logger)
	return nil
}

func (f *Factory) indexer() service.AlertIndexer {
	if f.alertIndexer == nil {
		return nil
	}
	return f.alertIndexer
}

func (f *Factory) sinkNames() []string {
	names := make([]string, 0, len(f.archiveSinks))
	for _, s := range f.archiveSinks {
		names = append(names, s.Name())
	}
	return names
}

// ==============================
// Health Checks
// ==============================

// HealthCheck probes the alert store and every initialized client
// concurrently. A nil entry means healthy.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	checks := map[string]func(context.Context) error{}

	if f.alertRepository != nil {
		checks["alert_store"] = f.alertRepository.HealthCheck
	} else {
		checks["alert_store"] = func(context.Context) error { return errors.New("alert store not initialized") }
	}
	if f.kafkaProducer != nil {
		checks["kafka"] = f.kafkaProducer.HealthCheck
	}
	if f.clickhouseClient != nil {
		checks["clickhouse"] = f.clickhouseClient.HealthCheck
	}
	if f.esClient != nil {
		checks["elasticsearch"] = f.esClient.HealthCheck
	}

	var (
		mu      sync.Mutex
		results = make(map[string]error, len(checks))
	)
	g, gctx := errgroup.WithContext(ctx)
	for name, check := range checks {
		g.Go(func() error {
			err := check(gctx)
			mu.Lock()
			results[name] = err
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (f *Factory) IsHealthy(ctx context.Context) bool {
	for _, err := range f.HealthCheck(ctx) {
		if err != nil {
			return false
		}
	}
	return true
}

// ==============================
// Shutdown
// ==============================

// Close drains the pipeline within its grace period, waits for background
// indexing and then releases every client. Only the first call does work.
func (f *Factory) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.closed)
		f.logger.Info("Shutting down factory...")

		if f.pipeline != nil {
			ctx, cancel := context.WithTimeout(context.Background(), f.config.Pipeline.ShutdownGrace)
			if perr := f.pipeline.Shutdown(ctx); perr != nil {
				f.logger.Warn("Pipeline did not drain within grace period", util.ErrorField(perr))
				err = perr
			}
			cancel()
		}

		if f.serviceFactory != nil {
			f.serviceFactory.Cleanup()
			f.logger.Info("Service factory cleaned up")
		}

		f.closeClients()
		f.logger.Info("Factory shutdown completed")
		util.Sync()
	})
	return err
}

func (f *Factory) closeClients() {
	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.Close(); err != nil {
			f.logger.Error("Failed to close ClickHouse client", util.ErrorField(err))
		}
	}
	if f.esClient != nil {
		f.esClient.Close()
	}
	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.Close(); err != nil {
			f.logger.Error("Failed to close Kafka producer", util.ErrorField(err))
		}
	}
	if f.scyllaClient != nil {
		f.scyllaClient.Close()
	}
	if f.redisClient != nil {
		if err := f.redisClient.Close(); err != nil {
			f.logger.Error("Failed to close Redis client", util.ErrorField(err))
		}
	}
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) Logger() *zap.Logger {
	return f.logger
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}

func (f *Factory) Gate() *auth.Gate {
	return f.gate
}

func (f *Factory) Pipeline() *pipeline.Pipeline {
	return f.pipeline
}

func (f *Factory) ServiceFactory() *service.ServiceFactory {
	return f.serviceFactory
}

// MetricsHandler returns the Prometheus handler, or nil when metrics are off.
func (f *Factory) MetricsHandler() http.Handler {
	return f.metricsHandler
}
