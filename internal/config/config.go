package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every setting the gateway reads at startup.
type Config struct {
	Environment   string
	Server        ServerConfig
	Logging       LoggingConfig
	Auth          AuthConfig
	Pipeline      PipelineConfig
	Scoring       ScoringConfig
	Store         StoreConfig
	Archive       ArchiveConfig
	Redis         RedisConfig
	Scylla        ScyllaConfig
	Kafka         KafkaConfig
	Clickhouse    ClickhouseConfig
	Elasticsearch ElasticsearchConfig
	Metrics       MetricsConfig
}

type ServerConfig struct {
	Port            int
	TLSPort         int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
	EnableTLS       bool
	AutoCert        bool
	Domain          string
	CertFile        string
	KeyFile         string
	AutoCertDir     string
	Email           string
	AllowedOrigins  []string
}

type LoggingConfig struct {
	Level  string
	Format string
}

// AuthConfig holds the fixed role bindings. Passwords may be given in clear
// text (hashed at startup) or as an argon2id PHC string.
type AuthConfig struct {
	AgentUsername     string
	AgentPassword     string
	InternalUsername  string
	InternalPassword  string
	DashboardUsername string
	DashboardPassword string

	Argon2MemoryCost  int
	Argon2TimeCost    int
	Argon2Parallelism int

	// MaxConcurrentVerifies bounds how many argon2 checks run at once;
	// VerifyWait is how long a request waits for a free slot.
	MaxConcurrentVerifies int
	VerifyWait            time.Duration
}

type PipelineConfig struct {
	Workers        int
	QueueSize      int
	ShutdownGrace  time.Duration
	ArchiveTimeout time.Duration
}

type ScoringConfig struct {
	BaseURL        string
	Timeout        time.Duration
	APIToken       string
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

type StoreConfig struct {
	Backend      string
	WriteTimeout time.Duration
}

type ArchiveConfig struct {
	Sinks []string
}

type RedisConfig struct {
	URL       string
	Password  string
	DB        int
	PoolSize  int
	KeyPrefix string

	TLSCAFile   string
	TLSCertFile string
	TLSKeyFile  string
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
	CAFile   string
	CertFile string
	KeyFile  string
}

type KafkaConfig struct {
	Brokers        []string
	TelemetryTopic string
	// TLS is forced on in production.
	TLS bool
}

type ClickhouseConfig struct {
	URL      string
	Username string
	Password string
	Database string
	Table    string
	Buckets  int
	CAFile   string
}

type ElasticsearchConfig struct {
	Enabled    bool
	URL        string
	Username   string
	Password   string
	AlertIndex string
}

type MetricsConfig struct {
	Enabled bool
	Path    string
}

const (
	StoreBackendMemory = "memory"
	StoreBackendRedis  = "redis"
	StoreBackendScylla = "scylla"

	SinkLog        = "log"
	SinkKafka      = "kafka"
	SinkClickhouse = "clickhouse"
)

var (
	current *Config
	mu      sync.RWMutex
)

// LoadConfig reads the environment (seeded from .env when present), applies
// defaults and validates the result. The loaded config becomes Get().
func LoadConfig() (*Config, error) {
	envFile := getEnv("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := &Config{
		Environment: getEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Port:            getEnvInt("SERVER_PORT", 8080),
			TLSPort:         getEnvInt("SERVER_TLS_PORT", 8443),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			MaxBodyBytes:    int64(getEnvInt("SERVER_MAX_BODY_BYTES", 1<<20)),
			EnableTLS:       getEnvBool("SERVER_ENABLE_TLS", false),
			AutoCert:        getEnvBool("SERVER_AUTOCERT", false),
			Domain:          getEnv("SERVER_DOMAIN", "localhost"),
			CertFile:        getEnv("SERVER_CERT_FILE", ""),
			KeyFile:         getEnv("SERVER_KEY_FILE", ""),
			AutoCertDir:     getEnv("SERVER_AUTOCERT_DIR", "./certs"),
			Email:           getEnv("SERVER_AUTOCERT_EMAIL", ""),
			AllowedOrigins:  getEnvList("SERVER_ALLOWED_ORIGINS", []string{"http://localhost:4200"}),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
		Auth: AuthConfig{
			AgentUsername:     getEnv("AUTH_AGENT_USERNAME", "agent"),
			AgentPassword:     getEnv("AUTH_AGENT_PASSWORD", ""),
			InternalUsername:  getEnv("AUTH_INTERNAL_USERNAME", "internal"),
			InternalPassword:  getEnv("AUTH_INTERNAL_PASSWORD", ""),
			DashboardUsername: getEnv("AUTH_DASHBOARD_USERNAME", "dashboard-user"),
			DashboardPassword: getEnv("AUTH_DASHBOARD_PASSWORD", ""),
			Argon2MemoryCost:  getEnvInt("AUTH_ARGON2_MEMORY_KB", 64*1024),
			Argon2TimeCost:    getEnvInt("AUTH_ARGON2_TIME", 1),
			Argon2Parallelism: getEnvInt("AUTH_ARGON2_PARALLELISM", 2),

			MaxConcurrentVerifies: getEnvInt("AUTH_MAX_CONCURRENT_VERIFIES", 4),
			VerifyWait:            getEnvDuration("AUTH_VERIFY_WAIT", 250*time.Millisecond),
		},
		Pipeline: PipelineConfig{
			Workers:        getEnvInt("PIPELINE_WORKERS", 8),
			QueueSize:      getEnvInt("PIPELINE_QUEUE_SIZE", 1024),
			ShutdownGrace:  getEnvDuration("PIPELINE_SHUTDOWN_GRACE", 15*time.Second),
			ArchiveTimeout: getEnvDuration("PIPELINE_ARCHIVE_TIMEOUT", 2*time.Second),
		},
		Scoring: ScoringConfig{
			BaseURL:        getEnv("SCORING_BASE_URL", "http://localhost:8081/intelligence/api/v1"),
			Timeout:        getEnvDuration("SCORING_TIMEOUT", 5*time.Second),
			APIToken:       getEnv("SCORING_API_TOKEN", ""),
			MaxRetries:     getEnvInt("SCORING_MAX_RETRIES", 0),
			RetryBaseDelay: getEnvDuration("SCORING_RETRY_BASE_DELAY", 200*time.Millisecond),
			RetryMaxDelay:  getEnvDuration("SCORING_RETRY_MAX_DELAY", 5*time.Second),
		},
		Store: StoreConfig{
			Backend:      strings.ToLower(getEnv("ALERT_STORE_BACKEND", StoreBackendMemory)),
			WriteTimeout: getEnvDuration("ALERT_STORE_TIMEOUT", 3*time.Second),
		},
		Archive: ArchiveConfig{
			Sinks: getEnvList("ARCHIVE_SINKS", []string{SinkLog}),
		},
		Redis: RedisConfig{
			URL:       getEnv("REDIS_URL", "redis://localhost:6379/0"),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvInt("REDIS_DB", 0),
			PoolSize:  getEnvInt("REDIS_POOL_SIZE", 20),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "aura:"),

			TLSCAFile:   getEnv("REDIS_TLS_CA_FILE", "/app/certs/ca.crt"),
			TLSCertFile: getEnv("REDIS_TLS_CERT_FILE", ""),
			TLSKeyFile:  getEnv("REDIS_TLS_KEY_FILE", ""),
		},
		Scylla: ScyllaConfig{
			Nodes:    getEnvList("SCYLLA_NODES", []string{"localhost:9042"}),
			Keyspace: getEnv("SCYLLA_KEYSPACE", "aura_sentinel"),
			Username: getEnv("SCYLLA_USERNAME", ""),
			Password: getEnv("SCYLLA_PASSWORD", ""),
			CAFile:   getEnv("SCYLLA_CA_FILE", ""),
			CertFile: getEnv("SCYLLA_CERT_FILE", ""),
			KeyFile:  getEnv("SCYLLA_KEY_FILE", ""),
		},
		Kafka: KafkaConfig{
			Brokers:        getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			TelemetryTopic: getEnv("KAFKA_TELEMETRY_TOPIC", "telemetry.raw"),
			TLS:            getEnvBool("KAFKA_TLS", false),
		},
		Clickhouse: ClickhouseConfig{
			URL:      getEnv("CLICKHOUSE_URL", "localhost:9000"),
			Username: getEnv("CLICKHOUSE_USERNAME", "default"),
			Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			Database: getEnv("CLICKHOUSE_DATABASE", "aura"),
			Table:    getEnv("CLICKHOUSE_TELEMETRY_TABLE", "telemetry_raw"),
			Buckets:  getEnvInt("CLICKHOUSE_ENDPOINT_BUCKETS", 64),
			CAFile:   getEnv("CLICKHOUSE_CA_FILE", ""),
		},
		Elasticsearch: ElasticsearchConfig{
			Enabled:    getEnvBool("ELASTICSEARCH_ENABLED", false),
			URL:        getEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
			Username:   getEnv("ELASTICSEARCH_USERNAME", ""),
			Password:   getEnv("ELASTICSEARCH_PASSWORD", ""),
			AlertIndex: getEnv("ELASTICSEARCH_ALERT_INDEX", "aura-alerts"),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Path:    getEnv("METRICS_PATH", "/metrics"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	mu.Lock()
	current = cfg
	mu.Unlock()
	return cfg, nil
}

// Get returns the most recently loaded config, or nil before LoadConfig.
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// Validate checks bounds that would otherwise surface as runtime faults.
func (c *Config) Validate() error {
	var errs []error

	if c.Pipeline.Workers < 1 {
		errs = append(errs, fmt.Errorf("PIPELINE_WORKERS must be >= 1, got %d", c.Pipeline.Workers))
	}
	if c.Pipeline.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("PIPELINE_QUEUE_SIZE must be >= 0, got %d", c.Pipeline.QueueSize))
	}
	if c.Scoring.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("SCORING_MAX_RETRIES must be >= 0, got %d", c.Scoring.MaxRetries))
	}
	if c.Scoring.Timeout <= 0 {
		errs = append(errs, errors.New("SCORING_TIMEOUT must be positive"))
	}
	if u, err := url.Parse(c.Scoring.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("SCORING_BASE_URL is not an absolute URL: %q", c.Scoring.BaseURL))
	}
	if c.Store.WriteTimeout <= 0 {
		errs = append(errs, errors.New("ALERT_STORE_TIMEOUT must be positive"))
	}

	if c.Auth.MaxConcurrentVerifies < 1 {
		errs = append(errs, fmt.Errorf("AUTH_MAX_CONCURRENT_VERIFIES must be >= 1, got %d", c.Auth.MaxConcurrentVerifies))
	}
	if c.Auth.VerifyWait < 0 {
		errs = append(errs, errors.New("AUTH_VERIFY_WAIT must not be negative"))
	}
	if (c.Redis.TLSCertFile == "") != (c.Redis.TLSKeyFile == "") {
		errs = append(errs, errors.New("REDIS_TLS_CERT_FILE and REDIS_TLS_KEY_FILE must be set together"))
	}
	if (c.Scylla.CertFile == "") != (c.Scylla.KeyFile == "") {
		errs = append(errs, errors.New("SCYLLA_CERT_FILE and SCYLLA_KEY_FILE must be set together"))
	}

	switch c.Store.Backend {
	case StoreBackendMemory, StoreBackendRedis, StoreBackendScylla:
	default:
		errs = append(errs, fmt.Errorf("unknown ALERT_STORE_BACKEND %q", c.Store.Backend))
	}

	for i, sink := range c.Archive.Sinks {
		sink = strings.ToLower(sink)
		c.Archive.Sinks[i] = sink
		switch sink {
		case SinkLog, SinkKafka, SinkClickhouse:
		default:
			errs = append(errs, fmt.Errorf("unknown archive sink %q", sink))
		}
	}

	if c.IsProduction() {
		if c.Auth.AgentPassword == "" || c.Auth.InternalPassword == "" || c.Auth.DashboardPassword == "" {
			errs = append(errs, errors.New("all AUTH_*_PASSWORD values are required in production"))
		}
	}

	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// HasSink reports whether the named archive sink is enabled.
func (c *Config) HasSink(name string) bool {
	for _, s := range c.Archive.Sinks {
		if s == name {
			return true
		}
	}
	return false
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
