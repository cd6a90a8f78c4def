package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

func init() {
	// Load .env file if it exists (silent fail if not)
	_ = godotenv.Load()
}

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Server      ServerConfig
	App         AppConfig
	Store       StoreConfig
	Credentials CredentialsConfig
	Database    DatabaseConfig
	Cache       CacheConfig
	Queue       QueueConfig
	Sync        SyncConfig
	Platform    PlatformConfig
	Changelog   ChangelogConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"SERVER_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Name        string `envconfig:"APP_NAME" default:"stocksync"`
	Environment string `envconfig:"APP_ENV" default:"development"`
	Debug       bool   `envconfig:"APP_DEBUG" default:"false"`
	Version     string `envconfig:"APP_VERSION" default:"1.0.0"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"text"` // text or json
	AdminKey    string `envconfig:"ADMIN_KEY" default:""`      // X-Admin-Key for /admin routes
}

// StoreConfig holds central store settings.
type StoreConfig struct {
	Type string `envconfig:"STORE_DB_TYPE" default:"sqlite"` // sqlite or postgres
	Path string `envconfig:"STORE_DB_PATH" default:"./data/stocksync.db"`
	// PostgreSQL settings
	Host     string `envconfig:"STORE_DB_HOST" default:"localhost"`
	Port     int    `envconfig:"STORE_DB_PORT" default:"5432"`
	Name     string `envconfig:"STORE_DB_NAME" default:"stocksync"`
	User     string `envconfig:"STORE_DB_USER" default:"postgres"`
	Password string `envconfig:"STORE_DB_PASS" default:""`
	SSLMode  string `envconfig:"STORE_DB_SSLMODE" default:"disable"`
}

// CredentialsConfig selects where replica access tokens come from.
type CredentialsConfig struct {
	Source string `envconfig:"CREDENTIALS_SOURCE" default:"replica"` // replica or mysql
	// Tokens is a static domain=token list used by the replica source.
	Tokens map[string]string `envconfig:"CREDENTIALS_TOKENS" default:""`
}

// DatabaseConfig holds MySQL connection settings (for the sessions table).
type DatabaseConfig struct {
	Host     string `envconfig:"DB_HOST" default:"localhost"`
	Port     int    `envconfig:"DB_PORT" default:"3306"`
	Name     string `envconfig:"DB_NAME" default:"shopify_app"`
	User     string `envconfig:"DB_USER" default:"root"`
	Password string `envconfig:"DB_PASS" default:""`
}

// CacheConfig holds cache settings.
type CacheConfig struct {
	Type string        `envconfig:"CACHE_TYPE" default:"memory"`
	TTL  time.Duration `envconfig:"CACHE_TTL" default:"5m"`

	RedisHost     string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort     int    `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
}

// QueueConfig holds job queue settings.
type QueueConfig struct {
	Type              string        `envconfig:"QUEUE_TYPE" default:"memory"` // redis, memory or inline
	Name              string        `envconfig:"QUEUE_NAME" default:"stocksync:events"`
	Workers           int           `envconfig:"QUEUE_WORKERS" default:"4"`
	MaxAttempts       int           `envconfig:"QUEUE_MAX_ATTEMPTS" default:"5"`
	BackoffBase       time.Duration `envconfig:"QUEUE_BACKOFF_BASE" default:"2s"`
	BackoffMax        time.Duration `envconfig:"QUEUE_BACKOFF_MAX" default:"5m"`
	PollInterval      time.Duration `envconfig:"QUEUE_POLL_INTERVAL" default:"500ms"`
	// JobTimeout bounds one attempt; it must stay below VisibilityTimeout so a
	// running job is never reclaimed by another worker.
	JobTimeout        time.Duration `envconfig:"QUEUE_JOB_TIMEOUT" default:"90s"`
	VisibilityTimeout time.Duration `envconfig:"QUEUE_VISIBILITY_TIMEOUT" default:"2m"`
}

// SyncConfig holds sync engine tunables.
type SyncConfig struct {
	EchoWindow       time.Duration `envconfig:"SYNC_ECHO_WINDOW" default:"10s"`
	ConflictWindow   time.Duration `envconfig:"SYNC_CONFLICT_WINDOW" default:"5s"`
	PushTimeout      time.Duration `envconfig:"SYNC_PUSH_TIMEOUT" default:"15s"`
	PushConcurrency  int           `envconfig:"SYNC_PUSH_CONCURRENCY" default:"4"`
	BatchSize        int           `envconfig:"SYNC_BATCH_SIZE" default:"250"`
	BatchPace        time.Duration `envconfig:"SYNC_BATCH_PACE" default:"500ms"`
	AutoResolve      bool          `envconfig:"SYNC_AUTO_RESOLVE" default:"true"`
	LedgerRetention  time.Duration `envconfig:"SYNC_LEDGER_RETENTION" default:"168h"`
	CleanupInterval  time.Duration `envconfig:"SYNC_CLEANUP_INTERVAL" default:"1h"`
	LedgerMaxRetries int           `envconfig:"SYNC_LEDGER_MAX_RETRIES" default:"3"`
}

// PlatformConfig holds the commerce platform client settings.
type PlatformConfig struct {
	Type          string        `envconfig:"PLATFORM_TYPE" default:"graphql"` // graphql or memory
	APIVersion    string        `envconfig:"PLATFORM_API_VERSION" default:"2024-10"`
	WebhookSecret string        `envconfig:"PLATFORM_WEBHOOK_SECRET" default:""`
	Timeout       time.Duration `envconfig:"PLATFORM_TIMEOUT" default:"10s"`

	// Per shop; the platform budgets each shop separately.
	RequestsPerSecond float64 `envconfig:"PLATFORM_REQUESTS_PER_SECOND" default:"2"`
	RequestBurst      int     `envconfig:"PLATFORM_REQUEST_BURST" default:"4"`
}

// ChangelogConfig holds the audit stream settings.
type ChangelogConfig struct {
	KafkaBrokers string `envconfig:"CHANGELOG_KAFKA_BROKERS" default:""`
	KafkaTopic   string `envconfig:"CHANGELOG_KAFKA_TOPIC" default:"stocksync.operations"`
}

// Brokers returns the configured Kafka brokers; empty disables the stream.
func (c *ChangelogConfig) Brokers() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// PostgresDSN returns the PostgreSQL connection string.
func (s *StoreConfig) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		s.User, s.Password, s.Host, s.Port, s.Name, s.SSLMode)
}

// Address returns the server address in host:port format.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RedisAddress returns the Redis address in host:port format.
func (c *CacheConfig) RedisAddress() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// DSN returns the MySQL data source name.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// IsDevelopment returns true if running in development mode.
func (a *AppConfig) IsDevelopment() bool {
	return a.Environment == "development"
}

// IsProduction returns true if running in production mode.
func (a *AppConfig) IsProduction() bool {
	return a.Environment == "production"
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	switch c.Store.Type {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported STORE_DB_TYPE %q", c.Store.Type)
	}
	switch c.Queue.Type {
	case "redis", "memory", "inline":
	default:
		return fmt.Errorf("unsupported QUEUE_TYPE %q", c.Queue.Type)
	}
	switch c.Platform.Type {
	case "graphql", "memory":
	default:
		return fmt.Errorf("unsupported PLATFORM_TYPE %q", c.Platform.Type)
	}
	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("QUEUE_MAX_ATTEMPTS must be at least 1")
	}
	if c.Queue.JobTimeout <= 0 || c.Queue.VisibilityTimeout <= c.Queue.JobTimeout {
		return fmt.Errorf("QUEUE_VISIBILITY_TIMEOUT (%s) must exceed QUEUE_JOB_TIMEOUT (%s)", c.Queue.VisibilityTimeout, c.Queue.JobTimeout)
	}
	if c.Sync.PushConcurrency < 1 {
		return fmt.Errorf("SYNC_PUSH_CONCURRENCY must be at least 1")
	}
	if c.Sync.BatchSize < 1 {
		return fmt.Errorf("SYNC_BATCH_SIZE must be at least 1")
	}
	if c.App.IsProduction() && c.Platform.WebhookSecret == "" {
		return fmt.Errorf("PLATFORM_WEBHOOK_SECRET is required in production")
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}
