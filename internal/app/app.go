// Package app builds the sync service's object graph from configuration.
// Both the API server and the operator CLI start from here.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"stocksync/internal/cache"
	"stocksync/internal/changelog"
	"stocksync/internal/config"
	"stocksync/internal/metrics"
	"stocksync/internal/platform"
	"stocksync/internal/queue"
	"stocksync/internal/repository"
	"stocksync/internal/service"
)

// App holds the wired components. Queue is nil when intake runs inline.
type App struct {
	Config    *config.Config
	Store     *repository.SQLStore
	Cache     cache.Cache
	Queue     queue.Queue
	Platform  platform.Client
	Metrics   *metrics.Registry
	Changelog changelog.Writer
	Engine    *service.Engine
	Ledger    *service.Ledger
	Handler   *service.Handler
	Intake    *service.Intake
	Inventory *service.InventoryService

	redis   *redis.Client
	mysql   *sql.DB
	closers []func() error
}

// ConfigureLogging applies the configured logrus level and format.
func ConfigureLogging(cfg config.AppConfig) {
	log.SetOutput(os.Stdout)
	if strings.EqualFold(cfg.LogFormat, "json") {
		log.SetFormatter(&log.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	if cfg.Debug {
		level = log.DebugLevel
	}
	log.SetLevel(level)
}

// New opens every backend named by cfg and wires the services. On error
// anything already opened is closed.
func New(cfg *config.Config) (_ *App, err error) {
	a := &App{Config: cfg, Metrics: metrics.NewRegistry()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if err := a.openStore(); err != nil {
		return nil, err
	}
	if err := a.openRedis(); err != nil {
		return nil, err
	}
	a.openCache()
	a.openQueue()
	a.openPlatform()
	a.openChangelog()

	creds, err := a.credentials()
	if err != nil {
		return nil, err
	}

	a.Engine = service.NewEngine(service.EngineDeps{
		Store:       a.Store,
		Platform:    a.Platform,
		Credentials: creds,
		Cache:       a.Cache,
		Changelog:   a.Changelog,
		Metrics:     a.Metrics,
	}, service.EngineConfig{
		PushTimeout:     cfg.Sync.PushTimeout,
		PushConcurrency: cfg.Sync.PushConcurrency,
		BatchSize:       cfg.Sync.BatchSize,
		BatchPace:       cfg.Sync.BatchPace,
		AutoResolve:     cfg.Sync.AutoResolve,
		EchoWindow:      cfg.Sync.EchoWindow,
		ConflictWindow:  cfg.Sync.ConflictWindow,
	})
	a.Ledger = service.NewLedger(a.Store, cfg.Sync.LedgerMaxRetries)
	a.Handler = service.NewHandler(a.Engine, a.Ledger, a.Metrics)
	a.Intake = service.NewIntake(a.Ledger, a.Queue, a.Handler)
	a.Inventory = service.NewInventoryService(a.Store, a.Cache)
	return a, nil
}

func (a *App) openStore() error {
	var err error
	switch a.Config.Store.Type {
	case "postgres":
		a.Store, err = repository.NewPostgresStore(a.Config.Store.PostgresDSN())
	default:
		a.Store, err = repository.NewSQLiteStore(a.Config.Store.Path)
	}
	if err != nil {
		return err
	}
	a.closers = append(a.closers, a.Store.Close)
	log.WithField("component", "app").Infof("%s store initialized", a.Config.Store.Type)
	return nil
}

func (a *App) openRedis() error {
	if a.Config.Cache.Type != "redis" && a.Config.Queue.Type != "redis" {
		return nil
	}
	client, err := cache.NewRedisClient(cache.RedisConfig{
		Addr:     a.Config.Cache.RedisAddress(),
		Password: a.Config.Cache.RedisPassword,
		DB:       a.Config.Cache.RedisDB,
	})
	if err != nil {
		return err
	}
	a.redis = client
	a.closers = append(a.closers, client.Close)
	return nil
}

func (a *App) openCache() {
	if a.Config.Cache.Type == "redis" {
		a.Cache = cache.NewRedisCache(a.redis, a.Config.App.Name+":cache")
		return
	}
	a.Cache = cache.NewMemoryCache()
}

func (a *App) openQueue() {
	switch a.Config.Queue.Type {
	case "redis":
		a.Queue = queue.NewRedisQueue(a.redis, a.Config.Queue.Name, a.Config.Queue.VisibilityTimeout)
	case "memory":
		q := queue.NewMemoryQueue(a.Config.Queue.VisibilityTimeout)
		a.Queue = q
		a.closers = append(a.closers, q.Close)
	}
}

func (a *App) openPlatform() {
	if a.Config.Platform.Type == "memory" {
		a.Platform = platform.NewMemoryClient()
		return
	}
	a.Platform = platform.NewGraphQLClient(platform.GraphQLConfig{
		APIVersion:        a.Config.Platform.APIVersion,
		Timeout:           a.Config.Platform.Timeout,
		RequestsPerSecond: a.Config.Platform.RequestsPerSecond,
		Burst:             a.Config.Platform.RequestBurst,
	})
}

func (a *App) openChangelog() {
	brokers := a.Config.Changelog.Brokers()
	if len(brokers) == 0 {
		a.Changelog = changelog.NoopWriter{}
		return
	}
	w := changelog.NewKafkaWriter(brokers, a.Config.Changelog.KafkaTopic)
	a.Changelog = w
	a.closers = append(a.closers, w.Close)
	log.WithField("component", "app").Infof("changelog streaming to %s", a.Config.Changelog.KafkaTopic)
}

func (a *App) credentials() (repository.CredentialRepository, error) {
	if a.Config.Credentials.Source != "mysql" {
		return repository.NewStaticCredentialRepository(a.Config.Credentials.Tokens), nil
	}

	db, err := sql.Open("mysql", a.Config.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}
	a.mysql = db
	a.closers = append(a.closers, db.Close)
	log.WithField("component", "app").Info("MySQL credential directory initialized")
	return repository.NewMySQLCredentialRepository(db), nil
}

// Close releases every opened backend in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Checks returns readiness probes for the opened backends.
func (a *App) Checks() map[string]func(ctx context.Context) error {
	checks := map[string]func(ctx context.Context) error{
		"store": a.Store.Ping,
	}
	if a.redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.redis.Ping(ctx).Err() }
	}
	if a.mysql != nil {
		checks["mysql"] = a.mysql.PingContext
	}
	return checks
}
