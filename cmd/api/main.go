package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	log "github.com/sirupsen/logrus"

	"stocksync/internal/app"
	"stocksync/internal/config"
	"stocksync/internal/handler"
	"stocksync/internal/middleware"
	"stocksync/internal/router"
	"stocksync/internal/service"
)

func main() {
	// Load configuration
	cfg := config.MustLoad()
	app.ConfigureLogging(cfg.App)
	logger := log.WithField("component", "main")
	logger.Infof("Starting %s %s (%s)", cfg.App.Name, cfg.App.Version, cfg.App.Environment)

	a, err := app.New(cfg)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize")
	}
	defer a.Close()

	// Background workers share one context; cancelling it drains them.
	ctx, stop := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	if a.Queue != nil {
		pool := service.NewWorkerPool(a.Queue, a.Handler, service.WorkerConfig{
			Workers:      cfg.Queue.Workers,
			MaxAttempts:  cfg.Queue.MaxAttempts,
			BackoffBase:  cfg.Queue.BackoffBase,
			BackoffMax:   cfg.Queue.BackoffMax,
			PollInterval: cfg.Queue.PollInterval,
			JobTimeout:   cfg.Queue.JobTimeout,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			pool.Run(ctx)
		}()
		logger.Infof("%s queue with %d workers started", cfg.Queue.Type, cfg.Queue.Workers)
	} else {
		logger.Info("queue disabled, deliveries are processed inline")
	}

	cleanup := service.NewCleanupScheduler(a.Ledger, a.Metrics, service.CleanupConfig{
		Retention: cfg.Sync.LedgerRetention,
		Interval:  cfg.Sync.CleanupInterval,
	})
	cleanup.Start()

	// Initialize handlers
	var adminKeys []string
	if cfg.App.AdminKey != "" {
		adminKeys = strings.Split(cfg.App.AdminKey, ",")
	} else {
		logger.Warn("ADMIN_KEY is not set, admin API will reject every request")
	}

	r := router.New(router.Config{
		Handler:          handler.New(cfg.App.Version, a.Checks()),
		WebhookHandler:   handler.NewWebhookHandler(a.Intake, cfg.Platform.WebhookSecret),
		InventoryHandler: handler.NewInventoryHandler(a.Inventory),
		AdminHandler:     handler.NewAdminHandler(a.Engine, a.Store, a.Queue, cfg.Store.Type),
		LogHandler:       handler.NewLogHandler(a.Inventory, a.Engine.Conflicts()),
		AdminAuth:        middleware.NewAdminAuth(middleware.AuthConfig{AdminKeys: adminKeys}),
		Metrics:          a.Metrics.Handler(),
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Infof("Server listening on %s", cfg.Server.Address())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Stop accepting deliveries before draining the workers.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("server shutdown error")
	}

	cleanup.Stop()
	stop()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("workers did not drain before the shutdown timeout")
	}

	logger.Info("Server stopped")
}
