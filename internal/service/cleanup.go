package service

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"stocksync/internal/metrics"
)

// CleanupConfig holds configuration for the cleanup scheduler.
type CleanupConfig struct {
	// Retention is how long processed ledger entries are kept.
	// Default: 7 days
	Retention time.Duration

	// Interval is how often the cleanup runs.
	// Default: 1 hour
	Interval time.Duration

	// InitialDelay is the wait before the first run after Start.
	// Default: 1 minute
	InitialDelay time.Duration
}

// DefaultCleanupConfig returns default cleanup configuration.
func DefaultCleanupConfig() CleanupConfig {
	return CleanupConfig{
		Retention:    7 * 24 * time.Hour,
		Interval:     time.Hour,
		InitialDelay: time.Minute,
	}
}

// CleanupScheduler periodically drops processed ledger entries past retention.
type CleanupScheduler struct {
	ledger    *Ledger
	metrics   *metrics.Registry
	config    CleanupConfig
	ticker    *time.Ticker
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	isRunning bool
	mu        sync.Mutex
	log       *log.Entry
}

// NewCleanupScheduler creates a new cleanup scheduler; m may be nil.
func NewCleanupScheduler(ledger *Ledger, m *metrics.Registry, config CleanupConfig) *CleanupScheduler {
	def := DefaultCleanupConfig()
	if config.Retention == 0 {
		config.Retention = def.Retention
	}
	if config.Interval == 0 {
		config.Interval = def.Interval
	}
	if config.InitialDelay == 0 {
		config.InitialDelay = def.InitialDelay
	}

	return &CleanupScheduler{
		ledger:  ledger,
		metrics: m,
		config:  config,
		stopCh:  make(chan struct{}),
		log:     log.WithField("component", "cleanup"),
	}
}

// Start begins the cleanup scheduler.
func (s *CleanupScheduler) Start() {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.ticker = time.NewTicker(s.config.Interval)
	s.mu.Unlock()

	s.log.WithFields(log.Fields{
		"interval":  s.config.Interval,
		"retention": s.config.Retention,
	}).Info("cleanup scheduler started")

	s.wg.Add(1)
	go s.run()
}

// run is the main cleanup loop.
func (s *CleanupScheduler) run() {
	defer s.wg.Done()

	initial := time.NewTimer(s.config.InitialDelay)
	defer initial.Stop()

	for {
		select {
		case <-initial.C:
			s.runCleanup()
		case <-s.ticker.C:
			s.runCleanup()
		case <-s.stopCh:
			s.log.Info("cleanup scheduler stopped")
			return
		}
	}
}

// runCleanup performs the actual cleanup.
func (s *CleanupScheduler) runCleanup() {
	deleted, err := s.RunNow()
	if err != nil {
		s.log.WithError(err).Error("ledger cleanup failed")
		return
	}
	if deleted > 0 {
		s.log.WithField("deleted", deleted).Info("ledger entries cleaned up")
	} else {
		s.log.Debug("no ledger entries to clean up")
	}
}

// Stop stops the cleanup scheduler and waits for a running cleanup to finish.
func (s *CleanupScheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
		s.isRunning = false
		s.mu.Unlock()
	})
	s.wg.Wait()
}

// RunNow triggers an immediate cleanup run.
func (s *CleanupScheduler) RunNow() (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	deleted, err := s.ledger.Cleanup(ctx, s.config.Retention)
	if err != nil {
		return 0, err
	}
	if s.metrics != nil {
		s.metrics.LedgerCleaned.Add(float64(deleted))
	}
	return deleted, nil
}
