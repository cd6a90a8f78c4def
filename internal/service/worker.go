package service

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"stocksync/internal/model"
	"stocksync/internal/queue"
)

// WorkerConfig holds configuration for the worker pool.
type WorkerConfig struct {
	// Workers is the number of jobs processed concurrently.
	Workers int
	// MaxAttempts is the number of attempts before a job is dropped.
	MaxAttempts int
	// BackoffBase and BackoffMax bound the retry delay.
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// PollInterval is the wait after an empty dequeue.
	PollInterval time.Duration
	// JobTimeout bounds one attempt.
	JobTimeout time.Duration
}

// DefaultWorkerConfig returns default worker configuration.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Workers:      4,
		MaxAttempts:  5,
		BackoffBase:  2 * time.Second,
		BackoffMax:   5 * time.Minute,
		PollInterval: 500 * time.Millisecond,
		JobTimeout:   2 * time.Minute,
	}
}

// WorkerPool drains the intake queue.
type WorkerPool struct {
	queue   queue.Queue
	handler *Handler
	config  WorkerConfig
	log     *log.Entry
}

// NewWorkerPool creates a pool; zero config fields take their defaults.
func NewWorkerPool(q queue.Queue, handler *Handler, config WorkerConfig) *WorkerPool {
	def := DefaultWorkerConfig()
	if config.Workers <= 0 {
		config.Workers = def.Workers
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.BackoffBase <= 0 {
		config.BackoffBase = def.BackoffBase
	}
	if config.BackoffMax <= 0 {
		config.BackoffMax = def.BackoffMax
	}
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = def.JobTimeout
	}
	return &WorkerPool{
		queue:   q,
		handler: handler,
		config:  config,
		log:     log.WithField("component", "worker"),
	}
}

// Run processes jobs until ctx is cancelled, then waits for in-flight jobs.
// Jobs claimed by a previous process are reclaimed by the queue once their
// visibility timeout lapses.
func (p *WorkerPool) Run(ctx context.Context) {
	p.log.WithField("workers", p.config.Workers).Info("worker pool started")

	sem := make(chan struct{}, p.config.Workers)
	var wg sync.WaitGroup
	defer func() {
		wg.Wait()
		p.log.Info("worker pool stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case sem <- struct{}{}:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil || job == nil {
			<-sem
			if err != nil && ctx.Err() == nil {
				p.log.WithError(err).Warn("dequeue failed")
			}
			if pause(ctx, p.config.PollInterval) != nil {
				return
			}
			continue
		}
		p.reportDepth(ctx)

		wg.Add(1)
		go func(job model.Job) {
			defer wg.Done()
			defer func() { <-sem }()
			p.process(ctx, job)
		}(*job)
	}
}

func (p *WorkerPool) reportDepth(ctx context.Context) {
	if n, err := p.queue.Size(ctx); err == nil {
		p.handler.metrics.QueueDepth.Set(float64(n))
	}
}

// process runs one attempt. In-flight attempts are allowed to finish after
// shutdown begins so that the ledger and queue stay consistent.
func (p *WorkerPool) process(ctx context.Context, job model.Job) {
	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.config.JobTimeout)
	defer cancel()

	job.Attempt++
	entry := p.log.WithFields(log.Fields{
		"event_id": job.EventID,
		"topic":    job.Topic,
		"attempt":  job.Attempt,
	})

	err := p.handler.Process(jctx, job)
	if err == nil {
		if cerr := p.queue.Complete(jctx, job.EventID); cerr != nil {
			entry.WithError(cerr).Warn("failed to complete job")
		}
		entry.Debug("job processed")
		return
	}

	if !Retryable(err) || job.Attempt >= p.config.MaxAttempts {
		entry.WithError(err).WithField("kind", Kind(err)).Error("job dropped")
		if cerr := p.queue.Complete(jctx, job.EventID); cerr != nil {
			entry.WithError(cerr).Warn("failed to complete job")
		}
		return
	}

	delay := queue.Backoff(job.Attempt, p.config.BackoffBase, p.config.BackoffMax)
	entry.WithError(err).WithField("retry_in", delay).Warn("job failed, retrying")
	if rerr := p.queue.Reschedule(jctx, job, delay); rerr != nil {
		entry.WithError(rerr).Error("failed to reschedule job")
	}
}
