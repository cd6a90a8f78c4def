// Package queue is the at-least-once job transport between webhook intake and
// the sync workers. Jobs are keyed by event id: enqueuing an id that is
// already queued or in flight is a no-op.
package queue

import (
	"context"
	"time"

	"stocksync/internal/model"
)

// Queue is a delay queue of intake jobs.
type Queue interface {
	// Enqueue makes job ready now. It reports false if the event id is already queued or in flight.
	Enqueue(ctx context.Context, job model.Job) (bool, error)
	// EnqueueWithDelay makes job ready after delay.
	EnqueueWithDelay(ctx context.Context, job model.Job, delay time.Duration) (bool, error)
	// Dequeue claims the next due job, or returns nil when none is due.
	// A claimed job that is neither completed nor rescheduled within the
	// visibility timeout becomes due again.
	Dequeue(ctx context.Context) (*model.Job, error)
	// Complete drops a claimed job.
	Complete(ctx context.Context, eventID string) error
	// Reschedule releases a claimed job to run again after delay.
	Reschedule(ctx context.Context, job model.Job, delay time.Duration) error
	// Size returns the number of queued and in-flight jobs.
	Size(ctx context.Context) (int64, error)
	Close() error
}

// Backoff returns the delay before retry number attempt (1-based): base doubled per attempt, capped at maxDelay.
func Backoff(attempt int, base, maxDelay time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 30 {
		return maxDelay
	}
	d := base * time.Duration(1<<uint(attempt-1))
	if d > maxDelay || d <= 0 {
		return maxDelay
	}
	return d
}
