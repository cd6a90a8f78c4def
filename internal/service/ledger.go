package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"stocksync/internal/model"
	"stocksync/internal/repository"
)

// DefaultMaxRetries is the ledger retry limit when none is configured.
const DefaultMaxRetries = 3

// Ledger records which platform events have been handled so that
// redelivered events are applied at most once.
type Ledger struct {
	repo       repository.LedgerRepository
	maxRetries int
	now        func() time.Time
	log        *log.Entry
}

// NewLedger creates a ledger over repo.
func NewLedger(repo repository.LedgerRepository, maxRetries int) *Ledger {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Ledger{
		repo:       repo,
		maxRetries: maxRetries,
		now:        time.Now,
		log:        log.WithField("component", "ledger"),
	}
}

// IsProcessed reports whether eventID has been handled. Lookup errors are
// logged and reported as not processed so the event is not lost.
func (l *Ledger) IsProcessed(ctx context.Context, eventID string) bool {
	e, err := l.repo.GetEvent(ctx, eventID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			l.log.WithError(err).WithField("event_id", eventID).Warn("ledger lookup failed, treating as unprocessed")
		}
		return false
	}
	return e.Processed
}

// Get returns the raw entry for eventID.
func (l *Ledger) Get(ctx context.Context, eventID string) (*model.WebhookEvent, error) {
	return l.repo.GetEvent(ctx, eventID)
}

// Create inserts an unprocessed entry. It reports false if the entry already existed.
func (l *Ledger) Create(ctx context.Context, eventID, topic, source string, payload []byte) (bool, error) {
	created, err := l.repo.InsertEvent(ctx, &model.WebhookEvent{
		EventID:    eventID,
		Topic:      topic,
		Source:     source,
		Payload:    payload,
		MaxRetries: l.maxRetries,
		ReceivedAt: l.now().UTC(),
	})
	if err != nil {
		return false, fmt.Errorf("failed to create ledger entry: %w", err)
	}
	return created, nil
}

// MarkProcessed marks eventID handled, creating the entry if needed.
func (l *Ledger) MarkProcessed(ctx context.Context, eventID, topic, source string) error {
	now := l.now().UTC()
	err := l.repo.UpsertProcessed(ctx, &model.WebhookEvent{
		EventID:    eventID,
		Topic:      topic,
		Source:     source,
		MaxRetries: l.maxRetries,
		ReceivedAt: now,
	}, now)
	if err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	return nil
}

// MarkFailed records a failed attempt. Once retries reach the entry's limit
// the entry is closed and exhausted is true.
func (l *Ledger) MarkFailed(ctx context.Context, eventID, message string) (exhausted bool, err error) {
	e, err := l.repo.RecordFailure(ctx, eventID, message, l.maxRetries, l.now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to record event failure: %w", err)
	}
	if e.Processed && e.RetryCount >= e.MaxRetries {
		l.log.WithFields(log.Fields{
			"event_id": eventID,
			"retries":  e.RetryCount,
		}).Warn("event retries exhausted")
		return true, nil
	}
	return false, nil
}

// Cleanup deletes processed entries older than retention.
func (l *Ledger) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := l.repo.DeleteProcessedBefore(ctx, l.now().UTC().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("failed to clean ledger: %w", err)
	}
	return n, nil
}
