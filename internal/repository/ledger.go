package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"stocksync/internal/model"
)

const eventColumns = `event_id, topic, source, payload, processed, processed_at, retry_count, max_retries, last_error, received_at`

func scanEvent(row interface{ Scan(...any) error }) (*model.WebhookEvent, error) {
	var e model.WebhookEvent
	var payload string
	var processedAt sql.NullTime
	if err := row.Scan(&e.EventID, &e.Topic, &e.Source, &payload, &e.Processed, &processedAt,
		&e.RetryCount, &e.MaxRetries, &e.LastError, &e.ReceivedAt); err != nil {
		return nil, err
	}
	e.Payload = []byte(payload)
	e.ProcessedAt = timePtr(processedAt)
	return &e, nil
}

// GetEvent retrieves a ledger entry.
func (s *SQLStore) GetEvent(ctx context.Context, eventID string) (*model.WebhookEvent, error) {
	e, err := scanEvent(s.queryRow(ctx, s.db, `SELECT `+eventColumns+` FROM webhook_events WHERE event_id = ?`, eventID))
	if err != nil {
		return nil, notFound(err)
	}
	return e, nil
}

// InsertEvent creates an unprocessed entry; an existing id is left untouched.
func (s *SQLStore) InsertEvent(ctx context.Context, e *model.WebhookEvent) (bool, error) {
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now().UTC()
	}
	res, err := s.exec(ctx, s.db, `
		INSERT INTO webhook_events (event_id, topic, source, payload, processed, retry_count, max_retries, last_error, received_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, '', ?)
		ON CONFLICT (event_id) DO NOTHING`,
		e.EventID, e.Topic, e.Source, string(e.Payload), false, e.MaxRetries, e.ReceivedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("failed to insert webhook event %s: %w", e.EventID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UpsertProcessed marks an entry processed, creating it when missing.
func (s *SQLStore) UpsertProcessed(ctx context.Context, e *model.WebhookEvent, at time.Time) error {
	at = at.UTC()
	_, err := s.exec(ctx, s.db, `
		INSERT INTO webhook_events (event_id, topic, source, payload, processed, processed_at, retry_count, max_retries, last_error, received_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, '', ?)
		ON CONFLICT (event_id) DO UPDATE SET
			processed = excluded.processed,
			processed_at = excluded.processed_at`,
		e.EventID, e.Topic, e.Source, string(e.Payload), true, at, e.MaxRetries, at)
	if err != nil {
		return fmt.Errorf("failed to mark webhook event %s processed: %w", e.EventID, err)
	}
	return nil
}

// RecordFailure increments the retry count and gives up once it reaches max_retries.
func (s *SQLStore) RecordFailure(ctx context.Context, eventID, message string, defaultMaxRetries int, at time.Time) (*model.WebhookEvent, error) {
	at = at.UTC()
	var out *model.WebhookEvent
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.exec(ctx, tx, `
			INSERT INTO webhook_events (event_id, topic, source, payload, processed, retry_count, max_retries, last_error, received_at)
			VALUES (?, '', '', '', ?, 0, ?, '', ?)
			ON CONFLICT (event_id) DO NOTHING`, eventID, false, defaultMaxRetries, at); err != nil {
			return fmt.Errorf("failed to seed webhook event %s: %w", eventID, err)
		}
		if _, err := s.exec(ctx, tx, `
			UPDATE webhook_events SET retry_count = retry_count + 1, last_error = ?
			WHERE event_id = ? AND processed = ?`, message, eventID, false); err != nil {
			return fmt.Errorf("failed to record failure for %s: %w", eventID, err)
		}
		if _, err := s.exec(ctx, tx, `
			UPDATE webhook_events SET processed = ?, processed_at = ?
			WHERE event_id = ? AND processed = ? AND retry_count >= max_retries`, true, at, eventID, false); err != nil {
			return fmt.Errorf("failed to close out %s: %w", eventID, err)
		}
		e, err := scanEvent(s.queryRow(ctx, tx, `SELECT `+eventColumns+` FROM webhook_events WHERE event_id = ?`, eventID))
		if err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteProcessedBefore removes processed entries received before cutoff. Unprocessed entries are kept.
func (s *SQLStore) DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.exec(ctx, s.db, `DELETE FROM webhook_events WHERE processed = ? AND received_at < ?`, true, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to clean up webhook events: %w", err)
	}
	return res.RowsAffected()
}
