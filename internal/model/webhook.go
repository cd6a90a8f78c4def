package model

import "time"

// WebhookEvent is an idempotency ledger entry keyed by the platform event id.
type WebhookEvent struct {
	EventID     string     `json:"event_id"`
	Topic       string     `json:"topic"`
	Source      string     `json:"source"`
	Payload     []byte     `json:"-"`
	Processed   bool       `json:"processed"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`
	LastError   string     `json:"last_error,omitempty"`
	ReceivedAt  time.Time  `json:"received_at"`
}

// Job is one unit of asynchronous intake work.
type Job struct {
	EventID string `json:"event_id"`
	Topic   string `json:"topic"`
	Source  string `json:"source"`
	Payload []byte `json:"payload"`
	Attempt int    `json:"attempt"`
}
