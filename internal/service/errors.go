package service

import (
	"context"
	"errors"

	"stocksync/internal/platform"
	"stocksync/internal/repository"
	"stocksync/internal/webhook"
)

// Sentinel errors returned by the sync services.
var (
	ErrProductNotFound    = errors.New("product not found")
	ErrReplicaNotFound    = errors.New("replica not found")
	ErrReplicaInactive    = errors.New("replica is inactive or sync is disabled")
	ErrLocationUnresolved = errors.New("location could not be resolved")
	ErrManualResolution   = errors.New("conflict requires manual resolution")
	ErrUnknownStrategy    = errors.New("unknown resolution strategy")
	ErrConflictNotFound   = errors.New("conflict not found")
	ErrRetriesExhausted   = errors.New("retries exhausted")
)

// ErrorKind classifies failures for retry and HTTP mapping.
type ErrorKind string

const (
	KindTransient ErrorKind = "transient"
	KindNotFound  ErrorKind = "not-found"
	KindConflict  ErrorKind = "conflict"
	KindExhausted ErrorKind = "exhausted"
	KindPolicy    ErrorKind = "policy"
	KindFatal     ErrorKind = "fatal"
)

// Kind returns the class of err; nil yields the empty kind.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRetriesExhausted):
		return KindExhausted
	case errors.Is(err, ErrManualResolution):
		return KindConflict
	case errors.Is(err, ErrUnknownStrategy),
		errors.Is(err, ErrReplicaInactive),
		errors.Is(err, webhook.ErrInvalidPayload),
		errors.Is(err, webhook.ErrUnsupportedTopic):
		return KindPolicy
	case errors.Is(err, ErrProductNotFound),
		errors.Is(err, ErrReplicaNotFound),
		errors.Is(err, ErrConflictNotFound),
		errors.Is(err, ErrLocationUnresolved),
		errors.Is(err, platform.ErrVariantNotFound),
		errors.Is(err, repository.ErrNotFound):
		return KindNotFound
	case platform.IsTransient(err), errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	default:
		return KindFatal
	}
}

// Retryable reports whether a failed job should be attempted again.
func Retryable(err error) bool {
	switch Kind(err) {
	case KindTransient, KindFatal:
		return true
	default:
		return false
	}
}
