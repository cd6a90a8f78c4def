package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stocksync/internal/repository"
)

// EchoFilter recognizes replica notifications caused by our own pushes.
type EchoFilter struct {
	ops    repository.OperationRepository
	window time.Duration
	now    func() time.Time
}

// NewEchoFilter creates a filter with the given window.
func NewEchoFilter(ops repository.OperationRepository, window time.Duration) *EchoFilter {
	return &EchoFilter{ops: ops, window: window, now: time.Now}
}

// IsEcho reports whether observed matches the most recent completed push
// of the product to replica within the window.
func (f *EchoFilter) IsEcho(ctx context.Context, productID, replicaID int64, observed int) (bool, error) {
	op, err := f.ops.LatestPushSince(ctx, productID, replicaID, f.now().Add(-f.window))
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load recent pushes: %w", err)
	}
	return op.NewValue != nil && *op.NewValue == observed, nil
}
