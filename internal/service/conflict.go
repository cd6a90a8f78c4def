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

// ConflictDetector classifies a replica's observed quantity against central.
type ConflictDetector struct {
	ops    repository.OperationRepository
	window time.Duration
	now    func() time.Time
}

// NewConflictDetector creates a detector with the given trailing window.
func NewConflictDetector(ops repository.OperationRepository, window time.Duration) *ConflictDetector {
	return &ConflictDetector{ops: ops, window: window, now: time.Now}
}

// Detect returns ConflictNone when the values agree, ConflictCollision when
// another replica changed the product within the window, and
// ConflictMismatch otherwise.
func (d *ConflictDetector) Detect(ctx context.Context, productID, replicaID int64, expected, actual int) (string, error) {
	if expected == actual {
		return model.ConflictNone, nil
	}

	n, err := d.ops.CountInboundSince(ctx, productID, replicaID, d.now().Add(-d.window))
	if err != nil {
		return "", err
	}
	if n > 0 {
		return model.ConflictCollision, nil
	}
	return model.ConflictMismatch, nil
}

// ResolveValue computes the quantity a strategy settles on.
func ResolveValue(strategy string, central, store int) (int, error) {
	switch strategy {
	case model.StrategyUseLowest:
		return min(central, store), nil
	case model.StrategyUseHighest:
		return max(central, store), nil
	case model.StrategyUseDatabase:
		return central, nil
	case model.StrategyUseStore:
		return store, nil
	case model.StrategyAverage:
		// Rounds half up.
		return (central + store + 1) / 2, nil
	case model.StrategyManual:
		return 0, ErrManualResolution
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}
}

// ApplyFunc writes a resolved quantity back to central and the replicas.
type ApplyFunc func(ctx context.Context, c *model.Conflict, value int, actor string) error

// ConflictResolver settles materialized conflicts.
type ConflictResolver struct {
	ops   repository.OperationRepository
	apply ApplyFunc
	now   func() time.Time
	log   *log.Entry
}

// NewConflictResolver creates a resolver that writes outcomes through apply.
func NewConflictResolver(ops repository.OperationRepository, apply ApplyFunc) *ConflictResolver {
	return &ConflictResolver{
		ops:   ops,
		apply: apply,
		now:   time.Now,
		log:   log.WithField("component", "conflicts"),
	}
}

// Resolve settles conflict id with strategy. Resolving an already resolved
// conflict returns it unchanged.
func (r *ConflictResolver) Resolve(ctx context.Context, id int64, strategy, actor string) (*model.Conflict, error) {
	c, err := r.ops.GetConflict(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("conflict %d: %w", id, ErrConflictNotFound)
	}
	if err != nil {
		return nil, err
	}
	if c.Resolved {
		return c, nil
	}

	value, err := ResolveValue(strategy, c.CentralValue, c.StoreValue)
	if err != nil {
		return nil, err
	}
	if err := r.apply(ctx, c, value, actor); err != nil {
		return nil, fmt.Errorf("failed to apply resolution of conflict %d: %w", id, err)
	}

	ok, err := r.ops.MarkConflictResolved(ctx, id, strategy, value, actor, r.now().UTC())
	if err != nil {
		return nil, err
	}
	if !ok {
		r.log.WithField("conflict_id", id).Warn("conflict resolved concurrently")
	}

	r.log.WithFields(log.Fields{
		"conflict_id": id,
		"strategy":    strategy,
		"value":       value,
		"actor":       actor,
	}).Info("conflict resolved")
	return r.ops.GetConflict(ctx, id)
}

// AutoResolve settles c with the lowest of the two values.
func (r *ConflictResolver) AutoResolve(ctx context.Context, c *model.Conflict) (*model.Conflict, error) {
	return r.Resolve(ctx, c.ID, model.StrategyUseLowest, "auto")
}

// Pending lists unresolved conflicts.
func (r *ConflictResolver) Pending(ctx context.Context, limit int) ([]model.Conflict, error) {
	return r.ops.ListConflicts(ctx, false, limit)
}
