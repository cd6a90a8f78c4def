package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"stocksync/internal/model"
)

const operationColumns = `id, operation_type, direction, product_id, replica_id, status, previous_value, new_value, cause, event_id, error_message, created_at, completed_at`

func scanOperation(row interface{ Scan(...any) error }) (*model.SyncOperation, error) {
	var op model.SyncOperation
	var productID, prev, next sql.NullInt64
	var completed sql.NullTime
	if err := row.Scan(&op.ID, &op.OperationType, &op.Direction, &productID, &op.ReplicaID, &op.Status,
		&prev, &next, &op.Cause, &op.EventID, &op.ErrorMessage, &op.CreatedAt, &completed); err != nil {
		return nil, err
	}
	op.ProductID = productID.Int64
	op.PreviousValue = intPtr(prev)
	op.NewValue = intPtr(next)
	op.CompletedAt = timePtr(completed)
	return &op, nil
}

// InsertOperation appends an audit row and sets op.ID.
func (s *SQLStore) InsertOperation(ctx context.Context, op *model.SyncOperation) error {
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}
	if op.Status == "" {
		op.Status = model.StatusPending
	}
	err := s.queryRow(ctx, s.db, `
		INSERT INTO sync_operations (operation_type, direction, product_id, replica_id, status, previous_value, new_value, cause, event_id, error_message, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		op.OperationType, op.Direction, nullID(op.ProductID), op.ReplicaID, op.Status, nullInt(op.PreviousValue), nullInt(op.NewValue),
		op.Cause, op.EventID, op.ErrorMessage, op.CreatedAt.UTC(), nullTime(op.CompletedAt)).Scan(&op.ID)
	if err != nil {
		return fmt.Errorf("failed to insert sync operation: %w", err)
	}
	return nil
}

// allowedFrom lists the statuses each status may be entered from.
var allowedFrom = map[string][]string{
	model.StatusInProgress: {model.StatusPending},
	model.StatusCompleted:  {model.StatusPending, model.StatusInProgress},
	model.StatusFailed:     {model.StatusPending, model.StatusInProgress},
}

// TransitionOperation moves an operation forward; terminal rows are never rewritten.
func (s *SQLStore) TransitionOperation(ctx context.Context, id int64, to string, errMsg string, at time.Time) error {
	from, ok := allowedFrom[to]
	if !ok {
		return fmt.Errorf("invalid sync operation status %q", to)
	}

	var completed sql.NullTime
	if to == model.StatusCompleted || to == model.StatusFailed {
		completed = sql.NullTime{Time: at.UTC(), Valid: true}
	}

	args := []any{to, errMsg, completed, id}
	for _, f := range from {
		args = append(args, f)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")

	res, err := s.exec(ctx, s.db, `
		UPDATE sync_operations SET status = ?, error_message = ?, completed_at = COALESCE(?, completed_at)
		WHERE id = ? AND status IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("failed to transition sync operation %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sync operation %d cannot move to %s: %w", id, to, ErrNotFound)
	}
	return nil
}

// RecentOperations returns the newest operations of a product, newest first.
func (s *SQLStore) RecentOperations(ctx context.Context, productID int64, limit int) ([]model.SyncOperation, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.listOperations(ctx, `SELECT `+operationColumns+` FROM sync_operations WHERE product_id = ? ORDER BY id DESC LIMIT ?`, productID, limit)
}

// LatestPushSince returns the newest completed push of a product to replica
// that finished after since, or ErrNotFound.
func (s *SQLStore) LatestPushSince(ctx context.Context, productID, replicaID int64, since time.Time) (*model.SyncOperation, error) {
	ops, err := s.listOperations(ctx, `SELECT `+operationColumns+` FROM sync_operations
		WHERE product_id = ? AND replica_id = ? AND direction = ? AND status = ? AND completed_at > ?
		ORDER BY id DESC LIMIT 1`,
		productID, replicaID, model.CentralToStore, model.StatusCompleted, since.UTC())
	if err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return nil, ErrNotFound
	}
	return &ops[0], nil
}

// CountInboundSince counts completed store-to-central changes of a product
// from replicas other than excludeReplicaID that finished after since.
func (s *SQLStore) CountInboundSince(ctx context.Context, productID, excludeReplicaID int64, since time.Time) (int64, error) {
	var n int64
	err := s.queryRow(ctx, s.db, `SELECT COUNT(*) FROM sync_operations
		WHERE product_id = ? AND direction = ? AND status = ? AND replica_id <> ? AND completed_at > ?`,
		productID, model.StoreToCentral, model.StatusCompleted, excludeReplicaID, since.UTC()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count inbound operations: %w", err)
	}
	return n, nil
}

// ListOperations returns a filtered, paginated page of the audit log, newest first, with the total match count.
func (s *SQLStore) ListOperations(ctx context.Context, filter model.OperationFilter) ([]model.SyncOperation, int64, error) {
	var where []string
	var args []any
	if filter.ProductID != 0 {
		where = append(where, "product_id = ?")
		args = append(args, filter.ProductID)
	}
	if filter.ReplicaID != 0 {
		where = append(where, "replica_id = ?")
		args = append(args, filter.ReplicaID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := s.queryRow(ctx, s.db, `SELECT COUNT(*) FROM sync_operations`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count sync operations: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	ops, err := s.listOperations(ctx, `SELECT `+operationColumns+` FROM sync_operations`+clause+` ORDER BY id DESC LIMIT ? OFFSET ?`,
		append(args, limit, filter.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	return ops, total, nil
}

func (s *SQLStore) listOperations(ctx context.Context, query string, args ...any) ([]model.SyncOperation, error) {
	rows, err := s.query(ctx, s.db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync operations: %w", err)
	}
	defer rows.Close()

	ops := []model.SyncOperation{}
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, *op)
	}
	return ops, rows.Err()
}

const conflictColumns = `id, product_id, replica_id, location_id, type, central_value, store_value, strategy, resolved, resolved_value, resolved_by, resolved_at, created_at`

func scanConflict(row interface{ Scan(...any) error }) (*model.Conflict, error) {
	var c model.Conflict
	var value sql.NullInt64
	var at sql.NullTime
	if err := row.Scan(&c.ID, &c.ProductID, &c.ReplicaID, &c.LocationID, &c.Type, &c.CentralValue, &c.StoreValue, &c.Strategy,
		&c.Resolved, &value, &c.ResolvedBy, &at, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.ResolvedValue = intPtr(value)
	c.ResolvedAt = timePtr(at)
	return &c, nil
}

// InsertConflict stores a new unresolved conflict and sets c.ID.
func (s *SQLStore) InsertConflict(ctx context.Context, c *model.Conflict) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	err := s.queryRow(ctx, s.db, `
		INSERT INTO conflicts (product_id, replica_id, location_id, type, central_value, store_value, strategy, resolved, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		c.ProductID, c.ReplicaID, c.LocationID, c.Type, c.CentralValue, c.StoreValue, c.Strategy, false, c.CreatedAt.UTC()).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("failed to insert conflict: %w", err)
	}
	return nil
}

// GetConflict retrieves a conflict by id.
func (s *SQLStore) GetConflict(ctx context.Context, id int64) (*model.Conflict, error) {
	c, err := scanConflict(s.queryRow(ctx, s.db, `SELECT `+conflictColumns+` FROM conflicts WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

// ListConflicts returns conflicts by resolved flag, oldest first.
func (s *SQLStore) ListConflicts(ctx context.Context, resolved bool, limit int) ([]model.Conflict, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.query(ctx, s.db, `SELECT `+conflictColumns+` FROM conflicts WHERE resolved = ? ORDER BY id LIMIT ?`, resolved, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}
	defer rows.Close()

	out := []model.Conflict{}
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// MarkConflictResolved resolves the conflict only if it is still unresolved.
func (s *SQLStore) MarkConflictResolved(ctx context.Context, id int64, strategy string, value int, actor string, at time.Time) (bool, error) {
	res, err := s.exec(ctx, s.db, `
		UPDATE conflicts SET resolved = ?, strategy = ?, resolved_value = ?, resolved_by = ?, resolved_at = ?
		WHERE id = ? AND resolved = ?`, true, strategy, value, actor, at.UTC(), id, false)
	if err != nil {
		return false, fmt.Errorf("failed to resolve conflict %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
