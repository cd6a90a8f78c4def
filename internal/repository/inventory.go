package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"stocksync/internal/model"
)

// quantityFields addresses each counter so spill logic can treat them uniformly.
var quantityFields = []func(*model.Quantities) *int{
	func(q *model.Quantities) *int { return &q.Available },
	func(q *model.Quantities) *int { return &q.Committed },
	func(q *model.Quantities) *int { return &q.Incoming },
}

func scanAggregate(row interface{ Scan(...any) error }) (*model.InventoryAggregate, error) {
	var a model.InventoryAggregate
	if err := row.Scan(&a.ProductID, &a.Available, &a.Committed, &a.Incoming, &a.LastAdjustedAt, &a.LastAdjustedBy); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAggregate retrieves the aggregate row of a product.
func (s *SQLStore) GetAggregate(ctx context.Context, productID int64) (*model.InventoryAggregate, error) {
	a, err := scanAggregate(s.queryRow(ctx, s.db, `
		SELECT product_id, available, committed, incoming, last_adjusted_at, last_adjusted_by
		FROM inventory_aggregates WHERE product_id = ?`, productID))
	if err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

func (s *SQLStore) loadLocationRows(ctx context.Context, q queryer, productID int64) ([]model.InventoryLocationRow, error) {
	rows, err := s.query(ctx, q, `
		SELECT product_id, location_id, available, committed, incoming, last_adjusted_at, last_adjusted_by
		FROM inventory_locations WHERE product_id = ? ORDER BY location_id`, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to load location rows: %w", err)
	}
	defer rows.Close()

	var out []model.InventoryLocationRow
	for rows.Next() {
		var r model.InventoryLocationRow
		if err := rows.Scan(&r.ProductID, &r.LocationID, &r.Available, &r.Committed, &r.Incoming, &r.LastAdjustedAt, &r.LastAdjustedBy); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListLocationRows returns all location rows of a product ordered by location.
func (s *SQLStore) ListLocationRows(ctx context.Context, productID int64) ([]model.InventoryLocationRow, error) {
	return s.loadLocationRows(ctx, s.db, productID)
}

func (s *SQLStore) writeLocationRow(ctx context.Context, q queryer, row model.InventoryLocationRow) error {
	_, err := s.exec(ctx, q, `
		INSERT INTO inventory_locations (product_id, location_id, available, committed, incoming, last_adjusted_at, last_adjusted_by)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (product_id, location_id) DO UPDATE SET
			available = excluded.available,
			committed = excluded.committed,
			incoming = excluded.incoming,
			last_adjusted_at = excluded.last_adjusted_at,
			last_adjusted_by = excluded.last_adjusted_by`,
		row.ProductID, row.LocationID, row.Available, row.Committed, row.Incoming, row.LastAdjustedAt.UTC(), row.LastAdjustedBy)
	if err != nil {
		return fmt.Errorf("failed to write location row %d/%d: %w", row.ProductID, row.LocationID, err)
	}
	return nil
}

func (s *SQLStore) writeAggregate(ctx context.Context, q queryer, a model.InventoryAggregate) error {
	_, err := s.exec(ctx, q, `
		INSERT INTO inventory_aggregates (product_id, available, committed, incoming, last_adjusted_at, last_adjusted_by)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (product_id) DO UPDATE SET
			available = excluded.available,
			committed = excluded.committed,
			incoming = excluded.incoming,
			last_adjusted_at = excluded.last_adjusted_at,
			last_adjusted_by = excluded.last_adjusted_by`,
		a.ProductID, a.Available, a.Committed, a.Incoming, a.LastAdjustedAt.UTC(), a.LastAdjustedBy)
	if err != nil {
		return fmt.Errorf("failed to write aggregate %d: %w", a.ProductID, err)
	}
	return nil
}

// recalculate derives the aggregate from location rows. It returns ErrNotFound when there are none.
func (s *SQLStore) recalculate(ctx context.Context, q queryer, productID int64) (*model.InventoryAggregate, error) {
	var count int64
	agg := model.InventoryAggregate{ProductID: productID}
	err := s.queryRow(ctx, q, `
		SELECT COUNT(*), COALESCE(SUM(available), 0), COALESCE(SUM(committed), 0), COALESCE(SUM(incoming), 0)
		FROM inventory_locations WHERE product_id = ?`, productID).
		Scan(&count, &agg.Available, &agg.Committed, &agg.Incoming)
	if err != nil {
		return nil, fmt.Errorf("failed to sum location rows: %w", err)
	}
	if count == 0 {
		return nil, ErrNotFound
	}

	// The newest row stamps the aggregate so the result depends only on the rows.
	err = s.queryRow(ctx, q, `
		SELECT last_adjusted_at, last_adjusted_by FROM inventory_locations
		WHERE product_id = ? ORDER BY last_adjusted_at DESC, location_id DESC LIMIT 1`, productID).
		Scan(&agg.LastAdjustedAt, &agg.LastAdjustedBy)
	if err != nil {
		return nil, fmt.Errorf("failed to read latest location row: %w", err)
	}
	agg.LastAdjustedAt = agg.LastAdjustedAt.UTC()

	if err := s.writeAggregate(ctx, q, agg); err != nil {
		return nil, err
	}
	return &agg, nil
}

// UpsertLocationRow writes one location row and, unless skipRecalc is set, recalculates the aggregate.
func (s *SQLStore) UpsertLocationRow(ctx context.Context, row model.InventoryLocationRow, skipRecalc bool) error {
	row.Quantities = row.Quantities.Clamped()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.writeLocationRow(ctx, tx, row); err != nil {
			return err
		}
		if skipRecalc {
			return nil
		}
		_, err := s.recalculate(ctx, tx, row.ProductID)
		return err
	})
}

// RecalculateAggregate sets the aggregate to the field-wise sum of the product's location rows.
func (s *SQLStore) RecalculateAggregate(ctx context.Context, productID int64) (*model.InventoryAggregate, error) {
	var agg *model.InventoryAggregate
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		agg, err = s.recalculate(ctx, tx, productID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return agg, nil
}

// SetAggregateDirect writes the aggregate without location rows (legacy path).
func (s *SQLStore) SetAggregateDirect(ctx context.Context, productID int64, q model.Quantities, actor string, at time.Time) error {
	hasRows := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := s.recalculate(ctx, tx, productID)
		if err == nil {
			hasRows = true
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		return s.writeAggregate(ctx, tx, model.InventoryAggregate{
			ProductID:      productID,
			Quantities:     q.Clamped(),
			LastAdjustedAt: at,
			LastAdjustedBy: actor,
		})
	})
	if err != nil {
		return err
	}
	if hasRows {
		return ErrLocationRowsExist
	}
	return nil
}

// ApplyAdjustment locks the product's aggregate row, applies adj and writes the result.
//
// With location rows present the adjustment lands on locationID (or the lowest
// location when none is given); a shortfall that would drive that row negative
// is drawn from the product's other rows, so the aggregate itself floors at zero.
func (s *SQLStore) ApplyAdjustment(ctx context.Context, productID, locationID int64, adj model.Adjustment, at time.Time) (*model.AdjustResult, error) {
	at = at.UTC()
	var result model.AdjustResult

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.exec(ctx, tx, `
			INSERT INTO inventory_aggregates (product_id, available, committed, incoming, last_adjusted_at, last_adjusted_by)
			VALUES (?, 0, 0, 0, ?, '')
			ON CONFLICT (product_id) DO NOTHING`, productID, at); err != nil {
			return fmt.Errorf("failed to seed aggregate: %w", err)
		}

		prev, err := scanAggregate(s.queryRow(ctx, tx, `
			SELECT product_id, available, committed, incoming, last_adjusted_at, last_adjusted_by
			FROM inventory_aggregates WHERE product_id = ?`+s.d.lockSuffix, productID))
		if err != nil {
			return fmt.Errorf("failed to lock aggregate: %w", err)
		}
		result.Previous = *prev

		rows, err := s.loadLocationRows(ctx, tx, productID)
		if err != nil {
			return err
		}

		if len(rows) == 0 && locationID == 0 {
			next := model.InventoryAggregate{
				ProductID:      productID,
				Quantities:     applyLegacy(prev.Quantities, adj),
				LastAdjustedAt: at,
				LastAdjustedBy: adj.Actor,
			}
			if err := s.writeAggregate(ctx, tx, next); err != nil {
				return err
			}
			result.Current = next
			result.Legacy = true
			return nil
		}

		target := -1
		for i := range rows {
			if rows[i].LocationID == locationID {
				target = i
				break
			}
		}
		if target < 0 {
			if locationID == 0 {
				target = 0
			} else {
				row := model.InventoryLocationRow{ProductID: productID, LocationID: locationID}
				if len(rows) == 0 {
					// First location row: carry over what the legacy path recorded.
					row.Quantities = prev.Quantities
				}
				rows = append(rows, row)
				target = len(rows) - 1
			}
		}

		changed := applyToRows(rows, target, adj)
		for _, i := range changed {
			rows[i].LastAdjustedAt = at
			rows[i].LastAdjustedBy = adj.Actor
			if err := s.writeLocationRow(ctx, tx, rows[i]); err != nil {
				return err
			}
		}

		next, err := s.recalculate(ctx, tx, productID)
		if err != nil {
			return err
		}
		result.Current = *next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func applyLegacy(q model.Quantities, adj model.Adjustment) model.Quantities {
	switch adj.Mode {
	case model.AdjustSetLocation, model.AdjustSetAggregate:
		q.Available = adj.Target
	default:
		q = q.Add(adj.Delta)
	}
	return q.Clamped()
}

// applyToRows mutates rows in place and returns the indexes it touched.
func applyToRows(rows []model.InventoryLocationRow, target int, adj model.Adjustment) []int {
	touched := map[int]bool{target: true}

	switch adj.Mode {
	case model.AdjustSetLocation:
		rows[target].Available = max(adj.Target, 0)
	case model.AdjustSetAggregate:
		sum := 0
		for _, r := range rows {
			sum += r.Available
		}
		rows[target].Available += max(adj.Target, 0) - sum
	default:
		rows[target].Quantities = rows[target].Quantities.Add(adj.Delta)
	}

	for _, field := range quantityFields {
		v := field(&rows[target].Quantities)
		if *v >= 0 {
			continue
		}
		deficit := -*v
		*v = 0
		for i := range rows {
			if i == target || deficit == 0 {
				continue
			}
			other := field(&rows[i].Quantities)
			take := min(deficit, *other)
			if take > 0 {
				*other -= take
				deficit -= take
				touched[i] = true
			}
		}
	}

	out := make([]int, 0, len(touched))
	for i := range rows {
		if touched[i] {
			out = append(out, i)
		}
	}
	return out
}
