package model

import "time"

// Quantities are the three tracked stock counters.
type Quantities struct {
	Available int `json:"available"`
	Committed int `json:"committed"`
	Incoming  int `json:"incoming"`
}

// Add returns the field-wise sum.
func (q Quantities) Add(o Quantities) Quantities {
	return Quantities{
		Available: q.Available + o.Available,
		Committed: q.Committed + o.Committed,
		Incoming:  q.Incoming + o.Incoming,
	}
}

// Clamped returns q with every counter floored at zero.
func (q Quantities) Clamped() Quantities {
	return Quantities{
		Available: floorZero(q.Available),
		Committed: floorZero(q.Committed),
		Incoming:  floorZero(q.Incoming),
	}
}

func floorZero(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

// InventoryLocationRow holds quantities for one product at one location.
type InventoryLocationRow struct {
	ProductID      int64     `json:"product_id"`
	LocationID     int64     `json:"location_id"`
	Quantities               `json:"quantities"`
	LastAdjustedAt time.Time `json:"last_adjusted_at"`
	LastAdjustedBy string    `json:"last_adjusted_by"`
}

// InventoryAggregate is the canonical per-product quantity.
type InventoryAggregate struct {
	ProductID      int64     `json:"product_id"`
	Quantities               `json:"quantities"`
	LastAdjustedAt time.Time `json:"last_adjusted_at"`
	LastAdjustedBy string    `json:"last_adjusted_by"`
}

// AdjustMode selects how an Adjustment is applied.
type AdjustMode int

const (
	// AdjustDelta adds the deltas to the target row.
	AdjustDelta AdjustMode = iota
	// AdjustSetLocation sets the target location row's available quantity.
	AdjustSetLocation
	// AdjustSetAggregate moves the target row so the aggregate available equals Target.
	AdjustSetAggregate
)

// Adjustment is one read-modify-write against central inventory.
type Adjustment struct {
	Mode   AdjustMode
	Delta  Quantities
	Target int
	Actor  string
}

// AdjustResult reports the aggregate before and after an Adjustment.
type AdjustResult struct {
	Previous InventoryAggregate
	Current  InventoryAggregate
	// Legacy is true when the aggregate was written without location rows.
	Legacy bool
}
