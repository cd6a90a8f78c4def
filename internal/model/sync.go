package model

import "time"

// Operation types.
const (
	OpInventoryUpdate = "INVENTORY_UPDATE"
	OpProductCreate   = "PRODUCT_CREATE"
	OpProductUpdate   = "PRODUCT_UPDATE"
	OpProductDelete   = "PRODUCT_DELETE"
	OpBulkSync        = "BULK_SYNC"
)

// Directions.
const (
	StoreToCentral = "STORE_TO_CENTRAL"
	CentralToStore = "CENTRAL_TO_STORE"
)

// Operation statuses. Only pending -> in_progress -> {completed, failed} transitions are allowed.
const (
	StatusPending    = "PENDING"
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

// Causes recorded on operations.
const (
	CauseOrderCreated       = "order_created"
	CauseOrderCancelled     = "order_cancelled"
	CauseRefundCreated      = "refund_created"
	CauseManualAdjustment   = "manual_adjustment"
	CauseConflictResolution = "conflict_resolution"
	CauseCatalogSync        = "catalog_sync"
	CauseBulkPush           = "bulk_push"
	CauseProductWebhook     = "product_webhook"
)

// SyncOperation is one append-only audit row.
type SyncOperation struct {
	ID            int64      `json:"id"`
	OperationType string     `json:"operation_type"`
	Direction     string     `json:"direction"`
	ProductID     int64      `json:"product_id,omitempty"`
	ReplicaID     int64      `json:"replica_id"`
	Status        string     `json:"status"`
	PreviousValue *int       `json:"previous_value,omitempty"`
	NewValue      *int       `json:"new_value,omitempty"`
	Cause         string     `json:"cause"`
	EventID       string     `json:"event_id,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// OperationFilter narrows ListOperations.
type OperationFilter struct {
	ProductID int64
	ReplicaID int64
	Status    string
	Limit     int
	Offset    int
}

// Conflict types.
const (
	ConflictNone      = ""
	ConflictMismatch  = "INVENTORY_MISMATCH"
	ConflictCollision = "CONCURRENT_UPDATE"
)

// Resolution strategies.
const (
	StrategyUseLowest   = "USE_LOWEST"
	StrategyUseHighest  = "USE_HIGHEST"
	StrategyUseDatabase = "USE_DATABASE"
	StrategyUseStore    = "USE_STORE"
	StrategyAverage     = "AVERAGE"
	StrategyManual      = "MANUAL"
)

// Conflict is a materialized divergence between central and a replica.
type Conflict struct {
	ID            int64      `json:"id"`
	ProductID     int64      `json:"product_id"`
	ReplicaID     int64      `json:"replica_id"`
	LocationID    int64      `json:"location_id,omitempty"`
	Type          string     `json:"type"`
	CentralValue  int        `json:"central_value"`
	StoreValue    int        `json:"store_value"`
	Strategy      string     `json:"strategy,omitempty"`
	Resolved      bool       `json:"resolved"`
	ResolvedValue *int       `json:"resolved_value,omitempty"`
	ResolvedBy    string     `json:"resolved_by,omitempty"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Change is the normalized inbound change the engine consumes.
type Change struct {
	Source           string
	SKU              string
	VariantRef       string
	InventoryItemRef string
	LocationRef      string
	Delta            Quantities
	// Absolute, when set, is the observed available quantity at the source.
	Absolute *int
	Cause    string
	EventID  string
}

// SyncResult summarizes one processed change.
type SyncResult struct {
	Success   bool      `json:"success"`
	ProductID int64     `json:"product_id,omitempty"`
	SKU       string    `json:"sku"`
	Previous  int       `json:"previous"`
	Current   int       `json:"current"`
	Targets   int       `json:"targets"`
	Failed    int       `json:"failed"`
	Skipped   bool      `json:"skipped,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Conflict  *Conflict `json:"conflict,omitempty"`
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }
