package repository

import (
	"context"
	"errors"
	"time"

	"stocksync/internal/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// ErrLocationRowsExist is returned by SetAggregateDirect when the product already
// has location rows; the aggregate is recalculated from them instead.
var ErrLocationRowsExist = errors.New("location rows exist")

// CatalogRepository stores products, replicas, mappings and locations.
type CatalogRepository interface {
	GetProduct(ctx context.Context, id int64) (*model.Product, error)
	GetProductBySKU(ctx context.Context, sku string) (*model.Product, error)
	// UpsertProduct inserts by SKU or updates title/tracking/policy; the origin replica is never changed.
	UpsertProduct(ctx context.Context, p *model.Product) (*model.Product, error)
	ListProducts(ctx context.Context, limit, offset int) ([]model.Product, error)

	GetReplica(ctx context.Context, id int64) (*model.StoreReplica, error)
	GetReplicaByDomain(ctx context.Context, domain string) (*model.StoreReplica, error)
	UpsertReplica(ctx context.Context, r *model.StoreReplica) (*model.StoreReplica, error)
	ListReplicas(ctx context.Context) ([]model.StoreReplica, error)
	SetReplicaState(ctx context.Context, id int64, active, syncEnabled bool) error

	GetMapping(ctx context.Context, productID, replicaID int64) (*model.ProductStoreMapping, error)
	FindMappingByInventoryItem(ctx context.Context, replicaID int64, inventoryItemID string) (*model.ProductStoreMapping, error)
	UpsertMapping(ctx context.Context, m *model.ProductStoreMapping) error
	ListMappings(ctx context.Context, productID int64) ([]model.ProductStoreMapping, error)
	ListMappingsByReplica(ctx context.Context, replicaID int64) ([]model.ProductStoreMapping, error)
	SetMappingStatus(ctx context.Context, productID, replicaID int64, status string, syncedAt *time.Time) error
	MarkMappingsRemoved(ctx context.Context, replicaID int64, externalProductID string) (int64, error)

	GetLocation(ctx context.Context, replicaID int64, externalID string) (*model.Location, error)
	GetPrimaryLocation(ctx context.Context, replicaID int64) (*model.Location, error)
	ListLocations(ctx context.Context, replicaID int64) ([]model.Location, error)
	SaveLocations(ctx context.Context, replicaID int64, locations []model.Location) error
}

// InventoryRepository is the inventory aggregate store.
type InventoryRepository interface {
	// UpsertLocationRow writes one location row; unless skipRecalc is set the aggregate is recalculated in the same transaction.
	UpsertLocationRow(ctx context.Context, row model.InventoryLocationRow, skipRecalc bool) error
	RecalculateAggregate(ctx context.Context, productID int64) (*model.InventoryAggregate, error)
	SetAggregateDirect(ctx context.Context, productID int64, q model.Quantities, actor string, at time.Time) error
	GetAggregate(ctx context.Context, productID int64) (*model.InventoryAggregate, error)
	ListLocationRows(ctx context.Context, productID int64) ([]model.InventoryLocationRow, error)
	// ApplyAdjustment performs a locked read-modify-write of one product's inventory.
	// locationID 0 means no location was resolved for the change.
	ApplyAdjustment(ctx context.Context, productID, locationID int64, adj model.Adjustment, at time.Time) (*model.AdjustResult, error)
}

// OperationRepository stores the sync audit log and conflicts.
type OperationRepository interface {
	InsertOperation(ctx context.Context, op *model.SyncOperation) error
	TransitionOperation(ctx context.Context, id int64, to string, errMsg string, at time.Time) error
	RecentOperations(ctx context.Context, productID int64, limit int) ([]model.SyncOperation, error)
	LatestPushSince(ctx context.Context, productID, replicaID int64, since time.Time) (*model.SyncOperation, error)
	CountInboundSince(ctx context.Context, productID, excludeReplicaID int64, since time.Time) (int64, error)
	ListOperations(ctx context.Context, filter model.OperationFilter) ([]model.SyncOperation, int64, error)

	InsertConflict(ctx context.Context, c *model.Conflict) error
	GetConflict(ctx context.Context, id int64) (*model.Conflict, error)
	ListConflicts(ctx context.Context, resolved bool, limit int) ([]model.Conflict, error)
	// MarkConflictResolved resolves an unresolved conflict; it reports false if it was already resolved.
	MarkConflictResolved(ctx context.Context, id int64, strategy string, value int, actor string, at time.Time) (bool, error)
}

// LedgerRepository stores idempotency ledger entries.
type LedgerRepository interface {
	GetEvent(ctx context.Context, eventID string) (*model.WebhookEvent, error)
	// InsertEvent reports false when an entry with the same id already exists.
	InsertEvent(ctx context.Context, e *model.WebhookEvent) (bool, error)
	UpsertProcessed(ctx context.Context, e *model.WebhookEvent, at time.Time) error
	RecordFailure(ctx context.Context, eventID, message string, defaultMaxRetries int, at time.Time) (*model.WebhookEvent, error)
	DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Store is the full central persistence surface.
type Store interface {
	CatalogRepository
	InventoryRepository
	OperationRepository
	LedgerRepository

	// GetStats returns statistics about the database.
	GetStats(ctx context.Context) (map[string]interface{}, error)

	// Ping checks that the backing database is reachable.
	Ping(ctx context.Context) error

	// Close closes the repository connection.
	Close() error
}

// Credential is the access material for one replica.
type Credential struct {
	Domain      string
	AccessToken string
	Scope       string
}

// CredentialRepository resolves a replica's credential reference.
type CredentialRepository interface {
	GetCredential(ctx context.Context, domain, ref string) (*Credential, error)
}
