package model

import "time"

// Overselling policies mirrored from the platform.
const (
	OversellDeny     = "deny"
	OversellContinue = "continue"
)

// Mapping sync statuses.
const (
	MappingActive  = "active"
	MappingFailed  = "failed"
	MappingRemoved = "removed"
)

// Product is identified by its SKU.
type Product struct {
	ID              int64     `json:"id"`
	SKU             string    `json:"sku"`
	Title           string    `json:"title"`
	TracksInventory bool      `json:"tracks_inventory"`
	OversellPolicy  string    `json:"oversell_policy"`
	OriginReplicaID int64     `json:"origin_replica_id"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// StoreReplica is one connected external store.
type StoreReplica struct {
	ID            int64     `json:"id"`
	Domain        string    `json:"domain"`
	Active        bool      `json:"active"`
	SyncEnabled   bool      `json:"sync_enabled"`
	CredentialRef string    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Propagates reports whether central changes are pushed to this replica.
func (r *StoreReplica) Propagates() bool {
	return r.Active && r.SyncEnabled
}

// ProductStoreMapping links a product to its identifiers in one replica.
type ProductStoreMapping struct {
	ProductID         int64      `json:"product_id"`
	ReplicaID         int64      `json:"replica_id"`
	ExternalProductID string     `json:"external_product_id"`
	ExternalVariantID string     `json:"external_variant_id"`
	InventoryItemID   string     `json:"inventory_item_id"`
	LastSyncedAt      *time.Time `json:"last_synced_at,omitempty"`
	SyncStatus        string     `json:"sync_status"`
}

// Location is a stock location inside one replica.
type Location struct {
	ID         int64  `json:"id"`
	ReplicaID  int64  `json:"replica_id"`
	ExternalID string `json:"external_id"`
	Name       string `json:"name"`
	Active     bool   `json:"active"`
	Primary    bool   `json:"primary"`
}
