package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"stocksync/internal/model"
)

const productColumns = `id, sku, title, tracks_inventory, oversell_policy, origin_replica_id, created_at, updated_at`

func scanProduct(row interface{ Scan(...any) error }) (*model.Product, error) {
	var p model.Product
	var origin sql.NullInt64
	if err := row.Scan(&p.ID, &p.SKU, &p.Title, &p.TracksInventory, &p.OversellPolicy, &origin, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.OriginReplicaID = origin.Int64
	return &p, nil
}

// GetProduct retrieves a product by id.
func (s *SQLStore) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	p, err := scanProduct(s.queryRow(ctx, s.db, `SELECT `+productColumns+` FROM products WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

// GetProductBySKU retrieves a product by SKU.
func (s *SQLStore) GetProductBySKU(ctx context.Context, sku string) (*model.Product, error) {
	p, err := scanProduct(s.queryRow(ctx, s.db, `SELECT `+productColumns+` FROM products WHERE sku = ?`, sku))
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

// UpsertProduct inserts or updates a product keyed by SKU.
func (s *SQLStore) UpsertProduct(ctx context.Context, p *model.Product) (*model.Product, error) {
	now := time.Now().UTC()
	policy := p.OversellPolicy
	if policy == "" {
		policy = model.OversellDeny
	}
	query := `
		INSERT INTO products (sku, title, tracks_inventory, oversell_policy, origin_replica_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (sku) DO UPDATE SET
			title = excluded.title,
			tracks_inventory = excluded.tracks_inventory,
			oversell_policy = excluded.oversell_policy,
			origin_replica_id = COALESCE(products.origin_replica_id, excluded.origin_replica_id),
			updated_at = excluded.updated_at
		RETURNING ` + productColumns
	out, err := scanProduct(s.queryRow(ctx, s.db, query, p.SKU, p.Title, p.TracksInventory, policy, nullID(p.OriginReplicaID), now, now))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert product %s: %w", p.SKU, err)
	}
	return out, nil
}

// ListProducts returns products ordered by id.
func (s *SQLStore) ListProducts(ctx context.Context, limit, offset int) ([]model.Product, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.query(ctx, s.db, `SELECT `+productColumns+` FROM products ORDER BY id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	var out []model.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

const replicaColumns = `id, domain, active, sync_enabled, credential_ref, created_at, updated_at`

func scanReplica(row interface{ Scan(...any) error }) (*model.StoreReplica, error) {
	var r model.StoreReplica
	if err := row.Scan(&r.ID, &r.Domain, &r.Active, &r.SyncEnabled, &r.CredentialRef, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

// GetReplica retrieves a replica by id.
func (s *SQLStore) GetReplica(ctx context.Context, id int64) (*model.StoreReplica, error) {
	r, err := scanReplica(s.queryRow(ctx, s.db, `SELECT `+replicaColumns+` FROM store_replicas WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return r, nil
}

// GetReplicaByDomain retrieves a replica by its domain.
func (s *SQLStore) GetReplicaByDomain(ctx context.Context, domain string) (*model.StoreReplica, error) {
	r, err := scanReplica(s.queryRow(ctx, s.db, `SELECT `+replicaColumns+` FROM store_replicas WHERE domain = ?`, domain))
	if err != nil {
		return nil, notFound(err)
	}
	return r, nil
}

// UpsertReplica inserts or updates a replica keyed by domain.
func (s *SQLStore) UpsertReplica(ctx context.Context, r *model.StoreReplica) (*model.StoreReplica, error) {
	now := time.Now().UTC()
	query := `
		INSERT INTO store_replicas (domain, active, sync_enabled, credential_ref, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (domain) DO UPDATE SET
			active = excluded.active,
			sync_enabled = excluded.sync_enabled,
			credential_ref = excluded.credential_ref,
			updated_at = excluded.updated_at
		RETURNING ` + replicaColumns
	out, err := scanReplica(s.queryRow(ctx, s.db, query, r.Domain, r.Active, r.SyncEnabled, r.CredentialRef, now, now))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert replica %s: %w", r.Domain, err)
	}
	return out, nil
}

// ListReplicas returns all replicas ordered by id.
func (s *SQLStore) ListReplicas(ctx context.Context) ([]model.StoreReplica, error) {
	rows, err := s.query(ctx, s.db, `SELECT `+replicaColumns+` FROM store_replicas ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list replicas: %w", err)
	}
	defer rows.Close()

	var out []model.StoreReplica
	for rows.Next() {
		r, err := scanReplica(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// SetReplicaState updates the active and sync-enabled flags.
func (s *SQLStore) SetReplicaState(ctx context.Context, id int64, active, syncEnabled bool) error {
	res, err := s.exec(ctx, s.db, `UPDATE store_replicas SET active = ?, sync_enabled = ?, updated_at = ? WHERE id = ?`,
		active, syncEnabled, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update replica %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const mappingColumns = `product_id, replica_id, external_product_id, external_variant_id, inventory_item_id, last_synced_at, sync_status`

func scanMapping(row interface{ Scan(...any) error }) (*model.ProductStoreMapping, error) {
	var m model.ProductStoreMapping
	var synced sql.NullTime
	if err := row.Scan(&m.ProductID, &m.ReplicaID, &m.ExternalProductID, &m.ExternalVariantID, &m.InventoryItemID, &synced, &m.SyncStatus); err != nil {
		return nil, err
	}
	m.LastSyncedAt = timePtr(synced)
	return &m, nil
}

func (s *SQLStore) listMappings(ctx context.Context, query string, args ...any) ([]model.ProductStoreMapping, error) {
	rows, err := s.query(ctx, s.db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list mappings: %w", err)
	}
	defer rows.Close()

	var out []model.ProductStoreMapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// GetMapping retrieves the mapping for a (product, replica) pair.
func (s *SQLStore) GetMapping(ctx context.Context, productID, replicaID int64) (*model.ProductStoreMapping, error) {
	m, err := scanMapping(s.queryRow(ctx, s.db,
		`SELECT `+mappingColumns+` FROM product_store_mappings WHERE product_id = ? AND replica_id = ?`, productID, replicaID))
	if err != nil {
		return nil, notFound(err)
	}
	return m, nil
}

// FindMappingByInventoryItem finds a replica's mapping by inventory item id, exactly as stored.
func (s *SQLStore) FindMappingByInventoryItem(ctx context.Context, replicaID int64, inventoryItemID string) (*model.ProductStoreMapping, error) {
	m, err := scanMapping(s.queryRow(ctx, s.db,
		`SELECT `+mappingColumns+` FROM product_store_mappings WHERE replica_id = ? AND inventory_item_id = ? LIMIT 1`, replicaID, inventoryItemID))
	if err != nil {
		return nil, notFound(err)
	}
	return m, nil
}

// UpsertMapping inserts or replaces the mapping for a (product, replica) pair.
func (s *SQLStore) UpsertMapping(ctx context.Context, m *model.ProductStoreMapping) error {
	status := m.SyncStatus
	if status == "" {
		status = model.MappingActive
	}
	query := `
		INSERT INTO product_store_mappings (product_id, replica_id, external_product_id, external_variant_id, inventory_item_id, last_synced_at, sync_status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (product_id, replica_id) DO UPDATE SET
			external_product_id = excluded.external_product_id,
			external_variant_id = excluded.external_variant_id,
			inventory_item_id = excluded.inventory_item_id,
			last_synced_at = COALESCE(excluded.last_synced_at, product_store_mappings.last_synced_at),
			sync_status = excluded.sync_status`
	_, err := s.exec(ctx, s.db, query, m.ProductID, m.ReplicaID, m.ExternalProductID, m.ExternalVariantID,
		m.InventoryItemID, nullTime(m.LastSyncedAt), status)
	if err != nil {
		return fmt.Errorf("failed to upsert mapping %d/%d: %w", m.ProductID, m.ReplicaID, err)
	}
	return nil
}

// ListMappings returns every replica mapping of a product.
func (s *SQLStore) ListMappings(ctx context.Context, productID int64) ([]model.ProductStoreMapping, error) {
	return s.listMappings(ctx, `SELECT `+mappingColumns+` FROM product_store_mappings WHERE product_id = ? ORDER BY replica_id`, productID)
}

// ListMappingsByReplica returns every product mapping of a replica.
func (s *SQLStore) ListMappingsByReplica(ctx context.Context, replicaID int64) ([]model.ProductStoreMapping, error) {
	return s.listMappings(ctx, `SELECT `+mappingColumns+` FROM product_store_mappings WHERE replica_id = ? ORDER BY product_id`, replicaID)
}

// SetMappingStatus updates a mapping's sync status and, when given, its last-synced time.
func (s *SQLStore) SetMappingStatus(ctx context.Context, productID, replicaID int64, status string, syncedAt *time.Time) error {
	_, err := s.exec(ctx, s.db, `
		UPDATE product_store_mappings
		SET sync_status = ?, last_synced_at = COALESCE(?, last_synced_at)
		WHERE product_id = ? AND replica_id = ?`, status, nullTime(syncedAt), productID, replicaID)
	if err != nil {
		return fmt.Errorf("failed to update mapping status %d/%d: %w", productID, replicaID, err)
	}
	return nil
}

// MarkMappingsRemoved flags every mapping of an external product in one replica as removed.
func (s *SQLStore) MarkMappingsRemoved(ctx context.Context, replicaID int64, externalProductID string) (int64, error) {
	res, err := s.exec(ctx, s.db, `UPDATE product_store_mappings SET sync_status = ? WHERE replica_id = ? AND external_product_id = ?`,
		model.MappingRemoved, replicaID, externalProductID)
	if err != nil {
		return 0, fmt.Errorf("failed to remove mappings for %s: %w", externalProductID, err)
	}
	return res.RowsAffected()
}

const locationColumns = `id, replica_id, external_id, name, active, is_primary`

func scanLocation(row interface{ Scan(...any) error }) (*model.Location, error) {
	var l model.Location
	if err := row.Scan(&l.ID, &l.ReplicaID, &l.ExternalID, &l.Name, &l.Active, &l.Primary); err != nil {
		return nil, err
	}
	return &l, nil
}

// GetLocation retrieves a persisted location by its external id.
func (s *SQLStore) GetLocation(ctx context.Context, replicaID int64, externalID string) (*model.Location, error) {
	l, err := scanLocation(s.queryRow(ctx, s.db,
		`SELECT `+locationColumns+` FROM locations WHERE replica_id = ? AND external_id = ?`, replicaID, externalID))
	if err != nil {
		return nil, notFound(err)
	}
	return l, nil
}

// ListLocations returns a replica's persisted locations ordered by id.
func (s *SQLStore) ListLocations(ctx context.Context, replicaID int64) ([]model.Location, error) {
	rows, err := s.query(ctx, s.db, `SELECT `+locationColumns+` FROM locations WHERE replica_id = ? ORDER BY id`, replicaID)
	if err != nil {
		return nil, fmt.Errorf("failed to list locations: %w", err)
	}
	defer rows.Close()

	var out []model.Location
	for rows.Next() {
		l, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// GetPrimaryLocation returns the replica's primary location, falling back to its first active one.
func (s *SQLStore) GetPrimaryLocation(ctx context.Context, replicaID int64) (*model.Location, error) {
	l, err := scanLocation(s.queryRow(ctx, s.db, `
		SELECT `+locationColumns+` FROM locations
		WHERE replica_id = ? AND active = ?
		ORDER BY is_primary DESC, id ASC LIMIT 1`, replicaID, true))
	if err != nil {
		return nil, notFound(err)
	}
	return l, nil
}

// SaveLocations upserts the given locations for a replica in one transaction.
func (s *SQLStore) SaveLocations(ctx context.Context, replicaID int64, locations []model.Location) error {
	if len(locations) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, l := range locations {
			_, err := s.exec(ctx, tx, `
				INSERT INTO locations (replica_id, external_id, name, active, is_primary)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT (replica_id, external_id) DO UPDATE SET
					name = excluded.name,
					active = excluded.active,
					is_primary = excluded.is_primary`,
				replicaID, l.ExternalID, l.Name, l.Active, l.Primary)
			if err != nil {
				return fmt.Errorf("failed to save location %s: %w", l.ExternalID, err)
			}
		}
		return nil
	})
}
