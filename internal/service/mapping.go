package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"stocksync/internal/model"
	"stocksync/internal/platform"
	"stocksync/internal/repository"
)

// Resolution is the outcome of looking up the product behind a replica
// identifier.
type Resolution struct {
	Product *model.Product
	// Mapping is nil when the product is known centrally but the replica
	// does not list it.
	Mapping *model.ProductStoreMapping
	// Discovered is set when the lookup created the product.
	Discovered bool
	// Seeded is set when central inventory was initialized from the
	// replica's current levels during discovery.
	Seeded bool
}

// MappingRegistry translates replica identifiers to central products and
// discovers unknown products through the platform.
type MappingRegistry struct {
	catalog   repository.CatalogRepository
	inventory repository.InventoryRepository
	platform  platform.Client
	creds     *CredentialResolver
	locations *LocationResolver
	now       func() time.Time
	log       *log.Entry
}

// NewMappingRegistry wires a registry.
func NewMappingRegistry(store repository.Store, client platform.Client, creds *CredentialResolver, locations *LocationResolver) *MappingRegistry {
	return &MappingRegistry{
		catalog:   store,
		inventory: store,
		platform:  client,
		creds:     creds,
		locations: locations,
		now:       time.Now,
		log:       log.WithField("component", "mapping"),
	}
}

// ResolveInventoryItem finds the product whose inventory item in replica is
// itemRef. Global ids are tried first, then the legacy numeric form, then
// the platform.
func (r *MappingRegistry) ResolveInventoryItem(ctx context.Context, replica *model.StoreReplica, itemRef string) (*Resolution, error) {
	for _, candidate := range []string{platform.GID("InventoryItem", itemRef), platform.LegacyID(itemRef)} {
		m, err := r.catalog.FindMappingByInventoryItem(ctx, replica.ID, candidate)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		p, err := r.catalog.GetProduct(ctx, m.ProductID)
		if err != nil {
			return nil, fmt.Errorf("mapped product %d: %w", m.ProductID, err)
		}
		return &Resolution{Product: p, Mapping: m}, nil
	}

	sess, err := r.creds.Session(ctx, replica)
	if err != nil {
		return nil, err
	}
	v, err := r.platform.LookupInventoryItem(ctx, sess, itemRef)
	if errors.Is(err, platform.ErrVariantNotFound) {
		return nil, fmt.Errorf("inventory item %s in %s: %w", itemRef, replica.Domain, ErrProductNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up inventory item %s: %w", itemRef, err)
	}
	return r.discover(ctx, replica, *v)
}

// ResolveSKU finds the product with sku, discovering it in replica if it
// is not known centrally.
func (r *MappingRegistry) ResolveSKU(ctx context.Context, replica *model.StoreReplica, sku string) (*Resolution, error) {
	p, err := r.catalog.GetProductBySKU(ctx, sku)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	if err == nil {
		m, err := r.catalog.GetMapping(ctx, p.ID, replica.ID)
		if err == nil {
			return &Resolution{Product: p, Mapping: m}, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		// Known product, first sighting in this replica.
		res, err := r.discoverSKU(ctx, replica, sku)
		if err != nil {
			if platform.IsTransient(err) {
				return nil, err
			}
			r.log.WithError(err).WithFields(log.Fields{"sku": sku, "replica": replica.Domain}).Debug("mapping discovery failed")
			return &Resolution{Product: p}, nil
		}
		return res, nil
	}
	return r.discoverSKU(ctx, replica, sku)
}

func (r *MappingRegistry) discoverSKU(ctx context.Context, replica *model.StoreReplica, sku string) (*Resolution, error) {
	sess, err := r.creds.Session(ctx, replica)
	if err != nil {
		return nil, err
	}
	v, err := r.platform.FindVariantBySku(ctx, sess, sku)
	if errors.Is(err, platform.ErrVariantNotFound) {
		return nil, fmt.Errorf("sku %s in %s: %w", sku, replica.Domain, ErrProductNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find sku %s: %w", sku, err)
	}
	return r.discover(ctx, replica, *v)
}

// discover registers v and, for a product created here, seeds central
// inventory from the replica's levels.
func (r *MappingRegistry) discover(ctx context.Context, replica *model.StoreReplica, v platform.Variant) (*Resolution, error) {
	if v.SKU == "" {
		return nil, fmt.Errorf("variant %s has no sku: %w", v.VariantRef, ErrProductNotFound)
	}
	res, err := r.Register(ctx, replica, v)
	if err != nil {
		return nil, err
	}
	if !res.Discovered || res.Product.OriginReplicaID != replica.ID || len(v.Levels) == 0 {
		return res, nil
	}

	now := r.now().UTC()
	seeded := 0
	for _, level := range v.Levels {
		loc, err := r.locations.Resolve(ctx, replica, level.LocationRef)
		if err != nil {
			r.log.WithError(err).WithField("location", level.LocationRef).Warn("skipping level of unknown location")
			continue
		}
		err = r.inventory.UpsertLocationRow(ctx, model.InventoryLocationRow{
			ProductID:      res.Product.ID,
			LocationID:     loc.ID,
			Quantities:     level.Quantities,
			LastAdjustedAt: now,
			LastAdjustedBy: replica.Domain,
		}, true)
		if err != nil {
			return nil, err
		}
		seeded++
	}
	if seeded > 0 {
		if _, err := r.inventory.RecalculateAggregate(ctx, res.Product.ID); err != nil {
			return nil, err
		}
		res.Seeded = true
	} else {
		ok, err := seedAggregate(ctx, r.inventory, res.Product.ID, v.Levels, replica.Domain, now)
		if err != nil {
			return nil, err
		}
		res.Seeded = ok
	}

	r.log.WithFields(log.Fields{
		"sku":     res.Product.SKU,
		"replica": replica.Domain,
		"seeded":  seeded,
	}).Info("product discovered")
	return res, nil
}

// Register upserts the product described by v and its mapping in replica.
// A newly created product takes replica as its origin.
func (r *MappingRegistry) Register(ctx context.Context, replica *model.StoreReplica, v platform.Variant) (*Resolution, error) {
	_, err := r.catalog.GetProductBySKU(ctx, v.SKU)
	created := errors.Is(err, repository.ErrNotFound)
	if err != nil && !created {
		return nil, err
	}

	policy := v.OversellPolicy
	if policy == "" {
		policy = model.OversellDeny
	}
	p, err := r.catalog.UpsertProduct(ctx, &model.Product{
		SKU:             v.SKU,
		Title:           v.Title,
		TracksInventory: v.TracksInventory,
		OversellPolicy:  policy,
		OriginReplicaID: replica.ID,
	})
	if err != nil {
		return nil, err
	}

	m := &model.ProductStoreMapping{
		ProductID:         p.ID,
		ReplicaID:         replica.ID,
		ExternalProductID: platform.GID("Product", v.ProductRef),
		ExternalVariantID: platform.GID("ProductVariant", v.VariantRef),
		InventoryItemID:   platform.GID("InventoryItem", v.InventoryItemRef),
		SyncStatus:        model.MappingActive,
	}
	if err := r.catalog.UpsertMapping(ctx, m); err != nil {
		return nil, err
	}
	return &Resolution{Product: p, Mapping: m, Discovered: created}, nil
}

// Remove flags the replica's mappings of an external product as removed.
func (r *MappingRegistry) Remove(ctx context.Context, replica *model.StoreReplica, productRef string) (int64, error) {
	var total int64
	for _, candidate := range []string{platform.GID("Product", productRef), platform.LegacyID(productRef)} {
		n, err := r.catalog.MarkMappingsRemoved(ctx, replica.ID, candidate)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// seedAggregate writes the summed levels straight into the aggregate when
// none of them could be tied to a known location. It reports false when the
// product already has location rows.
func seedAggregate(ctx context.Context, inv repository.InventoryRepository, productID int64, levels []platform.LocationQuantity, actor string, at time.Time) (bool, error) {
	if len(levels) == 0 {
		return false, nil
	}
	var total model.Quantities
	for _, l := range levels {
		total = total.Add(l.Quantities)
	}
	err := inv.SetAggregateDirect(ctx, productID, total, actor, at)
	if errors.Is(err, repository.ErrLocationRowsExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to seed aggregate: %w", err)
	}
	return true, nil
}
