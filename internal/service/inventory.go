package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"stocksync/internal/cache"
	"stocksync/internal/model"
	"stocksync/internal/repository"
)

const inventoryViewTTL = 5 * time.Second

// InventoryView is the read model of one product.
type InventoryView struct {
	Product   model.Product                `json:"product"`
	Aggregate *model.InventoryAggregate    `json:"aggregate,omitempty"`
	Locations []model.InventoryLocationRow `json:"locations"`
	Mappings  []model.ProductStoreMapping  `json:"mappings"`
	Recent    []model.SyncOperation        `json:"recent_operations"`
}

// InventoryService serves inventory reads, optionally through a short-lived cache.
type InventoryService struct {
	store repository.Store
	cache cache.Cache
}

// NewInventoryService creates a new inventory service.
// Returns nil if store is nil (required dependency).
func NewInventoryService(store repository.Store, c cache.Cache) *InventoryService {
	if store == nil {
		return nil
	}
	return &InventoryService{store: store, cache: c}
}

// GetBySKU returns the inventory view of sku.
// Checks the cache first, then falls back to the store.
func (s *InventoryService) GetBySKU(ctx context.Context, sku string) (*InventoryView, error) {
	if s.cache == nil {
		return s.load(ctx, sku)
	}

	data, err := s.cache.GetOrSet(ctx, "inv:"+sku, inventoryViewTTL, func() ([]byte, error) {
		v, err := s.load(ctx, sku)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return nil, err
	}
	var v InventoryView
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to decode inventory view: %w", err)
	}
	return &v, nil
}

func (s *InventoryService) load(ctx context.Context, sku string) (*InventoryView, error) {
	p, err := s.store.GetProductBySKU(ctx, sku)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", sku, ErrProductNotFound)
	}
	if err != nil {
		return nil, err
	}

	v := &InventoryView{Product: *p}
	agg, err := s.store.GetAggregate(ctx, p.ID)
	switch {
	case err == nil:
		v.Aggregate = agg
	case !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}
	if v.Locations, err = s.store.ListLocationRows(ctx, p.ID); err != nil {
		return nil, err
	}
	if v.Mappings, err = s.store.ListMappings(ctx, p.ID); err != nil {
		return nil, err
	}
	if v.Recent, err = s.store.RecentOperations(ctx, p.ID, 20); err != nil {
		return nil, err
	}
	return v, nil
}

// Invalidate drops the cached view of sku.
func (s *InventoryService) Invalidate(ctx context.Context, sku string) {
	if s.cache != nil {
		_ = s.cache.Delete(ctx, "inv:"+sku)
	}
}

// ListProducts pages through the catalog.
func (s *InventoryService) ListProducts(ctx context.Context, limit, offset int) ([]model.Product, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListProducts(ctx, limit, offset)
}

// Operations lists audit rows matching filter.
func (s *InventoryService) Operations(ctx context.Context, filter model.OperationFilter) ([]model.SyncOperation, int64, error) {
	return s.store.ListOperations(ctx, filter)
}

// ParseID parses a positive numeric id.
func ParseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}
