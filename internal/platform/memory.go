package platform

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"stocksync/internal/model"
)

// SetCall records one SetQuantities call on a MemoryClient.
type SetCall struct {
	Domain  string
	Updates []QuantityUpdate
	Reason  string
}

type memoryShop struct {
	locations []Location
	variants  []Variant
	levels    map[string]map[string]model.Quantities // item -> location -> quantities
	failWith  error
	delay     time.Duration
}

// MemoryClient is an in-process Client holding per-domain catalogs.
type MemoryClient struct {
	mu    sync.Mutex
	shops map[string]*memoryShop
	calls []SetCall
}

// NewMemoryClient creates an empty in-memory platform.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{shops: make(map[string]*memoryShop)}
}

func (m *MemoryClient) shop(domain string) *memoryShop {
	s, ok := m.shops[domain]
	if !ok {
		s = &memoryShop{levels: make(map[string]map[string]model.Quantities)}
		m.shops[domain] = s
	}
	return s
}

// AddLocation registers a location on domain.
func (m *MemoryClient) AddLocation(domain string, loc Location) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.shop(domain)
	s.locations = append(s.locations, loc)
}

// AddVariant registers a variant on domain, with optional per-location levels.
func (m *MemoryClient) AddVariant(domain string, v Variant, levels ...LocationQuantity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.shop(domain)
	s.variants = append(s.variants, v)
	for _, l := range levels {
		m.setLevel(s, v.InventoryItemRef, l.LocationRef, l.Quantities)
	}
}

func (m *MemoryClient) setLevel(s *memoryShop, item, loc string, q model.Quantities) {
	item, loc = GID("InventoryItem", item), GID("Location", loc)
	if s.levels[item] == nil {
		s.levels[item] = make(map[string]model.Quantities)
	}
	s.levels[item][loc] = q
}

// Fail makes every call against domain return err; nil clears it.
func (m *MemoryClient) Fail(domain string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shop(domain).failWith = err
}

// Delay makes every call against domain wait d or until the context ends.
func (m *MemoryClient) Delay(domain string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shop(domain).delay = d
}

// Calls returns the recorded SetQuantities calls.
func (m *MemoryClient) Calls() []SetCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SetCall(nil), m.calls...)
}

// Available returns the stored available quantity of an item at a location.
func (m *MemoryClient) Available(domain, item, loc string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shop(domain).levels[GID("InventoryItem", item)][GID("Location", loc)].Available
}

// enter applies the configured delay and failure for domain.
func (m *MemoryClient) enter(ctx context.Context, domain string) (*memoryShop, error) {
	m.mu.Lock()
	s := m.shop(domain)
	delay, failWith := s.delay, s.failWith
	m.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	if failWith != nil {
		return nil, failWith
	}
	return s, nil
}

// ReadLocationQuantities returns stored levels of an item.
func (m *MemoryClient) ReadLocationQuantities(ctx context.Context, sess Session, inventoryItemRef string) ([]LocationQuantity, error) {
	s, err := m.enter(ctx, sess.Domain)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	levels := s.levels[GID("InventoryItem", inventoryItemRef)]
	out := make([]LocationQuantity, 0, len(levels))
	for loc, q := range levels {
		out = append(out, LocationQuantity{LocationRef: loc, Quantities: q})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocationRef < out[j].LocationRef })
	return out, nil
}

// SetQuantities stores the given available quantities and records the call.
func (m *MemoryClient) SetQuantities(ctx context.Context, sess Session, updates []QuantityUpdate, reason string) error {
	s, err := m.enter(ctx, sess.Domain)
	if err != nil {
		return err
	}
	if len(updates) > MaxBatchItems {
		return UserErrors{{Field: []string{"input", "quantities"}, Message: fmt.Sprintf("at most %d quantities per request", MaxBatchItems)}}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range updates {
		if u.Quantity < 0 {
			return UserErrors{{Field: []string{"input", "quantities", "quantity"}, Message: "must be non-negative"}}
		}
	}
	for _, u := range updates {
		item, loc := GID("InventoryItem", u.InventoryItemRef), GID("Location", u.LocationRef)
		q := s.levels[item][loc]
		q.Available = u.Quantity
		m.setLevel(s, item, loc, q)
	}
	m.calls = append(m.calls, SetCall{Domain: sess.Domain, Updates: append([]QuantityUpdate(nil), updates...), Reason: reason})
	return nil
}

// ListLocations returns the registered locations.
func (m *MemoryClient) ListLocations(ctx context.Context, sess Session) ([]Location, error) {
	s, err := m.enter(ctx, sess.Domain)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Location(nil), s.locations...), nil
}

// FindVariantBySku finds a registered variant by SKU.
func (m *MemoryClient) FindVariantBySku(ctx context.Context, sess Session, sku string) (*Variant, error) {
	s, err := m.enter(ctx, sess.Domain)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range s.variants {
		if v.SKU == sku {
			v = withLevels(s, v)
			return &v, nil
		}
	}
	return nil, ErrVariantNotFound
}

// LookupInventoryItem finds a registered variant by inventory item; global and legacy ids both match.
func (m *MemoryClient) LookupInventoryItem(ctx context.Context, sess Session, inventoryItemRef string) (*Variant, error) {
	s, err := m.enter(ctx, sess.Domain)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	want := GID("InventoryItem", inventoryItemRef)
	for _, v := range s.variants {
		if GID("InventoryItem", v.InventoryItemRef) == want {
			v = withLevels(s, v)
			return &v, nil
		}
	}
	return nil, ErrVariantNotFound
}

// ListVariants pages through registered variants; the cursor is the next offset.
func (m *MemoryClient) ListVariants(ctx context.Context, sess Session, cursor string, limit int) ([]Variant, string, error) {
	s, err := m.enter(ctx, sess.Domain)
	if err != nil {
		return nil, "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	offset := 0
	if cursor != "" {
		if offset, err = strconv.Atoi(cursor); err != nil {
			return nil, "", fmt.Errorf("invalid cursor %q", cursor)
		}
	}
	if limit <= 0 {
		limit = 250
	}
	if offset >= len(s.variants) {
		return nil, "", nil
	}
	end := min(offset+limit, len(s.variants))
	page := make([]Variant, 0, end-offset)
	for _, v := range s.variants[offset:end] {
		page = append(page, withLevels(s, v))
	}
	next := ""
	if end < len(s.variants) {
		next = strconv.Itoa(end)
	}
	return page, next, nil
}

// withLevels returns v carrying its stored levels sorted by location.
func withLevels(s *memoryShop, v Variant) Variant {
	v.Levels = nil
	for loc, q := range s.levels[GID("InventoryItem", v.InventoryItemRef)] {
		v.Levels = append(v.Levels, LocationQuantity{LocationRef: loc, Quantities: q})
	}
	sort.Slice(v.Levels, func(i, j int) bool { return v.Levels[i].LocationRef < v.Levels[j].LocationRef })
	return v
}

var _ Client = (*MemoryClient)(nil)
