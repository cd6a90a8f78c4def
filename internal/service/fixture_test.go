package service

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"stocksync/internal/metrics"
	"stocksync/internal/model"
	"stocksync/internal/platform"
	"stocksync/internal/repository"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	shopA = "alpha.myshopify.com"
	shopB = "bravo.myshopify.com"
	shopC = "charlie.myshopify.com"
)

var shops = []string{shopA, shopB, shopC}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	store    *repository.SQLStore
	platform *platform.MemoryClient
	engine   *Engine
	ledger   *Ledger
	handler  *Handler
	metrics  *metrics.Registry
	clock    *testClock
	replicas map[string]*model.StoreReplica
	items    map[string]map[string]string // shop -> sku -> inventory item
	seq      int
}

func locRef(shop string) string {
	for i, s := range shops {
		if s == shop {
			return platform.GID("Location", fmt.Sprintf("%d01", i+1))
		}
	}
	return ""
}

func newFixture(t *testing.T, config EngineConfig) *fixture {
	t.Helper()
	ctx := context.Background()

	store, err := repository.NewSQLiteStore(filepath.Join(t.TempDir(), "sync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	client := platform.NewMemoryClient()
	reg := metrics.NewRegistry()
	engine := NewEngine(EngineDeps{
		Store:       store,
		Platform:    client,
		Credentials: repository.NewStaticCredentialRepository(nil),
		Metrics:     reg,
	}, config)

	clock := &testClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	engine.SetClock(clock.Now)
	ledger := NewLedger(store, 3)
	ledger.now = clock.Now

	f := &fixture{
		store:    store,
		platform: client,
		engine:   engine,
		ledger:   ledger,
		handler:  NewHandler(engine, ledger, reg),
		metrics:  reg,
		clock:    clock,
		replicas: make(map[string]*model.StoreReplica),
		items:    make(map[string]map[string]string),
	}
	for _, shop := range shops {
		client.AddLocation(shop, platform.Location{Ref: locRef(shop), Name: "Main", Active: true, Primary: true})
		r, err := store.UpsertReplica(ctx, &model.StoreReplica{Domain: shop, Active: true, SyncEnabled: true, CredentialRef: "token-" + shop})
		require.NoError(t, err)
		require.NoError(t, engine.locations.Refresh(ctx, r))
		f.replicas[shop] = r
		f.items[shop] = make(map[string]string)
	}
	return f
}

// addProduct creates sku with origin shopA, mapped in every shop, with q at
// shopA's primary location and q reported by every shop.
func (f *fixture) addProduct(t *testing.T, sku string, q model.Quantities) *model.Product {
	t.Helper()
	ctx := context.Background()
	origin := f.replicas[shopA]

	p, err := f.store.UpsertProduct(ctx, &model.Product{SKU: sku, Title: sku, TracksInventory: true, OriginReplicaID: origin.ID})
	require.NoError(t, err)

	f.seq++
	for i, shop := range shops {
		id := fmt.Sprintf("%d%02d", i+1, f.seq)
		item := platform.GID("InventoryItem", id)
		f.items[shop][sku] = item
		f.platform.AddVariant(shop, platform.Variant{
			ProductRef:       platform.GID("Product", id),
			VariantRef:       platform.GID("ProductVariant", id),
			InventoryItemRef: item,
			SKU:              sku,
			Title:            sku,
			TracksInventory:  true,
		}, platform.LocationQuantity{LocationRef: locRef(shop), Quantities: q})
		require.NoError(t, f.store.UpsertMapping(ctx, &model.ProductStoreMapping{
			ProductID:         p.ID,
			ReplicaID:         f.replicas[shop].ID,
			ExternalProductID: platform.GID("Product", id),
			ExternalVariantID: platform.GID("ProductVariant", id),
			InventoryItemID:   item,
			SyncStatus:        model.MappingActive,
		}))
	}

	loc, err := f.store.GetLocation(ctx, origin.ID, locRef(shopA))
	require.NoError(t, err)
	require.NoError(t, f.store.UpsertLocationRow(ctx, model.InventoryLocationRow{
		ProductID:  p.ID,
		LocationID: loc.ID,
		Quantities: q,
	}, false))
	return p
}

func (f *fixture) aggregate(t *testing.T, productID int64) model.Quantities {
	t.Helper()
	agg, err := f.store.GetAggregate(context.Background(), productID)
	require.NoError(t, err)
	return agg.Quantities
}

func (f *fixture) remote(shop, sku string) int {
	return f.platform.Available(shop, f.items[shop][sku], locRef(shop))
}

func (f *fixture) ops(t *testing.T, productID int64, direction string) []model.SyncOperation {
	t.Helper()
	all, _, err := f.store.ListOperations(context.Background(), model.OperationFilter{ProductID: productID, Limit: 200})
	require.NoError(t, err)
	var out []model.SyncOperation
	for _, op := range all {
		if op.Direction == direction {
			out = append(out, op)
		}
	}
	return out
}

func (f *fixture) process(t *testing.T, eventID, topic, source, payload string) error {
	t.Helper()
	return f.handler.Process(context.Background(), model.Job{
		EventID: eventID,
		Topic:   topic,
		Source:  source,
		Payload: []byte(payload),
	})
}

func (f *fixture) level(sku, shop string, available int) model.Change {
	return model.Change{
		Source:           shop,
		InventoryItemRef: f.items[shop][sku],
		LocationRef:      locRef(shop),
		Absolute:         model.IntPtr(available),
		Cause:            model.CauseManualAdjustment,
	}
}

const twoLineOrder = `{
	"id": 5001,
	"line_items": [
		{"id": 1, "sku": "SKU-A", "variant_id": 11, "quantity": 2},
		{"id": 2, "sku": "SKU-B", "variant_id": 12, "quantity": 1}
	]
}`
