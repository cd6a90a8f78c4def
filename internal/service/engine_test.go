package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stocksync/internal/model"
	"stocksync/internal/platform"
	"stocksync/internal/webhook"
)

func TestOrderCreated_UpdatesCentralAndOtherReplicas(t *testing.T) {
	f := newFixture(t, DefaultEngineConfig())
	a := f.addProduct(t, "SKU-A", model.Quantities{Available: 100})
	b := f.addProduct(t, "SKU-B", model.Quantities{Available: 50})

	require.NoError(t, f.process(t, "evt-1", webhook.TopicOrdersCreate, shopB, twoLineOrder))

	assert.Equal(t, model.Quantities{Available: 98, Committed: 2}, f.aggregate(t, a.ID))
	assert.Equal(t, model.Quantities{Available: 49, Committed: 1}, f.aggregate(t, b.ID))

	inbound := f.ops(t, a.ID, model.StoreToCentral)
	require.Len(t, inbound, 1)
	assert.Equal(t, model.CauseOrderCreated, inbound[0].Cause)
	assert.Equal(t, LineKey("evt-1", "1"), inbound[0].EventID)
	assert.Equal(t, 100, *inbound[0].PreviousValue)
	assert.Equal(t, 98, *inbound[0].NewValue)
	require.Len(t, f.ops(t, b.ID, model.StoreToCentral), 1)

	pushes := f.ops(t, a.ID, model.CentralToStore)
	require.Len(t, pushes, 2)
	targets := map[int64]bool{}
	for _, op := range pushes {
		assert.Equal(t, model.StatusCompleted, op.Status)
		assert.Equal(t, 98, *op.NewValue)
		targets[op.ReplicaID] = true
	}
	assert.True(t, targets[f.replicas[shopA].ID])
	assert.True(t, targets[f.replicas[shopC].ID])
	assert.False(t, targets[f.replicas[shopB].ID], "source replica must not be pushed")

	assert.Equal(t, 98, f.remote(shopA, "SKU-A"))
	assert.Equal(t, 98, f.remote(shopC, "SKU-A"))
	assert.Equal(t, 49, f.remote(shopC, "SKU-B"))

	assert.True(t, f.ledger.IsProcessed(context.Background(), "evt-1"))
	assert.True(t, f.ledger.IsProcessed(context.Background(), LineKey("evt-1", "2")))
}

func TestOrderCreated_RedeliveryAppliesOnce(t *testing.T) {
	f := newFixture(t, DefaultEngineConfig())
	a := f.addProduct(t, "SKU-A", model.Quantities{Available: 100})
	f.addProduct(t, "SKU-B", model.Quantities{Available: 50})

	require.NoError(t, f.process(t, "evt-1", webhook.TopicOrdersCreate, shopB, twoLineOrder))
	require.NoError(t, f.process(t, "evt-1", webhook.TopicOrdersCreate, shopB, twoLineOrder))

	assert.Equal(t, 98, f.aggregate(t, a.ID).Available)
	assert.Len(t, f.ops(t, a.ID, model.StoreToCentral), 1)
}

func TestOrderCreated_RetrySkipsFinishedLines(t *testing.T) {
	f := newFixture(t, DefaultEngineConfig())
	a := f.addProduct(t, "SKU-A", model.Quantities{Available: 100})
	b := f.addProduct(t, "SKU-B", model.Quantities{Available: 50})

	// Line 1 went through on an earlier attempt.
	require.NoError(t, f.ledger.MarkProcessed(context.Background(), LineKey("evt-2", "1"), webhook.TopicOrdersCreate, shopB))
	require.NoError(t, f.process(t, "evt-2", webhook.TopicOrdersCreate, shopB, twoLineOrder))

	assert.Equal(t, 100, f.aggregate(t, a.ID).Available)
	assert.Equal(t, 49, f.aggregate(t, b.ID).Available)
}

func TestOrderCancelled_RestoresStock(t *testing.T) {
	f := newFixture(t, DefaultEngineConfig())
	a := f.addProduct(t, "SKU-A", model.Quantities{Available: 100})
	f.addProduct(t, "SKU-B", model.Quantities{Available: 50})

	require.NoError(t, f.process(t, "evt-1", webhook.TopicOrdersCreate, shopB, twoLineOrder))
	require.NoError(t, f.process(t, "evt-2", webhook.TopicOrdersCancelled, shopB, twoLineOrder))

	assert.Equal(t, model.Quantities{Available: 100}, f.aggregate(t, a.ID))
}

func TestRefundCreated_RestockTypes(t *testing.T) {
	f := newFixture(t, DefaultEngineConfig())
	a := f.addProduct(t, "SKU-A", model.Quantities{Available: 100})
	b := f.addProduct(t, "SKU-B", model.Quantities{Available: 50, Committed: 3})

	refund := `{
		"id": 900,
		"order_id": 5001,
		"refund_line_items": [
			{"id": 1, "line_item_id": 1, "quantity": 5, "restock_type": "no_restock", "location_id": 101, "line_item": {"id": 1, "sku": "SKU-A", "quantity": 5}},
			{"id": 2, "line_item_id": 2, "quantity": 1, "restock_type": "return", "location_id": 101, "line_item": {"id": 2, "sku": "SKU-A", "quantity": 1}},
			{"id": 3, "line_item_id": 3, "quantity": 2, "restock_type": "cancel", "location_id": 101, "line_item": {"id": 3, "sku": "SKU-B", "quantity": 2}}
		]
	}`
	require.NoError(t, f.process(t, "evt-r", webhook.TopicRefundsCreate, shopA, refund))

	assert.Equal(t, model.Quantities{Available: 101}, f.aggregate(t, a.ID))
	assert.Equal(t, model.Quantities{Available: 52, Committed: 1}, f.aggregate(t, b.ID))
	assert.False(t, f.ledger.IsProcessed(context.Background(), LineKey("evt-r", "1")), "unrestocked line is not recorded")

	// Pushed to the other replicas only.
	assert.Equal(t, 101, f.remote(shopB, "SKU-A"))
	assert.Equal(t, 52, f.remote(shopC, "SKU-B"))
	assert.Equal(t, 100, f.remote(shopA, "SKU-A"))
}

func TestInventoryLevel_EchoIsDropped(t *testing.T) {
	f := newFixture(t, DefaultEngineConfig())
	a := f.addProduct(t, "SKU-A", model.Quantities{Available: 100})
	f.addProduct(t, "SKU-B", model.Quantities{Available: 50})
	ctx := context.Background()

	require.NoError(t, f.process(t, "evt-1", webhook.TopicOrdersCreate, shopB, twoLineOrder))

	res, err := f.engine.ProcessChange(ctx, f.level("SKU-A", shopC, 98))
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, "echo of own push", res.Reason)
	assert.Len(t, f.ops(t, a.ID, model.StoreToCentral), 1)

	// Past the echo window the same value is simply in sync.
	f.clock.Advance(11 * time.Second)
	res, err = f.engine.ProcessChange(ctx, f.level("SKU-A", shopC, 98))
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, "in sync", res.Reason)
	assert.Equal(t, 98, f.aggregate(t, a.ID).Available)
}

func TestInventoryLevel_MismatchIsApplied(t *testing.T) {
	f := newFixture(t, DefaultEngineConfig())
	a := f.addProduct(t, "SKU-A", model.Quantities{Available: 100})

	res, err := f.engine.ProcessChange(context.Background(), f.level("SKU-A", shopC, 90))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Nil(t, res.Conflict)
	assert.Equal(t, 100, res.Previous)
	assert.Equal(t, 90, res.Current)
	assert.Equal(t, 2, res.Targets)

	assert.Equal(t, 90, f.aggregate(t, a.ID).Available)
	assert.Equal(t, 90, f.remote(shopA, "SKU-A"))
	assert.Equal(t, 90, f.remote(shopB, "SKU-A"))
}

func TestInventoryLevel_OriginLocationIsSetDirectly(t *testing.T) {
	f := newFixture(t, DefaultEngineConfig())
	a := f.addProduct(t, "SKU-A", model.Quantities{Available: 100, Committed: 4})

	res, err := f.engine.ProcessChange(context.Background(), f.level("SKU-A", shopA, 80))
	require.NoError(t, err)
	assert.Equal(t, 80, res.Current)
	assert.Equal(t, model.Quantities{Available: 80, Committed: 4}, f.aggregate(t, a.ID))
	assert.Equal(t, 80, f.remote(shopC, "SKU-A"))
}

func TestInventoryLevel_CollisionAutoResolvesToLowest(t *testing.T) {
	f := newFixture(t, DefaultEngineConfig())
	a := f.addProduct(t, "SKU-A", model.Quantities{Available: 100})
	f.addProduct(t, "SKU-B", model.Quantities{Available: 50})

	require.NoError(t, f.process(t, "evt-1", webhook.TopicOrdersCreate, shopB, twoLineOrder))
	f.clock.Advance(time.Second)

	res, err := f.engine.ProcessChange(context.Background(), f.level("SKU-A", shopC, 95))
	require.NoError(t, err)
	require.NotNil(t, res.Conflict)
	assert.Equal(t, model.ConflictCollision, res.Conflict.Type)
	assert.True(t, res.Conflict.Resolved)
	assert.Equal(t, model.StrategyUseLowest, res.Conflict.Strategy)
	require.NotNil(t, res.Conflict.ResolvedValue)
	assert.Equal(t, 95, *res.Conflict.ResolvedValue)
	assert.Equal(t, 95, res.Current)

	assert.Equal(t, 95, f.aggregate(t, a.ID).Available)
	for _, shop := range shops {
		assert.Equal(t, 95, f.remote(shop, "SKU-A"), shop)
	}
}

func TestInventoryLevel_HigherValueInsideEchoWindow(t *testing.T) {
	f := newFixture(t, DefaultEngineConfig())
	a := f.addProduct(t, "SKU-A", model.Quantities{Available: 100})
	f.addProduct(t, "SKU-B", model.Quantities{Available: 50})
	ctx := context.Background()

	// shopB's order pushes 98 to shopC; shopC then reports a higher edit.
	require.NoError(t, f.process(t, "evt-1", webhook.TopicOrdersCreate, shopB, twoLineOrder))
	f.clock.Advance(time.Second)

	res, err := f.engine.ProcessChange(ctx, f.level("SKU-A", shopC, 120))
	require.NoError(t, err)
	assert.NotEqual(t, "echo of own push", res.Reason)
	require.NotNil(t, res.Conflict, "a competing change is inside the conflict window")
	assert.Equal(t, model.ConflictCollision, res.Conflict.Type)
	assert.Equal(t, 120, res.Conflict.StoreValue)
	assert.Equal(t, 98, *res.Conflict.ResolvedValue, "lowest wins")
	assert.Equal(t, 98, f.aggregate(t, a.ID).Available)
	assert.Equal(t, 98, f.remote(shopC, "SKU-A"))

	// Once the competing change ages out of the conflict window the edit is a
	// plain mismatch and is applied, even though the echo window is still open.
	f.clock.Advance(6 * time.Second)
	res, err = f.engine.ProcessChange(ctx, f.level("SKU-A", shopC, 120))
	require.NoError(t, err)
	assert.Nil(t, res.Conflict)
	assert.Equal(t, 120, res.Current)
	assert.Equal(t, 120, f.aggregate(t, a.ID).Available)
	assert.Equal(t, 120, f.remote(shopB, "SKU-A"))
}

func TestInventoryLevel_CollisionPendingWithoutAutoResolve(t *testing.T) {
	config := DefaultEngineConfig()
	config.AutoResolve = false
	f := newFixture(t, config)
	a := f.addProduct(t, "SKU-A", model.Quantities{Available: 100})
	f.addProduct(t, "SKU-B", model.Quantities{Available: 50})
	ctx := context.Background()

	require.NoError(t, f.process(t, "evt-1", webhook.TopicOrdersCreate, shopB, twoLineOrder))
	res, err := f.engine.ProcessChange(ctx, f.level("SKU-A", shopC, 95))
	require.NoError(t, err)
	require.NotNil(t, res.Conflict)
	assert.False(t, res.Conflict.Resolved)
	assert.Equal(t, 98, f.aggregate(t, a.ID).Available, "central is not touched while pending")

	pending, err := f.engine.Conflicts().Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	id := pending[0].ID

	_, err = f.engine.Conflicts().Resolve(ctx, id, model.StrategyManual, "ops")
	assert.ErrorIs(t, err, ErrManualResolution)
	_, err = f.engine.Conflicts().Resolve(ctx, id, "SOMETHING", "ops")
	assert.ErrorIs(t, err, ErrUnknownStrategy)

	c, err := f.engine.Conflicts().Resolve(ctx, id, model.StrategyUseStore, "ops")
	require.NoError(t, err)
	assert.True(t, c.Resolved)
	assert.Equal(t, "ops", c.ResolvedBy)
	assert.Equal(t, 95, f.aggregate(t, a.ID).Available)
	assert.Equal(t, 95, f.remote(shopC, "SKU-A"))

	again, err := f.engine.Conflicts().Resolve(ctx, id, model.StrategyUseHighest, "ops")
	require.NoError(t, err)
	assert.Equal(t, 95, *again.ResolvedValue)
	assert.Equal(t, model.StrategyUseStore, again.Strategy)
	assert.Equal(t, 95, f.aggregate(t, a.ID).Available)

	_, err = f.engine.Conflicts().Resolve(ctx, 999, model.StrategyUseLowest, "ops")
	assert.ErrorIs(t, err, ErrConflictNotFound)
}

func TestPropagate_FailureIsIsolated(t *testing.T) {
	f := newFixture(t, DefaultEngineConfig())
	a := f.addProduct(t, "SKU-A", model.Quantities{Available: 100})
	f.platform.Fail(shopC, &platform.Error{Domain: shopC, Status: 503, Message: "unavailable", Transient: true})

	res, err := f.engine.ProcessChange(context.Background(), model.Change{
		Source: shopB,
		SKU:    "SKU-A",
		Delta:  model.Quantities{Available: -2, Committed: 2},
		Cause:  model.CauseOrderCreated,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Targets)
	assert.Equal(t, 1, res.Failed)

	assert.Equal(t, 98, f.aggregate(t, a.ID).Available)
	assert.Equal(t, 98, f.remote(shopA, "SKU-A"))

	var failed, completed int
	for _, op := range f.ops(t, a.ID, model.CentralToStore) {
		switch op.Status {
		case model.StatusFailed:
			failed++
			assert.Equal(t, f.replicas[shopC].ID, op.ReplicaID)
			assert.NotEmpty(t, op.ErrorMessage)
		case model.StatusCompleted:
			completed++
		}
	}
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, completed)

	m, err := f.store.GetMapping(context.Background(), a.ID, f.replicas[shopC].ID)
	require.NoError(t, err)
	assert.Equal(t, model.MappingFailed, m.SyncStatus)
}

func TestPropagate_TimeoutIsIsolated(t *testing.T) {
	config := DefaultEngineConfig()
	config.PushTimeout = 50 * time.Millisecond
	f := newFixture(t, config)
	f.addProduct(t, "SKU-A", model.Quantities{Available: 100})
	f.platform.Delay(shopC, 2*time.Second)

	start := time.Now()
	res, err := f.engine.ProcessChange(context.Background(), model.Change{
		Source: shopB,
		SKU:    "SKU-A",
		Delta:  model.Quantities{Available: -1},
		Cause:  model.CauseOrderCreated,
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 99, f.remote(shopA, "SKU-A"))
}

func TestPropagate_SkipsInactiveReplica(t *testing.T) {
	f := newFixture(t, DefaultEngineConfig())
	a := f.addProduct(t, "SKU-A", model.Quantities{Available: 100})
	ctx := context.Background()
	require.NoError(t, f.store.SetReplicaState(ctx, f.replicas[shopC].ID, true, false))

	res, err := f.engine.ProcessChange(ctx, model.Change{Source: shopB, SKU: "SKU-A", Delta: model.Quantities{Available: -1}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Targets)
	assert.Equal(t, 100, f.remote(shopC, "SKU-A"))

	// Its own changes are still taken in.
	res, err = f.engine.ProcessChange(ctx, model.Change{Source: shopC, SKU: "SKU-A", Delta: model.Quantities{Available: -1}})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 98, f.aggregate(t, a.ID).Available)
}

func TestProcessChange_DiscoversUnknownSKU(t *testing.T) {
	f := newFixture(t, DefaultEngineConfig())
	ctx := context.Background()
	f.platform.AddVariant(shopA, platform.Variant{
		ProductRef:       "gid://shopify/Product/77",
		VariantRef:       "gid://shopify/ProductVariant/77",
		InventoryItemRef: "gid://shopify/InventoryItem/77",
		SKU:              "SKU-NEW",
		Title:            "New",
		TracksInventory:  true,
	}, platform.LocationQuantity{LocationRef: locRef(shopA), Quantities: model.Quantities{Available: 10}})

	res, err := f.engine.ProcessChange(ctx, model.Change{
		Source: shopA,
		SKU:    "SKU-NEW",
		Delta:  model.Quantities{Available: -1, Committed: 1},
		Cause:  model.CauseOrderCreated,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	// The seeded level already reflects the sale.
	assert.Equal(t, 10, res.Current)

	p, err := f.store.GetProductBySKU(ctx, "SKU-NEW")
	require.NoError(t, err)
	assert.Equal(t, f.replicas[shopA].ID, p.OriginReplicaID)
	assert.Equal(t, 10, f.aggregate(t, p.ID).Available)

	m, err := f.store.FindMappingByInventoryItem(ctx, f.replicas[shopA].ID, "gid://shopify/InventoryItem/77")
	require.NoError(t, err)
	assert.Equal(t, p.ID, m.ProductID)
}

func TestProcessChange_DiscoveryWithoutKnownLocations(t *testing.T) {
	f := newFixture(t, DefaultEngineConfig())
	ctx := context.Background()
	const shopD = "delta.myshopify.com"
	_, err := f.store.UpsertReplica(ctx, &model.StoreReplica{Domain: shopD, Active: true, SyncEnabled: true, CredentialRef: "token-d"})
	require.NoError(t, err)
	// delta lists no locations, so its level cannot be tied to a location row.
	f.platform.AddVariant(shopD, platform.Variant{
		ProductRef:       platform.GID("Product", "91"),
		VariantRef:       platform.GID("ProductVariant", "91"),
		InventoryItemRef: platform.GID("InventoryItem", "91"),
		SKU:              "SKU-Z",
		Title:            "Z",
		TracksInventory:  true,
	}, platform.LocationQuantity{LocationRef: platform.GID("Location", "999"), Quantities: model.Quantities{Available: 40}})

	sale := model.Change{
		Source: shopD,
		SKU:    "SKU-Z",
		Delta:  model.Quantities{Available: -1, Committed: 1},
		Cause:  model.CauseOrderCreated,
	}
	res, err := f.engine.ProcessChange(ctx, sale)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 40, res.Current)

	p, err := f.store.GetProductBySKU(ctx, "SKU-Z")
	require.NoError(t, err)
	assert.Equal(t, 40, f.aggregate(t, p.ID).Available)
	rows, err := f.store.ListLocationRows(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)

	// Later changes adjust the directly written aggregate.
	sale.Delta = model.Quantities{Available: -2, Committed: 2}
	res, err = f.engine.ProcessChange(ctx, sale)
	require.NoError(t, err)
	assert.Equal(t, 38, res.Current)
	assert.Equal(t, 38, f.aggregate(t, p.ID).Available)
}

func TestProcessChange_UnknownSKUIsSkipped(t *testing.T) {
	f := newFixture(t, DefaultEngineConfig())

	res, err := f.engine.ProcessChange(context.Background(), model.Change{Source: shopB, SKU: "NOPE", Delta: model.Quantities{Available: -1}})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.True(t, res.Skipped)
}

func TestProcessChange_LegacyInventoryItemID(t *testing.T) {
	f := newFixture(t, DefaultEngineConfig())
	a := f.addProduct(t, "SKU-A", model.Quantities{Available: 100})
	ctx := context.Background()

	// Mapping imported with a bare numeric id.
	m, err := f.store.GetMapping(ctx, a.ID, f.replicas[shopB].ID)
	require.NoError(t, err)
	m.InventoryItemID = platform.LegacyID(m.InventoryItemID)
	require.NoError(t, f.store.UpsertMapping(ctx, m))

	res, err := f.engine.ProcessChange(ctx, f.level("SKU-A", shopB, 60))
	require.NoError(t, err)
	assert.Equal(t, a.ID, res.ProductID)
	assert.Equal(t, 60, f.aggregate(t, a.ID).Available)
}

func TestBulkPush(t *testing.T) {
	config := DefaultEngineConfig()
	config.BatchSize = 1
	config.BatchPace = time.Millisecond
	f := newFixture(t, config)
	a := f.addProduct(t, "SKU-A", model.Quantities{Available: 100})
	f.addProduct(t, "SKU-B", model.Quantities{Available: 50})
	ctx := context.Background()

	_, err := f.store.ApplyAdjustment(ctx, a.ID, 0, model.Adjustment{Mode: model.AdjustSetAggregate, Target: 70}, time.Now())
	require.NoError(t, err)

	res, err := f.engine.BulkPush(ctx, shopC)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Products)
	assert.Equal(t, 2, res.Batches)
	assert.Zero(t, res.Failed)
	assert.Equal(t, 70, f.remote(shopC, "SKU-A"))
	assert.Equal(t, 50, f.remote(shopC, "SKU-B"))

	require.NoError(t, f.store.SetReplicaState(ctx, f.replicas[shopC].ID, false, false))
	_, err = f.engine.BulkPush(ctx, shopC)
	assert.ErrorIs(t, err, ErrReplicaInactive)

	_, err = f.engine.BulkPush(ctx, "unknown.myshopify.com")
	assert.ErrorIs(t, err, ErrReplicaNotFound)
}

func TestCatalogSync(t *testing.T) {
	f := newFixture(t, DefaultEngineConfig())
	ctx := context.Background()
	add := func(shop, id, sku string, available int) {
		f.platform.AddVariant(shop, platform.Variant{
			ProductRef:       platform.GID("Product", id),
			VariantRef:       platform.GID("ProductVariant", id),
			InventoryItemRef: platform.GID("InventoryItem", id),
			SKU:              sku,
			Title:            sku,
			TracksInventory:  true,
		}, platform.LocationQuantity{LocationRef: locRef(shop), Quantities: model.Quantities{Available: available}})
	}
	add(shopA, "1", "SKU-A", 7)
	add(shopA, "2", "SKU-B", 3)
	add(shopA, "3", "", 1)
	add(shopB, "11", "SKU-A", 50)

	res, err := f.engine.CatalogSync(ctx, shopA)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Variants)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 2, res.Rows)
	assert.Equal(t, 1, res.Skipped)

	p, err := f.store.GetProductBySKU(ctx, "SKU-A")
	require.NoError(t, err)
	assert.Equal(t, 7, f.aggregate(t, p.ID).Available)

	// A second replica only gains mappings; the origin's rows stay authoritative.
	res, err = f.engine.CatalogSync(ctx, shopB)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Variants)
	assert.Zero(t, res.Created)
	assert.Zero(t, res.Rows)
	assert.Equal(t, 7, f.aggregate(t, p.ID).Available)
	_, err = f.store.GetMapping(ctx, p.ID, f.replicas[shopB].ID)
	require.NoError(t, err)

	// Levels at locations the replica does not list seed the aggregate directly.
	f.platform.AddVariant(shopA, platform.Variant{
		ProductRef:       platform.GID("Product", "4"),
		VariantRef:       platform.GID("ProductVariant", "4"),
		InventoryItemRef: platform.GID("InventoryItem", "4"),
		SKU:              "SKU-C",
		Title:            "SKU-C",
		TracksInventory:  true,
	}, platform.LocationQuantity{LocationRef: platform.GID("Location", "999"), Quantities: model.Quantities{Available: 12}})
	res, err = f.engine.CatalogSync(ctx, shopA)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 2, res.Rows)
	c, err := f.store.GetProductBySKU(ctx, "SKU-C")
	require.NoError(t, err)
	assert.Equal(t, 12, f.aggregate(t, c.ID).Available)
	assert.Equal(t, 7, f.aggregate(t, p.ID).Available)

	ops, _, err := f.store.ListOperations(ctx, model.OperationFilter{ReplicaID: f.replicas[shopA].ID})
	require.NoError(t, err)
	require.NotEmpty(t, ops)
	assert.Equal(t, model.OpBulkSync, ops[0].OperationType)
}

func TestProductWebhooks(t *testing.T) {
	f := newFixture(t, DefaultEngineConfig())
	ctx := context.Background()

	product := `{
		"id": 42,
		"title": "Shirt",
		"variants": [
			{"id": 421, "sku": "SHIRT-S", "title": "Small", "inventory_item_id": 4210, "inventory_management": "shopify", "inventory_policy": "continue"},
			{"id": 422, "sku": null, "title": "Custom", "inventory_item_id": 4220}
		]
	}`
	require.NoError(t, f.process(t, "evt-p1", webhook.TopicProductsCreate, shopB, product))

	p, err := f.store.GetProductBySKU(ctx, "SHIRT-S")
	require.NoError(t, err)
	assert.Equal(t, "Shirt - Small", p.Title)
	assert.Equal(t, model.OversellContinue, p.OversellPolicy)
	assert.True(t, p.TracksInventory)
	assert.Equal(t, f.replicas[shopB].ID, p.OriginReplicaID)

	m, err := f.store.GetMapping(ctx, p.ID, f.replicas[shopB].ID)
	require.NoError(t, err)
	assert.Equal(t, "gid://shopify/InventoryItem/4210", m.InventoryItemID)

	require.NoError(t, f.process(t, "evt-p2", webhook.TopicProductsDelete, shopB, `{"id": 42}`))
	m, err = f.store.GetMapping(ctx, p.ID, f.replicas[shopB].ID)
	require.NoError(t, err)
	assert.Equal(t, model.MappingRemoved, m.SyncStatus)

	require.NoError(t, f.process(t, "evt-u", webhook.TopicAppUninstalled, shopB, `{"id": 1, "domain": "bravo.example"}`))
	r, err := f.store.GetReplicaByDomain(ctx, shopB)
	require.NoError(t, err)
	assert.False(t, r.Propagates())
}
