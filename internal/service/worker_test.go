package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stocksync/internal/model"
	"stocksync/internal/platform"
	"stocksync/internal/queue"
	"stocksync/internal/webhook"
)

func startPool(t *testing.T, q queue.Queue, h *Handler) (stop func()) {
	t.Helper()
	pool := NewWorkerPool(q, h, WorkerConfig{
		Workers:      2,
		MaxAttempts:  5,
		BackoffBase:  20 * time.Millisecond,
		BackoffMax:   200 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		pool.Run(ctx)
	}()
	return func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("worker pool did not stop")
		}
	}
}

func TestWorkerPool_ProcessesQueuedJobs(t *testing.T) {
	f := newFixture(t, DefaultEngineConfig())
	a := f.addProduct(t, "SKU-A", model.Quantities{Available: 100})
	f.addProduct(t, "SKU-B", model.Quantities{Available: 50})
	q := queue.NewMemoryQueue(time.Minute)
	ctx := context.Background()

	in := NewIntake(f.ledger, q, f.handler)
	status, err := in.Receive(ctx, Delivery{EventID: "evt-1", Topic: webhook.TopicOrdersCreate, Source: shopB, Payload: []byte(twoLineOrder)})
	require.NoError(t, err)
	require.Equal(t, ReceiveQueued, status)

	stop := startPool(t, q, f.handler)
	defer stop()

	require.Eventually(t, func() bool {
		return f.ledger.IsProcessed(ctx, "evt-1")
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, 98, f.aggregate(t, a.ID).Available)
	require.Eventually(t, func() bool {
		n, err := q.Size(ctx)
		return err == nil && n == 0
	}, time.Second, 5*time.Millisecond)
}

func TestWorkerPool_RetriesTransientFailures(t *testing.T) {
	f := newFixture(t, DefaultEngineConfig())
	f.ledger.maxRetries = 10
	q := queue.NewMemoryQueue(time.Minute)
	ctx := context.Background()

	f.platform.AddVariant(shopB, platform.Variant{
		ProductRef:       "gid://shopify/Product/5",
		VariantRef:       "gid://shopify/ProductVariant/5",
		InventoryItemRef: "gid://shopify/InventoryItem/5",
		SKU:              "SKU-R",
		TracksInventory:  true,
	}, platform.LocationQuantity{LocationRef: locRef(shopB), Quantities: model.Quantities{Available: 5}})
	f.platform.Fail(shopB, &platform.Error{Domain: shopB, Status: 429, Message: "throttled", Transient: true})

	order := `{"id": 1, "line_items": [{"id": 1, "sku": "SKU-R", "quantity": 1}]}`
	_, err := q.Enqueue(ctx, model.Job{EventID: "evt-r", Topic: webhook.TopicOrdersCreate, Source: shopB, Payload: []byte(order)})
	require.NoError(t, err)

	stop := startPool(t, q, f.handler)
	defer stop()

	require.Eventually(t, func() bool {
		e, err := f.ledger.Get(ctx, "evt-r")
		return err == nil && e.RetryCount >= 1
	}, 5*time.Second, 2*time.Millisecond)
	f.platform.Fail(shopB, nil)

	require.Eventually(t, func() bool {
		return f.ledger.IsProcessed(ctx, "evt-r")
	}, 5*time.Second, 5*time.Millisecond)

	p, err := f.store.GetProductBySKU(ctx, "SKU-R")
	require.NoError(t, err)
	assert.Equal(t, 5, f.aggregate(t, p.ID).Available)
}

func TestWorkerPool_DropsInvalidJobs(t *testing.T) {
	f := newFixture(t, DefaultEngineConfig())
	q := queue.NewMemoryQueue(time.Minute)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, model.Job{EventID: "evt-bad", Topic: webhook.TopicOrdersCreate, Source: shopB, Payload: []byte(`not json`)})
	require.NoError(t, err)

	stop := startPool(t, q, f.handler)
	defer stop()

	require.Eventually(t, func() bool {
		n, err := q.Size(ctx)
		return err == nil && n == 0
	}, 5*time.Second, 5*time.Millisecond)

	e, err := f.ledger.Get(ctx, "evt-bad")
	require.NoError(t, err)
	assert.Equal(t, 1, e.RetryCount)
	assert.False(t, e.Processed)
}
