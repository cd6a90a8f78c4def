package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedger_Lifecycle(t *testing.T) {
	f := newFixture(t, DefaultEngineConfig())
	l := f.ledger
	ctx := context.Background()

	assert.False(t, l.IsProcessed(ctx, "evt-1"))

	created, err := l.Create(ctx, "evt-1", "orders/create", shopA, []byte(`{}`))
	require.NoError(t, err)
	assert.True(t, created)
	created, err = l.Create(ctx, "evt-1", "orders/create", shopA, []byte(`{}`))
	require.NoError(t, err)
	assert.False(t, created)
	assert.False(t, l.IsProcessed(ctx, "evt-1"))

	require.NoError(t, l.MarkProcessed(ctx, "evt-1", "orders/create", shopA))
	assert.True(t, l.IsProcessed(ctx, "evt-1"))
}

func TestLedger_FailuresExhaust(t *testing.T) {
	f := newFixture(t, DefaultEngineConfig())
	l := f.ledger
	ctx := context.Background()

	_, err := l.Create(ctx, "evt-2", "orders/create", shopA, nil)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		exhausted, err := l.MarkFailed(ctx, "evt-2", "boom")
		require.NoError(t, err)
		assert.False(t, exhausted)
		assert.False(t, l.IsProcessed(ctx, "evt-2"))
	}
	exhausted, err := l.MarkFailed(ctx, "evt-2", "boom")
	require.NoError(t, err)
	assert.True(t, exhausted)
	assert.True(t, l.IsProcessed(ctx, "evt-2"), "exhausted entries stop redelivery")

	e, err := l.Get(ctx, "evt-2")
	require.NoError(t, err)
	assert.Equal(t, 3, e.RetryCount)
	assert.Equal(t, "boom", e.LastError)
}

func TestCleanupScheduler_RunNow(t *testing.T) {
	f := newFixture(t, DefaultEngineConfig())
	ctx := context.Background()

	require.NoError(t, f.ledger.MarkProcessed(ctx, "old", "orders/create", shopA))
	_, err := f.ledger.Create(ctx, "old-pending", "orders/create", shopA, nil)
	require.NoError(t, err)

	f.clock.Advance(30 * 24 * time.Hour)
	require.NoError(t, f.ledger.MarkProcessed(ctx, "fresh", "orders/create", shopA))

	s := NewCleanupScheduler(f.ledger, f.metrics, CleanupConfig{Retention: 7 * 24 * time.Hour, Interval: time.Hour})
	deleted, err := s.RunNow()
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	assert.True(t, f.ledger.IsProcessed(ctx, "fresh"))
	_, err = f.ledger.Get(ctx, "old-pending")
	assert.NoError(t, err, "unprocessed entries are kept")
}

func TestCleanupScheduler_StartStop(t *testing.T) {
	f := newFixture(t, DefaultEngineConfig())
	s := NewCleanupScheduler(f.ledger, nil, CleanupConfig{Interval: time.Hour, InitialDelay: time.Hour})
	s.Start()
	s.Start()
	s.Stop()
	s.Stop()
}
