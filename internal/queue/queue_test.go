package queue

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stocksync/internal/model"
)

func TestBackoff(t *testing.T) {
	base := 2 * time.Second
	maxDelay := 5 * time.Minute

	assert.Equal(t, 2*time.Second, Backoff(1, base, maxDelay))
	assert.Equal(t, 4*time.Second, Backoff(2, base, maxDelay))
	assert.Equal(t, 16*time.Second, Backoff(4, base, maxDelay))
	assert.Equal(t, maxDelay, Backoff(12, base, maxDelay))
	assert.Equal(t, maxDelay, Backoff(64, base, maxDelay))
	assert.Equal(t, base, Backoff(0, base, maxDelay))
}

// exerciseQueue runs the shared contract against any Queue with a controllable clock.
func exerciseQueue(t *testing.T, q Queue, advance func(time.Duration)) {
	ctx := context.Background()

	ok, err := q.Enqueue(ctx, model.Job{EventID: "a", Topic: "orders/create"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = q.Enqueue(ctx, model.Job{EventID: "a", Topic: "orders/create"})
	require.NoError(t, err)
	assert.False(t, ok, "duplicate event id is not queued twice")

	_, err = q.EnqueueWithDelay(ctx, model.Job{EventID: "b"}, time.Minute)
	require.NoError(t, err)

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "a", job.EventID)

	job2, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, job2, "delayed job is not due yet")

	job.Attempt = 1
	require.NoError(t, q.Reschedule(ctx, *job, 10*time.Second))
	size, err := q.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), size)

	advance(11 * time.Second)
	job, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "a", job.EventID)
	assert.Equal(t, 1, job.Attempt)
	require.NoError(t, q.Complete(ctx, "a"))

	advance(time.Minute)
	job, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "b", job.EventID)

	// Never completed: returns after the visibility timeout.
	advance(3 * time.Minute)
	job, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "b", job.EventID)
	require.NoError(t, q.Complete(ctx, "b"))

	size, err = q.Size(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestMemoryQueue(t *testing.T) {
	q := NewMemoryQueue(2 * time.Minute)
	now := time.Now()
	q.now = func() time.Time { return now }

	exerciseQueue(t, q, func(d time.Duration) { now = now.Add(d) })
}

func TestRedisQueue(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	name := "stocksync:test:" + t.Name()
	q := NewRedisQueue(client, name, 2*time.Minute)
	defer q.Close()
	defer client.Del(context.Background(), name+":ready", name+":processing", name+":jobs")

	now := time.Now()
	q.now = func() time.Time { return now }

	exerciseQueue(t, q, func(d time.Duration) { now = now.Add(d) })
}
