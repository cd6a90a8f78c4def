package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"stocksync/internal/model"
)

// Keys: <name>:ready (zset, score = due unix ms), <name>:processing
// (zset, score = visibility deadline), <name>:jobs (hash of job JSON).

var enqueueScript = redis.NewScript(`
	if redis.call("HEXISTS", KEYS[1], ARGV[1]) == 1 then
		return 0
	end
	redis.call("HSET", KEYS[1], ARGV[1], ARGV[2])
	redis.call("ZADD", KEYS[2], ARGV[3], ARGV[1])
	return 1
`)

var claimScript = redis.NewScript(`
	local expired = redis.call("ZRANGEBYSCORE", KEYS[2], "-inf", ARGV[1])
	for _, id in ipairs(expired) do
		redis.call("ZREM", KEYS[2], id)
		redis.call("ZADD", KEYS[1], ARGV[1], id)
	end
	local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, 1)
	if #ids == 0 then
		return false
	end
	local id = ids[1]
	redis.call("ZREM", KEYS[1], id)
	local job = redis.call("HGET", KEYS[3], id)
	if not job then
		return false
	end
	redis.call("ZADD", KEYS[2], ARGV[2], id)
	return job
`)

var rescheduleScript = redis.NewScript(`
	redis.call("ZREM", KEYS[2], ARGV[1])
	redis.call("HSET", KEYS[3], ARGV[1], ARGV[2])
	redis.call("ZADD", KEYS[1], ARGV[3], ARGV[1])
	return 1
`)

// RedisQueue is a Queue shared by every worker process.
type RedisQueue struct {
	client     *redis.Client
	name       string
	visibility time.Duration
	now        func() time.Time
}

// NewRedisQueue creates a queue under the key namespace name.
func NewRedisQueue(client *redis.Client, name string, visibility time.Duration) *RedisQueue {
	if name == "" {
		name = "stocksync:events"
	}
	if visibility <= 0 {
		visibility = 2 * time.Minute
	}
	log.WithField("component", "queue").Infof("Redis queue ready, name:%s, visibility:%v", name, visibility)
	return &RedisQueue{client: client, name: name, visibility: visibility, now: time.Now}
}

func (q *RedisQueue) readyKey() string      { return q.name + ":ready" }
func (q *RedisQueue) processingKey() string { return q.name + ":processing" }
func (q *RedisQueue) jobsKey() string       { return q.name + ":jobs" }

func score(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// Enqueue makes job ready now.
func (q *RedisQueue) Enqueue(ctx context.Context, job model.Job) (bool, error) {
	return q.EnqueueWithDelay(ctx, job, 0)
}

// EnqueueWithDelay makes job ready after delay.
func (q *RedisQueue) EnqueueWithDelay(ctx context.Context, job model.Job, delay time.Duration) (bool, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("failed to marshal job: %w", err)
	}
	n, err := enqueueScript.Run(ctx, q.client, []string{q.jobsKey(), q.readyKey()},
		job.EventID, data, score(q.now().Add(delay))).Int()
	if err != nil {
		return false, fmt.Errorf("failed to enqueue %s: %w", job.EventID, err)
	}
	return n == 1, nil
}

// Dequeue claims the next due job, first returning timed-out claims to the ready set.
func (q *RedisQueue) Dequeue(ctx context.Context) (*model.Job, error) {
	now := q.now()
	data, err := claimScript.Run(ctx, q.client, []string{q.readyKey(), q.processingKey(), q.jobsKey()},
		score(now), score(now.Add(q.visibility))).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	var job model.Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

// Complete drops a claimed job.
func (q *RedisQueue) Complete(ctx context.Context, eventID string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.processingKey(), eventID)
	pipe.ZRem(ctx, q.readyKey(), eventID)
	pipe.HDel(ctx, q.jobsKey(), eventID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to complete %s: %w", eventID, err)
	}
	return nil
}

// Reschedule releases a claimed job to run again after delay.
func (q *RedisQueue) Reschedule(ctx context.Context, job model.Job, delay time.Duration) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	err = rescheduleScript.Run(ctx, q.client, []string{q.readyKey(), q.processingKey(), q.jobsKey()},
		job.EventID, data, score(q.now().Add(delay))).Err()
	if err != nil {
		return fmt.Errorf("failed to reschedule %s: %w", job.EventID, err)
	}
	return nil
}

// Size returns the number of queued and in-flight jobs.
func (q *RedisQueue) Size(ctx context.Context) (int64, error) {
	return q.client.HLen(ctx, q.jobsKey()).Result()
}

// Close closes the underlying client.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

var _ Queue = (*RedisQueue)(nil)
