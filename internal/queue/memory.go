package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"stocksync/internal/model"
)

type memoryItem struct {
	job      model.Job
	due      time.Time
	claimed  bool
	deadline time.Time
	seq      uint64
}

// MemoryQueue is an in-process Queue for single-instance deployments and tests.
type MemoryQueue struct {
	mu         sync.Mutex
	items      map[string]*memoryItem
	seq        uint64
	visibility time.Duration
	now        func() time.Time
}

// NewMemoryQueue creates an in-memory queue. A claimed job returns to the
// queue if it is not completed within visibility.
func NewMemoryQueue(visibility time.Duration) *MemoryQueue {
	if visibility <= 0 {
		visibility = 2 * time.Minute
	}
	return &MemoryQueue{
		items:      make(map[string]*memoryItem),
		visibility: visibility,
		now:        time.Now,
	}
}

// Enqueue makes job ready now.
func (q *MemoryQueue) Enqueue(ctx context.Context, job model.Job) (bool, error) {
	return q.EnqueueWithDelay(ctx, job, 0)
}

// EnqueueWithDelay makes job ready after delay.
func (q *MemoryQueue) EnqueueWithDelay(_ context.Context, job model.Job, delay time.Duration) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.items[job.EventID]; exists {
		return false, nil
	}
	q.seq++
	q.items[job.EventID] = &memoryItem{job: job, due: q.now().Add(delay), seq: q.seq}
	return true, nil
}

// Dequeue claims the oldest due job.
func (q *MemoryQueue) Dequeue(_ context.Context) (*model.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var due []*memoryItem
	for _, it := range q.items {
		if it.claimed && now.After(it.deadline) {
			it.claimed = false
			it.due = now
		}
		if !it.claimed && !it.due.After(now) {
			due = append(due, it)
		}
	}
	if len(due) == 0 {
		return nil, nil
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].due.Equal(due[j].due) {
			return due[i].due.Before(due[j].due)
		}
		return due[i].seq < due[j].seq
	})

	it := due[0]
	it.claimed = true
	it.deadline = now.Add(q.visibility)
	job := it.job
	return &job, nil
}

// Complete drops a job.
func (q *MemoryQueue) Complete(_ context.Context, eventID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.items, eventID)
	return nil
}

// Reschedule releases job to run again after delay.
func (q *MemoryQueue) Reschedule(_ context.Context, job model.Job, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	q.items[job.EventID] = &memoryItem{job: job, due: q.now().Add(delay), seq: q.seq}
	return nil
}

// Size returns the number of queued and in-flight jobs.
func (q *MemoryQueue) Size(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return int64(len(q.items)), nil
}

// Close is a no-op.
func (q *MemoryQueue) Close() error {
	return nil
}

var _ Queue = (*MemoryQueue)(nil)
