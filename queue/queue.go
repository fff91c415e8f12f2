// Package queue provides the in-memory dispatch queue feeding the worker
// pool. Jobs wait here between the due scan and execution, ordered by
// priority, with a counting semaphore bounding how many run at once.
package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/melosso/reef/errors"
)

// Item is a job waiting for dispatch.
type Item struct {
	JobID       string
	Priority    int // lower value dispatches first
	TriggeredBy string
	EnqueuedAt  time.Time

	// seq breaks priority ties in enqueue order.
	seq uint64
	// index is maintained by the heap, -1 once popped.
	index int
	// removed marks a tombstone: the entry stays heap-resident but is
	// discarded on pop instead of dispatched.
	removed bool
}

type itemHeap []*Item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap) Push(x interface{}) {
	item := x.(*Item)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *itemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// Stats is a point-in-time snapshot of queue state.
type Stats struct {
	Queued        int
	Running       int
	Capacity      int
	TotalEnqueued uint64
	TotalDequeued uint64
	TotalRemoved  uint64
}

// Queue is a priority queue with a counting semaphore for worker
// slots. Dequeue blocks until both a job and a free slot are available;
// every dequeued job must be paired with exactly one ReleaseSlot call.
type Queue struct {
	mu      sync.Mutex
	heap    itemHeap
	byJobID map[string]*Item
	nextSeq uint64

	// ready is signalled when an item lands in an empty queue.
	ready chan struct{}
	// slots is the counting semaphore bounding concurrent executions.
	slots chan struct{}

	totalEnqueued uint64
	totalDequeued uint64
	totalRemoved  uint64
}

// New creates a queue allowing maxConcurrent simultaneous executions.
func New(maxConcurrent int) *Queue {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Queue{
		byJobID: make(map[string]*Item),
		ready:   make(chan struct{}, 1),
		slots:   make(chan struct{}, maxConcurrent),
	}
}

// Enqueue adds a job to the queue. A job already queued is not enqueued
// twice; the existing entry keeps its position. The queue itself is
// unbounded, backpressure surfaces as depth in Stats.
func (q *Queue) Enqueue(jobID string, priority int, triggeredBy string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if existing, ok := q.byJobID[jobID]; ok && !existing.removed {
		return errors.Newf("job %s is already queued", jobID)
	}

	item := &Item{
		JobID:       jobID,
		Priority:    priority,
		TriggeredBy: triggeredBy,
		EnqueuedAt:  time.Now().UTC(),
		seq:         q.nextSeq,
	}
	q.nextSeq++
	q.totalEnqueued++
	heap.Push(&q.heap, item)
	q.byJobID[jobID] = item

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

// Dequeue blocks until a job and a worker slot are both available, then
// returns the highest-priority job. The caller owns a slot afterwards and
// must call ReleaseSlot when the job finishes.
func (q *Queue) Dequeue(ctx context.Context) (*Item, error) {
	select {
	case q.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	for {
		if item := q.pop(); item != nil {
			return item, nil
		}
		select {
		case <-q.ready:
		case <-ctx.Done():
			<-q.slots
			return nil, ctx.Err()
		}
	}
}

// TryDequeue is the non-blocking variant. The bool reports whether a worker
// slot was free, so callers can tell saturation apart from an empty queue:
// (item, true) dispatched a job, (nil, true) a slot was free but nothing was
// queued, (nil, false) all slots are taken.
func (q *Queue) TryDequeue() (*Item, bool) {
	select {
	case q.slots <- struct{}{}:
	default:
		return nil, false
	}
	if item := q.pop(); item != nil {
		return item, true
	}
	<-q.slots
	return nil, true
}

// pop removes and returns the best live item, discarding tombstones.
func (q *Queue) pop() *Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.heap.Len() > 0 {
		item := heap.Pop(&q.heap).(*Item)
		delete(q.byJobID, item.JobID)
		if item.removed {
			continue
		}
		// Keep other blocked dequeuers awake while items remain.
		if len(q.byJobID) > 0 {
			select {
			case q.ready <- struct{}{}:
			default:
			}
		}
		q.totalDequeued++
		return item
	}
	return nil
}

// ReleaseSlot returns a worker slot after a dequeued job finishes.
func (q *Queue) ReleaseSlot() {
	select {
	case <-q.slots:
	default:
		// Unpaired release; nothing sane to do beyond ignoring it.
	}

	// A waiting Dequeue may now be able to proceed.
	q.mu.Lock()
	n := q.liveLen()
	q.mu.Unlock()
	if n > 0 {
		select {
		case q.ready <- struct{}{}:
		default:
		}
	}
}

// Remove cancels a queued job before dispatch. The heap entry becomes a
// tombstone, so removal is O(1) and the heap never needs re-ordering.
// Returns false when the job is not queued.
func (q *Queue) Remove(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.byJobID[jobID]
	if !ok || item.removed {
		return false
	}
	item.removed = true
	delete(q.byJobID, jobID)
	q.totalRemoved++
	return true
}

// Contains reports whether a job is currently queued.
func (q *Queue) Contains(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.byJobID[jobID]
	return ok && !item.removed
}

// Stats returns a snapshot of queue and slot usage.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Queued:        q.liveLen(),
		Running:       len(q.slots),
		Capacity:      cap(q.slots),
		TotalEnqueued: q.totalEnqueued,
		TotalDequeued: q.totalDequeued,
		TotalRemoved:  q.totalRemoved,
	}
}

// liveLen counts non-tombstone entries. Callers hold q.mu.
func (q *Queue) liveLen() int {
	return len(q.byJobID)
}
