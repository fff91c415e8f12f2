package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDequeueOrdersByPriorityThenFIFO(t *testing.T) {
	q := New(4)
	require.NoError(t, q.Enqueue("jb_c", 200, "schedule"))
	require.NoError(t, q.Enqueue("jb_a", 10, "schedule"))
	require.NoError(t, q.Enqueue("jb_b", 10, "schedule"))

	ctx := context.Background()
	var order []string
	for i := 0; i < 3; i++ {
		item, err := q.Dequeue(ctx)
		require.NoError(t, err)
		order = append(order, item.JobID)
		q.ReleaseSlot()
	}

	// Lower priority value first; equal priorities keep enqueue order.
	assert.Equal(t, []string{"jb_a", "jb_b", "jb_c"}, order)
}

func TestEnqueueRejectsDuplicates(t *testing.T) {
	q := New(1)
	require.NoError(t, q.Enqueue("jb_1", 100, "schedule"))
	err := q.Enqueue("jb_1", 100, "schedule")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already queued")

	// Once dequeued the id can be enqueued again.
	item, ok := q.TryDequeue()
	require.True(t, ok)
	require.NotNil(t, item)
	q.ReleaseSlot()
	require.NoError(t, q.Enqueue("jb_1", 100, "schedule"))
}

func TestRemoveTombstonesQueuedJob(t *testing.T) {
	q := New(1)
	require.NoError(t, q.Enqueue("jb_keep", 100, "schedule"))
	require.NoError(t, q.Enqueue("jb_drop", 1, "schedule"))

	assert.True(t, q.Remove("jb_drop"))
	assert.False(t, q.Remove("jb_drop"), "second removal is a no-op")
	assert.False(t, q.Contains("jb_drop"))
	assert.True(t, q.Contains("jb_keep"))

	// The tombstone is skipped even though it had the better priority.
	item, ok := q.TryDequeue()
	require.True(t, ok)
	require.NotNil(t, item)
	assert.Equal(t, "jb_keep", item.JobID)
	q.ReleaseSlot()
}

func TestTryDequeueEmptyAndSlotExhaustion(t *testing.T) {
	q := New(1)

	item, slotFree := q.TryDequeue()
	assert.Nil(t, item, "empty queue yields no item")
	assert.True(t, slotFree, "the free slot is still reported")

	require.NoError(t, q.Enqueue("jb_1", 100, "schedule"))
	require.NoError(t, q.Enqueue("jb_2", 100, "schedule"))

	first, slotFree := q.TryDequeue()
	require.True(t, slotFree)
	require.NotNil(t, first)

	// Slot held, second job must wait; saturation is distinguishable
	// from emptiness.
	item, slotFree = q.TryDequeue()
	assert.Nil(t, item)
	assert.False(t, slotFree, "saturated queue reports no slot")
	assert.True(t, q.Contains("jb_2"))

	q.ReleaseSlot()
	second, slotFree := q.TryDequeue()
	require.True(t, slotFree)
	require.NotNil(t, second)
	assert.Equal(t, "jb_2", second.JobID)
	q.ReleaseSlot()
}

func TestDequeueBlocksUntilEnqueue(t *testing.T) {
	q := New(1)
	got := make(chan *Item, 1)

	go func() {
		item, err := q.Dequeue(context.Background())
		if err == nil {
			got <- item
		}
	}()

	select {
	case <-got:
		t.Fatal("dequeue returned before anything was enqueued")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, q.Enqueue("jb_wake", 100, "manual"))

	select {
	case item := <-got:
		assert.Equal(t, "jb_wake", item.JobID)
		q.ReleaseSlot()
	case <-time.After(2 * time.Second):
		t.Fatal("dequeue did not wake up")
	}
}

func TestDequeueHonorsContextCancel(t *testing.T) {
	q := New(1)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(ctx)
		errCh <- err
	}()

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("dequeue did not observe cancellation")
	}

	// The reserved slot was returned on the cancel path.
	require.NoError(t, q.Enqueue("jb_later", 100, "schedule"))
	item, ok := q.TryDequeue()
	require.True(t, ok)
	require.NotNil(t, item)
	q.ReleaseSlot()
}

func TestConcurrencyBoundedBySlots(t *testing.T) {
	const maxConcurrent = 3
	q := New(maxConcurrent)

	for i := 0; i < 20; i++ {
		require.NoError(t, q.Enqueue(string(rune('a'+i)), 100, "schedule"))
	}

	var mu sync.Mutex
	running, peak := 0, 0

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		item, err := q.Dequeue(context.Background())
		require.NoError(t, err)
		wg.Add(1)
		go func(*Item) {
			defer wg.Done()
			mu.Lock()
			running++
			if running > peak {
				peak = running
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			running--
			mu.Unlock()
			q.ReleaseSlot()
		}(item)
	}
	wg.Wait()

	assert.LessOrEqual(t, peak, maxConcurrent)
	assert.Equal(t, maxConcurrent, peak, "all slots should have been used")
}

func TestStats(t *testing.T) {
	q := New(2)
	require.NoError(t, q.Enqueue("jb_1", 100, "schedule"))
	require.NoError(t, q.Enqueue("jb_2", 100, "schedule"))
	q.Remove("jb_2")

	item, ok := q.TryDequeue()
	require.True(t, ok)
	require.NotNil(t, item)

	s := q.Stats()
	assert.Equal(t, 0, s.Queued)
	assert.Equal(t, 1, s.Running)
	assert.Equal(t, 2, s.Capacity)
	assert.Equal(t, uint64(2), s.TotalEnqueued)
	assert.Equal(t, uint64(1), s.TotalDequeued)
	assert.Equal(t, uint64(1), s.TotalRemoved)
	q.ReleaseSlot()
}
