package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/hair3d/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_FIFO(t *testing.T) {
	q := NewMemory()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(ctx, fmt.Sprintf("job-%d", i)))
	}
	assert.Equal(t, 5, q.Len())

	for i := 0; i < 5; i++ {
		msg, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("job-%d", i), msg.JobID)
		assert.NoError(t, msg.Ack())
	}
	assert.Zero(t, q.Len())
}

func TestMemory_DequeueBlocksUntilEnqueue(t *testing.T) {
	q := NewMemory()

	got := make(chan string, 1)
	go func() {
		msg, err := q.Dequeue(context.Background())
		if err == nil {
			got <- msg.JobID
		}
	}()

	select {
	case <-got:
		t.Fatal("dequeue returned before anything was enqueued")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, q.Enqueue(context.Background(), "late"))

	select {
	case id := <-got:
		assert.Equal(t, "late", id)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not wake up")
	}
}

func TestMemory_DequeueHonorsContext(t *testing.T) {
	q := NewMemory()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemory_CloseDrainsThenStops(t *testing.T) {
	q := NewMemory()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "a"))
	require.NoError(t, q.Enqueue(ctx, "b"))
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())
	assert.Equal(t, 2, q.Len())

	assert.ErrorIs(t, q.Enqueue(ctx, "c"), domain.ErrQueueClosed)

	msg, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", msg.JobID)
	msg, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", msg.JobID)

	_, err = q.Dequeue(ctx)
	assert.ErrorIs(t, err, domain.ErrQueueClosed)
	_, err = q.Dequeue(ctx)
	assert.ErrorIs(t, err, domain.ErrQueueClosed)
	assert.Zero(t, q.Len())
}

func TestMemory_ConcurrentProducers(t *testing.T) {
	q := NewMemory()
	ctx := context.Background()

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				_ = q.Enqueue(ctx, fmt.Sprintf("%d-%d", p, i))
			}
		}(p)
	}
	wg.Wait()
	require.NoError(t, q.Close())

	seen := map[string]bool{}
	for {
		msg, err := q.Dequeue(ctx)
		if err != nil {
			assert.ErrorIs(t, err, domain.ErrQueueClosed)
			break
		}
		assert.False(t, seen[msg.JobID], "duplicate %s", msg.JobID)
		seen[msg.JobID] = true
	}
	assert.Len(t, seen, 100)
}
