package queues

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msg(job string) Message { return Message{JobID: job, MeetingID: "m-" + job} }

func TestMemoryQueue_EnqueueDequeueAck(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(Config{Name: "test"})
	assert.Equal(t, "test", q.Name())

	require.NoError(t, q.Enqueue(ctx, msg("j1")))
	require.NoError(t, q.Enqueue(ctx, msg("j2")))

	depth, _ := q.Depth(ctx)
	assert.Equal(t, int64(2), depth)

	ds, err := q.Dequeue(ctx, 10, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, ds, 2)
	assert.Equal(t, "j1", ds[0].Message.JobID)
	assert.Equal(t, 1, ds[0].Deliveries)

	require.NoError(t, q.Ack(ctx, ds[0].ID))
	assert.ErrorIs(t, q.Ack(ctx, ds[0].ID), ErrMessageNotFound)
}

func TestMemoryQueue_InvalidMessage(t *testing.T) {
	q := NewMemoryQueue(Config{})
	assert.ErrorIs(t, q.Enqueue(context.Background(), Message{JobID: "j"}), ErrInvalidMessage)
}

func TestMemoryQueue_DequeueTimeout(t *testing.T) {
	q := NewMemoryQueue(Config{})
	start := time.Now()
	ds, err := q.Dequeue(context.Background(), 1, 30*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, ds)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestMemoryQueue_NackDelay(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(Config{MaxDeliveries: 2})
	require.NoError(t, q.Enqueue(ctx, msg("j1")))

	ds, _ := q.Dequeue(ctx, 1, 10*time.Millisecond)
	require.Len(t, ds, 1)
	require.NoError(t, q.Nack(ctx, ds[0].ID, time.Hour))

	ds2, _ := q.Dequeue(ctx, 1, 10*time.Millisecond)
	assert.Empty(t, ds2, "nacked message is delayed")

	assert.ErrorIs(t, q.Nack(ctx, "missing", 0), ErrMessageNotFound)
}

func TestMemoryQueue_MaxDeliveries(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(Config{MaxDeliveries: 2})
	require.NoError(t, q.Enqueue(ctx, msg("j1")))

	for i := 0; i < 2; i++ {
		ds, err := q.Dequeue(ctx, 1, 20*time.Millisecond)
		require.NoError(t, err)
		require.Len(t, ds, 1)
		require.NoError(t, q.Nack(ctx, ds[0].ID, 0))
	}

	ds, _ := q.Dequeue(ctx, 1, 10*time.Millisecond)
	assert.Empty(t, ds)
	dl := q.DeadLetters()
	require.Len(t, dl, 1)
	assert.Equal(t, "max deliveries exceeded", dl[0].Reason)
}

func TestMemoryQueue_RecoverStale(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	q := NewMemoryQueue(Config{VisibilityTimeout: time.Minute})
	q.now = func() time.Time { return now }

	require.NoError(t, q.Enqueue(ctx, msg("j1")))
	ds, _ := q.Dequeue(ctx, 1, 10*time.Millisecond)
	require.Len(t, ds, 1)

	n, _ := q.RecoverStale(ctx)
	assert.Equal(t, 0, n, "still within visibility timeout")

	now = now.Add(2 * time.Minute)
	n, _ = q.RecoverStale(ctx)
	assert.Equal(t, 1, n)

	ds, _ = q.Dequeue(ctx, 1, 10*time.Millisecond)
	require.Len(t, ds, 1)
	assert.Equal(t, 2, ds[0].Deliveries)
}

func TestMemoryQueue_ConcurrentConsumersNoDoubleDelivery(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(Config{})
	for i := 0; i < 100; i++ {
		require.NoError(t, q.Enqueue(ctx, Message{JobID: fmt.Sprintf("j%d", i), MeetingID: "m"}))
	}

	var mu sync.Mutex
	seen := map[string]int{}
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				ds, _ := q.Dequeue(ctx, 3, 20*time.Millisecond)
				if len(ds) == 0 {
					return
				}
				mu.Lock()
				for _, d := range ds {
					seen[d.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 100)
	for id, n := range seen {
		assert.Equal(t, 1, n, "delivery %s seen %d times", id, n)
	}
}

func TestMemoryQueue_Closed(t *testing.T) {
	q := NewMemoryQueue(Config{})
	require.NoError(t, q.Close())
	assert.ErrorIs(t, q.Enqueue(context.Background(), msg("j")), ErrQueueClosed)
	_, err := q.Dequeue(context.Background(), 1, time.Millisecond)
	assert.ErrorIs(t, err, ErrQueueClosed)
}
