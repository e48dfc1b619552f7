package workers

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mwerrors "github.com/otherjamesbrown/meetwise/pkg/errors"
	"github.com/otherjamesbrown/meetwise/pkg/pipeline/queues"
)

func fastConfig() Config {
	return Config{Count: 2, BatchSize: 1, PollInterval: 10 * time.Millisecond, ShutdownTimeout: time.Second}
}

func TestPool_AcksOnSuccess(t *testing.T) {
	ctx := context.Background()
	q := queues.NewMemoryQueue(queues.Config{})
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(ctx, queues.Message{JobID: fmt.Sprintf("j%d", i), MeetingID: "m"}))
	}

	var handled atomic.Int32
	p := NewPool(fastConfig(), q, func(ctx context.Context, d *queues.Delivery) error {
		handled.Add(1)
		return nil
	})
	p.Start(ctx)
	defer p.Stop()

	require.Eventually(t, func() bool { return p.Stats().Processed == 5 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(5), handled.Load())
	depth, _ := q.Depth(ctx)
	assert.Zero(t, depth)
}

func TestPool_RetriesTransientErrors(t *testing.T) {
	ctx := context.Background()
	q := queues.NewMemoryQueue(queues.Config{MaxDeliveries: 5})
	require.NoError(t, q.Enqueue(ctx, queues.Message{JobID: "j1", MeetingID: "m1"}))

	var calls atomic.Int32
	p := NewPool(fastConfig(), q, func(ctx context.Context, d *queues.Delivery) error {
		if calls.Add(1) < 3 {
			return errors.New("store unavailable")
		}
		return nil
	}, WithBackoff(func(int) time.Duration { return 0 }))
	p.Start(ctx)
	defer p.Stop()

	require.Eventually(t, func() bool { return p.Stats().Processed == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, int64(2), p.Stats().Failed)
}

func TestPool_DeadLettersPermanentErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"permanent", fmt.Errorf("job: %w", mwerrors.ErrPermanentFailure)},
		{"not found", fmt.Errorf("job j1: %w", mwerrors.ErrNotFound)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			q := queues.NewMemoryQueue(queues.Config{})
			require.NoError(t, q.Enqueue(ctx, queues.Message{JobID: "j1", MeetingID: "m1"}))

			p := NewPool(fastConfig(), q, func(context.Context, *queues.Delivery) error { return tt.err })
			p.Start(ctx)
			defer p.Stop()

			require.Eventually(t, func() bool { return len(q.DeadLetters()) == 1 }, 2*time.Second, 10*time.Millisecond)
			assert.Contains(t, q.DeadLetters()[0].Reason, tt.err.Error())
		})
	}
}

func TestPool_RecoversPanics(t *testing.T) {
	ctx := context.Background()
	q := queues.NewMemoryQueue(queues.Config{MaxDeliveries: 1})
	require.NoError(t, q.Enqueue(ctx, queues.Message{JobID: "j1", MeetingID: "m1"}))

	p := NewPool(fastConfig(), q, func(context.Context, *queues.Delivery) error { panic("boom") })
	p.Start(ctx)
	defer p.Stop()

	require.Eventually(t, func() bool { return len(q.DeadLetters()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "max deliveries exceeded", q.DeadLetters()[0].Reason)
}

func TestPool_StopIsIdempotentBeforeStart(t *testing.T) {
	p := NewPool(Config{}, queues.NewMemoryQueue(queues.Config{}), func(context.Context, *queues.Delivery) error { return nil })
	p.Stop()
	assert.Equal(t, 0, p.Stats().WorkerCount)
}

func TestPool_StatusLifecycle(t *testing.T) {
	p := NewPool(fastConfig(), queues.NewMemoryQueue(queues.Config{}), func(context.Context, *queues.Delivery) error { return nil })
	p.Start(context.Background())
	require.Eventually(t, func() bool { return p.Stats().ActiveCount == 2 }, time.Second, 5*time.Millisecond)

	p.Stop()
	assert.Equal(t, 0, p.Stats().ActiveCount)
	for _, w := range p.workers {
		assert.Equal(t, WorkerStatusStopped, w.Status())
	}
}
