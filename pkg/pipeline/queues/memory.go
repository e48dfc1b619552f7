package queues

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memItem struct {
	delivery  Delivery
	visibleAt time.Time
}

// MemoryQueue is an in-process Queue for tests and single-node runs.
type MemoryQueue struct {
	cfg Config

	mu         sync.Mutex
	ready      []*memItem
	inflight   map[string]*memItem
	deadLetter []DeadLetter
	closed     bool
	notify     chan struct{}
	now        func() time.Time
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue(cfg Config) *MemoryQueue {
	return &MemoryQueue{
		cfg:      cfg.withDefaults(),
		inflight: make(map[string]*memItem),
		notify:   make(chan struct{}, 1),
		now:      time.Now,
	}
}

func (q *MemoryQueue) Name() string { return q.cfg.Name }

func (q *MemoryQueue) Enqueue(_ context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	now := q.now()
	q.ready = append(q.ready, &memItem{
		delivery:  Delivery{ID: uuid.NewString(), Message: msg, EnqueuedAt: now},
		visibleAt: now,
	})
	q.signal()
	return nil
}

func (q *MemoryQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context, max int, timeout time.Duration) ([]*Delivery, error) {
	if max <= 0 {
		max = 1
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		out, err := q.take(max)
		if err != nil || len(out) > 0 {
			return out, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, nil
		case <-q.notify:
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (q *MemoryQueue) take(max int) ([]*Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrQueueClosed
	}

	now := q.now()
	sort.SliceStable(q.ready, func(i, j int) bool {
		return q.ready[i].visibleAt.Before(q.ready[j].visibleAt)
	})

	var out []*Delivery
	rest := q.ready[:0]
	for _, it := range q.ready {
		if len(out) < max && !it.visibleAt.After(now) {
			it.delivery.Deliveries++
			it.visibleAt = now.Add(q.cfg.VisibilityTimeout)
			q.inflight[it.delivery.ID] = it
			d := it.delivery
			out = append(out, &d)
			continue
		}
		rest = append(rest, it)
	}
	q.ready = rest
	return out, nil
}

func (q *MemoryQueue) Ack(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.inflight[id]; !ok {
		return ErrMessageNotFound
	}
	delete(q.inflight, id)
	return nil
}

func (q *MemoryQueue) Nack(ctx context.Context, id string, delay time.Duration) error {
	q.mu.Lock()
	it, ok := q.inflight[id]
	if !ok {
		q.mu.Unlock()
		return ErrMessageNotFound
	}
	if it.delivery.Deliveries >= q.cfg.MaxDeliveries {
		q.mu.Unlock()
		return q.MoveToDeadLetter(ctx, id, "max deliveries exceeded")
	}
	delete(q.inflight, id)
	it.visibleAt = q.now().Add(delay)
	q.ready = append(q.ready, it)
	q.signal()
	q.mu.Unlock()
	return nil
}

func (q *MemoryQueue) MoveToDeadLetter(_ context.Context, id, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.inflight[id]
	if !ok {
		return ErrMessageNotFound
	}
	delete(q.inflight, id)
	q.deadLetter = append(q.deadLetter, DeadLetter{Delivery: it.delivery, Reason: reason, MovedAt: q.now()})
	return nil
}

func (q *MemoryQueue) Depth(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.ready)), nil
}

func (q *MemoryQueue) RecoverStale(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	n := 0
	for id, it := range q.inflight {
		if it.visibleAt.After(now) {
			continue
		}
		delete(q.inflight, id)
		if it.delivery.Deliveries >= q.cfg.MaxDeliveries {
			q.deadLetter = append(q.deadLetter, DeadLetter{Delivery: it.delivery, Reason: "visibility timeout exceeded", MovedAt: now})
			continue
		}
		it.visibleAt = now
		q.ready = append(q.ready, it)
		n++
	}
	if n > 0 {
		q.signal()
	}
	return n, nil
}

// DeadLetters returns a copy of the dead-letter list.
func (q *MemoryQueue) DeadLetters() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]DeadLetter(nil), q.deadLetter...)
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	return nil
}

var _ Queue = (*MemoryQueue)(nil)
