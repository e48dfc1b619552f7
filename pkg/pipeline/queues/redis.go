package queues

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis key prefixes.
const (
	keyPrefixQueue      = "queue:"      // ready set, scored by visible-at
	keyPrefixProcessing = "processing:" // in-flight set, scored by visibility deadline
	keyPrefixMessage    = "msg:"        // delivery payloads
	keyPrefixDLQ        = "dlq:"        // dead letters
)

// RedisQueue implements Queue with sorted sets. A message is claimed by the
// consumer whose ZREM removes it from the ready set, so concurrent workers
// never receive the same delivery.
type RedisQueue struct {
	client redis.UniversalClient
	cfg    Config
	closed chan struct{}
}

// NewRedisQueue creates a Redis-backed queue.
func NewRedisQueue(client redis.UniversalClient, cfg Config) *RedisQueue {
	return &RedisQueue{client: client, cfg: cfg.withDefaults(), closed: make(chan struct{})}
}

func (q *RedisQueue) Name() string { return q.cfg.Name }

func (q *RedisQueue) queueKey() string      { return keyPrefixQueue + q.cfg.Name }
func (q *RedisQueue) processingKey() string { return keyPrefixProcessing + q.cfg.Name }
func (q *RedisQueue) dlqKey() string        { return keyPrefixDLQ + q.cfg.Name }
func (q *RedisQueue) msgKey(id string) string {
	return keyPrefixMessage + q.cfg.Name + ":" + id
}

func score(t time.Time) float64 { return float64(t.UnixNano()) }

func (q *RedisQueue) Enqueue(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	now := time.Now()
	d := Delivery{ID: uuid.NewString(), Message: msg, EnqueuedAt: now}
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, q.msgKey(d.ID), data, q.cfg.RetentionPeriod)
	pipe.ZAdd(ctx, q.queueKey(), redis.Z{Score: score(now), Member: d.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to enqueue message: %w", err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, max int, timeout time.Duration) ([]*Delivery, error) {
	if max <= 0 {
		max = 1
	}
	deadline := time.Now().Add(timeout)
	var out []*Delivery

	for len(out) < max {
		select {
		case <-q.closed:
			return out, ErrQueueClosed
		default:
		}

		ids, err := q.client.ZRangeByScore(ctx, q.queueKey(), &redis.ZRangeBy{
			Min:   "-inf",
			Max:   strconv.FormatInt(time.Now().UnixNano(), 10),
			Count: int64(max - len(out)),
		}).Result()
		if err != nil {
			return out, fmt.Errorf("failed to read queue: %w", err)
		}

		for _, id := range ids {
			d, err := q.claim(ctx, id)
			if err != nil {
				return out, err
			}
			if d != nil {
				out = append(out, d)
			}
		}

		if len(out) > 0 || !time.Now().Before(deadline) {
			return out, nil
		}

		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case <-q.closed:
			return out, ErrQueueClosed
		case <-time.After(100 * time.Millisecond):
		}
	}
	return out, nil
}

// claim moves id from ready to processing. It returns nil when another
// consumer won the race or the payload expired.
func (q *RedisQueue) claim(ctx context.Context, id string) (*Delivery, error) {
	removed, err := q.client.ZRem(ctx, q.queueKey(), id).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to claim message: %w", err)
	}
	if removed == 0 {
		return nil, nil
	}

	d, err := q.load(ctx, id)
	if errors.Is(err, ErrMessageNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	d.Deliveries++
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal delivery: %w", err)
	}
	pipe := q.client.TxPipeline()
	pipe.Set(ctx, q.msgKey(id), data, q.cfg.RetentionPeriod)
	pipe.ZAdd(ctx, q.processingKey(), redis.Z{Score: score(time.Now().Add(q.cfg.VisibilityTimeout)), Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to move to processing: %w", err)
	}
	return d, nil
}

func (q *RedisQueue) load(ctx context.Context, id string) (*Delivery, error) {
	data, err := q.client.Get(ctx, q.msgKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	var d Delivery
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to unmarshal delivery: %w", err)
	}
	return &d, nil
}

func (q *RedisQueue) Ack(ctx context.Context, id string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.processingKey(), id)
	pipe.Del(ctx, q.msgKey(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to ack message: %w", err)
	}
	return nil
}

func (q *RedisQueue) Nack(ctx context.Context, id string, delay time.Duration) error {
	d, err := q.load(ctx, id)
	if err != nil {
		return err
	}
	if d.Deliveries >= q.cfg.MaxDeliveries {
		return q.MoveToDeadLetter(ctx, id, "max deliveries exceeded")
	}

	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.processingKey(), id)
	pipe.ZAdd(ctx, q.queueKey(), redis.Z{Score: score(time.Now().Add(delay)), Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to nack message: %w", err)
	}
	return nil
}

func (q *RedisQueue) MoveToDeadLetter(ctx context.Context, id, reason string) error {
	d, err := q.load(ctx, id)
	if err != nil {
		return err
	}
	entry, err := json.Marshal(DeadLetter{Delivery: *d, Reason: reason, MovedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.processingKey(), id)
	pipe.Del(ctx, q.msgKey(id))
	pipe.ZAdd(ctx, q.dlqKey(), redis.Z{Score: score(time.Now()), Member: string(entry)})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to move to DLQ: %w", err)
	}
	return nil
}

func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.queueKey()).Result()
}

func (q *RedisQueue) RecoverStale(ctx context.Context) (int, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.processingKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(time.Now().UnixNano(), 10),
		Count: 100,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to find stale messages: %w", err)
	}

	n := 0
	for _, id := range ids {
		d, err := q.load(ctx, id)
		if errors.Is(err, ErrMessageNotFound) {
			q.client.ZRem(ctx, q.processingKey(), id)
			continue
		}
		if err != nil {
			continue
		}
		if d.Deliveries >= q.cfg.MaxDeliveries {
			_ = q.MoveToDeadLetter(ctx, id, "visibility timeout exceeded")
			continue
		}
		if err := q.Nack(ctx, id, 0); err == nil {
			n++
		}
	}
	return n, nil
}

func (q *RedisQueue) Close() error {
	select {
	case <-q.closed:
	default:
		close(q.closed)
	}
	return nil
}

var _ Queue = (*RedisQueue)(nil)
