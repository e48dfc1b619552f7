package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDeduper shares the dedup window across replicas with SET NX EX.
type RedisDeduper struct {
	client    redis.UniversalClient
	keyPrefix string
	window    time.Duration
}

// NewRedisDeduper creates a Redis-backed deduper. Keys are "<prefix>:<event id>".
func NewRedisDeduper(client redis.UniversalClient, keyPrefix string, cfg Config) *RedisDeduper {
	if keyPrefix == "" {
		keyPrefix = "meetwise:dedup"
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	return &RedisDeduper{client: client, keyPrefix: keyPrefix, window: cfg.Window}
}

func (d *RedisDeduper) key(k string) string {
	return d.keyPrefix + ":" + k
}

func (d *RedisDeduper) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := d.client.SetNX(ctx, d.key(key), time.Now().UTC().Format(time.RFC3339), d.window).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim event %s: %w", key, err)
	}
	return ok, nil
}

func (d *RedisDeduper) Release(ctx context.Context, key string) error {
	if err := d.client.Del(ctx, d.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to release event %s: %w", key, err)
	}
	return nil
}

var (
	_ Deduper = (*MemoryDeduper)(nil)
	_ Deduper = (*RedisDeduper)(nil)
)
