// Package dedup tracks recently seen provider event ids.
//
// The window is an explicit configuration assumption about the provider's
// redelivery behaviour: an id is remembered for Window and at most MaxEntries
// ids are held in memory. A redelivery after the window is not detected here;
// the store's compare-and-set and the one-live-job rule catch those.
package dedup

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Deduper claims event ids for a bounded window.
type Deduper interface {
	// Claim returns true if key was not seen in the window and is now claimed.
	Claim(ctx context.Context, key string) (bool, error)

	// Release forgets key so a redelivery can be processed again.
	Release(ctx context.Context, key string) error
}

// Config bounds the dedup window.
type Config struct {
	Window     time.Duration `yaml:"window"`
	MaxEntries int           `yaml:"max_entries"`
}

// DefaultConfig remembers ids for 24h, up to 100k of them.
func DefaultConfig() Config {
	return Config{Window: 24 * time.Hour, MaxEntries: 100_000}
}

type entry struct {
	key     string
	expires time.Time
}

// MemoryDeduper is an LRU bounded by size and TTL.
type MemoryDeduper struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	order   *list.List // front is most recently claimed
	entries map[string]*list.Element
	now     func() time.Time
}

// NewMemoryDeduper creates an in-memory deduper.
func NewMemoryDeduper(cfg Config) *MemoryDeduper {
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultConfig().MaxEntries
	}
	return &MemoryDeduper{
		window:  cfg.Window,
		max:     cfg.MaxEntries,
		order:   list.New(),
		entries: make(map[string]*list.Element),
		now:     time.Now,
	}
}

func (d *MemoryDeduper) Claim(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if el, ok := d.entries[key]; ok {
		if now.Before(el.Value.(*entry).expires) {
			return false, nil
		}
		d.order.Remove(el)
		delete(d.entries, key)
	}

	d.evict(now)
	el := d.order.PushFront(&entry{key: key, expires: now.Add(d.window)})
	d.entries[key] = el
	return true, nil
}

func (d *MemoryDeduper) Release(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if el, ok := d.entries[key]; ok {
		d.order.Remove(el)
		delete(d.entries, key)
	}
	return nil
}

// Len returns the number of remembered ids.
func (d *MemoryDeduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.order.Len()
}

// evict drops expired ids from the back, then the oldest ids over capacity.
// Caller holds mu.
func (d *MemoryDeduper) evict(now time.Time) {
	for el := d.order.Back(); el != nil; el = d.order.Back() {
		e := el.Value.(*entry)
		if now.Before(e.expires) && d.order.Len() < d.max {
			return
		}
		d.order.Remove(el)
		delete(d.entries, e.key)
	}
}
