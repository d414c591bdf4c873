package inbound

import (
	"context"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/hookrelay/pkg/redis"
)

// Deduper remembers provider delivery ids so replays are acknowledged without
// being processed twice.
type Deduper interface {
	// MarkOnce reports whether key was seen for the first time within ttl.
	MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Forget drops key so the next MarkOnce reports it as new.
	Forget(ctx context.Context, key string) error
}

// RedisDeduper shares replay state across replicas.
type RedisDeduper struct {
	client goredis.UniversalClient
	prefix string
}

func NewRedisDeduper(client goredis.UniversalClient, prefix string) *RedisDeduper {
	if prefix == "" {
		prefix = "hookrelay:inbound:seen:"
	}
	return &RedisDeduper{client: client, prefix: prefix}
}

func (d *RedisDeduper) MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return redis.MarkOnce(ctx, d.client, d.prefix+key, ttl)
}

func (d *RedisDeduper) Forget(ctx context.Context, key string) error {
	return redis.Unmark(ctx, d.client, d.prefix+key)
}

// MemoryDeduper is a single-process Deduper.
type MemoryDeduper struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{seen: make(map[string]time.Time), now: time.Now}
}

func (d *MemoryDeduper) MarkOnce(_ context.Context, key string, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	for k, exp := range d.seen {
		if !now.Before(exp) {
			delete(d.seen, k)
		}
	}
	if _, ok := d.seen[key]; ok {
		return false, nil
	}
	d.seen[key] = now.Add(ttl)
	return true, nil
}

func (d *MemoryDeduper) Forget(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, key)
	return nil
}
