package reconcile

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/voxnote/pkg/storage/kv"
)

const dedupKeyPrefix = "voxnote:webhook:"

// Deduper remembers processed event ids. It is an optimisation only; a lost
// record just means the event is applied again, which converges.
type Deduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Record(ctx context.Context, eventID string) error
}

// RedisDeduper shares processed ids across replicas
type RedisDeduper struct {
	client *kv.RedisClient
	ttl    time.Duration
}

// NewRedisDeduper creates a RedisDeduper keeping ids for ttl
func NewRedisDeduper(client *kv.RedisClient, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &RedisDeduper{client: client, ttl: ttl}
}

func (d *RedisDeduper) Seen(ctx context.Context, eventID string) (bool, error) {
	return d.client.Seen(ctx, dedupKeyPrefix+eventID)
}

func (d *RedisDeduper) Record(ctx context.Context, eventID string) error {
	_, err := d.client.MarkOnce(ctx, dedupKeyPrefix+eventID, d.ttl)
	return err
}

// MemoryDeduper keeps processed ids in a bounded in-process cache. Used when
// no Redis is configured.
type MemoryDeduper struct {
	cache *expirable.LRU[string, struct{}]
}

// NewMemoryDeduper creates a MemoryDeduper holding at most size ids for ttl
func NewMemoryDeduper(size int, ttl time.Duration) *MemoryDeduper {
	if size <= 0 {
		size = 10000
	}
	return &MemoryDeduper{cache: expirable.NewLRU[string, struct{}](size, nil, ttl)}
}

func (d *MemoryDeduper) Seen(_ context.Context, eventID string) (bool, error) {
	return d.cache.Contains(eventID), nil
}

func (d *MemoryDeduper) Record(_ context.Context, eventID string) error {
	d.cache.Add(eventID, struct{}{})
	return nil
}
