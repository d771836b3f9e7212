package geocode

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"lastmile/internal/model"
)

// KV is the cache abstraction both resolver tiers share. Implementations
// must be safe for concurrent use.
type KV interface {
	Get(ctx context.Context, key string) (model.GeoPoint, bool)
	Put(ctx context.Context, key string, pt model.GeoPoint, ttl time.Duration)
}

// MemoryKV is the on-device tier: a mutex map with lazy TTL expiry.
type MemoryKV struct {
	mu  sync.Mutex
	m   map[string]memEntry
	now func() time.Time
}

type memEntry struct {
	pt  model.GeoPoint
	exp time.Time
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{m: map[string]memEntry{}, now: time.Now}
}

func (c *MemoryKV) Get(_ context.Context, key string) (model.GeoPoint, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[key]
	if !ok {
		return model.GeoPoint{}, false
	}
	if !e.exp.IsZero() && c.now().After(e.exp) {
		delete(c.m, key)
		return model.GeoPoint{}, false
	}
	return e.pt, true
}

func (c *MemoryKV) Put(_ context.Context, key string, pt model.GeoPoint, ttl time.Duration) {
	var exp time.Time
	if ttl > 0 {
		exp = c.now().Add(ttl)
	}
	c.mu.Lock()
	c.m[key] = memEntry{pt: pt, exp: exp}
	c.mu.Unlock()
}

// RedisKV is the shared network tier, one key per normalized address.
type RedisKV struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisKV(rdb *redis.Client) *RedisKV {
	return &RedisKV{rdb: rdb, prefix: "geocode:"}
}

func (c *RedisKV) Get(ctx context.Context, key string) (model.GeoPoint, bool) {
	raw, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		return model.GeoPoint{}, false
	}
	var pt model.GeoPoint
	if err := json.Unmarshal(raw, &pt); err != nil {
		return model.GeoPoint{}, false
	}
	return pt, true
}

func (c *RedisKV) Put(ctx context.Context, key string, pt model.GeoPoint, ttl time.Duration) {
	data, err := json.Marshal(pt)
	if err != nil {
		return
	}
	// Shared tier failures are transient collaborator failures; the caller
	// never sees them.
	_ = c.rdb.Set(ctx, c.prefix+key, data, ttl).Err()
}
