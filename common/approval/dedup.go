package approval

import (
	"context"
	"sync"
	"time"

	rediscommon "github.com/ModelOps-Data-and-Analytics/agentops/common/redis"
)

// RedisDeduper claims idempotency keys with SETNX so the claim is shared
// across registry replicas.
type RedisDeduper struct {
	client *rediscommon.Client
}

// NewRedisDeduper creates a redis-backed deduper
func NewRedisDeduper(client *rediscommon.Client) *RedisDeduper {
	return &RedisDeduper{client: client}
}

// Once claims key; only the first claimant within ttl gets true
func (d *RedisDeduper) Once(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return d.client.SetNX(ctx, key, "1", ttl)
}

// Release gives the claim back so a later attempt can retry
func (d *RedisDeduper) Release(ctx context.Context, key string) error {
	return d.client.Delete(ctx, key)
}

// MemoryDeduper is an in-process Deduper for tests and single-node setups
type MemoryDeduper struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

// NewMemoryDeduper creates an in-memory deduper
func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{seen: make(map[string]time.Time)}
}

// Once claims key; only the first claimant within ttl gets true
func (d *MemoryDeduper) Once(_ context.Context, key string, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if expiry, ok := d.seen[key]; ok && now.Before(expiry) {
		return false, nil
	}
	d.seen[key] = now.Add(ttl)
	return true, nil
}

// Release gives the claim back so a later attempt can retry
func (d *MemoryDeduper) Release(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, key)
	return nil
}
