package lease

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	rediscommon "github.com/ModelOps-Data-and-Analytics/agentops/common/redis"
	"github.com/google/uuid"
)

// ErrHeld is returned when another owner currently holds the lease.
var ErrHeld = errors.New("lease already held")

// Lease is an exclusive claim on a run identifier. A sequencer must hold the
// lease for a run before advancing its stages.
type Lease interface {
	// Alive reports whether this owner still holds the lease.
	Alive(ctx context.Context) (bool, error)
	// Release gives up the lease. Releasing a lease owned by someone else is a no-op.
	Release(ctx context.Context) error
}

// Manager acquires leases keyed by run identifier.
type Manager interface {
	Acquire(ctx context.Context, runID string, ttl time.Duration) (Lease, error)
}

// owner-checked release, atomic on the Redis side
const releaseScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// RedisManager implements Manager on Redis SETNX with TTL.
type RedisManager struct {
	redis *rediscommon.Client
}

// NewRedisManager creates a Redis-backed lease manager
func NewRedisManager(client *rediscommon.Client) *RedisManager {
	return &RedisManager{redis: client}
}

// Acquire claims the lease for runID, failing with ErrHeld if another owner has it.
func (m *RedisManager) Acquire(ctx context.Context, runID string, ttl time.Duration) (Lease, error) {
	owner := uuid.New().String()
	key := leaseKey(runID)

	wasSet, err := m.redis.SetNX(ctx, key, owner, ttl)
	if err != nil {
		return nil, fmt.Errorf("acquire lease for %s: %w", runID, err)
	}
	if !wasSet {
		return nil, ErrHeld
	}

	return &redisLease{redis: m.redis, key: key, owner: owner}, nil
}

type redisLease struct {
	redis *rediscommon.Client
	key   string
	owner string
}

func (l *redisLease) Alive(ctx context.Context) (bool, error) {
	val, found, err := l.redis.Get(ctx, l.key)
	if err != nil {
		return false, err
	}
	return found && val == l.owner, nil
}

func (l *redisLease) Release(ctx context.Context) error {
	_, err := l.redis.Eval(ctx, releaseScript, []string{l.key}, l.owner)
	if err != nil {
		return fmt.Errorf("release lease %s: %w", l.key, err)
	}
	return nil
}

func leaseKey(runID string) string {
	return fmt.Sprintf("lease:run:%s", runID)
}

// MemoryManager implements Manager in-process. Used in tests and when the
// service runs with the memory event bus.
type MemoryManager struct {
	mu     sync.Mutex
	owners map[string]*memoryLease
}

// NewMemoryManager creates an in-memory lease manager
func NewMemoryManager() *MemoryManager {
	return &MemoryManager{owners: make(map[string]*memoryLease)}
}

// Acquire claims the lease for runID, failing with ErrHeld if held and unexpired.
func (m *MemoryManager) Acquire(ctx context.Context, runID string, ttl time.Duration) (Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.owners[runID]; ok && time.Now().Before(existing.expiresAt) && !existing.released {
		return nil, ErrHeld
	}

	l := &memoryLease{mgr: m, runID: runID, expiresAt: time.Now().Add(ttl)}
	m.owners[runID] = l
	return l, nil
}

type memoryLease struct {
	mgr       *MemoryManager
	runID     string
	expiresAt time.Time
	released  bool
}

func (l *memoryLease) Alive(ctx context.Context) (bool, error) {
	l.mgr.mu.Lock()
	defer l.mgr.mu.Unlock()
	return !l.released && time.Now().Before(l.expiresAt) && l.mgr.owners[l.runID] == l, nil
}

func (l *memoryLease) Release(ctx context.Context) error {
	l.mgr.mu.Lock()
	defer l.mgr.mu.Unlock()
	if l.mgr.owners[l.runID] == l {
		l.released = true
		delete(l.mgr.owners, l.runID)
	}
	return nil
}
