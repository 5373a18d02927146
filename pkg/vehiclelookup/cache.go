package vehiclelookup

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores lookup results by normalized registration. A ttl of zero
// means the entry never expires.
type Cache interface {
	Get(ctx context.Context, registration string) (*Result, bool, error)
	Set(ctx context.Context, registration string, r *Result, ttl time.Duration) error
}

type memoryEntry struct {
	result  Result
	expires time.Time
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: map[string]memoryEntry{}, now: time.Now}
}

func (m *MemoryCache) Get(_ context.Context, registration string) (*Result, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[registration]
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		delete(m.entries, registration)
		return nil, false, nil
	}
	r := e.result
	return &r, true, nil
}

func (m *MemoryCache) Set(_ context.Context, registration string, r *Result, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := memoryEntry{result: *r}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.entries[registration] = e
	return nil
}

const redisKeyPrefix = "fleetfinance:vehicle:"

// RedisCache shares lookup results between API instances.
type RedisCache struct {
	rdb *redis.Client
}

// NewRedisCache connects to addr and checks the connection.
func NewRedisCache(ctx context.Context, addr string) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return &RedisCache{rdb: rdb}, nil
}

func (c *RedisCache) Get(ctx context.Context, registration string) (*Result, bool, error) {
	raw, err := c.rdb.Get(ctx, redisKeyPrefix+registration).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var r Result
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, false, err
	}
	return &r, true, nil
}

func (c *RedisCache) Set(ctx context.Context, registration string, r *Result, ttl time.Duration) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, redisKeyPrefix+registration, raw, ttl).Err()
}

func (c *RedisCache) Close() error {
	return c.rdb.Close()
}
