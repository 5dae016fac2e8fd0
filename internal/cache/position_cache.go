package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// PositionCache is the side cache consulted by the position resolver. It
// is never authoritative: a miss or a cache failure falls back to
// recomputation from the session store.
type PositionCache interface {
	// Get returns the cached position and whether the entry was present.
	Get(ctx context.Context, tenantID, queueID, userIdentifier string) (int, bool, error)
	// Set stores the position with the configured TTL.
	Set(ctx context.Context, tenantID, queueID, userIdentifier string, position int) error
	// InvalidateQueue discards every cached position for the queue.
	InvalidateQueue(ctx context.Context, tenantID, queueID string) error
}

// RedisPositionCache caches positions in Redis. Invalidation bumps a
// per-queue generation counter embedded in every entry key, so stale
// entries become unreachable immediately and age out via TTL.
type RedisPositionCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisPositionCache constructs a cache with the given entry TTL.
func NewRedisPositionCache(client *redis.Client, ttl time.Duration) *RedisPositionCache {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &RedisPositionCache{client: client, ttl: ttl}
}

func (c *RedisPositionCache) Get(ctx context.Context, tenantID, queueID, userIdentifier string) (int, bool, error) {
	gen, err := c.generation(ctx, tenantID, queueID)
	if err != nil {
		return 0, false, err
	}
	val, err := c.client.Get(ctx, entryKey(tenantID, queueID, gen, userIdentifier)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	position, err := strconv.Atoi(val)
	if err != nil {
		return 0, false, nil
	}
	return position, true, nil
}

func (c *RedisPositionCache) Set(ctx context.Context, tenantID, queueID, userIdentifier string, position int) error {
	gen, err := c.generation(ctx, tenantID, queueID)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, entryKey(tenantID, queueID, gen, userIdentifier), strconv.Itoa(position), c.ttl).Err()
}

func (c *RedisPositionCache) InvalidateQueue(ctx context.Context, tenantID, queueID string) error {
	return c.client.Incr(ctx, generationKey(tenantID, queueID)).Err()
}

func (c *RedisPositionCache) generation(ctx context.Context, tenantID, queueID string) (int64, error) {
	val, err := c.client.Get(ctx, generationKey(tenantID, queueID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	gen, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, nil
	}
	return gen, nil
}

func generationKey(tenantID, queueID string) string {
	return fmt.Sprintf("vq:pos:gen:%s:%s", tenantID, queueID)
}

func entryKey(tenantID, queueID string, gen int64, userIdentifier string) string {
	return fmt.Sprintf("vq:pos:%s:%s:%d:%s", tenantID, queueID, gen, userIdentifier)
}

// MemoryPositionCache is a map-backed PositionCache used when Redis is
// unavailable and in unit tests.
type MemoryPositionCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
}

type memoryEntry struct {
	position  int
	expiresAt time.Time
}

// NewMemoryPositionCache constructs a cache with the given entry TTL.
func NewMemoryPositionCache(ttl time.Duration) *MemoryPositionCache {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &MemoryPositionCache{ttl: ttl, entries: make(map[string]memoryEntry)}
}

func (c *MemoryPositionCache) Get(ctx context.Context, tenantID, queueID, userIdentifier string) (int, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[memoryKey(tenantID, queueID, userIdentifier)]
	if !ok || time.Now().After(entry.expiresAt) {
		return 0, false, nil
	}
	return entry.position, true, nil
}

func (c *MemoryPositionCache) Set(ctx context.Context, tenantID, queueID, userIdentifier string, position int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[memoryKey(tenantID, queueID, userIdentifier)] = memoryEntry{
		position:  position,
		expiresAt: time.Now().Add(c.ttl),
	}
	return nil
}

func (c *MemoryPositionCache) InvalidateQueue(ctx context.Context, tenantID, queueID string) error {
	prefix := memoryKey(tenantID, queueID, "")
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(c.entries, key)
		}
	}
	return nil
}

func memoryKey(tenantID, queueID, userIdentifier string) string {
	return tenantID + "|" + queueID + "|" + userIdentifier
}

var (
	_ PositionCache = (*RedisPositionCache)(nil)
	_ PositionCache = (*MemoryPositionCache)(nil)
)
