package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyStore reserves a wire message_id exactly once, so a retried
// dispatch (Cloud Tasks redelivery, adapter retry) never re-settles the
// same leg twice.
type IdempotencyStore interface {
	// Reserve returns true if messageID was not previously reserved (the
	// caller may proceed), or false if it was already reserved (the
	// caller must treat this as a duplicate and skip settlement).
	Reserve(ctx context.Context, messageID string) (bool, error)
}

// InMemoryIdempotencyStore is the default store: a mutex-guarded set,
// sufficient for a single process and for tests.
type InMemoryIdempotencyStore struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewInMemoryIdempotencyStore creates an empty in-memory store.
func NewInMemoryIdempotencyStore() *InMemoryIdempotencyStore {
	return &InMemoryIdempotencyStore{seen: make(map[string]struct{})}
}

func (s *InMemoryIdempotencyStore) Reserve(_ context.Context, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[messageID]; ok {
		return false, nil
	}
	s.seen[messageID] = struct{}{}
	return true, nil
}

// RedisIdempotencyStore reserves message ids across processes via Redis
// SETNX, so multiple bridge instances sharing a rail endpoint never
// double-settle a wire message. Grounded on the reference backend's own
// go-redis v9 client construction (internal/infra's GoRedisAdapter).
type RedisIdempotencyStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisIdempotencyStore creates a store keyed under
// "<prefix><message_id>", each reservation expiring after ttl (bounding
// memory growth; ttl should exceed the longest plausible redelivery
// window for the rail in use).
func NewRedisIdempotencyStore(client *redis.Client, prefix string, ttl time.Duration) *RedisIdempotencyStore {
	if prefix == "" {
		prefix = "maple:bridge:wire:"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisIdempotencyStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisIdempotencyStore) Reserve(ctx context.Context, messageID string) (bool, error) {
	return s.client.SetNX(ctx, s.prefix+messageID, 1, s.ttl).Result()
}
