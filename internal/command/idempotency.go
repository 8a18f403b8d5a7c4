package command

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pitabwire/seqctl/model"
)

// IdempotencyStore remembers the responses of mutating operations by client
// token, so that repeating an invocation with the same token replays the
// first response instead of calling the service again.
type IdempotencyStore interface {
	// Check looks up a previous response. A stored token with a different
	// request hash is a CONFLICT.
	Check(ctx context.Context, key string, requestHash string) (resp model.Response, found bool, err error)

	// Store saves a response under key for ttl.
	Store(ctx context.Context, key string, requestHash string, resp model.Response, ttl time.Duration) error

	// HealthCheck reports whether the store is reachable.
	HealthCheck(ctx context.Context) error
}

type idempotencyEntry struct {
	RequestHash string         `json:"request_hash"`
	Response    model.Response `json:"response"`
}

// IdempotencyKey builds the store key for an operation's client token
// within one scope. A token reused in another region or profile is a new
// request.
func IdempotencyKey(scopeKey, operation, token string) string {
	return fmt.Sprintf("idem:%s:%s:%s", scopeKey, operation, token)
}

// HashRequest returns a stable hash of a request. Map keys are encoded in
// sorted order, so equal requests hash equally.
func HashRequest(req model.Request) string {
	data, _ := json.Marshal(req)
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func conflictError(key string) error {
	return model.NewConflictError(fmt.Sprintf("client token %q was already used with a different request", key))
}

// --- MemoryIdempotencyStore ---

// MemoryIdempotencyStore keeps entries in process memory. It suits the
// command line, where one process runs one batch.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]memEntry
	now     func() time.Time
}

type memEntry struct {
	data      idempotencyEntry
	expiresAt time.Time
}

// NewMemoryIdempotencyStore creates an empty in-memory store.
func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		entries: make(map[string]memEntry),
		now:     time.Now,
	}
}

// Check looks up a cached response, dropping it when expired.
func (s *MemoryIdempotencyStore) Check(_ context.Context, key string, requestHash string) (model.Response, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if s.now().After(entry.expiresAt) {
		delete(s.entries, key)
		return nil, false, nil
	}
	if entry.data.RequestHash != requestHash {
		return nil, true, conflictError(key)
	}
	return entry.data.Response, true, nil
}

// Store saves a response with a TTL.
func (s *MemoryIdempotencyStore) Store(_ context.Context, key string, requestHash string, resp model.Response, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = memEntry{
		data:      idempotencyEntry{RequestHash: requestHash, Response: resp},
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

// HealthCheck always succeeds.
func (s *MemoryIdempotencyStore) HealthCheck(context.Context) error { return nil }

// Len returns the number of entries, expired ones included.
func (s *MemoryIdempotencyStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// --- RedisIdempotencyStore ---

// RedisIdempotencyStore shares entries between processes through Redis,
// which lets several hosts deduplicate the same client tokens.
type RedisIdempotencyStore struct {
	client redis.UniversalClient
}

// NewRedisIdempotencyStore creates a Redis-backed store.
func NewRedisIdempotencyStore(client redis.UniversalClient) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client}
}

// Check looks up a cached response in Redis.
func (s *RedisIdempotencyStore) Check(ctx context.Context, key string, requestHash string) (model.Response, bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %q: %w", key, err)
	}

	var entry idempotencyEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false, fmt.Errorf("unmarshal idempotency entry %q: %w", key, err)
	}
	if entry.RequestHash != requestHash {
		return nil, true, conflictError(key)
	}
	return entry.Response, true, nil
}

// Store saves a response in Redis with a TTL.
func (s *RedisIdempotencyStore) Store(ctx context.Context, key string, requestHash string, resp model.Response, ttl time.Duration) error {
	data, err := json.Marshal(idempotencyEntry{RequestHash: requestHash, Response: resp})
	if err != nil {
		return fmt.Errorf("marshal idempotency entry: %w", err)
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// HealthCheck pings Redis.
func (s *RedisIdempotencyStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the Redis connection pool.
func (s *RedisIdempotencyStore) Close() error {
	return s.client.Close()
}
