package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MemoStore records the results of steps that succeeded.
type MemoStore interface {
	Load(ctx context.Context, key string) ([]byte, bool, error)
	Save(ctx context.Context, key string, value []byte) error
}

const defaultMemoryTTL = time.Hour

type memoEntry struct {
	value   []byte
	expires time.Time
}

// MemoryStore keeps step results in process memory for a limited time.
// Expired entries are dropped on read and swept on write.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	swept   time.Time
	entries map[string]memoEntry
}

// NewMemoryStore keeps results for one hour.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithTTL(defaultMemoryTTL)
}

func NewMemoryStoreWithTTL(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = defaultMemoryTTL
	}

	return &MemoryStore{
		ttl:     ttl,
		now:     time.Now,
		swept:   time.Now(),
		entries: make(map[string]memoEntry),
	}
}

func (m *MemoryStore) Load(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}

	if !m.now().Before(entry.expires) {
		delete(m.entries, key)

		return nil, false, nil
	}

	return entry.value, true, nil
}

func (m *MemoryStore) Save(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if now.Sub(m.swept) >= m.ttl {
		for k, entry := range m.entries {
			if !now.Before(entry.expires) {
				delete(m.entries, k)
			}
		}

		m.swept = now
	}

	m.entries[key] = memoEntry{value: append([]byte(nil), value...), expires: now.Add(m.ttl)}

	return nil
}

// Len returns the number of stored entries, expired ones included until swept.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.entries)
}

const (
	redisKeyPrefix = "nodebase:step:"
	defaultTTL     = 24 * time.Hour
)

// RedisStore shares step results between workers through Redis.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}

	return &RedisStore{client: client, ttl: ttl}
}

// NewRedisStoreFromURL connects to the Redis server at url, e.g.
// redis://localhost:6379/0.
func NewRedisStoreFromURL(ctx context.Context, url string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStore(client, ttl), nil
}

func (s *RedisStore) Load(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, err
	}

	return value, true, nil
}

func (s *RedisStore) Save(ctx context.Context, key string, value []byte) error {
	return s.client.Set(ctx, redisKeyPrefix+key, value, s.ttl).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
