// Package flash keeps quick order messages between the POST and the page that displays them.
package flash

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	domain "github.com/hanko-field/quickorder/internal/domain"
)

const (
	DefaultTTL         = 10 * time.Minute
	defaultRedisPrefix = "quickorder:flash:"
)

// ErrSessionRequired is returned when no session id is supplied.
var ErrSessionRequired = errors.New("flash: session id is required")

// Store queues messages per session. Pop returns and clears them in push order.
type Store interface {
	Push(ctx context.Context, sessionID string, messages ...domain.Message) error
	Pop(ctx context.Context, sessionID string) ([]domain.Message, error)
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	clock   func() time.Time
	entries map[string]memoryEntry
}

type memoryEntry struct {
	messages  []domain.Message
	expiresAt time.Time
}

func NewMemoryStore(ttl time.Duration, clock func() time.Time) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = time.Now
	}
	return &MemoryStore{ttl: ttl, clock: clock, entries: make(map[string]memoryEntry)}
}

func (s *MemoryStore) Push(_ context.Context, sessionID string, messages ...domain.Message) error {
	if sessionID == "" {
		return ErrSessionRequired
	}
	if len(messages) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	entry := s.entries[sessionID]
	if !now.Before(entry.expiresAt) {
		entry.messages = nil
	}
	entry.messages = append(entry.messages, messages...)
	entry.expiresAt = now.Add(s.ttl)
	s.entries[sessionID] = entry
	return nil
}

func (s *MemoryStore) Pop(_ context.Context, sessionID string) ([]domain.Message, error) {
	if sessionID == "" {
		return nil, ErrSessionRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[sessionID]
	delete(s.entries, sessionID)
	if !ok || !s.clock().Before(entry.expiresAt) {
		return nil, nil
	}
	return entry.messages, nil
}

// RedisStore keeps one list per session so several instances can serve the redirect.
type RedisStore struct {
	rdb    goredis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewRedisStore(rdb goredis.Cmdable, prefix string, ttl time.Duration) (*RedisStore, error) {
	if rdb == nil {
		return nil, errors.New("flash: redis client is required")
	}
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{rdb: rdb, prefix: prefix, ttl: ttl}, nil
}

func (s *RedisStore) Push(ctx context.Context, sessionID string, messages ...domain.Message) error {
	if sessionID == "" {
		return ErrSessionRequired
	}
	if len(messages) == 0 {
		return nil
	}
	values := make([]any, 0, len(messages))
	for _, msg := range messages {
		raw, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("flash: encode message: %w", err)
		}
		values = append(values, raw)
	}
	key := s.prefix + sessionID
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, key, values...)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("flash: push: %w", err)
	}
	return nil
}

func (s *RedisStore) Pop(ctx context.Context, sessionID string) ([]domain.Message, error) {
	if sessionID == "" {
		return nil, ErrSessionRequired
	}
	key := s.prefix + sessionID
	pipe := s.rdb.TxPipeline()
	rangeCmd := pipe.LRange(ctx, key, 0, -1)
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("flash: pop: %w", err)
	}
	raw := rangeCmd.Val()
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]domain.Message, 0, len(raw))
	for _, item := range raw {
		var msg domain.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("flash: decode message: %w", err)
		}
		out = append(out, msg)
	}
	return out, nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*RedisStore)(nil)
)
