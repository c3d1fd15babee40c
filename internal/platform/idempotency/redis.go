package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "quickorder:idem:"

// RedisStore shares reservations across instances. Expiry is left to Redis TTLs.
type RedisStore struct {
	rdb    goredis.Cmdable
	prefix string
}

// NewRedisStore wraps a client. An empty prefix uses the default namespace.
func NewRedisStore(rdb goredis.Cmdable, prefix string) (*RedisStore, error) {
	if rdb == nil {
		return nil, errors.New("idempotency: redis client is required")
	}
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{rdb: rdb, prefix: prefix}, nil
}

func (s *RedisStore) key(key string) string {
	return s.prefix + hashKey(key)
}

func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	ttl = normaliseTTL(ttl)
	pending := Record{Fingerprint: fingerprint, Status: StatusPending, UpdatedAt: now, ExpiresAt: now.Add(ttl)}
	data, err := json.Marshal(pending)
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: encode record: %w", err)
	}

	created, err := s.rdb.SetNX(ctx, s.key(key), data, ttl).Result()
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: reserve: %w", err)
	}
	if created {
		return Reservation{State: ReservationStateNew, Record: pending}, nil
	}

	raw, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		// Expired between SETNX and GET; let the caller retry as new.
		return s.Reserve(ctx, key, fingerprint, now, ttl)
	}
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: load: %w", err)
	}
	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return Reservation{}, fmt.Errorf("idempotency: decode record: %w", err)
	}
	if record.Fingerprint != fingerprint {
		return Reservation{}, ErrFingerprintMismatch
	}
	if record.Status == StatusCompleted {
		return Reservation{State: ReservationStateCompleted, Record: record}, nil
	}
	return Reservation{State: ReservationStatePending, Record: record}, nil
}

func (s *RedisStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	ttl = normaliseTTL(ttl)
	data, err := json.Marshal(completedRecord(fingerprint, resp, now.UTC(), ttl))
	if err != nil {
		return fmt.Errorf("idempotency: encode response: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("idempotency: save response: %w", err)
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("idempotency: release: %w", err)
	}
	return nil
}

var _ Store = (*RedisStore)(nil)
