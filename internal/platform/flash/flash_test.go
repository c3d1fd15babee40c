package flash

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/hanko-field/quickorder/internal/domain"
)

func sampleMessages() []domain.Message {
	return []domain.Message{
		{Kind: domain.MessageKindSuccess, Code: domain.MessageCodeProductAdded, Text: "product added to cart", Subject: "A"},
		{Kind: domain.MessageKindError, Code: domain.MessageCodeOnlyAvailable, Text: "only 2 available", Subject: "B", Params: map[string]int{"max": 2}},
	}
}

func TestMemoryStorePopReturnsInOrderOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Minute, nil)

	require.NoError(t, store.Push(ctx, "s1", sampleMessages()[0]))
	require.NoError(t, store.Push(ctx, "s1", sampleMessages()[1]))

	got, err := store.Pop(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, sampleMessages(), got)

	again, err := store.Pop(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestMemoryStoreIsolatesSessions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Minute, nil)
	require.NoError(t, store.Push(ctx, "s1", sampleMessages()...))

	got, err := store.Pop(ctx, "s2")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryStoreExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStore(time.Minute, func() time.Time { return now })
	require.NoError(t, store.Push(ctx, "s1", sampleMessages()...))

	now = now.Add(2 * time.Minute)
	got, err := store.Pop(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStoresRequireSession(t *testing.T) {
	store := NewMemoryStore(0, nil)
	assert.ErrorIs(t, store.Push(context.Background(), "", sampleMessages()...), ErrSessionRequired)
	_, err := store.Pop(context.Background(), "")
	assert.ErrorIs(t, err, ErrSessionRequired)
}

func TestRedisStoreRoundTrip(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })

	store, err := NewRedisStore(rdb, "quickorder-test:flash:", time.Minute)
	require.NoError(t, err)
	ctx := context.Background()
	session := "s-" + time.Now().Format("150405.000000")

	require.NoError(t, store.Push(ctx, session, sampleMessages()...))
	got, err := store.Pop(ctx, session)
	require.NoError(t, err)
	assert.Equal(t, sampleMessages(), got)

	again, err := store.Pop(ctx, session)
	require.NoError(t, err)
	assert.Empty(t, again)
}
