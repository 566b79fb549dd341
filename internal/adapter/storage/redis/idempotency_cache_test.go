package redis

import (
	"context"
	"testing"
	"time"

	"ledger-engine/internal/core/domain"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return s, client
}

// ==================== Idempotency Cache Tests ====================

func TestIdempotencyCache_SetAndGet(t *testing.T) {
	_, client := newTestClient(t)
	cache := NewIdempotencyCache(client)
	ctx := context.Background()

	rec := &domain.IdempotencyRecord{
		Key:         "transfer:7d9f:ORDER-001",
		Operation:   "transfer",
		Fingerprint: "f1",
		Result:      []byte(`{"amount":"40"}`),
		CreatedAt:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}

	// Get before set => nil
	result, err := cache.Get(ctx, rec.Key)
	assert.NoError(t, err)
	assert.Nil(t, result)

	require.NoError(t, cache.Set(ctx, rec, 24*time.Hour))

	result, err = cache.Get(ctx, rec.Key)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, rec.Fingerprint, result.Fingerprint)
	assert.JSONEq(t, `{"amount":"40"}`, string(result.Result))
	assert.True(t, rec.CreatedAt.Equal(result.CreatedAt))
}

func TestIdempotencyCache_TTLExpiry(t *testing.T) {
	s, client := newTestClient(t)
	cache := NewIdempotencyCache(client)
	ctx := context.Background()

	rec := &domain.IdempotencyRecord{Key: "deposit:7d9f:k", Result: []byte(`{}`)}
	require.NoError(t, cache.Set(ctx, rec, time.Second))

	// Fast-forward time in miniredis
	s.FastForward(2 * time.Second)

	result, err := cache.Get(ctx, rec.Key)
	assert.NoError(t, err)
	assert.Nil(t, result, "expired key should return nil")
}

func TestIdempotencyCache_CorruptEntry(t *testing.T) {
	s, client := newTestClient(t)
	cache := NewIdempotencyCache(client)
	require.NoError(t, s.Set("idempotency:bad", "not-json"))

	_, err := cache.Get(context.Background(), "bad")
	assert.ErrorContains(t, err, "decode")
}

func TestIdempotencyCache_Unavailable(t *testing.T) {
	s, client := newTestClient(t)
	cache := NewIdempotencyCache(client)
	s.Close()

	_, err := cache.Get(context.Background(), "k")
	assert.Error(t, err)
}

// ==================== Quote Cache Tests ====================

func TestQuoteCache_SetAndGet(t *testing.T) {
	s, client := newTestClient(t)
	cache := NewQuoteCache(client)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	q := &domain.Quote{From: "USD", To: "EUR", Rate: decimal.RequireFromString("0.9135"), AsOf: now, ExpiresAt: now.Add(30 * time.Second)}
	require.NoError(t, cache.Set(ctx, q))
	assert.Equal(t, 30*time.Second, s.TTL("fx:quote:USD:EUR"))

	got, err := cache.Get(ctx, "usd", "eur")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, q.Rate.Equal(got.Rate))
	assert.True(t, q.ExpiresAt.Equal(got.ExpiresAt))

	miss, err := cache.Get(ctx, "EUR", "USD")
	require.NoError(t, err)
	assert.Nil(t, miss)

	s.FastForward(31 * time.Second)
	gone, err := cache.Get(ctx, "USD", "EUR")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestQuoteCache_SkipsExpiredQuote(t *testing.T) {
	s, client := newTestClient(t)
	cache := NewQuoteCache(client)
	now := time.Now()
	cache.now = func() time.Time { return now }

	require.NoError(t, cache.Set(context.Background(), &domain.Quote{From: "USD", To: "JPY", ExpiresAt: now}))
	assert.False(t, s.Exists("fx:quote:USD:JPY"))
}
