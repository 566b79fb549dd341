package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"ledger-engine/internal/core/domain"

	goredis "github.com/redis/go-redis/v9"
)

// IdempotencyCache implements ports.IdempotencyCache using Redis.
// The database record stays authoritative; entries only shortcut replays.
type IdempotencyCache struct {
	client goredis.UniversalClient
	prefix string
}

// NewIdempotencyCache creates a new Redis-backed idempotency cache.
func NewIdempotencyCache(client goredis.UniversalClient) *IdempotencyCache {
	return &IdempotencyCache{
		client: client,
		prefix: "idempotency:",
	}
}

// Get retrieves a committed record by idempotency key.
// Returns nil, nil if the key does not exist.
func (c *IdempotencyCache) Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	val, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis idempotency get: %w", err)
	}

	var rec domain.IdempotencyRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, fmt.Errorf("redis idempotency decode: %w", err)
	}
	return &rec, nil
}

// Set stores a committed record with TTL.
func (c *IdempotencyCache) Set(ctx context.Context, rec *domain.IdempotencyRecord, ttl time.Duration) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redis idempotency encode: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+rec.Key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis idempotency set: %w", err)
	}
	return nil
}

// QuoteCache implements ports.QuoteCache. Entries expire with the quote.
type QuoteCache struct {
	client goredis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewQuoteCache creates a new Redis-backed quote cache.
func NewQuoteCache(client goredis.UniversalClient) *QuoteCache {
	return &QuoteCache{
		client: client,
		prefix: "fx:quote:",
		now:    time.Now,
	}
}

func (c *QuoteCache) key(from, to string) string {
	return c.prefix + strings.ToUpper(from) + ":" + strings.ToUpper(to)
}

// Get returns the cached quote for the pair or nil, nil on a miss.
func (c *QuoteCache) Get(ctx context.Context, from, to string) (*domain.Quote, error) {
	val, err := c.client.Get(ctx, c.key(from, to)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis quote get: %w", err)
	}

	var q domain.Quote
	if err := json.Unmarshal(val, &q); err != nil {
		return nil, fmt.Errorf("redis quote decode: %w", err)
	}
	return &q, nil
}

// Set stores the quote until its ExpiresAt. Already expired quotes are skipped.
func (c *QuoteCache) Set(ctx context.Context, q *domain.Quote) error {
	ttl := q.ExpiresAt.Sub(c.now())
	if ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("redis quote encode: %w", err)
	}
	if err := c.client.Set(ctx, c.key(q.From, q.To), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis quote set: %w", err)
	}
	return nil
}
