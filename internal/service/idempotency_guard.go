package service

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"ledger-engine/internal/core/domain"
	"ledger-engine/internal/core/ports"
	"ledger-engine/pkg/apperror"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/blake2b"
)

// IdempotencyGuard deduplicates retried operations. The cache is only a fast
// path; the authoritative check runs inside the unit of work while the
// affected accounts are locked.
type IdempotencyGuard struct {
	cache ports.IdempotencyCache // nil disables the fast path
	ttl   time.Duration
	log   zerolog.Logger
}

// NewIdempotencyGuard creates a guard. cache may be nil.
func NewIdempotencyGuard(cache ports.IdempotencyCache, ttl time.Duration, log zerolog.Logger) *IdempotencyGuard {
	return &IdempotencyGuard{cache: cache, ttl: ttl, log: log}
}

// Fingerprint hashes the request fields that must match on replay.
func Fingerprint(parts ...string) string {
	sum := blake2b.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}

// Lookup consults the cache. A hit with a different fingerprint is an
// IdempotencyConflict. Cache errors are logged and treated as a miss.
func (g *IdempotencyGuard) Lookup(ctx context.Context, key, fingerprint string) (*domain.IdempotencyRecord, error) {
	if g.cache == nil || key == "" {
		return nil, nil
	}
	rec, err := g.cache.Get(ctx, key)
	if err != nil {
		g.log.Warn().Err(err).Str("key", key).Msg("Idempotency cache lookup failed")
		return nil, nil
	}
	return g.match(rec, fingerprint)
}

// Check is the authoritative lookup inside a unit of work.
func (g *IdempotencyGuard) Check(ctx context.Context, uow ports.UnitOfWork, key, fingerprint string) (*domain.IdempotencyRecord, error) {
	if key == "" {
		return nil, nil
	}
	rec, err := uow.Idempotency().Get(ctx, key)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("idempotency lookup: %w", err))
	}
	return g.match(rec, fingerprint)
}

// Record stages the operation result in the unit of work.
func (g *IdempotencyGuard) Record(ctx context.Context, uow ports.UnitOfWork, key, operation, fingerprint string, result any) (*domain.IdempotencyRecord, error) {
	if key == "" {
		return nil, nil
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("marshal idempotency result: %w", err))
	}
	rec := &domain.IdempotencyRecord{
		Key:         key,
		Operation:   operation,
		Fingerprint: fingerprint,
		Result:      payload,
		CreatedAt:   time.Now().UTC(),
	}
	if err := uow.Idempotency().Create(ctx, rec); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create idempotency record: %w", err))
	}
	return rec, nil
}

// Remember fills the cache after commit. Best effort.
func (g *IdempotencyGuard) Remember(ctx context.Context, rec *domain.IdempotencyRecord) {
	if g.cache == nil || rec == nil {
		return
	}
	if err := g.cache.Set(ctx, rec, g.ttl); err != nil {
		g.log.Warn().Err(err).Str("key", rec.Key).Msg("Failed to cache idempotency record")
	}
}

func (g *IdempotencyGuard) match(rec *domain.IdempotencyRecord, fingerprint string) (*domain.IdempotencyRecord, error) {
	if rec == nil {
		return nil, nil
	}
	if rec.Fingerprint != fingerprint {
		return nil, apperror.ErrIdempotencyConflict()
	}
	return rec, nil
}

// replay decodes a stored result into out.
func replay(rec *domain.IdempotencyRecord, out any) error {
	if err := json.Unmarshal(rec.Result, out); err != nil {
		return apperror.InternalError(fmt.Errorf("unmarshal idempotency result: %w", err))
	}
	return nil
}
