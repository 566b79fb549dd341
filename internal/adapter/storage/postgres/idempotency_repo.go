package postgres

import (
	"context"
	"errors"
	"fmt"

	"ledger-engine/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// IdempotencyRepo implements ports.IdempotencyRepository.
type IdempotencyRepo struct {
	db Querier
}

// NewIdempotencyRepo creates a new IdempotencyRepo.
func NewIdempotencyRepo(db Querier) *IdempotencyRepo {
	return &IdempotencyRepo{db: db}
}

// Create inserts an idempotency record. A concurrent insert of the same key
// fails with domain.ErrDuplicateKey.
func (r *IdempotencyRepo) Create(ctx context.Context, rec *domain.IdempotencyRecord) error {
	query := `INSERT INTO idempotency_records (key, operation, fingerprint, result, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.Exec(ctx, query, rec.Key, rec.Operation, rec.Fingerprint, rec.Result, rec.CreatedAt)
	if err != nil {
		return translate("insert idempotency record", err)
	}
	return nil
}

// Get fetches an idempotency record by key.
func (r *IdempotencyRepo) Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	query := `SELECT key, operation, fingerprint, result, created_at FROM idempotency_records WHERE key = $1`

	rec := &domain.IdempotencyRecord{}
	err := r.db.QueryRow(ctx, query, key).Scan(&rec.Key, &rec.Operation, &rec.Fingerprint, &rec.Result, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get idempotency record: %w", err)
	}
	return rec, nil
}
