package postgres

import (
	"context"
	"fmt"
	"time"

	"ledger-engine/internal/core/domain"
)

const rateRecordColumns = `id, scope, scope_id, currency, min_amount, max_amount, rate,
	effective_from, effective_to, created_by, created_at`

// RateRecordRepo implements ports.RateRecordRepository.
type RateRecordRepo struct {
	db Querier
}

// NewRateRecordRepo creates a new RateRecordRepo.
func NewRateRecordRepo(db Querier) *RateRecordRepo {
	return &RateRecordRepo{db: db}
}

func (r *RateRecordRepo) Create(ctx context.Context, rec *domain.RateRecord) error {
	query := `INSERT INTO rate_records (` + rateRecordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.db.Exec(ctx, query,
		rec.ID, rec.Scope, rec.ScopeID, rec.Currency, rec.MinAmount, rec.MaxAmount, rec.Rate,
		rec.EffectiveFrom, rec.EffectiveTo, rec.CreatedBy, rec.CreatedAt,
	)
	if err != nil {
		return translate("insert rate record", err)
	}
	return nil
}

// ListActive returns records whose [effective_from, effective_to) window contains at.
func (r *RateRecordRepo) ListActive(ctx context.Context, at time.Time) ([]domain.RateRecord, error) {
	query := `SELECT ` + rateRecordColumns + ` FROM rate_records
		WHERE effective_from <= $1 AND (effective_to IS NULL OR effective_to > $1)
		ORDER BY effective_from, created_at`
	return r.list(ctx, "list active rate records", query, at)
}

func (r *RateRecordRepo) List(ctx context.Context) ([]domain.RateRecord, error) {
	query := `SELECT ` + rateRecordColumns + ` FROM rate_records ORDER BY effective_from, created_at`
	return r.list(ctx, "list rate records", query)
}

func (r *RateRecordRepo) list(ctx context.Context, op, query string, args ...any) ([]domain.RateRecord, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []domain.RateRecord
	for rows.Next() {
		var rec domain.RateRecord
		err := rows.Scan(&rec.ID, &rec.Scope, &rec.ScopeID, &rec.Currency, &rec.MinAmount, &rec.MaxAmount,
			&rec.Rate, &rec.EffectiveFrom, &rec.EffectiveTo, &rec.CreatedBy, &rec.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan rate record row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rate record rows: %w", err)
	}
	return out, nil
}
