package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ledger-engine/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const investmentColumns = `id, owner_id, account_id, currency, principal, roi, term_months, frequency,
	projected_return, accumulated_payouts, status, start_date, maturity_date, version, created_at, updated_at`

// InvestmentRepo implements ports.InvestmentRepository.
type InvestmentRepo struct {
	db Querier
}

// NewInvestmentRepo creates a new InvestmentRepo.
func NewInvestmentRepo(db Querier) *InvestmentRepo {
	return &InvestmentRepo{db: db}
}

func (r *InvestmentRepo) Create(ctx context.Context, inv *domain.Investment) error {
	query := `INSERT INTO investments (` + investmentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err := r.db.Exec(ctx, query,
		inv.ID, inv.OwnerID, inv.AccountID, inv.Currency, inv.Principal, inv.ROI, inv.TermMonths, inv.Frequency,
		inv.ProjectedReturn, inv.AccumulatedPayouts, inv.Status, inv.StartDate, inv.MaturityDate,
		inv.Version, inv.CreatedAt, inv.UpdatedAt,
	)
	if err != nil {
		return translate("insert investment", err)
	}
	return nil
}

func (r *InvestmentRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Investment, error) {
	query := `SELECT ` + investmentColumns + ` FROM investments WHERE id = $1`
	return scanInvestment(r.db.QueryRow(ctx, query, id), "get investment by id")
}

func (r *InvestmentRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Investment, error) {
	query := `SELECT ` + investmentColumns + ` FROM investments WHERE id = $1 FOR UPDATE`
	return scanInvestment(r.db.QueryRow(ctx, query, id), "get investment for update")
}

func (r *InvestmentRepo) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]domain.Investment, error) {
	query := `SELECT ` + investmentColumns + ` FROM investments WHERE owner_id = $1 ORDER BY created_at, id`

	rows, err := r.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list investments: %w", err)
	}
	defer rows.Close()

	var out []domain.Investment
	for rows.Next() {
		var inv domain.Investment
		if err := rows.Scan(investmentFields(&inv)...); err != nil {
			return nil, fmt.Errorf("scan investment row: %w", err)
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate investment rows: %w", err)
	}
	return out, nil
}

func (r *InvestmentRepo) Update(ctx context.Context, inv *domain.Investment, expectedVersion int64) error {
	query := `UPDATE investments SET roi = $1, projected_return = $2, accumulated_payouts = $3,
		status = $4, start_date = $5, maturity_date = $6, updated_at = $7, version = version + 1
		WHERE id = $8 AND version = $9`

	tag, err := r.db.Exec(ctx, query,
		inv.ROI, inv.ProjectedReturn, inv.AccumulatedPayouts, inv.Status, inv.StartDate,
		inv.MaturityDate, inv.UpdatedAt, inv.ID, expectedVersion,
	)
	if err := checkVersion("update investment", tag, err); err != nil {
		return err
	}
	inv.Version = expectedVersion + 1
	return nil
}

func investmentFields(inv *domain.Investment) []any {
	return []any{
		&inv.ID, &inv.OwnerID, &inv.AccountID, &inv.Currency, &inv.Principal, &inv.ROI, &inv.TermMonths, &inv.Frequency,
		&inv.ProjectedReturn, &inv.AccumulatedPayouts, &inv.Status, &inv.StartDate, &inv.MaturityDate,
		&inv.Version, &inv.CreatedAt, &inv.UpdatedAt,
	}
}

func scanInvestment(row pgx.Row, op string) (*domain.Investment, error) {
	inv := &domain.Investment{}
	if err := row.Scan(investmentFields(inv)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, translate(op, err)
	}
	return inv, nil
}

const payoutColumns = `id, investment_id, sequence, due_date, amount, status, attempts, last_error,
	transaction_id, version, updated_at`

// PayoutRepo implements ports.PayoutRepository.
type PayoutRepo struct {
	db Querier
}

// NewPayoutRepo creates a new PayoutRepo.
func NewPayoutRepo(db Querier) *PayoutRepo {
	return &PayoutRepo{db: db}
}

// CreateBatch inserts a payout schedule. Call it inside a unit of work so a
// partial schedule is never visible.
func (r *PayoutRepo) CreateBatch(ctx context.Context, payouts []domain.Payout) error {
	query := `INSERT INTO investment_payouts (` + payoutColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	for i := range payouts {
		p := &payouts[i]
		_, err := r.db.Exec(ctx, query,
			p.ID, p.InvestmentID, p.Sequence, p.DueDate, p.Amount, p.Status, p.Attempts, p.LastError,
			p.TransactionID, p.Version, p.UpdatedAt,
		)
		if err != nil {
			return translate(fmt.Sprintf("insert payout %d", p.Sequence), err)
		}
	}
	return nil
}

func (r *PayoutRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Payout, error) {
	query := `SELECT ` + payoutColumns + ` FROM investment_payouts WHERE id = $1`

	p := &domain.Payout{}
	if err := r.db.QueryRow(ctx, query, id).Scan(payoutFields(p)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get payout by id: %w", err)
	}
	return p, nil
}

func (r *PayoutRepo) ListByInvestment(ctx context.Context, investmentID uuid.UUID) ([]domain.Payout, error) {
	query := `SELECT ` + payoutColumns + ` FROM investment_payouts WHERE investment_id = $1 ORDER BY sequence`
	return r.list(ctx, "list payouts by investment", query, investmentID)
}

// ListDue returns open payouts due at or before the given time.
func (r *PayoutRepo) ListDue(ctx context.Context, before time.Time, maxAttempts, limit int) ([]domain.Payout, error) {
	query := `SELECT ` + payoutColumns + ` FROM investment_payouts
		WHERE status IN ('SCHEDULED', 'FAILED') AND due_date <= $1 AND attempts < $2
		ORDER BY due_date, sequence LIMIT $3`
	return r.list(ctx, "list due payouts", query, before, maxAttempts, limit)
}

// ListStale returns PROCESSING payouts whose claim is older than updatedBefore.
func (r *PayoutRepo) ListStale(ctx context.Context, updatedBefore time.Time, limit int) ([]domain.Payout, error) {
	query := `SELECT ` + payoutColumns + ` FROM investment_payouts
		WHERE status = 'PROCESSING' AND updated_at < $1
		ORDER BY updated_at LIMIT $2`
	return r.list(ctx, "list stale payouts", query, updatedBefore, limit)
}

func (r *PayoutRepo) Update(ctx context.Context, p *domain.Payout, expectedVersion int64) error {
	query := `UPDATE investment_payouts SET amount = $1, status = $2, attempts = $3, last_error = $4,
		transaction_id = $5, updated_at = $6, version = version + 1
		WHERE id = $7 AND version = $8`

	tag, err := r.db.Exec(ctx, query,
		p.Amount, p.Status, p.Attempts, p.LastError, p.TransactionID, p.UpdatedAt, p.ID, expectedVersion,
	)
	if err := checkVersion("update payout", tag, err); err != nil {
		return err
	}
	p.Version = expectedVersion + 1
	return nil
}

func (r *PayoutRepo) list(ctx context.Context, op, query string, args ...any) ([]domain.Payout, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []domain.Payout
	for rows.Next() {
		var p domain.Payout
		if err := rows.Scan(payoutFields(&p)...); err != nil {
			return nil, fmt.Errorf("scan payout row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payout rows: %w", err)
	}
	return out, nil
}

func payoutFields(p *domain.Payout) []any {
	return []any{
		&p.ID, &p.InvestmentID, &p.Sequence, &p.DueDate, &p.Amount, &p.Status, &p.Attempts, &p.LastError,
		&p.TransactionID, &p.Version, &p.UpdatedAt,
	}
}
