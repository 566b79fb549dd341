package postgres

import (
	"context"
	"errors"
	"fmt"

	"ledger-engine/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const loanColumns = `id, borrower_id, account_id, currency, principal, annual_rate, term_months,
	monthly_payment, total_paid, remaining_balance, payments_made, status, next_payment_date,
	disbursed_at, version, created_at, updated_at`

// LoanRepo implements ports.LoanRepository.
type LoanRepo struct {
	db Querier
}

// NewLoanRepo creates a new LoanRepo.
func NewLoanRepo(db Querier) *LoanRepo {
	return &LoanRepo{db: db}
}

func (r *LoanRepo) Create(ctx context.Context, l *domain.Loan) error {
	query := `INSERT INTO loans (` + loanColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, err := r.db.Exec(ctx, query,
		l.ID, l.BorrowerID, l.AccountID, l.Currency, l.Principal, l.AnnualRate, l.TermMonths,
		l.MonthlyPayment, l.TotalPaid, l.RemainingBalance, l.PaymentsMade, l.Status, l.NextPaymentDate,
		l.DisbursedAt, l.Version, l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		return translate("insert loan", err)
	}
	return nil
}

func (r *LoanRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE id = $1`
	return scanLoan(r.db.QueryRow(ctx, query, id), "get loan by id")
}

func (r *LoanRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE id = $1 FOR UPDATE`
	return scanLoan(r.db.QueryRow(ctx, query, id), "get loan for update")
}

func (r *LoanRepo) ListByBorrower(ctx context.Context, borrowerID uuid.UUID) ([]domain.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE borrower_id = $1 ORDER BY created_at, id`

	rows, err := r.db.Query(ctx, query, borrowerID)
	if err != nil {
		return nil, fmt.Errorf("list loans: %w", err)
	}
	defer rows.Close()

	var loans []domain.Loan
	for rows.Next() {
		var l domain.Loan
		if err := rows.Scan(loanFields(&l)...); err != nil {
			return nil, fmt.Errorf("scan loan row: %w", err)
		}
		loans = append(loans, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate loan rows: %w", err)
	}
	return loans, nil
}

// Update writes the mutable loan fields when the stored version matches.
func (r *LoanRepo) Update(ctx context.Context, l *domain.Loan, expectedVersion int64) error {
	query := `UPDATE loans SET account_id = $1, monthly_payment = $2, total_paid = $3,
		remaining_balance = $4, payments_made = $5, status = $6, next_payment_date = $7,
		disbursed_at = $8, updated_at = $9, version = version + 1
		WHERE id = $10 AND version = $11`

	tag, err := r.db.Exec(ctx, query,
		l.AccountID, l.MonthlyPayment, l.TotalPaid, l.RemainingBalance, l.PaymentsMade, l.Status,
		l.NextPaymentDate, l.DisbursedAt, l.UpdatedAt, l.ID, expectedVersion,
	)
	if err := checkVersion("update loan", tag, err); err != nil {
		return err
	}
	l.Version = expectedVersion + 1
	return nil
}

func (r *LoanRepo) AddPayment(ctx context.Context, p *domain.LoanPayment) error {
	query := `INSERT INTO loan_payments (id, loan_id, transaction_id, amount, principal_portion,
		interest_portion, remaining_after, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.Exec(ctx, query,
		p.ID, p.LoanID, p.TransactionID, p.Amount, p.PrincipalPortion,
		p.InterestPortion, p.RemainingAfter, p.PaidAt,
	)
	if err != nil {
		return translate("insert loan payment", err)
	}
	return nil
}

// ListPayments returns the loan's payments, oldest first.
func (r *LoanRepo) ListPayments(ctx context.Context, loanID uuid.UUID) ([]domain.LoanPayment, error) {
	query := `SELECT id, loan_id, transaction_id, amount, principal_portion, interest_portion,
		remaining_after, paid_at FROM loan_payments WHERE loan_id = $1 ORDER BY paid_at, id`

	rows, err := r.db.Query(ctx, query, loanID)
	if err != nil {
		return nil, fmt.Errorf("list loan payments: %w", err)
	}
	defer rows.Close()

	var payments []domain.LoanPayment
	for rows.Next() {
		var p domain.LoanPayment
		err := rows.Scan(&p.ID, &p.LoanID, &p.TransactionID, &p.Amount, &p.PrincipalPortion,
			&p.InterestPortion, &p.RemainingAfter, &p.PaidAt)
		if err != nil {
			return nil, fmt.Errorf("scan loan payment row: %w", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate loan payment rows: %w", err)
	}
	return payments, nil
}

func loanFields(l *domain.Loan) []any {
	return []any{
		&l.ID, &l.BorrowerID, &l.AccountID, &l.Currency, &l.Principal, &l.AnnualRate, &l.TermMonths,
		&l.MonthlyPayment, &l.TotalPaid, &l.RemainingBalance, &l.PaymentsMade, &l.Status, &l.NextPaymentDate,
		&l.DisbursedAt, &l.Version, &l.CreatedAt, &l.UpdatedAt,
	}
}

func scanLoan(row pgx.Row, op string) (*domain.Loan, error) {
	l := &domain.Loan{}
	if err := row.Scan(loanFields(l)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, translate(op, err)
	}
	return l, nil
}
