package ports

import (
	"context"
	"time"

	"ledger-engine/internal/core/domain"

	"github.com/google/uuid"
)

// AccountRepository persists accounts. Getters return (nil, nil) when the
// account does not exist. Update is version-checked and fails with
// domain.ErrVersionConflict when the stored version differs from expectedVersion.
type AccountRepository interface {
	Create(ctx context.Context, account *domain.Account) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	GetByNumber(ctx context.Context, number string) (*domain.Account, error)
	// GetForUpdate reads the row for mutation inside a unit of work
	// (row lock on relational stores).
	GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	GetSystemAccount(ctx context.Context, kind domain.AccountKind, currency string) (*domain.Account, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]domain.Account, error)
	List(ctx context.Context, limit, offset int) ([]domain.Account, error)
	Update(ctx context.Context, account *domain.Account, expectedVersion int64) error
}

// TransactionRepository is the append-only transaction log.
type TransactionRepository interface {
	Append(ctx context.Context, txn *domain.LedgerTransaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.LedgerTransaction, error)
	// ListByAccount returns newest first.
	ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.LedgerTransaction, error)
	// History returns every transaction of the account, oldest first.
	History(ctx context.Context, accountID uuid.UUID) ([]domain.LedgerTransaction, error)
	ListByCorrelation(ctx context.Context, correlationID string) ([]domain.LedgerTransaction, error)
	// ListSince returns transactions created at or after since, oldest first.
	ListSince(ctx context.Context, since time.Time, limit int) ([]domain.LedgerTransaction, error)
}

// IdempotencyRepository stores committed operation results.
// Create fails with domain.ErrDuplicateKey when the key exists.
type IdempotencyRepository interface {
	Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error)
	Create(ctx context.Context, record *domain.IdempotencyRecord) error
}

// LoanRepository persists loans and their payments.
type LoanRepository interface {
	Create(ctx context.Context, loan *domain.Loan) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Loan, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Loan, error)
	ListByBorrower(ctx context.Context, borrowerID uuid.UUID) ([]domain.Loan, error)
	Update(ctx context.Context, loan *domain.Loan, expectedVersion int64) error
	AddPayment(ctx context.Context, payment *domain.LoanPayment) error
	ListPayments(ctx context.Context, loanID uuid.UUID) ([]domain.LoanPayment, error)
}

// InvestmentRepository persists investments.
type InvestmentRepository interface {
	Create(ctx context.Context, inv *domain.Investment) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Investment, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Investment, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]domain.Investment, error)
	Update(ctx context.Context, inv *domain.Investment, expectedVersion int64) error
}

// PayoutRepository persists investment payout schedules.
type PayoutRepository interface {
	CreateBatch(ctx context.Context, payouts []domain.Payout) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Payout, error)
	// ListByInvestment returns payouts ordered by sequence.
	ListByInvestment(ctx context.Context, investmentID uuid.UUID) ([]domain.Payout, error)
	// ListDue returns scheduled or failed payouts due at or before the given
	// time with fewer than maxAttempts attempts, oldest due first.
	ListDue(ctx context.Context, before time.Time, maxAttempts, limit int) ([]domain.Payout, error)
	// ListStale returns PROCESSING payouts last updated before the cutoff.
	ListStale(ctx context.Context, updatedBefore time.Time, limit int) ([]domain.Payout, error)
	Update(ctx context.Context, payout *domain.Payout, expectedVersion int64) error
}

// RateRecordRepository persists time-windowed investment rate records.
type RateRecordRepository interface {
	Create(ctx context.Context, record *domain.RateRecord) error
	// ListActive returns records whose effective window contains at.
	ListActive(ctx context.Context, at time.Time) ([]domain.RateRecord, error)
	List(ctx context.Context) ([]domain.RateRecord, error)
}

// Repositories groups every repository of one store or unit of work.
type Repositories interface {
	Accounts() AccountRepository
	Transactions() TransactionRepository
	Idempotency() IdempotencyRepository
	Loans() LoanRepository
	Investments() InvestmentRepository
	Payouts() PayoutRepository
	RateRecords() RateRecordRepository
}

// UnitOfWork is one atomic scope. Writes made through its repositories become
// visible to others only after Commit; Rollback discards them and is a no-op
// after Commit.
type UnitOfWork interface {
	Repositories
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store is the persistence root. Its repositories read committed state.
type Store interface {
	Repositories
	BeginAtomic(ctx context.Context) (UnitOfWork, error)
}
