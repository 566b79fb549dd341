package postgres

import (
	"context"
	"errors"
	"fmt"

	"ledger-engine/internal/core/ports"

	"github.com/jackc/pgx/v5"
)

// Store implements ports.Store on PostgreSQL. Its repositories run each
// statement in its own implicit transaction.
type Store struct {
	pool Pool
}

// NewStore creates a Store over the pool.
func NewStore(pool Pool) *Store {
	return &Store{pool: pool}
}

// BeginAtomic opens a database transaction.
func (s *Store) BeginAtomic(ctx context.Context) (ports.UnitOfWork, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &unitOfWork{tx: tx}, nil
}

func (s *Store) Accounts() ports.AccountRepository         { return NewAccountRepo(s.pool) }
func (s *Store) Transactions() ports.TransactionRepository { return NewTransactionRepo(s.pool) }
func (s *Store) Idempotency() ports.IdempotencyRepository  { return NewIdempotencyRepo(s.pool) }
func (s *Store) Loans() ports.LoanRepository               { return NewLoanRepo(s.pool) }
func (s *Store) Investments() ports.InvestmentRepository   { return NewInvestmentRepo(s.pool) }
func (s *Store) Payouts() ports.PayoutRepository           { return NewPayoutRepo(s.pool) }
func (s *Store) RateRecords() ports.RateRecordRepository   { return NewRateRecordRepo(s.pool) }

// unitOfWork binds every repository to one pgx.Tx.
type unitOfWork struct {
	tx   pgx.Tx
	done bool
}

func (u *unitOfWork) Accounts() ports.AccountRepository         { return NewAccountRepo(u.tx) }
func (u *unitOfWork) Transactions() ports.TransactionRepository { return NewTransactionRepo(u.tx) }
func (u *unitOfWork) Idempotency() ports.IdempotencyRepository  { return NewIdempotencyRepo(u.tx) }
func (u *unitOfWork) Loans() ports.LoanRepository               { return NewLoanRepo(u.tx) }
func (u *unitOfWork) Investments() ports.InvestmentRepository   { return NewInvestmentRepo(u.tx) }
func (u *unitOfWork) Payouts() ports.PayoutRepository           { return NewPayoutRepo(u.tx) }
func (u *unitOfWork) RateRecords() ports.RateRecordRepository   { return NewRateRecordRepo(u.tx) }

func (u *unitOfWork) Commit(ctx context.Context) error {
	if u.done {
		return errors.New("unit of work already finished")
	}
	u.done = true
	if err := u.tx.Commit(ctx); err != nil {
		return translate("commit transaction", err)
	}
	return nil
}

func (u *unitOfWork) Rollback(ctx context.Context) error {
	if u.done {
		return nil
	}
	u.done = true
	if err := u.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rollback transaction: %w", err)
	}
	return nil
}
