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

const transactionColumns = `id, account_id, type, direction, amount, currency, exchange_rate,
	linked_transaction_id, counterparty_account_id, correlation_id, reference_id, balance_after,
	status, idempotency_key, description, audit_hash, created_at`

// TransactionRepo implements ports.TransactionRepository. Rows are never
// updated or deleted; seq breaks created_at ties in insertion order.
type TransactionRepo struct {
	db Querier
}

// NewTransactionRepo creates a new TransactionRepo.
func NewTransactionRepo(db Querier) *TransactionRepo {
	return &TransactionRepo{db: db}
}

// Append inserts a transaction.
func (r *TransactionRepo) Append(ctx context.Context, t *domain.LedgerTransaction) error {
	query := `INSERT INTO ledger_transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, err := r.db.Exec(ctx, query,
		t.ID, t.AccountID, t.Type, t.Direction, t.Amount, t.Currency, t.ExchangeRate,
		t.LinkedTransactionID, t.CounterpartyAccountID, t.CorrelationID, t.ReferenceID, t.BalanceAfter,
		t.Status, t.IdempotencyKey, t.Description, t.AuditHash, t.CreatedAt,
	)
	if err != nil {
		return translate("insert transaction", err)
	}
	return nil
}

// GetByID fetches a transaction by UUID.
func (r *TransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.LedgerTransaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM ledger_transactions WHERE id = $1`

	t := &domain.LedgerTransaction{}
	if err := r.db.QueryRow(ctx, query, id).Scan(transactionFields(t)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get transaction by id: %w", err)
	}
	return t, nil
}

// ListByAccount returns a page of the account's transactions, newest first.
func (r *TransactionRepo) ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.LedgerTransaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM ledger_transactions
		WHERE account_id = $1 ORDER BY created_at DESC, seq DESC LIMIT $2 OFFSET $3`
	return r.list(ctx, "list transactions by account", query, accountID, limit, offset)
}

// History returns every transaction of the account, oldest first.
func (r *TransactionRepo) History(ctx context.Context, accountID uuid.UUID) ([]domain.LedgerTransaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM ledger_transactions
		WHERE account_id = $1 ORDER BY created_at, seq`
	return r.list(ctx, "transaction history", query, accountID)
}

// ListByCorrelation returns every leg of one operation.
func (r *TransactionRepo) ListByCorrelation(ctx context.Context, correlationID string) ([]domain.LedgerTransaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM ledger_transactions
		WHERE correlation_id = $1 ORDER BY created_at, seq`
	return r.list(ctx, "list transactions by correlation", query, correlationID)
}

// ListSince returns transactions created at or after since, oldest first.
func (r *TransactionRepo) ListSince(ctx context.Context, since time.Time, limit int) ([]domain.LedgerTransaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM ledger_transactions
		WHERE created_at >= $1 ORDER BY created_at, seq LIMIT $2`
	return r.list(ctx, "list transactions since", query, since, limit)
}

func (r *TransactionRepo) list(ctx context.Context, op, query string, args ...any) ([]domain.LedgerTransaction, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var txns []domain.LedgerTransaction
	for rows.Next() {
		var t domain.LedgerTransaction
		if err := rows.Scan(transactionFields(&t)...); err != nil {
			return nil, fmt.Errorf("scan transaction row: %w", err)
		}
		txns = append(txns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transaction rows: %w", err)
	}
	return txns, nil
}

func transactionFields(t *domain.LedgerTransaction) []any {
	return []any{
		&t.ID, &t.AccountID, &t.Type, &t.Direction, &t.Amount, &t.Currency, &t.ExchangeRate,
		&t.LinkedTransactionID, &t.CounterpartyAccountID, &t.CorrelationID, &t.ReferenceID, &t.BalanceAfter,
		&t.Status, &t.IdempotencyKey, &t.Description, &t.AuditHash, &t.CreatedAt,
	}
}
