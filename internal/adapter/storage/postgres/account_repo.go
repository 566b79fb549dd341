package postgres

import (
	"context"
	"errors"
	"fmt"

	"ledger-engine/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const accountColumns = `id, number, owner_id, kind, currency, balance, priority, active,
	version, last_audit_hash, created_at, updated_at`

// AccountRepo implements ports.AccountRepository.
type AccountRepo struct {
	db Querier
}

// NewAccountRepo creates a new AccountRepo.
func NewAccountRepo(db Querier) *AccountRepo {
	return &AccountRepo{db: db}
}

// Create inserts a new account.
func (r *AccountRepo) Create(ctx context.Context, a *domain.Account) error {
	query := `INSERT INTO accounts (` + accountColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.db.Exec(ctx, query,
		a.ID, a.Number, a.OwnerID, a.Kind, a.Currency, a.Balance, a.Priority, a.Active,
		a.Version, a.LastAuditHash, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return translate("insert account", err)
	}
	return nil
}

// GetByID fetches an account by its UUID (without locking).
func (r *AccountRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccount(r.db.QueryRow(ctx, query, id), "get account by id")
}

// GetByNumber fetches an account by its public number.
func (r *AccountRepo) GetByNumber(ctx context.Context, number string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE number = $1`
	return scanAccount(r.db.QueryRow(ctx, query, number), "get account by number")
}

// GetForUpdate fetches an account with pessimistic locking.
// Outside a unit of work the lock is released when the statement ends.
func (r *AccountRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 FOR UPDATE`
	return scanAccount(r.db.QueryRow(ctx, query, id), "get account for update")
}

// GetSystemAccount fetches the system account of a kind and currency.
func (r *AccountRepo) GetSystemAccount(ctx context.Context, kind domain.AccountKind, currency string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE kind = $1 AND currency = $2`
	return scanAccount(r.db.QueryRow(ctx, query, kind, currency), "get system account")
}

// ListByOwner returns the owner's user accounts, oldest first.
func (r *AccountRepo) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts
		WHERE owner_id = $1 AND kind = 'USER' ORDER BY created_at, id`

	rows, err := r.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list accounts by owner: %w", err)
	}
	return collectAccounts(rows)
}

// List returns a page of all accounts, oldest first.
func (r *AccountRepo) List(ctx context.Context, limit, offset int) ([]domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts ORDER BY created_at, id LIMIT $1 OFFSET $2`

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return collectAccounts(rows)
}

// Update writes the mutable account fields when the stored version matches.
func (r *AccountRepo) Update(ctx context.Context, a *domain.Account, expectedVersion int64) error {
	query := `UPDATE accounts SET balance = $1, priority = $2, active = $3, last_audit_hash = $4,
		updated_at = $5, version = version + 1
		WHERE id = $6 AND version = $7`

	tag, err := r.db.Exec(ctx, query,
		a.Balance, a.Priority, a.Active, a.LastAuditHash, a.UpdatedAt, a.ID, expectedVersion,
	)
	if err := checkVersion("update account", tag, err); err != nil {
		return err
	}
	a.Version = expectedVersion + 1
	return nil
}

func accountFields(a *domain.Account) []any {
	return []any{
		&a.ID, &a.Number, &a.OwnerID, &a.Kind, &a.Currency, &a.Balance, &a.Priority, &a.Active,
		&a.Version, &a.LastAuditHash, &a.CreatedAt, &a.UpdatedAt,
	}
}

func scanAccount(row pgx.Row, op string) (*domain.Account, error) {
	a := &domain.Account{}
	if err := row.Scan(accountFields(a)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, translate(op, err)
	}
	return a, nil
}

func collectAccounts(rows pgx.Rows) ([]domain.Account, error) {
	defer rows.Close()

	var out []domain.Account
	for rows.Next() {
		var a domain.Account
		if err := rows.Scan(accountFields(&a)...); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return out, nil
}
