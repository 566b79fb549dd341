package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"ledger-engine/internal/adapter/storage/memory"
	"ledger-engine/internal/core/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExporter(t *testing.T) (*AuditExporter, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.db")
	e, err := NewAuditExporter(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e, path
}

func seedLog(t *testing.T, n int) (*memory.Store, time.Time) {
	t.Helper()
	store := memory.NewStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	acct := uuid.New()
	for i := 0; i < n; i++ {
		require.NoError(t, store.Transactions().Append(context.Background(), &domain.LedgerTransaction{
			ID:            uuid.New(),
			AccountID:     acct,
			Type:          domain.TransactionTypeDeposit,
			Direction:     domain.DirectionCredit,
			Amount:        decimal.RequireFromString("10.05"),
			Currency:      "USD",
			CorrelationID: "c",
			BalanceAfter:  decimal.NewFromInt(int64(i)),
			Status:        domain.TransactionStatusCompleted,
			AuditHash:     "h",
			CreatedAt:     base.Add(time.Duration(i) * time.Second),
		}))
	}
	return store, base
}

func TestAuditExporter_ExportSince(t *testing.T) {
	e, path := newTestExporter(t)
	store, base := seedLog(t, 7)
	ctx := context.Background()

	n, err := e.ExportSince(ctx, store.Transactions(), base, 3)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	count, err := e.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, count)

	// Re-running adds nothing.
	n, err = e.ExportSince(ctx, store.Transactions(), base, 3)
	require.NoError(t, err)
	assert.Zero(t, n)

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()
	var amount string
	require.NoError(t, db.QueryRow(`SELECT amount FROM ledger_transactions LIMIT 1`).Scan(&amount))
	assert.Equal(t, "10.05", amount)
}

func TestAuditExporter_WriteKeepsExchangeRate(t *testing.T) {
	e, path := newTestExporter(t)
	rate := decimal.RequireFromString("0.9135")
	txn := domain.LedgerTransaction{ID: uuid.New(), AccountID: uuid.New(), ExchangeRate: &rate, CreatedAt: time.Now()}

	n, err := e.Write(context.Background(), []domain.LedgerTransaction{txn, txn})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()
	var got sql.NullString
	require.NoError(t, db.QueryRow(`SELECT exchange_rate FROM ledger_transactions WHERE id = ?`, txn.ID.String()).Scan(&got))
	assert.Equal(t, "0.9135", got.String)
}

func TestNewAuditExporter_BadPath(t *testing.T) {
	_, err := NewAuditExporter(filepath.Join(t.TempDir(), "missing", "dir", "audit.db"))
	assert.Error(t, err)
}
