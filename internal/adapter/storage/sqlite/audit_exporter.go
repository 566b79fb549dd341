package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"ledger-engine/internal/core/domain"
	"ledger-engine/internal/core/ports"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS ledger_transactions (
	id             TEXT PRIMARY KEY,
	account_id     TEXT NOT NULL,
	type           TEXT NOT NULL,
	direction      TEXT NOT NULL,
	amount         TEXT NOT NULL,
	currency       TEXT NOT NULL,
	exchange_rate  TEXT,
	correlation_id TEXT NOT NULL,
	balance_after  TEXT NOT NULL,
	status         TEXT NOT NULL,
	audit_hash     TEXT NOT NULL,
	created_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS ledger_transactions_account ON ledger_transactions (account_id, created_at);
`

// AuditExporter copies the transaction log into a portable SQLite file.
// Amounts are stored as decimal strings; re-running an export is idempotent.
type AuditExporter struct {
	db *sql.DB
}

// NewAuditExporter opens (or creates) the SQLite file at path.
func NewAuditExporter(path string) (*AuditExporter, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create audit schema: %w", err)
	}
	return &AuditExporter{db: db}, nil
}

// Write inserts txns, skipping ids already exported. It returns the number of
// new rows.
func (e *AuditExporter) Write(ctx context.Context, txns []domain.LedgerTransaction) (int, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin export: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO ledger_transactions
		(id, account_id, type, direction, amount, currency, exchange_rate, correlation_id,
		 balance_after, status, audit_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare export: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for i := range txns {
		t := &txns[i]
		var rate sql.NullString
		if t.ExchangeRate != nil {
			rate = sql.NullString{String: t.ExchangeRate.String(), Valid: true}
		}
		res, err := stmt.ExecContext(ctx,
			t.ID.String(), t.AccountID.String(), string(t.Type), string(t.Direction),
			t.Amount.String(), t.Currency, rate, t.CorrelationID,
			t.BalanceAfter.String(), string(t.Status), t.AuditHash,
			t.CreatedAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return 0, fmt.Errorf("export transaction %s: %w", t.ID, err)
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit export: %w", err)
	}
	return inserted, nil
}

// ExportSince pages through the log from since onward and writes every
// transaction. A page that adds nothing new ends the export.
func (e *AuditExporter) ExportSince(ctx context.Context, log ports.TransactionRepository, since time.Time, batch int) (int, error) {
	if batch <= 0 {
		batch = 500
	}
	total := 0
	for {
		page, err := log.ListSince(ctx, since, batch)
		if err != nil {
			return total, fmt.Errorf("read transaction log: %w", err)
		}
		n, err := e.Write(ctx, page)
		if err != nil {
			return total, err
		}
		total += n
		if len(page) < batch || n == 0 {
			return total, nil
		}
		since = page[len(page)-1].CreatedAt
	}
}

// Count returns the number of exported transactions.
func (e *AuditExporter) Count(ctx context.Context) (int, error) {
	var n int
	if err := e.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger_transactions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count exported transactions: %w", err)
	}
	return n, nil
}

func (e *AuditExporter) Close() error {
	return e.db.Close()
}
