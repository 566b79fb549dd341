package postgres

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// schema is applied statement by statement and is safe to re-run.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id              UUID PRIMARY KEY,
		number          TEXT NOT NULL UNIQUE,
		owner_id        UUID NOT NULL,
		kind            TEXT NOT NULL,
		currency        CHAR(3) NOT NULL,
		balance         NUMERIC(28, 8) NOT NULL DEFAULT 0,
		priority        BOOLEAN NOT NULL DEFAULT FALSE,
		active          BOOLEAN NOT NULL DEFAULT TRUE,
		version         BIGINT NOT NULL DEFAULT 0,
		last_audit_hash TEXT NOT NULL DEFAULT '',
		created_at      TIMESTAMPTZ NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS accounts_system_kind_currency
		ON accounts (kind, currency) WHERE kind <> 'USER'`,
	`CREATE INDEX IF NOT EXISTS accounts_owner ON accounts (owner_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS ledger_transactions (
		id                      UUID PRIMARY KEY,
		account_id              UUID NOT NULL REFERENCES accounts (id),
		type                    TEXT NOT NULL,
		direction               TEXT NOT NULL,
		amount                  NUMERIC(28, 8) NOT NULL,
		currency                CHAR(3) NOT NULL,
		exchange_rate           NUMERIC(28, 12),
		linked_transaction_id   UUID,
		counterparty_account_id UUID,
		correlation_id          TEXT NOT NULL,
		reference_id            UUID,
		balance_after           NUMERIC(28, 8) NOT NULL,
		status                  TEXT NOT NULL,
		idempotency_key         TEXT NOT NULL DEFAULT '',
		description             TEXT NOT NULL DEFAULT '',
		audit_hash              TEXT NOT NULL,
		created_at              TIMESTAMPTZ NOT NULL,
		seq                     BIGSERIAL
	)`,
	`CREATE INDEX IF NOT EXISTS ledger_transactions_account ON ledger_transactions (account_id, created_at, seq)`,
	`CREATE INDEX IF NOT EXISTS ledger_transactions_correlation ON ledger_transactions (correlation_id)`,
	`CREATE TABLE IF NOT EXISTS idempotency_records (
		key         TEXT PRIMARY KEY,
		operation   TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		result      BYTEA NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS loans (
		id                UUID PRIMARY KEY,
		borrower_id       UUID NOT NULL,
		account_id        UUID NOT NULL REFERENCES accounts (id),
		currency          CHAR(3) NOT NULL,
		principal         NUMERIC(28, 8) NOT NULL,
		annual_rate       NUMERIC(12, 6) NOT NULL,
		term_months       INTEGER NOT NULL,
		monthly_payment   NUMERIC(28, 8) NOT NULL,
		total_paid        NUMERIC(28, 8) NOT NULL DEFAULT 0,
		remaining_balance NUMERIC(28, 8) NOT NULL,
		payments_made     INTEGER NOT NULL DEFAULT 0,
		status            TEXT NOT NULL,
		next_payment_date TIMESTAMPTZ,
		disbursed_at      TIMESTAMPTZ,
		version           BIGINT NOT NULL DEFAULT 0,
		created_at        TIMESTAMPTZ NOT NULL,
		updated_at        TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS loans_borrower ON loans (borrower_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS loan_payments (
		id                UUID PRIMARY KEY,
		loan_id           UUID NOT NULL REFERENCES loans (id),
		transaction_id    UUID NOT NULL,
		amount            NUMERIC(28, 8) NOT NULL,
		principal_portion NUMERIC(28, 8) NOT NULL,
		interest_portion  NUMERIC(28, 8) NOT NULL,
		remaining_after   NUMERIC(28, 8) NOT NULL,
		paid_at           TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS loan_payments_loan ON loan_payments (loan_id, paid_at)`,
	`CREATE TABLE IF NOT EXISTS investments (
		id                  UUID PRIMARY KEY,
		owner_id            UUID NOT NULL,
		account_id          UUID NOT NULL REFERENCES accounts (id),
		currency            CHAR(3) NOT NULL,
		principal           NUMERIC(28, 8) NOT NULL,
		roi                 NUMERIC(12, 6) NOT NULL,
		term_months         INTEGER NOT NULL,
		frequency           TEXT NOT NULL,
		projected_return    NUMERIC(28, 8) NOT NULL,
		accumulated_payouts NUMERIC(28, 8) NOT NULL DEFAULT 0,
		status              TEXT NOT NULL,
		start_date          TIMESTAMPTZ,
		maturity_date       TIMESTAMPTZ,
		version             BIGINT NOT NULL DEFAULT 0,
		created_at          TIMESTAMPTZ NOT NULL,
		updated_at          TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS investments_owner ON investments (owner_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS investment_payouts (
		id             UUID PRIMARY KEY,
		investment_id  UUID NOT NULL REFERENCES investments (id),
		sequence       INTEGER NOT NULL,
		due_date       TIMESTAMPTZ NOT NULL,
		amount         NUMERIC(28, 8) NOT NULL DEFAULT 0,
		status         TEXT NOT NULL,
		attempts       INTEGER NOT NULL DEFAULT 0,
		last_error     TEXT NOT NULL DEFAULT '',
		transaction_id UUID,
		version        BIGINT NOT NULL DEFAULT 0,
		updated_at     TIMESTAMPTZ NOT NULL,
		UNIQUE (investment_id, sequence)
	)`,
	`CREATE INDEX IF NOT EXISTS investment_payouts_due ON investment_payouts (due_date)
		WHERE status IN ('SCHEDULED', 'FAILED')`,
	`CREATE TABLE IF NOT EXISTS rate_records (
		id             UUID PRIMARY KEY,
		scope          TEXT NOT NULL,
		scope_id       UUID,
		currency       TEXT NOT NULL DEFAULT '',
		min_amount     NUMERIC(28, 8) NOT NULL DEFAULT 0,
		max_amount     NUMERIC(28, 8),
		rate           NUMERIC(12, 6) NOT NULL,
		effective_from TIMESTAMPTZ NOT NULL,
		effective_to   TIMESTAMPTZ,
		created_by     UUID NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL
	)`,
}

// Migrate creates the ledger tables when they do not exist.
func Migrate(ctx context.Context, db Querier, log zerolog.Logger) error {
	for i, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema statement %d: %w", i, err)
		}
	}
	log.Info().Int("statements", len(schema)).Msg("Database schema up to date")
	return nil
}
