package domain

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/blake2b"
)

// TransactionType represents the kind of money movement.
type TransactionType string

const (
	TransactionTypeDeposit          TransactionType = "DEPOSIT"
	TransactionTypeWithdrawal       TransactionType = "WITHDRAWAL"
	TransactionTypeTransfer         TransactionType = "TRANSFER"
	TransactionTypeExchange         TransactionType = "EXCHANGE"
	TransactionTypeLoanPayment      TransactionType = "LOAN_PAYMENT"
	TransactionTypeLoanDisbursement TransactionType = "LOAN_DISBURSEMENT"
	TransactionTypeInterest         TransactionType = "INTEREST"
	TransactionTypeInvestment       TransactionType = "INVESTMENT"
	TransactionTypeFee              TransactionType = "FEE"
	TransactionTypePenalty          TransactionType = "PENALTY"
)

// Direction tells whether a leg lowers or raises the balance.
type Direction string

const (
	DirectionDebit  Direction = "DEBIT"
	DirectionCredit Direction = "CREDIT"
)

// TransactionStatus represents the lifecycle state of a transaction.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "PENDING"
	TransactionStatusCompleted TransactionStatus = "COMPLETED"
	TransactionStatusFailed    TransactionStatus = "FAILED"
	TransactionStatusCancelled TransactionStatus = "CANCELLED"
)

// LedgerTransaction is an append-only record of one balance mutation.
type LedgerTransaction struct {
	ID                    uuid.UUID         `json:"id"`
	AccountID             uuid.UUID         `json:"account_id"`
	Type                  TransactionType   `json:"type"`
	Direction             Direction         `json:"direction"`
	Amount                decimal.Decimal   `json:"amount"`
	Currency              string            `json:"currency"`
	ExchangeRate          *decimal.Decimal  `json:"exchange_rate,omitempty"`
	LinkedTransactionID   *uuid.UUID        `json:"linked_transaction_id,omitempty"`
	CounterpartyAccountID *uuid.UUID        `json:"counterparty_account_id,omitempty"`
	CorrelationID         string            `json:"correlation_id"`
	ReferenceID           *uuid.UUID        `json:"reference_id,omitempty"` // loan, investment or payout
	BalanceAfter          decimal.Decimal   `json:"balance_after"`
	Status                TransactionStatus `json:"status"`
	IdempotencyKey        string            `json:"idempotency_key,omitempty"`
	Description           string            `json:"description,omitempty"`
	AuditHash             string            `json:"audit_hash"`
	CreatedAt             time.Time         `json:"created_at"`
}

// IsTerminal returns true if the transaction is in a final state.
func (t *LedgerTransaction) IsTerminal() bool {
	return t.Status == TransactionStatusCompleted ||
		t.Status == TransactionStatusFailed ||
		t.Status == TransactionStatusCancelled
}

// SignedAmount is the transaction's contribution to the account balance.
// Only completed transactions contribute.
func (t *LedgerTransaction) SignedAmount() decimal.Decimal {
	if t.Status != TransactionStatusCompleted {
		return decimal.Zero
	}
	if t.Direction == DirectionDebit {
		return t.Amount.Neg()
	}
	return t.Amount
}

// ChainHash links t to the previous hash of its account's chain.
func ChainHash(prev string, t *LedgerTransaction) string {
	fields := []string{
		prev,
		t.ID.String(),
		t.AccountID.String(),
		string(t.Type),
		string(t.Direction),
		t.Amount.String(),
		t.Currency,
		t.BalanceAfter.String(),
		t.CorrelationID,
		string(t.Status),
		t.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	sum := blake2b.Sum256([]byte(strings.Join(fields, "|")))
	return hex.EncodeToString(sum[:])
}
