package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountKind separates customer accounts from ledger-owned system accounts.
type AccountKind string

const (
	AccountKindUser AccountKind = "USER"
	AccountKindFee  AccountKind = "FEE" // collects exchange fees and withdrawal penalties
)

// Account is a single-currency balance holder.
type Account struct {
	ID            uuid.UUID       `json:"id"`
	Number        string          `json:"number"`
	OwnerID       uuid.UUID       `json:"owner_id"`
	Kind          AccountKind     `json:"kind"`
	Currency      string          `json:"currency"`
	Balance       decimal.Decimal `json:"balance"`
	Priority      bool            `json:"priority"`
	Active        bool            `json:"active"`
	Version       int64           `json:"version"`
	LastAuditHash string          `json:"-"` // head of the account's transaction hash chain
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// IsSystem returns true for ledger-owned accounts.
func (a *Account) IsSystem() bool {
	return a.Kind != AccountKindUser
}

// CanCover reports whether the balance covers a debit of amount.
func (a *Account) CanCover(amount decimal.Decimal) bool {
	return a.Balance.GreaterThanOrEqual(amount)
}
