package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Quote is an exchange rate with a bounded validity window.
type Quote struct {
	From      string          `json:"from"`
	To        string          `json:"to"`
	Rate      decimal.Decimal `json:"rate"`
	AsOf      time.Time       `json:"as_of"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Valid reports whether the quote may still be used at now.
func (q *Quote) Valid(now time.Time) bool {
	return now.Before(q.ExpiresAt)
}

// RateScope orders investment rate records by specificity.
type RateScope string

const (
	RateScopeTier       RateScope = "TIER"
	RateScopeUser       RateScope = "USER"
	RateScopeInvestment RateScope = "INVESTMENT" // admin override for one investment
)

// Specificity is higher for narrower scopes.
func (s RateScope) Specificity() int {
	switch s {
	case RateScopeInvestment:
		return 3
	case RateScopeUser:
		return 2
	case RateScopeTier:
		return 1
	default:
		return 0
	}
}

// RateRecord is an annual rate effective over a time window.
type RateRecord struct {
	ID            uuid.UUID        `json:"id"`
	Scope         RateScope        `json:"scope"`
	ScopeID       *uuid.UUID       `json:"scope_id,omitempty"`
	Currency      string           `json:"currency"`
	MinAmount     decimal.Decimal  `json:"min_amount"`
	MaxAmount     *decimal.Decimal `json:"max_amount,omitempty"`
	Rate          decimal.Decimal  `json:"rate"` // annual percent
	EffectiveFrom time.Time        `json:"effective_from"`
	EffectiveTo   *time.Time       `json:"effective_to,omitempty"`
	CreatedBy     uuid.UUID        `json:"created_by"`
	CreatedAt     time.Time        `json:"created_at"`
}

// ActiveAt reports whether at falls inside [EffectiveFrom, EffectiveTo).
func (r *RateRecord) ActiveAt(at time.Time) bool {
	if at.Before(r.EffectiveFrom) {
		return false
	}
	return r.EffectiveTo == nil || at.Before(*r.EffectiveTo)
}

// CoversAmount reports whether amount falls inside the tier band [MinAmount, MaxAmount].
func (r *RateRecord) CoversAmount(amount decimal.Decimal) bool {
	if amount.LessThan(r.MinAmount) {
		return false
	}
	return r.MaxAmount == nil || amount.LessThanOrEqual(*r.MaxAmount)
}
