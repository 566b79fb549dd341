package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvestmentStatus represents the lifecycle state of an investment.
type InvestmentStatus string

const (
	InvestmentStatusPending   InvestmentStatus = "PENDING"
	InvestmentStatusApproved  InvestmentStatus = "APPROVED"
	InvestmentStatusRejected  InvestmentStatus = "REJECTED"
	InvestmentStatusActive    InvestmentStatus = "ACTIVE"
	InvestmentStatusMatured   InvestmentStatus = "MATURED"
	InvestmentStatusWithdrawn InvestmentStatus = "WITHDRAWN"
)

var investmentTransitions = map[InvestmentStatus][]InvestmentStatus{
	InvestmentStatusPending:  {InvestmentStatusApproved, InvestmentStatusRejected},
	InvestmentStatusApproved: {InvestmentStatusActive, InvestmentStatusRejected},
	InvestmentStatusActive:   {InvestmentStatusMatured, InvestmentStatusWithdrawn},
}

// PayoutFrequency is how often an investment pays out.
type PayoutFrequency string

const (
	FrequencyMonthly    PayoutFrequency = "MONTHLY"
	FrequencyQuarterly  PayoutFrequency = "QUARTERLY"
	FrequencySemiAnnual PayoutFrequency = "SEMI_ANNUAL"
	FrequencyAnnual     PayoutFrequency = "ANNUAL"
)

// PaymentsPerYear returns the number of payouts per year, or 0 if unknown.
func (f PayoutFrequency) PaymentsPerYear() int {
	switch f {
	case FrequencyMonthly:
		return 12
	case FrequencyQuarterly:
		return 4
	case FrequencySemiAnnual:
		return 2
	case FrequencyAnnual:
		return 1
	default:
		return 0
	}
}

// IntervalMonths is the number of months between payouts.
func (f PayoutFrequency) IntervalMonths() int {
	if n := f.PaymentsPerYear(); n > 0 {
		return 12 / n
	}
	return 0
}

// Investment is a principal that accrues periodic payouts.
type Investment struct {
	ID                 uuid.UUID        `json:"id"`
	OwnerID            uuid.UUID        `json:"owner_id"`
	AccountID          uuid.UUID        `json:"account_id"`
	Currency           string           `json:"currency"`
	Principal          decimal.Decimal  `json:"principal"`
	ROI                decimal.Decimal  `json:"roi"` // annual percent
	TermMonths         int              `json:"term_months"`
	Frequency          PayoutFrequency  `json:"frequency"`
	ProjectedReturn    decimal.Decimal  `json:"projected_return"`
	AccumulatedPayouts decimal.Decimal  `json:"accumulated_payouts"`
	Status             InvestmentStatus `json:"status"`
	StartDate          *time.Time       `json:"start_date,omitempty"`
	MaturityDate       *time.Time       `json:"maturity_date,omitempty"`
	Version            int64            `json:"version"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// CanTransition reports whether the investment may move to the given status.
func (i *Investment) CanTransition(to InvestmentStatus) bool {
	for _, s := range investmentTransitions[i.Status] {
		if s == to {
			return true
		}
	}
	return false
}

// PayoutCount is the number of payouts over the term.
func (i *Investment) PayoutCount() int {
	interval := i.Frequency.IntervalMonths()
	if interval == 0 {
		return 0
	}
	return i.TermMonths / interval
}

// PayoutStatus represents the state of one scheduled payout.
type PayoutStatus string

const (
	PayoutStatusScheduled  PayoutStatus = "SCHEDULED"
	PayoutStatusProcessing PayoutStatus = "PROCESSING"
	PayoutStatusCompleted  PayoutStatus = "COMPLETED"
	PayoutStatusFailed     PayoutStatus = "FAILED"
	PayoutStatusCancelled  PayoutStatus = "CANCELLED"
)

var payoutTransitions = map[PayoutStatus][]PayoutStatus{
	PayoutStatusScheduled:  {PayoutStatusProcessing, PayoutStatusCancelled},
	PayoutStatusProcessing: {PayoutStatusCompleted, PayoutStatusFailed},
	PayoutStatusFailed:     {PayoutStatusProcessing, PayoutStatusCancelled},
}

// Payout is one scheduled distribution of an investment.
type Payout struct {
	ID            uuid.UUID       `json:"id"`
	InvestmentID  uuid.UUID       `json:"investment_id"`
	Sequence      int             `json:"sequence"`
	DueDate       time.Time       `json:"due_date"`
	Amount        decimal.Decimal `json:"amount"`
	Status        PayoutStatus    `json:"status"`
	Attempts      int             `json:"attempts"`
	LastError     string          `json:"last_error,omitempty"`
	TransactionID *uuid.UUID      `json:"transaction_id,omitempty"`
	Version       int64           `json:"version"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Transition returns a copy of p moved to the given status.
// The receiver is left untouched.
func (p Payout) Transition(to PayoutStatus) (Payout, error) {
	for _, s := range payoutTransitions[p.Status] {
		if s == to {
			p.Status = to
			if to == PayoutStatusProcessing {
				p.Attempts++
			}
			return p, nil
		}
	}
	return p, fmt.Errorf("payout %s -> %s: %w", p.Status, to, ErrInvalidTransition)
}

// IsOpen reports whether the payout can still be paid.
func (p *Payout) IsOpen() bool {
	return p.Status == PayoutStatusScheduled || p.Status == PayoutStatusFailed
}
