package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LoanStatus represents the lifecycle state of a loan.
type LoanStatus string

const (
	LoanStatusPending   LoanStatus = "PENDING"
	LoanStatusApproved  LoanStatus = "APPROVED"
	LoanStatusRejected  LoanStatus = "REJECTED"
	LoanStatusActive    LoanStatus = "ACTIVE"
	LoanStatusPaidOff   LoanStatus = "PAID_OFF"
	LoanStatusDefaulted LoanStatus = "DEFAULTED"
)

var loanTransitions = map[LoanStatus][]LoanStatus{
	LoanStatusPending:  {LoanStatusApproved, LoanStatusRejected},
	LoanStatusApproved: {LoanStatusActive, LoanStatusRejected},
	LoanStatusActive:   {LoanStatusPaidOff, LoanStatusDefaulted},
}

// Loan is an amortizing fixed-payment loan.
type Loan struct {
	ID               uuid.UUID       `json:"id"`
	BorrowerID       uuid.UUID       `json:"borrower_id"`
	AccountID        uuid.UUID       `json:"account_id"`
	Currency         string          `json:"currency"`
	Principal        decimal.Decimal `json:"principal"`
	AnnualRate       decimal.Decimal `json:"annual_rate"` // percent
	TermMonths       int             `json:"term_months"`
	MonthlyPayment   decimal.Decimal `json:"monthly_payment"`
	TotalPaid        decimal.Decimal `json:"total_paid"`
	RemainingBalance decimal.Decimal `json:"remaining_balance"`
	PaymentsMade     int             `json:"payments_made"`
	Status           LoanStatus      `json:"status"`
	NextPaymentDate  *time.Time      `json:"next_payment_date,omitempty"`
	DisbursedAt      *time.Time      `json:"disbursed_at,omitempty"`
	Version          int64           `json:"version"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// CanTransition reports whether the loan may move to the given status.
func (l *Loan) CanTransition(to LoanStatus) bool {
	for _, s := range loanTransitions[l.Status] {
		if s == to {
			return true
		}
	}
	return false
}

// MonthlyRate is the periodic rate r = annual% / 1200.
func (l *Loan) MonthlyRate() decimal.Decimal {
	return MonthlyRate(l.AnnualRate)
}

// MonthlyRate converts an annual percentage rate into a monthly fraction.
func MonthlyRate(annualPercent decimal.Decimal) decimal.Decimal {
	return annualPercent.Div(decimal.NewFromInt(1200))
}

// LoanPayment records how one repayment was split.
type LoanPayment struct {
	ID               uuid.UUID       `json:"id"`
	LoanID           uuid.UUID       `json:"loan_id"`
	TransactionID    uuid.UUID       `json:"transaction_id"`
	Amount           decimal.Decimal `json:"amount"`
	PrincipalPortion decimal.Decimal `json:"principal_portion"`
	InterestPortion  decimal.Decimal `json:"interest_portion"`
	RemainingAfter   decimal.Decimal `json:"remaining_after"`
	PaidAt           time.Time       `json:"paid_at"`
}

// ScheduleEntry is one period of an amortization schedule.
type ScheduleEntry struct {
	Period           int             `json:"period"`
	DueDate          time.Time       `json:"due_date"`
	Payment          decimal.Decimal `json:"payment"`
	PrincipalPortion decimal.Decimal `json:"principal_portion"`
	InterestPortion  decimal.Decimal `json:"interest_portion"`
	BalanceAfter     decimal.Decimal `json:"balance_after"`
}
