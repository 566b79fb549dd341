package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// Monetary amounts and rates travel as decimal strings ("12.50") so no
// precision is lost in JSON numbers.

// OpenAccountRequest is the request body for opening an account.
type OpenAccountRequest struct {
	Currency string `json:"currency" binding:"required,currency"`
	Priority bool   `json:"priority"`
	// OwnerID lets an admin open an account on behalf of a user.
	OwnerID *string `json:"owner_id,omitempty" binding:"omitempty,uuid"`
}

// MovementRequest is the request body for deposits and withdrawals.
type MovementRequest struct {
	Amount      string `json:"amount" binding:"required,amount"`
	Currency    string `json:"currency" binding:"required,currency"`
	Description string `json:"description" binding:"max=140"`
}

// SetActiveRequest is the request body for freezing or unfreezing an account.
type SetActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// TransferRequest is the request body for a transfer. ToAccount accepts an
// account id or account number.
type TransferRequest struct {
	FromAccountID string `json:"from_account_id" binding:"required,uuid"`
	ToAccount     string `json:"to_account" binding:"required,max=64,safe_id"`
	Amount        string `json:"amount" binding:"required,amount"`
	Description   string `json:"description" binding:"max=140"`
}

// ExchangeRequest is the request body for a currency exchange.
type ExchangeRequest struct {
	FromAccountID string `json:"from_account_id" binding:"required,uuid"`
	ToAccountID   string `json:"to_account_id" binding:"required,uuid"`
	Amount        string `json:"amount" binding:"required,amount"`
	ToCurrency    string `json:"to_currency" binding:"omitempty,currency"`
}

// ExchangePreviewQuery holds query parameters for an exchange preview.
type ExchangePreviewQuery struct {
	From   string `form:"from" binding:"required,currency"`
	To     string `form:"to" binding:"required,currency"`
	Amount string `form:"amount" binding:"required,amount"`
}

// RateQuery holds query parameters for a rate lookup.
type RateQuery struct {
	From string `form:"from" binding:"required,currency"`
	To   string `form:"to" binding:"required,currency"`
}

// SetRateRequest is the request body for an administrative FX rate update.
type SetRateRequest struct {
	From string `json:"from" binding:"required,currency"`
	To   string `json:"to" binding:"required,currency"`
	Rate string `json:"rate" binding:"required,amount"`
}

// LoanApplicationRequest is the request body for a loan application.
type LoanApplicationRequest struct {
	AccountID  string `json:"account_id" binding:"required,uuid"`
	Principal  string `json:"principal" binding:"required,amount"`
	AnnualRate string `json:"annual_rate" binding:"required,rate"`
	TermMonths int    `json:"term_months" binding:"required,min=1,max=600"`
}

// DisburseLoanRequest is the optional request body for a disbursement.
type DisburseLoanRequest struct {
	AccountID *string `json:"account_id,omitempty" binding:"omitempty,uuid"`
}

// LoanPaymentRequest is the request body for a loan repayment.
type LoanPaymentRequest struct {
	AccountID string `json:"account_id" binding:"required,uuid"`
	Amount    string `json:"amount" binding:"required,amount"`
}

// InvestmentRequest is the request body for a new investment.
type InvestmentRequest struct {
	AccountID  string `json:"account_id" binding:"required,uuid"`
	Principal  string `json:"principal" binding:"required,amount"`
	ROI        string `json:"roi" binding:"required,rate"`
	TermMonths int    `json:"term_months" binding:"required,min=1,max=600"`
	Frequency  string `json:"frequency" binding:"required,oneof=MONTHLY QUARTERLY SEMI_ANNUAL ANNUAL"`
}

// WithdrawInvestmentRequest is the optional request body for an early withdrawal.
type WithdrawInvestmentRequest struct {
	DestinationAccountID *string `json:"destination_account_id,omitempty" binding:"omitempty,uuid"`
}

// RateRecordRequest is the request body for an investment rate record.
type RateRecordRequest struct {
	Scope         string     `json:"scope" binding:"required,oneof=TIER USER INVESTMENT"`
	ScopeID       *string    `json:"scope_id,omitempty" binding:"omitempty,uuid"`
	Currency      string     `json:"currency" binding:"omitempty,currency"`
	MinAmount     string     `json:"min_amount" binding:"omitempty,rate"`
	MaxAmount     *string    `json:"max_amount,omitempty" binding:"omitempty,amount"`
	Rate          string     `json:"rate" binding:"required,rate"`
	EffectiveFrom *time.Time `json:"effective_from,omitempty"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty"`
}

// Pagination holds list query parameters.
type Pagination struct {
	Limit  int `form:"limit" binding:"omitempty,min=1,max=200"`
	Offset int `form:"offset" binding:"omitempty,min=0"`
}

// Normalize applies the default page size.
func (p *Pagination) Normalize() {
	if p.Limit == 0 {
		p.Limit = 50
	}
}

// Decimal parses a value that already passed the amount or rate validators.
// Empty strings parse as zero.
func Decimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
