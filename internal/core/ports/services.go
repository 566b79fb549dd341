package ports

import (
	"context"
	"time"

	"ledger-engine/internal/core/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Roles carried in access tokens.
const (
	RoleUser   = "user"
	RoleAdmin  = "admin"
	RoleSystem = "system"
)

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserID uuid.UUID
	Role   string
}

// SystemActor is used by schedulers and the operator CLI.
var SystemActor = Actor{Role: RoleSystem}

// Privileged reports whether ownership checks are bypassed for the actor.
func (a Actor) Privileged() bool {
	return a.Role == RoleAdmin || a.Role == RoleSystem
}

// TokenService handles JWT token operations.
type TokenService interface {
	Generate(userID uuid.UUID, role string) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	UserID uuid.UUID
	Role   string
}

// --- AccountLedger ---

// LedgerService owns balance mutation.
type LedgerService interface {
	OpenAccount(ctx context.Context, req OpenAccountRequest) (*domain.Account, error)
	GetAccount(ctx context.Context, actor Actor, accountID uuid.UUID) (*domain.Account, error)
	ListAccounts(ctx context.Context, ownerID uuid.UUID) ([]domain.Account, error)
	SetPriority(ctx context.Context, actor Actor, accountID uuid.UUID) (*domain.Account, error)
	SetActive(ctx context.Context, accountID uuid.UUID, active bool) (*domain.Account, error)
	Debit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, currency, idempotencyKey string) (*TransactionResult, error)
	Credit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, currency, idempotencyKey string) (*TransactionResult, error)
	Deposit(ctx context.Context, req MovementRequest) (*TransactionResult, error)
	Withdraw(ctx context.Context, req MovementRequest) (*TransactionResult, error)
	History(ctx context.Context, actor Actor, accountID uuid.UUID, limit, offset int) ([]domain.LedgerTransaction, error)
	Reconcile(ctx context.Context, accountID uuid.UUID) (*ReconcileReport, error)
}

// OpenAccountRequest holds input for opening an account.
type OpenAccountRequest struct {
	OwnerID  uuid.UUID
	Currency string
	Priority bool
}

// MovementRequest holds input for a single-account deposit or withdrawal.
// An empty IdempotencyKey disables replay protection.
type MovementRequest struct {
	Actor          Actor
	AccountID      uuid.UUID
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
	Description    string
}

// TransactionResult is the outcome of a single-account mutation.
type TransactionResult struct {
	TransactionID uuid.UUID              `json:"transaction_id"`
	AccountID     uuid.UUID              `json:"account_id"`
	Type          domain.TransactionType `json:"type"`
	Amount        decimal.Decimal        `json:"amount"`
	Currency      string                 `json:"currency"`
	NewBalance    decimal.Decimal        `json:"new_balance"`
	CorrelationID string                 `json:"correlation_id"`
	CreatedAt     time.Time              `json:"created_at"`
}

// ReconcileReport compares an account against its transaction log.
type ReconcileReport struct {
	AccountID       uuid.UUID       `json:"account_id"`
	StoredBalance   decimal.Decimal `json:"stored_balance"`
	ComputedBalance decimal.Decimal `json:"computed_balance"`
	Transactions    int             `json:"transactions"`
	ChainValid      bool            `json:"chain_valid"`
	BrokenAt        *uuid.UUID      `json:"broken_at,omitempty"`
	Consistent      bool            `json:"consistent"`
}

// --- CurrencyConverter ---

// RateService exposes quotes to the API layer.
type RateService interface {
	GetRate(ctx context.Context, from, to string) (*domain.Quote, error)
	// Refresh bypasses the quote cache.
	Refresh(ctx context.Context, from, to string) (*domain.Quote, error)
}

// RateWriter accepts administrative exchange rate updates.
type RateWriter interface {
	SetRate(from, to string, rate decimal.Decimal, asOf time.Time) error
}

// --- TransferOrchestrator ---

// TransferKind distinguishes same-owner from cross-owner transfers.
type TransferKind string

const (
	TransferInternal TransferKind = "INTERNAL"
	TransferExternal TransferKind = "EXTERNAL"
)

// TransferService moves funds between two accounts.
type TransferService interface {
	Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
}

// TransferRequest holds input for a transfer. ToAccount is an account id or number.
type TransferRequest struct {
	Actor          Actor
	FromAccountID  uuid.UUID
	ToAccount      string
	Amount         decimal.Decimal
	IdempotencyKey string
	Description    string
}

// TransferResult is the committed outcome of a transfer.
type TransferResult struct {
	CorrelationID       string           `json:"correlation_id"`
	Kind                TransferKind     `json:"kind"`
	DebitTransactionID  uuid.UUID        `json:"debit_transaction_id"`
	CreditTransactionID uuid.UUID        `json:"credit_transaction_id"`
	FromAccountID       uuid.UUID        `json:"from_account_id"`
	ToAccountID         uuid.UUID        `json:"to_account_id"`
	Amount              decimal.Decimal  `json:"amount"`
	Currency            string           `json:"currency"`
	ConvertedAmount     decimal.Decimal  `json:"converted_amount"`
	ToCurrency          string           `json:"to_currency"`
	Rate                *decimal.Decimal `json:"rate,omitempty"`
	SourceBalance       decimal.Decimal  `json:"source_balance"`
	DestinationBalance  decimal.Decimal  `json:"destination_balance"`
	CompletedAt         time.Time        `json:"completed_at"`
}

// --- ExchangeEngine ---

// ExchangeService converts funds between a user's accounts.
type ExchangeService interface {
	Exchange(ctx context.Context, req ExchangeRequest) (*ExchangeResult, error)
	Preview(ctx context.Context, from, to string, amount decimal.Decimal) (*ExchangePreview, error)
}

// ExchangeRequest holds input for a currency exchange.
type ExchangeRequest struct {
	Actor          Actor
	FromAccountID  uuid.UUID
	ToAccountID    uuid.UUID
	Amount         decimal.Decimal
	ToCurrency     string
	IdempotencyKey string
}

// ExchangeResult is the committed outcome of an exchange.
type ExchangeResult struct {
	CorrelationID       string          `json:"correlation_id"`
	DebitTransactionID  uuid.UUID       `json:"debit_transaction_id"`
	CreditTransactionID uuid.UUID       `json:"credit_transaction_id"`
	FeeTransactionID    uuid.UUID       `json:"fee_transaction_id"`
	Amount              decimal.Decimal `json:"amount"`
	FromCurrency        string          `json:"from_currency"`
	ConvertedAmount     decimal.Decimal `json:"converted_amount"`
	Fee                 decimal.Decimal `json:"fee"`
	NetAmount           decimal.Decimal `json:"net_amount"`
	ToCurrency          string          `json:"to_currency"`
	Rate                decimal.Decimal `json:"rate"`
	SourceBalance       decimal.Decimal `json:"source_balance"`
	DestinationBalance  decimal.Decimal `json:"destination_balance"`
	CompletedAt         time.Time       `json:"completed_at"`
}

// ExchangePreview is a non-binding fee and conversion estimate.
type ExchangePreview struct {
	Quote           domain.Quote    `json:"quote"`
	Amount          decimal.Decimal `json:"amount"`
	ConvertedAmount decimal.Decimal `json:"converted_amount"`
	Fee             decimal.Decimal `json:"fee"`
	NetAmount       decimal.Decimal `json:"net_amount"`
}

// --- LoanAmortizer ---

// LoanService manages loan lifecycle and repayments.
type LoanService interface {
	Apply(ctx context.Context, req LoanApplication) (*domain.Loan, error)
	Approve(ctx context.Context, loanID uuid.UUID) (*domain.Loan, error)
	Reject(ctx context.Context, loanID uuid.UUID) (*domain.Loan, error)
	Disburse(ctx context.Context, req DisburseLoanRequest) (*LoanDisbursementResult, error)
	MarkDefaulted(ctx context.Context, loanID uuid.UUID) (*domain.Loan, error)
	ApplyPayment(ctx context.Context, req LoanPaymentRequest) (*LoanPaymentResult, error)
	GetLoan(ctx context.Context, actor Actor, loanID uuid.UUID) (*domain.Loan, error)
	ListLoans(ctx context.Context, borrowerID uuid.UUID) ([]domain.Loan, error)
	Schedule(ctx context.Context, actor Actor, loanID uuid.UUID) ([]domain.ScheduleEntry, error)
}

// LoanApplication holds input for a new loan.
type LoanApplication struct {
	Actor      Actor
	AccountID  uuid.UUID
	Principal  decimal.Decimal
	AnnualRate decimal.Decimal
	TermMonths int
}

// DisburseLoanRequest pays out an approved loan. A nil AccountID selects the
// loan's account, falling back to the borrower's priority account.
type DisburseLoanRequest struct {
	LoanID    uuid.UUID
	AccountID *uuid.UUID
}

// LoanDisbursementResult is the outcome of a disbursement.
type LoanDisbursementResult struct {
	LoanID          uuid.UUID       `json:"loan_id"`
	AccountID       uuid.UUID       `json:"account_id"`
	TransactionID   uuid.UUID       `json:"transaction_id"`
	Amount          decimal.Decimal `json:"amount"`
	AccountBalance  decimal.Decimal `json:"account_balance"`
	NextPaymentDate time.Time       `json:"next_payment_date"`
}

// LoanPaymentRequest holds input for a loan repayment.
type LoanPaymentRequest struct {
	Actor          Actor
	LoanID         uuid.UUID
	Amount         decimal.Decimal
	AccountID      uuid.UUID
	IdempotencyKey string
}

// LoanPaymentResult is the outcome of a repayment.
type LoanPaymentResult struct {
	LoanID           uuid.UUID         `json:"loan_id"`
	TransactionID    uuid.UUID         `json:"transaction_id"`
	Amount           decimal.Decimal   `json:"amount"`
	PrincipalPortion decimal.Decimal   `json:"principal_portion"`
	InterestPortion  decimal.Decimal   `json:"interest_portion"`
	RemainingBalance decimal.Decimal   `json:"remaining_balance"`
	Status           domain.LoanStatus `json:"status"`
	NextPaymentDate  *time.Time        `json:"next_payment_date,omitempty"`
	AccountBalance   decimal.Decimal   `json:"account_balance"`
	PaidAt           time.Time         `json:"paid_at"`
}

// --- InvestmentAccrual ---

// InvestmentService manages investments and their payouts.
type InvestmentService interface {
	Create(ctx context.Context, req InvestmentApplication) (*domain.Investment, error)
	Approve(ctx context.Context, investmentID uuid.UUID) (*domain.Investment, error)
	Reject(ctx context.Context, investmentID uuid.UUID) (*domain.Investment, error)
	Activate(ctx context.Context, actor Actor, investmentID uuid.UUID) (*domain.Investment, error)
	ProcessInvestmentPayout(ctx context.Context, investmentID uuid.UUID) (*PayoutResult, error)
	ProcessDuePayouts(ctx context.Context, now time.Time, limit int) (*PayoutRunSummary, error)
	Withdraw(ctx context.Context, req WithdrawInvestmentRequest) (*InvestmentWithdrawalResult, error)
	GetInvestment(ctx context.Context, actor Actor, investmentID uuid.UUID) (*domain.Investment, error)
	ListInvestments(ctx context.Context, ownerID uuid.UUID) ([]domain.Investment, error)
	ListPayouts(ctx context.Context, actor Actor, investmentID uuid.UUID) ([]domain.Payout, error)
	CreateRateRecord(ctx context.Context, req CreateRateRecordRequest) (*domain.RateRecord, error)
	ListRateRecords(ctx context.Context) ([]domain.RateRecord, error)
}

// InvestmentApplication holds input for a new investment.
type InvestmentApplication struct {
	Actor      Actor
	AccountID  uuid.UUID
	Principal  decimal.Decimal
	ROI        decimal.Decimal
	TermMonths int
	Frequency  domain.PayoutFrequency
}

// PayoutResult is the outcome of processing one payout.
type PayoutResult struct {
	PayoutID         uuid.UUID               `json:"payout_id"`
	InvestmentID     uuid.UUID               `json:"investment_id"`
	Sequence         int                     `json:"sequence"`
	Status           domain.PayoutStatus     `json:"status"`
	Amount           decimal.Decimal         `json:"amount"`
	Rate             decimal.Decimal         `json:"rate"`
	RateScope        string                  `json:"rate_scope"`
	TransactionID    *uuid.UUID              `json:"transaction_id,omitempty"`
	InvestmentStatus domain.InvestmentStatus `json:"investment_status"`
	Error            string                  `json:"error,omitempty"`
}

// PayoutRunSummary counts the outcome of a scheduler pass.
type PayoutRunSummary struct {
	Processed int `json:"processed"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Recovered int `json:"recovered"`
}

// WithdrawInvestmentRequest ends an investment early. A nil
// DestinationAccountID credits the investment's own account.
type WithdrawInvestmentRequest struct {
	Actor                Actor
	InvestmentID         uuid.UUID
	DestinationAccountID *uuid.UUID
}

// InvestmentWithdrawalResult is the outcome of an early withdrawal.
type InvestmentWithdrawalResult struct {
	InvestmentID         uuid.UUID       `json:"investment_id"`
	Principal            decimal.Decimal `json:"principal"`
	Penalty              decimal.Decimal `json:"penalty"`
	NetAmount            decimal.Decimal `json:"net_amount"`
	DestinationAccountID uuid.UUID       `json:"destination_account_id"`
	TransactionID        uuid.UUID       `json:"transaction_id"`
	PenaltyTransactionID *uuid.UUID      `json:"penalty_transaction_id,omitempty"`
	CancelledPayouts     int             `json:"cancelled_payouts"`
	AccountBalance       decimal.Decimal `json:"account_balance"`
}

// CreateRateRecordRequest holds input for an admin rate record.
type CreateRateRecordRequest struct {
	Actor         Actor
	Scope         domain.RateScope
	ScopeID       *uuid.UUID
	Currency      string
	MinAmount     decimal.Decimal
	MaxAmount     *decimal.Decimal
	Rate          decimal.Decimal
	EffectiveFrom time.Time
	EffectiveTo   *time.Time
}
