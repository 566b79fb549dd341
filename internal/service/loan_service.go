package service

import (
	"context"
	"fmt"
	"time"

	"ledger-engine/internal/core/domain"
	"ledger-engine/internal/core/ports"
	"ledger-engine/pkg/apperror"
	"ledger-engine/pkg/logger"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// LoanService manages loan lifecycle and applies repayments through the ledger.
type LoanService struct {
	ledger *Ledger
	log    zerolog.Logger
	now    func() time.Time
}

// NewLoanService creates a new LoanService.
func NewLoanService(ledger *Ledger, log zerolog.Logger) *LoanService {
	return &LoanService{
		ledger: ledger,
		log:    logger.Component(log, "loans"),
		now:    time.Now,
	}
}

// Apply registers a PENDING loan against one of the borrower's accounts.
func (s *LoanService) Apply(ctx context.Context, req ports.LoanApplication) (*domain.Loan, error) {
	acct, err := s.ledger.loadAccount(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.authorize(ctx, req.Actor, acct.ID); err != nil {
		return nil, err
	}
	if acct.IsSystem() {
		return nil, apperror.Validation("loans require a customer account")
	}
	if !acct.Active {
		return nil, apperror.ErrAccountInactive()
	}
	if err := s.ledger.validateAmount(req.Principal, acct.Currency); err != nil {
		return nil, err
	}
	payment, err := MonthlyPayment(req.Principal, req.AnnualRate, req.TermMonths, s.ledger.precision(acct.Currency))
	if err != nil {
		return nil, err
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	loan := &domain.Loan{
		ID:               uuid.New(),
		BorrowerID:       acct.OwnerID,
		AccountID:        acct.ID,
		Currency:         acct.Currency,
		Principal:        req.Principal,
		AnnualRate:       req.AnnualRate,
		TermMonths:       req.TermMonths,
		MonthlyPayment:   payment,
		TotalPaid:        decimal.Zero,
		RemainingBalance: req.Principal,
		Status:           domain.LoanStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.ledger.store.Loans().Create(ctx, loan); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create loan: %w", err))
	}

	s.log.Info().
		Str("loan_id", loan.ID.String()).
		Str("borrower_id", loan.BorrowerID.String()).
		Str("principal", loan.Principal.String()).
		Str("monthly_payment", loan.MonthlyPayment.String()).
		Msg("Loan application created")
	return loan, nil
}

// Approve moves a PENDING loan to APPROVED.
func (s *LoanService) Approve(ctx context.Context, loanID uuid.UUID) (*domain.Loan, error) {
	return s.transition(ctx, loanID, domain.LoanStatusApproved)
}

// Reject moves a PENDING or APPROVED loan to REJECTED.
func (s *LoanService) Reject(ctx context.Context, loanID uuid.UUID) (*domain.Loan, error) {
	return s.transition(ctx, loanID, domain.LoanStatusRejected)
}

// MarkDefaulted moves an ACTIVE loan to DEFAULTED.
func (s *LoanService) MarkDefaulted(ctx context.Context, loanID uuid.UUID) (*domain.Loan, error) {
	return s.transition(ctx, loanID, domain.LoanStatusDefaulted)
}

func (s *LoanService) transition(ctx context.Context, loanID uuid.UUID, to domain.LoanStatus) (*domain.Loan, error) {
	var out *domain.Loan
	err := s.ledger.runAtomic(ctx, func(ctx context.Context, uow ports.UnitOfWork) error {
		loan, err := s.lockLoan(ctx, uow, loanID)
		if err != nil {
			return err
		}
		if !loan.CanTransition(to) {
			return apperror.ErrInvalidStateTransition("loan", string(loan.Status), string(to))
		}
		loan.Status = to
		loan.UpdatedAt = s.now().UTC()
		if err := uow.Loans().Update(ctx, loan, loan.Version); err != nil {
			return storageErr("update loan", err)
		}
		out = loan
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("loan_id", loanID.String()).Str("status", string(to)).Msg("Loan status changed")
	return out, nil
}

// Disburse credits the principal to the borrower and activates the loan.
func (s *LoanService) Disburse(ctx context.Context, req ports.DisburseLoanRequest) (*ports.LoanDisbursementResult, error) {
	loan, err := s.loadLoan(ctx, req.LoanID)
	if err != nil {
		return nil, err
	}
	if !loan.CanTransition(domain.LoanStatusActive) {
		return nil, apperror.ErrInvalidStateTransition("loan", string(loan.Status), string(domain.LoanStatusActive))
	}
	target, err := s.disbursementAccount(ctx, loan, req.AccountID)
	if err != nil {
		return nil, err
	}

	release, err := s.ledger.locker.Acquire(ctx, target.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	var result ports.LoanDisbursementResult
	err = s.ledger.runAtomic(ctx, func(ctx context.Context, uow ports.UnitOfWork) error {
		loan, err := s.lockLoan(ctx, uow, req.LoanID)
		if err != nil {
			return err
		}
		if !loan.CanTransition(domain.LoanStatusActive) {
			return apperror.ErrInvalidStateTransition("loan", string(loan.Status), string(domain.LoanStatusActive))
		}
		txn, acct, err := s.ledger.apply(ctx, uow, target.ID, posting{
			typ:           domain.TransactionTypeLoanDisbursement,
			direction:     domain.DirectionCredit,
			amount:        loan.Principal,
			currency:      loan.Currency,
			reference:     &loan.ID,
			correlationID: NewCorrelationID(),
			description:   "loan disbursement",
		})
		if err != nil {
			return err
		}

		disbursedAt := txn.CreatedAt
		next := disbursedAt.AddDate(0, 1, 0)
		loan.Status = domain.LoanStatusActive
		loan.DisbursedAt = &disbursedAt
		loan.NextPaymentDate = &next
		loan.UpdatedAt = disbursedAt
		if err := uow.Loans().Update(ctx, loan, loan.Version); err != nil {
			return storageErr("update loan", err)
		}
		result = ports.LoanDisbursementResult{
			LoanID:          loan.ID,
			AccountID:       acct.ID,
			TransactionID:   txn.ID,
			Amount:          loan.Principal,
			AccountBalance:  acct.Balance,
			NextPaymentDate: next,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("loan_id", result.LoanID.String()).
		Str("account_id", result.AccountID.String()).
		Str("amount", result.Amount.String()).
		Msg("Loan disbursed")
	s.ledger.events.emit(ctx, domain.EventLoanDisbursed, loan.ID.String(), "", map[string]string{
		"borrower_id": loan.BorrowerID.String(),
		"account_id":  result.AccountID.String(),
		"amount":      result.Amount.String(),
		"currency":    loan.Currency,
	})
	return &result, nil
}

// disbursementAccount picks the explicit account, else the loan account,
// else the borrower's priority account.
func (s *LoanService) disbursementAccount(ctx context.Context, loan *domain.Loan, explicit *uuid.UUID) (*domain.Account, error) {
	if explicit != nil {
		acct, err := s.ledger.loadAccount(ctx, *explicit)
		if err != nil {
			return nil, err
		}
		if acct.OwnerID != loan.BorrowerID {
			return nil, apperror.Validation("disbursement account must belong to the borrower")
		}
		return acct, nil
	}
	acct, err := s.ledger.loadAccount(ctx, loan.AccountID)
	if err != nil {
		return nil, err
	}
	if acct.Active {
		return acct, nil
	}
	accounts, err := s.ledger.ListAccounts(ctx, loan.BorrowerID)
	if err != nil {
		return nil, err
	}
	for i := range accounts {
		if accounts[i].Priority && accounts[i].Active && accounts[i].Currency == loan.Currency {
			return &accounts[i], nil
		}
	}
	return nil, apperror.ErrAccountInactive()
}

// ApplyPayment debits the paying account and splits the amount into interest
// on the outstanding balance and principal.
func (s *LoanService) ApplyPayment(ctx context.Context, req ports.LoanPaymentRequest) (*ports.LoanPaymentResult, error) {
	loan, err := s.loadLoan(ctx, req.LoanID)
	if err != nil {
		return nil, err
	}
	if !req.Actor.Privileged() && loan.BorrowerID != req.Actor.UserID {
		return nil, apperror.ErrForbidden()
	}
	if _, err := s.ledger.loadAccount(ctx, req.AccountID); err != nil {
		return nil, err
	}
	if err := s.ledger.authorize(ctx, req.Actor, req.AccountID); err != nil {
		return nil, err
	}
	if err := s.ledger.validateAmount(req.Amount, loan.Currency); err != nil {
		return nil, err
	}

	key := ""
	if req.IdempotencyKey != "" {
		key = domain.BuildIdempotencyKey("loan_payment", req.Actor.UserID, req.IdempotencyKey)
	}
	fp := Fingerprint("loan_payment", loan.ID.String(), req.AccountID.String(), req.Amount.String())

	var result ports.LoanPaymentResult
	if prior, err := s.ledger.guard.Lookup(ctx, key, fp); err != nil {
		return nil, err
	} else if prior != nil {
		if err := replay(prior, &result); err != nil {
			return nil, err
		}
		return &result, nil
	}

	release, err := s.ledger.locker.Acquire(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	defer release()

	var (
		rec       *domain.IdempotencyRecord
		totalPaid decimal.Decimal
		replayed  bool
	)
	err = s.ledger.runAtomic(ctx, func(ctx context.Context, uow ports.UnitOfWork) error {
		prior, err := s.ledger.guard.Check(ctx, uow, key, fp)
		if err != nil {
			return err
		}
		if prior != nil {
			replayed = true
			return replay(prior, &result)
		}

		loan, err := s.lockLoan(ctx, uow, req.LoanID)
		if err != nil {
			return err
		}
		if loan.Status != domain.LoanStatusActive {
			return apperror.Validation(fmt.Sprintf("loan is %s, payments require an ACTIVE loan", loan.Status))
		}
		split, err := SplitPayment(loan.RemainingBalance, loan.AnnualRate, req.Amount, s.ledger.precision(loan.Currency))
		if err != nil {
			return err
		}

		txn, acct, err := s.ledger.apply(ctx, uow, req.AccountID, posting{
			typ:            domain.TransactionTypeLoanPayment,
			direction:      domain.DirectionDebit,
			amount:         req.Amount,
			currency:       loan.Currency,
			reference:      &loan.ID,
			correlationID:  NewCorrelationID(),
			idempotencyKey: req.IdempotencyKey,
			description:    "loan payment",
		})
		if err != nil {
			return err
		}

		loan.RemainingBalance = split.Remaining
		loan.TotalPaid = loan.TotalPaid.Add(req.Amount)
		totalPaid = loan.TotalPaid
		loan.PaymentsMade++
		loan.UpdatedAt = txn.CreatedAt
		if loan.RemainingBalance.IsZero() {
			loan.Status = domain.LoanStatusPaidOff
			loan.NextPaymentDate = nil
		} else {
			base := txn.CreatedAt
			if loan.NextPaymentDate != nil {
				base = *loan.NextPaymentDate
			}
			next := base.AddDate(0, 1, 0)
			loan.NextPaymentDate = &next
		}
		if err := uow.Loans().Update(ctx, loan, loan.Version); err != nil {
			return storageErr("update loan", err)
		}
		if err := uow.Loans().AddPayment(ctx, &domain.LoanPayment{
			ID:               uuid.New(),
			LoanID:           loan.ID,
			TransactionID:    txn.ID,
			Amount:           req.Amount,
			PrincipalPortion: split.Principal,
			InterestPortion:  split.Interest,
			RemainingAfter:   split.Remaining,
			PaidAt:           txn.CreatedAt,
		}); err != nil {
			return storageErr("record loan payment", err)
		}

		result = ports.LoanPaymentResult{
			LoanID:           loan.ID,
			TransactionID:    txn.ID,
			Amount:           req.Amount,
			PrincipalPortion: split.Principal,
			InterestPortion:  split.Interest,
			RemainingBalance: split.Remaining,
			Status:           loan.Status,
			NextPaymentDate:  loan.NextPaymentDate,
			AccountBalance:   acct.Balance,
			PaidAt:           txn.CreatedAt,
		}
		rec, err = s.ledger.guard.Record(ctx, uow, key, "loan_payment", fp, result)
		return err
	})
	if err != nil {
		return nil, err
	}
	if replayed {
		return &result, nil
	}
	s.ledger.guard.Remember(ctx, rec)

	s.log.Info().
		Str("loan_id", result.LoanID.String()).
		Str("amount", result.Amount.String()).
		Str("remaining", result.RemainingBalance.String()).
		Msg("Loan payment applied")
	payload := map[string]string{
		"borrower_id": loan.BorrowerID.String(),
		"amount":      result.Amount.String(),
		"principal":   result.PrincipalPortion.String(),
		"interest":    result.InterestPortion.String(),
		"remaining":   result.RemainingBalance.String(),
	}
	s.ledger.events.emit(ctx, domain.EventLoanPaymentApplied, loan.ID.String(), "", payload)
	if result.Status == domain.LoanStatusPaidOff {
		s.ledger.events.emit(ctx, domain.EventLoanPaidOff, loan.ID.String(), "", map[string]string{
			"borrower_id": loan.BorrowerID.String(),
			"total_paid":  totalPaid.String(),
		})
	}
	return &result, nil
}

// PaymentSplit is the allocation of one loan payment.
type PaymentSplit struct {
	Interest  decimal.Decimal
	Principal decimal.Decimal
	Remaining decimal.Decimal
}

// SplitPayment allocates amount against the outstanding balance. Interest due
// is remaining × r; an amount below it is rejected, and so is an amount above
// remaining plus interest.
func SplitPayment(remaining, annualRate, amount decimal.Decimal, places int32) (PaymentSplit, error) {
	interest := remaining.Mul(domain.MonthlyRate(annualRate)).RoundBank(places)
	if amount.LessThan(interest) {
		return PaymentSplit{}, apperror.Validation(fmt.Sprintf("payment must cover the interest due of %s", interest))
	}
	if amount.GreaterThan(remaining.Add(interest)) {
		return PaymentSplit{}, apperror.ErrOverpaymentNotAllowed()
	}
	principal := amount.Sub(interest)
	left := remaining.Sub(principal)
	if left.IsNegative() {
		left = decimal.Zero
	}
	return PaymentSplit{Interest: interest, Principal: principal, Remaining: left}, nil
}

// GetLoan returns a loan visible to the actor.
func (s *LoanService) GetLoan(ctx context.Context, actor ports.Actor, loanID uuid.UUID) (*domain.Loan, error) {
	loan, err := s.loadLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if !actor.Privileged() && loan.BorrowerID != actor.UserID {
		return nil, apperror.ErrForbidden()
	}
	return loan, nil
}

// ListLoans returns the borrower's loans.
func (s *LoanService) ListLoans(ctx context.Context, borrowerID uuid.UUID) ([]domain.Loan, error) {
	loans, err := s.ledger.store.Loans().ListByBorrower(ctx, borrowerID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list loans: %w", err))
	}
	return loans, nil
}

// Schedule returns the loan's full amortization schedule. Undisbursed loans
// are scheduled as if disbursed now.
func (s *LoanService) Schedule(ctx context.Context, actor ports.Actor, loanID uuid.UUID) ([]domain.ScheduleEntry, error) {
	loan, err := s.GetLoan(ctx, actor, loanID)
	if err != nil {
		return nil, err
	}
	start := s.now().UTC()
	if loan.DisbursedAt != nil {
		start = *loan.DisbursedAt
	}
	return generateSchedule(loan.Principal, loan.AnnualRate, loan.TermMonths, start.AddDate(0, 1, 0), s.ledger.precision(loan.Currency))
}

func (s *LoanService) loadLoan(ctx context.Context, id uuid.UUID) (*domain.Loan, error) {
	loan, err := s.ledger.store.Loans().GetByID(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("load loan: %w", err))
	}
	if loan == nil {
		return nil, apperror.ErrNotFound("loan")
	}
	return loan, nil
}

func (s *LoanService) lockLoan(ctx context.Context, uow ports.UnitOfWork, id uuid.UUID) (*domain.Loan, error) {
	loan, err := uow.Loans().GetForUpdate(ctx, id)
	if err != nil {
		return nil, storageErr("load loan", err)
	}
	if loan == nil {
		return nil, apperror.ErrNotFound("loan")
	}
	return loan, nil
}
