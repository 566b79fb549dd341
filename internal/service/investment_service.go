package service

import (
	"context"
	"errors"
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

// MaxPayoutAttempts bounds how often a failed payout is retried.
const MaxPayoutAttempts = 5

// DefaultPayoutLease is used when NewInvestmentService gets a non-positive lease.
const DefaultPayoutLease = 5 * time.Minute

var errPayoutLeaseExpired = errors.New("payout claim expired while PROCESSING")

const maxErrorLen = 500

var hundred = decimal.NewFromInt(100)

// InvestmentService manages investments, their payout schedules and early
// withdrawals.
type InvestmentService struct {
	ledger   *Ledger
	resolver *RateResolver
	penalty  decimal.Decimal // percent of principal
	lease    time.Duration   // how long a PROCESSING claim is honoured
	log      zerolog.Logger
	now      func() time.Time
}

// NewInvestmentService creates a new InvestmentService. penaltyPercent is the
// early withdrawal penalty; payouts left PROCESSING for longer than lease are
// failed and retried.
func NewInvestmentService(ledger *Ledger, penaltyPercent decimal.Decimal, lease time.Duration, log zerolog.Logger) *InvestmentService {
	if lease <= 0 {
		lease = DefaultPayoutLease
	}
	return &InvestmentService{
		ledger:   ledger,
		resolver: NewRateResolver(ledger.store.RateRecords()),
		penalty:  penaltyPercent,
		lease:    lease,
		log:      logger.Component(log, "investments"),
		now:      time.Now,
	}
}

// Create registers a PENDING investment funded from one of the owner's accounts.
func (s *InvestmentService) Create(ctx context.Context, req ports.InvestmentApplication) (*domain.Investment, error) {
	acct, err := s.ledger.loadAccount(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.authorize(ctx, req.Actor, acct.ID); err != nil {
		return nil, err
	}
	if acct.IsSystem() {
		return nil, apperror.Validation("investments require a customer account")
	}
	if !acct.Active {
		return nil, apperror.ErrAccountInactive()
	}
	if err := s.ledger.validateAmount(req.Principal, acct.Currency); err != nil {
		return nil, err
	}
	if !req.ROI.IsPositive() {
		return nil, apperror.Validation("roi must be positive")
	}
	interval := req.Frequency.IntervalMonths()
	if interval == 0 {
		return nil, apperror.Validation(fmt.Sprintf("unknown payout frequency %q", req.Frequency))
	}
	if req.TermMonths <= 0 || req.TermMonths > maxTermMonths || req.TermMonths%interval != 0 {
		return nil, apperror.Validation(fmt.Sprintf("term must be a positive multiple of %d months", interval))
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	inv := &domain.Investment{
		ID:                 uuid.New(),
		OwnerID:            acct.OwnerID,
		AccountID:          acct.ID,
		Currency:           acct.Currency,
		Principal:          req.Principal,
		ROI:                req.ROI,
		TermMonths:         req.TermMonths,
		Frequency:          req.Frequency,
		ProjectedReturn:    ProjectedReturn(req.Principal, req.ROI, req.TermMonths, s.ledger.precision(acct.Currency)),
		AccumulatedPayouts: decimal.Zero,
		Status:             domain.InvestmentStatusPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.ledger.store.Investments().Create(ctx, inv); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create investment: %w", err))
	}
	s.log.Info().
		Str("investment_id", inv.ID.String()).
		Str("owner_id", inv.OwnerID.String()).
		Str("principal", inv.Principal.String()).
		Str("projected_return", inv.ProjectedReturn.String()).
		Msg("Investment created")
	return inv, nil
}

// Approve moves a PENDING investment to APPROVED.
func (s *InvestmentService) Approve(ctx context.Context, investmentID uuid.UUID) (*domain.Investment, error) {
	return s.transition(ctx, investmentID, domain.InvestmentStatusApproved)
}

// Reject moves a PENDING or APPROVED investment to REJECTED.
func (s *InvestmentService) Reject(ctx context.Context, investmentID uuid.UUID) (*domain.Investment, error) {
	return s.transition(ctx, investmentID, domain.InvestmentStatusRejected)
}

func (s *InvestmentService) transition(ctx context.Context, id uuid.UUID, to domain.InvestmentStatus) (*domain.Investment, error) {
	var out *domain.Investment
	err := s.ledger.runAtomic(ctx, func(ctx context.Context, uow ports.UnitOfWork) error {
		inv, err := s.lockInvestment(ctx, uow, id)
		if err != nil {
			return err
		}
		if !inv.CanTransition(to) {
			return apperror.ErrInvalidStateTransition("investment", string(inv.Status), string(to))
		}
		inv.Status = to
		inv.UpdatedAt = s.now().UTC()
		if err := uow.Investments().Update(ctx, inv, inv.Version); err != nil {
			return storageErr("update investment", err)
		}
		out = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("investment_id", id.String()).Str("status", string(to)).Msg("Investment status changed")
	return out, nil
}

// Activate debits the principal from the funding account, schedules the
// payouts and moves an APPROVED investment to ACTIVE.
func (s *InvestmentService) Activate(ctx context.Context, actor ports.Actor, investmentID uuid.UUID) (*domain.Investment, error) {
	inv, err := s.loadInvestment(ctx, investmentID)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.authorize(ctx, actor, inv.AccountID); err != nil {
		return nil, err
	}
	if !inv.CanTransition(domain.InvestmentStatusActive) {
		return nil, apperror.ErrInvalidStateTransition("investment", string(inv.Status), string(domain.InvestmentStatusActive))
	}

	release, err := s.ledger.locker.Acquire(ctx, inv.AccountID)
	if err != nil {
		return nil, err
	}
	defer release()

	var out *domain.Investment
	err = s.ledger.runAtomic(ctx, func(ctx context.Context, uow ports.UnitOfWork) error {
		inv, err := s.lockInvestment(ctx, uow, investmentID)
		if err != nil {
			return err
		}
		if !inv.CanTransition(domain.InvestmentStatusActive) {
			return apperror.ErrInvalidStateTransition("investment", string(inv.Status), string(domain.InvestmentStatusActive))
		}
		txn, _, err := s.ledger.apply(ctx, uow, inv.AccountID, posting{
			typ:           domain.TransactionTypeInvestment,
			direction:     domain.DirectionDebit,
			amount:        inv.Principal,
			currency:      inv.Currency,
			reference:     &inv.ID,
			correlationID: NewCorrelationID(),
			description:   "investment principal",
		})
		if err != nil {
			return err
		}

		start := txn.CreatedAt
		maturity := start.AddDate(0, inv.TermMonths, 0)
		inv.Status = domain.InvestmentStatusActive
		inv.StartDate = &start
		inv.MaturityDate = &maturity
		inv.UpdatedAt = start
		if err := uow.Payouts().CreateBatch(ctx, PlanPayouts(inv, start, s.ledger.precision(inv.Currency))); err != nil {
			return storageErr("create payouts", err)
		}
		if err := uow.Investments().Update(ctx, inv, inv.Version); err != nil {
			return storageErr("update investment", err)
		}
		out = inv
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("investment_id", out.ID.String()).
		Int("payouts", out.PayoutCount()).
		Time("maturity", *out.MaturityDate).
		Msg("Investment activated")
	s.ledger.events.emit(ctx, domain.EventInvestmentActivated, out.ID.String(), "", map[string]string{
		"owner_id":  out.OwnerID.String(),
		"principal": out.Principal.String(),
		"currency":  out.Currency,
	})
	return out, nil
}

// ProcessInvestmentPayout pays the earliest open payout of the investment
// that is due.
func (s *InvestmentService) ProcessInvestmentPayout(ctx context.Context, investmentID uuid.UUID) (*ports.PayoutResult, error) {
	if _, err := s.loadInvestment(ctx, investmentID); err != nil {
		return nil, err
	}
	payouts, err := s.ledger.store.Payouts().ListByInvestment(ctx, investmentID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list payouts: %w", err))
	}
	now := s.now()
	for i := range payouts {
		p := &payouts[i]
		if p.Status == domain.PayoutStatusProcessing && p.UpdatedAt.Before(now.Add(-s.lease)) {
			_ = s.fail(ctx, p.ID, errPayoutLeaseExpired)
			if reloaded, err := s.ledger.store.Payouts().GetByID(ctx, p.ID); err == nil && reloaded != nil {
				*p = *reloaded
			}
		}
	}
	for i := range payouts {
		p := &payouts[i]
		if p.IsOpen() && p.Attempts < MaxPayoutAttempts && !p.DueDate.After(now) {
			return s.processPayout(ctx, p.ID)
		}
	}
	return nil, apperror.Validation("no payout is due for this investment")
}

// ProcessDuePayouts pays up to limit payouts due at or before now. Payouts
// whose PROCESSING claim outlived the lease are failed first so they are
// picked up again.
func (s *InvestmentService) ProcessDuePayouts(ctx context.Context, now time.Time, limit int) (*ports.PayoutRunSummary, error) {
	summary := &ports.PayoutRunSummary{}
	recovered, err := s.recoverStale(ctx, now, limit)
	if err != nil {
		return nil, err
	}
	summary.Recovered = recovered

	due, err := s.ledger.store.Payouts().ListDue(ctx, now, MaxPayoutAttempts, limit)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list due payouts: %w", err))
	}
	for _, p := range due {
		if ctx.Err() != nil {
			break
		}
		summary.Processed++
		_, err := s.processPayout(ctx, p.ID)
		code := apperror.CodeOf(err)
		switch {
		case err == nil:
			summary.Completed++
		case code == apperror.CodeInvalidStateTransition && p.Status == domain.PayoutStatusScheduled,
			code == apperror.CodeConcurrentModification:
			// Claimed by another worker.
			summary.Skipped++
		default:
			summary.Failed++
		}
	}
	return summary, nil
}

// recoverStale moves payouts stuck in PROCESSING past the lease to FAILED.
// A worker that still holds the claim loses it on its version check.
func (s *InvestmentService) recoverStale(ctx context.Context, now time.Time, limit int) (int, error) {
	stale, err := s.ledger.store.Payouts().ListStale(ctx, now.Add(-s.lease), limit)
	if err != nil {
		return 0, apperror.InternalError(fmt.Errorf("list stale payouts: %w", err))
	}
	recovered := 0
	for _, p := range stale {
		if ctx.Err() != nil {
			break
		}
		_ = s.fail(ctx, p.ID, errPayoutLeaseExpired)
		current, err := s.ledger.store.Payouts().GetByID(ctx, p.ID)
		if err == nil && current != nil && current.Status != domain.PayoutStatusProcessing {
			recovered++
		}
	}
	if recovered > 0 {
		s.log.Warn().Int("recovered", recovered).Dur("lease", s.lease).Msg("Recovered stale payout claims")
	}
	return recovered, nil
}

// processPayout moves one payout through PROCESSING to COMPLETED, or to FAILED
// when crediting fails.
func (s *InvestmentService) processPayout(ctx context.Context, payoutID uuid.UUID) (*ports.PayoutResult, error) {
	payout, err := s.ledger.store.Payouts().GetByID(ctx, payoutID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("load payout: %w", err))
	}
	if payout == nil {
		return nil, apperror.ErrNotFound("payout")
	}
	inv, err := s.loadInvestment(ctx, payout.InvestmentID)
	if err != nil {
		return nil, err
	}
	if payout.Attempts >= MaxPayoutAttempts {
		return nil, apperror.Validation("payout has exhausted its retries")
	}
	processing, err := payout.Transition(domain.PayoutStatusProcessing)
	if err != nil {
		return nil, apperror.ErrInvalidStateTransition("payout", string(payout.Status), string(domain.PayoutStatusProcessing))
	}
	processing.UpdatedAt = s.now().UTC()
	if err := s.ledger.runAtomic(ctx, func(ctx context.Context, uow ports.UnitOfWork) error {
		if err := uow.Payouts().Update(ctx, &processing, processing.Version); err != nil {
			return storageErr("update payout", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	resolved, err := s.resolver.Resolve(ctx, inv, payout.DueDate)
	if err != nil {
		return nil, s.fail(ctx, payoutID, apperror.InternalError(err))
	}
	release, err := s.ledger.locker.Acquire(ctx, inv.AccountID)
	if err != nil {
		return nil, s.fail(ctx, payoutID, err)
	}
	result, matured, err := s.completePayout(ctx, payoutID, resolved)
	release()
	if err != nil {
		return nil, s.fail(ctx, payoutID, err)
	}

	s.log.Info().
		Str("investment_id", result.InvestmentID.String()).
		Int("sequence", result.Sequence).
		Str("amount", result.Amount.String()).
		Str("rate_scope", result.RateScope).
		Msg("Payout completed")
	s.ledger.events.emit(ctx, domain.EventInvestmentPayoutCompleted, inv.ID.String(), "", map[string]string{
		"owner_id":  inv.OwnerID.String(),
		"payout_id": result.PayoutID.String(),
		"amount":    result.Amount.String(),
		"currency":  inv.Currency,
	})
	if matured {
		s.ledger.events.emit(ctx, domain.EventInvestmentMatured, inv.ID.String(), "", map[string]string{
			"owner_id":  inv.OwnerID.String(),
			"principal": inv.Principal.String(),
			"currency":  inv.Currency,
		})
	}
	return result, nil
}

func (s *InvestmentService) completePayout(ctx context.Context, payoutID uuid.UUID, resolved ResolvedRate) (*ports.PayoutResult, bool, error) {
	var (
		result  ports.PayoutResult
		matured bool
	)
	err := s.ledger.runAtomic(ctx, func(ctx context.Context, uow ports.UnitOfWork) error {
		p, err := uow.Payouts().GetByID(ctx, payoutID)
		if err != nil {
			return apperror.InternalError(fmt.Errorf("load payout: %w", err))
		}
		if p == nil || p.Status != domain.PayoutStatusProcessing {
			return apperror.ErrConcurrentModification(errors.New("payout changed while processing"))
		}
		inv, err := s.lockInvestment(ctx, uow, p.InvestmentID)
		if err != nil {
			return err
		}
		if inv.Status != domain.InvestmentStatusActive {
			return apperror.ErrInvalidStateTransition("investment", string(inv.Status), "PAYOUT")
		}
		siblings, err := uow.Payouts().ListByInvestment(ctx, inv.ID)
		if err != nil {
			return apperror.InternalError(fmt.Errorf("list payouts: %w", err))
		}
		last := true
		for _, sib := range siblings {
			if sib.ID != p.ID && payable(&sib) {
				last = false
				break
			}
		}

		places := s.ledger.precision(inv.Currency)
		amount := PeriodicPayout(inv.Principal, resolved.Rate, inv.Frequency, places)
		if !resolved.Override() {
			if last && resolved.Rate.Equal(inv.ROI) {
				amount = amount.Add(roundingRemainder(inv, places))
			}
			remaining := inv.ProjectedReturn.Sub(inv.AccumulatedPayouts)
			if amount.GreaterThan(remaining) {
				amount = remaining
			}
			if amount.IsNegative() {
				amount = decimal.Zero
			}
		}

		var txnID *uuid.UUID
		if amount.IsPositive() {
			txn, _, err := s.ledger.apply(ctx, uow, inv.AccountID, posting{
				typ:           domain.TransactionTypeInterest,
				direction:     domain.DirectionCredit,
				amount:        amount,
				currency:      inv.Currency,
				reference:     &inv.ID,
				correlationID: NewCorrelationID(),
				description:   fmt.Sprintf("investment payout %d", p.Sequence),
			})
			if err != nil {
				return err
			}
			txnID = &txn.ID
		}

		done, err := p.Transition(domain.PayoutStatusCompleted)
		if err != nil {
			return apperror.ErrInvalidStateTransition("payout", string(p.Status), string(domain.PayoutStatusCompleted))
		}
		done.Amount = amount
		done.TransactionID = txnID
		done.LastError = ""
		done.UpdatedAt = s.now().UTC()
		if err := uow.Payouts().Update(ctx, &done, done.Version); err != nil {
			return storageErr("update payout", err)
		}

		inv.AccumulatedPayouts = inv.AccumulatedPayouts.Add(amount)
		inv.UpdatedAt = done.UpdatedAt
		if last {
			if err := s.mature(ctx, uow, inv, siblings, p.ID); err != nil {
				return err
			}
			matured = true
		}
		if err := uow.Investments().Update(ctx, inv, inv.Version); err != nil {
			return storageErr("update investment", err)
		}

		result = ports.PayoutResult{
			PayoutID:         done.ID,
			InvestmentID:     inv.ID,
			Sequence:         done.Sequence,
			Status:           done.Status,
			Amount:           amount,
			Rate:             resolved.Rate,
			RateScope:        resolved.ScopeName(),
			TransactionID:    txnID,
			InvestmentStatus: inv.Status,
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &result, matured, nil
}

// mature returns the principal and cancels payouts that ran out of retries.
func (s *InvestmentService) mature(ctx context.Context, uow ports.UnitOfWork, inv *domain.Investment, siblings []domain.Payout, current uuid.UUID) error {
	if _, _, err := s.ledger.apply(ctx, uow, inv.AccountID, posting{
		typ:           domain.TransactionTypeInvestment,
		direction:     domain.DirectionCredit,
		amount:        inv.Principal,
		currency:      inv.Currency,
		reference:     &inv.ID,
		correlationID: NewCorrelationID(),
		description:   "investment maturity",
	}); err != nil {
		return err
	}
	for i := range siblings {
		if siblings[i].ID == current || siblings[i].Status != domain.PayoutStatusFailed {
			continue
		}
		cancelled, err := siblings[i].Transition(domain.PayoutStatusCancelled)
		if err != nil {
			continue
		}
		cancelled.UpdatedAt = inv.UpdatedAt
		if err := uow.Payouts().Update(ctx, &cancelled, cancelled.Version); err != nil {
			return storageErr("cancel payout", err)
		}
	}
	inv.Status = domain.InvestmentStatusMatured
	return nil
}

// fail persists FAILED for a payout stuck in PROCESSING and returns cause.
// Payouts of an investment that is no longer active are cancelled instead.
func (s *InvestmentService) fail(ctx context.Context, payoutID uuid.UUID, cause error) error {
	ctx = context.WithoutCancel(ctx)
	var (
		failed    domain.Payout
		cancelled bool
		inv       *domain.Investment
	)
	err := s.ledger.runAtomic(ctx, func(ctx context.Context, uow ports.UnitOfWork) error {
		p, err := uow.Payouts().GetByID(ctx, payoutID)
		if err != nil {
			return err
		}
		if p == nil || p.Status != domain.PayoutStatusProcessing {
			return nil
		}
		if failed, err = p.Transition(domain.PayoutStatusFailed); err != nil {
			return err
		}
		failed.LastError = truncate(cause.Error(), maxErrorLen)
		failed.UpdatedAt = s.now().UTC()
		if inv, err = uow.Investments().GetByID(ctx, p.InvestmentID); err != nil {
			return err
		}
		if inv != nil && inv.Status != domain.InvestmentStatusActive {
			if failed, err = failed.Transition(domain.PayoutStatusCancelled); err != nil {
				return err
			}
			cancelled = true
		}
		return uow.Payouts().Update(ctx, &failed, p.Version)
	})
	if err != nil {
		s.log.Error().Err(err).Str("payout_id", payoutID.String()).Msg("Failed to record payout failure")
		return cause
	}

	s.log.Warn().Err(cause).
		Str("payout_id", payoutID.String()).
		Int("attempts", failed.Attempts).
		Bool("cancelled", cancelled).
		Msg("Payout failed")
	if !cancelled && inv != nil {
		s.ledger.events.emit(ctx, domain.EventInvestmentPayoutFailed, inv.ID.String(), "", map[string]string{
			"owner_id":  inv.OwnerID.String(),
			"payout_id": payoutID.String(),
			"attempts":  fmt.Sprint(failed.Attempts),
			"error":     failed.LastError,
		})
	}
	return cause
}

// Withdraw ends an ACTIVE investment early. The principal less the penalty
// goes to the destination account and the penalty to the FEE account.
func (s *InvestmentService) Withdraw(ctx context.Context, req ports.WithdrawInvestmentRequest) (*ports.InvestmentWithdrawalResult, error) {
	inv, err := s.loadInvestment(ctx, req.InvestmentID)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.authorize(ctx, req.Actor, inv.AccountID); err != nil {
		return nil, err
	}
	if !inv.CanTransition(domain.InvestmentStatusWithdrawn) {
		return nil, apperror.ErrInvalidStateTransition("investment", string(inv.Status), string(domain.InvestmentStatusWithdrawn))
	}
	destID := inv.AccountID
	if req.DestinationAccountID != nil {
		destID = *req.DestinationAccountID
	}
	dest, err := s.ledger.loadAccount(ctx, destID)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.authorize(ctx, req.Actor, dest.ID); err != nil {
		return nil, err
	}
	if dest.OwnerID != inv.OwnerID {
		return nil, apperror.Validation("destination account must belong to the investor")
	}

	places := s.ledger.precision(inv.Currency)
	penalty := inv.Principal.Mul(s.penalty).Div(hundred).RoundBank(places)
	net := inv.Principal.Sub(penalty)

	ids := []uuid.UUID{inv.AccountID, dest.ID}
	var feeAcct *domain.Account
	if penalty.IsPositive() {
		if feeAcct, err = s.ledger.systemAccount(ctx, domain.AccountKindFee, inv.Currency); err != nil {
			return nil, err
		}
		ids = append(ids, feeAcct.ID)
	}
	release, err := s.ledger.locker.Acquire(ctx, ids...)
	if err != nil {
		return nil, err
	}
	defer release()

	var result ports.InvestmentWithdrawalResult
	err = s.ledger.runAtomic(ctx, func(ctx context.Context, uow ports.UnitOfWork) error {
		inv, err := s.lockInvestment(ctx, uow, req.InvestmentID)
		if err != nil {
			return err
		}
		if err := s.ledger.lockAccounts(ctx, uow, ids...); err != nil {
			return err
		}
		if !inv.CanTransition(domain.InvestmentStatusWithdrawn) {
			return apperror.ErrInvalidStateTransition("investment", string(inv.Status), string(domain.InvestmentStatusWithdrawn))
		}
		correlationID := NewCorrelationID()

		result = ports.InvestmentWithdrawalResult{
			InvestmentID:         inv.ID,
			Principal:            inv.Principal,
			Penalty:              penalty,
			NetAmount:            net,
			DestinationAccountID: dest.ID,
		}
		if net.IsPositive() {
			txn, acct, err := s.ledger.apply(ctx, uow, dest.ID, posting{
				typ:           domain.TransactionTypeInvestment,
				direction:     domain.DirectionCredit,
				amount:        net,
				currency:      inv.Currency,
				reference:     &inv.ID,
				correlationID: correlationID,
				description:   "investment early withdrawal",
			})
			if err != nil {
				return err
			}
			result.TransactionID = txn.ID
			result.AccountBalance = acct.Balance
		}
		if feeAcct != nil {
			txn, _, err := s.ledger.apply(ctx, uow, feeAcct.ID, posting{
				typ:           domain.TransactionTypePenalty,
				direction:     domain.DirectionCredit,
				amount:        penalty,
				currency:      inv.Currency,
				reference:     &inv.ID,
				counterparty:  &dest.ID,
				correlationID: correlationID,
				description:   "early withdrawal penalty",
			})
			if err != nil {
				return err
			}
			result.PenaltyTransactionID = &txn.ID
		}

		payouts, err := uow.Payouts().ListByInvestment(ctx, inv.ID)
		if err != nil {
			return apperror.InternalError(fmt.Errorf("list payouts: %w", err))
		}
		now := s.now().UTC()
		for i := range payouts {
			if !payouts[i].IsOpen() {
				continue
			}
			cancelled, err := payouts[i].Transition(domain.PayoutStatusCancelled)
			if err != nil {
				continue
			}
			cancelled.UpdatedAt = now
			if err := uow.Payouts().Update(ctx, &cancelled, cancelled.Version); err != nil {
				return storageErr("cancel payout", err)
			}
			result.CancelledPayouts++
		}

		inv.Status = domain.InvestmentStatusWithdrawn
		inv.UpdatedAt = now
		if err := uow.Investments().Update(ctx, inv, inv.Version); err != nil {
			return storageErr("update investment", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("investment_id", inv.ID.String()).
		Str("penalty", penalty.String()).
		Str("net", net.String()).
		Int("cancelled_payouts", result.CancelledPayouts).
		Msg("Investment withdrawn")
	s.ledger.events.emit(ctx, domain.EventInvestmentWithdrawn, inv.ID.String(), "", map[string]string{
		"owner_id":   inv.OwnerID.String(),
		"penalty":    penalty.String(),
		"net_amount": net.String(),
		"currency":   inv.Currency,
	})
	return &result, nil
}

// GetInvestment returns an investment visible to the actor.
func (s *InvestmentService) GetInvestment(ctx context.Context, actor ports.Actor, investmentID uuid.UUID) (*domain.Investment, error) {
	inv, err := s.loadInvestment(ctx, investmentID)
	if err != nil {
		return nil, err
	}
	if !actor.Privileged() && inv.OwnerID != actor.UserID {
		return nil, apperror.ErrForbidden()
	}
	return inv, nil
}

// ListInvestments returns the owner's investments.
func (s *InvestmentService) ListInvestments(ctx context.Context, ownerID uuid.UUID) ([]domain.Investment, error) {
	list, err := s.ledger.store.Investments().ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list investments: %w", err))
	}
	return list, nil
}

// ListPayouts returns the investment's payout schedule.
func (s *InvestmentService) ListPayouts(ctx context.Context, actor ports.Actor, investmentID uuid.UUID) ([]domain.Payout, error) {
	if _, err := s.GetInvestment(ctx, actor, investmentID); err != nil {
		return nil, err
	}
	payouts, err := s.ledger.store.Payouts().ListByInvestment(ctx, investmentID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list payouts: %w", err))
	}
	return payouts, nil
}

// CreateRateRecord stores an admin rate for a tier, a user or one investment.
func (s *InvestmentService) CreateRateRecord(ctx context.Context, req ports.CreateRateRecordRequest) (*domain.RateRecord, error) {
	if req.Scope.Specificity() == 0 {
		return nil, apperror.Validation(fmt.Sprintf("unknown rate scope %q", req.Scope))
	}
	if req.Scope != domain.RateScopeTier && (req.ScopeID == nil || *req.ScopeID == uuid.Nil) {
		return nil, apperror.Validation("scope_id is required for USER and INVESTMENT rates")
	}
	currency := ""
	if req.Currency != "" || req.Scope == domain.RateScopeTier {
		c, err := normalizeCurrency(req.Currency)
		if err != nil {
			return nil, err
		}
		currency = c
	}
	if req.Rate.IsNegative() {
		return nil, apperror.Validation("rate must not be negative")
	}
	if req.MinAmount.IsNegative() || (req.MaxAmount != nil && req.MaxAmount.LessThan(req.MinAmount)) {
		return nil, apperror.Validation("invalid amount band")
	}
	from := req.EffectiveFrom
	if from.IsZero() {
		from = s.now()
	}
	if req.EffectiveTo != nil && !req.EffectiveTo.After(from) {
		return nil, apperror.Validation("effective_to must be after effective_from")
	}

	rec := &domain.RateRecord{
		ID:            uuid.New(),
		Scope:         req.Scope,
		ScopeID:       req.ScopeID,
		Currency:      currency,
		MinAmount:     req.MinAmount,
		MaxAmount:     req.MaxAmount,
		Rate:          req.Rate,
		EffectiveFrom: from.UTC().Truncate(time.Microsecond),
		EffectiveTo:   req.EffectiveTo,
		CreatedBy:     req.Actor.UserID,
		CreatedAt:     s.now().UTC().Truncate(time.Microsecond),
	}
	if err := s.ledger.store.RateRecords().Create(ctx, rec); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create rate record: %w", err))
	}
	s.log.Info().
		Str("scope", string(rec.Scope)).
		Str("rate", rec.Rate.String()).
		Time("effective_from", rec.EffectiveFrom).
		Msg("Rate record created")
	return rec, nil
}

// ListRateRecords returns every rate record.
func (s *InvestmentService) ListRateRecords(ctx context.Context) ([]domain.RateRecord, error) {
	list, err := s.ledger.store.RateRecords().List(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list rate records: %w", err))
	}
	return list, nil
}

func (s *InvestmentService) loadInvestment(ctx context.Context, id uuid.UUID) (*domain.Investment, error) {
	inv, err := s.ledger.store.Investments().GetByID(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("load investment: %w", err))
	}
	if inv == nil {
		return nil, apperror.ErrNotFound("investment")
	}
	return inv, nil
}

func (s *InvestmentService) lockInvestment(ctx context.Context, uow ports.UnitOfWork, id uuid.UUID) (*domain.Investment, error) {
	inv, err := uow.Investments().GetForUpdate(ctx, id)
	if err != nil {
		return nil, storageErr("load investment", err)
	}
	if inv == nil {
		return nil, apperror.ErrNotFound("investment")
	}
	return inv, nil
}

// ProjectedReturn is principal × roi / 100 × termMonths / 12.
func ProjectedReturn(principal, roi decimal.Decimal, termMonths int, places int32) decimal.Decimal {
	return principal.Mul(roi).Mul(decimal.NewFromInt(int64(termMonths))).Div(decimal.NewFromInt(1200)).RoundBank(places)
}

// PeriodicPayout is principal × rate / 100 / paymentsPerYear.
func PeriodicPayout(principal, rate decimal.Decimal, freq domain.PayoutFrequency, places int32) decimal.Decimal {
	perYear := freq.PaymentsPerYear()
	if perYear == 0 {
		return decimal.Zero
	}
	return principal.Mul(rate).Div(hundred).Div(decimal.NewFromInt(int64(perYear))).RoundBank(places)
}

// roundingRemainder is what the projected return exceeds the sum of the
// periodic payouts at the base ROI by.
func roundingRemainder(inv *domain.Investment, places int32) decimal.Decimal {
	base := PeriodicPayout(inv.Principal, inv.ROI, inv.Frequency, places)
	return inv.ProjectedReturn.Sub(base.Mul(decimal.NewFromInt(int64(inv.PayoutCount()))))
}

// PlanPayouts builds the SCHEDULED payouts of an investment starting at start.
// Planned amounts use the base ROI; the last one absorbs the rounding
// remainder of the projected return.
func PlanPayouts(inv *domain.Investment, start time.Time, places int32) []domain.Payout {
	n := inv.PayoutCount()
	interval := inv.Frequency.IntervalMonths()
	base := PeriodicPayout(inv.Principal, inv.ROI, inv.Frequency, places)
	payouts := make([]domain.Payout, 0, n)
	planned := decimal.Zero
	for k := 1; k <= n; k++ {
		amount := base
		if k == n {
			amount = inv.ProjectedReturn.Sub(planned)
			if amount.IsNegative() {
				amount = decimal.Zero
			}
		}
		planned = planned.Add(amount)
		payouts = append(payouts, domain.Payout{
			ID:           uuid.New(),
			InvestmentID: inv.ID,
			Sequence:     k,
			DueDate:      start.AddDate(0, k*interval, 0),
			Amount:       amount,
			Status:       domain.PayoutStatusScheduled,
			UpdatedAt:    start,
		})
	}
	return payouts
}

// payable reports whether a payout can still be paid.
func payable(p *domain.Payout) bool {
	switch p.Status {
	case domain.PayoutStatusScheduled, domain.PayoutStatusProcessing:
		return true
	case domain.PayoutStatusFailed:
		return p.Attempts < MaxPayoutAttempts
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
