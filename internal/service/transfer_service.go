package service

import (
	"context"
	"strings"

	"ledger-engine/internal/core/domain"
	"ledger-engine/internal/core/ports"
	"ledger-engine/pkg/apperror"
	"ledger-engine/pkg/logger"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// TransferService moves funds between two accounts, converting when their
// currencies differ.
type TransferService struct {
	ledger  *Ledger
	rates   *CurrencyConverter
	refetch int
	log     zerolog.Logger
}

// NewTransferService creates a new TransferService. refetchAttempts bounds
// how often a quote that expired while waiting for locks is renewed.
func NewTransferService(ledger *Ledger, rates *CurrencyConverter, refetchAttempts int, log zerolog.Logger) *TransferService {
	return &TransferService{
		ledger:  ledger,
		rates:   rates,
		refetch: refetchAttempts,
		log:     logger.Component(log, "transfer"),
	}
}

// Transfer debits the source and credits the destination in one unit of work.
func (s *TransferService) Transfer(ctx context.Context, req ports.TransferRequest) (*ports.TransferResult, error) {
	if strings.TrimSpace(req.IdempotencyKey) == "" {
		return nil, apperror.Validation("idempotency key is required")
	}

	// 1. Validate
	src, err := s.ledger.loadAccount(ctx, req.FromAccountID)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.authorize(ctx, req.Actor, src.ID); err != nil {
		return nil, err
	}
	if err := s.ledger.validateAmount(req.Amount, src.Currency); err != nil {
		return nil, err
	}
	dst, err := s.resolveDestination(ctx, req.ToAccount)
	if err != nil {
		return nil, err
	}
	if dst.ID == src.ID {
		return nil, apperror.Validation("source and destination must differ")
	}
	if !src.Active || !dst.Active {
		return nil, apperror.ErrAccountInactive()
	}

	key := domain.BuildIdempotencyKey("transfer", req.Actor.UserID, req.IdempotencyKey)
	fp := Fingerprint("transfer", src.ID.String(), dst.ID.String(), req.Amount.String())

	var result ports.TransferResult
	if prior, err := s.ledger.guard.Lookup(ctx, key, fp); err != nil {
		return nil, err
	} else if prior != nil {
		if err := replay(prior, &result); err != nil {
			return nil, err
		}
		return &result, nil
	}

	// 2. Quote before locking
	var quote *domain.Quote
	if src.Currency != dst.Currency {
		if quote, err = s.rates.GetRate(ctx, src.Currency, dst.Currency); err != nil {
			return nil, err
		}
	}

	kind := ports.TransferExternal
	if src.OwnerID == dst.OwnerID {
		kind = ports.TransferInternal
	}

	// 3-4. Lock, re-validate quote, commit
	var rec *domain.IdempotencyRecord
	replayed := false
	ids := []uuid.UUID{src.ID, dst.ID}
	err = withLockedQuote(ctx, s.ledger.locker, s.rates, quote, s.refetch, ids, func(q *domain.Quote) error {
		return s.ledger.runAtomic(ctx, func(ctx context.Context, uow ports.UnitOfWork) error {
			if err := s.ledger.lockAccounts(ctx, uow, ids...); err != nil {
				return err
			}
			prior, err := s.ledger.guard.Check(ctx, uow, key, fp)
			if err != nil {
				return err
			}
			if prior != nil {
				replayed = true
				return replay(prior, &result)
			}

			converted := req.Amount
			var rate *decimal.Decimal
			if q != nil {
				r := q.Rate
				rate = &r
				converted = s.rates.Convert(req.Amount, r, dst.Currency)
				if !converted.IsPositive() {
					return apperror.Validation("amount is too small to convert")
				}
			}

			correlationID := NewCorrelationID()
			debitID, creditID := uuid.New(), uuid.New()
			debit, srcAcct, err := s.ledger.apply(ctx, uow, src.ID, posting{
				txnID:          debitID,
				linkedID:       &creditID,
				typ:            domain.TransactionTypeTransfer,
				direction:      domain.DirectionDebit,
				amount:         req.Amount,
				currency:       src.Currency,
				rate:           rate,
				counterparty:   &dst.ID,
				correlationID:  correlationID,
				idempotencyKey: req.IdempotencyKey,
				description:    req.Description,
			})
			if err != nil {
				return err
			}
			_, dstAcct, err := s.ledger.apply(ctx, uow, dst.ID, posting{
				txnID:          creditID,
				linkedID:       &debitID,
				typ:            domain.TransactionTypeTransfer,
				direction:      domain.DirectionCredit,
				amount:         converted,
				currency:       dst.Currency,
				rate:           rate,
				counterparty:   &src.ID,
				correlationID:  correlationID,
				idempotencyKey: req.IdempotencyKey,
				description:    req.Description,
			})
			if err != nil {
				return err
			}

			result = ports.TransferResult{
				CorrelationID:       correlationID,
				Kind:                kind,
				DebitTransactionID:  debitID,
				CreditTransactionID: creditID,
				FromAccountID:       src.ID,
				ToAccountID:         dst.ID,
				Amount:              req.Amount,
				Currency:            src.Currency,
				ConvertedAmount:     converted,
				ToCurrency:          dst.Currency,
				Rate:                rate,
				SourceBalance:       srcAcct.Balance,
				DestinationBalance:  dstAcct.Balance,
				CompletedAt:         debit.CreatedAt,
			}
			rec, err = s.ledger.guard.Record(ctx, uow, key, "transfer", fp, result)
			return err
		})
	})
	if err != nil {
		s.log.Warn().Err(err).
			Str("from", src.ID.String()).
			Str("to", dst.ID.String()).
			Str("amount", req.Amount.String()).
			Msg("Transfer failed")
		return nil, err
	}
	if replayed {
		return &result, nil
	}
	s.ledger.guard.Remember(ctx, rec)

	// 5. Notify
	s.log.Info().
		Str("correlation_id", result.CorrelationID).
		Str("kind", string(kind)).
		Str("from", src.ID.String()).
		Str("to", dst.ID.String()).
		Str("amount", req.Amount.String()).
		Msg("Transfer completed")
	s.ledger.events.emit(ctx, domain.EventTransferCompleted, src.ID.String(), result.CorrelationID, map[string]string{
		"kind":             string(kind),
		"from_account_id":  src.ID.String(),
		"to_account_id":    dst.ID.String(),
		"from_owner_id":    src.OwnerID.String(),
		"to_owner_id":      dst.OwnerID.String(),
		"amount":           req.Amount.String(),
		"currency":         src.Currency,
		"converted_amount": result.ConvertedAmount.String(),
		"to_currency":      dst.Currency,
	})
	return &result, nil
}

// resolveDestination accepts an account id or an account number.
func (s *TransferService) resolveDestination(ctx context.Context, ref string) (*domain.Account, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, apperror.Validation("destination account is required")
	}
	var (
		acct *domain.Account
		err  error
	)
	if id, parseErr := uuid.Parse(ref); parseErr == nil {
		acct, err = s.ledger.store.Accounts().GetByID(ctx, id)
	} else {
		acct, err = s.ledger.store.Accounts().GetByNumber(ctx, ref)
	}
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	if acct == nil || acct.IsSystem() {
		return nil, apperror.ErrNotFound("destination account")
	}
	return acct, nil
}

// withLockedQuote acquires the locks on ids and runs fn with a quote that is
// still valid after the locks are held. An expired quote is renewed outside
// the locks up to refetch times before failing with RateStale. A nil quote
// means no conversion is involved.
func withLockedQuote(ctx context.Context, locker *AccountLocker, rates *CurrencyConverter, quote *domain.Quote, refetch int, ids []uuid.UUID, fn func(q *domain.Quote) error) error {
	for attempt := 0; ; attempt++ {
		release, err := locker.Acquire(ctx, ids...)
		if err != nil {
			return err
		}
		if quote == nil || rates.Valid(quote) {
			err = fn(quote)
			release()
			return err
		}
		release()

		if attempt >= refetch {
			return apperror.ErrRateStale()
		}
		rates.log.Info().Str("pair", quote.From+"/"+quote.To).Int("attempt", attempt+1).Msg("Quote expired before commit, refetching")
		if quote, err = rates.Refresh(ctx, quote.From, quote.To); err != nil {
			return err
		}
	}
}
