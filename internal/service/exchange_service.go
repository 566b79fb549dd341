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

// ExchangeFee is charged in the destination currency:
// max(Minimum, converted × Percentage / 100).
type ExchangeFee struct {
	Percentage decimal.Decimal
	Minimum    decimal.Decimal
}

// ExchangeService converts funds between two accounts of the same owner.
type ExchangeService struct {
	ledger  *Ledger
	rates   *CurrencyConverter
	fee     ExchangeFee
	refetch int
	log     zerolog.Logger
}

// NewExchangeService creates a new ExchangeService.
func NewExchangeService(ledger *Ledger, rates *CurrencyConverter, fee ExchangeFee, refetchAttempts int, log zerolog.Logger) *ExchangeService {
	return &ExchangeService{
		ledger:  ledger,
		rates:   rates,
		fee:     fee,
		refetch: refetchAttempts,
		log:     logger.Component(log, "exchange"),
	}
}

// Exchange debits amount from the source, credits the converted amount less
// the fee to the destination, and credits the fee to the FEE system account.
// Every leg uses the same rate.
func (s *ExchangeService) Exchange(ctx context.Context, req ports.ExchangeRequest) (*ports.ExchangeResult, error) {
	if strings.TrimSpace(req.IdempotencyKey) == "" {
		return nil, apperror.Validation("idempotency key is required")
	}
	toCurrency, err := normalizeCurrency(req.ToCurrency)
	if err != nil {
		return nil, err
	}

	src, err := s.ledger.loadAccount(ctx, req.FromAccountID)
	if err != nil {
		return nil, err
	}
	dst, err := s.ledger.loadAccount(ctx, req.ToAccountID)
	if err != nil {
		return nil, err
	}
	for _, id := range []uuid.UUID{src.ID, dst.ID} {
		if err := s.ledger.authorize(ctx, req.Actor, id); err != nil {
			return nil, err
		}
	}
	if src.ID == dst.ID || src.OwnerID != dst.OwnerID || dst.IsSystem() {
		return nil, apperror.Validation("exchange requires two distinct accounts of the same owner")
	}
	if src.Currency == toCurrency {
		return nil, apperror.Validation("exchange requires different currencies")
	}
	if dst.Currency != toCurrency {
		return nil, apperror.ErrCurrencyMismatch(dst.Currency, toCurrency)
	}
	if err := s.ledger.validateAmount(req.Amount, src.Currency); err != nil {
		return nil, err
	}
	if !src.Active || !dst.Active {
		return nil, apperror.ErrAccountInactive()
	}

	key := domain.BuildIdempotencyKey("exchange", req.Actor.UserID, req.IdempotencyKey)
	fp := Fingerprint("exchange", src.ID.String(), dst.ID.String(), req.Amount.String(), toCurrency)

	var result ports.ExchangeResult
	if prior, err := s.ledger.guard.Lookup(ctx, key, fp); err != nil {
		return nil, err
	} else if prior != nil {
		if err := replay(prior, &result); err != nil {
			return nil, err
		}
		return &result, nil
	}

	quote, err := s.rates.GetRate(ctx, src.Currency, toCurrency)
	if err != nil {
		return nil, err
	}
	feeAcct, err := s.ledger.systemAccount(ctx, domain.AccountKindFee, toCurrency)
	if err != nil {
		return nil, err
	}

	var rec *domain.IdempotencyRecord
	replayed := false
	ids := []uuid.UUID{src.ID, dst.ID, feeAcct.ID}
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

			rate := q.Rate
			converted, fee, net, err := s.price(req.Amount, rate, toCurrency)
			if err != nil {
				return err
			}

			correlationID := NewCorrelationID()
			debitID, creditID, feeID := uuid.New(), uuid.New(), uuid.New()
			debit, srcAcct, err := s.ledger.apply(ctx, uow, src.ID, posting{
				txnID:          debitID,
				linkedID:       &creditID,
				typ:            domain.TransactionTypeExchange,
				direction:      domain.DirectionDebit,
				amount:         req.Amount,
				currency:       src.Currency,
				rate:           &rate,
				counterparty:   &dst.ID,
				correlationID:  correlationID,
				idempotencyKey: req.IdempotencyKey,
			})
			if err != nil {
				return err
			}
			_, dstAcct, err := s.ledger.apply(ctx, uow, dst.ID, posting{
				txnID:          creditID,
				linkedID:       &debitID,
				typ:            domain.TransactionTypeExchange,
				direction:      domain.DirectionCredit,
				amount:         net,
				currency:       toCurrency,
				rate:           &rate,
				counterparty:   &src.ID,
				correlationID:  correlationID,
				idempotencyKey: req.IdempotencyKey,
			})
			if err != nil {
				return err
			}
			if _, _, err := s.ledger.apply(ctx, uow, feeAcct.ID, posting{
				txnID:         feeID,
				linkedID:      &creditID,
				typ:           domain.TransactionTypeFee,
				direction:     domain.DirectionCredit,
				amount:        fee,
				currency:      toCurrency,
				rate:          &rate,
				counterparty:  &src.ID,
				correlationID: correlationID,
				description:   "exchange fee",
			}); err != nil {
				return err
			}

			result = ports.ExchangeResult{
				CorrelationID:       correlationID,
				DebitTransactionID:  debitID,
				CreditTransactionID: creditID,
				FeeTransactionID:    feeID,
				Amount:              req.Amount,
				FromCurrency:        src.Currency,
				ConvertedAmount:     converted,
				Fee:                 fee,
				NetAmount:           net,
				ToCurrency:          toCurrency,
				Rate:                rate,
				SourceBalance:       srcAcct.Balance,
				DestinationBalance:  dstAcct.Balance,
				CompletedAt:         debit.CreatedAt,
			}
			rec, err = s.ledger.guard.Record(ctx, uow, key, "exchange", fp, result)
			return err
		})
	})
	if err != nil {
		s.log.Warn().Err(err).
			Str("from", src.ID.String()).
			Str("to", dst.ID.String()).
			Str("amount", req.Amount.String()).
			Msg("Exchange failed")
		return nil, err
	}
	if replayed {
		return &result, nil
	}
	s.ledger.guard.Remember(ctx, rec)

	s.log.Info().
		Str("correlation_id", result.CorrelationID).
		Str("pair", result.FromCurrency+"/"+result.ToCurrency).
		Str("rate", result.Rate.String()).
		Str("fee", result.Fee.String()).
		Msg("Exchange completed")
	s.ledger.events.emit(ctx, domain.EventExchangeCompleted, src.ID.String(), result.CorrelationID, map[string]string{
		"owner_id":         src.OwnerID.String(),
		"from_account_id":  src.ID.String(),
		"to_account_id":    dst.ID.String(),
		"amount":           req.Amount.String(),
		"from_currency":    src.Currency,
		"converted_amount": result.ConvertedAmount.String(),
		"fee":              result.Fee.String(),
		"to_currency":      toCurrency,
		"rate":             result.Rate.String(),
	})
	return &result, nil
}

// Preview prices an exchange without moving funds.
func (s *ExchangeService) Preview(ctx context.Context, from, to string, amount decimal.Decimal) (*ports.ExchangePreview, error) {
	from, to, err := normalizePair(from, to)
	if err != nil {
		return nil, err
	}
	if from == to {
		return nil, apperror.Validation("exchange requires different currencies")
	}
	if err := s.ledger.validateAmount(amount, from); err != nil {
		return nil, err
	}
	quote, err := s.rates.GetRate(ctx, from, to)
	if err != nil {
		return nil, err
	}
	converted, fee, net, err := s.price(amount, quote.Rate, to)
	if err != nil {
		return nil, err
	}
	return &ports.ExchangePreview{
		Quote:           *quote,
		Amount:          amount,
		ConvertedAmount: converted,
		Fee:             fee,
		NetAmount:       net,
	}, nil
}

// price returns the converted amount, the fee and the net credited amount.
func (s *ExchangeService) price(amount, rate decimal.Decimal, toCurrency string) (converted, fee, net decimal.Decimal, err error) {
	converted = s.rates.Convert(amount, rate, toCurrency)
	fee = ComputeExchangeFee(converted, s.fee, s.ledger.precision(toCurrency))
	if fee.GreaterThanOrEqual(converted) {
		return converted, fee, decimal.Zero, apperror.Validation("amount does not cover the exchange fee")
	}
	return converted, fee, converted.Sub(fee), nil
}

// ComputeExchangeFee returns max(minimum, converted × percentage / 100)
// rounded half-even to places.
func ComputeExchangeFee(converted decimal.Decimal, fee ExchangeFee, places int32) decimal.Decimal {
	pct := converted.Mul(fee.Percentage).Div(decimal.NewFromInt(100))
	return decimal.Max(fee.Minimum, pct).RoundBank(places)
}
