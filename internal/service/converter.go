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

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ConverterConfig holds quote policy.
type ConverterConfig struct {
	QuoteValidity time.Duration
	MaxSourceAge  time.Duration // zero accepts any age
	Precision     PrecisionFunc
}

// CurrencyConverter resolves quotes from a RateSource and converts amounts.
type CurrencyConverter struct {
	source    ports.RateSource
	cache     ports.QuoteCache
	validity  time.Duration
	maxAge    time.Duration
	precision PrecisionFunc
	now       func() time.Time
	log       zerolog.Logger
}

// NewCurrencyConverter creates a converter. cache may be nil.
func NewCurrencyConverter(source ports.RateSource, cache ports.QuoteCache, cfg ConverterConfig, log zerolog.Logger) *CurrencyConverter {
	if cfg.Precision == nil {
		cfg.Precision = DefaultPrecision
	}
	if cfg.QuoteValidity <= 0 {
		cfg.QuoteValidity = 30 * time.Second
	}
	return &CurrencyConverter{
		source:    source,
		cache:     cache,
		validity:  cfg.QuoteValidity,
		maxAge:    cfg.MaxSourceAge,
		precision: cfg.Precision,
		now:       time.Now,
		log:       logger.Component(log, "converter"),
	}
}

// GetRate returns a valid quote for one unit of from in to, served from the
// cache while the quote's window is open.
func (c *CurrencyConverter) GetRate(ctx context.Context, from, to string) (*domain.Quote, error) {
	from, to, err := normalizePair(from, to)
	if err != nil {
		return nil, err
	}
	now := c.now()
	if from == to {
		return &domain.Quote{From: from, To: to, Rate: decimal.NewFromInt(1), AsOf: now, ExpiresAt: now.Add(c.validity)}, nil
	}
	if c.cache != nil {
		q, err := c.cache.Get(ctx, from, to)
		if err != nil {
			c.log.Warn().Err(err).Str("pair", from+"/"+to).Msg("Quote cache lookup failed")
		} else if q != nil && q.Valid(now) {
			return q, nil
		}
	}
	return c.fetch(ctx, from, to)
}

// Refresh bypasses the cache and fetches a new quote.
func (c *CurrencyConverter) Refresh(ctx context.Context, from, to string) (*domain.Quote, error) {
	from, to, err := normalizePair(from, to)
	if err != nil {
		return nil, err
	}
	if from == to {
		return c.GetRate(ctx, from, to)
	}
	return c.fetch(ctx, from, to)
}

func (c *CurrencyConverter) fetch(ctx context.Context, from, to string) (*domain.Quote, error) {
	rate, asOf, err := c.source.FetchRate(ctx, from, to)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, apperror.ErrCancelled(err)
		}
		return nil, apperror.ErrRateUnavailable(from, to, err)
	}
	if !rate.IsPositive() {
		return nil, apperror.ErrRateUnavailable(from, to, fmt.Errorf("non-positive rate %s", rate))
	}
	now := c.now()
	if c.maxAge > 0 && now.Sub(asOf) > c.maxAge {
		return nil, apperror.ErrRateUnavailable(from, to, fmt.Errorf("source rate as of %s is older than %s", asOf.Format(time.RFC3339), c.maxAge))
	}

	q := &domain.Quote{From: from, To: to, Rate: rate, AsOf: asOf, ExpiresAt: now.Add(c.validity)}
	if c.cache != nil {
		if err := c.cache.Set(ctx, q); err != nil {
			c.log.Warn().Err(err).Str("pair", from+"/"+to).Msg("Failed to cache quote")
		}
	}
	c.log.Debug().Str("pair", from+"/"+to).Str("rate", rate.String()).Msg("Quote fetched")
	return q, nil
}

// Convert multiplies amount by rate and rounds half-even to the precision of
// the target currency.
func (c *CurrencyConverter) Convert(amount, rate decimal.Decimal, toCurrency string) decimal.Decimal {
	return Convert(amount, rate, c.precision(toCurrency))
}

// Convert is the pure conversion with an explicit number of decimal places.
func Convert(amount, rate decimal.Decimal, places int32) decimal.Decimal {
	return amount.Mul(rate).RoundBank(places)
}

// Valid reports whether q is still usable by the converter's clock.
func (c *CurrencyConverter) Valid(q *domain.Quote) bool {
	return q.Valid(c.now())
}

func normalizePair(from, to string) (string, string, error) {
	f, err := normalizeCurrency(from)
	if err != nil {
		return "", "", err
	}
	t, err := normalizeCurrency(to)
	if err != nil {
		return "", "", err
	}
	return f, t, nil
}
