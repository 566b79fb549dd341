package rates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
)

// HTTPConfig configures HTTPSource.
type HTTPConfig struct {
	BaseURL     string
	Timeout     time.Duration
	MaxFailures uint32        // consecutive failures before the breaker opens
	OpenTimeout time.Duration // how long the breaker stays open
}

// HTTPSource implements ports.RateSource against a rate provider exposing
// GET {base}/rates?from=USD&to=EUR. Calls go through a circuit breaker.
type HTTPSource struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

type rateResponse struct {
	From string          `json:"from"`
	To   string          `json:"to"`
	Rate decimal.Decimal `json:"rate"`
	AsOf time.Time       `json:"as_of"`
}

type fetched struct {
	rate decimal.Decimal
	asOf time.Time
}

// NewHTTPSource creates an HTTPSource.
func NewHTTPSource(cfg HTTPConfig, log zerolog.Logger) *HTTPSource {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	settings := gobreaker.Settings{
		Name:    "fx-rates",
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Rate source circuit breaker changed state")
		},
	}
	return &HTTPSource{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// FetchRate asks the provider for the from/to rate.
func (s *HTTPSource) FetchRate(ctx context.Context, from, to string) (decimal.Decimal, time.Time, error) {
	out, err := s.breaker.Execute(func() (interface{}, error) {
		return s.fetch(ctx, from, to)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return decimal.Zero, time.Time{}, fmt.Errorf("rate source unavailable (circuit breaker %s): %w", s.breaker.State(), err)
		}
		return decimal.Zero, time.Time{}, err
	}
	f := out.(fetched)
	return f.rate, f.asOf, nil
}

// State reports the breaker state.
func (s *HTTPSource) State() gobreaker.State {
	return s.breaker.State()
}

func (s *HTTPSource) fetch(ctx context.Context, from, to string) (fetched, error) {
	q := url.Values{}
	q.Set("from", from)
	q.Set("to", to)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/rates?"+q.Encode(), nil)
	if err != nil {
		return fetched{}, fmt.Errorf("building rate request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fetched{}, fmt.Errorf("requesting rate %s/%s: %w", from, to, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fetched{}, fmt.Errorf("rate provider returned %d: %s", resp.StatusCode, body)
	}

	var body rateResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fetched{}, fmt.Errorf("decoding rate response: %w", err)
	}
	if body.AsOf.IsZero() {
		body.AsOf = time.Now().UTC()
	}
	return fetched{rate: body.Rate, asOf: body.AsOf}, nil
}
