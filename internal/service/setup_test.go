package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"ledger-engine/internal/adapter/storage/memory"
	"ledger-engine/internal/core/domain"
	"ledger-engine/internal/core/ports"
	"ledger-engine/internal/core/ports/mocks"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testPrecision(currency string) int32 {
	switch currency {
	case "JPY":
		return 0
	case "BHD":
		return 3
	default:
		return 2
	}
}

type testEnv struct {
	ctrl        *gomock.Controller
	store       *memory.Store
	source      *mocks.MockRateSource
	ledger      *Ledger
	rates       *CurrencyConverter
	transfers   *TransferService
	exchanges   *ExchangeService
	loans       *LoanService
	investments *InvestmentService
}

type envOption func(*LedgerDeps)

func withPublisher(p ports.EventPublisher) envOption {
	return func(d *LedgerDeps) { d.Publisher = p }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	ctrl := gomock.NewController(t)
	store := memory.NewStore()
	log := zerolog.Nop()

	deps := LedgerDeps{
		Store:     store,
		Locker:    NewAccountLocker(5 * time.Second),
		Guard:     NewIdempotencyGuard(nil, time.Hour, log),
		Precision: testPrecision,
		Logger:    log,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	ledger := NewLedger(deps)

	source := mocks.NewMockRateSource(ctrl)
	rates := NewCurrencyConverter(source, nil, ConverterConfig{
		QuoteValidity: 30 * time.Second,
		Precision:     testPrecision,
	}, log)

	return &testEnv{
		ctrl:      ctrl,
		store:     store,
		source:    source,
		ledger:    ledger,
		rates:     rates,
		transfers: NewTransferService(ledger, rates, 1, log),
		exchanges: NewExchangeService(ledger, rates, ExchangeFee{
			Percentage: dec("0.5"),
			Minimum:    dec("1.00"),
		}, 1, log),
		loans:       NewLoanService(ledger, log),
		investments: NewInvestmentService(ledger, dec("5"), DefaultPayoutLease, log),
	}
}

// openFunded opens an account for owner and credits it with balance.
func (e *testEnv) openFunded(t *testing.T, owner uuid.UUID, currency, balance string) *domain.Account {
	t.Helper()
	ctx := context.Background()
	acct, err := e.ledger.OpenAccount(ctx, ports.OpenAccountRequest{OwnerID: owner, Currency: currency})
	require.NoError(t, err)
	if amount := dec(balance); amount.IsPositive() {
		_, err := e.ledger.Credit(ctx, acct.ID, amount, currency, "")
		require.NoError(t, err)
	}
	return acct
}

func (e *testEnv) balance(t *testing.T, id uuid.UUID) decimal.Decimal {
	t.Helper()
	acct, err := e.store.Accounts().GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, acct)
	return acct.Balance
}

func userActor(id uuid.UUID) ports.Actor {
	return ports.Actor{UserID: id, Role: ports.RoleUser}
}

// scriptedClock returns the given instants in order and then repeats the last.
type scriptedClock struct {
	mu    sync.Mutex
	times []time.Time
	next  int
}

func (c *scriptedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.times[c.next]
	if c.next < len(c.times)-1 {
		c.next++
	}
	return t
}
