package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"ledger-engine/internal/core/domain"
	"ledger-engine/internal/core/ports"
	"ledger-engine/internal/core/ports/mocks"
	"ledger-engine/pkg/apperror"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestTransfer_SameCurrency(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()
	a := env.openFunded(t, alice, "USD", "100.00")
	b := env.openFunded(t, bob, "USD", "10.00")

	res, err := env.transfers.Transfer(ctx, ports.TransferRequest{
		Actor:          userActor(alice),
		FromAccountID:  a.ID,
		ToAccount:      b.ID.String(),
		Amount:         dec("40.00"),
		IdempotencyKey: "t-1",
	})
	require.NoError(t, err)

	assert.Equal(t, ports.TransferExternal, res.Kind)
	assert.True(t, dec("60").Equal(res.SourceBalance))
	assert.True(t, dec("50").Equal(res.DestinationBalance))
	assert.Nil(t, res.Rate)
	assert.True(t, dec("60").Equal(env.balance(t, a.ID)))
	assert.True(t, dec("50").Equal(env.balance(t, b.ID)))

	legs, err := env.store.Transactions().ListByCorrelation(ctx, res.CorrelationID)
	require.NoError(t, err)
	require.Len(t, legs, 2)
	byID := map[uuid.UUID]domain.LedgerTransaction{legs[0].ID: legs[0], legs[1].ID: legs[1]}
	debit, credit := byID[res.DebitTransactionID], byID[res.CreditTransactionID]
	assert.Equal(t, domain.DirectionDebit, debit.Direction)
	assert.Equal(t, domain.DirectionCredit, credit.Direction)
	assert.Equal(t, domain.TransactionStatusCompleted, debit.Status)
	assert.Equal(t, domain.TransactionStatusCompleted, credit.Status)
	require.NotNil(t, debit.LinkedTransactionID)
	assert.Equal(t, credit.ID, *debit.LinkedTransactionID)
	require.NotNil(t, credit.CounterpartyAccountID)
	assert.Equal(t, a.ID, *credit.CounterpartyAccountID)
}

func TestTransfer_InternalByAccountNumber(t *testing.T) {
	env := newTestEnv(t)
	owner := uuid.New()
	a := env.openFunded(t, owner, "USD", "20")
	b := env.openFunded(t, owner, "USD", "0")

	res, err := env.transfers.Transfer(context.Background(), ports.TransferRequest{
		Actor:          userActor(owner),
		FromAccountID:  a.ID,
		ToAccount:      b.Number,
		Amount:         dec("5"),
		IdempotencyKey: "t-2",
	})
	require.NoError(t, err)
	assert.Equal(t, ports.TransferInternal, res.Kind)
	assert.Equal(t, b.ID, res.ToAccountID)
}

func TestTransfer_CrossCurrency(t *testing.T) {
	env := newTestEnv(t)
	owner := uuid.New()
	usd := env.openFunded(t, owner, "USD", "100")
	eur := env.openFunded(t, owner, "EUR", "0")
	env.source.EXPECT().FetchRate(gomock.Any(), "USD", "EUR").Return(dec("0.9135"), time.Now(), nil)

	res, err := env.transfers.Transfer(context.Background(), ports.TransferRequest{
		Actor:          userActor(owner),
		FromAccountID:  usd.ID,
		ToAccount:      eur.ID.String(),
		Amount:         dec("10.05"),
		IdempotencyKey: "fx-1",
	})
	require.NoError(t, err)
	require.NotNil(t, res.Rate)
	assert.True(t, dec("0.9135").Equal(*res.Rate))
	// 10.05 * 0.9135 = 9.180675 -> 9.18
	assert.True(t, dec("9.18").Equal(res.ConvertedAmount))
	assert.True(t, dec("9.18").Equal(env.balance(t, eur.ID)))
	assert.True(t, dec("89.95").Equal(env.balance(t, usd.ID)))
}

func TestTransfer_IdempotentReplay(t *testing.T) {
	env := newTestEnv(t)
	alice := uuid.New()
	a := env.openFunded(t, alice, "USD", "100")
	b := env.openFunded(t, uuid.New(), "USD", "0")
	req := ports.TransferRequest{
		Actor:          userActor(alice),
		FromAccountID:  a.ID,
		ToAccount:      b.ID.String(),
		Amount:         dec("30"),
		IdempotencyKey: "retry-me",
	}

	first, err := env.transfers.Transfer(context.Background(), req)
	require.NoError(t, err)
	second, err := env.transfers.Transfer(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.CorrelationID, second.CorrelationID)
	assert.Equal(t, first.DebitTransactionID, second.DebitTransactionID)
	assert.True(t, dec("70").Equal(env.balance(t, a.ID)))
	assert.True(t, dec("30").Equal(env.balance(t, b.ID)))

	req.Amount = dec("31")
	_, err = env.transfers.Transfer(context.Background(), req)
	assert.Equal(t, apperror.CodeIdempotencyConflict, apperror.CodeOf(err))
}

func TestTransfer_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := uuid.New()
	a := env.openFunded(t, alice, "USD", "100")
	b := env.openFunded(t, uuid.New(), "USD", "0")
	closed := env.openFunded(t, uuid.New(), "USD", "0")
	_, err := env.ledger.SetActive(ctx, closed.ID, false)
	require.NoError(t, err)

	tests := []struct {
		name string
		req  ports.TransferRequest
		code string
	}{
		{"missing key", ports.TransferRequest{Actor: userActor(alice), FromAccountID: a.ID, ToAccount: b.ID.String(), Amount: dec("1")}, apperror.CodeValidation},
		{"not owner", ports.TransferRequest{Actor: userActor(uuid.New()), FromAccountID: a.ID, ToAccount: b.ID.String(), Amount: dec("1"), IdempotencyKey: "k"}, apperror.CodeForbidden},
		{"same account", ports.TransferRequest{Actor: userActor(alice), FromAccountID: a.ID, ToAccount: a.ID.String(), Amount: dec("1"), IdempotencyKey: "k"}, apperror.CodeValidation},
		{"unknown destination", ports.TransferRequest{Actor: userActor(alice), FromAccountID: a.ID, ToAccount: "000000000000", Amount: dec("1"), IdempotencyKey: "k"}, apperror.CodeNotFound},
		{"inactive destination", ports.TransferRequest{Actor: userActor(alice), FromAccountID: a.ID, ToAccount: closed.ID.String(), Amount: dec("1"), IdempotencyKey: "k"}, apperror.CodeAccountInactive},
		{"non-positive amount", ports.TransferRequest{Actor: userActor(alice), FromAccountID: a.ID, ToAccount: b.ID.String(), Amount: dec("0"), IdempotencyKey: "k"}, apperror.CodeValidation},
		{"insufficient funds", ports.TransferRequest{Actor: userActor(alice), FromAccountID: a.ID, ToAccount: b.ID.String(), Amount: dec("100.01"), IdempotencyKey: "k"}, apperror.CodeInsufficientFunds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.transfers.Transfer(ctx, tt.req)
			assert.Equal(t, tt.code, apperror.CodeOf(err))
		})
	}

	// No partial effects.
	assert.True(t, dec("100").Equal(env.balance(t, a.ID)))
	assert.True(t, env.balance(t, b.ID).IsZero())
}

func TestTransfer_Conservation_OppositeDirections(t *testing.T) {
	env := newTestEnv(t)
	alice, bob := uuid.New(), uuid.New()
	a := env.openFunded(t, alice, "USD", "500")
	b := env.openFunded(t, bob, "USD", "500")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, _ = env.transfers.Transfer(context.Background(), ports.TransferRequest{
				Actor: userActor(alice), FromAccountID: a.ID, ToAccount: b.ID.String(),
				Amount: dec("7"), IdempotencyKey: uuid.NewString(),
			})
		}(i)
		go func(i int) {
			defer wg.Done()
			_, _ = env.transfers.Transfer(context.Background(), ports.TransferRequest{
				Actor: userActor(bob), FromAccountID: b.ID, ToAccount: a.ID.String(),
				Amount: dec("3"), IdempotencyKey: uuid.NewString(),
			})
		}(i)
	}
	wg.Wait()

	total := env.balance(t, a.ID).Add(env.balance(t, b.ID))
	assert.True(t, dec("1000").Equal(total))
	assert.True(t, dec("420").Equal(env.balance(t, a.ID)))

	for _, id := range []uuid.UUID{a.ID, b.ID} {
		report, err := env.ledger.Reconcile(context.Background(), id)
		require.NoError(t, err)
		assert.True(t, report.Consistent)
	}
}

func TestTransfer_RateExpiredWhileLocking_Refetches(t *testing.T) {
	env := newTestEnv(t)
	owner := uuid.New()
	usd := env.openFunded(t, owner, "USD", "100")
	eur := env.openFunded(t, owner, "EUR", "0")

	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	later := t0.Add(time.Minute)
	// GetRate, fetch (quote expires t0+30s), post-lock check, refresh fetch, post-lock check
	clock := &scriptedClock{times: []time.Time{t0, t0, later, later, later}}
	env.rates.now = clock.Now
	gomock.InOrder(
		env.source.EXPECT().FetchRate(gomock.Any(), "USD", "EUR").Return(dec("0.90"), t0, nil),
		env.source.EXPECT().FetchRate(gomock.Any(), "USD", "EUR").Return(dec("0.95"), later, nil),
	)

	res, err := env.transfers.Transfer(context.Background(), ports.TransferRequest{
		Actor: userActor(owner), FromAccountID: usd.ID, ToAccount: eur.ID.String(),
		Amount: dec("100"), IdempotencyKey: "refetch",
	})
	require.NoError(t, err)
	assert.True(t, dec("0.95").Equal(*res.Rate))
	assert.True(t, dec("95").Equal(env.balance(t, eur.ID)))
}

func TestTransfer_RateStale(t *testing.T) {
	env := newTestEnv(t)
	owner := uuid.New()
	usd := env.openFunded(t, owner, "USD", "100")
	eur := env.openFunded(t, owner, "EUR", "0")
	env.transfers.refetch = 0

	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := &scriptedClock{times: []time.Time{t0, t0, t0.Add(time.Minute)}}
	env.rates.now = clock.Now
	env.source.EXPECT().FetchRate(gomock.Any(), "USD", "EUR").Return(dec("0.90"), t0, nil)

	_, err := env.transfers.Transfer(context.Background(), ports.TransferRequest{
		Actor: userActor(owner), FromAccountID: usd.ID, ToAccount: eur.ID.String(),
		Amount: dec("100"), IdempotencyKey: "stale",
	})
	assert.Equal(t, apperror.CodeRateStale, apperror.CodeOf(err))
	assert.True(t, dec("100").Equal(env.balance(t, usd.ID)))
}

func TestTransfer_RateUnavailable(t *testing.T) {
	env := newTestEnv(t)
	owner := uuid.New()
	usd := env.openFunded(t, owner, "USD", "100")
	xyz := env.openFunded(t, owner, "XYZ", "0")
	env.source.EXPECT().FetchRate(gomock.Any(), "USD", "XYZ").Return(dec("0"), time.Time{}, assert.AnError)

	_, err := env.transfers.Transfer(context.Background(), ports.TransferRequest{
		Actor: userActor(owner), FromAccountID: usd.ID, ToAccount: xyz.ID.String(),
		Amount: dec("1"), IdempotencyKey: "nope",
	})
	assert.Equal(t, apperror.CodeRateUnavailable, apperror.CodeOf(err))
}

func TestTransfer_PublishesEvent(t *testing.T) {
	ctrl := gomock.NewController(t)
	pub := mocks.NewMockEventPublisher(ctrl)
	env := newTestEnv(t, withPublisher(pub))
	alice := uuid.New()
	a := env.openFunded(t, alice, "USD", "10")
	b := env.openFunded(t, uuid.New(), "USD", "0")

	var got domain.Event
	pub.EXPECT().Publish(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e domain.Event) error {
		got = e
		return assert.AnError // publishing failures never fail the transfer
	})

	res, err := env.transfers.Transfer(context.Background(), ports.TransferRequest{
		Actor: userActor(alice), FromAccountID: a.ID, ToAccount: b.ID.String(),
		Amount: dec("1"), IdempotencyKey: "evt",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.EventTransferCompleted, got.Type)
	assert.Equal(t, res.CorrelationID, got.CorrelationID)
	assert.Equal(t, "EXTERNAL", got.Payload["kind"])
}
