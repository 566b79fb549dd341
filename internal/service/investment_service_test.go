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
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// activeInvestment creates, approves and activates an investment funded with
// exactly its principal.
func (e *testEnv) activeInvestment(t *testing.T, owner uuid.UUID, principal, roi string, term int, freq domain.PayoutFrequency) (*domain.Investment, *domain.Account) {
	t.Helper()
	ctx := context.Background()
	acct := e.openFunded(t, owner, "USD", principal)
	inv, err := e.investments.Create(ctx, ports.InvestmentApplication{
		Actor:      userActor(owner),
		AccountID:  acct.ID,
		Principal:  dec(principal),
		ROI:        dec(roi),
		TermMonths: term,
		Frequency:  freq,
	})
	require.NoError(t, err)
	_, err = e.investments.Approve(ctx, inv.ID)
	require.NoError(t, err)
	inv, err = e.investments.Activate(ctx, userActor(owner), inv.ID)
	require.NoError(t, err)
	return inv, acct
}

// fastForward moves the investment clock past every payout due date.
func (e *testEnv) fastForward() {
	future := time.Now().AddDate(5, 0, 0)
	e.investments.now = func() time.Time { return future }
}

// ==================== Rate Resolution Tests ====================

func TestResolveRate(t *testing.T) {
	owner := uuid.New()
	inv := &domain.Investment{ID: uuid.New(), OwnerID: owner, Currency: "USD", Principal: dec("10000"), ROI: dec("8")}
	otherOwner, otherInv := uuid.New(), uuid.New()
	at := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	jan := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mar := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	may := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	jul := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	small := dec("5000")

	tier := func(rate, lo string, hi *decimal.Decimal, from time.Time) domain.RateRecord {
		return domain.RateRecord{ID: uuid.New(), Scope: domain.RateScopeTier, Currency: "USD", MinAmount: dec(lo), MaxAmount: hi, Rate: dec(rate), EffectiveFrom: from}
	}
	scoped := func(scope domain.RateScope, id uuid.UUID, rate string, from time.Time, to *time.Time) domain.RateRecord {
		return domain.RateRecord{ID: uuid.New(), Scope: scope, ScopeID: &id, Rate: dec(rate), EffectiveFrom: from, EffectiveTo: to}
	}

	tests := []struct {
		name    string
		records []domain.RateRecord
		want    string
		scope   string
	}{
		{"no records uses roi", nil, "8", "BASE"},
		{"tier applies", []domain.RateRecord{tier("9", "1000", nil, jan)}, "9", "TIER"},
		{"tier band excludes", []domain.RateRecord{tier("9", "0", &small, jan)}, "8", "BASE"},
		{"later tier wins", []domain.RateRecord{tier("9", "0", nil, jan), tier("9.5", "0", nil, mar)}, "9.5", "TIER"},
		{"user beats tier", []domain.RateRecord{tier("9", "0", nil, may), scoped(domain.RateScopeUser, owner, "10", jan, nil)}, "10", "USER"},
		{"other user ignored", []domain.RateRecord{scoped(domain.RateScopeUser, otherOwner, "10", jan, nil)}, "8", "BASE"},
		{"investment beats user", []domain.RateRecord{scoped(domain.RateScopeUser, owner, "10", jan, nil), scoped(domain.RateScopeInvestment, inv.ID, "15", jan, nil)}, "15", "INVESTMENT"},
		{"other investment ignored", []domain.RateRecord{scoped(domain.RateScopeInvestment, otherInv, "15", jan, nil)}, "8", "BASE"},
		{"expired window", []domain.RateRecord{scoped(domain.RateScopeUser, owner, "10", jan, &may)}, "8", "BASE"},
		{"not yet effective", []domain.RateRecord{scoped(domain.RateScopeUser, owner, "10", jul, nil)}, "8", "BASE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveRate(tt.records, inv, at)
			assert.True(t, dec(tt.want).Equal(got.Rate), "rate %s", got.Rate)
			assert.Equal(t, tt.scope, got.ScopeName())
		})
	}
}

// ==================== Investment Lifecycle Tests ====================

func TestInvestment_CreateValidation(t *testing.T) {
	env := newTestEnv(t)
	owner := uuid.New()
	acct := env.openFunded(t, owner, "USD", "100")

	tests := []struct {
		name string
		app  ports.InvestmentApplication
	}{
		{"zero roi", ports.InvestmentApplication{Actor: userActor(owner), AccountID: acct.ID, Principal: dec("100"), ROI: dec("0"), TermMonths: 12, Frequency: domain.FrequencyMonthly}},
		{"unknown frequency", ports.InvestmentApplication{Actor: userActor(owner), AccountID: acct.ID, Principal: dec("100"), ROI: dec("5"), TermMonths: 12, Frequency: "WEEKLY"}},
		{"term not a multiple", ports.InvestmentApplication{Actor: userActor(owner), AccountID: acct.ID, Principal: dec("100"), ROI: dec("5"), TermMonths: 10, Frequency: domain.FrequencyQuarterly}},
		{"zero principal", ports.InvestmentApplication{Actor: userActor(owner), AccountID: acct.ID, Principal: dec("0"), ROI: dec("5"), TermMonths: 12, Frequency: domain.FrequencyMonthly}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.investments.Create(context.Background(), tt.app)
			assert.Equal(t, apperror.CodeValidation, apperror.CodeOf(err))
		})
	}
}

func TestInvestment_ActivateSchedulesPayouts(t *testing.T) {
	env := newTestEnv(t)
	owner := uuid.New()
	inv, acct := env.activeInvestment(t, owner, "10000", "12", 12, domain.FrequencyQuarterly)

	assert.Equal(t, domain.InvestmentStatusActive, inv.Status)
	assert.True(t, dec("1200").Equal(inv.ProjectedReturn))
	require.NotNil(t, inv.StartDate)
	require.NotNil(t, inv.MaturityDate)
	assert.Equal(t, inv.StartDate.AddDate(0, 12, 0), *inv.MaturityDate)
	assert.True(t, env.balance(t, acct.ID).IsZero())

	payouts, err := env.investments.ListPayouts(context.Background(), userActor(owner), inv.ID)
	require.NoError(t, err)
	require.Len(t, payouts, 4)
	for i, p := range payouts {
		assert.Equal(t, i+1, p.Sequence)
		assert.Equal(t, domain.PayoutStatusScheduled, p.Status)
		assert.True(t, dec("300").Equal(p.Amount))
		assert.Equal(t, inv.StartDate.AddDate(0, 3*(i+1), 0), p.DueDate)
	}

	// Nothing is due yet.
	_, err = env.investments.ProcessInvestmentPayout(context.Background(), inv.ID)
	assert.Equal(t, apperror.CodeValidation, apperror.CodeOf(err))
}

func TestInvestment_ActivateInsufficientFunds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := uuid.New()
	acct := env.openFunded(t, owner, "USD", "50")
	inv, err := env.investments.Create(ctx, ports.InvestmentApplication{
		Actor: userActor(owner), AccountID: acct.ID, Principal: dec("100"),
		ROI: dec("5"), TermMonths: 12, Frequency: domain.FrequencyAnnual,
	})
	require.NoError(t, err)

	_, err = env.investments.Activate(ctx, userActor(owner), inv.ID)
	assert.Equal(t, apperror.CodeInvalidStateTransition, apperror.CodeOf(err))

	_, err = env.investments.Approve(ctx, inv.ID)
	require.NoError(t, err)
	_, err = env.investments.Activate(ctx, userActor(owner), inv.ID)
	assert.Equal(t, apperror.CodeInsufficientFunds, apperror.CodeOf(err))

	got, err := env.investments.GetInvestment(ctx, userActor(owner), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvestmentStatusApproved, got.Status)
	payouts, err := env.store.Payouts().ListByInvestment(ctx, inv.ID)
	require.NoError(t, err)
	assert.Empty(t, payouts)
}

func TestInvestment_PayoutsToMaturity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := uuid.New()
	inv, acct := env.activeInvestment(t, owner, "10000", "12", 12, domain.FrequencyQuarterly)
	env.fastForward()

	for seq := 1; seq <= 4; seq++ {
		res, err := env.investments.ProcessInvestmentPayout(ctx, inv.ID)
		require.NoError(t, err)
		assert.Equal(t, seq, res.Sequence)
		assert.Equal(t, domain.PayoutStatusCompleted, res.Status)
		assert.True(t, dec("300").Equal(res.Amount))
		assert.Equal(t, "BASE", res.RateScope)
		require.NotNil(t, res.TransactionID)
		if seq < 4 {
			assert.Equal(t, domain.InvestmentStatusActive, res.InvestmentStatus)
		} else {
			assert.Equal(t, domain.InvestmentStatusMatured, res.InvestmentStatus)
		}
	}

	got, err := env.investments.GetInvestment(ctx, userActor(owner), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvestmentStatusMatured, got.Status)
	assert.True(t, dec("1200").Equal(got.AccumulatedPayouts))
	// Principal returned plus interest.
	assert.True(t, dec("11200").Equal(env.balance(t, acct.ID)))

	_, err = env.investments.ProcessInvestmentPayout(ctx, inv.ID)
	assert.Equal(t, apperror.CodeValidation, apperror.CodeOf(err))
}

func TestInvestment_UserRateClampedToProjection(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := uuid.New()
	inv, acct := env.activeInvestment(t, owner, "10000", "12", 12, domain.FrequencyQuarterly)
	_, err := env.investments.CreateRateRecord(ctx, ports.CreateRateRecordRequest{
		Actor:         ports.Actor{Role: ports.RoleAdmin},
		Scope:         domain.RateScopeUser,
		ScopeID:       &owner,
		Rate:          dec("24"),
		EffectiveFrom: time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)
	env.fastForward()

	want := []string{"600", "600", "0", "0"}
	for i, amount := range want {
		res, err := env.investments.ProcessInvestmentPayout(ctx, inv.ID)
		require.NoError(t, err)
		assert.Equal(t, "USER", res.RateScope)
		assert.True(t, dec(amount).Equal(res.Amount), "payout %d amount %s", i+1, res.Amount)
		if res.Amount.IsZero() {
			assert.Nil(t, res.TransactionID)
		}
	}

	got, err := env.investments.GetInvestment(ctx, userActor(owner), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvestmentStatusMatured, got.Status)
	assert.True(t, dec("1200").Equal(got.AccumulatedPayouts))
	assert.True(t, dec("11200").Equal(env.balance(t, acct.ID)))
}

func TestInvestment_LowerRateHoldsThroughFinalPayout(t *testing.T) {
	tests := []struct {
		name  string
		scope domain.RateScope
	}{
		{"user rate", domain.RateScopeUser},
		{"tier rate", domain.RateScopeTier},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()
			owner := uuid.New()
			inv, acct := env.activeInvestment(t, owner, "10000", "12", 12, domain.FrequencyQuarterly)
			req := ports.CreateRateRecordRequest{
				Actor:         ports.Actor{Role: ports.RoleAdmin},
				Scope:         tt.scope,
				Rate:          dec("6"),
				EffectiveFrom: time.Now().Add(-time.Hour),
			}
			if tt.scope == domain.RateScopeUser {
				req.ScopeID = &owner
			} else {
				req.Currency = "USD"
				req.MinAmount = dec("0")
			}
			_, err := env.investments.CreateRateRecord(ctx, req)
			require.NoError(t, err)
			env.fastForward()

			for seq := 1; seq <= 4; seq++ {
				res, err := env.investments.ProcessInvestmentPayout(ctx, inv.ID)
				require.NoError(t, err)
				assert.Equal(t, string(tt.scope), res.RateScope)
				assert.True(t, dec("150").Equal(res.Amount), "payout %d amount %s", seq, res.Amount)
			}

			got, err := env.investments.GetInvestment(ctx, userActor(owner), inv.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.InvestmentStatusMatured, got.Status)
			assert.True(t, dec("600").Equal(got.AccumulatedPayouts), got.AccumulatedPayouts.String())
			assert.True(t, dec("10600").Equal(env.balance(t, acct.ID)))
		})
	}
}

func TestInvestment_FinalPayoutAtBaseRateAbsorbsRounding(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := uuid.New()
	inv, _ := env.activeInvestment(t, owner, "1000", "7", 12, domain.FrequencyMonthly)
	env.fastForward()

	var last *ports.PayoutResult
	for seq := 1; seq <= 12; seq++ {
		res, err := env.investments.ProcessInvestmentPayout(ctx, inv.ID)
		require.NoError(t, err)
		last = res
	}
	assert.True(t, dec("5.87").Equal(last.Amount), last.Amount.String())
	assert.Equal(t, domain.InvestmentStatusMatured, last.InvestmentStatus)

	got, err := env.investments.GetInvestment(ctx, userActor(owner), inv.ID)
	require.NoError(t, err)
	assert.True(t, dec("70").Equal(got.AccumulatedPayouts))
}

func TestInvestment_OverrideExceedsProjection(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := uuid.New()
	inv, acct := env.activeInvestment(t, owner, "10000", "12", 12, domain.FrequencyQuarterly)
	_, err := env.investments.CreateRateRecord(ctx, ports.CreateRateRecordRequest{
		Actor:         ports.Actor{Role: ports.RoleAdmin},
		Scope:         domain.RateScopeInvestment,
		ScopeID:       &inv.ID,
		Rate:          dec("24"),
		EffectiveFrom: time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)
	env.fastForward()

	summary, err := env.investments.ProcessDuePayouts(ctx, time.Now().AddDate(5, 0, 0), 10)
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Processed)
	assert.Equal(t, 4, summary.Completed)

	got, err := env.investments.GetInvestment(ctx, userActor(owner), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvestmentStatusMatured, got.Status)
	assert.True(t, dec("2400").Equal(got.AccumulatedPayouts))
	assert.True(t, dec("12400").Equal(env.balance(t, acct.ID)))
}

func TestInvestment_EarlyWithdrawal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := uuid.New()
	inv, acct := env.activeInvestment(t, owner, "10000", "12", 12, domain.FrequencyQuarterly)

	_, err := env.investments.Withdraw(ctx, ports.WithdrawInvestmentRequest{Actor: userActor(uuid.New()), InvestmentID: inv.ID})
	assert.Equal(t, apperror.CodeForbidden, apperror.CodeOf(err))

	res, err := env.investments.Withdraw(ctx, ports.WithdrawInvestmentRequest{Actor: userActor(owner), InvestmentID: inv.ID})
	require.NoError(t, err)
	assert.True(t, dec("500").Equal(res.Penalty))
	assert.True(t, dec("9500").Equal(res.NetAmount))
	assert.Equal(t, 4, res.CancelledPayouts)
	require.NotNil(t, res.PenaltyTransactionID)
	assert.True(t, dec("9500").Equal(env.balance(t, acct.ID)))

	fee, err := env.store.Accounts().GetSystemAccount(ctx, domain.AccountKindFee, "USD")
	require.NoError(t, err)
	require.NotNil(t, fee)
	assert.True(t, dec("500").Equal(fee.Balance))

	got, err := env.investments.GetInvestment(ctx, userActor(owner), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvestmentStatusWithdrawn, got.Status)

	payouts, err := env.investments.ListPayouts(ctx, userActor(owner), inv.ID)
	require.NoError(t, err)
	for _, p := range payouts {
		assert.Equal(t, domain.PayoutStatusCancelled, p.Status)
	}

	env.fastForward()
	_, err = env.investments.ProcessInvestmentPayout(ctx, inv.ID)
	assert.Equal(t, apperror.CodeValidation, apperror.CodeOf(err))
	_, err = env.investments.Withdraw(ctx, ports.WithdrawInvestmentRequest{Actor: userActor(owner), InvestmentID: inv.ID})
	assert.Equal(t, apperror.CodeInvalidStateTransition, apperror.CodeOf(err))
}

func TestInvestment_FailedPayoutIsRetried(t *testing.T) {
	ctrl := gomock.NewController(t)
	pub := mocks.NewMockEventPublisher(ctrl)
	var (
		mu     sync.Mutex
		events []domain.Event
	)
	pub.EXPECT().Publish(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e domain.Event) error {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
		return nil
	}).AnyTimes()

	env := newTestEnv(t, withPublisher(pub))
	ctx := context.Background()
	owner := uuid.New()
	inv, acct := env.activeInvestment(t, owner, "1200", "10", 12, domain.FrequencyMonthly)
	env.fastForward()

	_, err := env.ledger.SetActive(ctx, acct.ID, false)
	require.NoError(t, err)
	_, err = env.investments.ProcessInvestmentPayout(ctx, inv.ID)
	assert.Equal(t, apperror.CodeAccountInactive, apperror.CodeOf(err))

	payouts, err := env.store.Payouts().ListByInvestment(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusFailed, payouts[0].Status)
	assert.Equal(t, 1, payouts[0].Attempts)
	assert.NotEmpty(t, payouts[0].LastError)

	mu.Lock()
	require.NotEmpty(t, events)
	assert.Equal(t, domain.EventInvestmentPayoutFailed, events[len(events)-1].Type)
	mu.Unlock()

	_, err = env.ledger.SetActive(ctx, acct.ID, true)
	require.NoError(t, err)
	res, err := env.investments.ProcessInvestmentPayout(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sequence)
	assert.Equal(t, domain.PayoutStatusCompleted, res.Status)
	assert.True(t, dec("10").Equal(res.Amount))

	paid, err := env.store.Payouts().GetByID(ctx, res.PayoutID)
	require.NoError(t, err)
	assert.Equal(t, 2, paid.Attempts)
	assert.Empty(t, paid.LastError)
}

func TestInvestment_ProcessDuePayoutsCountsFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := uuid.New()
	inv, acct := env.activeInvestment(t, owner, "1200", "10", 3, domain.FrequencyMonthly)
	_, err := env.ledger.SetActive(ctx, acct.ID, false)
	require.NoError(t, err)

	summary, err := env.investments.ProcessDuePayouts(ctx, time.Now().AddDate(1, 0, 0), 10)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 3, summary.Failed)

	payouts, err := env.investments.ListPayouts(ctx, userActor(owner), inv.ID)
	require.NoError(t, err)
	for _, p := range payouts {
		assert.Equal(t, domain.PayoutStatusFailed, p.Status)
	}
}

// claimPayout leaves the first payout of an investment PROCESSING as if the
// worker that claimed it at claimedAt had stopped.
func (e *testEnv) claimPayout(t *testing.T, investmentID uuid.UUID, claimedAt time.Time) domain.Payout {
	t.Helper()
	ctx := context.Background()
	payouts, err := e.store.Payouts().ListByInvestment(ctx, investmentID)
	require.NoError(t, err)
	claimed, err := payouts[0].Transition(domain.PayoutStatusProcessing)
	require.NoError(t, err)
	claimed.UpdatedAt = claimedAt
	require.NoError(t, e.store.Payouts().Update(ctx, &claimed, claimed.Version))
	return claimed
}

func TestInvestment_StaleClaimIsRecovered(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := uuid.New()
	inv, acct := env.activeInvestment(t, owner, "10000", "12", 12, domain.FrequencyQuarterly)
	claimed := env.claimPayout(t, inv.ID, time.Now().UTC())

	// Still inside the lease: the claim is left alone.
	summary, err := env.investments.ProcessDuePayouts(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Zero(t, summary.Recovered)
	p, err := env.store.Payouts().GetByID(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusProcessing, p.Status)

	summary, err = env.investments.ProcessDuePayouts(ctx, time.Now().AddDate(5, 0, 0), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Recovered)
	assert.Equal(t, 4, summary.Processed)
	assert.Equal(t, 4, summary.Completed)

	p, err = env.store.Payouts().GetByID(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusCompleted, p.Status)
	assert.Equal(t, 2, p.Attempts)

	got, err := env.investments.GetInvestment(ctx, userActor(owner), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvestmentStatusMatured, got.Status)
	assert.True(t, dec("11200").Equal(env.balance(t, acct.ID)))
}

func TestInvestment_ProcessPayoutRecoversStaleClaim(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := uuid.New()
	inv, _ := env.activeInvestment(t, owner, "10000", "12", 12, domain.FrequencyQuarterly)
	claimed := env.claimPayout(t, inv.ID, time.Now().UTC())
	env.fastForward()

	res, err := env.investments.ProcessInvestmentPayout(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, claimed.ID, res.PayoutID)
	assert.Equal(t, 1, res.Sequence)
	assert.Equal(t, domain.PayoutStatusCompleted, res.Status)
}

// ==================== Rate Record Tests ====================

func TestCreateRateRecord_Validation(t *testing.T) {
	env := newTestEnv(t)
	id := uuid.New()
	later := time.Now().Add(-2 * time.Hour)
	earlier := time.Now().Add(-3 * time.Hour)
	ceiling := dec("10")

	tests := []struct {
		name string
		req  ports.CreateRateRecordRequest
	}{
		{"unknown scope", ports.CreateRateRecordRequest{Scope: "GLOBAL", Rate: dec("5")}},
		{"user without id", ports.CreateRateRecordRequest{Scope: domain.RateScopeUser, Rate: dec("5")}},
		{"tier without currency", ports.CreateRateRecordRequest{Scope: domain.RateScopeTier, Rate: dec("5")}},
		{"negative rate", ports.CreateRateRecordRequest{Scope: domain.RateScopeUser, ScopeID: &id, Rate: dec("-1")}},
		{"inverted band", ports.CreateRateRecordRequest{Scope: domain.RateScopeTier, Currency: "USD", MinAmount: dec("100"), MaxAmount: &ceiling, Rate: dec("5")}},
		{"inverted window", ports.CreateRateRecordRequest{Scope: domain.RateScopeUser, ScopeID: &id, Rate: dec("5"), EffectiveFrom: later, EffectiveTo: &earlier}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.investments.CreateRateRecord(context.Background(), tt.req)
			assert.Equal(t, apperror.CodeValidation, apperror.CodeOf(err))
		})
	}

	rec, err := env.investments.CreateRateRecord(context.Background(), ports.CreateRateRecordRequest{
		Scope: domain.RateScopeTier, Currency: "usd", MinAmount: dec("0"), Rate: dec("7"),
	})
	require.NoError(t, err)
	assert.Equal(t, "USD", rec.Currency)
	list, err := env.investments.ListRateRecords(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

// ==================== Helper Tests ====================

func TestPlanPayouts_LastAbsorbsRemainder(t *testing.T) {
	inv := &domain.Investment{
		ID:         uuid.New(),
		Principal:  dec("1000"),
		ROI:        dec("7"),
		TermMonths: 12,
		Frequency:  domain.FrequencyMonthly,
	}
	inv.ProjectedReturn = ProjectedReturn(inv.Principal, inv.ROI, inv.TermMonths, 2)
	assert.True(t, dec("70").Equal(inv.ProjectedReturn))

	payouts := PlanPayouts(inv, time.Now(), 2)
	require.Len(t, payouts, 12)
	sum := decimal.Zero
	for _, p := range payouts[:11] {
		assert.True(t, dec("5.83").Equal(p.Amount))
		sum = sum.Add(p.Amount)
	}
	assert.True(t, dec("5.87").Equal(payouts[11].Amount))
	assert.True(t, dec("70").Equal(sum.Add(payouts[11].Amount)))
}
