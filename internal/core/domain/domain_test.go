package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestAccount_CanCover(t *testing.T) {
	a := &Account{Balance: dec("100.00")}

	assert.True(t, a.CanCover(dec("100")))
	assert.True(t, a.CanCover(dec("0.01")))
	assert.False(t, a.CanCover(dec("100.01")))
	assert.False(t, a.IsSystem())
	assert.True(t, (&Account{Kind: AccountKindFee}).IsSystem())
}

func TestLedgerTransaction_IsTerminal(t *testing.T) {
	tests := []struct {
		name   string
		status TransactionStatus
		want   bool
	}{
		{"pending", TransactionStatusPending, false},
		{"completed", TransactionStatusCompleted, true},
		{"failed", TransactionStatusFailed, true},
		{"cancelled", TransactionStatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := &LedgerTransaction{Status: tt.status}
			assert.Equal(t, tt.want, tx.IsTerminal())
		})
	}
}

func TestLedgerTransaction_SignedAmount(t *testing.T) {
	tests := []struct {
		name      string
		direction Direction
		status    TransactionStatus
		want      string
	}{
		{"completed credit", DirectionCredit, TransactionStatusCompleted, "40"},
		{"completed debit", DirectionDebit, TransactionStatusCompleted, "-40"},
		{"failed debit", DirectionDebit, TransactionStatusFailed, "0"},
		{"pending credit", DirectionCredit, TransactionStatusPending, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := &LedgerTransaction{Direction: tt.direction, Status: tt.status, Amount: dec("40.00")}
			assert.True(t, tx.SignedAmount().Equal(dec(tt.want)), "got %s", tx.SignedAmount())
		})
	}
}

func TestChainHash_DependsOnPreviousAndContent(t *testing.T) {
	tx := &LedgerTransaction{
		ID:            uuid.MustParse("550e8400-e29b-41d4-a716-446655440000"),
		AccountID:     uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8"),
		Type:          TransactionTypeDeposit,
		Direction:     DirectionCredit,
		Amount:        dec("10.00"),
		Currency:      "USD",
		BalanceAfter:  dec("10.00"),
		CorrelationID: "01HZX",
		Status:        TransactionStatusCompleted,
		CreatedAt:     time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	h1 := ChainHash("", tx)
	assert.Len(t, h1, 64)
	assert.Equal(t, h1, ChainHash("", tx), "hash must be deterministic")
	assert.NotEqual(t, h1, ChainHash("abc", tx))

	// Trailing zeros in the stored representation must not change the hash.
	same := *tx
	same.Amount = dec("10.0000")
	same.BalanceAfter = dec("10")
	assert.Equal(t, h1, ChainHash("", &same))

	changed := *tx
	changed.Amount = dec("10.01")
	assert.NotEqual(t, h1, ChainHash("", &changed))
}

func TestBuildIdempotencyKey(t *testing.T) {
	id := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	key := BuildIdempotencyKey("transfer", id, "req-001")
	assert.Equal(t, "transfer:550e8400-e29b-41d4-a716-446655440000:req-001", key)
}

func TestLoan_CanTransition(t *testing.T) {
	tests := []struct {
		from LoanStatus
		to   LoanStatus
		want bool
	}{
		{LoanStatusPending, LoanStatusApproved, true},
		{LoanStatusPending, LoanStatusRejected, true},
		{LoanStatusPending, LoanStatusActive, false},
		{LoanStatusApproved, LoanStatusActive, true},
		{LoanStatusActive, LoanStatusPaidOff, true},
		{LoanStatusActive, LoanStatusDefaulted, true},
		{LoanStatusPaidOff, LoanStatusActive, false},
		{LoanStatusRejected, LoanStatusApproved, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			l := &Loan{Status: tt.from}
			assert.Equal(t, tt.want, l.CanTransition(tt.to))
		})
	}
}

func TestMonthlyRate(t *testing.T) {
	assert.True(t, MonthlyRate(dec("12")).Equal(dec("0.01")))
	assert.True(t, (&Loan{AnnualRate: dec("6")}).MonthlyRate().Equal(dec("0.005")))
}

func TestInvestment_PayoutCount(t *testing.T) {
	tests := []struct {
		freq  PayoutFrequency
		term  int
		count int
	}{
		{FrequencyMonthly, 12, 12},
		{FrequencyQuarterly, 12, 4},
		{FrequencySemiAnnual, 24, 4},
		{FrequencyAnnual, 36, 3},
		{PayoutFrequency("WEEKLY"), 12, 0},
	}

	for _, tt := range tests {
		t.Run(string(tt.freq), func(t *testing.T) {
			inv := &Investment{Frequency: tt.freq, TermMonths: tt.term}
			assert.Equal(t, tt.count, inv.PayoutCount())
		})
	}
}

func TestInvestment_CanTransition(t *testing.T) {
	inv := &Investment{Status: InvestmentStatusActive}
	assert.True(t, inv.CanTransition(InvestmentStatusWithdrawn))
	assert.True(t, inv.CanTransition(InvestmentStatusMatured))
	assert.False(t, inv.CanTransition(InvestmentStatusPending))
}

func TestPayout_Transition(t *testing.T) {
	p := Payout{Status: PayoutStatusScheduled}

	processing, err := p.Transition(PayoutStatusProcessing)
	require.NoError(t, err)
	assert.Equal(t, PayoutStatusProcessing, processing.Status)
	assert.Equal(t, 1, processing.Attempts)
	assert.Equal(t, PayoutStatusScheduled, p.Status, "receiver must not change")

	failed, err := processing.Transition(PayoutStatusFailed)
	require.NoError(t, err)

	retry, err := failed.Transition(PayoutStatusProcessing)
	require.NoError(t, err)
	assert.Equal(t, 2, retry.Attempts)

	done, err := retry.Transition(PayoutStatusCompleted)
	require.NoError(t, err)
	assert.False(t, done.IsOpen())

	_, err = done.Transition(PayoutStatusCancelled)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	_, err = p.Transition(PayoutStatusCompleted)
	assert.True(t, errors.Is(err, ErrInvalidTransition), "scheduled cannot complete without processing")

	cancelled, err := p.Transition(PayoutStatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, PayoutStatusCancelled, cancelled.Status)
}

func TestQuote_Valid(t *testing.T) {
	now := time.Now()
	q := &Quote{ExpiresAt: now.Add(time.Second)}

	assert.True(t, q.Valid(now))
	assert.False(t, q.Valid(now.Add(time.Second)))
}

func TestRateRecord_ActiveAtAndCovers(t *testing.T) {
	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 6, 0)
	maxAmt := dec("10000")
	r := &RateRecord{EffectiveFrom: from, EffectiveTo: &to, MinAmount: dec("1000"), MaxAmount: &maxAmt}

	assert.False(t, r.ActiveAt(from.Add(-time.Second)))
	assert.True(t, r.ActiveAt(from))
	assert.False(t, r.ActiveAt(to))

	assert.False(t, r.CoversAmount(dec("999.99")))
	assert.True(t, r.CoversAmount(dec("1000")))
	assert.True(t, r.CoversAmount(dec("10000")))
	assert.False(t, r.CoversAmount(dec("10000.01")))

	open := &RateRecord{EffectiveFrom: from}
	assert.True(t, open.ActiveAt(from.AddDate(10, 0, 0)))
	assert.True(t, open.CoversAmount(dec("1e9")))
}

func TestRateScope_Specificity(t *testing.T) {
	assert.Greater(t, RateScopeInvestment.Specificity(), RateScopeUser.Specificity())
	assert.Greater(t, RateScopeUser.Specificity(), RateScopeTier.Specificity())
}
