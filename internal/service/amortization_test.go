package service

import (
	"testing"
	"time"

	"ledger-engine/pkg/apperror"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==================== MonthlyPayment Tests ====================

func TestMonthlyPayment(t *testing.T) {
	tests := []struct {
		name      string
		principal string
		rate      string
		term      int
		places    int32
		want      string
	}{
		{"one year at 12%", "12000", "12", 12, 2, "1066.19"},
		{"two years at 6%", "5000", "6", 24, 2, "221.60"},
		{"thirty years at 4.5%", "100000", "4.5", 360, 2, "506.69"},
		{"zero rate", "1000", "0", 3, 2, "333.33"},
		{"single period", "500", "12", 1, 2, "505.00"},
		{"yen", "1200000", "12", 12, 0, "106619"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MonthlyPayment(dec(tt.principal), dec(tt.rate), tt.term, tt.places)
			require.NoError(t, err)
			assert.True(t, dec(tt.want).Equal(got), "got %s", got)
		})
	}
}

func TestMonthlyPayment_Validation(t *testing.T) {
	tests := []struct {
		name      string
		principal string
		rate      string
		term      int
	}{
		{"zero principal", "0", "5", 12},
		{"negative principal", "-100", "5", 12},
		{"negative rate", "1000", "-1", 12},
		{"zero term", "1000", "5", 0},
		{"term too long", "1000", "5", maxTermMonths + 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := MonthlyPayment(dec(tt.principal), dec(tt.rate), tt.term, 2)
			assert.Equal(t, apperror.CodeValidation, apperror.CodeOf(err))
		})
	}
}

// ==================== Schedule Tests ====================

func TestGenerateSchedule_AmortizesToZero(t *testing.T) {
	first := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	combos := []struct {
		principal string
		rate      string
		term      int
	}{
		{"12000", "12", 12},
		{"5000", "6", 24},
		{"1000", "0", 3},
		{"999.99", "19.9", 7},
		{"250000", "3.25", 360},
	}
	for _, c := range combos {
		t.Run(c.principal+"@"+c.rate, func(t *testing.T) {
			schedule, err := GenerateSchedule(dec(c.principal), dec(c.rate), c.term, first)
			require.NoError(t, err)
			require.Len(t, schedule, c.term)

			sum := decimal.Zero
			for i, e := range schedule {
				assert.Equal(t, i+1, e.Period)
				assert.True(t, e.Payment.Equal(e.PrincipalPortion.Add(e.InterestPortion)))
				assert.False(t, e.InterestPortion.IsNegative())
				sum = sum.Add(e.PrincipalPortion)
			}
			assert.True(t, dec(c.principal).Equal(sum), "principal sum %s", sum)
			assert.True(t, schedule[len(schedule)-1].BalanceAfter.IsZero())
		})
	}
}

func TestGenerateSchedule_FirstPeriods(t *testing.T) {
	first := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	schedule, err := GenerateSchedule(dec("12000"), dec("12"), 12, first)
	require.NoError(t, err)

	assert.True(t, dec("120.00").Equal(schedule[0].InterestPortion))
	assert.True(t, dec("946.19").Equal(schedule[0].PrincipalPortion))
	assert.True(t, dec("11053.81").Equal(schedule[0].BalanceAfter))
	assert.True(t, dec("110.54").Equal(schedule[1].InterestPortion))

	assert.Equal(t, first, schedule[0].DueDate)
	assert.Equal(t, first.AddDate(0, 11, 0), schedule[11].DueDate)
}

func TestGenerateSchedule_ZeroRateLastAbsorbsRemainder(t *testing.T) {
	schedule, err := GenerateSchedule(dec("1000"), decimal.Zero, 3, time.Now())
	require.NoError(t, err)
	require.Len(t, schedule, 3)
	assert.True(t, dec("333.33").Equal(schedule[0].Payment))
	assert.True(t, dec("333.33").Equal(schedule[1].Payment))
	assert.True(t, dec("333.34").Equal(schedule[2].Payment))
}
