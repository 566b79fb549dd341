package service

import (
	"fmt"
	"time"

	"ledger-engine/internal/core/domain"
	"ledger-engine/pkg/apperror"

	"github.com/shopspring/decimal"
)

const (
	maxTermMonths = 600
	// powPlaces bounds the digits kept while compounding (1+r)^n.
	powPlaces = 24
)

// GenerateSchedule returns the fixed-payment amortization schedule of a loan
// with amounts rounded to cents. The first period is due on firstDue and each
// following one a month later.
func GenerateSchedule(principal, annualRate decimal.Decimal, termMonths int, firstDue time.Time) ([]domain.ScheduleEntry, error) {
	return generateSchedule(principal, annualRate, termMonths, firstDue, 2)
}

// MonthlyPayment computes P·r / (1 − (1+r)^−n) rounded half-even to places,
// or P/n when the rate is zero.
func MonthlyPayment(principal, annualRate decimal.Decimal, termMonths int, places int32) (decimal.Decimal, error) {
	if err := validateLoanTerms(principal, annualRate, termMonths); err != nil {
		return decimal.Zero, err
	}
	n := decimal.NewFromInt(int64(termMonths))
	r := domain.MonthlyRate(annualRate)
	if r.IsZero() {
		return principal.Div(n).RoundBank(places), nil
	}

	// P·r / (1 − (1+r)^−n) == P·r·f / (f − 1) with f = (1+r)^n
	f := compound(decimal.NewFromInt(1).Add(r), termMonths)
	payment := principal.Mul(r).Mul(f).Div(f.Sub(decimal.NewFromInt(1)))
	return payment.RoundBank(places), nil
}

func generateSchedule(principal, annualRate decimal.Decimal, termMonths int, firstDue time.Time, places int32) ([]domain.ScheduleEntry, error) {
	payment, err := MonthlyPayment(principal, annualRate, termMonths, places)
	if err != nil {
		return nil, err
	}
	r := domain.MonthlyRate(annualRate)

	schedule := make([]domain.ScheduleEntry, 0, termMonths)
	balance := principal
	for period := 1; period <= termMonths; period++ {
		interest := balance.Mul(r).RoundBank(places)
		principalPart := payment.Sub(interest)
		if principalPart.IsNegative() {
			principalPart = decimal.Zero
		}
		// The final period absorbs the rounding remainder.
		if period == termMonths || principalPart.GreaterThan(balance) {
			principalPart = balance
		}
		balance = balance.Sub(principalPart)

		schedule = append(schedule, domain.ScheduleEntry{
			Period:           period,
			DueDate:          firstDue.AddDate(0, period-1, 0),
			Payment:          principalPart.Add(interest),
			PrincipalPortion: principalPart,
			InterestPortion:  interest,
			BalanceAfter:     balance,
		})
		if balance.IsZero() {
			break
		}
	}
	return schedule, nil
}

func validateLoanTerms(principal, annualRate decimal.Decimal, termMonths int) error {
	if !principal.IsPositive() {
		return apperror.Validation("principal must be positive")
	}
	if annualRate.IsNegative() {
		return apperror.Validation("annual rate must not be negative")
	}
	if termMonths <= 0 || termMonths > maxTermMonths {
		return apperror.Validation(fmt.Sprintf("term must be between 1 and %d months", maxTermMonths))
	}
	return nil
}

func compound(base decimal.Decimal, n int) decimal.Decimal {
	f := decimal.NewFromInt(1)
	for i := 0; i < n; i++ {
		f = f.Mul(base).Round(powPlaces)
	}
	return f
}
