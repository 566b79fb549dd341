package service

import (
	"context"
	"fmt"
	"time"

	"ledger-engine/internal/core/domain"
	"ledger-engine/internal/core/ports"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ResolvedRate is the annual rate applied to an investment at a point in time.
// Scope is empty when the investment's base ROI applies.
type ResolvedRate struct {
	Rate     decimal.Decimal
	Scope    domain.RateScope
	RecordID *uuid.UUID
}

// Override reports whether an admin set this rate for the investment itself.
func (r ResolvedRate) Override() bool {
	return r.Scope == domain.RateScopeInvestment
}

// ScopeName is the scope for display, "BASE" for the base ROI.
func (r ResolvedRate) ScopeName() string {
	if r.Scope == "" {
		return "BASE"
	}
	return string(r.Scope)
}

// RateResolver selects the effective rate of an investment from the rate records.
type RateResolver struct {
	records ports.RateRecordRepository
}

// NewRateResolver creates a resolver over the given repository.
func NewRateResolver(records ports.RateRecordRepository) *RateResolver {
	return &RateResolver{records: records}
}

// Resolve loads the records active at the given time and picks one.
func (r *RateResolver) Resolve(ctx context.Context, inv *domain.Investment, at time.Time) (ResolvedRate, error) {
	records, err := r.records.ListActive(ctx, at)
	if err != nil {
		return ResolvedRate{}, fmt.Errorf("list active rate records: %w", err)
	}
	return ResolveRate(records, inv, at), nil
}

// ResolveRate picks the most specific record that applies to inv at the given
// time. Among records of equal scope the latest EffectiveFrom wins. With no
// applicable record the investment's ROI is used.
func ResolveRate(records []domain.RateRecord, inv *domain.Investment, at time.Time) ResolvedRate {
	var best *domain.RateRecord
	for i := range records {
		rec := &records[i]
		if !rec.ActiveAt(at) || !appliesTo(rec, inv) {
			continue
		}
		if best == nil ||
			rec.Scope.Specificity() > best.Scope.Specificity() ||
			(rec.Scope == best.Scope && rec.EffectiveFrom.After(best.EffectiveFrom)) {
			best = rec
		}
	}
	if best == nil {
		return ResolvedRate{Rate: inv.ROI}
	}
	id := best.ID
	return ResolvedRate{Rate: best.Rate, Scope: best.Scope, RecordID: &id}
}

func appliesTo(rec *domain.RateRecord, inv *domain.Investment) bool {
	switch rec.Scope {
	case domain.RateScopeInvestment:
		return rec.ScopeID != nil && *rec.ScopeID == inv.ID
	case domain.RateScopeUser:
		return rec.ScopeID != nil && *rec.ScopeID == inv.OwnerID &&
			(rec.Currency == "" || rec.Currency == inv.Currency)
	case domain.RateScopeTier:
		return rec.Currency == inv.Currency && rec.CoversAmount(inv.Principal)
	default:
		return false
	}
}
