package ports

//go:generate mockgen -source=external.go -destination=mocks/mock_external.go -package=mocks

import (
	"context"
	"time"

	"ledger-engine/internal/core/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RateSource provides exchange rates. It returns the rate for one unit of
// from expressed in to, and the time the source observed it.
type RateSource interface {
	FetchRate(ctx context.Context, from, to string) (decimal.Decimal, time.Time, error)
}

// QuoteCache caches quotes for their validity window.
type QuoteCache interface {
	Get(ctx context.Context, from, to string) (*domain.Quote, error)
	Set(ctx context.Context, quote *domain.Quote) error
}

// IdempotencyCache is the fast-path lookup in front of IdempotencyRepository.
type IdempotencyCache interface {
	Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error)
	Set(ctx context.Context, record *domain.IdempotencyRecord, ttl time.Duration) error
}

// EventPublisher delivers domain events to the notification subsystem.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// OwnershipChecker answers authorization questions about accounts.
type OwnershipChecker interface {
	OwnsAccount(ctx context.Context, userID, accountID uuid.UUID) (bool, error)
}
