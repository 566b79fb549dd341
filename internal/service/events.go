package service

import (
	"context"
	"time"

	"ledger-engine/internal/core/domain"
	"ledger-engine/internal/core/ports"

	"github.com/rs/zerolog"
)

// eventEmitter publishes after commit. Failures are logged, never returned:
// the ledger mutation is already durable.
type eventEmitter struct {
	pub ports.EventPublisher
	log zerolog.Logger
}

func (e eventEmitter) emit(ctx context.Context, typ domain.EventType, aggregateID, correlationID string, payload map[string]string) {
	if e.pub == nil {
		return
	}
	evt := domain.Event{
		ID:            NewCorrelationID(),
		Type:          typ,
		AggregateID:   aggregateID,
		CorrelationID: correlationID,
		OccurredAt:    time.Now().UTC(),
		Payload:       payload,
	}
	if err := e.pub.Publish(context.WithoutCancel(ctx), evt); err != nil {
		e.log.Error().Err(err).
			Str("event", string(typ)).
			Str("aggregate_id", aggregateID).
			Msg("Failed to publish domain event")
	}
}
