package events

import (
	"context"

	"ledger-engine/internal/core/domain"

	"github.com/rs/zerolog"
)

// LogPublisher writes events to the application log. It is the publisher
// used when Kafka is disabled.
type LogPublisher struct {
	log zerolog.Logger
}

// NewLogPublisher creates a LogPublisher.
func NewLogPublisher(log zerolog.Logger) *LogPublisher {
	return &LogPublisher{log: log.With().Str("component", "events").Logger()}
}

func (p *LogPublisher) Publish(_ context.Context, event domain.Event) error {
	e := p.log.Info().
		Str("event_id", event.ID).
		Str("event", string(event.Type)).
		Str("aggregate_id", event.AggregateID)
	if event.CorrelationID != "" {
		e = e.Str("correlation_id", event.CorrelationID)
	}
	for k, v := range event.Payload {
		e = e.Str(k, v)
	}
	e.Msg("Domain event")
	return nil
}
