package events

import (
	"context"

	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
	"github.com/atvirokodosprendimai/tenantdb/internal/core/ports"
	"github.com/rs/zerolog"
)

// LogPublisher writes each envelope to the structured log. It is the
// publisher used when no webhook is configured.
type LogPublisher struct {
	log zerolog.Logger
}

func NewLogPublisher(log zerolog.Logger) *LogPublisher {
	return &LogPublisher{log: log.With().Str("component", "event_log").Logger()}
}

func (p *LogPublisher) Publish(_ context.Context, topic string, event domain.EventEnvelope) error {
	p.log.Info().
		Str("topic", topic).
		Str("event_id", event.EventID).
		Str("event_type", event.EventType).
		Str("tenant_id", event.TenantID).
		Str("aggregate", event.AggregateType+"/"+event.AggregateID).
		Str("actor", event.Actor).
		Time("occurred_at", event.OccurredAt).
		Msg("event published")
	return nil
}

// FanOut publishes to every publisher in order and stops at the first error,
// leaving the retry to the outbox.
type FanOut []ports.EventPublisher

func (f FanOut) Publish(ctx context.Context, topic string, event domain.EventEnvelope) error {
	for _, p := range f {
		if err := p.Publish(ctx, topic, event); err != nil {
			return err
		}
	}
	return nil
}
