package ports

import (
	"context"

	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
)

type EventPublisher interface {
	Publish(ctx context.Context, topic string, event domain.EventEnvelope) error
}

// EventDispatcher receives the events of one committed unit of work, once.
type EventDispatcher interface {
	Dispatch(ctx context.Context, events []domain.DomainEvent) error
}

type OutboxRepository interface {
	Enqueue(ctx context.Context, events []domain.OutboxEvent) error
	FetchPending(ctx context.Context, limit int) ([]domain.OutboxEvent, error)
	MarkDispatched(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, attempts int, nextAttemptAt string, errMsg string) error
	MarkDead(ctx context.Context, id int64, attempts int, errMsg string) error
}
