package domain

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

const CurrentEventSchemaVersion = 1

// DomainEvent is an immutable fact raised by an entity during a mutation.
type DomainEvent struct {
	ID            string
	Type          string
	TenantID      string
	AggregateType string
	AggregateID   string
	OccurredAt    time.Time
	Actor         string
	Payload       json.RawMessage
}

// NewEvent builds an event with a fresh id. Payload marshal errors are
// swallowed into a null payload; event payloads are plain structs.
func NewEvent(eventType, aggregateType, aggregateID string, at time.Time, payload any) DomainEvent {
	raw, err := json.Marshal(payload)
	if err != nil || payload == nil {
		raw = json.RawMessage("null")
	}
	return DomainEvent{
		ID:            uuid.NewString(),
		Type:          eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		OccurredAt:    at.UTC(),
		Payload:       raw,
	}
}

// EventSource is implemented by entities carrying an EventQueue.
type EventSource interface {
	PendingEvents() []DomainEvent
	DrainEvents() []DomainEvent
}

// InsertDowngrader is told, after commit, that a pending insert found its key
// already stored and was written as an update instead.
type InsertDowngrader interface {
	InsertDowngraded()
}

// EventQueue is the per-entity pending event list. Embed by value and always
// handle the owning entity by pointer.
type EventQueue struct {
	mu     sync.Mutex
	events []DomainEvent
}

func (q *EventQueue) Raise(e DomainEvent) {
	q.mu.Lock()
	q.events = append(q.events, e)
	q.mu.Unlock()
}

// PendingEvents returns a copy; the queue is left untouched.
func (q *EventQueue) PendingEvents() []DomainEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) == 0 {
		return nil
	}
	out := make([]DomainEvent, len(q.events))
	copy(out, q.events)
	return out
}

// Retype renames pending events of type from to type to.
func (q *EventQueue) Retype(from, to string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.events {
		if q.events[i].Type == from {
			q.events[i].Type = to
		}
	}
}

// DrainEvents returns the pending events and clears the queue in one step.
func (q *EventQueue) DrainEvents() []DomainEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.events
	q.events = nil
	return out
}

// EventEnvelope is the wire shape published by the outbox.
type EventEnvelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	SchemaVersion int             `json:"schema_version"`
	TenantID      string          `json:"tenant_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Actor         string          `json:"actor"`
	Source        string          `json:"source"`
	Payload       json.RawMessage `json:"payload"`
}

func EnvelopeFor(e DomainEvent, source string) EventEnvelope {
	return EventEnvelope{
		EventID:       e.ID,
		EventType:     e.Type,
		SchemaVersion: CurrentEventSchemaVersion,
		TenantID:      e.TenantID,
		AggregateType: e.AggregateType,
		AggregateID:   e.AggregateID,
		OccurredAt:    e.OccurredAt,
		Actor:         e.Actor,
		Source:        source,
		Payload:       e.Payload,
	}
}

const (
	OutboxStatusPending    = "pending"
	OutboxStatusDispatched = "dispatched"
	OutboxStatusDead       = "dead"
)

type OutboxEvent struct {
	ID            int64
	EventID       string
	TenantID      string
	Topic         string
	PayloadJSON   json.RawMessage
	Status        string
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
	DispatchedAt  *time.Time
}
