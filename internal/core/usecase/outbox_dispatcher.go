package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
	"github.com/atvirokodosprendimai/tenantdb/internal/core/ports"
	"github.com/rs/zerolog"
)

// OutboxObserver receives per-event dispatch outcomes:
// "dispatched", "failed" or "dead".
type OutboxObserver interface {
	ObserveOutbox(outcome string)
}

// OutboxDispatcher is the post-commit event sink. Dispatch stores the batch
// in the outbox; a background loop publishes pending rows with retry,
// backoff and dead-lettering.
type OutboxDispatcher struct {
	repo      ports.OutboxRepository
	publisher ports.EventPublisher
	interval  time.Duration
	batchSize int
	maxRetry  int
	source    string
	log       zerolog.Logger
	observer  OutboxObserver

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
	wake   chan struct{}

	dispatchSuccessTotal atomic.Int64
	dispatchFailureTotal atomic.Int64
	dispatchDeadTotal    atomic.Int64
}

var _ ports.EventDispatcher = (*OutboxDispatcher)(nil)

type OutboxDispatcherMetrics struct {
	DispatchSuccessTotal int64
	DispatchFailureTotal int64
	DispatchDeadTotal    int64
}

type OutboxOption func(*OutboxDispatcher)

func WithOutboxLogger(l zerolog.Logger) OutboxOption {
	return func(d *OutboxDispatcher) { d.log = l.With().Str("component", "outbox").Logger() }
}

func WithOutboxObserver(o OutboxObserver) OutboxOption {
	return func(d *OutboxDispatcher) { d.observer = o }
}

// WithEventSource sets the source stamped on published envelopes.
func WithEventSource(source string) OutboxOption {
	return func(d *OutboxDispatcher) { d.source = source }
}

func NewOutboxDispatcher(repo ports.OutboxRepository, publisher ports.EventPublisher, interval time.Duration, batchSize int, opts ...OutboxOption) *OutboxDispatcher {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	d := &OutboxDispatcher{
		repo:      repo,
		publisher: publisher,
		interval:  interval,
		batchSize: batchSize,
		maxRetry:  5,
		source:    "tenantdb",
		log:       zerolog.Nop(),
		wake:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch enqueues the events of one committed unit of work.
func (d *OutboxDispatcher) Dispatch(ctx context.Context, events []domain.DomainEvent) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([]domain.OutboxEvent, 0, len(events))
	for _, e := range events {
		payload, err := json.Marshal(domain.EnvelopeFor(e, d.source))
		if err != nil {
			return fmt.Errorf("encode event %s: %w", e.ID, err)
		}
		rows = append(rows, domain.OutboxEvent{
			EventID:     e.ID,
			TenantID:    e.TenantID,
			Topic:       topicFor(e),
			PayloadJSON: payload,
		})
	}
	if err := d.repo.Enqueue(ctx, rows); err != nil {
		return err
	}
	select {
	case d.wake <- struct{}{}:
	default:
	}
	return nil
}

func topicFor(e domain.DomainEvent) string {
	scope := e.TenantID
	if scope == "" {
		scope = "master"
	}
	return "events." + scope + "." + e.Type
}

func (d *OutboxDispatcher) Start(parent context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	d.cancel = cancel
	d.wg.Add(1)
	go d.loop(ctx)
}

func (d *OutboxDispatcher) Close() error {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
	return nil
}

func (d *OutboxDispatcher) loop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if err := d.dispatchBatch(ctx); err != nil && ctx.Err() == nil {
			d.log.Error().Err(err).Msg("outbox dispatch batch")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-d.wake:
		}
	}
}

func (d *OutboxDispatcher) dispatchBatch(ctx context.Context) error {
	events, err := d.repo.FetchPending(ctx, d.batchSize)
	if err != nil {
		return err
	}

	for _, event := range events {
		var envelope domain.EventEnvelope
		if err := json.Unmarshal(event.PayloadJSON, &envelope); err != nil {
			if markErr := d.markFailure(ctx, event, fmt.Sprintf("decode payload: %v", err)); markErr != nil {
				return markErr
			}
			continue
		}

		if err := d.publisher.Publish(ctx, event.Topic, envelope); err != nil {
			if markErr := d.markFailure(ctx, event, err.Error()); markErr != nil {
				return markErr
			}
			continue
		}

		if err := d.repo.MarkDispatched(ctx, event.ID); err != nil {
			return err
		}
		d.dispatchSuccessTotal.Add(1)
		d.observe("dispatched")
	}

	return nil
}

func (d *OutboxDispatcher) markFailure(ctx context.Context, event domain.OutboxEvent, errMsg string) error {
	attempts := event.Attempts + 1
	if attempts >= d.maxRetry {
		if err := d.repo.MarkDead(ctx, event.ID, attempts, errMsg); err != nil {
			return err
		}
		d.dispatchDeadTotal.Add(1)
		d.observe("dead")
		d.log.Warn().
			Str("event_id", event.EventID).
			Str("topic", event.Topic).
			Int("attempts", attempts).
			Str("error", errMsg).
			Msg("outbox event dead-lettered")
		return nil
	}
	next := time.Now().UTC().Add(backoffDuration(attempts)).Format(time.RFC3339Nano)
	if err := d.repo.MarkFailed(ctx, event.ID, attempts, next, errMsg); err != nil {
		return err
	}
	d.dispatchFailureTotal.Add(1)
	d.observe("failed")
	return nil
}

func (d *OutboxDispatcher) observe(outcome string) {
	if d.observer != nil {
		d.observer.ObserveOutbox(outcome)
	}
}

func (d *OutboxDispatcher) Metrics() OutboxDispatcherMetrics {
	return OutboxDispatcherMetrics{
		DispatchSuccessTotal: d.dispatchSuccessTotal.Load(),
		DispatchFailureTotal: d.dispatchFailureTotal.Load(),
		DispatchDeadTotal:    d.dispatchDeadTotal.Load(),
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt <= 1 {
		return 1 * time.Second
	}
	d := time.Duration(attempt*attempt) * time.Second
	if d > 5*time.Minute {
		return 5 * time.Minute
	}
	return d
}
