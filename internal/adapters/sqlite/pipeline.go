package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/atvirokodosprendimai/tenantdb/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
	"github.com/atvirokodosprendimai/tenantdb/internal/core/ports"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// PreCommitHook runs inside the write transaction after audit stamping.
// An error aborts the commit.
type PreCommitHook func(ctx context.Context, tx *gorm.DB, changes []*Change) error

type PipelineObserver interface {
	ObserveCommit(scope string, d time.Duration, err error)
	ObserveDispatchFailure(scope string)
}

// Pipeline is the fixed write path shared by tenant and master contexts:
// audit stamping before commit, event dispatch after a successful commit.
type Pipeline struct {
	stamper    AuditStamper
	collector  EventCollector
	hooks      []PreCommitHook
	dispatcher ports.EventDispatcher
	observer   PipelineObserver
	log        zerolog.Logger
}

type PipelineOption func(*Pipeline)

func WithPreCommitHook(h PreCommitHook) PipelineOption {
	return func(p *Pipeline) { p.hooks = append(p.hooks, h) }
}

func WithPipelineObserver(o PipelineObserver) PipelineOption {
	return func(p *Pipeline) { p.observer = o }
}

func NewPipeline(dispatcher ports.EventDispatcher, log zerolog.Logger, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		dispatcher: dispatcher,
		log:        log.With().Str("component", "write_pipeline").Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run persists changes in one write transaction on db. Events are only
// drained once the transaction has committed; a failed commit leaves them
// queued on the entities.
func (p *Pipeline) Run(ctx context.Context, db *gormsqlite.DB, tenantID string, changes []*Change) error {
	op := domain.OperationFrom(ctx)
	now := op.Now()
	scope := "tenant"
	if tenantID == "" {
		scope = "master"
	}
	start := time.Now()

	var bumped []bumpedVersion
	err := db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		if err := p.stamper.Stamp(tx.DB, changes, now, op.Principal); err != nil {
			return fmt.Errorf("audit stamping: %w", err)
		}
		for _, h := range p.hooks {
			if err := h(ctx, tx.DB, changes); err != nil {
				return fmt.Errorf("pre-commit hook: %w", err)
			}
		}
		for _, ch := range changes {
			b, err := persist(tx.DB, ch)
			if b != nil {
				bumped = append(bumped, *b)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if p.observer != nil {
		p.observer.ObserveCommit(scope, time.Since(start), err)
	}
	if err != nil {
		for _, b := range bumped {
			b.entity.SetVersion(b.previous)
		}
		return err
	}

	for _, ch := range changes {
		if d, ok := ch.Entity.(domain.InsertDowngrader); ok && ch.Downgraded {
			d.InsertDowngraded()
		}
	}
	events := p.collector.Collect(changes, tenantID, op)
	if len(events) == 0 || p.dispatcher == nil {
		return nil
	}
	if err := p.dispatcher.Dispatch(ctx, events); err != nil {
		// the data is durable; dispatch has its own retry policy
		p.log.Error().Err(err).
			Str("scope", scope).
			Str("tenant_id", tenantID).
			Int("events", len(events)).
			Msg("dispatch domain events")
		if p.observer != nil {
			p.observer.ObserveDispatchFailure(scope)
		}
	}
	return nil
}

type bumpedVersion struct {
	entity   domain.Versioned
	previous int64
}

func persist(tx *gorm.DB, ch *Change) (*bumpedVersion, error) {
	e := ch.Entity
	switch ch.State {
	case Added:
		if err := tx.Create(e).Error; err != nil {
			return nil, fmt.Errorf("insert %s %s: %w", e.TableName(), e.EntityID(), mapWriteError(err))
		}
		return nil, nil

	case Modified:
		q := tx.Model(e)
		var b *bumpedVersion
		if v, ok := e.(domain.Versioned); ok {
			prev := v.CurrentVersion()
			v.SetVersion(prev + 1)
			b = &bumpedVersion{entity: v, previous: prev}
			q = q.Where("version = ?", prev)
		}
		res := q.Select("*").Omit("created_at", "created_by").Updates(e)
		if res.Error != nil {
			return b, fmt.Errorf("update %s %s: %w", e.TableName(), e.EntityID(), mapWriteError(res.Error))
		}
		if res.RowsAffected == 0 {
			if b != nil {
				return b, fmt.Errorf("update %s %s: %w", e.TableName(), e.EntityID(), domain.ErrConflict)
			}
			return nil, fmt.Errorf("update %s %s: %w", e.TableName(), e.EntityID(), domain.ErrNotFound)
		}
		return b, nil

	case Removed:
		res := tx.Delete(e)
		if res.Error != nil {
			return nil, fmt.Errorf("delete %s %s: %w", e.TableName(), e.EntityID(), res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, fmt.Errorf("delete %s %s: %w", e.TableName(), e.EntityID(), domain.ErrNotFound)
		}
		return nil, nil
	}
	return nil, fmt.Errorf("unknown change state %d", ch.State)
}

func mapWriteError(err error) error {
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %v", domain.ErrConflict, err)
	}
	return err
}

// AuditStamper fills created/updated stamps on auditable entities.
type AuditStamper struct{}

type createdStamp struct {
	CreatedAt time.Time `gorm:"column:created_at"`
	CreatedBy string    `gorm:"column:created_by"`
}

// Stamp runs inside the write transaction with one reading of the clock.
// An Added entity whose key already exists is downgraded to Modified and
// keeps the persisted created stamps.
func (AuditStamper) Stamp(tx *gorm.DB, changes []*Change, now time.Time, principal string) error {
	now = now.UTC()
	for _, ch := range changes {
		rec, ok := ch.Entity.(domain.AuditableRecord)
		if !ok {
			continue
		}
		switch ch.State {
		case Added:
			var existing []createdStamp
			err := tx.Table(rec.TableName()).
				Select("created_at", "created_by").
				Where("id = ?", rec.EntityID()).
				Limit(1).
				Find(&existing).Error
			if err != nil {
				return fmt.Errorf("probe %s %s: %w", rec.TableName(), rec.EntityID(), err)
			}
			if len(existing) > 0 {
				ch.State = Modified
				ch.Downgraded = true
				rec.StampCreated(existing[0].CreatedAt, existing[0].CreatedBy)
			} else {
				rec.StampCreated(now, principal)
			}
			rec.StampUpdated(now, principal)
		case Modified:
			rec.StampUpdated(now, principal)
		}
	}
	return nil
}

// EventCollector drains the event queues of committed entities.
type EventCollector struct{}

func (EventCollector) Collect(changes []*Change, tenantID string, op domain.OperationContext) []domain.DomainEvent {
	var out []domain.DomainEvent
	for _, ch := range changes {
		src, ok := ch.Entity.(domain.EventSource)
		if !ok {
			continue
		}
		for _, e := range src.DrainEvents() {
			if e.TenantID == "" {
				e.TenantID = tenantID
			}
			if e.Actor == "" {
				e.Actor = op.Principal
			}
			out = append(out, e)
		}
	}
	return out
}
