package sqlite

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/atvirokodosprendimai/tenantdb/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
	"gorm.io/gorm"
)

type ChangeState int

const (
	Added ChangeState = iota + 1
	Modified
	Removed
)

func (s ChangeState) String() string {
	switch s {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	}
	return "unknown"
}

// Change is one pending entry in a data context's change set.
type Change struct {
	Entity domain.Entity
	State  ChangeState
	// Downgraded marks an Added change written as an update because its key
	// already existed.
	Downgraded bool
}

// DataContext is a unit of work bound to exactly one store. A new one is
// created per operation and never shared.
type DataContext struct {
	db       *gormsqlite.DB
	tenantID string
	pipeline *Pipeline

	mu       sync.Mutex
	changes  []*Change
	released bool
}

func newDataContext(db *gormsqlite.DB, tenantID string, pipeline *Pipeline) *DataContext {
	return &DataContext{db: db, tenantID: tenantID, pipeline: pipeline}
}

// TenantID is empty for the master context.
func (c *DataContext) TenantID() string { return c.tenantID }

func (c *DataContext) Add(e domain.Entity) error { return c.enlist(e, Added) }

func (c *DataContext) Update(e domain.Entity) error { return c.enlist(e, Modified) }

func (c *DataContext) Remove(e domain.Entity) error { return c.enlist(e, Removed) }

func (c *DataContext) enlist(e domain.Entity, state ChangeState) error {
	if e == nil {
		return domain.Validationf("nil entity")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return domain.ErrContextReleased
	}

	for i, ch := range c.changes {
		if ch.Entity != e {
			continue
		}
		switch {
		case ch.State == Added && state == Modified:
		case ch.State == Added && state == Removed:
			c.changes = append(c.changes[:i], c.changes[i+1:]...)
		default:
			ch.State = state
		}
		return nil
	}
	c.changes = append(c.changes, &Change{Entity: e, State: state})
	return nil
}

// Pending returns a snapshot of the change set.
func (c *DataContext) Pending() []Change {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Change, 0, len(c.changes))
	for _, ch := range c.changes {
		out = append(out, *ch)
	}
	return out
}

// Read runs fn in a read-only transaction on the bound store.
func (c *DataContext) Read(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if c.isReleased() {
		return domain.ErrContextReleased
	}
	return c.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return fn(tx.DB)
	})
}

// Commit persists the change set through the write pipeline. The change set
// is cleared after the attempt whatever the outcome.
func (c *DataContext) Commit(ctx context.Context) error {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return domain.ErrContextReleased
	}
	changes := c.changes
	c.changes = nil
	c.mu.Unlock()

	if len(changes) == 0 {
		return nil
	}
	return c.pipeline.Run(ctx, c.db, c.tenantID, changes)
}

// Release ends the context. It is safe to call more than once.
func (c *DataContext) Release() {
	c.mu.Lock()
	c.released = true
	c.changes = nil
	c.mu.Unlock()
}

func (c *DataContext) isReleased() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released
}

// first loads one row into dst and maps a miss to domain.ErrNotFound.
func (c *DataContext) first(ctx context.Context, dst any, query string, args ...any) error {
	err := c.Read(ctx, func(tx *gorm.DB) error {
		return tx.Where(query, args...).Take(dst).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load %T: %w", dst, err)
	}
	return nil
}
