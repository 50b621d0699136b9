package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/atvirokodosprendimai/tenantdb/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type recordingDispatcher struct {
	mu      sync.Mutex
	batches [][]domain.DomainEvent
	err     error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, events []domain.DomainEvent) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.batches = append(d.batches, events)
	return d.err
}

func (d *recordingDispatcher) events() []domain.DomainEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []domain.DomainEvent
	for _, b := range d.batches {
		out = append(out, b...)
	}
	return out
}

type testEnv struct {
	dir        string
	master     *gormsqlite.DB
	pipeline   *Pipeline
	dispatcher *recordingDispatcher
	registry   *Registry
	factory    *ContextFactory
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	master, err := gormsqlite.Open(filepath.Join(dir, "master.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = master.Close() })
	require.NoError(t, MigrateMaster(context.Background(), master))

	d := &recordingDispatcher{}
	p := NewPipeline(d, zerolog.Nop())
	reg := NewRegistry(master, p)
	f := NewContextFactory(reg, master, p, nil, zerolog.Nop())
	t.Cleanup(func() { _ = f.Close() })

	return &testEnv{dir: dir, master: master, pipeline: p, dispatcher: d, registry: reg, factory: f}
}

func opCtx(at time.Time, principal string) context.Context {
	return domain.WithOperation(context.Background(), domain.OperationContext{
		Principal: principal,
		Clock:     domain.FixedClock(at),
	})
}

// addTenant registers, provisions and optionally activates a tenant.
func (e *testEnv) addTenant(t *testing.T, id string, active bool) *domain.Tenant {
	t.Helper()
	ctx := opCtx(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), "setup")
	tn, err := domain.NewTenant(id, "code-"+id, "Tenant "+id, "", filepath.Join(e.dir, "tenants", id+".db"), time.Now())
	require.NoError(t, err)
	require.NoError(t, e.registry.Register(ctx, tn))
	require.NoError(t, e.factory.Provision(ctx, tn, nil))
	if active {
		tn, err = e.registry.Activate(ctx, id)
		require.NoError(t, err)
	}
	e.dispatcher.mu.Lock()
	e.dispatcher.batches = nil
	e.dispatcher.mu.Unlock()
	return tn
}
