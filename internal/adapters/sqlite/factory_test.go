package sqlite

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/atvirokodosprendimai/tenantdb/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
	"github.com/atvirokodosprendimai/tenantdb/internal/core/ports"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestOpenRejectsUnknownAndInactiveTenants(t *testing.T) {
	env := newTestEnv(t)
	env.addTenant(t, "pending", false)
	ctx := context.Background()

	_, err := env.factory.Open(ctx, "nope")
	require.ErrorIs(t, err, domain.ErrUnknownTenant)

	_, err = env.factory.Open(ctx, "pending")
	require.ErrorIs(t, err, domain.ErrUnknownTenant)

	_, err = env.factory.Open(ctx, "")
	require.ErrorIs(t, err, domain.ErrUnknownTenant)
}

func TestOpenReportsConnectionFailure(t *testing.T) {
	env := newTestEnv(t)
	tn := env.addTenant(t, "t1", true)
	require.NoError(t, env.factory.Evict(tn.StorageLocator))
	require.NoError(t, os.Remove(tn.StorageLocator))

	_, err := env.factory.Open(context.Background(), "t1")
	require.ErrorIs(t, err, domain.ErrConnectionFailure)
	require.NotErrorIs(t, err, domain.ErrUnknownTenant)
}

func TestTenantContextsAreIsolated(t *testing.T) {
	env := newTestEnv(t)
	env.addTenant(t, "t1", true)
	env.addTenant(t, "t2", true)
	ctx := opCtx(t1, "alice")

	require.NoError(t, env.factory.WithTenant(ctx, "t1", func(s ports.TenantSession) error {
		require.Equal(t, "t1", s.TenantID())
		require.NoError(t, s.Add(domain.NewTenantUser("u1", "m1", "alice", "alice@t1.io")))
		return s.Commit(ctx)
	}))

	require.NoError(t, env.factory.WithTenant(ctx, "t2", func(s ports.TenantSession) error {
		_, err := s.Users().FindByEmail(ctx, "alice@t1.io")
		require.ErrorIs(t, err, domain.ErrNotFound)
		return nil
	}))
}

func TestWithTenantReleasesOnPanic(t *testing.T) {
	env := newTestEnv(t)
	env.addTenant(t, "t1", true)

	var captured ports.TenantSession
	func() {
		defer func() { require.NotNil(t, recover()) }()
		_ = env.factory.WithTenant(context.Background(), "t1", func(s ports.TenantSession) error {
			captured = s
			panic("boom")
		})
	}()

	require.NotNil(t, captured)
	require.ErrorIs(t, captured.Add(domain.NewTenantUser("u", "", "u", "u@x.io")), domain.ErrContextReleased)
}

func TestRegistryTransitions(t *testing.T) {
	env := newTestEnv(t)
	env.addTenant(t, "t1", true)
	env.addTenant(t, "t2", false)
	ctx := opCtx(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), "ops")

	ids, err := env.registry.ListActive(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"t1"}, ids)

	tn, err := env.registry.Suspend(ctx, "t1", "billing")
	require.NoError(t, err)
	require.False(t, tn.Active)
	v := tn.Version

	tn, err = env.registry.Suspend(ctx, "t1", "billing")
	require.NoError(t, err)
	require.Equal(t, v, tn.Version, "repeat suspend is a no-op")

	_, err = env.registry.Suspend(ctx, "t2", "x")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	ids, err = env.registry.ListActive(ctx)
	require.NoError(t, err)
	require.Empty(t, ids)

	_, err = env.registry.Activate(ctx, "t2")
	require.NoError(t, err)
	ids, err = env.registry.ListActive(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"t2"}, ids)

	_, err = env.registry.Resolve(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)

	events := env.dispatcher.events()
	require.Len(t, events, 2)
	require.Equal(t, domain.EventTenantSuspended, events[0].Type)
	require.Equal(t, domain.EventTenantActivated, events[1].Type)
}

func TestRegistryResolveByCodeAndHost(t *testing.T) {
	env := newTestEnv(t)
	env.addTenant(t, "t1", true)
	ctx := opCtx(t1, "ops")

	d, err := domain.NewTenantDomain("d1", "t1", "acme.example.com", true, t1)
	require.NoError(t, err)
	dc := env.factory.OpenMaster()
	defer dc.Release()
	require.NoError(t, dc.Add(d))
	require.NoError(t, dc.Commit(ctx))

	tn, err := env.registry.ResolveHost(ctx, "ACME.example.com:8080")
	require.NoError(t, err)
	require.Equal(t, "t1", tn.ID)

	tn, err = env.registry.ResolveCode(ctx, "Code-T1")
	require.NoError(t, err)
	require.Equal(t, "t1", tn.ID)

	_, err = env.registry.ResolveHost(ctx, "other.example.com")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRegisterDuplicateCodeConflicts(t *testing.T) {
	env := newTestEnv(t)
	env.addTenant(t, "t1", false)

	dup, err := domain.NewTenant("t9", "code-t1", "Dup", "", "/tmp/dup.db", t1)
	require.NoError(t, err)
	require.ErrorIs(t, env.registry.Register(opCtx(t1, "ops"), dup), domain.ErrConflict)
}

func TestOutboxEnqueueIsIdempotentPerEvent(t *testing.T) {
	env := newTestEnv(t)
	repo := NewOutboxRepository(env.master)
	ctx := context.Background()

	ev := domain.OutboxEvent{EventID: "e1", TenantID: "t1", Topic: "record.created", PayloadJSON: []byte(`{}`)}
	require.NoError(t, repo.Enqueue(ctx, []domain.OutboxEvent{ev}))
	require.NoError(t, repo.Enqueue(ctx, []domain.OutboxEvent{ev}))

	pending, err := repo.FetchPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "e1", pending[0].EventID)

	require.NoError(t, repo.MarkDispatched(ctx, pending[0].ID))
	pending, err = repo.FetchPending(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestAPIKeyRepository(t *testing.T) {
	env := newTestEnv(t)
	repo := NewAPIKeyRepository(env.master)
	ctx := context.Background()

	_, err := repo.FindByTokenHash(ctx, "h1")
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, repo.Upsert(ctx, domain.APIKey{TokenHash: "h1", Name: "admin", Active: true}))
	require.NoError(t, repo.Upsert(ctx, domain.APIKey{TokenHash: "h1", Name: "admin", Active: false}))

	key, err := repo.FindByTokenHash(ctx, "h1")
	require.NoError(t, err)
	require.False(t, key.Active)
	require.False(t, key.CreatedAt.IsZero())
}

func TestDetachRefusesOpensUntilReleased(t *testing.T) {
	env := newTestEnv(t)
	tn := env.addTenant(t, "t1", true)

	dc, err := env.factory.Open(context.Background(), "t1")
	require.NoError(t, err)
	dc.Release()

	release, err := env.factory.Detach(tn.StorageLocator)
	require.NoError(t, err)

	_, err = env.factory.Open(context.Background(), "t1")
	require.ErrorIs(t, err, domain.ErrConnectionFailure)
	_, err = env.factory.Detach(tn.StorageLocator)
	require.ErrorIs(t, err, domain.ErrConflict)

	release()
	dc, err = env.factory.Open(context.Background(), "t1")
	require.NoError(t, err)
	dc.Release()
}

func TestSlowOpenDoesNotBlockOtherTenants(t *testing.T) {
	env := newTestEnv(t)
	slow := env.addTenant(t, "t1", true)
	env.addTenant(t, "t2", true)

	entered := make(chan struct{})
	unblock := make(chan struct{})
	f := NewContextFactory(env.registry, env.master, env.pipeline, func(file string) (*gormsqlite.DB, error) {
		if file == slow.StorageLocator {
			close(entered)
			<-unblock
		}
		return gormsqlite.Open(file)
	}, zerolog.Nop())
	t.Cleanup(func() { _ = f.Close() })

	done := make(chan error, 1)
	go func() {
		dc, err := f.Open(context.Background(), "t1")
		if err == nil {
			dc.Release()
		}
		done <- err
	}()
	<-entered

	dc, err := f.Open(context.Background(), "t2")
	require.NoError(t, err)
	dc.Release()

	close(unblock)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("slow open never finished")
	}
}

func TestDiscardRemovesStore(t *testing.T) {
	env := newTestEnv(t)
	tn := env.addTenant(t, "t1", false)

	require.NoError(t, env.factory.Discard(context.Background(), tn))
	_, err := os.Stat(tn.StorageLocator)
	require.ErrorIs(t, err, os.ErrNotExist)
	require.NoError(t, env.factory.Discard(context.Background(), tn))
}
