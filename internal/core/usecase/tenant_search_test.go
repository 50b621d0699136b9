package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
	"github.com/atvirokodosprendimai/tenantdb/internal/core/ports"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type stubRegistry struct {
	ports.TenantRegistry
	active  []string
	listErr error
}

func (r *stubRegistry) ListActive(context.Context) ([]string, error) {
	return r.active, r.listErr
}

type stubTenantSession struct {
	ports.TenantSession
	id string
}

func (s stubTenantSession) TenantID() string { return s.id }

type stubMasterSession struct {
	ports.MasterSession
}

// stubScopes opens "sessions" that only carry the tenant id and records
// every open in order.
type stubScopes struct {
	mu       sync.Mutex
	opened   []string
	openErrs map[string]error
	delay    time.Duration
}

func (s *stubScopes) WithTenant(ctx context.Context, id string, fn func(ports.TenantSession) error) error {
	s.mu.Lock()
	s.opened = append(s.opened, id)
	err := s.openErrs[id]
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fn(stubTenantSession{id: id})
}

func (s *stubScopes) WithMaster(_ context.Context, fn func(ports.MasterSession) error) error {
	return fn(stubMasterSession{})
}

func (s *stubScopes) openedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.opened...)
}

type probeCounter struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (c *probeCounter) ObserveProbe(outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outcomes == nil {
		c.outcomes = map[string]int{}
	}
	c.outcomes[outcome]++
}

func tenantsHolding(matches map[string]time.Time) TenantProbe[string] {
	return func(_ context.Context, s ports.TenantSession, _ []string) (string, ProbeResult, error) {
		exp, ok := matches[s.TenantID()]
		if !ok {
			return "", ProbeResult{}, nil
		}
		return "user-in-" + s.TenantID(), ProbeResult{Found: true, ExpiresAt: exp}, nil
	}
}

func masterMiss(context.Context, ports.MasterSession, []string) (string, ProbeResult, error) {
	return "", ProbeResult{}, nil
}

var searchNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func searchCtx() context.Context {
	return domain.WithOperation(context.Background(), domain.OperationContext{Clock: domain.FixedClock(searchNow)})
}

func TestKeyVariants(t *testing.T) {
	require.Equal(t, []string{"ab+c/d==", "ab-c_d"}, KeyVariants("ab+c/d=="))
	require.Equal(t, []string{"ab-c_d", "ab+c/d=="}, KeyVariants("ab-c_d"))
	require.Equal(t, "plain", KeyVariants("plain")[0])
	require.Empty(t, KeyVariants(""))
}

func TestFindReturnsKthTenantDespiteEarlierFailures(t *testing.T) {
	scopes := &stubScopes{openErrs: map[string]error{
		"t1": fmt.Errorf("%w: disk gone", domain.ErrConnectionFailure),
		"t2": errors.New("query failed"),
	}}
	reg := &stubRegistry{active: []string{"t1", "t2", "t3", "t4", "t5"}}
	counter := &probeCounter{}
	search := NewTenantSearch[string](reg, scopes, scopes, SearchOptions{Log: zerolog.Nop(), Observer: counter})

	hit, err := search.Find(searchCtx(), "tok", masterMiss, tenantsHolding(map[string]time.Time{
		"t3": searchNow.Add(time.Hour),
	}))
	require.NoError(t, err)
	require.Equal(t, "t3", hit.TenantID)
	require.Equal(t, "user-in-t3", hit.Value)
	require.False(t, hit.Master)
	require.Equal(t, []string{"t1", "t2", "t3"}, scopes.openedIDs(), "t4 and t5 are never opened")
	require.Equal(t, 2, counter.outcomes["failure"])
}

func TestFindNotFoundAfterProbingAll(t *testing.T) {
	scopes := &stubScopes{}
	reg := &stubRegistry{active: []string{"t1", "t2", "t3"}}
	search := NewTenantSearch[string](reg, scopes, scopes, SearchOptions{Log: zerolog.Nop()})

	_, err := search.Find(searchCtx(), "tok", masterMiss, tenantsHolding(nil))
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.Equal(t, []string{"t1", "t2", "t3"}, scopes.openedIDs())
}

func TestFindNeverProbesInactiveTenants(t *testing.T) {
	scopes := &stubScopes{}
	// t2 is inactive and therefore absent from the active listing
	reg := &stubRegistry{active: []string{"t1"}}
	search := NewTenantSearch[string](reg, scopes, scopes, SearchOptions{Log: zerolog.Nop()})

	_, err := search.Find(searchCtx(), "tok", masterMiss, tenantsHolding(map[string]time.Time{"t2": {}}))
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.Equal(t, []string{"t1"}, scopes.openedIDs())
}

func TestFindExpiredMatch(t *testing.T) {
	scopes := &stubScopes{}
	reg := &stubRegistry{active: []string{"t1", "t2"}}
	search := NewTenantSearch[string](reg, scopes, scopes, SearchOptions{Log: zerolog.Nop()})

	hit, err := search.Find(searchCtx(), "tok", masterMiss, tenantsHolding(map[string]time.Time{
		"t1": searchNow,
		"t2": searchNow.Add(time.Hour),
	}))
	require.ErrorIs(t, err, domain.ErrExpired)
	require.Equal(t, "t1", hit.TenantID)
	require.Equal(t, []string{"t1"}, scopes.openedIDs())
}

func TestFindMasterHitSkipsTenants(t *testing.T) {
	scopes := &stubScopes{}
	reg := &stubRegistry{active: []string{"t1"}}
	search := NewTenantSearch[string](reg, scopes, scopes, SearchOptions{Log: zerolog.Nop()})

	hit, err := search.Find(searchCtx(), "tok",
		func(context.Context, ports.MasterSession, []string) (string, ProbeResult, error) {
			return "master-user", ProbeResult{Found: true}, nil
		},
		tenantsHolding(map[string]time.Time{"t1": {}}))
	require.NoError(t, err)
	require.True(t, hit.Master)
	require.Equal(t, "master-user", hit.Value)
	require.Empty(t, scopes.openedIDs())
}

func TestFindHonoursCancellation(t *testing.T) {
	scopes := &stubScopes{}
	reg := &stubRegistry{active: []string{"t1", "t2"}}
	search := NewTenantSearch[string](reg, scopes, scopes, SearchOptions{Log: zerolog.Nop()})

	ctx, cancel := context.WithCancel(searchCtx())
	cancel()
	_, err := search.Find(ctx, "tok", nil, tenantsHolding(nil))
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, scopes.openedIDs())
}

func TestFindParallel(t *testing.T) {
	ids := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		ids = append(ids, fmt.Sprintf("t%02d", i))
	}
	scopes := &stubScopes{
		openErrs: map[string]error{"t01": errors.New("flaky")},
		delay:    5 * time.Millisecond,
	}
	reg := &stubRegistry{active: ids}
	search := NewTenantSearch[string](reg, scopes, scopes, SearchOptions{Concurrency: 4, Log: zerolog.Nop()})

	hit, err := search.Find(searchCtx(), "tok", nil, tenantsHolding(map[string]time.Time{"t05": {}}))
	require.NoError(t, err)
	require.Equal(t, "t05", hit.TenantID)
	require.Less(t, len(scopes.openedIDs()), len(ids), "no further probes once matched")

	scopes = &stubScopes{}
	search = NewTenantSearch[string](reg, scopes, scopes, SearchOptions{Concurrency: 4, Log: zerolog.Nop()})
	_, err = search.Find(searchCtx(), "tok", nil, tenantsHolding(nil))
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.Len(t, scopes.openedIDs(), len(ids))
}
