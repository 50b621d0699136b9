package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
	"github.com/atvirokodosprendimai/tenantdb/internal/core/ports"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ProbeResult is what a probe reports about one store.
type ProbeResult struct {
	Found bool
	// ExpiresAt bounds the match in time; zero means unbounded.
	ExpiresAt time.Time
}

type MasterProbe[T any] func(ctx context.Context, s ports.MasterSession, variants []string) (T, ProbeResult, error)

type TenantProbe[T any] func(ctx context.Context, s ports.TenantSession, variants []string) (T, ProbeResult, error)

// Hit identifies the store that held the match.
type Hit[T any] struct {
	TenantID  string
	Master    bool
	Value     T
	ExpiresAt time.Time
}

// SearchObserver counts probe outcomes: "hit", "miss", "failure".
type SearchObserver interface {
	ObserveProbe(outcome string)
}

type SearchOptions struct {
	// Concurrency above 1 probes tenants in parallel with that bound.
	Concurrency int
	Log         zerolog.Logger
	Observer    SearchObserver
}

// TenantSearch locates a resource by key when the owning tenant is not known:
// the shared master store first, then every active tenant in isolation.
type TenantSearch[T any] struct {
	registry    ports.TenantRegistry
	master      ports.MasterScope
	tenants     ports.TenantScope
	concurrency int
	log         zerolog.Logger
	observer    SearchObserver
}

func NewTenantSearch[T any](registry ports.TenantRegistry, master ports.MasterScope, tenants ports.TenantScope, opts SearchOptions) *TenantSearch[T] {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &TenantSearch[T]{
		registry:    registry,
		master:      master,
		tenants:     tenants,
		concurrency: opts.Concurrency,
		log:         opts.Log.With().Str("component", "tenant_search").Logger(),
		observer:    opts.Observer,
	}
}

// KeyVariants returns the literal key, its URL-safe unpadded base64 form and
// its standard padded form, literal first and without duplicates.
func KeyVariants(key string) []string {
	urlSafe := strings.TrimRight(strings.NewReplacer("+", "-", "/", "_").Replace(key), "=")
	std := strings.NewReplacer("-", "+", "_", "/").Replace(urlSafe)
	if rem := len(std) % 4; rem != 0 {
		std += strings.Repeat("=", 4-rem)
	}

	out := make([]string, 0, 3)
	for _, v := range []string{key, urlSafe, std} {
		if v == "" {
			continue
		}
		dup := false
		for _, seen := range out {
			if seen == v {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, v)
		}
	}
	return out
}

// Find returns the first store whose probe matches key. A match past its
// expiry ends the search with domain.ErrExpired; no match anywhere is
// domain.ErrNotFound. Per-tenant failures are logged and skipped.
func (s *TenantSearch[T]) Find(ctx context.Context, key string, master MasterProbe[T], tenant TenantProbe[T]) (Hit[T], error) {
	var zero Hit[T]
	variants := KeyVariants(key)
	if len(variants) == 0 {
		return zero, domain.ErrNotFound
	}
	now := domain.OperationFrom(ctx).Now()

	if master != nil {
		var (
			v   T
			res ProbeResult
		)
		err := s.master.WithMaster(ctx, func(ms ports.MasterSession) error {
			var err error
			v, res, err = master(ctx, ms, variants)
			return err
		})
		if err != nil {
			return zero, fmt.Errorf("probe master store: %w", err)
		}
		if res.Found {
			s.observe("hit")
			return matched(Hit[T]{Master: true, Value: v, ExpiresAt: res.ExpiresAt}, now)
		}
		s.observe("miss")
	}

	if tenant == nil {
		return zero, domain.ErrNotFound
	}
	ids, err := s.registry.ListActive(ctx)
	if err != nil {
		return zero, err
	}
	if s.concurrency > 1 {
		return s.findParallel(ctx, ids, variants, tenant, now)
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		v, res, err := s.probeTenant(ctx, id, variants, tenant)
		if err != nil {
			s.probeFailed(ctx, id, err)
			continue
		}
		if !res.Found {
			s.observe("miss")
			continue
		}
		s.observe("hit")
		return matched(Hit[T]{TenantID: id, Value: v, ExpiresAt: res.ExpiresAt}, now)
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	return zero, domain.ErrNotFound
}

var errStopSearch = errors.New("match found")

func (s *TenantSearch[T]) findParallel(ctx context.Context, ids []string, variants []string, tenant TenantProbe[T], now time.Time) (Hit[T], error) {
	var (
		mu  sync.Mutex
		hit *Hit[T]
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, id := range ids {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			v, res, err := s.probeTenant(gctx, id, variants, tenant)
			if err != nil {
				if gctx.Err() == nil {
					s.probeFailed(gctx, id, err)
				}
				return nil
			}
			if !res.Found {
				s.observe("miss")
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			if hit == nil {
				s.observe("hit")
				hit = &Hit[T]{TenantID: id, Value: v, ExpiresAt: res.ExpiresAt}
			}
			return errStopSearch
		})
	}
	_ = g.Wait()

	if hit != nil {
		return matched(*hit, now)
	}
	if err := ctx.Err(); err != nil {
		return Hit[T]{}, err
	}
	return Hit[T]{}, domain.ErrNotFound
}

func (s *TenantSearch[T]) probeTenant(ctx context.Context, id string, variants []string, tenant TenantProbe[T]) (T, ProbeResult, error) {
	var (
		v   T
		res ProbeResult
	)
	err := s.tenants.WithTenant(ctx, id, func(ts ports.TenantSession) error {
		var err error
		v, res, err = tenant(ctx, ts, variants)
		return err
	})
	return v, res, err
}

func (s *TenantSearch[T]) probeFailed(ctx context.Context, tenantID string, err error) {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return
	}
	s.observe("failure")
	s.log.Warn().Err(err).Str("tenant_id", tenantID).Msg("tenant probe failed, continuing")
}

func (s *TenantSearch[T]) observe(outcome string) {
	if s.observer != nil {
		s.observer.ObserveProbe(outcome)
	}
}

func matched[T any](h Hit[T], now time.Time) (Hit[T], error) {
	if !h.ExpiresAt.IsZero() && !h.ExpiresAt.After(now) {
		return h, domain.ErrExpired
	}
	return h, nil
}
