package sqlite

import (
	"context"
	"errors"
	"fmt"

	"github.com/atvirokodosprendimai/tenantdb/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
	"github.com/atvirokodosprendimai/tenantdb/internal/core/ports"
	"gorm.io/gorm"
)

// Registry keeps tenant descriptors in the master store. Every mutation is
// a single versioned UPDATE in its own write transaction, so readers see a
// descriptor either before or after a transition.
type Registry struct {
	db       *gormsqlite.DB
	pipeline *Pipeline
}

var _ ports.TenantRegistry = (*Registry)(nil)

func NewRegistry(master *gormsqlite.DB, pipeline *Pipeline) *Registry {
	return &Registry{db: master, pipeline: pipeline}
}

func (r *Registry) session() *DataContext {
	return newDataContext(r.db, "", r.pipeline)
}

func (r *Registry) Resolve(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	dc := r.session()
	defer dc.Release()
	return tenants{dc}.Get(ctx, tenantID)
}

func (r *Registry) ResolveCode(ctx context.Context, code string) (*domain.Tenant, error) {
	dc := r.session()
	defer dc.Release()
	return tenants{dc}.FindByCode(ctx, code)
}

func (r *Registry) ResolveHost(ctx context.Context, host string) (*domain.Tenant, error) {
	var t domain.Tenant
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Model(&domain.Tenant{}).
			Joins("JOIN tenant_domains d ON d.tenant_id = tenants.id").
			Where("d.host = ?", domain.NormalizeHost(host)).
			Take(&t).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("resolve host: %w", err)
	}
	return &t, nil
}

func (r *Registry) ListActive(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Model(&domain.Tenant{}).Where("active = ?", true).Pluck("id", &ids).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list active tenants: %w", err)
	}
	return ids, nil
}

func (r *Registry) Register(ctx context.Context, t *domain.Tenant) error {
	dc := r.session()
	defer dc.Release()
	if err := dc.Add(t); err != nil {
		return err
	}
	return dc.Commit(ctx)
}

func (r *Registry) Activate(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	return r.transition(ctx, tenantID, func(t *domain.Tenant) (bool, error) {
		return t.Activate(domain.OperationFrom(ctx).Now())
	})
}

func (r *Registry) Suspend(ctx context.Context, tenantID, reason string) (*domain.Tenant, error) {
	return r.transition(ctx, tenantID, func(t *domain.Tenant) (bool, error) {
		return t.Suspend(reason, domain.OperationFrom(ctx).Now())
	})
}

func (r *Registry) transition(ctx context.Context, tenantID string, apply func(*domain.Tenant) (bool, error)) (*domain.Tenant, error) {
	dc := r.session()
	defer dc.Release()

	t, err := tenants{dc}.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	changed, err := apply(t)
	if err != nil || !changed {
		return t, err
	}
	if err := dc.Update(t); err != nil {
		return nil, err
	}
	if err := dc.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tenant %s transition: %w", tenantID, err)
	}
	return t, nil
}
