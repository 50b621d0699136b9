package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
	"github.com/atvirokodosprendimai/tenantdb/internal/core/ports"
)

// TenantHints are the request attributes that may identify a tenant, in
// decreasing precedence.
type TenantHints struct {
	// TenantID comes from a verified credential (token claim or API key).
	TenantID string
	Code     string
	Host     string
}

// TenantResolver derives the tenant of an inbound operation. An empty result
// with a nil error means the operation is not tenant-bound.
type TenantResolver struct {
	registry ports.TenantRegistry
}

func NewTenantResolver(registry ports.TenantRegistry) *TenantResolver {
	return &TenantResolver{registry: registry}
}

func (r *TenantResolver) Resolve(ctx context.Context, h TenantHints) (string, error) {
	switch {
	case h.TenantID != "":
		return r.active(r.registry.Resolve(ctx, h.TenantID))
	case h.Code != "":
		return r.active(r.registry.ResolveCode(ctx, h.Code))
	case h.Host != "":
		t, err := r.registry.ResolveHost(ctx, h.Host)
		if errors.Is(err, domain.ErrNotFound) {
			return "", nil
		}
		return r.active(t, err)
	}
	return "", nil
}

func (r *TenantResolver) active(t *domain.Tenant, err error) (string, error) {
	if errors.Is(err, domain.ErrNotFound) {
		return "", domain.ErrUnknownTenant
	}
	if err != nil {
		return "", fmt.Errorf("resolve tenant: %w", err)
	}
	if !t.Active {
		return "", fmt.Errorf("%w: %s is not active", domain.ErrUnknownTenant, t.ID)
	}
	return t.ID, nil
}
