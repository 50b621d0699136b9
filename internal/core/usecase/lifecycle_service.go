package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
	"github.com/atvirokodosprendimai/tenantdb/internal/core/ports"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

type LifecycleConfig struct {
	// TenantDir holds one database file per tenant.
	TenantDir  string
	BaseDomain string
	BcryptCost int
}

type RegistrationRequest struct {
	Code          string `json:"code"`
	Name          string `json:"name"`
	ContactEmail  string `json:"contact_email"`
	AdminUsername string `json:"admin_username"`
	AdminEmail    string `json:"admin_email"`
	AdminPassword string `json:"admin_password"`
}

type Registration struct {
	Tenant      *domain.Tenant `json:"tenant"`
	AdminUserID string         `json:"admin_user_id"`
	PrimaryHost string         `json:"primary_host"`
}

// LifecycleService drives tenants through
// pending_registration → active ⇄ suspended.
type LifecycleService struct {
	registry    ports.TenantRegistry
	master      ports.MasterScope
	provisioner ports.TenantProvisioner
	validator   *PayloadValidator
	cfg         LifecycleConfig
	log         zerolog.Logger
}

func NewLifecycleService(registry ports.TenantRegistry, master ports.MasterScope, provisioner ports.TenantProvisioner, validator *PayloadValidator, cfg LifecycleConfig, log zerolog.Logger) *LifecycleService {
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.BaseDomain == "" {
		cfg.BaseDomain = "tenants.local"
	}
	return &LifecycleService{
		registry:    registry,
		master:      master,
		provisioner: provisioner,
		validator:   validator,
		cfg:         cfg,
		log:         log.With().Str("component", "lifecycle").Logger(),
	}
}

// Register validates raw, provisions the tenant store, then records the
// tenant with its primary domain and admin identity. Either both land or
// neither does. The tenant stays inactive until payment is confirmed.
func (s *LifecycleService) Register(ctx context.Context, raw json.RawMessage) (*Registration, error) {
	if err := s.validator.Validate(SchemaTenantRegistration, raw); err != nil {
		return nil, err
	}
	var req RegistrationRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, domain.Validationf("decode registration: %v", err)
	}

	code := domain.NormalizeTenantCode(req.Code)
	if _, err := s.registry.ResolveCode(ctx, code); err == nil {
		return nil, fmt.Errorf("%w: tenant code %q is taken", domain.ErrConflict, code)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	now := domain.OperationFrom(ctx).Now()
	id := uuid.NewString()
	t, err := domain.NewTenant(id, code, req.Name, req.ContactEmail, filepath.Join(s.cfg.TenantDir, id+".db"), now)
	if err != nil {
		return nil, err
	}
	host := code + "." + s.cfg.BaseDomain
	primary, err := domain.NewTenantDomain(uuid.NewString(), id, host, true, now)
	if err != nil {
		return nil, err
	}

	username := strings.TrimSpace(req.AdminUsername)
	if username == "" {
		username = "admin-" + code
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.AdminPassword), s.cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash admin password: %w", err)
	}
	admin, err := domain.NewMasterUser(uuid.NewString(), username, req.AdminEmail, string(hash), id, now)
	if err != nil {
		return nil, err
	}

	// The store is provisioned first so a failure leaves nothing in the
	// master store and the code stays free.
	err = s.provisioner.Provision(ctx, t, func(ts ports.TenantSession) error {
		if err := ts.Add(domain.NewTenantUser(uuid.NewString(), admin.ID, admin.Username, admin.Email)); err != nil {
			return err
		}
		return ts.Commit(ctx)
	})
	if err != nil {
		s.log.Error().Err(err).Str("tenant_id", id).Msg("provision tenant store")
		s.discard(ctx, t)
		return nil, fmt.Errorf("provision tenant %s: %w", code, err)
	}

	err = s.master.WithMaster(ctx, func(ms ports.MasterSession) error {
		for _, e := range []domain.Entity{t, primary, admin} {
			if err := ms.Add(e); err != nil {
				return err
			}
		}
		return ms.Commit(ctx)
	})
	if err != nil {
		s.discard(ctx, t)
		return nil, fmt.Errorf("register tenant %s: %w", code, err)
	}

	s.log.Info().Str("tenant_id", id).Str("code", code).Str("host", host).Msg("tenant registered")
	return &Registration{Tenant: t, AdminUserID: admin.ID, PrimaryHost: host}, nil
}

func (s *LifecycleService) discard(ctx context.Context, t *domain.Tenant) {
	if err := s.provisioner.Discard(context.WithoutCancel(ctx), t); err != nil {
		s.log.Warn().Err(err).Str("tenant_id", t.ID).Msg("discard tenant store")
	}
}

// ConfirmPayment activates a tenant waiting for registration to complete.
func (s *LifecycleService) ConfirmPayment(ctx context.Context, tenantID, reference string) (*domain.Tenant, error) {
	var out *domain.Tenant
	err := s.master.WithMaster(ctx, func(ms ports.MasterSession) error {
		t, err := ms.Tenants().Get(ctx, tenantID)
		if err != nil {
			return err
		}
		changed, err := t.ConfirmPayment(reference, domain.OperationFrom(ctx).Now())
		if err != nil {
			return err
		}
		out = t
		if !changed {
			return nil
		}
		if err := ms.Update(t); err != nil {
			return err
		}
		return ms.Commit(ctx)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *LifecycleService) Suspend(ctx context.Context, tenantID, reason string) (*domain.Tenant, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, domain.Validationf("suspend reason is required")
	}
	return s.registry.Suspend(ctx, tenantID, reason)
}

func (s *LifecycleService) Reactivate(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	t, err := s.registry.Resolve(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if _, err := t.Reactivate(domain.OperationFrom(ctx).Now()); err != nil {
		return nil, err
	}
	return s.registry.Activate(ctx, tenantID)
}

// BindDomain attaches host to the tenant. A new primary demotes the old one.
func (s *LifecycleService) BindDomain(ctx context.Context, tenantID, host string, primary bool) (*domain.TenantDomain, error) {
	if _, err := s.registry.Resolve(ctx, tenantID); err != nil {
		return nil, err
	}
	now := domain.OperationFrom(ctx).Now()
	d, err := domain.NewTenantDomain(uuid.NewString(), tenantID, host, primary, now)
	if err != nil {
		return nil, err
	}

	err = s.master.WithMaster(ctx, func(ms ports.MasterSession) error {
		if _, err := ms.Domains().FindByHost(ctx, d.Host); err == nil {
			return fmt.Errorf("%w: host %s is already bound", domain.ErrConflict, d.Host)
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if primary {
			existing, err := ms.Domains().ListByTenant(ctx, tenantID)
			if err != nil {
				return err
			}
			for _, old := range existing {
				if !old.Primary {
					continue
				}
				old.Primary = false
				if err := ms.Update(old); err != nil {
					return err
				}
			}
		}
		if err := ms.Add(d); err != nil {
			return err
		}
		return ms.Commit(ctx)
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *LifecycleService) Get(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	return s.registry.Resolve(ctx, tenantID)
}

func (s *LifecycleService) List(ctx context.Context) ([]*domain.Tenant, error) {
	var out []*domain.Tenant
	err := s.master.WithMaster(ctx, func(ms ports.MasterSession) error {
		var err error
		out, err = ms.Tenants().List(ctx)
		return err
	})
	return out, err
}

func (s *LifecycleService) Domains(ctx context.Context, tenantID string) ([]*domain.TenantDomain, error) {
	var out []*domain.TenantDomain
	err := s.master.WithMaster(ctx, func(ms ports.MasterSession) error {
		var err error
		out, err = ms.Domains().ListByTenant(ctx, tenantID)
		return err
	})
	return out, err
}
