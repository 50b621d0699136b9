package ports

import (
	"context"
	"time"

	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
)

// TenantRegistry is the authoritative map from tenant id to storage.
type TenantRegistry interface {
	Resolve(ctx context.Context, tenantID string) (*domain.Tenant, error)
	ResolveCode(ctx context.Context, code string) (*domain.Tenant, error)
	ResolveHost(ctx context.Context, host string) (*domain.Tenant, error)
	// ListActive returns the ids of tenants active at call time, in no
	// particular order.
	ListActive(ctx context.Context) ([]string, error)
	Register(ctx context.Context, t *domain.Tenant) error
	Activate(ctx context.Context, tenantID string) (*domain.Tenant, error)
	Suspend(ctx context.Context, tenantID, reason string) (*domain.Tenant, error)
}

// UnitOfWork collects changes and persists them through the write pipeline.
type UnitOfWork interface {
	Add(e domain.Entity) error
	Update(e domain.Entity) error
	Remove(e domain.Entity) error
	Commit(ctx context.Context) error
}

type TenantSession interface {
	UnitOfWork
	TenantID() string
	Users() TenantUserReader
	Records() RecordReader
}

type MasterSession interface {
	UnitOfWork
	Tenants() TenantReader
	Users() MasterUserReader
	Backups() BackupReader
	Domains() DomainReader
}

// TenantScope runs fn against one active tenant's storage and releases the
// session on every exit path.
type TenantScope interface {
	WithTenant(ctx context.Context, tenantID string, fn func(TenantSession) error) error
}

type MasterScope interface {
	WithMaster(ctx context.Context, fn func(MasterSession) error) error
}

// TenantProvisioner creates and migrates the storage of a tenant that is not
// active yet and runs fn against it to seed initial data. Discard removes a
// store whose registration did not complete.
type TenantProvisioner interface {
	Provision(ctx context.Context, t *domain.Tenant, fn func(TenantSession) error) error
	Discard(ctx context.Context, t *domain.Tenant) error
}

type TenantUserReader interface {
	FindByResetToken(ctx context.Context, tokens []string) (*domain.TenantUser, error)
	FindByEmail(ctx context.Context, email string) (*domain.TenantUser, error)
	FindByMasterUserID(ctx context.Context, masterUserID string) (*domain.TenantUser, error)
}

type RecordReader interface {
	Get(ctx context.Context, collection, id string) (*domain.Record, error)
	List(ctx context.Context, filter domain.RecordFilter) ([]*domain.Record, error)
}

type TenantReader interface {
	Get(ctx context.Context, tenantID string) (*domain.Tenant, error)
	FindByCode(ctx context.Context, code string) (*domain.Tenant, error)
	List(ctx context.Context) ([]*domain.Tenant, error)
}

type MasterUserReader interface {
	Get(ctx context.Context, id string) (*domain.MasterUser, error)
	FindByResetToken(ctx context.Context, tokens []string) (*domain.MasterUser, error)
	FindByEmail(ctx context.Context, email string) (*domain.MasterUser, error)
	FindByUsername(ctx context.Context, username string) (*domain.MasterUser, error)
}

type BackupReader interface {
	Get(ctx context.Context, id string) (*domain.TenantBackup, error)
	ListByTenant(ctx context.Context, tenantID string) ([]*domain.TenantBackup, error)
	// ListExpired returns completed, still restorable backups whose
	// retention ended at or before now.
	ListExpired(ctx context.Context, now time.Time) ([]*domain.TenantBackup, error)
}

type DomainReader interface {
	FindByHost(ctx context.Context, host string) (*domain.TenantDomain, error)
	ListByTenant(ctx context.Context, tenantID string) ([]*domain.TenantDomain, error)
}
