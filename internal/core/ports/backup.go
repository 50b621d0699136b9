package ports

import (
	"context"

	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
)

type BackupArtifact struct {
	Location  string
	SizeBytes int64
}

// BackupExecutor copies tenant storage to and from a backup target.
type BackupExecutor interface {
	Backup(ctx context.Context, t *domain.Tenant, b *domain.TenantBackup) (BackupArtifact, error)
	Restore(ctx context.Context, t *domain.Tenant, b *domain.TenantBackup) error
}

// StoreEvictor drops cached handles to a storage locator. Detach also keeps
// the locator closed to new opens until release is called.
type StoreEvictor interface {
	Evict(locator string) error
	Detach(locator string) (release func(), err error)
}
