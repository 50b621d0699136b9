package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
	"github.com/atvirokodosprendimai/tenantdb/internal/core/ports"
	"gorm.io/gorm"
)

// TenantSession exposes a tenant data context through the ports.
type TenantSession struct {
	*DataContext
}

var _ ports.TenantSession = (*TenantSession)(nil)

func (s *TenantSession) Users() ports.TenantUserReader { return tenantUsers{s.DataContext} }

func (s *TenantSession) Records() ports.RecordReader { return records{s.DataContext} }

// MasterSession exposes the master data context through the ports.
type MasterSession struct {
	*DataContext
}

var _ ports.MasterSession = (*MasterSession)(nil)

func (s *MasterSession) Tenants() ports.TenantReader { return tenants{s.DataContext} }

func (s *MasterSession) Users() ports.MasterUserReader { return masterUsers{s.DataContext} }

func (s *MasterSession) Backups() ports.BackupReader { return backups{s.DataContext} }

func (s *MasterSession) Domains() ports.DomainReader { return domains{s.DataContext} }

type tenantUsers struct{ dc *DataContext }

func (r tenantUsers) FindByResetToken(ctx context.Context, tokens []string) (*domain.TenantUser, error) {
	if len(tokens) == 0 {
		return nil, domain.ErrNotFound
	}
	var u domain.TenantUser
	if err := r.dc.first(ctx, &u, "password_reset_token IN ? AND password_reset_token <> ''", tokens); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r tenantUsers) FindByEmail(ctx context.Context, email string) (*domain.TenantUser, error) {
	var u domain.TenantUser
	if err := r.dc.first(ctx, &u, "email = ?", domain.NormalizeEmail(email)); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r tenantUsers) FindByMasterUserID(ctx context.Context, masterUserID string) (*domain.TenantUser, error) {
	var u domain.TenantUser
	if err := r.dc.first(ctx, &u, "master_user_id = ?", masterUserID); err != nil {
		return nil, err
	}
	return &u, nil
}

type records struct{ dc *DataContext }

func (r records) Get(ctx context.Context, collection, id string) (*domain.Record, error) {
	var rec domain.Record
	if err := r.dc.first(ctx, &rec, "id = ?", domain.RecordKey(collection, id)); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r records) List(ctx context.Context, filter domain.RecordFilter) ([]*domain.Record, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var rows []*domain.Record
	err := r.dc.Read(ctx, func(tx *gorm.DB) error {
		q := tx.Where("collection = ?", filter.Collection)
		if filter.Prefix != "" {
			q = q.Where("record_id LIKE ? ESCAPE '\\'", escapeLike(filter.Prefix)+"%")
		}
		if filter.AfterID != "" {
			q = q.Where("record_id > ?", filter.AfterID)
		}
		return q.Order("record_id ASC").Limit(limit).Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return rows, nil
}

type tenants struct{ dc *DataContext }

func (r tenants) Get(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	var t domain.Tenant
	if err := r.dc.first(ctx, &t, "id = ?", tenantID); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r tenants) FindByCode(ctx context.Context, code string) (*domain.Tenant, error) {
	var t domain.Tenant
	if err := r.dc.first(ctx, &t, "code = ?", domain.NormalizeTenantCode(code)); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r tenants) List(ctx context.Context) ([]*domain.Tenant, error) {
	var rows []*domain.Tenant
	err := r.dc.Read(ctx, func(tx *gorm.DB) error {
		return tx.Order("code ASC").Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	return rows, nil
}

type masterUsers struct{ dc *DataContext }

func (r masterUsers) Get(ctx context.Context, id string) (*domain.MasterUser, error) {
	var u domain.MasterUser
	if err := r.dc.first(ctx, &u, "id = ?", id); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r masterUsers) FindByResetToken(ctx context.Context, tokens []string) (*domain.MasterUser, error) {
	if len(tokens) == 0 {
		return nil, domain.ErrNotFound
	}
	var u domain.MasterUser
	if err := r.dc.first(ctx, &u, "password_reset_token IN ? AND password_reset_token <> ''", tokens); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r masterUsers) FindByEmail(ctx context.Context, email string) (*domain.MasterUser, error) {
	var u domain.MasterUser
	if err := r.dc.first(ctx, &u, "email = ?", domain.NormalizeEmail(email)); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r masterUsers) FindByUsername(ctx context.Context, username string) (*domain.MasterUser, error) {
	var u domain.MasterUser
	if err := r.dc.first(ctx, &u, "username = ?", username); err != nil {
		return nil, err
	}
	return &u, nil
}

type backups struct{ dc *DataContext }

func (r backups) Get(ctx context.Context, id string) (*domain.TenantBackup, error) {
	var b domain.TenantBackup
	if err := r.dc.first(ctx, &b, "id = ?", id); err != nil {
		return nil, err
	}
	return &b, nil
}

func (r backups) ListByTenant(ctx context.Context, tenantID string) ([]*domain.TenantBackup, error) {
	var rows []*domain.TenantBackup
	err := r.dc.Read(ctx, func(tx *gorm.DB) error {
		return tx.Where("tenant_id = ?", tenantID).Order("created_at DESC").Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	return rows, nil
}

func (r backups) ListExpired(ctx context.Context, now time.Time) ([]*domain.TenantBackup, error) {
	var rows []*domain.TenantBackup
	err := r.dc.Read(ctx, func(tx *gorm.DB) error {
		return tx.Where("status = ? AND is_restorable = ? AND expires_at IS NOT NULL AND expires_at <= ?",
			domain.BackupCompleted, true, now.UTC()).
			Order("expires_at ASC").
			Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list expired backups: %w", err)
	}
	return rows, nil
}

type domains struct{ dc *DataContext }

func (r domains) FindByHost(ctx context.Context, host string) (*domain.TenantDomain, error) {
	var d domain.TenantDomain
	if err := r.dc.first(ctx, &d, "host = ?", domain.NormalizeHost(host)); err != nil {
		return nil, err
	}
	return &d, nil
}

func (r domains) ListByTenant(ctx context.Context, tenantID string) ([]*domain.TenantDomain, error) {
	var rows []*domain.TenantDomain
	err := r.dc.Read(ctx, func(tx *gorm.DB) error {
		return tx.Where("tenant_id = ?", tenantID).Order("is_primary DESC, host ASC").Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list domains: %w", err)
	}
	return rows, nil
}

func escapeLike(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '%' || r == '_' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
