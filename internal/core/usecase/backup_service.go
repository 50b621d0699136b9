package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
	"github.com/atvirokodosprendimai/tenantdb/internal/core/ports"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type BackupService struct {
	registry  ports.TenantRegistry
	master    ports.MasterScope
	executor  ports.BackupExecutor
	evictor   ports.StoreEvictor
	validator *PayloadValidator
	retention time.Duration
	log       zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewBackupService(registry ports.TenantRegistry, master ports.MasterScope, executor ports.BackupExecutor, evictor ports.StoreEvictor, validator *PayloadValidator, retention time.Duration, log zerolog.Logger) *BackupService {
	return &BackupService{
		registry:  registry,
		master:    master,
		executor:  executor,
		evictor:   evictor,
		validator: validator,
		retention: retention,
		log:       log.With().Str("component", "backups").Logger(),
	}
}

// CreateFromJSON validates raw against the backup request schema first.
func (s *BackupService) CreateFromJSON(ctx context.Context, tenantID string, raw json.RawMessage) (*domain.TenantBackup, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	if err := s.validator.Validate(SchemaBackupRequest, raw); err != nil {
		return nil, err
	}
	var req domain.BackupRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, domain.Validationf("decode backup request: %v", err)
	}
	return s.Create(ctx, tenantID, req)
}

func (s *BackupService) Create(ctx context.Context, tenantID string, req domain.BackupRequest) (*domain.TenantBackup, error) {
	if _, err := s.registry.Resolve(ctx, tenantID); err != nil {
		return nil, err
	}
	b, err := domain.NewTenantBackup(uuid.NewString(), tenantID, req, domain.OperationFrom(ctx).Now())
	if err != nil {
		return nil, err
	}
	err = s.master.WithMaster(ctx, func(ms ports.MasterSession) error {
		if err := ms.Add(b); err != nil {
			return err
		}
		return ms.Commit(ctx)
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Run executes a requested backup. The in_progress state is committed before
// the copy starts; the outcome is committed after, even when ctx has been
// cancelled meanwhile, so a backup never stays in_progress.
func (s *BackupService) Run(ctx context.Context, backupID string) (*domain.TenantBackup, error) {
	var out *domain.TenantBackup
	err := s.master.WithMaster(ctx, func(ms ports.MasterSession) error {
		b, err := ms.Backups().Get(ctx, backupID)
		if err != nil {
			return err
		}
		t, err := s.registry.Resolve(ctx, b.TenantID)
		if err != nil {
			return err
		}
		if err := b.Start(domain.OperationFrom(ctx).Now()); err != nil {
			return err
		}
		if err := ms.Update(b); err != nil {
			return err
		}
		if err := ms.Commit(ctx); err != nil {
			return err
		}
		out = b

		art, runErr := s.executor.Backup(ctx, t, b)
		now := domain.OperationFrom(ctx).Now()
		if runErr != nil {
			if err := b.Fail(runErr.Error(), now); err != nil {
				return err
			}
			s.log.Error().Err(runErr).Str("backup_id", b.ID).Str("tenant_id", b.TenantID).Msg("backup failed")
		} else {
			if err := b.Complete(art.Location, art.SizeBytes, s.retention, now); err != nil {
				return err
			}
			s.log.Info().
				Str("backup_id", b.ID).
				Str("tenant_id", b.TenantID).
				Str("size", humanize.Bytes(uint64(art.SizeBytes))).
				Str("location", art.Location).
				Msg("backup completed")
		}
		if err := ms.Update(b); err != nil {
			return err
		}
		if err := ms.Commit(context.WithoutCancel(ctx)); err != nil {
			return err
		}
		if runErr != nil {
			return fmt.Errorf("run backup %s: %w", b.ID, runErr)
		}
		return nil
	})
	return out, err
}

// Delete soft-deletes a backup. Deleting an already deleted backup is a
// no-op.
func (s *BackupService) Delete(ctx context.Context, backupID string) (*domain.TenantBackup, error) {
	op := domain.OperationFrom(ctx)
	var out *domain.TenantBackup
	err := s.master.WithMaster(ctx, func(ms ports.MasterSession) error {
		b, err := ms.Backups().Get(ctx, backupID)
		if err != nil {
			return err
		}
		out = b
		changed, err := b.MarkDeleted(op.Principal, op.Now())
		if err != nil || !changed {
			return err
		}
		if err := ms.Update(b); err != nil {
			return err
		}
		return ms.Commit(ctx)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Restore replaces the tenant store with the backup artifact. The restore
// guard runs before any side effect.
func (s *BackupService) Restore(ctx context.Context, backupID, notes string) (*domain.TenantBackup, error) {
	var out *domain.TenantBackup
	err := s.master.WithMaster(ctx, func(ms ports.MasterSession) error {
		b, err := ms.Backups().Get(ctx, backupID)
		if err != nil {
			return err
		}
		if err := b.CanRestore(domain.OperationFrom(ctx).Now()); err != nil {
			return err
		}
		t, err := s.registry.Resolve(ctx, b.TenantID)
		if err != nil {
			return err
		}

		release, err := s.evictor.Detach(t.StorageLocator)
		if err != nil {
			return fmt.Errorf("detach tenant store: %w", err)
		}
		err = s.executor.Restore(ctx, t, b)
		release()
		if err != nil {
			return fmt.Errorf("restore backup %s: %w", b.ID, err)
		}
		if err := b.MarkRestored(notes, domain.OperationFrom(ctx).Now()); err != nil {
			return err
		}
		if err := ms.Update(b); err != nil {
			return err
		}
		if err := ms.Commit(ctx); err != nil {
			return err
		}
		out = b
		s.log.Info().Str("backup_id", b.ID).Str("tenant_id", b.TenantID).Int("restore_count", b.RestoreCount).Msg("backup restored")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ExpireDue clears the restorable flag on completed backups past retention
// and reports how many changed.
func (s *BackupService) ExpireDue(ctx context.Context) (int, error) {
	now := domain.OperationFrom(ctx).Now()
	n := 0
	err := s.master.WithMaster(ctx, func(ms ports.MasterSession) error {
		due, err := ms.Backups().ListExpired(ctx, now)
		if err != nil {
			return err
		}
		for _, b := range due {
			if !b.Expire(now) {
				continue
			}
			if err := ms.Update(b); err != nil {
				return err
			}
			n++
		}
		return ms.Commit(ctx)
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info().Int("expired", n).Msg("backups expired")
	}
	return n, nil
}

func (s *BackupService) Get(ctx context.Context, backupID string) (*domain.TenantBackup, error) {
	var out *domain.TenantBackup
	err := s.master.WithMaster(ctx, func(ms ports.MasterSession) error {
		var err error
		out, err = ms.Backups().Get(ctx, backupID)
		return err
	})
	return out, err
}

func (s *BackupService) List(ctx context.Context, tenantID string) ([]*domain.TenantBackup, error) {
	var out []*domain.TenantBackup
	err := s.master.WithMaster(ctx, func(ms ports.MasterSession) error {
		var err error
		out, err = ms.Backups().ListByTenant(ctx, tenantID)
		return err
	})
	return out, err
}

// StartExpiry runs ExpireDue every interval until Close.
func (s *BackupService) StartExpiry(parent context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			jobCtx := domain.WithOperation(ctx, domain.OperationContext{Principal: domain.PrincipalSystem, Source: "backup-expiry"})
			if _, err := s.ExpireDue(jobCtx); err != nil && ctx.Err() == nil {
				s.log.Error().Err(err).Msg("expire backups")
			}
		}
	}()
}

func (s *BackupService) Close() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	return nil
}
