package domain

import (
	"strings"
	"time"
)

type BackupKind string

const (
	BackupFull         BackupKind = "full"
	BackupIncremental  BackupKind = "incremental"
	BackupDifferential BackupKind = "differential"
)

type BackupStatus string

const (
	BackupRequested  BackupStatus = "requested"
	BackupInProgress BackupStatus = "in_progress"
	BackupCompleted  BackupStatus = "completed"
	BackupFailed     BackupStatus = "failed"
)

const (
	EventBackupRequested = "backup.requested"
	EventBackupStarted   = "backup.started"
	EventBackupCompleted = "backup.completed"
	EventBackupFailed    = "backup.failed"
	EventBackupDeleted   = "backup.deleted"
	EventBackupRestored  = "backup.restored"
	EventBackupExpired   = "backup.expired"
)

type BackupRequest struct {
	Name                 string     `json:"name"`
	Kind                 BackupKind `json:"kind"`
	IncludeDatabase      bool       `json:"include_database"`
	IncludeFiles         bool       `json:"include_files"`
	IncludeConfiguration bool       `json:"include_configuration"`
	Compress             bool       `json:"compress"`
	Encrypt              bool       `json:"encrypt"`
	Protected            bool       `json:"protected"`
	Description          string     `json:"description"`
}

// TenantBackup is a point-in-time artifact of one tenant's storage, tracked
// in the master store.
type TenantBackup struct {
	ID                   string       `gorm:"column:id;primaryKey" json:"id"`
	TenantID             string       `gorm:"column:tenant_id" json:"tenant_id"`
	Name                 string       `gorm:"column:name" json:"name"`
	Kind                 BackupKind   `gorm:"column:kind" json:"kind"`
	Status               BackupStatus `gorm:"column:status" json:"status"`
	IncludeDatabase      bool         `gorm:"column:include_database" json:"include_database"`
	IncludeFiles         bool         `gorm:"column:include_files" json:"include_files"`
	IncludeConfiguration bool         `gorm:"column:include_configuration" json:"include_configuration"`
	Compress             bool         `gorm:"column:compress" json:"compress"`
	Encrypt              bool         `gorm:"column:encrypt" json:"encrypt"`
	Protected            bool         `gorm:"column:protected" json:"protected"`
	StartedAt            *time.Time   `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt          *time.Time   `gorm:"column:completed_at" json:"completed_at,omitempty"`
	SizeBytes            int64        `gorm:"column:size_bytes" json:"size_bytes"`
	StorageLocation      string       `gorm:"column:storage_location" json:"storage_location"`
	ExpiresAt            *time.Time   `gorm:"column:expires_at" json:"expires_at,omitempty"`
	IsRestorable         bool         `gorm:"column:is_restorable" json:"is_restorable"`
	Deleted              bool         `gorm:"column:deleted" json:"deleted"`
	DeletedAt            *time.Time   `gorm:"column:deleted_at" json:"deleted_at,omitempty"`
	DeletedBy            string       `gorm:"column:deleted_by" json:"deleted_by,omitempty"`
	RestoreCount         int          `gorm:"column:restore_count" json:"restore_count"`
	LastRestoredAt       *time.Time   `gorm:"column:last_restored_at" json:"last_restored_at,omitempty"`
	ErrorMessage         string       `gorm:"column:error_message" json:"error_message,omitempty"`
	Description          string       `gorm:"column:description" json:"description,omitempty"`
	Audit
	EventQueue `gorm:"-" json:"-"`
}

func (*TenantBackup) TableName() string  { return "tenant_backups" }
func (b *TenantBackup) EntityID() string { return b.ID }

func NewTenantBackup(id, tenantID string, req BackupRequest, at time.Time) (*TenantBackup, error) {
	if tenantID == "" {
		return nil, Validationf("tenant id is required")
	}
	kind := req.Kind
	if kind == "" {
		kind = BackupFull
	}
	switch kind {
	case BackupFull, BackupIncremental, BackupDifferential:
	default:
		return nil, Validationf("unknown backup kind %q", kind)
	}
	if !req.IncludeDatabase && !req.IncludeFiles && !req.IncludeConfiguration {
		req.IncludeDatabase = true
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "backup-" + at.UTC().Format("20060102-150405")
	}
	b := &TenantBackup{
		ID:                   id,
		TenantID:             tenantID,
		Name:                 name,
		Kind:                 kind,
		Status:               BackupRequested,
		IncludeDatabase:      req.IncludeDatabase,
		IncludeFiles:         req.IncludeFiles,
		IncludeConfiguration: req.IncludeConfiguration,
		Compress:             req.Compress,
		Encrypt:              req.Encrypt,
		Protected:            req.Protected,
		Description:          req.Description,
	}
	b.raise(EventBackupRequested, at, map[string]any{"name": name, "kind": kind})
	return b, nil
}

// Expired reports whether the retention window has passed at now.
func (b *TenantBackup) Expired(now time.Time) bool {
	return b.ExpiresAt != nil && !b.ExpiresAt.After(now)
}

// CanRestore is checked before any restore side effect. Expiry wins over
// every other reason.
func (b *TenantBackup) CanRestore(now time.Time) error {
	if b.Expired(now) {
		return guard(GuardExpired, "backup %s expired at %s", b.ID, b.ExpiresAt.UTC().Format(time.RFC3339))
	}
	if b.Deleted {
		return guard(GuardNotRestorable, "backup %s is deleted", b.ID)
	}
	if b.Status != BackupCompleted {
		return guard(GuardNotRestorable, "backup %s is %s", b.ID, b.Status)
	}
	if !b.IsRestorable {
		return guard(GuardNotRestorable, "backup %s is marked non-restorable", b.ID)
	}
	return nil
}

// CanDelete refuses running backups and protected backups that can still be
// restored.
func (b *TenantBackup) CanDelete(now time.Time) error {
	if b.Status == BackupInProgress {
		return guard(GuardCannotDelete, "backup %s is in progress", b.ID)
	}
	if b.Protected && b.IsRestorable && !b.Expired(now) {
		return guard(GuardCannotDelete, "backup %s is protected and still restorable", b.ID)
	}
	return nil
}

func (b *TenantBackup) Start(at time.Time) error {
	if b.Status != BackupRequested {
		return guard(GuardInvalidTransition, "backup %s is %s, expected %s", b.ID, b.Status, BackupRequested)
	}
	now := at.UTC()
	b.Status = BackupInProgress
	b.StartedAt = &now
	b.raise(EventBackupStarted, at, nil)
	return nil
}

func (b *TenantBackup) Complete(location string, size int64, retention time.Duration, at time.Time) error {
	if b.Status != BackupInProgress {
		return guard(GuardInvalidTransition, "backup %s is %s, expected %s", b.ID, b.Status, BackupInProgress)
	}
	now := at.UTC()
	b.Status = BackupCompleted
	b.CompletedAt = &now
	b.StorageLocation = location
	b.SizeBytes = size
	b.IsRestorable = true
	b.ErrorMessage = ""
	if retention > 0 {
		exp := now.Add(retention)
		b.ExpiresAt = &exp
	}
	b.raise(EventBackupCompleted, at, map[string]any{"size_bytes": size, "location": location})
	return nil
}

func (b *TenantBackup) Fail(reason string, at time.Time) error {
	if b.Status != BackupInProgress {
		return guard(GuardInvalidTransition, "backup %s is %s, expected %s", b.ID, b.Status, BackupInProgress)
	}
	b.Status = BackupFailed
	b.IsRestorable = false
	b.ErrorMessage = reason
	b.raise(EventBackupFailed, at, map[string]string{"error": reason})
	return nil
}

// MarkDeleted soft-deletes the backup. Deleting twice is a no-op.
func (b *TenantBackup) MarkDeleted(by string, at time.Time) (bool, error) {
	if b.Deleted {
		return false, nil
	}
	if err := b.CanDelete(at); err != nil {
		return false, err
	}
	now := at.UTC()
	b.Deleted = true
	b.DeletedAt = &now
	b.DeletedBy = by
	b.IsRestorable = false
	b.raise(EventBackupDeleted, at, nil)
	return true, nil
}

func (b *TenantBackup) MarkRestored(notes string, at time.Time) error {
	if err := b.CanRestore(at); err != nil {
		return err
	}
	now := at.UTC()
	b.RestoreCount++
	b.LastRestoredAt = &now
	b.raise(EventBackupRestored, at, map[string]any{"restore_count": b.RestoreCount, "notes": notes})
	return nil
}

// Expire clears the restorable flag of a completed backup past its
// retention window. Reports whether anything changed.
func (b *TenantBackup) Expire(now time.Time) bool {
	if b.Status != BackupCompleted || !b.IsRestorable || !b.Expired(now) {
		return false
	}
	b.IsRestorable = false
	b.raise(EventBackupExpired, now, nil)
	return true
}

func (b *TenantBackup) raise(eventType string, at time.Time, payload any) {
	e := NewEvent(eventType, "tenant_backup", b.ID, at, payload)
	e.TenantID = b.TenantID
	b.Raise(e)
}
