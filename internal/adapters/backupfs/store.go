package backupfs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
	"github.com/atvirokodosprendimai/tenantdb/internal/core/ports"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

const (
	dbExt       = ".db"
	zstdExt     = ".db.zst"
	manifestExt = ".manifest.json"
)

var ErrEncryptionUnsupported = errors.New("backup encryption is not supported by the filesystem store")

// Store writes tenant database snapshots under root/<tenant id>/. A snapshot
// is taken with VACUUM INTO, so it is consistent without stopping writers.
type Store struct {
	root string
	log  zerolog.Logger
}

var _ ports.BackupExecutor = (*Store)(nil)

func NewStore(root string, log zerolog.Logger) *Store {
	return &Store{root: root, log: log.With().Str("component", "backupfs").Logger()}
}

// Manifest sits next to every artifact.
type Manifest struct {
	BackupID   string            `json:"backup_id"`
	TenantID   string            `json:"tenant_id"`
	TenantCode string            `json:"tenant_code"`
	Kind       domain.BackupKind `json:"kind"`
	Artifact   string            `json:"artifact"`
	Compressed bool              `json:"compressed"`
	SizeBytes  int64             `json:"size_bytes"`
	TakenAt    time.Time         `json:"taken_at"`
	// Tenant is the descriptor at snapshot time, kept when configuration
	// was requested.
	Tenant *domain.Tenant `json:"tenant,omitempty"`
}

func (s *Store) Backup(ctx context.Context, t *domain.Tenant, b *domain.TenantBackup) (ports.BackupArtifact, error) {
	if b.Encrypt {
		return ports.BackupArtifact{}, ErrEncryptionUnsupported
	}
	dir := filepath.Join(s.root, t.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ports.BackupArtifact{}, fmt.Errorf("create backup dir: %w", err)
	}

	snapshot := filepath.Join(dir, b.ID+dbExt)
	if err := vacuumInto(ctx, t.StorageLocator, snapshot); err != nil {
		return ports.BackupArtifact{}, err
	}
	artifact := snapshot
	if b.Compress {
		artifact = filepath.Join(dir, b.ID+zstdExt)
		if err := compressFile(snapshot, artifact); err != nil {
			_ = os.Remove(snapshot)
			return ports.BackupArtifact{}, err
		}
		if err := os.Remove(snapshot); err != nil {
			return ports.BackupArtifact{}, fmt.Errorf("remove raw snapshot: %w", err)
		}
	}

	info, err := os.Stat(artifact)
	if err != nil {
		return ports.BackupArtifact{}, fmt.Errorf("stat artifact: %w", err)
	}
	m := Manifest{
		BackupID:   b.ID,
		TenantID:   t.ID,
		TenantCode: t.Code,
		Kind:       b.Kind,
		Artifact:   filepath.Base(artifact),
		Compressed: b.Compress,
		SizeBytes:  info.Size(),
		TakenAt:    domain.OperationFrom(ctx).Now(),
	}
	if b.IncludeConfiguration {
		m.Tenant = t
	}
	if err := writeManifest(filepath.Join(dir, b.ID+manifestExt), m); err != nil {
		return ports.BackupArtifact{}, err
	}
	if b.IncludeFiles {
		s.log.Warn().Str("backup_id", b.ID).Msg("file backups are not stored by this store; database only")
	}
	return ports.BackupArtifact{Location: artifact, SizeBytes: info.Size()}, nil
}

// Restore replaces the tenant database with the artifact. Open handles on
// the tenant store must be closed by the caller first.
func (s *Store) Restore(ctx context.Context, t *domain.Tenant, b *domain.TenantBackup) error {
	if b.StorageLocation == "" {
		return fmt.Errorf("backup %s has no artifact", b.ID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tmp := t.StorageLocator + ".restore"
	var err error
	if strings.HasSuffix(b.StorageLocation, ".zst") {
		err = decompressFile(b.StorageLocation, tmp)
	} else {
		err = copyFile(b.StorageLocation, tmp)
	}
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(t.StorageLocator + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			_ = os.Remove(tmp)
			return fmt.Errorf("remove %s: %w", suffix, err)
		}
	}
	if err := os.Rename(tmp, t.StorageLocator); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("swap tenant database: %w", err)
	}
	s.log.Info().Str("tenant_id", t.ID).Str("backup_id", b.ID).Msg("tenant database restored")
	return nil
}

// ReadManifest loads the manifest written for backupID.
func (s *Store) ReadManifest(tenantID, backupID string) (Manifest, error) {
	var m Manifest
	raw, err := os.ReadFile(filepath.Join(s.root, tenantID, backupID+manifestExt))
	if err != nil {
		return m, err
	}
	return m, json.Unmarshal(raw, &m)
}

func vacuumInto(ctx context.Context, source, target string) error {
	if _, err := os.Stat(source); err != nil {
		return fmt.Errorf("%w: tenant database: %w", domain.ErrConnectionFailure, err)
	}
	_ = os.Remove(target)
	db, err := sql.Open("sqlite", "file:"+source+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return fmt.Errorf("open tenant database: %w", err)
	}
	defer db.Close()
	if _, err := db.ExecContext(ctx, "VACUUM INTO ?", target); err != nil {
		_ = os.Remove(target)
		return fmt.Errorf("vacuum into %s: %w", target, err)
	}
	return nil
}

func compressFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create artifact: %w", err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(dst)
		}
	}()

	enc, err := zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("create encoder: %w", err)
	}
	if _, err := io.Copy(enc, in); err != nil {
		_ = enc.Close()
		return fmt.Errorf("compress: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("flush encoder: %w", err)
	}
	return out.Sync()
}

func decompressFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer in.Close()
	dec, err := zstd.NewReader(in)
	if err != nil {
		return fmt.Errorf("create decoder: %w", err)
	}
	defer dec.Close()
	return writeFile(dst, dec)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer in.Close()
	return writeFile(dst, in)
}

func writeFile(dst string, r io.Reader) (err error) {
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if _, err := io.Copy(out, r); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return out.Sync()
}

func writeManifest(path string, m Manifest) error {
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}
