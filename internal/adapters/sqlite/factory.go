package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/atvirokodosprendimai/tenantdb/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
	"github.com/atvirokodosprendimai/tenantdb/internal/core/ports"
	"github.com/atvirokodosprendimai/tenantdb/migrations"
	"github.com/rs/zerolog"
)

// StoreOpener opens the sqlite handles for one storage locator.
type StoreOpener func(file string) (*gormsqlite.DB, error)

// ContextFactory hands out data contexts bound to one tenant's store. Only
// the underlying sqlite handles are cached; every data context is new.
type ContextFactory struct {
	registry ports.TenantRegistry
	master   *gormsqlite.DB
	pipeline *Pipeline
	open     StoreOpener
	log      zerolog.Logger

	mu       sync.Mutex
	stores   map[string]*gormsqlite.DB
	detached map[string]bool
}

var (
	_ ports.TenantScope       = (*ContextFactory)(nil)
	_ ports.MasterScope       = (*ContextFactory)(nil)
	_ ports.TenantProvisioner = (*ContextFactory)(nil)
	_ ports.StoreEvictor      = (*ContextFactory)(nil)
)

func NewContextFactory(registry ports.TenantRegistry, master *gormsqlite.DB, pipeline *Pipeline, open StoreOpener, log zerolog.Logger) *ContextFactory {
	if open == nil {
		open = func(file string) (*gormsqlite.DB, error) { return gormsqlite.Open(file) }
	}
	return &ContextFactory{
		registry: registry,
		master:   master,
		pipeline: pipeline,
		open:     open,
		log:      log.With().Str("component", "context_factory").Logger(),
		stores:   make(map[string]*gormsqlite.DB),
		detached: make(map[string]bool),
	}
}

// Open returns a data context bound to tenantID's storage. The tenant must
// be registered and active.
func (f *ContextFactory) Open(ctx context.Context, tenantID string) (*DataContext, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: no tenant bound to operation", domain.ErrUnknownTenant)
	}
	t, err := f.registry.Resolve(ctx, tenantID)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrUnknownTenant, tenantID)
		}
		return nil, fmt.Errorf("resolve tenant %s: %w", tenantID, err)
	}
	if !t.Active {
		return nil, fmt.Errorf("%w: %s is not active", domain.ErrUnknownTenant, tenantID)
	}

	db, err := f.store(ctx, t.StorageLocator, false)
	if err != nil {
		return nil, fmt.Errorf("%w: tenant %s: %w", domain.ErrConnectionFailure, tenantID, err)
	}
	return newDataContext(db, t.ID, f.pipeline), nil
}

// WithTenant opens a data context, runs fn and releases the context on
// every exit path.
func (f *ContextFactory) WithTenant(ctx context.Context, tenantID string, fn func(ports.TenantSession) error) error {
	dc, err := f.Open(ctx, tenantID)
	if err != nil {
		return err
	}
	defer dc.Release()
	return fn(&TenantSession{DataContext: dc})
}

func (f *ContextFactory) OpenMaster() *DataContext {
	return newDataContext(f.master, "", f.pipeline)
}

func (f *ContextFactory) WithMaster(ctx context.Context, fn func(ports.MasterSession) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dc := f.OpenMaster()
	defer dc.Release()
	return fn(&MasterSession{DataContext: dc})
}

// Provision creates and migrates the store of a tenant that may not be
// active yet, then runs fn against it.
func (f *ContextFactory) Provision(ctx context.Context, t *domain.Tenant, fn func(ports.TenantSession) error) error {
	if t.StorageLocator == "" {
		return domain.Validationf("tenant %s has no storage locator", t.ID)
	}
	if err := os.MkdirAll(filepath.Dir(t.StorageLocator), 0o755); err != nil {
		return fmt.Errorf("%w: create tenant dir: %w", domain.ErrConnectionFailure, err)
	}
	db, err := f.store(ctx, t.StorageLocator, true)
	if err != nil {
		return fmt.Errorf("%w: provision tenant %s: %w", domain.ErrConnectionFailure, t.ID, err)
	}
	if err := MigrateTenant(ctx, db); err != nil {
		return err
	}
	if fn == nil {
		return nil
	}
	dc := newDataContext(db, t.ID, f.pipeline)
	defer dc.Release()
	return fn(&TenantSession{DataContext: dc})
}

// Discard closes and deletes the store of a tenant whose registration was
// abandoned. A store that was never created is not an error.
func (f *ContextFactory) Discard(_ context.Context, t *domain.Tenant) error {
	if t.StorageLocator == "" {
		return nil
	}
	if err := f.Evict(t.StorageLocator); err != nil {
		f.log.Warn().Err(err).Str("locator", t.StorageLocator).Msg("close discarded store")
	}
	var errs []error
	for _, p := range []string{t.StorageLocator, t.StorageLocator + "-wal", t.StorageLocator + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Evict closes the cached handles for locator. The next Open reopens them.
func (f *ContextFactory) Evict(locator string) error {
	f.mu.Lock()
	db, ok := f.stores[locator]
	delete(f.stores, locator)
	f.mu.Unlock()
	if !ok {
		return nil
	}
	return db.Close()
}

// Close closes every cached tenant store. The master store is owned by the
// caller.
func (f *ContextFactory) Close() error {
	f.mu.Lock()
	stores := f.stores
	f.stores = make(map[string]*gormsqlite.DB)
	f.mu.Unlock()

	var errs []error
	for locator, db := range stores {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", locator, err))
		}
	}
	return errors.Join(errs...)
}

var errDetached = errors.New("store is detached for restore")

// Detach evicts locator and makes every open of it fail until release runs.
// Only one detach per locator may be held at a time.
func (f *ContextFactory) Detach(locator string) (func(), error) {
	f.mu.Lock()
	if f.detached[locator] {
		f.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", domain.ErrConflict, errDetached)
	}
	f.detached[locator] = true
	db := f.stores[locator]
	delete(f.stores, locator)
	f.mu.Unlock()

	release := func() {
		f.mu.Lock()
		delete(f.detached, locator)
		f.mu.Unlock()
	}
	if db != nil {
		if err := db.Close(); err != nil {
			release()
			return nil, fmt.Errorf("close %s: %w", locator, err)
		}
	}
	return release, nil
}

// store returns the cached handle for locator or opens one. Opening happens
// outside the lock; when two callers race, the first cached handle wins.
func (f *ContextFactory) store(ctx context.Context, locator string, create bool) (*gormsqlite.DB, error) {
	f.mu.Lock()
	if f.detached[locator] {
		f.mu.Unlock()
		return nil, errDetached
	}
	if db, ok := f.stores[locator]; ok {
		f.mu.Unlock()
		return db, nil
	}
	f.mu.Unlock()

	if !create {
		if _, err := os.Stat(locator); err != nil {
			return nil, err
		}
	}
	db, err := f.open(locator)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.detached[locator] {
		_ = db.Close()
		return nil, errDetached
	}
	if cached, ok := f.stores[locator]; ok {
		_ = db.Close()
		return cached, nil
	}
	f.stores[locator] = db
	f.log.Debug().Str("locator", locator).Int("cached", len(f.stores)).Msg("opened tenant store")
	return db, nil
}

func MigrateMaster(ctx context.Context, db *gormsqlite.DB) error {
	wdb, err := db.WriteSQLDB()
	if err != nil {
		return fmt.Errorf("master sql db: %w", err)
	}
	return migrations.UpMaster(ctx, wdb)
}

func MigrateTenant(ctx context.Context, db *gormsqlite.DB) error {
	wdb, err := db.WriteSQLDB()
	if err != nil {
		return fmt.Errorf("tenant sql db: %w", err)
	}
	return migrations.UpTenant(ctx, wdb)
}
