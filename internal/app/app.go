package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/atvirokodosprendimai/tenantdb/internal/adapters/auth"
	"github.com/atvirokodosprendimai/tenantdb/internal/adapters/backupfs"
	"github.com/atvirokodosprendimai/tenantdb/internal/adapters/events"
	"github.com/atvirokodosprendimai/tenantdb/internal/adapters/httpapi"
	sqliteadapter "github.com/atvirokodosprendimai/tenantdb/internal/adapters/sqlite"
	"github.com/atvirokodosprendimai/tenantdb/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/tenantdb/internal/config"
	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
	"github.com/atvirokodosprendimai/tenantdb/internal/core/ports"
	"github.com/atvirokodosprendimai/tenantdb/internal/core/usecase"
	"github.com/atvirokodosprendimai/tenantdb/internal/metrics"
	"github.com/rs/zerolog"
)

type resourceCloser struct {
	closers []io.Closer
}

func (r resourceCloser) Close() error {
	var errs []error
	for _, c := range r.closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// App owns every long-lived component. Closing it stops the background
// loops before the stores they write to.
type App struct {
	cfg *config.Config
	log zerolog.Logger

	Metrics  *metrics.Metrics
	master   *gormsqlite.DB
	factory  *sqliteadapter.ContextFactory
	registry *sqliteadapter.Registry
	outbox   *usecase.OutboxDispatcher
	notifier *events.ResetNotifier

	Lifecycle *usecase.LifecycleService
	Backups   *usecase.BackupService
	Resets    *usecase.PasswordResetService
	Records   *usecase.RecordService
	Auth      *usecase.AuthService
	Resolver  *usecase.TenantResolver
	tokens    *auth.JWTIssuer

	closer resourceCloser
}

func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	m := metrics.New()
	dbOpts := []gormsqlite.Option{
		gormsqlite.WithLogger(log),
		gormsqlite.WithObserver(m),
		gormsqlite.WithSlowThreshold(cfg.Storage.SlowThreshold),
	}

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	master, err := gormsqlite.Open(cfg.Storage.MasterPath(), dbOpts...)
	if err != nil {
		return nil, fmt.Errorf("open master store: %w", err)
	}

	migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := sqliteadapter.MigrateMaster(migrateCtx, master); err != nil {
		_ = master.Close()
		return nil, fmt.Errorf("migrate master store: %w", err)
	}

	var publisher ports.EventPublisher = events.NewLogPublisher(log)
	if cfg.Events.WebhookURL != "" {
		publisher = events.FanOut{
			publisher,
			events.NewWebhookPublisher(cfg.Events.WebhookURL, cfg.Events.WebhookSecret, cfg.Events.WebhookTimeout),
		}
	}

	outbox := usecase.NewOutboxDispatcher(
		sqliteadapter.NewOutboxRepository(master),
		publisher,
		cfg.Events.OutboxInterval,
		cfg.Events.OutboxBatch,
		usecase.WithOutboxLogger(log),
		usecase.WithOutboxObserver(m),
		usecase.WithEventSource(cfg.Events.Source),
	)
	pipeline := sqliteadapter.NewPipeline(outbox, log, sqliteadapter.WithPipelineObserver(m))
	registry := sqliteadapter.NewRegistry(master, pipeline)
	factory := sqliteadapter.NewContextFactory(registry, master, pipeline, func(file string) (*gormsqlite.DB, error) {
		return gormsqlite.Open(file, dbOpts...)
	}, log)

	validator := usecase.NewPayloadValidator()
	search := usecase.SearchOptions{
		Concurrency: cfg.Tenancy.SearchConcurrency,
		Observer:    m,
		Log:         log,
	}

	a := &App{
		cfg:      cfg,
		log:      log,
		Metrics:  m,
		master:   master,
		factory:  factory,
		registry: registry,
		outbox:   outbox,
		notifier: events.NewResetNotifier(publisher, cfg.Events.Source),
		Lifecycle: usecase.NewLifecycleService(registry, factory, factory, validator, usecase.LifecycleConfig{
			TenantDir:  cfg.Storage.TenantPath(),
			BaseDomain: cfg.Tenancy.BaseDomain,
			BcryptCost: cfg.Tenancy.BcryptCost,
		}, log),
		Backups: usecase.NewBackupService(registry, factory, backupfs.NewStore(cfg.Storage.BackupPath(), log),
			factory, validator, cfg.Backups.Retention, log),
		Resets: usecase.NewPasswordResetService(registry, factory, factory, usecase.PasswordResetConfig{
			TokenTTL:   cfg.Tenancy.ResetTokenTTL,
			BcryptCost: cfg.Tenancy.BcryptCost,
		}, search),
		Records:  usecase.NewRecordService(factory),
		Auth:     usecase.NewAuthService(sqliteadapter.NewAPIKeyRepository(master)),
		Resolver: usecase.NewTenantResolver(registry),
	}
	// Order matters: loops stop before the stores close.
	a.closer = resourceCloser{closers: []io.Closer{outbox, a.Backups, factory, master}}

	if cfg.Auth.JWTSecret != "" {
		a.tokens, err = auth.NewJWTIssuer(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.JWTTTL)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
	}

	if cfg.Auth.BootstrapAPIKey != "" {
		bootCtx := domain.WithOperation(ctx, domain.OperationContext{Principal: domain.PrincipalSystem, Source: "bootstrap"})
		if err := a.Auth.Ensure(bootCtx, cfg.Auth.BootstrapAPIKey, cfg.Auth.BootstrapKeyName, ""); err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("bootstrap api key: %w", err)
		}
	}

	return a, nil
}

// Start launches the outbox publisher and the backup expiry loop.
func (a *App) Start(ctx context.Context) {
	a.outbox.Start(ctx)
	a.Backups.StartExpiry(ctx, a.cfg.Backups.ExpiryInterval)
}

func (a *App) Handler() http.Handler {
	svc := httpapi.Services{
		Lifecycle: a.Lifecycle,
		Backups:   a.Backups,
		Resets:    a.Resets,
		Records:   a.Records,
		Auth:      a.Auth,
		Resolver:  a.Resolver,
		Metrics:   a.Metrics.Handler(),
		Notifier:  a.notifier,
	}
	if a.tokens != nil {
		svc.Tokens = a.tokens
	}
	return httpapi.NewHandler(svc, a.log).Router()
}

func (a *App) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: a.cfg.Server.ReadHeaderTimeout,
	}
}

// MigrateTenants brings every registered tenant store, whatever its
// lifecycle state, to the latest tenant schema.
func (a *App) MigrateTenants(ctx context.Context) (int, error) {
	tenants, err := a.Lifecycle.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, t := range tenants {
		if err := a.factory.Provision(ctx, t, nil); err != nil {
			return n, fmt.Errorf("migrate tenant %s: %w", t.Code, err)
		}
		n++
	}
	return n, nil
}

// IssueToken signs a bearer token for subject. A non-empty tenantCode binds
// the token to that tenant; an empty one yields an operator token.
func (a *App) IssueToken(ctx context.Context, subject, tenantCode string) (string, error) {
	if a.tokens == nil {
		return "", domain.Validationf("bearer tokens are disabled: no jwt secret configured")
	}
	tenantID := ""
	if tenantCode != "" {
		t, err := a.registry.ResolveCode(ctx, tenantCode)
		if err != nil {
			return "", fmt.Errorf("resolve tenant %s: %w", tenantCode, err)
		}
		tenantID = t.ID
	}
	return a.tokens.Issue(subject, tenantID)
}

func (a *App) Close() error {
	return a.closer.Close()
}
