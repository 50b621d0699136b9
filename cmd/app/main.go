package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atvirokodosprendimai/tenantdb/internal/app"
	"github.com/atvirokodosprendimai/tenantdb/internal/config"
	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
	"github.com/atvirokodosprendimai/tenantdb/internal/logging"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:  "tenantdb",
		Usage: "Tenant-scoped SQLite persistence service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Sources: cli.EnvVars("TENANTDB_CONFIG"),
				Usage:   "YAML config file; environment only when unset",
			},
			&cli.StringFlag{
				Name:  "addr",
				Usage: "HTTP listen address (overrides config)",
			},
			&cli.StringFlag{
				Name:  "data-dir",
				Usage: "Directory holding master, tenant and backup stores (overrides config)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (overrides config)",
			},
		},
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API with the outbox and backup expiry loops",
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "Migrate the master store and every registered tenant store",
				Action: migrate,
			},
			{
				Name:   "expire-backups",
				Usage:  "Mark backups past their expiry date as expired",
				Action: expireBackups,
			},
			{
				Name:      "register-tenant",
				Usage:     "Register a tenant from a JSON registration document",
				ArgsUsage: "[file|-]",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "activate", Usage: "Confirm payment right away"},
				},
				Action: registerTenant,
			},
			{
				Name:  "issue-token",
				Usage: "Sign a bearer token",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "subject", Required: true},
					&cli.StringFlag{Name: "tenant", Usage: "Tenant code; operator token when empty"},
				},
				Action: issueToken,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func load(c *cli.Command) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if v := c.String("addr"); v != "" {
		cfg.Server.Addr = v
	}
	if v := c.String("data-dir"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := c.String("log-level"); v != "" {
		cfg.Log.Level = v
	}
	return cfg, logging.Setup(cfg.Log.Level, cfg.Log.Format), nil
}

func open(ctx context.Context, c *cli.Command) (*app.App, zerolog.Logger, error) {
	cfg, log, err := load(c)
	if err != nil {
		return nil, log, err
	}
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return nil, log, fmt.Errorf("create app: %w", err)
	}
	return a, log, nil
}

func systemCtx(ctx context.Context, source string) context.Context {
	return domain.WithOperation(ctx, domain.OperationContext{Principal: domain.PrincipalSystem, Source: source})
}

func serve(ctx context.Context, c *cli.Command) error {
	cfg, log, err := load(c)
	if err != nil {
		return err
	}
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("create app: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			log.Error().Err(closeErr).Msg("close resources")
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.Start(ctx)
	server := a.HTTPServer()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func migrate(ctx context.Context, c *cli.Command) error {
	a, log, err := open(ctx, c)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.MigrateTenants(systemCtx(ctx, "migrate"))
	if err != nil {
		return err
	}
	log.Info().Int("tenants", n).Msg("migrations applied")
	return nil
}

func expireBackups(ctx context.Context, c *cli.Command) error {
	a, log, err := open(ctx, c)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.Backups.ExpireDue(systemCtx(ctx, "expire-backups"))
	if err != nil {
		return err
	}
	log.Info().Int("expired", n).Msg("backups expired")
	return nil
}

func registerTenant(ctx context.Context, c *cli.Command) error {
	var (
		raw []byte
		err error
	)
	switch path := c.Args().First(); path {
	case "", "-":
		raw, err = io.ReadAll(os.Stdin)
	default:
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("read registration: %w", err)
	}

	a, _, err := open(ctx, c)
	if err != nil {
		return err
	}
	defer a.Close()

	opCtx := systemCtx(ctx, "cli")
	reg, err := a.Lifecycle.Register(opCtx, raw)
	if err != nil {
		return err
	}
	if c.Bool("activate") {
		t, err := a.Lifecycle.ConfirmPayment(opCtx, reg.Tenant.ID, "cli-"+time.Now().UTC().Format("20060102T150405Z"))
		if err != nil {
			return err
		}
		reg.Tenant = t
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(reg)
}

func issueToken(ctx context.Context, c *cli.Command) error {
	a, _, err := open(ctx, c)
	if err != nil {
		return err
	}
	defer a.Close()

	token, err := a.IssueToken(ctx, c.String("subject"), c.String("tenant"))
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
