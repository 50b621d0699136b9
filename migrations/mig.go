package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"
)

//go:embed files/master/*.sql files/tenant/*.sql
var migrationFS embed.FS

// goose keeps its base FS and dialect in package globals.
var mu sync.Mutex

// UpMaster migrates the shared master store.
func UpMaster(ctx context.Context, db *sql.DB) error {
	return up(ctx, db, "files/master")
}

// UpTenant migrates one tenant store.
func UpTenant(ctx context.Context, db *sql.DB) error {
	return up(ctx, db, "files/tenant")
}

func up(ctx context.Context, db *sql.DB, dir string) error {
	mu.Lock()
	defer mu.Unlock()

	goose.SetBaseFS(migrationFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, dir); err != nil {
		return fmt.Errorf("run migrations %s: %w", dir, err)
	}
	return nil
}
