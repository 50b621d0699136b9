package gormsqlite

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"
	gormdriver "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

type DB struct {
	R *gorm.DB
	W *gorm.DB

	file string
}

type Tx struct {
	*gorm.DB
}

type cbfn func(tx *Tx) error

func (db *DB) ReadTX(ctx context.Context, fn cbfn) error {
	return db.R.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Tx{DB: tx})
	}, &sql.TxOptions{ReadOnly: true})
}

func (db *DB) WriteTX(ctx context.Context, fn cbfn) error {
	return db.W.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Tx{DB: tx})
	})
}

func (db *DB) WriteSQLDB() (*sql.DB, error) {
	return db.W.DB()
}

// File is the database path the handles were opened on.
func (db *DB) File() string {
	return db.file
}

// Ping checks both pools.
func (db *DB) Ping(ctx context.Context) error {
	for _, g := range []*gorm.DB{db.R, db.W} {
		sqlDB, err := g.DB()
		if err != nil {
			return err
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) Close() error {
	var firstErr error
	closeOne := func(g *gorm.DB) {
		if err := closeGORM(g); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	closeOne(db.R)
	closeOne(db.W)
	return firstErr
}

var _ io.Closer = (*DB)(nil)

type options struct {
	slowThreshold time.Duration
	log           zerolog.Logger
	observer      StatementObserver
}

type Option func(*options)

// WithSlowThreshold sets the duration above which a statement is reported.
func WithSlowThreshold(d time.Duration) Option {
	return func(o *options) { o.slowThreshold = d }
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

func WithObserver(obs StatementObserver) Option {
	return func(o *options) { o.observer = obs }
}

func Open(file string, opts ...Option) (*DB, error) {
	o := options{
		slowThreshold: 500 * time.Millisecond,
		log:           zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	// statements are reported by the SlowLog plugin; gorm's logger stays quiet
	newLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             o.slowThreshold,
			LogLevel:                  logger.Silent,
			IgnoreRecordNotFoundError: true,
			ParameterizedQueries:      true,
			Colorful:                  false,
		},
	)
	cfg := func() *gorm.Config {
		return &gorm.Config{
			PrepareStmt: true,
			Logger:      newLogger,
			NowFunc:     func() time.Time { return time.Now().UTC() },
		}
	}

	reader, err := gorm.Open(gormdriver.Dialector{DriverName: "sqlite", DSN: buildDSN(file, true)}, cfg())
	if err != nil {
		return nil, fmt.Errorf("open read db: %w", err)
	}

	writer, err := gorm.Open(gormdriver.Dialector{DriverName: "sqlite", DSN: buildDSN(file, false)}, cfg())
	if err != nil {
		_ = closeGORM(reader)
		return nil, fmt.Errorf("open write db: %w", err)
	}

	fail := func(step string, err error) (*DB, error) {
		_ = closeGORM(reader)
		_ = closeGORM(writer)
		return nil, fmt.Errorf("%s: %w", step, err)
	}

	rdb, err := reader.DB()
	if err != nil {
		return fail("reader sql db", err)
	}
	wdb, err := writer.DB()
	if err != nil {
		return fail("writer sql db", err)
	}

	rdb.SetMaxOpenConns(runtime.NumCPU())
	rdb.SetMaxIdleConns(runtime.NumCPU())
	rdb.SetConnMaxLifetime(0)
	rdb.SetConnMaxIdleTime(0)

	wdb.SetMaxOpenConns(1)
	wdb.SetMaxIdleConns(1)
	wdb.SetConnMaxLifetime(0)
	wdb.SetConnMaxIdleTime(0)

	slow := NewSlowLog(o.slowThreshold, o.log.With().Str("db", file).Logger(), o.observer)
	if err := reader.Use(slow); err != nil {
		return fail("reader slowlog", err)
	}
	if err := writer.Use(slow); err != nil {
		return fail("writer slowlog", err)
	}

	return &DB{R: reader, W: writer, file: file}, nil
}

// buildDSN carries the pragmas on the DSN so every pooled connection gets
// them, not only the first one.
func buildDSN(file string, readOnly bool) string {
	pragmas := []string{
		"journal_mode(WAL)",
		"synchronous(NORMAL)",
		"temp_store(MEMORY)",
		"wal_autocheckpoint(1000)",
		"cache_size(-20000)",
		"mmap_size(268435456)",
		"foreign_keys(1)",
		"busy_timeout(5000)",
		"trusted_schema(OFF)",
	}
	if readOnly {
		pragmas = append(pragmas, "query_only(1)")
	} else {
		pragmas = append(pragmas, "query_only(0)")
	}

	params := make([]string, 0, len(pragmas)+2)
	for _, p := range pragmas {
		params = append(params, "_pragma="+p)
	}
	params = append(params, "_time_format=sqlite")
	if !readOnly {
		params = append(params, "_txlock=immediate")
	}

	sep := "?"
	if strings.Contains(file, "?") {
		sep = "&"
	}
	return file + sep + strings.Join(params, "&")
}

func closeGORM(g *gorm.DB) error {
	if g == nil {
		return nil
	}
	sqlDB, err := g.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
