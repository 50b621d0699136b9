package gormsqlite

import (
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

const slowLogStartKey = "slowlog:start"

// StatementObserver receives the duration of every executed statement.
type StatementObserver interface {
	ObserveStatement(op string, d time.Duration, slow bool)
}

// SlowLog is a gorm plugin that times every statement and reports the ones
// exceeding the threshold. It only observes; it never blocks or retries.
type SlowLog struct {
	threshold time.Duration
	log       zerolog.Logger
	observer  StatementObserver
}

func NewSlowLog(threshold time.Duration, log zerolog.Logger, observer StatementObserver) *SlowLog {
	return &SlowLog{threshold: threshold, log: log, observer: observer}
}

func (p *SlowLog) Name() string { return "slowlog" }

func (p *SlowLog) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	type hook struct {
		op       string
		register func(before, after func(*gorm.DB)) error
	}
	hooks := []hook{
		{"create", func(before, after func(*gorm.DB)) error {
			if err := cb.Create().Before("gorm:create").Register("slowlog:before_create", before); err != nil {
				return err
			}
			return cb.Create().After("gorm:create").Register("slowlog:after_create", after)
		}},
		{"query", func(before, after func(*gorm.DB)) error {
			if err := cb.Query().Before("gorm:query").Register("slowlog:before_query", before); err != nil {
				return err
			}
			return cb.Query().After("gorm:query").Register("slowlog:after_query", after)
		}},
		{"update", func(before, after func(*gorm.DB)) error {
			if err := cb.Update().Before("gorm:update").Register("slowlog:before_update", before); err != nil {
				return err
			}
			return cb.Update().After("gorm:update").Register("slowlog:after_update", after)
		}},
		{"delete", func(before, after func(*gorm.DB)) error {
			if err := cb.Delete().Before("gorm:delete").Register("slowlog:before_delete", before); err != nil {
				return err
			}
			return cb.Delete().After("gorm:delete").Register("slowlog:after_delete", after)
		}},
		{"row", func(before, after func(*gorm.DB)) error {
			if err := cb.Row().Before("gorm:row").Register("slowlog:before_row", before); err != nil {
				return err
			}
			return cb.Row().After("gorm:row").Register("slowlog:after_row", after)
		}},
		{"raw", func(before, after func(*gorm.DB)) error {
			if err := cb.Raw().Before("gorm:raw").Register("slowlog:before_raw", before); err != nil {
				return err
			}
			return cb.Raw().After("gorm:raw").Register("slowlog:after_raw", after)
		}},
	}
	for _, h := range hooks {
		if err := h.register(p.before, p.after(h.op)); err != nil {
			return err
		}
	}
	return nil
}

func (p *SlowLog) before(db *gorm.DB) {
	db.InstanceSet(slowLogStartKey, time.Now())
}

func (p *SlowLog) after(op string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		v, ok := db.InstanceGet(slowLogStartKey)
		if !ok {
			return
		}
		start, ok := v.(time.Time)
		if !ok {
			return
		}
		elapsed := time.Since(start)
		slow := p.threshold > 0 && elapsed > p.threshold
		if p.observer != nil {
			p.observer.ObserveStatement(op, elapsed, slow)
		}
		if !slow {
			return
		}

		ev := p.log.Warn().
			Str("op", op).
			Str("sql", db.Statement.SQL.String()).
			Interface("vars", db.Statement.Vars).
			Float64("duration_ms", float64(elapsed.Microseconds())/1000).
			Int64("rows", db.RowsAffected)
		if db.Error != nil {
			ev = ev.Err(db.Error)
		}
		ev.Msg("slow statement")
	}
}
