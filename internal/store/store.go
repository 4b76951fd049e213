package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/zhangyunhao116/skipmap"
)

// Config describes one physical database. Pool sizing is configuration,
// not design: in a sharded deployment every shard carries its own
// Config so databases of different kinds can be pooled differently.
type Config struct {
	// Driver is the database/sql driver name ("sqlite3" or "mysql").
	Driver string

	// DSN is the driver-specific data source name.
	DSN string

	// MaxOpenConns bounds the pool. Zero defaults to 100.
	MaxOpenConns int

	// MaxIdleConns bounds idle connections. Zero defaults to 10.
	MaxIdleConns int

	// ConnMaxLifetime recycles connections. Zero defaults to a minute.
	ConnMaxLifetime time.Duration

	// StatementTimeout bounds every round trip, including the wait for
	// a pooled connection. Zero defaults to 30 seconds.
	StatementTimeout time.Duration

	// CreateTables provisions the schema at Open time (idempotent).
	CreateTables bool

	// Clock overrides the time source. Nil means wall clock.
	Clock Clock
}

func (c Config) withDefaults() Config {
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 100
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 10
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Minute
	}
	if c.StatementTimeout == 0 {
		c.StatementTimeout = 30 * time.Second
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

// Store is the metadata service for one physical database. It owns the
// connection pool, the dialect chosen at construction, and the
// process-lifetime service-id cache.
//
// Store performs no in-process locking across callers; correctness
// under concurrency rests on per-statement atomicity plus uniqueness
// constraints, with lost races resolved by re-reading.
type Store struct {
	db          *sql.DB
	dialect     Dialect
	clock       Clock
	stmtTimeout time.Duration

	// serviceIDs is the read-through name→id cache. Service
	// definitions are effectively static, so entries never expire.
	serviceIDs *skipmap.FuncMap[string, int64]
}

// Open connects to a physical database and returns its Store.
func Open(cfg Config) (*Store, error) {
	cfg = cfg.withDefaults()

	dialect, err := dialectForDriver(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	s := &Store{
		db:          db,
		dialect:     dialect,
		clock:       cfg.Clock,
		stmtTimeout: cfg.StatementTimeout,
		serviceIDs: skipmap.NewFunc[string, int64](func(a, b string) bool {
			return a < b
		}),
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.StatementTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, backendError("ping database", err)
	}

	if dialect == DialectSQLite {
		if err := s.applyPragmas(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}

	if cfg.CreateTables {
		if err := s.createTables(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}

	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Dialect returns the schema variant chosen at Open time.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// DB exposes the underlying pool for callers that must address this
// physical database directly, such as sharded retirement sweeps.
func (s *Store) DB() *sql.DB {
	return s.db
}

// applyPragmas configures SQLite for concurrent access: WAL for reads
// during writes, a busy timeout for lock contention.
func (s *Store) applyPragmas(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return backendError(pragma, err)
		}
	}
	return nil
}

// exec runs one statement under the statement timeout, translating any
// driver-level failure into a backend error with the cause preserved.
func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.stmtTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, backendError("execute statement", err)
	}
	return res, nil
}

// query runs one query under the statement timeout. Callers own the
// returned rows.
func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, context.CancelFunc, error) {
	ctx, cancel := context.WithTimeout(ctx, s.stmtTimeout)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		cancel()
		return nil, nil, backendError("execute query", err)
	}
	return rows, cancel, nil
}
