package store

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
)

//go:embed schema_sqlite.sql
var schemaSQLite string

//go:embed schema_mysql.sql
var schemaMySQL string

// Dialect identifies which schema variant a store speaks. It is chosen
// once at Open time from the driver name and never re-checked per call.
type Dialect int

const (
	// DialectSQLite targets SQLite via mattn/go-sqlite3.
	DialectSQLite Dialect = iota

	// DialectMySQL targets MySQL via go-sql-driver/mysql.
	DialectMySQL
)

// String returns the dialect name.
func (d Dialect) String() string {
	switch d {
	case DialectSQLite:
		return "sqlite"
	case DialectMySQL:
		return "mysql"
	default:
		return fmt.Sprintf("Dialect(%d)", int(d))
	}
}

// dialectForDriver maps a database/sql driver name to its dialect.
func dialectForDriver(driver string) (Dialect, error) {
	switch driver {
	case "sqlite3":
		return DialectSQLite, nil
	case "mysql":
		return DialectMySQL, nil
	default:
		return 0, fmt.Errorf("unsupported driver %q", driver)
	}
}

// DDL returns the dialect's table definitions as executable SQL text.
func (d Dialect) DDL() string {
	if d == DialectMySQL {
		return schemaMySQL
	}
	return schemaSQLite
}

// insertIgnore renders an insert statement whose uniqueness conflicts
// are swallowed, so the caller can branch on RowsAffected instead of
// parsing driver errors.
func (d Dialect) insertIgnore(rest string) string {
	if d == DialectMySQL {
		return "INSERT IGNORE INTO " + rest
	}
	return "INSERT OR IGNORE INTO " + rest
}

// loadOrder renders the ORDER BY expression ranking nodes by load
// ratio. SQLite lacks log() and needs a float coercion for the sort to
// work; on MySQL the log quotient preserves more floating-point
// precision than the plain ratio. Both orderings are equivalent to
// comparing current_load / capacity.
func (d Dialect) loadOrder() string {
	if d == DialectMySQL {
		return "LOG(current_load) / LOG(capacity)"
	}
	return "current_load * 1.0 / capacity"
}

// createTables provisions the three tables idempotently.
func (s *Store) createTables(ctx context.Context) error {
	for _, stmt := range strings.Split(s.dialect.DDL(), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.exec(ctx, stmt); err != nil {
			return fmt.Errorf("create tables: %w", err)
		}
	}
	return nil
}
