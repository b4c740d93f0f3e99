package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite
)

type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// NormalizeDriver maps common aliases to a Driver.
func NormalizeDriver(d string) Driver {
	switch strings.ToLower(strings.TrimSpace(d)) {
	case "pg", "pgsql", "pgx", "postgres", "postgresql":
		return DriverPostgres
	case "sqlite3", "sqlite", "":
		return DriverSQLite
	default:
		return Driver(d)
	}
}

// Open opens the offline database, tunes the pool and ensures the schema exists.
func Open(ctx context.Context, driver Driver, dsn string) (*sql.DB, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite" // modernc driver
		if dsn == "" {
			dsn = "file:quizsync.db?cache=shared&mode=rwc&_pragma=busy_timeout(5000)"
		}
	case DriverPostgres:
		drvName = "pgx" // pgx stdlib driver
		if dsn == "" {
			dsn = "postgres://localhost:5432/quizsync?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, fmt.Errorf("db: open: %w", err)
	}
	tunePool(driver, db)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db: ping: %w", err)
	}
	if driver == DriverSQLite {
		if err := applySQLitePragmas(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if err := ensureSchema(ctx, db, driver); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// WithTx runs fn in a transaction, committing if fn returns nil.
func WithTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) (err error) {
	if db == nil {
		return errors.New("db: nil handle")
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("db: begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if e := tx.Commit(); e != nil {
			err = fmt.Errorf("db: commit: %w", e)
		}
	}()
	err = fn(tx)
	return
}

func tunePool(driver Driver, db *sql.DB) {
	switch driver {
	case DriverSQLite:
		// single writer
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	default:
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
	}
}

func applySQLitePragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("db: sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func ensureSchema(ctx context.Context, db *sql.DB, driver Driver) error {
	schema := schemaSQLite
	if driver == DriverPostgres {
		schema = schemaPostgres
	}
	// Some drivers reject multi-statement scripts; fall back to one statement at a time.
	if _, err := db.ExecContext(ctx, schema); err == nil {
		return nil
	}
	for _, stmt := range splitSQL(schema) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("db: migration failed at: %s: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func splitSQL(s string) []string {
	parts := strings.Split(s, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p+";")
		}
	}
	return out
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS offline_attempts (
  site_id TEXT NOT NULL,
  id INTEGER NOT NULL,
  quiz_id INTEGER NOT NULL,
  course_id INTEGER NOT NULL,
  user_id INTEGER NOT NULL,
  current_page INTEGER NOT NULL DEFAULT 0,
  finished INTEGER NOT NULL DEFAULT 0,
  time_created INTEGER NOT NULL,
  time_modified INTEGER NOT NULL,
  PRIMARY KEY (site_id, id)
);

CREATE INDEX IF NOT EXISTS offline_attempts_quiz ON offline_attempts (site_id, quiz_id);

CREATE TABLE IF NOT EXISTS offline_answers (
  site_id TEXT NOT NULL,
  attempt_id INTEGER NOT NULL,
  quiz_id INTEGER NOT NULL,
  slot INTEGER NOT NULL,
  sequence_check TEXT NOT NULL DEFAULT '',
  fields_json TEXT NOT NULL,
  time_modified INTEGER NOT NULL,
  PRIMARY KEY (site_id, attempt_id, slot)
);

CREATE TABLE IF NOT EXISTS quiz_sync_state (
  site_id TEXT NOT NULL,
  quiz_id INTEGER NOT NULL,
  last_sync INTEGER NOT NULL DEFAULT 0,
  warnings_json TEXT NOT NULL DEFAULT '[]',
  PRIMARY KEY (site_id, quiz_id)
);

CREATE TABLE IF NOT EXISTS offline_logs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  site_id TEXT NOT NULL,
  component TEXT NOT NULL,
  instance_id INTEGER NOT NULL,
  action TEXT NOT NULL,
  data TEXT NOT NULL DEFAULT '{}',
  time_created INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS preflight_values (
  site_id TEXT NOT NULL,
  quiz_id INTEGER NOT NULL,
  name TEXT NOT NULL,
  value TEXT NOT NULL,
  PRIMARY KEY (site_id, quiz_id, name)
);

CREATE TABLE IF NOT EXISTS module_downloads (
  site_id TEXT NOT NULL,
  cm_id INTEGER NOT NULL,
  downloaded_at INTEGER NOT NULL,
  PRIMARY KEY (site_id, cm_id)
);
CREATE TABLE IF NOT EXISTS event_log (
  offset_id INTEGER PRIMARY KEY AUTOINCREMENT,
  event_id TEXT NOT NULL,
  site_id TEXT NOT NULL,
  name TEXT NOT NULL,
  data TEXT NOT NULL DEFAULT 'null',
  created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS event_log_site ON event_log (site_id, offset_id);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS offline_attempts (
  site_id TEXT NOT NULL,
  id BIGINT NOT NULL,
  quiz_id BIGINT NOT NULL,
  course_id BIGINT NOT NULL,
  user_id BIGINT NOT NULL,
  current_page INTEGER NOT NULL DEFAULT 0,
  finished INTEGER NOT NULL DEFAULT 0,
  time_created BIGINT NOT NULL,
  time_modified BIGINT NOT NULL,
  PRIMARY KEY (site_id, id)
);

CREATE INDEX IF NOT EXISTS offline_attempts_quiz ON offline_attempts (site_id, quiz_id);

CREATE TABLE IF NOT EXISTS offline_answers (
  site_id TEXT NOT NULL,
  attempt_id BIGINT NOT NULL,
  quiz_id BIGINT NOT NULL,
  slot INTEGER NOT NULL,
  sequence_check TEXT NOT NULL DEFAULT '',
  fields_json TEXT NOT NULL,
  time_modified BIGINT NOT NULL,
  PRIMARY KEY (site_id, attempt_id, slot)
);

CREATE TABLE IF NOT EXISTS quiz_sync_state (
  site_id TEXT NOT NULL,
  quiz_id BIGINT NOT NULL,
  last_sync BIGINT NOT NULL DEFAULT 0,
  warnings_json TEXT NOT NULL DEFAULT '[]',
  PRIMARY KEY (site_id, quiz_id)
);

CREATE TABLE IF NOT EXISTS offline_logs (
  id BIGSERIAL PRIMARY KEY,
  site_id TEXT NOT NULL,
  component TEXT NOT NULL,
  instance_id BIGINT NOT NULL,
  action TEXT NOT NULL,
  data TEXT NOT NULL DEFAULT '{}',
  time_created BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS preflight_values (
  site_id TEXT NOT NULL,
  quiz_id BIGINT NOT NULL,
  name TEXT NOT NULL,
  value TEXT NOT NULL,
  PRIMARY KEY (site_id, quiz_id, name)
);

CREATE TABLE IF NOT EXISTS module_downloads (
  site_id TEXT NOT NULL,
  cm_id BIGINT NOT NULL,
  downloaded_at BIGINT NOT NULL,
  PRIMARY KEY (site_id, cm_id)
);
CREATE TABLE IF NOT EXISTS event_log (
  offset_id BIGSERIAL PRIMARY KEY,
  event_id TEXT NOT NULL,
  site_id TEXT NOT NULL,
  name TEXT NOT NULL,
  data TEXT NOT NULL DEFAULT 'null',
  created_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS event_log_site ON event_log (site_id, offset_id);
`
