// Package store is the shared persistence layer. A single SQLite file in
// WAL mode is used concurrently by the manager process, the HTTP surface,
// and every worker child; cross-process safety comes from WAL plus a busy
// timeout, not from application locks.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/cairnhq/cairn/migrations"
)

// ErrNotFound is returned when a task, log, or sub-task row does not exist.
var ErrNotFound = errors.New("store: not found")

// TimeFormat is the application-side timestamp layout stored in payloads
// and log documents.
const TimeFormat = "2006-01-02 15:04:05"

// Now returns the current time in the store's timestamp layout.
func Now() string {
	return time.Now().Format(TimeFormat)
}

// Options tune the SQLite connection.
type Options struct {
	BusyTimeoutMS int
}

// Store wraps the SQLite database holding tasks, logs, the debug ring,
// and pre-allocated sub-task ids.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database at path, applies pragmas,
// and runs any pending migrations.
func Open(path string, opts Options) (*Store, error) {
	if opts.BusyTimeoutMS <= 0 {
		opts.BusyTimeoutMS = 5000
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=foreign_keys(ON)",
		url.PathEscape(path), opts.BusyTimeoutMS)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// migrateUp applies the embedded schema migrations.
func (s *Store) migrateUp() error {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	drv, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// Path returns the database file path this store was opened with.
func (s *Store) Path() string { return s.path }

// DB exposes the underlying handle for the migrate command.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }
