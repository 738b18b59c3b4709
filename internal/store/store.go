// Package store is the transactional entity store for the roadmap engine.
// It persists every entity in SQLite and exposes atomic multi-record
// transactions through Update and read snapshots through View.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

const (
	// DriverModernc is the pure-Go driver and the default.
	DriverModernc = "sqlite"
	// DriverMattn is the cgo driver.
	DriverMattn = "sqlite3"
)

// Options configures Open.
type Options struct {
	Path           string
	Driver         string
	BusyTimeout    time.Duration
	MaxBusyRetries int
	Logger         *slog.Logger
}

// Store owns the database handle. It is safe for concurrent use.
type Store struct {
	db      *sql.DB
	reader  *sql.DB
	driver  string
	retries int
	log     *slog.Logger

	clockMu sync.Mutex
	last    time.Time
	nowFn   func() time.Time
}

// Open creates the database file if needed and applies the schema.
func Open(opts Options) (*Store, error) {
	if strings.TrimSpace(opts.Path) == "" {
		return nil, fmt.Errorf("store path is required")
	}
	if opts.Driver == "" {
		opts.Driver = DriverModernc
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = 5 * time.Second
	}
	if opts.MaxBusyRetries < 0 {
		opts.MaxBusyRetries = 0
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn, err := buildDSN(opts, true)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(opts.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open store db: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	readDSN, _ := buildDSN(opts, false)
	reader, err := sql.Open(opts.Driver, readDSN)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open store reader: %w", err)
	}
	return &Store{
		db:      db,
		reader:  reader,
		driver:  opts.Driver,
		retries: opts.MaxBusyRetries,
		log:     opts.Logger,
		nowFn:   time.Now,
	}, nil
}

// Both drivers take the same knobs under different parameter names. Write
// transactions begin IMMEDIATE so conflicting writers queue on busy_timeout
// instead of failing on lock upgrade. The read pool keeps the default
// deferred begin so WAL readers never wait on a writer.
func buildDSN(opts Options, write bool) (string, error) {
	ms := opts.BusyTimeout.Milliseconds()
	var dsn string
	switch opts.Driver {
	case DriverModernc:
		dsn = fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(%d)", opts.Path, ms)
		if write {
			dsn += "&_pragma=journal_mode(WAL)&_txlock=immediate"
		}
	case DriverMattn:
		dsn = fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=%d", opts.Path, ms)
		if write {
			dsn += "&_journal_mode=WAL&_txlock=immediate"
		}
	default:
		return "", fmt.Errorf("unsupported store driver %q", opts.Driver)
	}
	return dsn, nil
}

// DB exposes the raw handle for diagnostics and tests.
func (s *Store) DB() *sql.DB { return s.db }

// Driver returns the database/sql driver name in use.
func (s *Store) Driver() string { return s.driver }

func (s *Store) Close() error {
	return errors.Join(s.reader.Close(), s.db.Close())
}

// SetClock replaces the wall clock. Tests use it to pin timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	s.nowFn = now
	s.last = time.Time{}
}

// now returns a UTC timestamp strictly later than any previous one, so
// creation order is total even when the wall clock is coarse.
func (s *Store) now() time.Time {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	t := s.nowFn().UTC()
	if !t.After(s.last) {
		t = s.last.Add(time.Nanosecond)
	}
	s.last = t
	return t
}

func newID() string {
	return uuid.NewString()
}

// Update runs fn inside one write transaction. Either everything fn wrote
// commits or nothing does. fn may run more than once when SQLite reports
// the database busy, so it must not have effects outside tx.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	return retryOnBusy(ctx, s.log, s.retries, func() error {
		return s.run(ctx, s.db, nil, fn)
	})
}

// View runs fn inside a read-only transaction on the read pool. It sees the
// last committed state and does not wait for an in-flight Update.
func (s *Store) View(ctx context.Context, fn func(tx *Tx) error) error {
	return retryOnBusy(ctx, s.log, s.retries, func() error {
		return s.run(ctx, s.reader, &sql.TxOptions{ReadOnly: true}, fn)
	})
}

func (s *Store) run(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(tx *Tx) error) error {
	sqlTx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&Tx{ctx: ctx, tx: sqlTx, store: s}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// retryOnBusy retries f when SQLite returns BUSY or LOCKED, with capped
// exponential backoff and jitter.
func retryOnBusy(ctx context.Context, log *slog.Logger, maxRetries int, f func() error) error {
	const baseDelay = 25 * time.Millisecond
	const maxDelay = 400 * time.Millisecond

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = f()
		if err == nil || !isBusy(err) || attempt == maxRetries {
			return err
		}
		delay := baseDelay << uint(attempt)
		if delay > maxDelay {
			delay = maxDelay
		}
		jitter := time.Duration(rand.IntN(int(delay / 2)))
		delay = delay - delay/4 + jitter
		log.Debug("store busy, retrying", "attempt", attempt+1, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

// isBusy matches on the message so neither driver's error type leaks here.
func isBusy(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "SQLITE_LOCKED")
}

// Tx is a live transaction. It must not escape the Update/View callback.
type Tx struct {
	ctx   context.Context
	tx    *sql.Tx
	store *Store
}

// Now returns the store clock reading; strictly increasing across calls.
func (t *Tx) Now() time.Time { return t.store.now() }

func (t *Tx) exec(query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(t.ctx, query, args...)
}

func (t *Tx) query(query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(t.ctx, query, args...)
}

func (t *Tx) queryRow(query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(t.ctx, query, args...)
}
