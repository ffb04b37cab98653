// Package store is the durable state of the bot: the append-only post
// history and the daily slot queue, both in one SQLite database.
//
// These are the only shared mutable resources in the process. Every
// mutation is a short single-row statement; the claim transition is a
// single conditional UPDATE so that two near-simultaneous firings of the
// same slot can never both win.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Queue item statuses. pending→posting is the claim transition; the other
// three are terminal.
const (
	StatusPending = "pending"
	StatusPosting = "posting"
	StatusPosted  = "posted"
	StatusSkipped = "skipped"
	StatusDryRun  = "dry_run"
)

// ErrBadStatus is returned by Finish for a non-terminal status.
var ErrBadStatus = errors.New("not a terminal queue status")

type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means driver default
}

type Store struct {
	db *sql.DB
}

// Open creates/migrates the database file.
func Open(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DayOf formats a run date key. All queue operations key on this.
func DayOf(t time.Time) string { return t.Format("2006-01-02") }

func isTerminal(status string) bool {
	switch status {
	case StatusPosted, StatusSkipped, StatusDryRun:
		return true
	}
	return false
}
