package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mtzanidakis/teamfeed/internal/config"
	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(cfg config.StoreConfig) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// WAL lets the web API read history while a run is being recorded.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("exec %s: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS agents (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			role        TEXT,
			description TEXT,
			layer       INTEGER NOT NULL DEFAULT 1,
			parent      TEXT,
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id           TEXT PRIMARY KEY,
			seq          INTEGER NOT NULL,
			task         TEXT NOT NULL,
			source       TEXT NOT NULL DEFAULT 'api',
			status       TEXT NOT NULL DEFAULT 'running',
			error        TEXT,
			started_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
			completed_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)`,
		`CREATE TABLE IF NOT EXISTS entries (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id     TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			position   INTEGER NOT NULL,
			kind       TEXT NOT NULL,
			agent      TEXT NOT NULL,
			content    TEXT NOT NULL,
			sealed     BOOLEAN NOT NULL DEFAULT FALSE,
			metadata   TEXT,
			timestamp  TEXT,
			UNIQUE(run_id, position)
		)`,
		`CREATE TABLE IF NOT EXISTS schedules (
			name        TEXT PRIMARY KEY,
			task        TEXT NOT NULL,
			schedule    TEXT NOT NULL,
			status      TEXT NOT NULL DEFAULT 'active',
			next_run_at DATETIME,
			last_run_at DATETIME,
			last_status TEXT,
			last_error  TEXT,
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_schedules_next_run ON schedules(status, next_run_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}

	// Schema additions (idempotent ALTER TABLE)
	alterations := []string{
		`ALTER TABLE runs ADD COLUMN source TEXT NOT NULL DEFAULT 'api'`,
	}
	for _, a := range alterations {
		_, _ = s.db.Exec(a) // ignore "duplicate column" errors
	}

	return nil
}

// placeholders returns "?,?,?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, 0, 2*n-1)
	for i := range n {
		if i > 0 {
			b = append(b, ',')
		}
		b = append(b, '?')
	}
	return string(b)
}
