// Package riskstore persists per-tenant sliding-window risk counters in
// SQLite so critical-action budgets survive process restarts.
package riskstore

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultWindowSeconds is the sliding window applied when none is configured.
const DefaultWindowSeconds = 300

// Store is a file-backed counter table keyed by tenant. Single orchestrator
// process per run; increments are transactional so sequential invocations
// against the same file never lose updates.
type Store struct {
	db            *sql.DB
	windowSeconds int
}

// Open opens (or creates) the store at path. Construction is idempotent:
// the schema is created if absent.
func Open(path string, windowSeconds int) (*Store, error) {
	if windowSeconds <= 0 {
		windowSeconds = DefaultWindowSeconds
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("riskstore: create directory: %w", err)
	}

	dsn := path + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("riskstore: open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS tenant_counts (
		tenant TEXT PRIMARY KEY,
		count INTEGER NOT NULL,
		last_reset REAL NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("riskstore: create schema: %w", err)
	}

	return &Store{db: db, windowSeconds: windowSeconds}, nil
}

// IncrementAndGet bumps the tenant's counter and returns the new value.
// If more than the window has elapsed since the tenant's last reset, the
// counter restarts from zero before the increment.
func (s *Store) IncrementAndGet(tenant string, now time.Time) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("riskstore: begin: %w", err)
	}
	defer tx.Rollback()

	if err := resetIfNeeded(tx, tenant, now, s.windowSeconds); err != nil {
		return 0, err
	}
	if _, err := tx.Exec(`UPDATE tenant_counts SET count = count + 1 WHERE tenant = ?`, tenant); err != nil {
		return 0, fmt.Errorf("riskstore: increment: %w", err)
	}

	var count int
	if err := tx.QueryRow(`SELECT count FROM tenant_counts WHERE tenant = ?`, tenant).Scan(&count); err != nil {
		return 0, fmt.Errorf("riskstore: read count: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("riskstore: commit: %w", err)
	}
	return count, nil
}

// Get returns the tenant's current count without incrementing. The same
// window-reset check applies, so an expired window reads as zero.
func (s *Store) Get(tenant string, now time.Time) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("riskstore: begin: %w", err)
	}
	defer tx.Rollback()

	if err := resetIfNeeded(tx, tenant, now, s.windowSeconds); err != nil {
		return 0, err
	}

	var count int
	if err := tx.QueryRow(`SELECT count FROM tenant_counts WHERE tenant = ?`, tenant).Scan(&count); err != nil {
		return 0, fmt.Errorf("riskstore: read count: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("riskstore: commit: %w", err)
	}
	return count, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func resetIfNeeded(tx *sql.Tx, tenant string, now time.Time, windowSeconds int) error {
	nowEpoch := float64(now.UnixNano()) / 1e9

	var count int
	var lastReset float64
	err := tx.QueryRow(`SELECT count, last_reset FROM tenant_counts WHERE tenant = ?`, tenant).Scan(&count, &lastReset)
	if err == sql.ErrNoRows {
		if _, err := tx.Exec(
			`INSERT OR REPLACE INTO tenant_counts (tenant, count, last_reset) VALUES (?, 0, ?)`,
			tenant, nowEpoch,
		); err != nil {
			return fmt.Errorf("riskstore: init tenant: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("riskstore: read tenant: %w", err)
	}

	if nowEpoch-lastReset > float64(windowSeconds) {
		if _, err := tx.Exec(
			`UPDATE tenant_counts SET count = 0, last_reset = ? WHERE tenant = ?`,
			nowEpoch, tenant,
		); err != nil {
			return fmt.Errorf("riskstore: reset window: %w", err)
		}
	}
	return nil
}
