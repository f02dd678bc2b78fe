// Package store persists plugin descriptor metadata and scan-cycle run
// history for diagnostics. It is opaque to the scan-cycle engine and the
// journal: the journal and image tables themselves are never persisted
// here — only the bookkeeping a human or a dashboard would want after the
// fact (spec.md §6's "durability of the journal" non-goal).
package store

import (
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Store struct {
	db *sql.DB
}

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
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
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		var applied int
		err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", f).Scan(&applied)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", f, err)
		}
		if applied > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for %s: %w", f, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", f); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", f, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", f, err)
		}
	}
	return nil
}

// PluginRecord is one row of the plugins table: the last-known descriptor
// state for a named plugin, refreshed every time the descriptor file is read.
type PluginRecord struct {
	Name    string
	Kind    string
	Path    string
	Enabled bool
}

// UpsertPlugin records the current descriptor state for a plugin. cmd/plcrun
// calls it once per parsed descriptor, enabled or not, before the host's
// LoadAll runs.
func (s *Store) UpsertPlugin(p PluginRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO plugins (name, kind, path, enabled)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET kind = excluded.kind, path = excluded.path, enabled = excluded.enabled
	`, p.Name, p.Kind, p.Path, boolToInt(p.Enabled))
	if err != nil {
		return fmt.Errorf("upsert plugin %s: %w", p.Name, err)
	}
	return nil
}

// BeginRun records the start of a scan-cycle engine run under the
// caller-supplied id, which the caller then passes to RecordSample and
// EndRun.
func (s *Store) BeginRun(id string, tickPeriod time.Duration, startedAt time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO runs (id, started_at, tick_period_ns) VALUES (?, ?, ?)
	`, id, startedAt, tickPeriod.Nanoseconds())
	if err != nil {
		return fmt.Errorf("begin run %s: %w", id, err)
	}
	return nil
}

// EndRun records the terminal state and end time of a run.
func (s *Store) EndRun(id string, finalState string, endedAt time.Time) error {
	_, err := s.db.Exec(`
		UPDATE runs SET ended_at = ?, final_state = ? WHERE id = ?
	`, endedAt, finalState, id)
	if err != nil {
		return fmt.Errorf("end run %s: %w", id, err)
	}
	return nil
}

// RecordSample appends one scan-timing data point for a run. Sampling
// frequency is the caller's choice — the scan-cycle engine itself never
// calls this on every tick, only a slower diagnostics sampler does, so
// sqlite write volume stays well below the tick rate.
func (s *Store) RecordSample(runID string, tick uint64, scan, latency time.Duration, overran bool) error {
	_, err := s.db.Exec(`
		INSERT INTO scan_samples (run_id, tick, scan_ns, latency_ns, overran)
		VALUES (?, ?, ?, ?, ?)
	`, runID, tick, scan.Nanoseconds(), latency.Nanoseconds(), boolToInt(overran))
	if err != nil {
		return fmt.Errorf("record sample run=%s tick=%d: %w", runID, tick, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
