// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package store provides the SQLite-backed persisted tables named in the
// external interfaces: workflow_runs, step_logs, step_events, and one table
// per registered model.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps a single SQLite connection configured for the pipeline
// execution core's durability requirements.
type Store struct {
	db *sql.DB
}

// Config configures a Store.
type Config struct {
	// Path is the database file path. Use ":memory:" for tests.
	Path string

	// WAL enables Write-Ahead Logging for concurrent reads.
	WAL bool
}

// Open opens (and migrates) a Store.
func Open(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite serializes writes; a single connection avoids SQLITE_BUSY
	// storms under the step-by-step write pattern the runner uses.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	s := &Store{db: db}

	if err := s.configurePragmas(ctx, cfg.WAL); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure pragmas: %w", err)
	}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return s, nil
}

// DB returns the underlying *sql.DB for use by components (References,
// Writers) that need raw query access scoped to a pipeline context.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) configurePragmas(ctx context.Context, enableWAL bool) error {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA auto_vacuum=INCREMENTAL",
		"PRAGMA synchronous=NORMAL",
	}
	if enableWAL {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("exec %s: %w", p, err)
		}
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS workflow_runs (
			id TEXT PRIMARY KEY,
			workflow TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at TEXT,
			completed_at TEXT,
			inputs_json TEXT,
			metadata_json TEXT,
			error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_runs_workflow ON workflow_runs(workflow)`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_runs_status ON workflow_runs(status)`,
		`CREATE TABLE IF NOT EXISTS step_logs (
			run_id TEXT NOT NULL,
			step_id TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at TEXT,
			completed_at TEXT,
			input_count INTEGER DEFAULT 0,
			output_count INTEGER DEFAULT 0,
			error_count INTEGER DEFAULT 0,
			errors_json TEXT,
			PRIMARY KEY (run_id, step_id),
			FOREIGN KEY (run_id) REFERENCES workflow_runs(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS step_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			step_id TEXT NOT NULL,
			substep TEXT,
			status TEXT NOT NULL,
			current INTEGER,
			total INTEGER,
			message TEXT,
			metadata_json TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_step_events_run_id ON step_events(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_step_events_run_step ON step_events(run_id, step_id)`,
	}
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// ModelTableName converts a dotted model name into its output table name
// ("indexing.section_extractions" -> "indexing_section_extractions").
func ModelTableName(modelName string) string {
	return strings.ReplaceAll(modelName, ".", "_")
}

// EnsureModelTable creates the per-model output table (if absent) with the
// declared columns plus the workflow_id/created_at/updated_at envelope
// columns every model output row carries per the spec's persisted-table
// contract. columnDefs is a list of "name TYPE" fragments in schema-declared
// order; primaryKey names the upsert identity columns.
func (s *Store) EnsureModelTable(ctx context.Context, modelName string, columnDefs []string, primaryKey []string) error {
	return EnsureModelTable(ctx, s.db, modelName, columnDefs, primaryKey)
}

// EnsureModelTable is the free-function form of (*Store).EnsureModelTable,
// for callers (the Pipeline Runner) that hold a *sql.DB rather than a
// *Store.
//
// The table's primary key is primaryKey plus workflow_id, not primaryKey
// alone: the upsert identity is scoped to a single workflow run, so that two
// different runs writing the same domain key (e.g. re-fetching the same URL
// on a second run) each get their own row instead of colliding on one global
// key and overwriting each other's content.
func EnsureModelTable(ctx context.Context, db *sql.DB, modelName string, columnDefs []string, primaryKey []string) error {
	table := ModelTableName(modelName)
	cols := append([]string{}, columnDefs...)
	cols = append(cols, "workflow_id TEXT NOT NULL", "created_at TEXT NOT NULL", "updated_at TEXT NOT NULL")
	pk := strings.Join(append(append([]string{}, primaryKey...), "workflow_id"), ", ")

	stmt := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (\n\t%s,\n\tPRIMARY KEY (%s)\n)",
		table, strings.Join(cols, ",\n\t"), pk,
	)
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	idx := fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_workflow_id ON %s(workflow_id)", table, table)
	if _, err := db.ExecContext(ctx, idx); err != nil {
		return fmt.Errorf("create index on %s: %w", table, err)
	}
	return nil
}

// NullString converts an empty string to a nil driver value, matching the
// store's convention for optional text columns.
func NullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// NullBytes converts empty bytes to a nil driver value.
func NullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// FormatTime renders a nullable timestamp as RFC3339, or nil.
func FormatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

// ParseTime parses a nullable RFC3339 sql.NullString into *time.Time.
func ParseTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
