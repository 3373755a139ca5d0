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

// Package writer implements the upsert sink bound to a single model's
// output table.
package writer

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/boringdata/kurt-core/internal/store"
)

// Row is a single output row to be written: column name to value, using the
// model's declared output schema column names.
type Row map[string]any

// Writer is the upsert sink for one model's output table within one step.
// It is created at step entry; each Write call commits its rows in one
// transaction, so there is nothing to flush or close at step exit.
type Writer struct {
	db         *sql.DB
	tableName  string
	columns    []string // schema-declared column order, excluding the envelope columns
	primaryKey []string
	workflowID string
}

// New constructs a Writer bound to modelName's output table. columns is the
// model's declared output schema column order (primary key columns must be
// included); primaryKey names the upsert identity.
func New(db *sql.DB, modelName string, columns, primaryKey []string, workflowID string) *Writer {
	return &Writer{
		db:         db,
		tableName:  store.ModelTableName(modelName),
		columns:    columns,
		primaryKey: primaryKey,
		workflowID: workflowID,
	}
}

// Write performs an insert-or-replace upsert for each row, stamping
// workflow_id, created_at, and updated_at automatically. The upsert identity
// is the model's declared primary key plus workflow_id: re-running a model
// for the same workflow id replaces that run's rows in full, but two
// different workflow ids writing the same domain key (e.g. re-fetching the
// same URL on a second run) land as two distinct rows rather than
// colliding on a single global key.
func (w *Writer) Write(ctx context.Context, rows []Row) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	now := time.Now().UTC().Format(time.RFC3339)

	allCols := append(append([]string{}, w.columns...), "workflow_id", "created_at", "updated_at")
	placeholders := strings.Repeat("?, ", len(allCols))
	placeholders = strings.TrimSuffix(placeholders, ", ")

	conflictTarget := append(append([]string{}, w.primaryKey...), "workflow_id")

	updateAssignments := make([]string, 0, len(w.columns))
	for _, c := range w.columns {
		if isPrimaryKeyColumn(c, w.primaryKey) {
			continue
		}
		updateAssignments = append(updateAssignments, fmt.Sprintf("%s = excluded.%s", c, c))
	}
	updateAssignments = append(updateAssignments, "updated_at = excluded.updated_at")

	stmt := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		w.tableName,
		strings.Join(allCols, ", "),
		placeholders,
		strings.Join(conflictTarget, ", "),
		strings.Join(updateAssignments, ", "),
	)

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin write transaction for %s: %w", w.tableName, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	prepared, err := tx.PrepareContext(ctx, stmt)
	if err != nil {
		return 0, fmt.Errorf("prepare upsert for %s: %w", w.tableName, err)
	}
	defer prepared.Close()

	written := 0
	for _, row := range rows {
		args := make([]any, 0, len(allCols))
		for _, c := range w.columns {
			args = append(args, row[c])
		}
		args = append(args, w.workflowID, now, now)

		if _, err := prepared.ExecContext(ctx, args...); err != nil {
			return written, fmt.Errorf("upsert row into %s: %w", w.tableName, err)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return written, fmt.Errorf("commit write transaction for %s: %w", w.tableName, err)
	}
	return written, nil
}

func isPrimaryKeyColumn(col string, pk []string) bool {
	for _, k := range pk {
		if k == col {
			return true
		}
	}
	return false
}
