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

// Package tracker records step lifecycle (start/progress/end) and
// structured error events into durable tables, and aggregates them into
// one-row-per-step logs and a queryable live-status view.
package tracker

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/boringdata/kurt-core/internal/store"
)

// Legacy event keys accepted by WriteEvent for compatibility with callers
// that still emit the original three-key event shape.
const (
	EventKeyProgress = "progress"
	EventKeyStatus   = "status"
	EventKeyError    = "error"
)

// StepEvent is one append-only row in step_events.
type StepEvent struct {
	RunID    string
	StepID   string
	Substep  string
	Status   string // running|progress|completed|failed
	Current  *int
	Total    *int
	Message  string
	Metadata map[string]any
}

// TrackEvent inserts one step_events row. RunID and StepID are required; an
// empty value for either is a programmer error.
func TrackEvent(ctx context.Context, db *sql.DB, e StepEvent) (int64, error) {
	if e.RunID == "" {
		return 0, fmt.Errorf("track_event: run_id is required")
	}
	if e.StepID == "" {
		return 0, fmt.Errorf("track_event: step_id is required")
	}

	metaJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return 0, fmt.Errorf("marshal event metadata: %w", err)
	}

	res, err := db.ExecContext(ctx,
		`INSERT INTO step_events (run_id, step_id, substep, status, current, total, message, metadata_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, e.StepID, store.NullString(e.Substep), e.Status,
		nullableInt(e.Current), nullableInt(e.Total), store.NullString(e.Message),
		string(metaJSON), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("insert step event: %w", err)
	}
	return res.LastInsertId()
}

// WriteEvent is a legacy-compatibility entry point mapping a three-key event
// shape (progress/status/error) onto TrackEvent's status field.
func WriteEvent(ctx context.Context, db *sql.DB, runID, key string, payload map[string]any) error {
	status := key
	switch key {
	case EventKeyProgress:
		status = "progress"
	case EventKeyStatus:
		status = "running"
	case EventKeyError:
		status = "failed"
	}

	stepID, _ := payload["step_id"].(string)
	if stepID == "" {
		stepID = key
	}

	e := StepEvent{RunID: runID, StepID: stepID, Status: status, Metadata: payload}
	if msg, ok := payload["message"].(string); ok {
		e.Message = msg
	}
	if cur, ok := payload["current"].(int); ok {
		e.Current = &cur
	}
	if tot, ok := payload["total"].(int); ok {
		e.Total = &tot
	}

	_, err := TrackEvent(ctx, db, e)
	return err
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

// BatchingTracker accumulates events in memory and flushes them on
// max_batch_size or max_delay_ms, whichever first. It is thread-safe: the
// foreground goroutine enqueues under a mutex; the background flusher
// copies the pending slice and releases the lock before issuing the insert.
type BatchingTracker struct {
	db            *sql.DB
	maxBatchSize  int
	maxDelay      time.Duration
	mu            sync.Mutex
	pending       []StepEvent
	stopCh        chan struct{}
	flushRequests chan struct{}
}

// NewBatchingTracker constructs a tracker. Call Start to begin the
// background flush loop and Stop to drain and terminate it.
func NewBatchingTracker(db *sql.DB, maxBatchSize int, maxDelay time.Duration) *BatchingTracker {
	if maxBatchSize <= 0 {
		maxBatchSize = 100
	}
	return &BatchingTracker{
		db:            db,
		maxBatchSize:  maxBatchSize,
		maxDelay:      maxDelay,
		stopCh:        make(chan struct{}),
		flushRequests: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the pending batch, requesting an immediate flush
// once max_batch_size is reached.
func (t *BatchingTracker) Enqueue(e StepEvent) {
	t.mu.Lock()
	t.pending = append(t.pending, e)
	full := len(t.pending) >= t.maxBatchSize
	t.mu.Unlock()

	if full {
		select {
		case t.flushRequests <- struct{}{}:
		default:
		}
	}
}

// Flush issues a single batched insert for every currently pending event,
// retrying once on failure. It copies and clears the pending slice before
// releasing the lock, so Enqueue never blocks on database I/O.
func (t *BatchingTracker) Flush(ctx context.Context) error {
	t.mu.Lock()
	batch := t.pending
	t.pending = nil
	t.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	err := t.insertBatch(ctx, batch)
	if err != nil {
		err = t.insertBatch(ctx, batch) // retry once
	}
	return err
}

func (t *BatchingTracker) insertBatch(ctx context.Context, batch []StepEvent) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin event batch transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO step_events (run_id, step_id, substep, status, current, total, message, metadata_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare event batch insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, e := range batch {
		metaJSON, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshal event metadata: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, e.RunID, e.StepID, store.NullString(e.Substep), e.Status,
			nullableInt(e.Current), nullableInt(e.Total), store.NullString(e.Message), string(metaJSON), now); err != nil {
			return fmt.Errorf("insert batched event: %w", err)
		}
	}
	return tx.Commit()
}

// Start launches the background flush loop: it wakes on an explicit flush
// request (batch size reached) or max_delay elapsing, whichever first.
func (t *BatchingTracker) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(t.maxDelay)
		defer ticker.Stop()
		for {
			select {
			case <-t.stopCh:
				_ = t.Flush(context.Background())
				return
			case <-t.flushRequests:
				_ = t.Flush(ctx)
			case <-ticker.C:
				_ = t.Flush(ctx)
			}
		}
	}()
}

// Stop drains any pending events and terminates the flush loop.
func (t *BatchingTracker) Stop() {
	close(t.stopCh)
}

// StepLog is the aggregated one-row-per-(run,step) summary.
type StepLog struct {
	RunID, StepID string
	Status        string
	StartedAt     *time.Time
	CompletedAt   *time.Time
	InputCount    int
	OutputCount   int
	ErrorCount    int
	Errors        []string
}

// StartStepLog opens a step_logs row with status=running.
func StartStepLog(ctx context.Context, db *sql.DB, runID, stepID string) error {
	now := time.Now().UTC()
	_, err := db.ExecContext(ctx,
		`INSERT INTO step_logs (run_id, step_id, status, started_at) VALUES (?, ?, 'running', ?)
		 ON CONFLICT (run_id, step_id) DO UPDATE SET status = 'running', started_at = excluded.started_at`,
		runID, stepID, now.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("start step log: %w", err)
	}
	return nil
}

// CompleteStepLog finalizes a step_logs row. Final statuses (completed,
// failed, canceled, skipped) are absorbing: once set for a (run_id,
// step_id), subsequent calls within the same workflow must not rewrite it.
func CompleteStepLog(ctx context.Context, db *sql.DB, runID, stepID, status string, inputCount, outputCount, errorCount int, errs []string) error {
	errsJSON, err := json.Marshal(errs)
	if err != nil {
		return fmt.Errorf("marshal step errors: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)

	res, err := db.ExecContext(ctx,
		`UPDATE step_logs SET status = ?, completed_at = ?, input_count = ?, output_count = ?, error_count = ?, errors_json = ?
		 WHERE run_id = ? AND step_id = ? AND status NOT IN ('completed', 'failed', 'canceled', 'skipped')`,
		status, now, inputCount, outputCount, errorCount, string(errsJSON), runID, stepID)
	if err != nil {
		return fmt.Errorf("complete step log: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("complete step log: (%s, %s) already finalized or missing", runID, stepID)
	}
	return nil
}

// GetStepLog reads the current step_logs row, or ok=false if absent.
func GetStepLog(ctx context.Context, db *sql.DB, runID, stepID string) (StepLog, bool, error) {
	row := db.QueryRowContext(ctx,
		`SELECT run_id, step_id, status, started_at, completed_at, input_count, output_count, error_count, errors_json
		 FROM step_logs WHERE run_id = ? AND step_id = ?`, runID, stepID)

	var l StepLog
	var started, completed sql.NullString
	var errsJSON sql.NullString
	if err := row.Scan(&l.RunID, &l.StepID, &l.Status, &started, &completed, &l.InputCount, &l.OutputCount, &l.ErrorCount, &errsJSON); err != nil {
		if err == sql.ErrNoRows {
			return StepLog{}, false, nil
		}
		return StepLog{}, false, fmt.Errorf("get step log: %w", err)
	}
	l.StartedAt = store.ParseTime(started)
	l.CompletedAt = store.ParseTime(completed)
	if errsJSON.Valid && errsJSON.String != "" {
		_ = json.Unmarshal([]byte(errsJSON.String), &l.Errors)
	}
	return l, true, nil
}

// LiveStatus combines the workflow row, all step logs, and the latest
// events for a run, for the tracker's poll-based progress query surface.
type LiveStatus struct {
	RunID       string
	Workflow    string
	Status      string
	StepLogs    []StepLog
	LastEvents  []StepEvent
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// GetLiveStatus resolves run_id_or_prefix to a full run id (supporting
// unique prefix match) and assembles its live status.
func GetLiveStatus(ctx context.Context, db *sql.DB, runIDOrPrefix string) (LiveStatus, error) {
	runID, err := resolveRunID(ctx, db, runIDOrPrefix)
	if err != nil {
		return LiveStatus{}, err
	}

	row := db.QueryRowContext(ctx, `SELECT id, workflow, status, started_at, completed_at FROM workflow_runs WHERE id = ?`, runID)
	var ls LiveStatus
	var started, completed sql.NullString
	if err := row.Scan(&ls.RunID, &ls.Workflow, &ls.Status, &started, &completed); err != nil {
		return LiveStatus{}, fmt.Errorf("get workflow run: %w", err)
	}
	ls.StartedAt = store.ParseTime(started)
	ls.CompletedAt = store.ParseTime(completed)

	rows, err := db.QueryContext(ctx,
		`SELECT run_id, step_id, status, started_at, completed_at, input_count, output_count, error_count, errors_json
		 FROM step_logs WHERE run_id = ?`, runID)
	if err != nil {
		return LiveStatus{}, fmt.Errorf("list step logs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var l StepLog
		var started, completed, errsJSON sql.NullString
		if err := rows.Scan(&l.RunID, &l.StepID, &l.Status, &started, &completed, &l.InputCount, &l.OutputCount, &l.ErrorCount, &errsJSON); err != nil {
			return LiveStatus{}, fmt.Errorf("scan step log: %w", err)
		}
		l.StartedAt = store.ParseTime(started)
		l.CompletedAt = store.ParseTime(completed)
		if errsJSON.Valid && errsJSON.String != "" {
			_ = json.Unmarshal([]byte(errsJSON.String), &l.Errors)
		}
		ls.StepLogs = append(ls.StepLogs, l)
	}

	eventRows, err := db.QueryContext(ctx,
		`SELECT run_id, step_id, substep, status, current, total, message, metadata_json
		 FROM step_events WHERE run_id = ? ORDER BY id DESC LIMIT 20`, runID)
	if err != nil {
		return LiveStatus{}, fmt.Errorf("list step events: %w", err)
	}
	defer eventRows.Close()
	for eventRows.Next() {
		var e StepEvent
		var substep, message, metaJSON sql.NullString
		var current, total sql.NullInt64
		if err := eventRows.Scan(&e.RunID, &e.StepID, &substep, &e.Status, &current, &total, &message, &metaJSON); err != nil {
			return LiveStatus{}, fmt.Errorf("scan step event: %w", err)
		}
		if substep.Valid {
			e.Substep = substep.String
		}
		if message.Valid {
			e.Message = message.String
		}
		if current.Valid {
			c := int(current.Int64)
			e.Current = &c
		}
		if total.Valid {
			t := int(total.Int64)
			e.Total = &t
		}
		if metaJSON.Valid && metaJSON.String != "" {
			_ = json.Unmarshal([]byte(metaJSON.String), &e.Metadata)
		}
		ls.LastEvents = append(ls.LastEvents, e)
	}

	return ls, nil
}

func resolveRunID(ctx context.Context, db *sql.DB, idOrPrefix string) (string, error) {
	var exact string
	err := db.QueryRowContext(ctx, `SELECT id FROM workflow_runs WHERE id = ?`, idOrPrefix).Scan(&exact)
	if err == nil {
		return exact, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("resolve run id: %w", err)
	}

	rows, err := db.QueryContext(ctx, `SELECT id FROM workflow_runs WHERE id LIKE ? || '%'`, idOrPrefix)
	if err != nil {
		return "", fmt.Errorf("resolve run id prefix: %w", err)
	}
	defer rows.Close()

	var matches []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", err
		}
		matches = append(matches, id)
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no workflow run matches id or prefix %q", idOrPrefix)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("ambiguous prefix %q matches %d runs", idOrPrefix, len(matches))
	}
}
