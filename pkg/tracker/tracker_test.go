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

package tracker

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/boringdata/kurt-core/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTrackerTestDB(t *testing.T) *sql.DB {
	t.Helper()
	s, err := store.Open(store.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s.DB()
}

func seedWorkflowRun(t *testing.T, db *sql.DB, id, workflow, status string) {
	t.Helper()
	_, err := db.Exec(
		`INSERT INTO workflow_runs (id, workflow, status, started_at) VALUES (?, ?, ?, ?)`,
		id, workflow, status, time.Now().UTC().Format(time.RFC3339),
	)
	require.NoError(t, err)
}

func TestTrackEvent_RequiresRunAndStepID(t *testing.T) {
	db := openTrackerTestDB(t)
	ctx := context.Background()

	_, err := TrackEvent(ctx, db, StepEvent{StepID: "fetch"})
	assert.Error(t, err)

	_, err = TrackEvent(ctx, db, StepEvent{RunID: "wf-1"})
	assert.Error(t, err)
}

func TestTrackEvent_InsertsRow(t *testing.T) {
	db := openTrackerTestDB(t)
	ctx := context.Background()

	id, err := TrackEvent(ctx, db, StepEvent{RunID: "wf-1", StepID: "fetch", Status: "running", Message: "starting"})
	require.NoError(t, err)
	assert.Positive(t, id)
}

func TestWriteEvent_MapsLegacyKeysToStatus(t *testing.T) {
	db := openTrackerTestDB(t)
	ctx := context.Background()

	err := WriteEvent(ctx, db, "wf-1", EventKeyError, map[string]any{"step_id": "fetch", "message": "boom"})
	require.NoError(t, err)

	var status, message string
	err = db.QueryRowContext(ctx, `SELECT status, message FROM step_events WHERE run_id = ?`, "wf-1").Scan(&status, &message)
	require.NoError(t, err)
	assert.Equal(t, "failed", status)
	assert.Equal(t, "boom", message)
}

func TestStartStepLog_ThenCompleteStepLog(t *testing.T) {
	db := openTrackerTestDB(t)
	ctx := context.Background()
	seedWorkflowRun(t, db, "wf-1", "domain_analytics", "running")

	require.NoError(t, StartStepLog(ctx, db, "wf-1", "fetch"))

	log, ok, err := GetStepLog(ctx, db, "wf-1", "fetch")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "running", log.Status)

	require.NoError(t, CompleteStepLog(ctx, db, "wf-1", "fetch", "completed", 3, 3, 0, nil))

	log, ok, err = GetStepLog(ctx, db, "wf-1", "fetch")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "completed", log.Status)
	assert.Equal(t, 3, log.OutputCount)
}

func TestCompleteStepLog_FinalStatusIsAbsorbing(t *testing.T) {
	db := openTrackerTestDB(t)
	ctx := context.Background()
	seedWorkflowRun(t, db, "wf-1", "domain_analytics", "running")

	require.NoError(t, StartStepLog(ctx, db, "wf-1", "fetch"))
	require.NoError(t, CompleteStepLog(ctx, db, "wf-1", "fetch", "failed", 1, 0, 1, []string{"boom"}))

	err := CompleteStepLog(ctx, db, "wf-1", "fetch", "completed", 1, 1, 0, nil)
	assert.Error(t, err)

	log, ok, err := GetStepLog(ctx, db, "wf-1", "fetch")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "failed", log.Status)
	assert.Equal(t, []string{"boom"}, log.Errors)
}

func TestGetStepLog_AbsentReturnsOkFalse(t *testing.T) {
	db := openTrackerTestDB(t)
	_, ok, err := GetStepLog(context.Background(), db, "wf-x", "fetch")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetLiveStatus_ResolvesExactIDAndAssemblesSteps(t *testing.T) {
	db := openTrackerTestDB(t)
	ctx := context.Background()
	seedWorkflowRun(t, db, "wf-123456", "domain_analytics", "running")
	require.NoError(t, StartStepLog(ctx, db, "wf-123456", "fetch"))
	require.NoError(t, CompleteStepLog(ctx, db, "wf-123456", "fetch", "completed", 2, 2, 0, nil))
	_, err := TrackEvent(ctx, db, StepEvent{RunID: "wf-123456", StepID: "fetch", Status: "completed"})
	require.NoError(t, err)

	ls, err := GetLiveStatus(ctx, db, "wf-123456")
	require.NoError(t, err)
	assert.Equal(t, "domain_analytics", ls.Workflow)
	require.Len(t, ls.StepLogs, 1)
	assert.Equal(t, "fetch", ls.StepLogs[0].StepID)
	assert.NotEmpty(t, ls.LastEvents)
}

func TestGetLiveStatus_ResolvesUniquePrefix(t *testing.T) {
	db := openTrackerTestDB(t)
	seedWorkflowRun(t, db, "wf-abcdef", "domain_analytics", "running")

	ls, err := GetLiveStatus(context.Background(), db, "wf-abc")
	require.NoError(t, err)
	assert.Equal(t, "wf-abcdef", ls.RunID)
}

func TestGetLiveStatus_AmbiguousPrefixFails(t *testing.T) {
	db := openTrackerTestDB(t)
	seedWorkflowRun(t, db, "wf-aaa111", "domain_analytics", "running")
	seedWorkflowRun(t, db, "wf-aaa222", "domain_analytics", "running")

	_, err := GetLiveStatus(context.Background(), db, "wf-aaa")
	assert.Error(t, err)
}

func TestGetLiveStatus_UnknownIDFails(t *testing.T) {
	db := openTrackerTestDB(t)
	_, err := GetLiveStatus(context.Background(), db, "ghost")
	assert.Error(t, err)
}

func TestBatchingTracker_FlushWritesAllPendingEvents(t *testing.T) {
	db := openTrackerTestDB(t)
	bt := NewBatchingTracker(db, 2, time.Hour)

	bt.Enqueue(StepEvent{RunID: "wf-1", StepID: "a", Status: "running"})
	bt.Enqueue(StepEvent{RunID: "wf-1", StepID: "b", Status: "running"})

	require.NoError(t, bt.Flush(context.Background()))

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM step_events`).Scan(&count))
	assert.Equal(t, 2, count)
}

func TestBatchingTracker_FlushOnEmptyIsNoOp(t *testing.T) {
	db := openTrackerTestDB(t)
	bt := NewBatchingTracker(db, 10, time.Hour)
	require.NoError(t, bt.Flush(context.Background()))
}

func TestBatchingTracker_StartAndStopDrains(t *testing.T) {
	db := openTrackerTestDB(t)
	bt := NewBatchingTracker(db, 100, 5*time.Millisecond)
	bt.Start(context.Background())

	bt.Enqueue(StepEvent{RunID: "wf-1", StepID: "a", Status: "running"})
	time.Sleep(20 * time.Millisecond)
	bt.Stop()
	time.Sleep(10 * time.Millisecond)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM step_events`).Scan(&count))
	assert.Equal(t, 1, count)
}
