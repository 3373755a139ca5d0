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

package runner

import (
	"context"
	"database/sql"
	"testing"

	"github.com/boringdata/kurt-core/internal/kurterrors"
	"github.com/boringdata/kurt-core/internal/store"
	"github.com/boringdata/kurt-core/pkg/config"
	"github.com/boringdata/kurt-core/pkg/filter"
	"github.com/boringdata/kurt-core/pkg/pipeline"
	"github.com/boringdata/kurt-core/pkg/reference"
	"github.com/boringdata/kurt-core/pkg/registry"
	"github.com/boringdata/kurt-core/pkg/writer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row struct {
	ID  string `kurt:"id"`
	URL string `kurt:"url"`
}

func newTestDeps(t *testing.T) (Deps, *registry.Registry) {
	t.Helper()
	s, err := store.Open(store.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	models := registry.New()
	return Deps{DB: s.DB(), Models: models}, models
}

func TestRunPipeline_UnregisteredModelFails(t *testing.T) {
	deps, _ := newTestDeps(t)
	p := pipeline.Pipeline{Name: "ghost_pipeline", Models: []string{"ghost"}}
	pctx := pipeline.NewContext("wf-1", filter.Selector{}, pipeline.ModeFull)

	_, err := RunPipeline(context.Background(), p, pctx, deps)
	assert.Error(t, err)
}

func TestRunPipeline_SingleModelWritesRowsAndCompletesStepLog(t *testing.T) {
	deps, models := newTestDeps(t)
	schema := reference.NewStructSchema[row]()

	models.RegisterModel(registry.Model{
		Name:         "fetch",
		OutputSchema: schema,
		Columns:      schema.Columns(),
		ColumnDefs:   []string{"id TEXT NOT NULL", "url TEXT NOT NULL"},
		PrimaryKey:   []string{"id"},
		Function: func(ctx context.Context, refs map[string]*reference.Reference, w *writer.Writer, cfg any, pctx *pipeline.Context) (registry.ModelResult, error) {
			n, err := w.Write(ctx, []writer.Row{{"id": "1", "url": "https://example.com/a"}})
			return registry.ModelResult{RowsWritten: n}, err
		},
	})

	p := pipeline.Pipeline{Name: "fetch_only", Models: []string{"fetch"}}
	pctx := pipeline.NewContext("wf-1", filter.Selector{}, pipeline.ModeFull)

	summary, err := RunPipeline(context.Background(), p, pctx, deps)
	require.NoError(t, err)
	assert.Equal(t, []string{"fetch"}, summary.ModelsExecuted)
	assert.Equal(t, 1, summary.RowCounts["fetch"])
}

func TestRunPipeline_DownstreamModelSeesUpstreamOutput(t *testing.T) {
	deps, models := newTestDeps(t)
	schema := reference.NewStructSchema[row]()

	models.RegisterModel(registry.Model{
		Name:       "fetch",
		Columns:    schema.Columns(),
		ColumnDefs: []string{"id TEXT NOT NULL", "url TEXT NOT NULL"},
		PrimaryKey: []string{"id"},
		Function: func(ctx context.Context, refs map[string]*reference.Reference, w *writer.Writer, cfg any, pctx *pipeline.Context) (registry.ModelResult, error) {
			n, err := w.Write(ctx, []writer.Row{{"id": "1", "url": "https://example.com/a"}})
			return registry.ModelResult{RowsWritten: n}, err
		},
	})
	models.RegisterModel(registry.Model{
		Name:         "derived",
		OutputSchema: schema,
		Columns:      schema.Columns(),
		ColumnDefs:   []string{"id TEXT NOT NULL", "url TEXT NOT NULL"},
		PrimaryKey:   []string{"id"},
		Inputs:       []string{"fetch"},
		Function: func(ctx context.Context, refs map[string]*reference.Reference, w *writer.Writer, cfg any, pctx *pipeline.Context) (registry.ModelResult, error) {
			upstream, err := refs["fetch"].DF(ctx)
			if err != nil {
				return registry.ModelResult{}, err
			}
			var out []writer.Row
			for _, r := range upstream {
				out = append(out, writer.Row{"id": r.ID, "url": r.URL})
			}
			n, err := w.Write(ctx, out)
			return registry.ModelResult{RowsWritten: n}, err
		},
	})

	p := pipeline.Pipeline{Name: "fetch_then_derive", Models: []string{"fetch", "derived"}}
	pctx := pipeline.NewContext("wf-1", filter.Selector{}, pipeline.ModeFull)

	summary, err := RunPipeline(context.Background(), p, pctx, deps)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.RowCounts["derived"])
}

func TestRunPipeline_SkipRecordActionContinuesPipeline(t *testing.T) {
	deps, models := newTestDeps(t)
	schema := reference.NewStructSchema[row]()

	models.RegisterModel(registry.Model{
		Name:       "flaky",
		Columns:    schema.Columns(),
		ColumnDefs: []string{"id TEXT NOT NULL", "url TEXT NOT NULL"},
		PrimaryKey: []string{"id"},
		Function: func(ctx context.Context, refs map[string]*reference.Reference, w *writer.Writer, cfg any, pctx *pipeline.Context) (registry.ModelResult, error) {
			stepErr := kurterrors.NewWorkflowStepError("flaky", "one record failed")
			stepErr.Action = kurterrors.ActionSkipRecord
			return registry.ModelResult{}, stepErr
		},
	})
	models.RegisterModel(registry.Model{
		Name:       "after",
		Columns:    schema.Columns(),
		ColumnDefs: []string{"id TEXT NOT NULL", "url TEXT NOT NULL"},
		PrimaryKey: []string{"id"},
		Function: func(ctx context.Context, refs map[string]*reference.Reference, w *writer.Writer, cfg any, pctx *pipeline.Context) (registry.ModelResult, error) {
			return registry.ModelResult{}, nil
		},
	})

	p := pipeline.Pipeline{Name: "flaky_then_after", Models: []string{"flaky", "after"}}
	pctx := pipeline.NewContext("wf-1", filter.Selector{}, pipeline.ModeFull)

	summary, err := RunPipeline(context.Background(), p, pctx, deps)
	require.NoError(t, err)
	assert.Equal(t, []string{"flaky", "after"}, summary.ModelsExecuted)
}

func TestRunPipeline_FailModelActionStopsPipeline(t *testing.T) {
	deps, models := newTestDeps(t)
	schema := reference.NewStructSchema[row]()

	models.RegisterModel(registry.Model{
		Name:       "broken",
		Columns:    schema.Columns(),
		ColumnDefs: []string{"id TEXT NOT NULL", "url TEXT NOT NULL"},
		PrimaryKey: []string{"id"},
		Function: func(ctx context.Context, refs map[string]*reference.Reference, w *writer.Writer, cfg any, pctx *pipeline.Context) (registry.ModelResult, error) {
			return registry.ModelResult{}, kurterrors.NewWorkflowStepError("broken", "fatal")
		},
	})
	models.RegisterModel(registry.Model{
		Name:       "never_runs",
		Columns:    schema.Columns(),
		ColumnDefs: []string{"id TEXT NOT NULL", "url TEXT NOT NULL"},
		PrimaryKey: []string{"id"},
		Function: func(ctx context.Context, refs map[string]*reference.Reference, w *writer.Writer, cfg any, pctx *pipeline.Context) (registry.ModelResult, error) {
			t.Fatal("never_runs model must not execute after a fail_model error")
			return registry.ModelResult{}, nil
		},
	})

	p := pipeline.Pipeline{Name: "broken_then_never", Models: []string{"broken", "never_runs"}}
	pctx := pipeline.NewContext("wf-1", filter.Selector{}, pipeline.ModeFull)

	summary, err := RunPipeline(context.Background(), p, pctx, deps)
	assert.Error(t, err)
	assert.Equal(t, []string{"broken"}, summary.ModelsExecuted)

	log, ok, getErr := getStepLogForTest(t, deps.DB, "wf-1", "broken")
	require.NoError(t, getErr)
	require.True(t, ok)
	assert.Equal(t, "failed", log)
}

type greetingConfig struct {
	Greeting string `kurt:"default=hello,fallback=KURT_TEST_GREETING"`
}

func (c greetingConfig) Resolve(r *config.Resolver, name string) (any, error) {
	return config.Resolve[greetingConfig](r, name, nil)
}

// TestRunPipeline_ConfigTypeIsResolvedThroughResolveHook pins the contract
// documented on registry.Model.ConfigType: a model's registered ConfigType
// is not handed back to the model function unchanged, it flows through the
// Config Resolver via the type's Resolve method.
func TestRunPipeline_ConfigTypeIsResolvedThroughResolveHook(t *testing.T) {
	deps, models := newTestDeps(t)
	deps.Resolver = config.NewResolver("", "")
	schema := reference.NewStructSchema[row]()

	var observed any
	models.RegisterModel(registry.Model{
		Name:       "greeter",
		Columns:    schema.Columns(),
		ColumnDefs: []string{"id TEXT NOT NULL", "url TEXT NOT NULL"},
		PrimaryKey: []string{"id"},
		ConfigType: greetingConfig{},
		Function: func(ctx context.Context, refs map[string]*reference.Reference, w *writer.Writer, cfg any, pctx *pipeline.Context) (registry.ModelResult, error) {
			observed = cfg
			return registry.ModelResult{}, nil
		},
	})

	p := pipeline.Pipeline{Name: "greet_only", Models: []string{"greeter"}}
	pctx := pipeline.NewContext("wf-1", filter.Selector{}, pipeline.ModeFull)

	_, err := RunPipeline(context.Background(), p, pctx, deps)
	require.NoError(t, err)
	assert.Equal(t, greetingConfig{Greeting: "hello"}, observed, "unresolved config struct must go through its Resolve hook, not pass through as the registered zero value")
}

func getStepLogForTest(t *testing.T, db *sql.DB, runID, stepID string) (string, bool, error) {
	t.Helper()
	var status string
	err := db.QueryRow(`SELECT status FROM step_logs WHERE run_id = ? AND step_id = ?`, runID, stepID).Scan(&status)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	return status, err == nil, err
}
