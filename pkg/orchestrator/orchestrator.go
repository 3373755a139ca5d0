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

// Package orchestrator implements the Workflow Orchestrator: the durable
// top-level entry point that materializes a pipeline context, launches the
// runner, and survives process restarts via the step-log table.
package orchestrator

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/boringdata/kurt-core/internal/kurtlog"
	"github.com/boringdata/kurt-core/internal/store"
	"github.com/boringdata/kurt-core/pkg/config"
	"github.com/boringdata/kurt-core/pkg/filter"
	"github.com/boringdata/kurt-core/pkg/pipeline"
	"github.com/boringdata/kurt-core/pkg/registry"
	"github.com/boringdata/kurt-core/pkg/runner"
	"github.com/boringdata/kurt-core/pkg/tracker"
	"github.com/google/uuid"
)

// WorkflowRun is the persisted row owned exclusively by the orchestrator.
type WorkflowRun struct {
	ID          string
	Workflow    string
	Status      string
	StartedAt   *time.Time
	CompletedAt *time.Time
	Inputs      map[string]any
	Metadata    map[string]any
	Error       string
}

// Status values for workflow_runs.status.
const (
	StatusPending            = "pending"
	StatusRunning            = "running"
	StatusCompleted          = "completed"
	StatusCompletedWithError = "completed_with_errors"
	StatusFailed             = "failed"
	StatusCanceled           = "canceled"
)

// Registry of named pipelines available to RunWorkflow, keyed by target
// name. Populated by callers (typically at process start) via Register.
type PipelineRegistry struct {
	pipelines map[string]pipeline.Pipeline
}

// NewPipelineRegistry constructs an empty pipeline registry.
func NewPipelineRegistry() *PipelineRegistry {
	return &PipelineRegistry{pipelines: map[string]pipeline.Pipeline{}}
}

// Register adds a named pipeline.
func (pr *PipelineRegistry) Register(p pipeline.Pipeline) {
	pr.pipelines[p.Name] = p
}

// Get returns the named pipeline.
func (pr *PipelineRegistry) Get(name string) (pipeline.Pipeline, bool) {
	p, ok := pr.pipelines[name]
	return p, ok
}

// Result is run_workflow's return value.
type Result struct {
	WorkflowID     string
	ModelsExecuted []string
	Errors         map[string][]error
	RowCounts      map[string]int
	Status         string
}

// Orchestrator wires the dependencies RunWorkflow needs. Constructing it
// explicitly, rather than relying purely on registry.Global()/config.
// GetResolver(), is the dependency-injected path for environments that
// forbid mutable globals.
type Orchestrator struct {
	DB       *sql.DB
	Models   *registry.Registry
	Pipelines *PipelineRegistry
	Logger   *slog.Logger
}

// RunWorkflow creates a workflow record, builds a Pipeline Context, and
// invokes the Pipeline Runner. noCache is stored in ctx.metadata["no_cache"]
// for models that issue LLM calls.
func (o *Orchestrator) RunWorkflow(ctx context.Context, target string, inputs map[string]any, noCache bool) (Result, error) {
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p, ok := o.Pipelines.Get(target)
	if !ok {
		return Result{}, fmt.Errorf("no pipeline registered for target %q", target)
	}

	workflowID, resuming, err := resolveWorkflowID(inputs)
	if err != nil {
		return Result{}, err
	}

	if resuming {
		run, found, err := getWorkflowRun(ctx, o.DB, workflowID)
		if err != nil {
			return Result{}, err
		}
		if found && run.Status == StatusCanceled {
			return Result{WorkflowID: workflowID, Status: StatusCanceled}, nil
		}
	} else {
		if err := createWorkflowRun(ctx, o.DB, workflowID, target, inputs); err != nil {
			return Result{}, err
		}
	}

	if err := setWorkflowStatus(ctx, o.DB, workflowID, StatusRunning, ""); err != nil {
		return Result{}, err
	}

	sel := selectorFromInputs(inputs)
	mode := pipeline.ModeFull
	if m, ok := inputs["mode"].(string); ok && m == string(pipeline.ModeDelta) {
		mode = pipeline.ModeDelta
	}

	pctx := pipeline.NewContext(workflowID, sel, mode)
	pctx.SetMetadata("no_cache", noCache)

	workflowLogger := kurtlog.ForWorkflow(logger, pctx, target)
	workflowLogger.Info("workflow started", slog.Bool("no_cache", noCache))

	resumable := resumablePipeline(ctx, o.DB, workflowID, p)

	summary, runErr := runner.RunPipeline(ctx, resumable, pctx, runner.Deps{
		DB:       o.DB,
		Resolver: config.GetResolver(),
		Models:   o.Models,
		Logger:   workflowLogger,
	})

	status := StatusCompleted
	errMsg := ""
	if runErr != nil {
		status = StatusFailed
		errMsg = runErr.Error()
	} else if hasErrors(summary.Errors) {
		status = StatusCompletedWithError
	}

	if status == StatusFailed {
		workflowLogger.Error("workflow failed", kurtlog.Error(runErr))
	} else {
		workflowLogger.Info("workflow finished", slog.String("status", status))
	}

	if err := setWorkflowStatus(ctx, o.DB, workflowID, status, errMsg); err != nil {
		return Result{}, err
	}

	return Result{
		WorkflowID:     workflowID,
		ModelsExecuted: summary.ModelsExecuted,
		Errors:         summary.Errors,
		RowCounts:      summary.RowCounts,
		Status:         status,
	}, runErr
}

// Cancel sets the workflow row's status to canceled. RunWorkflow reads that
// status only when it resumes a workflow id, and then returns without
// running any step. A run already in progress is not interrupted: the
// runner does not check the status between steps, a step that fails on a
// canceled ctx is recorded as failed, and the run's final status update
// replaces canceled.
func (o *Orchestrator) Cancel(ctx context.Context, workflowID string) error {
	return setWorkflowStatus(ctx, o.DB, workflowID, StatusCanceled, "")
}

func resolveWorkflowID(inputs map[string]any) (id string, resuming bool, err error) {
	if v, ok := inputs["workflow_id"].(string); ok && v != "" {
		return v, true, nil
	}
	u, err := uuid.NewRandom()
	if err != nil {
		return "", false, fmt.Errorf("generate workflow id: %w", err)
	}
	return u.String(), false, nil
}

func selectorFromInputs(inputs map[string]any) filter.Selector {
	sel := filter.Selector{}
	if v, ok := inputs["include"].(string); ok {
		sel.Include = v
	}
	if v, ok := inputs["exclude"].(string); ok {
		sel.Exclude = v
	}
	if v, ok := inputs["where"].(string); ok {
		sel.Where = v
	}
	if v, ok := inputs["limit"].(int); ok {
		sel.Limit = v
	}
	return sel
}

func hasErrors(errs map[string][]error) bool {
	for _, v := range errs {
		if len(v) > 0 {
			return true
		}
	}
	return false
}

// resumablePipeline filters out models whose step_logs row is already
// completed for this workflow id, implementing the resumability rule: a
// step whose row is completed for this workflow is treated as done; any
// other status causes re-execution.
func resumablePipeline(ctx context.Context, db *sql.DB, workflowID string, p pipeline.Pipeline) pipeline.Pipeline {
	remaining := make([]string, 0, len(p.Models))
	for _, modelName := range p.Models {
		log, found, err := tracker.GetStepLog(ctx, db, workflowID, modelName)
		if err == nil && found && log.Status == "completed" {
			continue
		}
		remaining = append(remaining, modelName)
	}
	return pipeline.Pipeline{Name: p.Name, Models: remaining}
}

func createWorkflowRun(ctx context.Context, db *sql.DB, id, workflow string, inputs map[string]any) error {
	inputsJSON, err := json.Marshal(inputs)
	if err != nil {
		return fmt.Errorf("marshal workflow inputs: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = db.ExecContext(ctx,
		`INSERT INTO workflow_runs (id, workflow, status, started_at, inputs_json, metadata_json)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, workflow, StatusPending, now, string(inputsJSON), "{}")
	if err != nil {
		return fmt.Errorf("create workflow run: %w", err)
	}
	return nil
}

func setWorkflowStatus(ctx context.Context, db *sql.DB, id, status, errMsg string) error {
	var completedAt any
	if status == StatusCompleted || status == StatusCompletedWithError || status == StatusFailed || status == StatusCanceled {
		completedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := db.ExecContext(ctx,
		`UPDATE workflow_runs SET status = ?, error = ?, completed_at = COALESCE(?, completed_at) WHERE id = ?`,
		status, store.NullString(errMsg), completedAt, id)
	if err != nil {
		return fmt.Errorf("update workflow run status: %w", err)
	}
	return nil
}

func getWorkflowRun(ctx context.Context, db *sql.DB, id string) (WorkflowRun, bool, error) {
	row := db.QueryRowContext(ctx, `SELECT id, workflow, status FROM workflow_runs WHERE id = ?`, id)
	var run WorkflowRun
	if err := row.Scan(&run.ID, &run.Workflow, &run.Status); err != nil {
		if err == sql.ErrNoRows {
			return WorkflowRun{}, false, nil
		}
		return WorkflowRun{}, false, fmt.Errorf("get workflow run: %w", err)
	}
	return run, true, nil
}
