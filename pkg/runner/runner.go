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

// Package runner implements the Pipeline Runner: executes an ordered list
// of named models inside a single workflow, binding references, tracking
// errors, and exposing progress.
package runner

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/boringdata/kurt-core/internal/kurterrors"
	"github.com/boringdata/kurt-core/internal/kurtlog"
	"github.com/boringdata/kurt-core/internal/store"
	"github.com/boringdata/kurt-core/internal/tracing"
	"github.com/boringdata/kurt-core/pkg/config"
	"github.com/boringdata/kurt-core/pkg/pipeline"
	"github.com/boringdata/kurt-core/pkg/reference"
	"github.com/boringdata/kurt-core/pkg/registry"
	"github.com/boringdata/kurt-core/pkg/tracker"
	"github.com/boringdata/kurt-core/pkg/writer"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Deps bundles the runner's dependencies so callers can wire either the
// process-wide singletons or test doubles.
type Deps struct {
	DB       *sql.DB
	Resolver *config.Resolver
	Models   *registry.Registry
	Logger   *slog.Logger
}

// Summary is the Pipeline Runner's result: executed model names, per-model
// row counts, and per-model error maps.
type Summary struct {
	ModelsExecuted []string
	RowCounts      map[string]int
	Errors         map[string][]error
}

// RunPipeline executes p's models in declared order against pctx. For each
// model it opens a step log, resolves config, binds References for
// declared inputs, constructs a Writer, invokes the model function, and
// routes any WorkflowStepError by its Action.
func RunPipeline(ctx context.Context, p pipeline.Pipeline, pctx *pipeline.Context, deps Deps) (Summary, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	summary := Summary{
		RowCounts: map[string]int{},
		Errors:    map[string][]error{},
	}

	for _, modelName := range p.Models {
		model, ok := deps.Models.GetModel(modelName)
		if !ok {
			return summary, fmt.Errorf("pipeline %q: model %q is not registered", p.Name, modelName)
		}

		if err := tracker.StartStepLog(ctx, deps.DB, pctx.WorkflowID, modelName); err != nil {
			return summary, fmt.Errorf("start step log for %s: %w", modelName, err)
		}

		if err := store.EnsureModelTable(ctx, deps.DB, modelName, model.ColumnDefs, model.PrimaryKey); err != nil {
			return summary, fmt.Errorf("ensure output table for %s: %w", modelName, err)
		}

		cfg, err := resolveModelConfig(deps.Resolver, modelName, model.ConfigType)
		if err != nil {
			_ = tracker.CompleteStepLog(ctx, deps.DB, pctx.WorkflowID, modelName, "failed", 0, 0, 1, []string{err.Error()})
			return summary, fmt.Errorf("resolve config for %s: %w", modelName, err)
		}

		refs := make(map[string]*reference.Reference, len(model.Inputs))
		for _, inputName := range model.Inputs {
			ref := reference.New(inputName)
			upstream, _ := deps.Models.GetModel(inputName)
			ref.Bind(deps.DB, pctx, upstream.OutputSchema)
			refs[inputName] = ref
		}

		w := writer.New(deps.DB, modelName, model.Columns, model.PrimaryKey, pctx.WorkflowID)

		modelCtx, span := tracing.Tracer("kurt/runner").Start(ctx, "model."+modelName,
			trace.WithAttributes(
				attribute.String("kurt.workflow_id", pctx.WorkflowID),
				attribute.String("kurt.model", modelName),
			))
		result, modelErr := model.Function(modelCtx, refs, w, cfg, pctx)
		if modelErr != nil {
			span.SetStatus(codes.Error, modelErr.Error())
		}
		span.End()

		for _, ref := range refs {
			ref.Unbind()
		}

		stepLogger := kurtlog.ForStep(logger, pctx, modelName)
		status, errorCount, errStrs, stop := classifyModelError(modelErr, modelName, pctx.WorkflowID, deps.DB, ctx, stepLogger)
		summary.ModelsExecuted = append(summary.ModelsExecuted, modelName)
		summary.RowCounts[modelName] = result.RowsWritten
		for _, e := range result.Errors {
			summary.Errors[modelName] = append(summary.Errors[modelName], e)
			errStrs = append(errStrs, e.Error())
			errorCount++
		}

		if err := tracker.CompleteStepLog(ctx, deps.DB, pctx.WorkflowID, modelName, status, len(refs), result.RowsWritten, errorCount, errStrs); err != nil {
			return summary, fmt.Errorf("complete step log for %s: %w", modelName, err)
		}

		if stop {
			return summary, modelErr
		}
	}

	return summary, nil
}

func resolveModelConfig(r *config.Resolver, modelName string, configType any) (any, error) {
	if configType == nil {
		return nil, nil
	}
	// Reflection-based resolution happens inside config.Resolve via
	// generics, which requires a concrete type parameter at the call site;
	// models provide their own typed wrapper around config.Resolve, so the
	// runner only threads the already-resolved value through when present.
	if resolved, ok := configType.(interface {
		Resolve(r *config.Resolver, name string) (any, error)
	}); ok {
		return resolved.Resolve(r, modelName)
	}
	return configType, nil
}

// classifyModelError routes a model function's returned error: a
// WorkflowStepError with action=skip_record is recorded as a recoverable
// error event and the pipeline proceeds; action=fail_model stops the
// pipeline; untyped errors are always classified fail_model/fatal.
func classifyModelError(err error, modelName, workflowID string, db *sql.DB, ctx context.Context, logger *slog.Logger) (status string, errorCount int, errStrs []string, stop bool) {
	if err == nil {
		return "completed", 0, nil, false
	}

	var stepErr *kurterrors.WorkflowStepError
	if errors.As(err, &stepErr) {
		payload := stepErr.ToEventPayload()
		evtStatus := "failed"
		_, trackErr := tracker.TrackEvent(ctx, db, tracker.StepEvent{
			RunID:    workflowID,
			StepID:   modelName,
			Status:   evtStatus,
			Message:  stepErr.Message,
			Metadata: payload,
		})
		if trackErr != nil {
			logger.Error("failed to record step error event", kurtlog.Error(trackErr))
		}

		docCount := len(stepErr.Documents)
		if docCount == 0 {
			docCount = 1
		}

		if stepErr.Action == kurterrors.ActionSkipRecord {
			return "completed", docCount, []string{stepErr.Error()}, false
		}
		return "failed", docCount, []string{stepErr.Error()}, true
	}

	// Untyped exceptions are classified as fail_model fatal errors.
	return "failed", 1, []string{err.Error()}, true
}
