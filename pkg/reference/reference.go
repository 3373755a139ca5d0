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

// Package reference implements the lazy, scope-bound Reference handle a
// model receives for each declared upstream input.
package reference

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/boringdata/kurt-core/pkg/filter"
	"github.com/boringdata/kurt-core/pkg/pipeline"
)

// RowSchema describes the shape of a model's output rows: its column names
// and a scan-destination factory, used by Reference.DF to materialize rows.
type RowSchema interface {
	// Columns returns the SELECT column list in schema order.
	Columns() []string
	// NewScanDest returns pointers suitable for (*sql.Rows).Scan, in the
	// same order as Columns.
	NewScanDest() []any
	// RowFromScanDest converts the scanned destinations into a filter.Row.
	RowFromScanDest(dest []any) filter.Row
}

// Reference is a lazy handle to a model's output table. It is unbound at
// construction and must be bound via Bind before its Query/DF/Ctx/ModelClass
// properties may be accessed.
type Reference struct {
	modelName string

	session     *sql.DB
	ctx         *pipeline.Context
	modelClass  RowSchema
	bound       bool
}

// New constructs an unbound Reference for the given upstream model name (or
// raw table name).
func New(modelName string) *Reference {
	return &Reference{modelName: modelName}
}

// ModelName returns the name this Reference was constructed with.
func (r *Reference) ModelName() string { return r.modelName }

// TableName converts a dotted model name into its output table name by
// replacing dots with underscores. A plain (non-dotted) name passes through
// unchanged.
func (r *Reference) TableName() string {
	return strings.ReplaceAll(r.modelName, ".", "_")
}

// UpstreamModel returns the dotted model name this reference points at, and
// true, when the constructor name contained a dot (i.e. it names a
// registered model rather than a raw table). It returns ("", false) for a
// plain table name.
func (r *Reference) UpstreamModel() (string, bool) {
	if strings.Contains(r.modelName, ".") {
		return r.modelName, true
	}
	return "", false
}

// Bind attaches a Reference to the session, pipeline context, and row schema
// for the duration of one step. Rebinding is allowed (useful in tests and
// when a step reuses a Reference across sub-operations).
func (r *Reference) Bind(session *sql.DB, ctx *pipeline.Context, schema RowSchema) {
	r.session = session
	r.ctx = ctx
	r.modelClass = schema
	r.bound = true
}

// Unbind releases the binding at step exit, per the Reference lifecycle.
func (r *Reference) Unbind() {
	r.session = nil
	r.ctx = nil
	r.modelClass = nil
	r.bound = false
}

func (r *Reference) requireBound(what string) error {
	if !r.bound {
		return fmt.Errorf("reference %q: %s: not bound to session", r.modelName, what)
	}
	return nil
}

// Ctx returns the bound pipeline context.
func (r *Reference) Ctx() (*pipeline.Context, error) {
	if err := r.requireBound("ctx"); err != nil {
		return nil, err
	}
	return r.ctx, nil
}

// Session returns the bound database handle.
func (r *Reference) Session() (*sql.DB, error) {
	if err := r.requireBound("session"); err != nil {
		return nil, err
	}
	return r.session, nil
}

// ModelClass returns the bound row schema.
func (r *Reference) ModelClass() (RowSchema, error) {
	if !r.bound {
		return nil, fmt.Errorf("reference %q has no model class: not bound to session", r.modelName)
	}
	return r.modelClass, nil
}

// Query runs the implicit workflow-id-scoped SELECT against the reference's
// table and returns the raw *sql.Rows. Callers that need filtering or
// materialization should prefer DF.
func (r *Reference) Query(ctx context.Context) (*sql.Rows, error) {
	if err := r.requireBound("query"); err != nil {
		return nil, err
	}
	cols := strings.Join(r.modelClass.Columns(), ", ")
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE workflow_id = ?", cols, r.TableName())
	return r.session.QueryContext(ctx, stmt, r.ctx.WorkflowID)
}

// DF materializes the bound table's rows, implicitly scoped to the current
// pipeline context's workflow id (invariant 1: rows from other workflows
// are never visible through a Reference).
func (r *Reference) DF(ctx context.Context) ([]filter.Row, error) {
	rows, err := r.Query(ctx)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []filter.Row
	for rows.Next() {
		dest := r.modelClass.NewScanDest()
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan row from %s: %w", r.TableName(), err)
		}
		out = append(out, r.modelClass.RowFromScanDest(dest))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
