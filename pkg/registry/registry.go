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

// Package registry implements the Model Registry: declarative registration
// of models with their output schema, primary key, and config type.
package registry

import (
	"context"
	"sync"

	"github.com/boringdata/kurt-core/pkg/pipeline"
	"github.com/boringdata/kurt-core/pkg/reference"
	"github.com/boringdata/kurt-core/pkg/writer"
)

// ModelResult is a model function's return summary.
type ModelResult struct {
	RowsWritten int
	Errors      []error
}

// ModelFunc is a model's computation body: it receives its bound
// References (keyed by declared input name), a Writer for its own output
// table, its resolved config value, and the run's Pipeline Context — the
// last of these exists so a model that calls batch.RunBatch can derive its
// cache flag as !pctx.NoCache(), per the run's no_cache input.
type ModelFunc func(ctx context.Context, refs map[string]*reference.Reference, w *writer.Writer, cfg any, pctx *pipeline.Context) (ModelResult, error)

// Model is a named unit of computation: schema, primary key, config type,
// and function, dispatched by name via a flat map rather than an
// inheritance tree.
type Model struct {
	Name         string
	OutputSchema reference.RowSchema
	Columns      []string // output schema column order, used by Writer upserts
	ColumnDefs   []string // "name TYPE" fragments in Columns order, used for table DDL
	PrimaryKey   []string
	Inputs       []string // declared upstream model/table names, bound as References
	ConfigType   any      // zero value of the model's config struct, used for reflection by pkg/config
	Function     ModelFunc
}

// Registry is the process-wide Model Registry. Duplicate registration
// overwrites; ClearRegistry supports tests.
type Registry struct {
	mu     sync.RWMutex
	models map[string]Model
}

var (
	globalOnce sync.Once
	global     *Registry
)

// Global returns the process-wide Registry singleton.
func Global() *Registry {
	globalOnce.Do(func() {
		global = New()
	})
	return global
}

// New constructs an empty Registry. Most callers should use Global(); this
// constructor exists for tests and dependency-injected use.
func New() *Registry {
	return &Registry{models: map[string]Model{}}
}

// RegisterModel registers (or overwrites) a model by name.
func (r *Registry) RegisterModel(m Model) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[m.Name] = m
}

// GetModel returns the named model, or ok=false if not registered.
func (r *Registry) GetModel(name string) (Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[name]
	return m, ok
}

// ClearRegistry removes every registered model. Test-only.
func (r *Registry) ClearRegistry() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models = map[string]Model{}
}

// ListModels returns every registered model name.
func (r *Registry) ListModels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.models))
	for name := range r.models {
		out = append(out, name)
	}
	return out
}
