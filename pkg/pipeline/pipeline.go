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

// Package pipeline defines the Pipeline value and the per-run Pipeline
// Context threaded through the runner and orchestrator.
package pipeline

import (
	"sync"

	"github.com/boringdata/kurt-core/pkg/filter"
)

// Pipeline is an ordered list of model names. It is identified by a string
// name and has no state of its own; executing it produces a run.
type Pipeline struct {
	Name   string
	Models []string
}

// IncrementalMode distinguishes a full reprocessing run from a delta run.
type IncrementalMode string

const (
	ModeFull  IncrementalMode = "full"
	ModeDelta IncrementalMode = "delta"
)

// Context is the per-run shared state passed to every model. It is mutable
// only by the orchestrator; models see it as read-only.
type Context struct {
	WorkflowID  string
	Selector    filter.Selector
	Mode        IncrementalMode
	metadata    map[string]any
	metadataMu  sync.RWMutex
}

// NewContext constructs a Context for a workflow run.
func NewContext(workflowID string, sel filter.Selector, mode IncrementalMode) *Context {
	return &Context{
		WorkflowID: workflowID,
		Selector:   sel,
		Mode:       mode,
		metadata:   map[string]any{},
	}
}

// SetMetadata stores a metadata value. Only the orchestrator should call
// this; models read via Metadata/NoCache.
func (c *Context) SetMetadata(key string, value any) {
	c.metadataMu.Lock()
	defer c.metadataMu.Unlock()
	c.metadata[key] = value
}

// Metadata returns a metadata value and whether it was present.
func (c *Context) Metadata(key string) (any, bool) {
	c.metadataMu.RLock()
	defer c.metadataMu.RUnlock()
	v, ok := c.metadata[key]
	return v, ok
}

// NoCache reports the cache-bypass flag threaded from the workflow's
// no_cache input through ctx.metadata["no_cache"]. Models derive their
// Batch LLM Executor's cache flag as cache = !ctx.NoCache().
func (c *Context) NoCache() bool {
	v, ok := c.Metadata("no_cache")
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}
