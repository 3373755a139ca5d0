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

// Package pipelines declares the built-in pipelines available as targets to
// "kurt run". A pipeline is just an ordered model name list (pkg/pipeline);
// this package is the one place that orders them into named targets.
package pipelines

import (
	"github.com/boringdata/kurt-core/pkg/orchestrator"
	"github.com/boringdata/kurt-core/pkg/pipeline"
)

// DefaultRegistry returns the PipelineRegistry backing the built-in example
// models in pkg/models. Callers that define their own models register their
// own pipelines the same way, by constructing an *orchestrator.
// PipelineRegistry and calling Register.
func DefaultRegistry() *orchestrator.PipelineRegistry {
	pr := orchestrator.NewPipelineRegistry()

	pr.Register(pipeline.Pipeline{
		Name:   "domain_analytics",
		Models: []string{"fetch", "domain_analytics"},
	})

	return pr
}
