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

package kurtlog

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/boringdata/kurt-core/pkg/filter"
	"github.com/boringdata/kurt-core/pkg/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONFormatWritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	logger.Info("step started", slog.String(ModelKey, "fetch"))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "step started", decoded["msg"])
	assert.Equal(t, "fetch", decoded[ModelKey])
}

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatText, Output: &buf})

	logger.Info("hello")

	assert.Contains(t, buf.String(), "msg=\"hello\"")
}

func TestNew_NilConfigFallsBackToDefault(t *testing.T) {
	logger := New(nil)
	assert.NotNil(t, logger)
}

func TestNew_LevelFiltersBelowThreshold(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "warn", Format: FormatJSON, Output: &buf})

	logger.Info("should be dropped")
	assert.Empty(t, buf.Bytes())

	logger.Warn("should appear")
	assert.NotEmpty(t, buf.Bytes())
}

func TestFromEnv_DebugEnablesDebugLevelAndSource(t *testing.T) {
	t.Setenv("KURT_DEBUG", "true")
	t.Setenv("KURT_LOG_LEVEL", "")
	t.Setenv("KURT_LOG_FORMAT", "")
	t.Setenv("KURT_LOG_SOURCE", "")

	cfg := FromEnv()
	assert.Equal(t, "debug", cfg.Level)
	assert.True(t, cfg.AddSource)
}

func TestFromEnv_ExplicitLevelAndFormat(t *testing.T) {
	t.Setenv("KURT_DEBUG", "")
	t.Setenv("KURT_LOG_LEVEL", "WARN")
	t.Setenv("KURT_LOG_FORMAT", "TEXT")
	t.Setenv("KURT_LOG_SOURCE", "")

	cfg := FromEnv()
	assert.Equal(t, "warn", cfg.Level)
	assert.Equal(t, FormatText, cfg.Format)
}

func TestForWorkflow_DecoratesWorkflowTargetAndMode(t *testing.T) {
	var buf bytes.Buffer
	base := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})
	pctx := pipeline.NewContext("wf-1", filter.Selector{}, pipeline.ModeDelta)
	logger := ForWorkflow(base, pctx, "domain_analytics")

	logger.Info("running")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "wf-1", decoded[WorkflowIDKey])
	assert.Equal(t, "domain_analytics", decoded[TargetKey])
	assert.Equal(t, "delta", decoded[ModeKey])
}

func TestForStep_DecoratesWorkflowAndModel(t *testing.T) {
	var buf bytes.Buffer
	base := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})
	pctx := pipeline.NewContext("wf-1", filter.Selector{}, pipeline.ModeFull)
	logger := ForStep(base, pctx, "fetch")

	logger.Info("running")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "wf-1", decoded[WorkflowIDKey])
	assert.Equal(t, "fetch", decoded[ModelKey])
}

func TestForProvider_DecoratesField(t *testing.T) {
	var buf bytes.Buffer
	base := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})
	logger := ForProvider(base, "http")

	logger.Info("fetching")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "http", decoded[ProviderKey])
}

func TestError_WrapsErrorAsAttr(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	logger.Info("failed", Error(errors.New("boom")))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "boom", decoded["error"])
}

func TestDuration_SetsMillisecondField(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	logger.Info("done", Duration(42))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, float64(42), decoded[DurationKey])
}
