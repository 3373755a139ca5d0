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

// Package kurtlog sets up the structured logger used across the orchestrator
// and runner, and decorates it with the workflow/model/provider fields those
// two packages actually emit.
package kurtlog

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/boringdata/kurt-core/pkg/pipeline"
)

// Format selects the slog handler New builds.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Field keys shared by every decorator below, so a log aggregator can query
// across orchestrator and runner output on the same attribute names.
const (
	WorkflowIDKey = "workflow_id"
	TargetKey     = "target"
	ModeKey       = "mode"
	ModelKey      = "model"
	ProviderKey   = "provider"
	DurationKey   = "duration_ms"
)

// Config holds the logging configuration.
type Config struct {
	Level     string
	Format    Format
	Output    io.Writer
	AddSource bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Level:     "info",
		Format:    FormatJSON,
		Output:    os.Stderr,
		AddSource: false,
	}
}

// FromEnv builds a Config from:
//   - KURT_DEBUG: true/1 enables debug level and source logging
//   - KURT_LOG_LEVEL: debug, info, warn, error
//   - KURT_LOG_FORMAT: json, text
//   - KURT_LOG_SOURCE: 1 to enable source file/line
func FromEnv() *Config {
	cfg := DefaultConfig()

	if debug := os.Getenv("KURT_DEBUG"); debug == "true" || debug == "1" {
		cfg.Level = "debug"
		cfg.AddSource = true
	} else if level := os.Getenv("KURT_LOG_LEVEL"); level != "" {
		cfg.Level = strings.ToLower(level)
	}

	if format := os.Getenv("KURT_LOG_FORMAT"); format != "" {
		cfg.Format = Format(strings.ToLower(format))
	}
	if os.Getenv("KURT_LOG_SOURCE") == "1" {
		cfg.AddSource = true
	}

	return cfg
}

// New builds a slog.Logger from cfg, defaulting cfg itself when nil.
func New(cfg *Config) *slog.Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level), AddSource: cfg.AddSource}

	var handler slog.Handler
	if cfg.Format == FormatText {
		handler = slog.NewTextHandler(cfg.Output, opts)
	} else {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ForWorkflow decorates logger with the fields identifying one orchestrator
// run: the resolved workflow id, the pipeline target that was invoked, and
// the incremental mode the Pipeline Context carries. Callers reach this
// through the *pipeline.Context the orchestrator just built, rather than
// passing its fields through individually, so the decoration can't drift
// from what the run actually used.
func ForWorkflow(logger *slog.Logger, pctx *pipeline.Context, target string) *slog.Logger {
	return logger.With(
		slog.String(WorkflowIDKey, pctx.WorkflowID),
		slog.String(TargetKey, target),
		slog.String(ModeKey, string(pctx.Mode)),
	)
}

// ForStep decorates logger for a single model's execution within pctx's
// workflow. The Pipeline Runner calls this once per model, so step-scoped
// log lines (config resolution failures, step-error classification) carry
// the workflow id alongside the model that raised them.
func ForStep(logger *slog.Logger, pctx *pipeline.Context, modelName string) *slog.Logger {
	return logger.With(
		slog.String(WorkflowIDKey, pctx.WorkflowID),
		slog.String(ModelKey, modelName),
	)
}

// ForProvider decorates logger with the document provider name, for the
// provider registry's warning about a provider that failed to load.
func ForProvider(logger *slog.Logger, provider string) *slog.Logger {
	return logger.With(slog.String(ProviderKey, provider))
}

// Error builds a standard error attribute.
func Error(err error) slog.Attr {
	return slog.Any("error", err)
}

// Duration builds a duration attribute in milliseconds.
func Duration(ms int64) slog.Attr {
	return slog.Int64(DurationKey, ms)
}
