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

// Package kurterrors defines the typed error taxonomy used across the
// pipeline execution core: config errors, interpolation errors, provider
// errors, step errors, and timeout/cancellation errors.
package kurterrors

import (
	"fmt"
	"time"
)

// ConfigError represents a config resolution failure (coercion failure
// naming a field and its expected type; malformed files degrade to empty
// rather than raising this).
type ConfigError struct {
	Field        string
	ExpectedType string
	Reason       string
	Cause        error
}

func (e *ConfigError) Error() string {
	if e.ExpectedType != "" {
		return fmt.Sprintf("config error on %s: %s (expected %s)", e.Field, e.Reason, e.ExpectedType)
	}
	return fmt.Sprintf("config error on %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return e.Cause }

// VarError represents an interpolation failure. Type is one of
// unknown_var, missing_input, type_coercion, escape_error.
type VarError struct {
	Type         string
	Var          string
	Step         string
	Field        string
	Message      string
	ExpectedType string
}

func (e *VarError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("%s: %s (step=%s field=%s var=%s)", e.Type, e.Message, e.Step, e.Field, e.Var)
	}
	return fmt.Sprintf("%s: %s (field=%s var=%s)", e.Type, e.Message, e.Field, e.Var)
}

// ProviderNotFoundError is raised by Registry.GetChecked when no provider
// with the requested name is registered for the tool.
type ProviderNotFoundError struct {
	Tool      string
	Name      string
	Available []string
}

func (e *ProviderNotFoundError) Error() string {
	return fmt.Sprintf("provider %q not found for tool %q (available: %v)", e.Name, e.Tool, e.Available)
}

// ProviderRequirementsError is raised by Registry.GetChecked when a provider
// is found but its required environment variables are not set.
type ProviderRequirementsError struct {
	Provider string
	Missing  []string
}

func (e *ProviderRequirementsError) Error() string {
	return fmt.Sprintf("provider %q is missing required environment: %v", e.Provider, e.Missing)
}

// WorkflowDocumentRef carries document-level context for surgical error
// reporting. All fields are optional; a zero-value ref is valid and renders
// as "DocRef()".
type WorkflowDocumentRef struct {
	DocumentID    string
	SectionID     string
	SourceURL     string
	CMSDocumentID string
	Hash          string
	EntityName    string
	ClaimHash     string
}

// ToMap returns the ref as a map, excluding empty fields.
func (r WorkflowDocumentRef) ToMap() map[string]string {
	m := map[string]string{}
	add := func(k, v string) {
		if v != "" {
			m[k] = v
		}
	}
	add("document_id", r.DocumentID)
	add("section_id", r.SectionID)
	add("source_url", r.SourceURL)
	add("cms_document_id", r.CMSDocumentID)
	add("hash", r.Hash)
	add("entity_name", r.EntityName)
	add("claim_hash", r.ClaimHash)
	return m
}

// String renders a compact representation, e.g. "doc=d1 sec=s1" or
// "entity=Python", or "DocRef()" when every field is empty.
func (r WorkflowDocumentRef) String() string {
	parts := []string{}
	if r.DocumentID != "" {
		parts = append(parts, "doc="+r.DocumentID)
	}
	if r.SectionID != "" {
		parts = append(parts, "sec="+r.SectionID)
	}
	if r.SourceURL != "" {
		parts = append(parts, "url="+r.SourceURL)
	}
	if r.CMSDocumentID != "" {
		parts = append(parts, "cms="+r.CMSDocumentID)
	}
	if r.Hash != "" {
		parts = append(parts, "hash="+r.Hash)
	}
	if r.EntityName != "" {
		parts = append(parts, "entity="+r.EntityName)
	}
	if r.ClaimHash != "" {
		parts = append(parts, "claim="+r.ClaimHash)
	}
	if len(parts) == 0 {
		return "DocRef()"
	}
	s := ""
	for i, p := range parts {
		if i > 0 {
			s += " "
		}
		s += p
	}
	return s
}

// StepAction controls how the Pipeline Runner reacts to a WorkflowStepError.
type StepAction string

const (
	ActionSkipRecord StepAction = "skip_record"
	ActionFailModel  StepAction = "fail_model"
)

// StepSeverity classifies a WorkflowStepError for reporting purposes.
type StepSeverity string

const (
	SeverityRecoverable StepSeverity = "recoverable"
	SeverityFatal       StepSeverity = "fatal"
)

// WorkflowStepError is the typed error a model function raises to signal a
// recoverable (skip_record) or fatal (fail_model) failure. Untyped errors
// returned from a model function are always classified fail_model/fatal by
// the runner.
type WorkflowStepError struct {
	Step      string
	Message   string
	Action    StepAction
	Severity  StepSeverity
	Documents []WorkflowDocumentRef
	Metadata  map[string]any
	Cause     error
	Retryable bool
}

// NewWorkflowStepError builds a WorkflowStepError with the spec's defaults:
// action=fail_model, severity=fatal.
func NewWorkflowStepError(step, message string) *WorkflowStepError {
	return &WorkflowStepError{
		Step:     step,
		Message:  message,
		Action:   ActionFailModel,
		Severity: SeverityFatal,
		Metadata: map[string]any{},
	}
}

func (e *WorkflowStepError) Error() string {
	s := fmt.Sprintf("[%s] %s (%d document(s) affected)", e.Step, e.Message, len(e.Documents))
	if e.Cause != nil {
		s += fmt.Sprintf(" Caused by: %T: %s", e.Cause, e.Cause.Error())
	}
	return s
}

func (e *WorkflowStepError) Unwrap() error { return e.Cause }

// GoString implements a repr-style rendering for debugging.
func (e *WorkflowStepError) GoString() string {
	return fmt.Sprintf("WorkflowStepError(step=%q, documents=%d)", e.Step, len(e.Documents))
}

// ForDocument returns a new WorkflowStepError with the given document
// reference appended. The receiver is not mutated.
func (e *WorkflowStepError) ForDocument(doc WorkflowDocumentRef) *WorkflowStepError {
	next := *e
	next.Documents = append(append([]WorkflowDocumentRef{}, e.Documents...), doc)
	return &next
}

// WithDocuments returns a new WorkflowStepError with its documents list
// replaced entirely. The receiver is not mutated.
func (e *WorkflowStepError) WithDocuments(docs []WorkflowDocumentRef) *WorkflowStepError {
	next := *e
	next.Documents = append([]WorkflowDocumentRef{}, docs...)
	return &next
}

// RootCause walks the Cause chain to the deepest non-nil cause, returning
// the receiver itself when there is no cause.
func (e *WorkflowStepError) RootCause() error {
	var cause error = e
	for {
		type unwrapper interface{ Unwrap() error }
		u, ok := cause.(unwrapper)
		if !ok {
			return cause
		}
		next := u.Unwrap()
		if next == nil {
			return cause
		}
		cause = next
	}
}

// ToEventPayload renders the error as the payload shape recorded into
// step_events.
func (e *WorkflowStepError) ToEventPayload() map[string]any {
	docs := make([]map[string]string, 0, len(e.Documents))
	for _, d := range e.Documents {
		docs = append(docs, d.ToMap())
	}
	payload := map[string]any{
		"step":      e.Step,
		"message":   e.Message,
		"action":    string(e.Action),
		"severity":  string(e.Severity),
		"documents": docs,
		"metadata":  e.Metadata,
		"retryable": e.Retryable,
	}
	if e.Cause != nil {
		payload["cause_type"] = fmt.Sprintf("%T", e.Cause)
		payload["cause_message"] = e.Cause.Error()
	} else {
		payload["cause_type"] = nil
		payload["cause_message"] = nil
	}
	return payload
}

// TimeoutError represents a per-item batch timeout or any other operation
// timeout.
type TimeoutError struct {
	Operation string
	Duration  time.Duration
	Cause     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %v", e.Operation, e.Duration)
}

func (e *TimeoutError) Unwrap() error { return e.Cause }

// CanceledError is carried distinctly from other batch/workflow failures so
// callers can distinguish "stopped" from "failed".
type CanceledError struct {
	Operation string
}

func (e *CanceledError) Error() string {
	return fmt.Sprintf("%s canceled", e.Operation)
}
