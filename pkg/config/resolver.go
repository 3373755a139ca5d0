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

// Package config implements the layered Config Resolver: given a name
// ("module" or "module.step") and a typed schema, it produces a fully
// resolved value by walking overrides, project/user config files, the
// workflow-level key, a global fallback, and finally the declared default.
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/boringdata/kurt-core/internal/kurterrors"
)

// fieldTag is the parsed form of a `kurt:"..."` struct tag.
type fieldTag struct {
	hasDefault      bool
	defaultValue    string
	fallbackEnv     string
	workflowFallback bool
	hasMin, hasMax  bool
	min, max        float64
}

func parseFieldTag(tag string) fieldTag {
	var ft fieldTag
	for _, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if part == "workflow_fallback" {
			ft.workflowFallback = true
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key, val := kv[0], kv[1]
		switch key {
		case "default":
			ft.hasDefault = true
			ft.defaultValue = val
		case "fallback":
			ft.fallbackEnv = val
		case "min":
			if f, err := strconv.ParseFloat(val, 64); err == nil {
				ft.hasMin = true
				ft.min = f
			}
		case "max":
			if f, err := strconv.ParseFloat(val, 64); err == nil {
				ft.hasMax = true
				ft.max = f
			}
		}
	}
	return ft
}

// Resolver is the process-wide Config Resolver singleton. It caches loaded
// config files and exposes Reset for tests.
type Resolver struct {
	mu          sync.RWMutex
	projectPath string
	userPath    string
	project     *tomlFile
	user        *tomlFile
	loaded      bool
}

var (
	globalOnce     sync.Once
	globalResolver *Resolver
)

// GetResolver returns the process-wide Resolver singleton.
func GetResolver() *Resolver {
	globalOnce.Do(func() {
		globalResolver = NewResolver(defaultProjectPath(), defaultUserPath())
	})
	return globalResolver
}

func defaultProjectPath() string {
	root := os.Getenv("KURT_PROJECT_ROOT")
	if root == "" {
		root, _ = os.Getwd()
	}
	return filepath.Join(root, "kurt.toml")
}

func defaultUserPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".kurt", "config.toml")
}

// NewResolver constructs a Resolver reading from the given project and user
// config file paths. Most callers should use GetResolver; this constructor
// exists for tests and for dependency-injected use in environments that
// forbid mutable globals.
func NewResolver(projectPath, userPath string) *Resolver {
	return &Resolver{projectPath: projectPath, userPath: userPath}
}

// ProjectPath returns the project config file path this Resolver reads.
func (r *Resolver) ProjectPath() string { return r.projectPath }

// UserPath returns the user config file path this Resolver reads.
func (r *Resolver) UserPath() string { return r.userPath }

// Diagnose reports which of the project/user config files exist and are
// readable, for "kurt config validate". It never fails: a missing or
// unreadable file is reported as a diagnostic line, matching the
// resolver's own degrade-to-empty behavior rather than raising.
func (r *Resolver) Diagnose() []string {
	var lines []string
	for _, p := range []struct{ label, path string }{
		{"project", r.projectPath},
		{"user", r.userPath},
	} {
		if p.path == "" {
			lines = append(lines, fmt.Sprintf("%s config: not configured", p.label))
			continue
		}
		if _, err := os.Stat(p.path); err != nil {
			lines = append(lines, fmt.Sprintf("%s config: %s (absent, resolving with defaults only)", p.label, p.path))
			continue
		}
		lines = append(lines, fmt.Sprintf("%s config: %s (found)", p.label, p.path))
	}
	return lines
}

// Reset clears the cached file contents, forcing a reload on next Resolve.
// Test-only.
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaded = false
	r.project = nil
	r.user = nil
}

func (r *Resolver) ensureLoaded() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loaded {
		return
	}
	r.project = loadTOMLFile(r.projectPath)
	r.user = loadTOMLFile(r.userPath)
	r.loaded = true
}

func loadTOMLFile(path string) *tomlFile {
	if path == "" {
		return newTOMLFile()
	}
	f, err := os.Open(path)
	if err != nil {
		// Missing or malformed files degrade to "empty" rather than
		// failing the resolver.
		return newTOMLFile()
	}
	defer f.Close()
	return parseTOML(bufio.NewScanner(f))
}

// Resolve produces a fully typed config value of type T for the given
// name ("module" or "module.step"), applying the six-step fallback chain
// per field.
func Resolve[T any](r *Resolver, name string, overrides map[string]any) (T, error) {
	var zero T
	r.ensureLoaded()

	module, step, isStep := splitName(name)

	typ := reflect.TypeOf(zero)
	val := reflect.New(typ).Elem()

	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		tag, ok := field.Tag.Lookup("kurt")
		if !ok {
			continue
		}
		ft := parseFieldTag(tag)
		fieldKey := fieldNameToKey(field.Name)

		resolved, err := r.resolveField(module, step, isStep, fieldKey, ft, overrides)
		if err != nil {
			return zero, err
		}

		coerced, err := coerceTo(resolved, field.Type, fieldKey, ft)
		if err != nil {
			return zero, err
		}
		val.Field(i).Set(reflect.ValueOf(coerced).Convert(field.Type))
	}

	return val.Interface().(T), nil
}

func splitName(name string) (module, step string, isStep bool) {
	parts := strings.SplitN(name, ".", 2)
	if len(parts) == 2 {
		return parts[0], parts[1], true
	}
	return parts[0], "", false
}

func fieldNameToKey(name string) string {
	var b strings.Builder
	for i, r := range name {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte('_')
		}
		b.WriteRune(r)
	}
	return strings.ToLower(b.String())
}

func (r *Resolver) resolveField(module, step string, isStep bool, fieldKey string, ft fieldTag, overrides map[string]any) (any, error) {
	// 1. Explicit override.
	if overrides != nil {
		if v, ok := overrides[fieldKey]; ok {
			return v, nil
		}
	}

	section := "tool." + module

	// 2 & 3. Step-specific key in project then user config.
	if isStep {
		stepKey := step + "." + fieldKey
		if v, ok := r.project.get(section, stepKey); ok {
			return coerceScalar(v), nil
		}
		if v, ok := r.user.get(section, stepKey); ok {
			return coerceScalar(v), nil
		}
	} else if !ft.workflowFallback {
		// At workflow level the field's own key is MODULE.FIELD; fields
		// marked workflow_fallback ignore it there.
		if v, ok := r.project.get(section, fieldKey); ok {
			return coerceScalar(v), nil
		}
		if v, ok := r.user.get(section, fieldKey); ok {
			return coerceScalar(v), nil
		}
	}

	// 4. Workflow-level key, only if the field opts in and we're not
	// already being invoked at workflow level (nothing to fall back from).
	if ft.workflowFallback && isStep {
		if v, ok := r.project.get(section, fieldKey); ok {
			return coerceScalar(v), nil
		}
		if v, ok := r.user.get(section, fieldKey); ok {
			return coerceScalar(v), nil
		}
	}

	// 5. Global fallback key (environment variable).
	if ft.fallbackEnv != "" {
		if v, ok := os.LookupEnv(ft.fallbackEnv); ok {
			return coerceScalar(v), nil
		}
	}

	// 6. Declared default.
	if ft.hasDefault {
		return coerceScalar(ft.defaultValue), nil
	}

	return nil, nil
}

func coerceTo(value any, target reflect.Type, fieldKey string, ft fieldTag) (any, error) {
	if value == nil {
		return reflect.Zero(target).Interface(), nil
	}

	switch target.Kind() {
	case reflect.String:
		return fmt.Sprintf("%v", value), nil
	case reflect.Bool:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, &kurterrors.ConfigError{Field: fieldKey, ExpectedType: "bool", Reason: "cannot parse as bool", Cause: err}
			}
			return b, nil
		default:
			return nil, &kurterrors.ConfigError{Field: fieldKey, ExpectedType: "bool", Reason: "cannot coerce to bool"}
		}
	case reflect.Int, reflect.Int64, reflect.Int32:
		n, err := toInt64(value)
		if err != nil {
			return nil, &kurterrors.ConfigError{Field: fieldKey, ExpectedType: "int", Reason: "cannot parse as int", Cause: err}
		}
		if err := checkBounds(float64(n), fieldKey, ft); err != nil {
			return nil, err
		}
		return n, nil
	case reflect.Float64, reflect.Float32:
		f, err := toFloat64(value)
		if err != nil {
			return nil, &kurterrors.ConfigError{Field: fieldKey, ExpectedType: "float", Reason: "cannot parse as float", Cause: err}
		}
		if err := checkBounds(f, fieldKey, ft); err != nil {
			return nil, err
		}
		return f, nil
	default:
		return value, nil
	}
}

func checkBounds(v float64, fieldKey string, ft fieldTag) error {
	if ft.hasMin && v < ft.min {
		return &kurterrors.ConfigError{Field: fieldKey, Reason: fmt.Sprintf("%v is below minimum %v", v, ft.min)}
	}
	if ft.hasMax && v > ft.max {
		return &kurterrors.ConfigError{Field: fieldKey, Reason: fmt.Sprintf("%v is above maximum %v", v, ft.max)}
	}
	return nil
}

func toInt64(value any) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", value)
	}
}

func toFloat64(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	case int:
		return float64(v), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", value)
	}
}
