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

// Package interpolate substitutes {{var}} / {{var:type}} placeholders into
// step configuration, with typed coercion and eager, explicit-failure
// semantics: the engine never substitutes a partial result.
package interpolate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/boringdata/kurt-core/internal/kurterrors"
)

// varPattern matches {{name}} or {{name:type}}, with optional surrounding
// whitespace. Go's RE2 engine has no lookbehind, so the leading-backslash
// escape check that the original regex expressed as `(?<!\\)` is applied as
// a post-match filter in scanMatches instead.
var varPattern = regexp.MustCompile(`\{\{\s*(\w+)(?::(\w+))?\s*\}\}`)

// escapePattern matches an escaped brace pair, \{{ or \}}.
var escapePattern = regexp.MustCompile(`\\(\{\{|\}\})`)

type match struct {
	start, end int
	name       string
	typeHint   string
}

// scanMatches returns every unescaped {{...}} match in text, in order.
func scanMatches(text string) []match {
	var out []match
	for _, m := range varPattern.FindAllStringSubmatchIndex(text, -1) {
		start, end := m[0], m[1]
		if start > 0 && text[start-1] == '\\' {
			continue // escaped: \{{var}} is literal, handled by unescape
		}
		name := text[m[2]:m[3]]
		typeHint := ""
		if m[4] >= 0 {
			typeHint = text[m[4]:m[5]]
		}
		out = append(out, match{start: start, end: end, name: name, typeHint: typeHint})
	}
	return out
}

// ExtractVariables returns the set of variable names referenced in text.
func ExtractVariables(text string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, m := range scanMatches(text) {
		out[m.name] = struct{}{}
	}
	return out
}

// Options controls interpolation behavior.
type Options struct {
	ValidVars map[string]struct{} // nil means "derive from inputs"
	StepName  string
	// TypeHints maps a top-level field path to a target type
	// (int|float|bool|str) applied when the field resolves to a string
	// after substitution.
	TypeHints map[string]string
}

// Interpolate walks config recursively, substituting {{var}}/{{var:type}}
// placeholders from inputs. Returns the first error encountered; partial
// results are never returned on error.
func Interpolate(config map[string]any, inputs map[string]any, opts Options) (map[string]any, error) {
	validVars := opts.ValidVars
	if validVars == nil {
		validVars = map[string]struct{}{}
		for k := range inputs {
			validVars[k] = struct{}{}
		}
	}
	stepName := opts.StepName
	if stepName == "" {
		stepName = "unknown"
	}

	out := make(map[string]any, len(config))
	for k, v := range config {
		targetType := opts.TypeHints[k]
		result, err := interpolateValue(v, inputs, validVars, stepName, k, targetType)
		if err != nil {
			return nil, err
		}
		out[k] = result
	}
	return out, nil
}

func interpolateValue(value any, inputs map[string]any, validVars map[string]struct{}, step, fieldPath, targetType string) (any, error) {
	switch v := value.(type) {
	case string:
		return interpolateString(v, inputs, validVars, step, fieldPath, targetType)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, inner := range v {
			r, err := interpolateValue(inner, inputs, validVars, step, fieldPath+"."+k, "")
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, inner := range v {
			r, err := interpolateValue(inner, inputs, validVars, step, fmt.Sprintf("%s[%d]", fieldPath, i), "")
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return value, nil
	}
}

func interpolateString(text string, inputs map[string]any, validVars map[string]struct{}, step, fieldPath, targetType string) (any, error) {
	matches := scanMatches(text)

	if len(matches) == 1 && strings.TrimSpace(text) == text[matches[0].start:matches[0].end] {
		m := matches[0]
		val, err := resolveVar(m.name, inputs, validVars, step, fieldPath)
		if err != nil {
			return nil, err
		}
		hint := m.typeHint
		if hint == "" {
			hint = targetType
		}
		if hint == "" {
			return val, nil
		}
		return coerceValue(val, hint, m.name, step, fieldPath)
	}

	// Substring substitution: all vars become strings; result is a string.
	var b strings.Builder
	last := 0
	for _, m := range matches {
		val, err := resolveVar(m.name, inputs, validVars, step, fieldPath)
		if err != nil {
			return nil, err
		}
		b.WriteString(text[last:m.start])
		b.WriteString(fmt.Sprintf("%v", val))
		last = m.end
	}
	b.WriteString(text[last:])

	result := unescape(b.String())

	if targetType != "" {
		return coerceValue(result, targetType, "", step, fieldPath)
	}
	return result, nil
}

func unescape(s string) string {
	return escapePattern.ReplaceAllStringFunc(s, func(m string) string {
		return strings.TrimPrefix(m, `\`)
	})
}

func resolveVar(name string, inputs map[string]any, validVars map[string]struct{}, step, fieldPath string) (any, error) {
	if _, ok := validVars[name]; !ok {
		return nil, &kurterrors.VarError{
			Type:    "unknown_var",
			Var:     name,
			Step:    step,
			Field:   fieldPath,
			Message: fmt.Sprintf("unknown variable %q", name),
		}
	}
	val, ok := inputs[name]
	if !ok {
		return nil, &kurterrors.VarError{
			Type:    "missing_input",
			Var:     name,
			Step:    step,
			Field:   fieldPath,
			Message: fmt.Sprintf("missing required input %q", name),
		}
	}
	return val, nil
}

func coerceValue(value any, targetType, varName, step, fieldPath string) (any, error) {
	switch targetType {
	case "str", "string":
		return fmt.Sprintf("%v", value), nil
	case "bool":
		return coerceBool(value, varName, step, fieldPath)
	case "int":
		return coerceInt(value, varName, step, fieldPath)
	case "float":
		return coerceFloat(value, varName, step, fieldPath)
	default:
		return value, nil
	}
}

func coerceBool(value any, varName, step, fieldPath string) (any, error) {
	if b, ok := value.(bool); ok {
		return b, nil
	}
	s := strings.ToLower(strings.TrimSpace(fmt.Sprintf("%v", value)))
	switch s {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no":
		return false, nil
	default:
		return nil, typeCoercionError(varName, step, fieldPath, "bool")
	}
}

func coerceInt(value any, varName, step, fieldPath string) (any, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v == float64(int64(v)) {
			return int(v), nil
		}
		return nil, typeCoercionError(varName, step, fieldPath, "int")
	case string:
		s := strings.TrimSpace(v)
		if n, err := strconv.Atoi(s); err == nil {
			return n, nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil && f == float64(int64(f)) {
			return int(f), nil
		}
		return nil, typeCoercionError(varName, step, fieldPath, "int")
	default:
		return nil, typeCoercionError(varName, step, fieldPath, "int")
	}
}

func coerceFloat(value any, varName, step, fieldPath string) (any, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		s := strings.TrimSpace(v)
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, nil
		}
		return nil, typeCoercionError(varName, step, fieldPath, "float")
	default:
		return nil, typeCoercionError(varName, step, fieldPath, "float")
	}
}

func typeCoercionError(varName, step, fieldPath, expected string) error {
	return &kurterrors.VarError{
		Type:         "type_coercion",
		Var:          varName,
		Step:         step,
		Field:        fieldPath,
		Message:      fmt.Sprintf("cannot coerce value at %q to %s", fieldPath, expected),
		ExpectedType: expected,
	}
}

// ValidateVariables lints config without raising: returns an unknown_var
// VarError for every placeholder whose name is not in validVars. It takes no
// input values, so it reports no missing_input errors (useful for a "does
// this template reference only declared inputs" CLI check).
func ValidateVariables(config map[string]any, validVars map[string]struct{}, step string) []*kurterrors.VarError {
	var errs []*kurterrors.VarError
	var walk func(v any, path string)
	walk = func(v any, path string) {
		switch val := v.(type) {
		case string:
			for _, m := range scanMatches(val) {
				if _, ok := validVars[m.name]; !ok {
					errs = append(errs, &kurterrors.VarError{
						Type:    "unknown_var",
						Var:     m.name,
						Step:    step,
						Field:   path,
						Message: fmt.Sprintf("unknown variable %q", m.name),
					})
				}
			}
		case map[string]any:
			for k, inner := range val {
				walk(inner, path+"."+k)
			}
		case []any:
			for i, inner := range val {
				walk(inner, fmt.Sprintf("%s[%d]", path, i))
			}
		}
	}
	for k, v := range config {
		walk(v, k)
	}
	return errs
}
