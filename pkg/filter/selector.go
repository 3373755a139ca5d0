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

// Package filter implements the document selector: a normalized expression
// describing which documents a model should operate on, resolved to a
// concrete row set at the Pipeline Context boundary.
package filter

import (
	"regexp"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Row is the minimal shape a filterable record exposes. Callers adapt their
// concrete row types to this via RowAdapter.
type Row struct {
	ID          string
	URL         string
	Cluster     string
	Status      string
	ContentType string
	Value       any // the underlying concrete row, carried through unchanged
}

// Selector is the normalized document selector. All fields are optional;
// the zero value selects everything the SQL fetch returns.
type Selector struct {
	IDs         []string
	Include     string // glob, applied after fetch
	Exclude     string // glob, applied after fetch
	URLSubstr   string // substring or glob match against Row.URL
	Cluster     string
	Status      string
	ContentType string
	Where       string // optional expr-lang boolean expression over id/url/cluster/status/content_type
	Limit       int    // 0 means unlimited
	Offset      int
}

// predicateCache compiles and caches Where expressions across calls to
// Apply, since the same Selector is typically re-applied per pipeline run.
var predicateCache struct {
	mu    sync.RWMutex
	progs map[string]*vm.Program
}

func init() {
	predicateCache.progs = map[string]*vm.Program{}
}

func compileWhere(expression string) (*vm.Program, error) {
	predicateCache.mu.RLock()
	if prog, ok := predicateCache.progs[expression]; ok {
		predicateCache.mu.RUnlock()
		return prog, nil
	}
	predicateCache.mu.RUnlock()

	prog, err := expr.Compile(expression, expr.Env(map[string]any{
		"id":           "",
		"url":          "",
		"cluster":      "",
		"status":       "",
		"content_type": "",
	}), expr.AsBool())
	if err != nil {
		return nil, err
	}

	predicateCache.mu.Lock()
	predicateCache.progs[expression] = prog
	predicateCache.mu.Unlock()
	return prog, nil
}

func matchWhere(prog *vm.Program, r Row) bool {
	out, err := expr.Run(prog, map[string]any{
		"id":           r.ID,
		"url":          r.URL,
		"cluster":      r.Cluster,
		"status":       r.Status,
		"content_type": r.ContentType,
	})
	if err != nil {
		return false
	}
	matched, _ := out.(bool)
	return matched
}

// Apply filters rows in declaration order: glob include/exclude and the
// scalar equality filters are applied first (against the rows already
// fetched from SQL), and Limit/Offset are applied last, against the
// glob-filtered set — so Include="*/docs/*" Limit=2 returns two matching
// rows, never two arbitrary rows that are then filtered down to fewer.
func (s Selector) Apply(rows []Row) []Row {
	out := make([]Row, 0, len(rows))
	idSet := map[string]struct{}{}
	for _, id := range s.IDs {
		idSet[id] = struct{}{}
	}

	var whereProg *vm.Program
	if s.Where != "" {
		whereProg, _ = compileWhere(s.Where)
	}

	for _, r := range rows {
		if len(idSet) > 0 {
			if _, ok := idSet[r.ID]; !ok {
				continue
			}
		}
		if s.Cluster != "" && r.Cluster != s.Cluster {
			continue
		}
		if s.Status != "" && r.Status != s.Status {
			continue
		}
		if s.ContentType != "" && r.ContentType != s.ContentType {
			continue
		}
		if s.URLSubstr != "" && !matchURL(s.URLSubstr, r.URL) {
			continue
		}
		if s.Include != "" {
			ok := globMatch(s.Include, r.URL)
			if !ok {
				continue
			}
		}
		if s.Exclude != "" {
			ok := globMatch(s.Exclude, r.URL)
			if ok {
				continue
			}
		}
		if whereProg != nil && !matchWhere(whereProg, r) {
			continue
		}
		out = append(out, r)
	}

	if s.Offset > 0 {
		if s.Offset >= len(out) {
			return []Row{}
		}
		out = out[s.Offset:]
	}
	if s.Limit > 0 && len(out) > s.Limit {
		out = out[:s.Limit]
	}
	return out
}

// matchURL supports both a plain substring and a glob pattern.
func matchURL(pattern, url string) bool {
	if strings.ContainsAny(pattern, "*?") {
		return globMatch(pattern, url)
	}
	return strings.Contains(url, pattern)
}

// globMatch reports whether s matches the shell-style pattern: '*' matches
// any run of characters, '/' included, and '?' matches any one character.
func globMatch(pattern, s string) bool {
	re := "^" + strings.NewReplacer(`\*`, ".*", `\?`, ".").Replace(regexp.QuoteMeta(pattern)) + "$"
	ok, _ := regexp.MatchString(re, s)
	return ok
}
