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

// Package provider implements the Provider Registry: discovery of
// pluggable adapters from built-in, user, and project scopes, with
// URL-pattern routing.
package provider

import (
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/boringdata/kurt-core/internal/kurterrors"
	"github.com/boringdata/kurt-core/internal/kurtlog"
	"gopkg.in/yaml.v3"
)

// Descriptor is a provider's static metadata, independent of any loaded
// instance.
type Descriptor struct {
	Name         string         `yaml:"name"`
	Version      string         `yaml:"version"`
	URLPatterns  []string       `yaml:"url_patterns"`
	RequiresEnv  []string       `yaml:"requires_env"`
	ConfigSchema map[string]any `yaml:"config_schema,omitempty"`
}

// Provider is an adapter discovered from one of the three scopes.
type Provider interface {
	Descriptor() Descriptor
}

type scope int

const (
	scopeBuiltin scope = iota
	scopeUser
	scopeProject
)

type registeredProvider struct {
	provider Provider
	scope    scope
}

// Registry is the process-wide Provider Registry singleton. Discovery is
// lazy (triggered by first access) and idempotent; a provider file that
// fails to load is logged and skipped.
type Registry struct {
	mu           sync.RWMutex
	tools        map[string]map[string]registeredProvider // tool -> name -> provider
	discovered   bool
	projectRoot  string
	userRoot     string
	builtins     []func(*Registry)
	logger       *slog.Logger
}

var (
	globalOnce     sync.Once
	globalRegistry *Registry
)

// GetRegistry returns the process-wide Registry singleton.
func GetRegistry() *Registry {
	globalOnce.Do(func() {
		globalRegistry = NewRegistry(defaultProjectRoot(), defaultUserRoot(), slog.Default())
	})
	return globalRegistry
}

func defaultProjectRoot() string {
	if root := os.Getenv("KURT_PROJECT_ROOT"); root != "" {
		return root
	}
	wd, _ := os.Getwd()
	return wd
}

func defaultUserRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".kurt")
}

// NewRegistry constructs a Registry scoped to the given project root and
// user config root ($HOME/.kurt equivalent). Most callers should use
// GetRegistry; this constructor exists for tests and dependency-injected
// use.
func NewRegistry(projectRoot, userRoot string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:       map[string]map[string]registeredProvider{},
		projectRoot: projectRoot,
		userRoot:    userRoot,
		logger:      logger,
	}
}

// RegisterBuiltin registers a built-in provider constructor, invoked during
// discovery before the filesystem scopes are scanned.
func (r *Registry) RegisterBuiltin(fn func(*Registry)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builtins = append(r.builtins, fn)
}

// RegisterBuiltinProvider registers a compiled-in Provider for tool at
// built-in scope, the lowest-precedence scope: a user or project
// provider.yaml descriptor of the same name overrides it. Call this from
// within a RegisterBuiltin callback.
func (r *Registry) RegisterBuiltinProvider(tool string, p Provider) {
	r.registerFor(tool, p, scopeBuiltin)
}

// registerFor is the internal insertion point used by built-ins and
// filesystem discovery; later scopes override earlier ones by name.
func (r *Registry) registerFor(tool string, p Provider, sc scope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tools[tool] == nil {
		r.tools[tool] = map[string]registeredProvider{}
	}
	r.tools[tool][p.Descriptor().Name] = registeredProvider{provider: p, scope: sc}
}

// Reset clears all discovered/registered providers and the discovery flag.
// Test-only.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools = map[string]map[string]registeredProvider{}
	r.discovered = false
}

func (r *Registry) ensureDiscovered() {
	r.mu.Lock()
	if r.discovered {
		r.mu.Unlock()
		return
	}
	r.discovered = true
	builtins := append([]func(*Registry){}, r.builtins...)
	r.mu.Unlock()

	for _, fn := range builtins {
		fn(r)
	}

	r.discoverScope(r.userRoot, scopeUser)
	r.discoverScope(r.projectRoot, scopeProject)
}

// discoverScope scans <root>/tools/<tool>/providers/<name>/provider.yaml for
// the user scope (root is $HOME/.kurt) or
// <root>/kurt/tools/<tool>/providers/<name>/provider.yaml for the project
// scope (root is the project directory).
func (r *Registry) discoverScope(root string, sc scope) {
	if root == "" {
		return
	}
	toolsDir := filepath.Join(root, "kurt", "tools")
	if sc == scopeUser {
		toolsDir = filepath.Join(root, "tools")
	}
	toolEntries, err := os.ReadDir(toolsDir)
	if err != nil {
		return // absent scope directory is not an error
	}
	for _, toolEntry := range toolEntries {
		if !toolEntry.IsDir() {
			continue
		}
		tool := toolEntry.Name()
		providersDir := filepath.Join(toolsDir, tool, "providers")
		providerEntries, err := os.ReadDir(providersDir)
		if err != nil {
			continue
		}
		for _, pe := range providerEntries {
			if !pe.IsDir() {
				continue
			}
			descPath := filepath.Join(providersDir, pe.Name(), "provider.yaml")
			desc, err := loadDescriptor(descPath)
			if err != nil {
				kurtlog.ForProvider(r.logger, pe.Name()).Warn("skipping provider that failed to load",
					"path", descPath, kurtlog.Error(err))
				continue
			}
			r.registerFor(tool, &fileProvider{desc: desc}, sc)
		}
	}
}

func loadDescriptor(path string) (Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Descriptor{}, err
	}
	var desc Descriptor
	if err := yaml.Unmarshal(data, &desc); err != nil {
		return Descriptor{}, err
	}
	return desc, nil
}

// fileProvider is a Provider backed purely by a parsed descriptor file
// (no compiled code) — sufficient for routing/validation purposes; built-in
// providers instead wrap concrete Go adapter types via RegisterBuiltin.
type fileProvider struct {
	desc Descriptor
}

func (f *fileProvider) Descriptor() Descriptor { return f.desc }

// Get returns the named provider for tool, discovering on first access.
func (r *Registry) Get(tool, name string) (Provider, bool) {
	r.ensureDiscovered()
	r.mu.RLock()
	defer r.mu.RUnlock()
	byName, ok := r.tools[tool]
	if !ok {
		return nil, false
	}
	rp, ok := byName[name]
	if !ok {
		return nil, false
	}
	return rp.provider, true
}

// List returns every provider's descriptor for tool.
func (r *Registry) List(tool string) []Descriptor {
	r.ensureDiscovered()
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Descriptor
	for _, rp := range r.tools[tool] {
		out = append(out, rp.provider.Descriptor())
	}
	return out
}

// Match returns the name of the provider whose URL pattern matches url,
// preferring the most specific (non-"*") pattern over a wildcard.
func (r *Registry) Match(tool, url string) (string, bool) {
	r.ensureDiscovered()
	r.mu.RLock()
	defer r.mu.RUnlock()

	wildcard := ""
	for name, rp := range r.tools[tool] {
		for _, pattern := range rp.provider.Descriptor().URLPatterns {
			if pattern == "*" {
				wildcard = name
				continue
			}
			// Shell-style glob: '*' matches any run of characters, '/' included.
			re := "^" + strings.NewReplacer(`\*`, ".*", `\?`, ".").Replace(regexp.QuoteMeta(pattern)) + "$"
			if ok, _ := regexp.MatchString(re, url); ok {
				return name, true
			}
		}
	}
	if wildcard != "" {
		return wildcard, true
	}
	return "", false
}

// Validate returns the list of required environment variable names that
// are not currently set for the named provider.
func (r *Registry) Validate(tool, name string) []string {
	p, ok := r.Get(tool, name)
	if !ok {
		return nil
	}
	var missing []string
	for _, env := range p.Descriptor().RequiresEnv {
		if _, ok := os.LookupEnv(env); !ok {
			missing = append(missing, env)
		}
	}
	return missing
}

// GetChecked returns the named provider or a typed ProviderNotFoundError /
// ProviderRequirementsError.
func (r *Registry) GetChecked(tool, name string) (Provider, error) {
	p, ok := r.Get(tool, name)
	if !ok {
		avail := make([]string, 0)
		for _, d := range r.List(tool) {
			avail = append(avail, d.Name)
		}
		return nil, &kurterrors.ProviderNotFoundError{Tool: tool, Name: name, Available: avail}
	}
	if missing := r.Validate(tool, name); len(missing) > 0 {
		return nil, &kurterrors.ProviderRequirementsError{Provider: name, Missing: missing}
	}
	return p, nil
}
