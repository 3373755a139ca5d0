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

package provider

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/boringdata/kurt-core/internal/kurterrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	desc Descriptor
}

func (s stubProvider) Descriptor() Descriptor { return s.desc }

func TestRegisterBuiltinProvider_DiscoverableViaGet(t *testing.T) {
	r := NewRegistry("", "", nil)
	r.RegisterBuiltin(func(reg *Registry) {
		reg.RegisterBuiltinProvider("fetch", stubProvider{desc: Descriptor{Name: "http", URLPatterns: []string{"*"}}})
	})

	p, ok := r.Get("fetch", "http")
	require.True(t, ok)
	assert.Equal(t, "http", p.Descriptor().Name)
}

func TestDiscoverScope_LoadsProviderYAMLFromFilesystem(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "kurt", "tools", "fetch", "providers", "apify")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "provider.yaml"), []byte(`
name: apify
version: "1.0.0"
url_patterns:
  - "*.apify.com/*"
requires_env:
  - APIFY_TOKEN
`), 0o644))

	r := NewRegistry(root, "", nil)
	p, ok := r.Get("fetch", "apify")
	require.True(t, ok)
	assert.Equal(t, "apify", p.Descriptor().Name)
	assert.Equal(t, []string{"APIFY_TOKEN"}, p.Descriptor().RequiresEnv)
}

func TestDiscoverScope_SkipsUnparsableDescriptor(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "kurt", "tools", "fetch", "providers", "broken")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "provider.yaml"), []byte("not: [valid: yaml"), 0o644))

	r := NewRegistry(root, "", nil)
	_, ok := r.Get("fetch", "broken")
	assert.False(t, ok)
}

func TestProjectScopeOverridesUserScope(t *testing.T) {
	userRoot := t.TempDir()
	projectRoot := t.TempDir()

	for toolsDir, version := range map[string]string{
		filepath.Join(userRoot, "tools"):            "1.0.0",
		filepath.Join(projectRoot, "kurt", "tools"): "2.0.0",
	} {
		dir := filepath.Join(toolsDir, "fetch", "providers", "http")
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "provider.yaml"), []byte(`
name: http
version: "`+version+`"
url_patterns: ["*"]
`), 0o644))
	}

	r := NewRegistry(projectRoot, userRoot, nil)
	p, ok := r.Get("fetch", "http")
	require.True(t, ok)
	assert.Equal(t, "2.0.0", p.Descriptor().Version)
}

func TestMatch_PrefersSpecificPatternOverWildcard(t *testing.T) {
	r := NewRegistry("", "", nil)
	r.RegisterBuiltin(func(reg *Registry) {
		reg.RegisterBuiltinProvider("fetch", stubProvider{desc: Descriptor{Name: "generic", URLPatterns: []string{"*"}}})
		reg.RegisterBuiltinProvider("fetch", stubProvider{desc: Descriptor{Name: "apify", URLPatterns: []string{"*.apify.com/*"}}})
	})

	name, ok := r.Match("fetch", "https://run.apify.com/jobs/1")
	require.True(t, ok)
	assert.Equal(t, "apify", name)

	name, ok = r.Match("fetch", "https://example.com/page")
	require.True(t, ok)
	assert.Equal(t, "generic", name)
}

func TestMatch_NoMatchReturnsFalse(t *testing.T) {
	r := NewRegistry("", "", nil)
	_, ok := r.Match("fetch", "https://example.com")
	assert.False(t, ok)
}

func TestValidate_ReportsMissingEnvVars(t *testing.T) {
	r := NewRegistry("", "", nil)
	r.RegisterBuiltin(func(reg *Registry) {
		reg.RegisterBuiltinProvider("fetch", stubProvider{desc: Descriptor{Name: "apify", RequiresEnv: []string{"APIFY_TOKEN_TEST_XYZ"}}})
	})

	missing := r.Validate("fetch", "apify")
	assert.Equal(t, []string{"APIFY_TOKEN_TEST_XYZ"}, missing)
}

func TestGetChecked_UnknownProviderReturnsTypedError(t *testing.T) {
	r := NewRegistry("", "", nil)
	_, err := r.GetChecked("fetch", "ghost")

	var notFound *kurterrors.ProviderNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "ghost", notFound.Name)
}

func TestGetChecked_MissingRequirementsReturnsTypedError(t *testing.T) {
	r := NewRegistry("", "", nil)
	r.RegisterBuiltin(func(reg *Registry) {
		reg.RegisterBuiltinProvider("fetch", stubProvider{desc: Descriptor{Name: "apify", RequiresEnv: []string{"APIFY_TOKEN_TEST_XYZ"}}})
	})

	_, err := r.GetChecked("fetch", "apify")
	var reqErr *kurterrors.ProviderRequirementsError
	require.ErrorAs(t, err, &reqErr)
}

func TestReset_ClearsDiscoveredProviders(t *testing.T) {
	r := NewRegistry("", "", nil)
	r.RegisterBuiltin(func(reg *Registry) {
		reg.RegisterBuiltinProvider("fetch", stubProvider{desc: Descriptor{Name: "http"}})
	})
	_, ok := r.Get("fetch", "http")
	require.True(t, ok)

	r.Reset()
	r.builtins = nil
	_, ok = r.Get("fetch", "http")
	assert.False(t, ok)
}
