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

package config

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTOML_SectionsAndKeyValues(t *testing.T) {
	input := `
# a comment
[tool.fetch]
provider = "http"
max_items = 10

[tool.fetch.providers.apify]
api_key = "secret"
`
	f := parseTOML(bufio.NewScanner(strings.NewReader(input)))

	v, ok := f.get("tool.fetch", "provider")
	require.True(t, ok)
	assert.Equal(t, "http", v)

	v, ok = f.get("tool.fetch.providers.apify", "api_key")
	require.True(t, ok)
	assert.Equal(t, "secret", v)
}

func TestParseTOML_SkipsMalformedLines(t *testing.T) {
	input := `
[tool.fetch]
not a key value line
provider = "http"
`
	f := parseTOML(bufio.NewScanner(strings.NewReader(input)))

	v, ok := f.get("tool.fetch", "provider")
	require.True(t, ok)
	assert.Equal(t, "http", v)
}

func TestUnquote(t *testing.T) {
	assert.Equal(t, "hello", unquote(`"hello"`))
	assert.Equal(t, "hello", unquote(`'hello'`))
	assert.Equal(t, "bare", unquote("bare"))
}

func TestCoerceScalar_TypesInference(t *testing.T) {
	assert.Equal(t, true, coerceScalar("true"))
	assert.Equal(t, int64(42), coerceScalar("42"))
	assert.Equal(t, 3.14, coerceScalar("3.14"))
	assert.Equal(t, "plain", coerceScalar("plain"))
}

func TestTomlFile_GetMissingSection(t *testing.T) {
	f := newTOMLFile()
	_, ok := f.get("nope", "key")
	assert.False(t, ok)
}
