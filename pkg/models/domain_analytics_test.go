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

package models

import (
	"context"
	"testing"

	"github.com/boringdata/kurt-core/internal/store"
	"github.com/boringdata/kurt-core/pkg/filter"
	"github.com/boringdata/kurt-core/pkg/pipeline"
	"github.com/boringdata/kurt-core/pkg/reference"
	"github.com/boringdata/kurt-core/pkg/registry"
	"github.com/boringdata/kurt-core/pkg/writer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_RegistersDomainAnalyticsModel(t *testing.T) {
	m, ok := registry.Global().GetModel("domain_analytics")
	require.True(t, ok)
	assert.Equal(t, []string{"fetch"}, m.Inputs)
	assert.Equal(t, []string{"url"}, m.PrimaryKey)
}

func TestRunDomainAnalytics_MissingFetchReferenceFails(t *testing.T) {
	s, err := store.Open(store.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	w := writer.New(s.DB(), "domain_analytics", domainAnalyticsSchema.Columns(), []string{"url"}, "wf-1")
	pctx := pipeline.NewContext("wf-1", filter.Selector{}, pipeline.ModeFull)
	_, err = runDomainAnalytics(context.Background(), map[string]*reference.Reference{}, w, DomainAnalyticsConfig{}, pctx)
	assert.Error(t, err)
}

func TestRunDomainAnalytics_DerivesOneRowPerFetchedPage(t *testing.T) {
	s, err := store.Open(store.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	require.NoError(t, store.EnsureModelTable(ctx, s.DB(), "fetch", []string{
		"id TEXT", "url TEXT", "content_type TEXT", "status TEXT", "body TEXT", "fetched_at TEXT",
	}, []string{"id"}))
	require.NoError(t, store.EnsureModelTable(ctx, s.DB(), "domain_analytics", []string{
		"url TEXT", "domain TEXT", "pageviews_est INTEGER", "synced_at TEXT",
	}, []string{"url"}))

	fetchWriter := writer.New(s.DB(), "fetch", fetchSchema.Columns(), []string{"id"}, "wf-1")
	_, err = fetchWriter.Write(ctx, []writer.Row{
		{"id": "1", "url": "https://example.com/a", "content_type": "text/html", "status": "fetched", "body": "", "fetched_at": "now"},
	})
	require.NoError(t, err)

	pctx := pipeline.NewContext("wf-1", filter.Selector{}, pipeline.ModeFull)
	fetchRef := reference.New("fetch")
	fetchRef.Bind(s.DB(), pctx, fetchSchema)
	defer fetchRef.Unbind()

	w := writer.New(s.DB(), "domain_analytics", domainAnalyticsSchema.Columns(), []string{"url"}, "wf-1")
	result, err := runDomainAnalytics(ctx, map[string]*reference.Reference{"fetch": fetchRef}, w, DomainAnalyticsConfig{Domain: "example.com"}, pctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.RowsWritten)

	var domain string
	require.NoError(t, s.DB().QueryRowContext(ctx, `SELECT domain FROM domain_analytics WHERE url = ?`, "https://example.com/a").Scan(&domain))
	assert.Equal(t, "example.com", domain)
}

// TestRunDomainAnalytics_NoCachePerturbsEstimate pins the cache-propagation
// contract named by pipeline.Context.NoCache: a run with no_cache=true must
// reach the model's Batch LLM Executor call with cache=false, not merely be
// stored in metadata and never read.
func TestRunDomainAnalytics_NoCachePerturbsEstimate(t *testing.T) {
	s, err := store.Open(store.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	require.NoError(t, store.EnsureModelTable(ctx, s.DB(), "fetch", []string{
		"id TEXT", "url TEXT", "content_type TEXT", "status TEXT", "body TEXT", "fetched_at TEXT",
	}, []string{"id"}))
	require.NoError(t, store.EnsureModelTable(ctx, s.DB(), "domain_analytics", []string{
		"url TEXT", "domain TEXT", "pageviews_est INTEGER", "synced_at TEXT",
	}, []string{"url"}))

	run := func(workflowID string, noCache bool) int64 {
		fetchWriter := writer.New(s.DB(), "fetch", fetchSchema.Columns(), []string{"id"}, workflowID)
		_, err := fetchWriter.Write(ctx, []writer.Row{
			{"id": "1", "url": "https://example.com/a", "content_type": "text/html", "status": "fetched", "body": "", "fetched_at": "now"},
		})
		require.NoError(t, err)

		pctx := pipeline.NewContext(workflowID, filter.Selector{}, pipeline.ModeFull)
		pctx.SetMetadata("no_cache", noCache)
		fetchRef := reference.New("fetch")
		fetchRef.Bind(s.DB(), pctx, fetchSchema)
		defer fetchRef.Unbind()

		w := writer.New(s.DB(), "domain_analytics", domainAnalyticsSchema.Columns(), []string{"url"}, workflowID)
		_, err = runDomainAnalytics(ctx, map[string]*reference.Reference{"fetch": fetchRef}, w, DomainAnalyticsConfig{}, pctx)
		require.NoError(t, err)

		var est int64
		require.NoError(t, s.DB().QueryRowContext(ctx,
			`SELECT pageviews_est FROM domain_analytics WHERE url = ? AND workflow_id = ?`, "https://example.com/a", workflowID,
		).Scan(&est))
		return est
	}

	cached := run("wf-cache-on", false)
	uncached := run("wf-cache-off", true)
	assert.NotEqual(t, cached, uncached, "pctx.NoCache() must actually reach the batch signature's cache flag")
}
