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

// Package batch implements the Batch LLM Executor: bounded-concurrency
// execution of a list of independent signature invocations, with per-item
// timeout, order-preserving results, and optional response caching.
package batch

import (
	"context"
	"sync"
	"time"

	"github.com/boringdata/kurt-core/internal/kurterrors"
	"golang.org/x/sync/semaphore"
)

// Telemetry carries per-item execution metadata surfaced alongside results.
type Telemetry struct {
	Duration time.Duration
	Cached   bool
}

// Result is one element of a RunBatch return value, aligned to the input
// item at the same index regardless of completion order.
type Result[O any] struct {
	Payload   any
	Value     O
	Err       error
	Telemetry Telemetry
}

// Signature is the LLM call schema consumed by RunBatch: a pure function
// from (ctx, item, cache) to a typed result.
type Signature[I, O any] func(ctx context.Context, item I, cache bool) (O, error)

// ProgressFunc is invoked once per completed item; it must not block the
// scheduler (callers should make it non-blocking, e.g. by sending on a
// buffered channel).
type ProgressFunc[O any] func(index, total int, r Result[O])

type options[O any] struct {
	timeout    time.Duration
	onProgress ProgressFunc[O]
	cache      bool
}

// Option configures a RunBatch call.
type Option[O any] func(*options[O])

// WithTimeout bounds each item's execution independently; one item timing
// out does not affect siblings.
func WithTimeout[O any](d time.Duration) Option[O] {
	return func(o *options[O]) { o.timeout = d }
}

// WithOnProgress registers a progress callback.
func WithOnProgress[O any](fn ProgressFunc[O]) Option[O] {
	return func(o *options[O]) { o.onProgress = fn }
}

// WithCache sets the cache flag threaded to the signature (cache = !no_cache
// per the pipeline context's metadata).
func WithCache[O any](enabled bool) Option[O] {
	return func(o *options[O]) { o.cache = enabled }
}

// RunBatch executes sig over items with at most maxConcurrent concurrent
// invocations, gated by a weighted semaphore so Acquire observes ctx
// cancellation directly rather than racing a channel-based gate. Results are
// written into a pre-sized slice at each item's original index, so ordering
// holds regardless of completion order. An empty items list returns an
// empty result slice without acquiring the semaphore or invoking sig.
func RunBatch[I, O any](ctx context.Context, sig Signature[I, O], items []I, maxConcurrent int, opts ...Option[O]) ([]Result[O], error) {
	if len(items) == 0 {
		return []Result[O]{}, nil
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	cfg := options[O]{cache: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	results := make([]Result[O], len(items))
	sem := semaphore.NewWeighted(int64(maxConcurrent))
	var wg sync.WaitGroup

	for i, item := range items {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Parent canceled before this item could even start; record a
			// CanceledError for it and every remaining item, then stop.
			for j := i; j < len(items); j++ {
				results[j] = Result[O]{Payload: items[j], Err: &kurterrors.CanceledError{Operation: "batch item"}}
			}
			break
		}

		wg.Add(1)
		go func(index int, it I) {
			defer wg.Done()
			defer sem.Release(1)

			start := time.Now()
			itemCtx := ctx
			var cancel context.CancelFunc
			if cfg.timeout > 0 {
				itemCtx, cancel = context.WithTimeout(ctx, cfg.timeout)
				defer cancel()
			}

			value, err := sig(itemCtx, it, cfg.cache)
			if err != nil {
				if itemCtx.Err() == context.DeadlineExceeded {
					err = &kurterrors.TimeoutError{Operation: "batch item", Duration: cfg.timeout, Cause: err}
				} else if itemCtx.Err() == context.Canceled {
					err = &kurterrors.CanceledError{Operation: "batch item"}
				}
			}

			elapsed := time.Since(start)
			r := Result[O]{
				Payload:   it,
				Value:     value,
				Err:       err,
				Telemetry: Telemetry{Duration: elapsed, Cached: cfg.cache},
			}
			results[index] = r
			recordItemMetrics(err, elapsed.Seconds())

			if cfg.onProgress != nil {
				cfg.onProgress(index, len(items), r)
			}
		}(i, item)
	}

	wg.Wait()
	return results, nil
}
