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

package batch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	itemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kurt_batch_items_total",
			Help: "Total batch items processed by RunBatch, by outcome",
		},
		[]string{"outcome"},
	)

	itemDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kurt_batch_item_duration_seconds",
			Help:    "Duration of a single batch item invocation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
)

func recordItemMetrics(err error, seconds float64) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	itemsTotal.WithLabelValues(outcome).Inc()
	itemDuration.WithLabelValues(outcome).Observe(seconds)
}
