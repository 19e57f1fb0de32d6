// Copyright 2025 SQL Studio Contributors
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

package query

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sqlstudio_queries_total",
		Help: "Total queries executed, labeled by outcome",
	}, []string{"outcome"})

	queryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sqlstudio_query_duration_seconds",
		Help:    "Wall-clock duration of successful query executions",
		Buckets: prometheus.DefBuckets,
	})

	inflightGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sqlstudio_queries_in_flight",
		Help: "Number of queries currently tracked as in flight",
	})

	cancellationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sqlstudio_query_cancellations_total",
		Help: "Total cancellation requests that found an in-flight query",
	})
)
