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

package dbpool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// poolsCreated counts pool constructions by engine.
	poolsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sqlstudio_pools_created_total",
		Help: "Total database pools constructed",
	}, []string{"engine"})

	// poolsActive tracks the number of registered pools.
	poolsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sqlstudio_pools_active",
		Help: "Number of registered database pools",
	})

	// poolValidationFailures counts liveness validation failures during
	// pool construction.
	poolValidationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sqlstudio_pool_validation_failures_total",
		Help: "Total pool validation failures during construction",
	}, []string{"engine"})
)
