/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package metrics registers the prometheus collectors shared by the
// orchestration core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const Namespace = "propcore"

var (
	LinesResolved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "lines",
		Name:      "resolved_total",
		Help:      "Lines resolved, labeled by source feed and sportsbook.",
	}, []string{"source", "book"})

	PredictionsStaged = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "worker",
		Name:      "predictions_staged_total",
		Help:      "Prediction records written to staging tables.",
	}, []string{"system_id"})

	ConsolidationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: Namespace,
		Subsystem: "consolidation",
		Name:      "duration_seconds",
		Help:      "Wall time of one consolidation pass, lock wait included.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	ConsolidationRows = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "consolidation",
		Name:      "rows_merged_total",
		Help:      "Rows affected by consolidation MERGEs.",
	})

	ConsolidationDuplicates = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "consolidation",
		Name:      "duplicate_keys_total",
		Help:      "Duplicate business keys found by post-write validation.",
	})

	LockWait = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Subsystem: "locks",
		Name:      "wait_seconds",
		Help:      "Time spent waiting to acquire a distributed lock.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"lock_type"})

	LockFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "locks",
		Name:      "acquisition_failures_total",
		Help:      "Lock acquisitions that exhausted their budget.",
	}, []string{"lock_type"})

	GradedPredictions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "grading",
		Name:      "graded_total",
		Help:      "Predictions graded, labeled by voided state.",
	}, []string{"voided"})

	HealingEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "healing",
		Name:      "events_total",
		Help:      "Self-healing actions recorded, labeled by type and success.",
	}, []string{"type", "success"})
)

// Register registers all collectors on the given registry.
func Register(registry prometheus.Registerer) {
	registry.MustRegister(
		LinesResolved,
		PredictionsStaged,
		ConsolidationDuration,
		ConsolidationRows,
		ConsolidationDuplicates,
		LockWait,
		LockFailures,
		GradedPredictions,
		HealingEvents,
	)
}
