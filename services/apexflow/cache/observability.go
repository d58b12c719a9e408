// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("apexflow.cache")

// Package-level Prometheus metrics for vertex cache lookups.
var (
	// cacheLookupsTotal counts lookups by query and outcome.
	//
	// Labels:
	//   - query: one of the Query constants
	//   - result: "hit" or "miss"
	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "apexflow",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Total vertex cache lookups by query and outcome.",
		},
		[]string{"query", "result"},
	)

	// cacheQueryDuration measures underlying graph query executions.
	cacheQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "apexflow",
			Subsystem: "cache",
			Name:      "query_duration_seconds",
			Help:      "Duration of graph queries executed on cache miss.",
			Buckets:   []float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 1},
		},
		[]string{"query"},
	)
)

func recordLookup(q Query, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(string(q), result).Inc()
}

func recordQuery(q Query, d time.Duration) {
	cacheQueryDuration.WithLabelValues(string(q)).Observe(d.Seconds())
}
