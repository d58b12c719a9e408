// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package expand

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("apexflow.expand")

var (
	// candidatesTotal counts finished candidates.
	//
	// Labels:
	//   - state: "accepted" or "rejected"
	candidatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "apexflow",
			Subsystem: "expand",
			Name:      "candidates_total",
			Help:      "Total expanded candidates by final state.",
		},
		[]string{"state"},
	)

	rejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "apexflow",
			Subsystem: "expand",
			Name:      "rejections_total",
			Help:      "Total expansion rejections by kind.",
		},
		[]string{"kind"},
	)

	expandedCallsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "apexflow",
			Subsystem: "expand",
			Name:      "expanded_calls_total",
			Help:      "Total callee outcomes spliced into caller candidates.",
		},
	)

	visitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "apexflow",
			Subsystem: "expand",
			Name:      "visited_vertices_total",
			Help:      "Total vertices handed to walk visitors.",
		},
	)

	expandDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "apexflow",
			Subsystem: "expand",
			Name:      "duration_seconds",
			Help:      "Duration of one path expansion.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		},
	)
)
