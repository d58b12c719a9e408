// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolve

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("apexflow.resolve")

var (
	// resolutionsTotal counts call-site resolutions.
	//
	// Labels:
	//   - kind: "method" or "constructor"
	//   - result: "resolved", "not_found", "ambiguous" or "error"
	resolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "apexflow",
			Subsystem: "resolve",
			Name:      "resolutions_total",
			Help:      "Total call-site resolutions by outcome.",
		},
		[]string{"kind", "result"},
	)

	// candidatesRanked observes how many overloads were ranked per call.
	candidatesRanked = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "apexflow",
			Subsystem: "resolve",
			Name:      "candidates_ranked",
			Help:      "Number of overload candidates ranked for one call site.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13},
		},
	)
)
