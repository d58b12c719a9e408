// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cfgpath

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("apexflow.cfgpath")

var (
	// pathsEnumeratedTotal counts accepted raw paths.
	//
	// Labels:
	//   - direction: "forward" or "backward"
	pathsEnumeratedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "apexflow",
			Subsystem: "cfgpath",
			Name:      "paths_enumerated_total",
			Help:      "Total raw CFG paths produced by the enumerator.",
		},
		[]string{"direction"},
	)

	// pathRejectionsTotal counts enumeration rejections by kind.
	pathRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "apexflow",
			Subsystem: "cfgpath",
			Name:      "rejections_total",
			Help:      "Total enumeration rejections by kind.",
		},
		[]string{"kind"},
	)
)
