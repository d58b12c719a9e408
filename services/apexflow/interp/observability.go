// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package interp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// unsupportedTotal counts constructs the interpreter does not model.
	//
	// Labels:
	//   - label: vertex label of the construct
	unsupportedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "apexflow",
			Subsystem: "interp",
			Name:      "unsupported_total",
			Help:      "Total unsupported constructs encountered during evaluation.",
		},
		[]string{"label"},
	)

	nullAccessTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "apexflow",
			Subsystem: "interp",
			Name:      "null_access_total",
			Help:      "Total determinate null dereferences found during evaluation.",
		},
	)
)
