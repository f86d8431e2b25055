// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "readcache",
		Subsystem: "engine",
		Name:      "decisions_total",
		Help:      "Read decisions by served mode",
	}, []string{"mode"})

	bytesSavedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "readcache",
		Subsystem: "engine",
		Name:      "bytes_saved_total",
		Help:      "Bytes of file content replaced by markers or diffs",
	})

	decisionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "readcache",
		Subsystem: "engine",
		Name:      "decision_latency_seconds",
		Help:      "End-to-end read decision latency",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})
)
