// Copyright 2025 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package queue

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	resolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "roomsync",
			Subsystem: "notifications",
			Name:      "resolutions_total",
			Help:      "Completed notification resolutions, by outcome",
		},
		[]string{"outcome"},
	)
	coalescedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "roomsync",
			Subsystem: "notifications",
			Name:      "coalesced_total",
			Help:      "Requests answered by an in-flight or stored resolution instead of a new one",
		},
	)
	inflightResolutions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "roomsync",
			Subsystem: "notifications",
			Name:      "inflight",
			Help:      "Resolutions currently running against the resolver",
		},
	)
	resolveDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "roomsync",
			Subsystem: "notifications",
			Name:      "resolve_duration_seconds",
			Help:      "Time spent resolving a single notification",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)
)

var registerQueueMetrics sync.Once

func init() {
	registerQueueMetrics.Do(func() {
		prometheus.MustRegister(resolutionsTotal, coalescedTotal, inflightResolutions, resolveDuration)
	})
}
