// Copyright 2025 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package lockscreen

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	pinVerifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "roomsync",
			Subsystem: "lockscreen",
			Name:      "pin_verifications_total",
			Help:      "Total number of pin verifications, by outcome",
		},
		[]string{"outcome"},
	)
	lockTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "roomsync",
			Subsystem: "lockscreen",
			Name:      "transitions_total",
			Help:      "Total number of lock state transitions, by new state",
		},
		[]string{"state"},
	)
)

var registerMetrics sync.Once

func init() {
	registerMetrics.Do(func() {
		prometheus.MustRegister(pinVerifications, lockTransitions)
	})
}
