// Copyright 2025 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package activerooms

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var openHandles = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "roomsync",
		Subsystem: "activerooms",
		Name:      "open_handles",
		Help:      "Number of room handles opened and not yet destroyed",
	},
)

var registerMetrics sync.Once

func init() {
	registerMetrics.Do(func() {
		prometheus.MustRegister(openHandles)
	})
}
