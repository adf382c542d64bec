// Copyright 2025 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package inbox

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	settingsApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "roomsync",
			Subsystem: "roomlist",
			Name:      "settings_applied_total",
			Help:      "Inbox settings forwarded to the dynamic room list, by outcome",
		},
		[]string{"outcome"},
	)
	settingsSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "roomsync",
			Subsystem: "roomlist",
			Name:      "settings_skipped_total",
			Help:      "Inbox settings not forwarded because they equal the last forwarded value",
		},
	)
)

var registerInboxMetrics sync.Once

func init() {
	registerInboxMetrics.Do(func() {
		prometheus.MustRegister(settingsApplied, settingsSkipped)
	})
}
