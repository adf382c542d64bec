// Copyright 2025 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package lockscreen

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/element-hq/roomsync/setup/config"
)

// AttemptPolicy throttles pin attempts. A nil or disabled policy allows
// every attempt.
type AttemptPolicy struct {
	mu        sync.Mutex
	enabled   bool
	threshold int64
	cooloff   time.Duration
	limiter   *rate.Limiter
}

// NewAttemptPolicy creates a policy allowing bursts of threshold attempts,
// refilled at threshold attempts per cooloff.
func NewAttemptPolicy(cfg *config.AttemptLimiting) *AttemptPolicy {
	p := &AttemptPolicy{
		enabled:   cfg.Enabled && cfg.Threshold > 0 && cfg.CooloffMS > 0,
		threshold: cfg.Threshold,
		cooloff:   cfg.Cooloff(),
	}
	p.reset()
	return p
}

func (p *AttemptPolicy) reset() {
	if !p.enabled {
		return
	}
	perSecond := float64(p.threshold) * (float64(time.Second) / float64(p.cooloff))
	p.limiter = rate.NewLimiter(rate.Limit(perSecond), int(p.threshold))
}

// Allow reports whether an attempt may be made now, and if not, how long
// to wait before the next one.
func (p *AttemptPolicy) Allow() (time.Duration, bool) {
	if p == nil || !p.enabled {
		return 0, true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	r := p.limiter.Reserve()
	if !r.OK() {
		return p.cooloff, false
	}
	if delay := r.Delay(); delay > 0 {
		r.Cancel()
		return delay, false
	}
	return 0, true
}

// Reset forgets previous attempts, e.g. after a successful unlock.
func (p *AttemptPolicy) Reset() {
	if p == nil || !p.enabled {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
}
