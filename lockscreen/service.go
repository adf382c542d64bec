// Copyright 2025 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

// Package lockscreen implements the pin lock protecting the app, which is
// independent from the Matrix account authentication.
package lockscreen

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/element-hq/roomsync/lockscreen/pin"
	"github.com/element-hq/roomsync/setup/config"
)

// State is the state of the pin lock.
type State int

const (
	StateNotConfigured State = iota
	StateLocked
	StateUnlocked
	// StateGracePeriod is an unlocked app in the background which locks
	// once the grace period expires.
	StateGracePeriod
)

func (s State) String() string {
	switch s {
	case StateNotConfigured:
		return "not_configured"
	case StateLocked:
		return "locked"
	case StateUnlocked:
		return "unlocked"
	case StateGracePeriod:
		return "grace_period"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var (
	ErrBiometricNotAllowed = errors.New("biometric unlock is not allowed")
	ErrNotLocked           = errors.New("lock screen is not locked")
)

// VerifyResult is the outcome of a pin attempt. A wrong pin is not an
// error.
type VerifyResult struct {
	Unlocked bool
	// RemainingAttempts is pin.UnlimitedAttempts if wrong attempts are not
	// counted.
	RemainingAttempts int
	// SignOutRequired is set once no attempts remain: the user must sign
	// out to get rid of the pin.
	SignOutRequired bool
	// RetryAfter is set if the attempt was throttled and not checked.
	RetryAfter time.Duration
}

// Timer is a pending AfterFunc call.
type Timer interface {
	Stop() bool
}

// Clock schedules the grace period expiry.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Option configures a LockScreenService.
type Option func(*LockScreenService)

func WithClock(clock Clock) Option {
	return func(s *LockScreenService) {
		s.clock = clock
	}
}

func WithAttemptPolicy(policy *AttemptPolicy) Option {
	return func(s *LockScreenService) {
		s.policy = policy
	}
}

// LockScreenService drives the pin lock state machine.
type LockScreenService struct {
	cfg    *config.LockScreen
	pins   *pin.PinCodeManager
	policy *AttemptPolicy
	clock  Clock

	mu          sync.Mutex
	state       State
	graceTimer  Timer
	generation  uint64 // invalidates grace timers which already fired
	subscribers map[int]chan State
	nextSubID   int
}

// NewLockScreenService creates the service, starting Locked if a pin is
// already configured.
func NewLockScreenService(ctx context.Context, cfg *config.LockScreen, pins *pin.PinCodeManager, opts ...Option) (*LockScreenService, error) {
	s := &LockScreenService{
		cfg:         cfg,
		pins:        pins,
		policy:      NewAttemptPolicy(&cfg.AttemptLimiting),
		clock:       realClock{},
		state:       StateNotConfigured,
		subscribers: make(map[int]chan State),
	}
	for _, opt := range opts {
		opt(s)
	}
	available, err := pins.IsPinCodeAvailable(ctx)
	if err != nil {
		return nil, err
	}
	if available {
		s.state = StateLocked
	}
	return s, nil
}

// State returns the current state.
func (s *LockScreenService) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe returns a channel receiving the state after every transition,
// starting with the current one. Slow subscribers only see the latest
// state. The returned function unsubscribes.
func (s *LockScreenService) Subscribe() (<-chan State, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	ch := make(chan State, 1)
	ch <- s.state
	s.subscribers[id] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(sub)
		}
	}
}

// setState transitions and notifies subscribers. Callers hold s.mu.
func (s *LockScreenService) setState(state State) {
	if s.state == state {
		return
	}
	logrus.WithFields(logrus.Fields{
		"from": s.state.String(),
		"to":   state.String(),
	}).Debug("Lock screen transition")
	s.state = state
	if state != StateGracePeriod {
		s.stopGraceTimer()
	}
	lockTransitions.WithLabelValues(state.String()).Inc()
	for _, ch := range s.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- state
	}
}

func (s *LockScreenService) stopGraceTimer() {
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
	s.generation++
}

// SetupPin configures a pin, which locks the app.
func (s *LockScreenService) SetupPin(ctx context.Context, code string) error {
	if err := s.pins.CreatePinCode(ctx, code); err != nil {
		return err
	}
	s.policy.Reset()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setState(StateLocked)
	return nil
}

// Verify checks a pin attempt, unlocking the app if it is correct.
func (s *LockScreenService) Verify(ctx context.Context, code string) (VerifyResult, error) {
	if s.State() == StateNotConfigured {
		return VerifyResult{}, pin.ErrNoPinCode
	}
	if retryAfter, ok := s.policy.Allow(); !ok {
		pinVerifications.WithLabelValues("throttled").Inc()
		remaining, err := s.pins.RemainingAttempts(ctx)
		if err != nil {
			return VerifyResult{}, err
		}
		return VerifyResult{RemainingAttempts: remaining, RetryAfter: retryAfter}, nil
	}

	ok, err := s.pins.VerifyPinCode(ctx, code)
	switch {
	case errors.Is(err, pin.ErrNoAttemptsLeft):
		pinVerifications.WithLabelValues("exhausted").Inc()
		return VerifyResult{SignOutRequired: true}, nil
	case err != nil:
		return VerifyResult{}, err
	}
	remaining, err := s.pins.RemainingAttempts(ctx)
	if err != nil {
		return VerifyResult{}, err
	}
	if ok {
		pinVerifications.WithLabelValues("success").Inc()
		s.policy.Reset()
		s.mu.Lock()
		s.setState(StateUnlocked)
		s.mu.Unlock()
		return VerifyResult{Unlocked: true, RemainingAttempts: remaining}, nil
	}
	pinVerifications.WithLabelValues("wrong_pin").Inc()
	return VerifyResult{
		RemainingAttempts: remaining,
		SignOutRequired:   remaining == 0,
	}, nil
}

// UnlockWithBiometric unlocks the app after a successful biometric check
// by the platform.
func (s *LockScreenService) UnlockWithBiometric() error {
	if !s.cfg.BiometricUnlockAllowed {
		return ErrBiometricNotAllowed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateNotConfigured:
		return pin.ErrNoPinCode
	case StateLocked:
		s.setState(StateUnlocked)
		return nil
	default:
		return ErrNotLocked
	}
}

// OnAppBackgrounded starts the grace period of an unlocked app, or locks
// it straight away if there is none.
func (s *LockScreenService) OnAppBackgrounded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateUnlocked {
		return
	}
	if s.cfg.GracePeriod <= 0 {
		s.setState(StateLocked)
		return
	}
	s.setState(StateGracePeriod)
	s.stopGraceTimer()
	generation := s.generation
	s.graceTimer = s.clock.AfterFunc(s.cfg.GracePeriod, func() {
		s.onGracePeriodExpired(generation)
	})
}

func (s *LockScreenService) onGracePeriodExpired(generation uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if generation != s.generation || s.state != StateGracePeriod {
		return
	}
	s.graceTimer = nil
	s.setState(StateLocked)
}

// OnAppForegrounded keeps the app unlocked if it returns within the grace
// period.
func (s *LockScreenService) OnAppForegrounded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateGracePeriod {
		s.setState(StateUnlocked)
	}
}

// DeletePin removes the pin, which unconfigures the lock.
func (s *LockScreenService) DeletePin(ctx context.Context) error {
	if err := s.pins.DeletePinCode(ctx); err != nil {
		return err
	}
	s.policy.Reset()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setState(StateNotConfigured)
	return nil
}

// OnSessionDeleted removes the pin once the last session signs out.
func (s *LockScreenService) OnSessionDeleted(ctx context.Context, userID string, wasLastSession bool) error {
	if !wasLastSession {
		return nil
	}
	available, err := s.pins.IsPinCodeAvailable(ctx)
	if err != nil {
		return err
	}
	if !available {
		return nil
	}
	logrus.WithField("user_id", userID).Info("Last session deleted, removing pin code")
	return s.DeletePin(ctx)
}

// IsPinSetup emits whether a pin is configured, then every change, until
// ctx is done.
func (s *LockScreenService) IsPinSetup(ctx context.Context) (<-chan bool, error) {
	return s.pins.WatchPinCodeAvailable(ctx)
}

// IsSetupRequired emits whether the user must configure a pin, then every
// change, until ctx is done.
func (s *LockScreenService) IsSetupRequired(ctx context.Context) (<-chan bool, error) {
	available, err := s.pins.WatchPinCodeAvailable(ctx)
	if err != nil {
		return nil, err
	}
	out := make(chan bool, 1)
	go func() {
		defer close(out)
		first, last := true, false
		for a := range available {
			required := s.cfg.IsPinMandatory && !a
			if !first && required == last {
				continue
			}
			first, last = false, required
			select {
			case out <- required:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// RemainingAttempts returns the number of wrong attempts left.
func (s *LockScreenService) RemainingAttempts(ctx context.Context) (int, error) {
	return s.pins.RemainingAttempts(ctx)
}
