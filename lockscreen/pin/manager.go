// Copyright 2025 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

// Package pin manages the pin code protecting the app.
package pin

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/element-hq/roomsync/preferences"
)

// Preference keys holding the pin material.
const (
	KeyEncryptedPinCode  = "ENCRYPTED_PIN_CODE"
	KeyRemainingAttempts = "REMAINING_PIN_CODE_ATTEMPTS"
)

// UnlimitedAttempts is reported as the remaining attempts when wrong
// attempts are not counted.
const UnlimitedAttempts = -1

var (
	ErrNoPinCode      = errors.New("no pin code configured")
	ErrInvalidPinCode = errors.New("invalid pin code")
	// ErrNoAttemptsLeft is returned once every wrong attempt has been used.
	// Only signing out, which deletes the pin, recovers from it.
	ErrNoAttemptsLeft = errors.New("no pin code attempts left")
)

// Callback is notified of pin code changes. Embed NoopCallback to only
// implement some of the methods.
type Callback interface {
	OnPinCodeCreated()
	OnPinCodeVerified()
	OnPinCodeRemoved()
}

// NoopCallback ignores every notification.
type NoopCallback struct{}

func (NoopCallback) OnPinCodeCreated()  {}
func (NoopCallback) OnPinCodeVerified() {}
func (NoopCallback) OnPinCodeRemoved()  {}

// PinCodeManager creates, verifies and deletes the pin code. The pin is
// only ever stored as a bcrypt hash.
type PinCodeManager struct {
	store       preferences.Store
	size        int
	maxAttempts int
	cost        int

	mu        sync.Mutex
	callbacks []Callback
}

// Option configures a PinCodeManager.
type Option func(*PinCodeManager)

// WithBcryptCost overrides the bcrypt cost, e.g. to speed up tests.
func WithBcryptCost(cost int) Option {
	return func(m *PinCodeManager) {
		m.cost = cost
	}
}

// NewPinCodeManager creates a manager for pins of the given size. A
// maxAttempts of zero allows unlimited wrong attempts.
func NewPinCodeManager(store preferences.Store, size, maxAttempts int, opts ...Option) *PinCodeManager {
	m := &PinCodeManager{
		store:       store,
		size:        size,
		maxAttempts: maxAttempts,
		cost:        bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Size returns the number of digits of a pin.
func (m *PinCodeManager) Size() int {
	return m.size
}

func (m *PinCodeManager) AddCallback(cb Callback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

func (m *PinCodeManager) RemoveCallback(cb Callback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.callbacks {
		if m.callbacks[i] == cb {
			m.callbacks = append(m.callbacks[:i], m.callbacks[i+1:]...)
			return
		}
	}
}

func (m *PinCodeManager) notify(f func(Callback)) {
	m.mu.Lock()
	callbacks := make([]Callback, len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mu.Unlock()
	for _, cb := range callbacks {
		f(cb)
	}
}

// Validate checks that the pin has the configured number of digits.
func (m *PinCodeManager) Validate(pin string) error {
	if len(pin) != m.size {
		return fmt.Errorf("%w: must have %d digits", ErrInvalidPinCode, m.size)
	}
	for _, c := range pin {
		if c < '0' || c > '9' {
			return fmt.Errorf("%w: must only contain digits", ErrInvalidPinCode)
		}
	}
	return nil
}

// IsPinCodeAvailable returns true if a pin code is configured.
func (m *PinCodeManager) IsPinCodeAvailable(ctx context.Context) (bool, error) {
	v, err := m.store.Get(ctx, KeyEncryptedPinCode)
	if err != nil {
		return false, fmt.Errorf("m.store.Get: %w", err)
	}
	return v.Present, nil
}

// WatchPinCodeAvailable emits whether a pin code is configured, first the
// current state and then every change, until ctx is done.
func (m *PinCodeManager) WatchPinCodeAvailable(ctx context.Context) (<-chan bool, error) {
	values, err := m.store.Watch(ctx, KeyEncryptedPinCode)
	if err != nil {
		return nil, fmt.Errorf("m.store.Watch: %w", err)
	}
	out := make(chan bool, 1)
	go func() {
		defer close(out)
		for v := range values {
			select {
			case out <- v.Present:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// CreatePinCode stores the hash of the pin and resets the remaining
// attempts.
func (m *PinCodeManager) CreatePinCode(ctx context.Context, pin string) error {
	if err := m.Validate(pin); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), m.cost)
	if err != nil {
		return fmt.Errorf("bcrypt.GenerateFromPassword: %w", err)
	}
	if err = m.store.Set(ctx, KeyEncryptedPinCode, string(hash)); err != nil {
		return fmt.Errorf("m.store.Set: %w", err)
	}
	if err = m.resetAttempts(ctx); err != nil {
		return err
	}
	logrus.Info("Pin code created")
	m.notify(Callback.OnPinCodeCreated)
	return nil
}

// VerifyPinCode checks the pin against the stored hash. A wrong pin uses
// up one of the remaining attempts. Once none remain, no pin is checked and
// ErrNoAttemptsLeft is returned.
func (m *PinCodeManager) VerifyPinCode(ctx context.Context, pin string) (bool, error) {
	v, err := m.store.Get(ctx, KeyEncryptedPinCode)
	if err != nil {
		return false, fmt.Errorf("m.store.Get: %w", err)
	}
	if !v.Present {
		return false, ErrNoPinCode
	}
	remaining, err := m.RemainingAttempts(ctx)
	if err != nil {
		return false, err
	}
	if remaining == 0 {
		return false, ErrNoAttemptsLeft
	}
	err = bcrypt.CompareHashAndPassword([]byte(v.Value), []byte(pin))
	switch {
	case err == nil:
		if err = m.resetAttempts(ctx); err != nil {
			return false, err
		}
		m.notify(Callback.OnPinCodeVerified)
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, m.useAttempt(ctx)
	default:
		return false, fmt.Errorf("bcrypt.CompareHashAndPassword: %w", err)
	}
}

// RemainingAttempts returns the number of wrong attempts left, or
// UnlimitedAttempts.
func (m *PinCodeManager) RemainingAttempts(ctx context.Context) (int, error) {
	if m.maxAttempts <= 0 {
		return UnlimitedAttempts, nil
	}
	v, err := m.store.Get(ctx, KeyRemainingAttempts)
	if err != nil {
		return 0, fmt.Errorf("m.store.Get: %w", err)
	}
	if !v.Present {
		return m.maxAttempts, nil
	}
	remaining, err := strconv.Atoi(v.Value)
	if err != nil {
		logrus.WithError(err).Warn("Ignoring malformed remaining pin code attempts")
		return m.maxAttempts, nil
	}
	return remaining, nil
}

func (m *PinCodeManager) useAttempt(ctx context.Context) error {
	if m.maxAttempts <= 0 {
		return nil
	}
	remaining, err := m.RemainingAttempts(ctx)
	if err != nil {
		return err
	}
	if remaining > 0 {
		remaining--
	}
	if err = m.store.Set(ctx, KeyRemainingAttempts, strconv.Itoa(remaining)); err != nil {
		return fmt.Errorf("m.store.Set: %w", err)
	}
	logrus.WithField("remaining_attempts", remaining).Info("Wrong pin code")
	return nil
}

func (m *PinCodeManager) resetAttempts(ctx context.Context) error {
	if err := m.store.Delete(ctx, KeyRemainingAttempts); err != nil {
		return fmt.Errorf("m.store.Delete: %w", err)
	}
	return nil
}

// DeletePinCode forgets the pin and its attempts.
func (m *PinCodeManager) DeletePinCode(ctx context.Context) error {
	if err := m.store.Delete(ctx, KeyEncryptedPinCode); err != nil {
		return fmt.Errorf("m.store.Delete: %w", err)
	}
	if err := m.resetAttempts(ctx); err != nil {
		return err
	}
	logrus.Info("Pin code deleted")
	m.notify(Callback.OnPinCodeRemoved)
	return nil
}
