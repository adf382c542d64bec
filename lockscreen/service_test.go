// Copyright 2025 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package lockscreen

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/element-hq/roomsync/lockscreen/pin"
	"github.com/element-hq/roomsync/preferences"
	"github.com/element-hq/roomsync/setup/config"
)

type fakeTimer struct {
	clock   *fakeClock
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	wasPending := !t.stopped
	t.stopped = true
	return wasPending
}

// fakeClock only fires timers when told to.
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(_ time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, f: f}
	c.timers = append(c.timers, t)
	return t
}

// fire runs every pending timer, including stopped ones if force is set.
func (c *fakeClock) fire(force bool) {
	c.mu.Lock()
	timers := c.timers
	c.timers = nil
	c.mu.Unlock()
	for _, t := range timers {
		if force || !t.stopped {
			t.f()
		}
	}
}

func testConfig() *config.LockScreen {
	var cfg config.LockScreen
	cfg.Defaults(config.DefaultOpts{})
	return &cfg
}

func newService(t *testing.T, cfg *config.LockScreen, store preferences.Store) (*LockScreenService, *fakeClock) {
	t.Helper()
	if store == nil {
		store = preferences.NewInMemoryStore()
	}
	pins := pin.NewPinCodeManager(store, cfg.PinSize, cfg.MaxAttempts, pin.WithBcryptCost(bcrypt.MinCost))
	clock := &fakeClock{}
	s, err := NewLockScreenService(context.Background(), cfg, pins, WithClock(clock))
	require.NoError(t, err)
	return s, clock
}

func TestLockScreenService_PinLifecycle(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t, testConfig(), nil)
	assert.Equal(t, StateNotConfigured, s.State())

	_, err := s.Verify(ctx, "1235")
	assert.ErrorIs(t, err, pin.ErrNoPinCode)

	require.NoError(t, s.SetupPin(ctx, "1235"))
	assert.Equal(t, StateLocked, s.State())

	res, err := s.Verify(ctx, "1234")
	require.NoError(t, err)
	assert.False(t, res.Unlocked)
	assert.Equal(t, 2, res.RemainingAttempts)
	assert.Equal(t, StateLocked, s.State())

	res, err = s.Verify(ctx, "1235")
	require.NoError(t, err)
	assert.True(t, res.Unlocked)
	assert.Equal(t, 3, res.RemainingAttempts)
	assert.Equal(t, StateUnlocked, s.State())

	require.NoError(t, s.DeletePin(ctx))
	assert.Equal(t, StateNotConfigured, s.State())
}

func TestLockScreenService_StartsLockedWithExistingPin(t *testing.T) {
	store := preferences.NewInMemoryStore()
	first, _ := newService(t, testConfig(), store)
	require.NoError(t, first.SetupPin(context.Background(), "1235"))

	second, _ := newService(t, testConfig(), store)
	assert.Equal(t, StateLocked, second.State())
}

func TestLockScreenService_WrongAttemptsRequireSignOut(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t, testConfig(), nil)
	require.NoError(t, s.SetupPin(ctx, "1235"))

	remaining, err := s.RemainingAttempts(ctx)
	require.NoError(t, err)
	var res VerifyResult
	for i := 0; i < remaining; i++ {
		res, err = s.Verify(ctx, "1234")
		require.NoError(t, err)
	}
	assert.Equal(t, 0, res.RemainingAttempts)
	assert.True(t, res.SignOutRequired)
	assert.Equal(t, StateLocked, s.State())

	for i := 0; i < 10; i++ {
		res, err = s.Verify(ctx, "1234")
		require.NoError(t, err)
		assert.True(t, res.SignOutRequired)
	}
	res, err = s.Verify(ctx, "1235")
	require.NoError(t, err)
	assert.False(t, res.Unlocked)
	assert.True(t, res.SignOutRequired)
	assert.Equal(t, 0, res.RemainingAttempts)
	assert.Equal(t, StateLocked, s.State())
}

func TestLockScreenService_GracePeriod(t *testing.T) {
	ctx := context.Background()
	s, clock := newService(t, testConfig(), nil)
	require.NoError(t, s.SetupPin(ctx, "1235"))
	_, err := s.Verify(ctx, "1235")
	require.NoError(t, err)

	// Back within the grace period.
	s.OnAppBackgrounded()
	assert.Equal(t, StateGracePeriod, s.State())
	s.OnAppForegrounded()
	assert.Equal(t, StateUnlocked, s.State())
	// The timer of the previous grace period has no effect, even if it
	// fired before it could be stopped.
	clock.fire(true)
	assert.Equal(t, StateUnlocked, s.State())

	// Grace period expires while in the background.
	s.OnAppBackgrounded()
	clock.fire(false)
	assert.Equal(t, StateLocked, s.State())
	s.OnAppForegrounded()
	assert.Equal(t, StateLocked, s.State())
}

func TestLockScreenService_NoGracePeriodLocksImmediately(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.GracePeriod = 0
	s, _ := newService(t, cfg, nil)
	require.NoError(t, s.SetupPin(ctx, "1235"))
	require.NoError(t, s.UnlockWithBiometric())

	s.OnAppBackgrounded()
	assert.Equal(t, StateLocked, s.State())
}

func TestLockScreenService_Biometric(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	s, _ := newService(t, cfg, nil)
	assert.ErrorIs(t, s.UnlockWithBiometric(), pin.ErrNoPinCode)

	require.NoError(t, s.SetupPin(ctx, "1235"))
	require.NoError(t, s.UnlockWithBiometric())
	assert.Equal(t, StateUnlocked, s.State())
	assert.ErrorIs(t, s.UnlockWithBiometric(), ErrNotLocked)

	cfg.BiometricUnlockAllowed = false
	assert.ErrorIs(t, s.UnlockWithBiometric(), ErrBiometricNotAllowed)
}

func TestLockScreenService_AttemptLimiting(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.MaxAttempts = 0
	cfg.AttemptLimiting = config.AttemptLimiting{Enabled: true, Threshold: 2, CooloffMS: int64(time.Hour / time.Millisecond)}
	s, _ := newService(t, cfg, nil)
	require.NoError(t, s.SetupPin(ctx, "1235"))

	for i := 0; i < 2; i++ {
		res, err := s.Verify(ctx, "1234")
		require.NoError(t, err)
		assert.Zero(t, res.RetryAfter)
		assert.Equal(t, pin.UnlimitedAttempts, res.RemainingAttempts)
		assert.False(t, res.SignOutRequired)
	}
	res, err := s.Verify(ctx, "1235")
	require.NoError(t, err)
	assert.False(t, res.Unlocked)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
	assert.Equal(t, StateLocked, s.State())
}

func TestLockScreenService_Subscribe(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t, testConfig(), nil)
	states, unsubscribe := s.Subscribe()
	assert.Equal(t, StateNotConfigured, <-states)

	require.NoError(t, s.SetupPin(ctx, "1235"))
	assert.Equal(t, StateLocked, <-states)
	require.NoError(t, s.UnlockWithBiometric())
	assert.Equal(t, StateUnlocked, <-states)

	unsubscribe()
	_, ok := <-states
	assert.False(t, ok)
}

func expectBool(t *testing.T, ch <-chan bool, want bool) {
	t.Helper()
	select {
	case got := <-ch:
		assert.Equal(t, want, got)
	case <-time.After(5 * time.Second):
		t.Fatalf("no update, wanted %v", want)
	}
}

func expectNoBool(t *testing.T, ch <-chan bool) {
	t.Helper()
	select {
	case got := <-ch:
		t.Fatalf("unexpected update %v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLockScreenService_IsSetupRequired(t *testing.T) {
	t.Run("pin not mandatory", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		s, _ := newService(t, testConfig(), nil)
		required, err := s.IsSetupRequired(ctx)
		require.NoError(t, err)
		expectBool(t, required, false)
	})

	t.Run("pin mandatory", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		cfg := testConfig()
		cfg.IsPinMandatory = true
		store := preferences.NewInMemoryStore()
		s, _ := newService(t, cfg, store)
		required, err := s.IsSetupRequired(ctx)
		require.NoError(t, err)
		expectBool(t, required, true)

		// Configuring the pin code removes the requirement.
		require.NoError(t, store.Set(ctx, pin.KeyEncryptedPinCode, "encryptedCode"))
		expectBool(t, required, false)
		// Deleting it brings it back.
		require.NoError(t, store.Delete(ctx, pin.KeyEncryptedPinCode))
		expectBool(t, required, true)
	})
}

func TestLockScreenService_OnSessionDeleted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := testConfig()
	cfg.IsPinMandatory = true
	store := preferences.NewInMemoryStore()
	s, _ := newService(t, cfg, store)

	setup, err := s.IsPinSetup(ctx)
	require.NoError(t, err)
	expectBool(t, setup, false)

	require.NoError(t, store.Set(ctx, pin.KeyEncryptedPinCode, "encryptedCode"))
	expectBool(t, setup, true)

	require.NoError(t, s.OnSessionDeleted(ctx, "@alice:example.org", false))
	expectNoBool(t, setup)

	require.NoError(t, s.OnSessionDeleted(ctx, "@alice:example.org", true))
	expectBool(t, setup, false)
	assert.Equal(t, StateNotConfigured, s.State())
}
