package config

import (
	"fmt"
	"time"
)

type LockScreen struct {
	Matrix *Global `yaml:"-"`

	// If set, the user must configure a pin before using the app.
	IsPinMandatory bool `yaml:"is_pin_mandatory"`

	// The number of digits in a pin.
	PinSize int `yaml:"pin_size"`

	// Wrong attempts allowed before the user must sign out. Zero allows
	// unlimited attempts.
	MaxAttempts int `yaml:"max_attempts"`

	// How long after going to the background the app stays unlocked.
	GracePeriod time.Duration `yaml:"grace_period"`

	// Whether biometric unlock may replace the pin.
	BiometricUnlockAllowed bool `yaml:"biometric_unlock_allowed"`

	// Throttling of wrong attempts.
	AttemptLimiting AttemptLimiting `yaml:"attempt_limiting"`
}

func (c *LockScreen) Defaults(opts DefaultOpts) {
	c.IsPinMandatory = false
	c.PinSize = 4
	c.MaxAttempts = 3
	c.GracePeriod = 90 * time.Second
	c.BiometricUnlockAllowed = true
	c.AttemptLimiting.Defaults()
}

func (c *LockScreen) Verify(configErrs *ConfigErrors) {
	checkPositive(configErrs, "lock_screen.max_attempts", int64(c.MaxAttempts))
	checkPositive(configErrs, "lock_screen.grace_period", int64(c.GracePeriod))
	if c.PinSize < 4 || c.PinSize > 8 {
		configErrs.Add(fmt.Sprintf("invalid value for config key %q: %d (must be between 4 and 8)", "lock_screen.pin_size", c.PinSize))
	}
	c.AttemptLimiting.Verify(configErrs)
}

type AttemptLimiting struct {
	// Is attempt limiting enabled or disabled?
	Enabled bool `yaml:"enabled"`

	// How many wrong attempts can be made in a burst before the cooloff
	// applies.
	Threshold int64 `yaml:"threshold"`

	// The cooloff period in milliseconds after which another attempt is
	// allowed.
	CooloffMS int64 `yaml:"cooloff_ms"`
}

func (r *AttemptLimiting) Defaults() {
	r.Enabled = false
	r.Threshold = 3
	r.CooloffMS = 30000
}

func (r *AttemptLimiting) Verify(configErrs *ConfigErrors) {
	if r.Enabled {
		if r.Threshold <= 0 || r.CooloffMS <= 0 {
			configErrs.Add(
				"lock_screen.attempt_limiting: both 'threshold' and 'cooloff_ms' must be positive when attempt limiting is enabled. " +
					"Set 'enabled: false' to disable attempt limiting, or provide valid positive values for both parameters.",
			)
		} else {
			checkPositive(configErrs, "lock_screen.attempt_limiting.threshold", r.Threshold)
			checkPositive(configErrs, "lock_screen.attempt_limiting.cooloff_ms", r.CooloffMS)
		}
	}
}

// Cooloff returns the cooloff as a duration.
func (r *AttemptLimiting) Cooloff() time.Duration {
	return time.Duration(r.CooloffMS) * time.Millisecond
}
