package config

import "time"

type Notifications struct {
	Matrix *Global `yaml:"-"`

	// The maximum number of resolutions running against the SDK at once.
	// default: 4
	Workers int `yaml:"workers"`

	// How long a resolved result is kept for the session's batch snapshot.
	// default: 1h
	ResultTTL time.Duration `yaml:"result_ttl"`

	// How many batch snapshots are buffered for a slow consumer before the
	// oldest is dropped.
	BatchBuffer int `yaml:"batch_buffer"`

	// Upper bound on a single resolution. Zero disables the timeout.
	ResolveTimeout time.Duration `yaml:"resolve_timeout"`
}

const (
	defaultNotificationWorkers     = 4
	defaultNotificationResultTTL   = time.Hour
	defaultNotificationBatchBuffer = 16
	defaultNotificationTimeout     = 30 * time.Second
)

func (c *Notifications) Defaults(opts DefaultOpts) {
	if c.Workers == 0 {
		c.Workers = defaultNotificationWorkers
	}
	if c.ResultTTL == 0 {
		c.ResultTTL = defaultNotificationResultTTL
	}
	if c.BatchBuffer == 0 {
		c.BatchBuffer = defaultNotificationBatchBuffer
	}
	if opts.Generate {
		c.ResolveTimeout = defaultNotificationTimeout
	}
}

func (c *Notifications) Verify(configErrs *ConfigErrors) {
	checkPositive(configErrs, "notifications.workers", int64(c.Workers))
	checkPositive(configErrs, "notifications.result_ttl", int64(c.ResultTTL))
	checkPositive(configErrs, "notifications.batch_buffer", int64(c.BatchBuffer))
	checkPositive(configErrs, "notifications.resolve_timeout", int64(c.ResolveTimeout))
	if c.Workers == 0 {
		configErrs.Add("notifications.workers must be at least 1")
	}
}
