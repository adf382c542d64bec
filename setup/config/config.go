package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

// Version is the current version of the config format.
const Version = 1

// RoomSync contains all of the configuration for a roomsync process.
type RoomSync struct {
	// The version of the configuration file.
	Version int `yaml:"version"`

	Global        Global        `yaml:"global"`
	RoomList      RoomList      `yaml:"room_list"`
	Notifications Notifications `yaml:"notifications"`
	LockScreen    LockScreen    `yaml:"lock_screen"`
}

// DefaultOpts controls how Defaults populates the config.
type DefaultOpts struct {
	// Generate fills in example values for a fresh config file.
	Generate bool
	// SingleDatabase stores everything in the global database.
	SingleDatabase bool
}

// ConfigErrors stores problems encountered when verifying a config.
type ConfigErrors []string

// Add appends an error to the list of errors.
func (errs *ConfigErrors) Add(str string) {
	*errs = append(*errs, str)
}

// Error returns a string detailing how many errors were contained within a
// ConfigErrors type.
func (errs ConfigErrors) Error() string {
	if len(errs) == 1 {
		return errs[0]
	}
	return fmt.Sprintf(
		"%s (and %d other problems)", errs[0], len(errs)-1,
	)
}

// DataSource is a database connection string.
type DataSource string

func (d DataSource) IsSQLite() bool {
	return strings.HasPrefix(string(d), "file:")
}

// Path is a filesystem path.
type Path string

type DatabaseOptions struct {
	// The connection string, file:filename.db or :memory: style.
	ConnectionString DataSource `yaml:"connection_string"`
}

type Global struct {
	// Logging configuration.
	Logging Logging `yaml:"logging"`

	// The shared database for components that don't override it.
	DatabaseOptions DatabaseOptions `yaml:"database,omitempty"`

	// NATS transport delivering push and room diff messages.
	NATS NATS `yaml:"nats"`

	// Metrics configuration.
	Metrics Metrics `yaml:"metrics"`

	// Sentry configuration.
	Sentry Sentry `yaml:"sentry"`
}

func (c *Global) Defaults(opts DefaultOpts) {
	c.Logging.Defaults()
	c.NATS.Defaults(opts)
	c.Metrics.Defaults(opts)
	c.Sentry.Defaults()
	if opts.Generate && opts.SingleDatabase {
		c.DatabaseOptions.ConnectionString = "file:roomsync.db"
	}
}

func (c *Global) Verify(configErrs *ConfigErrors) {
	c.Logging.Verify(configErrs)
	c.NATS.Verify(configErrs)
	c.Metrics.Verify(configErrs)
	c.Sentry.Verify(configErrs)
}

type Logging struct {
	// The logrus level, e.g. "info" or "debug".
	Level string `yaml:"level"`
	// Log as JSON instead of text.
	JSON bool `yaml:"json"`
}

func (c *Logging) Defaults() {
	c.Level = "info"
}

func (c *Logging) Verify(configErrs *ConfigErrors) {
	if _, err := logrus.ParseLevel(c.Level); err != nil {
		configErrs.Add(fmt.Sprintf("invalid value for config key %q: %s", "global.logging.level", c.Level))
	}
}

type NATS struct {
	// The NATS server URL. If empty and Embedded is set, an in-process
	// server is started instead.
	URL string `yaml:"url"`
	// Start an in-process NATS server.
	Embedded bool `yaml:"embedded"`
	// Prefix prepended to every subject, e.g. "roomsync".
	SubjectPrefix string `yaml:"subject_prefix"`
	// Where the embedded server keeps JetStream streams. A temporary
	// directory, removed on shutdown, is used if empty.
	StoragePath Path `yaml:"storage_path"`
	// Keep streams in memory instead of on disk.
	InMemory bool `yaml:"in_memory"`
}

func (c *NATS) Prefixed(subject string) string {
	return c.SubjectPrefix + "." + subject
}

// StreamName returns the JetStream stream name for a subject. Stream names
// may not contain dots.
func (c *NATS) StreamName(subject string) string {
	return strings.ToUpper(strings.ReplaceAll(c.Prefixed(subject), ".", "_"))
}

// Durable returns the prefixed name of a durable consumer.
func (c *NATS) Durable(name string) string {
	return strings.ReplaceAll(c.SubjectPrefix, ".", "_") + "_" + name
}

func (c *NATS) Defaults(opts DefaultOpts) {
	c.SubjectPrefix = "roomsync"
	if opts.Generate {
		c.Embedded = true
	}
}

func (c *NATS) Verify(configErrs *ConfigErrors) {
	checkNotEmpty(configErrs, "global.nats.subject_prefix", c.SubjectPrefix)
	if !c.Embedded {
		checkNotEmpty(configErrs, "global.nats.url", c.URL)
	}
}

type Metrics struct {
	Enabled bool `yaml:"enabled"`
	// The address the /metrics and /roomlist endpoints listen on.
	ListenAddress string `yaml:"listen_address"`
}

func (c *Metrics) Defaults(opts DefaultOpts) {
	c.Enabled = false
	if opts.Generate {
		c.ListenAddress = "localhost:7780"
	}
}

func (c *Metrics) Verify(configErrs *ConfigErrors) {
	if c.Enabled {
		checkNotEmpty(configErrs, "global.metrics.listen_address", c.ListenAddress)
	}
}

type Sentry struct {
	Enabled bool `yaml:"enabled"`
	// The DSN to connect to e.g "https://examplePublicKey@o0.ingest.sentry.io/0"
	// See https://docs.sentry.io/platforms/go/configuration/options/
	DSN string `yaml:"dsn"`
	// The environment e.g "production"
	// See https://docs.sentry.io/platforms/go/configuration/environments/
	Environment string `yaml:"environment"`
}

func (c *Sentry) Defaults() {
	c.Enabled = false
}

func (c *Sentry) Verify(configErrs *ConfigErrors) {
	if c.Enabled {
		checkNotEmpty(configErrs, "global.sentry.dsn", c.DSN)
	}
}

// Defaults sets default config values if they are not explicitly set.
func (c *RoomSync) Defaults(opts DefaultOpts) {
	c.Version = Version
	c.Global.Defaults(opts)
	c.RoomList.Defaults(opts)
	c.Notifications.Defaults(opts)
	c.LockScreen.Defaults(opts)
	c.Wiring()
}

// Wiring links each section back to the global options.
func (c *RoomSync) Wiring() {
	c.RoomList.Matrix = &c.Global
	c.Notifications.Matrix = &c.Global
	c.LockScreen.Matrix = &c.Global
}

// Verify checks that the config is valid, returning every problem found.
func (c *RoomSync) Verify(configErrs *ConfigErrors) {
	if c.Version != Version {
		configErrs.Add(fmt.Sprintf("unknown config version %d, expected %d", c.Version, Version))
		return
	}
	c.Global.Verify(configErrs)
	c.RoomList.Verify(configErrs)
	c.Notifications.Verify(configErrs)
	c.LockScreen.Verify(configErrs)
}

// Load reads and verifies the YAML config file at configPath.
func Load(configPath string) (*RoomSync, error) {
	configData, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	return loadConfig(configData)
}

func loadConfig(configData []byte) (*RoomSync, error) {
	var c RoomSync
	c.Defaults(DefaultOpts{})
	if err := yaml.Unmarshal(configData, &c); err != nil {
		return nil, err
	}
	c.Wiring()

	var configErrs ConfigErrors
	c.Verify(&configErrs)
	if len(configErrs) > 0 {
		return nil, configErrs
	}
	return &c, nil
}

// checkNotEmpty verifies the given value is not empty in the configuration.
// If it is, adds an error to the list.
func checkNotEmpty(configErrs *ConfigErrors, key, value string) {
	if value == "" {
		configErrs.Add(fmt.Sprintf("missing config key %q", key))
	}
}

// checkPositive verifies that the given value is positive (zero included)
// in the configuration. If it is not, adds an error to the list.
func checkPositive(configErrs *ConfigErrors, key string, value int64) {
	if value < 0 {
		configErrs.Add(fmt.Sprintf("invalid value for config key %q: %d", key, value))
	}
}
