package config

import (
	"fmt"
	"time"
)

type RoomList struct {
	Matrix *Global `yaml:"-"`

	// The preferences database holds the inbox sort order and the lock
	// screen material. Falls back to the global database if empty.
	Database DatabaseOptions `yaml:"database,omitempty"`

	// How many rooms the /roomlist view returns by default.
	PageSize int `yaml:"page_size"`

	// Wait this long for configuration changes to settle before applying
	// inbox settings. Zero applies every distinct change immediately.
	SettingsDebounce time.Duration `yaml:"settings_debounce"`

	// The sort order used until the user picks one.
	DefaultSortOrder SortOrder `yaml:"default_sort_order"`

	// Filters which are never offered for selection, e.g. "invites".
	HiddenFilters []string `yaml:"hidden_filters"`
}

type SortOrder struct {
	ByUnread               bool `yaml:"by_unread"`
	PinFavourites          bool `yaml:"pin_favourites"`
	BuryLowPriority        bool `yaml:"bury_low_priority"`
	ClientSideUnreadCounts bool `yaml:"client_side_unread_counts"`
	WithSilentUnread       bool `yaml:"with_silent_unread"`
}

var knownFilters = map[string]struct{}{
	"unread":     {},
	"people":     {},
	"rooms":      {},
	"favourites": {},
	"invites":    {},
}

func (c *RoomList) Defaults(opts DefaultOpts) {
	c.PageSize = 50
	c.SettingsDebounce = 0
	c.DefaultSortOrder = SortOrder{}
	if opts.Generate && !opts.SingleDatabase {
		c.Database.ConnectionString = "file:preferences.db"
	}
}

func (c *RoomList) Verify(configErrs *ConfigErrors) {
	checkPositive(configErrs, "room_list.page_size", int64(c.PageSize))
	checkPositive(configErrs, "room_list.settings_debounce", int64(c.SettingsDebounce))
	if c.PageSize == 0 {
		configErrs.Add(fmt.Sprintf("invalid value for config key %q: %d", "room_list.page_size", c.PageSize))
	}
	for i, name := range c.HiddenFilters {
		if _, ok := knownFilters[name]; !ok {
			configErrs.Add(fmt.Sprintf("unknown filter for config key %q: %s", fmt.Sprintf("room_list.hidden_filters[%d]", i), name))
		}
	}
	if c.Matrix.DatabaseOptions.ConnectionString == "" {
		checkNotEmpty(configErrs, "room_list.database.connection_string", string(c.Database.ConnectionString))
	}
}

// DatabaseConnectionString returns the preferences database, falling back
// to the global one.
func (c *RoomList) DatabaseConnectionString() DataSource {
	if c.Database.ConnectionString != "" {
		return c.Database.ConnectionString
	}
	return c.Matrix.DatabaseOptions.ConnectionString
}
