// Copyright 2025 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

// Package inbox keeps the dynamic room list in line with the user's inbox
// settings.
package inbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/element-hq/roomsync/preferences"
	"github.com/element-hq/roomsync/roomlist/types"
)

// DynamicRoomList is the room list source provided by the SDK. Applying
// settings is assumed to be expensive, as it re-sorts every room.
type DynamicRoomList interface {
	UpdateSettings(ctx context.Context, filter types.RoomListFilter, settings types.InboxSettings) error
}

// sortKeys are the preferences making up a SortOrder, in SortOrder field
// order.
var sortKeys = [...]string{
	preferences.KeySortByUnread,
	preferences.KeyPinFavourites,
	preferences.KeyBuryLowPriority,
	preferences.KeyClientSideUnreadCounts,
	preferences.KeySortWithSilentUnread,
}

// InboxSettingsReconciler combines the sort order preferences with the
// filter selection and forwards every distinct combination to the room
// list exactly once, in the order the changes happened.
type InboxSettingsReconciler struct {
	prefs    preferences.Store
	filters  <-chan types.RoomListFilter
	roomList DynamicRoomList
	defaults types.SortOrder
	debounce time.Duration
	last     atomic.Value // types.InboxSettings, last forwarded
}

// Option configures an InboxSettingsReconciler.
type Option func(*InboxSettingsReconciler)

// WithDefaultSortOrder sets the sort order used for preferences that are
// not set.
func WithDefaultSortOrder(order types.SortOrder) Option {
	return func(r *InboxSettingsReconciler) {
		r.defaults = order
	}
}

// WithDebounce waits until no change has been seen for d before
// forwarding the settings.
func WithDebounce(d time.Duration) Option {
	return func(r *InboxSettingsReconciler) {
		r.debounce = d
	}
}

// NewInboxSettingsReconciler creates a reconciler. The filters channel
// carries the active room list filter; until it emits, every room matches.
func NewInboxSettingsReconciler(
	prefs preferences.Store,
	filters <-chan types.RoomListFilter,
	roomList DynamicRoomList,
	opts ...Option,
) *InboxSettingsReconciler {
	r := &InboxSettingsReconciler{
		prefs:    prefs,
		filters:  filters,
		roomList: roomList,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Current returns the settings last forwarded to the room list.
func (r *InboxSettingsReconciler) Current() (types.InboxSettings, bool) {
	settings, ok := r.last.Load().(types.InboxSettings)
	return settings, ok
}

// keyValue is a change of the sort key at index.
type keyValue struct {
	index int
	value preferences.Value
}

// Run reconciles until ctx is done. It only returns an error if the
// preferences could not be watched.
func (r *InboxSettingsReconciler) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	updates := make(chan keyValue)
	for i, key := range sortKeys {
		ch, err := r.prefs.Watch(ctx, key)
		if err != nil {
			return fmt.Errorf("watch preference %q: %w", key, err)
		}
		wg.Add(1)
		go func(index int, ch <-chan preferences.Value) {
			defer wg.Done()
			for v := range ch {
				select {
				case updates <- keyValue{index: index, value: v}:
				case <-ctx.Done():
					return
				}
			}
		}(i, ch)
	}

	var (
		values    [len(sortKeys)]preferences.Value
		seen      [len(sortKeys)]bool
		pending   = len(sortKeys)
		filter    = types.AllOf()
		filters   = r.filters
		forwarded bool
		last      types.InboxSettings
		timer     *time.Timer
		timerC    <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	forward := func() {
		settings := types.InboxSettings{SortOrder: r.sortOrder(values), Filter: filter}
		if forwarded && settings.Equal(last) {
			settingsSkipped.Inc()
			return
		}
		// The value counts as forwarded even if applying it fails, so a
		// run of identical values reaches the room list at most once. The
		// next distinct change is forwarded as usual.
		forwarded, last = true, settings
		r.last.Store(settings)
		logger := logrus.WithField("settings", settings.String())
		if err := r.roomList.UpdateSettings(ctx, settings.Filter, settings); err != nil {
			settingsApplied.WithLabelValues("failure").Inc()
			logger.WithError(err).Warn("Failed to apply inbox settings")
			return
		}
		settingsApplied.WithLabelValues("success").Inc()
		logger.Debug("Applied inbox settings")
	}

	// changed forwards the settings once every sort key has been read.
	changed := func() {
		if pending > 0 {
			return
		}
		if r.debounce <= 0 {
			forward()
			return
		}
		if timer == nil {
			timer = time.NewTimer(r.debounce)
		} else {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(r.debounce)
		}
		timerC = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case kv := <-updates:
			values[kv.index] = kv.value
			if !seen[kv.index] {
				seen[kv.index] = true
				pending--
			}
			changed()
		case f, ok := <-filters:
			if !ok {
				// Keep the last filter once the selection goes away.
				filters = nil
				continue
			}
			filter = f
			changed()
		case <-timerC:
			timerC = nil
			forward()
		}
	}
}

func (r *InboxSettingsReconciler) sortOrder(values [len(sortKeys)]preferences.Value) types.SortOrder {
	return types.SortOrder{
		ByUnread:               values[0].Bool(r.defaults.ByUnread),
		PinFavourites:          values[1].Bool(r.defaults.PinFavourites),
		BuryLowPriority:        values[2].Bool(r.defaults.BuryLowPriority),
		ClientSideUnreadCounts: values[3].Bool(r.defaults.ClientSideUnreadCounts),
		WithSilentUnread:       values[4].Bool(r.defaults.WithSilentUnread),
	}
}
