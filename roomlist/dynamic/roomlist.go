// Copyright 2025 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

// Package dynamic provides the filtered and sorted view of the room list.
package dynamic

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/element-hq/roomsync/roomlist/filters"
	"github.com/element-hq/roomsync/roomlist/sorting"
	"github.com/element-hq/roomsync/roomlist/storage"
	"github.com/element-hq/roomsync/roomlist/types"
)

// RoomList applies the inbox settings to the room summary store. Every
// read works on the latest snapshot of the store.
type RoomList struct {
	store    *storage.RoomSummaryStore
	engine   *filters.Engine
	settings atomic.Value // types.InboxSettings
	updates  atomic.Uint64
}

// NewRoomList creates a view matching every visible room, most recent
// first, until settings are applied.
func NewRoomList(store *storage.RoomSummaryStore, engine *filters.Engine) *RoomList {
	l := &RoomList{store: store, engine: engine}
	l.settings.Store(types.InboxSettings{Filter: types.AllOf()})
	return l
}

// UpdateSettings replaces the filter and sort order of the view.
func (l *RoomList) UpdateSettings(ctx context.Context, filter types.RoomListFilter, settings types.InboxSettings) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	settings.Filter = filter
	l.settings.Store(settings)
	n := l.updates.Inc()
	logrus.WithFields(logrus.Fields{
		"settings": settings.String(),
		"updates":  n,
	}).Debug("Applied room list settings")
	return nil
}

// Settings returns the settings currently applied.
func (l *RoomList) Settings() types.InboxSettings {
	return l.settings.Load().(types.InboxSettings)
}

// Page is a window of the room list.
type Page struct {
	Version uint64
	Total   int
	Rooms   []types.RoomSummary
}

// Entries returns the rooms in the inclusive window [start, end] of the
// filtered and sorted list. If extra is set, rooms must also match it.
func (l *RoomList) Entries(start, end int, extra *types.RoomListFilter) Page {
	settings := l.Settings()
	filter := settings.Filter
	if extra != nil {
		filter = types.AllOf(filter, *extra)
	}
	snapshot := l.store.Snapshot()
	rooms := l.engine.Apply(snapshot.Rooms, filter)
	sorting.Sort(rooms, settings.SortOrder)
	return Page{
		Version: snapshot.Version,
		Total:   len(rooms),
		Rooms:   sorting.ApplyWindow(rooms, start, end),
	}
}

// FilterSelection is the user's quick filter selection. Every change is
// published to the channel read by the inbox settings reconciler.
type FilterSelection struct {
	mu        sync.Mutex
	selection *filters.Selection
	out       chan types.RoomListFilter
}

// NewFilterSelection creates an empty selection.
func NewFilterSelection(hidden ...types.Filter) *FilterSelection {
	return &FilterSelection{
		selection: filters.NewSelection(hidden...),
		out:       make(chan types.RoomListFilter, 1),
	}
}

// Filters emits the room list filter after every change. A slow reader
// only sees the latest filter.
func (s *FilterSelection) Filters() <-chan types.RoomListFilter {
	return s.out
}

// Toggle selects or deselects the filter and returns the new states.
func (s *FilterSelection) Toggle(f types.Filter) []types.FilterSelectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selection.Toggle(f)
	s.publish()
	return s.selection.States()
}

// Clear deselects every filter and returns the new states.
func (s *FilterSelection) Clear() []types.FilterSelectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selection.Clear()
	s.publish()
	return s.selection.States()
}

// States returns the filters to present to the user.
func (s *FilterSelection) States() []types.FilterSelectionState {
	return s.selection.States()
}

// HasAnyFilterSelected returns true if at least one filter is selected.
func (s *FilterSelection) HasAnyFilterSelected() bool {
	return s.selection.HasAnyFilterSelected()
}

// publish replaces any unread filter with the current one. Callers hold
// s.mu.
func (s *FilterSelection) publish() {
	select {
	case <-s.out:
	default:
	}
	s.out <- s.selection.RoomListFilter()
}
