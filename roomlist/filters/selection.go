// Copyright 2025 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package filters

import (
	"sync"

	"github.com/element-hq/roomsync/roomlist/types"
)

// SelectableFilters computes the filters presented to the user given the
// selected filters (in selection order) and the hidden ones.
//
// Selected filters come first, in selection order, followed by the
// remaining available filters in declaration order. Hidden filters never
// appear. Filters incompatible with any selected filter are left out. If the
// selection itself contains incompatible filters the most recently selected
// one wins, so no invalid combination is ever returned.
func SelectableFilters(selected, hidden []types.Filter) []types.FilterSelectionState {
	hiddenSet := make(map[types.Filter]struct{}, len(hidden))
	for _, f := range hidden {
		hiddenSet[f] = struct{}{}
	}

	kept := make(map[types.Filter]struct{}, len(selected))
	excluded := make(map[types.Filter]struct{})
	for i := len(selected) - 1; i >= 0; i-- {
		f := selected[i]
		if _, ok := hiddenSet[f]; ok {
			continue
		}
		if _, ok := excluded[f]; ok {
			continue
		}
		if _, ok := kept[f]; ok {
			continue
		}
		kept[f] = struct{}{}
		for _, incompatible := range f.IncompatibleFilters() {
			excluded[incompatible] = struct{}{}
		}
	}

	states := make([]types.FilterSelectionState, 0, len(types.AllFilters))
	emitted := make(map[types.Filter]struct{}, len(kept))
	for _, f := range selected {
		if _, ok := kept[f]; !ok {
			continue
		}
		if _, ok := emitted[f]; ok {
			continue
		}
		emitted[f] = struct{}{}
		states = append(states, types.FilterSelectionState{Filter: f, IsSelected: true})
	}
	for _, f := range types.AllFilters {
		if _, ok := hiddenSet[f]; ok {
			continue
		}
		if _, ok := emitted[f]; ok {
			continue
		}
		if _, ok := excluded[f]; ok {
			continue
		}
		states = append(states, types.FilterSelectionState{Filter: f, IsSelected: false})
	}
	return states
}

// Selection tracks the quick filters chosen by the user for one room list.
type Selection struct {
	mu       sync.Mutex
	selected []types.Filter
	hidden   []types.Filter
}

// NewSelection creates an empty selection with the given hidden filters.
func NewSelection(hidden ...types.Filter) *Selection {
	return &Selection{hidden: hidden}
}

// Toggle selects the filter, deselecting any incompatible filter, or
// deselects it if it was already selected.
func (s *Selection) Toggle(f types.Filter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, selected := range s.selected {
		if selected == f {
			s.selected = append(s.selected[:i:i], s.selected[i+1:]...)
			return
		}
	}
	incompatible := make(map[types.Filter]struct{})
	for _, other := range f.IncompatibleFilters() {
		incompatible[other] = struct{}{}
	}
	next := make([]types.Filter, 0, len(s.selected)+1)
	for _, selected := range s.selected {
		if _, ok := incompatible[selected]; !ok {
			next = append(next, selected)
		}
	}
	s.selected = append(next, f)
}

// Clear deselects every filter.
func (s *Selection) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = nil
}

// SetHidden replaces the set of hidden filters.
func (s *Selection) SetHidden(hidden ...types.Filter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hidden = hidden
}

// States returns the filters to present to the user.
func (s *Selection) States() []types.FilterSelectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SelectableFilters(s.selected, s.hidden)
}

// SelectedFilters returns the effectively selected filters.
func (s *Selection) SelectedFilters() []types.Filter {
	var selected []types.Filter
	for _, state := range s.States() {
		if state.IsSelected {
			selected = append(selected, state.Filter)
		}
	}
	return selected
}

// HasAnyFilterSelected returns true if at least one filter is selected.
func (s *Selection) HasAnyFilterSelected() bool {
	return len(s.SelectedFilters()) > 0
}

// RoomListFilter converts the selection into the predicate for the room
// list. An empty selection matches every room.
func (s *Selection) RoomListFilter() types.RoomListFilter {
	selected := s.SelectedFilters()
	filters := make([]types.RoomListFilter, 0, len(selected))
	for _, f := range selected {
		filters = append(filters, f.ToRoomListFilter())
	}
	return types.AllOf(filters...)
}
