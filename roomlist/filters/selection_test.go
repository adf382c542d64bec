// Copyright 2025 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package filters

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/element-hq/roomsync/roomlist/types"
)

func state(f types.Filter, selected bool) types.FilterSelectionState {
	return types.FilterSelectionState{Filter: f, IsSelected: selected}
}

func TestSelectableFilters_InitialState(t *testing.T) {
	got := SelectableFilters(nil, nil)
	want := []types.FilterSelectionState{
		state(types.FilterUnread, false),
		state(types.FilterPeople, false),
		state(types.FilterRooms, false),
		state(types.FilterFavourites, false),
		state(types.FilterInvites, false),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("SelectableFilters mismatch (-want +got):\n%s", diff)
	}
}

func TestSelectableFilters(t *testing.T) {
	tests := []struct {
		name     string
		selected []types.Filter
		hidden   []types.Filter
		want     []types.FilterSelectionState
	}{
		{
			name:     "rooms excludes people and invites",
			selected: []types.Filter{types.FilterRooms},
			want: []types.FilterSelectionState{
				state(types.FilterRooms, true),
				state(types.FilterUnread, false),
				state(types.FilterFavourites, false),
			},
		},
		{
			name:     "invites excludes everything else",
			selected: []types.Filter{types.FilterInvites},
			want: []types.FilterSelectionState{
				state(types.FilterInvites, true),
			},
		},
		{
			name:     "selected filters keep selection order",
			selected: []types.Filter{types.FilterFavourites, types.FilterUnread},
			want: []types.FilterSelectionState{
				state(types.FilterFavourites, true),
				state(types.FilterUnread, true),
				state(types.FilterPeople, false),
				state(types.FilterRooms, false),
			},
		},
		{
			name:   "hidden filters are never offered",
			hidden: []types.Filter{types.FilterInvites, types.FilterPeople},
			want: []types.FilterSelectionState{
				state(types.FilterUnread, false),
				state(types.FilterRooms, false),
				state(types.FilterFavourites, false),
			},
		},
		{
			name:     "hidden filters are never selected",
			selected: []types.Filter{types.FilterPeople},
			hidden:   []types.Filter{types.FilterPeople},
			want: []types.FilterSelectionState{
				state(types.FilterUnread, false),
				state(types.FilterRooms, false),
				state(types.FilterFavourites, false),
				state(types.FilterInvites, false),
			},
		},
		{
			name:     "latest of two incompatible selections wins",
			selected: []types.Filter{types.FilterPeople, types.FilterRooms},
			want: []types.FilterSelectionState{
				state(types.FilterRooms, true),
				state(types.FilterUnread, false),
				state(types.FilterFavourites, false),
			},
		},
		{
			name:     "duplicate selections are reported once",
			selected: []types.Filter{types.FilterUnread, types.FilterUnread},
			want: []types.FilterSelectionState{
				state(types.FilterUnread, true),
				state(types.FilterPeople, false),
				state(types.FilterRooms, false),
				state(types.FilterFavourites, false),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SelectableFilters(tt.selected, tt.hidden)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("SelectableFilters mismatch (-want +got):\n%s", diff)
			}
			// Pure function: same inputs, same output.
			assert.Equal(t, got, SelectableFilters(tt.selected, tt.hidden))
		})
	}
}

// Exhaustively check every selection and hidden combination.
func TestSelectableFilters_Properties(t *testing.T) {
	subsets := func() [][]types.Filter {
		var out [][]types.Filter
		for mask := 0; mask < 1<<len(types.AllFilters); mask++ {
			var subset []types.Filter
			for i, f := range types.AllFilters {
				if mask&(1<<i) != 0 {
					subset = append(subset, f)
				}
			}
			out = append(out, subset)
		}
		return out
	}()

	for _, selected := range subsets {
		for _, hidden := range subsets {
			got := SelectableFilters(selected, hidden)
			present := map[types.Filter]types.FilterSelectionState{}
			for _, s := range got {
				_, dup := present[s.Filter]
				assert.False(t, dup, "filter %s returned twice", s.Filter)
				present[s.Filter] = s
			}
			for _, h := range hidden {
				_, ok := present[h]
				assert.False(t, ok, "hidden filter %s returned for selected=%v hidden=%v", h, selected, hidden)
			}
			for _, s := range got {
				if !s.IsSelected {
					continue
				}
				for _, incompatible := range s.Filter.IncompatibleFilters() {
					_, ok := present[incompatible]
					assert.False(t, ok, "%s returned alongside selected %s", incompatible, s.Filter)
				}
			}
		}
	}
}

func TestSelection_ToggleRoomsFilter(t *testing.T) {
	selection := NewSelection()
	initial := selection.States()
	assert.False(t, selection.HasAnyFilterSelected())

	selection.Toggle(types.FilterRooms)
	assert.True(t, selection.HasAnyFilterSelected())
	assert.Equal(t, []types.FilterSelectionState{
		state(types.FilterRooms, true),
		state(types.FilterUnread, false),
		state(types.FilterFavourites, false),
	}, selection.States())
	assert.Equal(t, []types.Filter{types.FilterRooms}, selection.SelectedFilters())

	selection.Toggle(types.FilterRooms)
	assert.False(t, selection.HasAnyFilterSelected())
	assert.Equal(t, initial, selection.States())
	assert.Empty(t, selection.SelectedFilters())
}

func TestSelection_ToggleDeselectsIncompatible(t *testing.T) {
	selection := NewSelection()
	selection.Toggle(types.FilterPeople)
	selection.Toggle(types.FilterUnread)
	selection.Toggle(types.FilterRooms)

	assert.Equal(t, []types.Filter{types.FilterUnread, types.FilterRooms}, selection.SelectedFilters())
}

func TestSelection_ClearAndHidden(t *testing.T) {
	selection := NewSelection(types.FilterInvites)
	selection.Toggle(types.FilterFavourites)
	selection.Clear()
	assert.False(t, selection.HasAnyFilterSelected())

	for _, s := range selection.States() {
		assert.NotEqual(t, types.FilterInvites, s.Filter)
	}

	selection.SetHidden()
	assert.Len(t, selection.States(), len(types.AllFilters))
}

func TestSelection_RoomListFilter(t *testing.T) {
	selection := NewSelection()
	assert.True(t, selection.RoomListFilter().Equal(types.AllOf()))

	selection.Toggle(types.FilterUnread)
	selection.Toggle(types.FilterFavourites)
	want := types.AllOf(
		types.RoomListFilter{Kind: types.RoomListFilterUnread},
		types.RoomListFilter{Kind: types.RoomListFilterFavourite},
	)
	assert.True(t, selection.RoomListFilter().Equal(want))
}
