// Copyright 2025 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package types

// Filter is one of the quick filters offered above the room list.
type Filter int

// The declaration order is the order in which filters are presented.
const (
	FilterUnread Filter = iota
	FilterPeople
	FilterRooms
	FilterFavourites
	FilterInvites
)

// AllFilters lists every filter in declaration order.
var AllFilters = []Filter{
	FilterUnread,
	FilterPeople,
	FilterRooms,
	FilterFavourites,
	FilterInvites,
}

var incompatibleFilters = map[Filter][]Filter{
	FilterUnread:     {FilterInvites},
	FilterPeople:     {FilterRooms, FilterInvites},
	FilterRooms:      {FilterPeople, FilterInvites},
	FilterFavourites: {FilterInvites},
	FilterInvites:    {FilterUnread, FilterPeople, FilterRooms, FilterFavourites},
}

// IncompatibleFilters returns the filters that cannot be selected together
// with f. The relation is symmetric.
func (f Filter) IncompatibleFilters() []Filter {
	return incompatibleFilters[f]
}

func (f Filter) String() string {
	switch f {
	case FilterUnread:
		return "unread"
	case FilterPeople:
		return "people"
	case FilterRooms:
		return "rooms"
	case FilterFavourites:
		return "favourites"
	case FilterInvites:
		return "invites"
	default:
		return "unknown"
	}
}

// FilterSelectionState is a filter as presented to the user.
type FilterSelectionState struct {
	Filter     Filter
	IsSelected bool
}

// RoomListFilterKind is the kind of predicate applied to the room list.
type RoomListFilterKind int

const (
	RoomListFilterAll RoomListFilterKind = iota
	RoomListFilterAny
	RoomListFilterNone
	RoomListFilterPeople
	RoomListFilterGroup
	RoomListFilterSpace
	RoomListFilterFavourite
	RoomListFilterUnread
	RoomListFilterInvite
	RoomListFilterNameMatch
)

// RoomListFilter is the predicate forwarded to the dynamic room list. All
// and Any combine nested filters; NameMatch matches NormalizedPattern
// against the accent-folded room name.
type RoomListFilter struct {
	Kind              RoomListFilterKind
	Filters           []RoomListFilter
	NormalizedPattern string
}

// AllOf matches rooms matching every one of the given filters.
func AllOf(filters ...RoomListFilter) RoomListFilter {
	return RoomListFilter{Kind: RoomListFilterAll, Filters: filters}
}

// AnyOf matches rooms matching at least one of the given filters.
func AnyOf(filters ...RoomListFilter) RoomListFilter {
	return RoomListFilter{Kind: RoomListFilterAny, Filters: filters}
}

// Equal reports whether two filters are structurally identical.
func (f RoomListFilter) Equal(other RoomListFilter) bool {
	if f.Kind != other.Kind || f.NormalizedPattern != other.NormalizedPattern {
		return false
	}
	if len(f.Filters) != len(other.Filters) {
		return false
	}
	for i := range f.Filters {
		if !f.Filters[i].Equal(other.Filters[i]) {
			return false
		}
	}
	return true
}

// ToRoomListFilter converts a quick filter into its room list predicate.
func (f Filter) ToRoomListFilter() RoomListFilter {
	switch f {
	case FilterUnread:
		return RoomListFilter{Kind: RoomListFilterUnread}
	case FilterPeople:
		return RoomListFilter{Kind: RoomListFilterPeople}
	case FilterRooms:
		return RoomListFilter{Kind: RoomListFilterGroup}
	case FilterFavourites:
		return RoomListFilter{Kind: RoomListFilterFavourite}
	case FilterInvites:
		return RoomListFilter{Kind: RoomListFilterInvite}
	default:
		return RoomListFilter{Kind: RoomListFilterNone}
	}
}
