// Copyright 2025 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package filters

import (
	"strings"

	"github.com/element-hq/roomsync/internal/caching"
	"github.com/element-hq/roomsync/roomlist/types"
)

// NameMatch creates a filter matching rooms whose name contains the pattern,
// ignoring case and accents.
func NameMatch(pattern string) types.RoomListFilter {
	return types.RoomListFilter{
		Kind:              types.RoomListFilterNameMatch,
		NormalizedPattern: caching.Normalize(pattern),
	}
}

// Engine evaluates room list filters against room summaries.
type Engine struct {
	names caching.NormalizedNamesCache
}

// NewEngine creates a filter engine. If names is nil, room names are
// normalised on every evaluation.
func NewEngine(names caching.NormalizedNamesCache) *Engine {
	return &Engine{names: names}
}

// Apply returns the rooms matching the filter, preserving their order.
func (e *Engine) Apply(rooms []types.RoomSummary, filter types.RoomListFilter) []types.RoomSummary {
	filtered := make([]types.RoomSummary, 0, len(rooms))
	for i := range rooms {
		if e.Matches(&rooms[i], filter) {
			filtered = append(filtered, rooms[i])
		}
	}
	return filtered
}

// Matches returns true if the room matches the filter. Spaces only match
// the space filter, and invites only match the invite filter or the
// unrestricted ones.
func (e *Engine) Matches(room *types.RoomSummary, filter types.RoomListFilter) bool {
	switch filter.Kind {
	case types.RoomListFilterAll:
		if len(filter.Filters) == 0 {
			return visible(room)
		}
		for _, f := range filter.Filters {
			if !e.Matches(room, f) {
				return false
			}
		}
		return true
	case types.RoomListFilterAny:
		if len(filter.Filters) == 0 {
			return visible(room)
		}
		for _, f := range filter.Filters {
			if e.Matches(room, f) {
				return true
			}
		}
		return false
	case types.RoomListFilterNone:
		return false
	case types.RoomListFilterGroup:
		return !room.IsDM && !room.IsInvite() && !room.IsSpace
	case types.RoomListFilterPeople:
		return room.IsDM && !room.IsInvite() && !room.IsSpace
	case types.RoomListFilterSpace:
		return room.IsSpace
	case types.RoomListFilterFavourite:
		return room.IsFavourite && !room.IsInvite() && !room.IsSpace
	case types.RoomListFilterUnread:
		return !room.IsInvite() && !room.IsSpace && room.HasNotifications()
	case types.RoomListFilterInvite:
		return room.IsInvite()
	case types.RoomListFilterNameMatch:
		return visible(room) && strings.Contains(e.normalize(room.Name), filter.NormalizedPattern)
	default:
		return false
	}
}

func (e *Engine) normalize(name string) string {
	if e.names == nil {
		return caching.Normalize(name)
	}
	return e.names.Normalize(name)
}

func visible(room *types.RoomSummary) bool {
	return !room.IsSpace || room.IsInvite()
}
