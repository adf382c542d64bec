// Copyright 2025 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package sorting

import (
	"sort"

	"github.com/element-hq/roomsync/roomlist/types"
)

// Unread ranks, higher sorts first when sorting by unread.
const (
	rankRead = iota
	rankSilentUnread
	rankNotification
	rankMention
)

// UnreadRank classifies how urgently a room needs attention under the
// given sort order.
func UnreadRank(room *types.RoomSummary, order types.SortOrder) int {
	switch {
	case room.NumUnreadMentions > 0:
		return rankMention
	case room.HasNotifications():
		return rankNotification
	case order.WithSilentUnread && silentUnreadCount(room, order) > 0:
		return rankSilentUnread
	default:
		return rankRead
	}
}

func silentUnreadCount(room *types.RoomSummary, order types.SortOrder) int {
	if order.ClientSideUnreadCounts {
		return room.UnreadCount
	}
	return room.NumUnreadMessages
}

// Less reports whether a sorts before b. The ordering is total: rooms that
// tie on every configured key are ordered by bump stamp, then room ID.
func Less(a, b *types.RoomSummary, order types.SortOrder) bool {
	if a.IsInvite() != b.IsInvite() {
		return a.IsInvite()
	}
	if order.PinFavourites && a.IsFavourite != b.IsFavourite {
		return a.IsFavourite
	}
	if order.BuryLowPriority && a.IsLowPriority != b.IsLowPriority {
		return b.IsLowPriority
	}
	if order.ByUnread {
		ra, rb := UnreadRank(a, order), UnreadRank(b, order)
		if ra != rb {
			return ra > rb
		}
	}
	if a.BumpStamp != b.BumpStamp {
		// Most recent first
		return a.BumpStamp > b.BumpStamp
	}
	return a.RoomID < b.RoomID
}

// Sort orders the rooms in place.
func Sort(rooms []types.RoomSummary, order types.SortOrder) {
	sort.SliceStable(rooms, func(i, j int) bool {
		return Less(&rooms[i], &rooms[j], order)
	})
}

// Sorted returns a sorted copy of the rooms, leaving the input untouched.
func Sorted(rooms []types.RoomSummary, order types.SortOrder) []types.RoomSummary {
	sorted := make([]types.RoomSummary, len(rooms))
	copy(sorted, rooms)
	Sort(sorted, order)
	return sorted
}

// ApplyWindow extracts the inclusive range [start, end] of a sorted list,
// clamping out of bounds indices.
func ApplyWindow(rooms []types.RoomSummary, start, end int) []types.RoomSummary {
	if start < 0 {
		start = 0
	}
	if start >= len(rooms) {
		return []types.RoomSummary{}
	}
	if end < start {
		end = start
	}
	if end >= len(rooms) {
		end = len(rooms) - 1
	}
	return rooms[start : end+1]
}
