// Copyright 2025 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package types

import "fmt"

// SortOrder configures how the room list is ordered.
type SortOrder struct {
	ByUnread               bool
	PinFavourites          bool
	BuryLowPriority        bool
	ClientSideUnreadCounts bool
	WithSilentUnread       bool
}

// InboxSettings is the combined sort order and filter applied to a room
// list. Two settings are equal when both parts are equal.
type InboxSettings struct {
	SortOrder SortOrder
	Filter    RoomListFilter
}

// Equal reports whether both settings would produce the same room list.
func (s InboxSettings) Equal(other InboxSettings) bool {
	return s.SortOrder == other.SortOrder && s.Filter.Equal(other.Filter)
}

func (s InboxSettings) String() string {
	return fmt.Sprintf("%+v filter=%d/%d", s.SortOrder, s.Filter.Kind, len(s.Filter.Filters))
}
