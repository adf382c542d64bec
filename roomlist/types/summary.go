// Copyright 2025 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package types

import (
	"github.com/matrix-org/gomatrixserverlib/spec"
)

// Membership is the current user's membership in a room, using the
// Matrix membership strings.
type Membership string

const (
	MembershipJoined  Membership = spec.Join
	MembershipInvited Membership = spec.Invite
	MembershipKnocked Membership = spec.Knock
	MembershipLeft    Membership = spec.Leave
)

// NotificationMode is the user-defined notification mode for a room.
type NotificationMode int

const (
	NotificationModeDefault NotificationMode = iota
	NotificationModeAllMessages
	NotificationModeMentionsOnly
	NotificationModeMute
)

// LastMessage is the preview of the latest event in a room.
type LastMessage struct {
	EventID   string         `json:"event_id"`
	Sender    string         `json:"sender"`
	Body      string         `json:"body"`
	Timestamp spec.Timestamp `json:"origin_server_ts"`
}

// RoomSummary is the client-side view of a room as reported by the SDK.
// Summaries are values: the store replaces them whole when a diff arrives
// and never mutates one in place.
type RoomSummary struct {
	RoomID    string       `json:"room_id"`
	Name      string       `json:"name,omitempty"`
	AvatarURL string       `json:"avatar_url,omitempty"`
	Last      *LastMessage `json:"last_message,omitempty"`

	// Counters computed by the SDK according to the notification settings.
	NumUnreadMessages      int `json:"num_unread_messages"`
	NumUnreadNotifications int `json:"num_unread_notifications"`
	NumUnreadMentions      int `json:"num_unread_mentions"`
	// UnreadCount is the client generated count of unread messages,
	// including those in silent rooms.
	UnreadCount    int  `json:"unread_count"`
	IsMarkedUnread bool `json:"is_marked_unread"`

	Membership       Membership       `json:"membership"`
	NotificationMode NotificationMode `json:"notification_mode"`
	IsFavourite      bool             `json:"is_favourite"`
	IsLowPriority    bool             `json:"is_low_priority"`
	IsDM             bool             `json:"is_dm"`
	IsSpace          bool             `json:"is_space"`

	// BumpStamp orders rooms by recent activity, higher is more recent.
	BumpStamp int64 `json:"bump_stamp"`
}

// IsInvite returns true if the current user is invited to the room.
func (r *RoomSummary) IsInvite() bool {
	return r.Membership == MembershipInvited
}

// HasNotifications returns true if the room has notifying unread events
// or was explicitly marked as unread.
func (r *RoomSummary) HasNotifications() bool {
	return r.NumUnreadNotifications > 0 || r.IsMarkedUnread
}

// DiffOp is the type of a room list diff coming from the sync transport.
type DiffOp string

const (
	DiffUpsert DiffOp = "upsert"
	DiffRemove DiffOp = "remove"
	DiffReset  DiffOp = "reset"
)

// Diff is a single SDK-originated mutation of the room list. Upsert carries
// a full summary, Remove only needs RoomID and Reset drops every known room
// before the remaining diffs of the batch are applied.
type Diff struct {
	Op      DiffOp
	RoomID  string
	Summary RoomSummary
}

// Upsert creates an upsert diff for the summary.
func Upsert(summary RoomSummary) Diff {
	return Diff{Op: DiffUpsert, RoomID: summary.RoomID, Summary: summary}
}

// Remove creates a removal diff for the room.
func Remove(roomID string) Diff {
	return Diff{Op: DiffRemove, RoomID: roomID}
}
