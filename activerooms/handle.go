// Copyright 2025 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package activerooms

import (
	"time"

	"go.uber.org/atomic"
)

// RoomHandle is a Room opened on behalf of a client, such as a timeline
// view. It is counted in the open handles gauge until destroyed.
type RoomHandle struct {
	sessionID string
	roomID    string
	openedAt  time.Time
	destroyed atomic.Bool
}

// NewRoomHandle opens a handle on the room.
func NewRoomHandle(sessionID, roomID string) *RoomHandle {
	openHandles.Inc()
	return &RoomHandle{sessionID: sessionID, roomID: roomID, openedAt: time.Now()}
}

func (h *RoomHandle) SessionID() string { return h.sessionID }
func (h *RoomHandle) RoomID() string    { return h.roomID }

// OpenedAt returns when the handle was opened.
func (h *RoomHandle) OpenedAt() time.Time { return h.openedAt }

// Destroy closes the handle. Only the first call has any effect.
func (h *RoomHandle) Destroy() {
	if h.destroyed.CompareAndSwap(false, true) {
		openHandles.Dec()
	}
}

// Destroyed reports whether the handle has been closed.
func (h *RoomHandle) Destroyed() bool {
	return h.destroyed.Load()
}
