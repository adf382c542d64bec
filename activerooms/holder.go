// Copyright 2025 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

// Package activerooms keeps track of the rooms for which the app holds a
// live handle, such as an open timeline subscription.
package activerooms

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Room is a live, resource holding room handle.
type Room interface {
	SessionID() string
	RoomID() string
	// Destroy releases the resources held by the handle. It is called
	// exactly once, when the room is removed from the holder.
	Destroy()
}

type activeRoom struct {
	room     Room
	handleID string
}

// sessionRooms is the ordered set of active rooms of a session, oldest
// first.
type sessionRooms struct {
	mu      sync.Mutex
	rooms   []activeRoom
	cleared bool
}

func (s *sessionRooms) indexOf(roomID string) int {
	for i := range s.rooms {
		if s.rooms[i].room.RoomID() == roomID {
			return i
		}
	}
	return -1
}

// ActiveRoomsHolder holds the active rooms of every session. Construct one
// per process and pass it to whatever needs it.
type ActiveRoomsHolder struct {
	mu       sync.RWMutex
	sessions map[string]*sessionRooms
	// cleared records sessions cleared since their last room was added, so
	// that a second Clear can be told apart from clearing an unknown session.
	// It holds one entry per signed out session and an entry is dropped as
	// soon as a room is added to the session again.
	cleared map[string]struct{}
}

// NewActiveRoomsHolder creates an empty holder.
func NewActiveRoomsHolder() *ActiveRoomsHolder {
	return &ActiveRoomsHolder{
		sessions: make(map[string]*sessionRooms),
		cleared:  make(map[string]struct{}),
	}
}

// session returns the rooms of the session, creating the entry if asked to.
func (h *ActiveRoomsHolder) session(sessionID string, create bool) *sessionRooms {
	h.mu.RLock()
	s, ok := h.sessions[sessionID]
	h.mu.RUnlock()
	if ok || !create {
		return s
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok = h.sessions[sessionID]; !ok {
		s = &sessionRooms{}
		h.sessions[sessionID] = s
		delete(h.cleared, sessionID)
	}
	return s
}

// AddRoom registers the room as active. It returns false, leaving the
// holder untouched, if a room with the same ID is already active for the
// session.
func (h *ActiveRoomsHolder) AddRoom(room Room) bool {
	for {
		s := h.session(room.SessionID(), true)
		s.mu.Lock()
		if s.cleared {
			// Lost a race with Clear: retry against a fresh entry.
			s.mu.Unlock()
			continue
		}
		defer s.mu.Unlock()
		if s.indexOf(room.RoomID()) >= 0 {
			logrus.WithFields(logrus.Fields{
				"session_id": room.SessionID(),
				"room_id":    room.RoomID(),
			}).Debug("Room is already active")
			return false
		}
		handleID := uuid.NewString()
		s.rooms = append(s.rooms, activeRoom{room: room, handleID: handleID})
		logrus.WithFields(logrus.Fields{
			"session_id": room.SessionID(),
			"room_id":    room.RoomID(),
			"handle_id":  handleID,
		}).Trace("Added active room")
		return true
	}
}

// GetActiveRoom returns the most recently added active room of the session.
func (h *ActiveRoomsHolder) GetActiveRoom(sessionID string) (Room, bool) {
	s := h.session(sessionID, false)
	if s == nil {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.rooms) == 0 {
		return nil, false
	}
	return s.rooms[len(s.rooms)-1].room, true
}

// GetActiveRoomMatching returns the active room with the given ID.
func (h *ActiveRoomsHolder) GetActiveRoomMatching(sessionID, roomID string) (Room, bool) {
	s := h.session(sessionID, false)
	if s == nil {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(roomID); i >= 0 {
		return s.rooms[i].room, true
	}
	return nil, false
}

// RemoveRoom destroys and forgets the active room with the given ID. It
// returns false if there was no such room.
func (h *ActiveRoomsHolder) RemoveRoom(sessionID, roomID string) bool {
	s := h.session(sessionID, false)
	if s == nil {
		return false
	}
	s.mu.Lock()
	i := s.indexOf(roomID)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	removed := s.rooms[i]
	s.rooms = append(s.rooms[:i], s.rooms[i+1:]...)
	s.mu.Unlock()

	removed.room.Destroy()
	logrus.WithFields(logrus.Fields{
		"session_id": sessionID,
		"room_id":    roomID,
		"handle_id":  removed.handleID,
	}).Trace("Removed active room")
	return true
}

// IsCleared reports whether the session was cleared and has had no room
// added since.
func (h *ActiveRoomsHolder) IsCleared(sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.cleared[sessionID]
	return ok
}

// Clear destroys every active room of the session, then forgets the
// session. It must be called during session teardown. Clearing a session
// twice without adding a room in between is a programming error and
// panics.
func (h *ActiveRoomsHolder) Clear(sessionID string) {
	h.mu.RLock()
	s, ok := h.sessions[sessionID]
	_, alreadyCleared := h.cleared[sessionID]
	h.mu.RUnlock()
	if !ok {
		if alreadyCleared {
			panic(fmt.Sprintf("activerooms: session %s cleared twice", sessionID))
		}
		return
	}

	s.mu.Lock()
	if s.cleared {
		s.mu.Unlock()
		panic(fmt.Sprintf("activerooms: session %s cleared twice", sessionID))
	}
	s.cleared = true
	rooms := s.rooms
	s.rooms = nil
	// Destroy while holding the session lock, so that no room can be added
	// to the session until the entry is gone.
	for _, r := range rooms {
		r.room.Destroy()
	}
	s.mu.Unlock()

	h.mu.Lock()
	if h.sessions[sessionID] == s {
		delete(h.sessions, sessionID)
		h.cleared[sessionID] = struct{}{}
	}
	h.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"session_id": sessionID,
		"room_count": len(rooms),
	}).Debug("Cleared active rooms")
}
