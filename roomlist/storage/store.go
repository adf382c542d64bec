// Copyright 2025 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package storage

import (
	"github.com/Arceliar/phony"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/element-hq/roomsync/roomlist/types"
)

// Snapshot is an immutable view of the store at a given version. Callers
// must not modify Rooms.
type Snapshot struct {
	Version uint64
	Rooms   []types.RoomSummary
}

// Get returns the summary for the room, if present in the snapshot.
func (s *Snapshot) Get(roomID string) (types.RoomSummary, bool) {
	for i := range s.Rooms {
		if s.Rooms[i].RoomID == roomID {
			return s.Rooms[i], true
		}
	}
	return types.RoomSummary{}, false
}

// RoomSummaryStore holds the authoritative set of known rooms. All writes
// are serialised through the store's actor inbox so that diffs coming from
// the sync transport are applied in order by a single writer. Reads take
// the latest published snapshot and never block on writers.
type RoomSummaryStore struct {
	phony.Inbox
	index       map[string]int // room ID -> position in rooms, actor only
	rooms       []types.RoomSummary
	subscribers map[int]chan *Snapshot // actor only
	nextSubID   int
	current     atomic.Value // *Snapshot
	version     atomic.Uint64
}

// NewRoomSummaryStore creates an empty store.
func NewRoomSummaryStore() *RoomSummaryStore {
	s := &RoomSummaryStore{
		index:       make(map[string]int),
		subscribers: make(map[int]chan *Snapshot),
	}
	s.current.Store(&Snapshot{})
	return s
}

// Apply queues a batch of diffs. The batch is applied atomically: readers
// see either none or all of it.
func (s *RoomSummaryStore) Apply(diffs ...types.Diff) {
	if len(diffs) == 0 {
		return
	}
	s.Act(nil, func() {
		s._apply(diffs)
	})
}

// ApplySync applies a batch of diffs and waits for it to be published.
func (s *RoomSummaryStore) ApplySync(diffs ...types.Diff) *Snapshot {
	var snapshot *Snapshot
	phony.Block(s, func() {
		if len(diffs) > 0 {
			s._apply(diffs)
		}
		snapshot = s.Snapshot()
	})
	return snapshot
}

// Snapshot returns the latest published snapshot.
func (s *RoomSummaryStore) Snapshot() *Snapshot {
	return s.current.Load().(*Snapshot)
}

// Get returns the latest known summary for a room.
func (s *RoomSummaryStore) Get(roomID string) (types.RoomSummary, bool) {
	return s.Snapshot().Get(roomID)
}

// Len returns the number of rooms in the latest snapshot.
func (s *RoomSummaryStore) Len() int {
	return len(s.Snapshot().Rooms)
}

// Subscribe returns a channel receiving the latest snapshot after every
// applied batch, starting with the current one. Slow subscribers only ever
// see the most recent snapshot. The returned function unsubscribes.
func (s *RoomSummaryStore) Subscribe() (<-chan *Snapshot, func()) {
	ch := make(chan *Snapshot, 1)
	var id int
	phony.Block(s, func() {
		id = s.nextSubID
		s.nextSubID++
		s.subscribers[id] = ch
		ch <- s.Snapshot()
	})
	return ch, func() {
		phony.Block(s, func() {
			if sub, ok := s.subscribers[id]; ok {
				delete(s.subscribers, id)
				close(sub)
			}
		})
	}
}

func (s *RoomSummaryStore) _apply(diffs []types.Diff) {
	changed := false
	for _, diff := range diffs {
		switch diff.Op {
		case types.DiffReset:
			if len(s.rooms) > 0 {
				s.rooms = nil
				s.index = make(map[string]int)
				changed = true
			}
		case types.DiffUpsert:
			if diff.Summary.RoomID == "" {
				logrus.Warn("Ignoring room summary upsert without a room ID")
				continue
			}
			if i, ok := s.index[diff.Summary.RoomID]; ok {
				s.rooms[i] = diff.Summary
			} else {
				s.index[diff.Summary.RoomID] = len(s.rooms)
				s.rooms = append(s.rooms, diff.Summary)
			}
			changed = true
		case types.DiffRemove:
			i, ok := s.index[diff.RoomID]
			if !ok {
				continue
			}
			s.rooms = append(s.rooms[:i], s.rooms[i+1:]...)
			delete(s.index, diff.RoomID)
			for j := i; j < len(s.rooms); j++ {
				s.index[s.rooms[j].RoomID] = j
			}
			changed = true
		default:
			logrus.WithField("op", diff.Op).Warn("Ignoring unknown room list diff")
		}
	}
	if !changed {
		return
	}
	rooms := make([]types.RoomSummary, len(s.rooms))
	copy(rooms, s.rooms)
	snapshot := &Snapshot{
		Version: s.version.Inc(),
		Rooms:   rooms,
	}
	s.current.Store(snapshot)
	for _, ch := range s.subscribers {
		// Latest wins: drop a snapshot the subscriber has not read yet.
		select {
		case <-ch:
		default:
		}
		ch <- snapshot
	}
	logrus.WithFields(logrus.Fields{
		"version":    snapshot.Version,
		"room_count": len(rooms),
	}).Trace("Published room list snapshot")
}
