// Copyright 2025 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package storage

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/element-hq/roomsync/roomlist/types"
)

func aRoom(roomID string) types.RoomSummary {
	return types.RoomSummary{
		RoomID:     roomID,
		Name:       "Room " + roomID,
		Membership: types.MembershipJoined,
	}
}

func roomIDs(snapshot *Snapshot) []string {
	ids := make([]string, 0, len(snapshot.Rooms))
	for _, room := range snapshot.Rooms {
		ids = append(ids, room.RoomID)
	}
	return ids
}

func TestRoomSummaryStore_UpsertAndRemove(t *testing.T) {
	store := NewRoomSummaryStore()

	snapshot := store.ApplySync(
		types.Upsert(aRoom("!a:test")),
		types.Upsert(aRoom("!b:test")),
		types.Upsert(aRoom("!c:test")),
	)
	assert.Equal(t, []string{"!a:test", "!b:test", "!c:test"}, roomIDs(snapshot))
	assert.Equal(t, uint64(1), snapshot.Version)

	updated := aRoom("!b:test")
	updated.NumUnreadNotifications = 3
	snapshot = store.ApplySync(types.Upsert(updated), types.Remove("!a:test"))
	assert.Equal(t, []string{"!b:test", "!c:test"}, roomIDs(snapshot))

	got, ok := store.Get("!b:test")
	require.True(t, ok)
	assert.Equal(t, 3, got.NumUnreadNotifications)

	_, ok = store.Get("!a:test")
	assert.False(t, ok)
	assert.Equal(t, 2, store.Len())
}

func TestRoomSummaryStore_RemoveUnknownIsNoop(t *testing.T) {
	store := NewRoomSummaryStore()
	store.ApplySync(types.Upsert(aRoom("!a:test")))

	snapshot := store.ApplySync(types.Remove("!unknown:test"))

	assert.Equal(t, uint64(1), snapshot.Version, "no new version should be published")
	assert.Equal(t, []string{"!a:test"}, roomIDs(snapshot))
}

func TestRoomSummaryStore_Reset(t *testing.T) {
	store := NewRoomSummaryStore()
	store.ApplySync(types.Upsert(aRoom("!a:test")), types.Upsert(aRoom("!b:test")))

	snapshot := store.ApplySync(types.Diff{Op: types.DiffReset}, types.Upsert(aRoom("!z:test")))

	assert.Equal(t, []string{"!z:test"}, roomIDs(snapshot))
}

func TestRoomSummaryStore_IgnoresUpsertWithoutRoomID(t *testing.T) {
	store := NewRoomSummaryStore()

	snapshot := store.ApplySync(types.Upsert(types.RoomSummary{Name: "nameless"}))

	assert.Empty(t, snapshot.Rooms)
}

func TestRoomSummaryStore_SnapshotsAreImmutable(t *testing.T) {
	store := NewRoomSummaryStore()
	before := store.ApplySync(types.Upsert(aRoom("!a:test")))

	store.ApplySync(types.Upsert(aRoom("!b:test")), types.Remove("!a:test"))

	assert.Equal(t, []string{"!a:test"}, roomIDs(before))
	assert.Equal(t, []string{"!b:test"}, roomIDs(store.Snapshot()))
}

func TestRoomSummaryStore_Subscribe(t *testing.T) {
	store := NewRoomSummaryStore()
	updates, unsubscribe := store.Subscribe()

	initial := <-updates
	assert.Empty(t, initial.Rooms)

	store.ApplySync(types.Upsert(aRoom("!a:test")))
	store.ApplySync(types.Upsert(aRoom("!b:test")))

	// Only the latest snapshot is kept for a slow subscriber.
	latest := <-updates
	assert.Equal(t, []string{"!a:test", "!b:test"}, roomIDs(latest))

	unsubscribe()
	_, open := <-updates
	assert.False(t, open)
}

func TestRoomSummaryStore_ConcurrentWritersAndReaders(t *testing.T) {
	store := NewRoomSummaryStore()
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				store.Apply(types.Upsert(aRoom(fmt.Sprintf("!%d-%d:test", w, i))))
				snapshot := store.Snapshot()
				seen := map[string]struct{}{}
				for _, room := range snapshot.Rooms {
					_, dup := seen[room.RoomID]
					assert.False(t, dup, "duplicate room in snapshot")
					seen[room.RoomID] = struct{}{}
				}
			}
		}(w)
	}
	wg.Wait()

	snapshot := store.ApplySync()
	assert.Len(t, snapshot.Rooms, 200)
}
