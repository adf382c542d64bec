// Copyright 2025 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package consumers

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/element-hq/roomsync/internal/natsutil"
	"github.com/element-hq/roomsync/roomlist/storage"
	"github.com/element-hq/roomsync/roomlist/types"
	"github.com/element-hq/roomsync/setup/config"
	"github.com/element-hq/roomsync/setup/process"
)

func TestParseDiffs(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    []types.Diff
		wantErr bool
	}{
		{
			name: "mixed batch",
			body: `[
				{"op": "reset"},
				{"op": "upsert", "room": {"room_id": "!a:example.org", "name": "A", "num_unread_notifications": 2, "membership": "join", "bump_stamp": 7}},
				{"op": "remove", "room_id": "!b:example.org"}
			]`,
			want: []types.Diff{
				{Op: types.DiffReset},
				types.Upsert(types.RoomSummary{
					RoomID:                 "!a:example.org",
					Name:                   "A",
					NumUnreadNotifications: 2,
					Membership:             types.MembershipJoined,
					BumpStamp:              7,
				}),
				types.Remove("!b:example.org"),
			},
		},
		{name: "empty batch", body: `[]`},
		{name: "not json", body: `{`, wantErr: true},
		{name: "not an array", body: `{"op": "reset"}`, wantErr: true},
		{name: "unknown op", body: `[{"op": "move"}]`, wantErr: true},
		{name: "upsert without room", body: `[{"op": "upsert"}]`, wantErr: true},
		{name: "upsert without room id", body: `[{"op": "upsert", "room": {"name": "A"}}]`, wantErr: true},
		{name: "remove without room id", body: `[{"op": "remove"}]`, wantErr: true},
		{name: "bad field type", body: `[{"op": "upsert", "room": {"room_id": "!a:example.org", "bump_stamp": "soon"}}]`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDiffs([]byte(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRoomListDiffConsumer(t *testing.T) {
	pc := process.NewProcessContext()
	t.Cleanup(pc.ShutdownRoomSync)

	var cfg config.RoomSync
	cfg.Defaults(config.DefaultOpts{})
	cfg.Global.NATS.Embedded = true
	cfg.Global.NATS.InMemory = true
	cfg.Global.NATS.SubjectPrefix = "test"

	nc, err := natsutil.Connect(pc, &cfg.Global.NATS)
	require.NoError(t, err)
	js, err := natsutil.JetStream(nc, &cfg.Global.NATS)
	require.NoError(t, err)

	store := storage.NewRoomSummaryStore()
	snapshots, unsubscribe := store.Subscribe()
	defer unsubscribe()
	<-snapshots

	publish := func(body string) {
		_, err := js.PublishMsg(&nats.Msg{Subject: "test.roomlist.diffs", Data: []byte(body)})
		require.NoError(t, err)
	}
	// Diffs published before the consumer starts are not lost.
	publish(`[{"op": "upsert", "room": {"room_id": "!a:example.org"}}, {"op": "upsert", "room": {"room_id": "!b:example.org"}}]`)
	require.NoError(t, NewRoomListDiffConsumer(pc, &cfg.RoomList, js, store).Start())

	// Invalid batches are dropped whole.
	publish(`[{"op": "remove", "room_id": "!a:example.org"}, {"op": "explode"}]`)
	publish(`[{"op": "remove", "room_id": "!b:example.org"}]`)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case snapshot := <-snapshots:
			if len(snapshot.Rooms) != 1 {
				continue
			}
			assert.Equal(t, "!a:example.org", snapshot.Rooms[0].RoomID)
			return
		case <-deadline:
			t.Fatalf("diffs not applied, store has %d rooms", store.Len())
		}
	}
}
