// Copyright 2025 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package consumers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/getsentry/sentry-go"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/element-hq/roomsync/internal/natsutil"
	"github.com/element-hq/roomsync/roomlist/types"
	"github.com/element-hq/roomsync/setup/config"
	"github.com/element-hq/roomsync/setup/process"
)

// DiffApplier applies a batch of diffs atomically.
type DiffApplier interface {
	Apply(diffs ...types.Diff)
}

// RoomListDiffConsumer consumes room list diffs from the SDK sync loop and
// applies them to the room summary store.
type RoomListDiffConsumer struct {
	ctx       context.Context
	jetstream nats.JetStreamContext
	stream    string
	durable   string
	topic     string
	store     DiffApplier
}

// NewRoomListDiffConsumer creates a new RoomListDiffConsumer. Call Start()
// to begin consuming diffs.
func NewRoomListDiffConsumer(
	process *process.ProcessContext,
	cfg *config.RoomList,
	js nats.JetStreamContext,
	store DiffApplier,
) *RoomListDiffConsumer {
	return &RoomListDiffConsumer{
		ctx:       process.Context(),
		jetstream: js,
		stream:    cfg.Matrix.NATS.StreamName(natsutil.RoomListDiffs),
		durable:   cfg.Matrix.NATS.Durable("RoomListDiffConsumer"),
		topic:     cfg.Matrix.NATS.Prefixed(natsutil.RoomListDiffs),
		store:     store,
	}
}

// Start consuming diffs.
func (s *RoomListDiffConsumer) Start() error {
	return natsutil.JetStreamConsumer(
		s.ctx, s.jetstream, s.stream, s.topic, s.durable, 1, s.onMessage,
	)
}

func (s *RoomListDiffConsumer) onMessage(_ context.Context, msgs []*nats.Msg) bool {
	msg := msgs[0] // Guaranteed to exist if onMessage is called
	diffs, err := parseDiffs(msg.Data)
	if err != nil {
		// If the message was invalid, log it and move on to the next message in the stream
		log.WithError(err).Errorf("room list consumer: message parse failure")
		sentry.CaptureException(err)
		return true
	}
	log.WithField("count", len(diffs)).Trace("room list consumer: applying diffs")
	s.store.Apply(diffs...)
	return true
}

// parseDiffs decodes a batch of diffs. The batch is rejected as a whole if
// any diff is invalid, so that it is never partially applied.
func parseDiffs(data []byte) ([]types.Diff, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("diff batch is not valid JSON")
	}
	body := gjson.ParseBytes(data)
	if !body.IsArray() {
		return nil, fmt.Errorf("diff batch must be an array")
	}
	var diffs []types.Diff
	var err error
	body.ForEach(func(_, item gjson.Result) bool {
		var diff types.Diff
		diff, err = parseDiff(item)
		if err != nil {
			return false
		}
		diffs = append(diffs, diff)
		return true
	})
	return diffs, err
}

func parseDiff(item gjson.Result) (types.Diff, error) {
	op := types.DiffOp(item.Get("op").String())
	switch op {
	case types.DiffReset:
		return types.Diff{Op: op}, nil
	case types.DiffRemove:
		roomID := item.Get("room_id").String()
		if roomID == "" {
			return types.Diff{}, fmt.Errorf("remove diff without room_id")
		}
		return types.Remove(roomID), nil
	case types.DiffUpsert:
		room := item.Get("room")
		if !room.IsObject() {
			return types.Diff{}, fmt.Errorf("upsert diff without room")
		}
		var summary types.RoomSummary
		if err := json.Unmarshal([]byte(room.Raw), &summary); err != nil {
			return types.Diff{}, fmt.Errorf("json.Unmarshal: %w", err)
		}
		if summary.RoomID == "" {
			return types.Diff{}, fmt.Errorf("upsert diff without room_id")
		}
		return types.Upsert(summary), nil
	default:
		return types.Diff{}, fmt.Errorf("unknown diff op %q", op)
	}
}
