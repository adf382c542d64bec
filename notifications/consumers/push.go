// Copyright 2025 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package consumers

import (
	"context"
	"fmt"

	"github.com/getsentry/sentry-go"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/element-hq/roomsync/internal/natsutil"
	"github.com/element-hq/roomsync/notifications/api"
	"github.com/element-hq/roomsync/setup/config"
	"github.com/element-hq/roomsync/setup/process"
)

// Headers used when a push carries a single request without a body.
const (
	HeaderSessionID = "session_id"
	HeaderRoomID    = "room_id"
	HeaderEventID   = "event_id"
	HeaderThreadID  = "thread_id"
)

// Enqueuer accepts notification requests for resolution.
type Enqueuer interface {
	Enqueue(ctx context.Context, req api.NotificationEventRequest) <-chan api.Result
}

// PushConsumer consumes pushes delivered by the platform push service and
// enqueues the events they reference for resolution.
type PushConsumer struct {
	ctx       context.Context
	jetstream nats.JetStreamContext
	stream    string
	durable   string
	topic     string
	queue     Enqueuer
}

// NewPushConsumer creates a new PushConsumer. Call Start() to begin
// consuming pushes.
func NewPushConsumer(
	process *process.ProcessContext,
	cfg *config.Notifications,
	js nats.JetStreamContext,
	queue Enqueuer,
) *PushConsumer {
	return &PushConsumer{
		ctx:       process.Context(),
		jetstream: js,
		stream:    cfg.Matrix.NATS.StreamName(natsutil.PushEvent),
		durable:   cfg.Matrix.NATS.Durable("NotificationsPushConsumer"),
		topic:     cfg.Matrix.NATS.Prefixed(natsutil.PushEvent),
		queue:     queue,
	}
}

// Start consuming pushes.
func (s *PushConsumer) Start() error {
	return natsutil.JetStreamConsumer(
		s.ctx, s.jetstream, s.stream, s.topic, s.durable, 1, s.onMessage,
	)
}

func (s *PushConsumer) onMessage(ctx context.Context, msgs []*nats.Msg) bool {
	msg := msgs[0] // Guaranteed to exist if onMessage is called
	requests, err := parsePush(msg)
	if err != nil {
		// If the message was invalid, log it and move on to the next message in the stream
		log.WithError(err).Errorf("push consumer: message parse failure")
		sentry.CaptureException(err)
		return true
	}

	accepted := 0
	for i := range requests {
		req := requests[i]
		logger := log.WithFields(log.Fields{
			"session_id": req.SessionID,
			"room_id":    req.RoomID,
			"event_id":   req.EventID,
		})
		if err := req.Validate(); err != nil {
			logger.WithError(err).Warn("push consumer: rejecting invalid notification request")
			continue
		}
		logger.Debug("push consumer: enqueueing notification request")
		// Results are collected from the queue's batches.
		s.queue.Enqueue(ctx, req)
		accepted++
	}
	log.WithFields(log.Fields{
		"accepted": accepted,
		"rejected": len(requests) - accepted,
	}).Trace("push consumer: handled push")
	return true
}

// parsePush extracts the notification requests of a push. The body is a
// JSON array of requests, or a single request object. A push without a
// body carries a single request in its headers.
func parsePush(msg *nats.Msg) ([]api.NotificationEventRequest, error) {
	if len(msg.Data) == 0 {
		if msg.Header == nil || msg.Header.Get(HeaderEventID) == "" {
			return nil, fmt.Errorf("empty push")
		}
		return []api.NotificationEventRequest{{
			SessionID: msg.Header.Get(HeaderSessionID),
			RoomID:    msg.Header.Get(HeaderRoomID),
			EventID:   msg.Header.Get(HeaderEventID),
			ThreadID:  msg.Header.Get(HeaderThreadID),
		}}, nil
	}
	if !gjson.ValidBytes(msg.Data) {
		return nil, fmt.Errorf("push body is not valid JSON")
	}
	body := gjson.ParseBytes(msg.Data)
	switch {
	case body.IsArray():
		var requests []api.NotificationEventRequest
		var err error
		body.ForEach(func(_, item gjson.Result) bool {
			if !item.IsObject() {
				err = fmt.Errorf("push entry is not an object: %s", item.Raw)
				return false
			}
			requests = append(requests, requestFromJSON(item))
			return true
		})
		return requests, err
	case body.IsObject():
		return []api.NotificationEventRequest{requestFromJSON(body)}, nil
	default:
		return nil, fmt.Errorf("push body must be an object or an array")
	}
}

func requestFromJSON(item gjson.Result) api.NotificationEventRequest {
	return api.NotificationEventRequest{
		SessionID:    item.Get("session_id").String(),
		RoomID:       item.Get("room_id").String(),
		EventID:      item.Get("event_id").String(),
		ThreadID:     item.Get("thread_id").String(),
		ProviderInfo: item.Get("provider_info").String(),
	}
}
