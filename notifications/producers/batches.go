// Copyright 2025 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

// Package producers hands resolved notifications to the display service.
package producers

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"github.com/element-hq/roomsync/notifications/api"
	"github.com/element-hq/roomsync/notifications/queue"
)

// ResolvedSubject is the subject suffix, followed by the session ID, on
// which resolved notifications are published. Session IDs contain dots, so
// subscribers use the ">" wildcard.
const ResolvedSubject = "notifications.resolved"

// Notification is the wire form of a single resolved request.
type Notification struct {
	RoomID   string                 `json:"room_id"`
	EventID  string                 `json:"event_id"`
	ThreadID string                 `json:"thread_id,omitempty"`
	Event    *api.ResolvedPushEvent `json:"event,omitempty"`
	Failure  string                 `json:"failure,omitempty"`
	Pending  bool                   `json:"pending,omitempty"`
}

// BatchMessage is the wire form of a queue batch.
type BatchMessage struct {
	SessionID     string         `json:"session_id"`
	Notifications []Notification `json:"notifications"`
}

// NewBatchMessage converts a batch, keeping the order of its requests.
// Requests still being resolved are marked pending.
func NewBatchMessage(batch queue.Batch) BatchMessage {
	msg := BatchMessage{
		SessionID:     batch.SessionID,
		Notifications: make([]Notification, 0, len(batch.Requests)),
	}
	for i := range batch.Requests {
		req := &batch.Requests[i]
		n := Notification{RoomID: req.RoomID, EventID: req.EventID, ThreadID: req.ThreadID}
		result, ok := batch.Results[req.Key()]
		switch {
		case !ok:
			n.Pending = true
		case result.Err != nil:
			if failure, ok := result.Failure(); ok {
				n.Failure = failure.Kind.String()
			} else {
				n.Failure = api.FailureResolverError.String()
			}
		default:
			n.Event = result.Event
		}
		msg.Notifications = append(msg.Notifications, n)
	}
	return msg
}

// BatchProducer publishes the batches of a notification queue.
type BatchProducer struct {
	NATS    *nats.Conn
	Subject string // e.g. "roomsync.notifications.resolved"
}

// Run publishes every batch until the channel is closed or ctx is done.
func (p *BatchProducer) Run(ctx context.Context, batches <-chan queue.Batch) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-batches:
			if !ok {
				return
			}
			if err := p.SendBatch(batch); err != nil {
				log.WithError(err).WithField("session_id", batch.SessionID).Error("Failed to publish notification batch")
			}
		}
	}
}

// SendBatch publishes a single batch on the session's subject.
func (p *BatchProducer) SendBatch(batch queue.Batch) error {
	body, err := json.Marshal(NewBatchMessage(batch))
	if err != nil {
		return err
	}
	m := nats.NewMsg(p.Subject + "." + batch.SessionID)
	m.Data = body
	m.Header.Set("session_id", batch.SessionID)
	log.WithFields(log.Fields{
		"session_id": batch.SessionID,
		"count":      len(batch.Requests),
	}).Trace("Producing notification batch")
	return p.NATS.PublishMsg(m)
}
