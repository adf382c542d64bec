// Copyright 2025 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

// Package consumers tears down the per-session state of every component
// when a session signs out.
package consumers

import (
	"context"
	"fmt"

	"github.com/getsentry/sentry-go"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/element-hq/roomsync/internal/natsutil"
	"github.com/element-hq/roomsync/setup/config"
	"github.com/element-hq/roomsync/setup/process"
)

// ActiveRooms destroys the live room handles of a session.
type ActiveRooms interface {
	IsCleared(sessionID string) bool
	Clear(sessionID string)
}

// NotificationSessions drops the notification state of a session.
type NotificationSessions interface {
	ForgetSession(sessionID string)
}

// LockScreen removes the pin once the last session is gone.
type LockScreen interface {
	OnSessionDeleted(ctx context.Context, userID string, wasLastSession bool) error
}

// SessionDeleted is a session that signed out.
type SessionDeleted struct {
	SessionID      string
	WasLastSession bool
}

// SessionDeletedConsumer consumes session sign outs published by the SDK
// and releases everything held for the session.
type SessionDeletedConsumer struct {
	ctx           context.Context
	jetstream     nats.JetStreamContext
	stream        string
	durable       string
	topic         string
	rooms         ActiveRooms
	notifications NotificationSessions
	lockScreen    LockScreen
}

// NewSessionDeletedConsumer creates a new SessionDeletedConsumer. Call
// Start() to begin consuming sign outs.
func NewSessionDeletedConsumer(
	process *process.ProcessContext,
	cfg *config.Global,
	js nats.JetStreamContext,
	rooms ActiveRooms,
	notifications NotificationSessions,
	lockScreen LockScreen,
) *SessionDeletedConsumer {
	return &SessionDeletedConsumer{
		ctx:           process.Context(),
		jetstream:     js,
		stream:        cfg.NATS.StreamName(natsutil.SessionEvent),
		durable:       cfg.NATS.Durable("SessionDeletedConsumer"),
		topic:         cfg.NATS.Prefixed(natsutil.SessionDeleted),
		rooms:         rooms,
		notifications: notifications,
		lockScreen:    lockScreen,
	}
}

// Start consuming sign outs.
func (s *SessionDeletedConsumer) Start() error {
	return natsutil.JetStreamConsumer(
		s.ctx, s.jetstream, s.stream, s.topic, s.durable, 1, s.onMessage,
	)
}

func (s *SessionDeletedConsumer) onMessage(ctx context.Context, msgs []*nats.Msg) bool {
	msg := msgs[0] // Guaranteed to exist if onMessage is called
	output, err := parseSessionDeleted(msg.Data)
	if err != nil {
		// If the message was invalid, log it and move on to the next message in the stream
		log.WithError(err).Errorf("session consumer: message parse failure")
		sentry.CaptureException(err)
		return true
	}
	if err = s.OnSessionDeleted(ctx, output); err != nil {
		log.WithError(err).WithField("session_id", output.SessionID).Error("session consumer: failed to tear down session")
		sentry.CaptureException(err)
		return false
	}
	return true
}

// OnSessionDeleted releases the active rooms, then the pending
// notifications, then the pin of the session. It can be repeated for the
// same session, so that a redelivered sign out is harmless.
func (s *SessionDeletedConsumer) OnSessionDeleted(ctx context.Context, output SessionDeleted) error {
	logger := log.WithFields(log.Fields{
		"session_id":       output.SessionID,
		"was_last_session": output.WasLastSession,
	})
	if !s.rooms.IsCleared(output.SessionID) {
		s.rooms.Clear(output.SessionID)
	}
	s.notifications.ForgetSession(output.SessionID)
	if err := s.lockScreen.OnSessionDeleted(ctx, output.SessionID, output.WasLastSession); err != nil {
		return fmt.Errorf("s.lockScreen.OnSessionDeleted: %w", err)
	}
	logger.Info("Session torn down")
	return nil
}

func parseSessionDeleted(data []byte) (SessionDeleted, error) {
	if !gjson.ValidBytes(data) {
		return SessionDeleted{}, fmt.Errorf("session event is not valid JSON")
	}
	body := gjson.ParseBytes(data)
	if !body.IsObject() {
		return SessionDeleted{}, fmt.Errorf("session event must be an object")
	}
	sessionID := body.Get("session_id")
	if sessionID.Type != gjson.String || sessionID.String() == "" {
		return SessionDeleted{}, fmt.Errorf("session event without session_id")
	}
	return SessionDeleted{
		SessionID:      sessionID.String(),
		WasLastSession: body.Get("was_last_session").Bool(),
	}, nil
}
