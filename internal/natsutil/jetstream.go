// Copyright 2025 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package natsutil

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/element-hq/roomsync/setup/config"
)

// Subjects, relative to the configured prefix, of the streams roomsync
// consumes from.
const (
	PushEvent      = "push"
	RoomListDiffs  = "roomlist.diffs"
	SessionEvent   = "session"
	SessionDeleted = SessionEvent + ".deleted"
)

// Streams keep messages until they age out, so that messages published
// before a durable consumer first starts are still delivered to it.
var streams = []*nats.StreamConfig{
	{
		Name:      PushEvent,
		Retention: nats.LimitsPolicy,
		MaxAge:    time.Hour * 24,
	},
	{
		Name:      RoomListDiffs,
		Retention: nats.LimitsPolicy,
		MaxAge:    time.Hour * 24,
	},
	{
		Name:      SessionEvent,
		Retention: nats.LimitsPolicy,
		MaxAge:    time.Hour * 24 * 7,
	},
}

const (
	fetchTimeout = 5 * time.Second
	ackWait      = 30 * time.Second
	nakDelay     = time.Second
)

// JetStream returns a JetStream context for the connection, creating any
// missing stream first.
func JetStream(nc *nats.Conn, cfg *config.NATS) (nats.JetStreamContext, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("nc.JetStream: %w", err)
	}
	storage := nats.FileStorage
	if cfg.InMemory {
		storage = nats.MemoryStorage
	}
	for _, s := range streams {
		stream := *s
		stream.Name = cfg.StreamName(s.Name)
		stream.Subjects = []string{cfg.Prefixed(s.Name), cfg.Prefixed(s.Name) + ".>"}
		stream.Storage = storage

		_, err = js.StreamInfo(stream.Name)
		switch {
		case err == nil:
			continue
		case !errors.Is(err, nats.ErrStreamNotFound):
			return nil, fmt.Errorf("js.StreamInfo %q: %w", stream.Name, err)
		}
		if _, err = js.AddStream(&stream); err != nil {
			return nil, fmt.Errorf("js.AddStream %q: %w", stream.Name, err)
		}
		logrus.WithField("stream", stream.Name).Info("Created JetStream stream")
	}
	return js, nil
}

// JetStreamConsumer delivers the messages published on subj to f, in
// batches of up to batch messages, through a durable pull consumer on the
// stream. The consumer starts from the beginning of the stream the first
// time it is created and from its last acknowledged message afterwards.
// The batch is acknowledged if f returns true and redelivered otherwise.
// Delivery stops when ctx is done.
func JetStreamConsumer(
	ctx context.Context, js nats.JetStreamContext, stream, subj, durable string, batch int,
	f func(ctx context.Context, msgs []*nats.Msg) bool,
) error {
	_, err := js.ConsumerInfo(stream, durable)
	switch {
	case errors.Is(err, nats.ErrConsumerNotFound):
		// Created up front rather than by the subscription, so that it
		// survives unsubscribing and draining.
		_, err = js.AddConsumer(stream, &nats.ConsumerConfig{
			Durable:       durable,
			AckPolicy:     nats.AckExplicitPolicy,
			DeliverPolicy: nats.DeliverAllPolicy,
			FilterSubject: subj,
			AckWait:       ackWait,
			// A refused batch stays pending until redelivered, so this
			// keeps delivery in stream order.
			MaxAckPending: batch,
		})
		if err != nil {
			return fmt.Errorf("js.AddConsumer %q: %w", durable, err)
		}
	case err != nil:
		return fmt.Errorf("js.ConsumerInfo %q: %w", durable, err)
	}

	sub, err := js.PullSubscribe(subj, durable, nats.Bind(stream, durable))
	if err != nil {
		return fmt.Errorf("js.PullSubscribe %q: %w", subj, err)
	}
	logger := logrus.WithFields(logrus.Fields{
		"subject": subj,
		"durable": durable,
	})
	go func() {
		defer func() {
			if err := sub.Unsubscribe(); err != nil && !closing(err) {
				logger.WithError(err).Warn("Failed to unsubscribe")
			}
		}()
		for ctx.Err() == nil {
			fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
			msgs, err := sub.Fetch(batch, nats.Context(fetchCtx))
			cancel()
			switch {
			case ctx.Err() != nil:
				return
			case err == nil:
			case errors.Is(err, context.DeadlineExceeded), errors.Is(err, nats.ErrTimeout):
				continue
			case closing(err):
				return
			default:
				logger.WithError(err).Warn("Failed to fetch messages")
				select {
				case <-ctx.Done():
					return
				case <-time.After(nakDelay):
				}
				continue
			}
			if len(msgs) == 0 {
				continue
			}
			if f(ctx, msgs) {
				for _, msg := range msgs {
					if err := msg.Ack(); err != nil {
						logger.WithError(err).Warn("Failed to ack message")
					}
				}
				continue
			}
			for _, msg := range msgs {
				if err := msg.NakWithDelay(nakDelay); err != nil {
					logger.WithError(err).Warn("Failed to nak message")
				}
			}
		}
	}()
	return nil
}

func closing(err error) bool {
	return errors.Is(err, nats.ErrConnectionClosed) ||
		errors.Is(err, nats.ErrConnectionDraining) ||
		errors.Is(err, nats.ErrBadSubscription)
}
