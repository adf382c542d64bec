// Copyright 2025 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

// Package producers announces pin lock transitions to the app shell.
package producers

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/sjson"

	"github.com/element-hq/roomsync/lockscreen"
)

// StateSubject is the subject suffix on which lock state transitions are
// published.
const StateSubject = "lockscreen.state"

// StateProducer publishes the state of a lock screen service.
type StateProducer struct {
	NATS    *nats.Conn
	Subject string // e.g. "roomsync.lockscreen.state"
}

// Run publishes every state received until the channel is closed or ctx
// is done.
func (p *StateProducer) Run(ctx context.Context, states <-chan lockscreen.State) {
	for {
		select {
		case <-ctx.Done():
			return
		case state, ok := <-states:
			if !ok {
				return
			}
			if err := p.SendState(state); err != nil {
				log.WithError(err).WithField("state", state.String()).Error("Failed to publish lock screen state")
			}
		}
	}
}

// SendState publishes a single state.
func (p *StateProducer) SendState(state lockscreen.State) error {
	body, err := sjson.SetBytes([]byte(`{}`), "state", state.String())
	if err != nil {
		return err
	}
	if body, err = sjson.SetBytes(body, "ts", time.Now().UnixMilli()); err != nil {
		return err
	}
	m := nats.NewMsg(p.Subject)
	m.Data = body
	m.Header.Set("state", state.String())
	log.WithField("state", state.String()).Trace("Producing lock screen state")
	return p.NATS.PublishMsg(m)
}
