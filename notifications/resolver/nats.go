// Copyright 2025 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

// Package resolver asks the SDK bridge for the content of pushed events.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/tidwall/gjson"

	"github.com/element-hq/roomsync/notifications/api"
	"github.com/element-hq/roomsync/setup/config"
)

// ResolveSubject is the subject suffix on which the SDK bridge answers
// resolution requests.
const ResolveSubject = "notifications.resolve"

// Error codes returned by the SDK bridge.
const (
	ErrCodeNotFound = "event_not_found"
	ErrCodeFiltered = "event_filtered"
)

// NATSResolver resolves events with a request to the SDK bridge. The
// request is the JSON NotificationEventRequest; the reply either holds
// the resolved event under "event" or an error code under "error".
type NATSResolver struct {
	nc      *nats.Conn
	subject string
}

func NewNATSResolver(cfg *config.Notifications, nc *nats.Conn) *NATSResolver {
	return &NATSResolver{
		nc:      nc,
		subject: cfg.Matrix.NATS.Prefixed(ResolveSubject),
	}
}

func (r *NATSResolver) ResolveEvent(ctx context.Context, req *api.NotificationEventRequest) (*api.ResolvedPushEvent, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("json.Marshal: %w", err)
	}
	msg, err := r.nc.RequestWithContext(ctx, r.subject, body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("r.nc.RequestWithContext: %w", err)
	}
	return parseReply(msg.Data)
}

func parseReply(data []byte) (*api.ResolvedPushEvent, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("resolve reply is not valid JSON")
	}
	reply := gjson.ParseBytes(data)
	if code := reply.Get("error"); code.Exists() {
		switch code.String() {
		case ErrCodeNotFound:
			return nil, api.ErrEventNotFound
		case ErrCodeFiltered:
			return nil, api.ErrEventFiltered
		default:
			return nil, fmt.Errorf("SDK bridge: %s", code.String())
		}
	}
	event := reply.Get("event")
	if !event.IsObject() {
		// Neither an event nor an error: the bridge has nothing to show.
		return nil, api.ErrEventNotFound
	}
	var resolved api.ResolvedPushEvent
	if err := json.Unmarshal([]byte(event.Raw), &resolved); err != nil {
		return nil, fmt.Errorf("json.Unmarshal: %w", err)
	}
	return &resolved, nil
}
