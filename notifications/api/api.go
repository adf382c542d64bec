// Copyright 2025 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

// Package api holds the types exchanged with the notification resolver.
package api

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/matrix-org/gomatrixserverlib/spec"
)

// NotificationEventRequest asks for the event behind a push to be resolved
// into something displayable.
type NotificationEventRequest struct {
	SessionID    string `json:"session_id"`
	RoomID       string `json:"room_id"`
	EventID      string `json:"event_id"`
	ThreadID     string `json:"thread_id,omitempty"`
	ProviderInfo string `json:"provider_info,omitempty"`
}

// RequestKey identifies a request. Two requests with the same key resolve
// to the same event.
type RequestKey struct {
	SessionID string
	RoomID    string
	EventID   string
	ThreadID  string
}

// String returns a flat form of the key, suitable as a cache key.
func (k RequestKey) String() string {
	return k.SessionID + "|" + k.RoomID + "|" + k.EventID + "|" + k.ThreadID
}

// Key returns the identity of the request. The push provider does not take
// part in it.
func (r *NotificationEventRequest) Key() RequestKey {
	return RequestKey{
		SessionID: r.SessionID,
		RoomID:    r.RoomID,
		EventID:   r.EventID,
		ThreadID:  r.ThreadID,
	}
}

// Validate checks that the identifiers of the request are well formed.
func (r *NotificationEventRequest) Validate() error {
	if _, err := spec.NewUserID(r.SessionID, true); err != nil {
		return fmt.Errorf("invalid session ID %q: %w", r.SessionID, err)
	}
	if _, err := spec.NewRoomID(r.RoomID); err != nil {
		return fmt.Errorf("invalid room ID %q: %w", r.RoomID, err)
	}
	if !strings.HasPrefix(r.EventID, "$") || len(r.EventID) < 2 {
		return fmt.Errorf("invalid event ID %q", r.EventID)
	}
	if r.ThreadID != "" && !strings.HasPrefix(r.ThreadID, "$") {
		return fmt.Errorf("invalid thread ID %q", r.ThreadID)
	}
	return nil
}

// ResolvedKind is the kind of a resolved push.
type ResolvedKind int

const (
	// ResolvedEvent is a message or other notifiable event.
	ResolvedEvent ResolvedKind = iota
	// ResolvedInvite is an invite to a room.
	ResolvedInvite
	// ResolvedRedaction removes a previously shown notification.
	ResolvedRedaction
)

func (k ResolvedKind) String() string {
	switch k {
	case ResolvedEvent:
		return "event"
	case ResolvedInvite:
		return "invite"
	case ResolvedRedaction:
		return "redaction"
	default:
		return fmt.Sprintf("ResolvedKind(%d)", int(k))
	}
}

// ResolvedPushEvent is notification content ready to be displayed. It is
// never modified once produced.
type ResolvedPushEvent struct {
	Kind      ResolvedKind `json:"kind"`
	SessionID string       `json:"session_id"`
	RoomID    string       `json:"room_id"`
	EventID   string       `json:"event_id"`
	ThreadID  string       `json:"thread_id,omitempty"`
	// RedactedEventID is set for redactions.
	RedactedEventID string         `json:"redacted_event_id,omitempty"`
	SenderID        string         `json:"sender_id,omitempty"`
	SenderName      string         `json:"sender_name,omitempty"`
	RoomName        string         `json:"room_name,omitempty"`
	Body            string         `json:"body,omitempty"`
	Timestamp       spec.Timestamp `json:"origin_server_ts"`
	IsNoisy         bool           `json:"is_noisy"`
}

// FailureKind classifies why a push could not be resolved.
type FailureKind int

const (
	// FailureEventNotFound means the event could not be fetched.
	FailureEventNotFound FailureKind = iota
	// FailureEventFiltered means the event exists but must not be shown,
	// e.g. because of push rules or a muted room.
	FailureEventFiltered
	// FailureResolverError is any other resolver failure.
	FailureResolverError
	// FailureCancelled means the resolution was abandoned before it ran to
	// completion.
	FailureCancelled
	// FailureTimeout means the resolver did not answer within the
	// resolution timeout.
	FailureTimeout
)

func (k FailureKind) String() string {
	switch k {
	case FailureEventNotFound:
		return "event_not_found"
	case FailureEventFiltered:
		return "event_filtered"
	case FailureResolverError:
		return "resolver_error"
	case FailureCancelled:
		return "cancelled"
	case FailureTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("FailureKind(%d)", int(k))
	}
}

// Sentinel errors a Resolver may return, possibly wrapped, to select the
// failure kind.
var (
	ErrEventNotFound = errors.New("event not found")
	ErrEventFiltered = errors.New("event filtered")
)

// ResolutionFailure is the typed failure result of a resolution.
type ResolutionFailure struct {
	Kind      FailureKind
	SessionID string
	RoomID    string
	EventID   string
	Err       error
}

func (f *ResolutionFailure) Error() string {
	msg := fmt.Sprintf("resolve %s in %s for %s: %s", f.EventID, f.RoomID, f.SessionID, f.Kind)
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *ResolutionFailure) Unwrap() error {
	return f.Err
}

// NewResolutionFailure classifies err into a failure for the request.
func NewResolutionFailure(req *NotificationEventRequest, err error) *ResolutionFailure {
	kind := FailureResolverError
	switch {
	case errors.Is(err, ErrEventNotFound):
		kind = FailureEventNotFound
	case errors.Is(err, ErrEventFiltered):
		kind = FailureEventFiltered
	case errors.Is(err, context.DeadlineExceeded):
		kind = FailureTimeout
	case errors.Is(err, context.Canceled):
		kind = FailureCancelled
	}
	return &ResolutionFailure{
		Kind:      kind,
		SessionID: req.SessionID,
		RoomID:    req.RoomID,
		EventID:   req.EventID,
		Err:       err,
	}
}

// Result is the outcome of a resolution: exactly one of Event and Err is
// set. Err is always a *ResolutionFailure.
type Result struct {
	Event *ResolvedPushEvent
	Err   error
}

// Failure returns the typed failure, if the resolution failed.
func (r Result) Failure() (*ResolutionFailure, bool) {
	var failure *ResolutionFailure
	if errors.As(r.Err, &failure) {
		return failure, true
	}
	return nil, false
}

// Resolver turns a push into displayable content, typically by asking the
// SDK. Implementations may be slow and are not required to be idempotent.
type Resolver interface {
	ResolveEvent(ctx context.Context, req *NotificationEventRequest) (*ResolvedPushEvent, error)
}

// ResolverFunc adapts a function to a Resolver.
type ResolverFunc func(ctx context.Context, req *NotificationEventRequest) (*ResolvedPushEvent, error)

func (f ResolverFunc) ResolveEvent(ctx context.Context, req *NotificationEventRequest) (*ResolvedPushEvent, error) {
	return f(ctx, req)
}
