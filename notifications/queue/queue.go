// Copyright 2025 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

// Package queue resolves pushes into displayable notifications with
// bounded concurrency.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/element-hq/roomsync/notifications/api"
	"github.com/element-hq/roomsync/setup/config"
	"github.com/element-hq/roomsync/setup/process"
)

const (
	defaultWorkers     = 4
	defaultResultTTL   = time.Hour
	defaultBatchBuffer = 16
)

// ErrQueueClosed is the cause of the failure returned for requests
// enqueued after Close.
var ErrQueueClosed = fmt.Errorf("notification queue closed: %w", context.Canceled)

// Batch is the state of every request of a session seen so far, emitted
// after each completed resolution.
type Batch struct {
	SessionID string
	Requests  []api.NotificationEventRequest
	Results   map[api.RequestKey]api.Result
}

type storedResult struct {
	request api.NotificationEventRequest
	result  api.Result
}

// sessionRequests are the requests of a session in the order first seen.
type sessionRequests struct {
	order    []api.RequestKey
	requests map[api.RequestKey]api.NotificationEventRequest
}

func (s *sessionRequests) remove(key api.RequestKey) {
	if _, ok := s.requests[key]; !ok {
		return
	}
	delete(s.requests, key)
	for i := range s.order {
		if s.order[i] == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// NotificationResolverQueue resolves notification requests on a bounded
// pool. Requests with the same key share one resolution while it is in
// flight, and its result is kept for the configured TTL.
type NotificationResolverQueue struct {
	process  *process.ProcessContext
	resolver api.Resolver
	timeout  time.Duration
	group    singleflight.Group
	pool     *semaphore.Weighted
	results  *cache.Cache // RequestKey.String() -> storedResult

	mu       sync.Mutex
	closed   bool
	inflight map[api.RequestKey]struct{}
	sessions map[string]*sessionRequests
	batches  chan Batch

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewNotificationResolverQueue creates a queue whose resolutions run until
// the process context is cancelled.
func NewNotificationResolverQueue(
	processCtx *process.ProcessContext,
	cfg *config.Notifications,
	resolver api.Resolver,
) *NotificationResolverQueue {
	workers, ttl, buffer := defaultWorkers, defaultResultTTL, defaultBatchBuffer
	var timeout time.Duration
	if cfg != nil {
		if cfg.Workers > 0 {
			workers = cfg.Workers
		}
		if cfg.ResultTTL > 0 {
			ttl = cfg.ResultTTL
		}
		if cfg.BatchBuffer > 0 {
			buffer = cfg.BatchBuffer
		}
		timeout = cfg.ResolveTimeout
	}
	q := &NotificationResolverQueue{
		process:  processCtx,
		resolver: resolver,
		timeout:  timeout,
		pool:     semaphore.NewWeighted(int64(workers)),
		results:  cache.New(ttl, ttl/2),
		inflight: make(map[api.RequestKey]struct{}),
		sessions: make(map[string]*sessionRequests),
		batches:  make(chan Batch, buffer),
	}
	q.results.OnEvicted(q.onEvicted)
	return q
}

// Results emits a batch per completed resolution. If the reader falls
// behind, the oldest batches are dropped: every batch holds the complete
// state of its session.
func (q *NotificationResolverQueue) Results() <-chan Batch {
	return q.batches
}

// Enqueue submits a request. The returned channel receives exactly one
// result. Cancelling ctx only stops waiting: a resolution shared with
// other callers carries on.
func (q *NotificationResolverQueue) Enqueue(ctx context.Context, req api.NotificationEventRequest) <-chan api.Result {
	out := make(chan api.Result, 1)
	key := req.Key()
	logger := logrus.WithFields(logrus.Fields{
		"session_id": req.SessionID,
		"room_id":    req.RoomID,
		"event_id":   req.EventID,
	})

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		out <- api.Result{Err: api.NewResolutionFailure(&req, ErrQueueClosed)}
		return out
	}
	q.track(req)
	if stored, ok := q.results.Get(key.String()); ok {
		q.mu.Unlock()
		coalescedTotal.Inc()
		logger.Debug("Notification already resolved")
		out <- stored.(storedResult).result
		return out
	}
	if _, ok := q.inflight[key]; ok {
		coalescedTotal.Inc()
		logger.Debug("Joining in-flight notification resolution")
	} else {
		q.inflight[key] = struct{}{}
	}
	// Joining under the lock guarantees that the resolution cannot complete
	// between the in-flight check and the join.
	ch := q.group.DoChan(key.String(), func() (interface{}, error) {
		return q.resolve(req), nil
	})
	q.wg.Add(1)
	q.mu.Unlock()

	go func() {
		defer q.wg.Done()
		select {
		case res := <-ch:
			out <- res.Val.(api.Result)
		case <-ctx.Done():
			out <- api.Result{Err: api.NewResolutionFailure(&req, ctx.Err())}
			// Keep Close waiting for the shared resolution.
			<-ch
		}
	}()
	return out
}

// resolve runs a single resolution on the pool and publishes its result.
func (q *NotificationResolverQueue) resolve(req api.NotificationEventRequest) api.Result {
	key := req.Key()
	result := q.run(&req)

	outcome := "success"
	if failure, ok := result.Failure(); ok {
		outcome = failure.Kind.String()
		logrus.WithFields(logrus.Fields{
			"session_id": req.SessionID,
			"room_id":    req.RoomID,
			"event_id":   req.EventID,
			"reason":     outcome,
		}).WithError(failure.Err).Warn("Failed to resolve notification")
	}
	resolutionsTotal.WithLabelValues(outcome).Inc()

	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, key)
	if q.process.Context().Err() != nil {
		// Shutting down: the result is incomplete and nobody reads batches.
		return result
	}
	if _, ok := q.sessions[req.SessionID]; !ok {
		// The session was forgotten while resolving.
		return result
	}
	q.results.Set(key.String(), storedResult{request: req, result: result}, cache.DefaultExpiration)
	q.emit(req.SessionID)
	return result
}

func (q *NotificationResolverQueue) run(req *api.NotificationEventRequest) api.Result {
	ctx := q.process.Context()
	if err := q.pool.Acquire(ctx, 1); err != nil {
		return api.Result{Err: api.NewResolutionFailure(req, err)}
	}
	defer q.pool.Release(1)

	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}

	inflightResolutions.Inc()
	defer inflightResolutions.Dec()
	start := time.Now()
	event, err := q.resolver.ResolveEvent(ctx, req)
	resolveDuration.Observe(time.Since(start).Seconds())
	if err == nil && event == nil {
		err = api.ErrEventNotFound
	}
	if err != nil {
		return api.Result{Err: api.NewResolutionFailure(req, err)}
	}
	return api.Result{Event: event}
}

// track records the request in its session. Callers hold q.mu.
func (q *NotificationResolverQueue) track(req api.NotificationEventRequest) {
	session, ok := q.sessions[req.SessionID]
	if !ok {
		session = &sessionRequests{requests: make(map[api.RequestKey]api.NotificationEventRequest)}
		q.sessions[req.SessionID] = session
	}
	key := req.Key()
	if _, ok := session.requests[key]; !ok {
		session.order = append(session.order, key)
	}
	session.requests[key] = req
}

// emit publishes the session's batch without blocking. Callers hold q.mu.
func (q *NotificationResolverQueue) emit(sessionID string) {
	session := q.sessions[sessionID]
	batch := Batch{
		SessionID: sessionID,
		Requests:  make([]api.NotificationEventRequest, 0, len(session.order)),
		Results:   make(map[api.RequestKey]api.Result, len(session.order)),
	}
	for _, key := range session.order {
		batch.Requests = append(batch.Requests, session.requests[key])
		if stored, ok := q.results.Get(key.String()); ok {
			batch.Results[key] = stored.(storedResult).result
		}
	}
	for {
		select {
		case q.batches <- batch:
			return
		default:
		}
		select {
		case <-q.batches:
			logrus.WithField("session_id", sessionID).Debug("Dropped stale notification batch")
		default:
		}
	}
}

// onEvicted drops expired results from their session.
func (q *NotificationResolverQueue) onEvicted(_ string, value interface{}) {
	stored := value.(storedResult)
	q.mu.Lock()
	defer q.mu.Unlock()
	session, ok := q.sessions[stored.request.SessionID]
	if !ok {
		return
	}
	key := stored.request.Key()
	if _, pending := q.inflight[key]; pending {
		return
	}
	session.remove(key)
	if len(session.order) == 0 {
		delete(q.sessions, stored.request.SessionID)
	}
}

// ForgetSession drops everything known about the session, e.g. when it
// signs out. Resolutions still in flight complete but are not stored.
func (q *NotificationResolverQueue) ForgetSession(sessionID string) {
	q.mu.Lock()
	session, ok := q.sessions[sessionID]
	delete(q.sessions, sessionID)
	q.mu.Unlock()
	if !ok {
		return
	}
	for _, key := range session.order {
		q.results.Delete(key.String())
	}
	logrus.WithField("session_id", sessionID).Debug("Forgot notification session")
}

// Close stops accepting requests, waits for pending ones and closes the
// Results channel. Resolutions finish early if the process context is
// cancelled.
func (q *NotificationResolverQueue) Close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		q.wg.Wait()
		close(q.batches)
	})
}
