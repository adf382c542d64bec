// Copyright 2025 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/element-hq/roomsync/notifications/api"
	"github.com/element-hq/roomsync/setup/config"
	"github.com/element-hq/roomsync/setup/process"
)

// countingResolver counts calls and blocks each of them until released.
type countingResolver struct {
	calls   atomic.Int32
	running atomic.Int32
	maxRun  atomic.Int32
	release chan struct{}
	errs    map[string]error
}

func newCountingResolver() *countingResolver {
	return &countingResolver{release: make(chan struct{}), errs: map[string]error{}}
}

func (r *countingResolver) ResolveEvent(ctx context.Context, req *api.NotificationEventRequest) (*api.ResolvedPushEvent, error) {
	r.calls.Inc()
	running := r.running.Inc()
	defer r.running.Dec()
	for {
		peak := r.maxRun.Load()
		if running <= peak || r.maxRun.CompareAndSwap(peak, running) {
			break
		}
	}
	select {
	case <-r.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err := r.errs[req.EventID]; err != nil {
		return nil, err
	}
	return &api.ResolvedPushEvent{
		Kind:      api.ResolvedEvent,
		SessionID: req.SessionID,
		RoomID:    req.RoomID,
		EventID:   req.EventID,
		Body:      "body of " + req.EventID,
	}, nil
}

func request(eventID string) api.NotificationEventRequest {
	return api.NotificationEventRequest{
		SessionID: "@alice:example.org",
		RoomID:    "!room:example.org",
		EventID:   eventID,
	}
}

func newTestQueue(t *testing.T, cfg *config.Notifications, resolver api.Resolver) (*NotificationResolverQueue, *process.ProcessContext) {
	t.Helper()
	pc := process.NewProcessContext()
	q := NewNotificationResolverQueue(pc, cfg, resolver)
	t.Cleanup(func() {
		pc.ShutdownRoomSync()
		q.Close()
	})
	return q, pc
}

func receive(t *testing.T, ch <-chan api.Result) api.Result {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a result")
		return api.Result{}
	}
}

func TestQueue_CoalescesConcurrentRequests(t *testing.T) {
	resolver := newCountingResolver()
	q, _ := newTestQueue(t, nil, resolver)
	coalescedBefore := testutil.ToFloat64(coalescedTotal)

	first := request("$event")
	first.ProviderInfo = "fcm"
	second := request("$event")
	second.ProviderInfo = "unifiedpush"

	a := q.Enqueue(context.Background(), first)
	b := q.Enqueue(context.Background(), second)
	close(resolver.release)

	resA, resB := receive(t, a), receive(t, b)
	require.NoError(t, resA.Err)
	assert.Same(t, resA.Event, resB.Event)
	assert.Equal(t, int32(1), resolver.calls.Load())
	assert.Equal(t, float64(1), testutil.ToFloat64(coalescedTotal)-coalescedBefore)
}

func TestQueue_ConcurrentBurstResolvesOnce(t *testing.T) {
	resolver := newCountingResolver()
	q, _ := newTestQueue(t, nil, resolver)

	var wg sync.WaitGroup
	results := make([]api.Result, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = receive(t, q.Enqueue(context.Background(), request("$burst")))
		}(i)
	}
	// Give every caller a chance to join before the resolution completes.
	assert.Eventually(t, func() bool { return resolver.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(resolver.release)
	wg.Wait()

	assert.Equal(t, int32(1), resolver.calls.Load())
	for _, res := range results {
		assert.Same(t, results[0].Event, res.Event)
	}
}

func TestQueue_BoundedConcurrency(t *testing.T) {
	resolver := newCountingResolver()
	q, _ := newTestQueue(t, &config.Notifications{Workers: 2}, resolver)

	var chans []<-chan api.Result
	for i := 0; i < 6; i++ {
		chans = append(chans, q.Enqueue(context.Background(), request(fmt.Sprintf("$event%d", i))))
	}
	assert.Eventually(t, func() bool { return resolver.running.Load() == 2 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), resolver.calls.Load())

	close(resolver.release)
	for _, ch := range chans {
		assert.NoError(t, receive(t, ch).Err)
	}
	assert.Equal(t, int32(6), resolver.calls.Load())
	assert.LessOrEqual(t, resolver.maxRun.Load(), int32(2))
}

func TestQueue_FailuresAreTypedAndIsolated(t *testing.T) {
	resolver := newCountingResolver()
	resolver.errs["$missing"] = api.ErrEventNotFound
	close(resolver.release)
	q, _ := newTestQueue(t, nil, resolver)

	missing := receive(t, q.Enqueue(context.Background(), request("$missing")))
	failure, ok := missing.Failure()
	require.True(t, ok)
	assert.Equal(t, api.FailureEventNotFound, failure.Kind)
	assert.Equal(t, "!room:example.org", failure.RoomID)
	assert.Nil(t, missing.Event)

	found := receive(t, q.Enqueue(context.Background(), request("$found")))
	require.NoError(t, found.Err)
	assert.Equal(t, "body of $found", found.Event.Body)

	// The latest batch holds both outcomes, in submission order.
	var batch Batch
	assert.Eventually(t, func() bool {
		select {
		case batch = <-q.Results():
		default:
		}
		return len(batch.Results) == 2
	}, 5*time.Second, time.Millisecond)
	assert.Equal(t, "@alice:example.org", batch.SessionID)
	require.Len(t, batch.Requests, 2)
	assert.Equal(t, "$missing", batch.Requests[0].EventID)
	assert.Equal(t, "$found", batch.Requests[1].EventID)
	missingReq, foundReq := request("$missing"), request("$found")
	assert.Error(t, batch.Results[missingReq.Key()].Err)
	assert.NoError(t, batch.Results[foundReq.Key()].Err)
}

func TestQueue_TimeoutIsStoredAndEmitted(t *testing.T) {
	resolver := newCountingResolver()
	q, _ := newTestQueue(t, &config.Notifications{ResolveTimeout: 20 * time.Millisecond}, resolver)

	failure, ok := receive(t, q.Enqueue(context.Background(), request("$slow"))).Failure()
	require.True(t, ok)
	assert.Equal(t, api.FailureTimeout, failure.Kind)

	select {
	case batch := <-q.Results():
		slow := request("$slow")
		res, ok := batch.Results[slow.Key()]
		require.True(t, ok, "timed out request missing from batch")
		failure, ok = res.Failure()
		require.True(t, ok)
		assert.Equal(t, api.FailureTimeout, failure.Kind)
	case <-time.After(5 * time.Second):
		t.Fatal("no batch emitted for a timed out resolution")
	}

	// Failures are not retried.
	failure, ok = receive(t, q.Enqueue(context.Background(), request("$slow"))).Failure()
	require.True(t, ok)
	assert.Equal(t, api.FailureTimeout, failure.Kind)
	assert.Equal(t, int32(1), resolver.calls.Load())
}

func TestQueue_StoredResultIsReused(t *testing.T) {
	resolver := newCountingResolver()
	close(resolver.release)
	q, _ := newTestQueue(t, nil, resolver)

	first := receive(t, q.Enqueue(context.Background(), request("$event")))
	second := receive(t, q.Enqueue(context.Background(), request("$event")))
	assert.Same(t, first.Event, second.Event)
	assert.Equal(t, int32(1), resolver.calls.Load())
}

func TestQueue_ResultsExpire(t *testing.T) {
	resolver := newCountingResolver()
	close(resolver.release)
	q, _ := newTestQueue(t, &config.Notifications{ResultTTL: 50 * time.Millisecond}, resolver)

	receive(t, q.Enqueue(context.Background(), request("$event")))
	assert.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		_, ok := q.sessions["@alice:example.org"]
		return q.results.ItemCount() == 0 && !ok
	}, 5*time.Second, 10*time.Millisecond)

	receive(t, q.Enqueue(context.Background(), request("$event")))
	assert.Equal(t, int32(2), resolver.calls.Load())
}

func TestQueue_ForgetSession(t *testing.T) {
	resolver := newCountingResolver()
	close(resolver.release)
	q, _ := newTestQueue(t, nil, resolver)

	receive(t, q.Enqueue(context.Background(), request("$event")))
	q.ForgetSession("@alice:example.org")
	assert.Equal(t, 0, q.results.ItemCount())

	receive(t, q.Enqueue(context.Background(), request("$event")))
	assert.Equal(t, int32(2), resolver.calls.Load())
}

func TestQueue_CallerCancellationDoesNotAffectOthers(t *testing.T) {
	resolver := newCountingResolver()
	q, _ := newTestQueue(t, nil, resolver)

	ctx, cancel := context.WithCancel(context.Background())
	abandoned := q.Enqueue(ctx, request("$event"))
	waiting := q.Enqueue(context.Background(), request("$event"))
	cancel()

	failure, ok := receive(t, abandoned).Failure()
	require.True(t, ok)
	assert.Equal(t, api.FailureCancelled, failure.Kind)

	close(resolver.release)
	assert.NoError(t, receive(t, waiting).Err)
	assert.Equal(t, int32(1), resolver.calls.Load())
}

func TestQueue_ShutdownCancelsPendingResolutions(t *testing.T) {
	resolver := newCountingResolver()
	q, pc := newTestQueue(t, &config.Notifications{Workers: 1}, resolver)

	running := q.Enqueue(context.Background(), request("$running"))
	queued := q.Enqueue(context.Background(), request("$queued"))
	assert.Eventually(t, func() bool { return resolver.running.Load() == 1 }, time.Second, time.Millisecond)

	pc.ShutdownRoomSync()
	for _, ch := range []<-chan api.Result{running, queued} {
		failure, ok := receive(t, ch).Failure()
		require.True(t, ok)
		assert.Equal(t, api.FailureCancelled, failure.Kind)
	}

	q.Close()
	for range q.Results() {
	}
	assert.Equal(t, int32(1), resolver.calls.Load())

	failure, ok := receive(t, q.Enqueue(context.Background(), request("$late"))).Failure()
	require.True(t, ok)
	assert.Equal(t, api.FailureCancelled, failure.Kind)
	assert.ErrorIs(t, failure, ErrQueueClosed)
}
