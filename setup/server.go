// Copyright 2025 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

// Package setup wires every component of a roomsync process together.
package setup

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/element-hq/roomsync/activerooms"
	activeroomsrouting "github.com/element-hq/roomsync/activerooms/routing"
	"github.com/element-hq/roomsync/internal"
	"github.com/element-hq/roomsync/internal/caching"
	"github.com/element-hq/roomsync/internal/natsutil"
	"github.com/element-hq/roomsync/lockscreen"
	"github.com/element-hq/roomsync/lockscreen/pin"
	lockscreenproducers "github.com/element-hq/roomsync/lockscreen/producers"
	lockscreenrouting "github.com/element-hq/roomsync/lockscreen/routing"
	notifconsumers "github.com/element-hq/roomsync/notifications/consumers"
	"github.com/element-hq/roomsync/notifications/producers"
	"github.com/element-hq/roomsync/notifications/queue"
	"github.com/element-hq/roomsync/notifications/resolver"
	"github.com/element-hq/roomsync/preferences/storage/sqlite3"
	roomlistconsumers "github.com/element-hq/roomsync/roomlist/consumers"
	"github.com/element-hq/roomsync/roomlist/dynamic"
	"github.com/element-hq/roomsync/roomlist/filters"
	"github.com/element-hq/roomsync/roomlist/inbox"
	"github.com/element-hq/roomsync/roomlist/routing"
	"github.com/element-hq/roomsync/roomlist/storage"
	"github.com/element-hq/roomsync/roomlist/types"
	sessionconsumers "github.com/element-hq/roomsync/sessions/consumers"
	"github.com/element-hq/roomsync/setup/config"
	"github.com/element-hq/roomsync/setup/process"
)

// HTTPServerTimeout bounds the time taken to write a response.
const HTTPServerTimeout = time.Minute

// Server is a running roomsync process.
type Server struct {
	processCtx  *process.ProcessContext
	cfg         *config.RoomSync
	httpServer  *http.Server
	serverMutex sync.Mutex
	running     bool

	prefs *sqlite3.Database
	names *caching.RistrettoNormalizedNames
	nc    *nats.Conn
	js    nats.JetStreamContext

	Store       *storage.RoomSummaryStore
	RoomList    *dynamic.RoomList
	Selection   *dynamic.FilterSelection
	Reconciler  *inbox.InboxSettingsReconciler
	Queue       *queue.NotificationResolverQueue
	ActiveRooms *activerooms.ActiveRoomsHolder
	LockScreen  *lockscreen.LockScreenService
}

// NewServer creates a server for a verified config.
func NewServer(cfg *config.RoomSync) *Server {
	internal.SetupLogging(&cfg.Global.Logging)
	logrus.Infof("roomsync version %s", internal.VersionString())
	return &Server{
		processCtx: process.NewProcessContext(),
		cfg:        cfg,
	}
}

// Start builds every component and starts serving. The listener is
// optional: without it, no HTTP endpoints are served.
func (s *Server) Start(ctx context.Context, listener net.Listener) (err error) {
	s.serverMutex.Lock()
	defer s.serverMutex.Unlock()
	if s.running {
		return nil
	}
	defer func() {
		if err != nil {
			s.processCtx.ShutdownRoomSync()
			if s.prefs != nil {
				_ = s.prefs.Close()
			}
		}
	}()

	s.prefs, err = sqlite3.Open(string(s.cfg.RoomList.DatabaseConnectionString()))
	if err != nil {
		return fmt.Errorf("sqlite3.Open: %w", err)
	}
	s.nc, err = natsutil.Connect(s.processCtx, &s.cfg.Global.NATS)
	if err != nil {
		return err
	}
	s.js, err = natsutil.JetStream(s.nc, &s.cfg.Global.NATS)
	if err != nil {
		return err
	}

	// Room list
	s.names = caching.NewRistrettoNormalizedNames(caching.DefaultNormalizedNamesMaxCost)
	s.Store = storage.NewRoomSummaryStore()
	s.RoomList = dynamic.NewRoomList(s.Store, filters.NewEngine(s.names))
	s.Selection = dynamic.NewFilterSelection(hiddenFilters(s.cfg.RoomList.HiddenFilters)...)
	s.Reconciler = inbox.NewInboxSettingsReconciler(
		s.prefs, s.Selection.Filters(), s.RoomList,
		inbox.WithDefaultSortOrder(defaultSortOrder(&s.cfg.RoomList.DefaultSortOrder)),
		inbox.WithDebounce(s.cfg.RoomList.SettingsDebounce),
	)
	s.processCtx.ComponentStarted()
	go func() {
		defer s.processCtx.ComponentFinished()
		if err := s.Reconciler.Run(s.processCtx.Context()); err != nil {
			s.processCtx.Degraded(fmt.Errorf("inbox settings reconciler: %w", err))
		}
	}()
	if err = roomlistconsumers.NewRoomListDiffConsumer(s.processCtx, &s.cfg.RoomList, s.js, s.Store).Start(); err != nil {
		return err
	}

	// Notifications
	s.Queue = queue.NewNotificationResolverQueue(s.processCtx, &s.cfg.Notifications, resolver.NewNATSResolver(&s.cfg.Notifications, s.nc))
	producer := &producers.BatchProducer{
		NATS:    s.nc,
		Subject: s.cfg.Global.NATS.Prefixed(producers.ResolvedSubject),
	}
	s.processCtx.ComponentStarted()
	go func() {
		defer s.processCtx.ComponentFinished()
		producer.Run(s.processCtx.Context(), s.Queue.Results())
	}()
	if err = notifconsumers.NewPushConsumer(s.processCtx, &s.cfg.Notifications, s.js, s.Queue).Start(); err != nil {
		return err
	}

	// Sessions and lock screen
	s.ActiveRooms = activerooms.NewActiveRoomsHolder()
	pins := pin.NewPinCodeManager(s.prefs, s.cfg.LockScreen.PinSize, s.cfg.LockScreen.MaxAttempts)
	s.LockScreen, err = lockscreen.NewLockScreenService(ctx, &s.cfg.LockScreen, pins)
	if err != nil {
		return fmt.Errorf("lockscreen.NewLockScreenService: %w", err)
	}
	states, unsubscribe := s.LockScreen.Subscribe()
	stateProducer := &lockscreenproducers.StateProducer{
		NATS:    s.nc,
		Subject: s.cfg.Global.NATS.Prefixed(lockscreenproducers.StateSubject),
	}
	s.processCtx.ComponentStarted()
	go func() {
		defer s.processCtx.ComponentFinished()
		defer unsubscribe()
		stateProducer.Run(s.processCtx.Context(), states)
	}()
	if err = sessionconsumers.NewSessionDeletedConsumer(
		s.processCtx, &s.cfg.Global, s.js, s.ActiveRooms, s.Queue, s.LockScreen,
	).Start(); err != nil {
		return err
	}

	if listener != nil {
		router := mux.NewRouter().SkipClean(true)
		if s.cfg.Global.Metrics.Enabled {
			router.Handle("/metrics", promhttp.Handler())
		}
		routing.Setup(router, &s.cfg.RoomList, s.RoomList, s.Selection)
		activeroomsrouting.Setup(router, s.ActiveRooms)
		lockscreenrouting.Setup(router, s.LockScreen)
		s.httpServer = &http.Server{
			Addr:         listener.Addr().String(),
			WriteTimeout: HTTPServerTimeout,
			Handler:      router,
			BaseContext: func(_ net.Listener) context.Context {
				return s.processCtx.Context()
			},
		}
		s.processCtx.ComponentStarted()
		go func() {
			logrus.Infof("Starting HTTP listener on %s", listener.Addr().String())
			defer s.processCtx.ComponentFinished()
			if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logrus.WithError(err).Error("Failed to serve HTTP")
			}
			logrus.Info("HTTP listener stopped")
		}()
	}

	s.running = true
	return nil
}

// Stop shuts every component down and waits for them to finish.
func (s *Server) Stop(ctx context.Context) error {
	s.serverMutex.Lock()
	defer s.serverMutex.Unlock()
	if !s.running {
		return nil
	}
	s.running = false

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	s.processCtx.ShutdownRoomSync()
	s.Queue.Close()

	done := make(chan struct{})
	go func() {
		s.processCtx.WaitForComponentsToFinish()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		err = errors.Join(err, ctx.Err())
	}

	s.names.Close()
	if closeErr := s.prefs.Close(); closeErr != nil {
		err = errors.Join(err, closeErr)
	}
	return err
}

// GetProcessContext returns the process context of the server.
func (s *Server) GetProcessContext() *process.ProcessContext {
	return s.processCtx
}

// GetConfig returns the server configuration.
func (s *Server) GetConfig() *config.RoomSync {
	return s.cfg
}

// NATS returns the connection used by the consumers and producers.
func (s *Server) NATS() *nats.Conn {
	return s.nc
}

// JetStream returns the JetStream context the consumers read from.
func (s *Server) JetStream() nats.JetStreamContext {
	return s.js
}

func hiddenFilters(names []string) []types.Filter {
	var hidden []types.Filter
	for _, name := range names {
		for _, f := range types.AllFilters {
			if f.String() == name {
				hidden = append(hidden, f)
			}
		}
	}
	return hidden
}

func defaultSortOrder(c *config.SortOrder) types.SortOrder {
	return types.SortOrder{
		ByUnread:               c.ByUnread,
		PinFavourites:          c.PinFavourites,
		BuryLowPriority:        c.BuryLowPriority,
		ClientSideUnreadCounts: c.ClientSideUnreadCounts,
		WithSilentUnread:       c.WithSilentUnread,
	}
}
