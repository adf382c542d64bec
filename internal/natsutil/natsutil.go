// Copyright 2025 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

// Package natsutil connects to the NATS transport delivering pushes, room
// list diffs and session events.
package natsutil

import (
	"context"
	"fmt"
	"os"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/element-hq/roomsync/setup/config"
	"github.com/element-hq/roomsync/setup/process"
)

const readyTimeout = 10 * time.Second

// StartEmbedded starts an in-process NATS server with JetStream enabled,
// listening on a random loopback port. It is shut down with the process.
func StartEmbedded(process *process.ProcessContext, cfg *config.NATS) (*natsserver.Server, error) {
	storeDir := string(cfg.StoragePath)
	temporary := storeDir == ""
	if temporary {
		var err error
		if storeDir, err = os.MkdirTemp("", "roomsync-nats-"); err != nil {
			return nil, fmt.Errorf("os.MkdirTemp: %w", err)
		}
	}
	removeStore := func() {
		if !temporary {
			return
		}
		if err := os.RemoveAll(storeDir); err != nil {
			logrus.WithError(err).WithField("store_dir", storeDir).Warn("Failed to remove JetStream storage")
		}
	}

	s, err := natsserver.NewServer(&natsserver.Options{
		ServerName: "roomsync",
		Host:       "127.0.0.1",
		Port:       natsserver.RANDOM_PORT,
		JetStream:  true,
		StoreDir:   storeDir,
		NoLog:      true,
		NoSigs:     true,
	})
	if err != nil {
		removeStore()
		return nil, fmt.Errorf("natsserver.NewServer: %w", err)
	}
	go s.Start()
	if !s.ReadyForConnections(readyTimeout) {
		s.Shutdown()
		removeStore()
		return nil, fmt.Errorf("embedded NATS server not ready after %s", readyTimeout)
	}
	process.ComponentStarted()
	go func() {
		defer process.ComponentFinished()
		<-process.WaitForShutdown()
		logrus.Info("Shutting down embedded NATS server")
		s.Shutdown()
		s.WaitForShutdown()
		removeStore()
	}()
	logrus.WithField("url", s.ClientURL()).Info("Started embedded NATS server")
	return s, nil
}

// Connect connects to the configured NATS server, starting an embedded
// one first if configured to. The connection is drained on shutdown.
func Connect(process *process.ProcessContext, cfg *config.NATS) (*nats.Conn, error) {
	url := cfg.URL
	if cfg.Embedded && url == "" {
		s, err := StartEmbedded(process, cfg)
		if err != nil {
			return nil, err
		}
		url = s.ClientURL()
	}
	nc, err := nats.Connect(url,
		nats.Name("roomsync"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				process.Degraded(fmt.Errorf("NATS disconnected: %w", err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logrus.WithField("url", nc.ConnectedUrl()).Info("Reconnected to NATS")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats.Connect: %w", err)
	}
	process.ComponentStarted()
	go func() {
		defer process.ComponentFinished()
		<-process.WaitForShutdown()
		if err := nc.Drain(); err != nil {
			logrus.WithError(err).Warn("Failed to drain NATS connection")
			nc.Close()
		}
	}()
	return nc, nil
}

// Subscribe subscribes the handler to the subject until ctx is done.
func Subscribe(ctx context.Context, nc *nats.Conn, subject string, handler nats.MsgHandler) (*nats.Subscription, error) {
	sub, err := nc.Subscribe(subject, handler)
	if err != nil {
		return nil, fmt.Errorf("subscribe to %q: %w", subject, err)
	}
	// Make sure the server knows about the subscription before returning,
	// so that messages published right after are not missed.
	if err = nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("flush subscription to %q: %w", subject, err)
	}
	go func() {
		<-ctx.Done()
		if err := sub.Unsubscribe(); err != nil && !closing(err) {
			logrus.WithError(err).WithField("subject", subject).Warn("Failed to unsubscribe")
		}
	}()
	return sub, nil
}
