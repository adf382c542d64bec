// Copyright 2025 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/element-hq/roomsync/internal"
	"github.com/element-hq/roomsync/setup"
	"github.com/element-hq/roomsync/setup/config"
	"github.com/element-hq/roomsync/setup/process"
)

var (
	configPath      = flag.String("config", "roomsync.yaml", "The path to the config file. For more information, see the config file in this repository.")
	httpBindAddress = flag.String("http-bind-address", "", "The HTTP listening address for the room list and metrics endpoints, overriding the config")
	version         = flag.Bool("version", false, "Shows the current version and exits immediately.")
)

func main() {
	flag.Parse()
	if *version {
		fmt.Println(internal.VersionString())
		os.Exit(0)
	}
	internal.SetupStdLogging()

	cfg, err := config.Load(*configPath)
	if err != nil {
		var configErrors config.ConfigErrors
		if errors.As(err, &configErrors) {
			for _, err := range configErrors {
				logrus.Errorf("Configuration error: %s", err)
			}
			logrus.Fatalf("Failed to start due to configuration errors")
		}
		logrus.WithError(err).Fatalf("Failed to load config %q", *configPath)
	}

	// Setup Sentry if enabled
	if cfg.Global.Sentry.Enabled {
		logrus.Info("Setting up Sentry for debugging...")
		err = sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Global.Sentry.DSN,
			Environment:      cfg.Global.Sentry.Environment,
			Release:          "roomsync@" + internal.VersionString(),
			AttachStacktrace: true,
		})
		if err != nil {
			logrus.WithError(err).Panic("failed to start Sentry")
		}
		defer func() {
			if !sentry.Flush(time.Second * 5) {
				logrus.Warnf("failed to flush all Sentry events!")
			}
		}()
	}

	upCounter := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "roomsync",
		Name:      "up",
		ConstLabels: map[string]string{
			"version": internal.VersionString(),
		},
	})
	upCounter.Add(1)
	prometheus.MustRegister(upCounter)

	address := cfg.Global.Metrics.ListenAddress
	if *httpBindAddress != "" {
		address = *httpBindAddress
	}
	var listener net.Listener
	if address != "" {
		listener, err = net.Listen("tcp", address)
		if err != nil {
			logrus.WithError(err).Fatalf("Failed to listen on %s", address)
		}
	}

	server := setup.NewServer(cfg)
	if err = server.Start(context.Background(), listener); err != nil {
		logrus.WithError(err).Fatal("Failed to start roomsync")
	}

	waitForShutdown(server.GetProcessContext())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err = server.Stop(ctx); err != nil {
		logrus.WithError(err).Error("Failed to stop roomsync cleanly")
	}
	logrus.Info("roomsync stopped")
}

// waitForShutdown blocks until a signal arrives or the process shuts down.
func waitForShutdown(processCtx *process.ProcessContext) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	select {
	case sig := <-sigs:
		logrus.Warnf("Received %s, shutting down", sig)
	case <-processCtx.WaitForShutdown():
		logrus.Warn("Shutdown requested")
	}
}
