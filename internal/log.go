// Copyright 2025 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package internal

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/element-hq/roomsync/setup/config"
)

// callerPrettyfier shortens the caller to its package and file.
func callerPrettyfier(f *runtime.Frame) (string, string) {
	funcName := f.Function
	if i := strings.LastIndex(funcName, "/"); i >= 0 {
		funcName = funcName[i+1:]
	}
	return funcName + "\n\t", fmt.Sprintf(" [%s:%d]", filepath.Base(f.File), f.Line)
}

// SetupStdLogging configures the standard logger until the config has
// been loaded.
func SetupStdLogging() {
	logrus.SetReportCaller(true)
	logrus.SetOutput(os.Stderr)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:    true,
		DisableColors:    true,
		CallerPrettyfier: callerPrettyfier,
	})
}

// SetupLogging applies the logging config to the standard logger.
func SetupLogging(cfg *config.Logging) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		logrus.WithError(err).Fatal("Unrecognised logging level")
	}
	logrus.SetLevel(level)
	if cfg.JSON {
		logrus.SetFormatter(&logrus.JSONFormatter{
			CallerPrettyfier: callerPrettyfier,
		})
	}
}
