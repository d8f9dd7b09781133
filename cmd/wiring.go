// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/gowgos5/wheelstat/internal/capture"
	"github.com/gowgos5/wheelstat/internal/session"
	"github.com/gowgos5/wheelstat/internal/settings"
)

// sessionOptions opens the settings store and the optional capture file.
// The returned cleanup closes the capture file.
func sessionOptions() (*settings.Store, []session.Option, func(), error) {
	st, err := settings.NewStore(cfg.Settings.File)
	if err != nil {
		return nil, nil, nil, err
	}

	var opts []session.Option
	cleanup := func() {}
	if cfg.Capture.File != "" {
		f, err := os.OpenFile(cfg.Capture.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open capture file: %w", err)
		}
		logger.Info("capturing link traffic", zap.String("file", cfg.Capture.File))
		opts = append(opts, session.WithCapture(capture.NewWriter(f)))
		cleanup = func() { f.Close() }
	}
	return st, opts, cleanup, nil
}
