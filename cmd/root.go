// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gowgos5/wheelstat/internal/config"
	"github.com/gowgos5/wheelstat/internal/logging"
)

var (
	configFile string

	// Set by PersistentPreRunE; flag values are read through cfg
	cfg    *config.Config
	logger = zap.NewNop()
)

// annotationTUI marks commands that own the terminal; they never log to stdout
const annotationTUI = "tui"

var rootCmd = &cobra.Command{
	Use:   "wheelstat",
	Short: "Inmotion Wheel Protocol Analyzer",
	Long: `Wheelstat - A CLI tool for talking to Inmotion V2 self-balancing wheels.

Provides commands for raw frame logging, link statistics, an interactive
dashboard with wheel controls, and an HTTP API that keeps polling the wheel.

Connection modes:
  Serial:    --port /dev/rfcomm0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]

For WebSocket authentication, the password is read from the WHEELSTAT_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.

Every flag can also be set in wheelstat.yaml or through WHEELSTAT_* environment
variables (for example WHEELSTAT_LINK_PORT).`,
	Version:           "0.4.0",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	flags := rootCmd.PersistentFlags()

	// Serial connection flags
	flags.StringP("port", "p", "", "Serial port device")
	flags.IntP("baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	flags.StringP("url", "u", "", "WebSocket URL (ws:// or wss://)")
	flags.String("username", "", "Username for HTTP Basic auth")
	flags.Bool("no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	flags.StringVarP(&configFile, "config", "c", "", "Config file (default ./wheelstat.yaml)")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-file", "", "Write logs to a rotating file")
	flags.String("settings-file", "", "Persist wheel settings to a YAML file")
	flags.String("capture", "", "Record link traffic to a capture file")
}

// setup loads the configuration and builds the logger
func setup(cmd *cobra.Command, args []string) error {
	c, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}
	if _, ok := cmd.Annotations[annotationTUI]; ok {
		c.Logging.Stdout = false
	}

	l, err := logging.InitLogger(c.Logging)
	if err != nil {
		return err
	}
	cfg, logger = c, l
	return nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
