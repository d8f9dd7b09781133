// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/gowgos5/wheelstat/internal/session"
	"github.com/gowgos5/wheelstat/internal/telemetry"
)

var probeTimeout int

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Identify the wheel and wait for live data",
	Long: `Run the polling conversation until the wheel has reported its model,
serial number and a first live telemetry frame, or until timeout.

Exit codes:
  0 - Wheel identified and live data received
  1 - Timeout reached before the wheel was identified
  2 - Connection error

Useful for testing connectivity to the wheel or a WebSocket bridge.`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().IntVar(&probeTimeout, "timeout", 10, "Timeout in seconds to wait for the wheel")
}

func runProbe(cmd *cobra.Command, args []string) error {
	// Open connection (serial or WebSocket)
	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Wheelstat - Probe\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", probeTimeout)
	fmt.Printf("Waiting for wheel...\n\n")

	live := make(chan struct{}, 1)
	s := session.New(conn, sessionConfig(cfg, false),
		session.WithLogger(logger),
		session.WithOnData(func() {
			select {
			case live <- struct{}{}:
			default:
			}
		}))
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(probeTimeout)*time.Second)
	defer cancel()

	errChan := make(chan error, 1)
	go func() { errChan <- s.Run(ctx, conn) }()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	gotLive := false
	for {
		select {
		case <-live:
			gotLive = true
		case <-ticker.C:
		case err := <-errChan:
			if ctx.Err() == nil {
				fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
				os.Exit(2)
			}
		case <-ctx.Done():
			snap := s.Telemetry().Snapshot()
			fmt.Fprintf(os.Stderr, "TIMEOUT: Wheel not identified within %d seconds\n", probeTimeout)
			printProbe(snap, s.Stats())
			os.Exit(1)
		}

		snap := s.Telemetry().Snapshot()
		if gotLive && snap.Detected && snap.Serial != "" {
			fmt.Printf("SUCCESS: Wheel identified\n")
			printProbe(snap, s.Stats())
			os.Exit(0)
		}
	}
}

func printProbe(snap telemetry.Snapshot, st session.Stats) {
	orUnknown := func(s string) string {
		if s == "" {
			return "(unknown)"
		}
		return s
	}
	fmt.Printf("  Model: %s\n", orUnknown(snap.Model))
	fmt.Printf("  Serial: %s\n", orUnknown(snap.Serial))
	fmt.Printf("  Version: %s\n", orUnknown(snap.Version))
	if snap.Voltage > 0 {
		fmt.Printf("  Voltage: %.2f V (%d%%)\n", snap.Voltage, snap.BatteryPercent)
	}
	fmt.Printf("  Frames: %d valid, %d errors\n", st.ValidFrames, st.ChecksumErrors+st.MalformedFrames)
}
