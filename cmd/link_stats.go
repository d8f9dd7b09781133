// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gowgos5/wheelstat/internal/session"
	"github.com/gowgos5/wheelstat/pkg/inmotion"
)

var (
	showAll       bool
	statsInterval int
	statsPassive  bool
)

var linkStatsCmd = &cobra.Command{
	Use:   "link_stats",
	Short: "Track frame errors and link quality",
	Long: `Track frame errors, malformed data and link throughput with statistics.

Counts per connection:
  - Valid frames and checksum failures
  - Malformed frames and short payloads
  - Unknown commands
  - Bytes skipped while hunting for the next frame start
  - Frame rate and error rate

Statistics summaries are displayed at a configurable interval. Use
--show-all to display every valid frame too, and --passive to listen
without polling the wheel.`,
	RunE: runLinkStats,
}

func init() {
	rootCmd.AddCommand(linkStatsCmd)
	linkStatsCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all frames (not just statistics)")
	linkStatsCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	linkStatsCmd.Flags().BoolVar(&statsPassive, "passive", false, "Only listen, never poll the wheel")
}

func runLinkStats(cmd *cobra.Command, args []string) error {
	if statsInterval <= 0 {
		return fmt.Errorf("--stats-interval must be positive")
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Wheelstat - Link Statistics\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if statsPassive {
		fmt.Printf("Mode: Passive\n")
	} else {
		fmt.Printf("Mode: Polling\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	st, opts, cleanup, err := sessionOptions()
	if err != nil {
		return err
	}
	defer cleanup()

	opts = append(opts, session.WithLogger(logger), session.WithSettings(st))
	if showAll {
		opts = append(opts, session.WithMessageHook(func(m inmotion.Message) {
			fmt.Print(inmotion.FormatMessage(m, time.Now()))
		}))
	}
	s := session.New(conn, sessionConfig(cfg, statsPassive), opts...)
	defer s.Close()

	// Statistics ticker
	go func() {
		statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
		defer statsTicker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-statsTicker.C:
				fmt.Println()
				fmt.Print(s.StatsReport())
				fmt.Println()
			}
		}
	}()

	context.AfterFunc(ctx, func() { conn.Close() })
	err = s.Run(ctx, conn)

	fmt.Println()
	fmt.Print(s.StatsReport())
	if ctx.Err() != nil {
		return nil
	}
	return err
}
