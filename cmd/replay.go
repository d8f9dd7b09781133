// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/gowgos5/wheelstat/internal/capture"
	"github.com/gowgos5/wheelstat/internal/session"
	"github.com/gowgos5/wheelstat/pkg/inmotion"
)

var (
	replayShowOut  bool
	replayRealtime bool
	replayQuiet    bool
)

// replayMaxGap caps the pause between records in --realtime mode
const replayMaxGap = 2 * time.Second

var replayCmd = &cobra.Command{
	Use:   "replay <capture-file>",
	Short: "Decode a recorded capture file offline",
	Long: `Feed the inbound bytes of a capture file through a passive session and
print every decoded frame with its recorded timestamp, then the link
statistics and the final wheel state.

Capture files are written by any connected command with --capture.

Use --show-out to print the frames wheelstat sent as well, and --realtime
to pace the output at the recorded speed.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().BoolVar(&replayShowOut, "show-out", false, "Show outbound frames")
	replayCmd.Flags().BoolVar(&replayRealtime, "realtime", false, "Replay at the recorded pace")
	replayCmd.Flags().BoolVarP(&replayQuiet, "quiet", "q", false, "Only print the summary")
}

func runReplay(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	var at time.Time
	opts := []session.Option{session.WithLogger(logger)}
	if !replayQuiet {
		opts = append(opts, session.WithMessageHook(func(m inmotion.Message) {
			fmt.Print(inmotion.FormatMessage(m, at))
		}))
	}
	s := session.New(io.Discard, sessionConfig(cfg, true), opts...)
	defer s.Close()

	r := capture.NewReader(f)
	if replayQuiet && !replayRealtime {
		// Nothing is printed per frame; the inbound stream is enough
		if err := s.Run(context.Background(), r.Inbound()); err != nil {
			return err
		}
	} else if err := replayRecords(r, s, &at); err != nil {
		return err
	}

	fmt.Println()
	fmt.Print(s.StatsReport())
	printProbe(s.Telemetry().Snapshot(), s.Stats())
	return nil
}

// replayRecords walks the capture record by record
func replayRecords(r *capture.Reader, s *session.Session, at *time.Time) error {
	var prev time.Time
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		ts := rec.Timestamp()
		if replayRealtime && !prev.IsZero() {
			gap := ts.Sub(prev)
			if gap > replayMaxGap {
				gap = replayMaxGap
			}
			if gap > 0 {
				time.Sleep(gap)
			}
		}
		prev = ts

		switch rec.Direction {
		case capture.In:
			*at = ts
			s.HandleBytes(rec.Data)
		case capture.Out:
			if replayShowOut && !replayQuiet {
				fmt.Printf("[%s] -> % X\n", ts.Format("15:04:05.000"), rec.Data)
			}
		}
	}
}
