// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gowgos5/wheelstat/internal/session"
	"github.com/gowgos5/wheelstat/pkg/inmotion"
)

var rawLogPoll bool

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw frame log in human-readable format",
	Long: `Continuously decode and display Inmotion frames as they arrive.

Each frame is shown with timestamp, flag, command and decoded payload.
Frames that fail verification are reported inline.

By default the link is only observed. With --poll, wheelstat runs the
polling conversation itself so a wheel that only answers requests is logged
as well.

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rawLogCmd.Flags().BoolVar(&rawLogPoll, "poll", false, "Poll the wheel instead of only listening")
	rootCmd.AddCommand(rawLogCmd)
}

func runRawLog(cmd *cobra.Command, args []string) error {
	// Open connection (serial or WebSocket)
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Wheelstat - Raw Frame Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	if rawLogPoll {
		return runRawLogSession(conn)
	}

	unpacker := inmotion.NewUnpacker()
	buf := make([]byte, 128)

	for {
		n, err := conn.Read(buf)
		if err != nil {
			// For WebSocket connections, a read error usually means
			// the connection is permanently closed - exit gracefully
			if errors.Is(err, ErrConnectionClosed) {
				log.Printf("Connection closed")
				return nil
			}
			log.Printf("Read error: %v", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}

		for _, body := range unpacker.Feed(buf[:n]) {
			m, err := inmotion.Verify(body)
			if err != nil {
				fmt.Printf("[ERROR] %v (% X)\n", err, body)
				continue
			}
			fmt.Print(inmotion.FormatMessage(m, time.Now()))
		}
	}
}

// runRawLogSession logs every verified message of an active session
func runRawLogSession(conn Connection) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, opts, cleanup, err := sessionOptions()
	if err != nil {
		return err
	}
	defer cleanup()

	opts = append(opts,
		session.WithLogger(logger),
		session.WithSettings(st),
		session.WithMessageHook(func(m inmotion.Message) {
			fmt.Print(inmotion.FormatMessage(m, time.Now()))
		}))
	s := session.New(conn, sessionConfig(cfg, false), opts...)
	defer s.Close()

	context.AfterFunc(ctx, func() { conn.Close() })
	err = s.Run(ctx, conn)

	fmt.Println()
	fmt.Print(s.StatsReport())
	if ctx.Err() != nil {
		return nil
	}
	return err
}
