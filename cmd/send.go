// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gowgos5/wheelstat/internal/session"
	"github.com/gowgos5/wheelstat/pkg/inmotion"
)

var (
	sendTimeout int
	sendDryRun  bool
)

var sendCmd = &cobra.Command{
	Use:   "send <frame> [value]",
	Short: "Send a single request or control frame and wait for the reply",
	Long: `Build one named frame, print its wire bytes and send it to the wheel.

Requests (no value):
  car_type, serial, versions, main_version, settings, useless,
  battery, diagnostic, statistics, realtime

Controls take a number or on/off depending on the frame, for example:
  wheelstat send max_speed 30
  wheelstat send light on

The first valid reply is printed. Use --dry-run to print the frame only.
Power-off is not available here; it needs the acknowledged two-stage
sequence that the serve and monitor commands run.

Exit codes:
  0 - Reply received (or --dry-run)
  1 - Timeout reached without a reply
  2 - Connection or argument error`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().IntVar(&sendTimeout, "timeout", 5, "Timeout in seconds to wait for a reply")
	sendCmd.Flags().BoolVar(&sendDryRun, "dry-run", false, "Print the frame without connecting")
}

type frameBuilder func(arg string) (inmotion.Message, error)

func request(fn func() inmotion.Message) frameBuilder {
	return func(string) (inmotion.Message, error) { return fn(), nil }
}

func switched(fn func(bool) inmotion.Message) frameBuilder {
	return func(arg string) (inmotion.Message, error) {
		on, err := parseOnOff(arg)
		if err != nil {
			return inmotion.Message{}, err
		}
		return fn(on), nil
	}
}

func ranged(lo, hi int, fn func(int) inmotion.Message) frameBuilder {
	return func(arg string) (inmotion.Message, error) {
		v, err := strconv.Atoi(arg)
		if err != nil {
			return inmotion.Message{}, fmt.Errorf("expected a number, got %q", arg)
		}
		if v < lo || v > hi {
			return inmotion.Message{}, fmt.Errorf("%w: %d not in [%d, %d]", session.ErrOutOfRange, v, lo, hi)
		}
		return fn(v), nil
	}
}

func percent(fn func(uint8) inmotion.Message) frameBuilder {
	return ranged(0, session.PercentLimit, func(v int) inmotion.Message { return fn(uint8(v)) })
}

var frameBuilders = map[string]frameBuilder{
	"car_type":     request(inmotion.NewCarTypeRequest),
	"serial":       request(inmotion.NewSerialNumberRequest),
	"versions":     request(inmotion.NewVersionsRequest),
	"main_version": request(inmotion.NewMainVersionRequest),
	"settings":     request(inmotion.NewSettingsRequest),
	"useless":      request(inmotion.NewUselessDataRequest),
	"battery":      request(inmotion.NewBatteryRequest),
	"diagnostic":   request(inmotion.NewDiagnosticRequest),
	"statistics":   request(inmotion.NewStatisticsRequest),
	"realtime":     request(inmotion.NewRealTimeRequest),

	"beep":      request(func() inmotion.Message { return inmotion.NewPlaySound(inmotion.SoundBeep) }),
	"calibrate": request(inmotion.NewCalibration),
	"play_sound": ranged(0, session.SoundNumberLast, func(v int) inmotion.Message {
		return inmotion.NewPlaySound(uint8(v))
	}),
	"light_brightness":  percent(inmotion.NewSetLightBrightness),
	"volume":            percent(inmotion.NewSetVolume),
	"pedal_sensitivity": percent(inmotion.NewSetPedalSensivity),
	"max_speed":         ranged(0, session.MaxSpeedLimit, inmotion.NewSetMaxSpeed),
	"pedal_tilt":        ranged(-session.PedalTiltLimit, session.PedalTiltLimit, inmotion.NewSetPedalTilt),
	"light":             switched(inmotion.NewSetLight),
	"drl":               switched(inmotion.NewSetDrl),
	"handle_button":     switched(inmotion.NewSetHandleButton),
	"fan":               switched(inmotion.NewSetFan),
	"quiet_fan":         switched(inmotion.NewSetQuietFan),
	"fancier_mode":      switched(inmotion.NewSetFancierMode),
	"ride_mode":         switched(inmotion.NewSetClassicMode),
	"go_home":           switched(inmotion.NewSetGoHome),
	"transport_mode":    switched(inmotion.NewSetTransportMode),
	"lock":              switched(inmotion.NewSetLock),
	"mute":              switched(inmotion.NewSetMute),
}

func frameNames() []string {
	names := make([]string, 0, len(frameBuilders))
	for name := range frameBuilders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// buildFrame builds the named frame from an optional argument
func buildFrame(name, arg string) (inmotion.Message, error) {
	build, ok := frameBuilders[name]
	if !ok {
		return inmotion.Message{}, fmt.Errorf("%w: %q (known: %s)", session.ErrUnknownOp, name, strings.Join(frameNames(), ", "))
	}
	return build(arg)
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "1", "yes":
		return true, nil
	case "off", "false", "0", "no":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}

func runSend(cmd *cobra.Command, args []string) error {
	arg := ""
	if len(args) > 1 {
		arg = args[1]
	}
	msg, err := buildFrame(args[0], arg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	frame, err := inmotion.Encode(msg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Encode error: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("Frame: %s\n", msg)
	fmt.Printf("Wire:  % X\n", frame)
	if sendDryRun {
		return nil
	}

	// Open connection (serial or WebSocket)
	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Connection: %s\n\n", connInfo)

	// Reader goroutine
	replyChan := make(chan inmotion.Message, 1)
	errChan := make(chan error, 1)
	go func() {
		unpacker := inmotion.NewUnpacker()
		buf := make([]byte, 128)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				errChan <- err
				return
			}
			for _, body := range unpacker.Feed(buf[:n]) {
				// Ignore frames that fail verification, wait for a good one
				if reply, err := inmotion.Verify(body); err == nil {
					replyChan <- reply
					return
				}
			}
		}
	}()

	start := time.Now()
	if _, err := conn.Write(frame); err != nil {
		fmt.Printf("SEND FAILED: %v\n", err)
		os.Exit(2)
	}

	// Wait for reply or timeout
	select {
	case reply := <-replyChan:
		fmt.Printf("Reply after %v:\n", time.Since(start).Round(time.Millisecond))
		fmt.Print(inmotion.FormatMessage(reply, time.Now()))
		os.Exit(0)

	case err := <-errChan:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		os.Exit(2)

	case <-time.After(time.Duration(sendTimeout) * time.Second):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No reply within %d seconds\n", sendTimeout)
		os.Exit(1)
	}

	return nil
}
