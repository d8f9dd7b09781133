// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/gowgos5/wheelstat/internal/session"
	"github.com/gowgos5/wheelstat/pkg/inmotion"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Interactive TUI for monitoring and controlling the wheel",
	Long: `Monitor and control an Inmotion wheel via an interactive terminal UI.

Features:
  - Wheel identification (model, serial, firmware)
  - Real-time telemetry display
  - Settings and toggles (light, lock, mute, fan, ride modes)
  - Value entry for max speed, pedal tilt, volume and brightness
  - Two-stage power off with confirmation
  - Link statistics and event logging
  - Automatic reconnection on connection loss

Arrow keys navigate the control list, Enter activates the selected entry.

Supports both serial and WebSocket connections.`,
	Annotations: map[string]string{annotationTUI: "true"},
	RunE:        runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

// programEvents forwards connection events to the TUI
type programEvents struct {
	p *tea.Program
}

func (e programEvents) connected(connInfo string) { e.p.Send(reconnectedMsg{connInfo: connInfo}) }
func (e programEvents) connectionLost(err error)  { e.p.Send(connectionLostMsg{err: err}) }

func runMonitor(cmd *cobra.Command, args []string) error {
	// Open initial connection (serial or WebSocket)
	dialer := NewDialer(cfg.Link)
	conn, connInfo, err := dialer.Dial()
	if err != nil {
		return err
	}

	st, opts, cleanup, err := sessionOptions()
	if err != nil {
		conn.Close()
		return err
	}
	defer cleanup()

	var p *tea.Program
	opts = append(opts, session.WithMessageHook(func(m inmotion.Message) {
		if ev, ok := describeMessage(m); ok {
			p.Send(ev)
		}
	}))
	sv := newSupervisor(dialer.Dial, cfg, st, opts...)

	// Create TUI program with alt screen
	p = tea.NewProgram(initialMonitorModel(sv, connInfo), tea.WithAltScreen())
	sv.events = programEvents{p: p}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sv.run(ctx, conn, connInfo)
	}()

	_, err = p.Run()
	cancel()
	<-done

	if commitErr := st.Commit(); commitErr != nil && err == nil {
		err = commitErr
	}
	if err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}

// describeMessage picks the messages worth an event log line
func describeMessage(m inmotion.Message) (monitorEventMsg, bool) {
	switch {
	case m.Flag == inmotion.FlagInitial && m.Command == inmotion.CmdDiagnostic:
		return monitorEventMsg{message: "Power off acknowledged"}, true
	case m.Command == inmotion.CmdSettings:
		return monitorEventMsg{message: "Settings received"}, true
	case m.Command == inmotion.CmdDiagnostic:
		d := inmotion.ParseDiagnostic(m.Payload)
		if !d.OK {
			return monitorEventMsg{message: fmt.Sprintf("Wheel fault codes: % X", d.Codes), isError: true}, true
		}
	case m.Command == inmotion.CmdMainInfo && inmotion.MainInfoKind(m.Payload) == inmotion.MainInfoCarType:
		if ct, err := inmotion.ParseCarType(m.Payload); err == nil {
			return monitorEventMsg{message: "Wheel identified: " + ct.Model()}, true
		}
	}
	return monitorEventMsg{}, false
}
