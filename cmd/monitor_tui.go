// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/gowgos5/wheelstat/internal/httpapi"
	"github.com/gowgos5/wheelstat/internal/session"
	"github.com/gowgos5/wheelstat/internal/settings"
	"github.com/gowgos5/wheelstat/internal/telemetry"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	monitorRefresh   = 250 * time.Millisecond
	controlListWidth = 30
)

// Focus states
const (
	focusControlList = iota
	focusValueInput
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// errorLogEntry is one line of the event log
type errorLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for info
}

type controlKind int

const (
	controlAction controlKind = iota
	controlToggle
	controlValue
)

// controlSpec describes one entry of the control menu
type controlSpec struct {
	name   string
	op     string
	kind   controlKind
	help   string
	unit   string
	lo, hi int
	on     func(settings.Values, telemetry.Snapshot) bool
	value  func(settings.Values) int
}

var controlSpecs = []controlSpec{
	{name: "Beep", op: "beep", kind: controlAction, help: "Sound the horn (b)"},
	{name: "Headlight", op: "toggle_light", kind: controlToggle,
		on: func(_ settings.Values, t telemetry.Snapshot) bool { return t.LightOn }},
	{name: "Lock", op: "lock", kind: controlToggle,
		on: func(v settings.Values, _ telemetry.Snapshot) bool { return v.LockMode }},
	{name: "Mute", op: "mute", kind: controlToggle,
		on: func(v settings.Values, _ telemetry.Snapshot) bool { return v.SpeakerMute }},
	{name: "DRL", op: "drl", kind: controlToggle,
		on: func(v settings.Values, _ telemetry.Snapshot) bool { return v.Drl }},
	{name: "Fan", op: "fan", kind: controlToggle,
		on: func(v settings.Values, _ telemetry.Snapshot) bool { return v.Fan }},
	{name: "Quiet fan", op: "quiet_fan", kind: controlToggle,
		on: func(v settings.Values, _ telemetry.Snapshot) bool { return v.FanQuiet }},
	{name: "Handle button", op: "handle_button", kind: controlToggle,
		on: func(v settings.Values, _ telemetry.Snapshot) bool { return !v.HandleButtonDisabled }},
	{name: "Transport mode", op: "transport_mode", kind: controlToggle,
		on: func(v settings.Values, _ telemetry.Snapshot) bool { return v.TransportMode }},
	{name: "Go home mode", op: "go_home", kind: controlToggle,
		on: func(v settings.Values, _ telemetry.Snapshot) bool { return v.GoHome }},
	{name: "Fancier mode", op: "fancier_mode", kind: controlToggle,
		on: func(v settings.Values, _ telemetry.Snapshot) bool { return v.FancierMode }},
	{name: "Classic mode", op: "ride_mode", kind: controlToggle,
		on: func(v settings.Values, _ telemetry.Snapshot) bool { return v.RideMode }},
	{name: "Max speed", op: "max_speed", kind: controlValue, unit: " km/h", lo: 0, hi: session.MaxSpeedLimit,
		value: func(v settings.Values) int { return v.MaxSpeed }},
	{name: "Pedal tilt", op: "pedal_tilt", kind: controlValue, unit: " deg", lo: -session.PedalTiltLimit, hi: session.PedalTiltLimit,
		value: func(v settings.Values) int { return v.PedalTilt }},
	{name: "Pedal sensitivity", op: "pedal_sensitivity", kind: controlValue, unit: "%", lo: 0, hi: session.PercentLimit,
		value: func(v settings.Values) int { return v.PedalSensivity }},
	{name: "Volume", op: "volume", kind: controlValue, unit: "%", lo: 0, hi: session.PercentLimit,
		value: func(v settings.Values) int { return v.SpeakerVolume }},
	{name: "Light brightness", op: "light_brightness", kind: controlValue, unit: "%", lo: 0, hi: session.PercentLimit,
		value: func(v settings.Values) int { return v.LightBrightness }},
	{name: "Calibrate", op: "calibrate", kind: controlAction, help: "Balance calibration"},
	{name: "Power off", op: "power_off", kind: controlAction, help: "Switch the wheel off"},
}

// controlItem is a control menu entry with its current state
type controlItem struct {
	spec controlSpec
	desc string
}

// Implement list.Item interface
func (c controlItem) Title() string       { return c.spec.name }
func (c controlItem) Description() string { return c.desc }
func (c controlItem) FilterValue() string { return c.spec.op }

// monitorModel is the Bubble Tea model for the monitor TUI
type monitorModel struct {
	wheel    httpapi.Wheel
	connInfo string

	// Latest state, refreshed on every tick
	snap   telemetry.Snapshot
	values settings.Values
	status session.Status

	// Controls
	controls        list.Model
	valueInput      textinput.Model
	focusedField    int
	editing         controlSpec
	confirmPowerOff bool

	errorLog      []errorLogEntry
	maxLogEntries int

	// UI state
	width          int
	height         int
	quitting       bool
	connectionLost bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type monitorTickMsg time.Time

type monitorEventMsg struct {
	message string
	isError bool
}

type connectionLostMsg struct {
	err error
}

type reconnectedMsg struct {
	connInfo string
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialMonitorModel(wheel httpapi.Wheel, connInfo string) monitorModel {
	ti := textinput.New()
	ti.CharLimit = 4
	ti.Width = 8

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	controls := list.New([]list.Item{}, delegate, controlListWidth-2, 14)
	controls.Title = "Controls"
	controls.SetShowStatusBar(false)
	controls.SetShowHelp(false)
	controls.SetFilteringEnabled(false)

	m := monitorModel{
		wheel:         wheel,
		connInfo:      connInfo,
		controls:      controls,
		valueInput:    ti,
		focusedField:  focusControlList,
		errorLog:      make([]errorLogEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
	m.refresh()
	return m
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m monitorModel) Init() tea.Cmd {
	return monitorTickCmd()
}

func monitorTickCmd() tea.Cmd {
	return tea.Tick(monitorRefresh, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateListSize()

	case monitorTickMsg:
		m.refresh()
		return m, monitorTickCmd()

	case monitorEventMsg:
		m.addLogEntry(msg.message, msg.isError)

	case connectionLostMsg:
		m.connectionLost = true
		m.addLogEntry(fmt.Sprintf("Connection lost: %v - reconnecting...", msg.err), true)

	case reconnectedMsg:
		m.connectionLost = false
		m.connInfo = msg.connInfo
		m.addLogEntry("Connected: "+msg.connInfo, false)
	}

	return m, nil
}

func (m *monitorModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		m.quitting = true
		return *m, tea.Quit
	}

	if m.confirmPowerOff {
		m.confirmPowerOff = false
		if msg.String() == "y" {
			m.runControl("power_off", session.Arg{}, "Power off requested")
		} else {
			m.addLogEntry("Power off cancelled", false)
		}
		return *m, nil
	}

	if m.focusedField == focusValueInput {
		switch msg.String() {
		case "esc":
			m.stopEditing()
			return *m, nil
		case "enter":
			m.submitValue()
			return *m, nil
		}
		var cmd tea.Cmd
		m.valueInput, cmd = m.valueInput.Update(msg)
		return *m, cmd
	}

	switch msg.String() {
	case "q":
		m.quitting = true
		return *m, tea.Quit

	case "b":
		m.runControl("beep", session.Arg{}, "Beep")
		return *m, nil

	case "l":
		m.runControl("toggle_light", session.Arg{}, "Headlight toggled")
		return *m, nil

	case "enter":
		if item, ok := m.controls.SelectedItem().(controlItem); ok {
			m.activate(item.spec)
		}
		return *m, nil
	}

	// Pass navigation to the list
	var cmd tea.Cmd
	m.controls, cmd = m.controls.Update(msg)
	return *m, cmd
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	focusedBoxStyle := boxStyle.
		BorderForeground(lipgloss.Color("12"))

	// Header
	s.WriteString(titleStyle.Render("WHEELSTAT MONITOR"))
	s.WriteString(" ")
	connStatus := m.connInfo
	if m.connectionLost {
		connStatus = warningStyle.Render("RECONNECTING...")
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | q=quit b=beep l=light Enter=select", connStatus)))
	s.WriteString("\n\n")

	// Layout: left panel (controls) | right panel (telemetry)
	rightWidth := m.width - controlListWidth - 6
	if rightWidth < 40 {
		rightWidth = 40
	}
	listStyle := focusedBoxStyle.Width(controlListWidth)
	if m.focusedField != focusControlList {
		listStyle = boxStyle.Width(controlListWidth)
	}
	controlPanel := listStyle.Render(m.controls.View())
	telemetryPanel := boxStyle.Width(rightWidth).Render(m.renderTelemetry(statsLabelStyle, statsValueStyle, warningStyle))
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, controlPanel, " ", telemetryPanel))
	s.WriteString("\n")

	// Prompt line
	switch {
	case m.confirmPowerOff:
		s.WriteString(errorStyle.Render("Power off the wheel? y=confirm, any other key cancels"))
	case m.focusedField == focusValueInput:
		s.WriteString(fmt.Sprintf("%s %s %s",
			statsLabelStyle.Render(m.editing.name+":"),
			m.valueInput.View(),
			headerStyle.Render(fmt.Sprintf("[%d..%d] Enter=set Esc=cancel", m.editing.lo, m.editing.hi))))
	}
	s.WriteString("\n")

	// Statistics bar
	s.WriteString(m.renderStatisticsBar(statsLabelStyle, statsValueStyle, errorStyle, boxStyle))
	s.WriteString("\n")

	// Event log
	s.WriteString(m.renderEventLog(statsLabelStyle, warningStyle, boxStyle))

	return s.String()
}

//////////////////////////////////////////////////////////////
// View Helpers
//////////////////////////////////////////////////////////////

func (m monitorModel) renderTelemetry(statsLabelStyle, statsValueStyle, warningStyle lipgloss.Style) string {
	snap := m.snap
	var s strings.Builder

	row := func(label, value string) {
		s.WriteString(fmt.Sprintf("%s %s\n", statsLabelStyle.Render(fmt.Sprintf("%-10s", label)), statsValueStyle.Render(value)))
	}

	s.WriteString(statsLabelStyle.Render("TELEMETRY"))
	s.WriteString("\n")
	if !snap.Detected {
		s.WriteString(warningStyle.Render("Identifying wheel..."))
		s.WriteString("\n")
	} else {
		row("Model:", fmt.Sprintf("%s  (%s)", snap.Model, snap.Serial))
		if snap.Version != "" {
			row("Firmware:", snap.Version)
		}
	}

	row("Speed:", fmt.Sprintf("%.1f km/h  top %.1f  limit %.0f", snap.Speed, snap.TopSpeed, snap.SpeedLimit))
	row("Battery:", fmt.Sprintf("%.2f V  %d%%", snap.Voltage, snap.BatteryPercent))
	row("Current:", fmt.Sprintf("%.2f A  %d W", snap.Current, snap.Power))
	row("Temps:", fmt.Sprintf("%.0fC / %.0fC  cpu %dC  imu %dC", snap.Temperature, snap.Temperature2, snap.CPUTemp, snap.IMUTemp))
	row("Angle:", fmt.Sprintf("pitch %.1f  roll %.1f", snap.Angle, snap.Roll))
	row("Distance:", fmt.Sprintf("%.2f km trip  %.1f km total", float64(snap.WheelDistance)/1000, float64(snap.TotalDistance)/1000))
	row("Ride time:", formatDuration(snap.RideTime))
	if snap.Mode != "" {
		row("Mode:", snap.Mode)
	}
	row("Light:", onOff(snap.LightOn))
	if len(snap.FaultCodes) > 0 {
		row("Faults:", fmt.Sprintf("% X", snap.FaultCodes))
	}
	row("Session:", fmt.Sprintf("%s  power-off %s", m.status.Stage, m.status.PowerOff))

	return s.String()
}

func (m monitorModel) renderStatisticsBar(statsLabelStyle, statsValueStyle, errorStyle, boxStyle lipgloss.Style) string {
	st := m.status.Stats
	var validPercent, errorPercent float64
	if st.TotalFrames > 0 {
		validPercent = float64(st.ValidFrames) * 100.0 / float64(st.TotalFrames)
		errorPercent = float64(st.ChecksumErrors+st.MalformedFrames) * 100.0 / float64(st.TotalFrames)
	}

	content := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s  %s %s",
		statsLabelStyle.Render("Total:"), statsValueStyle.Render(fmt.Sprintf("%d", st.TotalFrames)),
		statsLabelStyle.Render("Valid:"), statsValueStyle.Render(fmt.Sprintf("%.1f%%", validPercent)),
		statsLabelStyle.Render("Errors:"), func() string {
			if errorPercent > 0 {
				return errorStyle.Render(fmt.Sprintf("%.1f%%", errorPercent))
			}
			return statsValueStyle.Render("0.0%")
		}(),
		statsLabelStyle.Render("Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f fr/s", st.FrameRate)),
		statsLabelStyle.Render("Skipped:"), statsValueStyle.Render(fmt.Sprintf("%d B", st.SkippedBytes)),
	)

	return boxStyle.Width(m.width - 4).Render(content)
}

func (m monitorModel) renderEventLog(statsLabelStyle, warningStyle, boxStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(statsLabelStyle.Render("EVENTS"))
	s.WriteString("\n")

	headerStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyleLocal := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)

	logHeight := 6
	if len(m.errorLog) < logHeight {
		logHeight = len(m.errorLog)
	}
	startIdx := len(m.errorLog) - logHeight

	if len(m.errorLog) == 0 {
		s.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.errorLog); i++ {
			entry := m.errorLog[i]
			timestamp := entry.timestamp.Format("15:04:05.000")
			icon := "i"
			style := warningStyle
			if entry.isError {
				icon = "x"
				style = errorStyleLocal
			}
			s.WriteString(fmt.Sprintf("%s %s %s\n",
				headerStyle.Render(timestamp),
				style.Render(icon),
				entry.message))
		}
	}

	return boxStyle.Width(m.width - 4).Render(s.String())
}

//////////////////////////////////////////////////////////////
// Commands
//////////////////////////////////////////////////////////////

// activate runs the selected control menu entry
func (m *monitorModel) activate(spec controlSpec) {
	switch spec.kind {
	case controlAction:
		if spec.op == "power_off" {
			m.confirmPowerOff = true
			return
		}
		m.runControl(spec.op, session.Arg{}, spec.name)

	case controlToggle:
		on := !spec.on(m.values, m.snap)
		m.runControl(spec.op, session.Arg{On: on}, fmt.Sprintf("%s %s", spec.name, onOff(on)))

	case controlValue:
		m.editing = spec
		m.focusedField = focusValueInput
		m.valueInput.SetValue("")
		m.valueInput.Placeholder = strconv.Itoa(spec.value(m.values))
		m.valueInput.Focus()
	}
}

func (m *monitorModel) submitValue() {
	spec := m.editing
	str := m.valueInput.Value()
	if str == "" {
		str = m.valueInput.Placeholder
	}
	m.stopEditing()

	v, err := strconv.Atoi(strings.TrimSpace(str))
	if err != nil {
		m.addLogEntry(fmt.Sprintf("Invalid %s value: %s", strings.ToLower(spec.name), str), true)
		return
	}
	m.runControl(spec.op, session.Arg{Value: v}, fmt.Sprintf("%s set to %d%s", spec.name, v, spec.unit))
}

func (m *monitorModel) stopEditing() {
	m.focusedField = focusControlList
	m.valueInput.Blur()
}

// runControl forwards a control to the wheel and logs the outcome
func (m *monitorModel) runControl(op string, arg session.Arg, done string) {
	if err := m.wheel.Control(op, arg); err != nil {
		m.addLogEntry(fmt.Sprintf("%s failed: %v", op, err), true)
		return
	}
	m.addLogEntry(done, false)
}

//////////////////////////////////////////////////////////////
// Helpers
//////////////////////////////////////////////////////////////

// refresh copies the wheel state and updates the control descriptions
func (m *monitorModel) refresh() {
	m.snap = m.wheel.Telemetry().Snapshot()
	m.values = m.wheel.Settings().Values()
	m.status = m.wheel.Status()

	items := make([]list.Item, len(controlSpecs))
	for i, spec := range controlSpecs {
		items[i] = controlItem{spec: spec, desc: m.describe(spec)}
	}
	m.controls.SetItems(items)
}

func (m monitorModel) describe(spec controlSpec) string {
	switch spec.kind {
	case controlToggle:
		return onOff(spec.on(m.values, m.snap))
	case controlValue:
		return fmt.Sprintf("%d%s", spec.value(m.values), spec.unit)
	default:
		return spec.help
	}
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	entry := errorLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.errorLog = append(m.errorLog, entry)

	if len(m.errorLog) > m.maxLogEntries {
		m.errorLog = m.errorLog[len(m.errorLog)-m.maxLogEntries:]
	}
}

func (m *monitorModel) updateListSize() {
	// Adjust list size based on terminal size
	listHeight := m.height - 16
	if listHeight < 6 {
		listHeight = 6
	}
	m.controls.SetSize(controlListWidth-2, listHeight)
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

// formatDuration formats a duration as "1h 02m 03s"
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	hours := int(d / time.Hour)
	minutes := int(d/time.Minute) % 60
	seconds := int(d/time.Second) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %02dm %02ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %02ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
