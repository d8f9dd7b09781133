// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package inmotion

import (
	"fmt"
	"strings"
	"time"
)

// FormatMessage formats a message into a human-readable string
func FormatMessage(m Message, timestamp time.Time) string {
	result := fmt.Sprintf("[%s] %s/%s (0x%02X) len=%d\n",
		timestamp.Format("15:04:05.000"), m.Flag, m.Command, uint8(m.Command), m.Length())
	result += FormatPayload(m)
	return result
}

// FormatPayload formats the decoded payload of a message, falling back to
// a hex dump for requests and unparsed responses.
func FormatPayload(m Message) string {
	switch {
	case m.Flag == FlagInitial && m.Command == CmdMainInfo:
		return formatMainInfo(m.Payload)
	case m.Flag == FlagDefault && m.Command == CmdSettings:
		s, err := ParseSettings(m.Payload)
		if err != nil {
			return formatError(err, m.Payload)
		}
		return FormatSettings(s)
	case m.Flag == FlagDefault && m.Command == CmdRealTimeInfo:
		rt, err := ParseRealTime(m.Payload)
		if err != nil {
			return formatError(err, m.Payload)
		}
		return FormatRealTime(rt)
	case m.Flag == FlagDefault && m.Command == CmdBatteryRealTimeInfo:
		b, err := ParseBattery(m.Payload)
		if err != nil {
			return formatError(err, m.Payload)
		}
		var sb strings.Builder
		for i, p := range b.Packs {
			fmt.Fprintf(&sb, "  Battery %d: %.2fV temp=%dC valid=%v enabled=%v\n",
				i+1, float64(p.Voltage)/100, p.Temp, p.Valid, p.Enabled)
		}
		fmt.Fprintf(&sb, "  Charge: %.2fV %.2fA\n", float64(b.ChargeVoltage)/100, float64(b.ChargeCurrent)/100)
		return sb.String()
	case m.Flag == FlagDefault && m.Command == CmdTotalStats:
		s, err := ParseTotalStats(m.Payload)
		if err != nil {
			return formatError(err, m.Payload)
		}
		return fmt.Sprintf("  Total: %.1f km, ride %s, powered %s\n",
			float64(s.TotalDistanceMeters())/1000, s.RideTime(), s.PowerOnTime())
	case m.Command == CmdDiagnostic && m.Flag == FlagDefault:
		d := ParseDiagnostic(m.Payload)
		if d.OK {
			return "  Diagnostic: OK\n"
		}
		return fmt.Sprintf("  Diagnostic: FAULT % X\n", d.Codes)
	}

	if len(m.Payload) == 0 {
		return ""
	}
	return fmt.Sprintf("  Payload: % X\n", m.Payload)
}

// FormatRealTime formats a live telemetry frame
func FormatRealTime(rt RealTime) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "  Speed: %.2f km/h  Voltage: %.2f V  Current: %.2f A  Battery: %d%%\n",
		float64(rt.Speed)/100, float64(rt.Voltage)/100, float64(rt.Current)/100, rt.BatteryLevel)
	fmt.Fprintf(&sb, "  Power: %d W (motor %d W)  Torque: %.2f\n",
		rt.BatteryPower, rt.MotorPower, float64(rt.Torque)/100)
	fmt.Fprintf(&sb, "  Pitch: %.2f  Roll: %.2f  Mileage: %d m\n",
		float64(rt.PitchAngle)/100, float64(rt.RollAngle)/100, rt.Mileage)
	fmt.Fprintf(&sb, "  Temps: mos=%dC motor=%dC board=%dC cpu=%dC imu=%dC\n",
		rt.MosTemp, rt.MotorTemp, rt.BoardTemp, rt.CPUTemp, rt.IMUTemp)
	if mode := rt.Mode(); mode != "" {
		fmt.Fprintf(&sb, "  Mode: %s\n", mode)
	}
	return sb.String()
}

// FormatSettings formats a settings snapshot
func FormatSettings(s Settings) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "  Max speed: %d km/h  Pedal tilt: %d  Sensitivity: %d  Volume: %d\n",
		s.MaxSpeed(), s.PedalTilt(), s.ComfortSensivity, s.Volume)
	fmt.Fprintf(&sb, "  Light brightness: %d  Mute: %v  DRL: %v  Lock: %v  Transport: %v\n",
		s.LightBrightness, s.Mute(), s.Drl(), s.Lock(), s.TransportMode())
	fmt.Fprintf(&sb, "  Fan quiet: %v  Go home: %v  Fancier: %v  Classic: %v\n",
		s.FanQuiet(), s.GoHome(), s.FancierMode(), s.ClassicMode())
	return sb.String()
}

func formatMainInfo(p []byte) string {
	switch MainInfoKind(p) {
	case MainInfoCarType:
		ct, err := ParseCarType(p)
		if err != nil {
			return formatError(err, p)
		}
		return fmt.Sprintf("  Car type: %s %s\n", ct.Model(), ct.Version())
	case MainInfoSerial:
		serial, err := ParseSerial(p)
		if err != nil {
			return formatError(err, p)
		}
		return fmt.Sprintf("  Serial: %s\n", serial)
	case MainInfoVersions:
		return fmt.Sprintf("  Versions: % X\n", p[1:])
	}
	if len(p) == 0 {
		return ""
	}
	return fmt.Sprintf("  Payload: % X\n", p)
}

func formatError(err error, p []byte) string {
	return fmt.Sprintf("  ERROR: %v\n  Payload: % X\n", err, p)
}
