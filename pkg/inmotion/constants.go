// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package inmotion implements the Inmotion V2 serial protocol spoken by
// self-balancing wheels over their Bluetooth serial link.
//
// A frame on the wire is two sync bytes followed by the byte-stuffed
// flag, length, command and payload, and a trailing XOR checksum that is
// never stuffed. This package provides frame encoding, checksum
// verification, an incremental stream unpacker, command builders and
// payload parsers. It performs no I/O and never logs.
package inmotion

import "fmt"

// Protocol framing bytes
const (
	SyncByte   = 0xAA
	EscapeByte = 0xA5
)

// Frame size limits
const (
	MaxPayloadSize = 250
	// MinFrameBody is flag + length + command + checksum
	MinFrameBody = 4
	// headerSize is the two sync bytes plus flag and length
	headerSize = 4
)

// Flag selects the parser family of a message.
type Flag uint8

// Flag values
const (
	FlagNone    Flag = 0x00
	FlagInitial Flag = 0x11
	FlagDefault Flag = 0x14
)

func (f Flag) String() string {
	switch f {
	case FlagNone:
		return "NONE"
	case FlagInitial:
		return "INITIAL"
	case FlagDefault:
		return "DEFAULT"
	default:
		return fmt.Sprintf("FLAG(0x%02X)", uint8(f))
	}
}

// Command identifies a request or response. Only the low 7 bits are
// significant on the wire.
type Command uint8

// Command values
const (
	CmdNoOp                Command = 0x00
	CmdMainVersion         Command = 0x01
	CmdMainInfo            Command = 0x02
	CmdDiagnostic          Command = 0x03
	CmdRealTimeInfo        Command = 0x04
	CmdBatteryRealTimeInfo Command = 0x05
	CmdSomething1          Command = 0x10
	CmdTotalStats          Command = 0x11
	CmdSettings            Command = 0x20
	CmdControl             Command = 0x60
)

// CommandMask strips the reserved top bit from a received command byte.
const CommandMask = 0x7F

// Known reports whether c is part of the documented command set.
func (c Command) Known() bool {
	switch c {
	case CmdNoOp, CmdMainVersion, CmdMainInfo, CmdDiagnostic, CmdRealTimeInfo,
		CmdBatteryRealTimeInfo, CmdSomething1, CmdTotalStats, CmdSettings, CmdControl:
		return true
	}
	return false
}

func (c Command) String() string {
	switch c {
	case CmdNoOp:
		return "NOOP"
	case CmdMainVersion:
		return "MAIN_VERSION"
	case CmdMainInfo:
		return "MAIN_INFO"
	case CmdDiagnostic:
		return "DIAGNOSTIC"
	case CmdRealTimeInfo:
		return "REALTIME_INFO"
	case CmdBatteryRealTimeInfo:
		return "BATTERY_REALTIME_INFO"
	case CmdSomething1:
		return "SOMETHING1"
	case CmdTotalStats:
		return "TOTAL_STATS"
	case CmdSettings:
		return "SETTINGS"
	case CmdControl:
		return "CONTROL"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", uint8(c))
	}
}

// MainInfo sub-types, carried in the first payload byte
const (
	MainInfoCarType  = 0x01
	MainInfoSerial   = 0x02
	MainInfoVersions = 0x06
)

// Control opcodes, carried in the first payload byte of Default/Control
const (
	CtlMaxSpeed        = 0x21
	CtlPedalTilt       = 0x22
	CtlClassicMode     = 0x23
	CtlFancierMode     = 0x24
	CtlPedalSensivity  = 0x25
	CtlVolume          = 0x26
	CtlLightBrightness = 0x2B
	CtlMute            = 0x2C
	CtlDrl             = 0x2D
	CtlHandleButton    = 0x2E
	CtlLock            = 0x31
	CtlTransportMode   = 0x32
	CtlGoHome          = 0x37
	CtlQuietFan        = 0x38
	CtlLight           = 0x40
	CtlPlaySound       = 0x41
	CtlCalibration     = 0x42
	CtlFan             = 0x43
)

// Power-off opcodes, carried under Initial/Diagnostic
const (
	PowerOffFirstStage  = 0x81
	PowerOffSecondStage = 0x82
)

// SoundBeep is the sound number used for the horn/beep request.
const SoundBeep = 0x18
