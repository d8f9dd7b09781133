// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package inmotion

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

// Minimum payload lengths per response
const (
	MinCarTypePayload  = 7
	MinSerialPayload   = 17
	MinSettingsPayload = 25
	MinRealTimePayload = 38
	MinBatteryPayload  = 20
	MinStatsPayload    = 20
)

// CarType identifies the wheel model and hardware revision.
type CarType struct {
	MainSeries uint8
	Series     uint8
	Type       uint8
	Batch      uint8
	Feature    uint8
	Reverse    uint8
}

// Model returns a human-readable model name. The V11 is the only wheel
// known to speak this protocol, so every car type reports as one; the raw
// series bytes stay available on CarType.
func (c CarType) Model() string {
	return "Inmotion V11"
}

// Version returns the hardware revision string.
func (c CarType) Version() string {
	return fmt.Sprintf("rev: %d.%d", c.Batch, c.Feature)
}

// Settings is a full settings snapshot as reported by the wheel.
// All offsets are relative to the first payload byte, which is a sub-type.
type Settings struct {
	SpeedLimit       uint16 // km/h * 100
	PitchAngleZero   int16  // degrees * 10
	DriveMode        uint8
	RideMode         uint8
	ComfortSensivity uint8
	ClassicSensivity uint8
	Volume           uint8
	AudioID          uint32
	StandbyTime      uint16
	DecorLightMode   uint8
	AutoLightLow     uint8
	AutoLightHigh    uint8
	LightBrightness  uint8

	// 2-bit state fields
	AudioState        uint8
	DecorState        uint8
	LiftedState       uint8
	AutoLightState    uint8
	AutoLightBrState  uint8
	LockState         uint8
	TransportState    uint8
	LoadDetectState   uint8
	NoLoadDetectState uint8
	LowBatState       uint8
	FanQuietState     uint8
	FanState          uint8
}

// MaxSpeed returns the speed limit in whole km/h.
func (s Settings) MaxSpeed() int { return int(s.SpeedLimit) / 100 }

// PedalTilt returns the pedal tilt offset in whole degrees.
func (s Settings) PedalTilt() int { return int(s.PitchAngleZero) / 10 }

func (s Settings) Mute() bool                 { return s.AudioState == 0 }
func (s Settings) Drl() bool                  { return s.DecorState != 0 }
func (s Settings) HandleButtonDisabled() bool { return s.LiftedState == 0 }
func (s Settings) Lock() bool                 { return s.LockState != 0 }
func (s Settings) TransportMode() bool        { return s.TransportState != 0 }
func (s Settings) FanQuiet() bool             { return s.FanQuietState != 0 }
func (s Settings) Fan() bool                  { return s.FanState != 0 }
func (s Settings) GoHome() bool               { return s.LowBatState != 0 }
func (s Settings) FancierMode() bool          { return s.RideMode != 0 }
func (s Settings) ClassicMode() bool          { return s.DriveMode != 0 }

// RealTime is a live telemetry frame.
type RealTime struct {
	Voltage             uint16 // V * 100
	Current             int16  // A * 100
	Speed               int16  // km/h * 100
	Torque              int16  // Nm * 100
	BatteryPower        int16  // W
	MotorPower          int16  // W
	Mileage             uint32 // meters
	RemainingMileage    uint32 // meters
	BatteryLevel        uint8  // percent
	BatteryMode         uint8
	MosTemp             int // C
	MotorTemp           int
	BatteryTemp         int
	BoardTemp           int
	LampTemp            int
	PitchAngle          int16 // degrees * 100
	PitchAimAngle       int16
	RollAngle           int16
	DynamicSpeedLimit   uint16 // km/h * 100
	DynamicCurrentLimit uint16 // A * 100
	Brightness          uint8
	LightBrightness     uint8
	CPUTemp             int
	IMUTemp             int

	PCMode      uint8 // lock, drive, shutdown, idle
	MCMode      uint8
	MotorActive bool
	Charging    bool
	Light       bool
	DecorLight  bool
	Lifted      bool
	TailLight   uint8
	Fan         bool
}

// Mode returns the ride state description, e.g. "Active Lifted".
func (r RealTime) Mode() string {
	var parts []string
	if r.MotorActive {
		parts = append(parts, "Active")
	}
	if r.Charging {
		parts = append(parts, "Charging")
	}
	if r.Lifted {
		parts = append(parts, "Lifted")
	}
	return strings.Join(parts, " ")
}

// BatteryPack is the state of one battery pack.
type BatteryPack struct {
	Voltage     uint16 // V * 100
	Temp        int8   // C
	Valid       bool
	Enabled     bool
	WorkStatus1 bool
	WorkStatus2 bool
}

// Battery is the dual battery snapshot.
type Battery struct {
	Packs         [2]BatteryPack
	ChargeVoltage uint16
	ChargeCurrent uint16
}

// TotalStats are the wheel's cumulative counters.
type TotalStats struct {
	TotalDistance  uint32 // units of 10 m
	Dissipation    uint32
	Recovery       uint32
	RideSeconds    uint32
	PowerOnSeconds uint32
}

// TotalDistanceMeters returns the odometer in meters.
func (s TotalStats) TotalDistanceMeters() uint64 { return uint64(s.TotalDistance) * 10 }

// RideTime returns the cumulative ride time.
func (s TotalStats) RideTime() time.Duration {
	return time.Duration(s.RideSeconds) * time.Second
}

// PowerOnTime returns the cumulative power-on time.
func (s TotalStats) PowerOnTime() time.Duration {
	return time.Duration(s.PowerOnSeconds) * time.Second
}

// Diagnostic is the result of a diagnostic response.
type Diagnostic struct {
	OK    bool
	Codes []byte
}

// MainInfoKind returns the MainInfo sub-type of p, or 0 for an empty payload.
func MainInfoKind(p []byte) byte {
	if len(p) == 0 {
		return 0
	}
	return p[0]
}

// ParseCarType decodes a MainInfo car type payload.
func ParseCarType(p []byte) (CarType, error) {
	if err := need(p, MinCarTypePayload, "car type"); err != nil {
		return CarType{}, err
	}
	return CarType{
		MainSeries: p[1],
		Series:     p[2],
		Type:       p[3],
		Batch:      p[4],
		Feature:    p[5],
		Reverse:    p[6],
	}, nil
}

// ParseSerial decodes a MainInfo serial number payload.
func ParseSerial(p []byte) (string, error) {
	if err := need(p, MinSerialPayload, "serial"); err != nil {
		return "", err
	}
	return strings.TrimRight(string(p[1:17]), "\x00 "), nil
}

// ParseSettings decodes a settings snapshot.
func ParseSettings(p []byte) (Settings, error) {
	if err := need(p, MinSettingsPayload, "settings"); err != nil {
		return Settings{}, err
	}
	d := p[1:]
	return Settings{
		SpeedLimit:       binary.LittleEndian.Uint16(d[0:]),
		PitchAngleZero:   int16(binary.LittleEndian.Uint16(d[2:])),
		DriveMode:        d[4] & 0x0F,
		RideMode:         d[4] >> 4,
		ComfortSensivity: d[5],
		ClassicSensivity: d[6],
		Volume:           d[7],
		AudioID:          binary.LittleEndian.Uint32(d[8:]),
		StandbyTime:      binary.LittleEndian.Uint16(d[12:]),
		DecorLightMode:   d[14],
		AutoLightLow:     d[15],
		AutoLightHigh:    d[16],
		LightBrightness:  d[17],

		AudioState:        bits2(d[20], 0),
		DecorState:        bits2(d[20], 2),
		LiftedState:       bits2(d[20], 4),
		AutoLightState:    bits2(d[20], 6),
		AutoLightBrState:  bits2(d[21], 0),
		LockState:         bits2(d[21], 2),
		TransportState:    bits2(d[21], 4),
		LoadDetectState:   bits2(d[21], 6),
		NoLoadDetectState: bits2(d[22], 0),
		LowBatState:       bits2(d[22], 2),
		FanQuietState:     bits2(d[22], 4),
		FanState:          bits2(d[22], 6),
	}, nil
}

// ParseRealTime decodes a live telemetry payload.
func ParseRealTime(p []byte) (RealTime, error) {
	if err := need(p, MinRealTimePayload, "realtime"); err != nil {
		return RealTime{}, err
	}
	return RealTime{
		Voltage:             binary.LittleEndian.Uint16(p[0:]),
		Current:             s16(p, 2),
		Speed:               s16(p, 4),
		Torque:              s16(p, 6),
		BatteryPower:        s16(p, 8),
		MotorPower:          s16(p, 10),
		Mileage:             uint32(binary.LittleEndian.Uint16(p[12:])) * 10,
		RemainingMileage:    uint32(binary.LittleEndian.Uint16(p[14:])) * 10,
		BatteryLevel:        p[16] & 0x7F,
		BatteryMode:         p[16] >> 7,
		MosTemp:             temp(p[17]),
		MotorTemp:           temp(p[18]),
		BatteryTemp:         temp(p[19]),
		BoardTemp:           temp(p[20]),
		LampTemp:            temp(p[21]),
		PitchAngle:          s16(p, 22),
		PitchAimAngle:       s16(p, 24),
		RollAngle:           s16(p, 26),
		DynamicSpeedLimit:   binary.LittleEndian.Uint16(p[28:]),
		DynamicCurrentLimit: binary.LittleEndian.Uint16(p[30:]),
		Brightness:          p[32],
		LightBrightness:     p[33],
		CPUTemp:             temp(p[34]),
		IMUTemp:             temp(p[35]),

		PCMode:      p[36] & 0x07,
		MCMode:      (p[36] >> 3) & 0x07,
		MotorActive: p[36]&0x40 != 0,
		Charging:    p[36]&0x80 != 0,
		Light:       p[37]&0x01 != 0,
		DecorLight:  p[37]&0x02 != 0,
		Lifted:      p[37]&0x04 != 0,
		TailLight:   (p[37] >> 3) & 0x03,
		Fan:         p[37]&0x20 != 0,
	}, nil
}

// ParseBattery decodes the dual battery snapshot.
func ParseBattery(p []byte) (Battery, error) {
	if err := need(p, MinBatteryPayload, "battery"); err != nil {
		return Battery{}, err
	}
	var b Battery
	for i := range b.Packs {
		off := i * 8
		b.Packs[i] = BatteryPack{
			Voltage:     binary.LittleEndian.Uint16(p[off:]),
			Temp:        int8(p[off+4]),
			Valid:       p[off+5]&0x01 != 0,
			Enabled:     p[off+5]&0x02 != 0,
			WorkStatus1: p[off+6]&0x01 != 0,
			WorkStatus2: p[off+6]&0x02 != 0,
		}
	}
	b.ChargeVoltage = binary.LittleEndian.Uint16(p[16:])
	b.ChargeCurrent = binary.LittleEndian.Uint16(p[18:])
	return b, nil
}

// ParseTotalStats decodes the cumulative counters.
func ParseTotalStats(p []byte) (TotalStats, error) {
	if err := need(p, MinStatsPayload, "total stats"); err != nil {
		return TotalStats{}, err
	}
	return TotalStats{
		TotalDistance:  binary.LittleEndian.Uint32(p[0:]),
		Dissipation:    binary.LittleEndian.Uint32(p[4:]),
		Recovery:       binary.LittleEndian.Uint32(p[8:]),
		RideSeconds:    binary.LittleEndian.Uint32(p[12:]),
		PowerOnSeconds: binary.LittleEndian.Uint32(p[16:]),
	}, nil
}

// ParseDiagnostic decodes a diagnostic payload. Short payloads and all-zero
// payloads are healthy. It never fails.
func ParseDiagnostic(p []byte) Diagnostic {
	d := Diagnostic{OK: true, Codes: append([]byte(nil), p...)}
	if len(p) <= 7 {
		return d
	}
	for _, c := range p {
		if c != 0 {
			d.OK = false
			break
		}
	}
	return d
}

func need(p []byte, n int, what string) error {
	if len(p) < n {
		return fmt.Errorf("%w: %s needs %d bytes, got %d", ErrShortPayload, what, n, len(p))
	}
	return nil
}

func s16(p []byte, off int) int16 {
	return int16(binary.LittleEndian.Uint16(p[off:]))
}

// temp converts an offset-encoded temperature byte to Celsius
func temp(b byte) int {
	return int(b) + 80 - 256
}

func bits2(b byte, shift uint) uint8 {
	return (b >> shift) & 0x03
}
