// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package inmotion

// Command builder functions create Message values ready for encoding.
// Every builder is deterministic and has no side effects.

// NewCarTypeRequest asks for main series, series, type and hardware revision.
func NewCarTypeRequest() Message {
	return NewMessage(FlagInitial, CmdMainInfo, MainInfoCarType)
}

// NewSerialNumberRequest asks for the 16 character serial number.
func NewSerialNumberRequest() Message {
	return NewMessage(FlagInitial, CmdMainInfo, MainInfoSerial)
}

// NewVersionsRequest asks for firmware versions.
func NewVersionsRequest() Message {
	return NewMessage(FlagInitial, CmdMainInfo, MainInfoVersions)
}

// NewMainVersionRequest asks for the main board version.
func NewMainVersionRequest() Message {
	return NewMessage(FlagDefault, CmdMainVersion)
}

// NewSettingsRequest asks for a full settings snapshot.
func NewSettingsRequest() Message {
	return NewMessage(FlagDefault, CmdSettings, 0x20)
}

// NewUselessDataRequest is the keep-alive filler request sent once after
// the settings read.
func NewUselessDataRequest() Message {
	return NewMessage(FlagDefault, CmdSomething1, 0x00, 0x01)
}

// NewBatteryRequest asks for the dual battery snapshot.
func NewBatteryRequest() Message {
	return NewMessage(FlagDefault, CmdBatteryRealTimeInfo)
}

// NewDiagnosticRequest asks for the diagnostic detail.
func NewDiagnosticRequest() Message {
	return NewMessage(FlagDefault, CmdDiagnostic)
}

// NewStatisticsRequest asks for cumulative odometer and time counters.
func NewStatisticsRequest() Message {
	return NewMessage(FlagDefault, CmdTotalStats)
}

// NewRealTimeRequest asks for live telemetry.
func NewRealTimeRequest() Message {
	return NewMessage(FlagDefault, CmdRealTimeInfo)
}

// NewPlaySound plays a stored sound by number. Use SoundBeep for the horn.
func NewPlaySound(number uint8) Message {
	return control(CtlPlaySound, number, 0x01)
}

// NewCalibration triggers the pedal calibration routine.
func NewCalibration() Message {
	return control(CtlCalibration, 0x01, 0x00, 0x01)
}

// NewSetLight switches the headlight.
func NewSetLight(on bool) Message {
	return control(CtlLight, boolByte(on))
}

// NewSetLightBrightness sets headlight brightness (0-100).
func NewSetLightBrightness(brightness uint8) Message {
	return control(CtlLightBrightness, brightness)
}

// NewSetVolume sets speaker volume (0-100).
func NewSetVolume(volume uint8) Message {
	return control(CtlVolume, volume)
}

// NewSetDrl switches the daytime running (decor) light.
func NewSetDrl(on bool) Message {
	return control(CtlDrl, boolByte(on))
}

// NewSetHandleButton enables the handle lift button.
// The wheel stores the inverse ("button disabled").
func NewSetHandleButton(on bool) Message {
	return control(CtlHandleButton, boolByte(!on))
}

// NewSetFan switches the cooling fan.
func NewSetFan(on bool) Message {
	return control(CtlFan, boolByte(on))
}

// NewSetQuietFan switches the fan quiet mode.
func NewSetQuietFan(on bool) Message {
	return control(CtlQuietFan, boolByte(on))
}

// NewSetFancierMode switches the fancier ride mode.
func NewSetFancierMode(on bool) Message {
	return control(CtlFancierMode, boolByte(on))
}

// NewSetMaxSpeed sets the speed limit in km/h.
// Encoded as km/h * 100, low byte first.
func NewSetMaxSpeed(kmh int) Message {
	lo, hi := le16(kmh * 100)
	return control(CtlMaxSpeed, lo, hi)
}

// NewSetPedalSensivity sets comfort pedal sensitivity (0-100).
func NewSetPedalSensivity(sensivity uint8) Message {
	return control(CtlPedalSensivity, sensivity, 0x64)
}

// NewSetClassicMode switches between classic and comfort ride mode.
func NewSetClassicMode(on bool) Message {
	return control(CtlClassicMode, boolByte(on))
}

// NewSetGoHome switches go-home (low battery) mode.
func NewSetGoHome(on bool) Message {
	return control(CtlGoHome, boolByte(on))
}

// NewSetTransportMode switches transport mode.
func NewSetTransportMode(on bool) Message {
	return control(CtlTransportMode, boolByte(on))
}

// NewSetLock locks or unlocks the wheel.
func NewSetLock(on bool) Message {
	return control(CtlLock, boolByte(on))
}

// NewSetMute mutes the speaker.
// The wheel stores the inverse ("sound enabled").
func NewSetMute(on bool) Message {
	return control(CtlMute, boolByte(!on))
}

// NewSetPedalTilt sets the pedal tilt offset in degrees.
// Encoded as degrees * 10, low byte first. Negative angles use two's
// complement.
func NewSetPedalTilt(degrees int) Message {
	lo, hi := le16(degrees * 10)
	return control(CtlPedalTilt, lo, hi)
}

// NewPowerOffFirstStage starts the two-stage power-off. The wheel answers
// with an Initial/Diagnostic frame, after which NewPowerOffSecondStage must
// be sent.
func NewPowerOffFirstStage() Message {
	return NewMessage(FlagInitial, CmdDiagnostic, PowerOffFirstStage, 0x00)
}

// NewPowerOffSecondStage completes the power-off.
func NewPowerOffSecondStage() Message {
	return NewMessage(FlagInitial, CmdDiagnostic, PowerOffSecondStage)
}

func control(payload ...byte) Message {
	return NewMessage(FlagDefault, CmdControl, payload...)
}

func boolByte(b bool) byte {
	if b {
		return 0x01
	}
	return 0x00
}

func le16(v int) (lo, hi byte) {
	u := uint16(int16(v))
	return byte(u), byte(u >> 8)
}
