// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package inmotion

import (
	"bytes"
	"testing"
)

func TestBuilders(t *testing.T) {
	tests := []struct {
		name    string
		msg     Message
		flag    Flag
		cmd     Command
		payload []byte
	}{
		{"car type", NewCarTypeRequest(), FlagInitial, CmdMainInfo, []byte{0x01}},
		{"serial", NewSerialNumberRequest(), FlagInitial, CmdMainInfo, []byte{0x02}},
		{"versions", NewVersionsRequest(), FlagInitial, CmdMainInfo, []byte{0x06}},
		{"main version", NewMainVersionRequest(), FlagDefault, CmdMainVersion, []byte{}},
		{"settings", NewSettingsRequest(), FlagDefault, CmdSettings, []byte{0x20}},
		{"useless data", NewUselessDataRequest(), FlagDefault, CmdSomething1, []byte{0x00, 0x01}},
		{"battery", NewBatteryRequest(), FlagDefault, CmdBatteryRealTimeInfo, []byte{}},
		{"diagnostic", NewDiagnosticRequest(), FlagDefault, CmdDiagnostic, []byte{}},
		{"statistics", NewStatisticsRequest(), FlagDefault, CmdTotalStats, []byte{}},
		{"realtime", NewRealTimeRequest(), FlagDefault, CmdRealTimeInfo, []byte{}},
		{"beep", NewPlaySound(SoundBeep), FlagDefault, CmdControl, []byte{0x41, 0x18, 0x01}},
		{"calibration", NewCalibration(), FlagDefault, CmdControl, []byte{0x42, 0x01, 0x00, 0x01}},
		{"light on", NewSetLight(true), FlagDefault, CmdControl, []byte{0x40, 0x01}},
		{"light off", NewSetLight(false), FlagDefault, CmdControl, []byte{0x40, 0x00}},
		{"light brightness", NewSetLightBrightness(80), FlagDefault, CmdControl, []byte{0x2B, 80}},
		{"volume", NewSetVolume(50), FlagDefault, CmdControl, []byte{0x26, 50}},
		{"drl", NewSetDrl(true), FlagDefault, CmdControl, []byte{0x2D, 0x01}},
		{"handle button enabled", NewSetHandleButton(true), FlagDefault, CmdControl, []byte{0x2E, 0x00}},
		{"handle button disabled", NewSetHandleButton(false), FlagDefault, CmdControl, []byte{0x2E, 0x01}},
		{"fan", NewSetFan(true), FlagDefault, CmdControl, []byte{0x43, 0x01}},
		{"quiet fan", NewSetQuietFan(false), FlagDefault, CmdControl, []byte{0x38, 0x00}},
		{"fancier mode", NewSetFancierMode(true), FlagDefault, CmdControl, []byte{0x24, 0x01}},
		{"max speed 45", NewSetMaxSpeed(45), FlagDefault, CmdControl, []byte{0x21, 0x94, 0x11}},
		{"pedal sensivity", NewSetPedalSensivity(70), FlagDefault, CmdControl, []byte{0x25, 70, 0x64}},
		{"classic mode", NewSetClassicMode(true), FlagDefault, CmdControl, []byte{0x23, 0x01}},
		{"go home", NewSetGoHome(true), FlagDefault, CmdControl, []byte{0x37, 0x01}},
		{"transport", NewSetTransportMode(true), FlagDefault, CmdControl, []byte{0x32, 0x01}},
		{"lock", NewSetLock(true), FlagDefault, CmdControl, []byte{0x31, 0x01}},
		{"mute", NewSetMute(true), FlagDefault, CmdControl, []byte{0x2C, 0x00}},
		{"unmute", NewSetMute(false), FlagDefault, CmdControl, []byte{0x2C, 0x01}},
		{"pedal tilt +3", NewSetPedalTilt(3), FlagDefault, CmdControl, []byte{0x22, 0x1E, 0x00}},
		{"pedal tilt -3", NewSetPedalTilt(-3), FlagDefault, CmdControl, []byte{0x22, 0xE2, 0xFF}},
		{"power off first stage", NewPowerOffFirstStage(), FlagInitial, CmdDiagnostic, []byte{0x81, 0x00}},
		{"power off second stage", NewPowerOffSecondStage(), FlagInitial, CmdDiagnostic, []byte{0x82}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.msg.Flag != tt.flag {
				t.Errorf("Flag = %s, want %s", tt.msg.Flag, tt.flag)
			}
			if tt.msg.Command != tt.cmd {
				t.Errorf("Command = %s, want %s", tt.msg.Command, tt.cmd)
			}
			if !bytes.Equal(tt.msg.Payload, tt.payload) {
				t.Errorf("Payload = % X, want % X", tt.msg.Payload, tt.payload)
			}
		})
	}
}

func TestBuilders_Deterministic(t *testing.T) {
	a := MustEncode(NewSetMaxSpeed(30))
	b := MustEncode(NewSetMaxSpeed(30))
	if !bytes.Equal(a, b) {
		t.Errorf("encodings differ: % X vs % X", a, b)
	}
}
