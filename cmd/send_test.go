// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gowgos5/wheelstat/internal/session"
	"github.com/gowgos5/wheelstat/pkg/inmotion"
)

func TestBuildFrame(t *testing.T) {
	tests := []struct {
		name string
		arg  string
		want inmotion.Message
	}{
		{"car_type", "", inmotion.NewCarTypeRequest()},
		{"realtime", "", inmotion.NewRealTimeRequest()},
		{"beep", "", inmotion.NewPlaySound(inmotion.SoundBeep)},
		{"max_speed", "30", inmotion.NewSetMaxSpeed(30)},
		{"pedal_tilt", "-4", inmotion.NewSetPedalTilt(-4)},
		{"volume", "100", inmotion.NewSetVolume(100)},
		{"light", "on", inmotion.NewSetLight(true)},
		{"mute", "off", inmotion.NewSetMute(false)},
		{"lock", "YES", inmotion.NewSetLock(true)},
	}
	for _, tt := range tests {
		got, err := buildFrame(tt.name, tt.arg)
		require.NoError(t, err, tt.name)
		assert.True(t, got.Equal(tt.want), "%s %s: got %s", tt.name, tt.arg, got)
	}
}

func TestBuildFrame_Errors(t *testing.T) {
	_, err := buildFrame("power_off", "")
	assert.ErrorIs(t, err, session.ErrUnknownOp)

	_, err = buildFrame("max_speed", "101")
	assert.ErrorIs(t, err, session.ErrOutOfRange)

	_, err = buildFrame("pedal_tilt", "11")
	assert.ErrorIs(t, err, session.ErrOutOfRange)

	_, err = buildFrame("volume", "loud")
	assert.ErrorContains(t, err, "expected a number")

	_, err = buildFrame("light", "")
	assert.ErrorContains(t, err, "expected on or off")
}

func TestFrameNamesSorted(t *testing.T) {
	names := frameNames()
	assert.IsIncreasing(t, names)
	assert.Contains(t, names, "statistics")
	assert.NotContains(t, names, "power_off")
}
