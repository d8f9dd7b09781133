// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/gowgos5/wheelstat/pkg/inmotion"
)

// Control errors
var (
	ErrUnknownOp  = errors.New("unknown control operation")
	ErrOutOfRange = errors.New("value out of range")
)

// Value limits of the control operations
const (
	MaxSpeedLimit   = 100 // km/h
	PedalTiltLimit  = 10  // degrees either way
	PercentLimit    = 100
	SoundNumberLast = 0xFF
)

// Control operations queue a one-shot write command. It replaces any write
// not yet sent and is followed by a settings read-back.

// Beep sounds the horn
func (s *Session) Beep() error { return s.queue(inmotion.NewPlaySound(inmotion.SoundBeep)) }

// PlaySound plays a stored sound
func (s *Session) PlaySound(number int) error {
	if err := inRange("sound", number, 0, SoundNumberLast); err != nil {
		return err
	}
	return s.queue(inmotion.NewPlaySound(uint8(number)))
}

// Calibrate starts the wheel's balance calibration
func (s *Session) Calibrate() error { return s.queue(inmotion.NewCalibration()) }

// SetLight switches the headlight
func (s *Session) SetLight(on bool) error {
	if err := s.queue(inmotion.NewSetLight(on)); err != nil {
		return err
	}
	s.settings.SetLightEnabled(on)
	return nil
}

// ToggleLight inverts the last headlight state reported by the wheel
func (s *Session) ToggleLight() error {
	return s.SetLight(!s.telemetry.Snapshot().LightOn)
}

// SetLightBrightness sets the headlight brightness in percent
func (s *Session) SetLightBrightness(percent int) error {
	if err := inRange("light brightness", percent, 0, PercentLimit); err != nil {
		return err
	}
	return s.queue(inmotion.NewSetLightBrightness(uint8(percent)))
}

// SetVolume sets the speaker volume in percent
func (s *Session) SetVolume(percent int) error {
	if err := inRange("volume", percent, 0, PercentLimit); err != nil {
		return err
	}
	return s.queue(inmotion.NewSetVolume(uint8(percent)))
}

// SetMaxSpeed sets the speed limit in km/h
func (s *Session) SetMaxSpeed(kmh int) error {
	if err := inRange("max speed", kmh, 0, MaxSpeedLimit); err != nil {
		return err
	}
	return s.queue(inmotion.NewSetMaxSpeed(kmh))
}

// SetPedalTilt sets the pedal horizon in degrees
func (s *Session) SetPedalTilt(degrees int) error {
	if err := inRange("pedal tilt", degrees, -PedalTiltLimit, PedalTiltLimit); err != nil {
		return err
	}
	return s.queue(inmotion.NewSetPedalTilt(degrees))
}

// SetPedalSensivity sets the pedal sensitivity in percent
func (s *Session) SetPedalSensivity(percent int) error {
	if err := inRange("pedal sensitivity", percent, 0, PercentLimit); err != nil {
		return err
	}
	return s.queue(inmotion.NewSetPedalSensivity(uint8(percent)))
}

func (s *Session) SetDrl(on bool) error           { return s.queue(inmotion.NewSetDrl(on)) }
func (s *Session) SetHandleButton(on bool) error  { return s.queue(inmotion.NewSetHandleButton(on)) }
func (s *Session) SetFan(on bool) error           { return s.queue(inmotion.NewSetFan(on)) }
func (s *Session) SetQuietFan(on bool) error      { return s.queue(inmotion.NewSetQuietFan(on)) }
func (s *Session) SetFancierMode(on bool) error   { return s.queue(inmotion.NewSetFancierMode(on)) }
func (s *Session) SetRideMode(on bool) error      { return s.queue(inmotion.NewSetClassicMode(on)) }
func (s *Session) SetGoHome(on bool) error        { return s.queue(inmotion.NewSetGoHome(on)) }
func (s *Session) SetTransportMode(on bool) error { return s.queue(inmotion.NewSetTransportMode(on)) }
func (s *Session) SetLock(on bool) error          { return s.queue(inmotion.NewSetLock(on)) }
func (s *Session) SetMute(on bool) error          { return s.queue(inmotion.NewSetMute(on)) }

// PowerOff starts the two-stage power-off
func (s *Session) PowerOff() error {
	if err := s.poller.PowerOff(); err != nil {
		return err
	}
	s.logger.Info("power off requested")
	return nil
}

func (s *Session) queue(m inmotion.Message) error {
	if err := s.poller.Queue(m); err != nil {
		return err
	}
	s.logger.Debug("command queued", zap.Stringer("msg", m))
	return nil
}

func inRange(name string, v, lo, hi int) error {
	if v < lo || v > hi {
		return fmt.Errorf("%w: %s %d not in [%d, %d]", ErrOutOfRange, name, v, lo, hi)
	}
	return nil
}

// Arg is the argument of a named control operation
type Arg struct {
	On    bool `json:"on"`
	Value int  `json:"value"`
}

type op func(s *Session, a Arg) error

func onOff(fn func(*Session, bool) error) op {
	return func(s *Session, a Arg) error { return fn(s, a.On) }
}

func valued(fn func(*Session, int) error) op {
	return func(s *Session, a Arg) error { return fn(s, a.Value) }
}

func bare(fn func(*Session) error) op {
	return func(s *Session, _ Arg) error { return fn(s) }
}

var ops = map[string]op{
	"beep":              bare((*Session).Beep),
	"calibrate":         bare((*Session).Calibrate),
	"power_off":         bare((*Session).PowerOff),
	"toggle_light":      bare((*Session).ToggleLight),
	"play_sound":        valued((*Session).PlaySound),
	"light_brightness":  valued((*Session).SetLightBrightness),
	"volume":            valued((*Session).SetVolume),
	"max_speed":         valued((*Session).SetMaxSpeed),
	"pedal_tilt":        valued((*Session).SetPedalTilt),
	"pedal_sensitivity": valued((*Session).SetPedalSensivity),
	"light":             onOff((*Session).SetLight),
	"drl":               onOff((*Session).SetDrl),
	"handle_button":     onOff((*Session).SetHandleButton),
	"fan":               onOff((*Session).SetFan),
	"quiet_fan":         onOff((*Session).SetQuietFan),
	"fancier_mode":      onOff((*Session).SetFancierMode),
	"ride_mode":         onOff((*Session).SetRideMode),
	"go_home":           onOff((*Session).SetGoHome),
	"transport_mode":    onOff((*Session).SetTransportMode),
	"lock":              onOff((*Session).SetLock),
	"mute":              onOff((*Session).SetMute),
}

// Ops returns the names accepted by Control in sorted order
func Ops() []string {
	names := make([]string, 0, len(ops))
	for name := range ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Control runs a control operation by name
func (s *Session) Control(name string, a Arg) error {
	fn, ok := ops[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownOp, name)
	}
	return fn(s, a)
}
