// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package settings persists the wheel configuration reported by the wheel.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Values mirrors the wheel configuration
type Values struct {
	MaxSpeed             int  `yaml:"max_speed" json:"max_speed"`
	PedalTilt            int  `yaml:"pedal_tilt" json:"pedal_tilt"`
	PedalSensivity       int  `yaml:"pedal_sensivity" json:"pedal_sensivity"`
	SpeakerVolume        int  `yaml:"speaker_volume" json:"speaker_volume"`
	LightBrightness      int  `yaml:"light_brightness" json:"light_brightness"`
	LightEnabled         bool `yaml:"light_enabled" json:"light_enabled"`
	SpeakerMute          bool `yaml:"speaker_mute" json:"speaker_mute"`
	Drl                  bool `yaml:"drl" json:"drl"`
	HandleButtonDisabled bool `yaml:"handle_button_disabled" json:"handle_button_disabled"`
	LockMode             bool `yaml:"lock_mode" json:"lock_mode"`
	TransportMode        bool `yaml:"transport_mode" json:"transport_mode"`
	FanQuiet             bool `yaml:"fan_quiet" json:"fan_quiet"`
	Fan                  bool `yaml:"fan" json:"fan"`
	GoHome               bool `yaml:"go_home" json:"go_home"`
	FancierMode          bool `yaml:"fancier_mode" json:"fancier_mode"`
	RideMode             bool `yaml:"ride_mode" json:"ride_mode"`
}

// Store is a concurrency-safe settings store. With a path set, Commit
// writes the values to a YAML file.
type Store struct {
	mu    sync.RWMutex
	v     Values
	path  string
	dirty bool
}

// NewStore creates a store backed by path and loads it if it exists.
// An empty path keeps the settings in memory only.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path}
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		// First commit creates the file
		s.dirty = true
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	if err := yaml.Unmarshal(data, &s.v); err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", path, err)
	}
	return s, nil
}

// Values returns a copy of the current settings
func (s *Store) Values() Values {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v
}

// Commit writes the settings to disk if anything changed since the last
// commit. The file is replaced atomically.
func (s *Store) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" || !s.dirty {
		return nil
	}

	data, err := yaml.Marshal(&s.v)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".settings-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close settings: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace settings: %w", err)
	}

	s.dirty = false
	return nil
}

func (s *Store) set(fn func(v *Values)) {
	s.mu.Lock()
	before := s.v
	fn(&s.v)
	if s.v != before {
		s.dirty = true
	}
	s.mu.Unlock()
}

func (s *Store) SetMaxSpeed(kmh int)         { s.set(func(v *Values) { v.MaxSpeed = kmh }) }
func (s *Store) SetPedalTilt(degrees int)    { s.set(func(v *Values) { v.PedalTilt = degrees }) }
func (s *Store) SetPedalSensivity(sens int)  { s.set(func(v *Values) { v.PedalSensivity = sens }) }
func (s *Store) SetSpeakerVolume(volume int) { s.set(func(v *Values) { v.SpeakerVolume = volume }) }
func (s *Store) SetLightBrightness(b int)    { s.set(func(v *Values) { v.LightBrightness = b }) }
func (s *Store) SetLightEnabled(on bool)     { s.set(func(v *Values) { v.LightEnabled = on }) }
func (s *Store) SetSpeakerMute(mute bool)    { s.set(func(v *Values) { v.SpeakerMute = mute }) }
func (s *Store) SetDrl(on bool)              { s.set(func(v *Values) { v.Drl = on }) }
func (s *Store) SetLockMode(on bool)         { s.set(func(v *Values) { v.LockMode = on }) }
func (s *Store) SetTransportMode(on bool)    { s.set(func(v *Values) { v.TransportMode = on }) }
func (s *Store) SetFanQuiet(on bool)         { s.set(func(v *Values) { v.FanQuiet = on }) }
func (s *Store) SetFan(on bool)              { s.set(func(v *Values) { v.Fan = on }) }
func (s *Store) SetGoHome(on bool)           { s.set(func(v *Values) { v.GoHome = on }) }
func (s *Store) SetFancierMode(on bool)      { s.set(func(v *Values) { v.FancierMode = on }) }
func (s *Store) SetRideMode(on bool)         { s.set(func(v *Values) { v.RideMode = on }) }

func (s *Store) SetHandleButtonDisabled(d bool) {
	s.set(func(v *Values) { v.HandleButtonDisabled = d })
}
