// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package telemetry holds the live vehicle state of one session.
package telemetry

import (
	"math"
	"sync"
	"time"

	"github.com/gowgos5/wheelstat/pkg/inmotion"
)

// Snapshot is a point-in-time copy of the vehicle state
type Snapshot struct {
	Model    string `json:"model"`
	Version  string `json:"version"`
	Serial   string `json:"serial"`
	Detected bool   `json:"detected"`

	Speed          float64 `json:"speed_kmh"`
	TopSpeed       float64 `json:"top_speed_kmh"`
	Voltage        float64 `json:"voltage"`
	Current        float64 `json:"current"`
	Power          int     `json:"power_w"`
	MotorPower     int     `json:"motor_power_w"`
	Torque         float64 `json:"torque"`
	Temperature    float64 `json:"temperature"`
	Temperature2   float64 `json:"temperature2"`
	CPUTemp        int     `json:"cpu_temp"`
	IMUTemp        int     `json:"imu_temp"`
	BatteryPercent int     `json:"battery_percent"`
	WheelDistance  int     `json:"wheel_distance_m"`
	TotalDistance  int64   `json:"total_distance_m"`
	Angle          float64 `json:"angle"`
	Roll           float64 `json:"roll"`
	SpeedLimit     float64 `json:"speed_limit_kmh"`
	CurrentLimit   float64 `json:"current_limit_a"`
	Mode           string  `json:"mode"`
	LightOn        bool    `json:"light_on"`

	Batteries    inmotion.Battery `json:"batteries"`
	DiagnosticOK bool             `json:"diagnostic_ok"`
	FaultCodes   []byte           `json:"fault_codes,omitempty"`

	RideTime     time.Duration `json:"ride_time"`
	TotalRide    time.Duration `json:"total_ride_time"`
	TotalPowerOn time.Duration `json:"total_power_on_time"`
	Updated      time.Time     `json:"updated"`
}

// State is a concurrency-safe telemetry sink
type State struct {
	mu  sync.RWMutex
	s   Snapshot
	now func() time.Time

	lastRide time.Time
	rideTime time.Duration
}

// New creates an empty telemetry state
func New() *State {
	return &State{now: time.Now, s: Snapshot{DiagnosticOK: true}}
}

// Snapshot returns a copy of the current state
func (t *State) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := t.s
	s.RideTime = t.rideTime
	s.FaultCodes = append([]byte(nil), t.s.FaultCodes...)
	return s
}

func (t *State) update(fn func(s *Snapshot)) {
	t.mu.Lock()
	fn(&t.s)
	t.s.Updated = t.now()
	t.mu.Unlock()
}

func (t *State) SetModel(model string)     { t.update(func(s *Snapshot) { s.Model = model }) }
func (t *State) SetVersion(version string) { t.update(func(s *Snapshot) { s.Version = version }) }
func (t *State) SetSerial(serial string)   { t.update(func(s *Snapshot) { s.Serial = serial }) }
func (t *State) WheelTypeDetected()        { t.update(func(s *Snapshot) { s.Detected = true }) }

func (t *State) SetSpeed(speed int)        { t.update(func(s *Snapshot) { s.Speed = float64(speed) / 100 }) }
func (t *State) SetVoltage(voltage int)    { t.update(func(s *Snapshot) { s.Voltage = float64(voltage) / 100 }) }
func (t *State) SetCurrent(current int)    { t.update(func(s *Snapshot) { s.Current = float64(current) / 100 }) }
func (t *State) SetPower(watts int)        { t.update(func(s *Snapshot) { s.Power = watts }) }
func (t *State) SetMotorPower(watts int)   { t.update(func(s *Snapshot) { s.MotorPower = watts }) }
func (t *State) SetTorque(torque float64)  { t.update(func(s *Snapshot) { s.Torque = torque }) }
func (t *State) SetCPUTemp(celsius int)    { t.update(func(s *Snapshot) { s.CPUTemp = celsius }) }
func (t *State) SetIMUTemp(celsius int)    { t.update(func(s *Snapshot) { s.IMUTemp = celsius }) }
func (t *State) SetAngle(degrees float64)  { t.update(func(s *Snapshot) { s.Angle = degrees }) }
func (t *State) SetRoll(degrees float64)   { t.update(func(s *Snapshot) { s.Roll = degrees }) }
func (t *State) SetSpeedLimit(kmh float64) { t.update(func(s *Snapshot) { s.SpeedLimit = kmh }) }
func (t *State) SetModeStr(mode string)    { t.update(func(s *Snapshot) { s.Mode = mode }) }
func (t *State) SetLightOn(on bool)        { t.update(func(s *Snapshot) { s.LightOn = on }) }
func (t *State) SetWheelDistance(m int)    { t.update(func(s *Snapshot) { s.WheelDistance = m }) }
func (t *State) SetTotalDistance(m int64)  { t.update(func(s *Snapshot) { s.TotalDistance = m }) }
func (t *State) SetCurrentLimit(a float64) { t.update(func(s *Snapshot) { s.CurrentLimit = a }) }
func (t *State) SetBatteryPercent(pct int) { t.update(func(s *Snapshot) { s.BatteryPercent = pct }) }

// SetTemperature sets the primary (MOS) temperature in hundredths of a degree
func (t *State) SetTemperature(centi int) {
	t.update(func(s *Snapshot) { s.Temperature = float64(centi) / 100 })
}

// SetTemperature2 sets the board temperature in hundredths of a degree
func (t *State) SetTemperature2(centi int) {
	t.update(func(s *Snapshot) { s.Temperature2 = float64(centi) / 100 })
}

// SetTopSpeed raises the top speed if speed exceeds it
func (t *State) SetTopSpeed(speed int) {
	t.update(func(s *Snapshot) {
		if v := float64(speed) / 100; v > s.TopSpeed {
			s.TopSpeed = v
		}
	})
}

func (t *State) SetBatteries(b inmotion.Battery) {
	t.update(func(s *Snapshot) { s.Batteries = b })
}

func (t *State) SetDiagnostic(ok bool, codes []byte) {
	t.update(func(s *Snapshot) {
		s.DiagnosticOK = ok
		s.FaultCodes = append([]byte(nil), codes...)
	})
}

func (t *State) SetTotalTimes(ride, powerOn time.Duration) {
	t.update(func(s *Snapshot) {
		s.TotalRide = ride
		s.TotalPowerOn = powerOn
	})
}

// rideIdleGap ends a ride segment when realtime updates stop arriving
const rideIdleGap = 3 * time.Second

// ResetRideTime starts ride time accounting from zero
func (t *State) ResetRideTime() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rideTime = 0
	t.lastRide = time.Time{}
}

// UpdateRideTime accrues ride time while the wheel is moving. Gaps longer
// than rideIdleGap between moving updates are not counted.
func (t *State) UpdateRideTime() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if math.Abs(t.s.Speed) < 1 {
		t.lastRide = time.Time{}
		return
	}
	if !t.lastRide.IsZero() {
		if gap := now.Sub(t.lastRide); gap < rideIdleGap {
			t.rideTime += gap
		}
	}
	t.lastRide = now
}
