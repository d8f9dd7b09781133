// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package dispatch routes verified messages to payload parsers and applies
// the results to a telemetry sink and a settings store.
package dispatch

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gowgos5/wheelstat/internal/metrics"
	"github.com/gowgos5/wheelstat/pkg/inmotion"
)

// TelemetrySink receives live vehicle state. Units follow the wire: speeds
// in km/h * 100, voltage in V * 100, current in A * 100.
type TelemetrySink interface {
	SetModel(model string)
	SetVersion(version string)
	SetSerial(serial string)
	WheelTypeDetected()
	ResetRideTime()
	UpdateRideTime()

	SetSpeed(speed int)
	SetTopSpeed(speed int)
	SetVoltage(voltage int)
	SetCurrent(current int)
	SetPower(watts int)
	SetMotorPower(watts int)
	SetTorque(torque float64)
	SetTemperature(centiCelsius int)
	SetTemperature2(centiCelsius int)
	SetCPUTemp(celsius int)
	SetIMUTemp(celsius int)
	SetBatteryPercent(percent int)
	SetWheelDistance(meters int)
	SetAngle(degrees float64)
	SetRoll(degrees float64)
	SetSpeedLimit(kmh float64)
	SetCurrentLimit(amps float64)
	SetModeStr(mode string)
	SetLightOn(on bool)

	SetBatteries(b inmotion.Battery)
	SetDiagnostic(ok bool, codes []byte)
	SetTotalDistance(meters int64)
	SetTotalTimes(ride, powerOn time.Duration)
}

// SettingsStore receives the wheel configuration.
type SettingsStore interface {
	SetMaxSpeed(kmh int)
	SetPedalTilt(degrees int)
	SetPedalSensivity(sensivity int)
	SetSpeakerVolume(volume int)
	SetLightBrightness(brightness int)
	SetLightEnabled(on bool)
	SetSpeakerMute(mute bool)
	SetDrl(on bool)
	SetHandleButtonDisabled(disabled bool)
	SetLockMode(on bool)
	SetTransportMode(on bool)
	SetFanQuiet(on bool)
	SetFan(on bool)
	SetGoHome(on bool)
	SetFancierMode(on bool)
	SetRideMode(on bool)
}

// Committer is implemented by settings stores that persist after a full
// snapshot has been applied.
type Committer interface {
	Commit() error
}

// PowerOffAcker is told about Initial/Diagnostic responses. It returns true
// when the response completed the first power-off stage.
type PowerOffAcker interface {
	AckPowerOff() bool
}

type route struct {
	flag inmotion.Flag
	cmd  inmotion.Command
}

type handler func(d *Dispatcher, payload []byte) (bool, error)

var routes = map[route]handler{
	{inmotion.FlagInitial, inmotion.CmdMainInfo}:            (*Dispatcher).handleMainInfo,
	{inmotion.FlagInitial, inmotion.CmdDiagnostic}:          (*Dispatcher).handlePowerOffAck,
	{inmotion.FlagDefault, inmotion.CmdSettings}:            (*Dispatcher).handleSettings,
	{inmotion.FlagDefault, inmotion.CmdDiagnostic}:          (*Dispatcher).handleDiagnostic,
	{inmotion.FlagDefault, inmotion.CmdBatteryRealTimeInfo}: (*Dispatcher).handleBattery,
	{inmotion.FlagDefault, inmotion.CmdTotalStats}:          (*Dispatcher).handleTotalStats,
	{inmotion.FlagDefault, inmotion.CmdRealTimeInfo}:        (*Dispatcher).handleRealTime,
}

// Dispatcher applies verified messages to the sink and store
type Dispatcher struct {
	telemetry  TelemetrySink
	settings   SettingsStore
	acker      PowerOffAcker
	logger     *zap.Logger
	metrics    *metrics.Metrics
	onSettings func(inmotion.Settings)
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithMetrics sets the metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithPowerOffAcker sets the receiver of power-off acknowledgments
func WithPowerOffAcker(a PowerOffAcker) Option {
	return func(d *Dispatcher) { d.acker = a }
}

// WithSettingsHook is called with every parsed settings snapshot
func WithSettingsHook(fn func(inmotion.Settings)) Option {
	return func(d *Dispatcher) { d.onSettings = fn }
}

// New creates a dispatcher
func New(telemetry TelemetrySink, settings SettingsStore, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		telemetry: telemetry,
		settings:  settings,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch applies m. The returned flag is true when m carried a full live
// telemetry update. Errors are informational: ErrUnknownCommand for an
// unrouted (flag, command) pair and ErrShortPayload for a truncated payload.
func (d *Dispatcher) Dispatch(m inmotion.Message) (bool, error) {
	h, ok := routes[route{m.Flag, m.Command}]
	if !ok {
		d.logger.Debug("unhandled message",
			zap.Stringer("flag", m.Flag),
			zap.Stringer("cmd", m.Command),
			zap.Int("len", len(m.Payload)))
		d.metrics.ObserveDispatch(m.Command.String(), "unknown")
		return false, fmt.Errorf("%w: %s/%s", inmotion.ErrUnknownCommand, m.Flag, m.Command)
	}

	significant, err := h(d, m.Payload)
	if err != nil {
		d.logger.Debug("parse failed", zap.Stringer("cmd", m.Command), zap.Error(err))
		d.metrics.ObserveDispatch(m.Command.String(), "short")
		return false, err
	}
	d.metrics.ObserveDispatch(m.Command.String(), "ok")
	return significant, nil
}

func (d *Dispatcher) handleMainInfo(p []byte) (bool, error) {
	d.telemetry.ResetRideTime()

	switch inmotion.MainInfoKind(p) {
	case inmotion.MainInfoCarType:
		ct, err := inmotion.ParseCarType(p)
		if err != nil {
			return false, err
		}
		d.telemetry.SetModel(ct.Model())
		d.telemetry.SetVersion(ct.Version())
		d.telemetry.WheelTypeDetected()
		d.logger.Info("car type", zap.String("model", ct.Model()), zap.String("version", ct.Version()))
	case inmotion.MainInfoSerial:
		serial, err := inmotion.ParseSerial(p)
		if err != nil {
			return false, err
		}
		d.telemetry.SetSerial(serial)
		d.logger.Info("serial number", zap.String("serial", serial))
	case inmotion.MainInfoVersions:
		d.logger.Debug("versions", zap.Binary("payload", p))
	default:
		d.logger.Debug("unknown main info", zap.Binary("payload", p))
	}
	return false, nil
}

func (d *Dispatcher) handlePowerOffAck(p []byte) (bool, error) {
	if d.acker != nil && d.acker.AckPowerOff() {
		d.logger.Info("power off acknowledged, second stage queued")
	}
	return false, nil
}

func (d *Dispatcher) handleSettings(p []byte) (bool, error) {
	s, err := inmotion.ParseSettings(p)
	if err != nil {
		return false, err
	}

	st := d.settings
	st.SetPedalTilt(s.PedalTilt())
	st.SetMaxSpeed(s.MaxSpeed())
	st.SetFancierMode(s.FancierMode())
	st.SetRideMode(s.ClassicMode())
	st.SetPedalSensivity(int(s.ComfortSensivity))
	st.SetSpeakerVolume(int(s.Volume))
	st.SetLightBrightness(int(s.LightBrightness))
	st.SetSpeakerMute(s.Mute())
	st.SetDrl(s.Drl())
	st.SetHandleButtonDisabled(s.HandleButtonDisabled())
	st.SetLockMode(s.Lock())
	st.SetTransportMode(s.TransportMode())
	st.SetFanQuiet(s.FanQuiet())
	st.SetFan(s.Fan())
	st.SetGoHome(s.GoHome())

	if c, ok := st.(Committer); ok {
		if err := c.Commit(); err != nil {
			d.logger.Warn("settings commit failed", zap.Error(err))
		}
	}
	if d.onSettings != nil {
		d.onSettings(s)
	}
	return false, nil
}

func (d *Dispatcher) handleDiagnostic(p []byte) (bool, error) {
	diag := inmotion.ParseDiagnostic(p)
	d.telemetry.SetDiagnostic(diag.OK, diag.Codes)
	if !diag.OK {
		d.logger.Warn("diagnostic fault", zap.Binary("codes", diag.Codes))
	}
	return false, nil
}

func (d *Dispatcher) handleBattery(p []byte) (bool, error) {
	b, err := inmotion.ParseBattery(p)
	if err != nil {
		return false, err
	}
	d.telemetry.SetBatteries(b)
	return false, nil
}

func (d *Dispatcher) handleTotalStats(p []byte) (bool, error) {
	s, err := inmotion.ParseTotalStats(p)
	if err != nil {
		return false, err
	}
	d.telemetry.SetTotalDistance(int64(s.TotalDistanceMeters()))
	d.telemetry.SetTotalTimes(s.RideTime(), s.PowerOnTime())
	return false, nil
}

func (d *Dispatcher) handleRealTime(p []byte) (bool, error) {
	rt, err := inmotion.ParseRealTime(p)
	if err != nil {
		return false, err
	}

	t := d.telemetry
	t.SetVoltage(int(rt.Voltage))
	t.SetTorque(float64(rt.Torque) / 100)
	t.SetMotorPower(int(rt.MotorPower))
	t.SetCPUTemp(rt.CPUTemp)
	t.SetIMUTemp(rt.IMUTemp)
	t.SetCurrent(int(rt.Current))
	t.SetSpeed(int(rt.Speed))
	t.SetCurrentLimit(float64(rt.DynamicCurrentLimit) / 100)
	t.SetSpeedLimit(float64(rt.DynamicSpeedLimit) / 100)
	t.SetBatteryPercent(int(rt.BatteryLevel))
	t.SetTemperature(rt.MosTemp * 100)
	t.SetTemperature2(rt.BoardTemp * 100)
	t.SetAngle(float64(rt.PitchAngle) / 100)
	t.SetRoll(float64(rt.RollAngle) / 100)
	t.UpdateRideTime()
	t.SetTopSpeed(int(rt.Speed))
	t.SetPower(int(rt.BatteryPower))
	t.SetWheelDistance(int(rt.Mileage))
	t.SetModeStr(rt.Mode())
	t.SetLightOn(rt.Light)

	d.metrics.SetRealTime(float64(rt.Speed)/100, float64(rt.Voltage)/100, int(rt.BatteryLevel))
	return true, nil
}
