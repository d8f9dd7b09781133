// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package poller drives the request side of the conversation with a wheel.
//
// A Sequencer fires on a fixed short interval. Every tenth tick it sends one
// request: a queued one-shot command first, then the one-time identification
// requests, then settings, keep-alive filler and statistics once each, then
// live telemetry on every following cycle. A failed send pushes the tick
// counter past the cycle boundary so the next attempt waits for the next
// cycle instead of retrying immediately.
package poller

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gowgos5/wheelstat/internal/metrics"
	"github.com/gowgos5/wheelstat/pkg/inmotion"
)

// Tick counter constants
const (
	CycleLength = 10
	// BackoffStep is the step forced after a failed send.
	// (BackoffStep+1) % CycleLength leaves the rest of the cycle idle.
	BackoffStep = 35
)

// Default timer settings
const (
	DefaultInitialDelay       = 100 * time.Millisecond
	DefaultInterval           = 25 * time.Millisecond
	DefaultPowerOffAckTimeout = 5 * time.Second
)

// ErrPowerOffInProgress is returned when a power-off is already running
var ErrPowerOffInProgress = errors.New("power off already in progress")

// Sender is the outbound side of the link. Send must not block; a busy or
// closed link reports an error.
type Sender interface {
	Send(frame []byte) error
}

// Stage is the conversation progress
type Stage int

// Conversation stages
const (
	StageCarType Stage = iota
	StageSerial
	StageVersions
	StageSettings
	StageUselessData
	StageStatistics
	StageRealTime
)

func (s Stage) String() string {
	switch s {
	case StageCarType:
		return "car_type"
	case StageSerial:
		return "serial"
	case StageVersions:
		return "versions"
	case StageSettings:
		return "settings"
	case StageUselessData:
		return "useless_data"
	case StageStatistics:
		return "statistics"
	default:
		return "realtime"
	}
}

// PowerOffState is the two-stage power-off progress
type PowerOffState int

// Power-off states
const (
	PowerOffIdle PowerOffState = iota
	PowerOffAwaitingAck
	PowerOffSecondStageQueued
)

func (p PowerOffState) String() string {
	switch p {
	case PowerOffAwaitingAck:
		return "awaiting_ack"
	case PowerOffSecondStageQueued:
		return "second_stage_queued"
	default:
		return "idle"
	}
}

// Cursor is a snapshot of the sequencer state
type Cursor struct {
	Step     int           `json:"step"`
	Stage    Stage         `json:"stage"`
	Pending  bool          `json:"pending"`
	ReadBack bool          `json:"read_back"`
	PowerOff PowerOffState `json:"power_off"`
}

// Config holds the sequencer timing
type Config struct {
	InitialDelay       time.Duration
	Interval           time.Duration
	PowerOffAckTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.InitialDelay <= 0 {
		c.InitialDelay = DefaultInitialDelay
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.PowerOffAckTimeout <= 0 {
		c.PowerOffAckTimeout = DefaultPowerOffAckTimeout
	}
}

type pendingCommand struct {
	msg   inmotion.Message
	frame []byte
}

// request is one candidate send and what to do when it succeeds
type request struct {
	name   string
	frame  []byte
	onSent func()
}

// Sequencer is the polling sequencer of one connection
type Sequencer struct {
	link    Sender
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	// Guards the cursor, pending slot and power-off state
	mu               sync.Mutex
	step             int
	stage            Stage
	pending          *pendingCommand
	readBack         bool
	powerOff         PowerOffState
	powerOffDeadline time.Time

	// Guards the timer goroutine lifecycle
	lifeMu sync.Mutex
	stop   chan struct{}
	done   chan struct{}
}

// Option configures a Sequencer
type Option func(*Sequencer)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Sequencer) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sequencer) { s.metrics = m }
}

// New creates a sequencer sending through link
func New(link Sender, cfg Config, opts ...Option) *Sequencer {
	cfg.applyDefaults()
	s := &Sequencer{
		link:   link,
		cfg:    cfg,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start resets the cursor and starts the periodic timer. Calling Start on
// a running sequencer does nothing.
func (s *Sequencer) Start() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if s.stop != nil {
		return
	}
	s.Reset()

	stop := make(chan struct{})
	done := make(chan struct{})
	s.stop, s.done = stop, done
	go s.run(stop, done)
	s.logger.Debug("poller started",
		zap.Duration("initial_delay", s.cfg.InitialDelay),
		zap.Duration("interval", s.cfg.Interval))
}

// Stop cancels the timer and waits for an in-flight tick to finish. It is
// safe to call more than once and before Start.
func (s *Sequencer) Stop() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if s.stop == nil {
		return
	}
	close(s.stop)
	<-s.done
	s.stop, s.done = nil, nil
	s.logger.Debug("poller stopped")
}

func (s *Sequencer) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	delay := time.NewTimer(s.cfg.InitialDelay)
	defer delay.Stop()
	select {
	case <-stop:
		return
	case <-delay.C:
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		s.Tick()
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

// Reset returns the cursor to a fresh conversation
func (s *Sequencer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.step = 0
	s.stage = StageCarType
	s.pending = nil
	s.readBack = false
	s.powerOff = PowerOffIdle
	s.metrics.SetStage(int(s.stage))
}

// Tick runs one timer step
func (s *Sequencer) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expirePowerOff()
	if s.step == 0 {
		s.poll()
	}
	s.step = (s.step + 1) % CycleLength
}

// ResponseReceived restarts the cycle so the next request goes out on the
// next tick. Called when a complete frame arrives.
func (s *Sequencer) ResponseReceived() {
	s.mu.Lock()
	s.step = 0
	s.mu.Unlock()
}

// Queue replaces the pending one-shot command with m. It is sent on the
// next polling tick ahead of any scheduled request. While a power-off is
// running the slot belongs to its stages and Queue returns
// ErrPowerOffInProgress.
func (s *Sequencer) Queue(m inmotion.Message) error {
	frame, err := inmotion.Encode(m)
	if err != nil {
		return fmt.Errorf("queue %s: %w", m.Command, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.expirePowerOff()
	if s.powerOff != PowerOffIdle {
		return fmt.Errorf("queue %s: %w", m.Command, ErrPowerOffInProgress)
	}
	s.pending = &pendingCommand{msg: m, frame: frame}
	return nil
}

// PowerOff queues the first power-off stage. The second stage is queued by
// AckPowerOff when the wheel acknowledges.
func (s *Sequencer) PowerOff() error {
	frame := inmotion.MustEncode(inmotion.NewPowerOffFirstStage())

	s.mu.Lock()
	defer s.mu.Unlock()

	s.expirePowerOff()
	if s.powerOff != PowerOffIdle {
		return ErrPowerOffInProgress
	}
	s.pending = &pendingCommand{msg: inmotion.NewPowerOffFirstStage(), frame: frame}
	s.setPowerOff(PowerOffAwaitingAck)
	return nil
}

// AckPowerOff handles an Initial/Diagnostic response. While a power-off is
// awaiting its acknowledgment it queues the second stage and returns true.
func (s *Sequencer) AckPowerOff() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expirePowerOff()
	if s.powerOff != PowerOffAwaitingAck {
		return false
	}
	m := inmotion.NewPowerOffSecondStage()
	s.pending = &pendingCommand{msg: m, frame: inmotion.MustEncode(m)}
	s.setPowerOff(PowerOffSecondStageQueued)
	return true
}

// Cursor returns a snapshot of the sequencer state
func (s *Sequencer) Cursor() Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Cursor{
		Step:     s.step,
		Stage:    s.stage,
		Pending:  s.pending != nil,
		ReadBack: s.readBack,
		PowerOff: s.powerOff,
	}
}

func (s *Sequencer) setPowerOff(state PowerOffState) {
	s.powerOff = state
	if state != PowerOffIdle {
		s.powerOffDeadline = s.now().Add(s.cfg.PowerOffAckTimeout)
	}
}

// expirePowerOff abandons a power-off whose acknowledgment never arrived
func (s *Sequencer) expirePowerOff() {
	if s.powerOff == PowerOffIdle || s.now().Before(s.powerOffDeadline) {
		return
	}
	s.logger.Warn("power off timed out", zap.Stringer("state", s.powerOff))
	s.powerOff = PowerOffIdle
}

func (s *Sequencer) poll() {
	req := s.next()

	if err := s.link.Send(req.frame); err != nil {
		s.step = BackoffStep
		s.metrics.ObserveSend(req.name, false)
		s.logger.Debug("send failed, backing off", zap.String("request", req.name), zap.Error(err))
		return
	}

	s.metrics.ObserveSend(req.name, true)
	s.logger.Debug("sent", zap.String("request", req.name), zap.Stringer("stage", s.stage))
	req.onSent()
	s.metrics.SetStage(int(s.stage))
}

// next picks the request for this cycle. Must hold mu.
func (s *Sequencer) next() request {
	if s.pending != nil {
		p := s.pending
		return request{name: "command", frame: p.frame, onSent: func() {
			s.pending = nil
			s.readBack = true
			if s.powerOff == PowerOffSecondStageQueued && p.msg.Equal(inmotion.NewPowerOffSecondStage()) {
				s.powerOff = PowerOffIdle
			}
			s.logger.Debug("command sent", zap.Stringer("msg", p.msg))
		}}
	}

	advance := func() { s.stage++ }
	switch {
	case s.stage == StageCarType:
		return request{"car_type", inmotion.MustEncode(inmotion.NewCarTypeRequest()), advance}
	case s.stage == StageSerial:
		return request{"serial", inmotion.MustEncode(inmotion.NewSerialNumberRequest()), advance}
	case s.stage == StageVersions:
		return request{"versions", inmotion.MustEncode(inmotion.NewVersionsRequest()), advance}
	case s.stage == StageSettings || s.readBack:
		return request{"settings", inmotion.MustEncode(inmotion.NewSettingsRequest()), func() {
			s.readBack = false
			if s.stage == StageSettings {
				s.stage++
			}
		}}
	case s.stage == StageUselessData:
		return request{"useless_data", inmotion.MustEncode(inmotion.NewUselessDataRequest()), advance}
	case s.stage == StageStatistics:
		return request{"statistics", inmotion.MustEncode(inmotion.NewStatisticsRequest()), advance}
	default:
		return request{"realtime", inmotion.MustEncode(inmotion.NewRealTimeRequest()), func() {}}
	}
}
