// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package session owns one conversation with a wheel.
//
// A Session joins the inbound path (stream unpacker, frame verification and
// message dispatch) with the outbound path (polling sequencer and link). Its
// read path must be driven from a single goroutine, either by Run or by
// HandleBytes. Control operations may be called from any goroutine.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/gowgos5/wheelstat/internal/capture"
	"github.com/gowgos5/wheelstat/internal/dispatch"
	"github.com/gowgos5/wheelstat/internal/link"
	"github.com/gowgos5/wheelstat/internal/metrics"
	"github.com/gowgos5/wheelstat/internal/poller"
	"github.com/gowgos5/wheelstat/internal/settings"
	"github.com/gowgos5/wheelstat/internal/telemetry"
	"github.com/gowgos5/wheelstat/pkg/inmotion"
)

var (
	_ dispatch.TelemetrySink = (*telemetry.State)(nil)
	_ dispatch.SettingsStore = (*settings.Store)(nil)
	_ dispatch.Committer     = (*settings.Store)(nil)
	_ dispatch.PowerOffAcker = (*poller.Sequencer)(nil)
	_ poller.Sender          = (*link.Link)(nil)
)

const readBufferSize = 256

// Config configures a session
type Config struct {
	Poller     poller.Config
	QueueDepth int
	// Passive sessions only listen; the sequencer is never started
	Passive bool
}

// Status is a point-in-time view of the session
type Status struct {
	ID          string        `json:"id"`
	Started     time.Time     `json:"started"`
	Passive     bool          `json:"passive"`
	Cursor      poller.Cursor `json:"cursor"`
	Stage       string        `json:"stage"`
	PowerOff    string        `json:"power_off"`
	LinkPending int           `json:"link_pending"`
	LinkWritten uint64        `json:"link_written"`
	Stats       Stats         `json:"stats"`
}

// Stats are the link frame counters
type Stats struct {
	TotalFrames     uint64  `json:"total_frames"`
	ValidFrames     uint64  `json:"valid_frames"`
	ChecksumErrors  uint64  `json:"checksum_errors"`
	MalformedFrames uint64  `json:"malformed_frames"`
	UnknownCommands uint64  `json:"unknown_commands"`
	ShortPayloads   uint64  `json:"short_payloads"`
	SkippedBytes    uint64  `json:"skipped_bytes"`
	FrameRate       float64 `json:"frame_rate"`
	ErrorRate       float64 `json:"error_rate"`
}

// Session is one connection to a wheel
type Session struct {
	id      string
	cfg     Config
	started time.Time
	logger  *zap.Logger
	metrics *metrics.Metrics

	telemetry  *telemetry.State
	settings   *settings.Store
	capture    *capture.Writer
	onData     func()
	onMessage  func(inmotion.Message)
	warnings   *rate.Limiter
	unpacker   *inmotion.Unpacker
	dispatcher *dispatch.Dispatcher
	poller     *poller.Sequencer
	link       *link.Link

	statsMu sync.Mutex
	stats   *inmotion.Statistics

	closeOnce sync.Once
}

// Option configures a Session
type Option func(*Session)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithTelemetry sets the telemetry sink
func WithTelemetry(t *telemetry.State) Option {
	return func(s *Session) { s.telemetry = t }
}

// WithSettings sets the settings store
func WithSettings(st *settings.Store) Option {
	return func(s *Session) { s.settings = st }
}

// WithCapture records inbound and outbound bytes to w
func WithCapture(w *capture.Writer) Option {
	return func(s *Session) { s.capture = w }
}

// WithOnData is called after every live telemetry update
func WithOnData(fn func()) Option {
	return func(s *Session) { s.onData = fn }
}

// WithMessageHook is called with every verified message before dispatch
func WithMessageHook(fn func(inmotion.Message)) Option {
	return func(s *Session) { s.onMessage = fn }
}

// New creates a session writing to w. The sequencer starts with Run.
func New(w io.Writer, cfg Config, opts ...Option) *Session {
	s := &Session{
		id:       uuid.NewString(),
		cfg:      cfg,
		started:  time.Now(),
		logger:   zap.NewNop(),
		unpacker: inmotion.NewUnpacker(),
		stats:    inmotion.NewStatistics(),
		warnings: rate.NewLimiter(rate.Every(time.Second), 5),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.telemetry == nil {
		s.telemetry = telemetry.New()
	}
	if s.settings == nil {
		// An in-memory store never fails to open
		s.settings, _ = settings.NewStore("")
	}
	s.logger = s.logger.With(zap.String("session", s.id))

	linkOpts := []link.Option{
		link.WithLogger(s.component("link")),
		link.WithMetrics(s.metrics),
	}
	if s.capture != nil {
		linkOpts = append(linkOpts, link.WithTap(func(frame []byte) { s.record(capture.Out, frame) }))
	}
	s.link = link.New(w, cfg.QueueDepth, linkOpts...)

	s.poller = poller.New(s.link, cfg.Poller,
		poller.WithLogger(s.component("poller")),
		poller.WithMetrics(s.metrics))

	s.dispatcher = dispatch.New(s.telemetry, s.settings,
		dispatch.WithLogger(s.component("dispatch")),
		dispatch.WithMetrics(s.metrics),
		dispatch.WithPowerOffAcker(s.poller))

	return s
}

func (s *Session) component(name string) *zap.Logger {
	return s.logger.With(zap.String("component", name))
}

// ID returns the session identifier
func (s *Session) ID() string { return s.id }

// Telemetry returns the telemetry sink
func (s *Session) Telemetry() *telemetry.State { return s.telemetry }

// Settings returns the settings store
func (s *Session) Settings() *settings.Store { return s.settings }

// Run starts the sequencer and feeds bytes read from r into the session
// until r fails or ctx is done. A clean end of stream returns nil. Run does
// not interrupt a blocked Read; close the connection to stop it.
func (s *Session) Run(ctx context.Context, r io.Reader) error {
	if !s.cfg.Passive {
		s.poller.Start()
		defer s.poller.Stop()
	}
	s.logger.Info("session started", zap.Bool("passive", s.cfg.Passive))

	buf := make([]byte, readBufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := r.Read(buf)
		if n > 0 {
			s.HandleBytes(buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.logger.Info("link closed")
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
	}
}

// HandleBytes feeds one chunk of received link bytes through the unpacker,
// verifies every completed frame and dispatches it.
func (s *Session) HandleBytes(p []byte) {
	s.metrics.ObserveBytesReceived(len(p))
	s.record(capture.In, p)

	for _, c := range p {
		if !s.unpacker.AddByte(c) {
			continue
		}
		s.poller.ResponseReceived()
		s.handleFrame(s.unpacker.Body())
	}

	s.statsMu.Lock()
	s.stats.AddSkipped(s.unpacker.Skipped())
	s.statsMu.Unlock()
}

func (s *Session) handleFrame(body []byte) {
	m, err := inmotion.Verify(body)
	if err != nil {
		s.updateStats(err)
		if errors.Is(err, inmotion.ErrChecksumMismatch) {
			s.metrics.ObserveFrame("checksum")
			if s.warnings.Allow() {
				s.logger.Warn("frame dropped", zap.Error(err))
			}
			return
		}
		s.metrics.ObserveFrame("malformed")
		s.logger.Debug("frame dropped", zap.Binary("body", body), zap.Error(err))
		return
	}
	s.metrics.ObserveFrame("ok")

	if s.onMessage != nil {
		s.onMessage(m)
	}
	significant, err := s.dispatcher.Dispatch(m)
	s.updateStats(err)
	if significant && s.onData != nil {
		s.onData()
	}
}

func (s *Session) updateStats(err error) {
	s.statsMu.Lock()
	s.stats.Update(err)
	s.statsMu.Unlock()
}

func (s *Session) record(dir capture.Direction, p []byte) {
	if s.capture == nil {
		return
	}
	if err := s.capture.Write(dir, p); err != nil && s.warnings.Allow() {
		s.logger.Warn("capture write failed", zap.Error(err))
	}
}

// Stats returns a copy of the frame counters with current rates
func (s *Session) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	s.stats.CalculateRates()
	st := s.stats
	return Stats{
		TotalFrames:     st.TotalFrames,
		ValidFrames:     st.ValidFrames,
		ChecksumErrors:  st.ChecksumErrors,
		MalformedFrames: st.MalformedFrames,
		UnknownCommands: st.UnknownCommands,
		ShortPayloads:   st.ShortPayloads,
		SkippedBytes:    st.SkippedBytes,
		FrameRate:       st.FrameRate,
		ErrorRate:       st.ErrorRate,
	}
}

// StatsReport returns the printable statistics summary
func (s *Session) StatsReport() string {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats.String()
}

// Status returns the session status
func (s *Session) Status() Status {
	cur := s.poller.Cursor()
	return Status{
		ID:          s.id,
		Started:     s.started,
		Passive:     s.cfg.Passive,
		Cursor:      cur,
		Stage:       cur.Stage.String(),
		PowerOff:    cur.PowerOff.String(),
		LinkPending: s.link.Pending(),
		LinkWritten: s.link.Written(),
		Stats:       s.Stats(),
	}
}

// Close stops the sequencer and drains the link. The underlying
// connection is left to the caller.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.poller.Stop()
		err = s.link.Close()
		s.logger.Info("session closed")
	})
	return err
}
