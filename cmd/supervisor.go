// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gowgos5/wheelstat/internal/config"
	"github.com/gowgos5/wheelstat/internal/poller"
	"github.com/gowgos5/wheelstat/internal/session"
	"github.com/gowgos5/wheelstat/internal/settings"
	"github.com/gowgos5/wheelstat/internal/telemetry"
)

// errNotConnected is returned by controls while the link is down
var errNotConnected = errors.New("wheel not connected")

const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
)

// connectionEvents receives connection lifecycle notifications
type connectionEvents interface {
	connected(connInfo string)
	connectionLost(err error)
}

// supervisor handles connection lifecycle and reconnection. Every connection
// gets a fresh session; telemetry and settings outlive them.
type supervisor struct {
	dial      func() (Connection, string, error)
	cfg       session.Config
	opts      []session.Option
	telemetry *telemetry.State
	settings  *settings.Store
	events    connectionEvents
	logger    *zap.Logger

	minBackoff time.Duration
	maxBackoff time.Duration

	mu       sync.RWMutex
	sess     *session.Session
	connInfo string
}

func newSupervisor(dial func() (Connection, string, error), c *config.Config, st *settings.Store, opts ...session.Option) *supervisor {
	sv := &supervisor{
		dial:      dial,
		cfg:       sessionConfig(c, false),
		telemetry: telemetry.New(),
		settings:  st,
		logger:    logger.With(zap.String("component", "supervisor")),

		minBackoff: initialBackoff,
		maxBackoff: maxBackoff,
	}
	sv.opts = append([]session.Option{
		session.WithLogger(logger),
		session.WithTelemetry(sv.telemetry),
		session.WithSettings(sv.settings),
	}, opts...)
	return sv
}

func (sv *supervisor) current() *session.Session {
	sv.mu.RLock()
	defer sv.mu.RUnlock()
	return sv.sess
}

func (sv *supervisor) setSession(s *session.Session, connInfo string) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	sv.sess = s
	sv.connInfo = connInfo
}

// run serves conn, then keeps reconnecting until ctx is done
func (sv *supervisor) run(ctx context.Context, conn Connection, connInfo string) {
	for {
		err := sv.serve(ctx, conn, connInfo)
		if ctx.Err() != nil {
			return
		}
		sv.logger.Warn("connection lost", zap.String("conn", connInfo), zap.Error(err))
		if sv.events != nil {
			sv.events.connectionLost(err)
		}

		var ok bool
		if conn, connInfo, ok = sv.reconnect(ctx); !ok {
			return // Shutdown requested during reconnect
		}
	}
}

// serve runs one session over conn until the connection fails
func (sv *supervisor) serve(ctx context.Context, conn Connection, connInfo string) error {
	s := session.New(conn, sv.cfg, sv.opts...)
	sv.setSession(s, connInfo)
	sv.telemetry.ResetRideTime()
	sv.logger.Info("connected", zap.String("conn", connInfo), zap.String("session", s.ID()))
	if sv.events != nil {
		sv.events.connected(connInfo)
	}

	// Run does not interrupt a blocked read
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	err := s.Run(ctx, conn)
	sv.setSession(nil, "")
	conn.Close()
	s.Close()

	if err == nil {
		err = io.EOF
	}
	return err
}

// reconnect attempts to reconnect with exponential backoff.
// Returns false if shutdown was requested during reconnection.
func (sv *supervisor) reconnect(ctx context.Context) (Connection, string, bool) {
	backoff := sv.minBackoff
	for {
		select {
		case <-ctx.Done():
			return nil, "", false
		case <-time.After(backoff):
		}

		conn, connInfo, err := sv.dial()
		if err == nil {
			return conn, connInfo, true
		}
		sv.logger.Debug("reconnect failed", zap.Duration("backoff", backoff), zap.Error(err))

		// Exponential backoff
		backoff *= 2
		if backoff > sv.maxBackoff {
			backoff = sv.maxBackoff
		}
	}
}

// Status reports the current session, or a zero status while disconnected
func (sv *supervisor) Status() session.Status {
	if s := sv.current(); s != nil {
		return s.Status()
	}
	return session.Status{Stage: poller.StageCarType.String(), PowerOff: poller.PowerOffIdle.String()}
}

func (sv *supervisor) Telemetry() *telemetry.State { return sv.telemetry }
func (sv *supervisor) Settings() *settings.Store   { return sv.settings }

// Control forwards to the current session
func (sv *supervisor) Control(op string, a session.Arg) error {
	s := sv.current()
	if s == nil {
		return errNotConnected
	}
	return s.Control(op, a)
}

// ConnInfo describes the current connection
func (sv *supervisor) ConnInfo() string {
	sv.mu.RLock()
	defer sv.mu.RUnlock()
	return sv.connInfo
}

// sessionConfig maps the configuration onto a session
func sessionConfig(c *config.Config, passive bool) session.Config {
	return session.Config{
		Poller: poller.Config{
			InitialDelay:       c.Poller.InitialDelay,
			Interval:           c.Poller.Interval,
			PowerOffAckTimeout: c.Poller.PowerOffAckTimeout,
		},
		QueueDepth: c.Link.QueueDepth,
		Passive:    passive,
	}
}
