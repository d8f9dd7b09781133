// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package link provides the outbound half of a wheel connection.
//
// Frames are queued and written by a single goroutine so that Send never
// waits on the transport. A full queue, a closed link or an earlier write
// failure are reported to the caller as errors.
package link

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/gowgos5/wheelstat/internal/metrics"
)

// DefaultQueueDepth is the number of frames buffered ahead of the writer
const DefaultQueueDepth = 4

// Send errors
var (
	ErrBusy   = errors.New("link busy")
	ErrClosed = errors.New("link closed")
)

// Link is a non-blocking frame writer
type Link struct {
	w       io.Writer
	queue   chan []byte
	logger  *zap.Logger
	metrics *metrics.Metrics
	tap     func([]byte)
	done    chan struct{}

	mu      sync.Mutex
	closed  bool
	lastErr error
	written uint64
}

// Option configures a Link
type Option func(*Link)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(k *Link) {
		if l != nil {
			k.logger = l
		}
	}
}

// WithMetrics sets the metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(k *Link) { k.metrics = m }
}

// WithTap is called with every frame after it was written
func WithTap(fn func(frame []byte)) Option {
	return func(k *Link) { k.tap = fn }
}

// New starts a link writing to w with room for depth queued frames
func New(w io.Writer, depth int, opts ...Option) *Link {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	k := &Link{
		w:      w,
		queue:  make(chan []byte, depth),
		logger: zap.NewNop(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(k)
	}
	go k.writeLoop()
	return k
}

// Send queues a copy of frame. It returns ErrBusy when the queue is full,
// ErrClosed after Close, and otherwise the first write error not yet
// reported, in which case frame is dropped.
func (k *Link) Send(frame []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return ErrClosed
	}
	if err := k.lastErr; err != nil {
		k.lastErr = nil
		return fmt.Errorf("write failed: %w", err)
	}

	select {
	case k.queue <- append([]byte(nil), frame...):
		return nil
	default:
		return ErrBusy
	}
}

// Pending returns the number of queued frames
func (k *Link) Pending() int {
	return len(k.queue)
}

// Written returns the number of frames written successfully
func (k *Link) Written() uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.written
}

// Close stops accepting frames and waits for queued frames to be written.
// A writer blocked in Write keeps Close waiting until the transport is
// closed underneath it.
func (k *Link) Close() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		<-k.done
		return nil
	}
	k.closed = true
	close(k.queue)
	k.mu.Unlock()

	<-k.done
	return nil
}

func (k *Link) writeLoop() {
	defer close(k.done)

	for frame := range k.queue {
		n, err := k.w.Write(frame)
		k.metrics.ObserveBytesSent(n)
		if err == nil && n < len(frame) {
			err = io.ErrShortWrite
		}

		k.mu.Lock()
		if err != nil {
			k.lastErr = err
		} else {
			k.written++
		}
		k.mu.Unlock()

		if err != nil {
			k.logger.Debug("write failed", zap.Int("len", len(frame)), zap.Error(err))
			continue
		}
		if k.tap != nil {
			k.tap(frame)
		}
	}
}
