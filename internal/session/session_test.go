// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gowgos5/wheelstat/internal/capture"
	"github.com/gowgos5/wheelstat/internal/poller"
	"github.com/gowgos5/wheelstat/pkg/inmotion"
)

// wire collects everything the session writes
type wire struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *wire) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *wire) messages(t *testing.T) []inmotion.Message {
	t.Helper()
	w.mu.Lock()
	data := append([]byte(nil), w.buf.Bytes()...)
	w.mu.Unlock()

	var out []inmotion.Message
	for _, body := range inmotion.NewUnpacker().Feed(data) {
		m, err := inmotion.Verify(body)
		require.NoError(t, err)
		out = append(out, m)
	}
	return out
}

func newTestSession(t *testing.T, opts ...Option) (*Session, *wire) {
	t.Helper()
	w := &wire{}
	s := New(w, Config{Poller: poller.Config{InitialDelay: time.Hour}}, opts...)
	t.Cleanup(func() { s.Close() })
	return s, w
}

func realTimeFrame(t *testing.T, speed int16, light bool) []byte {
	t.Helper()
	p := make([]byte, inmotion.MinRealTimePayload)
	binary.LittleEndian.PutUint16(p[0:], 8400)
	binary.LittleEndian.PutUint16(p[4:], uint16(speed))
	p[16] = 80
	if light {
		p[37] = 0x01
	}
	frame, err := inmotion.Encode(inmotion.NewMessage(inmotion.FlagDefault, inmotion.CmdRealTimeInfo, p...))
	require.NoError(t, err)
	return frame
}

func TestSession_HandleRealTime(t *testing.T) {
	var updates atomic.Int32
	s, _ := newTestSession(t, WithOnData(func() { updates.Add(1) }))

	s.HandleBytes(realTimeFrame(t, 1500, true))

	snap := s.Telemetry().Snapshot()
	assert.InDelta(t, 15.0, snap.Speed, 1e-9)
	assert.InDelta(t, 84.0, snap.Voltage, 1e-9)
	assert.True(t, snap.LightOn)
	assert.Equal(t, int32(1), updates.Load())

	st := s.Stats()
	assert.Equal(t, uint64(1), st.TotalFrames)
	assert.Equal(t, uint64(1), st.ValidFrames)
}

func TestSession_SplitChunks(t *testing.T) {
	var seen []inmotion.Message
	s, _ := newTestSession(t, WithMessageHook(func(m inmotion.Message) { seen = append(seen, m) }))

	frame := realTimeFrame(t, 2000, false)
	noise := []byte{0x01, 0x02, 0x03}
	stream := append(append(noise, frame...), frame...)
	for _, c := range stream {
		s.HandleBytes([]byte{c})
	}

	require.Len(t, seen, 2)
	assert.Equal(t, inmotion.CmdRealTimeInfo, seen[0].Command)
	st := s.Stats()
	assert.Equal(t, uint64(2), st.ValidFrames)
	assert.Equal(t, uint64(3), st.SkippedBytes)
}

func TestSession_ChecksumMismatchDropped(t *testing.T) {
	var updates atomic.Int32
	s, _ := newTestSession(t, WithOnData(func() { updates.Add(1) }))

	frame := realTimeFrame(t, 1500, false)
	frame[len(frame)-1] ^= 0x01
	s.HandleBytes(frame)

	assert.Zero(t, updates.Load())
	assert.Zero(t, s.Telemetry().Snapshot().Voltage)
	assert.Equal(t, uint64(1), s.Stats().ChecksumErrors)

	// The stream recovers on the next frame
	s.HandleBytes(realTimeFrame(t, 1500, false))
	assert.Equal(t, int32(1), updates.Load())
}

func TestSession_UnknownCommandCounted(t *testing.T) {
	s, _ := newTestSession(t)
	s.HandleBytes(inmotion.MustEncode(inmotion.NewMessage(inmotion.FlagDefault, inmotion.CmdSomething1, 0x00)))

	st := s.Stats()
	assert.Equal(t, uint64(1), st.ValidFrames)
	assert.Equal(t, uint64(1), st.UnknownCommands)
}

func TestSession_ResponseResetsStep(t *testing.T) {
	s, _ := newTestSession(t)

	s.poller.Tick()
	s.poller.Tick()
	require.Equal(t, 2, s.poller.Cursor().Step)

	s.HandleBytes(realTimeFrame(t, 0, false))
	assert.Equal(t, 0, s.poller.Cursor().Step)
}

func TestSession_ControlSendsAndReadsBack(t *testing.T) {
	s, w := newTestSession(t)

	require.NoError(t, s.SetVolume(60))
	assert.True(t, s.Status().Cursor.Pending)

	s.poller.Tick()
	for s.poller.Cursor().Step != 0 {
		s.poller.Tick()
	}
	s.poller.Tick()

	require.Eventually(t, func() bool { return len(w.messages(t)) == 2 }, time.Second, time.Millisecond)
	msgs := w.messages(t)
	assert.True(t, msgs[0].Equal(inmotion.NewSetVolume(60)))
	assert.True(t, msgs[1].Equal(inmotion.NewCarTypeRequest()))
	assert.True(t, s.Status().Cursor.ReadBack)
}

func TestSession_ToggleLight(t *testing.T) {
	s, w := newTestSession(t)

	s.HandleBytes(realTimeFrame(t, 0, true))
	require.NoError(t, s.ToggleLight())
	assert.False(t, s.Settings().Values().LightEnabled)

	s.poller.Tick()
	require.Eventually(t, func() bool { return len(w.messages(t)) == 1 }, time.Second, time.Millisecond)
	assert.True(t, w.messages(t)[0].Equal(inmotion.NewSetLight(false)))

	s.HandleBytes(realTimeFrame(t, 0, false))
	require.NoError(t, s.ToggleLight())
	assert.True(t, s.Settings().Values().LightEnabled)
}

func TestSession_ControlByName(t *testing.T) {
	s, _ := newTestSession(t)

	tests := []struct {
		name string
		arg  Arg
		err  error
	}{
		{"beep", Arg{}, nil},
		{"max_speed", Arg{Value: 35}, nil},
		{"max_speed", Arg{Value: 250}, ErrOutOfRange},
		{"pedal_tilt", Arg{Value: -3}, nil},
		{"pedal_tilt", Arg{Value: 11}, ErrOutOfRange},
		{"volume", Arg{Value: -1}, ErrOutOfRange},
		{"lock", Arg{On: true}, nil},
		{"warp_drive", Arg{}, ErrUnknownOp},
	}
	for _, tt := range tests {
		err := s.Control(tt.name, tt.arg)
		if tt.err == nil {
			assert.NoError(t, err, tt.name)
		} else {
			assert.ErrorIs(t, err, tt.err, tt.name)
		}
	}

	assert.Contains(t, Ops(), "toggle_light")
	assert.IsIncreasing(t, Ops())
}

func TestSession_PowerOff(t *testing.T) {
	s, w := newTestSession(t)

	require.NoError(t, s.PowerOff())
	assert.ErrorIs(t, s.PowerOff(), poller.ErrPowerOffInProgress)
	s.poller.Tick()

	// The wheel acknowledges the first stage on Initial/Diagnostic
	s.HandleBytes(inmotion.MustEncode(inmotion.NewMessage(inmotion.FlagInitial, inmotion.CmdDiagnostic, 0x81, 0x00)))
	assert.Equal(t, poller.PowerOffSecondStageQueued, s.Status().Cursor.PowerOff)

	s.poller.Tick()
	require.Eventually(t, func() bool { return len(w.messages(t)) == 2 }, time.Second, time.Millisecond)
	msgs := w.messages(t)
	assert.True(t, msgs[0].Equal(inmotion.NewPowerOffFirstStage()))
	assert.True(t, msgs[1].Equal(inmotion.NewPowerOffSecondStage()))
	assert.Equal(t, "idle", s.Status().PowerOff)
}

func TestSession_ControlsRejectedDuringPowerOff(t *testing.T) {
	s, w := newTestSession(t)

	require.NoError(t, s.PowerOff())
	assert.ErrorIs(t, s.Control("volume", Arg{Value: 40}), poller.ErrPowerOffInProgress)
	assert.ErrorIs(t, s.SetLight(true), poller.ErrPowerOffInProgress)
	assert.False(t, s.Settings().Values().LightEnabled)

	s.poller.Tick()
	require.Eventually(t, func() bool { return len(w.messages(t)) == 1 }, time.Second, time.Millisecond)
	assert.True(t, w.messages(t)[0].Equal(inmotion.NewPowerOffFirstStage()))
}

func TestSession_RunPassive(t *testing.T) {
	w := &wire{}
	s := New(w, Config{Passive: true})
	defer s.Close()

	var stream bytes.Buffer
	for i := 0; i < 3; i++ {
		stream.Write(realTimeFrame(t, int16(1000*i), false))
	}

	require.NoError(t, s.Run(context.Background(), &stream))
	assert.Equal(t, uint64(3), s.Stats().ValidFrames)
	assert.Empty(t, w.messages(t))
	assert.True(t, s.Status().Passive)
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

func TestSession_RunReadError(t *testing.T) {
	s, _ := newTestSession(t)
	err := s.Run(context.Background(), errReader{errors.New("port vanished")})
	assert.ErrorContains(t, err, "port vanished")
}

func TestSession_RunCanceled(t *testing.T) {
	s, _ := newTestSession(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Run(ctx, bytes.NewReader(nil)), context.Canceled)
}

func TestSession_RunPolls(t *testing.T) {
	w := &wire{}
	s := New(w, Config{Poller: poller.Config{InitialDelay: time.Millisecond, Interval: time.Millisecond}})
	defer s.Close()

	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background(), pr) }()

	require.Eventually(t, func() bool { return len(w.messages(t)) >= 1 }, 2*time.Second, time.Millisecond)
	assert.True(t, w.messages(t)[0].Equal(inmotion.NewCarTypeRequest()))

	require.NoError(t, pw.Close())
	require.NoError(t, <-done)
}

func TestSession_Capture(t *testing.T) {
	var buf bytes.Buffer
	var mu sync.Mutex
	cw := capture.NewWriter(lockedWriter{&mu, &buf})
	s, _ := newTestSession(t, WithCapture(cw))

	s.HandleBytes(realTimeFrame(t, 100, false))
	require.NoError(t, s.Beep())
	s.poller.Tick()
	require.Eventually(t, func() bool { return cw.Count() == 2 }, time.Second, time.Millisecond)

	mu.Lock()
	r := capture.NewReader(bytes.NewReader(buf.Bytes()))
	mu.Unlock()

	rec, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, capture.In, rec.Direction)
	rec, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, capture.Out, rec.Direction)
	assert.Equal(t, inmotion.MustEncode(inmotion.NewPlaySound(inmotion.SoundBeep)), rec.Data)
}

type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (l lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
