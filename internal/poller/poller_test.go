// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package poller

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gowgos5/wheelstat/pkg/inmotion"
)

var errLinkBusy = errors.New("link busy")

type fakeLink struct {
	mu    sync.Mutex
	sent  []inmotion.Message
	fails int // number of upcoming sends to fail
}

func (l *fakeLink) Send(frame []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fails > 0 {
		l.fails--
		return errLinkBusy
	}
	m, err := inmotion.Verify(inmotion.Unescape(frame[2:]))
	if err != nil {
		return err
	}
	l.sent = append(l.sent, m)
	return nil
}

func (l *fakeLink) failNext(n int) {
	l.mu.Lock()
	l.fails = n
	l.mu.Unlock()
}

func (l *fakeLink) messages() []inmotion.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]inmotion.Message(nil), l.sent...)
}

func (l *fakeLink) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sent)
}

// cycle runs one full tick cycle
func cycle(s *Sequencer) {
	for i := 0; i < CycleLength; i++ {
		s.Tick()
	}
}

func newTestSequencer() (*Sequencer, *fakeLink) {
	link := &fakeLink{}
	return New(link, Config{}), link
}

func assertSent(t *testing.T, want []inmotion.Message, got []inmotion.Message) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.True(t, want[i].Equal(got[i]), "send %d: got %v, want %v", i, got[i], want[i])
	}
}

func TestSequencer_Schedule(t *testing.T) {
	s, link := newTestSequencer()

	for i := 0; i < 9; i++ {
		cycle(s)
	}

	assertSent(t, []inmotion.Message{
		inmotion.NewCarTypeRequest(),
		inmotion.NewSerialNumberRequest(),
		inmotion.NewVersionsRequest(),
		inmotion.NewSettingsRequest(),
		inmotion.NewUselessDataRequest(),
		inmotion.NewStatisticsRequest(),
		inmotion.NewRealTimeRequest(),
		inmotion.NewRealTimeRequest(),
		inmotion.NewRealTimeRequest(),
	}, link.messages())
	assert.Equal(t, StageRealTime, s.Cursor().Stage)
}

func TestSequencer_OneSendPerCycle(t *testing.T) {
	s, link := newTestSequencer()

	s.Tick()
	assert.Equal(t, 1, link.count())
	for i := 1; i < CycleLength; i++ {
		s.Tick()
	}
	assert.Equal(t, 1, link.count())
	s.Tick()
	assert.Equal(t, 2, link.count())
}

func TestSequencer_Backoff(t *testing.T) {
	s, link := newTestSequencer()
	link.failNext(1)

	s.Tick()
	assert.Equal(t, 0, link.count())
	assert.Equal(t, (BackoffStep+1)%CycleLength, s.Cursor().Step)
	assert.Equal(t, StageCarType, s.Cursor().Stage)

	// Remainder of the cycle is idle
	for s.Cursor().Step != 0 {
		s.Tick()
		assert.Equal(t, 0, link.count())
	}

	// Same request is retried at the cycle boundary
	s.Tick()
	assertSent(t, []inmotion.Message{inmotion.NewCarTypeRequest()}, link.messages())
	assert.Equal(t, StageSerial, s.Cursor().Stage)
}

func TestSequencer_BackoffAtEveryStage(t *testing.T) {
	for stage := StageCarType; stage <= StageRealTime; stage++ {
		t.Run(stage.String(), func(t *testing.T) {
			s, link := newTestSequencer()
			for s.Cursor().Stage != stage {
				cycle(s)
			}
			before := link.count()

			link.failNext(1)
			s.Tick()
			assert.Equal(t, before, link.count())
			assert.Equal(t, stage, s.Cursor().Stage)
			assert.Equal(t, 6, s.Cursor().Step)
		})
	}
}

func TestSequencer_PendingCommand(t *testing.T) {
	s, link := newTestSequencer()
	for i := 0; i < 7; i++ {
		cycle(s)
	}
	require.Equal(t, StageRealTime, s.Cursor().Stage)
	before := len(link.messages())

	require.NoError(t, s.Queue(inmotion.NewSetLight(true)))
	assert.True(t, s.Cursor().Pending)

	cycle(s)
	cycle(s)
	cycle(s)

	assertSent(t, []inmotion.Message{
		inmotion.NewSetLight(true),
		inmotion.NewSettingsRequest(),
		inmotion.NewRealTimeRequest(),
	}, link.messages()[before:])
	assert.False(t, s.Cursor().Pending)
	assert.False(t, s.Cursor().ReadBack)
	assert.Equal(t, StageRealTime, s.Cursor().Stage)
}

func TestSequencer_PendingBeforeInit(t *testing.T) {
	s, link := newTestSequencer()
	require.NoError(t, s.Queue(inmotion.NewPlaySound(inmotion.SoundBeep)))

	cycle(s)
	cycle(s)

	assertSent(t, []inmotion.Message{
		inmotion.NewPlaySound(inmotion.SoundBeep),
		inmotion.NewCarTypeRequest(),
	}, link.messages())
}

func TestSequencer_FailedCommandStaysPending(t *testing.T) {
	s, link := newTestSequencer()
	require.NoError(t, s.Queue(inmotion.NewSetVolume(40)))

	link.failNext(1)
	s.Tick()
	for s.Cursor().Step != 0 {
		s.Tick()
	}
	assert.True(t, s.Cursor().Pending)
	assert.Equal(t, 0, link.count())

	// Resent once at the cycle boundary
	s.Tick()
	assertSent(t, []inmotion.Message{inmotion.NewSetVolume(40)}, link.messages())
	assert.False(t, s.Cursor().Pending)
	assert.True(t, s.Cursor().ReadBack)
}

func TestSequencer_QueueRejectsOversize(t *testing.T) {
	s, _ := newTestSequencer()
	m := inmotion.NewMessage(inmotion.FlagDefault, inmotion.CmdControl, make([]byte, 300)...)
	assert.ErrorIs(t, s.Queue(m), inmotion.ErrPayloadTooLarge)
	assert.False(t, s.Cursor().Pending)
}

func TestSequencer_ResponseReceived(t *testing.T) {
	s, link := newTestSequencer()

	s.Tick()
	s.Tick()
	require.Equal(t, 1, link.count())

	s.ResponseReceived()
	assert.Equal(t, 0, s.Cursor().Step)
	s.Tick()
	assert.Equal(t, 2, link.count())
}

func TestSequencer_PowerOff(t *testing.T) {
	s, link := newTestSequencer()
	for i := 0; i < 7; i++ {
		cycle(s)
	}
	before := link.count()

	require.NoError(t, s.PowerOff())
	assert.Equal(t, PowerOffAwaitingAck, s.Cursor().PowerOff)
	assert.ErrorIs(t, s.PowerOff(), ErrPowerOffInProgress)

	cycle(s)
	assert.Equal(t, PowerOffAwaitingAck, s.Cursor().PowerOff)

	assert.True(t, s.AckPowerOff())
	assert.Equal(t, PowerOffSecondStageQueued, s.Cursor().PowerOff)
	assert.False(t, s.AckPowerOff())

	cycle(s)
	assert.Equal(t, PowerOffIdle, s.Cursor().PowerOff)

	assertSent(t, []inmotion.Message{
		inmotion.NewPowerOffFirstStage(),
		inmotion.NewPowerOffSecondStage(),
	}, link.messages()[before:])
}

func TestSequencer_QueueDuringPowerOff(t *testing.T) {
	t.Run("before first stage", func(t *testing.T) {
		s, link := newTestSequencer()
		require.NoError(t, s.PowerOff())

		assert.ErrorIs(t, s.Queue(inmotion.NewSetVolume(40)), ErrPowerOffInProgress)

		cycle(s)
		assertSent(t, []inmotion.Message{inmotion.NewPowerOffFirstStage()}, link.messages())
		assert.Equal(t, PowerOffAwaitingAck, s.Cursor().PowerOff)
	})

	t.Run("after acknowledgment", func(t *testing.T) {
		s, link := newTestSequencer()
		require.NoError(t, s.PowerOff())
		cycle(s)
		require.True(t, s.AckPowerOff())

		assert.ErrorIs(t, s.Queue(inmotion.NewSetLight(true)), ErrPowerOffInProgress)

		cycle(s)
		assertSent(t, []inmotion.Message{
			inmotion.NewPowerOffFirstStage(),
			inmotion.NewPowerOffSecondStage(),
		}, link.messages())
		assert.Equal(t, PowerOffIdle, s.Cursor().PowerOff)

		// Controls are accepted again once the chain is done
		assert.NoError(t, s.Queue(inmotion.NewSetLight(true)))
		assert.NoError(t, s.PowerOff())
	})

	t.Run("after timeout", func(t *testing.T) {
		link := &fakeLink{}
		s := New(link, Config{PowerOffAckTimeout: time.Second})
		now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
		s.now = func() time.Time { return now }

		require.NoError(t, s.PowerOff())
		cycle(s)
		assert.ErrorIs(t, s.Queue(inmotion.NewSetMute(true)), ErrPowerOffInProgress)

		now = now.Add(2 * time.Second)
		assert.NoError(t, s.Queue(inmotion.NewSetMute(true)))
		assert.Equal(t, PowerOffIdle, s.Cursor().PowerOff)
	})
}

func TestSequencer_AckWithoutPowerOff(t *testing.T) {
	s, _ := newTestSequencer()
	assert.False(t, s.AckPowerOff())
	assert.False(t, s.Cursor().Pending)
}

func TestSequencer_PowerOffTimeout(t *testing.T) {
	link := &fakeLink{}
	s := New(link, Config{PowerOffAckTimeout: time.Second})
	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.PowerOff())
	cycle(s)

	now = now.Add(2 * time.Second)
	s.Tick()
	assert.Equal(t, PowerOffIdle, s.Cursor().PowerOff)
	assert.False(t, s.AckPowerOff())

	// A new power-off may start after the timeout
	assert.NoError(t, s.PowerOff())
}

func TestSequencer_StopBeforeStart(t *testing.T) {
	s, _ := newTestSequencer()
	assert.NotPanics(t, func() {
		s.Stop()
		s.Stop()
	})
}

func TestSequencer_StartStop(t *testing.T) {
	link := &fakeLink{}
	s := New(link, Config{InitialDelay: time.Millisecond, Interval: time.Millisecond})

	s.Start()
	s.Start()
	assert.Eventually(t, func() bool { return link.count() >= 2 }, 2*time.Second, time.Millisecond)

	s.Stop()
	stopped := link.count()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, link.count(), "tick ran after Stop returned")

	s.Stop()
}

func TestSequencer_RestartResetsCursor(t *testing.T) {
	link := &fakeLink{}
	s := New(link, Config{InitialDelay: time.Hour})
	for i := 0; i < 5; i++ {
		cycle(s)
	}
	require.NotEqual(t, StageCarType, s.Cursor().Stage)

	s.Start()
	defer s.Stop()
	assert.Equal(t, StageCarType, s.Cursor().Stage)
}

func TestSequencer_ConcurrentQueueAndTick(t *testing.T) {
	s, link := newTestSequencer()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			s.Tick()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_ = s.Queue(inmotion.NewSetVolume(uint8(i)))
			_ = s.Cursor()
		}
	}()
	wg.Wait()

	assert.Equal(t, 50, link.count())
}
