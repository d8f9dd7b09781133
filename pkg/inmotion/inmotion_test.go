// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package inmotion

import (
	"bytes"
	"errors"
	"testing"
)

func TestChecksum_Empty(t *testing.T) {
	if got := Checksum(nil); got != 0 {
		t.Errorf("Checksum(nil) = 0x%02X, want 0x00", got)
	}
}

func TestChecksum_KnownValues(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want byte
	}{
		{"realtime request", []byte{0x14, 0x01, 0x04}, 0x11},
		{"car type request", []byte{0x11, 0x02, 0x02, 0x01}, 0x10},
		{"self cancelling", []byte{0xAA, 0xAA}, 0x00},
		{"single byte", []byte{0xA5}, 0xA5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Checksum(tt.data); got != tt.want {
				t.Errorf("Checksum(% X) = 0x%02X, want 0x%02X", tt.data, got, tt.want)
			}
		})
	}
}

func TestEncode_RealTimeRequestVector(t *testing.T) {
	frame, err := Encode(NewRealTimeRequest())
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	want := []byte{0xAA, 0xAA, 0x14, 0x01, 0x04, 0x14 ^ 0x01 ^ 0x04}
	if !bytes.Equal(frame, want) {
		t.Errorf("Encode() = % X, want % X", frame, want)
	}
}

func TestEncode_EscapesSyncAndEscapeBytes(t *testing.T) {
	m := NewMessage(FlagDefault, CmdControl, 0xAA, 0x01, 0xA5)
	frame := MustEncode(m)

	// flag, len, cmd, A5 AA, 01, A5 A5, checksum
	check := Checksum([]byte{0x14, 0x04, 0x60, 0xAA, 0x01, 0xA5})
	want := []byte{0xAA, 0xAA, 0x14, 0x04, 0x60, 0xA5, 0xAA, 0x01, 0xA5, 0xA5, check}
	if !bytes.Equal(frame, want) {
		t.Errorf("Encode() = % X, want % X", frame, want)
	}
}

func TestEncode_PayloadTooLarge(t *testing.T) {
	m := NewMessage(FlagDefault, CmdControl, make([]byte, MaxPayloadSize+1)...)
	if _, err := Encode(m); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("Encode() error = %v, want ErrPayloadTooLarge", err)
	}

	m = NewMessage(FlagDefault, CmdControl, make([]byte, MaxPayloadSize)...)
	if _, err := Encode(m); err != nil {
		t.Errorf("Encode() with max payload error = %v", err)
	}
}

func TestVerify_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{"empty payload", NewRealTimeRequest()},
		{"settings request", NewSettingsRequest()},
		{"max speed", NewSetMaxSpeed(45)},
		{"sync bytes in payload", NewMessage(FlagDefault, CmdRealTimeInfo, 0xAA, 0xAA, 0xAA)},
		{"escape bytes in payload", NewMessage(FlagDefault, CmdRealTimeInfo, 0xA5, 0xA5)},
		{"checksum is escape value", NewMessage(FlagDefault, CmdRealTimeInfo, 0xB7)},
		{"checksum is sync value", NewMessage(FlagDefault, CmdRealTimeInfo, 0xB8)},
		{"power off", NewPowerOffFirstStage()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := MustEncode(tt.msg)
			got, err := Verify(Unescape(frame[2:]))
			if err != nil {
				t.Fatalf("Verify() error = %v", err)
			}
			if !got.Equal(tt.msg) {
				t.Errorf("Verify() = %v, want %v", got, tt.msg)
			}
		})
	}
}

func TestVerify_ChecksumMismatch(t *testing.T) {
	body := []byte{0x14, 0x01, 0x04, 0x12}
	_, err := Verify(body)
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("Verify() error = %v, want ErrChecksumMismatch", err)
	}
}

func TestVerify_SingleBitFlip(t *testing.T) {
	body := []byte{0x14, 0x03, 0x60, 0x40, 0x01}
	body = append(body, Checksum(body))

	for i := 0; i < len(body)-1; i++ {
		for bit := 0; bit < 8; bit++ {
			corrupt := append([]byte(nil), body...)
			corrupt[i] ^= 1 << bit
			if _, err := Verify(corrupt); !errors.Is(err, ErrChecksumMismatch) {
				t.Errorf("byte %d bit %d: Verify() error = %v, want ErrChecksumMismatch", i, bit, err)
			}
		}
	}
}

func TestVerify_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"three bytes", []byte{0x14, 0x01, 0x15}},
		{"zero length field", withCheck(0x14, 0x00, 0x04)},
		{"length beyond body", withCheck(0x14, 0x05, 0x04, 0x01)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Verify(tt.data); !errors.Is(err, ErrMalformed) {
				t.Errorf("Verify() error = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestVerify_MasksCommandTopBit(t *testing.T) {
	m, err := Verify(withCheck(0x14, 0x01, 0x84))
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if m.Command != CmdRealTimeInfo {
		t.Errorf("Command = %s, want %s", m.Command, CmdRealTimeInfo)
	}
}

func TestUnescape(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want []byte
	}{
		{"no escapes", []byte{0x14, 0x01, 0x04}, []byte{0x14, 0x01, 0x04}},
		{"escaped sync", []byte{0xA5, 0xAA, 0x01}, []byte{0xAA, 0x01}},
		{"escaped escape", []byte{0xA5, 0xA5}, []byte{0xA5}},
		{"trailing lone escape kept", []byte{0x01, 0xA5}, []byte{0x01, 0xA5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Unescape(tt.in); !bytes.Equal(got, tt.want) {
				t.Errorf("Unescape(% X) = % X, want % X", tt.in, got, tt.want)
			}
		})
	}
}

func TestUnpacker_SimpleFrame(t *testing.T) {
	u := NewUnpacker()
	frame := MustEncode(NewRealTimeRequest())

	for i, b := range frame {
		ready := u.AddByte(b)
		if i < len(frame)-1 && ready {
			t.Fatalf("AddByte() ready early at byte %d", i)
		}
		if i == len(frame)-1 && !ready {
			t.Fatal("AddByte() not ready after last byte")
		}
	}

	if u.State() != StateComplete {
		t.Errorf("State() = %s, want COMPLETE", u.State())
	}
	if !bytes.Equal(u.Buffer(), frame) {
		t.Errorf("Buffer() = % X, want % X", u.Buffer(), frame)
	}
	if !bytes.Equal(u.Body(), frame[2:]) {
		t.Errorf("Body() = % X, want % X", u.Body(), frame[2:])
	}
}

func TestUnpacker_StateProgression(t *testing.T) {
	u := NewUnpacker()
	steps := []struct {
		b    byte
		want UnpackState
	}{
		{0xAA, StateIdle},
		{0xAA, StateAwaitFlag},
		{0x14, StateAwaitLength},
		{0x01, StateCollecting},
		{0x04, StateCollecting},
		{0x11, StateComplete},
	}

	for i, s := range steps {
		u.AddByte(s.b)
		if u.State() != s.want {
			t.Fatalf("step %d: State() = %s, want %s", i, u.State(), s.want)
		}
	}
}

func TestUnpacker_ByteStuffing(t *testing.T) {
	m := NewMessage(FlagDefault, CmdControl, 0xAA, 0xA5, 0x00, 0xA5, 0xAA, 0xAA)
	frame := MustEncode(m)

	u := NewUnpacker()
	bodies := u.Feed(frame)
	if len(bodies) != 1 {
		t.Fatalf("Feed() returned %d frames, want 1", len(bodies))
	}

	raw := []byte{byte(m.Flag), byte(m.Length()), byte(m.Command)}
	raw = append(raw, m.Payload...)
	raw = append(raw, Checksum(raw))
	if !bytes.Equal(bodies[0], raw) {
		t.Errorf("Body() = % X, want % X", bodies[0], raw)
	}

	got, err := Verify(bodies[0])
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !got.Equal(m) {
		t.Errorf("Verify() = %v, want %v", got, m)
	}
}

func TestUnpacker_RawChecksumByte(t *testing.T) {
	tests := []struct {
		name    string
		payload byte
		check   byte
	}{
		{"escape value checksum", 0xB7, 0xA5},
		{"sync value checksum", 0xB8, 0xAA},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMessage(FlagDefault, CmdRealTimeInfo, tt.payload)
			frame := MustEncode(m)
			if frame[len(frame)-1] != tt.check {
				t.Fatalf("checksum = 0x%02X, want 0x%02X", frame[len(frame)-1], tt.check)
			}

			u := NewUnpacker()
			bodies := u.Feed(frame)
			if len(bodies) != 1 {
				t.Fatalf("Feed() returned %d frames, want 1", len(bodies))
			}
			if _, err := Verify(bodies[0]); err != nil {
				t.Errorf("Verify() error = %v", err)
			}
		})
	}
}

func TestUnpacker_Resync(t *testing.T) {
	tests := []struct {
		name    string
		garbage []byte
	}{
		// Declares 4 payload bytes, delivers 1
		{"truncated frame", []byte{0x00, 0x13, 0xAA, 0xAA, 0x14, 0x05, 0x04, 0x01}},
		{"noise", []byte{0x01, 0x02, 0x03}},
		{"stray escape byte", []byte{0x01, 0x02, 0xA5}},
		{"escaped sync between frames", []byte{0xA5, 0xAA, 0xA5, 0xA5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stream := append(append([]byte{}, tt.garbage...), MustEncode(NewRealTimeRequest())...)

			u := NewUnpacker()
			ready := 0
			for _, b := range stream {
				if u.AddByte(b) {
					ready++
					m, err := Verify(u.Body())
					if err != nil {
						t.Fatalf("Verify() error = %v", err)
					}
					if !m.Equal(NewRealTimeRequest()) {
						t.Errorf("frame = %v, want realtime request", m)
					}
				}
			}

			if ready != 1 {
				t.Errorf("ready signals = %d, want 1", ready)
			}
			if u.Skipped() == 0 {
				t.Error("Skipped() = 0, want discarded bytes counted")
			}
		})
	}
}

func TestUnpacker_TruncatedAfterEscape(t *testing.T) {
	// The cut-off escape swallows the first sync byte of the next frame, so
	// only the frame after it is received
	stream := []byte{0xAA, 0xAA, 0x14, 0x10, 0x04, 0xA5}
	stream = append(stream, MustEncode(NewSettingsRequest())...)
	stream = append(stream, MustEncode(NewRealTimeRequest())...)

	bodies := NewUnpacker().Feed(stream)
	if len(bodies) != 1 {
		t.Fatalf("Feed() returned %d frames, want 1", len(bodies))
	}
	m, err := Verify(bodies[0])
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !m.Equal(NewRealTimeRequest()) {
		t.Errorf("frame = %v, want realtime request", m)
	}
}

func TestUnpacker_SyncRunOpensFrame(t *testing.T) {
	stream := append([]byte{0xAA, 0xAA, 0xAA}, MustEncode(NewSettingsRequest())...)

	bodies := NewUnpacker().Feed(stream)
	if len(bodies) != 1 {
		t.Fatalf("Feed() returned %d frames, want 1", len(bodies))
	}
	if _, err := Verify(bodies[0]); err != nil {
		t.Errorf("Verify() error = %v", err)
	}
}

func TestUnpacker_InvalidLength(t *testing.T) {
	u := NewUnpacker()
	u.Feed([]byte{0xAA, 0xAA, 0x14, 0x00})
	if u.State() != StateIdle {
		t.Errorf("zero length: State() = %s, want IDLE", u.State())
	}

	u.Feed([]byte{0xAA, 0xAA, 0x14, 0xFC})
	if u.State() != StateIdle {
		t.Errorf("oversize length: State() = %s, want IDLE", u.State())
	}
}

func TestUnpacker_BackToBackFrames(t *testing.T) {
	var stream []byte
	msgs := []Message{NewCarTypeRequest(), NewSetLight(true), NewRealTimeRequest()}
	for _, m := range msgs {
		stream = append(stream, MustEncode(m)...)
	}

	bodies := NewUnpacker().Feed(stream)
	if len(bodies) != len(msgs) {
		t.Fatalf("Feed() returned %d frames, want %d", len(bodies), len(msgs))
	}
	for i, body := range bodies {
		m, err := Verify(body)
		if err != nil {
			t.Fatalf("frame %d: Verify() error = %v", i, err)
		}
		if !m.Equal(msgs[i]) {
			t.Errorf("frame %d = %v, want %v", i, m, msgs[i])
		}
	}
}

func TestUnpacker_CompletedBufferNotReused(t *testing.T) {
	u := NewUnpacker()
	u.Feed(MustEncode(NewRealTimeRequest()))
	if u.State() != StateComplete {
		t.Fatalf("State() = %s, want COMPLETE", u.State())
	}

	u.AddByte(0x00)
	if u.State() != StateIdle {
		t.Errorf("State() = %s, want IDLE", u.State())
	}
	if u.Body() != nil {
		t.Errorf("Body() = % X, want nil", u.Body())
	}
}

func TestUnpacker_Reset(t *testing.T) {
	u := NewUnpacker()
	u.Feed([]byte{0xAA, 0xAA, 0x14, 0x05, 0x04})
	u.Reset()

	if u.State() != StateIdle {
		t.Errorf("State() = %s, want IDLE", u.State())
	}
	if len(u.Buffer()) != 0 {
		t.Errorf("Buffer() = % X, want empty", u.Buffer())
	}
}

func withCheck(data ...byte) []byte {
	return append(data, Checksum(data))
}
