// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package inmotion

// UnpackState is the state of the stream unpacker
type UnpackState int

// Unpacker states
const (
	StateIdle UnpackState = iota
	StateAwaitFlag
	StateAwaitLength
	StateCollecting
	StateComplete
)

func (s UnpackState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateAwaitFlag:
		return "AWAIT_FLAG"
	case StateAwaitLength:
		return "AWAIT_LENGTH"
	case StateCollecting:
		return "COLLECTING"
	case StateComplete:
		return "COMPLETE"
	default:
		return "UNKNOWN"
	}
}

// Unpacker accumulates link bytes into candidate frames, removing byte
// stuffing as it goes. One Unpacker belongs to one connection and must only
// be fed from that connection's read path.
type Unpacker struct {
	state    UnpackState
	buffer   []byte
	length   int
	escaped  bool // previous raw byte was a swallowed escape byte
	prevSync bool // previous raw byte was an unescaped sync byte
	skipped  int  // bytes discarded while searching for a frame start
}

// NewUnpacker creates a new stream unpacker
func NewUnpacker() *Unpacker {
	return &Unpacker{
		state:  StateIdle,
		buffer: make([]byte, 0, MaxPayloadSize+headerSize+2),
	}
}

// Reset discards any partial frame and returns to idle
func (u *Unpacker) Reset() {
	u.state = StateIdle
	u.buffer = u.buffer[:0]
	u.length = 0
	u.escaped = false
	u.prevSync = false
}

// State returns the current unpacker state
func (u *Unpacker) State() UnpackState {
	return u.state
}

// Buffer returns the candidate frame including both sync bytes.
// Only meaningful right after AddByte returned true.
func (u *Unpacker) Buffer() []byte {
	out := make([]byte, len(u.buffer))
	copy(out, u.buffer)
	return out
}

// Body returns the completed frame without its sync bytes, ready for Verify.
// Returns nil unless a frame is complete.
func (u *Unpacker) Body() []byte {
	if u.state != StateComplete {
		return nil
	}
	out := make([]byte, len(u.buffer)-2)
	copy(out, u.buffer[2:])
	return out
}

// Skipped returns the number of bytes discarded since the last call and
// clears the counter.
func (u *Unpacker) Skipped() int {
	n := u.skipped
	u.skipped = 0
	return n
}

// AddByte processes a single received byte.
// Returns true when a complete candidate frame is buffered.
func (u *Unpacker) AddByte(c byte) bool {
	// A completed buffer is never reused for the next frame
	if u.state == StateComplete {
		u.state = StateIdle
		u.buffer = u.buffer[:0]
	}

	// The checksum is sent without stuffing: take it raw
	if u.state == StateCollecting && len(u.buffer) == u.length+headerSize {
		u.buffer = append(u.buffer, c)
		u.state = StateComplete
		u.escaped = false
		u.prevSync = false
		return true
	}

	// Between frames every sync byte is a frame start candidate
	if u.state == StateIdle {
		sync := c == SyncByte
		if sync && u.prevSync {
			u.start()
			return false
		}
		if !sync {
			u.skipped++
		}
		u.prevSync = sync
		return false
	}

	// Handle byte stuffing
	if c == EscapeByte && !u.escaped {
		u.escaped = true
		u.prevSync = false
		return false
	}
	literal := u.escaped
	u.escaped = false
	sync := c == SyncByte && !literal

	switch u.state {
	case StateAwaitFlag:
		if sync {
			// A run of sync bytes: the last pair opens the frame
			u.start()
			return false
		}
		u.buffer = append(u.buffer, c)
		u.state = StateAwaitLength

	case StateAwaitLength:
		if sync || c == 0 || int(c) > MaxPayloadSize+1 {
			u.abort(sync)
			return false
		}
		u.buffer = append(u.buffer, c)
		u.length = int(c)
		u.state = StateCollecting

	case StateCollecting:
		if sync {
			// Unescaped sync inside a body: the frame was truncated
			u.abort(true)
			return false
		}
		u.buffer = append(u.buffer, c)
	}

	u.prevSync = sync
	return false
}

// Feed adds every byte of p and returns the bodies of all frames completed
// along the way.
func (u *Unpacker) Feed(p []byte) [][]byte {
	var bodies [][]byte
	for _, c := range p {
		if u.AddByte(c) {
			bodies = append(bodies, u.Body())
		}
	}
	return bodies
}

// start seeds the buffer with the sync pair and waits for the flag
func (u *Unpacker) start() {
	u.buffer = append(u.buffer[:0], SyncByte, SyncByte)
	u.length = 0
	u.state = StateAwaitFlag
	u.prevSync = false
}

// abort drops the candidate frame and resynchronizes
func (u *Unpacker) abort(sync bool) {
	u.skipped += len(u.buffer)
	u.buffer = u.buffer[:0]
	u.length = 0
	u.state = StateIdle
	u.escaped = false
	u.prevSync = sync
}
