// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package inmotion

import (
	"bytes"
	"fmt"
)

// Message is a checksum-verified (flag, command, payload) triple.
// Received messages are only produced by Verify.
type Message struct {
	Flag    Flag
	Command Command
	Payload []byte
}

// NewMessage creates a message with a copy of payload.
func NewMessage(flag Flag, cmd Command, payload ...byte) Message {
	p := make([]byte, len(payload))
	copy(p, payload)
	return Message{Flag: flag, Command: cmd, Payload: p}
}

// Length returns the value of the wire length field (payload + command byte).
func (m Message) Length() int {
	return len(m.Payload) + 1
}

// Equal reports whether two messages carry the same flag, command and payload.
func (m Message) Equal(o Message) bool {
	return m.Flag == o.Flag && m.Command == o.Command && bytes.Equal(m.Payload, o.Payload)
}

func (m Message) String() string {
	return fmt.Sprintf("%s/%s % X", m.Flag, m.Command, m.Payload)
}
