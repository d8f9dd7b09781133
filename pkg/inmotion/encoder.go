// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package inmotion

import "fmt"

// Encode creates a complete wire frame for m.
// Returns the frame bytes ready for transmission, including sync bytes,
// byte stuffing and the trailing checksum.
func Encode(m Message) ([]byte, error) {
	if len(m.Payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(m.Payload), MaxPayloadSize)
	}

	// flag + length + command + payload is what gets checksummed and stuffed
	data := make([]byte, 0, 3+len(m.Payload))
	data = append(data, byte(m.Flag), byte(m.Length()), byte(m.Command))
	data = append(data, m.Payload...)

	check := Checksum(data)
	stuffed := escapeBytes(data)

	frame := make([]byte, 0, len(stuffed)+3)
	frame = append(frame, SyncByte, SyncByte)
	frame = append(frame, stuffed...)
	frame = append(frame, check)

	return frame, nil
}

// MustEncode encodes m and panics on error.
// Builders in this package never produce oversized payloads.
func MustEncode(m Message) []byte {
	frame, err := Encode(m)
	if err != nil {
		panic(fmt.Sprintf("inmotion: encode error: %v", err))
	}
	return frame
}

// Verify checks and decodes an unescaped frame body (the unpacker buffer
// without its two sync bytes). The last byte is the checksum.
func Verify(body []byte) (Message, error) {
	if len(body) < MinFrameBody {
		return Message{}, fmt.Errorf("%w: %d bytes (min %d)", ErrMalformed, len(body), MinFrameBody)
	}

	data := body[:len(body)-1]
	got := body[len(body)-1]
	want := Checksum(data)
	if got != want {
		return Message{}, fmt.Errorf("%w: calculated 0x%02X, frame 0x%02X", ErrChecksumMismatch, want, got)
	}

	length := int(data[1])
	if length < 1 || 2+length > len(data) {
		return Message{}, fmt.Errorf("%w: length field %d with %d body bytes", ErrMalformed, length, len(data))
	}

	return NewMessage(Flag(data[0]), Command(data[2]&CommandMask), data[3:2+length]...), nil
}

// escapeBytes prefixes every sync or escape byte with an escape byte.
func escapeBytes(data []byte) []byte {
	result := make([]byte, 0, len(data)*2)

	for _, b := range data {
		if b == SyncByte || b == EscapeByte {
			result = append(result, EscapeByte)
		}
		result = append(result, b)
	}

	return result
}

// Unescape removes byte stuffing from wire bytes that follow the sync pair.
// An escape byte makes the next byte literal. A lone escape byte at the very
// end is kept, because the checksum is transmitted without stuffing.
func Unescape(data []byte) []byte {
	result := make([]byte, 0, len(data))

	for i := 0; i < len(data); i++ {
		b := data[i]
		if b == EscapeByte && i+1 < len(data) {
			i++
			b = data[i]
		}
		result = append(result, b)
	}

	return result
}
