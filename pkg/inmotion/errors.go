// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package inmotion

import "errors"

// Frame and payload errors. None of them are fatal; callers drop the frame
// or the single parse and keep listening.
var (
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrMalformed        = errors.New("malformed frame")
	ErrShortPayload     = errors.New("short payload")
	ErrUnknownCommand   = errors.New("unknown command")
	ErrPayloadTooLarge  = errors.New("payload too large")
)
