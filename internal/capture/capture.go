// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package capture records raw link traffic as a stream of CBOR records so a
// session can be replayed offline.
package capture

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Direction of a captured chunk
type Direction uint8

// Directions
const (
	In Direction = iota
	Out
)

func (d Direction) String() string {
	if d == Out {
		return "out"
	}
	return "in"
}

// Record is one captured chunk of link bytes. It is encoded as a CBOR array
// [unix nanoseconds, direction, bytes].
type Record struct {
	_         struct{} `cbor:",toarray"`
	Time      int64
	Direction Direction
	Data      []byte
}

// Timestamp returns the record time
func (r Record) Timestamp() time.Time {
	return time.Unix(0, r.Time)
}

// Writer appends records to an io.Writer. It is safe for concurrent use.
type Writer struct {
	mu  sync.Mutex
	enc *cbor.Encoder
	now func() time.Time
	n   int
}

// NewWriter creates a capture writer on w
func NewWriter(w io.Writer) *Writer {
	return &Writer{enc: cbor.NewEncoder(w), now: time.Now}
}

// Write records a copy of data in direction dir
func (w *Writer) Write(dir Direction, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	rec := Record{Time: w.now().UnixNano(), Direction: dir, Data: data}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(rec); err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	w.n++
	return nil
}

// Count returns the number of records written
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n
}

// Reader reads records written by Writer
type Reader struct {
	dec *cbor.Decoder
}

// NewReader creates a capture reader on r
func NewReader(r io.Reader) *Reader {
	return &Reader{dec: cbor.NewDecoder(r)}
}

// Next returns the next record, or io.EOF at the end of the capture
func (r *Reader) Next() (Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("capture: %w", err)
	}
	return rec, nil
}

// Inbound returns an io.Reader over the inbound bytes of the capture in
// record order. Outbound records are skipped.
func (r *Reader) Inbound() io.Reader {
	return &inboundReader{r: r}
}

type inboundReader struct {
	r   *Reader
	buf []byte
}

func (ir *inboundReader) Read(p []byte) (int, error) {
	for len(ir.buf) == 0 {
		rec, err := ir.r.Next()
		if err != nil {
			return 0, err
		}
		if rec.Direction == In {
			ir.buf = rec.Data
		}
	}
	n := copy(p, ir.buf)
	ir.buf = ir.buf[n:]
	return n, nil
}
