// Package sink delivers one joint torque value per control cycle.
//
// The payload is the torque as a 4-byte little-endian IEEE-754 float32 with
// no framing and no acknowledgement. What happens when a transport cannot
// keep up is up to the transport.
package sink

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
	"sync/atomic"
)

// PayloadSize is the size of one encoded torque value.
const PayloadSize = 4

// ErrShortPayload is returned by Decode for buffers under PayloadSize.
var ErrShortPayload = errors.New("torque payload too short")

// Sink receives torque estimates.
type Sink interface {
	Emit(tau float32) error
}

// Encode writes tau into dst[:PayloadSize].
func Encode(dst []byte, tau float32) {
	binary.LittleEndian.PutUint32(dst, math.Float32bits(tau))
}

// Decode reads a torque value from b.
func Decode(b []byte) (float32, error) {
	if len(b) < PayloadSize {
		return 0, ErrShortPayload
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b)), nil
}

// Writer writes each torque as a raw payload to an io.Writer.
// It reuses one buffer and is not safe for concurrent Emit calls.
type Writer struct {
	w   io.Writer
	buf [PayloadSize]byte
}

// NewWriter creates a Writer sink around w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Emit implements Sink.
func (s *Writer) Emit(tau float32) error {
	Encode(s.buf[:], tau)
	n, err := s.w.Write(s.buf[:])
	if err != nil {
		return err
	}
	if n != PayloadSize {
		return io.ErrShortWrite
	}
	return nil
}

// Latest keeps only the most recent torque for in-process consumers such
// as an outer control loop polling at its own rate.
type Latest struct {
	bits  atomic.Uint32
	count atomic.Uint64
}

// Emit implements Sink.
func (s *Latest) Emit(tau float32) error {
	s.bits.Store(math.Float32bits(tau))
	s.count.Add(1)
	return nil
}

// Load returns the last torque and how many values have been emitted.
func (s *Latest) Load() (float32, uint64) {
	return math.Float32frombits(s.bits.Load()), s.count.Load()
}

// Discard drops every value.
type Discard struct{}

// Emit implements Sink.
func (Discard) Emit(float32) error { return nil }

// Multi fans a torque out to several sinks; every sink is tried and the
// errors are joined.
type Multi []Sink

// Emit implements Sink.
func (m Multi) Emit(tau float32) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(tau); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
