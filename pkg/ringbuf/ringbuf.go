// Package ringbuf implements a fixed-capacity byte queue over an external
// byte store.
//
// One producer and one consumer may use a RingBuffer concurrently without
// locking: the producer only advances the write cursor and the consumer only
// advances the read cursor. Writes and reads are all-or-nothing.
package ringbuf

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"
)

var (
	// ErrOverflow is returned when a write does not fit in the free space.
	ErrOverflow = errors.New("ringbuf: overflow")
	// ErrUnderflow is returned when a read asks for more bytes than are
	// buffered. It means "not ready yet".
	ErrUnderflow = errors.New("ringbuf: underflow")
)

// MaxCapacity is the largest supported capacity. It is typed so the
// package builds where int is 32 bits wide.
const MaxCapacity uint64 = 1 << 31

// Store is the backing medium of a RingBuffer: byte-range writes and reads at
// an absolute offset. The RingBuffer uses a Store, it never owns it.
type Store interface {
	io.WriterAt
	io.ReaderAt
}

// RingBuffer is a circular byte queue of fixed capacity.
type RingBuffer struct {
	store Store
	size  uint32

	// cursors run over [0, 2*size) so that a full buffer and an empty one
	// are distinguishable without a shared counter.
	w atomic.Uint32
	r atomic.Uint32
}

// New binds a ring buffer of the given capacity to store.
func New(store Store, capacity int) (*RingBuffer, error) {
	if store == nil {
		return nil, fmt.Errorf("ringbuf: nil store")
	}
	if capacity <= 0 || uint64(capacity) > MaxCapacity {
		return nil, fmt.Errorf("ringbuf: invalid capacity %d", capacity)
	}
	return &RingBuffer{store: store, size: uint32(capacity)}, nil
}

// Cap returns the capacity in bytes.
func (rb *RingBuffer) Cap() int {
	return int(rb.size)
}

// Len returns the number of unread bytes.
func (rb *RingBuffer) Len() int {
	return int(rb.used(rb.w.Load(), rb.r.Load()))
}

// Free returns the number of bytes that can be written.
func (rb *RingBuffer) Free() int {
	return int(rb.size - rb.used(rb.w.Load(), rb.r.Load()))
}

// WriteCursor returns the offset in the store of the next byte to write.
func (rb *RingBuffer) WriteCursor() int {
	return int(rb.pos(rb.w.Load()))
}

// ReadCursor returns the offset in the store of the next byte to read.
func (rb *RingBuffer) ReadCursor() int {
	return int(rb.pos(rb.r.Load()))
}

// Reset discards all buffered data. It must not race with Write or Read.
func (rb *RingBuffer) Reset() {
	rb.w.Store(0)
	rb.r.Store(0)
}

// Write copies all of p into the buffer, wrapping at the end of the store.
// It fails with ErrOverflow, leaving the buffer untouched, if p does not fit.
func (rb *RingBuffer) Write(p []byte) error {
	n := uint32(len(p))
	if n == 0 {
		return nil
	}

	w := rb.w.Load()
	free := rb.size - rb.used(w, rb.r.Load())
	if uint64(len(p)) > uint64(free) {
		return fmt.Errorf("%w: %d bytes, %d free", ErrOverflow, len(p), free)
	}

	pos := rb.pos(w)
	first := min(n, rb.size-pos)
	if _, err := rb.store.WriteAt(p[:first], int64(pos)); err != nil {
		return fmt.Errorf("ringbuf: could not write %d bytes at 0x%x: %w", first, pos, err)
	}
	if first < n {
		if _, err := rb.store.WriteAt(p[first:], 0); err != nil {
			return fmt.Errorf("ringbuf: could not write %d bytes at 0x0: %w", n-first, err)
		}
	}

	rb.w.Store(rb.advance(w, n))
	return nil
}

// Read fills all of p from the buffer. It fails with ErrUnderflow, consuming
// nothing, if fewer than len(p) bytes are buffered.
func (rb *RingBuffer) Read(p []byte) error {
	n := uint32(len(p))
	if n == 0 {
		return nil
	}

	r := rb.r.Load()
	used := rb.used(rb.w.Load(), r)
	if uint64(len(p)) > uint64(used) {
		return fmt.Errorf("%w: %d bytes, %d buffered", ErrUnderflow, len(p), used)
	}

	pos := rb.pos(r)
	first := min(n, rb.size-pos)
	if _, err := rb.store.ReadAt(p[:first], int64(pos)); err != nil {
		return fmt.Errorf("ringbuf: could not read %d bytes at 0x%x: %w", first, pos, err)
	}
	if first < n {
		if _, err := rb.store.ReadAt(p[first:], 0); err != nil {
			return fmt.Errorf("ringbuf: could not read %d bytes at 0x0: %w", n-first, err)
		}
	}

	rb.r.Store(rb.advance(r, n))
	return nil
}

func (rb *RingBuffer) used(w, r uint32) uint32 {
	if w >= r {
		return w - r
	}
	return 2*rb.size - r + w
}

func (rb *RingBuffer) pos(c uint32) uint32 {
	if c >= rb.size {
		return c - rb.size
	}
	return c
}

func (rb *RingBuffer) advance(c, n uint32) uint32 {
	c64 := uint64(c) + uint64(n)
	if c64 >= 2*uint64(rb.size) {
		c64 -= 2 * uint64(rb.size)
	}
	return uint32(c64)
}
