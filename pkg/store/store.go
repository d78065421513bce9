// Package store provides fixed-capacity byte stores addressed by absolute
// offset. They back the sample ring buffer (external SRAM) and the storage
// card image.
package store

import (
	"fmt"
	"io"
)

// Store is a fixed-capacity byte store.
type Store interface {
	io.ReaderAt
	io.WriterAt
	Len() int
}

// Mem is a Store held in process memory.
type Mem struct {
	data []byte
}

// NewMem returns a zeroed in-memory store of size bytes.
func NewMem(size int) *Mem {
	return &Mem{data: make([]byte, size)}
}

// Len returns the capacity of the store.
func (m *Mem) Len() int {
	return len(m.data)
}

// ReadAt implements io.ReaderAt.
func (m *Mem) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(m.data)) {
		return 0, fmt.Errorf("store: invalid ReadAt offset %d", off)
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements io.WriterAt.
func (m *Mem) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(m.data)) {
		return 0, fmt.Errorf("store: invalid WriteAt offset %d", off)
	}
	n := copy(m.data[off:], p)
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

var _ Store = (*Mem)(nil)
