// Package sdcard emulates a block-addressed storage card over a byte store.
//
// Single-block writes can be issued in one call or as a begin/continue
// sequence, where every continuation step transfers one chunk of the block.
// This mirrors the multi-step SPI write protocol of a real card and lets the
// caller interleave other work between the steps.
package sdcard

import (
	"errors"
	"fmt"

	"github.com/itohio/pwrlog/pkg/store"
)

const (
	// BlockSize is the size of a card block in bytes.
	BlockSize = 512
	// DefaultChunk is the number of bytes transferred per continuation step.
	DefaultChunk = 128
)

var (
	ErrBlockRange = errors.New("sdcard: block out of range")
	ErrBlockSize  = errors.New("sdcard: invalid block length")
	ErrBusy       = errors.New("sdcard: write in progress")
)

// Card is a block device backed by a Store.
type Card struct {
	store  store.Store
	blocks uint32
	chunk  int

	pending struct {
		busy bool
		idx  uint32
		off  int
		buf  [BlockSize]byte
	}
}

// New returns a card over s. Trailing bytes that do not fill a block are
// unused. A chunk <= 0 selects DefaultChunk.
func New(s store.Store, chunk int) (*Card, error) {
	if s == nil {
		return nil, fmt.Errorf("sdcard: nil store")
	}
	blocks := s.Len() / BlockSize
	if blocks == 0 {
		return nil, fmt.Errorf("sdcard: store too small (%d bytes)", s.Len())
	}
	if chunk <= 0 {
		chunk = DefaultChunk
	}
	if chunk > BlockSize {
		chunk = BlockSize
	}
	return &Card{store: s, blocks: uint32(blocks), chunk: chunk}, nil
}

// NumBlocks returns the number of addressable blocks.
func (c *Card) NumBlocks() uint32 { return c.blocks }

// Busy reports whether a pipelined write is outstanding.
func (c *Card) Busy() bool { return c.pending.busy }

// ReadBlock reads block idx into p.
func (c *Card) ReadBlock(idx uint32, p []byte) error {
	if err := c.check(idx, p); err != nil {
		return err
	}
	_, err := c.store.ReadAt(p, int64(idx)*BlockSize)
	if err != nil {
		return fmt.Errorf("sdcard: could not read block %d: %w", idx, err)
	}
	return nil
}

// WriteBlock writes p to block idx in a single call.
func (c *Card) WriteBlock(idx uint32, p []byte) error {
	if err := c.check(idx, p); err != nil {
		return err
	}
	if c.pending.busy {
		return ErrBusy
	}
	_, err := c.store.WriteAt(p, int64(idx)*BlockSize)
	if err != nil {
		return fmt.Errorf("sdcard: could not write block %d: %w", idx, err)
	}
	return nil
}

// BeginWrite starts a pipelined write of p to block idx. The block content is
// captured, so p may be reused immediately. Starting a new write drops any
// unfinished one.
func (c *Card) BeginWrite(idx uint32, p []byte) error {
	if err := c.check(idx, p); err != nil {
		return err
	}
	c.pending.busy = true
	c.pending.idx = idx
	c.pending.off = 0
	copy(c.pending.buf[:], p)
	return nil
}

// ContinueWrite transfers the next chunk of the pending write and reports
// whether the block is complete. It reports done when nothing is pending.
func (c *Card) ContinueWrite() (bool, error) {
	if !c.pending.busy {
		return true, nil
	}
	end := min(c.pending.off+c.chunk, BlockSize)
	off := int64(c.pending.idx)*BlockSize + int64(c.pending.off)
	_, err := c.store.WriteAt(c.pending.buf[c.pending.off:end], off)
	if err != nil {
		c.pending.busy = false
		return false, fmt.Errorf("sdcard: could not write block %d: %w", c.pending.idx, err)
	}
	c.pending.off = end
	if end == BlockSize {
		c.pending.busy = false
		return true, nil
	}
	return false, nil
}

// AbortWrite drops the pending write. Chunks already transferred stay on the
// card.
func (c *Card) AbortWrite() {
	c.pending.busy = false
}

func (c *Card) check(idx uint32, p []byte) error {
	if idx >= c.blocks {
		return fmt.Errorf("%w: %d >= %d", ErrBlockRange, idx, c.blocks)
	}
	if len(p) != BlockSize {
		return fmt.Errorf("%w: %d", ErrBlockSize, len(p))
	}
	return nil
}
