// Package logfs implements an append-only log filesystem over a
// block-addressed medium.
//
// Block 0 holds the Superblock. Files follow from block 1, each one a
// StartBlock followed by its data blocks. Start blocks form a forward-linked
// chain ordered by sequence number; a start block is only part of the chain
// when its format iteration matches the superblock, so a format invalidates
// every file written before it without touching the data.
//
// A single file is open at a time, either for appending (a newly created
// file) or for reading. Data can be appended with Write, or block by block
// with the non-blocking BeginBlockWrite / ContinueBlockWrite pair.
package logfs

import (
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"time"
)

// Medium is a block device with BlockSize blocks.
//
// BeginWrite starts a multi-step write of one block; each ContinueWrite call
// performs one step and reports whether the block is complete. p must not be
// modified until then. AbortWrite drops an unfinished write.
type Medium interface {
	NumBlocks() uint32
	ReadBlock(idx uint32, p []byte) error
	WriteBlock(idx uint32, p []byte) error
	BeginWrite(idx uint32, p []byte) error
	ContinueWrite() (done bool, err error)
	AbortWrite()
}

// Clock provides the time stamped into new files.
type Clock interface {
	Now() (s, ms uint32)
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() (s, ms uint32)

func (f ClockFunc) Now() (uint32, uint32) { return f() }

func wallClock() (uint32, uint32) {
	now := time.Now()
	return uint32(now.Unix()), uint32(now.Nanosecond() / 1e6)
}

// Option configures a FS.
type Option func(*FS)

// WithLogger sets the logger used to report filesystem events.
func WithLogger(msg *log.Logger) Option {
	return func(fs *FS) { fs.msg = msg }
}

// WithClock sets the clock stamped into new files.
func WithClock(clk Clock) Option {
	return func(fs *FS) { fs.clk = clk }
}

type pipeState uint8

const (
	pipeIdle pipeState = iota
	pipeData
	pipeMeta
)

// FS is a log filesystem bound to a medium.
type FS struct {
	dev Medium
	clk Clock
	msg *log.Logger

	sb      Superblock
	mounted bool

	// newest file of the current format
	headIdx uint32
	head    StartBlock

	// last file located by sequence number
	knownIdx uint32
	knownSeq uint32

	file struct {
		open   bool
		create bool
		idx    uint32
		meta   StartBlock
		pos    uint32
	}

	tail  [BlockSize]byte // partially filled last block of the new file
	cache struct {
		ok  bool
		idx uint32
		buf [BlockSize]byte
	}

	pipe struct {
		state     pipeState
		unflushed uint32 // data blocks appended since the last metadata flush
		meta      [BlockSize]byte
	}

	blk [BlockSize]byte
}

// New returns a filesystem over dev. It must be mounted or formatted before
// use.
func New(dev Medium, opts ...Option) *FS {
	fs := &FS{
		dev: dev,
		clk: ClockFunc(wallClock),
		msg: log.New(os.Stdout, "logfs: ", 0),
	}
	for _, opt := range opts {
		opt(fs)
	}
	return fs
}

// Superblock returns the superblock of the mounted medium.
func (fs *FS) Superblock() Superblock { return fs.sb }

// Portable reports whether the medium is formatted for portable operation.
func (fs *FS) Portable() bool { return fs.sb.Portable }

// FileSeq returns the sequence number of the newest file, 0 when the medium
// holds none.
func (fs *FS) FileSeq() uint32 { return fs.head.Seq }

// IsOpen reports whether a file is open.
func (fs *FS) IsOpen() bool { return fs.file.open }

// Busy reports whether a pipelined block write is outstanding.
func (fs *FS) Busy() bool { return fs.pipe.state != pipeIdle }

// Mount reads the superblock and walks the file chain to find the newest
// file. It fails with ErrNoSuperblock when the medium is not formatted.
func (fs *FS) Mount() error {
	fs.reset()

	if err := fs.readBlock(superblockIdx, fs.blk[:]); err != nil {
		return err
	}
	var sb Superblock
	if err := sb.UnmarshalBinary(fs.blk[:]); err != nil || !sb.Valid() {
		return ErrNoSuperblock
	}
	fs.sb = sb
	fs.mounted = true

	if err := fs.scan(); err != nil {
		fs.mounted = false
		return fmt.Errorf("logfs: could not scan files: %w", err)
	}
	fs.msg.Printf("mounted: iter=%d portable=%v files=%d", fs.sb.FmtIter, fs.sb.Portable, fs.head.Seq)
	return nil
}

// Format writes a new superblock with the next format iteration. Every file
// on the medium becomes unreachable and the file sequence restarts.
func (fs *FS) Format(portable bool) error {
	fs.reset()

	iter := uint32(0)
	if err := fs.readBlock(superblockIdx, fs.blk[:]); err != nil {
		return fmt.Errorf("%w: %w", ErrFormat, err)
	}
	var old Superblock
	if err := old.UnmarshalBinary(fs.blk[:]); err == nil && old.Valid() {
		iter = old.FmtIter
	}
	// a first file left behind by a lost superblock must not come back
	if fs.dev.NumBlocks() > firstFileIdx {
		if err := fs.readBlock(firstFileIdx, fs.blk[:]); err != nil {
			return fmt.Errorf("%w: %w", ErrFormat, err)
		}
		var s StartBlock
		if err := s.UnmarshalBinary(fs.blk[:]); err == nil && s.FmtIter > iter {
			iter = s.FmtIter
		}
	}

	sb := Superblock{
		Magic:    Magic,
		Version:  Version,
		FmtIter:  iter + 1,
		Portable: portable,
	}
	p, err := sb.MarshalBinary()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFormat, err)
	}
	if err := fs.dev.WriteBlock(superblockIdx, p); err != nil {
		return fmt.Errorf("%w: could not write superblock: %w", ErrFormat, err)
	}

	fs.sb = sb
	fs.mounted = true
	fs.msg.Printf("formatted: iter=%d portable=%v", sb.FmtIter, sb.Portable)
	return nil
}

// Open opens a file, closing the currently open one first. With create set a
// new file with the next sequence number is appended to the chain and opened
// for writing; otherwise the file numbered seq is opened for reading.
func (fs *FS) Open(create bool, seq uint32) error {
	if !fs.mounted {
		return ErrNoSuperblock
	}
	if fs.file.open {
		if err := fs.Close(); err != nil {
			return fmt.Errorf("logfs: could not close previous file: %w", err)
		}
	}

	if create {
		return fs.create()
	}

	idx, meta, err := fs.locate(seq)
	if err != nil {
		return err
	}
	fs.file.open = true
	fs.file.create = false
	fs.file.idx = idx
	fs.file.meta = meta
	fs.file.pos = 0
	return nil
}

func (fs *FS) create() error {
	idx := uint32(firstFileIdx)
	if fs.head.Seq > 0 {
		idx = fs.headIdx + 1 + dataBlocks(fs.head.ByteLen)
	}
	if idx >= fs.dev.NumBlocks() {
		return ErrNoSpace
	}

	s, ms := fs.clk.Now()
	meta := StartBlock{
		FmtIter: fs.sb.FmtIter,
		Seq:     fs.head.Seq + 1,
		RtcS:    s,
		RtcMs:   ms,
	}
	if err := fs.writeStart(idx, meta); err != nil {
		return err
	}

	// link the previous file to the new one; its start block is final now.
	if fs.head.Seq > 0 {
		prev := fs.head
		prev.Next = idx
		if err := fs.writeStart(fs.headIdx, prev); err != nil {
			return err
		}
	}

	fs.headIdx, fs.head = idx, meta
	fs.file.open = true
	fs.file.create = true
	fs.file.idx = idx
	fs.file.meta = meta
	fs.file.pos = 0
	fs.pipe.unflushed = 0
	clear(fs.tail[:])
	fs.msg.Printf("created file %d at block %d", meta.Seq, idx)
	return nil
}

// Close finishes any outstanding block write of a new file and flushes its
// partial last block and metadata, making it visible to later mounts.
func (fs *FS) Close() error {
	if !fs.file.open {
		return ErrFileNotOpen
	}
	defer fs.closeFile()

	if !fs.file.create {
		return nil
	}

	// a pending block write completes in a bounded number of steps
	for fs.pipe.state != pipeIdle {
		if _, err := fs.ContinueBlockWrite(); err != nil {
			return err
		}
	}

	meta := &fs.file.meta
	if off := meta.ByteLen % BlockSize; off != 0 {
		clear(fs.tail[off:])
		blk := fs.file.idx + 1 + meta.ByteLen/BlockSize
		if err := fs.writeBlock(blk, fs.tail[:]); err != nil {
			return err
		}
	}
	if err := fs.writeStart(fs.file.idx, *meta); err != nil {
		return err
	}
	fs.head = *meta
	fs.msg.Printf("closed file %d: %d bytes", meta.Seq, meta.ByteLen)
	return nil
}

// Seek moves the read position of the open file to pos.
func (fs *FS) Seek(pos uint32) error {
	if !fs.file.open {
		return ErrFileNotOpen
	}
	if fs.file.create {
		return ErrCannotReadNewFile
	}
	if pos > fs.file.meta.ByteLen {
		return fmt.Errorf("%w: %d > %d", ErrSeekPastEnd, pos, fs.file.meta.ByteLen)
	}
	fs.file.pos = pos
	return nil
}

// Write appends p to the new file.
func (fs *FS) Write(p []byte) (int, error) {
	if err := fs.checkAppend(len(p)); err != nil {
		return 0, err
	}

	meta := &fs.file.meta
	n := 0
	for len(p) > 0 {
		blk := fs.file.idx + 1 + meta.ByteLen/BlockSize
		if blk >= fs.dev.NumBlocks() {
			return n, ErrNoSpace
		}
		off := meta.ByteLen % BlockSize
		c := copy(fs.tail[off:], p)
		if int(off)+c == BlockSize {
			if err := fs.writeBlock(blk, fs.tail[:]); err != nil {
				return n, err
			}
			fs.pipe.unflushed++
		}
		meta.ByteLen += uint32(c)
		n += c
		p = p[c:]

		if fs.pipe.unflushed >= MetaFlushBlocks {
			if err := fs.writeStart(fs.file.idx, *meta); err != nil {
				return n, err
			}
			fs.pipe.unflushed = 0
		}
	}
	return n, nil
}

// BeginBlockWrite starts appending one block of data to the new file. The
// file length must be a multiple of BlockSize. p must not be modified until
// ContinueBlockWrite reports completion.
func (fs *FS) BeginBlockWrite(p []byte) error {
	if len(p) != BlockSize {
		return fmt.Errorf("logfs: invalid block length %d", len(p))
	}
	if err := fs.checkAppend(len(p)); err != nil {
		return err
	}
	meta := &fs.file.meta
	if meta.ByteLen%BlockSize != 0 {
		return ErrUnaligned
	}
	blk := fs.file.idx + 1 + meta.ByteLen/BlockSize
	if blk >= fs.dev.NumBlocks() {
		return ErrNoSpace
	}
	if err := fs.dev.BeginWrite(blk, p); err != nil {
		return fmt.Errorf("logfs: could not begin block %d: %w: %w", blk, ErrSdWrite, err)
	}
	fs.pipe.state = pipeData
	return nil
}

// ContinueBlockWrite advances the outstanding block write by one step and
// reports whether it is complete. Every MetaFlushBlocks blocks the file
// metadata is rewritten as an extra step of the same write. It reports done
// when no write is outstanding.
func (fs *FS) ContinueBlockWrite() (bool, error) {
	switch fs.pipe.state {
	case pipeData:
		done, err := fs.dev.ContinueWrite()
		if err != nil {
			fs.pipe.state = pipeIdle
			return false, fmt.Errorf("logfs: could not write block: %w: %w", ErrSdWrite, err)
		}
		if !done {
			return false, nil
		}
		fs.file.meta.ByteLen += BlockSize
		fs.pipe.unflushed++
		if fs.pipe.unflushed < MetaFlushBlocks {
			fs.pipe.state = pipeIdle
			return true, nil
		}
		fs.file.meta.put(fs.pipe.meta[:])
		if err := fs.dev.BeginWrite(fs.file.idx, fs.pipe.meta[:]); err != nil {
			fs.pipe.state = pipeIdle
			return false, fmt.Errorf("logfs: could not begin metadata flush: %w: %w", ErrSdWrite, err)
		}
		fs.pipe.state = pipeMeta
		return false, nil

	case pipeMeta:
		done, err := fs.dev.ContinueWrite()
		if err != nil {
			fs.pipe.state = pipeIdle
			return false, fmt.Errorf("logfs: could not flush metadata: %w: %w", ErrSdWrite, err)
		}
		if !done {
			return false, nil
		}
		fs.pipe.unflushed = 0
		fs.pipe.state = pipeIdle
		return true, nil

	default:
		return true, nil
	}
}

// AbortBlockWrite drops the outstanding block write. A dropped data block
// does not count towards the file length.
func (fs *FS) AbortBlockWrite() {
	if fs.pipe.state == pipeIdle {
		return
	}
	fs.dev.AbortWrite()
	fs.pipe.state = pipeIdle
}

// Read reads from the open file at the current position. It returns io.EOF
// at the end of the file.
func (fs *FS) Read(p []byte) (int, error) {
	if !fs.file.open {
		return 0, ErrFileNotOpen
	}
	if fs.file.create {
		return 0, ErrCannotReadNewFile
	}
	if len(p) == 0 {
		return 0, nil
	}

	size := fs.file.meta.ByteLen
	if fs.file.pos >= size {
		return 0, io.EOF
	}

	n := 0
	for n < len(p) && fs.file.pos < size {
		blk := fs.file.idx + 1 + fs.file.pos/BlockSize
		if !fs.cache.ok || fs.cache.idx != blk {
			fs.cache.ok = false
			if err := fs.readBlock(blk, fs.cache.buf[:]); err != nil {
				return n, err
			}
			fs.cache.ok = true
			fs.cache.idx = blk
		}
		off := fs.file.pos % BlockSize
		end := uint32(BlockSize)
		if rem := size - fs.file.pos; rem < end-off {
			end = off + rem
		}
		c := copy(p[n:], fs.cache.buf[off:end])
		n += c
		fs.file.pos += uint32(c)
	}
	return n, nil
}

// RtcGet returns the creation time of the open file.
func (fs *FS) RtcGet() (s, ms uint32, err error) {
	if !fs.file.open {
		return 0, 0, ErrFileNotOpen
	}
	return fs.file.meta.RtcS, fs.file.meta.RtcMs, nil
}

// RtcSet stamps the new file with the current time.
func (fs *FS) RtcSet() error {
	if !fs.file.open {
		return ErrFileNotOpen
	}
	if !fs.file.create {
		return ErrReadOnly
	}
	if fs.pipe.state != pipeIdle {
		return ErrWriteInProgress
	}
	meta := &fs.file.meta
	meta.RtcS, meta.RtcMs = fs.clk.Now()
	return fs.writeStart(fs.file.idx, *meta)
}

// Size returns the length in bytes of the open file.
func (fs *FS) Size() (int32, error) {
	if !fs.file.open {
		return 0, ErrFileNotOpen
	}
	if fs.file.meta.ByteLen > math.MaxInt32 {
		return 0, ErrFileTooLong
	}
	return int32(fs.file.meta.ByteLen), nil
}

func (fs *FS) checkAppend(n int) error {
	switch {
	case !fs.file.open:
		return ErrFileNotOpen
	case !fs.file.create:
		return ErrReadOnly
	case fs.pipe.state != pipeIdle:
		return ErrWriteInProgress
	case uint64(fs.file.meta.ByteLen)+uint64(n) > math.MaxUint32:
		return ErrFileTooLong
	}
	return nil
}

// scan walks the chain from the first file and records the newest one.
func (fs *FS) scan() error {
	first, ok, err := fs.readStart(firstFileIdx)
	if err != nil || !ok || first.Seq != 1 {
		return err
	}
	idx, cur := uint32(firstFileIdx), first
	for {
		nidx, next, ok, err := fs.next(idx, cur)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		idx, cur = nidx, next
	}
	fs.headIdx, fs.head = idx, cur
	return nil
}

// locate walks the chain to the file numbered seq, starting from the last
// located file when it precedes seq.
func (fs *FS) locate(seq uint32) (uint32, StartBlock, error) {
	if seq == 0 || seq > fs.head.Seq {
		return 0, StartBlock{}, fmt.Errorf("%w: seq %d", ErrNoExistingFile, seq)
	}

	idx, start := uint32(firstFileIdx), uint32(1)
	if fs.knownSeq > 0 && fs.knownSeq <= seq {
		idx, start = fs.knownIdx, fs.knownSeq
	}
	cur, ok, err := fs.readStart(idx)
	if err != nil {
		return 0, StartBlock{}, err
	}
	if !ok || cur.Seq != start {
		return 0, StartBlock{}, fmt.Errorf("%w: seq %d", ErrNoExistingFile, seq)
	}

	for cur.Seq != seq {
		nidx, next, ok, err := fs.next(idx, cur)
		if err != nil {
			return 0, StartBlock{}, err
		}
		if !ok {
			return 0, StartBlock{}, fmt.Errorf("%w: seq %d", ErrNoExistingFile, seq)
		}
		idx, cur = nidx, next
	}
	fs.knownIdx, fs.knownSeq = idx, cur.Seq
	return idx, cur, nil
}

// next returns the start block that cur links to, if it continues the chain.
func (fs *FS) next(idx uint32, cur StartBlock) (uint32, StartBlock, bool, error) {
	if cur.Next <= idx {
		return 0, StartBlock{}, false, nil
	}
	s, ok, err := fs.readStart(cur.Next)
	if err != nil || !ok || s.Seq != cur.Seq+1 {
		return 0, StartBlock{}, false, err
	}
	return cur.Next, s, true, nil
}

// readStart reads the start block at idx and reports whether it belongs to
// the current format.
func (fs *FS) readStart(idx uint32) (StartBlock, bool, error) {
	var s StartBlock
	if idx < firstFileIdx || idx >= fs.dev.NumBlocks() {
		return s, false, nil
	}
	if err := fs.readBlock(idx, fs.blk[:]); err != nil {
		return s, false, err
	}
	if err := s.UnmarshalBinary(fs.blk[:]); err != nil {
		return s, false, nil
	}
	return s, s.FmtIter == fs.sb.FmtIter && s.Seq > 0, nil
}

func (fs *FS) writeStart(idx uint32, s StartBlock) error {
	clear(fs.blk[:])
	s.put(fs.blk[:])
	return fs.writeBlock(idx, fs.blk[:])
}

func (fs *FS) readBlock(idx uint32, p []byte) error {
	if err := fs.dev.ReadBlock(idx, p); err != nil {
		return fmt.Errorf("logfs: could not read block %d: %w: %w", idx, ErrSdRead, err)
	}
	return nil
}

func (fs *FS) writeBlock(idx uint32, p []byte) error {
	if err := fs.dev.WriteBlock(idx, p); err != nil {
		return fmt.Errorf("logfs: could not write block %d: %w: %w", idx, ErrSdWrite, err)
	}
	return nil
}

func (fs *FS) closeFile() {
	fs.file.open = false
	fs.file.create = false
	fs.file.pos = 0
	fs.cache.ok = false
	fs.pipe.state = pipeIdle
}

// reset drops the open file and every cached location.
func (fs *FS) reset() {
	if fs.pipe.state != pipeIdle {
		fs.dev.AbortWrite()
	}
	fs.closeFile()
	fs.mounted = false
	fs.headIdx, fs.head = 0, StartBlock{}
	fs.knownIdx, fs.knownSeq = 0, 0
}
