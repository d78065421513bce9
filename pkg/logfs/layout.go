package logfs

import (
	"encoding/binary"
	"fmt"
)

const (
	// BlockSize is the size of a medium block in bytes.
	BlockSize = 512
	// Version is the on-media format version.
	Version = 3
	// MetaFlushBlocks is the number of data blocks appended through the
	// pipelined path between two metadata flushes of the open file.
	MetaFlushBlocks = 250

	superblockIdx  = 0
	firstFileIdx   = 1
	superblockSize = 8 + 1 + 4 + 1
	startBlockSize = 6 * 4
)

// Magic identifies a formatted medium.
var Magic = [8]byte{'P', 'W', 'R', 'L', 'O', 'G', 'F', 'S'}

// Superblock is the root record of a formatted medium, stored in block 0.
type Superblock struct {
	Magic    [8]byte
	Version  uint8
	FmtIter  uint32 // incremented by every format
	Portable bool   // standalone, button-driven operation
}

// Valid reports whether the superblock belongs to this format version.
func (sb Superblock) Valid() bool {
	return sb.Magic == Magic && sb.Version == Version
}

// MarshalBinary encodes the superblock into a zero-padded medium block.
func (sb Superblock) MarshalBinary() ([]byte, error) {
	p := make([]byte, BlockSize)
	copy(p[:8], sb.Magic[:])
	p[8] = sb.Version
	binary.LittleEndian.PutUint32(p[9:13], sb.FmtIter)
	if sb.Portable {
		p[13] = 1
	}
	return p, nil
}

// UnmarshalBinary decodes a superblock from p.
func (sb *Superblock) UnmarshalBinary(p []byte) error {
	if len(p) < superblockSize {
		return fmt.Errorf("logfs: superblock too short (%d bytes)", len(p))
	}
	copy(sb.Magic[:], p[:8])
	sb.Version = p[8]
	sb.FmtIter = binary.LittleEndian.Uint32(p[9:13])
	sb.Portable = p[13] != 0
	return nil
}

// StartBlock is the metadata record written in front of every file's data.
type StartBlock struct {
	FmtIter uint32 // format iteration the file belongs to
	Seq     uint32 // file sequence number, 1 for the first file
	ByteLen uint32 // bytes of data following the start block
	Next    uint32 // block index where the following file starts
	RtcS    uint32 // creation time, seconds
	RtcMs   uint32 // creation time, milliseconds
}

// MarshalBinary encodes the start block into a zero-padded medium block.
func (s StartBlock) MarshalBinary() ([]byte, error) {
	p := make([]byte, BlockSize)
	s.put(p)
	return p, nil
}

func (s StartBlock) put(p []byte) {
	binary.LittleEndian.PutUint32(p[0:4], s.FmtIter)
	binary.LittleEndian.PutUint32(p[4:8], s.Seq)
	binary.LittleEndian.PutUint32(p[8:12], s.ByteLen)
	binary.LittleEndian.PutUint32(p[12:16], s.Next)
	binary.LittleEndian.PutUint32(p[16:20], s.RtcS)
	binary.LittleEndian.PutUint32(p[20:24], s.RtcMs)
}

// UnmarshalBinary decodes a start block from p.
func (s *StartBlock) UnmarshalBinary(p []byte) error {
	if len(p) < startBlockSize {
		return fmt.Errorf("logfs: start block too short (%d bytes)", len(p))
	}
	s.FmtIter = binary.LittleEndian.Uint32(p[0:4])
	s.Seq = binary.LittleEndian.Uint32(p[4:8])
	s.ByteLen = binary.LittleEndian.Uint32(p[8:12])
	s.Next = binary.LittleEndian.Uint32(p[12:16])
	s.RtcS = binary.LittleEndian.Uint32(p[16:20])
	s.RtcMs = binary.LittleEndian.Uint32(p[20:24])
	return nil
}

// dataBlocks returns the number of blocks holding n bytes.
func dataBlocks(n uint32) uint32 {
	return (n + BlockSize - 1) / BlockSize
}
