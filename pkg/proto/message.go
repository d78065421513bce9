// Package proto defines the host link protocol of the logger: command
// messages, framing and the payload layouts of replies and sample frames.
package proto

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// CommandType enumerates host commands. The values are the wire encoding.
type CommandType uint8

const (
	Init CommandType = iota
	Reset
	ReadEeprom
	GainSet
	StartSamplingLink
	StartSamplingStorage
	ReadStorageOverLink
	GetSampleCount
	GetGitHash
	GetModePortable
	SetRtc
	GetRtc
	SelfTest
)

var commandNames = [...]string{
	Init:                 "init",
	Reset:                "reset",
	ReadEeprom:           "read-eeprom",
	GainSet:              "gain-set",
	StartSamplingLink:    "start-sampling-link",
	StartSamplingStorage: "start-sampling-storage",
	ReadStorageOverLink:  "read-storage-over-link",
	GetSampleCount:       "get-sample-count",
	GetGitHash:           "get-git-hash",
	GetModePortable:      "get-mode-portable",
	SetRtc:               "set-rtc",
	GetRtc:               "get-rtc",
	SelfTest:             "self-test",
}

func (c CommandType) String() string {
	if int(c) < len(commandNames) {
		return commandNames[c]
	}
	return fmt.Sprintf("command(%d)", uint8(c))
}

// MessageSize is the encoded size of a Message.
const MessageSize = 5

// ErrMessageSize is returned when decoding a message of the wrong length.
var ErrMessageSize = errors.New("proto: invalid message size")

// Message is a host command.
type Message struct {
	Type   CommandType
	Value1 uint16
	Value2 uint16
}

// MarshalBinary encodes m in little-endian order.
func (m Message) MarshalBinary() ([]byte, error) {
	p := make([]byte, MessageSize)
	p[0] = byte(m.Type)
	binary.LittleEndian.PutUint16(p[1:3], m.Value1)
	binary.LittleEndian.PutUint16(p[3:5], m.Value2)
	return p, nil
}

// UnmarshalBinary decodes m. Only payloads of exactly MessageSize bytes are
// accepted.
func (m *Message) UnmarshalBinary(p []byte) error {
	if len(p) != MessageSize {
		return fmt.Errorf("%w: got=%d, want=%d", ErrMessageSize, len(p), MessageSize)
	}
	m.Type = CommandType(p[0])
	m.Value1 = binary.LittleEndian.Uint16(p[1:3])
	m.Value2 = binary.LittleEndian.Uint16(p[3:5])
	return nil
}

// Ack is the payload of a short acknowledgment: the echoed command type and
// the command's result.
type Ack struct {
	Type   CommandType
	Result int8
}

// AckSize is the encoded size of an Ack.
const AckSize = 2

// MarshalBinary encodes a.
func (a Ack) MarshalBinary() ([]byte, error) {
	return []byte{byte(a.Type), byte(a.Result)}, nil
}

// UnmarshalBinary decodes a.
func (a *Ack) UnmarshalBinary(p []byte) error {
	if len(p) != AckSize {
		return fmt.Errorf("proto: invalid ack size: got=%d, want=%d", len(p), AckSize)
	}
	a.Type = CommandType(p[0])
	a.Result = int8(p[1])
	return nil
}

// SamplesHeaderSize is the size of the sequence and length header of a
// samples payload.
const SamplesHeaderSize = 6

// AppendSamples appends a samples payload {seq, len(data), data} to dst.
func AppendSamples(dst []byte, seq uint32, data []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, seq)
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(data)))
	return append(dst, data...)
}

// ParseSamples splits a samples payload. data aliases p.
func ParseSamples(p []byte) (seq uint32, data []byte, err error) {
	if len(p) < SamplesHeaderSize {
		return 0, nil, fmt.Errorf("proto: samples payload too short (%d bytes)", len(p))
	}
	seq = binary.LittleEndian.Uint32(p[0:4])
	n := int(binary.LittleEndian.Uint16(p[4:6]))
	if len(p)-SamplesHeaderSize != n {
		return 0, nil, fmt.Errorf("proto: invalid samples length: got=%d, want=%d", len(p)-SamplesHeaderSize, n)
	}
	return seq, p[SamplesHeaderSize:], nil
}
