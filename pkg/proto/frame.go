package proto

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrFrameLength is returned by Decode when a header announces a payload
// larger than MaxPayload. It is not sticky: the next Decode resynchronizes.
var ErrFrameLength = errors.New("proto: invalid payload length")

// FrameType tags the payload of a link frame.
type FrameType uint8

const (
	FrameControl    FrameType = iota // host to device command
	FrameControlAck                  // acknowledgment or query reply
	FrameSamples                     // sample data, live or stored
	FramePrint                       // device log text
)

func (t FrameType) String() string {
	switch t {
	case FrameControl:
		return "control"
	case FrameControlAck:
		return "control-ack"
	case FrameSamples:
		return "samples"
	case FramePrint:
		return "print"
	}
	return fmt.Sprintf("frame(%d)", uint8(t))
}

const (
	// Sync starts every frame.
	Sync = 0xA5
	// HeaderSize is the size of the frame header {sync, type, len u16}.
	HeaderSize = 4
	// MaxPayload is the largest payload a frame may carry.
	MaxPayload = 4096
)

// Frame is a unit of transfer on the link.
type Frame struct {
	Type    FrameType
	Payload []byte
}

// Encoder writes frames to an output stream.
type Encoder struct {
	w   io.Writer
	buf []byte
	err error
}

// NewEncoder returns a new Encoder that writes to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w, buf: make([]byte, 0, HeaderSize+MaxPayload)}
}

// Encode writes f as a single Write call. Once a write failed, every further
// call returns the same error.
func (enc *Encoder) Encode(f Frame) error {
	if enc.err != nil {
		return enc.err
	}
	if len(f.Payload) > MaxPayload {
		return fmt.Errorf("proto: payload too large (%d bytes)", len(f.Payload))
	}

	enc.buf = append(enc.buf[:0], Sync, byte(f.Type))
	enc.buf = binary.LittleEndian.AppendUint16(enc.buf, uint16(len(f.Payload)))
	enc.buf = append(enc.buf, f.Payload...)

	_, enc.err = enc.w.Write(enc.buf)
	if enc.err != nil {
		enc.err = fmt.Errorf("proto: could not write %v frame: %w", f.Type, enc.err)
	}
	return enc.err
}

// Decoder reads frames from an input stream. Bytes preceding a sync byte
// are skipped.
type Decoder struct {
	r   *bufio.Reader
	hdr [HeaderSize]byte
	err error
}

// NewDecoder returns a new Decoder that reads from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, HeaderSize+MaxPayload)}
}

// Decode reads the next frame into f. The payload buffer of f is reused when
// large enough.
func (dec *Decoder) Decode(f *Frame) error {
	if dec.err != nil {
		return dec.err
	}

	for {
		b, err := dec.r.ReadByte()
		if err != nil {
			dec.err = err
			return err
		}
		if b == Sync {
			break
		}
	}

	dec.hdr[0] = Sync
	if _, err := io.ReadFull(dec.r, dec.hdr[1:]); err != nil {
		dec.err = fmt.Errorf("proto: could not read frame header: %w", unexpected(err))
		return dec.err
	}
	n := int(binary.LittleEndian.Uint16(dec.hdr[2:4]))
	if n > MaxPayload {
		// not a frame; resynchronize on the next sync byte
		return fmt.Errorf("%w %d", ErrFrameLength, n)
	}

	f.Type = FrameType(dec.hdr[1])
	if cap(f.Payload) < n {
		f.Payload = make([]byte, n)
	}
	f.Payload = f.Payload[:n]
	if _, err := io.ReadFull(dec.r, f.Payload); err != nil {
		dec.err = fmt.Errorf("proto: could not read %v payload: %w", f.Type, unexpected(err))
		return dec.err
	}
	return nil
}

// Buffered returns the number of bytes read from the stream but not yet
// decoded.
func (dec *Decoder) Buffered() int {
	return dec.r.Buffered()
}

// Discard drops every byte buffered by the decoder.
func (dec *Decoder) Discard() {
	_, _ = dec.r.Discard(dec.r.Buffered())
}

func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
