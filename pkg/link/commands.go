package link

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/itohio/pwrlog/pkg/proto"
)

// Init initializes the device and returns the error code recorded since
// the previous Init. An already initialized device is reset first.
func (c *Client) Init(ctx context.Context) (int8, error) {
	return c.command(ctx, proto.Init, 0, 0)
}

// Reset stops sampling and reboots the device.
func (c *Client) Reset(ctx context.Context) error {
	_, err := c.command(ctx, proto.Reset, 0, 0)
	return err
}

// SetGain selects the gain used by the next capture.
func (c *Client) SetGain(ctx context.Context, gain uint16) error {
	_, err := c.command(ctx, proto.GainSet, gain, 0)
	return err
}

// StartStream starts sampling to the link. Frames arrive on Frames.
func (c *Client) StartStream(ctx context.Context) error {
	_, err := c.command(ctx, proto.StartSamplingLink, 0, 0)
	return err
}

// StartStore starts sampling to a new file on the device storage.
func (c *Client) StartStore(ctx context.Context) error {
	_, err := c.command(ctx, proto.StartSamplingStorage, 0, 0)
	return err
}

// IsPortable reports whether the device storage was formatted for portable
// use.
func (c *Client) IsPortable(ctx context.Context) (bool, error) {
	v, err := c.command(ctx, proto.GetModePortable, 0, 0)
	return v == 1, err
}

// SetRTC sets the device clock.
func (c *Client) SetRTC(ctx context.Context, t time.Time) error {
	s := uint32(t.Unix())
	_, err := c.command(ctx, proto.SetRtc, uint16(s>>16), uint16(s))
	return err
}

// SelfTest runs the device self test and returns its result code, zero on
// success.
func (c *Client) SelfTest(ctx context.Context, arg uint16) (int8, error) {
	return c.command(ctx, proto.SelfTest, arg, 0)
}

// SampleCount returns the number of samples captured since sampling started.
func (c *Client) SampleCount(ctx context.Context) (uint32, error) {
	p, err := c.query(ctx, proto.GetSampleCount, 0, 0)
	if err != nil {
		return 0, err
	}
	if len(p) != 4 {
		return 0, fmt.Errorf("%w: sample count of %d bytes", ErrReply, len(p))
	}
	return binary.LittleEndian.Uint32(p), nil
}

// GitHash returns the firmware revision.
func (c *Client) GitHash(ctx context.Context) (string, error) {
	p, err := c.query(ctx, proto.GetGitHash, 0, 0)
	return string(p), err
}

// ReadEEPROM reads up to n bytes of the device EEPROM.
func (c *Client) ReadEEPROM(ctx context.Context, n uint16) ([]byte, error) {
	return c.query(ctx, proto.ReadEeprom, n, 0)
}

// GetRTC returns the creation time of file seq. The zero time is returned
// when the file does not exist.
func (c *Client) GetRTC(ctx context.Context, seq uint16) (time.Time, error) {
	p, err := c.query(ctx, proto.GetRtc, seq, 0)
	if err != nil {
		return time.Time{}, err
	}
	if len(p) != 8 {
		return time.Time{}, fmt.Errorf("%w: rtc of %d bytes", ErrReply, len(p))
	}
	s := binary.LittleEndian.Uint32(p[0:4])
	ms := binary.LittleEndian.Uint32(p[4:8])
	if s == 0 && ms == 0 {
		return time.Time{}, nil
	}
	return time.Unix(int64(s), int64(ms)*int64(time.Millisecond)), nil
}

// ReadFrame reads frame index of file seq. An empty result marks the end of
// the file or a missing file.
func (c *Client) ReadFrame(ctx context.Context, seq, index uint16) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reading.Store(true)
	defer c.reading.Store(false)
	drain(c.stored)

	if err := c.send(proto.ReadStorageOverLink, seq, index); err != nil {
		return nil, err
	}
	for {
		p, err := c.wait(ctx, c.stored)
		if err != nil {
			return nil, err
		}
		got, data, err := proto.ParseSamples(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrReply, err)
		}
		// A live frame may still be in flight when streaming stopped.
		if got != uint32(index) {
			continue
		}
		return data, nil
	}
}

// ReadFile copies file seq to w frame by frame and returns the number of
// bytes written.
func (c *Client) ReadFile(ctx context.Context, seq uint16, w io.Writer) (int64, error) {
	var n int64
	for index := 0; index <= 0xFFFF; index++ {
		data, err := c.ReadFrame(ctx, seq, uint16(index))
		if err != nil {
			return n, err
		}
		if len(data) == 0 {
			return n, nil
		}
		m, err := w.Write(data)
		n += int64(m)
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// command sends a command answered with a short ack and returns the
// result value.
func (c *Client) command(ctx context.Context, t proto.CommandType, v1, v2 uint16) (int8, error) {
	p, err := c.query(ctx, t, v1, v2)
	if err != nil {
		return 0, err
	}
	var ack proto.Ack
	if err := ack.UnmarshalBinary(p); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrReply, err)
	}
	if ack.Type != t {
		return 0, fmt.Errorf("%w: ack for %v, want %v", ErrReply, ack.Type, t)
	}
	return ack.Result, nil
}

// query sends a command and returns the payload of its reply.
func (c *Client) query(ctx context.Context, t proto.CommandType, v1, v2 uint16) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	drain(c.replies)
	if err := c.send(t, v1, v2); err != nil {
		return nil, err
	}
	p, err := c.wait(ctx, c.replies)
	if err != nil {
		return nil, fmt.Errorf("link: %v: %w", t, err)
	}
	return p, nil
}

func (c *Client) send(t proto.CommandType, v1, v2 uint16) error {
	p, _ := proto.Message{Type: t, Value1: v1, Value2: v2}.MarshalBinary()
	if err := c.enc.Encode(proto.Frame{Type: proto.FrameControl, Payload: p}); err != nil {
		select {
		case <-c.done:
			return ErrClosed
		default:
		}
		return fmt.Errorf("link: could not send %v: %w", t, err)
	}
	return nil
}

func (c *Client) wait(ctx context.Context, ch <-chan []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	select {
	case p := <-ch:
		return p, nil
	case <-c.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func drain(ch <-chan []byte) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
