// Package link is the host side of the logger protocol: a client issuing
// commands and receiving sample frames over a serial port or an in-process
// simulated device.
package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/itohio/pwrlog/pkg/proto"
	"github.com/itohio/pwrlog/pkg/sample"
)

const (
	// DefaultTimeout bounds the wait for a command reply.
	DefaultTimeout = 2 * time.Second
	// DefaultBufferSize is the default size of the frames channel.
	DefaultBufferSize = 100
)

var (
	// ErrClosed is returned once the connection is closed.
	ErrClosed = errors.New("link: connection closed")
	// ErrReply is returned for a reply that does not match the command.
	ErrReply = errors.New("link: unexpected reply")
)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger receiving client events and device prints.
func WithLogger(msg *log.Logger) Option {
	return func(c *Client) { c.msg = msg }
}

// WithTimeout sets the reply timeout of commands.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithBufferSize sets the size of the live frames channel.
func WithBufferSize(n int) Option {
	return func(c *Client) { c.bufSize = n }
}

// Client talks to a device over a byte stream.
type Client struct {
	rwc     io.ReadWriteCloser
	msg     *log.Logger
	timeout time.Duration
	bufSize int

	mu  sync.Mutex // one command at a time
	enc *proto.Encoder

	replies chan []byte
	stored  chan []byte
	frames  chan sample.Frame
	reading atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	grp    *errgroup.Group
	done   chan struct{}
	once   sync.Once
	err    error
}

var _ Device = (*Client)(nil)

// NewClient starts a client over rwc. The client owns rwc and closes it on
// Close.
func NewClient(rwc io.ReadWriteCloser, opts ...Option) *Client {
	c := &Client{
		rwc:     rwc,
		msg:     log.New(os.Stdout, "link: ", 0),
		timeout: DefaultTimeout,
		bufSize: DefaultBufferSize,
		enc:     proto.NewEncoder(rwc),
		replies: make(chan []byte, 4),
		stored:  make(chan []byte, 4),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.frames = make(chan sample.Frame, c.bufSize)

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.grp, c.ctx = errgroup.WithContext(ctx)
	c.grp.Go(func() error {
		defer close(c.done)
		defer close(c.frames)
		return c.read()
	})
	c.grp.Go(func() error {
		<-c.ctx.Done()
		return c.rwc.Close()
	})
	return c
}

// Frames returns the live sample frames. The channel is closed when the
// connection ends.
func (c *Client) Frames() <-chan sample.Frame { return c.frames }

// Close closes the connection and waits for the reader to exit.
func (c *Client) Close() error {
	c.once.Do(func() {
		c.cancel()
		c.err = c.grp.Wait()
		if errors.Is(c.err, io.ErrClosedPipe) || errors.Is(c.err, os.ErrClosed) {
			c.err = nil
		}
	})
	return c.err
}

func (c *Client) read() error {
	defer c.cancel()

	dec := proto.NewDecoder(c.rwc)
	var f proto.Frame
	for {
		err := dec.Decode(&f)
		switch {
		case err == nil:
		case errors.Is(err, proto.ErrFrameLength):
			c.msg.Printf("rx: %v", err)
			continue
		case errors.Is(err, io.EOF), c.ctx.Err() != nil:
			return nil
		default:
			return fmt.Errorf("link: could not receive: %w", err)
		}

		switch f.Type {
		case proto.FrameControlAck:
			c.deliver(c.replies, f.Payload)
		case proto.FrameSamples:
			if c.reading.Load() {
				c.deliver(c.stored, f.Payload)
				continue
			}
			c.live(f.Payload)
		case proto.FramePrint:
			c.msg.Printf("device: %s", f.Payload)
		default:
			c.msg.Printf("rx: ignoring %v frame", f.Type)
		}
	}
}

func (c *Client) deliver(ch chan []byte, p []byte) {
	select {
	case ch <- append([]byte(nil), p...):
	default:
		c.msg.Printf("rx: dropping unexpected reply")
	}
}

func (c *Client) live(p []byte) {
	seq, data, err := proto.ParseSamples(p)
	if err != nil {
		c.msg.Printf("rx: %v", err)
		return
	}
	f := sample.Frame{
		Seq:       seq,
		Timestamp: time.Now(),
		Samples:   sample.DecodeRaw(nil, data),
	}
	select {
	case c.frames <- f:
	default:
		c.msg.Printf("frames channel full, dropping frame %d", seq)
	}
}
