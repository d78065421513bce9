package sim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/itohio/pwrlog/pkg/control"
	"github.com/itohio/pwrlog/pkg/proto"
)

var (
	// ErrLinkClosed is returned by Send once the transmit side stopped.
	ErrLinkClosed = errors.New("sim: link closed")
	// ErrLinkBusy is returned by Send when the transmit queue is full.
	ErrLinkBusy = errors.New("sim: transmit queue full")
)

// Link is the device end of the host link, framed over a byte stream.
// Received commands are queued for the device loop; transmitted frames go
// through a bounded queue drained by ServeTx. One queue slot beyond the
// TxReady limit is kept for command replies, so a reply still fits after a
// drain filled the queue.
type Link struct {
	r   io.Reader
	w   io.Writer
	msg *log.Logger

	rx     chan []byte
	tx     chan proto.Frame
	closed chan struct{}
	once   sync.Once
}

var _ control.Link = (*Link)(nil)

// NewLink returns a link over rw with room for queue outgoing frames.
func NewLink(rw io.ReadWriter, queue int, msg *log.Logger) *Link {
	return &Link{
		r:      rw,
		w:      rw,
		msg:    msg,
		rx:     make(chan []byte, 8),
		tx:     make(chan proto.Frame, max(queue, 1)+1),
		closed: make(chan struct{}),
	}
}

// TxReady reports whether a data frame can be queued without using the
// slot kept for replies.
func (l *Link) TxReady() bool { return l.spare() }

func (l *Link) spare() bool { return len(l.tx) < cap(l.tx)-1 }

// Send queues a frame without waiting. payload is copied.
func (l *Link) Send(t proto.FrameType, payload []byte) error {
	select {
	case <-l.closed:
		return ErrLinkClosed
	default:
	}

	f := proto.Frame{Type: t, Payload: append([]byte(nil), payload...)}
	select {
	case l.tx <- f:
		return nil
	default:
		return ErrLinkBusy
	}
}

// FlushRx drops every command received but not handled yet.
func (l *Link) FlushRx() {
	for {
		select {
		case <-l.rx:
		default:
			return
		}
	}
}

// Commands returns the queue of received command payloads.
func (l *Link) Commands() <-chan []byte { return l.rx }

// Printer returns a writer sending its input to the host as print frames.
// Text is dropped unless the queue has room beyond the reply slot.
func (l *Link) Printer() io.Writer { return printer{l} }

type printer struct{ l *Link }

func (p printer) Write(b []byte) (int, error) {
	if !p.l.spare() {
		return len(b), nil
	}
	select {
	case p.l.tx <- proto.Frame{Type: proto.FramePrint, Payload: append([]byte(nil), b...)}:
	default:
	}
	return len(b), nil
}

// ServeRx decodes frames until the stream ends or ctx is done. Command
// frames are queued; anything else from the host is ignored.
func (l *Link) ServeRx(ctx context.Context) error {
	dec := proto.NewDecoder(l.r)
	var f proto.Frame
	for {
		err := dec.Decode(&f)
		switch {
		case err == nil:
		case errors.Is(err, proto.ErrFrameLength):
			l.msg.Printf("rx: %v", err)
			continue
		case errors.Is(err, io.EOF), ctx.Err() != nil:
			return nil
		default:
			return fmt.Errorf("sim: could not receive: %w", err)
		}

		if f.Type != proto.FrameControl {
			l.msg.Printf("rx: ignoring %v frame", f.Type)
			continue
		}
		select {
		case l.rx <- append([]byte(nil), f.Payload...):
		case <-ctx.Done():
			return nil
		}
	}
}

// ServeTx writes queued frames until ctx is done. Send fails once ServeTx
// returned.
func (l *Link) ServeTx(ctx context.Context) error {
	defer l.once.Do(func() { close(l.closed) })

	enc := proto.NewEncoder(l.w)
	for {
		select {
		case <-ctx.Done():
			return nil
		case f := <-l.tx:
			if err := enc.Encode(f); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("sim: could not transmit: %w", err)
			}
		}
	}
}
