// Package pipeline moves captured samples from the acquisition front end
// through the ring buffer to the host link or to storage.
//
// The producer side (Push) runs in the acquisition context. Everything else
// runs from the scheduling tick and never blocks: drains are polled and are
// no-ops when there is nothing to do.
package pipeline

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"

	"github.com/itohio/pwrlog/pkg/logfs"
	"github.com/itohio/pwrlog/pkg/proto"
	"github.com/itohio/pwrlog/pkg/ringbuf"
	"github.com/itohio/pwrlog/pkg/sample"
)

// CalibrationGain is the current amplifier gain index used while
// calibrating.
const CalibrationGain = 0

// CurrentInput selects the input of the current channel.
type CurrentInput uint8

const (
	CurrentGND   CurrentInput = iota // grounded, for offset calibration
	CurrentShunt                     // across the shunt resistor
)

// VoltageInput selects the input of the voltage channel.
type VoltageInput uint8

const (
	VoltageGND  VoltageInput = iota // ground reference
	VoltageLive                     // the measured supply
)

// Frontend is the analog front end and the capture engine feeding Push.
type Frontend interface {
	SetGain(idx uint16)
	SelectCurrent(in CurrentInput)
	SelectVoltage(in VoltageInput)
	Start() error
	Stop()
	Pause(paused bool)
}

// Link is the transmit side of the host link.
type Link interface {
	TxReady() bool
	Send(t proto.FrameType, payload []byte) error
}

// Storage persists whole blocks with non-blocking multi-step writes.
type Storage interface {
	BeginBlockWrite(p []byte) error
	ContinueBlockWrite() (done bool, err error)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(msg *log.Logger) Option {
	return func(p *Pipeline) { p.msg = msg }
}

// WithSettle sets the delay observed between grounding the inputs and
// starting the capture.
func WithSettle(d time.Duration) Option {
	return func(p *Pipeline) { p.settle = d }
}

// WithSleep replaces the function used to wait for the inputs to settle.
func WithSleep(sleep func(time.Duration)) Option {
	return func(p *Pipeline) { p.sleep = sleep }
}

// Pipeline is the sample stream of one acquisition session.
type Pipeline struct {
	ring *ringbuf.RingBuffer
	fe   Frontend
	link Link
	fs   Storage
	msg  *log.Logger

	frameBytes int
	settle     time.Duration
	sleep      func(time.Duration)

	// session state, reset by Start
	calibrated bool
	linkSeq    uint32
	blockIdx   uint32
	writing    bool

	captured  atomic.Uint64 // bytes accepted from the front end
	overflows atomic.Uint32

	data  []byte
	frame []byte
	block [logfs.BlockSize]byte
}

// New returns a pipeline sending frames of frameBytes sample bytes.
func New(ring *ringbuf.RingBuffer, fe Frontend, link Link, fs Storage, frameBytes int, opts ...Option) (*Pipeline, error) {
	if ring == nil || fe == nil {
		return nil, fmt.Errorf("pipeline: missing ring buffer or front end")
	}
	if frameBytes <= 0 || frameBytes%sample.RawSize != 0 || frameBytes > proto.MaxPayload-proto.SamplesHeaderSize {
		return nil, fmt.Errorf("pipeline: invalid frame size %d", frameBytes)
	}
	p := &Pipeline{
		ring:       ring,
		fe:         fe,
		link:       link,
		fs:         fs,
		msg:        log.New(os.Stdout, "pipeline: ", 0),
		frameBytes: frameBytes,
		settle:     10 * time.Millisecond,
		sleep:      time.Sleep,
		data:       make([]byte, frameBytes),
		frame:      make([]byte, 0, proto.SamplesHeaderSize+frameBytes),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// FrameBytes returns the number of sample bytes per link frame.
func (p *Pipeline) FrameBytes() int { return p.frameBytes }

// Calibrated reports whether the session has left calibration.
func (p *Pipeline) Calibrated() bool { return p.calibrated }

// LinkSeq returns the sequence number of the next link frame.
func (p *Pipeline) LinkSeq() uint32 { return p.linkSeq }

// BlockIdx returns the number of blocks stored in this session.
func (p *Pipeline) BlockIdx() uint32 { return p.blockIdx }

// Writing reports whether a block write is in progress.
func (p *Pipeline) Writing() bool { return p.writing }

// SampleCount returns the number of samples captured in this session.
func (p *Pipeline) SampleCount() uint32 {
	return uint32(p.captured.Load() / sample.RawSize)
}

// Overflows returns the number of capture buffers dropped because the ring
// buffer was full.
func (p *Pipeline) Overflows() uint32 { return p.overflows.Load() }

// Start begins a session: the current channel is set to the calibration gain
// with both inputs grounded, and capture starts once they settled. Data left
// from a previous session is discarded.
func (p *Pipeline) Start() error {
	p.calibrated = false
	p.linkSeq = 0
	p.blockIdx = 0
	p.writing = false
	p.captured.Store(0)
	p.overflows.Store(0)
	p.ring.Reset()

	p.fe.SetGain(CalibrationGain)
	p.fe.SelectCurrent(CurrentGND)
	p.fe.SelectVoltage(VoltageGND)
	p.sleep(p.settle)

	if err := p.fe.Start(); err != nil {
		return fmt.Errorf("pipeline: could not start capture: %w", err)
	}
	return nil
}

// Stop halts the capture immediately. Buffered samples are abandoned; a
// block write already handed to storage is left for storage to complete.
func (p *Pipeline) Stop() {
	p.fe.Stop()
	p.writing = false
}

// EndCalibration switches the front end to the live inputs with the given
// gain. It has no effect once the session is calibrated.
func (p *Pipeline) EndCalibration(gain uint16) {
	if p.calibrated {
		return
	}
	p.fe.Pause(true)
	p.fe.SelectVoltage(VoltageLive)
	p.fe.SetGain(gain)
	p.fe.SelectCurrent(CurrentShunt)
	p.calibrated = true
	p.fe.Pause(false)
	p.msg.Printf("calibrated: gain=%d", gain)
}

// Push queues a capture buffer. It is the only producer of the ring buffer.
// A buffer that does not fit is dropped and ringbuf.ErrOverflow returned.
func (p *Pipeline) Push(buf []byte) error {
	if err := p.ring.Write(buf); err != nil {
		if errors.Is(err, ringbuf.ErrOverflow) {
			p.overflows.Add(1)
		}
		return err
	}
	p.captured.Add(uint64(len(buf)))
	return nil
}

// DrainLink sends one frame of samples over the link when the link can take
// it and a full frame is buffered. Otherwise it does nothing.
func (p *Pipeline) DrainLink() error {
	if p.link == nil || !p.link.TxReady() {
		return nil
	}
	if err := p.ring.Read(p.data); err != nil {
		if errors.Is(err, ringbuf.ErrUnderflow) {
			return nil // no samples ready yet
		}
		return fmt.Errorf("pipeline: could not read samples: %w", err)
	}

	p.frame = proto.AppendSamples(p.frame[:0], p.linkSeq, p.data)
	if err := p.link.Send(proto.FrameSamples, p.frame); err != nil {
		return fmt.Errorf("pipeline: could not send frame %d: %w", p.linkSeq, err)
	}
	p.linkSeq++
	return nil
}

// DrainStore advances the storage write by one step. When no write is in
// progress and a block of samples is buffered, it starts writing that block.
func (p *Pipeline) DrainStore() error {
	if p.fs == nil {
		return nil
	}

	if p.writing {
		done, err := p.fs.ContinueBlockWrite()
		if err != nil {
			p.writing = false
			return fmt.Errorf("pipeline: could not store block %d: %w", p.blockIdx, err)
		}
		if done {
			p.writing = false
			p.blockIdx++
		}
		return nil
	}

	if err := p.ring.Read(p.block[:]); err != nil {
		if errors.Is(err, ringbuf.ErrUnderflow) {
			return nil // no samples ready yet
		}
		return fmt.Errorf("pipeline: could not read samples: %w", err)
	}
	if err := p.fs.BeginBlockWrite(p.block[:]); err != nil {
		return fmt.Errorf("pipeline: could not store block %d: %w", p.blockIdx, err)
	}
	p.writing = true
	return nil
}
