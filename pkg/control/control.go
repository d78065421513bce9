// Package control is the top-level state machine of the logger. It decides
// the device mode from host commands and button events and drives the sample
// pipeline and the filesystem accordingly.
//
// Apart from Acquire, which is the producer entry point and may run
// concurrently, all Device methods must be called from a single goroutine.
package control

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/itohio/pwrlog/pkg/logfs"
	"github.com/itohio/pwrlog/pkg/pipeline"
	"github.com/itohio/pwrlog/pkg/ringbuf"
)

// Mode is the operating mode of the device.
type Mode uint8

const (
	UsbIdle Mode = iota
	UsbStore
	PortIdle
	PortStore
	Stream
)

var modeNames = [...]string{
	UsbIdle:   "usb-idle",
	UsbStore:  "usb-store",
	PortIdle:  "port-idle",
	PortStore: "port-store",
	Stream:    "stream",
}

func (m Mode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("mode(%d)", uint8(m))
}

// Portable reports whether m is one of the button-driven modes.
func (m Mode) Portable() bool { return m == PortIdle || m == PortStore }

// Color is a set of indicator LEDs.
type Color uint8

const (
	Yellow Color = 1 << iota
	Green
	Red
)

func (c Color) String() string {
	if c == 0 {
		return "off"
	}
	var names []string
	for _, l := range []struct {
		c    Color
		name string
	}{{Yellow, "yellow"}, {Green, "green"}, {Red, "red"}} {
		if c&l.c != 0 {
			names = append(names, l.name)
		}
	}
	return strings.Join(names, "+")
}

// Indicator is the visual feedback of the device. Calls are fire and forget.
type Indicator interface {
	// SetLED lights exactly the LEDs in c.
	SetLED(c Color)
	LEDOn(c Color)
	LEDOff(c Color)
	// Strobe blinks the indicator n times, repeatedly.
	Strobe(n uint32)
}

// System gives access to the rest of the hardware.
type System interface {
	// Reset reinitializes the hardware drivers.
	Reset()
	// Halt stops the device after a fatal error.
	Halt(code ErrorCode)
	// SelfTest runs the driver self-test and returns 0 on success.
	SelfTest(arg uint16) int8
	ReadEEPROM(p []byte) (int, error)
	SetRTC(s uint32)
	// Revision identifies the running build.
	Revision() string
}

// Link is the host link as seen by the device.
type Link interface {
	pipeline.Link
	// FlushRx discards commands received but not handled yet.
	FlushRx()
}

// Filesystem is the part of *logfs.FS used by the device.
type Filesystem interface {
	Mount() error
	Format(portable bool) error
	Open(create bool, seq uint32) error
	Close() error
	Seek(pos uint32) error
	Read(p []byte) (int, error)
	RtcGet() (s, ms uint32, err error)
	Portable() bool
	FileSeq() uint32
	IsOpen() bool
	SelfTest() error
}

var _ Filesystem = (*logfs.FS)(nil)

// Hardware groups the collaborators of a Device.
type Hardware struct {
	Ring      *ringbuf.RingBuffer
	Pipeline  *pipeline.Pipeline
	FS        Filesystem
	Link      Link
	Indicator Indicator
	System    System
}

// Option configures a Device.
type Option func(*Device)

// WithLogger sets the device logger.
func WithLogger(msg *log.Logger) Option {
	return func(d *Device) { d.msg = msg }
}

// WithCalibrationFrames sets the number of capture buffers acquired with
// grounded inputs at the start of every session.
func WithCalibrationFrames(n int) Option {
	return func(d *Device) { d.calFrames = uint32(max(n, 0)) }
}

// WithGain sets the gain index used until the host sends GainSet.
func WithGain(gain uint16) Option {
	return func(d *Device) { d.gain = gain }
}

// Device is the device context: mode, gain and the collaborators.
type Device struct {
	hw  Hardware
	msg *log.Logger

	mode      Mode
	gain      uint16
	inited    bool
	sampling  bool
	halted    bool
	calFrames uint32

	buffers atomic.Uint32 // capture buffers acquired this session
	lastErr atomic.Uint32

	frame []byte
	data  []byte
}

// New returns a device in UsbIdle mode. Boot must be called before use.
func New(hw Hardware, opts ...Option) (*Device, error) {
	switch {
	case hw.Ring == nil, hw.Pipeline == nil:
		return nil, fmt.Errorf("control: missing sample pipeline")
	case hw.FS == nil:
		return nil, fmt.Errorf("control: missing filesystem")
	case hw.Link == nil:
		return nil, fmt.Errorf("control: missing link")
	case hw.Indicator == nil, hw.System == nil:
		return nil, fmt.Errorf("control: missing system")
	}

	d := &Device{
		hw:        hw,
		msg:       log.New(os.Stdout, "control: ", 0),
		mode:      UsbIdle,
		calFrames: 10,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.data = make([]byte, hw.Pipeline.FrameBytes())
	return d, nil
}

// Mode returns the current mode.
func (d *Device) Mode() Mode { return d.mode }

// Gain returns the gain index applied when calibration ends.
func (d *Device) Gain() uint16 { return d.gain }

// Sampling reports whether acquisition is running.
func (d *Device) Sampling() bool { return d.sampling }

// Halted reports whether the device stopped on a fatal error.
func (d *Device) Halted() bool { return d.halted }

// LastError returns the error recorded since the last Init.
func (d *Device) LastError() ErrorCode { return ErrorCode(d.lastErr.Load()) }

func (d *Device) setError(code ErrorCode, err error) {
	d.lastErr.Store(uint32(code))
	d.msg.Printf("error %v: %v", code, err)
}

func (d *Device) halt(code ErrorCode, err error) {
	d.setError(code, err)
	d.stopCapture()
	d.halted = true
	d.hw.System.Halt(code)
}

// Boot mounts the medium and selects the initial mode from its portable
// flag. A medium without a valid superblock is formatted for tethered use.
func (d *Device) Boot() error {
	d.hw.Indicator.SetLED(Yellow)

	err := d.hw.FS.Mount()
	switch {
	case err == nil:
	case errors.Is(err, logfs.ErrNoSuperblock):
		d.msg.Printf("no filesystem, formatting")
		if err := d.hw.FS.Format(false); err != nil {
			d.halt(ErrCodeFsFormat, err)
			return fmt.Errorf("control: could not format medium: %w", err)
		}
	default:
		d.halt(ErrCodeFsMount, err)
		return fmt.Errorf("control: could not mount medium: %w", err)
	}

	d.mode = UsbIdle
	if d.hw.FS.Portable() {
		d.mode = PortIdle
		d.hw.Indicator.LEDOn(Green)
		d.hw.Indicator.Strobe(d.hw.FS.FileSeq() + 1)
	}
	d.msg.Printf("booted: mode=%v file-seq=%d", d.mode, d.hw.FS.FileSeq())
	return nil
}

// Acquire queues one capture buffer. It is called by the acquisition
// engine and may run concurrently with the other methods.
func (d *Device) Acquire(buf []byte) {
	d.buffers.Add(1)
	if err := d.hw.Pipeline.Push(buf); err != nil {
		d.lastErr.Store(uint32(ErrCodeRingOverflow))
	}
}

// Tick runs one scheduling step: it ends calibration once enough buffers
// were acquired and drains the ring buffer towards the link or the medium.
func (d *Device) Tick() {
	if d.halted || !d.sampling {
		return
	}

	p := d.hw.Pipeline
	if !p.Calibrated() && d.buffers.Load() >= d.calFrames {
		p.EndCalibration(d.gain)
	}

	switch d.mode {
	case Stream:
		if err := p.DrainLink(); err != nil {
			d.setError(ErrCodeLinkTx, err)
		}
	case UsbStore, PortStore:
		if err := p.DrainStore(); err != nil {
			d.setError(ErrCodeStoreWrite, err)
			d.stopSampling()
		}
	}
}

// startSampling begins a session in mode m. Store modes get a new file.
func (d *Device) startSampling(m Mode) error {
	d.stopCapture()
	d.mode = m

	if m == UsbStore || m == PortStore {
		if err := d.hw.FS.Open(true, 0); err != nil {
			d.setError(ErrCodeFileOpen, err)
			d.stopSampling()
			return err
		}
	}

	d.buffers.Store(0)
	if err := d.hw.Pipeline.Start(); err != nil {
		d.setError(ErrCodeFrontend, err)
		d.stopSampling()
		return err
	}
	d.sampling = true
	d.msg.Printf("sampling: mode=%v gain=%d", d.mode, d.gain)
	return nil
}

// stopCapture halts acquisition and closes a file being stored.
func (d *Device) stopCapture() {
	if d.sampling {
		d.hw.Pipeline.Stop()
		d.sampling = false
		if n := d.hw.Pipeline.Overflows(); n > 0 {
			d.msg.Printf("ring overflow: dropped %d of %d capture buffers", n, d.buffers.Load())
		}
	}
	if (d.mode == UsbStore || d.mode == PortStore) && d.hw.FS.IsOpen() {
		if err := d.hw.FS.Close(); err != nil {
			d.setError(ErrCodeFileClose, err)
		}
	}
}

// stopSampling halts acquisition and returns to the idle variant of the
// current mode. Leaving PortStore shows the sequence of the next file.
func (d *Device) stopSampling() {
	if d.mode == PortStore {
		d.hw.Indicator.Strobe(d.hw.FS.FileSeq() + 1)
	}
	d.hw.Indicator.SetLED(Yellow)

	d.stopCapture()

	switch d.mode {
	case UsbStore:
		d.mode = UsbIdle
	case PortStore:
		d.mode = PortIdle
	}
}

// reset brings the device back to its boot state. The last error survives.
func (d *Device) reset() {
	d.msg.Printf("reset")
	d.stopSampling()
	d.hw.System.Reset()
	d.inited = false
	if err := d.Boot(); err != nil {
		d.msg.Printf("reset: %v", err)
	}
}
