//go:build tinygo

package main

import (
	"errors"
	"io"
	"log"
	"machine"
	"sync"
	"sync/atomic"
	"time"

	"github.com/itohio/pwrlog"
	"github.com/itohio/pwrlog/pkg/control"
	"github.com/itohio/pwrlog/pkg/logfs"
	"github.com/itohio/pwrlog/pkg/pipeline"
	"github.com/itohio/pwrlog/pkg/proto"
	"github.com/itohio/pwrlog/pkg/sample"
	"github.com/itohio/pwrlog/pkg/store"
)

// uartLink frames the host link over the UART.
type uartLink struct {
	uart *machine.UART
	msg  *log.Logger

	mu  sync.Mutex
	enc *proto.Encoder
	rx  chan []byte
}

var _ control.Link = (*uartLink)(nil)

func newUARTLink(uart *machine.UART) *uartLink {
	return &uartLink{
		uart: uart,
		msg:  log.New(io.Discard, "", 0),
		enc:  proto.NewEncoder(uart),
		rx:   make(chan []byte, 4),
	}
}

// TxReady is always true: Send blocks until the UART took the frame.
func (l *uartLink) TxReady() bool { return true }

func (l *uartLink) Send(t proto.FrameType, payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enc.Encode(proto.Frame{Type: t, Payload: payload})
}

func (l *uartLink) FlushRx() {
	for {
		select {
		case <-l.rx:
		default:
			return
		}
	}
}

// Write sends p to the host as a print frame.
func (l *uartLink) Write(p []byte) (int, error) {
	if err := l.Send(proto.FramePrint, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// serve decodes host frames forever and queues the commands.
func (l *uartLink) serve() {
	dec := proto.NewDecoder(uartReader{l.uart})
	var f proto.Frame
	for {
		err := dec.Decode(&f)
		switch {
		case err == nil:
		case errors.Is(err, proto.ErrFrameLength):
			l.msg.Printf("rx: %v", err)
			continue
		default:
			l.msg.Printf("rx: %v", err)
			dec = proto.NewDecoder(uartReader{l.uart})
			continue
		}
		if f.Type != proto.FrameControl {
			continue
		}
		select {
		case l.rx <- append([]byte(nil), f.Payload...):
		default:
			l.msg.Printf("rx: queue full, dropping command")
		}
	}
}

// uartReader blocks until the UART has data.
type uartReader struct{ uart *machine.UART }

func (r uartReader) Read(p []byte) (int, error) {
	for r.uart.Buffered() == 0 {
		time.Sleep(100 * time.Microsecond)
	}
	return r.uart.Read(p)
}

// adcFrontend samples the voltage and current channels on a fixed period
// and hands a capture buffer to the sink every n samples.
type adcFrontend struct {
	voltage machine.ADC
	current machine.ADC
	n       int
	period  time.Duration
	sink    func([]byte)

	running atomic.Bool
	paused  atomic.Bool
	stop    chan struct{}
}

var _ pipeline.Frontend = (*adcFrontend)(nil)

func newADCFrontend(n int, period time.Duration, sink func([]byte)) *adcFrontend {
	fe := &adcFrontend{
		voltage: machine.ADC{Pin: PIN_VOLTAGE_ADC},
		current: machine.ADC{Pin: PIN_CURRENT_ADC},
		n:       n,
		period:  period,
		sink:    sink,
	}
	fe.configure()
	return fe
}

func (fe *adcFrontend) configure() {
	for _, p := range []machine.Pin{PIN_GAIN0, PIN_GAIN1, PIN_GAIN2, PIN_CAL_CURRENT, PIN_CAL_VOLTAGE} {
		p.Configure(machine.PinConfig{Mode: machine.PinOutput})
		p.Low()
	}
	PIN_VOLTAGE_ADC.Configure(machine.PinConfig{Mode: machine.PinInput})
	PIN_CURRENT_ADC.Configure(machine.PinConfig{Mode: machine.PinInput})

	cfg := machine.ADCConfig{Reference: ADC_REFERENCE_MV, Resolution: ADC_RESOLUTION}
	fe.voltage.Configure(cfg)
	fe.current.Configure(cfg)
}

func (fe *adcFrontend) SetGain(idx uint16) {
	PIN_GAIN0.Set(idx&1 != 0)
	PIN_GAIN1.Set(idx&2 != 0)
	PIN_GAIN2.Set(idx&4 != 0)
}

func (fe *adcFrontend) SelectCurrent(in pipeline.CurrentInput) {
	PIN_CAL_CURRENT.Set(in == pipeline.CurrentGND)
}

func (fe *adcFrontend) SelectVoltage(in pipeline.VoltageInput) {
	PIN_CAL_VOLTAGE.Set(in == pipeline.VoltageGND)
}

func (fe *adcFrontend) Pause(paused bool) { fe.paused.Store(paused) }

func (fe *adcFrontend) Start() error {
	if fe.running.Swap(true) {
		return nil
	}
	fe.paused.Store(false)
	fe.stop = make(chan struct{})
	go fe.capture(fe.stop)
	return nil
}

func (fe *adcFrontend) Stop() {
	if fe.running.Swap(false) {
		close(fe.stop)
	}
}

func (fe *adcFrontend) capture(stop <-chan struct{}) {
	// machine.ADC.Get returns a left-aligned 16-bit reading
	const shift = 16 - ADC_RESOLUTION

	buf := make([]byte, 0, fe.n*sample.RawSize)
	next := time.Now()
	for {
		select {
		case <-stop:
			return
		default:
		}

		if !fe.paused.Load() {
			buf = sample.AppendRaw(buf, sample.Raw{
				V: fe.voltage.Get() >> shift,
				I: fe.current.Get() >> shift,
			})
			if len(buf) == cap(buf) {
				fe.sink(buf)
				buf = buf[:0]
			}
		}

		next = next.Add(fe.period)
		if d := time.Until(next); d > 0 {
			time.Sleep(d)
		} else {
			next = time.Now()
		}
	}
}

// leds drives the indicator LEDs. The strobe LED blinks n times, pauses and
// starts over; update advances it.
type leds struct {
	strobe  uint32
	blink   uint32 // blinks done in this round
	on      bool
	changed time.Time
}

var _ control.Indicator = (*leds)(nil)

func newLEDs() *leds {
	for _, p := range []machine.Pin{PIN_LED_YELLOW, PIN_LED_GREEN, PIN_LED_RED, PIN_LED_STROBE} {
		p.Configure(machine.PinConfig{Mode: machine.PinOutput})
		p.Low()
	}
	return &leds{}
}

func (l *leds) SetLED(c control.Color) {
	PIN_LED_YELLOW.Set(c&control.Yellow != 0)
	PIN_LED_GREEN.Set(c&control.Green != 0)
	PIN_LED_RED.Set(c&control.Red != 0)
}

func (l *leds) LEDOn(c control.Color)  { l.set(c, true) }
func (l *leds) LEDOff(c control.Color) { l.set(c, false) }

func (l *leds) set(c control.Color, on bool) {
	if c&control.Yellow != 0 {
		PIN_LED_YELLOW.Set(on)
	}
	if c&control.Green != 0 {
		PIN_LED_GREEN.Set(on)
	}
	if c&control.Red != 0 {
		PIN_LED_RED.Set(on)
	}
}

func (l *leds) Strobe(n uint32) {
	l.strobe = n
	l.blink = 0
	l.on = false
	l.changed = time.Now()
	PIN_LED_STROBE.Low()
}

func (l *leds) update(now time.Time) {
	if l.strobe == 0 {
		return
	}
	elapsed := now.Sub(l.changed)
	switch {
	case l.on && elapsed >= STROBE_ON:
		l.on = false
		l.blink++
	case !l.on && l.blink < l.strobe && elapsed >= STROBE_OFF:
		l.on = true
	case !l.on && l.blink >= l.strobe && elapsed >= STROBE_PAUSE:
		l.blink = 0
		l.on = true
	default:
		return
	}
	l.changed = now
	PIN_LED_STROBE.Set(l.on)
}

// rtc counts seconds from the last time the host set it.
type rtc struct {
	base time.Time
	set  time.Time
}

var _ logfs.Clock = (*rtc)(nil)

func (c *rtc) Set(s uint32) {
	c.set = time.Now()
	c.base = time.Unix(int64(s), 0)
}

func (c *rtc) Now() (s, ms uint32) {
	t := c.base.Add(time.Since(c.set))
	return uint32(t.Unix()), uint32(t.Nanosecond() / int(time.Millisecond))
}

// board is the rest of the hardware.
type board struct {
	clock *rtc
	fe    *adcFrontend
	led   *leds
	msg   *log.Logger

	halted bool
	code   control.ErrorCode
}

var _ control.System = (*board)(nil)

func (b *board) Reset() {
	b.fe.Stop()
	b.fe.configure()
	b.led.Strobe(0)
}

func (b *board) Halt(code control.ErrorCode) {
	b.halted = true
	b.code = code
	b.led.SetLED(control.Red)
	b.led.Strobe(uint32(code))
	b.msg.Printf("halted: %v", code)
}

// SelfTest checks that both ADC channels read within range.
func (b *board) SelfTest(arg uint16) int8 {
	const limit = 1 << ADC_RESOLUTION
	const shift = 16 - ADC_RESOLUTION
	for i := 0; i < max(int(arg), 1); i++ {
		if b.fe.voltage.Get()>>shift >= limit || b.fe.current.Get()>>shift >= limit {
			return 1
		}
	}
	return 0
}

func (b *board) ReadEEPROM(p []byte) (int, error) { return copy(p, EEPROM_ID), nil }

func (b *board) SetRTC(s uint32) { b.clock.Set(s) }

func (b *board) Revision() string { return pwrlog.Revision() }

// flashStore is a store over the on-chip flash data area. An erase block is
// erased when a write starts at its first byte, so writes must be made in
// address order within an erase block.
type flashStore struct {
	dev  machine.BlockDevice
	size int64
}

var _ store.Store = (*flashStore)(nil)

func newFlashStore(dev machine.BlockDevice) *flashStore {
	size := dev.Size()
	size -= size % logfs.BlockSize
	return &flashStore{dev: dev, size: size}
}

func (s *flashStore) Len() int { return int(s.size) }

func (s *flashStore) ReadAt(p []byte, off int64) (int, error) {
	return s.dev.ReadAt(p, off)
}

func (s *flashStore) WriteAt(p []byte, off int64) (int, error) {
	eb := s.dev.EraseBlockSize()
	end := off + int64(len(p))
	for blk := (off + eb - 1) / eb; blk*eb < end; blk++ {
		if err := s.dev.EraseBlocks(blk, 1); err != nil {
			return 0, err
		}
	}
	return s.dev.WriteAt(p, off)
}
