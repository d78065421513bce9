package sim

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/itohio/pwrlog"
	"github.com/itohio/pwrlog/pkg/control"
	"github.com/itohio/pwrlog/pkg/logfs"
)

// Clock is the real-time clock of the simulated device. It runs from the
// host wall clock until set.
type Clock struct {
	mu   sync.Mutex
	base time.Time // device time at the moment of the last set
	set  time.Time // wall time of the last set
	now  func() time.Time
}

var _ logfs.Clock = (*Clock)(nil)

// NewClock returns a clock in step with the wall clock.
func NewClock() *Clock {
	now := time.Now()
	return &Clock{base: now, set: now, now: time.Now}
}

// Set sets the clock to s seconds since the epoch.
func (c *Clock) Set(s uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set = c.now()
	c.base = time.Unix(int64(s), 0)
}

// Now returns the current device time.
func (c *Clock) Now() (s, ms uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.base.Add(c.now().Sub(c.set))
	return uint32(t.Unix()), uint32(t.Nanosecond() / int(time.Millisecond))
}

// Indicator records and logs the LED state.
type Indicator struct {
	mu     sync.Mutex
	led    control.Color
	strobe uint32
	msg    *log.Logger
}

var _ control.Indicator = (*Indicator)(nil)

func (i *Indicator) SetLED(c control.Color) { i.update(func() { i.led = c }) }
func (i *Indicator) LEDOn(c control.Color)  { i.update(func() { i.led |= c }) }
func (i *Indicator) LEDOff(c control.Color) { i.update(func() { i.led &^= c }) }
func (i *Indicator) Strobe(n uint32)        { i.update(func() { i.strobe = n }) }

// State returns the lit LEDs and the strobe count.
func (i *Indicator) State() (control.Color, uint32) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.led, i.strobe
}

func (i *Indicator) update(f func()) {
	i.mu.Lock()
	defer i.mu.Unlock()
	f()
	i.msg.Printf("led=%v strobe=%d", i.led, i.strobe)
}

// System is the simulated board: EEPROM, clock, resets and halts.
type System struct {
	clock  *Clock
	eeprom []byte
	msg    *log.Logger

	resets atomic.Int32
	code   atomic.Uint32
	once   sync.Once
	halted chan struct{}
}

var _ control.System = (*System)(nil)

func newSystem(clock *Clock, eeprom []byte, msg *log.Logger) *System {
	return &System{
		clock:  clock,
		eeprom: eeprom,
		msg:    msg,
		halted: make(chan struct{}),
	}
}

func (s *System) Reset() {
	s.resets.Add(1)
	s.msg.Printf("reset")
}

// Resets returns the number of resets so far.
func (s *System) Resets() int { return int(s.resets.Load()) }

func (s *System) Halt(code control.ErrorCode) {
	s.once.Do(func() {
		s.code.Store(uint32(code))
		s.msg.Printf("halted: %v", code)
		close(s.halted)
	})
}

// Halted is closed once the device halted.
func (s *System) Halted() <-chan struct{} { return s.halted }

// HaltCode returns the code the device halted with.
func (s *System) HaltCode() control.ErrorCode { return control.ErrorCode(s.code.Load()) }

// SelfTest always passes: there are no drivers to test.
func (s *System) SelfTest(arg uint16) int8 {
	s.msg.Printf("driver self test %d: ok", arg)
	return 0
}

func (s *System) ReadEEPROM(p []byte) (int, error) {
	return copy(p, s.eeprom), nil
}

func (s *System) SetRTC(sec uint32) { s.clock.Set(sec) }

func (s *System) Revision() string { return pwrlog.Revision() }
