//go:build tinygo

//go:generate tinygo flash -target=xiao

// Command firmware runs the logger core on a XIAO board. The host link is
// the UART, samples are buffered in RAM and files are stored in the on-chip
// flash. Log messages reach the host as print frames.
package main

import (
	"log"
	"machine"
	"time"

	"github.com/itohio/pwrlog/pkg/control"
	"github.com/itohio/pwrlog/pkg/logfs"
	"github.com/itohio/pwrlog/pkg/pipeline"
	"github.com/itohio/pwrlog/pkg/ringbuf"
	"github.com/itohio/pwrlog/pkg/sample"
	"github.com/itohio/pwrlog/pkg/sdcard"
	"github.com/itohio/pwrlog/pkg/store"
)

func main() {
	uart := machine.UART0
	uart.Configure(machine.UARTConfig{BaudRate: UART_BAUD_RATE})

	link := newUARTLink(uart)
	logger := func(prefix string) *log.Logger { return log.New(link, prefix, 0) }
	link.msg = logger("link: ")
	msg := logger("firmware: ")

	led := newLEDs()
	led.SetLED(control.Yellow)
	PIN_BUTTON.Configure(machine.PinConfig{Mode: machine.PinInputPullup})

	clock := &rtc{}
	clock.Set(0)

	var dev *control.Device
	fe := newADCFrontend(SAMPLES_PER_FRAME, SAMPLE_PERIOD, func(buf []byte) { dev.Acquire(buf) })

	ring, err := ringbuf.New(store.NewMem(RING_CAPACITY), RING_CAPACITY)
	if err != nil {
		fail(led, msg, err)
	}
	card, err := sdcard.New(newFlashStore(machine.Flash), WRITE_CHUNK)
	if err != nil {
		fail(led, msg, err)
	}
	fs := logfs.New(card, logfs.WithLogger(logger("logfs: ")), logfs.WithClock(clock))

	pipe, err := pipeline.New(ring, fe, link, fs, SAMPLES_PER_FRAME*sample.RawSize,
		pipeline.WithLogger(logger("pipeline: ")),
		pipeline.WithSettle(SETTLE),
	)
	if err != nil {
		fail(led, msg, err)
	}

	dev, err = control.New(control.Hardware{
		Ring:      ring,
		Pipeline:  pipe,
		FS:        fs,
		Link:      link,
		Indicator: led,
		System:    &board{clock: clock, fe: fe, led: led, msg: logger("board: ")},
	},
		control.WithLogger(logger("control: ")),
		control.WithCalibrationFrames(CALIBRATION_FRAMES),
	)
	if err != nil {
		fail(led, msg, err)
	}

	go link.serve()

	// A failed boot halts the device; the loop keeps showing the code.
	if err := dev.Boot(); err != nil {
		msg.Printf("%v", err)
	}

	var btn button
	for {
		now := time.Now()

		select {
		case p := <-link.rx:
			if err := dev.HandleFrame(p); err != nil {
				msg.Printf("could not handle command: %v", err)
			}
		default:
		}

		press, hold := btn.update(now, !PIN_BUTTON.Get())
		switch {
		case press:
			dev.Press()
		case hold:
			dev.Hold()
		}

		dev.Tick()
		led.update(now)
		time.Sleep(TICK)
	}
}

// fail reports a setup error and blinks the red LED forever.
func fail(led *leds, msg *log.Logger, err error) {
	msg.Printf("setup failed: %v", err)
	for {
		PIN_LED_RED.Set(!PIN_LED_RED.Get())
		led.update(time.Now())
		time.Sleep(STROBE_OFF)
	}
}

// button debounces the button input and tells short presses from holds. A
// hold is reported while the button is still down; its release is not a
// press.
type button struct {
	raw     bool
	changed time.Time
	down    bool
	since   time.Time
	held    bool
}

func (b *button) update(now time.Time, level bool) (press, hold bool) {
	if level != b.raw {
		b.raw = level
		b.changed = now
		return false, false
	}
	if now.Sub(b.changed) < DEBOUNCE {
		return false, false
	}

	switch {
	case level && !b.down:
		b.down = true
		b.since = now
		b.held = false
	case level && !b.held && now.Sub(b.since) >= HOLD_DURATION:
		b.held = true
		hold = true
	case !level && b.down:
		b.down = false
		press = !b.held
	}
	return press, hold
}
