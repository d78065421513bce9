// Package sim runs the logger core on simulated hardware, so that the host
// tools can be used and tested without a board.
package sim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/itohio/pwrlog/pkg/config"
	"github.com/itohio/pwrlog/pkg/control"
	"github.com/itohio/pwrlog/pkg/logfs"
	"github.com/itohio/pwrlog/pkg/pipeline"
	"github.com/itohio/pwrlog/pkg/ringbuf"
	"github.com/itohio/pwrlog/pkg/sdcard"
	"github.com/itohio/pwrlog/pkg/store"
)

// ErrHalted is returned by Run when the device halted on a fatal error.
var ErrHalted = errors.New("sim: device halted")

// DefaultTick is the period of the device scheduling loop.
const DefaultTick = time.Millisecond

type button uint8

const (
	press button = iota
	hold
)

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger of the simulated board. The core components
// log through loggers sharing its output.
func WithLogger(msg *log.Logger) Option {
	return func(r *Runner) { r.msg = msg }
}

// WithTick sets the period of the scheduling loop.
func WithTick(d time.Duration) Option {
	return func(r *Runner) { r.tick = d }
}

// WithRemoteLog sends the device log to the host as print frames.
func WithRemoteLog() Option {
	return func(r *Runner) { r.remote = true }
}

// Runner is a simulated device serving a host link.
type Runner struct {
	cfg    *config.Config
	rw     io.ReadWriter
	msg    *log.Logger
	tick   time.Duration
	remote bool

	dev   *control.Device
	fe    *Frontend
	link  *Link
	fs    *logfs.FS
	sys   *System
	ind   *Indicator
	clock *Clock

	closers []io.Closer
	buttons chan button
}

// New assembles a simulated device from cfg talking over rw. When cfg names
// a buffer file or a card image, they are memory-mapped and must be released
// with Close.
func New(cfg *config.Config, rw io.ReadWriter, opts ...Option) (*Runner, error) {
	r := &Runner{
		cfg:     cfg,
		rw:      rw,
		msg:     log.New(os.Stdout, "sim: ", 0),
		tick:    DefaultTick,
		buttons: make(chan button, 4),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.link = NewLink(rw, 4, r.logger("link: "))
	if r.remote {
		r.msg = log.New(io.MultiWriter(r.msg.Writer(), r.link.Printer()), r.msg.Prefix(), r.msg.Flags())
	}

	ok := false
	defer func() {
		if !ok {
			r.Close()
		}
	}()

	ringStore, err := r.open(cfg.Buffer.File, cfg.Buffer.Capacity)
	if err != nil {
		return nil, fmt.Errorf("sim: could not open ring buffer store: %w", err)
	}
	ring, err := ringbuf.New(ringStore, cfg.Buffer.Capacity)
	if err != nil {
		return nil, err
	}

	cardStore, err := r.open(cfg.Storage.Image, cfg.Storage.Blocks*logfs.BlockSize)
	if err != nil {
		return nil, fmt.Errorf("sim: could not open card image: %w", err)
	}
	card, err := sdcard.New(cardStore, cfg.Storage.WriteChunk)
	if err != nil {
		return nil, err
	}

	r.clock = NewClock()
	r.fs = logfs.New(card, logfs.WithLogger(r.logger("logfs: ")), logfs.WithClock(r.clock))
	r.ind = &Indicator{msg: r.logger("led: ")}
	r.sys = newSystem(r.clock, []byte(cfg.EEPROM), r.msg)
	r.fe = NewFrontend(cfg, func(buf []byte) { r.dev.Acquire(buf) })

	pipe, err := pipeline.New(ring, r.fe, r.link, r.fs, cfg.FrameBytes(),
		pipeline.WithLogger(r.logger("pipeline: ")),
		pipeline.WithSettle(cfg.Acquisition.Settle),
	)
	if err != nil {
		return nil, err
	}

	r.dev, err = control.New(control.Hardware{
		Ring:      ring,
		Pipeline:  pipe,
		FS:        r.fs,
		Link:      r.link,
		Indicator: r.ind,
		System:    r.sys,
	},
		control.WithLogger(r.logger("control: ")),
		control.WithCalibrationFrames(cfg.Acquisition.CalibrationFrames),
		control.WithGain(cfg.Acquisition.Gain),
	)
	if err != nil {
		return nil, err
	}

	ok = true
	return r, nil
}

func (r *Runner) logger(prefix string) *log.Logger {
	return log.New(r.msg.Writer(), prefix, r.msg.Flags())
}

func (r *Runner) open(name string, size int) (store.Store, error) {
	s, err := store.Open(name, size)
	if err != nil {
		return nil, err
	}
	if c, ok := s.(io.Closer); ok {
		r.closers = append(r.closers, c)
	}
	return s, nil
}

// Device returns the simulated device.
func (r *Runner) Device() *control.Device { return r.dev }

// FS returns the filesystem of the simulated card.
func (r *Runner) FS() *logfs.FS { return r.fs }

// Indicator returns the simulated LEDs.
func (r *Runner) Indicator() *Indicator { return r.ind }

// System returns the simulated board.
func (r *Runner) System() *System { return r.sys }

// Press queues a short button press.
func (r *Runner) Press() { r.push(press) }

// Hold queues a long button press.
func (r *Runner) Hold() { r.push(hold) }

func (r *Runner) push(b button) {
	select {
	case r.buttons <- b:
	default:
		r.msg.Printf("button queue full, dropping event")
	}
}

// Run boots the device and serves the link until ctx is done, the host
// closes the stream or the device halts. rw is closed on return when it is
// an io.Closer.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.dev.Boot(); err != nil {
		return fmt.Errorf("%w: %w", ErrHalted, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	grp, ctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		defer cancel()
		return r.link.ServeRx(ctx)
	})
	grp.Go(func() error {
		return r.link.ServeTx(ctx)
	})
	grp.Go(func() error {
		<-ctx.Done()
		if c, ok := r.rw.(io.Closer); ok {
			_ = c.Close()
		}
		return nil
	})
	grp.Go(func() error {
		defer r.fe.Stop()
		return r.loop(ctx)
	})

	return grp.Wait()
}

// loop is the device main loop: every call into the device is made here.
func (r *Runner) loop(ctx context.Context) error {
	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.sys.Halted():
			return fmt.Errorf("%w: %v", ErrHalted, r.sys.HaltCode())
		case p := <-r.link.Commands():
			if err := r.dev.HandleFrame(p); err != nil {
				r.msg.Printf("could not handle command: %v", err)
			}
		case b := <-r.buttons:
			switch b {
			case press:
				r.dev.Press()
			case hold:
				r.dev.Hold()
			}
		case <-ticker.C:
			r.dev.Tick()
		}
	}
}

// Close releases the memory-mapped stores.
func (r *Runner) Close() error {
	var errs []error
	for _, c := range r.closers {
		errs = append(errs, c.Close())
	}
	r.closers = nil
	return errors.Join(errs...)
}
