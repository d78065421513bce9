package link

import (
	"context"
	"errors"
	"net"

	"github.com/itohio/pwrlog/pkg/config"
	"github.com/itohio/pwrlog/pkg/sim"
)

// Mock is a client connected to a simulated device running in-process.
type Mock struct {
	*Client
	runner *sim.Runner
	cancel context.CancelFunc
	errc   chan error
}

// NewMock starts a simulated device configured by cfg and connects a client
// to it. simOpts configure the simulated device.
func NewMock(cfg *config.Config, simOpts []sim.Option, opts ...Option) (*Mock, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	hostEnd, devEnd := net.Pipe()
	runner, err := sim.New(cfg, devEnd, simOpts...)
	if err != nil {
		hostEnd.Close()
		devEnd.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Mock{
		Client: NewClient(hostEnd, opts...),
		runner: runner,
		cancel: cancel,
		errc:   make(chan error, 1),
	}
	go func() { m.errc <- runner.Run(ctx) }()
	return m, nil
}

// Runner returns the simulated device.
func (m *Mock) Runner() *sim.Runner { return m.runner }

// Press presses the device button.
func (m *Mock) Press() { m.runner.Press() }

// Hold holds the device button.
func (m *Mock) Hold() { m.runner.Hold() }

// Close disconnects and stops the simulated device.
func (m *Mock) Close() error {
	err := m.Client.Close()
	m.cancel()
	if rerr := <-m.errc; rerr != nil && !errors.Is(rerr, context.Canceled) {
		err = errors.Join(err, rerr)
	}
	m.errc <- nil
	return errors.Join(err, m.runner.Close())
}
