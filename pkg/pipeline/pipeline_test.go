package pipeline

import (
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/itohio/pwrlog/pkg/logfs"
	"github.com/itohio/pwrlog/pkg/proto"
	"github.com/itohio/pwrlog/pkg/ringbuf"
	"github.com/itohio/pwrlog/pkg/sdcard"
	"github.com/itohio/pwrlog/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFrontend struct {
	calls   []string
	gain    uint16
	current CurrentInput
	voltage VoltageInput
	running bool
	paused  bool
	failing bool
}

func (f *fakeFrontend) SetGain(idx uint16) {
	f.gain = idx
	f.calls = append(f.calls, "gain")
}

func (f *fakeFrontend) SelectCurrent(in CurrentInput) {
	f.current = in
	f.calls = append(f.calls, "current")
}

func (f *fakeFrontend) SelectVoltage(in VoltageInput) {
	f.voltage = in
	f.calls = append(f.calls, "voltage")
}

func (f *fakeFrontend) Start() error {
	f.calls = append(f.calls, "start")
	if f.failing {
		return errors.New("dma fault")
	}
	f.running = true
	return nil
}

func (f *fakeFrontend) Stop() {
	f.running = false
	f.calls = append(f.calls, "stop")
}

func (f *fakeFrontend) Pause(paused bool) {
	f.paused = paused
	if paused {
		f.calls = append(f.calls, "pause")
	} else {
		f.calls = append(f.calls, "resume")
	}
}

type sent struct {
	typ     proto.FrameType
	payload []byte
}

type fakeLink struct {
	ready bool
	fail  error
	sent  []sent
}

func (l *fakeLink) TxReady() bool { return l.ready }

func (l *fakeLink) Send(t proto.FrameType, payload []byte) error {
	if l.fail != nil {
		return l.fail
	}
	l.sent = append(l.sent, sent{t, append([]byte(nil), payload...)})
	return nil
}

// countingStorage completes a block after a fixed number of steps.
type countingStorage struct {
	steps   int
	pending int
	begins  int
	blocks  [][]byte
	err     error
}

func (s *countingStorage) BeginBlockWrite(p []byte) error {
	if s.pending > 0 {
		return logfs.ErrWriteInProgress
	}
	s.begins++
	s.pending = s.steps
	s.blocks = append(s.blocks, append([]byte(nil), p...))
	return nil
}

func (s *countingStorage) ContinueBlockWrite() (bool, error) {
	if s.err != nil {
		s.pending = 0
		return false, s.err
	}
	s.pending--
	return s.pending == 0, nil
}

const frameBytes = 16

func newPipeline(t *testing.T, capacity int, link Link, fs Storage) (*Pipeline, *fakeFrontend) {
	t.Helper()
	ring, err := ringbuf.New(store.NewMem(capacity), capacity)
	require.NoError(t, err)
	fe := &fakeFrontend{}
	p, err := New(ring, fe, link, fs, frameBytes,
		WithLogger(log.New(io.Discard, "", 0)),
		WithSleep(func(time.Duration) {}),
	)
	require.NoError(t, err)
	return p, fe
}

func fill(n int, seed byte) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = seed + byte(i)
	}
	return p
}

func TestNew(t *testing.T) {
	ring, err := ringbuf.New(store.NewMem(64), 64)
	require.NoError(t, err)

	_, err = New(nil, &fakeFrontend{}, nil, nil, 16)
	assert.Error(t, err)
	_, err = New(ring, &fakeFrontend{}, nil, nil, 0)
	assert.Error(t, err)
	_, err = New(ring, &fakeFrontend{}, nil, nil, 10)
	assert.Error(t, err)
	_, err = New(ring, &fakeFrontend{}, nil, nil, proto.MaxPayload)
	assert.Error(t, err)
}

func TestStartAndCalibration(t *testing.T) {
	p, fe := newPipeline(t, 256, nil, nil)

	var slept time.Duration
	p.sleep = func(d time.Duration) {
		slept = d
		fe.calls = append(fe.calls, "sleep")
	}

	require.NoError(t, p.Push(fill(frameBytes, 0))) // left over from a previous session
	require.NoError(t, p.Start())
	assert.Equal(t, []string{"gain", "current", "voltage", "sleep", "start"}, fe.calls)
	assert.Equal(t, uint16(CalibrationGain), fe.gain)
	assert.Equal(t, CurrentGND, fe.current)
	assert.Equal(t, VoltageGND, fe.voltage)
	assert.Equal(t, 10*time.Millisecond, slept)
	assert.False(t, p.Calibrated())
	assert.Equal(t, 0, p.ring.Len())
	assert.Equal(t, uint32(0), p.SampleCount())

	fe.calls = nil
	p.EndCalibration(5)
	assert.Equal(t, []string{"pause", "voltage", "gain", "current", "resume"}, fe.calls)
	assert.Equal(t, uint16(5), fe.gain)
	assert.Equal(t, CurrentShunt, fe.current)
	assert.Equal(t, VoltageLive, fe.voltage)
	assert.False(t, fe.paused)
	assert.True(t, p.Calibrated())

	// one way per session
	fe.calls = nil
	p.EndCalibration(1)
	assert.Empty(t, fe.calls)
	assert.Equal(t, uint16(5), fe.gain)

	p.Stop()
	assert.False(t, fe.running)
	require.NoError(t, p.Start())
	assert.False(t, p.Calibrated())
}

func TestStartFailure(t *testing.T) {
	p, fe := newPipeline(t, 256, nil, nil)
	fe.failing = true
	assert.Error(t, p.Start())
}

func TestPushOverflow(t *testing.T) {
	p, _ := newPipeline(t, 2*frameBytes, nil, nil)

	require.NoError(t, p.Push(fill(frameBytes, 0)))
	require.NoError(t, p.Push(fill(frameBytes, 1)))
	err := p.Push(fill(frameBytes, 2))
	assert.ErrorIs(t, err, ringbuf.ErrOverflow)
	assert.Equal(t, uint32(1), p.Overflows())
	assert.Equal(t, uint32(2*frameBytes/4), p.SampleCount())
}

func TestDrainLink(t *testing.T) {
	link := &fakeLink{}
	p, _ := newPipeline(t, 256, link, nil)
	require.NoError(t, p.Start())

	// underflow is a no-op
	link.ready = true
	require.NoError(t, p.DrainLink())
	assert.Empty(t, link.sent)
	assert.Equal(t, uint32(0), p.LinkSeq())

	// not ready: data stays buffered
	require.NoError(t, p.Push(fill(frameBytes, 1)))
	link.ready = false
	require.NoError(t, p.DrainLink())
	assert.Empty(t, link.sent)
	assert.Equal(t, frameBytes, p.ring.Len())

	link.ready = true
	require.NoError(t, p.Push(fill(frameBytes, 2)))
	require.NoError(t, p.DrainLink())
	require.NoError(t, p.DrainLink())
	require.NoError(t, p.DrainLink())
	require.Len(t, link.sent, 2)
	assert.Equal(t, uint32(2), p.LinkSeq())

	for i, s := range link.sent {
		assert.Equal(t, proto.FrameSamples, s.typ)
		seq, data, err := proto.ParseSamples(s.payload)
		require.NoError(t, err)
		assert.Equal(t, uint32(i), seq)
		assert.Equal(t, fill(frameBytes, byte(i+1)), data)
	}
}

func TestDrainLinkSendError(t *testing.T) {
	link := &fakeLink{ready: true, fail: errors.New("tx fault")}
	p, _ := newPipeline(t, 256, link, nil)
	require.NoError(t, p.Start())
	require.NoError(t, p.Push(fill(frameBytes, 1)))

	assert.Error(t, p.DrainLink())
	assert.Equal(t, uint32(0), p.LinkSeq())
}

func TestDrainStoreStateMachine(t *testing.T) {
	fs := &countingStorage{steps: 3}
	p, _ := newPipeline(t, 4*logfs.BlockSize, nil, fs)
	require.NoError(t, p.Start())

	// idle and underflow: nothing happens
	require.NoError(t, p.DrainStore())
	assert.False(t, p.Writing())
	assert.Equal(t, 0, fs.begins)

	for i := 0; i < 2*logfs.BlockSize/frameBytes; i++ {
		require.NoError(t, p.Push(fill(frameBytes, byte(i))))
	}

	require.NoError(t, p.DrainStore())
	assert.True(t, p.Writing())
	assert.Equal(t, 1, fs.begins)

	// continuing never begins a second write
	for i := 0; i < 2; i++ {
		require.NoError(t, p.DrainStore())
		assert.True(t, p.Writing())
		assert.Equal(t, 1, fs.begins)
		assert.Equal(t, uint32(0), p.BlockIdx())
	}
	require.NoError(t, p.DrainStore())
	assert.False(t, p.Writing())
	assert.Equal(t, uint32(1), p.BlockIdx())

	for i := 0; i < 4; i++ {
		require.NoError(t, p.DrainStore())
	}
	assert.Equal(t, 2, fs.begins)
	assert.Equal(t, uint32(2), p.BlockIdx())

	// ring drained: idle again
	require.NoError(t, p.DrainStore())
	assert.False(t, p.Writing())
	assert.Equal(t, 2, fs.begins)
}

func TestDrainStoreError(t *testing.T) {
	fs := &countingStorage{steps: 2}
	p, _ := newPipeline(t, 4*logfs.BlockSize, nil, fs)
	require.NoError(t, p.Start())
	require.NoError(t, p.Push(fill(logfs.BlockSize, 0)))

	require.NoError(t, p.DrainStore())
	fs.err = logfs.ErrSdWrite
	err := p.DrainStore()
	assert.ErrorIs(t, err, logfs.ErrSdWrite)
	assert.False(t, p.Writing())
	assert.Equal(t, uint32(0), p.BlockIdx())
}

func TestDrainStoreToFilesystem(t *testing.T) {
	card, err := sdcard.New(store.NewMem(64*logfs.BlockSize), 128)
	require.NoError(t, err)
	fs := logfs.New(card, logfs.WithLogger(log.New(io.Discard, "", 0)))
	require.NoError(t, fs.Format(false))
	require.NoError(t, fs.Open(true, 0))

	p, _ := newPipeline(t, 8*logfs.BlockSize, nil, fs)
	require.NoError(t, p.Start())

	var want []byte
	for i := 0; i < 3*logfs.BlockSize/frameBytes; i++ {
		buf := fill(frameBytes, byte(i))
		want = append(want, buf...)
		require.NoError(t, p.Push(buf))
	}
	for i := 0; i < 100; i++ {
		require.NoError(t, p.DrainStore())
	}
	assert.Equal(t, uint32(3), p.BlockIdx())

	require.NoError(t, fs.Close())
	require.NoError(t, fs.Open(false, 1))
	got, err := io.ReadAll(fs)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
