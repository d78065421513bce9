package link

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"net"
	"testing"
	"time"

	"github.com/itohio/pwrlog/pkg/config"
	"github.com/itohio/pwrlog/pkg/proto"
	"github.com/itohio/pwrlog/pkg/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quiet() *log.Logger { return log.New(io.Discard, "", 0) }

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Acquisition.SamplesPerFrame = 16
	cfg.Acquisition.SamplePeriod = 100 * time.Microsecond
	cfg.Acquisition.CalibrationFrames = 2
	cfg.Acquisition.Settle = time.Millisecond
	cfg.Buffer.Capacity = 8192
	cfg.Storage.Blocks = 256
	cfg.EEPROM = "pwrlog"
	return cfg
}

func newMock(t *testing.T) *Mock {
	t.Helper()
	m, err := NewMock(testConfig(), []sim.Option{sim.WithLogger(quiet())}, WithLogger(quiet()))
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

// fakeDevice answers command frames with the frames returned by handle.
func fakeDevice(t *testing.T, handle func(proto.Message) []proto.Frame) *Client {
	t.Helper()
	hostEnd, devEnd := net.Pipe()
	go func() {
		defer devEnd.Close()
		dec := proto.NewDecoder(devEnd)
		enc := proto.NewEncoder(devEnd)
		var f proto.Frame
		for {
			if err := dec.Decode(&f); err != nil {
				return
			}
			var m proto.Message
			if err := m.UnmarshalBinary(f.Payload); err != nil {
				continue
			}
			for _, r := range handle(m) {
				if err := enc.Encode(r); err != nil {
					return
				}
			}
		}
	}()
	c := NewClient(hostEnd, WithLogger(quiet()), WithTimeout(100*time.Millisecond))
	t.Cleanup(func() { c.Close() })
	return c
}

func ackFrame(t proto.CommandType, v int8) proto.Frame {
	p, _ := proto.Ack{Type: t, Result: v}.MarshalBinary()
	return proto.Frame{Type: proto.FrameControlAck, Payload: p}
}

func TestClientCommand(t *testing.T) {
	c := fakeDevice(t, func(m proto.Message) []proto.Frame {
		return []proto.Frame{ackFrame(m.Type, int8(m.Value1))}
	})

	code, err := c.SelfTest(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, int8(5), code)

	portable, err := c.IsPortable(context.Background())
	require.NoError(t, err)
	assert.False(t, portable)
}

func TestClientAckMismatch(t *testing.T) {
	c := fakeDevice(t, func(m proto.Message) []proto.Frame {
		return []proto.Frame{ackFrame(proto.Reset, 0)}
	})

	_, err := c.Init(context.Background())
	assert.ErrorIs(t, err, ErrReply)
}

func TestClientTimeout(t *testing.T) {
	c := fakeDevice(t, func(proto.Message) []proto.Frame { return nil })

	_, err := c.Init(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClientReadFrameSkipsLive(t *testing.T) {
	c := fakeDevice(t, func(m proto.Message) []proto.Frame {
		if m.Type != proto.ReadStorageOverLink {
			return nil
		}
		return []proto.Frame{
			{Type: proto.FrameSamples, Payload: proto.AppendSamples(nil, 7, []byte{9, 9, 9, 9})},
			{Type: proto.FrameSamples, Payload: proto.AppendSamples(nil, uint32(m.Value2), []byte{1, 2, 3, 4})},
		}
	})

	data, err := c.ReadFrame(context.Background(), 1, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, data)
}

func TestClientLiveFrames(t *testing.T) {
	c := fakeDevice(t, func(m proto.Message) []proto.Frame {
		return []proto.Frame{
			ackFrame(m.Type, 0),
			{Type: proto.FramePrint, Payload: []byte("hello")},
			{Type: proto.FrameSamples, Payload: proto.AppendSamples(nil, 4, []byte{1, 0, 2, 0, 3, 0, 4, 0})},
		}
	})

	require.NoError(t, c.StartStream(context.Background()))
	select {
	case f := <-c.Frames():
		assert.Equal(t, uint32(4), f.Seq)
		assert.Len(t, f.Samples, 2)
	case <-time.After(time.Second):
		t.Fatal("no frame received")
	}
}

func TestClientClose(t *testing.T) {
	c := fakeDevice(t, func(proto.Message) []proto.Frame { return nil })

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, ok := <-c.Frames()
	assert.False(t, ok, "frames channel should be closed")

	_, err := c.Init(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMockStream(t *testing.T) {
	m := newMock(t)
	ctx := context.Background()

	code, err := m.Init(ctx)
	require.NoError(t, err)
	assert.Equal(t, int8(0), code)

	require.NoError(t, m.SetGain(ctx, 2))
	require.NoError(t, m.StartStream(ctx))

	for i := 0; i < 3; i++ {
		select {
		case f := <-m.Frames():
			assert.Equal(t, uint32(i), f.Seq)
			assert.Len(t, f.Samples, 16)
		case <-time.After(2 * time.Second):
			t.Fatalf("frame %d not received", i)
		}
	}

	require.NoError(t, m.Close())
	for range m.Frames() {
	}
}

func TestMockStorage(t *testing.T) {
	m := newMock(t)
	ctx := context.Background()

	_, err := m.Init(ctx)
	require.NoError(t, err)

	t0 := time.Unix(1700000000, 0)
	require.NoError(t, m.SetRTC(ctx, t0))
	require.NoError(t, m.StartStore(ctx))
	time.Sleep(100 * time.Millisecond)

	n, err := m.SampleCount(ctx)
	require.NoError(t, err)
	assert.Positive(t, n)

	var buf bytes.Buffer
	written, err := m.ReadFile(ctx, 1, &buf)
	require.NoError(t, err)
	assert.Positive(t, written)
	assert.Equal(t, int64(buf.Len()), written)

	created, err := m.GetRTC(ctx, 1)
	require.NoError(t, err)
	assert.WithinDuration(t, t0, created, 2*time.Second)

	missing, err := m.ReadFrame(ctx, 9, 0)
	require.NoError(t, err)
	assert.Empty(t, missing)

	rev, err := m.GitHash(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, rev)

	eeprom, err := m.ReadEEPROM(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte("pwrl"), eeprom)

	code, err := m.SelfTest(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int8(0), code)
}

func TestMockButtons(t *testing.T) {
	m := newMock(t)
	ctx := context.Background()

	m.Hold()
	assert.Eventually(t, func() bool {
		ok, err := m.IsPortable(ctx)
		return err == nil && ok
	}, 2*time.Second, 10*time.Millisecond)

	m.Press()
	time.Sleep(100 * time.Millisecond)
	m.Press()
	time.Sleep(20 * time.Millisecond)

	var buf bytes.Buffer
	_, err := m.ReadFile(ctx, 1, &buf)
	require.NoError(t, err)
	assert.NotZero(t, buf.Len())
}

func TestMockCloseTwice(t *testing.T) {
	m, err := NewMock(testConfig(), []sim.Option{sim.WithLogger(quiet())}, WithLogger(quiet()))
	require.NoError(t, err)

	require.NoError(t, m.Close())
	err = m.Close()
	assert.False(t, errors.Is(err, context.Canceled))
}
