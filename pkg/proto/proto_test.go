package proto

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage(t *testing.T) {
	m := Message{Type: SetRtc, Value1: 0x1234, Value2: 0xABCD}
	p, err := m.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, []byte{10, 0x34, 0x12, 0xCD, 0xAB}, p)

	var got Message
	require.NoError(t, got.UnmarshalBinary(p))
	assert.Equal(t, m, got)

	for _, n := range []int{0, 4, 6} {
		err := got.UnmarshalBinary(make([]byte, n))
		assert.ErrorIs(t, err, ErrMessageSize, "size %d", n)
	}
}

func TestCommandWireValues(t *testing.T) {
	tests := []struct {
		cmd  CommandType
		want uint8
		name string
	}{
		{Init, 0, "init"},
		{Reset, 1, "reset"},
		{ReadEeprom, 2, "read-eeprom"},
		{GainSet, 3, "gain-set"},
		{StartSamplingLink, 4, "start-sampling-link"},
		{StartSamplingStorage, 5, "start-sampling-storage"},
		{ReadStorageOverLink, 6, "read-storage-over-link"},
		{GetSampleCount, 7, "get-sample-count"},
		{GetGitHash, 8, "get-git-hash"},
		{GetModePortable, 9, "get-mode-portable"},
		{SetRtc, 10, "set-rtc"},
		{GetRtc, 11, "get-rtc"},
		{SelfTest, 12, "self-test"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, uint8(tt.cmd))
			assert.Equal(t, tt.name, tt.cmd.String())
		})
	}
	assert.Equal(t, "command(99)", CommandType(99).String())
}

func TestAck(t *testing.T) {
	p, err := Ack{Type: GetModePortable, Result: -1}.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 0xFF}, p)

	var a Ack
	require.NoError(t, a.UnmarshalBinary(p))
	assert.Equal(t, Ack{Type: GetModePortable, Result: -1}, a)
	assert.Error(t, a.UnmarshalBinary(p[:1]))
}

func TestSamplesPayload(t *testing.T) {
	p := AppendSamples(nil, 7, []byte{1, 2, 3, 4})
	assert.Equal(t, []byte{7, 0, 0, 0, 4, 0, 1, 2, 3, 4}, p)

	seq, data, err := ParseSamples(p)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), seq)
	assert.Equal(t, []byte{1, 2, 3, 4}, data)

	_, _, err = ParseSamples(p[:5])
	assert.Error(t, err)
	_, _, err = ParseSamples(p[:8])
	assert.Error(t, err)

	// an empty payload marks the end of a stored file
	seq, data, err = ParseSamples(AppendSamples(nil, 3, nil))
	require.NoError(t, err)
	assert.Equal(t, uint32(3), seq)
	assert.Empty(t, data)
}

func TestFrameRoundTrip(t *testing.T) {
	frames := []Frame{
		{Type: FrameControl, Payload: []byte{1, 2, 3, 4, 5}},
		{Type: FrameControlAck, Payload: []byte{0, 0}},
		{Type: FrameSamples, Payload: bytes.Repeat([]byte{0xA5}, 300)},
		{Type: FramePrint, Payload: []byte{}},
	}

	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	buf.WriteString("noise")
	for _, f := range frames {
		require.NoError(t, enc.Encode(f))
	}

	dec := NewDecoder(&buf)
	for i, want := range frames {
		var f Frame
		require.NoError(t, dec.Decode(&f), "frame %d", i)
		assert.Equal(t, want.Type, f.Type)
		assert.True(t, bytes.Equal(want.Payload, f.Payload), "frame %d payload", i)
	}

	var f Frame
	assert.Equal(t, io.EOF, dec.Decode(&f))
	assert.Equal(t, io.EOF, dec.Decode(&f))
}

func TestFrameErrors(t *testing.T) {
	enc := NewEncoder(io.Discard)
	assert.Error(t, enc.Encode(Frame{Payload: make([]byte, MaxPayload+1)}))

	dec := NewDecoder(bytes.NewReader([]byte{Sync, 2, 10, 0, 1, 2}))
	var f Frame
	err := dec.Decode(&f)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	// an oversized length is skipped and the next frame is found
	var buf bytes.Buffer
	buf.Write([]byte{Sync, 0, 0xFF, 0xFF})
	require.NoError(t, NewEncoder(&buf).Encode(Frame{Type: FramePrint, Payload: []byte("ok")}))
	dec = NewDecoder(&buf)
	assert.ErrorIs(t, dec.Decode(&f), ErrFrameLength)
	require.NoError(t, dec.Decode(&f))
	assert.Equal(t, FramePrint, f.Type)
	assert.Equal(t, "ok", string(f.Payload))
}

type failWriter struct{}

var errBroken = errors.New("broken pipe")

func (failWriter) Write(p []byte) (int, error) { return 0, errBroken }

func TestEncoderStickyError(t *testing.T) {
	enc := NewEncoder(failWriter{})
	err := enc.Encode(Frame{Type: FramePrint})
	assert.ErrorIs(t, err, errBroken)
	assert.Equal(t, err, enc.Encode(Frame{Type: FramePrint}))
}
