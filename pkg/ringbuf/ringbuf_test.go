package ringbuf

import (
	"errors"
	"io"
	"math"
	"sync"
	"testing"

	"github.com/itohio/pwrlog/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRing(t *testing.T, capacity int) *RingBuffer {
	t.Helper()
	rb, err := New(store.NewMem(capacity), capacity)
	require.NoError(t, err)
	return rb
}

func seq(n int, start byte) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = start + byte(i)
	}
	return p
}

func TestNew_Invalid(t *testing.T) {
	_, err := New(nil, 16)
	assert.Error(t, err)

	_, err = New(store.NewMem(16), 0)
	assert.Error(t, err)

	_, err = New(store.NewMem(16), -1)
	assert.Error(t, err)

	// only representable where int is 64 bits wide
	if over := MaxCapacity + 1; over <= math.MaxInt {
		_, err = New(store.NewMem(16), int(over))
		assert.ErrorContains(t, err, "invalid capacity")
	}
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		lead     int // bytes pushed through before the checked write
		n        int
	}{
		{"single byte", 16, 0, 1},
		{"multi byte", 16, 0, 10},
		{"full capacity", 16, 0, 16},
		{"wraparound", 16, 12, 10},
		{"wraparound full", 16, 7, 16},
		{"exact end", 16, 6, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rb := newRing(t, tt.capacity)

			if tt.lead > 0 {
				require.NoError(t, rb.Write(make([]byte, tt.lead)))
				require.NoError(t, rb.Read(make([]byte, tt.lead)))
			}
			w0, r0 := rb.WriteCursor(), rb.ReadCursor()

			src := seq(tt.n, 0x10)
			require.NoError(t, rb.Write(src))
			assert.Equal(t, tt.n, rb.Len())
			assert.Equal(t, tt.capacity-tt.n, rb.Free())
			assert.Equal(t, (w0+tt.n)%tt.capacity, rb.WriteCursor())

			got := make([]byte, tt.n)
			require.NoError(t, rb.Read(got))
			assert.Equal(t, src, got)
			assert.Equal(t, (r0+tt.n)%tt.capacity, rb.ReadCursor())
			assert.Equal(t, 0, rb.Len())
		})
	}
}

func TestOverflow_LeavesCursors(t *testing.T) {
	rb := newRing(t, 8)
	require.NoError(t, rb.Write(seq(6, 1)))

	w, r := rb.WriteCursor(), rb.ReadCursor()
	err := rb.Write(seq(3, 0x20))
	assert.True(t, errors.Is(err, ErrOverflow))
	assert.Equal(t, w, rb.WriteCursor())
	assert.Equal(t, r, rb.ReadCursor())
	assert.Equal(t, 6, rb.Len())

	// the data already queued is intact
	got := make([]byte, 6)
	require.NoError(t, rb.Read(got))
	assert.Equal(t, seq(6, 1), got)
}

func TestUnderflow_LeavesCursors(t *testing.T) {
	rb := newRing(t, 8)
	require.NoError(t, rb.Write(seq(3, 1)))

	w, r := rb.WriteCursor(), rb.ReadCursor()
	err := rb.Read(make([]byte, 4))
	assert.True(t, errors.Is(err, ErrUnderflow))
	assert.Equal(t, w, rb.WriteCursor())
	assert.Equal(t, r, rb.ReadCursor())

	// failing again is harmless
	err = rb.Read(make([]byte, 4))
	assert.True(t, errors.Is(err, ErrUnderflow))
	assert.Equal(t, 3, rb.Len())
}

func TestEmptyOps(t *testing.T) {
	rb := newRing(t, 4)
	assert.NoError(t, rb.Write(nil))
	assert.NoError(t, rb.Read(nil))
	assert.Equal(t, 0, rb.Len())
}

func TestManyLaps(t *testing.T) {
	rb := newRing(t, 10)
	for i := 0; i < 100; i++ {
		src := seq(7, byte(i))
		require.NoError(t, rb.Write(src))
		got := make([]byte, 7)
		require.NoError(t, rb.Read(got))
		require.Equal(t, src, got, "lap %d", i)
	}
}

type failingStore struct {
	store.Mem
	failWrite bool
	failRead  bool
}

func (f *failingStore) WriteAt(p []byte, off int64) (int, error) {
	if f.failWrite {
		return 0, io.ErrShortWrite
	}
	return f.Mem.WriteAt(p, off)
}

func (f *failingStore) ReadAt(p []byte, off int64) (int, error) {
	if f.failRead {
		return 0, io.ErrUnexpectedEOF
	}
	return f.Mem.ReadAt(p, off)
}

func TestStoreErrors(t *testing.T) {
	fs := &failingStore{Mem: *store.NewMem(8)}
	rb, err := New(fs, 8)
	require.NoError(t, err)

	fs.failWrite = true
	err = rb.Write([]byte{1, 2})
	assert.ErrorIs(t, err, io.ErrShortWrite)
	assert.Equal(t, 0, rb.Len())

	fs.failWrite = false
	require.NoError(t, rb.Write([]byte{1, 2}))

	fs.failRead = true
	err = rb.Read(make([]byte, 2))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, 2, rb.Len())
}

func TestConcurrentProducerConsumer(t *testing.T) {
	const (
		chunk  = 12
		chunks = 2000
	)
	rb := newRing(t, 100)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < chunks; {
			if err := rb.Write(seq(chunk, byte(i))); err == nil {
				i++
			}
		}
	}()

	got := make([]byte, chunk)
	for i := 0; i < chunks; {
		if err := rb.Read(got); err != nil {
			require.ErrorIs(t, err, ErrUnderflow)
			continue
		}
		require.Equal(t, seq(chunk, byte(i)), got)
		i++
	}
	wg.Wait()
}

func TestSelfTest(t *testing.T) {
	rb := newRing(t, 65536)
	require.NoError(t, rb.Write([]byte{1, 2, 3}))

	require.NoError(t, rb.SelfTest())
	assert.Equal(t, 0, rb.Len())
	assert.Equal(t, 0, rb.WriteCursor())

	small := newRing(t, 4)
	assert.Error(t, small.SelfTest())

	fs := &failingStore{Mem: *store.NewMem(64), failRead: true}
	broken, err := New(fs, 64)
	require.NoError(t, err)
	assert.Error(t, broken.SelfTest())
}
