package mmap

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandle_Nil(t *testing.T) {
	t.Run("nil-handle", func(t *testing.T) {
		var h *Handle

		_, err := h.ReadAt(nil, 0)
		assert.True(t, errors.Is(err, os.ErrInvalid))

		_, err = h.WriteAt(nil, 0)
		assert.True(t, errors.Is(err, os.ErrInvalid))

		assert.True(t, errors.Is(h.Close(), os.ErrInvalid))
	})
	t.Run("nil-data", func(t *testing.T) {
		var h Handle

		_, err := h.ReadAt(nil, 0)
		assert.True(t, errors.Is(err, errClosed))

		_, err = h.WriteAt(nil, 0)
		assert.True(t, errors.Is(err, errClosed))

		assert.NoError(t, h.Close())
	})
}

func TestOpen_RoundTrip(t *testing.T) {
	name := filepath.Join(t.TempDir(), "sram.bin")

	h, err := Open(name, 4096)
	require.NoError(t, err)
	assert.Equal(t, 4096, h.Len())

	n, err := h.WriteAt([]byte{1, 2, 3, 4}, 4000)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	require.NoError(t, h.Sync())
	require.NoError(t, h.Close())

	// contents survive a remap
	h, err = Open(name, 4096)
	require.NoError(t, err)
	defer h.Close()

	buf := make([]byte, 4)
	_, err = h.ReadAt(buf, 4000)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, buf)
}

func TestOpen_Bounds(t *testing.T) {
	h, err := Open(filepath.Join(t.TempDir(), "img"), 16)
	require.NoError(t, err)
	defer h.Close()

	_, err = h.WriteAt(nil, -1)
	assert.EqualError(t, err, "mmap: invalid WriteAt offset -1")

	_, err = h.ReadAt(nil, -1)
	assert.EqualError(t, err, "mmap: invalid ReadAt offset -1")

	n, err := h.WriteAt(make([]byte, 8), 12)
	assert.Equal(t, 4, n)
	assert.ErrorIs(t, err, io.ErrShortWrite)

	n, err = h.ReadAt(make([]byte, 8), 12)
	assert.Equal(t, 4, n)
	assert.ErrorIs(t, err, io.EOF)

	_, err = Open(filepath.Join(t.TempDir(), "zero"), 0)
	assert.Error(t, err)
}
