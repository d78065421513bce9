package store

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMem(t *testing.T) {
	m := NewMem(8)
	assert.Equal(t, 8, m.Len())

	n, err := m.WriteAt([]byte{1, 2, 3}, 5)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	buf := make([]byte, 3)
	_, err = m.ReadAt(buf, 5)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, buf)

	n, err = m.WriteAt([]byte{1, 2, 3}, 6)
	assert.Equal(t, 2, n)
	assert.ErrorIs(t, err, io.ErrShortWrite)

	n, err = m.ReadAt(buf, 7)
	assert.Equal(t, 1, n)
	assert.ErrorIs(t, err, io.EOF)

	_, err = m.ReadAt(buf, 9)
	assert.Error(t, err)
	_, err = m.WriteAt(buf, -1)
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	s, err := Open("", 32)
	require.NoError(t, err)
	assert.IsType(t, &Mem{}, s)

	name := filepath.Join(t.TempDir(), "card.img")
	s, err = Open(name, 1024)
	require.NoError(t, err)
	f, ok := s.(*File)
	require.True(t, ok)
	defer f.Close()

	assert.Equal(t, name, f.Name())
	assert.Equal(t, 1024, f.Len())

	_, err = f.WriteAt([]byte("pwr"), 512)
	require.NoError(t, err)
	buf := make([]byte, 3)
	_, err = f.ReadAt(buf, 512)
	require.NoError(t, err)
	assert.Equal(t, "pwr", string(buf))
}
