//go:build !tinygo

package store

import (
	"fmt"

	"github.com/itohio/pwrlog/internal/mmap"
)

// File is a Store backed by a memory-mapped file, so its contents survive a
// restart of the process the way a card image or battery-backed SRAM would.
type File struct {
	*mmap.Handle
	name string
}

// OpenFile maps size bytes of the named file.
func OpenFile(name string, size int) (*File, error) {
	h, err := mmap.Open(name, size)
	if err != nil {
		return nil, fmt.Errorf("store: could not open %q: %w", name, err)
	}
	return &File{Handle: h, name: name}, nil
}

// Name returns the path of the backing file.
func (f *File) Name() string {
	return f.name
}

// Open returns a File store when name is set, and a Mem store otherwise.
func Open(name string, size int) (Store, error) {
	if name == "" {
		return NewMem(size), nil
	}
	return OpenFile(name, size)
}

var _ Store = (*File)(nil)
