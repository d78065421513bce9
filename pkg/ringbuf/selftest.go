package ringbuf

import (
	"bytes"
	"fmt"
)

var selfTestPattern = []byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99}

// SelfTest checks the backing store and the wraparound logic. It overwrites
// the store and leaves the buffer empty.
func (rb *RingBuffer) SelfTest() error {
	defer rb.Reset()

	size := int64(rb.size)
	high := size - int64(len(selfTestPattern))
	if high < 0 {
		return fmt.Errorf("ringbuf: self-test: capacity %d too small", size)
	}

	for _, tc := range []struct {
		name string
		src  []byte
		off  int64
	}{
		{"store write 1", selfTestPattern[1:2], 0},
		{"store write 10", selfTestPattern, 0},
		{"store write 10 high address", selfTestPattern, high},
	} {
		buf := make([]byte, len(tc.src))
		if _, err := rb.store.WriteAt(tc.src, tc.off); err != nil {
			return fmt.Errorf("ringbuf: self-test %q: %w", tc.name, err)
		}
		if _, err := rb.store.ReadAt(buf, tc.off); err != nil {
			return fmt.Errorf("ringbuf: self-test %q: %w", tc.name, err)
		}
		if !bytes.Equal(buf, tc.src) {
			return fmt.Errorf("ringbuf: self-test %q: got=%x, want=%x", tc.name, buf, tc.src)
		}
	}

	// walk the cursors up to the end of the store so the last write wraps
	rb.Reset()
	lead := int(high) + len(selfTestPattern)/2
	for _, tc := range []struct {
		name string
		src  []byte
	}{
		{"ring 1", selfTestPattern[1:2]},
		{"ring 10", selfTestPattern},
		{"ring 10 wrap", selfTestPattern},
	} {
		if tc.name == "ring 10 wrap" {
			rb.w.Store(uint32(lead))
			rb.r.Store(uint32(lead))
		}
		buf := make([]byte, len(tc.src))
		if err := rb.Write(tc.src); err != nil {
			return fmt.Errorf("ringbuf: self-test %q: %w", tc.name, err)
		}
		if err := rb.Read(buf); err != nil {
			return fmt.Errorf("ringbuf: self-test %q: %w", tc.name, err)
		}
		if !bytes.Equal(buf, tc.src) {
			return fmt.Errorf("ringbuf: self-test %q: got=%x, want=%x", tc.name, buf, tc.src)
		}
	}

	return nil
}
