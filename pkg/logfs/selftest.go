package logfs

import (
	"bytes"
	"fmt"
	"io"
)

// SelfTest formats the medium, writes two files, reads the first one back
// and verifies it. Everything stored on the medium is lost; the medium is
// left freshly formatted with its portable flag unchanged.
func (fs *FS) SelfTest() error {
	portable := fs.sb.Portable

	src := make([]byte, 3*BlockSize+100)
	for i := range src {
		src[i] = byte(i * 7)
	}

	steps := []struct {
		name string
		f    func() error
	}{
		{"format", func() error { return fs.Format(portable) }},
		{"create", func() error { return fs.Open(true, 0) }},
		{"write", func() error {
			_, err := fs.Write(src)
			return err
		}},
		{"close", fs.Close},
		{"create second", func() error { return fs.Open(true, 0) }},
		{"write second", func() error {
			_, err := fs.Write(src[:10])
			return err
		}},
		{"close second", fs.Close},
		{"open", func() error { return fs.Open(false, 1) }},
		{"size", func() error {
			n, err := fs.Size()
			if err != nil {
				return err
			}
			if int(n) != len(src) {
				return fmt.Errorf("invalid size: got=%d, want=%d", n, len(src))
			}
			return nil
		}},
		{"read", func() error {
			got := make([]byte, len(src))
			if _, err := io.ReadFull(fs, got); err != nil {
				return err
			}
			if !bytes.Equal(got, src) {
				return fmt.Errorf("read back mismatch")
			}
			return nil
		}},
		{"eof", func() error {
			if _, err := fs.Read(make([]byte, 1)); err != io.EOF {
				return fmt.Errorf("expected EOF, got %v", err)
			}
			return nil
		}},
		{"close read", fs.Close},
		{"reformat", func() error { return fs.Format(portable) }},
	}

	for _, step := range steps {
		if err := step.f(); err != nil {
			return fmt.Errorf("logfs: self-test %q: %w", step.name, err)
		}
	}
	return nil
}
