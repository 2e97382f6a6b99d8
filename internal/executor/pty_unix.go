//go:build !windows

package executor

import (
	"errors"
	"io"
	"os"
	"syscall"

	"github.com/creack/pty"
)

// openPTY returns the master side for reading and the terminal side to hand
// to the child as its stdout.
func openPTY() (io.ReadCloser, *os.File, error) {
	ptmx, tty, err := pty.Open()
	if err != nil {
		return nil, nil, err
	}
	return &ptyReader{f: ptmx}, tty, nil
}

// ptyReader maps the EIO that Linux returns once the last writer of the
// terminal is gone to io.EOF.
type ptyReader struct {
	f *os.File
}

func (r *ptyReader) Read(p []byte) (int, error) {
	n, err := r.f.Read(p)
	if errors.Is(err, syscall.EIO) {
		return n, io.EOF
	}
	return n, err
}

func (r *ptyReader) Close() error {
	return r.f.Close()
}
