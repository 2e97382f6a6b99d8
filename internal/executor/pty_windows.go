//go:build windows

package executor

import (
	"errors"
	"io"
	"os"
)

func openPTY() (io.ReadCloser, *os.File, error) {
	return nil, nil, errors.New("pty output is not supported on windows")
}
