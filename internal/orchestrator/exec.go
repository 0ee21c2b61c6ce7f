package orchestrator

import (
	"errors"
	"io"
	"sync"
)

var errExecClosed = errors.New("exec session closed")

// ExecSession is a started TTY exec: a duplex byte stream plus the
// terminal-size control of the process it is attached to.
type ExecSession struct {
	stdin   io.Writer
	stdout  io.Reader
	resize  func(cols, rows uint16) error
	closeFn func() error

	mu       sync.Mutex
	closed   bool
	closeErr error
}

// NewExecSession assembles an ExecSession from backend primitives. resize and
// closeFn may be nil.
func NewExecSession(stdin io.Writer, stdout io.Reader, resize func(cols, rows uint16) error, closeFn func() error) *ExecSession {
	return &ExecSession{
		stdin:   stdin,
		stdout:  stdout,
		resize:  resize,
		closeFn: closeFn,
	}
}

func (e *ExecSession) Read(p []byte) (int, error) {
	return e.stdout.Read(p)
}

func (e *ExecSession) Write(p []byte) (int, error) {
	return e.stdin.Write(p)
}

// Resize changes the exec's terminal dimensions. It fails once the session
// has been closed.
func (e *ExecSession) Resize(cols, rows uint16) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errExecClosed
	}
	if e.resize == nil {
		return nil
	}
	return e.resize(cols, rows)
}

// Close releases the underlying connection. Only the first call has an
// effect; later calls return the first result.
func (e *ExecSession) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return e.closeErr
	}
	e.closed = true
	if e.closeFn != nil {
		e.closeErr = e.closeFn()
	}
	return e.closeErr
}
