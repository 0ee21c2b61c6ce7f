// Package bridge relays one TTY exec stream to one terminal client.
//
// Output read from the stream is decoded as UTF-8 and delivered as
// terminal_output events in read order. Input and resize requests go the
// other way. Once Close returns, no further output reaches the client.
package bridge

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/gluk-w/claworc/webshell/internal/logging"
	"github.com/gluk-w/claworc/webshell/internal/metrics"
	"github.com/gluk-w/claworc/webshell/internal/protocol"
)

const readBufferSize = 32 * 1024

// Stream is a duplex TTY exec stream.
type Stream interface {
	io.Reader
	io.Writer
	Resize(cols, rows uint16) error
	Close() error
}

// EndReason records why a bridge stopped.
type EndReason string

const (
	// ReasonClosed means the owner called Close.
	ReasonClosed EndReason = "closed"
	// ReasonEOF means the remote process exited.
	ReasonEOF EndReason = "eof"
	// ReasonFault means reading the stream failed.
	ReasonFault EndReason = "fault"
)

// Options configures a Bridge. Every field is optional.
type Options struct {
	// Init is written to the stream right after the relay starts.
	Init []string
	// OnEnd runs once when the stream ends on its own. It is not called
	// after Close.
	OnEnd   func(b *Bridge, reason EndReason, err error)
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Bridge relays one exec stream to a client: output goes out as
// terminal_output events and input is written back verbatim.
type Bridge struct {
	containerID string
	stream      Stream
	out         protocol.Sender
	opts        Options
	log         *zap.Logger

	// mu is held while output is delivered so Close can fence the relay.
	mu      sync.Mutex
	closed  atomic.Bool
	writeMu sync.Mutex

	releaseOnce sync.Once
	releaseErr  error
	started     atomic.Bool
	done        chan struct{}
}

// New wraps stream without starting the relay; call Start once the owner has
// recorded the bridge.
func New(containerID string, stream Stream, out protocol.Sender, opts Options) *Bridge {
	log := opts.Logger
	if log == nil {
		log = logging.Named("bridge")
	}
	return &Bridge{
		containerID: containerID,
		stream:      stream,
		out:         out,
		opts:        opts,
		log:         log.With(logging.Container(containerID)),
		done:        make(chan struct{}),
	}
}

func (b *Bridge) ContainerID() string { return b.containerID }

// Start launches the output relay and writes the init sequence. Calling it
// more than once has no effect.
func (b *Bridge) Start() {
	if !b.started.CompareAndSwap(false, true) {
		return
	}
	go b.relay()
	for _, line := range b.opts.Init {
		if _, err := b.Write([]byte(line)); err != nil {
			b.log.Debug("init write failed", zap.Error(err))
			return
		}
	}
}

// Done is closed when the relay goroutine has exited.
func (b *Bridge) Done() <-chan struct{} { return b.done }

func (b *Bridge) Closed() bool { return b.closed.Load() }

// Write forwards input to the stream. Input arriving after the bridge closed
// is dropped without error.
func (b *Bridge) Write(p []byte) (int, error) {
	if b.closed.Load() {
		return len(p), nil
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	n, err := b.stream.Write(p)
	if err != nil {
		if b.closed.Load() {
			return len(p), nil
		}
		return n, err
	}
	b.opts.Metrics.AddBytes(metrics.DirectionIn, n)
	return n, nil
}

// Resize is a no-op once the bridge has closed.
func (b *Bridge) Resize(cols, rows uint16) error {
	if b.closed.Load() {
		return nil
	}
	err := b.stream.Resize(cols, rows)
	if err != nil && b.closed.Load() {
		return nil
	}
	return err
}

// Close tears down the stream. It is safe to call more than once and from
// any goroutine; it does not wait for the relay to exit.
func (b *Bridge) Close() error {
	b.mu.Lock()
	first := !b.closed.Swap(true)
	b.mu.Unlock()
	if first {
		b.log.Debug("bridge closed")
		b.opts.Metrics.SessionEnded(string(ReasonClosed))
	}
	return b.release()
}

func (b *Bridge) release() error {
	b.releaseOnce.Do(func() {
		b.releaseErr = b.stream.Close()
	})
	return b.releaseErr
}

func (b *Bridge) relay() {
	defer close(b.done)

	buf := make([]byte, readBufferSize)
	var carry []byte
	for {
		n, err := b.stream.Read(buf)
		if n > 0 {
			var text string
			text, carry = decodeChunk(carry, buf[:n])
			if text != "" && !b.deliver(text) {
				return
			}
		}
		if err != nil {
			if len(carry) > 0 && !b.deliver(flushCarry(carry)) {
				return
			}
			b.finish(err)
			return
		}
	}
}

// deliver sends text unless the bridge is closed. It reports whether the
// bridge is still open.
func (b *Bridge) deliver(text string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Load() {
		return false
	}
	if err := b.out.Send(protocol.EventOutput, text); err != nil {
		b.log.Debug("output dropped", zap.Error(err))
		return true
	}
	b.opts.Metrics.AddBytes(metrics.DirectionOut, len(text))
	return true
}

func (b *Bridge) finish(err error) {
	reason := ReasonEOF
	if !errors.Is(err, io.EOF) {
		reason = ReasonFault
	}

	b.mu.Lock()
	if b.closed.Load() {
		// Close got there first; the read error is the teardown itself.
		b.mu.Unlock()
		return
	}
	b.closed.Store(true)
	if sendErr := b.out.Send(protocol.EventOutput, protocol.ClosedNotice); sendErr != nil {
		b.log.Debug("closed notice dropped", zap.Error(sendErr))
	}
	b.mu.Unlock()

	if reason == ReasonEOF {
		b.log.Info("exec stream ended")
	} else {
		b.log.Warn("exec stream failed", zap.Error(err))
	}
	if cerr := b.release(); cerr != nil {
		b.log.Debug("stream close", zap.Error(cerr))
	}
	b.opts.Metrics.SessionEnded(string(reason))
	if b.opts.OnEnd != nil {
		b.opts.OnEnd(b, reason, err)
	}
}
