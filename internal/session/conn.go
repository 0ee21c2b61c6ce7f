package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gluk-w/claworc/webshell/internal/bridge"
	"github.com/gluk-w/claworc/webshell/internal/logging"
	"github.com/gluk-w/claworc/webshell/internal/protocol"
)

// Resize requests are clamped to these dimensions.
const (
	MaxResizeCols = 500
	MaxResizeRows = 500
)

type State int

const (
	Idle State = iota
	Attaching
	Attached
	Closing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Attaching:
		return "attaching"
	case Attached:
		return "attached"
	case Closing:
		return "closing"
	}
	return "unknown"
}

type activeSession struct {
	containerID string
	bridge      *bridge.Bridge
	attachedAt  time.Time
}

// Snapshot is a point-in-time view of a connection.
type Snapshot struct {
	ID          string     `json:"id"`
	State       string     `json:"state"`
	ContainerID string     `json:"container_id,omitempty"`
	AttachedAt  *time.Time `json:"attached_at,omitempty"`
	OpenedAt    time.Time  `json:"opened_at"`
}

// Conn is one client connection. Attach, Detach and Disconnect are
// serialized; ForwardInput and Resize never wait for an attach in progress.
type Conn struct {
	id       string
	mgr      *Manager
	out      protocol.Sender
	openedAt time.Time
	log      *zap.Logger

	opMu sync.Mutex

	mu     sync.Mutex
	state  State
	active *activeSession
	gone   bool
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ContainerID returns the attached container, or "" when idle.
func (c *Conn) ContainerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return ""
	}
	return c.active.containerID
}

func (c *Conn) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{ID: c.id, State: c.state.String(), OpenedAt: c.openedAt}
	if c.active != nil {
		at := c.active.attachedAt
		s.ContainerID = c.active.containerID
		s.AttachedAt = &at
	}
	return s
}

// Attach opens a shell in containerID and bridges it to the client. Any
// current session is torn down first. Failures are reported to the client
// as an error event and leave the connection idle.
func (c *Conn) Attach(ctx context.Context, containerID string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	gone := c.gone
	c.mu.Unlock()
	if gone {
		return ErrClientGone
	}

	if containerID == "" {
		// Rejected before teardown; the current session, if any, keeps running.
		return c.reportAttachError(ctx, &AttachError{Err: ErrEmptyContainerID})
	}

	c.teardown("reattach")
	c.setState(Attaching)
	log := c.log.With(logging.Container(containerID))
	log.Info("attaching")

	stream, err := c.mgr.rt.OpenShell(ctx, containerID)
	if err != nil {
		return c.attachFailed(ctx, &AttachError{ContainerID: containerID, Err: err})
	}
	if ctx.Err() != nil {
		// The client left while the exec was being created.
		if cerr := stream.Close(); cerr != nil {
			log.Debug("stream close", zap.Error(cerr))
		}
		c.setState(Idle)
		return ErrClientGone
	}

	b := bridge.New(containerID, stream, c.out, bridge.Options{
		Init:    c.mgr.init,
		OnEnd:   c.onStreamEnd,
		Logger:  log,
		Metrics: c.mgr.opts.Metrics,
	})

	c.mu.Lock()
	c.active = &activeSession{containerID: containerID, bridge: b, attachedAt: time.Now()}
	c.state = Attached
	c.mu.Unlock()

	c.mgr.opts.Metrics.AttachResult(nil)
	if err := c.out.Send(protocol.EventAttached, protocol.AttachedPayload{ContainerID: containerID, SessionID: c.id}); err != nil {
		log.Debug("attached event dropped", zap.Error(err))
	}
	b.Start()
	log.Info("attached")
	return nil
}

func (c *Conn) attachFailed(ctx context.Context, aerr *AttachError) error {
	c.setState(Idle)
	return c.reportAttachError(ctx, aerr)
}

func (c *Conn) reportAttachError(ctx context.Context, aerr *AttachError) error {
	c.mgr.opts.Metrics.AttachResult(aerr)
	c.log.Warn("attach failed", logging.Container(aerr.ContainerID), zap.Error(aerr.Err))
	if ctx.Err() == nil {
		if err := c.out.Send(protocol.EventError, aerr.Error()); err != nil {
			c.log.Debug("error event dropped", zap.Error(err))
		}
	}
	return aerr
}

// ForwardInput writes client keystrokes to the attached shell. Without an
// active session it does nothing.
func (c *Conn) ForwardInput(p []byte) {
	act := c.current()
	if act == nil || len(p) == 0 {
		return
	}
	if _, err := act.bridge.Write(p); err != nil {
		c.log.Debug("input write failed", zap.Error(err))
	}
}

// Resize applies a client window size to the attached shell. Zero or
// negative dimensions are ignored; large ones are clamped.
func (c *Conn) Resize(cols, rows int) {
	if cols <= 0 || rows <= 0 {
		return
	}
	act := c.current()
	if act == nil {
		return
	}
	cols = min(cols, MaxResizeCols)
	rows = min(rows, MaxResizeRows)
	if err := act.bridge.Resize(uint16(cols), uint16(rows)); err != nil {
		c.log.Debug("resize failed", zap.Error(err))
	}
}

// Detach ends the current session but keeps the connection. It reports
// whether a session was active.
func (c *Conn) Detach() bool {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.teardown("detach")
}

// Disconnect tears down any session and removes the connection from its
// manager. Later calls are no-ops.
func (c *Conn) Disconnect() {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.gone {
		c.mu.Unlock()
		return
	}
	c.gone = true
	c.mu.Unlock()

	c.teardown("disconnect")
	c.mgr.remove(c.id)
	c.log.Debug("connection closed")
}

// teardown closes the active bridge, if any. Callers hold opMu.
func (c *Conn) teardown(why string) bool {
	c.mu.Lock()
	act := c.active
	c.active = nil
	if act != nil {
		c.state = Closing
	}
	c.mu.Unlock()

	if act == nil {
		return false
	}
	if err := act.bridge.Close(); err != nil {
		c.log.Debug("stream close", logging.Container(act.containerID), zap.Error(err))
	}
	c.log.Info("session closed", logging.Container(act.containerID), zap.String("reason", why))
	c.setState(Idle)
	return true
}

// onStreamEnd runs on the relay goroutine when the shell exits.
func (c *Conn) onStreamEnd(b *bridge.Bridge, reason bridge.EndReason, _ error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil || c.active.bridge != b {
		return
	}
	c.active = nil
	c.state = Idle
	c.log.Debug("session ended", logging.Container(b.ContainerID()), zap.String("reason", string(reason)))
}

func (c *Conn) current() *activeSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}
