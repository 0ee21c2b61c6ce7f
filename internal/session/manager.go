// Package session tracks terminal client connections and the exec session
// each one is attached to.
//
// A Manager owns every live Conn. Each Conn is a small state machine
// (idle, attaching, attached, closing) with at most one bridged exec stream.
package session

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gluk-w/claworc/webshell/internal/logging"
	"github.com/gluk-w/claworc/webshell/internal/metrics"
	"github.com/gluk-w/claworc/webshell/internal/protocol"
)

// Options configures a Manager.
type Options struct {
	// ShellPrompt is assigned to PS1 right after attach. Empty leaves the
	// shell's own prompt.
	ShellPrompt   string
	ClearOnAttach bool
	Metrics       *metrics.Metrics
	Logger        *zap.Logger
}

// Manager tracks every live client connection by id.
type Manager struct {
	rt   Runtime
	opts Options
	init []string
	log  *zap.Logger

	mu    sync.RWMutex
	conns map[string]*Conn
}

// NewManager returns an empty manager that opens shells through rt.
func NewManager(rt Runtime, opts Options) *Manager {
	log := opts.Logger
	if log == nil {
		log = logging.Named("session")
	}
	return &Manager{
		rt:    rt,
		opts:  opts,
		init:  InitSequence(opts.ShellPrompt, opts.ClearOnAttach),
		log:   log,
		conns: make(map[string]*Conn),
	}
}

// Open registers a new idle connection whose events go to out.
func (m *Manager) Open(out protocol.Sender) *Conn {
	c := &Conn{
		id:       uuid.NewString(),
		mgr:      m,
		out:      out,
		openedAt: time.Now(),
		state:    Idle,
	}
	c.log = m.log.With(logging.Conn(c.id))

	m.mu.Lock()
	m.conns[c.id] = c
	m.mu.Unlock()

	m.opts.Metrics.ConnOpened()
	c.log.Debug("connection opened")
	return c
}

func (m *Manager) Get(id string) (*Conn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conns[id]
	return c, ok
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// List returns a snapshot of every connection, oldest first.
func (m *Manager) List() []Snapshot {
	m.mu.RLock()
	conns := make([]*Conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	out := make([]Snapshot, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}

// CloseAll disconnects every connection. Used on shutdown.
func (m *Manager) CloseAll() {
	m.mu.RLock()
	conns := make([]*Conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	for _, c := range conns {
		c.Disconnect()
	}
	if len(conns) > 0 {
		m.log.Info("closed all sessions", zap.Int("count", len(conns)))
	}
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	_, ok := m.conns[id]
	delete(m.conns, id)
	m.mu.Unlock()
	if ok {
		m.opts.Metrics.ConnClosed()
	}
}
