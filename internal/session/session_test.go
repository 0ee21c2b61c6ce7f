package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gluk-w/claworc/webshell/internal/bridge"
	"github.com/gluk-w/claworc/webshell/internal/orchestrator"
	"github.com/gluk-w/claworc/webshell/internal/protocol"
)

// --- fakes ---

type fakeStream struct {
	id   string
	outR *io.PipeReader
	outW *io.PipeWriter

	mu      sync.Mutex
	input   strings.Builder
	resizes [][2]uint16
	closed  bool
}

func newFakeStream(id string) *fakeStream {
	r, w := io.Pipe()
	return &fakeStream{id: id, outR: r, outW: w}
}

func (s *fakeStream) Read(p []byte) (int, error) { return s.outR.Read(p) }

func (s *fakeStream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	s.input.Write(p)
	return len(p), nil
}

func (s *fakeStream) Resize(cols, rows uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resizes = append(s.resizes, [2]uint16{cols, rows})
	return nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.outR.Close()
}

func (s *fakeStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeStream) Input() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.input.String()
}

func (s *fakeStream) Resizes() [][2]uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][2]uint16(nil), s.resizes...)
}

// fakeRuntime hands out pipe-backed streams and remembers whether every
// earlier stream was already closed when a new one was opened.
type fakeRuntime struct {
	mu      sync.Mutex
	fail    map[string]error
	streams []*fakeStream
	overlap bool
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{fail: map[string]error{}}
}

func (r *fakeRuntime) OpenShell(_ context.Context, id string) (bridge.Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail[id]; err != nil {
		return nil, err
	}
	for _, s := range r.streams {
		if !s.Closed() {
			r.overlap = true
		}
	}
	s := newFakeStream(id)
	r.streams = append(r.streams, s)
	return s, nil
}

func (r *fakeRuntime) last() *fakeStream {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.streams[len(r.streams)-1]
}

type sentEvent struct {
	Event   string
	Payload any
}

type recorder struct {
	mu     sync.Mutex
	events []sentEvent
}

func (r *recorder) Send(event string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, sentEvent{event, payload})
	return nil
}

func (r *recorder) Events() []sentEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentEvent(nil), r.events...)
}

func (r *recorder) Output() string {
	var sb strings.Builder
	for _, e := range r.Events() {
		if e.Event == protocol.EventOutput {
			sb.WriteString(e.Payload.(string))
		}
	}
	return sb.String()
}

func (r *recorder) Errors() []string {
	var out []string
	for _, e := range r.Events() {
		if e.Event == protocol.EventError {
			out = append(out, e.Payload.(string))
		}
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func setup(t *testing.T, opts Options) (*Manager, *fakeRuntime, *recorder, *Conn) {
	t.Helper()
	rt := newFakeRuntime()
	m := NewManager(rt, opts)
	rec := &recorder{}
	c := m.Open(rec)
	t.Cleanup(m.CloseAll)
	return m, rt, rec, c
}

// --- tests ---

func TestConn_IdleOperationsAreNoops(t *testing.T) {
	_, rt, rec, c := setup(t, Options{})

	if c.State() != Idle {
		t.Fatalf("initial state = %v", c.State())
	}
	c.ForwardInput([]byte("ls\r"))
	c.Resize(80, 24)
	if c.Detach() {
		t.Error("Detach on idle connection reported a session")
	}

	if len(rec.Events()) != 0 {
		t.Errorf("events = %+v", rec.Events())
	}
	if len(rt.streams) != 0 {
		t.Error("runtime touched while idle")
	}
	if c.State() != Idle {
		t.Errorf("state = %v", c.State())
	}
}

func TestConn_AttachAndRunCommand(t *testing.T) {
	_, rt, rec, c := setup(t, Options{})

	if err := c.Attach(context.Background(), "c1"); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if c.State() != Attached || c.ContainerID() != "c1" {
		t.Fatalf("state = %v container = %q", c.State(), c.ContainerID())
	}

	events := rec.Events()
	if len(events) != 1 || events[0].Event != protocol.EventAttached {
		t.Fatalf("events = %+v", events)
	}
	if p := events[0].Payload.(protocol.AttachedPayload); p.ContainerID != "c1" || p.SessionID != c.ID() {
		t.Errorf("attached payload = %+v", p)
	}

	s := rt.last()
	c.ForwardInput([]byte("ls\r"))
	if s.Input() != "ls\r" {
		t.Errorf("stream input = %q", s.Input())
	}

	// The shell echoes the command and prints the listing.
	s.outW.Write([]byte("ls\r\nfile1  file2\r\n$ "))
	waitFor(t, "listing", func() bool { return strings.Contains(rec.Output(), "file1") })
}

func TestConn_InputUTF8Verbatim(t *testing.T) {
	_, rt, _, c := setup(t, Options{})

	if err := c.Attach(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}
	const line = "héllo ✓ 日本 🎉\r"
	c.ForwardInput([]byte(line))
	if got := rt.last().Input(); got != line {
		t.Errorf("stream input = %q, want %q", got, line)
	}
}

func TestConn_InitSequenceWritten(t *testing.T) {
	_, rt, _, c := setup(t, Options{ShellPrompt: `\w$ `, ClearOnAttach: true})

	if err := c.Attach(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}
	// bash stores PS1 as `\w$ `, so the prompt shows "$" even for root.
	want := `PS1="\\w\$ "` + "\nclear\n"
	if got := rt.last().Input(); got != want {
		t.Errorf("init input = %q, want %q", got, want)
	}
}

func TestConn_AttachFailureThenSuccess(t *testing.T) {
	_, rt, rec, c := setup(t, Options{})
	rt.fail["missing"] = fmt.Errorf("%w: missing", orchestrator.ErrContainerNotFound)

	err := c.Attach(context.Background(), "missing")
	var aerr *AttachError
	if !errors.As(err, &aerr) || aerr.ContainerID != "missing" {
		t.Fatalf("Attach err = %v, want *AttachError", err)
	}
	if !errors.Is(err, orchestrator.ErrContainerNotFound) {
		t.Errorf("error chain lost the cause: %v", err)
	}
	if c.State() != Idle {
		t.Errorf("state after failure = %v", c.State())
	}
	errs := rec.Errors()
	if len(errs) != 1 || !strings.Contains(errs[0], "not found") {
		t.Fatalf("error events = %q", errs)
	}

	if err := c.Attach(context.Background(), "c1"); err != nil {
		t.Fatalf("Attach after failure: %v", err)
	}
	if c.State() != Attached {
		t.Errorf("state = %v", c.State())
	}
}

func TestConn_AttachEmptyID(t *testing.T) {
	_, rt, rec, c := setup(t, Options{})

	err := c.Attach(context.Background(), "")
	if !errors.Is(err, ErrEmptyContainerID) {
		t.Fatalf("err = %v", err)
	}
	if len(rec.Errors()) != 1 {
		t.Errorf("error events = %q", rec.Errors())
	}
	if len(rt.streams) != 0 || c.State() != Idle {
		t.Error("empty id reached the runtime")
	}
}

func TestConn_AttachEmptyIDKeepsSession(t *testing.T) {
	_, rt, _, c := setup(t, Options{})

	if err := c.Attach(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}
	if err := c.Attach(context.Background(), ""); !errors.Is(err, ErrEmptyContainerID) {
		t.Fatalf("err = %v", err)
	}
	if c.State() != Attached || c.ContainerID() != "c1" {
		t.Errorf("state = %v, container = %q", c.State(), c.ContainerID())
	}
	if len(rt.streams) != 1 {
		t.Errorf("streams opened = %d", len(rt.streams))
	}
}

func TestConn_ReattachClosesPreviousFirst(t *testing.T) {
	_, rt, rec, c := setup(t, Options{})

	if err := c.Attach(context.Background(), "A"); err != nil {
		t.Fatal(err)
	}
	a := rt.last()
	a.outW.Write([]byte("from-a "))
	waitFor(t, "A output", func() bool { return rec.Output() == "from-a " })

	if err := c.Attach(context.Background(), "B"); err != nil {
		t.Fatal(err)
	}
	b := rt.last()

	if rt.overlap {
		t.Fatal("B was opened while A was still open")
	}
	if !a.Closed() {
		t.Error("A not closed")
	}
	if _, err := a.outW.Write([]byte("late-a")); err == nil {
		t.Error("A accepted output after teardown")
	}

	b.outW.Write([]byte("from-b"))
	waitFor(t, "B output", func() bool { return strings.HasSuffix(rec.Output(), "from-b") })
	if got := rec.Output(); got != "from-a from-b" {
		t.Errorf("output = %q", got)
	}
	if c.ContainerID() != "B" {
		t.Errorf("container = %q", c.ContainerID())
	}
}

func TestConn_DisconnectClosesStream(t *testing.T) {
	m, rt, rec, c := setup(t, Options{})

	if err := c.Attach(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}
	s := rt.last()
	c.Disconnect()

	if !s.Closed() {
		t.Error("stream still open after disconnect")
	}
	n := len(rec.Events())
	s.outW.Write([]byte("after"))
	time.Sleep(20 * time.Millisecond)
	if len(rec.Events()) != n {
		t.Errorf("output after disconnect: %+v", rec.Events()[n:])
	}

	if _, ok := m.Get(c.ID()); ok {
		t.Error("connection still registered")
	}
	c.Disconnect()
	if err := c.Attach(context.Background(), "c1"); !errors.Is(err, ErrClientGone) {
		t.Errorf("Attach after disconnect = %v", err)
	}
}

func TestConn_StreamEndReturnsToIdle(t *testing.T) {
	_, rt, rec, c := setup(t, Options{})

	if err := c.Attach(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}
	s := rt.last()
	s.outW.Close()

	waitFor(t, "idle", func() bool { return c.State() == Idle })
	if !strings.HasSuffix(rec.Output(), protocol.ClosedNotice) {
		t.Errorf("output = %q", rec.Output())
	}
	if c.ContainerID() != "" {
		t.Errorf("container = %q", c.ContainerID())
	}
	c.ForwardInput([]byte("x"))
	if strings.Contains(s.Input(), "x") {
		t.Error("input reached an ended stream")
	}

	if err := c.Attach(context.Background(), "c2"); err != nil {
		t.Fatalf("reattach after exit: %v", err)
	}
}

func TestConn_ResizeClampsAndIgnoresZero(t *testing.T) {
	_, rt, _, c := setup(t, Options{})
	if err := c.Attach(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}
	s := rt.last()

	c.Resize(0, 40)
	c.Resize(100, -1)
	c.Resize(120, 40)
	c.Resize(9000, 9000)

	got := s.Resizes()
	want := [][2]uint16{{120, 40}, {MaxResizeCols, MaxResizeRows}}
	if len(got) != len(want) {
		t.Fatalf("resizes = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("resize[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestConn_DetachKeepsConnection(t *testing.T) {
	m, rt, _, c := setup(t, Options{})
	if err := c.Attach(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}
	if !c.Detach() {
		t.Fatal("Detach reported no session")
	}
	if !rt.last().Closed() || c.State() != Idle {
		t.Errorf("state = %v closed = %v", c.State(), rt.last().Closed())
	}
	if _, ok := m.Get(c.ID()); !ok {
		t.Error("connection removed by Detach")
	}
}

func TestConn_ClientLeftDuringAttach(t *testing.T) {
	_, rt, rec, c := setup(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.Attach(ctx, "c1"); !errors.Is(err, ErrClientGone) {
		t.Fatalf("err = %v", err)
	}
	if !rt.last().Closed() {
		t.Error("stream leaked")
	}
	if len(rec.Events()) != 0 || c.State() != Idle {
		t.Errorf("events = %+v state = %v", rec.Events(), c.State())
	}
}

func TestManager_ListAndCloseAll(t *testing.T) {
	rt := newFakeRuntime()
	m := NewManager(rt, Options{})
	a := m.Open(&recorder{})
	b := m.Open(&recorder{})

	if err := b.Attach(context.Background(), "c9"); err != nil {
		t.Fatal(err)
	}
	if m.Count() != 2 {
		t.Fatalf("Count = %d", m.Count())
	}

	snaps := m.List()
	byID := map[string]Snapshot{}
	for _, s := range snaps {
		byID[s.ID] = s
	}
	if byID[a.ID()].State != "idle" || byID[a.ID()].AttachedAt != nil {
		t.Errorf("a = %+v", byID[a.ID()])
	}
	if byID[b.ID()].State != "attached" || byID[b.ID()].ContainerID != "c9" || byID[b.ID()].AttachedAt == nil {
		t.Errorf("b = %+v", byID[b.ID()])
	}

	m.CloseAll()
	if m.Count() != 0 {
		t.Errorf("Count after CloseAll = %d", m.Count())
	}
	if !rt.last().Closed() {
		t.Error("stream open after CloseAll")
	}
}

func TestInitSequence(t *testing.T) {
	if got := InitSequence("", false); len(got) != 0 {
		t.Errorf("empty = %q", got)
	}
	got := InitSequence("a\"b`c", true)
	if len(got) != 2 || got[0] != "PS1=\"a\\\"b\\`c\"\n" || got[1] != "clear\n" {
		t.Errorf("InitSequence = %q", got)
	}
}

func TestRuntimeFor_NoBackend(t *testing.T) {
	rt := RuntimeFor(func() orchestrator.ContainerOrchestrator { return nil }, []string{"/bin/sh"})
	if _, err := rt.OpenShell(context.Background(), "c1"); !errors.Is(err, ErrNoRuntime) {
		t.Errorf("err = %v", err)
	}
}

func TestAttachErrorMessage(t *testing.T) {
	err := &AttachError{ContainerID: "abc", Err: orchestrator.ErrContainerNotFound}
	if !strings.HasPrefix(err.Error(), "attach abc: ") {
		t.Errorf("Error() = %q", err.Error())
	}
}
