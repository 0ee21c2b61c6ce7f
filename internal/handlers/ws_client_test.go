package handlers

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/gluk-w/claworc/webshell/internal/protocol"
)

type wsEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (e wsEvent) text(t *testing.T) string {
	t.Helper()
	var s string
	if err := json.Unmarshal(e.Data, &s); err != nil {
		t.Fatalf("event %s: payload %s is not a string", e.Event, e.Data)
	}
	return s
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialWS(t *testing.T, srv *httptest.Server) *wsClient {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) send(event string, payload any) {
	c.t.Helper()
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		c.t.Fatal(err)
	}
	if err := c.conn.Write(context.Background(), websocket.MessageText, frame); err != nil {
		c.t.Fatalf("write %s: %v", event, err)
	}
}

func (c *wsClient) next() wsEvent {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		c.t.Fatalf("read: %v", err)
	}
	var ev wsEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		c.t.Fatalf("decode %s: %v", data, err)
	}
	return ev
}

// readOutputUntil collects terminal_output until it contains want.
func (c *wsClient) readOutputUntil(want string) string {
	c.t.Helper()
	var sb strings.Builder
	for !strings.Contains(sb.String(), want) {
		ev := c.next()
		if ev.Event != protocol.EventOutput {
			c.t.Fatalf("unexpected %s event while waiting for %q", ev.Event, want)
		}
		sb.WriteString(ev.text(c.t))
	}
	return sb.String()
}

func (c *wsClient) close() {
	c.conn.Close(websocket.StatusNormalClosure, "")
}
