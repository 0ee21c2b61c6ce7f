// Package protocol defines the event envelope exchanged with the browser
// terminal over the websocket.
//
// Every text frame is a JSON object {"event": name, "data": payload}. Binary
// frames are raw terminal input.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Client → server events.
const (
	EventAttach = "attach_container"
	EventInput  = "terminal_input"
	EventResize = "resize"
)

// Server → client events.
const (
	EventOutput   = "terminal_output"
	EventError    = "error"
	EventAttached = "attached"
)

// ClosedNotice is sent as terminal output when the remote shell goes away.
const ClosedNotice = "\r\nConnection closed\r\n"

// ErrClosed is returned by a Sender whose client is gone.
var ErrClosed = errors.New("client channel closed")

// Sender delivers one event to the client. Implementations must be safe for
// concurrent use and must preserve call order per goroutine.
type Sender interface {
	Send(event string, payload any) error
}

// Envelope is the wire form of every text frame.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type ResizePayload struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

type AttachedPayload struct {
	ContainerID string `json:"container_id"`
	SessionID   string `json:"session_id"`
}

// Encode builds a text frame for event with payload.
func Encode(event string, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", event, err)
		}
		raw = b
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// Decode parses a text frame.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Event == "" {
		return env, errors.New("decode envelope: missing event")
	}
	return env, nil
}

// Text decodes a string payload.
func (e Envelope) Text() (string, error) {
	var s string
	if err := json.Unmarshal(e.Data, &s); err != nil {
		return "", fmt.Errorf("%s: expected string payload: %w", e.Event, err)
	}
	return s, nil
}

// Resize decodes a resize payload.
func (e Envelope) Resize() (ResizePayload, error) {
	var p ResizePayload
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return p, fmt.Errorf("%s: expected {cols, rows}: %w", e.Event, err)
	}
	return p, nil
}
