package protocol

import (
	"strings"
	"testing"
)

func TestEncodeOutputPreservesUTF8(t *testing.T) {
	frame, err := Encode(EventOutput, "héllo ✓\r\n")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	env, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if env.Event != EventOutput {
		t.Errorf("event = %q, want %q", env.Event, EventOutput)
	}
	s, err := env.Text()
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if s != "héllo ✓\r\n" {
		t.Errorf("payload = %q", s)
	}
}

func TestDecodeClientEvents(t *testing.T) {
	env, err := Decode([]byte(`{"event":"attach_container","data":"c1"}`))
	if err != nil {
		t.Fatalf("Decode attach: %v", err)
	}
	if id, err := env.Text(); err != nil || id != "c1" {
		t.Errorf("attach payload = %q, %v", id, err)
	}

	env, err = Decode([]byte(`{"event":"resize","data":{"cols":120,"rows":40}}`))
	if err != nil {
		t.Fatalf("Decode resize: %v", err)
	}
	size, err := env.Resize()
	if err != nil {
		t.Fatalf("Resize: %v", err)
	}
	if size.Cols != 120 || size.Rows != 40 {
		t.Errorf("size = %+v, want 120x40", size)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"not json", "ls\n"},
		{"missing event", `{"data":"x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode([]byte(tt.frame)); err == nil {
				t.Errorf("expected error for %q", tt.frame)
			}
		})
	}

	env, _ := Decode([]byte(`{"event":"resize","data":"big"}`))
	if _, err := env.Resize(); err == nil {
		t.Error("expected error for string resize payload")
	}
	env, _ = Decode([]byte(`{"event":"terminal_input","data":42}`))
	if _, err := env.Text(); err == nil || !strings.Contains(err.Error(), EventInput) {
		t.Errorf("expected error naming the event, got %v", err)
	}
}

func TestEncodeNilPayload(t *testing.T) {
	frame, err := Encode("ping", nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if string(frame) != `{"event":"ping"}` {
		t.Errorf("frame = %s", frame)
	}
}
