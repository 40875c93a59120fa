package ndjson

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"
)

type testMsg struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEncodeDecode(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf, discardLogger())

	msgs := []testMsg{
		{Type: "message", Text: "found 2 suspects"},
		{Type: "screenshot", Text: "captures/reader_g1_0.png"},
		{Type: "done"},
	}
	for _, m := range msgs {
		if err := enc.Encode(m); err != nil {
			t.Fatalf("Encode() error = %v", err)
		}
	}

	if got := strings.Count(buf.String(), "\n"); got != 3 {
		t.Errorf("newline count = %d, want 3", got)
	}

	dec := NewDecoder(&buf, discardLogger())
	for i := range msgs {
		var m testMsg
		if err := dec.Decode(&m); err != nil {
			t.Fatalf("Decode() #%d error = %v", i, err)
		}
		if m != msgs[i] {
			t.Errorf("Decode() #%d = %+v, want %+v", i, m, msgs[i])
		}
	}

	var m testMsg
	if err := dec.Decode(&m); err != io.EOF {
		t.Errorf("Decode() past end = %v, want io.EOF", err)
	}
}

func TestDecodeSkipsEmptyLines(t *testing.T) {
	input := "{\"type\":\"message\"}\n\n\n{\"type\":\"done\"}\n"
	dec := NewDecoder(strings.NewReader(input), discardLogger())

	var first, second testMsg
	if err := dec.Decode(&first); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if err := dec.Decode(&second); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if second.Type != "done" {
		t.Errorf("second.Type = %s, want done", second.Type)
	}
}

func TestDecodeMalformedLine(t *testing.T) {
	dec := NewDecoder(strings.NewReader("not json\n"), discardLogger())

	var m testMsg
	if err := dec.Decode(&m); err == nil {
		t.Error("Decode() should fail on malformed line")
	}
}

func TestEncodeSizeLimit(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf, discardLogger())

	huge := testMsg{Type: "message", Text: strings.Repeat("x", MaxMessageSize)}
	if err := enc.Encode(huge); err == nil {
		t.Error("Encode() should reject messages over the size limit")
	}
}
