package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, Options{Level: Warn})

	l.Debug("hidden")
	l.Info("hidden too")
	l.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("low-severity messages leaked: %q", out)
	}
	if !strings.Contains(out, "[WARN] shown") {
		t.Fatalf("warn message missing: %q", out)
	}
}

func TestWithBindsFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, Options{Level: Debug}).With(F("subsystem", "scan"))

	l.Info("pattern ready", F("total", 168))

	out := buf.String()
	for _, want := range []string{"subsystem=scan", "total=168", "pattern ready"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q missing %q", out, want)
		}
	}
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, Options{Level: Info, JSON: true})

	l.Error("frame lost", F("seq", 12))

	line := strings.TrimSpace(buf.String())
	// Strip the stdlib log prefix up to the JSON payload.
	idx := strings.Index(line, "{")
	if idx < 0 {
		t.Fatalf("no JSON payload in %q", line)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(line[idx:]), &payload); err != nil {
		t.Fatalf("unmarshal %q: %v", line, err)
	}
	if payload["level"] != "ERROR" || payload["msg"] != "frame lost" {
		t.Fatalf("unexpected payload %v", payload)
	}
	if payload["seq"] != float64(12) {
		t.Fatalf("field missing from payload %v", payload)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{"debug": Debug, "": Info, "WARN": Warn, "error": Error, "warning": Warn}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
