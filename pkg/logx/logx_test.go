package logx

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestFormatChatLine(t *testing.T) {
	line := []byte(`{"level":"warn","time":"x","message":"sink failed","user":"42","attempt":2}`)
	got := formatChatLine(line)
	want := "[WARN] sink failed\n- attempt=2\n- user=42"
	if got != want {
		t.Fatalf("formatChatLine=%q want %q", got, want)
	}

	if got := formatChatLine([]byte("  not json  ")); got != "not json" {
		t.Fatalf("raw line=%q", got)
	}
}

func TestClip(t *testing.T) {
	if got := clip("short", 10); got != "short" {
		t.Fatalf("clip short=%q", got)
	}
	got := clip(strings.Repeat("a", 20), 12)
	if got != strings.Repeat("a", 9)+"..." {
		t.Fatalf("clip long=%q", got)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in, zerolog.InfoLevel); got != want {
			t.Fatalf("parseLevel(%q)=%v want %v", in, got, want)
		}
	}
}

func TestLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "engine"))
	log.Info("batch", Int("updates", 3), String("comp", "override"))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["message"] != "batch" || m["comp"] != "override" || m["updates"] != float64(3) {
		t.Fatalf("unexpected entry: %v", m)
	}

	var zero Logger
	zero.Info("dropped")
	if !zero.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
}
