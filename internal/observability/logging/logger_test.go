package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func captureGlobal(t *testing.T) *bytes.Buffer {
	t.Helper()
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })
	var buf bytes.Buffer
	log.Logger = zerolog.New(&buf)
	return &buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var fields map[string]any
	if err := json.Unmarshal(buf.Bytes(), &fields); err != nil {
		t.Fatalf("invalid log line %q: %v", buf.String(), err)
	}
	return fields
}

func TestWithConnection_Fields(t *testing.T) {
	buf := captureGlobal(t)

	l := WithConnection("sess-1", 3, true)
	l.Info().Msg("Socket open")

	fields := decodeLine(t, buf)
	if fields["sessionId"] != "sess-1" {
		t.Errorf("sessionId = %v", fields["sessionId"])
	}
	if fields["connection"] != float64(3) {
		t.Errorf("connection = %v", fields["connection"])
	}
	if fields["safeMode"] != true {
		t.Errorf("safeMode = %v", fields["safeMode"])
	}
	if fields["message"] != "Socket open" {
		t.Errorf("message = %v", fields["message"])
	}
}

func TestWithSessionAndComponent(t *testing.T) {
	tests := []struct {
		name  string
		build func() zerolog.Logger
		key   string
		want  string
	}{
		{"session", func() zerolog.Logger { return WithSession("sess-2") }, "sessionId", "sess-2"},
		{"component", func() zerolog.Logger { return WithComponent("recording") }, "component", "recording"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureGlobal(t)
			l := tt.build()
			l.Warn().Msg("x")
			if got := decodeLine(t, buf)[tt.key]; got != tt.want {
				t.Errorf("%s = %v, want %s", tt.key, got, tt.want)
			}
		})
	}
}

func TestInit_LevelFallback(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	Init(Config{Level: "bogus", Format: "json"})
	if zerolog.GlobalLevel() != zerolog.InfoLevel {
		t.Errorf("expected info level fallback, got %s", zerolog.GlobalLevel())
	}
	Init(Config{Level: "debug", Format: "json"})
	if zerolog.GlobalLevel() != zerolog.DebugLevel {
		t.Errorf("expected debug level, got %s", zerolog.GlobalLevel())
	}
}
