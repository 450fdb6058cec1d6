// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package logging

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Level != "info" {
		t.Errorf("Expected level info, got %s", cfg.Level)
	}
	if cfg.Format != "json" {
		t.Errorf("Expected format json, got %s", cfg.Format)
	}
	if !cfg.Timestamp {
		t.Error("Expected timestamps enabled by default")
	}
}

func TestInitWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	defer Init(Config{Level: "info", Output: io.Discard})

	Info().Str("project_id", "p1").Msg("room created")

	out := buf.String()
	for _, want := range []string{`"message":"room created"`, `"project_id":"p1"`, `"level":"info"`} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected output to contain %s, got %s", want, out)
		}
	}
}

func TestInitRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "warn", Output: &buf})
	defer Init(Config{Level: "info", Output: io.Discard})

	Info().Msg("hidden")
	Err(errors.New("boom")).Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("Info line should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, `"error":"boom"`) {
		t.Errorf("Expected error field, got %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"off", zerolog.Disabled},
		{"nonsense", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	captureTo(&buf)
	defer Init(Config{Level: "info", Output: io.Discard})

	l := WithComponent("fanout")
	l.Info().Msg("hello")

	if !strings.Contains(buf.String(), `"component":"fanout"`) {
		t.Errorf("Expected component field, got %s", buf.String())
	}
}
