// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package logging

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
)

func TestSlogHandlerWritesThroughZerolog(t *testing.T) {
	var buf bytes.Buffer
	captureTo(&buf)
	defer Init(Config{Level: "info", Output: io.Discard})

	logger := NewSlogLogger().With("service", "hub").WithGroup("supervisor")
	logger.Warn("service restarted", slog.Int("failures", 2))

	out := buf.String()
	for _, want := range []string{`"level":"warn"`, `"service":"hub"`, `"supervisor.failures":2`, "service restarted"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %s in %s", want, out)
		}
	}
}

func TestSlogHandlerEnabled(t *testing.T) {
	Init(Config{Level: "warn", Output: io.Discard})
	defer Init(Config{Level: "info", Output: io.Discard})

	h := NewSlogHandler()
	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("Info should be disabled at warn level")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Error("Error should be enabled at warn level")
	}
}

func TestWatermillAdapter(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Output: &buf})
	defer Init(Config{Level: "info", Output: io.Discard})

	var a watermill.LoggerAdapter = NewWatermillAdapter("broker")
	a = a.With(watermill.LogFields{"topic": "live"})
	a.Error("publish failed", errors.New("nats down"), watermill.LogFields{"attempt": 3})

	out := buf.String()
	for _, want := range []string{`"component":"broker"`, `"topic":"live"`, `"attempt":3`, `"error":"nats down"`} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %s in %s", want, out)
		}
	}
}
