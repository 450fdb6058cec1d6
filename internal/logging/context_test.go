// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package logging

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
)

func TestContextIDs(t *testing.T) {
	ctx := context.Background()
	if RequestIDFromContext(ctx) != "" || CorrelationIDFromContext(ctx) != "" {
		t.Fatal("Expected empty ids on a bare context")
	}

	ctx = ContextWithRequestID(ctx, "req-1")
	ctx = ContextWithNewCorrelationID(ctx)
	ctx = ContextWithProjectID(ctx, "p1")

	if got := RequestIDFromContext(ctx); got != "req-1" {
		t.Errorf("Expected req-1, got %s", got)
	}
	if got := CorrelationIDFromContext(ctx); len(got) != 8 {
		t.Errorf("Expected 8-char correlation id, got %q", got)
	}
	if got := ProjectIDFromContext(ctx); got != "p1" {
		t.Errorf("Expected p1, got %s", got)
	}
}

func TestCtxAddsFields(t *testing.T) {
	var buf bytes.Buffer
	captureTo(&buf)
	defer Init(Config{Level: "info", Output: io.Discard})

	ctx := ContextWithRequestID(context.Background(), "req-42")
	ctx = ContextWithCorrelationID(ctx, "corr0001")
	ctx = ContextWithProjectID(ctx, "p9")
	Ctx(ctx).Info().Msg("accepted")

	out := buf.String()
	for _, want := range []string{`"request_id":"req-42"`, `"correlation_id":"corr0001"`, `"project_id":"p9"`} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %s in %s", want, out)
		}
	}
}
