// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package main

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/visitorpulse/internal/config"
	"github.com/tomtom215/visitorpulse/internal/logging"
)

func init() {
	logging.Init(logging.Config{Level: "disabled", Output: io.Discard})
}

// TestNATSComponents_IsRunning tests the IsRunning method.
func TestNATSComponents_IsRunning(t *testing.T) {
	t.Run("nil components", func(t *testing.T) {
		var c *NATSComponents
		if c.IsRunning() {
			t.Error("IsRunning() should return false for nil components")
		}
		if c.URL() != "" {
			t.Errorf("Expected empty URL for nil components, got %s", c.URL())
		}
	})

	t.Run("not running", func(t *testing.T) {
		c := &NATSComponents{}
		if c.IsRunning() {
			t.Error("IsRunning() should return false when not running")
		}
	})

	t.Run("running", func(t *testing.T) {
		c := &NATSComponents{running: true}
		if !c.IsRunning() {
			t.Error("IsRunning() should return true when running")
		}
	})
}

// TestNATSComponents_Shutdown tests the Shutdown method.
func TestNATSComponents_Shutdown(t *testing.T) {
	t.Run("nil components", func(t *testing.T) {
		var c *NATSComponents
		// Should not panic
		c.Shutdown(context.Background())
	})

	t.Run("without server", func(t *testing.T) {
		c := &NATSComponents{running: true}
		c.Shutdown(context.Background())
		if c.IsRunning() {
			t.Error("Should not be running after shutdown")
		}
	})
}

func TestInitNATS_SkippedForOtherBackends(t *testing.T) {
	cfg := config.Default()
	cfg.Broker.Backend = "memory"

	c, err := InitNATS(cfg)
	if err != nil {
		t.Fatalf("InitNATS: %v", err)
	}
	if c != nil {
		t.Error("Expected nil components for the memory broker")
	}

	cfg.Broker.Backend = "nats"
	cfg.Broker.EmbeddedNATS = false
	c, err = InitNATS(cfg)
	if err != nil {
		t.Fatalf("InitNATS: %v", err)
	}
	if c != nil {
		t.Error("Expected nil components for an external NATS server")
	}
}

func TestInitNATS_Embedded(t *testing.T) {
	cfg := config.Default()
	cfg.Broker.Backend = "nats"
	cfg.Broker.EmbeddedNATS = true
	cfg.Broker.EmbeddedHost = "127.0.0.1"
	cfg.Broker.EmbeddedPort = -1
	cfg.Broker.EmbeddedJetDir = t.TempDir()

	c, err := InitNATS(cfg)
	if err != nil {
		t.Fatalf("InitNATS: %v", err)
	}
	if !c.IsRunning() {
		t.Fatal("Expected embedded server to be running")
	}
	if !strings.HasPrefix(c.URL(), "nats://") {
		t.Errorf("Expected nats:// URL, got %s", c.URL())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c.Shutdown(ctx)
	c.Shutdown(ctx)

	if c.IsRunning() {
		t.Error("Should not be running after shutdown")
	}
}
