// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package main

import (
	"testing"

	"github.com/tomtom215/visitorpulse/internal/config"
)

func TestBrokerURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.BrokerConfig
		want string
	}{
		{"memory", config.BrokerConfig{Backend: "memory", EmbeddedNATS: true, EmbeddedPort: 4222}, ""},
		{"external nats", config.BrokerConfig{Backend: "nats", NATSURL: "nats://nats:4222"}, ""},
		{"embedded nats", config.BrokerConfig{Backend: "nats", EmbeddedNATS: true, EmbeddedHost: "127.0.0.1", EmbeddedPort: 4222}, "nats://127.0.0.1:4222"},
		{"random port", config.BrokerConfig{Backend: "nats", EmbeddedNATS: true, EmbeddedPort: -1}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := brokerURL(tt.cfg); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}
