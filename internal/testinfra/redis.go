// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

//go:build integration

package testinfra

import (
	"context"
	"fmt"
	"time"

	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	DefaultRedisImage    = "redis:7-alpine"
	DefaultRedisPort     = "6379"
	DefaultPostgresImage = "postgres:16-alpine"
	DefaultPostgresPort  = "5432"
)

// NewRedisContainer starts Redis for the pub/sub broker tests.
func NewRedisContainer(ctx context.Context) (*ServiceContainer, error) {
	return startService(ctx, serviceSpec{
		image:   DefaultRedisImage,
		port:    DefaultRedisPort,
		waitFor: wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
	})
}

// PostgresContainer carries the DSN of a throwaway database.
type PostgresContainer struct {
	*ServiceContainer
	DSN string
}

// NewPostgresContainer starts Postgres for the token store tests.
func NewPostgresContainer(ctx context.Context) (*PostgresContainer, error) {
	svc, err := startService(ctx, serviceSpec{
		image: DefaultPostgresImage,
		port:  DefaultPostgresPort,
		env: map[string]string{
			"POSTGRES_USER":     "visitorpulse",
			"POSTGRES_PASSWORD": "visitorpulse",
			"POSTGRES_DB":       "visitorpulse",
		},
		waitFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(90 * time.Second),
	})
	if err != nil {
		return nil, err
	}
	return &PostgresContainer{
		ServiceContainer: svc,
		DSN:              fmt.Sprintf("postgres://visitorpulse:visitorpulse@%s/visitorpulse?sslmode=disable", svc.Addr),
	}, nil
}

const (
	DefaultClickHouseImage = "clickhouse/clickhouse-server:24.3-alpine"
	DefaultClickHousePort  = "9000"
)

// ClickHouseContainer carries the native-protocol DSN of a test server.
type ClickHouseContainer struct {
	*ServiceContainer
	DSN string
}

// NewClickHouseContainer starts ClickHouse for the event store tests.
func NewClickHouseContainer(ctx context.Context) (*ClickHouseContainer, error) {
	svc, err := startService(ctx, serviceSpec{
		image: DefaultClickHouseImage,
		port:  DefaultClickHousePort,
		env: map[string]string{
			"CLICKHOUSE_DB":       "visitorpulse",
			"CLICKHOUSE_USER":     "visitorpulse",
			"CLICKHOUSE_PASSWORD": "visitorpulse",
		},
		waitFor: wait.ForListeningPort(DefaultClickHousePort + "/tcp").WithStartupTimeout(90 * time.Second),
	})
	if err != nil {
		return nil, err
	}
	return &ClickHouseContainer{
		ServiceContainer: svc,
		DSN:              fmt.Sprintf("clickhouse://visitorpulse:visitorpulse@%s/visitorpulse", svc.Addr),
	}, nil
}
