// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

// Package testinfra starts throwaway service containers for integration
// tests with testcontainers-go. Everything here is behind the integration
// build tag:
//
//	go test -tags integration ./internal/broker/... ./internal/auth/...
//
// Example:
//
//	func TestRedisBroker(t *testing.T) {
//	    testinfra.SkipIfNoDocker(t)
//	    ctx := context.Background()
//	    redisC, err := testinfra.NewRedisContainer(ctx)
//	    if err != nil {
//	        t.Fatal(err)
//	    }
//	    defer testinfra.CleanupContainer(t, ctx, redisC.Container)
//	    // connect to redisC.Addr
//	}
package testinfra
