// Copyright 2026 The LimiQuantix Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for testability.
//
// Production code accepts a Clock parameter instead of calling time.Now,
// time.After, time.NewTicker, or time.Sleep directly. In production,
// Real() provides standard library behavior. In tests, Fake() provides a
// deterministic clock that advances only when Advance is called.
//
// # Wiring Pattern
//
// Add a Clock field to structs that use time:
//
//	type Supervisor struct {
//	    clock clock.Clock
//	    // ...
//	}
//
// In tests:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	s := NewSupervisor(cfg, logger, c)
//	// ... start goroutines ...
//	c.WaitForTimers(1) // wait for the goroutine to register a timer
//	c.Advance(5 * time.Second) // fire it deterministically
//
// When a goroutine calls Sleep, After, or NewTicker on a FakeClock, it
// registers a pending waiter. Use WaitForTimers to block until a given
// number of waiters exist before calling Advance. This removes the race
// between timer registration and time advancement that plagues tests
// synchronized with real sleeps.
package clock
