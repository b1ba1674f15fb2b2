// Copyright 2026 The LimiQuantix Authors
// SPDX-License-Identifier: Apache-2.0

// Package backoff provides an explicit, inspectable exponential backoff
// state machine.
//
// Backoff holds only state (attempt count and current delay) advanced
// by pure methods. The actual waiting is the caller's job, via an
// injected clock:
//
//	retry := backoff.New(time.Second, 30*time.Second)
//	for {
//	    if err := connect(ctx); err != nil {
//	        select {
//	        case <-ctx.Done():
//	            return
//	        case <-clk.After(retry.Next()):
//	        }
//	        continue
//	    }
//	    retry.Reset()
//	    // ...
//	}
//
// Keeping the delay sequence separate from the sleep makes reconnect
// policies testable without real waits.
package backoff

import "time"

// Backoff tracks the delay for the next retry of a failing operation.
// Each Next call returns the current delay and doubles it, capped at
// the maximum. Reset returns to the initial delay.
//
// Backoff is not safe for concurrent use; each retry loop owns its own
// instance.
type Backoff struct {
	initial time.Duration
	max     time.Duration

	attempts int
	next     time.Duration
}

// New returns a Backoff that starts at initial and doubles up to max.
// If initial is larger than max, the first delay is already capped.
func New(initial, max time.Duration) *Backoff {
	b := &Backoff{initial: initial, max: max}
	b.Reset()
	return b
}

// Next records a failed attempt and returns the delay to wait before
// retrying. The first call after New or Reset returns the initial
// delay; each subsequent call returns double the previous delay, capped
// at the maximum.
func (b *Backoff) Next() time.Duration {
	delay := b.next
	b.attempts++
	b.next *= 2
	if b.next > b.max {
		b.next = b.max
	}
	return delay
}

// Reset returns the backoff to its initial delay and clears the
// attempt count. Call this whenever the guarded operation succeeds.
func (b *Backoff) Reset() {
	b.attempts = 0
	b.next = b.initial
	if b.next > b.max {
		b.next = b.max
	}
}

// Attempts returns the number of failed attempts since the last Reset.
func (b *Backoff) Attempts() int { return b.attempts }

// Current returns the delay the next call to Next will return, without
// advancing the state.
func (b *Backoff) Current() time.Duration { return b.next }
