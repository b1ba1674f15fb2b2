// Copyright 2026 The LimiQuantix Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake returns a FakeClock initialized to the given time. Time stands
// still until Advance is called. All timer, ticker, and sleep
// operations register pending waiters that fire when the clock
// advances past their deadline.
//
// FakeClock is safe for concurrent use by multiple goroutines.
func Fake(initial time.Time) *FakeClock {
	c := &FakeClock{current: initial}
	c.waitersChanged = sync.NewCond(&c.mu)
	return c
}

// FakeClock is a deterministic Clock for testing. Time advances only
// when Advance is called. Timers, tickers, and sleeps block until the
// clock is advanced past their deadline.
type FakeClock struct {
	mu             sync.Mutex
	current        time.Time
	waiters        []*fakeWaiter
	waitersChanged *sync.Cond
}

// fakeWaiter represents a pending timer, ticker, or sleep operation.
type fakeWaiter struct {
	deadline time.Time

	// channel receives the fire time.
	channel chan time.Time

	// interval is non-zero for ticker waiters. After firing, the
	// waiter is rescheduled at deadline + interval.
	interval time.Duration

	// stopped is set by Ticker.Stop. Stopped waiters are skipped
	// during Advance and garbage-collected.
	stopped bool

	// fired is set after a one-shot waiter fires, preventing
	// double-firing on overlapping Advance calls.
	fired bool
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After returns a channel that receives after duration d elapses. If
// d <= 0, the channel receives immediately without registering a
// waiter.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- c.current
		return channel
	}
	c.addWaiter(&fakeWaiter{
		deadline: c.current.Add(d),
		channel:  channel,
	})
	return channel
}

// NewTicker returns a Ticker firing every d once the clock advances
// past each successive deadline. Panics if d <= 0, matching
// time.NewTicker.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	waiter := &fakeWaiter{
		deadline: c.current.Add(d),
		channel:  make(chan time.Time, 1),
		interval: d,
	}
	c.addWaiter(waiter)

	return &Ticker{
		C: waiter.channel,
		stopFunc: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			waiter.stopped = true
		},
	}
}

// Sleep blocks until the clock advances past the current time plus d.
// Returns immediately if d <= 0.
func (c *FakeClock) Sleep(d time.Duration) {
	<-c.After(d)
}

// addWaiter appends a waiter and wakes WaitForTimers callers. Caller
// must hold c.mu.
func (c *FakeClock) addWaiter(w *fakeWaiter) {
	c.waiters = append(c.waiters, w)
	c.waitersChanged.Broadcast()
}

// WaitForTimers blocks until at least n pending (unfired, unstopped)
// waiters are registered. Use this to synchronize with goroutines that
// register timers before calling Advance.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.pendingLocked() < n {
		c.waitersChanged.Wait()
	}
}

// PendingTimers returns the number of pending waiters.
func (c *FakeClock) PendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingLocked()
}

func (c *FakeClock) pendingLocked() int {
	count := 0
	for _, w := range c.waiters {
		if !w.fired && !w.stopped {
			count++
		}
	}
	return count
}

// Advance moves the clock forward by d, firing every waiter whose
// deadline falls within the new window, in deadline order. Ticker
// waiters fire repeatedly and are rescheduled; if a ticker's channel
// is full the tick is dropped, matching time.Ticker.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	target := c.current.Add(d)

	for {
		next := c.nextDeadlineLocked(target)
		if next == nil {
			break
		}
		c.current = next.deadline
		c.fireLocked(next)
	}

	c.current = target
	c.gcLocked()
}

// nextDeadlineLocked returns the unfired waiter with the earliest
// deadline at or before target, or nil if none remain.
func (c *FakeClock) nextDeadlineLocked(target time.Time) *fakeWaiter {
	var earliest *fakeWaiter
	for _, w := range c.waiters {
		if w.fired || w.stopped || w.deadline.After(target) {
			continue
		}
		if earliest == nil || w.deadline.Before(earliest.deadline) {
			earliest = w
		}
	}
	return earliest
}

// fireLocked delivers one fire event to the waiter. One-shot waiters
// are marked fired; ticker waiters are rescheduled.
func (c *FakeClock) fireLocked(w *fakeWaiter) {
	select {
	case w.channel <- c.current:
	default:
		// Channel full: drop the tick, matching time.Ticker.
	}
	if w.interval > 0 {
		w.deadline = w.deadline.Add(w.interval)
	} else {
		w.fired = true
	}
}

// gcLocked removes fired and stopped waiters, keeping the slice small
// in long-running tests. Remaining waiters stay deadline-sorted so
// Advance behavior is deterministic.
func (c *FakeClock) gcLocked() {
	kept := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.fired && !w.stopped {
			kept = append(kept, w)
		}
	}
	c.waiters = kept
	sort.SliceStable(c.waiters, func(i, j int) bool {
		return c.waiters[i].deadline.Before(c.waiters[j].deadline)
	})
}
