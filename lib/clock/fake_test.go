// Copyright 2026 The LimiQuantix Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeNowAdvance(t *testing.T) {
	c := Fake(epoch)
	if got := c.Now(); !got.Equal(epoch) {
		t.Fatalf("Now() = %v, want %v", got, epoch)
	}
	c.Advance(3 * time.Second)
	if got := c.Now(); !got.Equal(epoch.Add(3 * time.Second)) {
		t.Fatalf("Now() after Advance = %v, want %v", got, epoch.Add(3*time.Second))
	}
}

func TestFakeAfterFiresAtDeadline(t *testing.T) {
	c := Fake(epoch)
	ch := c.After(5 * time.Second)

	c.Advance(4 * time.Second)
	select {
	case <-ch:
		t.Fatal("After fired before its deadline")
	default:
	}

	c.Advance(time.Second)
	select {
	case fired := <-ch:
		if !fired.Equal(epoch.Add(5 * time.Second)) {
			t.Fatalf("fire time = %v, want %v", fired, epoch.Add(5*time.Second))
		}
	default:
		t.Fatal("After did not fire at its deadline")
	}
}

func TestFakeAfterNonPositiveFiresImmediately(t *testing.T) {
	c := Fake(epoch)
	select {
	case <-c.After(0):
	default:
		t.Fatal("After(0) did not fire immediately")
	}
}

func TestFakeTickerRepeats(t *testing.T) {
	c := Fake(epoch)
	ticker := c.NewTicker(time.Second)
	defer ticker.Stop()

	for i := 1; i <= 3; i++ {
		c.Advance(time.Second)
		select {
		case <-ticker.C:
		default:
			t.Fatalf("tick %d not delivered", i)
		}
	}
}

func TestFakeTickerDropsWhenBehind(t *testing.T) {
	c := Fake(epoch)
	ticker := c.NewTicker(time.Second)
	defer ticker.Stop()

	// Nobody reads between ticks: only one tick should be buffered.
	c.Advance(5 * time.Second)

	received := 0
	for {
		select {
		case <-ticker.C:
			received++
			continue
		default:
		}
		break
	}
	if received != 1 {
		t.Fatalf("received %d buffered ticks, want 1", received)
	}
}

func TestFakeTickerStop(t *testing.T) {
	c := Fake(epoch)
	ticker := c.NewTicker(time.Second)
	ticker.Stop()

	c.Advance(3 * time.Second)
	select {
	case <-ticker.C:
		t.Fatal("stopped ticker delivered a tick")
	default:
	}
}

func TestFakeWaitForTimers(t *testing.T) {
	c := Fake(epoch)

	registered := make(chan struct{})
	go func() {
		c.Sleep(time.Second)
		close(registered)
	}()

	c.WaitForTimers(1)
	c.Advance(time.Second)

	select {
	case <-registered:
	case <-time.After(5 * time.Second):
		t.Fatal("Sleep did not return after Advance")
	}
}

func TestFakeFiresInDeadlineOrder(t *testing.T) {
	c := Fake(epoch)
	first := c.After(time.Second)
	second := c.After(2 * time.Second)

	c.Advance(3 * time.Second)

	firstAt := <-first
	secondAt := <-second
	if !firstAt.Before(secondAt) {
		t.Fatalf("fire order wrong: first=%v second=%v", firstAt, secondAt)
	}
}
