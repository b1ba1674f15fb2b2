// Copyright 2026 The LimiQuantix Authors
// SPDX-License-Identifier: Apache-2.0

package guest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/limiquantix/limiquantix/lib/clock"
	"github.com/limiquantix/limiquantix/lib/testutil"
	"github.com/limiquantix/limiquantix/transport"
	"github.com/limiquantix/limiquantix/wire"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// harness runs a supervisor against an injected dial function. Each
// connection attempt arrives on dials as a reply channel; the test
// answers with a transport to accept the connection, or nil to fail it
// with ErrEndpointNotPresent.
type harness struct {
	supervisor *Supervisor
	clk        *clock.FakeClock
	dials      chan chan transport.Transport
	done       chan error
	cancel     context.CancelFunc
}

func startSupervisor(t *testing.T, config Config, configure func(*Supervisor)) *harness {
	t.Helper()

	h := &harness{
		clk:   clock.Fake(time.Unix(1700000000, 0)),
		dials: make(chan chan transport.Transport),
		done:  make(chan error, 1),
	}
	h.supervisor = NewSupervisor(config, testLogger(), h.clk)
	h.supervisor.Dial = func(ctx context.Context) (transport.Transport, error) {
		reply := make(chan transport.Transport)
		select {
		case h.dials <- reply:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		select {
		case conn := <-reply:
			if conn == nil {
				return nil, transport.ErrEndpointNotPresent
			}
			return conn, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if configure != nil {
		configure(h.supervisor)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.supervisor.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-h.done:
			if err != nil {
				t.Errorf("Run returned %v, want nil on cancellation", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("Run did not return after cancellation")
		}
	})
	return h
}

// acceptDial answers the next connection attempt with a fresh pipe and
// returns the host end.
func (h *harness) acceptDial(t *testing.T) *hostConn {
	t.Helper()
	reply := testutil.RequireReceive(t, h.dials, 5*time.Second, "waiting for a dial attempt")
	guestEnd, hostEnd := transport.Pipe()
	testutil.RequireSend(t, reply, guestEnd, 5*time.Second, "accepting dial")
	return newHostConn(hostEnd)
}

// rejectDial fails the next connection attempt.
func (h *harness) rejectDial(t *testing.T) {
	t.Helper()
	reply := testutil.RequireReceive(t, h.dials, 5*time.Second, "waiting for a dial attempt")
	testutil.RequireSend(t, reply, nil, 5*time.Second, "rejecting dial")
}

// awaitDial advances the clock until the supervisor attempts another
// connection, then accepts it. Used after a session ends, when the
// reconnect delay registers asynchronously.
func (h *harness) awaitDial(t *testing.T) *hostConn {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case reply := <-h.dials:
			guestEnd, hostEnd := transport.Pipe()
			testutil.RequireSend(t, reply, guestEnd, 5*time.Second, "accepting dial")
			return newHostConn(hostEnd)
		case <-deadline:
			t.Fatal("timed out waiting for a reconnect attempt")
		default:
			h.clk.Advance(time.Second)
			time.Sleep(time.Millisecond)
		}
	}
}

// hostConn is the host's view of one guest connection.
type hostConn struct {
	conn   transport.Transport
	reader *wire.Reader
}

func newHostConn(conn transport.Transport) *hostConn {
	return &hostConn{conn: conn, reader: wire.NewReader(conn, testLogger())}
}

func (h *hostConn) readMessage(t *testing.T) *wire.Message {
	t.Helper()
	messages := make(chan *wire.Message, 1)
	failures := make(chan error, 1)
	go func() {
		message, err := h.reader.ReadMessage()
		if err != nil {
			failures <- err
			return
		}
		messages <- message
	}()
	select {
	case message := <-messages:
		return message
	case err := <-failures:
		t.Fatalf("reading message from guest: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out reading message from guest")
	}
	return nil
}

func (h *hostConn) writeMessage(t *testing.T, message *wire.Message) {
	t.Helper()
	frame, err := wire.EncodeMessage(message)
	if err != nil {
		t.Fatalf("encoding message: %v", err)
	}
	written := make(chan error, 1)
	go func() {
		_, err := h.conn.Write(frame)
		written <- err
	}()
	if err := testutil.RequireReceive(t, written, 5*time.Second, "writing %s to guest", message.Kind); err != nil {
		t.Fatalf("writing %s to guest: %v", message.Kind, err)
	}
}

func TestReadyAnnouncedFirst(t *testing.T) {
	h := startSupervisor(t, DefaultConfig(), nil)
	host := h.acceptDial(t)
	defer host.conn.Close()

	message := host.readMessage(t)
	if message.Kind != wire.KindReady {
		t.Fatalf("first message kind = %q, want %q", message.Kind, wire.KindReady)
	}
	var ready wire.ReadyEvent
	if err := message.DecodeBody(&ready); err != nil {
		t.Fatalf("decoding ready body: %v", err)
	}
	if ready.Version == "" {
		t.Error("ready announcement has empty version")
	}
	hasPing := false
	for _, capability := range ready.Capabilities {
		if capability == "ping" {
			hasPing = true
		}
	}
	if !hasPing {
		t.Errorf("capabilities = %v, want to include %q", ready.Capabilities, "ping")
	}
}

func TestPingAnsweredWithPong(t *testing.T) {
	h := startSupervisor(t, DefaultConfig(), nil)
	host := h.acceptDial(t)
	defer host.conn.Close()
	host.readMessage(t) // ready

	ping, err := wire.NewMessage(time.Now(), wire.KindPing, wire.Ping{Sequence: 7})
	if err != nil {
		t.Fatal(err)
	}
	host.writeMessage(t, ping)

	reply := host.readMessage(t)
	if reply.Kind != wire.KindPong {
		t.Fatalf("reply kind = %q, want %q", reply.Kind, wire.KindPong)
	}
	if reply.ID != ping.ID {
		t.Errorf("reply id = %q, want the request id %q", reply.ID, ping.ID)
	}
	var pong wire.Pong
	if err := reply.DecodeBody(&pong); err != nil {
		t.Fatalf("decoding pong body: %v", err)
	}
	if pong.Sequence != 7 {
		t.Errorf("pong sequence = %d, want 7", pong.Sequence)
	}
}

func TestUnrecognizedKindIgnored(t *testing.T) {
	h := startSupervisor(t, DefaultConfig(), nil)
	host := h.acceptDial(t)
	defer host.conn.Close()
	host.readMessage(t) // ready

	unknown, err := wire.NewMessage(time.Now(), wire.Kind("snapshot-quiesce"), nil)
	if err != nil {
		t.Fatal(err)
	}
	host.writeMessage(t, unknown)

	// The unknown kind produces no reply and does not end the session:
	// a ping sent right after is still answered.
	ping, err := wire.NewMessage(time.Now(), wire.KindPing, wire.Ping{Sequence: 1})
	if err != nil {
		t.Fatal(err)
	}
	host.writeMessage(t, ping)

	reply := host.readMessage(t)
	if reply.Kind != wire.KindPong || reply.ID != ping.ID {
		t.Fatalf("got kind %q id %q, want the pong for %q", reply.Kind, reply.ID, ping.ID)
	}
}

func TestHandlerErrorReportedToHost(t *testing.T) {
	const kind = wire.Kind("exec")
	h := startSupervisor(t, DefaultConfig(), func(s *Supervisor) {
		s.Handle(kind, func(context.Context, *wire.Message) (*wire.Message, error) {
			return nil, errors.New("exec is not permitted on this guest")
		})
	})
	host := h.acceptDial(t)
	defer host.conn.Close()
	host.readMessage(t) // ready

	request, err := wire.NewMessage(time.Now(), kind, nil)
	if err != nil {
		t.Fatal(err)
	}
	host.writeMessage(t, request)

	reply := host.readMessage(t)
	if reply.Kind != wire.KindError {
		t.Fatalf("reply kind = %q, want %q", reply.Kind, wire.KindError)
	}
	if reply.ID != request.ID {
		t.Errorf("reply id = %q, want the request id %q", reply.ID, request.ID)
	}
	var event wire.ErrorEvent
	if err := reply.DecodeBody(&event); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	if event.Message != "exec is not permitted on this guest" {
		t.Errorf("error message = %q", event.Message)
	}
}

func TestTelemetryReportedOnInterval(t *testing.T) {
	config := DefaultConfig()
	h := startSupervisor(t, config, nil)
	host := h.acceptDial(t)
	defer host.conn.Close()
	host.readMessage(t) // ready

	// Pending: the ready write's timeout and the telemetry ticker.
	h.clk.WaitForTimers(2)
	h.clk.Advance(config.TelemetryInterval)

	message := host.readMessage(t)
	if message.Kind != wire.KindTelemetry {
		t.Fatalf("message kind = %q, want %q", message.Kind, wire.KindTelemetry)
	}
	var report wire.TelemetryReport
	if err := message.DecodeBody(&report); err != nil {
		t.Fatalf("decoding telemetry body: %v", err)
	}
	if report.Hostname == "" {
		t.Error("telemetry report has empty hostname")
	}
}

func TestDialFailureBacksOffExponentially(t *testing.T) {
	h := startSupervisor(t, DefaultConfig(), nil)

	h.rejectDial(t)
	h.clk.WaitForTimers(1)
	h.clk.Advance(time.Second)

	h.rejectDial(t)
	h.clk.WaitForTimers(1)

	// The second delay is 2s. Half of it is not enough.
	h.clk.Advance(time.Second)
	time.Sleep(10 * time.Millisecond)
	select {
	case <-h.dials:
		t.Fatal("supervisor redialed before the backoff delay elapsed")
	default:
	}

	h.clk.Advance(time.Second)
	h.rejectDial(t)

	h.clk.WaitForTimers(1)
	h.clk.Advance(4 * time.Second)
	h.rejectDial(t)
}

func TestBackoffResetsAfterActiveSession(t *testing.T) {
	h := startSupervisor(t, DefaultConfig(), nil)

	// Grow the delay: failures at 1s, 2s, and 4s make the next one 8s.
	h.rejectDial(t)
	h.clk.WaitForTimers(1)
	h.clk.Advance(time.Second)
	h.rejectDial(t)
	h.clk.WaitForTimers(1)
	h.clk.Advance(2 * time.Second)
	h.rejectDial(t)
	h.clk.WaitForTimers(1)
	h.clk.Advance(4 * time.Second)

	// This attempt connects and reaches active.
	host := h.acceptDial(t)
	host.readMessage(t) // ready

	// The host drops the connection; an active session resets the
	// backoff, so the reconnect comes after 1s, not 8s.
	closedAt := h.clk.Now()
	host.conn.Close()

	next := h.awaitDial(t)
	defer next.conn.Close()
	if elapsed := h.clk.Now().Sub(closedAt); elapsed >= 8*time.Second {
		t.Fatalf("reconnected after %v, want the reset initial delay", elapsed)
	}
	next.readMessage(t) // ready on the new session
}

func TestWriteTimeoutEndsSessionAndReconnectsOnce(t *testing.T) {
	config := DefaultConfig()
	h := startSupervisor(t, config, nil)
	host := h.acceptDial(t)
	host.readMessage(t) // ready

	// Pending: the ready write's timeout and the telemetry ticker. Fire
	// the ticker; the host is not reading, so the telemetry write parks
	// and registers its timeout.
	h.clk.WaitForTimers(2)
	h.clk.Advance(config.TelemetryInterval)
	h.clk.WaitForTimers(3)

	// Fire the write timeout. The session must tear down even though
	// the transport write never returned.
	h.clk.Advance(config.WriteTimeout)

	next := h.awaitDial(t)
	defer next.conn.Close()
	next.readMessage(t) // ready proves a fresh session, not a reused one

	// No further attempts: one timeout causes exactly one reconnect.
	time.Sleep(10 * time.Millisecond)
	select {
	case <-h.dials:
		t.Fatal("supervisor dialed again without a session failure")
	default:
	}
}

func TestDuplicateHandlerPanics(t *testing.T) {
	s := NewSupervisor(DefaultConfig(), testLogger(), clock.Fake(time.Unix(0, 0)))
	defer func() {
		if recover() == nil {
			t.Fatal("registering a duplicate handler did not panic")
		}
	}()
	s.Handle(wire.KindPing, func(context.Context, *wire.Message) (*wire.Message, error) {
		return nil, nil
	})
}
