// Copyright 2026 The LimiQuantix Authors
// SPDX-License-Identifier: Apache-2.0

package host

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/limiquantix/limiquantix/lib/clock"
	"github.com/limiquantix/limiquantix/transport"
	"github.com/limiquantix/limiquantix/wire"
)

// sessionState tracks a session's connection lifecycle.
type sessionState int

const (
	stateDisconnected sessionState = iota
	stateConnecting
	stateConnected
)

// Status is the cached view of a guest, assembled from the push events
// the dispatch loop has seen.
type Status struct {
	// Connected reports the session state at snapshot time.
	Connected bool

	// Identity is the guest's last ready announcement, nil before the
	// first one.
	Identity *wire.ReadyEvent

	// Telemetry is the last telemetry report, nil before the first.
	Telemetry *wire.TelemetryReport

	// LastSeen is when the last push event arrived.
	LastSeen time.Time
}

// requestResult is what a pending request caller receives: the reply
// or the error that ended the wait.
type requestResult struct {
	message *wire.Message
	err     error
}

// Session is the host's state for one VM's channel. The dispatch loop
// is the sole reader of the transport and the sole writer of the cache
// and state transitions; request callers and subscribers coordinate
// with it only through the mutex-guarded maps. The lock is never held
// across transport I/O.
type Session struct {
	vmID   string
	logger *slog.Logger
	clock  clock.Clock
	buffer int

	// writeMu serializes request frames onto the transport.
	writeMu sync.Mutex

	mu            sync.Mutex
	state         sessionState
	settled       chan struct{} // closed when a Connecting attempt resolves
	transport     transport.Transport
	pending       map[string]chan requestResult
	identity      *wire.ReadyEvent
	telemetry     *wire.TelemetryReport
	lastSeen      time.Time
	nextSubID     int
	telemetrySubs map[int]chan wire.TelemetryReport
	readySubs     map[int]chan wire.ReadyEvent
	removed       bool
}

func newSession(vmID string, logger *slog.Logger, clk clock.Clock, buffer int) *Session {
	return &Session{
		vmID:          vmID,
		logger:        logger,
		clock:         clk,
		buffer:        buffer,
		pending:       make(map[string]chan requestResult),
		telemetrySubs: make(map[int]chan wire.TelemetryReport),
		readySubs:     make(map[int]chan wire.ReadyEvent),
	}
}

func (s *Session) isConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateConnected
}

// connect establishes the transport unless one is already live. A
// caller arriving while another attempt is in flight waits for that
// attempt to settle instead of dialing a second time; the endpoint
// accepts one consumer, so the loser of such a race would always fail
// with a spurious busy error.
func (s *Session) connect(ctx context.Context, resolver Resolver, dial DialFunc) error {
	for {
		s.mu.Lock()
		if s.removed {
			s.mu.Unlock()
			return ErrNotConnected
		}
		switch s.state {
		case stateConnected:
			s.mu.Unlock()
			return nil
		case stateConnecting:
			settled := s.settled
			s.mu.Unlock()
			select {
			case <-settled:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		s.state = stateConnecting
		s.settled = make(chan struct{})
		s.mu.Unlock()
		break
	}

	endpoint, err := resolver.Resolve(ctx, s.vmID)
	var conn transport.Transport
	if err == nil {
		conn, err = dial(ctx, endpoint)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	close(s.settled)
	if err != nil {
		s.state = stateDisconnected
		return fmt.Errorf("connecting to vm %s: %w", s.vmID, err)
	}
	if s.removed {
		conn.Close()
		s.state = stateDisconnected
		return ErrNotConnected
	}
	s.transport = conn
	s.state = stateConnected
	s.logger.Info("connected to guest channel", "endpoint", endpoint)
	go s.dispatchLoop(conn)
	return nil
}

// request registers a pending entry keyed by the message id, writes
// the frame, and waits for the dispatch loop to fulfil the entry. The
// write runs in its own goroutine so a wedged transport costs the
// caller only the timeout, never an unbounded block.
func (s *Session) request(ctx context.Context, message *wire.Message, timeout time.Duration) (*wire.Message, error) {
	frame, err := wire.EncodeMessage(message)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.state != stateConnected {
		s.mu.Unlock()
		return nil, ErrNotConnected
	}
	conn := s.transport
	waiter := make(chan requestResult, 1)
	s.pending[message.ID] = waiter
	s.mu.Unlock()

	go func() {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		if _, err := conn.Write(frame); err != nil {
			s.fulfill(message.ID, requestResult{err: fmt.Errorf("writing %s request: %w", message.Kind, err)})
		}
	}()

	select {
	case result := <-waiter:
		return result.message, result.err
	case <-s.clock.After(timeout):
		s.abandon(message.ID)
		return nil, ErrRequestTimeout
	case <-ctx.Done():
		s.abandon(message.ID)
		return nil, ctx.Err()
	}
}

// fulfill resolves one pending request, if it is still waiting.
func (s *Session) fulfill(id string, result requestResult) bool {
	s.mu.Lock()
	waiter, found := s.pending[id]
	delete(s.pending, id)
	s.mu.Unlock()
	if !found {
		return false
	}
	waiter <- result
	return true
}

// abandon forgets a pending request whose caller gave up.
func (s *Session) abandon(id string) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

// dispatchLoop is the sole reader of the transport: it decodes frames
// and routes each message, then tears the session down when the stream
// ends. Push events feed the cache and subscribers; everything else
// resolves against the pending table by id.
func (s *Session) dispatchLoop(conn transport.Transport) {
	reader := wire.NewReader(conn, s.logger)
	for {
		message, err := reader.ReadMessage()
		if err != nil {
			if err != io.EOF {
				s.logger.Warn("guest channel read failed", "error", err)
			}
			s.teardown(conn)
			return
		}
		s.route(message)
	}
}

func (s *Session) route(message *wire.Message) {
	if message.Kind.IsPush() {
		s.handlePush(message)
		return
	}
	if !s.fulfill(message.ID, requestResult{message: message}) {
		// The caller timed out before the guest answered.
		s.logger.Debug("dropping stale response", "kind", message.Kind, "id", message.ID)
	}
}

// handlePush updates the cached snapshot and fans the event out. A
// subscriber whose channel is full loses the event; the dispatch loop
// never blocks on a slow consumer.
func (s *Session) handlePush(message *wire.Message) {
	switch message.Kind {
	case wire.KindReady:
		var event wire.ReadyEvent
		if err := message.DecodeBody(&event); err != nil {
			s.logger.Warn("undecodable ready event", "error", err)
			return
		}
		s.mu.Lock()
		s.identity = &event
		s.lastSeen = s.clock.Now()
		subscribers := make([]chan wire.ReadyEvent, 0, len(s.readySubs))
		for _, ch := range s.readySubs {
			subscribers = append(subscribers, ch)
		}
		s.mu.Unlock()

		s.logger.Info("guest announced ready",
			"version", event.Version, "hostname", event.Hostname)
		for _, ch := range subscribers {
			select {
			case ch <- event:
			default:
				s.logger.Debug("dropping ready event for slow subscriber")
			}
		}

	case wire.KindTelemetry:
		var report wire.TelemetryReport
		if err := message.DecodeBody(&report); err != nil {
			s.logger.Warn("undecodable telemetry report", "error", err)
			return
		}
		s.mu.Lock()
		s.telemetry = &report
		s.lastSeen = s.clock.Now()
		subscribers := make([]chan wire.TelemetryReport, 0, len(s.telemetrySubs))
		for _, ch := range s.telemetrySubs {
			subscribers = append(subscribers, ch)
		}
		s.mu.Unlock()

		for _, ch := range subscribers {
			select {
			case ch <- report:
			default:
				s.logger.Debug("dropping telemetry for slow subscriber")
			}
		}

	case wire.KindError:
		var event wire.ErrorEvent
		if err := message.DecodeBody(&event); err != nil {
			s.logger.Warn("undecodable error event", "error", err)
			return
		}
		s.logger.Warn("guest reported an error",
			"code", event.Code, "message", event.Message, "id", message.ID)
	}
}

// teardown transitions to Disconnected and fails every in-flight
// request. Only the dispatch loop that owns conn may call it, so a
// reconnect racing an old loop's exit cannot tear down the new
// transport.
func (s *Session) teardown(conn transport.Transport) {
	s.mu.Lock()
	if s.transport != conn {
		s.mu.Unlock()
		return
	}
	s.state = stateDisconnected
	s.transport = nil
	waiters := s.pending
	s.pending = make(map[string]chan requestResult)
	s.mu.Unlock()

	conn.Close()
	for _, waiter := range waiters {
		waiter <- requestResult{err: transport.ErrConnectionLost}
	}
	s.logger.Info("guest channel disconnected", "pending_failed", len(waiters))
}

func (s *Session) subscribeTelemetry() (<-chan wire.TelemetryReport, func()) {
	ch := make(chan wire.TelemetryReport, s.buffer)
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.telemetrySubs[id] = ch
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		if _, live := s.telemetrySubs[id]; live {
			delete(s.telemetrySubs, id)
			close(ch)
		}
		s.mu.Unlock()
	}
}

func (s *Session) subscribeReady() (<-chan wire.ReadyEvent, func()) {
	ch := make(chan wire.ReadyEvent, s.buffer)
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.readySubs[id] = ch
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		if _, live := s.readySubs[id]; live {
			delete(s.readySubs, id)
			close(ch)
		}
		s.mu.Unlock()
	}
}

// cachedStatus snapshots the cache. ok is false until the dispatch
// loop has seen at least one push event.
func (s *Session) cachedStatus() (Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil && s.telemetry == nil {
		return Status{}, false
	}
	return Status{
		Connected: s.state == stateConnected,
		Identity:  s.identity,
		Telemetry: s.telemetry,
		LastSeen:  s.lastSeen,
	}, true
}

// shutdown ends the session for good: transport closed, pending
// requests failed, subscriber channels closed, future connects
// refused.
func (s *Session) shutdown() {
	s.mu.Lock()
	s.removed = true
	conn := s.transport
	s.transport = nil
	s.state = stateDisconnected
	waiters := s.pending
	s.pending = make(map[string]chan requestResult)
	telemetrySubs := s.telemetrySubs
	s.telemetrySubs = make(map[int]chan wire.TelemetryReport)
	readySubs := s.readySubs
	s.readySubs = make(map[int]chan wire.ReadyEvent)
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	for _, waiter := range waiters {
		waiter <- requestResult{err: transport.ErrConnectionLost}
	}
	for _, ch := range telemetrySubs {
		close(ch)
	}
	for _, ch := range readySubs {
		close(ch)
	}
}
