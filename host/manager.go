// Copyright 2026 The LimiQuantix Authors
// SPDX-License-Identifier: Apache-2.0

package host

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/limiquantix/limiquantix/lib/clock"
	"github.com/limiquantix/limiquantix/transport"
	"github.com/limiquantix/limiquantix/wire"
)

// ErrRequestTimeout means one request's reply did not arrive in time.
// Only that caller sees it; the session and its other in-flight
// requests continue unaffected.
var ErrRequestTimeout = errors.New("host: request timed out")

// ErrNotConnected means an operation needed a live session and none
// exists for the VM.
var ErrNotConnected = errors.New("host: vm is not connected")

// ErrManagerClosed means the manager has shut down.
var ErrManagerClosed = errors.New("host: manager is closed")

// DialFunc opens the transport at a resolved endpoint path. The
// default dials the VM's unix socket; tests inject their own.
type DialFunc func(ctx context.Context, path string) (transport.Transport, error)

// AttachmentQuerier reports externally observable channel state, used
// as the status fallback before any session has cached a snapshot.
type AttachmentQuerier interface {
	ChannelAttached(ctx context.Context, vmID string) (bool, error)
}

// defaultSubscriberBuffer is the channel depth handed to telemetry and
// ready subscribers. A subscriber that falls further behind loses
// events rather than stalling the dispatch loop.
const defaultSubscriberBuffer = 16

// Manager owns one Session per VM id. All operations are safe for
// concurrent use; the sessions map is the only state guarded by the
// manager's own lock, and it is never held across I/O.
type Manager struct {
	// Dial opens the transport for a resolved endpoint. Defaults to
	// transport.DialVMSocket. Set before first use.
	Dial DialFunc

	// Attachment, when set, answers CachedStatus for VMs with no
	// cached snapshot yet. Optional.
	Attachment AttachmentQuerier

	// SubscriberBuffer overrides the subscriber channel depth. Zero
	// means the default.
	SubscriberBuffer int

	resolver Resolver
	logger   *slog.Logger
	clock    clock.Clock

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
}

// NewManager creates a manager that resolves endpoints with resolver
// and dials them as unix sockets.
func NewManager(resolver Resolver, logger *slog.Logger, clk clock.Clock) *Manager {
	m := &Manager{
		resolver: resolver,
		logger:   logger,
		clock:    clk,
		sessions: make(map[string]*Session),
	}
	m.Dial = func(ctx context.Context, path string) (transport.Transport, error) {
		return transport.DialVMSocket(ctx, path)
	}
	return m
}

// session returns the VM's session, creating it if needed. A session
// starts Disconnected; creating one performs no I/O.
func (m *Manager) session(vmID string) (*Session, error) {
	m.mu.RLock()
	session, exists := m.sessions[vmID]
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return nil, ErrManagerClosed
	}
	if exists {
		return session, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrManagerClosed
	}
	if session, exists := m.sessions[vmID]; exists {
		return session, nil
	}
	session = newSession(vmID, m.logger.With("vm_id", vmID), m.clock, m.subscriberBuffer())
	m.sessions[vmID] = session
	return session, nil
}

func (m *Manager) subscriberBuffer() int {
	if m.SubscriberBuffer > 0 {
		return m.SubscriberBuffer
	}
	return defaultSubscriberBuffer
}

// lookup returns the VM's session without creating one.
func (m *Manager) lookup(vmID string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[vmID]
}

// Connect ensures a live session for the VM. A session that is already
// connected is reused without touching the transport; the endpoints
// are single-consumer, so a second open against a held endpoint would
// fail as busy. Concurrent callers share a single connection attempt.
func (m *Manager) Connect(ctx context.Context, vmID string) error {
	session, err := m.session(vmID)
	if err != nil {
		return err
	}
	return session.connect(ctx, m.resolver, m.Dial)
}

// SendRequest writes the message to the VM and waits up to timeout for
// the reply carrying the same id. Connects first if needed. A timeout
// abandons only this request: a reply arriving later is dropped by the
// dispatch loop.
func (m *Manager) SendRequest(ctx context.Context, vmID string, message *wire.Message, timeout time.Duration) (*wire.Message, error) {
	if err := m.Connect(ctx, vmID); err != nil {
		return nil, err
	}
	session := m.lookup(vmID)
	if session == nil {
		return nil, ErrNotConnected
	}
	return session.request(ctx, message, timeout)
}

// Ping sends a liveness probe and waits for the matching pong.
func (m *Manager) Ping(ctx context.Context, vmID string, sequence uint64, timeout time.Duration) error {
	message, err := wire.NewMessage(m.clock.Now(), wire.KindPing, wire.Ping{Sequence: sequence})
	if err != nil {
		return err
	}
	reply, err := m.SendRequest(ctx, vmID, message, timeout)
	if err != nil {
		return err
	}
	if reply.Kind != wire.KindPong {
		return errors.New("host: ping answered with " + string(reply.Kind))
	}
	return nil
}

// SubscribeTelemetry delivers the VM's telemetry reports as they
// arrive. The subscription survives reconnects and lasts until the
// cancel function is called or the VM is removed. A full channel drops
// events.
func (m *Manager) SubscribeTelemetry(vmID string) (<-chan wire.TelemetryReport, func(), error) {
	session, err := m.session(vmID)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := session.subscribeTelemetry()
	return ch, cancel, nil
}

// SubscribeReady delivers the VM's ready announcements, one per guest
// (re)connection.
func (m *Manager) SubscribeReady(vmID string) (<-chan wire.ReadyEvent, func(), error) {
	session, err := m.session(vmID)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := session.subscribeReady()
	return ch, cancel, nil
}

// CachedStatus answers from the session's cached snapshot, populated
// by the dispatch loop. It never dials: status queries run on polls
// concurrent with background connections, and a status query that
// opened the single-consumer endpoint would steal it. With no snapshot
// yet, the attachment querier (when configured) supplies externally
// observable state; otherwise ok is false.
func (m *Manager) CachedStatus(ctx context.Context, vmID string) (Status, bool) {
	if session := m.lookup(vmID); session != nil {
		if status, ok := session.cachedStatus(); ok {
			return status, true
		}
	}
	if m.Attachment != nil {
		attached, err := m.Attachment.ChannelAttached(ctx, vmID)
		if err != nil {
			m.logger.Warn("attachment query failed", "vm_id", vmID, "error", err)
			return Status{}, false
		}
		return Status{Connected: attached}, true
	}
	return Status{}, false
}

// IsConnected reports whether the VM has a live session.
func (m *Manager) IsConnected(vmID string) bool {
	session := m.lookup(vmID)
	return session != nil && session.isConnected()
}

// Remove tears down and forgets the VM's session. Call when the VM is
// deleted. Subscriber channels are closed.
func (m *Manager) Remove(vmID string) {
	m.mu.Lock()
	session := m.sessions[vmID]
	delete(m.sessions, vmID)
	m.mu.Unlock()
	if session != nil {
		session.shutdown()
	}
}

// Close tears down every session and rejects further use.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, session := range sessions {
		session.shutdown()
	}
}
