// Copyright 2026 The LimiQuantix Authors
// SPDX-License-Identifier: Apache-2.0

package guest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/limiquantix/limiquantix/lib/backoff"
	"github.com/limiquantix/limiquantix/lib/clock"
	"github.com/limiquantix/limiquantix/transport"
	"github.com/limiquantix/limiquantix/wire"
)

// HandlerFunc processes one inbound request message. Return a reply
// message (built with wire.Reply so it carries the request's id) to
// send back, nil for no reply, or an error to report a KindError event
// to the host.
type HandlerFunc func(ctx context.Context, request *wire.Message) (*wire.Message, error)

// DialFunc opens the guest transport. The default probes the
// well-known virtio-serial device paths; tests inject their own.
type DialFunc func(ctx context.Context) (transport.Transport, error)

// Supervisor owns the guest side of the channel: connect, announce
// readiness, run the active session, reconnect with backoff. Create
// with NewSupervisor, register handlers with Handle, then call Run.
type Supervisor struct {
	// Dial opens the transport for each connection attempt. Defaults
	// to probing the configured device path(s). Set before Run.
	Dial DialFunc

	config    Config
	logger    *slog.Logger
	clock     clock.Clock
	collector *Collector
	handlers  map[wire.Kind]HandlerFunc
}

// NewSupervisor creates a supervisor with the built-in ping handler
// registered. Additional request kinds are registered with Handle
// before Run.
func NewSupervisor(config Config, logger *slog.Logger, clk clock.Clock) *Supervisor {
	s := &Supervisor{
		config:    config,
		logger:    logger,
		clock:     clk,
		collector: NewCollector(),
		handlers:  make(map[wire.Kind]HandlerFunc),
	}
	s.Dial = s.probeDial
	s.Handle(wire.KindPing, s.handlePing)
	return s
}

// Handle registers a handler for an inbound message kind. Panics if
// called after Run has started or if the kind is already registered.
func (s *Supervisor) Handle(kind wire.Kind, handler HandlerFunc) {
	if _, exists := s.handlers[kind]; exists {
		panic(fmt.Sprintf("guest.Supervisor: duplicate handler for kind %q", kind))
	}
	s.handlers[kind] = handler
}

// Run drives the connect → ready → active → reconnect cycle until ctx
// is cancelled. Connection trouble never terminates Run; cancellation
// is the only way out, and it returns nil.
func (s *Supervisor) Run(ctx context.Context) error {
	retry := backoff.New(s.config.ReconnectInitial, s.config.ReconnectMax)

	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, err := s.Dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			delay := retry.Next()
			s.logger.Warn("channel connect failed, backing off",
				"error", err, "delay", delay, "attempt", retry.Attempts())
			select {
			case <-ctx.Done():
				return nil
			case <-s.clock.After(delay):
			}
			continue
		}

		reachedActive, err := s.runSession(ctx, conn)
		if ctx.Err() != nil {
			return nil
		}
		if reachedActive {
			// A session that went active proves the channel works;
			// the next failure cycle starts from the initial delay.
			retry.Reset()
		}

		delay := retry.Next()
		s.logger.Warn("session ended, reconnecting",
			"error", err, "active", reachedActive, "delay", delay)
		select {
		case <-ctx.Done():
			return nil
		case <-s.clock.After(delay):
		}
	}
}

// probeDial tries the configured device path, or each well-known path
// in order when the config says auto. A busy endpoint is reported
// distinctly; "not present" is only returned once every candidate is
// missing.
func (s *Supervisor) probeDial(ctx context.Context) (transport.Transport, error) {
	paths := []string{s.config.DevicePath}
	if s.config.DevicePath == "" || s.config.DevicePath == "auto" {
		paths = transport.DefaultDevicePaths
	}

	var lastErr error = transport.ErrEndpointNotPresent
	for _, path := range paths {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		device, err := transport.OpenCharDevice(path)
		if err == nil {
			s.logger.Info("opened channel device", "path", path)
			return device, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// handlePing answers KindPing with KindPong, echoing the sequence.
func (s *Supervisor) handlePing(_ context.Context, request *wire.Message) (*wire.Message, error) {
	var ping wire.Ping
	if err := request.DecodeBody(&ping); err != nil {
		return nil, err
	}
	return wire.Reply(request, s.clock.Now(), wire.KindPong, wire.Pong{Sequence: ping.Sequence})
}
