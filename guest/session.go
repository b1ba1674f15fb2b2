// Copyright 2026 The LimiQuantix Authors
// SPDX-License-Identifier: Apache-2.0

package guest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/limiquantix/limiquantix/lib/clock"
	"github.com/limiquantix/limiquantix/transport"
	"github.com/limiquantix/limiquantix/wire"
)

// session is the state for one transport connection. It lives from a
// successful dial to the first task failure; nothing in it survives a
// reconnect.
type session struct {
	transport transport.Transport
	config    Config
	logger    *slog.Logger
	clock     clock.Clock
	collector *Collector
	handlers  map[wire.Kind]HandlerFunc

	// writeMu serializes the shared write path between the sender and
	// the receiver's replies.
	writeMu sync.Mutex

	// closeOnce guarantees the transport closes exactly once no matter
	// which task ends the session, or how.
	closeOnce sync.Once
}

// runSession announces readiness, then races the sender and receiver
// over the transport. It returns whether the session reached the
// active state, and the error that ended it. The transport is always
// closed before returning.
func (s *Supervisor) runSession(ctx context.Context, conn transport.Transport) (bool, error) {
	sess := &session{
		transport: conn,
		config:    s.config,
		logger:    s.logger,
		clock:     s.clock,
		collector: s.collector,
		handlers:  s.handlers,
	}
	defer sess.close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ready, err := wire.NewMessage(s.clock.Now(), wire.KindReady, sess.collector.Identity())
	if err != nil {
		return false, err
	}
	if err := sess.write(ctx, ready, s.config.ReadyTimeout); err != nil {
		return false, fmt.Errorf("sending ready announcement: %w", err)
	}
	s.logger.Info("announced ready to host")

	// Active: the first task to finish, in success or failure, cancels
	// the other and drops the transport, so neither keeps using a
	// channel its sibling has deemed unusable.
	results := make(chan error, 2)
	go func() { results <- sess.runSender(ctx) }()
	go func() { results <- sess.runReceiver(ctx) }()

	first := <-results
	cancel()
	sess.close()
	<-results

	return true, first
}

// close drops the transport, unblocking any read or write still parked
// in it.
func (sess *session) close() {
	sess.closeOnce.Do(func() {
		sess.transport.Close()
	})
}

// write encodes and writes one message with a bounded timeout. The
// write itself runs in its own goroutine holding the write lock; when
// the timeout fires the write is abandoned and ErrWriteTimeout
// returned. The abandoned goroutine stays parked until the session's
// teardown closes the transport; the handle is never written again
// after a timeout, so the stall cannot corrupt a later session.
func (sess *session) write(ctx context.Context, message *wire.Message, timeout time.Duration) error {
	frame, err := wire.EncodeMessage(message)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		sess.writeMu.Lock()
		defer sess.writeMu.Unlock()
		_, err := sess.transport.Write(frame)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("writing %s: %w", message.Kind, err)
		}
		return nil
	case <-sess.clock.After(timeout):
		return transport.ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runSender reports telemetry on the configured interval. Write errors
// count toward the consecutive-failure threshold; a write timeout ends
// the session immediately regardless of the counter, because the
// abandoned write may have left the peer mid-frame.
func (sess *session) runSender(ctx context.Context) error {
	ticker := sess.clock.NewTicker(sess.config.TelemetryInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		report := sess.collector.Collect()
		message, err := wire.NewMessage(sess.clock.Now(), wire.KindTelemetry, report)
		if err != nil {
			return err
		}

		err = sess.write(ctx, message, sess.config.WriteTimeout)
		switch {
		case err == nil:
			failures = 0
		case errors.Is(err, transport.ErrWriteTimeout):
			sess.logger.Error("telemetry write timed out, abandoning transport")
			return err
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			failures++
			sess.logger.Warn("telemetry write failed",
				"error", err, "consecutive_failures", failures)
			if failures >= sess.config.MaxWriteFailures {
				return fmt.Errorf("telemetry writes failing: %w", err)
			}
		}
	}
}

// runReceiver decodes inbound frames and dispatches requests to their
// handlers. It ends on stream close, a framing scan exhaustion, or a
// reply write timeout, all session-fatal.
func (sess *session) runReceiver(ctx context.Context) error {
	reader := wire.NewReader(sess.transport, sess.logger)
	reader.ScanWindow = sess.config.ScanWindow

	for {
		message, err := reader.ReadMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				sess.logger.Info("host closed the channel")
				return transport.ErrConnectionLost
			}
			return err
		}
		if err := sess.dispatch(ctx, message); err != nil {
			return err
		}
	}
}

// dispatch routes one inbound message to its handler and writes the
// reply. Unrecognized kinds are ignored. Handler failures are reported
// to the host as KindError events rather than ending the session; only
// a reply write timeout is fatal here.
func (sess *session) dispatch(ctx context.Context, request *wire.Message) error {
	handler, registered := sess.handlers[request.Kind]
	if !registered {
		sess.logger.Debug("ignoring message of unrecognized kind",
			"kind", request.Kind, "id", request.ID)
		return nil
	}

	response, err := handler(ctx, request)
	if err != nil {
		sess.logger.Error("request handler failed",
			"kind", request.Kind, "id", request.ID, "error", err)
		response, err = wire.Reply(request, sess.clock.Now(), wire.KindError, wire.ErrorEvent{
			Message: err.Error(),
		})
		if err != nil {
			return nil
		}
	}
	if response == nil {
		return nil
	}

	err = sess.write(ctx, response, sess.config.WriteTimeout)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, transport.ErrWriteTimeout):
		sess.logger.Error("reply write timed out, abandoning transport",
			"kind", response.Kind, "id", response.ID)
		return err
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		// An outright write failure surfaces to the sender's failure
		// counter soon enough; the receiver keeps serving requests.
		sess.logger.Warn("reply write failed",
			"kind", response.Kind, "id", response.ID, "error", err)
		return nil
	}
}
