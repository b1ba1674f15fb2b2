// Copyright 2026 The LimiQuantix Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/limiquantix/limiquantix/lib/codec"
)

// Kind discriminates message payloads. The set is open: the core
// routes on the kinds below and passes everything else through as an
// application kind. An unrecognized kind is ignorable, never an
// error.
type Kind string

const (
	// KindReady is the one-time identity announcement a guest sends
	// immediately after connecting.
	KindReady Kind = "ready"

	// KindTelemetry is the periodic guest resource report.
	KindTelemetry Kind = "telemetry"

	// KindPing is a liveness request; the peer replies with KindPong
	// echoing the sequence number.
	KindPing Kind = "ping"

	// KindPong is the reply to KindPing.
	KindPong Kind = "pong"

	// KindError is an unsolicited failure report from the guest, sent
	// when a request handler fails.
	KindError Kind = "error"
)

// IsPush reports whether the kind is an unsolicited event published by
// the guest. Push messages are routed to subscribers and the status
// cache; everything else resolves against the pending-request table.
func (k Kind) IsPush() bool {
	return k == KindReady || k == KindTelemetry || k == KindError
}

// Message is the envelope inside every frame. The body is opaque CBOR,
// decoded lazily once the kind is known; the core reads only the id
// and kind.
//
// The id doubles as the correlation id: a reply carries the id of the
// request it answers, and push messages carry fresh ids that match no
// pending request.
type Message struct {
	ID     string           `cbor:"id"`
	Kind   Kind             `cbor:"kind"`
	SentAt time.Time        `cbor:"sent_at,omitempty"`
	Body   codec.RawMessage `cbor:"body,omitempty"`
}

// ErrPayloadTooLarge is returned by EncodeMessage when the encoded
// envelope exceeds the frame payload maximum.
var ErrPayloadTooLarge = errors.New("wire: encoded message exceeds maximum frame payload")

// NewMessage builds an envelope with a fresh id, the given kind, and
// body marshaled to CBOR. A nil body leaves Body empty.
func NewMessage(now time.Time, kind Kind, body any) (*Message, error) {
	message := &Message{
		ID:     uuid.NewString(),
		Kind:   kind,
		SentAt: now,
	}
	if body != nil {
		encoded, err := codec.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding %s body: %w", kind, err)
		}
		message.Body = encoded
	}
	return message, nil
}

// Reply builds an envelope answering request: same id, new kind and
// body. The shared id is what correlates the response to its pending
// caller on the other end.
func Reply(request *Message, now time.Time, kind Kind, body any) (*Message, error) {
	message, err := NewMessage(now, kind, body)
	if err != nil {
		return nil, err
	}
	message.ID = request.ID
	return message, nil
}

// DecodeBody unmarshals the message body into v.
func (m *Message) DecodeBody(v any) error {
	if len(m.Body) == 0 {
		return fmt.Errorf("message %s has no body", m.Kind)
	}
	if err := codec.Unmarshal(m.Body, v); err != nil {
		return fmt.Errorf("decoding %s body: %w", m.Kind, err)
	}
	return nil
}

// EncodeMessage marshals the envelope and wraps it in a frame, ready
// to write to the transport.
func EncodeMessage(m *Message) ([]byte, error) {
	payload, err := codec.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding message envelope: %w", err)
	}
	if len(payload) > DefaultMaxPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	return EncodeFrame(payload), nil
}

// decodeMessage unmarshals a frame payload into a Message and
// validates the envelope. Payloads missing the id or kind are
// corruption, not messages.
func decodeMessage(payload []byte) (*Message, error) {
	var message Message
	if err := codec.Unmarshal(payload, &message); err != nil {
		return nil, err
	}
	if message.ID == "" || message.Kind == "" {
		return nil, errors.New("payload is not a message envelope")
	}
	return &message, nil
}
