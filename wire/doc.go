// Copyright 2026 The LimiQuantix Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire implements the framing protocol spoken over the per-VM
// guest channel, and the message envelope carried inside each frame.
//
// The channel is a raw byte stream with no message boundaries and no
// clean failure mode: connecting to an endpoint that already has stale
// bytes buffered from a previous session delivers garbage before (or
// instead of) a frame boundary. Plain length-prefixed framing cannot
// recover from that, because a wrong length looks exactly like a right
// one, so every frame starts with a fixed magic header the reader can
// scan for:
//
//	┌──────────────┬──────────────────┬──────────────────┐
//	│ magic (4 B)  │ length (4 B, BE) │ payload (N bytes)│
//	└──────────────┴──────────────────┴──────────────────┘
//
// A Reader scans forward for the magic sequence, discarding garbage,
// and validates the length field before trusting it: a length equal to
// the magic constant itself (stale header bytes landing in the length
// slot) or above the configured maximum is treated as corruption and
// the scan restarts. Payloads that fail to decode as a Message are
// likewise absorbed as corruption. The total bytes consumed by resync
// is bounded; exceeding the window returns ErrScanExhausted, which
// callers treat the same as a lost connection.
//
// Payloads are CBOR-encoded Message envelopes: an id, a kind
// discriminator, and an opaque body decoded lazily once the kind is
// known. Kinds are an open set: unrecognized kinds are a first-class,
// ignorable case, never a decode error.
package wire
