// Copyright 2026 The LimiQuantix Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"io"
)

// Transport is one end of the guest channel: a duplex byte stream with
// no message boundaries. Framing lives above it (package wire);
// connection lifecycle lives above that (packages guest and host).
//
// Read and write may be used concurrently by different goroutines, but
// each side must have a single owner: the protocol multiplexes writers
// behind a lock and gives the read side to exactly one reader.
type Transport interface {
	io.Reader
	io.Writer
	io.Closer
}

// ErrEndpointNotPresent means the channel endpoint does not exist yet:
// the device node or socket has not been provisioned, or the VM is not
// running. Retryable: wait and try again.
var ErrEndpointNotPresent = errors.New("transport: endpoint not present")

// ErrEndpointBusy means the endpoint exists but is already held by
// another consumer. The channel is single-consumer; callers should
// locate and reuse the existing connection rather than retry the open.
var ErrEndpointBusy = errors.New("transport: endpoint held by another consumer")

// ErrWriteTimeout means a bounded write did not complete in time. The
// abandoned write may have transmitted part of a frame, leaving the
// peer mid-frame, so the only safe recovery is to drop the transport
// and reconnect, never to write the next message on the same handle.
var ErrWriteTimeout = errors.New("transport: write timed out")

// ErrConnectionLost means the peer closed the channel or an I/O error
// ended the session.
var ErrConnectionLost = errors.New("transport: connection lost")
