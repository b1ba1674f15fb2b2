// Copyright 2026 The LimiQuantix Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import "net"

// Pipe returns two connected in-memory transports. Writes on one end
// block until the other end reads, which makes a peer that stops
// reading behave exactly like a wedged channel. That is what
// write-timeout tests need. Closing either end unblocks the peer's
// pending reads and writes with an error.
func Pipe() (Transport, Transport) {
	a, b := net.Pipe()
	return a, b
}
