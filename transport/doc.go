// Copyright 2026 The LimiQuantix Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport provides the duplex byte channel between a guest
// agent and the host connection manager.
//
// The channel is not a regular file. Inside the guest it is a
// virtio-serial character device; on the host it is the per-VM unix
// socket the hypervisor wires to that device. Both ends share two
// properties that shape everything above them:
//
//   - I/O must be readiness-based. The guest device is opened
//     non-blocking and handed to the runtime poller; buffered-file
//     abstractions that assume thread-pool-backed blocking I/O stall
//     against this class of device.
//   - The channel is single-consumer, enforced by the kernel and the
//     hypervisor. A second open of a held endpoint fails with
//     ErrEndpointBusy, distinct from ErrEndpointNotPresent, so callers
//     can reuse an existing connection instead of blindly retrying.
//
// The in-memory Pipe is for tests: a synchronous duplex pair whose
// writes block until the peer reads, which conveniently models a stuck
// channel for write-timeout tests.
package transport
