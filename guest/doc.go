// Copyright 2026 The LimiQuantix Authors
// SPDX-License-Identifier: Apache-2.0

// Package guest implements the in-VM supervisor loop: open the
// virtio-serial channel, announce readiness, then run a telemetry
// sender and a request receiver concurrently over the one transport
// until either fails, and reconnect with exponential backoff.
//
// The two active tasks are raced: whichever finishes first, in success
// or failure, cancels the other and ends the session, so no task ever
// keeps using a transport its sibling has already found unusable. A
// write timeout is always session-fatal, even on the first failure,
// because the abandoned write may have left a partial frame on the
// wire; the consecutive-failure threshold applies only to writes that
// fail outright.
//
// The supervisor never exits on connection trouble. The only terminal
// stop is context cancellation, checked at loop boundaries.
package guest
