// Copyright 2026 The LimiQuantix Authors
// SPDX-License-Identifier: Apache-2.0

// Package host manages the hypervisor side of guest agent channels:
// one Session per VM, found by endpoint discovery, connected at most
// once, and multiplexed between request/response callers and push
// event subscribers.
//
// The channel endpoints are single-consumer, so the manager's central
// job is making sure independent callers never race to open the same
// one: Connect reuses a live session, SendRequest rides the existing
// connection, and CachedStatus answers from the dispatch loop's cache
// without ever dialing.
package host
