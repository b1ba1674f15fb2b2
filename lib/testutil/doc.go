// Copyright 2026 The LimiQuantix Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides small helpers shared by tests across the
// repository: channel operations with timeout safety valves, so that
// a broken component fails a test with a message instead of hanging
// until the package-level test timeout.
package testutil
