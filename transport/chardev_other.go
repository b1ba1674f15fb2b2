// Copyright 2026 The LimiQuantix Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package transport

import (
	"fmt"
	"runtime"
)

// DefaultDevicePaths is empty off Linux; the guest agent only ships
// for Linux guests today.
var DefaultDevicePaths []string

// CharDevice is unavailable off Linux.
type CharDevice struct{}

// OpenCharDevice always fails off Linux.
func OpenCharDevice(path string) (*CharDevice, error) {
	return nil, fmt.Errorf("virtio-serial transport unsupported on %s: %w", runtime.GOOS, ErrEndpointNotPresent)
}

func (d *CharDevice) Path() string { return "" }

func (d *CharDevice) Read(buf []byte) (int, error) { return 0, ErrConnectionLost }

func (d *CharDevice) Write(buf []byte) (int, error) { return 0, ErrConnectionLost }

func (d *CharDevice) Close() error { return nil }
