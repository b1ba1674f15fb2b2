// Copyright 2026 The LimiQuantix Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// DefaultDevicePaths are the virtio-serial device nodes where the
// guest channel appears, in probe order. The named virtio-ports entry
// is created by udev from the channel name in the VM definition; the
// raw vport nodes cover guests without the udev rule.
var DefaultDevicePaths = []string{
	"/dev/virtio-ports/org.limiquantix.agent.0",
	"/dev/vport0p1",
	"/dev/vport1p1",
}

// CharDevice is the guest end of the channel: a virtio-serial port
// opened non-blocking so reads and writes go through the runtime
// poller (readiness-based I/O) instead of blocking an OS thread.
type CharDevice struct {
	file *os.File
	path string
}

// OpenCharDevice opens the virtio-serial device at path. The device is
// placed in non-blocking mode before being handed to os.NewFile, which
// registers it with the runtime poller.
//
// Open failures are classified: a missing or unbound device node
// returns ErrEndpointNotPresent (the host side is not wired up yet,
// retryable); a device already opened by another process returns
// ErrEndpointBusy (virtio-serial ports are single-open, kernel
// enforced).
func OpenCharDevice(path string) (*CharDevice, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_NOCTTY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, classifyOpenError(path, err)
	}
	return &CharDevice{
		file: os.NewFile(uintptr(fd), path),
		path: path,
	}, nil
}

func classifyOpenError(path string, err error) error {
	switch {
	case errors.Is(err, unix.ENOENT), errors.Is(err, unix.ENXIO), errors.Is(err, unix.ENODEV):
		return fmt.Errorf("opening %s (%v): %w", path, err, ErrEndpointNotPresent)
	case errors.Is(err, unix.EBUSY):
		return fmt.Errorf("opening %s: %w", path, ErrEndpointBusy)
	default:
		return fmt.Errorf("opening %s: %w", path, err)
	}
}

// Path returns the device node this transport was opened from.
func (d *CharDevice) Path() string { return d.path }

func (d *CharDevice) Read(buf []byte) (int, error) { return d.file.Read(buf) }

func (d *CharDevice) Write(buf []byte) (int, error) { return d.file.Write(buf) }

// Close releases the device. Any read or write blocked in the poller
// is unblocked with an error.
func (d *CharDevice) Close() error { return d.file.Close() }
