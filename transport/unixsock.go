// Copyright 2026 The LimiQuantix Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"syscall"
)

// DialVMSocket connects to the host end of a VM's channel: the unix
// socket the hypervisor bound to the guest's virtio-serial port. The
// returned connection is poller-backed and deadline-capable, like all
// net.Conn values.
//
// Dial failures are classified: a missing socket file returns
// ErrEndpointNotPresent (the VM is not running or the channel is not
// provisioned); a socket that exists but refuses the connection
// returns ErrEndpointBusy, because the hypervisor accepts a single
// client on these sockets and a refusal on an existing path means
// another consumer holds it.
func DialVMSocket(ctx context.Context, path string) (net.Conn, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, classifyDialError(path, err)
	}
	return conn, nil
}

func classifyDialError(path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, syscall.ENOENT):
		return fmt.Errorf("dialing %s: %w", path, ErrEndpointNotPresent)
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.EAGAIN):
		if _, statErr := os.Stat(path); statErr == nil {
			return fmt.Errorf("dialing %s: %w", path, ErrEndpointBusy)
		}
		return fmt.Errorf("dialing %s: %w", path, ErrEndpointNotPresent)
	default:
		return fmt.Errorf("dialing %s: %w", path, err)
	}
}
