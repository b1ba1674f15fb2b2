// Copyright 2026 The LimiQuantix Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"testing"
)

func TestDialVMSocketConnects(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "vm-1.agent.sock")
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("listening: %v", err)
	}
	defer listener.Close()

	accepted := make(chan struct{})
	go func() {
		conn, err := listener.Accept()
		if err == nil {
			conn.Close()
		}
		close(accepted)
	}()

	conn, err := DialVMSocket(context.Background(), socketPath)
	if err != nil {
		t.Fatalf("DialVMSocket: %v", err)
	}
	conn.Close()
	<-accepted
}

func TestDialVMSocketMissingEndpoint(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "absent.agent.sock")
	_, err := DialVMSocket(context.Background(), socketPath)
	if !errors.Is(err, ErrEndpointNotPresent) {
		t.Fatalf("DialVMSocket error = %v, want ErrEndpointNotPresent", err)
	}
}

func TestDialVMSocketRefusedMeansBusy(t *testing.T) {
	// A socket file with no listener behind it refuses connections.
	// The path exists, so the failure is classified as busy rather
	// than not-present.
	socketPath := filepath.Join(t.TempDir(), "vm-1.agent.sock")
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("listening: %v", err)
	}
	// Close the listener but leave the socket file behind.
	if unixListener, ok := listener.(*net.UnixListener); ok {
		unixListener.SetUnlinkOnClose(false)
	}
	listener.Close()

	_, err = DialVMSocket(context.Background(), socketPath)
	if !errors.Is(err, ErrEndpointBusy) {
		t.Fatalf("DialVMSocket error = %v, want ErrEndpointBusy", err)
	}
}

func TestPipeCarriesBytesBothWays(t *testing.T) {
	a, b := Pipe()
	defer a.Close()
	defer b.Close()

	go func() {
		a.Write([]byte("ping"))
	}()
	buf := make([]byte, 4)
	if _, err := b.Read(buf); err != nil {
		t.Fatalf("reading: %v", err)
	}
	if string(buf) != "ping" {
		t.Fatalf("read %q, want %q", buf, "ping")
	}

	go func() {
		b.Write([]byte("pong"))
	}()
	if _, err := a.Read(buf); err != nil {
		t.Fatalf("reading: %v", err)
	}
	if string(buf) != "pong" {
		t.Fatalf("read %q, want %q", buf, "pong")
	}
}
