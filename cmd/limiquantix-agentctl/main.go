// Copyright 2026 The LimiQuantix Authors
// SPDX-License-Identifier: Apache-2.0

// limiquantix-agentctl is a host-side diagnostic for guest agent
// channels. It resolves a VM's endpoint the same way the platform
// does, so it reproduces discovery and connectivity problems exactly.
//
// Subcommands:
//
//	ping <vm-id>     round-trip a liveness probe
//	status <vm-id>   connect and print the guest's identity announcement
//	watch <vm-id>    stream telemetry reports until interrupted
//
// The VM's channel is single-consumer: running agentctl against a VM
// that the platform is already connected to fails with a busy error
// rather than stealing the channel.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/limiquantix/limiquantix/host"
	"github.com/limiquantix/limiquantix/lib/clock"
	"github.com/limiquantix/limiquantix/lib/version"
	"github.com/limiquantix/limiquantix/wire"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: limiquantix-agentctl [flags] <command> <vm-id>

commands:
  ping      round-trip a liveness probe
  status    connect and print the guest's identity announcement
  watch     stream telemetry reports until interrupted

flags:
      --socket-dir string   channel socket directory (default %s)
      --timeout duration    per-request timeout (default 10s)
      --verbose             log at debug level
      --version             print version information and exit
`, host.DefaultSocketDir)
}

func run() error {
	var socketDir string
	var timeout time.Duration
	var verbose bool
	var showVersion bool

	flags := pflag.NewFlagSet("limiquantix-agentctl", pflag.ContinueOnError)
	flags.StringVar(&socketDir, "socket-dir", host.DefaultSocketDir, "channel socket directory")
	flags.DurationVar(&timeout, "timeout", 10*time.Second, "per-request timeout")
	flags.BoolVar(&verbose, "verbose", false, "log at debug level")
	flags.BoolVar(&showVersion, "version", false, "print version information and exit")
	flags.Usage = usage
	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Printf("limiquantix-agentctl %s\n", version.Info())
		return nil
	}

	args := flags.Args()
	if len(args) != 2 {
		usage()
		return fmt.Errorf("expected a command and a vm id")
	}
	command, vmID := args[0], args[1]

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	resolver := &host.PathResolver{BaseDir: socketDir}
	manager := host.NewManager(resolver, logger, clock.Real())
	defer manager.Close()

	switch command {
	case "ping":
		return ping(ctx, manager, vmID, timeout)
	case "status":
		return status(ctx, manager, vmID, timeout)
	case "watch":
		return watch(ctx, manager, vmID)
	default:
		usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func ping(ctx context.Context, manager *host.Manager, vmID string, timeout time.Duration) error {
	start := time.Now()
	if err := manager.Ping(ctx, vmID, 1, timeout); err != nil {
		return err
	}
	fmt.Printf("pong from %s in %v\n", vmID, time.Since(start).Round(time.Millisecond))
	return nil
}

// status connects and waits for the guest's ready announcement, which
// the agent sends as its first message on every connection.
func status(ctx context.Context, manager *host.Manager, vmID string, timeout time.Duration) error {
	readyCh, cancel, err := manager.SubscribeReady(vmID)
	if err != nil {
		return err
	}
	defer cancel()
	if err := manager.Connect(ctx, vmID); err != nil {
		return err
	}

	select {
	case ready := <-readyCh:
		printReady(vmID, ready)
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("no ready announcement from %s within %v", vmID, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func printReady(vmID string, ready wire.ReadyEvent) {
	fmt.Printf("vm:           %s\n", vmID)
	fmt.Printf("agent:        %s\n", ready.Version)
	fmt.Printf("hostname:     %s\n", ready.Hostname)
	if ready.OSName != "" {
		fmt.Printf("os:           %s %s\n", ready.OSName, ready.OSVersion)
	}
	if ready.KernelVersion != "" {
		fmt.Printf("kernel:       %s\n", ready.KernelVersion)
	}
	if ready.Architecture != "" {
		fmt.Printf("architecture: %s\n", ready.Architecture)
	}
	if len(ready.IPAddresses) > 0 {
		fmt.Printf("addresses:    %v\n", ready.IPAddresses)
	}
	if len(ready.Capabilities) > 0 {
		fmt.Printf("capabilities: %v\n", ready.Capabilities)
	}
}

func watch(ctx context.Context, manager *host.Manager, vmID string) error {
	telemetryCh, cancel, err := manager.SubscribeTelemetry(vmID)
	if err != nil {
		return err
	}
	defer cancel()
	if err := manager.Connect(ctx, vmID); err != nil {
		return err
	}

	for {
		select {
		case report, open := <-telemetryCh:
			if !open {
				return nil
			}
			fmt.Printf("%s cpu=%.1f%% mem=%d/%dMiB load=%.2f uptime=%ds\n",
				report.Hostname,
				report.CPUUsagePercent,
				report.MemoryUsed/(1<<20),
				report.MemoryTotal/(1<<20),
				report.LoadAvg1,
				report.UptimeSeconds)
		case <-ctx.Done():
			return nil
		}
	}
}
