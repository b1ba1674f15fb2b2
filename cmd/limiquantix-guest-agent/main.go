// Copyright 2026 The LimiQuantix Authors
// SPDX-License-Identifier: Apache-2.0

// limiquantix-guest-agent runs inside a virtual machine and keeps a
// connection to the host over the virtio-serial agent channel: it
// announces the guest's identity, reports telemetry on an interval,
// and answers host requests. It reconnects forever; only SIGINT or
// SIGTERM stops it.
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

	"github.com/limiquantix/limiquantix/guest"
	"github.com/limiquantix/limiquantix/lib/clock"
	"github.com/limiquantix/limiquantix/lib/version"
)

// configEnvVar names the config file when --config is not given.
const configEnvVar = "LIMIQUANTIX_AGENT_CONFIG"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var devicePath string
	var telemetryInterval time.Duration
	var logLevel string
	var showVersion bool

	flags := pflag.NewFlagSet("limiquantix-guest-agent", pflag.ContinueOnError)
	flags.StringVar(&configPath, "config", "", "path to the agent config file (default $"+configEnvVar+")")
	flags.StringVar(&devicePath, "device", "", "agent channel device node (overrides the config file)")
	flags.DurationVar(&telemetryInterval, "telemetry-interval", 0, "telemetry reporting interval (overrides the config file)")
	flags.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, or error")
	flags.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Printf("limiquantix-guest-agent %s\n", version.Info())
		return nil
	}

	level, err := parseLevel(logLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if configPath == "" {
		configPath = os.Getenv(configEnvVar)
	}
	config := guest.DefaultConfig()
	if configPath != "" {
		config, err = guest.LoadConfig(configPath)
		if err != nil {
			return err
		}
		logger.Info("loaded configuration", "path", configPath)
	}
	if devicePath != "" {
		config.DevicePath = devicePath
	}
	if telemetryInterval > 0 {
		config.TelemetryInterval = telemetryInterval
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting limiquantix-guest-agent",
		"version", version.Info(),
		"device", config.DevicePath,
		"telemetry_interval", config.TelemetryInterval)

	supervisor := guest.NewSupervisor(config, logger, clock.Real())
	return supervisor.Run(ctx)
}

func parseLevel(name string) (slog.Level, error) {
	switch name {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", name)
	}
}
