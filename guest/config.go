// Copyright 2026 The LimiQuantix Authors
// SPDX-License-Identifier: Apache-2.0

package guest

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/limiquantix/limiquantix/wire"
)

// Config controls the supervisor's timing and limits.
type Config struct {
	// DevicePath is the virtio-serial device node. Empty or "auto"
	// probes the well-known paths in transport.DefaultDevicePaths.
	DevicePath string

	// TelemetryInterval is how often the sender reports telemetry.
	TelemetryInterval time.Duration

	// WriteTimeout bounds every outbound write while active. A write
	// exceeding it is session-fatal.
	WriteTimeout time.Duration

	// ReadyTimeout bounds the ready announcement write after connect.
	ReadyTimeout time.Duration

	// MaxWriteFailures is the number of consecutive failed (not timed
	// out) telemetry writes tolerated before the session ends.
	MaxWriteFailures int

	// ReconnectInitial and ReconnectMax bound the exponential backoff
	// between connection attempts.
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration

	// ScanWindow bounds the frame reader's resync scan, in bytes.
	ScanWindow int
}

// DefaultConfig returns the supervisor defaults.
func DefaultConfig() Config {
	return Config{
		DevicePath:        "auto",
		TelemetryInterval: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		ReadyTimeout:      10 * time.Second,
		MaxWriteFailures:  3,
		ReconnectInitial:  time.Second,
		ReconnectMax:      30 * time.Second,
		ScanWindow:        wire.DefaultScanWindow,
	}
}

// fileConfig is the YAML schema of the agent config file. Intervals
// are plain seconds so hand-written files stay simple.
type fileConfig struct {
	DevicePath               string `yaml:"device_path"`
	TelemetryIntervalSeconds int    `yaml:"telemetry_interval_seconds"`
	WriteTimeoutSeconds      int    `yaml:"write_timeout_seconds"`
	ReadyTimeoutSeconds      int    `yaml:"ready_timeout_seconds"`
	MaxWriteFailures         int    `yaml:"max_write_failures"`
	ReconnectInitialSeconds  int    `yaml:"reconnect_initial_seconds"`
	ReconnectMaxSeconds      int    `yaml:"reconnect_max_seconds"`
	ResyncScanWindowBytes    int    `yaml:"resync_scan_window_bytes"`
}

// LoadConfig reads a YAML config file and overlays it on the defaults.
// Zero-valued fields in the file keep their defaults.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("reading config %s: %w", path, err)
	}

	var file fileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return config, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if file.DevicePath != "" {
		config.DevicePath = file.DevicePath
	}
	if file.TelemetryIntervalSeconds > 0 {
		config.TelemetryInterval = time.Duration(file.TelemetryIntervalSeconds) * time.Second
	}
	if file.WriteTimeoutSeconds > 0 {
		config.WriteTimeout = time.Duration(file.WriteTimeoutSeconds) * time.Second
	}
	if file.ReadyTimeoutSeconds > 0 {
		config.ReadyTimeout = time.Duration(file.ReadyTimeoutSeconds) * time.Second
	}
	if file.MaxWriteFailures > 0 {
		config.MaxWriteFailures = file.MaxWriteFailures
	}
	if file.ReconnectInitialSeconds > 0 {
		config.ReconnectInitial = time.Duration(file.ReconnectInitialSeconds) * time.Second
	}
	if file.ReconnectMaxSeconds > 0 {
		config.ReconnectMax = time.Duration(file.ReconnectMaxSeconds) * time.Second
	}
	if file.ResyncScanWindowBytes > 0 {
		config.ScanWindow = file.ResyncScanWindowBytes
	}
	return config, nil
}
