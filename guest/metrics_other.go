// Copyright 2026 The LimiQuantix Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package guest

import "github.com/limiquantix/limiquantix/wire"

// The agent targets Linux guests; on other platforms the collector
// reports only what the standard library can see.

func readCPUStats() *cpuReading { return nil }

func fillPlatformMetrics(report *wire.TelemetryReport) {}

func fillPlatformIdentity(event *wire.ReadyEvent) {}
