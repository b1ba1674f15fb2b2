// Copyright 2026 The LimiQuantix Authors
// SPDX-License-Identifier: Apache-2.0

package guest

import (
	"net"
	"os"
	"runtime"
	"sync"

	"github.com/limiquantix/limiquantix/lib/version"
	"github.com/limiquantix/limiquantix/wire"
)

// Collector gathers the guest's identity and resource telemetry. CPU
// utilization is computed from the delta between consecutive readings,
// so the collector keeps the previous reading across Collect calls.
// Safe for concurrent use, though in practice only the sender calls it.
type Collector struct {
	mu          sync.Mutex
	previousCPU *cpuReading
}

// NewCollector returns a Collector with no CPU baseline yet; the first
// Collect reports 0% CPU and establishes the baseline.
func NewCollector() *Collector {
	return &Collector{}
}

// Collect builds one telemetry report from the live system.
func (c *Collector) Collect() wire.TelemetryReport {
	hostname, _ := os.Hostname()
	report := wire.TelemetryReport{
		Hostname:   hostname,
		Interfaces: collectInterfaces(),
	}

	c.mu.Lock()
	current := readCPUStats()
	report.CPUUsagePercent = cpuPercent(c.previousCPU, current)
	c.previousCPU = current
	c.mu.Unlock()

	fillPlatformMetrics(&report)
	return report
}

// Identity builds the ready announcement body: who this guest is and
// what the agent can do.
func (c *Collector) Identity() wire.ReadyEvent {
	hostname, _ := os.Hostname()
	event := wire.ReadyEvent{
		Version:      version.Short(),
		Architecture: runtime.GOARCH,
		Hostname:     hostname,
		Capabilities: []string{"telemetry", "ping"},
	}
	for _, iface := range collectInterfaces() {
		event.IPAddresses = append(event.IPAddresses, iface.IPAddresses...)
	}
	fillPlatformIdentity(&event)
	return event
}

// cpuReading captures cumulative busy and idle CPU time for delta
// computation between telemetry intervals.
type cpuReading struct {
	busy uint64
	idle uint64
}

// cpuPercent computes utilization from two sequential readings.
// Returns 0 when either reading is missing or no time has passed.
func cpuPercent(previous, current *cpuReading) float64 {
	if previous == nil || current == nil {
		return 0
	}
	busyDelta := current.busy - previous.busy
	idleDelta := current.idle - previous.idle
	totalDelta := busyDelta + idleDelta
	if totalDelta == 0 {
		return 0
	}
	return float64(busyDelta) / float64(totalDelta) * 100
}

// collectInterfaces lists non-loopback interfaces that are up, with
// their addresses. Errors yield an empty list; telemetry is best
// effort.
func collectInterfaces() []wire.NetworkInterface {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil
	}

	var result []wire.NetworkInterface
	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		entry := wire.NetworkInterface{
			Name:       iface.Name,
			MACAddress: iface.HardwareAddr.String(),
		}
		addrs, err := iface.Addrs()
		if err == nil {
			for _, addr := range addrs {
				if ipNet, ok := addr.(*net.IPNet); ok && ipNet.IP.To4() != nil {
					entry.IPAddresses = append(entry.IPAddresses, ipNet.IP.String())
				}
			}
		}
		result = append(result, entry)
	}
	return result
}
