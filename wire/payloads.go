// Copyright 2026 The LimiQuantix Authors
// SPDX-License-Identifier: Apache-2.0

package wire

// ReadyEvent is the body of a KindReady message: the guest's identity
// and capability announcement, sent once per connection before
// anything else.
type ReadyEvent struct {
	Version       string   `cbor:"version"`
	OSName        string   `cbor:"os_name,omitempty"`
	OSVersion     string   `cbor:"os_version,omitempty"`
	KernelVersion string   `cbor:"kernel_version,omitempty"`
	Architecture  string   `cbor:"architecture,omitempty"`
	Hostname      string   `cbor:"hostname,omitempty"`
	IPAddresses   []string `cbor:"ip_addresses,omitempty"`
	Capabilities  []string `cbor:"capabilities,omitempty"`
}

// TelemetryReport is the body of a KindTelemetry message: the periodic
// guest resource snapshot.
type TelemetryReport struct {
	Hostname        string  `cbor:"hostname,omitempty"`
	UptimeSeconds   uint64  `cbor:"uptime_seconds,omitempty"`
	CPUUsagePercent float64 `cbor:"cpu_usage_percent,omitempty"`
	MemoryTotal     uint64  `cbor:"memory_total_bytes,omitempty"`
	MemoryUsed      uint64  `cbor:"memory_used_bytes,omitempty"`
	LoadAvg1        float64 `cbor:"load_avg_1,omitempty"`
	LoadAvg5        float64 `cbor:"load_avg_5,omitempty"`
	LoadAvg15       float64 `cbor:"load_avg_15,omitempty"`

	Interfaces []NetworkInterface `cbor:"interfaces,omitempty"`
	Disks      []DiskUsage        `cbor:"disks,omitempty"`
}

// NetworkInterface describes one guest interface in a telemetry
// report.
type NetworkInterface struct {
	Name        string   `cbor:"name"`
	MACAddress  string   `cbor:"mac_address,omitempty"`
	IPAddresses []string `cbor:"ip_addresses,omitempty"`
}

// DiskUsage describes one mounted filesystem in a telemetry report.
type DiskUsage struct {
	MountPoint string `cbor:"mount_point"`
	Device     string `cbor:"device,omitempty"`
	Filesystem string `cbor:"filesystem,omitempty"`
	TotalBytes uint64 `cbor:"total_bytes"`
	UsedBytes  uint64 `cbor:"used_bytes"`
}

// Ping is the body of a KindPing message.
type Ping struct {
	Sequence uint64 `cbor:"sequence"`
}

// Pong is the body of a KindPong message, echoing the ping's sequence.
type Pong struct {
	Sequence uint64 `cbor:"sequence"`
}

// ErrorEvent is the body of a KindError message: a failure report for
// a request the guest could not handle.
type ErrorEvent struct {
	Code    string `cbor:"code,omitempty"`
	Message string `cbor:"message"`
}
