// Copyright 2026 The LimiQuantix Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package guest

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/limiquantix/limiquantix/wire"
)

// readCPUStats parses the first line of /proc/stat and returns the
// cumulative busy and idle jiffies. The aggregate line is:
//
//	cpu  user nice system idle iowait irq softirq steal guest guest_nice
//
// busy = user + nice + system + irq + softirq + steal
// idle = idle + iowait
//
// guest and guest_nice are already counted inside user/nice by the
// kernel, so they are not added again. Returns nil on any parse
// failure; the caller reports 0% for a missing reading.
func readCPUStats() *cpuReading {
	return readCPUStatsFrom("/proc/stat")
}

func readCPUStatsFrom(path string) *cpuReading {
	file, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	if !scanner.Scan() {
		return nil
	}

	fields := strings.Fields(scanner.Text())
	if len(fields) < 9 || fields[0] != "cpu" {
		return nil
	}

	values := make([]uint64, len(fields)-1)
	for i := 1; i < len(fields); i++ {
		parsed, err := strconv.ParseUint(fields[i], 10, 64)
		if err != nil {
			return nil
		}
		values[i-1] = parsed
	}

	// Fields after stripping "cpu":
	//   0=user, 1=nice, 2=system, 3=idle, 4=iowait,
	//   5=irq, 6=softirq, 7=steal
	return &cpuReading{
		busy: values[0] + values[1] + values[2] + values[5] + values[6] + values[7],
		idle: values[3] + values[4],
	}
}

// fillPlatformMetrics adds memory, uptime, load averages, and disk
// usage to the report. Every reading is best effort; a failed syscall
// leaves its fields zero.
func fillPlatformMetrics(report *wire.TelemetryReport) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err == nil {
		unit := uint64(info.Unit)
		total := uint64(info.Totalram) * unit
		free := uint64(info.Freeram) * unit
		report.MemoryTotal = total
		if total >= free {
			report.MemoryUsed = total - free
		}
		report.UptimeSeconds = uint64(info.Uptime)

		// Sysinfo load averages are fixed point with 16 fractional
		// bits.
		const loadScale = 1 << 16
		report.LoadAvg1 = float64(info.Loads[0]) / loadScale
		report.LoadAvg5 = float64(info.Loads[1]) / loadScale
		report.LoadAvg15 = float64(info.Loads[2]) / loadScale
	}

	report.Disks = collectDisks("/proc/mounts")
}

// physicalFilesystems are the mount types worth reporting. Everything
// else in /proc/mounts is a virtual filesystem (proc, sysfs, cgroup,
// tmpfs and friends) whose usage numbers are noise.
var physicalFilesystems = map[string]bool{
	"ext2": true, "ext3": true, "ext4": true,
	"xfs": true, "btrfs": true, "zfs": true,
	"f2fs": true, "vfat": true, "ntfs": true,
}

// collectDisks reads the mount table and reports usage for each
// physical filesystem. Duplicate devices (bind mounts, btrfs
// subvolumes) are reported once, for the first mount point seen.
func collectDisks(mountsPath string) []wire.DiskUsage {
	file, err := os.Open(mountsPath)
	if err != nil {
		return nil
	}
	defer file.Close()

	seen := make(map[string]bool)
	var disks []wire.DiskUsage

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		device, mountPoint, fsType := fields[0], fields[1], fields[2]
		if !physicalFilesystems[fsType] || seen[device] {
			continue
		}
		seen[device] = true

		var stat unix.Statfs_t
		if err := unix.Statfs(mountPoint, &stat); err != nil {
			continue
		}
		blockSize := uint64(stat.Bsize)
		total := stat.Blocks * blockSize
		if total == 0 {
			continue
		}
		disks = append(disks, wire.DiskUsage{
			MountPoint: mountPoint,
			Device:     device,
			Filesystem: fsType,
			TotalBytes: total,
			UsedBytes:  total - stat.Bfree*blockSize,
		})
	}
	return disks
}

// fillPlatformIdentity adds OS release and kernel information to the
// ready announcement.
func fillPlatformIdentity(event *wire.ReadyEvent) {
	name, version := readOSRelease("/etc/os-release")
	event.OSName = name
	event.OSVersion = version

	var uname unix.Utsname
	if err := unix.Uname(&uname); err == nil {
		event.KernelVersion = unix.ByteSliceToString(uname.Release[:])
	}
}

// readOSRelease extracts NAME and VERSION_ID from an os-release file.
// os-release values may be double-quoted.
func readOSRelease(path string) (name, version string) {
	file, err := os.Open(path)
	if err != nil {
		return "", ""
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		value = strings.Trim(value, `"`)
		switch key {
		case "NAME":
			name = value
		case "VERSION_ID":
			version = value
		}
	}
	return name, version
}
