// Package health collects host metrics for the status surfaces.
package health

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// Metrics is a point-in-time snapshot of the host.
type Metrics struct {
	CPUUsage      float64 `json:"cpu_usage"`
	MemoryUsage   float64 `json:"memory_usage"`
	UptimeSeconds int64   `json:"uptime_seconds"`

	// Disk figures come from the filesystem holding the install root, which
	// is where installs and backups compete for space.
	DiskUsage      float64 `json:"disk_usage"`
	DiskFreeBytes  int64   `json:"disk_free_bytes"`
	DiskTotalBytes int64   `json:"disk_total_bytes"`
}

// Collector gathers host metrics.
type Collector struct {
	startTime time.Time
	diskPath  string
}

// NewCollector creates a Collector. diskPath is the directory whose
// filesystem is measured for free space, typically the install root.
func NewCollector(diskPath string) *Collector {
	return &Collector{
		startTime: time.Now(),
		diskPath:  diskPath,
	}
}

// Collect gathers a snapshot. Probes that fail leave their fields zero
// rather than failing the whole snapshot.
func (c *Collector) Collect(ctx context.Context) *Metrics {
	m := &Metrics{
		UptimeSeconds: int64(time.Since(c.startTime).Seconds()),
	}

	// Interval zero reports usage since the previous call, which keeps
	// callers from blocking on a sampling window.
	cpuPercent, err := cpu.PercentWithContext(ctx, 0, false)
	if err == nil && len(cpuPercent) > 0 {
		m.CPUUsage = cpuPercent[0]
	}

	memStat, err := mem.VirtualMemoryWithContext(ctx)
	if err == nil {
		m.MemoryUsage = memStat.UsedPercent
	}

	diskStat, err := disk.UsageWithContext(ctx, c.diskPath)
	if err == nil {
		m.DiskUsage = diskStat.UsedPercent
		m.DiskFreeBytes = int64(diskStat.Free)
		m.DiskTotalBytes = int64(diskStat.Total)
	}

	return m
}
