package health

import (
	"context"
	"testing"
)

func TestCollectReportsDiskForPath(t *testing.T) {
	c := NewCollector(t.TempDir())
	m := c.Collect(context.Background())

	if m.DiskTotalBytes <= 0 {
		t.Fatalf("DiskTotalBytes = %d, want > 0", m.DiskTotalBytes)
	}
	if m.DiskUsage < 0 || m.DiskUsage > 100 {
		t.Fatalf("DiskUsage = %f, want 0..100", m.DiskUsage)
	}
	if m.UptimeSeconds < 0 {
		t.Fatalf("UptimeSeconds = %d, want >= 0", m.UptimeSeconds)
	}
}

func TestCollectSurvivesBadDiskPath(t *testing.T) {
	c := NewCollector("/does/not/exist")
	m := c.Collect(context.Background())

	if m == nil {
		t.Fatal("Collect returned nil")
	}
	if m.DiskTotalBytes != 0 {
		t.Fatalf("DiskTotalBytes = %d, want 0 for missing path", m.DiskTotalBytes)
	}
}
