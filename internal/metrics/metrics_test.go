package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

// promauto registers on the default registry, so the whole package shares
// one instance.
var testMetrics = New("mcpilot_test")

func TestObserveOperation(t *testing.T) {
	testMetrics.ObserveOperation("install", nil)
	testMetrics.ObserveOperation("install", nil)
	testMetrics.ObserveOperation("install", errors.New("boom"))

	ok := testutil.ToFloat64(testMetrics.OperationsTotal.WithLabelValues("install", "success"))
	if ok != 2 {
		t.Fatalf("success count = %v, want 2", ok)
	}
	failed := testutil.ToFloat64(testMetrics.OperationsTotal.WithLabelValues("install", "error"))
	if failed != 1 {
		t.Fatalf("error count = %v, want 1", failed)
	}
}

func TestObserveStep(t *testing.T) {
	testMetrics.ObserveStep("fetch", 250*time.Millisecond)

	n := testutil.CollectAndCount(testMetrics.StepDuration)
	if n != 1 {
		t.Fatalf("histogram series = %d, want 1", n)
	}
}

func TestObserveBackupSize(t *testing.T) {
	testMetrics.ObserveBackupSize(4096)

	var pb dto.Metric
	if err := testMetrics.BackupSizeBytes.Write(&pb); err != nil {
		t.Fatal(err)
	}
	if got := pb.GetHistogram().GetSampleSum(); got != 4096 {
		t.Fatalf("sample sum = %v, want 4096", got)
	}
}

func TestSetServersManaged(t *testing.T) {
	testMetrics.SetServersManaged(3)

	if got := testutil.ToFloat64(testMetrics.ServersManaged); got != 3 {
		t.Fatalf("servers_managed = %v, want 3", got)
	}
}

func TestNilReceiverIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveOperation("start", nil)
	m.ObserveStep("verify", time.Second)
	m.ObserveBackupSize(1024)
	m.SetServersManaged(1)
}
