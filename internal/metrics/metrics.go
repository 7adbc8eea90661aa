// Package metrics exposes Prometheus counters and histograms for lifecycle
// operations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the instrument set shared by the orchestrator and executor.
type Metrics struct {
	OperationsTotal *prometheus.CounterVec
	StepDuration    *prometheus.HistogramVec
	BackupSizeBytes prometheus.Histogram
	ServersManaged  prometheus.Gauge
	EventsDropped   prometheus.Counter
}

// New registers the instrument set on the default registry.
func New(namespace string) *Metrics {
	return &Metrics{
		OperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Lifecycle operations by name and outcome",
			},
			[]string{"operation", "outcome"},
		),
		StepDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Plan step duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 600},
			},
			[]string{"step_type"},
		),
		BackupSizeBytes: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "backup_size_bytes",
				Help:      "Completed backup sizes",
				Buckets:   prometheus.ExponentialBuckets(1024, 8, 8),
			},
		),
		ServersManaged: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "servers_managed",
				Help:      "Number of registered servers",
			},
		),
		EventsDropped: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_dropped_total",
				Help:      "Progress events shed under back-pressure",
			},
		),
	}
}

// ObserveOperation records one finished operation.
func (m *Metrics) ObserveOperation(operation string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.OperationsTotal.WithLabelValues(operation, outcome).Inc()
}

// ObserveStep records one finished plan step.
func (m *Metrics) ObserveStep(stepType string, d time.Duration) {
	if m == nil {
		return
	}
	m.StepDuration.WithLabelValues(stepType).Observe(d.Seconds())
}

// ObserveBackupSize records a completed backup's byte size.
func (m *Metrics) ObserveBackupSize(size int64) {
	if m == nil {
		return
	}
	m.BackupSizeBytes.Observe(float64(size))
}

// SetServersManaged tracks the current registry size.
func (m *Metrics) SetServersManaged(n int) {
	if m == nil {
		return
	}
	m.ServersManaged.Set(float64(n))
}
