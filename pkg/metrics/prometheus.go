package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusExporter mirrors the per-worker Snapshot values as Prometheus
// gauges and counters, following the teacher's metrics-collector shape: a
// dedicated registry the host mounts behind its own HTTP handler.
type PrometheusExporter struct {
	cpuTimeMillis    *prometheus.GaugeVec
	memoryBytes      *prometheus.GaugeVec
	peakMemoryBytes  *prometheus.GaugeVec
	heartbeatAgeSecs *prometheus.GaugeVec
	stateTransitions *prometheus.CounterVec
	logDrops         *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewPrometheusExporter creates an exporter registered under namespace
// ("workersup" if empty).
func NewPrometheusExporter(namespace string) *PrometheusExporter {
	if namespace == "" {
		namespace = "workersup"
	}

	e := &PrometheusExporter{registry: prometheus.NewRegistry()}

	e.cpuTimeMillis = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "worker_cpu_time_milliseconds",
		Help:      "Cumulative CPU time consumed by the worker process.",
	}, []string{"worker_id"})

	e.memoryBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "worker_resident_memory_bytes",
		Help:      "Current resident memory of the worker process.",
	}, []string{"worker_id"})

	e.peakMemoryBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "worker_peak_resident_memory_bytes",
		Help:      "Peak observed resident memory of the worker process.",
	}, []string{"worker_id"})

	e.heartbeatAgeSecs = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "worker_heartbeat_age_seconds",
		Help:      "Seconds since the last heartbeat received from the worker.",
	}, []string{"worker_id"})

	e.stateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "worker_state_transitions_total",
		Help:      "Total number of worker lifecycle state transitions.",
	}, []string{"worker_id", "from_state", "to_state"})

	e.logDrops = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "worker_log_queue_drops_total",
		Help:      "Total number of log records evicted due to queue overflow.",
	}, []string{"worker_id"})

	e.registry.MustRegister(
		e.cpuTimeMillis,
		e.memoryBytes,
		e.peakMemoryBytes,
		e.heartbeatAgeSecs,
		e.stateTransitions,
		e.logDrops,
	)

	return e
}

// Observe records a fresh Snapshot for workerID, as of now (the heartbeat
// age gauge is derived from now - snap.LastHeartbeat, not execution time).
func (e *PrometheusExporter) Observe(workerID string, snap Snapshot, now time.Time) {
	e.cpuTimeMillis.WithLabelValues(workerID).Set(float64(snap.CPUTimeMillis))
	e.memoryBytes.WithLabelValues(workerID).Set(float64(snap.MemoryBytes))
	e.peakMemoryBytes.WithLabelValues(workerID).Set(float64(snap.PeakMemoryBytes))
	e.heartbeatAgeSecs.WithLabelValues(workerID).Set(now.Sub(snap.LastHeartbeat).Seconds())
}

// RecordStateTransition increments the transition counter for workerID.
func (e *PrometheusExporter) RecordStateTransition(workerID, fromState, toState string) {
	e.stateTransitions.WithLabelValues(workerID, fromState, toState).Inc()
}

// RecordLogDrop increments the log-queue overflow counter for workerID.
func (e *PrometheusExporter) RecordLogDrop(workerID string) {
	e.logDrops.WithLabelValues(workerID).Inc()
}

// Registry returns the Prometheus registry for HTTP handler setup.
func (e *PrometheusExporter) Registry() *prometheus.Registry {
	return e.registry
}
