package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusExporterObserve(t *testing.T) {
	e := NewPrometheusExporter("test")
	now := time.Unix(1000, 0)
	snap := Snapshot{
		CPUTimeMillis:   1500,
		MemoryBytes:     2048,
		PeakMemoryBytes: 4096,
		LastHeartbeat:   now.Add(-5 * time.Second),
	}

	e.Observe("worker-1", snap, now)

	expected := `
		# HELP test_worker_heartbeat_age_seconds Seconds since the last heartbeat received from the worker.
		# TYPE test_worker_heartbeat_age_seconds gauge
		test_worker_heartbeat_age_seconds{worker_id="worker-1"} 5
	`
	err := testutil.GatherAndCompare(e.registry, strings.NewReader(expected), "test_worker_heartbeat_age_seconds")
	assert.NoError(t, err)

	count, err := testutil.GatherAndCount(e.registry, "test_worker_resident_memory_bytes")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPrometheusExporterStateTransitions(t *testing.T) {
	e := NewPrometheusExporter("test")

	e.RecordStateTransition("worker-1", "STARTING", "RUNNING")
	e.RecordStateTransition("worker-1", "RUNNING", "UNRESPONSIVE")

	expected := `
		# HELP test_worker_state_transitions_total Total number of worker lifecycle state transitions.
		# TYPE test_worker_state_transitions_total counter
		test_worker_state_transitions_total{from_state="STARTING",to_state="RUNNING",worker_id="worker-1"} 1
		test_worker_state_transitions_total{from_state="RUNNING",to_state="UNRESPONSIVE",worker_id="worker-1"} 1
	`
	err := testutil.GatherAndCompare(e.registry, strings.NewReader(expected), "test_worker_state_transitions_total")
	assert.NoError(t, err)
}

func TestPrometheusExporterLogDrops(t *testing.T) {
	e := NewPrometheusExporter("test")

	e.RecordLogDrop("worker-1")
	e.RecordLogDrop("worker-1")

	count, err := testutil.GatherAndCount(e.registry, "test_worker_log_queue_drops_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
