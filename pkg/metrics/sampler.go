package metrics

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/prism-community/workersup/pkg/clock"
)

// DefaultSamplePeriod and DefaultFirstSampleDelay match §4.4's fixed-period
// schedule: first sample at 1s, then every 5s thereafter.
const (
	DefaultSamplePeriod     = 5 * time.Second
	DefaultFirstSampleDelay = 1 * time.Second
)

// AliveFunc reports whether the process behind pid is still alive; the
// sampler never samples a dead process (§4.4 "sampling a dead process is a
// no-op").
type AliveFunc func(pid int) bool

type sample struct {
	pid             int
	startTime       time.Time
	lastHeartbeat   time.Time
	cpuTimeMillis   int64
	memoryBytes     int64
	peakMemoryBytes int64
}

// Sampler maintains per-worker sampling state and exposes on-demand
// snapshots, matching the "getMetrics performs a fresh synchronous sample"
// contract of §4.4.
type Sampler struct {
	mu       sync.Mutex
	samples  map[string]*sample
	reader   procReader
	clock    clock.Clock
	alive    AliveFunc
	exporter *PrometheusExporter

	stopCh chan struct{}
	doneCh chan struct{}
}

// SamplerOption configures a Sampler at construction.
type SamplerOption func(*Sampler)

// WithExporter wires a PrometheusExporter to receive every sampled Snapshot.
func WithExporter(e *PrometheusExporter) SamplerOption {
	return func(s *Sampler) { s.exporter = e }
}

// NewSampler constructs a Sampler. alive is used to skip sampling dead
// processes; clk lets tests drive the periodic loop deterministically.
func NewSampler(alive AliveFunc, clk clock.Clock, opts ...SamplerOption) *Sampler {
	s := &Sampler{
		samples: make(map[string]*sample),
		reader:  newProcReader(),
		clock:   clk,
		alive:   alive,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// StartMonitoring registers a worker for periodic sampling.
func (s *Sampler) StartMonitoring(workerID string, pid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	s.samples[workerID] = &sample{
		pid:           pid,
		startTime:     now,
		lastHeartbeat: now,
	}
}

// StopMonitoring removes a worker's sampling state.
func (s *Sampler) StopMonitoring(workerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.samples, workerID)
}

// UpdateHeartbeat records that a heartbeat was just received from workerID.
func (s *Sampler) UpdateHeartbeat(workerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sm, ok := s.samples[workerID]; ok {
		sm.lastHeartbeat = s.clock.Now()
	}
}

// LastHeartbeat returns the last recorded heartbeat instant for workerID.
func (s *Sampler) LastHeartbeat(workerID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sm, ok := s.samples[workerID]
	if !ok {
		return time.Time{}, false
	}
	return sm.lastHeartbeat, true
}

// GetMetrics performs a fresh synchronous sample (if the worker is alive)
// and returns a snapshot.
func (s *Sampler) GetMetrics(workerID string) (Snapshot, error) {
	s.collectOne(workerID)

	s.mu.Lock()
	defer s.mu.Unlock()
	sm, ok := s.samples[workerID]
	if !ok {
		return Snapshot{}, fmt.Errorf("metrics: worker %s not monitored", workerID)
	}
	return Snapshot{
		CPUTimeMillis:   sm.cpuTimeMillis,
		MemoryBytes:     sm.memoryBytes,
		PeakMemoryBytes: sm.peakMemoryBytes,
		ExecutionTime:   s.clock.Now().Sub(sm.startTime),
		LastHeartbeat:   sm.lastHeartbeat,
	}, nil
}

// SystemInfo returns a best-effort system-wide read-out.
func (s *Sampler) SystemInfo() SystemInfo {
	return s.reader.systemInfo()
}

// Run starts the periodic sampling loop in a background goroutine and
// returns at once; the loop runs until Stop is called. There is one loop per
// Sampler, shared across all workers (§4.4's "shared timer task"); a second
// call to Run is a no-op.
func (s *Sampler) Run() {
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.doneCh)
		select {
		case <-s.clock.After(DefaultFirstSampleDelay):
		case <-s.stopCh:
			return
		}
		s.collectAll()

		ticker := s.clock.NewTicker(DefaultSamplePeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C():
				s.collectAll()
			case <-s.stopCh:
				return
			}
		}
	}()
}

// Stop halts the periodic loop started by Run and blocks until it exits.
func (s *Sampler) Stop() {
	s.mu.Lock()
	stopCh := s.stopCh
	doneCh := s.doneCh
	s.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneCh
}

func (s *Sampler) collectAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.samples))
	for id := range s.samples {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.collectOne(id)
	}
}

func (s *Sampler) collectOne(workerID string) {
	s.mu.Lock()
	sm, ok := s.samples[workerID]
	s.mu.Unlock()
	if !ok {
		return
	}
	if s.alive != nil && !s.alive(sm.pid) {
		return
	}

	cpuMillis, cpuErr := s.reader.cpuTimeMillis(sm.pid)
	if cpuErr != nil {
		log.Printf("metrics: failed to sample cpu time for pid %d: %v", sm.pid, cpuErr)
	}
	memBytes, memErr := s.reader.residentMemoryBytes(sm.pid)
	if memErr != nil {
		log.Printf("metrics: failed to sample memory for pid %d: %v", sm.pid, memErr)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sm, ok = s.samples[workerID]
	if !ok {
		return
	}
	if cpuErr == nil {
		sm.cpuTimeMillis = cpuMillis
	}
	if memErr == nil && memBytes > 0 {
		sm.memoryBytes = memBytes
		if memBytes > sm.peakMemoryBytes {
			sm.peakMemoryBytes = memBytes
		}
	}

	if s.exporter != nil {
		now := s.clock.Now()
		s.exporter.Observe(workerID, Snapshot{
			CPUTimeMillis:   sm.cpuTimeMillis,
			MemoryBytes:     sm.memoryBytes,
			PeakMemoryBytes: sm.peakMemoryBytes,
			ExecutionTime:   now.Sub(sm.startTime),
			LastHeartbeat:   sm.lastHeartbeat,
		}, now)
	}
}
