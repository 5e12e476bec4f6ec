// Package metrics samples per-worker CPU time, resident memory, and
// wall-clock age on a fixed period, and exposes best-effort system-wide
// read-outs (§4.4).
package metrics

import "time"

// Snapshot is the metrics tuple of §3 for one worker at one instant.
type Snapshot struct {
	CPUTimeMillis   int64
	MemoryBytes     int64
	PeakMemoryBytes int64
	ExecutionTime   time.Duration
	LastHeartbeat   time.Time
}

// SystemInfo is a best-effort, platform-dependent system-wide read-out.
// Fields that could not be determined are left at zero (memory) or -1
// (CPU load), matching the sentinel convention of §4.4.
type SystemInfo struct {
	TotalPhysicalMemoryBytes int64
	FreePhysicalMemoryBytes  int64
	TotalSwapBytes           int64
	FreeSwapBytes            int64
	CPULoadPercent           float64
}

// procReader is the platform seam: cpuTimeMillis and residentMemoryBytes are
// implemented per-OS in procinfo_*.go.
type procReader interface {
	cpuTimeMillis(pid int) (int64, error)
	residentMemoryBytes(pid int) (int64, error)
	systemInfo() SystemInfo
}
