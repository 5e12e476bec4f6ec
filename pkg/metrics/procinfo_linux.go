//go:build linux

package metrics

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/prometheus/procfs"
)

type linuxProcReader struct {
	fs procfs.FS
}

func newProcReader() procReader {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return &linuxProcReader{}
	}
	return &linuxProcReader{fs: fs}
}

func (r *linuxProcReader) cpuTimeMillis(pid int) (int64, error) {
	proc, err := r.fs.Proc(pid)
	if err != nil {
		return 0, fmt.Errorf("metrics: procfs.Proc(%d): %w", pid, err)
	}
	stat, err := proc.Stat()
	if err != nil {
		return 0, fmt.Errorf("metrics: procfs stat(%d): %w", pid, err)
	}
	// CPUTime() returns fractional seconds of accumulated user+system time.
	return int64(stat.CPUTime() * 1000.0), nil
}

func (r *linuxProcReader) residentMemoryBytes(pid int) (int64, error) {
	return psRSSBytes(pid)
}

func (r *linuxProcReader) systemInfo() SystemInfo {
	info := SystemInfo{CPULoadPercent: -1.0}
	meminfo, err := r.fs.Meminfo()
	if err != nil {
		return info
	}
	if meminfo.MemTotal != nil {
		info.TotalPhysicalMemoryBytes = int64(*meminfo.MemTotal) * 1024
	}
	if meminfo.MemFree != nil {
		info.FreePhysicalMemoryBytes = int64(*meminfo.MemFree) * 1024
	}
	if meminfo.SwapTotal != nil {
		info.TotalSwapBytes = int64(*meminfo.SwapTotal) * 1024
	}
	if meminfo.SwapFree != nil {
		info.FreeSwapBytes = int64(*meminfo.SwapFree) * 1024
	}
	if stat, err := r.fs.Stat(); err == nil {
		info.CPULoadPercent = cpuLoadFromStat(stat)
	}
	return info
}

// cpuLoadFromStat derives an instantaneous-ish utilization estimate from the
// cumulative jiffy counters; callers only need a coarse best-effort figure.
func cpuLoadFromStat(stat procfs.Stat) float64 {
	c := stat.CPUTotal
	idle := c.Idle + c.Iowait
	total := c.User + c.Nice + c.System + c.Idle + c.IRQ + c.SoftIRQ + c.Iowait + c.Steal
	if total == 0 {
		return -1.0
	}
	return (1.0 - idle/total) * 100.0
}

func psRSSBytes(pid int) (int64, error) {
	out, err := exec.Command("ps", "-o", "rss=", "-p", strconv.Itoa(pid)).Output()
	if err != nil {
		return 0, fmt.Errorf("metrics: ps: %w", err)
	}
	trimmed := strings.TrimSpace(string(out))
	if trimmed == "" {
		return 0, fmt.Errorf("metrics: ps returned no output for pid %d", pid)
	}
	kb, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("metrics: parsing ps rss output %q: %w", trimmed, err)
	}
	return kb * 1024, nil
}
