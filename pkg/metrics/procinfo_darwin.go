//go:build darwin

package metrics

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

type darwinProcReader struct{}

func newProcReader() procReader { return darwinProcReader{} }

// cpuTimeMillis has no procfs on Darwin; fall back to ps's cumulative CPU
// time column, formatted [[dd-]hh:]mm:ss[.ss].
func (darwinProcReader) cpuTimeMillis(pid int) (int64, error) {
	out, err := exec.Command("ps", "-o", "time=", "-p", strconv.Itoa(pid)).Output()
	if err != nil {
		return 0, fmt.Errorf("metrics: ps time: %w", err)
	}
	return parsePsTime(strings.TrimSpace(string(out)))
}

func (darwinProcReader) residentMemoryBytes(pid int) (int64, error) {
	return psRSSBytes(pid)
}

func (darwinProcReader) systemInfo() SystemInfo {
	return SystemInfo{CPULoadPercent: -1.0}
}

func psRSSBytes(pid int) (int64, error) {
	out, err := exec.Command("ps", "-o", "rss=", "-p", strconv.Itoa(pid)).Output()
	if err != nil {
		return 0, fmt.Errorf("metrics: ps rss: %w", err)
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

// parsePsTime parses ps's cumulative time column, e.g. "01:02:03" or
// "1-01:02:03.45", into milliseconds.
func parsePsTime(s string) (int64, error) {
	var days int64
	if idx := strings.IndexByte(s, '-'); idx >= 0 {
		d, err := strconv.ParseInt(s[:idx], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("metrics: parsing ps time days %q: %w", s, err)
		}
		days = d
		s = s[idx+1:]
	}
	parts := strings.Split(s, ":")
	if len(parts) == 0 {
		return 0, fmt.Errorf("metrics: empty ps time value")
	}
	var hours, minutes int64
	var seconds float64
	switch len(parts) {
	case 3:
		hours, _ = strconv.ParseInt(parts[0], 10, 64)
		minutes, _ = strconv.ParseInt(parts[1], 10, 64)
		seconds, _ = strconv.ParseFloat(parts[2], 64)
	case 2:
		minutes, _ = strconv.ParseInt(parts[0], 10, 64)
		seconds, _ = strconv.ParseFloat(parts[1], 64)
	default:
		seconds, _ = strconv.ParseFloat(parts[0], 64)
	}
	total := float64(days*24*3600+hours*3600+minutes*60) + seconds
	return int64(total * 1000.0), nil
}
