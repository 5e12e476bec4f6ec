//go:build windows

package metrics

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

type windowsProcReader struct{}

func newProcReader() procReader { return windowsProcReader{} }

// cpuTimeMillis has no cheap equivalent to procfs on Windows without cgo;
// resident memory is the only metric the spec pins a mechanism for on this
// platform, so CPU time is reported unavailable.
func (windowsProcReader) cpuTimeMillis(pid int) (int64, error) {
	return 0, fmt.Errorf("metrics: cpu time sampling unavailable on windows")
}

func (windowsProcReader) residentMemoryBytes(pid int) (int64, error) {
	out, err := exec.Command("tasklist", "/fi", fmt.Sprintf("PID eq %d", pid), "/fo", "csv").Output()
	if err != nil {
		return 0, fmt.Errorf("metrics: tasklist: %w", err)
	}
	for _, line := range strings.Split(string(out), "\n") {
		if !strings.Contains(line, strconv.Itoa(pid)) {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) < 5 {
			continue
		}
		mem := strings.Trim(fields[4], "\" \r\t")
		mem = strings.TrimSuffix(mem, "K")
		mem = strings.ReplaceAll(mem, ",", "")
		kb, err := strconv.ParseInt(mem, 10, 64)
		if err != nil {
			continue
		}
		return kb * 1024, nil
	}
	return 0, fmt.Errorf("metrics: pid %d not found in tasklist output", pid)
}

func (windowsProcReader) systemInfo() SystemInfo {
	return SystemInfo{CPULoadPercent: -1.0}
}
