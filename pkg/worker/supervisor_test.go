package worker

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prism-community/workersup/pkg/clock"
)

// writeFakeInterpreter creates a tiny shell-script "interpreter" that
// supports --version (for the spawn-time probe) and, when invoked with the
// worker argv shape, emits a bootstrap marker then exits with exitCode.
func writeFakeInterpreter(t *testing.T, exitCode int, sleepSeconds int) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-interpreter.sh")
	script := `#!/bin/sh
if [ "$1" = "--version" ]; then
  echo "fake-interpreter 1.0"
  exit 0
fi
echo "BOOTSTRAP_STATUS: {\"status\":\"initialized\"}"
sleep ` + strconv.Itoa(sleepSeconds) + `
exit ` + strconv.Itoa(exitCode) + `
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func writeReadableFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "script.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestSupervisorCreateBecomesCompletedAndCapturesBootstrapLog(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns a real subprocess")
	}

	interp := writeFakeInterpreter(t, 0, 0)
	script := writeReadableFile(t, "print('hi')")

	ctx := context.Background()
	sup, err := Create(ctx, "worker-1", SpawnOptions{
		Interpreter:   interp,
		BootstrapPath: interp,
		ScriptPath:    script,
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return sup.Status() == StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	logs := sup.Logs()
	require.NotEmpty(t, logs)
	assert.Contains(t, logs[0].Message, "Bootstrap status:")
}

func TestSupervisorCreateFailsOnNonzeroExit(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns a real subprocess")
	}

	interp := writeFakeInterpreter(t, 1, 0)
	script := writeReadableFile(t, "x")

	sup, err := Create(context.Background(), "worker-2", SpawnOptions{
		Interpreter:   interp,
		BootstrapPath: interp,
		ScriptPath:    script,
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return sup.Status() == StatusFailed
	}, 2*time.Second, 10*time.Millisecond)
}

// TestSupervisorOnDisconnectForcesUnresponsiveUntilHeartbeat exercises §4.5's
// "reader exit while active -> status -> UNRESPONSIVE" without waiting out
// the 60s heartbeat timeout, and confirms the next heartbeat resurrects it.
func TestSupervisorOnDisconnectForcesUnresponsiveUntilHeartbeat(t *testing.T) {
	start := time.Unix(0, 0)
	fc := clock.NewFake(start)
	active := &atomic.Bool{}
	active.Store(true)

	s := &Supervisor{
		handle:    Handle{ID: "worker-1", PID: 1},
		proc:      &fakeProc{alive: true},
		active:    active,
		startTime: start,
		clk:       fc,
		status:    StatusRunning,
	}

	fc.Advance(1 * time.Second)
	assert.Equal(t, StatusRunning, s.Status(), "still connected: heartbeat is recent")

	s.onDisconnect()
	assert.Equal(t, StatusUnresponsive, s.Status(), "involuntary disconnect forces UNRESPONSIVE immediately")

	s.onHeartbeat()
	assert.Equal(t, StatusRunning, s.Status(), "a fresh heartbeat resurrects the worker to RUNNING")
}

func TestSupervisorTerminateGracefulExit(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns a real subprocess")
	}

	interp := writeFakeInterpreter(t, 0, 10)
	script := writeReadableFile(t, "x")

	sup, err := Create(context.Background(), "worker-3", SpawnOptions{
		Interpreter:   interp,
		BootstrapPath: interp,
		ScriptPath:    script,
	})
	require.NoError(t, err)

	err = sup.Terminate(200 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, StatusTerminated, sup.Status())
	assert.False(t, sup.IsAlive())
}
