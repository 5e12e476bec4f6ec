package worker

import (
	"io"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeProc struct {
	alive    bool
	exitCode int
	exitOK   bool
	signaled []syscall.Signal
	killed   bool
}

func (p *fakeProc) PID() int                        { return 1 }
func (p *fakeProc) Alive() bool                     { return p.alive }
func (p *fakeProc) ExitCode() (int, bool)            { return p.exitCode, p.exitOK }
func (p *fakeProc) Signal(sig syscall.Signal) error { p.signaled = append(p.signaled, sig); return nil }
func (p *fakeProc) Kill() error                     { p.killed = true; p.alive = false; return nil }
func (p *fakeProc) Stdout() io.Reader                { return strings.NewReader("") }
func (p *fakeProc) Stderr() io.Reader                { return strings.NewReader("") }

func TestDeriveStatusStartingToRunningAfterGrace(t *testing.T) {
	start := time.Unix(0, 0)
	proc := &fakeProc{alive: true}

	before := deriveStatus(StatusStarting, proc, start, start, start.Add(4*time.Second), false)
	assert.Equal(t, StatusStarting, before)

	after := deriveStatus(StatusStarting, proc, start, start, start.Add(6*time.Second), false)
	assert.Equal(t, StatusRunning, after)
}

func TestDeriveStatusExitZeroIsCompleted(t *testing.T) {
	start := time.Unix(0, 0)
	proc := &fakeProc{alive: false, exitCode: 0, exitOK: true}
	got := deriveStatus(StatusRunning, proc, start, start, start, false)
	assert.Equal(t, StatusCompleted, got)
}

func TestDeriveStatusExitNonzeroIsFailed(t *testing.T) {
	start := time.Unix(0, 0)
	proc := &fakeProc{alive: false, exitCode: 1, exitOK: true}
	got := deriveStatus(StatusRunning, proc, start, start, start, false)
	assert.Equal(t, StatusFailed, got)
}

func TestDeriveStatusNotAliveExitUnreadableIsUnresponsive(t *testing.T) {
	start := time.Unix(0, 0)
	proc := &fakeProc{alive: false, exitOK: false}
	got := deriveStatus(StatusRunning, proc, start, start, start, false)
	assert.Equal(t, StatusUnresponsive, got)
}

func TestDeriveStatusHeartbeatTimeoutIsUnresponsive(t *testing.T) {
	start := time.Unix(0, 0)
	proc := &fakeProc{alive: true}
	lastHeartbeat := start
	got := deriveStatus(StatusRunning, proc, start, lastHeartbeat, start.Add(70*time.Second), false)
	assert.Equal(t, StatusUnresponsive, got)
}

func TestDeriveStatusHeartbeatResurrectsToRunning(t *testing.T) {
	start := time.Unix(0, 0)
	proc := &fakeProc{alive: true}
	// lastHeartbeat recent relative to now: simulates a heartbeat just received.
	got := deriveStatus(StatusUnresponsive, proc, start, start.Add(65*time.Second), start.Add(66*time.Second), false)
	assert.Equal(t, StatusRunning, got)
}

func TestDeriveStatusTerminalStatesAreAbsorbing(t *testing.T) {
	start := time.Unix(0, 0)
	proc := &fakeProc{alive: false, exitCode: 0, exitOK: true}
	for _, terminal := range []Status{StatusCompleted, StatusFailed, StatusTerminated} {
		got := deriveStatus(terminal, proc, start, start, start.Add(time.Hour), false)
		assert.Equal(t, terminal, got)
	}
}

func TestDeriveStatusDisconnectedWhileAliveIsUnresponsive(t *testing.T) {
	start := time.Unix(0, 0)
	proc := &fakeProc{alive: true}
	// Heartbeat is recent (well within heartbeatTimeout), but the reader
	// task exited involuntarily: disconnected should still force
	// UNRESPONSIVE rather than waiting out the heartbeat timeout.
	got := deriveStatus(StatusRunning, proc, start, start.Add(1*time.Second), start.Add(2*time.Second), true)
	assert.Equal(t, StatusUnresponsive, got)
}

func TestDeriveStatusHeartbeatClearsDisconnectResurrection(t *testing.T) {
	start := time.Unix(0, 0)
	proc := &fakeProc{alive: true}
	// Once disconnected clears (simulated by the caller passing false after
	// a fresh heartbeat), UNRESPONSIVE resurrects to RUNNING as usual.
	got := deriveStatus(StatusUnresponsive, proc, start, start.Add(5*time.Second), start.Add(6*time.Second), false)
	assert.Equal(t, StatusRunning, got)
}
