package logpump

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prism-community/workersup/pkg/protocol"
)

type recordingSink struct {
	mu      sync.Mutex
	records []protocol.LogRecord
}

func (s *recordingSink) Accept(workerID string, record protocol.LogRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func TestPumpRunForwardsLinesToSinkAndQueue(t *testing.T) {
	sink := &recordingSink{}
	var active atomic.Bool
	active.Store(true)
	p := New("worker-1", sink, &active)

	reader := strings.NewReader("line one\nline two\n")
	p.Run("stdout", reader)

	require.Equal(t, 2, sink.count())
	assert.Equal(t, 2, p.Queue().Len())
}

func TestPumpDropsOldestOnOverflow(t *testing.T) {
	sink := &recordingSink{}
	var active atomic.Bool
	active.Store(true)
	p := New("worker-1", sink, &active)

	var lines strings.Builder
	for i := 0; i < DefaultQueueCapacity*2; i++ {
		fmt.Fprintf(&lines, "line %d\n", i)
	}
	p.Run("stdout", strings.NewReader(lines.String()))

	assert.Equal(t, DefaultQueueCapacity, p.Queue().Len())
	snap := p.Snapshot()
	first := snap[0]
	assert.Equal(t, fmt.Sprintf("line %d", DefaultQueueCapacity), first.Message)
}

func TestPumpDropObserverCalledOnOverflow(t *testing.T) {
	sink := &recordingSink{}
	var active atomic.Bool
	active.Store(true)
	var drops atomic.Int64
	p := New("worker-1", sink, &active, WithDropObserver(func(workerID string) {
		assert.Equal(t, "worker-1", workerID)
		drops.Add(1)
	}))

	var lines strings.Builder
	for i := 0; i < DefaultQueueCapacity*2; i++ {
		fmt.Fprintf(&lines, "line %d\n", i)
	}
	p.Run("stdout", strings.NewReader(lines.String()))

	assert.Equal(t, int64(DefaultQueueCapacity), drops.Load())
}

func TestPumpFiltersBelowConfiguredLevel(t *testing.T) {
	sink := &recordingSink{}
	var active atomic.Bool
	active.Store(true)
	p := New("worker-1", sink, &active)
	p.SetLevel(protocol.LogLevelWarn)

	p.Run("stdout", strings.NewReader("2024-01-01 12:00:00,000 - L - INFO - skip me\n2024-01-01 12:00:00,000 - L - ERROR - keep me\n"))

	assert.Equal(t, 1, p.Queue().Len())
	assert.Equal(t, 1, sink.count())
}
