package logpump

import (
	"bufio"
	"io"
	"log"
	"sync/atomic"
	"time"

	"github.com/prism-community/workersup/internal/boundedqueue"
	"github.com/prism-community/workersup/pkg/protocol"
)

// DefaultQueueCapacity matches the 1,000-record default of §3.
const DefaultQueueCapacity = 1000

// Sink receives every accepted log record, in addition to it being queued.
type Sink interface {
	Accept(workerID string, record protocol.LogRecord)
}

// DropObserver is notified whenever accept() evicts a record due to queue
// overflow, so callers (e.g. a metrics exporter) can count drops without the
// pump holding a reference back to them (§9 "back-references without
// cycles").
type DropObserver func(workerID string)

// Pump reads a worker's stdout and stderr concurrently, parses each line,
// and offers accepted records to a bounded queue while forwarding them to a
// Sink.
type Pump struct {
	workerID string
	queue    *boundedqueue.Queue[protocol.LogRecord]
	sink     Sink
	level    atomic.Value // protocol.LogLevel
	active   *atomic.Bool
	onDrop   DropObserver
}

// Option configures a Pump at construction.
type Option func(*Pump)

// WithDropObserver registers fn to be called whenever a record is evicted
// from the bounded queue due to overflow.
func WithDropObserver(fn DropObserver) Option {
	return func(p *Pump) { p.onDrop = fn }
}

// New creates a Pump for one worker. active is the supervisor record's
// shared cancellation flag (§9 "back-references without cycles"): the pump
// holds only this flag and the queue, never the record itself.
func New(workerID string, sink Sink, active *atomic.Bool, opts ...Option) *Pump {
	p := &Pump{
		workerID: workerID,
		queue:    boundedqueue.New[protocol.LogRecord](DefaultQueueCapacity),
		sink:     sink,
		active:   active,
	}
	p.level.Store(protocol.LogLevelInfo)
	for _, o := range opts {
		o(p)
	}
	return p
}

// SetLevel updates the pump's minimum accepted severity.
func (p *Pump) SetLevel(level protocol.LogLevel) {
	p.level.Store(level)
}

// Queue exposes the bounded record queue; Supervisor.Logs reads the same
// records through Snapshot.
func (p *Pump) Queue() *boundedqueue.Queue[protocol.LogRecord] {
	return p.queue
}

// Run reads stream line by line until EOF or until the active flag clears,
// whichever comes first. It never returns an error: read failures end the
// loop silently, matching the log pump's "trailing output survives, parse
// errors never propagate" contract.
func (p *Pump) Run(streamName string, stream io.Reader) {
	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if p.active != nil && !p.active.Load() {
			return
		}
		line := scanner.Text()
		record := ParseLine(streamName, line, time.Now())
		p.accept(record)
	}
}

func (p *Pump) accept(record protocol.LogRecord) {
	filter, _ := p.level.Load().(protocol.LogLevel)
	if !Passes(record.Level, filter) {
		return
	}
	if dropped := p.queue.Offer(record); dropped {
		log.Printf("logpump: worker %s log queue full, dropped oldest record", p.workerID)
		if p.onDrop != nil {
			p.onDrop(p.workerID)
		}
	}
	if p.sink != nil {
		p.sink.Accept(p.workerID, record)
	}
}

// Snapshot returns every currently queued record, oldest first.
func (p *Pump) Snapshot() []protocol.LogRecord {
	return p.queue.Snapshot()
}
