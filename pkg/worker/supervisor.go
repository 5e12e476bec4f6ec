package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prism-community/workersup/pkg/broker"
	"github.com/prism-community/workersup/pkg/channel"
	"github.com/prism-community/workersup/pkg/clock"
	"github.com/prism-community/workersup/pkg/logpump"
	"github.com/prism-community/workersup/pkg/metrics"
	"github.com/prism-community/workersup/pkg/protocol"
	"github.com/prism-community/workersup/pkg/werrors"
)

// DefaultTerminateGrace is the fixed post-SIGKILL wait of §4.6.
const DefaultTerminateGrace = 5 * time.Second

// Sink receives every accepted log record from every worker the Supervisor
// manages.
type Sink = logpump.Sink

// Supervisor manages the lifecycle of one worker process: spawn, status,
// termination, metrics, messaging, and logs. One Supervisor instance
// corresponds to one worker; the Registry (§4.7) holds many.
type Supervisor struct {
	mu sync.Mutex

	handle Handle
	proc   processHandle

	stdoutPump *logpump.Pump
	stderrPump *logpump.Pump
	ch         channel.Channel
	br         *broker.Broker
	sampler    *metrics.Sampler

	active       *atomic.Bool
	disconnected atomic.Bool

	status    Status
	startTime time.Time

	clk      clock.Clock
	exporter *metrics.PrometheusExporter
}

// Option configures Supervisor construction.
type Option func(*supervisorConfig)

type supervisorConfig struct {
	sink          Sink
	sampler       *metrics.Sampler
	clk           clock.Clock
	acceptTimeout time.Duration
	namedPipe     string // if set, use a named pipe channel at this path instead of a socket
	exporter      *metrics.PrometheusExporter
}

func WithSink(sink Sink) Option { return func(c *supervisorConfig) { c.sink = sink } }

func WithSampler(s *metrics.Sampler) Option { return func(c *supervisorConfig) { c.sampler = s } }

func WithClock(clk clock.Clock) Option { return func(c *supervisorConfig) { c.clk = clk } }

func WithAcceptTimeout(d time.Duration) Option {
	return func(c *supervisorConfig) { c.acceptTimeout = d }
}

func WithNamedPipe(path string) Option {
	return func(c *supervisorConfig) { c.namedPipe = path }
}

// WithMetricsExporter wires a PrometheusExporter to receive state-transition
// counts and log-drop counts for this worker.
func WithMetricsExporter(e *metrics.PrometheusExporter) Option {
	return func(c *supervisorConfig) { c.exporter = e }
}

// Create spawns a worker process per SpawnOptions, wires up its log pumps,
// byte channel and message broker, and returns a ready Supervisor with
// status STARTING, or FAILED if the process is no longer alive by then
// (§4.6 "Spawn"/"Wire-up").
func Create(ctx context.Context, id string, opts SpawnOptions, options ...Option) (*Supervisor, error) {
	cfg := &supervisorConfig{clk: clock.Real{}, acceptTimeout: channel.DefaultAcceptTimeout}
	for _, o := range options {
		o(cfg)
	}

	proc, err := spawnProcess(ctx, opts)
	if err != nil {
		return nil, err
	}

	handle := Handle{ID: id, PID: proc.PID()}
	active := &atomic.Bool{}
	active.Store(true)

	s := &Supervisor{
		handle:    handle,
		proc:      proc,
		active:    active,
		startTime: cfg.clk.Now(),
		clk:       cfg.clk,
		sampler:   cfg.sampler,
		exporter:  cfg.exporter,
	}

	if proc.Alive() {
		s.status = StatusStarting
	} else {
		s.status = StatusFailed
	}

	var dropOpts []logpump.Option
	if cfg.exporter != nil {
		dropOpts = append(dropOpts, logpump.WithDropObserver(cfg.exporter.RecordLogDrop))
	}
	s.stdoutPump = logpump.New(id, cfg.sink, active, dropOpts...)
	s.stderrPump = logpump.New(id, cfg.sink, active, dropOpts...)
	go s.stdoutPump.Run("stdout", proc.Stdout())
	go s.stderrPump.Run("stderr", proc.Stderr())

	if cfg.sampler != nil {
		cfg.sampler.StartMonitoring(id, proc.PID())
	}

	if cfg.namedPipe != "" {
		s.ch = channel.NewPipeChannel(cfg.namedPipe)
	} else {
		s.ch = channel.NewServerSocketChannel(cfg.acceptTimeout)
	}
	s.br = broker.New(id, s.ch,
		broker.WithHeartbeatObserver(func() { s.onHeartbeat() }),
		broker.WithDisconnectObserver(func() { s.onDisconnect() }),
	)

	go s.establishChannel()

	return s, nil
}

// establishChannel opens the channel asynchronously (§4.5 "establishChannel"
// / §9's first open question): the active flag is set only after a
// successful open, and a failed/timed-out open leaves the broker inactive
// so subsequent Send/Receive fail fast with CommunicationError.
func (s *Supervisor) establishChannel() {
	if err := s.ch.Open(); err != nil {
		log.Printf("worker %s: channel establishment failed: %v", s.handle.ID, err)
		return
	}
	s.br.Start()
}

func (s *Supervisor) onHeartbeat() {
	s.disconnected.Store(false)
	if s.sampler != nil {
		s.sampler.UpdateHeartbeat(s.handle.ID)
	}
}

// onDisconnect marks the worker UNRESPONSIVE on the next Status() poll,
// without waiting out the heartbeat timeout (§4.5, §8.2). Cleared by the
// next onHeartbeat.
func (s *Supervisor) onDisconnect() {
	log.Printf("worker %s: broker reader disconnected involuntarily", s.handle.ID)
	s.disconnected.Store(true)
}

// Handle returns the worker's identity.
func (s *Supervisor) Handle() Handle { return s.handle }

// Status computes the worker's lifecycle status on demand (§4.6).
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	lastHeartbeat := s.startTime
	if s.sampler != nil {
		if hb, ok := s.sampler.LastHeartbeat(s.handle.ID); ok {
			lastHeartbeat = hb
		}
	}

	prev := s.status
	next := deriveStatus(prev, s.proc, s.startTime, lastHeartbeat, s.clk.Now(), s.disconnected.Load())
	if next != prev && s.exporter != nil {
		s.exporter.RecordStateTransition(s.handle.ID, string(prev), string(next))
	}
	s.status = next
	return s.status
}

// IsAlive reports whether the OS process is still running.
func (s *Supervisor) IsAlive() bool { return s.proc.Alive() }

// UpdateHeartbeat records that a heartbeat was just observed for this
// worker, for callers that manage heartbeats outside the broker. Heartbeats
// received by the broker go through onHeartbeat instead, which also clears
// the disconnected flag; UpdateHeartbeat does not clear it.
func (s *Supervisor) UpdateHeartbeat() {
	if s.sampler != nil {
		s.sampler.UpdateHeartbeat(s.handle.ID)
	}
}

// Metrics returns a fresh metrics snapshot for this worker.
func (s *Supervisor) Metrics() (metrics.Snapshot, error) {
	if s.sampler == nil {
		return metrics.Snapshot{}, werrors.Creation("no metrics sampler configured")
	}
	return s.sampler.GetMetrics(s.handle.ID)
}

// Send enqueues payload to the worker over the message broker.
func (s *Supervisor) Send(payload any) error {
	return s.br.Send(payload)
}

// Receive blocks for an inbound message and decodes its payload into out.
func (s *Supervisor) Receive(out any) error {
	return s.br.Receive(out)
}

// Logs returns every currently queued log record for this worker.
func (s *Supervisor) Logs() []protocol.LogRecord {
	return append(s.stdoutPump.Snapshot(), s.stderrPump.Snapshot()...)
}

// SetLogLevel updates the minimum severity accepted by both log pumps.
func (s *Supervisor) SetLogLevel(level protocol.LogLevel) {
	s.stdoutPump.SetLevel(level)
	s.stderrPump.SetLevel(level)
}

// Terminate requests graceful termination, escalating to forceful
// termination after timeout, then waiting up to DefaultTerminateGrace for
// the process to die (§4.6 "Termination").
func (s *Supervisor) Terminate(timeout time.Duration) error {
	s.mu.Lock()
	alreadyTerminal := s.status.isTerminal()
	s.mu.Unlock()
	if alreadyTerminal {
		return nil
	}

	if s.proc.Alive() {
		if err := s.proc.Signal(syscall.SIGTERM); err != nil {
			log.Printf("worker %s: SIGTERM failed: %v", s.handle.ID, err)
		}

		if waiter, ok := s.proc.(interface{ WaitDone() <-chan struct{} }); ok {
			select {
			case <-waiter.WaitDone():
			case <-time.After(timeout):
				if err := s.proc.Kill(); err != nil {
					log.Printf("worker %s: SIGKILL failed: %v", s.handle.ID, err)
				}
				select {
				case <-waiter.WaitDone():
				case <-time.After(DefaultTerminateGrace):
					s.active.Store(false)
					return werrors.Termination(fmt.Sprintf("worker %s did not die after SIGKILL", s.handle.ID))
				}
			}
		} else {
			time.Sleep(timeout)
		}
	}

	s.active.Store(false)
	if s.sampler != nil {
		s.sampler.StopMonitoring(s.handle.ID)
	}
	if s.br != nil {
		s.br.Close()
	}

	s.mu.Lock()
	s.status = StatusTerminated
	s.mu.Unlock()
	return nil
}
