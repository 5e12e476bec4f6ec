// Package broker implements the per-worker message broker (§4.5): bounded
// outbound/inbound queues, a writer task with retrying exponential backoff,
// a reader task that siphons heartbeats, and a periodic heartbeat task.
package broker

import (
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/prism-community/workersup/internal/backoff"
	"github.com/prism-community/workersup/internal/boundedqueue"
	"github.com/prism-community/workersup/pkg/channel"
	"github.com/prism-community/workersup/pkg/protocol"
	"github.com/prism-community/workersup/pkg/werrors"
)

// DefaultQueueCapacity matches the 1,000-message default of §3.
const DefaultQueueCapacity = 1000

// DefaultReceiveTimeout is receiveMessage's default blocking timeout (§4.5).
const DefaultReceiveTimeout = 30 * time.Second

// DefaultHeartbeatInterval is how often the heartbeat task sends a ping.
const DefaultHeartbeatInterval = 10 * time.Second

// DefaultRetryBaseDelay and DefaultMaxRetryAttempts parameterize the
// writer's backoff (§4.5).
const (
	DefaultRetryBaseDelay   = 500 * time.Millisecond
	DefaultMaxRetryAttempts = 3
)

// HeartbeatObserver is notified whenever a heartbeat is received from the
// worker, so the supervisor can update its sampler and status bookkeeping
// without the broker holding a reference back to the supervisor record.
type HeartbeatObserver func()

// DisconnectObserver is notified when the reader task exits while the
// broker is still marked active, signaling an involuntary disconnect
// (§4.5: "the supervisor is notified, status -> UNRESPONSIVE").
type DisconnectObserver func()

// Broker owns one worker's channel, queues, and background tasks.
type Broker struct {
	workerID string
	ch       channel.Channel

	outbound *boundedqueue.Queue[protocol.Message]
	inbound  *boundedqueue.Queue[protocol.Message]

	active  atomic.Bool
	idCount atomic.Uint64

	onHeartbeat  HeartbeatObserver
	onDisconnect DisconnectObserver

	retryBaseDelay   time.Duration
	maxRetryAttempts int
	heartbeatPeriod  time.Duration
	receiveTimeout   time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// Option configures a Broker at construction.
type Option func(*Broker)

func WithRetryBaseDelay(d time.Duration) Option {
	return func(b *Broker) { b.retryBaseDelay = d }
}

func WithMaxRetryAttempts(n int) Option {
	return func(b *Broker) { b.maxRetryAttempts = n }
}

func WithHeartbeatPeriod(d time.Duration) Option {
	return func(b *Broker) { b.heartbeatPeriod = d }
}

func WithReceiveTimeout(d time.Duration) Option {
	return func(b *Broker) { b.receiveTimeout = d }
}

func WithHeartbeatObserver(fn HeartbeatObserver) Option {
	return func(b *Broker) { b.onHeartbeat = fn }
}

func WithDisconnectObserver(fn DisconnectObserver) Option {
	return func(b *Broker) { b.onDisconnect = fn }
}

// New constructs a Broker for workerID over an already-constructed (but not
// yet open) channel. Call Start once the channel is open to launch the
// writer/reader/heartbeat tasks.
func New(workerID string, ch channel.Channel, opts ...Option) *Broker {
	b := &Broker{
		workerID:         workerID,
		ch:               ch,
		outbound:         boundedqueue.New[protocol.Message](DefaultQueueCapacity),
		inbound:          boundedqueue.New[protocol.Message](DefaultQueueCapacity),
		retryBaseDelay:   DefaultRetryBaseDelay,
		maxRetryAttempts: DefaultMaxRetryAttempts,
		heartbeatPeriod:  DefaultHeartbeatInterval,
		receiveTimeout:   DefaultReceiveTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start marks the broker active and launches the writer, reader and
// heartbeat tasks. Per §4.5's invariant, calling Start twice is a no-op.
func (b *Broker) Start() {
	if !b.active.CompareAndSwap(false, true) {
		return
	}
	b.stopCh = make(chan struct{})
	b.doneCh = make(chan struct{}, 3)

	go b.writerLoop()
	go b.readerLoop()
	go b.heartbeatLoop()
}

// Send enqueues a data message with a fresh message id. It fails if the
// outbound queue is full, distinct from write-retry exhaustion (§4.5).
func (b *Broker) Send(payload any) error {
	if !b.active.Load() {
		return werrors.Communication("broker: channel not open").WithContext("worker_id", b.workerID)
	}
	id := b.nextMessageID()
	msg, err := protocol.NewMessage(id, "data", payload)
	if err != nil {
		return werrors.Communication("broker: serializing payload").WithCause(err)
	}
	if !b.outbound.TryOffer(msg) {
		return werrors.Communication("broker: outbound queue full").WithContext("worker_id", b.workerID)
	}
	return nil
}

// receivePollInterval is how often Receive polls the inbound queue while
// waiting. Polling (rather than a detached Take()) means a timed-out
// Receive never leaves a goroutine holding the next message that arrives
// after the deadline.
const receivePollInterval = 10 * time.Millisecond

// Receive blocks until a non-heartbeat message arrives or the configured
// timeout elapses, then decodes its payload into out.
func (b *Broker) Receive(out any) error {
	deadline := time.Now().Add(b.receiveTimeout)
	ticker := time.NewTicker(receivePollInterval)
	defer ticker.Stop()

	for {
		if msg, ok := b.inbound.Poll(); ok {
			if out != nil {
				if err := msg.Decode(out); err != nil {
					return werrors.Communication("broker: decoding payload").WithCause(err)
				}
			}
			return nil
		}
		if !b.active.Load() {
			return werrors.Communication("broker: channel closed while receiving")
		}
		if time.Now().After(deadline) {
			return werrors.Communication("broker: receive timed out").WithContext("timeout", b.receiveTimeout)
		}
		select {
		case <-ticker.C:
		case <-b.stopCh:
			return werrors.Communication("broker: channel closed while receiving")
		}
	}
}

// Close clears the active flag, closes the channel and stops the background
// tasks. Idempotent per §4.5.
func (b *Broker) Close() error {
	if !b.active.CompareAndSwap(true, false) {
		return nil
	}
	close(b.stopCh)
	err := b.ch.Close()
	b.outbound.Close()
	b.inbound.Close()
	<-b.doneCh
	<-b.doneCh
	<-b.doneCh
	return err
}

// IsActive reports whether the broker's background tasks are running.
func (b *Broker) IsActive() bool { return b.active.Load() }

// Stats is the snapshot returned by Broker.Stats.
type Stats struct {
	OutboundDepth int
	InboundDepth  int
	Active        bool
}

// Stats returns a point-in-time view of queue depths and liveness.
func (b *Broker) Stats() Stats {
	return Stats{
		OutboundDepth: b.outbound.Len(),
		InboundDepth:  b.inbound.Len(),
		Active:        b.active.Load(),
	}
}

func (b *Broker) nextMessageID() string {
	n := b.idCount.Add(1)
	return fmt.Sprintf("msg-%s-%d-%s", b.workerID, n, uuid.NewString()[:8])
}

func (b *Broker) writerLoop() {
	defer func() { b.doneCh <- struct{}{} }()
	for {
		msg, ok := b.outbound.Take()
		if !ok {
			return
		}
		if !b.active.Load() {
			return
		}
		b.writeWithRetry(msg)
	}
}

func (b *Broker) writeWithRetry(msg protocol.Message) {
	raw, err := json.Marshal(msg)
	if err != nil {
		log.Printf("broker: worker %s failed to marshal message %s: %v", b.workerID, msg.MessageID, err)
		return
	}
	for attempt := 0; attempt < b.maxRetryAttempts; attempt++ {
		if err := b.ch.SendMessage(raw); err == nil {
			return
		} else if attempt == b.maxRetryAttempts-1 {
			log.Printf("broker: worker %s dropping message %s after %d attempts: %v", b.workerID, msg.MessageID, b.maxRetryAttempts, err)
			return
		}
		delay := backoff.ForAttempt(attempt, b.retryBaseDelay)
		select {
		case <-time.After(delay):
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) readerLoop() {
	defer func() { b.doneCh <- struct{}{} }()
	for {
		raw, err := b.ch.ReceiveMessage()
		if err != nil {
			if b.active.Load() && b.onDisconnect != nil {
				log.Printf("broker: worker %s reader disconnected: %v", b.workerID, err)
				b.onDisconnect()
			}
			return
		}
		var msg protocol.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Printf("broker: worker %s received malformed message: %v", b.workerID, err)
			continue
		}
		if msg.MessageID == "" {
			msg.MessageID = b.nextMessageID()
		}
		if msg.Timestamp.IsZero() {
			msg.Timestamp = time.Now()
		}
		if msg.MessageType == protocol.HeartbeatType {
			if b.onHeartbeat != nil {
				b.onHeartbeat()
			}
			continue
		}
		if dropped := b.inbound.Offer(msg); dropped {
			log.Printf("broker: worker %s inbound queue full, dropped oldest message", b.workerID)
		}
	}
}

func (b *Broker) heartbeatLoop() {
	defer func() { b.doneCh <- struct{}{} }()
	ticker := time.NewTicker(b.heartbeatPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			msg, err := protocol.NewMessage(b.nextMessageID(), protocol.HeartbeatType, "ping")
			if err != nil {
				continue
			}
			b.outbound.Offer(msg)
		case <-b.stopCh:
			return
		}
	}
}
