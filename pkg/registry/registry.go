// Package registry implements the process-wide mapping from worker handle
// to supervisor record, and orchestrates global shutdown (§4.7).
package registry

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/prism-community/workersup/pkg/worker"
)

// DefaultShutdownTimeout is the per-worker terminate timeout global shutdown
// uses (§4.7).
const DefaultShutdownTimeout = 5 * time.Second

// Registry is a concurrent, process-wide table of live Supervisors.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]*worker.Supervisor

	shutdownTimeout time.Duration
	shutdownOnce    sync.Once
}

// Option configures a Registry at construction.
type Option func(*Registry)

// WithShutdownTimeout overrides the per-worker terminate timeout used by
// Shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(r *Registry) { r.shutdownTimeout = d }
}

// New constructs an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		workers:         make(map[string]*worker.Supervisor),
		shutdownTimeout: DefaultShutdownTimeout,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register adds a supervisor to the table, keyed by its worker id.
func (r *Registry) Register(sup *worker.Supervisor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers[sup.Handle().ID] = sup
}

// Unregister removes a supervisor from the table.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.workers, id)
}

// Get returns the supervisor for id, if present.
func (r *Registry) Get(id string) (*worker.Supervisor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sup, ok := r.workers[id]
	return sup, ok
}

// Len reports how many workers are currently registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}

// All returns a snapshot slice of every registered supervisor.
func (r *Registry) All() []*worker.Supervisor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*worker.Supervisor, 0, len(r.workers))
	for _, sup := range r.workers {
		out = append(out, sup)
	}
	return out
}

// Cleanup removes every registered worker whose process is dead and whose
// status is terminal, matching §4.6's "Cleanup" helper.
func (r *Registry) Cleanup() {
	for _, sup := range r.All() {
		if sup.IsAlive() {
			continue
		}
		switch sup.Status() {
		case worker.StatusCompleted, worker.StatusFailed, worker.StatusTerminated:
			r.Unregister(sup.Handle().ID)
		}
	}
}

// Shutdown terminates every live worker with a bounded per-worker timeout,
// best-effort: individual failures are logged and do not abort the overall
// shutdown. Repeated calls are a no-op (§4.7, §8's shutdown invariant).
func (r *Registry) Shutdown(ctx context.Context) {
	r.shutdownOnce.Do(func() {
		var wg sync.WaitGroup
		for _, sup := range r.All() {
			wg.Add(1)
			go func(sup *worker.Supervisor) {
				defer wg.Done()
				if err := sup.Terminate(r.shutdownTimeout); err != nil {
					log.Printf("registry: error terminating worker %s during shutdown: %v", sup.Handle().ID, err)
				}
			}(sup)
		}
		wg.Wait()

		r.mu.Lock()
		r.workers = make(map[string]*worker.Supervisor)
		r.mu.Unlock()
	})
}
