package procpool

import (
	"context"
	"fmt"
	"sync"
)

// JobFn is a CPU-bound job executed inside a worker process. Payloads are
// opaque byte slices; callers typically encode them with msgpack.
type JobFn func(ctx context.Context, payload []byte) ([]byte, error)

// JobRegistry maps job names to their implementations. The same registry
// must be populated in both the parent and the worker process, which is
// guaranteed by registering jobs before the entrypoint branches on
// WorkerEnv.
type JobRegistry struct {
	mu   sync.RWMutex
	jobs map[string]JobFn
}

// NewJobRegistry creates an empty registry.
func NewJobRegistry() *JobRegistry {
	return &JobRegistry{jobs: make(map[string]JobFn)}
}

// Register adds a job under the given name. Duplicate names are a
// programmer error and panic at startup.
func (r *JobRegistry) Register(name string, fn JobFn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[name]; exists {
		panic(fmt.Sprintf("procpool: job %q already registered", name))
	}
	r.jobs[name] = fn
}

// Lookup returns the job registered under name.
func (r *JobRegistry) Lookup(name string) (JobFn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.jobs[name]
	return fn, ok
}
