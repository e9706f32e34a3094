// Package orchestrator is the top-level driver of the controller runtime.
//
// It owns the controller registry, the per-controller locks and the
// dependency graph, and walks the derived execution plan for every run:
// serially in plan order, or level by level with independent controllers
// overlapping in parallel mode. A single bounded semaphore limits
// cross-controller concurrency; a per-controller lock serialises repeated
// runs of the same controller across overlapping invocations.
package orchestrator

import (
	"context"
	"os"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/vk/stagegrid/internal/ctxlog"
	"github.com/vk/stagegrid/internal/dag"
	"github.com/vk/stagegrid/internal/registry"
	"github.com/vk/stagegrid/internal/stage"
)

// ConcurrencyEnv overrides the default global concurrency limit.
const ConcurrencyEnv = "STAGEGRID_CONCURRENCY_LIMIT"

const defaultConcurrency = 10

// Config tunes one orchestrator instance.
type Config struct {
	// ID names the orchestrator in logs and stats.
	ID string
	// Concurrency bounds concurrent controller executions. Zero falls
	// back to ConcurrencyEnv, then to 10.
	Concurrency int
	// Parallel launches whole levels concurrently instead of walking
	// the flat order.
	Parallel bool
}

// Orchestrator coordinates registered controllers.
type Orchestrator struct {
	id       string
	registry *registry.Registry
	graph    *dag.Graph
	sem      *semaphore.Weighted
	limit    int
	parallel bool

	mu          sync.Mutex
	controllers map[string]*stage.Runtime
	locks       map[string]*sync.Mutex
	running     bool

	statsMu    sync.Mutex
	processing ProcessingStats
}

// New creates an orchestrator backed by the given controller type
// registry.
func New(reg *registry.Registry, cfg Config) *Orchestrator {
	if cfg.ID == "" {
		cfg.ID = "default"
	}
	limit := cfg.Concurrency
	if limit <= 0 {
		if env := os.Getenv(ConcurrencyEnv); env != "" {
			if parsed, err := strconv.Atoi(env); err == nil && parsed > 0 {
				limit = parsed
			}
		}
	}
	if limit <= 0 {
		limit = defaultConcurrency
	}
	return &Orchestrator{
		id:          cfg.ID,
		registry:    reg,
		graph:       dag.New(),
		sem:         semaphore.NewWeighted(int64(limit)),
		limit:       limit,
		parallel:    cfg.Parallel,
		controllers: make(map[string]*stage.Runtime),
		locks:       make(map[string]*sync.Mutex),
	}
}

// ID returns the orchestrator's name.
func (o *Orchestrator) ID() string { return o.id }

// Register adds a controller to the registry, creates its lock and
// recomputes the execution plan.
func (o *Orchestrator) Register(ctx context.Context, rt *stage.Runtime) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.graph.AddNode(rt.ID()); err != nil {
		return err
	}
	o.controllers[rt.ID()] = rt
	o.locks[rt.ID()] = &sync.Mutex{}
	ctxlog.FromContext(ctx).Info("Controller registered.",
		"manager", o.id, "controller", rt.ID(), "type", rt.Config().Type)
	return nil
}

// Unregister removes a controller together with every dependency edge
// touching it and recomputes the plan. It reports whether the controller
// was registered; calling it twice returns false the second time.
func (o *Orchestrator) Unregister(ctx context.Context, id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.graph.RemoveNode(id) {
		return false
	}
	delete(o.controllers, id)
	delete(o.locks, id)
	ctxlog.FromContext(ctx).Info("Controller unregistered.", "manager", o.id, "controller", id)
	return true
}

// AddDependency records that target consumes source's output, optionally
// remapping output keys to input keys. A mutation that would create a
// cycle fails with *dag.CycleError and leaves the previous plan in force.
func (o *Orchestrator) AddDependency(ctx context.Context, source, target string, remap map[string]string) error {
	if err := o.graph.AddEdge(source, target, remap); err != nil {
		return err
	}
	ctxlog.FromContext(ctx).Info("Dependency added.",
		"manager", o.id, "source", source, "target", target, "has_mapping", remap != nil)
	return nil
}

// CreateController builds a controller runtime from a configuration entry
// using the typed factory registry. It does not register the result.
func (o *Orchestrator) CreateController(cfg stage.Config) (*stage.Runtime, error) {
	impl, err := o.registry.Create(cfg)
	if err != nil {
		return nil, err
	}
	return stage.NewRuntime(impl, cfg), nil
}

// AddControllerFromConfig creates and registers a controller in one step.
func (o *Orchestrator) AddControllerFromConfig(ctx context.Context, cfg stage.Config) (*stage.Runtime, error) {
	rt, err := o.CreateController(cfg)
	if err != nil {
		return nil, err
	}
	if err := o.Register(ctx, rt); err != nil {
		return nil, err
	}
	return rt, nil
}

// Controller returns the runtime registered under id, or nil.
func (o *Orchestrator) Controller(id string) *stage.Runtime {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.controllers[id]
}

// List returns the registered controller ids in execution-plan order.
func (o *Orchestrator) List() []string {
	return o.graph.Plan().Order
}

// Outputs returns the latest cached output of every controller that has
// one.
func (o *Orchestrator) Outputs() map[string]map[string]any {
	o.mu.Lock()
	defer o.mu.Unlock()
	outputs := make(map[string]map[string]any)
	for id, rt := range o.controllers {
		if out := rt.Output(); out != nil {
			outputs[id] = out
		}
	}
	return outputs
}

// StartAll starts every registered controller. The orchestrator accepts
// runs as soon as at least one controller started; the return value
// reports whether all of them did.
func (o *Orchestrator) StartAll(ctx context.Context) bool {
	logger := ctxlog.FromContext(ctx)
	runtimes := o.snapshot()

	started := 0
	for _, rt := range runtimes {
		if rt.Start(ctx) {
			started++
		} else {
			logger.Error("Failed to start controller.", "manager", o.id, "controller", rt.ID())
		}
	}

	o.mu.Lock()
	o.running = started > 0
	o.mu.Unlock()

	logger.Info("Controllers started.", "manager", o.id, "started", started, "total", len(runtimes))
	return started == len(runtimes)
}

// StopAll stops every controller concurrently and stops accepting runs.
func (o *Orchestrator) StopAll(ctx context.Context) {
	o.mu.Lock()
	o.running = false
	o.mu.Unlock()

	var g errgroup.Group
	for _, rt := range o.snapshot() {
		rt := rt
		g.Go(func() error {
			rt.Stop(ctx)
			return nil
		})
	}
	_ = g.Wait()
	ctxlog.FromContext(ctx).Info("All controllers stopped.", "manager", o.id)
}

// Reset stops and restarts a single controller. It reports false when the
// controller is unknown or failed to restart.
func (o *Orchestrator) Reset(ctx context.Context, id string) bool {
	rt := o.Controller(id)
	if rt == nil {
		return false
	}
	rt.Stop(ctx)
	time.Sleep(100 * time.Millisecond)
	return rt.Start(ctx)
}

// Running reports whether the orchestrator accepts runs.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// snapshot returns the registered runtimes without holding the lock
// during lifecycle calls.
func (o *Orchestrator) snapshot() []*stage.Runtime {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*stage.Runtime, 0, len(o.controllers))
	for _, id := range o.graph.Plan().Order {
		if rt, ok := o.controllers[id]; ok {
			out = append(out, rt)
		}
	}
	return out
}

func (o *Orchestrator) runtimeAndLock(id string) (*stage.Runtime, *sync.Mutex) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.controllers[id], o.locks[id]
}
