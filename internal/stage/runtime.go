// Package stage defines the controller data model and the runtime wrapper
// that executes a controller's processing operation with timing, failure
// capture and output caching.
package stage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vk/stagegrid/internal/ctxlog"
)

// Stage is the unit of work a controller implements. Process failures may
// be reported either as a failed Result or as an error; the Runtime treats
// both the same way. Implementations must be safe to call from a single
// goroutine at a time; the orchestrator serialises calls per controller.
type Stage interface {
	// Initialize prepares the controller for processing. Start only
	// transitions the controller to Running when it returns nil.
	Initialize(ctx context.Context) error

	// Process consumes one input and produces one result.
	Process(ctx context.Context, in Input) (Result, error)

	// Cleanup releases any resources held by the controller.
	Cleanup(ctx context.Context) error
}

// Runtime wraps a Stage implementation with the lifecycle state machine,
// wall-clock timing, an error counter and a single-slot output cache keyed
// by the controller id. All state access is guarded by an internal mutex;
// the wrapped Process call itself runs outside the lock so lifecycle calls
// from other goroutines are never blocked by a slow controller.
type Runtime struct {
	impl Stage

	mu          sync.Mutex
	cfg         Config
	status      Status
	errorCount  int
	lastElapsed time.Duration
	lastResult  *Result
	output      map[string]any
}

// NewRuntime wraps the given implementation. The controller starts in the
// Stopped state.
func NewRuntime(impl Stage, cfg Config) *Runtime {
	return &Runtime{
		impl:   impl,
		cfg:    cfg,
		status: StatusStopped,
	}
}

// ID returns the controller id.
func (r *Runtime) ID() string { return r.cfg.ID }

// Config returns a copy of the controller's configuration.
func (r *Runtime) Config() Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

// Status returns the current lifecycle state.
func (r *Runtime) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Enabled reports whether the controller takes part in runs.
func (r *Runtime) Enabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg.Enabled
}

// Start initialises the controller and moves it to Running. A failed or
// panicking Initialize leaves the controller in the Error state.
func (r *Runtime) Start(ctx context.Context) bool {
	logger := ctxlog.FromContext(ctx).With("controller", r.ID())
	err := r.callInitialize(ctx)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.status = StatusError
		logger.Error("Failed to start controller.", "error", err)
		return false
	}
	r.status = StatusRunning
	logger.Info("Controller started.")
	return true
}

// Stop cleans the controller up and moves it to Stopped. A failing Cleanup
// leaves the controller in the Error state.
func (r *Runtime) Stop(ctx context.Context) {
	logger := ctxlog.FromContext(ctx).With("controller", r.ID())
	err := r.callCleanup(ctx)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.status = StatusError
		logger.Error("Error stopping controller.", "error", err)
		return
	}
	r.status = StatusStopped
	logger.Info("Controller stopped.")
}

// Pause moves a Running controller to Paused; any other state is left alone.
func (r *Runtime) Pause(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status == StatusRunning {
		r.status = StatusPaused
		ctxlog.FromContext(ctx).Info("Controller paused.", "controller", r.cfg.ID)
	}
}

// Resume moves a Paused controller back to Running.
func (r *Runtime) Resume(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status == StatusPaused {
		r.status = StatusRunning
		ctxlog.FromContext(ctx).Info("Controller resumed.", "controller", r.cfg.ID)
	}
}

// ProcessWithTiming executes one processing call. Disabled controllers and
// controllers that are not Running produce an immediate no-op success.
// Failures never propagate: errors and panics from the implementation are
// converted into a failed Result, the error counter is incremented and the
// controller flips to the Error state. Successful payloads are cached and
// become visible through Output.
func (r *Runtime) ProcessWithTiming(ctx context.Context, in Input) Result {
	r.mu.Lock()
	if !r.cfg.Enabled || r.status != StatusRunning {
		r.mu.Unlock()
		return Success(nil)
	}
	r.mu.Unlock()

	start := time.Now()
	result, err := r.callProcess(ctx, in)
	elapsed := time.Since(start)

	if err != nil {
		result = Failure(err.Error())
	}
	result.Elapsed = elapsed

	logger := ctxlog.FromContext(ctx).With("controller", r.ID())

	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastElapsed = elapsed
	if !result.OK {
		r.errorCount++
		r.status = StatusError
		logger.Error("Controller processing failed.", "error", result.Error)
	} else if result.Data != nil {
		r.output = result.Data
	}
	res := result
	r.lastResult = &res
	return result
}

// Output returns the most recent successfully cached payload, or nil.
func (r *Runtime) Output() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.output
}

// Stats returns a snapshot of the controller's counters.
func (r *Runtime) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Stats{
		ID:          r.cfg.ID,
		Type:        r.cfg.Type,
		Enabled:     r.cfg.Enabled,
		Status:      r.status,
		LastElapsed: r.lastElapsed,
		ErrorCount:  r.errorCount,
		HasOutput:   r.output != nil,
	}
	if r.output != nil {
		s.OutputLength = len(r.output)
	}
	if r.lastResult != nil {
		ok := r.lastResult.OK
		s.LastSuccess = &ok
	}
	return s
}

// SetInputControllers replaces the declared upstream-controller filter.
// Used when wiring default pipelines after loading a topology.
func (r *Runtime) SetInputControllers(ids []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg.InputControllers = ids
}

func (r *Runtime) callInitialize(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("controller %s initialize panicked: %v", r.ID(), rec)
		}
	}()
	return r.impl.Initialize(ctx)
}

func (r *Runtime) callCleanup(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("controller %s cleanup panicked: %v", r.ID(), rec)
		}
	}()
	return r.impl.Cleanup(ctx)
}

func (r *Runtime) callProcess(ctx context.Context, in Input) (res Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			res = Result{}
			err = fmt.Errorf("controller %s panicked: %v", r.ID(), rec)
		}
	}()
	return r.impl.Process(ctx, in)
}
