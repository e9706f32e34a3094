// Package workpool provides a bounded goroutine pool for short blocking
// work: a fixed worker set draining a task queue, a capacity semaphore for
// backpressure, per-task retry with exponential backoff, a sandbox
// allow-list and a circuit breaker that rejects all work after repeated
// failures.
package workpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/vk/stagegrid/internal/ctxlog"
)

var (
	// ErrPoolClosed is returned for every submission after Shutdown.
	ErrPoolClosed = errors.New("workpool: pool closed")
	// ErrQueueFull is the backpressure rejection in non-blocking mode.
	ErrQueueFull = errors.New("workpool: queue full")
	// ErrCircuitOpen is returned while the circuit breaker is open.
	ErrCircuitOpen = errors.New("workpool: circuit breaker open")
)

// SandboxError reports a submission whose callable name is not on the
// pool's allow-list.
type SandboxError struct {
	Callable string
}

func (e *SandboxError) Error() string {
	return fmt.Sprintf("workpool: callable %q not allowed", e.Callable)
}

type submission struct {
	task *Task
	fn   Fn
}

// Pool executes submitted callables on a fixed set of worker goroutines.
// Workers are started lazily on first submission; the pool rejects all
// work after Shutdown.
type Pool struct {
	cfg     Config
	sem     *semaphore.Weighted
	brk     *breaker
	tel     telemetry
	metrics *poolMetrics
	allowed map[string]struct{}

	mu      sync.Mutex
	started bool
	closed  bool
	queue   chan submission
	cancel  context.CancelFunc
	baseCtx context.Context
	wg      sync.WaitGroup

	tasksMu sync.Mutex
	tasks   map[string]*Task
}

// New creates a pool from the given configuration.
func New(cfg Config) *Pool {
	cfg = cfg.withDefaults()
	baseCtx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		cfg:     cfg,
		sem:     semaphore.NewWeighted(int64(cfg.QueueSize)),
		queue:   make(chan submission, cfg.QueueSize),
		baseCtx: baseCtx,
		cancel:  cancel,
		tasks:   make(map[string]*Task),
	}
	p.brk = newBreaker(cfg.BreakerFailures, cfg.BreakerResetTimeout, cfg.BreakerHysteresis, func() {
		p.tel.update(func(t *Telemetry) { t.BreakerOpens++ })
	})
	if cfg.Metrics != nil {
		p.metrics = newPoolMetrics(cfg.Metrics, string(cfg.Kind))
	}
	if len(cfg.AllowedCallables) > 0 {
		p.allowed = make(map[string]struct{}, len(cfg.AllowedCallables))
		for _, name := range cfg.AllowedCallables {
			p.allowed[name] = struct{}{}
		}
	}
	return p
}

// Kind returns the pool's configured kind.
func (p *Pool) Kind() Kind { return p.cfg.Kind }

// Submit admits a callable into the pool and returns its task handle.
// Admission order: closed check, circuit breaker, sandbox allow-list, then
// the capacity semaphore (blocking on ctx or failing fast with
// ErrQueueFull depending on configuration).
func (p *Pool) Submit(ctx context.Context, name string, fn Fn) (*Task, error) {
	logger := ctxlog.FromContext(ctx).With("pool", string(p.cfg.Kind))

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrPoolClosed
	}

	if !p.brk.allow() {
		p.tel.update(func(t *Telemetry) { t.Rejected++ })
		logger.Warn("Submission rejected, circuit breaker open.", "callable", name)
		return nil, ErrCircuitOpen
	}

	if p.allowed != nil {
		if _, ok := p.allowed[name]; !ok {
			p.tel.update(func(t *Telemetry) { t.SandboxViolations++ })
			logger.Error("Sandbox violation.", "callable", name)
			return nil, &SandboxError{Callable: name}
		}
	}

	if p.cfg.QueueBlock {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
	} else if !p.sem.TryAcquire(1) {
		p.tel.update(func(t *Telemetry) { t.Rejected++ })
		return nil, ErrQueueFull
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sem.Release(1)
		return nil, ErrPoolClosed
	}
	p.ensureWorkersLocked()

	task := newTask(p.baseCtx)
	p.tel.update(func(t *Telemetry) {
		t.Submitted++
		t.Active++
	})
	p.metrics.onSubmit()

	p.tasksMu.Lock()
	p.tasks[task.id] = task
	p.tasksMu.Unlock()

	// The semaphore bounds in-flight work to the queue capacity, so this
	// send always finds buffer space and never blocks.
	p.queue <- submission{task: task, fn: p.wrapRetry(name, fn)}
	p.mu.Unlock()

	logger.Debug("Task submitted.", "callable", name, "taskID", task.id)
	return task, nil
}

// SubmitAwait submits the callable and waits for its result, bounded by
// the pool's configured timeout and any deadline already on ctx. On expiry
// the task is cancelled, left to finish in the background, and
// context.DeadlineExceeded is returned.
func (p *Pool) SubmitAwait(ctx context.Context, name string, fn Fn) (any, error) {
	task, err := p.Submit(ctx, name, fn)
	if err != nil {
		return nil, err
	}

	waitCtx := ctx
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	result, err := task.Wait(waitCtx)
	if errors.Is(err, context.DeadlineExceeded) {
		task.Cancel()
		p.tel.update(func(t *Telemetry) { t.TimedOut++ })
		ctxlog.FromContext(ctx).Error("Task timed out.",
			"pool", string(p.cfg.Kind), "callable", name, "taskID", task.ID())
	}
	return result, err
}

// CancelTask cancels the task with the given id, if it is still known to
// the pool and has not completed.
func (p *Pool) CancelTask(id string) bool {
	p.tasksMu.Lock()
	task, ok := p.tasks[id]
	p.tasksMu.Unlock()
	if !ok {
		return false
	}
	return task.Cancel()
}

// Stats returns a snapshot of the pool's telemetry.
func (p *Pool) Stats() Telemetry {
	return p.tel.snapshot()
}

// Workers returns the configured worker count.
func (p *Pool) Workers() int { return p.cfg.Workers }

// Shutdown closes the pool. Queued tasks are cancelled, running tasks
// have their contexts cancelled, and every later submission fails with
// ErrPoolClosed. When wait is true Shutdown blocks until the workers have
// drained.
func (p *Pool) Shutdown(wait bool) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.cancel()
	close(p.queue)
	p.mu.Unlock()

	if wait {
		p.wg.Wait()
	}
	p.metrics.unregister(p.cfg.Metrics)
}

// ensureWorkersLocked starts the worker set exactly once. Callers hold
// p.mu, so concurrent first submissions cannot double-construct it.
func (p *Pool) ensureWorkersLocked() {
	if p.started {
		return
	}
	p.started = true
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// worker drains the queue until the pool shuts down.
func (p *Pool) worker() {
	defer p.wg.Done()
	for sub := range p.queue {
		p.execute(sub)
	}
}

// execute runs a single submission and settles its bookkeeping: the
// semaphore slot is released exactly once, the telemetry counters are
// updated and the circuit breaker is fed. The slot release and counter
// updates happen before the task is marked finished, so a caller that
// observes completion can immediately submit again.
func (p *Pool) execute(sub submission) {
	var (
		result any
		err    error
	)
	if sub.task.wasCancelled() || sub.task.ctx.Err() != nil {
		err = context.Canceled
	} else {
		result, err = runSafe(sub.task.ctx, sub.fn)
	}

	p.tasksMu.Lock()
	delete(p.tasks, sub.task.id)
	p.tasksMu.Unlock()

	switch {
	case sub.task.wasCancelled() || errors.Is(err, context.Canceled):
		p.tel.update(func(t *Telemetry) {
			t.Cancelled++
			t.Active--
		})
		p.metrics.onCancelled()
	case err != nil:
		p.tel.update(func(t *Telemetry) {
			t.Failed++
			t.Active--
		})
		p.metrics.onDone(true)
		p.brk.recordFailure()
	default:
		p.tel.update(func(t *Telemetry) {
			t.Finished++
			t.Active--
		})
		p.metrics.onDone(false)
		p.brk.recordSuccess()
	}

	p.sem.Release(1)
	sub.task.finish(result, err)
}

// runSafe shields the worker goroutine from panicking callables.
func runSafe(ctx context.Context, fn Fn) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("workpool: task panicked: %v", rec)
		}
	}()
	return fn(ctx)
}

// wrapRetry composes the retry wrapper around fn when retries are
// configured: each failed attempt sleeps an exponentially growing backoff
// capped at the configured maximum before trying again.
func (p *Pool) wrapRetry(name string, fn Fn) Fn {
	if p.cfg.Retries <= 0 {
		return fn
	}
	retries := p.cfg.Retries
	base := p.cfg.RetryBackoffBase
	backoffMax := p.cfg.RetryBackoffMax

	return func(ctx context.Context) (any, error) {
		delay := base
		for attempt := 0; ; attempt++ {
			result, err := fn(ctx)
			if err == nil || attempt >= retries || ctx.Err() != nil {
				return result, err
			}
			p.tel.update(func(t *Telemetry) { t.Retries++ })

			sleep := delay
			if sleep > backoffMax {
				sleep = backoffMax
			}
			ctxlog.FromContext(ctx).Warn("Retrying failed task.",
				"pool", string(p.cfg.Kind), "callable", name,
				"attempt", attempt+1, "backoff", sleep, "error", err)
			select {
			case <-time.After(sleep):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			delay *= 2
		}
	}
}
