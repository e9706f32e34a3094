// Package procpool executes CPU-bound jobs in isolated worker processes.
//
// Workers are child processes of the same binary, marked by the WorkerEnv
// environment variable and spoken to over stdin/stdout with
// length-delimited msgpack frames. Work is registered by name in a
// JobRegistry shared by the parent and worker sides; payloads are opaque
// byte slices. The pool enforces an optional per-task timeout and, when
// configured with KillOnTimeout, trades pool availability for guaranteed
// termination of runaway work: every live worker is killed and the worker
// set is lazily recreated on the next submission.
package procpool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vk/stagegrid/internal/ctxlog"
)

var (
	// ErrPoolClosed is returned for every submission after Shutdown.
	ErrPoolClosed = errors.New("procpool: pool closed")
	// ErrActiveTasks is returned by ScaleWorkers while tasks are in
	// flight and the forced flag is not set.
	ErrActiveTasks = errors.New("procpool: tasks active, scaling refused")
)

// JobError is a job failure reported by a worker process.
type JobError struct {
	Job string
	Msg string
}

func (e *JobError) Error() string {
	return fmt.Sprintf("procpool: job %q failed: %s", e.Job, e.Msg)
}

// Kind names a pool's purpose, mirroring workpool.Kind.
type Kind string

const (
	KindDefault Kind = "default"
	KindCPU     Kind = "cpu"
)

// Config tunes one process pool.
type Config struct {
	Kind Kind

	// Workers bounds the number of live worker processes. Zero means
	// the CPU count.
	Workers int

	// Timeout bounds each awaited task in SubmitAwait. Zero disables it.
	Timeout time.Duration

	// KillOnTimeout kills every live worker and tears the worker set
	// down when an awaited task times out.
	KillOnTimeout bool

	// Command is the argv used to spawn workers. It defaults to the
	// current binary, which re-enters through WorkerMain.
	Command []string
}

func (c Config) withDefaults() Config {
	if c.Kind == "" {
		c.Kind = KindDefault
	}
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if len(c.Command) == 0 {
		c.Command = []string{os.Args[0]}
	}
	return c
}

// Telemetry is the pool's task bookkeeping. At rest, Active is zero and
// Finished + Failed + Cancelled equals Submitted.
type Telemetry struct {
	Submitted int64 `json:"submitted"`
	Finished  int64 `json:"finished"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
	TimedOut  int64 `json:"timed_out"`
	Active    int64 `json:"active"`
}

type telemetry struct {
	mu sync.Mutex
	t  Telemetry
}

func (c *telemetry) update(f func(*Telemetry)) {
	c.mu.Lock()
	f(&c.t)
	c.mu.Unlock()
}

func (c *telemetry) snapshot() Telemetry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// workerProc is one live worker process. A worker serves one request at a
// time; ownership moves between the idle list and the submission that
// borrowed it.
type workerProc struct {
	gen    int
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader
}

// Pool runs registered jobs in worker processes.
type Pool struct {
	cfg Config
	tel telemetry

	mu      sync.Mutex
	closed  bool
	gen     int
	spawned int
	idle    chan *workerProc
	// live holds every spawned worker of the current generation, idle and
	// borrowed alike, so teardown can kill workers that are mid-task.
	live map[*workerProc]struct{}
}

// New creates a pool. Workers are spawned lazily on first submission.
func New(cfg Config) *Pool {
	cfg = cfg.withDefaults()
	return &Pool{
		cfg:  cfg,
		idle: make(chan *workerProc, cfg.Workers),
		live: make(map[*workerProc]struct{}),
	}
}

// Kind returns the pool's configured kind.
func (p *Pool) Kind() Kind { return p.cfg.Kind }

// Workers returns the current worker bound.
func (p *Pool) Workers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.Workers
}

// Stats returns a snapshot of the pool's telemetry.
func (p *Pool) Stats() Telemetry {
	return p.tel.snapshot()
}

// Submit runs the named job in a worker process and blocks until the
// response arrives or ctx is done. A finished worker returns to the idle
// list; a worker whose pipe broke is discarded and replaced lazily.
func (p *Pool) Submit(ctx context.Context, job string, payload []byte) ([]byte, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.mu.Unlock()

	p.tel.update(func(t *Telemetry) {
		t.Submitted++
		t.Active++
	})

	result, err := p.run(ctx, job, payload)

	p.tel.update(func(t *Telemetry) {
		t.Active--
		switch {
		case err == nil:
			t.Finished++
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			t.Cancelled++
		default:
			t.Failed++
		}
	})
	return result, err
}

// SubmitAwait runs the named job bounded by the pool's configured timeout.
// On expiry the task is cancelled and, with KillOnTimeout set, every live
// worker is killed and the worker set torn down; the caller decides
// whether to resubmit.
func (p *Pool) SubmitAwait(ctx context.Context, job string, payload []byte) ([]byte, error) {
	runCtx := ctx
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	result, err := p.Submit(runCtx, job, payload)
	if errors.Is(err, context.DeadlineExceeded) {
		p.tel.update(func(t *Telemetry) { t.TimedOut++ })
		logger := ctxlog.FromContext(ctx).With("pool", string(p.cfg.Kind), "job", job)
		logger.Warn("Process task timed out.", "timeout", p.cfg.Timeout)
		if p.cfg.KillOnTimeout {
			logger.Warn("Killing worker processes after timeout.")
			p.teardown()
		}
	}
	return result, err
}

// ScaleWorkers changes the worker bound and tears the current worker set
// down so it is recreated at the new size. It refuses to scale while tasks
// are active unless force is set, to avoid silently dropping in-flight
// work.
func (p *Pool) ScaleWorkers(newMax int, force bool) error {
	if newMax < 1 {
		newMax = 1
	}
	if cpus := runtime.NumCPU(); newMax > cpus {
		newMax = cpus
	}

	if !force && p.tel.snapshot().Active > 0 {
		return ErrActiveTasks
	}

	p.mu.Lock()
	p.cfg.Workers = newMax
	p.mu.Unlock()
	p.teardown()
	return nil
}

// Shutdown closes the pool and kills all workers. Further submissions
// fail with ErrPoolClosed.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	p.teardown()
}

// run borrows a worker, performs one request/response round trip and
// returns the worker afterwards. When ctx expires mid-flight the round
// trip keeps draining in the background so the worker can rejoin the pool
// once the stale result arrives; its result is discarded.
func (p *Pool) run(ctx context.Context, job string, payload []byte) ([]byte, error) {
	w, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}

	req := request{ID: uuid.NewString(), Job: job, Payload: payload}

	type outcome struct {
		resp response
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		var out outcome
		if out.err = writeFrame(w.stdin, req); out.err == nil {
			out.err = readFrame(w.stdout, &out.resp)
		}
		done <- out
	}()

	select {
	case out := <-done:
		if out.err != nil {
			p.discard(w)
			return nil, fmt.Errorf("procpool: worker round trip: %w", out.err)
		}
		p.release(w)
		if !out.resp.OK {
			return nil, &JobError{Job: job, Msg: out.resp.Error}
		}
		return out.resp.Payload, nil
	case <-ctx.Done():
		go func() {
			out := <-done
			if out.err != nil {
				p.discard(w)
				return
			}
			p.release(w)
		}()
		return nil, ctx.Err()
	}
}

// acquire hands out an idle worker, spawning a new one while the pool is
// below its worker bound.
func (p *Pool) acquire(ctx context.Context) (*workerProc, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}
		select {
		case w := <-p.idle:
			if w.gen != p.gen {
				p.mu.Unlock()
				killWorker(w)
				continue
			}
			p.mu.Unlock()
			return w, nil
		default:
		}
		if p.spawned < p.cfg.Workers {
			w, err := p.spawnLocked()
			p.mu.Unlock()
			return w, err
		}
		idle := p.idle
		gen := p.gen
		p.mu.Unlock()

		select {
		case w := <-idle:
			if w.gen != gen {
				killWorker(w)
				continue
			}
			return w, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// release returns a healthy worker to the idle list, unless the pool was
// torn down or closed underneath it.
func (p *Pool) release(w *workerProc) {
	p.mu.Lock()
	if p.closed || w.gen != p.gen {
		p.mu.Unlock()
		killWorker(w)
		return
	}
	p.idle <- w
	p.mu.Unlock()
}

// discard kills a broken worker and frees its slot.
func (p *Pool) discard(w *workerProc) {
	p.mu.Lock()
	if w.gen == p.gen {
		p.spawned--
	}
	delete(p.live, w)
	p.mu.Unlock()
	killWorker(w)
}

// teardown kills every live worker, borrowed ones included, and starts a
// new generation. The next submission lazily respawns workers.
func (p *Pool) teardown() {
	p.mu.Lock()
	p.gen++
	p.spawned = 0
	old := p.idle
	p.idle = make(chan *workerProc, p.cfg.Workers)
	doomed := make([]*workerProc, 0, len(p.live))
	for w := range p.live {
		doomed = append(doomed, w)
	}
	p.live = make(map[*workerProc]struct{})
	p.mu.Unlock()

	for _, w := range doomed {
		killWorker(w)
	}
	// Drain the stale idle list; its workers are already dead.
	for {
		select {
		case <-old:
		default:
			return
		}
	}
}

// spawnLocked starts one worker process. The caller holds p.mu.
func (p *Pool) spawnLocked() (*workerProc, error) {
	cmd := exec.Command(p.cfg.Command[0], p.cfg.Command[1:]...)
	cmd.Env = append(os.Environ(), WorkerEnv+"=1")
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("procpool: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("procpool: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("procpool: start worker: %w", err)
	}

	p.spawned++
	w := &workerProc{gen: p.gen, cmd: cmd, stdin: stdin, stdout: stdout}
	p.live[w] = struct{}{}
	// Reap the child when it exits so killed workers don't linger as
	// zombies.
	go func() { _ = cmd.Wait() }()
	return w, nil
}

// killWorker closes the pipes and kills the process outright.
func killWorker(w *workerProc) {
	_ = w.stdin.Close()
	if w.cmd.Process != nil {
		_ = w.cmd.Process.Kill()
	}
}
