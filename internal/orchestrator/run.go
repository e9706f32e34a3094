package orchestrator

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vk/stagegrid/internal/ctxlog"
	"github.com/vk/stagegrid/internal/stage"
)

// ProcessData runs one batch of external input through every running
// controller in dependency order and returns the per-controller results.
// In serial mode the global semaphore is held for the whole walk, so at
// most `limit` full walks overlap. In parallel mode each controller
// acquires the semaphore individually and whole levels run concurrently.
func (o *Orchestrator) ProcessData(ctx context.Context, external map[string]any, metadata map[string]any) map[string]stage.Result {
	if !o.Running() {
		ctxlog.FromContext(ctx).Warn("Run skipped, orchestrator not running.", "manager", o.id)
		return map[string]stage.Result{}
	}

	start := time.Now()
	plan := o.graph.Plan()
	timestamp := time.Now()

	results := make(map[string]stage.Result, len(plan.Order))
	outputs := make(map[string]map[string]any)
	var outMu sync.Mutex

	if o.parallel {
		o.runLevels(ctx, plan.Levels, external, metadata, timestamp, results, outputs, &outMu)
	} else {
		o.runSerial(ctx, plan.Order, external, metadata, timestamp, results, outputs, &outMu)
	}

	o.recordRun(time.Since(start), results)
	return results
}

func (o *Orchestrator) runSerial(ctx context.Context, order []string, external, metadata map[string]any, ts time.Time, results map[string]stage.Result, outputs map[string]map[string]any, outMu *sync.Mutex) {
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer o.sem.Release(1)

	for _, id := range order {
		result, ok := o.runOne(ctx, id, external, metadata, ts, outputs, outMu)
		if ok {
			results[id] = result
		}
	}
}

func (o *Orchestrator) runLevels(ctx context.Context, levels [][]string, external, metadata map[string]any, ts time.Time, results map[string]stage.Result, outputs map[string]map[string]any, outMu *sync.Mutex) {
	var resMu sync.Mutex
	for _, level := range levels {
		g, gctx := errgroup.WithContext(ctx)
		for _, id := range level {
			id := id
			g.Go(func() error {
				if err := o.sem.Acquire(gctx, 1); err != nil {
					return nil
				}
				defer o.sem.Release(1)
				result, ok := o.runOne(gctx, id, external, metadata, ts, outputs, outMu)
				if ok {
					resMu.Lock()
					results[id] = result
					resMu.Unlock()
				}
				return nil
			})
		}
		_ = g.Wait()
	}
}

// runOne executes a single controller under its per-controller lock and
// publishes its output for downstream consumers. The bool result is
// false when the controller was skipped (unknown or not running).
func (o *Orchestrator) runOne(ctx context.Context, id string, external, metadata map[string]any, ts time.Time, outputs map[string]map[string]any, outMu *sync.Mutex) (stage.Result, bool) {
	rt, lock := o.runtimeAndLock(id)
	if rt == nil || rt.Status() != stage.StatusRunning {
		return stage.Result{}, false
	}

	input := o.assembleInput(rt, external, metadata, ts, outputs, outMu)

	lock.Lock()
	result := rt.ProcessWithTiming(ctx, input)
	lock.Unlock()

	if result.OK && result.Data != nil {
		outMu.Lock()
		outputs[id] = result.Data
		outMu.Unlock()
	}
	return result, true
}

// assembleInput builds the input for one controller: external sensor data
// filtered by the controller's input_sensors allow-list (empty means all),
// merged with upstream outputs delivered along dependency edges, with the
// edge's data_mapping applied and the input_controllers filter honoured.
func (o *Orchestrator) assembleInput(rt *stage.Runtime, external, metadata map[string]any, ts time.Time, outputs map[string]map[string]any, outMu *sync.Mutex) stage.Input {
	cfg := rt.Config()

	sensors := make(map[string]any, len(external))
	if len(cfg.InputSensors) == 0 {
		for k, v := range external {
			sensors[k] = v
		}
	} else {
		for _, name := range cfg.InputSensors {
			if v, ok := external[name]; ok {
				sensors[name] = v
			}
		}
	}

	allowed := make(map[string]bool, len(cfg.InputControllers))
	for _, id := range cfg.InputControllers {
		allowed[id] = true
	}

	upstream := make(map[string]map[string]any)
	for _, edge := range o.graph.EdgesInto(rt.ID()) {
		if len(allowed) > 0 && !allowed[edge.Source] {
			continue
		}
		outMu.Lock()
		out := outputs[edge.Source]
		outMu.Unlock()
		if out == nil {
			continue
		}
		mapped := make(map[string]any, len(out))
		if len(edge.Remap) == 0 {
			for k, v := range out {
				mapped[k] = v
			}
		} else {
			for from, to := range edge.Remap {
				if v, ok := out[from]; ok {
					mapped[to] = v
				}
			}
		}
		upstream[edge.Source] = mapped
	}

	return stage.Input{
		Sensors:   sensors,
		Upstream:  upstream,
		Timestamp: ts,
		Metadata:  metadata,
	}
}
