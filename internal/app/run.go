package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/vk/stagegrid/internal/ctxlog"
)

// Run executes the main application lifecycle: populate the orchestrator,
// start every controller, drive periodic runs until the configured run
// count is reached or an interrupt arrives, then stop controllers and
// shut the pools down.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.populate(ctx); err != nil {
		return err
	}

	if len(a.orch.List()) == 0 {
		a.logger.Warn("No controllers configured, nothing to run.")
		return nil
	}

	if !a.orch.StartAll(ctx) {
		if !a.orch.Running() {
			return errors.New("no controller could be started")
		}
		a.logger.Warn("Some controllers failed to start, continuing with the rest.")
	}

	a.logger.Info("Run loop starting.",
		"manager", a.orch.ID(),
		"controllers", len(a.orch.List()),
		"interval", a.cfg.Interval,
		"runs", a.cfg.Runs)

	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	run := 0
loop:
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("Interrupt received, shutting down.")
			break loop
		case <-ticker.C:
			run++
			results := a.orch.ProcessData(ctx, a.sample(run), map[string]any{"run": run})
			failed := 0
			for _, r := range results {
				if !r.OK {
					failed++
				}
			}
			if failed > 0 {
				a.logger.Warn("Run completed with failures.", "run", run, "failed", failed)
			}
			if a.cfg.Runs > 0 && run >= a.cfg.Runs {
				break loop
			}
		}
	}

	a.shutdown()
	return nil
}

// sample produces the external input of one run. The CLI has no real
// sensors attached, so it feeds the run counter and the wall clock; the
// capture stage turns them into a payload for the rest of the pipeline.
func (a *App) sample(run int) map[string]any {
	return map[string]any{
		"run":   run,
		"clock": float64(time.Now().UnixMilli()),
	}
}

func (a *App) shutdown() {
	// Shutdown must not be cut short by the signal context.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ctx = ctxlog.WithLogger(ctx, a.logger)

	a.orch.StopAll(ctx)
	a.pools.ShutdownAll(ctx)

	stats := a.orch.Stats()
	a.logger.Info("Final statistics.",
		"runs", stats.Processing.Runs,
		"processed", stats.Processing.Processed,
		"succeeded", stats.Processing.Succeeded,
		"failed", stats.Processing.Failed)
}
