package app

import (
	"context"
	"fmt"

	"github.com/vk/stagegrid/modules/capture"
	"github.com/vk/stagegrid/modules/delta"
)

// populate instantiates the controllers declared in the runtime
// configuration, restores a topology document when one was given and
// wires the conventional capture-to-delta pipeline if nothing else did.
func (a *App) populate(ctx context.Context) error {
	for _, cfg := range a.model.Controllers {
		if _, err := a.orch.AddControllerFromConfig(ctx, cfg); err != nil {
			return fmt.Errorf("controller %q: %w", cfg.ID, err)
		}
	}
	for _, dep := range a.model.Dependencies {
		if err := a.orch.AddDependency(ctx, dep.Source, dep.Target, dep.Remap); err != nil {
			return fmt.Errorf("dependency %s -> %s: %w", dep.Source, dep.Target, err)
		}
	}

	if a.cfg.TopologyPath != "" {
		if err := a.orch.LoadConfiguration(ctx, a.cfg.TopologyPath); err != nil {
			return err
		}
	}

	a.wireDefaultPipeline(ctx)
	return nil
}

// wireDefaultPipeline connects the first capture controller to the first
// delta controller with the standard payload remap, but only when no
// dependencies were configured at all.
func (a *App) wireDefaultPipeline(ctx context.Context) {
	if len(a.orch.Stats().Dependencies) > 0 {
		return
	}
	var captureID, deltaID string
	for _, id := range a.orch.List() {
		rt := a.orch.Controller(id)
		if rt == nil {
			continue
		}
		switch rt.Config().Type {
		case capture.TypeName:
			if captureID == "" {
				captureID = id
			}
		case delta.TypeName:
			if deltaID == "" {
				deltaID = id
			}
		}
	}
	if captureID == "" || deltaID == "" {
		return
	}
	if err := a.orch.AddDependency(ctx, captureID, deltaID, map[string]string{"payload": "input"}); err != nil {
		a.logger.Warn("Failed to wire default pipeline.", "error", err)
	}
}
