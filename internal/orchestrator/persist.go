package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vk/stagegrid/internal/ctxlog"
	"github.com/vk/stagegrid/internal/dag"
	"github.com/vk/stagegrid/internal/stage"
)

// topologyDocument is the on-disk shape of a saved orchestrator topology.
type topologyDocument struct {
	ManagerID    string                  `json:"manager_id"`
	Controllers  map[string]stage.Config `json:"controllers"`
	Dependencies []dag.Edge              `json:"dependencies"`
}

// SaveConfiguration writes the registered controller configurations and
// dependency edges to path as JSON, creating parent directories as
// needed.
func (o *Orchestrator) SaveConfiguration(ctx context.Context, path string) error {
	o.mu.Lock()
	doc := topologyDocument{
		ManagerID:   o.id,
		Controllers: make(map[string]stage.Config, len(o.controllers)),
	}
	for id, rt := range o.controllers {
		doc.Controllers[id] = rt.Config()
	}
	o.mu.Unlock()
	doc.Dependencies = o.graph.Edges()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding topology: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating topology directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing topology: %w", err)
	}

	ctxlog.FromContext(ctx).Info("Topology saved.",
		"manager", o.id, "path", path, "controllers", len(doc.Controllers), "dependencies", len(doc.Dependencies))
	return nil
}

// LoadConfiguration reads a topology document from path, instantiates
// every controller through the factory registry, registers it and wires
// the saved dependency edges.
func (o *Orchestrator) LoadConfiguration(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading topology: %w", err)
	}
	var doc topologyDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decoding topology %q: %w", path, err)
	}

	for id, cfg := range doc.Controllers {
		if cfg.ID == "" {
			cfg.ID = id
		}
		if _, err := o.AddControllerFromConfig(ctx, cfg); err != nil {
			return fmt.Errorf("controller %q: %w", id, err)
		}
	}
	for _, edge := range doc.Dependencies {
		if err := o.AddDependency(ctx, edge.Source, edge.Target, edge.Remap); err != nil {
			return fmt.Errorf("dependency %s -> %s: %w", edge.Source, edge.Target, err)
		}
	}

	ctxlog.FromContext(ctx).Info("Topology loaded.",
		"manager", o.id, "path", path, "controllers", len(doc.Controllers), "dependencies", len(doc.Dependencies))
	return nil
}
