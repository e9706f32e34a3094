package orchestrator

import (
	"time"

	"github.com/vk/stagegrid/internal/stage"
)

// DependencyInfo describes one edge of the dependency graph in stats
// output.
type DependencyInfo struct {
	Source     string `json:"source"`
	Target     string `json:"target"`
	HasMapping bool   `json:"has_mapping"`
}

// ProcessingStats aggregates run-level counters across ProcessData calls.
type ProcessingStats struct {
	Runs         int           `json:"runs"`
	Processed    int           `json:"processed"`
	Succeeded    int           `json:"succeeded"`
	Failed       int           `json:"failed"`
	TotalElapsed time.Duration `json:"total_elapsed"`
	LastRun      time.Time     `json:"last_run"`
}

// Stats is a point-in-time snapshot of the orchestrator.
type Stats struct {
	ID             string                 `json:"manager_id"`
	Running        bool                   `json:"running"`
	Total          int                    `json:"total_controllers"`
	ExecutionOrder []string               `json:"execution_order"`
	Levels         [][]string             `json:"execution_levels"`
	Dependencies   []DependencyInfo       `json:"dependencies"`
	Processing     ProcessingStats        `json:"processing"`
	Controllers    map[string]stage.Stats `json:"controllers"`
}

// Stats returns a consistent snapshot of registration state, the current
// execution plan, dependency edges and per-controller counters.
func (o *Orchestrator) Stats() Stats {
	plan := o.graph.Plan()

	deps := make([]DependencyInfo, 0, o.graph.Len())
	for _, edge := range o.graph.Edges() {
		deps = append(deps, DependencyInfo{
			Source:     edge.Source,
			Target:     edge.Target,
			HasMapping: len(edge.Remap) > 0,
		})
	}

	o.mu.Lock()
	running := o.running
	controllers := make(map[string]stage.Stats, len(o.controllers))
	for id, rt := range o.controllers {
		controllers[id] = rt.Stats()
	}
	total := len(o.controllers)
	o.mu.Unlock()

	o.statsMu.Lock()
	processing := o.processing
	o.statsMu.Unlock()

	return Stats{
		ID:             o.id,
		Running:        running,
		Total:          total,
		ExecutionOrder: plan.Order,
		Levels:         plan.Levels,
		Dependencies:   deps,
		Processing:     processing,
		Controllers:    controllers,
	}
}

func (o *Orchestrator) recordRun(elapsed time.Duration, results map[string]stage.Result) {
	o.statsMu.Lock()
	defer o.statsMu.Unlock()
	o.processing.Runs++
	o.processing.TotalElapsed += elapsed
	o.processing.LastRun = time.Now()
	for _, r := range results {
		o.processing.Processed++
		if r.OK {
			o.processing.Succeeded++
		} else {
			o.processing.Failed++
		}
	}
}
