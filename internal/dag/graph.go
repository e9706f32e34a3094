package dag

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Edge is a directed dependency from a source controller to a target
// controller. Remap optionally renames source output keys to target input
// keys when the target's input is assembled.
type Edge struct {
	Source string            `json:"source"`
	Target string            `json:"target"`
	Remap  map[string]string `json:"data_mapping,omitempty"`
}

// CycleError reports that a mutation would make the graph cyclic. It names
// the controller ids that could not be placed in any execution level.
type CycleError struct {
	Remaining []string
}

func (e *CycleError) Error() string {
	ids := append([]string(nil), e.Remaining...)
	sort.Strings(ids)
	return fmt.Sprintf("circular dependency detected involving controllers: %s", strings.Join(ids, ", "))
}

// Plan is the derived execution plan: a flat topological order plus a
// partition into levels where every member of level k depends only on
// members of earlier levels. Members of one level carry no ordering
// requirement relative to each other.
type Plan struct {
	Order  []string
	Levels [][]string
}

// Graph is the set of registered controller ids and the directed edges
// between them. All operations are concurrency-safe.
type Graph struct {
	mu sync.RWMutex
	// ids keeps insertion order so plan computation stays deterministic.
	ids     []string
	present map[string]struct{}
	edges   []Edge
	plan    Plan
}

// New creates an empty graph with an empty (but valid) plan.
func New() *Graph {
	return &Graph{present: make(map[string]struct{})}
}

// AddNode registers a controller id. Registering an id twice is an error.
func (g *Graph) AddNode(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.present[id]; ok {
		return fmt.Errorf("controller %s already registered", id)
	}
	g.ids = append(g.ids, id)
	g.present[id] = struct{}{}
	// A new isolated node can never introduce a cycle.
	g.plan = g.compute()
	return nil
}

// RemoveNode unregisters a controller id together with every edge touching
// it. It reports whether the id was present.
func (g *Graph) RemoveNode(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.present[id]; !ok {
		return false
	}
	delete(g.present, id)
	for i, known := range g.ids {
		if known == id {
			g.ids = append(g.ids[:i], g.ids[i+1:]...)
			break
		}
	}
	kept := g.edges[:0]
	for _, e := range g.edges {
		if e.Source != id && e.Target != id {
			kept = append(kept, e)
		}
	}
	g.edges = kept
	// Removing a node can only break cycles, never create one.
	g.plan = g.compute()
	return true
}

// AddEdge records a dependency from source to target. Both endpoints must
// be registered. If the edge would create a cycle it is rolled back, a
// *CycleError is returned and the previous plan stays untouched.
func (g *Graph) AddEdge(source, target string, remap map[string]string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.present[source]; !ok {
		return fmt.Errorf("source controller %s not registered", source)
	}
	if _, ok := g.present[target]; !ok {
		return fmt.Errorf("target controller %s not registered", target)
	}
	if source == target {
		return &CycleError{Remaining: []string{source}}
	}

	g.edges = append(g.edges, Edge{Source: source, Target: target, Remap: remap})
	plan := g.compute()
	if len(plan.Order) != len(g.ids) {
		g.edges = g.edges[:len(g.edges)-1]
		return &CycleError{Remaining: g.unplaced(plan)}
	}
	g.plan = plan
	return nil
}

// Plan returns a copy of the current execution plan.
func (g *Graph) Plan() Plan {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := Plan{Order: append([]string(nil), g.plan.Order...)}
	out.Levels = make([][]string, len(g.plan.Levels))
	for i, level := range g.plan.Levels {
		out.Levels[i] = append([]string(nil), level...)
	}
	return out
}

// Edges returns a copy of all edges in insertion order.
func (g *Graph) Edges() []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]Edge(nil), g.edges...)
}

// EdgesInto returns the edges whose target is the given controller, in
// insertion order.
func (g *Graph) EdgesInto(target string) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []Edge
	for _, e := range g.edges {
		if e.Target == target {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of registered controllers.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.ids)
}

// compute runs Kahn's algorithm over the current nodes and edges. It
// returns the resulting plan; when the graph is cyclic the returned order
// is shorter than the node count and the caller decides how to react.
// Iteration is driven by the insertion-order id slice so the result is
// deterministic, which keeps test output stable.
func (g *Graph) compute() Plan {
	inDegree := make(map[string]int, len(g.ids))
	adjacent := make(map[string][]string, len(g.ids))
	for _, id := range g.ids {
		inDegree[id] = 0
	}
	for _, e := range g.edges {
		adjacent[e.Source] = append(adjacent[e.Source], e.Target)
		inDegree[e.Target]++
	}

	var queue []string
	for _, id := range g.ids {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	plan := Plan{}
	for len(queue) > 0 {
		level := queue
		plan.Levels = append(plan.Levels, level)
		var next []string
		for _, id := range level {
			plan.Order = append(plan.Order, id)
			for _, downstream := range adjacent[id] {
				inDegree[downstream]--
				if inDegree[downstream] == 0 {
					next = append(next, downstream)
				}
			}
		}
		queue = next
	}
	return plan
}

// unplaced returns the ids missing from the plan's order, i.e. the members
// of at least one cycle plus everything downstream of them.
func (g *Graph) unplaced(plan Plan) []string {
	placed := make(map[string]struct{}, len(plan.Order))
	for _, id := range plan.Order {
		placed[id] = struct{}{}
	}
	var out []string
	for _, id := range g.ids {
		if _, ok := placed[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
