// Package dag stores the dependency edges between controllers and derives
// the execution plan from them.
//
// The graph is the single owner of the edge list. Every structural
// mutation (adding a node, removing a node, adding an edge) triggers a
// recomputation of the plan, so the plan consumed by the orchestrator is
// always consistent with the current graph before the next run begins. A
// mutation that would make the graph cyclic is rolled back and reported as
// a *CycleError; the previously valid plan stays in force.
package dag
