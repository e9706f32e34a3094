// Package app wires the runtime together: logger, configuration loading,
// pool manager, controller registry, orchestrator and the periodic run
// loop with graceful shutdown.
package app
