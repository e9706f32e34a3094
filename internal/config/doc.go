// Package config loads the application's runtime configuration from HCL
// files: orchestrator tuning, pool definitions and an optional inline
// controller topology. The controller topology document saved and
// restored at runtime is a separate JSON format owned by the
// orchestrator package.
package config
