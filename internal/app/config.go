package app

import (
	"errors"
	"time"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	ConfigPath   string // hcl runtime configuration
	TopologyPath string // json controller topology document

	LogFormat string
	LogLevel  string

	// Parallel and Concurrency override the manager block when set.
	Parallel    bool
	Concurrency int

	// Interval is the run-loop period; Runs bounds the number of runs,
	// zero meaning until interrupted.
	Interval time.Duration
	Runs     int
}

// NewConfig validates a Config.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.ConfigPath == "" && cfg.TopologyPath == "" {
		return nil, errors.New("either a configuration path or a topology path is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	return &cfg, nil
}
