package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vk/stagegrid/internal/ctxlog"
	"github.com/vk/stagegrid/internal/procpool"
	"github.com/vk/stagegrid/internal/stage"
	"github.com/vk/stagegrid/internal/workpool"
)

// fileRoot decodes all recognised top-level blocks from any file.
type fileRoot struct {
	Manager      *managerBlock      `hcl:"manager,block"`
	WorkPools    []*workPoolBlock   `hcl:"work_pool,block"`
	ProcPools    []*procPoolBlock   `hcl:"proc_pool,block"`
	Controllers  []*controllerBlock `hcl:"controller,block"`
	Dependencies []*dependencyBlock `hcl:"dependency,block"`
	Remain       hcl.Body           `hcl:",remain"`
}

type managerBlock struct {
	Name        string `hcl:"name,label"`
	Concurrency int    `hcl:"concurrency,optional"`
	Parallel    bool   `hcl:"parallel,optional"`
}

type workPoolBlock struct {
	Kind              string   `hcl:"kind,label"`
	Workers           int      `hcl:"workers,optional"`
	CPUFactor         float64  `hcl:"cpu_factor,optional"`
	QueueSize         int      `hcl:"queue_size,optional"`
	QueueBlock        bool     `hcl:"queue_block,optional"`
	Timeout           string   `hcl:"timeout,optional"`
	Retries           int      `hcl:"retries,optional"`
	RetryBackoffBase  string   `hcl:"retry_backoff_base,optional"`
	RetryBackoffMax   string   `hcl:"retry_backoff_max,optional"`
	BreakerFailures   int      `hcl:"breaker_failures,optional"`
	BreakerReset      string   `hcl:"breaker_reset,optional"`
	BreakerHysteresis string   `hcl:"breaker_hysteresis,optional"`
	AllowedCallables  []string `hcl:"allowed_callables,optional"`
	Metrics           bool     `hcl:"metrics,optional"`
}

type procPoolBlock struct {
	Kind          string `hcl:"kind,label"`
	Workers       int    `hcl:"workers,optional"`
	Timeout       string `hcl:"timeout,optional"`
	KillOnTimeout bool   `hcl:"kill_on_timeout,optional"`
}

type controllerBlock struct {
	Type             string         `hcl:"type,label"`
	Name             string         `hcl:"name,label"`
	Enabled          *bool          `hcl:"enabled,optional"`
	InputSensors     []string       `hcl:"input_sensors,optional"`
	InputControllers []string       `hcl:"input_controllers,optional"`
	OutputName       string         `hcl:"output_name,optional"`
	Parameters       hcl.Expression `hcl:"parameters,optional"`
}

type dependencyBlock struct {
	Source string            `hcl:"source"`
	Target string            `hcl:"target"`
	Remap  map[string]string `hcl:"data_mapping,optional"`
}

// Load parses every .hcl file found under the given paths and merges the
// recognised blocks into one Model. Paths that do not exist are skipped;
// later manager blocks override earlier ones.
func Load(ctx context.Context, paths ...string) (*Model, error) {
	logger := ctxlog.FromContext(ctx)
	files, err := findAllHCLFiles(paths)
	if err != nil {
		return nil, err
	}
	logger.Debug("Discovered configuration files.", "count", len(files))

	model := newModel()
	parser := hclparse.NewParser()

	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse %s: %w", file, diags)
		}

		var root fileRoot
		if diags := gohcl.DecodeBody(hclFile.Body, nil, &root); diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode %s: %w", file, diags)
		}
		if err := mergeRoot(model, &root); err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
	}

	logger.Debug("Configuration loading complete.",
		"work_pools", len(model.WorkPools),
		"proc_pools", len(model.ProcPools),
		"controllers", len(model.Controllers),
		"dependencies", len(model.Dependencies))
	return model, nil
}

func mergeRoot(model *Model, root *fileRoot) error {
	if root.Manager != nil {
		model.Manager = Manager{
			Name:        root.Manager.Name,
			Concurrency: root.Manager.Concurrency,
			Parallel:    root.Manager.Parallel,
		}
	}
	for _, block := range root.WorkPools {
		cfg, err := translateWorkPool(block)
		if err != nil {
			return fmt.Errorf("work_pool %q: %w", block.Kind, err)
		}
		model.WorkPools[cfg.Kind] = cfg
	}
	for _, block := range root.ProcPools {
		cfg, err := translateProcPool(block)
		if err != nil {
			return fmt.Errorf("proc_pool %q: %w", block.Kind, err)
		}
		model.ProcPools[cfg.Kind] = cfg
	}
	for _, block := range root.Controllers {
		cfg, err := translateController(block)
		if err != nil {
			return fmt.Errorf("controller %q: %w", block.Name, err)
		}
		model.Controllers = append(model.Controllers, cfg)
	}
	for _, block := range root.Dependencies {
		model.Dependencies = append(model.Dependencies, Dependency{
			Source: block.Source,
			Target: block.Target,
			Remap:  block.Remap,
		})
	}
	return nil
}

func translateWorkPool(block *workPoolBlock) (workpool.Config, error) {
	cfg := workpool.Config{
		Kind:             workpool.Kind(block.Kind),
		Workers:          block.Workers,
		CPUFactor:        block.CPUFactor,
		QueueSize:        block.QueueSize,
		QueueBlock:       block.QueueBlock,
		Retries:          block.Retries,
		BreakerFailures:  block.BreakerFailures,
		AllowedCallables: block.AllowedCallables,
	}
	if block.Metrics {
		cfg.Metrics = prometheus.DefaultRegisterer
	}
	for _, d := range []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{block.Timeout, "timeout", &cfg.Timeout},
		{block.RetryBackoffBase, "retry_backoff_base", &cfg.RetryBackoffBase},
		{block.RetryBackoffMax, "retry_backoff_max", &cfg.RetryBackoffMax},
		{block.BreakerReset, "breaker_reset", &cfg.BreakerResetTimeout},
		{block.BreakerHysteresis, "breaker_hysteresis", &cfg.BreakerHysteresis},
	} {
		if err := parseDuration(d.raw, d.name, d.dst); err != nil {
			return workpool.Config{}, err
		}
	}
	return cfg, nil
}

func translateProcPool(block *procPoolBlock) (procpool.Config, error) {
	cfg := procpool.Config{
		Kind:          procpool.Kind(block.Kind),
		Workers:       block.Workers,
		KillOnTimeout: block.KillOnTimeout,
	}
	if err := parseDuration(block.Timeout, "timeout", &cfg.Timeout); err != nil {
		return procpool.Config{}, err
	}
	return cfg, nil
}

func translateController(block *controllerBlock) (stage.Config, error) {
	params, err := evalAttributes(block.Parameters, "parameters")
	if err != nil {
		return stage.Config{}, err
	}
	enabled := true
	if block.Enabled != nil {
		enabled = *block.Enabled
	}
	cfg := stage.Config{
		ID:               block.Name,
		Type:             block.Type,
		Enabled:          enabled,
		Parameters:       params,
		InputSensors:     block.InputSensors,
		InputControllers: block.InputControllers,
		OutputName:       block.OutputName,
	}
	return cfg, cfg.Validate()
}

func parseDuration(raw, name string, dst *time.Duration) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	*dst = d
	return nil
}

// findAllHCLFiles walks the given paths and returns every .hcl file found,
// deduplicated, in discovery order.
func findAllHCLFiles(paths []string) ([]string, error) {
	var all []string
	seen := make(map[string]struct{})

	add := func(p string) {
		if _, ok := seen[p]; !ok {
			all = append(all, p)
			seen[p] = struct{}{}
		}
	}

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("error accessing path %s: %w", path, err)
		}
		if !info.IsDir() {
			if filepath.Ext(path) == ".hcl" {
				add(path)
			}
			continue
		}
		err = filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if !info.IsDir() && filepath.Ext(p) == ".hcl" {
				add(p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return all, nil
}
