package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/vk/stagegrid/internal/config"
	"github.com/vk/stagegrid/internal/ctxlog"
	"github.com/vk/stagegrid/internal/orchestrator"
	"github.com/vk/stagegrid/internal/poolmgr"
	"github.com/vk/stagegrid/internal/registry"
)

// App encapsulates the application's dependencies, configuration and
// lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	cfg      *Config
	model    *config.Model
	pools    *poolmgr.Manager
	registry *registry.Registry
	orch     *orchestrator.Orchestrator
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance with its own isolated logger, pool manager,
// registry and orchestrator. A failure to load configuration is a fatal
// startup error and panics; the entrypoint recovers it into a clean exit.
func NewApp(outW io.Writer, appConfig *Config, modules ...registry.Module) *App {
	logger := newLogger(appConfig.LogLevel, appConfig.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	var configPaths []string
	if appConfig.ConfigPath != "" {
		configPaths = append(configPaths, appConfig.ConfigPath)
	}
	model, err := config.Load(ctx, configPaths...)
	if err != nil {
		panic(fmt.Errorf("failed to load configuration: %w", err))
	}
	logger.Debug("Configuration loaded.")

	pools := poolmgr.New(poolmgr.Options{Work: model.WorkPools, Proc: model.ProcPools})

	reg := registry.New()
	if len(modules) == 0 {
		modules = coreModules(pools, outW)
	}
	for _, mod := range modules {
		mod.Register(reg)
	}
	logger.Debug("Controller modules registered.", "types", reg.Types())

	orchCfg := orchestrator.Config{
		ID:          model.Manager.Name,
		Concurrency: model.Manager.Concurrency,
		Parallel:    model.Manager.Parallel || appConfig.Parallel,
	}
	if appConfig.Concurrency > 0 {
		orchCfg.Concurrency = appConfig.Concurrency
	}

	return &App{
		outW:     outW,
		logger:   logger,
		cfg:      appConfig,
		model:    model,
		pools:    pools,
		registry: reg,
		orch:     orchestrator.New(reg, orchCfg),
	}
}

// Orchestrator returns the application's orchestrator. Primarily for
// testing.
func (a *App) Orchestrator() *orchestrator.Orchestrator {
	return a.orch
}

// Registry returns the application's controller registry. Primarily for
// testing.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Pools returns the application's pool manager. Primarily for testing.
func (a *App) Pools() *poolmgr.Manager {
	return a.pools
}
