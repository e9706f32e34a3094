package config

import (
	"github.com/vk/stagegrid/internal/procpool"
	"github.com/vk/stagegrid/internal/stage"
	"github.com/vk/stagegrid/internal/workpool"
)

// Dependency wires one controller's output into another's input,
// optionally renaming output keys along the way.
type Dependency struct {
	Source string
	Target string
	Remap  map[string]string
}

// Manager tunes the orchestrator.
type Manager struct {
	Name        string
	Concurrency int
	Parallel    bool
}

// Model is the fully translated runtime configuration.
type Model struct {
	Manager      Manager
	WorkPools    map[workpool.Kind]workpool.Config
	ProcPools    map[procpool.Kind]procpool.Config
	Controllers  []stage.Config
	Dependencies []Dependency
}

func newModel() *Model {
	return &Model{
		WorkPools: make(map[workpool.Kind]workpool.Config),
		ProcPools: make(map[procpool.Kind]procpool.Config),
	}
}
