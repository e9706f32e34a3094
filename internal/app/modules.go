package app

import (
	"io"

	"github.com/vk/stagegrid/internal/poolmgr"
	"github.com/vk/stagegrid/internal/procpool"
	"github.com/vk/stagegrid/internal/registry"
	"github.com/vk/stagegrid/modules/capture"
	"github.com/vk/stagegrid/modules/delta"
	"github.com/vk/stagegrid/modules/printsink"
	"github.com/vk/stagegrid/modules/threshold"
)

// coreModules is the definitive list of controller modules compiled into
// the binary.
func coreModules(pools *poolmgr.Manager, outW io.Writer) []registry.Module {
	return []registry.Module{
		&capture.Module{Pools: pools},
		&delta.Module{Pools: pools},
		&threshold.Module{Pools: pools},
		&printsink.Module{Out: outW},
	}
}

// WorkerJobs builds the job registry a re-executed pool worker runs with.
// It must cover every job the parent submits.
func WorkerJobs() *procpool.JobRegistry {
	reg := procpool.NewJobRegistry()
	delta.RegisterJobs(reg)
	return reg
}
