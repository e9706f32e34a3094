// Package delta implements the change-magnitude controller. Every run it
// compares the current numeric inputs against the previous run and emits
// the magnitude of the change. The computation itself is shipped to the
// shared process pool, keeping heavy numeric work off the runtime's
// goroutines.
package delta

import (
	"context"
	"sort"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/vk/stagegrid/internal/poolmgr"
	"github.com/vk/stagegrid/internal/procpool"
	"github.com/vk/stagegrid/internal/registry"
	"github.com/vk/stagegrid/internal/stage"
)

// TypeName is the controller type this module registers.
const TypeName = "delta"

// Module implements the registry.Module interface for this package.
type Module struct {
	Pools *poolmgr.Manager
}

// Register registers the delta factory with the controller registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterType(TypeName, func(cfg stage.Config) (stage.Stage, error) {
		return &deltaStage{cfg: cfg, pools: m.Pools}, nil
	})
}

type deltaStage struct {
	cfg   stage.Config
	pools *poolmgr.Manager
	pool  *procpool.Pool

	previous []float64
}

func (s *deltaStage) Initialize(ctx context.Context) error {
	if s.pools != nil {
		s.pool = s.pools.AcquireProc(procpool.KindCPU)
	}
	s.previous = nil
	return nil
}

func (s *deltaStage) Cleanup(ctx context.Context) error {
	if s.pool != nil {
		s.pools.ReleaseProc(procpool.KindCPU)
		s.pool = nil
	}
	return nil
}

func (s *deltaStage) Process(ctx context.Context, in stage.Input) (stage.Result, error) {
	current := sampleVector(in)

	payload, err := msgpack.Marshal(magnitudeRequest{
		Current:  current,
		Previous: s.previous,
	})
	if err != nil {
		return stage.Result{}, err
	}

	var raw []byte
	if s.pool != nil {
		raw, err = s.pool.SubmitAwait(ctx, JobMagnitude, payload)
	} else {
		raw, err = magnitudeJob(ctx, payload)
	}
	if err != nil {
		return stage.Result{}, err
	}

	var resp magnitudeResponse
	if err := msgpack.Unmarshal(raw, &resp); err != nil {
		return stage.Result{}, err
	}

	s.previous = current
	return stage.Success(map[string]any{
		"magnitude":  resp.Magnitude,
		"dimensions": resp.Dimensions,
	}), nil
}

// sampleVector flattens the numeric values of the merged input into a
// deterministic vector: upstream outputs sorted by controller id then key,
// followed by sensors sorted by name.
func sampleVector(in stage.Input) []float64 {
	var vec []float64

	sources := make([]string, 0, len(in.Upstream))
	for id := range in.Upstream {
		sources = append(sources, id)
	}
	sort.Strings(sources)
	for _, id := range sources {
		vec = append(vec, sortedNumeric(in.Upstream[id])...)
	}

	return append(vec, sortedNumeric(in.Sensors)...)
}

func sortedNumeric(m map[string]any) []float64 {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var out []float64
	for _, k := range keys {
		switch n := m[k].(type) {
		case float64:
			out = append(out, n)
		case float32:
			out = append(out, float64(n))
		case int:
			out = append(out, float64(n))
		case int64:
			out = append(out, float64(n))
		}
	}
	return out
}
