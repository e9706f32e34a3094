// Package capture implements the source controller type. It turns the
// external sensor readings of one run into a numeric payload, applying a
// configurable gain, and routes the read through the shared source I/O
// worker pool.
package capture

import (
	"context"
	"fmt"

	"github.com/vk/stagegrid/internal/poolmgr"
	"github.com/vk/stagegrid/internal/registry"
	"github.com/vk/stagegrid/internal/stage"
	"github.com/vk/stagegrid/internal/workpool"
)

// TypeName is the controller type this module registers.
const TypeName = "capture"

// Module implements the registry.Module interface for this package.
type Module struct {
	Pools *poolmgr.Manager
}

// Register registers the capture factory with the controller registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterType(TypeName, func(cfg stage.Config) (stage.Stage, error) {
		return &captureStage{cfg: cfg, pools: m.Pools}, nil
	})
}

type captureStage struct {
	cfg   stage.Config
	pools *poolmgr.Manager
	pool  *workpool.Pool
	gain  float64
}

func (s *captureStage) Initialize(ctx context.Context) error {
	s.gain = 1.0
	if raw, ok := s.cfg.Parameters["gain"]; ok {
		gain, ok := asFloat(raw)
		if !ok || gain == 0 {
			return fmt.Errorf("%w: gain must be a non-zero number, got %v", stage.ErrConfig, raw)
		}
		s.gain = gain
	}
	if s.pools != nil {
		s.pool = s.pools.AcquireWork(workpool.KindSourceIO)
	}
	return nil
}

func (s *captureStage) Cleanup(ctx context.Context) error {
	if s.pool != nil {
		s.pools.ReleaseWork(workpool.KindSourceIO)
		s.pool = nil
	}
	return nil
}

func (s *captureStage) Process(ctx context.Context, in stage.Input) (stage.Result, error) {
	read := func(ctx context.Context) (any, error) {
		out := make(map[string]any, len(in.Sensors)+1)
		count := 0
		for name, raw := range in.Sensors {
			if v, ok := asFloat(raw); ok {
				out[name] = v * s.gain
				count++
			}
		}
		out["sample_count"] = count
		if !in.Timestamp.IsZero() {
			out["captured_at"] = in.Timestamp.UnixMilli()
		}
		return out, nil
	}

	var (
		payload any
		err     error
	)
	if s.pool != nil {
		payload, err = s.pool.SubmitAwait(ctx, "capture.read", read)
	} else {
		payload, err = read(ctx)
	}
	if err != nil {
		return stage.Result{}, err
	}
	return stage.Success(payload.(map[string]any)), nil
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
