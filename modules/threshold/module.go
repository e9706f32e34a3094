// Package threshold implements a gate controller: it watches one key of
// its merged input and reports whether the value crossed a configured
// limit. The comparison runs on the shared general worker pool.
package threshold

import (
	"context"
	"fmt"

	"github.com/vk/stagegrid/internal/poolmgr"
	"github.com/vk/stagegrid/internal/registry"
	"github.com/vk/stagegrid/internal/stage"
	"github.com/vk/stagegrid/internal/workpool"
)

// TypeName is the controller type this module registers.
const TypeName = "threshold"

// Module implements the registry.Module interface for this package.
type Module struct {
	Pools *poolmgr.Manager
}

// Register registers the threshold factory with the controller registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterType(TypeName, func(cfg stage.Config) (stage.Stage, error) {
		return &thresholdStage{cfg: cfg, pools: m.Pools}, nil
	})
}

type thresholdStage struct {
	cfg   stage.Config
	pools *poolmgr.Manager
	pool  *workpool.Pool

	key   string
	limit float64
	below bool
}

func (s *thresholdStage) Initialize(ctx context.Context) error {
	key, ok := s.cfg.Parameters["key"].(string)
	if !ok || key == "" {
		return fmt.Errorf("%w: threshold requires a string 'key' parameter", stage.ErrConfig)
	}
	s.key = key

	limit, ok := asFloat(s.cfg.Parameters["limit"])
	if !ok {
		return fmt.Errorf("%w: threshold requires a numeric 'limit' parameter", stage.ErrConfig)
	}
	s.limit = limit

	switch mode := s.cfg.Parameters["mode"]; mode {
	case nil, "above":
	case "below":
		s.below = true
	default:
		return fmt.Errorf("%w: threshold mode must be 'above' or 'below', got %v", stage.ErrConfig, mode)
	}

	if s.pools != nil {
		s.pool = s.pools.AcquireWork(workpool.KindGeneral)
	}
	return nil
}

func (s *thresholdStage) Cleanup(ctx context.Context) error {
	if s.pool != nil {
		s.pools.ReleaseWork(workpool.KindGeneral)
		s.pool = nil
	}
	return nil
}

func (s *thresholdStage) Process(ctx context.Context, in stage.Input) (stage.Result, error) {
	value, found := lookup(in, s.key)
	gate := func(ctx context.Context) (any, error) {
		if !found {
			return map[string]any{"triggered": false, "missing": true, "limit": s.limit}, nil
		}
		triggered := value > s.limit
		if s.below {
			triggered = value < s.limit
		}
		return map[string]any{"triggered": triggered, "value": value, "limit": s.limit}, nil
	}

	var (
		payload any
		err     error
	)
	if s.pool != nil {
		payload, err = s.pool.SubmitAwait(ctx, "threshold.gate", gate)
	} else {
		payload, err = gate(ctx)
	}
	if err != nil {
		return stage.Result{}, err
	}
	return stage.Success(payload.(map[string]any)), nil
}

// lookup searches upstream outputs first, then the raw sensor data.
func lookup(in stage.Input, key string) (float64, bool) {
	for _, out := range in.Upstream {
		if v, ok := asFloat(out[key]); ok {
			return v, true
		}
	}
	if v, ok := asFloat(in.Sensors[key]); ok {
		return v, true
	}
	return 0, false
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
