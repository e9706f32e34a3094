// Package printsink implements a terminal controller that prints its
// merged input, one key per line, sorted for stable output.
package printsink

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/vk/stagegrid/internal/ctxlog"
	"github.com/vk/stagegrid/internal/registry"
	"github.com/vk/stagegrid/internal/stage"
)

// TypeName is the controller type this module registers.
const TypeName = "printsink"

// Module implements the registry.Module interface for this package.
type Module struct {
	// Out defaults to stdout; tests point it elsewhere.
	Out io.Writer
}

// Register registers the printsink factory with the controller registry.
func (m *Module) Register(r *registry.Registry) {
	out := m.Out
	if out == nil {
		out = os.Stdout
	}
	r.RegisterType(TypeName, func(cfg stage.Config) (stage.Stage, error) {
		return &sinkStage{cfg: cfg, out: out}, nil
	})
}

type sinkStage struct {
	cfg stage.Config
	out io.Writer
}

func (s *sinkStage) Initialize(ctx context.Context) error { return nil }
func (s *sinkStage) Cleanup(ctx context.Context) error    { return nil }

func (s *sinkStage) Process(ctx context.Context, in stage.Input) (stage.Result, error) {
	ctxlog.FromContext(ctx).Info("Printing controller input.", "controller", s.cfg.ID)

	merged := make(map[string]any, len(in.Sensors))
	for k, v := range in.Sensors {
		merged[k] = v
	}
	for _, out := range in.Upstream {
		for k, v := range out {
			merged[k] = v
		}
	}

	if len(merged) == 0 {
		fmt.Fprintln(s.out, "      (null)")
		return stage.Success(map[string]any{"printed": 0}), nil
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(s.out, "      %s = %v\n", k, merged[k])
	}

	return stage.Success(map[string]any{"printed": len(keys)}), nil
}
