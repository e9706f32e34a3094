package delta

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/vk/stagegrid/internal/procpool"
	"github.com/vk/stagegrid/internal/registry"
	"github.com/vk/stagegrid/internal/stage"
)

func TestMagnitudeJob(t *testing.T) {
	payload, err := msgpack.Marshal(magnitudeRequest{
		Current:  []float64{3, 4},
		Previous: []float64{0, 0},
	})
	require.NoError(t, err)

	raw, err := magnitudeJob(context.Background(), payload)
	require.NoError(t, err)

	var resp magnitudeResponse
	require.NoError(t, msgpack.Unmarshal(raw, &resp))
	assert.InDelta(t, 5.0, resp.Magnitude, 1e-9)
	assert.Equal(t, 2, resp.Dimensions)
}

func TestMagnitudeJobMissingPrevious(t *testing.T) {
	payload, err := msgpack.Marshal(magnitudeRequest{Current: []float64{1, 2, 2}})
	require.NoError(t, err)

	raw, err := magnitudeJob(context.Background(), payload)
	require.NoError(t, err)

	var resp magnitudeResponse
	require.NoError(t, msgpack.Unmarshal(raw, &resp))
	assert.InDelta(t, 3.0, resp.Magnitude, 1e-9)
}

func TestRegisterJobs(t *testing.T) {
	reg := procpool.NewJobRegistry()
	RegisterJobs(reg)
	_, ok := reg.Lookup(JobMagnitude)
	assert.True(t, ok)
}

func TestDeltaStageTracksPreviousRun(t *testing.T) {
	reg := registry.New()
	(&Module{}).Register(reg)
	s, err := reg.Create(stage.Config{ID: "d1", Type: TypeName, Enabled: true})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Initialize(ctx))
	defer s.Cleanup(ctx)

	// First run compares against the zero vector.
	res, err := s.Process(ctx, stage.Input{Sensors: map[string]any{"x": 3.0, "y": 4.0}})
	require.NoError(t, err)
	assert.InDelta(t, 5.0, res.Data["magnitude"].(float64), 1e-9)

	// Second run with the same values produces no change.
	res, err = s.Process(ctx, stage.Input{Sensors: map[string]any{"x": 3.0, "y": 4.0}})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, res.Data["magnitude"].(float64), 1e-9)

	// Upstream values come before sensors in the flattened vector.
	res, err = s.Process(ctx, stage.Input{
		Sensors:  map[string]any{"x": 3.0, "y": 4.0},
		Upstream: map[string]map[string]any{"cap": {"z": 1.0}},
	})
	require.NoError(t, err)
	assert.False(t, math.IsNaN(res.Data["magnitude"].(float64)))
	assert.Equal(t, 3, res.Data["dimensions"])
}
