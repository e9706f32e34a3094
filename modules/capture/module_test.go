package capture

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/stagegrid/internal/poolmgr"
	"github.com/vk/stagegrid/internal/registry"
	"github.com/vk/stagegrid/internal/stage"
	"github.com/vk/stagegrid/internal/workpool"
)

func newStage(t *testing.T, cfg stage.Config, pools *poolmgr.Manager) stage.Stage {
	t.Helper()
	reg := registry.New()
	(&Module{Pools: pools}).Register(reg)
	cfg.Type = TypeName
	cfg.Enabled = true
	s, err := reg.Create(cfg)
	require.NoError(t, err)
	return s
}

func TestCaptureScalesNumericSensors(t *testing.T) {
	pools := poolmgr.New(poolmgr.Options{
		Work: map[workpool.Kind]workpool.Config{
			workpool.KindSourceIO: {Kind: workpool.KindSourceIO, Workers: 2},
		},
	})
	defer pools.ShutdownAll(context.Background())

	ctx := context.Background()
	s := newStage(t, stage.Config{ID: "cap", Parameters: map[string]any{"gain": 2.0}}, pools)
	require.NoError(t, s.Initialize(ctx))
	defer s.Cleanup(ctx)

	ts := time.Now()
	res, err := s.Process(ctx, stage.Input{
		Sensors:   map[string]any{"temp": 21.5, "count": 3, "label": "ignored"},
		Timestamp: ts,
	})
	require.NoError(t, err)
	require.True(t, res.OK)
	assert.Equal(t, 43.0, res.Data["temp"])
	assert.Equal(t, 6.0, res.Data["count"])
	assert.Equal(t, 2, res.Data["sample_count"])
	assert.Equal(t, ts.UnixMilli(), res.Data["captured_at"])
	assert.NotContains(t, res.Data, "label")
}

func TestCaptureDefaultGainWithoutPools(t *testing.T) {
	ctx := context.Background()
	s := newStage(t, stage.Config{ID: "cap"}, nil)
	require.NoError(t, s.Initialize(ctx))
	defer s.Cleanup(ctx)

	res, err := s.Process(ctx, stage.Input{Sensors: map[string]any{"v": 1.25}})
	require.NoError(t, err)
	assert.Equal(t, 1.25, res.Data["v"])
}

func TestCaptureRejectsBadGain(t *testing.T) {
	s := newStage(t, stage.Config{ID: "cap", Parameters: map[string]any{"gain": "high"}}, nil)
	err := s.Initialize(context.Background())
	require.ErrorIs(t, err, stage.ErrConfig)
}
