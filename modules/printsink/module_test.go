package printsink

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/stagegrid/internal/registry"
	"github.com/vk/stagegrid/internal/stage"
)

func TestPrintSinkSortsKeys(t *testing.T) {
	var buf bytes.Buffer
	reg := registry.New()
	(&Module{Out: &buf}).Register(reg)
	s, err := reg.Create(stage.Config{ID: "out", Type: TypeName, Enabled: true})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Initialize(ctx))

	res, err := s.Process(ctx, stage.Input{
		Sensors:  map[string]any{"b": 2},
		Upstream: map[string]map[string]any{"up": {"a": 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Data["printed"])
	assert.Equal(t, "      a = 1\n      b = 2\n", buf.String())
}

func TestPrintSinkEmptyInput(t *testing.T) {
	var buf bytes.Buffer
	reg := registry.New()
	(&Module{Out: &buf}).Register(reg)
	s, err := reg.Create(stage.Config{ID: "out", Type: TypeName, Enabled: true})
	require.NoError(t, err)

	res, err := s.Process(context.Background(), stage.Input{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Data["printed"])
	assert.Contains(t, buf.String(), "(null)")
}
