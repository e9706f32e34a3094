package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/stagegrid/internal/stage"
)

type noopStage struct{}

func (noopStage) Initialize(context.Context) error { return nil }
func (noopStage) Cleanup(context.Context) error    { return nil }
func (noopStage) Process(context.Context, stage.Input) (stage.Result, error) {
	return stage.Success(nil), nil
}

func noopFactory(cfg stage.Config) (stage.Stage, error) {
	return noopStage{}, nil
}

func TestRegisterAndCreate(t *testing.T) {
	t.Parallel()

	r := New()
	r.RegisterType("noop", noopFactory)

	s, err := r.Create(stage.Config{ID: "a", Type: "noop", Enabled: true})
	require.NoError(t, err)
	require.NotNil(t, s)
}

func TestCreateUnknownType(t *testing.T) {
	t.Parallel()

	r := New()
	_, err := r.Create(stage.Config{ID: "a", Type: "missing"})
	require.ErrorIs(t, err, stage.ErrConfig)
	assert.ErrorContains(t, err, "unknown controller type")
}

func TestCreateInvalidConfig(t *testing.T) {
	t.Parallel()

	r := New()
	r.RegisterType("noop", noopFactory)

	_, err := r.Create(stage.Config{Type: "noop"})
	require.ErrorIs(t, err, stage.ErrConfig)
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	t.Parallel()

	r := New()
	r.RegisterType("noop", noopFactory)
	assert.Panics(t, func() { r.RegisterType("noop", noopFactory) })
}

func TestTypesSorted(t *testing.T) {
	t.Parallel()

	r := New()
	r.RegisterType("delta", noopFactory)
	r.RegisterType("capture", noopFactory)
	assert.Equal(t, []string{"capture", "delta"}, r.Types())
}
