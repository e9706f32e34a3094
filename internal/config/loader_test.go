package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/stagegrid/internal/procpool"
	"github.com/vk/stagegrid/internal/workpool"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, "stagegrid.hcl", `
manager "plant" {
  concurrency = 4
  parallel    = true
}

work_pool "network_io" {
  workers            = 8
  queue_size         = 16
  timeout            = "5s"
  retries            = 2
  retry_backoff_base = "250ms"
  breaker_failures   = 5
  breaker_reset      = "30s"
  allowed_callables  = ["fetch", "gate"]
}

proc_pool "cpu" {
  workers         = 2
  timeout         = "10s"
  kill_on_timeout = true
}

controller "capture" "cap1" {
  input_sensors = ["temp"]
  output_name   = "raw"
  parameters = {
    gain   = 2
    labels = ["a", "b"]
  }
}

controller "printsink" "out1" {
  enabled = false
}

dependency {
  source       = "cap1"
  target       = "out1"
  data_mapping = { raw = "line" }
}
`)

	model, err := Load(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, Manager{Name: "plant", Concurrency: 4, Parallel: true}, model.Manager)

	wp, ok := model.WorkPools[workpool.KindNetworkIO]
	require.True(t, ok)
	assert.Equal(t, 8, wp.Workers)
	assert.Equal(t, 16, wp.QueueSize)
	assert.Equal(t, 5*time.Second, wp.Timeout)
	assert.Equal(t, 2, wp.Retries)
	assert.Equal(t, 250*time.Millisecond, wp.RetryBackoffBase)
	assert.Equal(t, 5, wp.BreakerFailures)
	assert.Equal(t, 30*time.Second, wp.BreakerResetTimeout)
	assert.Equal(t, []string{"fetch", "gate"}, wp.AllowedCallables)
	assert.Nil(t, wp.Metrics)

	pp, ok := model.ProcPools[procpool.Kind("cpu")]
	require.True(t, ok)
	assert.Equal(t, 2, pp.Workers)
	assert.Equal(t, 10*time.Second, pp.Timeout)
	assert.True(t, pp.KillOnTimeout)

	require.Len(t, model.Controllers, 2)
	cap1 := model.Controllers[0]
	assert.Equal(t, "cap1", cap1.ID)
	assert.Equal(t, "capture", cap1.Type)
	assert.True(t, cap1.Enabled)
	assert.Equal(t, []string{"temp"}, cap1.InputSensors)
	assert.Equal(t, "raw", cap1.OutputName)
	assert.Equal(t, map[string]any{
		"gain":   2.0,
		"labels": []any{"a", "b"},
	}, cap1.Parameters)

	// enabled = false sticks; the implicit default is true.
	assert.False(t, model.Controllers[1].Enabled)
	assert.Nil(t, model.Controllers[1].Parameters)

	require.Len(t, model.Dependencies, 1)
	assert.Equal(t, Dependency{
		Source: "cap1",
		Target: "out1",
		Remap:  map[string]string{"raw": "line"},
	}, model.Dependencies[0])
}

func TestLoadMergesDirectories(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pools.hcl"), []byte(`
work_pool "file_io" {
  workers = 3
}
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manager.hcl"), []byte(`
manager "merged" {}
`), 0o644))

	model, err := Load(context.Background(), dir, filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Equal(t, "merged", model.Manager.Name)
	assert.Equal(t, 3, model.WorkPools[workpool.KindFileIO].Workers)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, "bad.hcl", `
work_pool "general" {
  timeout = "fast"
}
`)
	_, err := Load(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}

func TestLoadRejectsInvalidController(t *testing.T) {
	path := writeConfig(t, "bad.hcl", `
controller "capture" "" {}
`)
	_, err := Load(context.Background(), path)
	require.Error(t, err)
}

func TestLoadMissingPathIsNotAnError(t *testing.T) {
	model, err := Load(context.Background(), "/nonexistent/stagegrid.hcl")
	require.NoError(t, err)
	assert.Empty(t, model.Controllers)
}
