package cli

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePositionalConfigPath(t *testing.T) {
	var out bytes.Buffer
	cfg, exit, err := Parse([]string{"grid.hcl"}, &out)
	require.NoError(t, err)
	require.False(t, exit)
	assert.Equal(t, "grid.hcl", cfg.ConfigPath)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, time.Second, cfg.Interval)
}

func TestParseFlagsOverridePositional(t *testing.T) {
	var out bytes.Buffer
	cfg, exit, err := Parse([]string{
		"--config", "runtime.hcl",
		"--topology", "topo.json",
		"--parallel",
		"--concurrency", "4",
		"--interval", "250ms",
		"--runs", "10",
		"--log-format", "text",
		"--log-level", "debug",
	}, &out)
	require.NoError(t, err)
	require.False(t, exit)
	assert.Equal(t, "runtime.hcl", cfg.ConfigPath)
	assert.Equal(t, "topo.json", cfg.TopologyPath)
	assert.True(t, cfg.Parallel)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, 250*time.Millisecond, cfg.Interval)
	assert.Equal(t, 10, cfg.Runs)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestParseTopologyOnly(t *testing.T) {
	var out bytes.Buffer
	cfg, exit, err := Parse([]string{"--topology", "topo.json"}, &out)
	require.NoError(t, err)
	require.False(t, exit)
	assert.Empty(t, cfg.ConfigPath)
	assert.Equal(t, "topo.json", cfg.TopologyPath)
}

func TestParseNoPathPrintsUsage(t *testing.T) {
	var out bytes.Buffer
	cfg, exit, err := Parse(nil, &out)
	require.NoError(t, err)
	assert.True(t, exit)
	assert.Nil(t, cfg)
	assert.Contains(t, out.String(), "Usage:")
}

func TestParseInvalidLogFormat(t *testing.T) {
	var out bytes.Buffer
	_, _, err := Parse([]string{"--log-format", "xml", "grid.hcl"}, &out)
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.Code)
}

func TestParseInvalidLogLevel(t *testing.T) {
	var out bytes.Buffer
	_, _, err := Parse([]string{"--log-level", "loud", "grid.hcl"}, &out)
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.Code)
}
