package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vk/stagegrid/internal/app"
	"github.com/vk/stagegrid/internal/procpool"
)

// TestMain mirrors the real entrypoint's worker dispatch: pool workers
// spawned during these tests re-execute the test binary.
func TestMain(m *testing.M) {
	if procpool.IsWorkerProcess() {
		if err := procpool.WorkerMain(app.WorkerJobs()); err != nil {
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func TestRun_PanicRecovery(t *testing.T) {
	t.Parallel()

	// An HCL file with a syntax error makes app.NewApp panic during the
	// loading phase; run must recover it into an error.
	invalidHCL := `
		controller "capture" "cap" {
			parameters = {
		// Missing closing brace here
	`
	tempDir := t.TempDir()
	filePath := filepath.Join(tempDir, "main.hcl")
	err := os.WriteFile(filePath, []byte(invalidHCL), 0600)
	require.NoError(t, err, "failed to set up test file")

	out := &bytes.Buffer{}
	runErr := run(out, []string{filePath})

	require.Error(t, runErr, "run() should have returned an error after recovering from a panic")
	errStr := runErr.Error()
	require.True(t, strings.Contains(errStr, "application startup panicked"), "The error message should indicate that a panic was recovered.")
	require.True(t, strings.Contains(errStr, "failed to parse"), "The error message should contain the underlying reason for the panic.")
}

func TestRun_ShouldExit(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}
	err := run(out, []string{"-h"})

	require.NoError(t, err, "run() should return a nil error when shouldExit is true")
	require.Contains(t, out.String(), "Usage:", "Expected help text to be printed to the output buffer")
}

func TestRun_ParseError(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}
	err := run(out, []string{"--this-is-not-a-valid-flag"})

	require.Error(t, err, "run() should return an error when argument parsing fails")
	require.Contains(t, err.Error(), "flag provided but not defined: -this-is-not-a-valid-flag")
}

func TestRun_BoundedRunCount(t *testing.T) {
	t.Parallel()

	grid := `
manager "test" {
  concurrency = 2
}

controller "capture" "cap" {
  parameters = { gain = 1 }
}

controller "delta" "d1" {}
`
	tempDir := t.TempDir()
	filePath := filepath.Join(tempDir, "main.hcl")
	require.NoError(t, os.WriteFile(filePath, []byte(grid), 0600))

	out := &bytes.Buffer{}
	err := run(out, []string{"--runs", "2", "--interval", "10ms", "--log-format", "text", filePath})
	require.NoError(t, err)
	require.Contains(t, out.String(), "Final statistics.")
}
