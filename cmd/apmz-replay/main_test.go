package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zoobzio/apmz/internal/replay"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestReplayPrintsResult(t *testing.T) {
	out, err := execute(t, "--log-level", "error", filepath.Join("testdata", "balanced.yaml"))
	require.NoError(t, err)

	var result replay.Result
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.True(t, result.Submitted)
	require.NotNil(t, result.Report)
	assert.Len(t, result.Report.Spans, 3)
	assert.Equal(t, "UsersController#index", result.Report.Endpoint)
}

func TestReplayPretty(t *testing.T) {
	out, err := execute(t, "--pretty", "--log-level", "error", filepath.Join("testdata", "balanced.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "\n  \"report\"")
}

func TestReplayErrors(t *testing.T) {
	_, err := execute(t)
	assert.Error(t, err, "missing argument")

	_, err = execute(t, filepath.Join("testdata", "missing.yaml"))
	assert.Error(t, err)

	_, err = execute(t, "--log-level", "loud", filepath.Join("testdata", "balanced.yaml"))
	assert.Error(t, err)
}

func TestReplayWithConfigFile(t *testing.T) {
	out, err := execute(t, "--config", filepath.Join("testdata", "small.yaml"), filepath.Join("testdata", "balanced.yaml"))
	require.NoError(t, err)

	var result replay.Result
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.NotNil(t, result.Report)
	assert.Len(t, result.Report.Spans, 2, "max_spans from the config caps the trace")
}

func TestReplayConfigFromEnvironment(t *testing.T) {
	t.Setenv("APMZ_MAX_SPANS", "1")

	out, err := execute(t, "--log-level", "error", filepath.Join("testdata", "balanced.yaml"))
	require.NoError(t, err)

	var result replay.Result
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.NotNil(t, result.Report)
	assert.Len(t, result.Report.Spans, 1)
}

func TestReplayMissingConfig(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join("testdata", "missing.yaml"), filepath.Join("testdata", "balanced.yaml"))
	assert.Error(t, err)
}
