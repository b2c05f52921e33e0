package replay

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/zoobzio/apmz"
)

func run(t *testing.T, file string) (*Result, *observer.ObservedLogs) {
	t.Helper()
	sc, err := Load(filepath.Join("testdata", file))
	require.NoError(t, err)

	core, logs := observer.New(zapcore.DebugLevel)
	result, err := Run(context.Background(), sc, nil, zap.New(core))
	require.NoError(t, err)
	return result, logs
}

func TestRunBalanced(t *testing.T) {
	result, _ := run(t, "balanced.yaml")

	assert.True(t, result.Submitted)
	assert.False(t, result.Broken)
	require.NotNil(t, result.Report)
	assert.Equal(t, result.TraceID, result.Report.ID)
	assert.Equal(t, "UsersController#index", result.Report.Endpoint)

	spans := result.Report.Spans
	require.Len(t, spans, 3)
	assert.Equal(t, apmz.Tick(10), spans[0].Duration(), "root covers 1ms")
	assert.Equal(t, apmz.Tick(7), spans[1].Duration(), "auth")
	assert.Equal(t, apmz.Tick(5), spans[2].Duration(), "query")
	assert.Equal(t, "primary", spans[2].Meta["db"])
}

func TestRunMiddlewareLeak(t *testing.T) {
	result, logs := run(t, "middleware_leak.yaml")

	assert.True(t, result.Broken)
	assert.False(t, result.Submitted)
	assert.Nil(t, result.Report)

	errs := logs.FilterLevelExact(zapcore.ErrorLevel).All()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "Expected to see 'CacheMiddleware', but got 'SessionMiddleware' instead.")
	assert.Contains(t, errs[0].Message, "The middleware probe has been disabled")
}

func TestRunDeferred(t *testing.T) {
	result, _ := run(t, "deferred.yaml")

	require.NotNil(t, result.Report)
	render := result.Report.Find("view.render")
	require.Len(t, render, 1)
	assert.Equal(t, apmz.Tick(4), render[0].Duration())

	root, ok := result.Report.Root()
	require.True(t, ok)
	assert.Equal(t, apmz.Tick(10), root.Duration())
}

func TestRunGCNoise(t *testing.T) {
	result, _ := run(t, "gc.yaml")

	require.NotNil(t, result.Report)
	noise := result.Report.Find(apmz.GCCategory)
	require.Len(t, noise, 1)
	assert.Equal(t, apmz.Tick(3), noise[0].Duration())
	assert.Equal(t, apmz.Tick(10), noise[0].Stop)
}

func TestRunRejectsInvalid(t *testing.T) {
	_, err := Run(context.Background(), nil, nil, nil)
	assert.Error(t, err)

	_, err = Run(context.Background(), &Scenario{Steps: []Step{{Op: "teleport"}}}, nil, nil)
	assert.Error(t, err)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sc := &Scenario{Endpoint: "GET /", Steps: []Step{{Op: OpAdvance, Duration: "1ms"}}}
	_, err := Run(ctx, sc, nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunUsesCallerConfig(t *testing.T) {
	sc, err := Load(filepath.Join("testdata", "balanced.yaml"))
	require.NoError(t, err)

	cfg := apmz.DefaultConfig()
	cfg.MaxSpans = 2
	result, err := Run(context.Background(), sc, cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, result.Report)
	assert.Len(t, result.Report.Spans, 2, "the query span is over the ceiling")

	sc.MaxSpans = 10
	result, err = Run(context.Background(), sc, cfg, nil)
	require.NoError(t, err)
	assert.Len(t, result.Report.Spans, 3, "the scenario ceiling wins")
	assert.Equal(t, 2, cfg.MaxSpans, "caller config is not modified")
}
