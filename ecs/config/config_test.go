package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ecs "github.com/DangerosoDavo/archecs"
	"github.com/DangerosoDavo/archecs/ecs/schedule"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "ecs.toml", `
[stage]
executor = "single"
ambiguity = "warn_verbose"
ambiguity_ignore = ["engine_", "internal."]

[logging]
level = "debug"
backend = "zerolog"

[metrics]
prometheus = true
tags = ["env:test"]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "single", cfg.Stage.Executor)
	assert.Equal(t, "warn_verbose", cfg.Stage.Ambiguity)
	assert.Equal(t, []string{"engine_", "internal."}, cfg.Stage.AmbiguityIgnore)
	assert.True(t, cfg.Stage.ApplyBuffers, "defaults survive")
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "zerolog", cfg.Logging.Backend)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.True(t, cfg.Metrics.Prometheus)
	assert.Equal(t, "ecs", cfg.Metrics.Namespace)
	assert.Equal(t, []string{"env:test"}, cfg.Metrics.Tags)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "ecs.yml", `
stage:
  executor: parallel
  workers: 3
  apply_buffers: false
logging:
  format: json
metrics:
  signoz_service: sim
  log_summaries: kv
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Stage.Workers)
	assert.False(t, cfg.Stage.ApplyBuffers)
	assert.Equal(t, "allow", cfg.Stage.Ambiguity)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "sim", cfg.Metrics.SigNozService)
	assert.Equal(t, "kv", cfg.Metrics.LogSummaries)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(writeFile(t, "ecs.ini", "stage=1"))
	require.ErrorIs(t, err, ErrUnknownFormat)

	_, err = Load(writeFile(t, "ecs.toml", "[stage]\nexecutor = \"gpu\"\n"))
	require.ErrorIs(t, err, ErrUnknownExecutor)

	_, err = Load(writeFile(t, "ecs.toml", "[stage]\nambiguity = \"loud\"\n"))
	require.Error(t, err)

	_, err = Load(writeFile(t, "ecs.yaml", "stage: [\n"))
	require.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

type counter struct{ n int }

func bump(c ecs.ResMut[counter]) { c.Mut().n++ }

func TestRuntimeStageOptions(t *testing.T) {
	cfg := Default()
	cfg.Stage.Executor = "single"
	cfg.Metrics.Prometheus = true
	cfg.Logging.Backend = "zerolog"

	var out bytes.Buffer
	rt, err := cfg.Build(&out)
	require.NoError(t, err)
	defer func() { require.NoError(t, rt.Close()) }()
	require.NotNil(t, rt.Prometheus)

	first := schedule.NewParallelStage(rt.StageOptions()...)
	_, single := first.Executor().(*schedule.SingleThreadedExecutor)
	assert.True(t, single)

	w := ecs.NewWorld()
	ecs.InsertResource(w, counter{})
	first.AddSystem(schedule.NamedFn("bump", bump))
	first.Run(w)
	first.Run(w)
	assert.Equal(t, 2, ecs.Resource[counter](w).n)

	var metrics bytes.Buffer
	require.NoError(t, rt.Prometheus.WriteMetrics(&metrics))
	assert.Contains(t, metrics.String(), "ecs_stage_systems_run_total")
}

func TestRuntimeExecutorPerStage(t *testing.T) {
	cfg := Default()
	cfg.Stage.Workers = 2
	cfg.Logging.Backend = "zerolog"
	rt, err := cfg.Build(&bytes.Buffer{})
	require.NoError(t, err)

	first := schedule.NewSingleThreadedStage(rt.StageOptions()...)
	second := schedule.NewSingleThreadedStage(rt.StageOptions()...)
	defer first.Close()
	defer second.Close()

	a, ok := first.Executor().(*schedule.ParallelExecutor)
	require.True(t, ok)
	b, ok := second.Executor().(*schedule.ParallelExecutor)
	require.True(t, ok)
	assert.NotSame(t, a, b)
	assert.Equal(t, 2, a.Workers())
}

func TestRuntimeAmbiguityLevel(t *testing.T) {
	cfg := Default()
	cfg.Stage.Ambiguity = "deny"
	cfg.Logging.Backend = "zerolog"
	cfg.Logging.Level = "fatal"
	opts, err := cfg.StageOptions()
	require.NoError(t, err)

	w := ecs.NewWorld()
	ecs.InsertResource(w, counter{})
	stage := schedule.NewSingleThreadedStage(opts...).
		AddSystem(schedule.NamedFn("bump_a", bump)).
		AddSystem(schedule.NamedFn("bump_b", bump))
	assert.Panics(t, func() { stage.Run(w) })
}

func TestRuntimeStatsD(t *testing.T) {
	cfg := Default()
	cfg.Metrics.StatsDAddress = "127.0.0.1:8125"
	cfg.Logging.Backend = "zerolog"
	rt, err := cfg.Build(&bytes.Buffer{})
	require.NoError(t, err)
	require.NotNil(t, rt.StatsD)
	require.NoError(t, rt.Close())
}
