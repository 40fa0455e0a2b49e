package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRunPrintsSummary(t *testing.T) {
	out, err := execute(t, "run", "--entities", "10", "--lifetime", "3", "-n", "4")
	require.NoError(t, err)

	assert.Contains(t, out, "frames:    4\n")
	assert.Contains(t, out, "spawned:   10\n")
	assert.Contains(t, out, "expired:   7\n")
	assert.Contains(t, out, "alive:     3\n")
	assert.Contains(t, out, "simulated: 66.666664ms\n")
}

func TestRunExpiresEverything(t *testing.T) {
	for _, executor := range []string{"single", "parallel"} {
		t.Run(executor, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "ecs.toml")
			body := "[stage]\nexecutor = \"" + executor + "\"\n[logging]\nbackend = \"zerolog\"\nlevel = \"error\"\n[metrics]\nprometheus = true\n"
			require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

			out, err := execute(t, "run", "--config", path, "--entities", "10", "--lifetime", "3", "-n", "6")
			require.NoError(t, err)
			assert.Contains(t, out, "expired:   10\n")
			assert.Contains(t, out, "alive:     0\n")
			assert.Contains(t, out, `ecs_stage_skipped_total{stage="Startup"}`)
		})
	}
}

func TestRunRejectsBadInput(t *testing.T) {
	_, err := execute(t, "run", "--lifetime", "0")
	require.Error(t, err)

	_, err = execute(t, "run", "-n", "1", "--profile", "gpu")
	require.Error(t, err)

	_, err = execute(t, "run", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestAmbiguities(t *testing.T) {
	out, err := execute(t, "ambiguities")
	require.NoError(t, err)
	assert.Contains(t, out, "== Update\nno ambiguities\n")
	assert.Contains(t, out, "== StartupSchedule/Startup\n")
	assert.NotContains(t, out, "conflicts with")

	out, err = execute(t, "ambiguities", "--unordered")
	require.NoError(t, err)
	update := out[strings.Index(out, "== Update\n"):]
	assert.Contains(t, update, "1 pair of systems")
	assert.Contains(t, update, "1. `move` conflicts with `bounce` on [")
	assert.Contains(t, update, `"Velocity"`)

	out, err = execute(t, "ambiguities", "--unordered", "--level", "warn")
	require.NoError(t, err)
	assert.Contains(t, out, "Set the ambiguity level to WarnVerbose for more details.")

	_, err = execute(t, "ambiguities", "--level", "loud")
	require.Error(t, err)
}
