package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/nourishbot/internal/cli"
	"github.com/mpataki/nourishbot/internal/orchestrator"
	"github.com/mpataki/nourishbot/internal/pipeline"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("NOURISHBOT_DATA_DIR", t.TempDir())
	t.Setenv("NOURISHBOT_LLM_PROVIDER", "openai")

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "none.env")}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestUsage(t *testing.T) {
	for _, args := range [][]string{{}, {"plate.png"}, {"a", "b", "c", "d"}} {
		out, err := execute(t, args...)
		require.NoError(t, err)
		assert.Contains(t, out, cli.Usage)
	}
}

func TestInvalidWorkflowIsFatal(t *testing.T) {
	out, err := execute(t, "plate.png", "dessert")
	assert.ErrorIs(t, err, pipeline.ErrInvalidWorkflow)
	assert.NotContains(t, out, "Here is the result")
}

func TestTrainIsFatal(t *testing.T) {
	_, err := execute(t, "train", "2", "out.txt", "plate.png", "vegan", "recipe")
	assert.ErrorIs(t, err, orchestrator.ErrTrainNotImplemented)
}

func TestConfigCommand(t *testing.T) {
	out, err := execute(t, "config")
	require.NoError(t, err)
	assert.Contains(t, out, "Definitions: embedded")
	assert.Contains(t, out, "dietary_filtering_agent")
	assert.Contains(t, out, "recipe_suggestion_task")
	assert.Contains(t, out, "(structured)")
}

func TestRunsEmpty(t *testing.T) {
	out, err := execute(t, "runs")
	require.NoError(t, err)
	assert.Contains(t, out, "No runs found.")
}

func TestShowMissingRun(t *testing.T) {
	_, err := execute(t, "show", "7")
	assert.Error(t, err)

	_, err = execute(t, "show", "seven")
	assert.ErrorContains(t, err, "invalid run ID")
}
