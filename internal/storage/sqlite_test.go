package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/nourishbot/internal/models"
)

func newStore(t *testing.T) *Storage {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunLifecycle(t *testing.T) {
	s := newStore(t)
	restriction := "vegan"

	run := &models.Run{
		UUID:                "run-1",
		Workflow:            "recipe",
		ImagePath:           "meal.jpg",
		DietaryRestrictions: &restriction,
		Status:              models.RunStatusRunning,
		CurrentTask:         "ingredient_detection_task",
	}
	id, err := s.CreateRun(run)
	require.NoError(t, err)
	run.ID = id

	got, err := s.GetRun(id)
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.UUID)
	assert.Equal(t, "recipe", got.Workflow)
	require.NotNil(t, got.DietaryRestrictions)
	assert.Equal(t, "vegan", *got.DietaryRestrictions)
	assert.Nil(t, got.CompletedAt)
	assert.False(t, got.CreatedAt.IsZero())

	now := time.Now()
	run.Status = models.RunStatusComplete
	run.CompletedAt = &now
	run.RawOutput = `{"recipes":[]}`
	run.PromptTokens = 120
	run.CompletionTokens = 30
	require.NoError(t, s.UpdateRun(run))

	got, err = s.GetRunByUUID("run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusComplete, got.Status)
	assert.Equal(t, `{"recipes":[]}`, got.RawOutput)
	assert.Equal(t, 150, got.TotalTokens())
	require.NotNil(t, got.CompletedAt)
	assert.WithinDuration(t, now, *got.CompletedAt, time.Second)
}

func TestNilRestrictionStaysNil(t *testing.T) {
	s := newStore(t)
	id, err := s.CreateRun(&models.Run{UUID: "a", Workflow: "analysis", ImagePath: "x.png", Status: models.RunStatusPending})
	require.NoError(t, err)

	got, err := s.GetRun(id)
	require.NoError(t, err)
	assert.Nil(t, got.DietaryRestrictions)
}

func TestGetRunNotFound(t *testing.T) {
	s := newStore(t)
	_, err := s.GetRun(42)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetRunByUUID("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListRuns(t *testing.T) {
	s := newStore(t)
	for _, u := range []string{"first", "second", "third"} {
		_, err := s.CreateRun(&models.Run{UUID: u, Workflow: "analysis", ImagePath: "x.png", Status: models.RunStatusPending})
		require.NoError(t, err)
	}

	runs, err := s.ListRuns(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "third", runs[0].UUID)
	assert.Equal(t, "second", runs[1].UUID)
}

func TestExecutions(t *testing.T) {
	s := newStore(t)
	runID, err := s.CreateRun(&models.Run{UUID: "r", Workflow: "recipe", ImagePath: "x.png", Status: models.RunStatusRunning})
	require.NoError(t, err)

	started := time.Now()
	exec := &models.Execution{
		RunID:       runID,
		TaskName:    "recipe_suggestion_task",
		AgentName:   "recipe_suggestion_agent",
		Status:      models.ExecStatusRunning,
		StartedAt:   &started,
		SequenceNum: 2,
	}
	exec.ID, err = s.CreateExecution(exec)
	require.NoError(t, err)

	first := &models.Execution{RunID: runID, TaskName: "ingredient_detection_task", AgentName: "ingredient_detection_agent", Status: models.ExecStatusComplete, SequenceNum: 1}
	_, err = s.CreateExecution(first)
	require.NoError(t, err)

	done := time.Now()
	exec.Status = models.ExecStatusComplete
	exec.CompletedAt = &done
	exec.RawOutput = "two recipes"
	exec.JSONOutput = map[string]any{"recipes": []any{"a", "b"}}
	exec.PromptTokens = 7
	require.NoError(t, s.UpdateExecution(exec))

	execs, err := s.GetExecutionsForRun(runID)
	require.NoError(t, err)
	require.Len(t, execs, 2)
	assert.Equal(t, "ingredient_detection_task", execs[0].TaskName)
	assert.Nil(t, execs[0].JSONOutput)

	got := execs[1]
	assert.Equal(t, models.ExecStatusComplete, got.Status)
	assert.Equal(t, "two recipes", got.RawOutput)
	assert.Equal(t, []any{"a", "b"}, got.JSONOutput["recipes"])
	assert.Equal(t, 7, got.PromptTokens)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.CompletedAt)

	_, err = s.CreateExecution(&models.Execution{RunID: runID, TaskName: "dup", AgentName: "a", Status: models.ExecStatusPending, SequenceNum: 1})
	assert.Error(t, err, "sequence numbers are unique per run")
}

func TestDeleteRun(t *testing.T) {
	s := newStore(t)
	runID, err := s.CreateRun(&models.Run{UUID: "gone", Workflow: "analysis", ImagePath: "x.png", Status: models.RunStatusFailed})
	require.NoError(t, err)
	_, err = s.CreateExecution(&models.Execution{RunID: runID, TaskName: "t", AgentName: "a", Status: models.ExecStatusFailed, SequenceNum: 1})
	require.NoError(t, err)

	require.NoError(t, s.DeleteRun(runID))

	_, err = s.GetRun(runID)
	assert.ErrorIs(t, err, ErrNotFound)
	execs, err := s.GetExecutionsForRun(runID)
	require.NoError(t, err)
	assert.Empty(t, execs)

	assert.ErrorIs(t, s.DeleteRun(runID), ErrNotFound)
}

func TestFormatTimeAgo(t *testing.T) {
	assert.Equal(t, "just now", FormatTimeAgo(time.Now()))
	assert.Equal(t, "5m ago", FormatTimeAgo(time.Now().Add(-5*time.Minute-time.Second)))
	assert.Equal(t, "3h ago", FormatTimeAgo(time.Now().Add(-3*time.Hour-time.Second)))
}
