package tui

import (
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/nourishbot/internal/models"
)

type fakeHistory struct {
	runs    []*models.Run
	execs   map[int64][]*models.Execution
	deleted []int64
}

func (f *fakeHistory) ListRuns(limit int) ([]*models.Run, error) {
	return f.runs, nil
}

func (f *fakeHistory) GetRun(id int64) (*models.Run, error) {
	for _, r := range f.runs {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, errors.New("run not found")
}

func (f *fakeHistory) GetExecutionsForRun(runID int64) ([]*models.Execution, error) {
	return f.execs[runID], nil
}

func (f *fakeHistory) DeleteRun(id int64) error {
	f.deleted = append(f.deleted, id)
	var kept []*models.Run
	for _, r := range f.runs {
		if r.ID != id {
			kept = append(kept, r)
		}
	}
	f.runs = kept
	return nil
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// send applies msg and feeds any resulting command's message back in.
func send(t *testing.T, a *App, msg tea.Msg) {
	t.Helper()
	_, cmd := a.Update(msg)
	if cmd != nil {
		if next := cmd(); next != nil {
			a.Update(next)
		}
	}
}

func newHistory() *fakeHistory {
	vegan := "vegan"
	start := time.Now().Add(-time.Minute)
	end := start.Add(12 * time.Second)
	return &fakeHistory{
		runs: []*models.Run{
			{ID: 2, UUID: "b", Workflow: "recipe", ImagePath: "bowl.jpg", DietaryRestrictions: &vegan, Status: models.RunStatusComplete, CreatedAt: start, RawOutput: "Tofu bowl"},
			{ID: 1, UUID: "a", Workflow: "analysis", ImagePath: "plate.png", Status: models.RunStatusFailed, CreatedAt: start, Error: "provider down"},
		},
		execs: map[int64][]*models.Execution{
			2: {
				{ID: 1, RunID: 2, TaskName: "ingredient_detection_task", Status: models.ExecStatusComplete, StartedAt: &start, CompletedAt: &end, RawOutput: "tofu, rice", SequenceNum: 1},
				{ID: 2, RunID: 2, TaskName: "recipe_suggestion_task", Status: models.ExecStatusComplete, JSONOutput: map[string]any{"recipes": []any{}}, SequenceNum: 2},
			},
		},
	}
}

func TestRunListNavigation(t *testing.T) {
	h := newHistory()
	a := NewApp(h)
	send(t, a, a.Init()())

	require.Len(t, a.runs, 2)
	view := a.View()
	assert.Contains(t, view, "#2")
	assert.Contains(t, view, "vegan")

	send(t, a, key("j"))
	assert.Equal(t, 1, a.selectedIdx)
	send(t, a, key("j"))
	assert.Equal(t, 1, a.selectedIdx)
	send(t, a, key("k"))
	assert.Equal(t, 0, a.selectedIdx)
}

func TestRunDetailAndOutput(t *testing.T) {
	a := NewApp(newHistory())
	send(t, a, a.Init()())
	send(t, a, key("enter"))

	require.Equal(t, ViewRunDetail, a.view)
	view := a.View()
	assert.Contains(t, view, "Run #2: recipe")
	assert.Contains(t, view, "ingredient_detection_task")
	assert.Contains(t, view, "12s")

	send(t, a, key("enter"))
	require.Equal(t, ViewOutput, a.view)
	assert.Contains(t, a.View(), "tofu, rice")

	send(t, a, key("esc"))
	assert.Equal(t, ViewRunDetail, a.view)

	send(t, a, key("j"))
	send(t, a, key("o"))
	assert.Contains(t, a.View(), `"recipes": []`)

	send(t, a, key("esc"))
	send(t, a, key("f"))
	assert.Contains(t, a.View(), "Tofu bowl")

	send(t, a, key("esc"))
	send(t, a, key("esc"))
	assert.Equal(t, ViewRunList, a.view)
	assert.Nil(t, a.selectedRun)
}

func TestFailedRunShowsError(t *testing.T) {
	a := NewApp(newHistory())
	send(t, a, a.Init()())
	send(t, a, key("j"))
	send(t, a, key("enter"))

	view := a.View()
	assert.Contains(t, view, "provider down")
	assert.Contains(t, view, "(no tasks recorded)")
}

func TestDeleteRun(t *testing.T) {
	h := newHistory()
	a := NewApp(h)
	send(t, a, a.Init()())
	send(t, a, key("j"))

	_, cmd := a.Update(key("d"))
	require.NotNil(t, cmd)
	_, reload := a.Update(cmd())
	require.NotNil(t, reload)
	a.Update(reload())

	assert.Equal(t, []int64{1}, h.deleted)
	require.Len(t, a.runs, 1)
	assert.Equal(t, 0, a.selectedIdx)
}

func TestQuit(t *testing.T) {
	a := NewApp(newHistory())
	_, cmd := a.Update(key("q"))
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())
}

func TestWindowResize(t *testing.T) {
	a := NewApp(newHistory())
	a.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	assert.Equal(t, 100, a.output.Width)
	assert.Equal(t, 26, a.output.Height)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "250ms", formatDuration(250*time.Millisecond))
	assert.Equal(t, "12s", formatDuration(12*time.Second))
	assert.Equal(t, "2m5s", formatDuration(125*time.Second))
	assert.Equal(t, "1h1m", formatDuration(61*time.Minute))
}
