package tui

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mpataki/nourishbot/internal/models"
)

// History is the run store the browser reads from.
type History interface {
	ListRuns(limit int) ([]*models.Run, error)
	GetRun(id int64) (*models.Run, error)
	GetExecutionsForRun(runID int64) ([]*models.Execution, error)
	DeleteRun(id int64) error
}

type View int

const (
	ViewRunList View = iota
	ViewRunDetail
	ViewOutput
)

const listLimit = 50

type App struct {
	history History

	view            View
	runs            []*models.Run
	selectedIdx     int
	selectedRun     *models.Run
	executions      []*models.Execution
	selectedExecIdx int
	outputTitle     string
	output          viewport.Model

	width  int
	height int
	err    error
}

func NewApp(history History) *App {
	return &App{
		history: history,
		view:    ViewRunList,
		output:  viewport.New(80, 20),
	}
}

func (a *App) Init() tea.Cmd {
	return a.loadRuns
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a.handleKey(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.output.Width = msg.Width
		// title, blank line and help
		a.output.Height = max(msg.Height-4, 1)
		return a, nil

	case runsLoadedMsg:
		a.runs = msg.runs
		a.err = msg.err
		if a.selectedIdx >= len(a.runs) {
			a.selectedIdx = max(len(a.runs)-1, 0)
		}
		return a, nil

	case runDetailMsg:
		a.selectedRun = msg.run
		a.executions = msg.executions
		a.err = msg.err
		if a.err == nil {
			a.selectedExecIdx = 0
			a.view = ViewRunDetail
		}
		return a, nil

	case runDeletedMsg:
		a.err = msg.err
		return a, a.loadRuns
	}

	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch a.view {
	case ViewRunList:
		return a.handleRunListKey(msg)
	case ViewOutput:
		return a.handleOutputKey(msg)
	case ViewRunDetail:
		return a.handleRunDetailKey(msg)
	}
	return a, nil
}

func (a *App) handleRunListKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return a, tea.Quit

	case "up", "k":
		if a.selectedIdx > 0 {
			a.selectedIdx--
		}

	case "down", "j":
		if a.selectedIdx < len(a.runs)-1 {
			a.selectedIdx++
		}

	case "enter":
		if len(a.runs) > 0 && a.selectedIdx < len(a.runs) {
			return a, a.loadRunDetail(a.runs[a.selectedIdx].ID)
		}

	case "r":
		return a, a.loadRuns

	case "d":
		if len(a.runs) > 0 && a.selectedIdx < len(a.runs) {
			return a, a.deleteRun(a.runs[a.selectedIdx].ID)
		}
	}

	return a, nil
}

func (a *App) handleRunDetailKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		a.view = ViewRunList
		a.selectedRun = nil
		a.executions = nil
		a.selectedExecIdx = 0

	case "ctrl+c":
		return a, tea.Quit

	case "up", "k":
		if a.selectedExecIdx > 0 {
			a.selectedExecIdx--
		}

	case "down", "j":
		if a.selectedExecIdx < len(a.executions)-1 {
			a.selectedExecIdx++
		}

	case "enter", "o":
		if len(a.executions) > 0 && a.selectedExecIdx < len(a.executions) {
			exec := a.executions[a.selectedExecIdx]
			a.showOutput(exec.TaskName, executionOutput(exec))
		}

	case "f":
		if a.selectedRun != nil {
			a.showOutput("Final result", a.selectedRun.RawOutput)
		}
	}

	return a, nil
}

func (a *App) showOutput(title, content string) {
	if strings.TrimSpace(content) == "" {
		content = "(no output)"
	}
	a.outputTitle = title
	a.output.SetContent(content)
	a.output.GotoTop()
	a.view = ViewOutput
}

func (a *App) handleOutputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		a.view = ViewRunDetail
		a.output.SetContent("")
		return a, nil

	case "ctrl+c":
		return a, tea.Quit
	}

	var cmd tea.Cmd
	a.output, cmd = a.output.Update(msg)
	return a, cmd
}

func (a *App) View() string {
	switch a.view {
	case ViewRunList:
		return a.viewRunList()
	case ViewRunDetail:
		return a.viewRunDetail()
	case ViewOutput:
		return a.viewOutput()
	}
	return ""
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	statusRunning  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	statusComplete = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	statusFailed   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))
)

func (a *App) viewRunList() string {
	s := titleStyle.Render("NourishBot history") + "\n\n"

	if a.err != nil {
		s += fmt.Sprintf("Error: %v\n", a.err)
	}

	if len(a.runs) == 0 {
		s += "No runs recorded yet. Run with --history to record one.\n"
	} else {
		s += "Recent Runs\n"
		s += "───────────\n"

		for i, run := range a.runs {
			line := formatRunLine(run)
			if i == a.selectedIdx {
				line = selectedStyle.Render("▶ " + line)
			} else if run.Status != models.RunStatusRunning {
				line = "  " + dimStyle.Render(line)
			} else {
				line = "  " + line
			}
			s += line + "\n"
		}
	}

	s += "\n" + helpStyle.Render("[enter] view  [d] delete  [r] refresh  [q] quit")

	return s
}

func formatRunLine(run *models.Run) string {
	restrictions := "-"
	if run.DietaryRestrictions != nil {
		restrictions = *run.DietaryRestrictions
	}
	return fmt.Sprintf("#%-3d %-9s %s  %-4s  %-24s %s",
		run.ID, run.Workflow, formatStatus(run.Status), formatAge(run.CreatedAt),
		truncate(restrictions, 24), truncate(run.ImagePath, 30))
}

func formatAge(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		days := int(d.Hours() / 24)
		return fmt.Sprintf("%dd", days)
	}
}

func formatStatus(status models.RunStatus) string {
	switch status {
	case models.RunStatusRunning:
		return statusRunning.Render("● running ")
	case models.RunStatusComplete:
		return statusComplete.Render("✓ complete")
	case models.RunStatusFailed:
		return statusFailed.Render("✗ failed  ")
	default:
		return fmt.Sprintf("%-10s", status)
	}
}

func (a *App) viewRunDetail() string {
	if a.selectedRun == nil {
		return "No run selected"
	}

	run := a.selectedRun

	header := fmt.Sprintf("Run #%d: %s", run.ID, run.Workflow)
	s := titleStyle.Render(header) + "  " + formatStatus(run.Status) + "\n\n"

	s += labelStyle.Render("Run:          ") + dimStyle.Render(run.UUID) + "\n"
	s += labelStyle.Render("Image:        ") + run.ImagePath + "\n"
	restrictions := "(none)"
	if run.DietaryRestrictions != nil {
		restrictions = *run.DietaryRestrictions
	}
	s += labelStyle.Render("Restrictions: ") + restrictions + "\n"
	s += labelStyle.Render("Tokens:       ") + fmt.Sprintf("%d (prompt %d, completion %d)", run.TotalTokens(), run.PromptTokens, run.CompletionTokens) + "\n"
	if run.Error != "" {
		s += labelStyle.Render("Error:        ") + statusFailed.Render(run.Error) + "\n"
	}
	s += "\n"

	s += "Tasks\n"
	s += "─────\n"

	if len(a.executions) == 0 {
		s += "(no tasks recorded)\n"
	} else {
		for i, exec := range a.executions {
			status := "○"
			switch exec.Status {
			case models.ExecStatusComplete:
				status = statusComplete.Render("✓")
			case models.ExecStatusRunning:
				status = statusRunning.Render("●")
			case models.ExecStatusFailed:
				status = statusFailed.Render("✗")
			}

			duration := ""
			if exec.StartedAt != nil && exec.CompletedAt != nil {
				duration = dimStyle.Render(formatDuration(exec.CompletedAt.Sub(*exec.StartedAt)))
			}

			// "1. ingredient_detection_task  ✓   12s  340 tok"
			line := fmt.Sprintf("%d. %-26s %s", exec.SequenceNum, exec.TaskName, status)
			if duration != "" {
				line += "  " + fmt.Sprintf("%6s", duration)
			}
			if tokens := exec.PromptTokens + exec.CompletionTokens; tokens > 0 {
				line += dimStyle.Render(fmt.Sprintf("  %d tok", tokens))
			}

			if i == a.selectedExecIdx {
				line = selectedStyle.Render("▶ " + line)
			} else {
				line = "  " + line
			}
			s += line + "\n"
		}
	}

	s += "\n" + helpStyle.Render("[↑/↓] select  [enter] output  [f] final result  [esc] back")

	return s
}

func (a *App) viewOutput() string {
	s := titleStyle.Render(a.outputTitle) + "\n\n"
	s += a.output.View() + "\n"
	s += helpStyle.Render(fmt.Sprintf("%3.f%%  [↑/↓] scroll  [esc] back", a.output.ScrollPercent()*100))
	return s
}

// executionOutput prefers the decoded JSON over the raw text.
func executionOutput(exec *models.Execution) string {
	if exec.Error != "" {
		return "Error: " + exec.Error
	}
	if exec.JSONOutput != nil {
		if data, err := json.MarshalIndent(exec.JSONOutput, "", "  "); err == nil {
			return string(data)
		}
	}
	return exec.RawOutput
}

// Messages

type runsLoadedMsg struct {
	runs []*models.Run
	err  error
}

type runDetailMsg struct {
	run        *models.Run
	executions []*models.Execution
	err        error
}

type runDeletedMsg struct {
	runID int64
	err   error
}

// Commands

func (a *App) loadRuns() tea.Msg {
	runs, err := a.history.ListRuns(listLimit)
	return runsLoadedMsg{runs: runs, err: err}
}

func (a *App) loadRunDetail(id int64) tea.Cmd {
	return func() tea.Msg {
		run, err := a.history.GetRun(id)
		if err != nil {
			return runDetailMsg{err: err}
		}

		execs, err := a.history.GetExecutionsForRun(id)
		return runDetailMsg{run: run, executions: execs, err: err}
	}
}

func (a *App) deleteRun(id int64) tea.Cmd {
	return func() tea.Msg {
		if err := a.history.DeleteRun(id); err != nil {
			return runDeletedMsg{err: err}
		}
		return runDeletedMsg{runID: id}
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
