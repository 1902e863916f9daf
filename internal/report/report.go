// Package report prints crew results to the console.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/mpataki/nourishbot/internal/crew"
)

const (
	welcomeBanner = "## Welcome to the AI NourishBot Crew"
	resultBanner  = "## Here is the result"
)

type Printer struct {
	w        io.Writer
	markdown bool
	width    int

	title lipgloss.Style
	label lipgloss.Style
	dim   lipgloss.Style
}

type Option func(*Printer)

// WithMarkdown renders the raw output through glamour.
func WithMarkdown(enabled bool) Option {
	return func(p *Printer) { p.markdown = enabled }
}

// WithWidth sets the markdown wrap width.
func WithWidth(width int) Option {
	return func(p *Printer) { p.width = width }
}

func New(w io.Writer, opts ...Option) *Printer {
	r := lipgloss.NewRenderer(w)
	p := &Printer{
		w:     w,
		width: 80,
		title: r.NewStyle().Bold(true).Foreground(lipgloss.Color("205")),
		label: r.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		dim:   r.NewStyle().Foreground(lipgloss.Color("243")),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Welcome prints the opening banner.
func (p *Printer) Welcome() {
	fmt.Fprintln(p.w, p.title.Render(welcomeBanner))
	fmt.Fprintln(p.w, strings.Repeat("-", len(welcomeBanner)))
}

// Result prints every section of out, then the final result.
func (p *Printer) Result(out *crew.CrewOutput) error {
	raw, err := p.renderRaw(out.Raw)
	if err != nil {
		return err
	}

	fmt.Fprintf(p.w, "%s %s\n", p.label.Render("Raw Output:"), raw)

	if len(out.JSON) > 0 {
		data, err := json.MarshalIndent(out.JSON, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to format JSON output: %w", err)
		}
		fmt.Fprintf(p.w, "%s %s\n", p.label.Render("JSON Output:"), data)
	}
	if out.Structured != nil {
		fmt.Fprintf(p.w, "%s %+v\n", p.label.Render("Structured Output:"), out.Structured)
	}

	fmt.Fprintln(p.w, p.label.Render("Tasks Output:"))
	for _, t := range out.TasksOutput {
		p.task(t)
	}

	u := out.TokenUsage
	fmt.Fprintf(p.w, "%s total_tokens=%d prompt_tokens=%d completion_tokens=%d successful_requests=%d\n",
		p.label.Render("Token Usage:"), u.TotalTokens, u.PromptTokens, u.CompletionTokens, u.SuccessfulRequests)

	rule := strings.Repeat("#", 24)
	fmt.Fprintf(p.w, "\n\n%s\n%s\n%s\n\n", rule, p.title.Render(resultBanner), rule)
	fmt.Fprintln(p.w, raw)
	return nil
}

func (p *Printer) task(t *crew.TaskOutput) {
	fmt.Fprintf(p.w, "  %s %s\n", p.title.Render("### "+t.Name), p.dim.Render(fmt.Sprintf("(%s, %s, %d tokens)",
		t.Agent, t.Duration().Round(time.Millisecond), t.Usage.Total())))
	for _, line := range strings.Split(strings.TrimSpace(t.Raw), "\n") {
		fmt.Fprintf(p.w, "    %s\n", line)
	}
}

func (p *Printer) renderRaw(raw string) (string, error) {
	if !p.markdown {
		return raw, nil
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(p.width),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create markdown renderer: %w", err)
	}
	out, err := r.Render(raw)
	if err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return strings.TrimRight(out, "\n"), nil
}
