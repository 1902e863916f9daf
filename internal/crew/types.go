// Package crew runs an ordered list of agent tasks through an Executor.
package crew

import (
	"context"
	"time"

	"github.com/mpataki/nourishbot/internal/definitions"
	"github.com/mpataki/nourishbot/internal/llm"
	"github.com/mpataki/nourishbot/internal/tools"
)

// DefaultMaxIter bounds an agent's reasoning steps when none is set.
const DefaultMaxIter = 15

type Process string

const Sequential Process = "sequential"

// Agent is a role an LLM plays, with the tools it may call.
type Agent struct {
	Name      string
	Role      string
	Goal      string
	Backstory string
	// Model overrides the client's default model when set.
	Model           string
	Tools           []tools.Tool
	AllowDelegation bool
	MaxIter         int
	Verbose         bool
	// DependsOn is informational only. It is never scheduled.
	DependsOn []string
}

// Iterations returns MaxIter or the default.
func (a *Agent) Iterations() int {
	if a.MaxIter <= 0 {
		return DefaultMaxIter
	}
	return a.MaxIter
}

// withInputs returns a copy with placeholders in its text filled in.
func (a *Agent) withInputs(inputs map[string]any) *Agent {
	cp := *a
	cp.Role = definitions.Interpolate(a.Role, inputs)
	cp.Goal = definitions.Interpolate(a.Goal, inputs)
	cp.Backstory = definitions.Interpolate(a.Backstory, inputs)
	return &cp
}

// InputFunc derives extra task inputs from the outputs of earlier tasks,
// keyed by task name.
type InputFunc func(prior map[string]*TaskOutput) map[string]any

type Task struct {
	Name           string
	Description    string
	ExpectedOutput string
	Agent          *Agent
	// OutputSchema is a pointer to a zero value of the struct the final
	// answer must decode into, or nil for free text.
	OutputSchema any
	DependsOn    []string
	InputData    InputFunc
}

type TaskOutput struct {
	Name        string
	Agent       string
	Description string
	Raw         string
	JSON        map[string]any
	Structured  any
	Usage       llm.Usage
	StartedAt   time.Time
	CompletedAt time.Time
}

// Duration is how long the task ran.
func (o *TaskOutput) Duration() time.Duration {
	return o.CompletedAt.Sub(o.StartedAt)
}

// UsageMetrics totals token usage across a kickoff.
type UsageMetrics struct {
	TotalTokens        int
	PromptTokens       int
	CompletionTokens   int
	SuccessfulRequests int
}

func (u *UsageMetrics) add(usage llm.Usage) {
	u.PromptTokens += usage.PromptTokens
	u.CompletionTokens += usage.CompletionTokens
	u.TotalTokens += usage.Total()
	u.SuccessfulRequests += usage.Requests
}

// CrewOutput carries the final task's result plus every task's output.
type CrewOutput struct {
	Raw         string
	JSON        map[string]any
	Structured  any
	TasksOutput []*TaskOutput
	TokenUsage  UsageMetrics
}

// ExecuteRequest is one task bound to its agent, ready to run.
type ExecuteRequest struct {
	Task *Task
	// Agent has placeholders already interpolated.
	Agent *Agent
	// Description is the task description with inputs interpolated.
	Description    string
	ExpectedOutput string
	// Inputs are the kickoff inputs merged with InputData.
	Inputs map[string]any
	// InputData is only what the task derived from earlier outputs.
	InputData map[string]any
	Context   []*TaskOutput
	Coworkers []*Agent
}

// Executor runs a single task. Implementations own LLM calls, tool use,
// delegation and output parsing.
type Executor interface {
	Execute(ctx context.Context, req *ExecuteRequest) (*TaskOutput, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, req *ExecuteRequest) (*TaskOutput, error)

func (f ExecutorFunc) Execute(ctx context.Context, req *ExecuteRequest) (*TaskOutput, error) {
	return f(ctx, req)
}

// Hooks observe task progress. Any field may be nil.
type Hooks struct {
	OnTaskStart func(index int, task *Task)
	OnTaskEnd   func(index int, task *Task, out *TaskOutput, err error)
}
