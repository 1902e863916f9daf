package crew

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/mpataki/nourishbot/internal/definitions"
)

var (
	ErrInvalidDependency = errors.New("invalid task dependency")
	ErrInvalidCrew       = errors.New("invalid crew")
)

// Crew is an ordered, immutable set of tasks and the agents that own them.
type Crew struct {
	Agents  []*Agent
	Tasks   []*Task
	Process Process
	Hooks   Hooks

	logger *slog.Logger
}

// New checks the task list and its declared dependencies. Execution order is
// always the list order. A dependency on a later task or on the task itself
// is an error. A dependency on a task not in the list is ignored.
func New(agents []*Agent, tasks []*Task, process Process, logger *slog.Logger) (*Crew, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if process != Sequential {
		return nil, fmt.Errorf("%w: unsupported process %q", ErrInvalidCrew, process)
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("%w: no tasks", ErrInvalidCrew)
	}

	position := make(map[string]int, len(tasks))
	for i, t := range tasks {
		if t.Name == "" {
			return nil, fmt.Errorf("%w: task %d has no name", ErrInvalidCrew, i)
		}
		if t.Agent == nil {
			return nil, fmt.Errorf("%w: task '%s' has no agent", ErrInvalidCrew, t.Name)
		}
		if _, dup := position[t.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate task '%s'", ErrInvalidCrew, t.Name)
		}
		position[t.Name] = i
	}

	for i, t := range tasks {
		for _, dep := range t.DependsOn {
			if dep == t.Name {
				return nil, fmt.Errorf("%w: task '%s' depends on itself", ErrInvalidDependency, t.Name)
			}
			pos, ok := position[dep]
			if !ok {
				logger.Debug("ignoring dependency on task outside the crew", "task", t.Name, "depends_on", dep)
				continue
			}
			if pos > i {
				return nil, fmt.Errorf("%w: task '%s' depends on '%s' which runs later", ErrInvalidDependency, t.Name, dep)
			}
		}
	}

	for _, a := range agents {
		if len(a.DependsOn) > 0 {
			logger.Debug("agent dependencies are informational", "agent", a.Name, "depends_on", a.DependsOn)
		}
	}

	return &Crew{Agents: agents, Tasks: tasks, Process: process, logger: logger}, nil
}

// Kickoff runs every task in order and stops at the first failure.
func (c *Crew) Kickoff(ctx context.Context, exec Executor, inputs map[string]any) (*CrewOutput, error) {
	out := &CrewOutput{}
	prior := make(map[string]*TaskOutput, len(c.Tasks))

	for i, task := range c.Tasks {
		if err := ctx.Err(); err != nil {
			return out, fmt.Errorf("task '%s' not started: %w", task.Name, err)
		}

		req := c.prepare(task, inputs, prior)

		if c.Hooks.OnTaskStart != nil {
			c.Hooks.OnTaskStart(i, task)
		}
		c.logger.Info("task started", "task", task.Name, "agent", task.Agent.Name, "index", i+1, "of", len(c.Tasks))

		started := time.Now()
		result, err := exec.Execute(ctx, req)
		if err == nil && result == nil {
			err = errors.New("executor returned no output")
		}
		if err != nil {
			err = fmt.Errorf("task '%s' failed: %w", task.Name, err)
			if c.Hooks.OnTaskEnd != nil {
				c.Hooks.OnTaskEnd(i, task, nil, err)
			}
			return out, err
		}

		result.Name = task.Name
		result.Agent = task.Agent.Name
		result.Description = req.Description
		if result.StartedAt.IsZero() {
			result.StartedAt = started
		}
		if result.CompletedAt.IsZero() {
			result.CompletedAt = time.Now()
		}

		c.logger.Info("task finished", "task", task.Name, "duration", result.Duration().Round(time.Millisecond), "tokens", result.Usage.Total())
		if c.Hooks.OnTaskEnd != nil {
			c.Hooks.OnTaskEnd(i, task, result, nil)
		}

		prior[task.Name] = result
		out.TasksOutput = append(out.TasksOutput, result)
		out.TokenUsage.add(result.Usage)
		out.Raw = result.Raw
		out.JSON = result.JSON
		out.Structured = result.Structured
	}

	return out, nil
}

func (c *Crew) prepare(task *Task, inputs map[string]any, prior map[string]*TaskOutput) *ExecuteRequest {
	merged := make(map[string]any, len(inputs))
	maps.Copy(merged, inputs)

	var derived map[string]any
	if task.InputData != nil {
		derived = task.InputData(prior)
		maps.Copy(merged, derived)
	}

	return &ExecuteRequest{
		Task:           task,
		Agent:          task.Agent.withInputs(merged),
		Description:    definitions.Interpolate(task.Description, merged),
		ExpectedOutput: definitions.Interpolate(task.ExpectedOutput, merged),
		Inputs:         merged,
		InputData:      derived,
		Context:        c.context(task, prior),
		Coworkers:      c.coworkers(task.Agent, merged),
	}
}

// context returns the outputs of the declared dependencies that have run,
// or every earlier output when the task declares none in this crew.
func (c *Crew) context(task *Task, prior map[string]*TaskOutput) []*TaskOutput {
	var ctx []*TaskOutput
	for _, dep := range task.DependsOn {
		if o, ok := prior[dep]; ok {
			ctx = append(ctx, o)
		}
	}
	if len(ctx) > 0 {
		return ctx
	}
	for _, t := range c.Tasks {
		if o, ok := prior[t.Name]; ok {
			ctx = append(ctx, o)
		}
	}
	return ctx
}

// coworkers returns the other agents with their text filled in from inputs.
func (c *Crew) coworkers(self *Agent, inputs map[string]any) []*Agent {
	var out []*Agent
	for _, a := range c.Agents {
		if a != self {
			out = append(out, a.withInputs(inputs))
		}
	}
	return out
}
