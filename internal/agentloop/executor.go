// Package agentloop executes crew tasks with a text-based reasoning and
// tool-use loop on top of an llm.Client.
package agentloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/mpataki/nourishbot/internal/crew"
	"github.com/mpataki/nourishbot/internal/llm"
	"github.com/mpataki/nourishbot/internal/schema"
	"github.com/mpataki/nourishbot/internal/tools"
)

// ErrOutputSchema is returned when the final answer cannot be decoded into
// the task's output schema, even after a repair attempt.
var ErrOutputSchema = errors.New("output does not match schema")

// Executor implements crew.Executor.
type Executor struct {
	client      llm.Client
	logger      *slog.Logger
	maxTokens   int
	temperature *float64
}

type Option func(*Executor)

func WithMaxTokens(n int) Option {
	return func(e *Executor) { e.maxTokens = n }
}

func WithTemperature(t float64) Option {
	return func(e *Executor) { e.temperature = &t }
}

func New(client llm.Client, logger *slog.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	e := &Executor{client: client, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var _ crew.Executor = (*Executor)(nil)

// Execute runs the agent loop for one task and decodes the structured output
// when the task declares a schema.
func (e *Executor) Execute(ctx context.Context, req *crew.ExecuteRequest) (*crew.TaskOutput, error) {
	started := time.Now()
	logger := e.logger.With("task", req.Task.Name, "agent", req.Agent.Name)

	var schemaJSON string
	if req.Task.OutputSchema != nil {
		s, err := schema.For(req.Task.OutputSchema)
		if err != nil {
			return nil, err
		}
		schemaJSON = s
	}

	usage := &llm.Usage{}
	toolset := req.Agent.Tools
	if req.Agent.AllowDelegation && len(req.Coworkers) > 0 {
		toolset = append(append([]tools.Tool{}, toolset...), delegationTools(e, req.Coworkers, usage, logger)...)
	}

	r := &run{
		exec:    e,
		agent:   req.Agent,
		toolset: toolset,
		system:  systemPrompt(req.Agent, toolset),
		logger:  logger,
		usage:   usage,
	}
	r.messages = []llm.Message{
		llm.UserMessage(taskPrompt(req.Description, req.ExpectedOutput, schemaJSON, req.InputData, req.Context)),
	}

	answer, err := r.loop(ctx)
	if err != nil {
		return nil, err
	}

	out := &crew.TaskOutput{
		Raw:       answer,
		StartedAt: started,
	}

	if req.Task.OutputSchema != nil {
		structured, raw, err := r.decode(ctx, req.Task.OutputSchema, answer)
		if err != nil {
			return nil, err
		}
		out.Raw = raw
		out.Structured = structured
		if out.JSON, err = schema.ToMap(structured); err != nil {
			return nil, fmt.Errorf("failed to convert output: %w", err)
		}
	}

	out.Usage = *usage
	out.CompletedAt = time.Now()
	return out, nil
}

// run is the state of one agent working one prompt.
type run struct {
	exec     *Executor
	agent    *crew.Agent
	toolset  []tools.Tool
	system   string
	messages []llm.Message
	logger   *slog.Logger
	usage    *llm.Usage
}

func (r *run) complete(ctx context.Context) (string, error) {
	resp, err := r.exec.client.Complete(ctx, llm.Request{
		Model:       r.agent.Model,
		System:      r.system,
		Messages:    r.messages,
		MaxTokens:   r.exec.maxTokens,
		Temperature: r.exec.temperature,
	})
	if err != nil {
		return "", err
	}
	*r.usage = r.usage.Add(resp.Usage)
	return resp.Content, nil
}

// loop iterates until a final answer or the agent's step limit. At the limit
// one more call asks for a final answer without tools.
func (r *run) loop(ctx context.Context) (string, error) {
	maxIter := r.agent.Iterations()

	for iter := 1; iter <= maxIter; iter++ {
		content, err := r.complete(ctx)
		if err != nil {
			return "", err
		}

		st, ok := parseStep(content)
		switch {
		case ok && st.IsFinal:
			r.logger.Debug("final answer", "iteration", iter, "thought", truncate(st.Thought, 200))
			return st.FinalAnswer, nil

		case ok:
			observation := r.useTool(ctx, st)
			r.logger.Debug("agent step",
				"iteration", iter,
				"thought", truncate(st.Thought, 200),
				"action", st.Action,
				"observation", truncate(observation, 300),
			)
			r.messages = append(r.messages,
				llm.AssistantMessage(st.Text),
				llm.UserMessage("Observation: "+observation),
			)

		case len(r.toolset) == 0:
			// without tools the only sensible reply is the answer itself
			return strings.TrimSpace(content), nil

		default:
			r.logger.Debug("reply in wrong format", "iteration", iter)
			r.messages = append(r.messages,
				llm.AssistantMessage(st.Text),
				llm.UserMessage(formatErrorMessage),
			)
		}

		if err := ctx.Err(); err != nil {
			return "", err
		}
	}

	r.logger.Debug("step limit reached, forcing final answer", "max_iter", maxIter)
	r.messages = append(r.messages, llm.UserMessage(forceFinalMessage))
	content, err := r.complete(ctx)
	if err != nil {
		return "", err
	}
	if st, ok := parseStep(content); ok && st.IsFinal {
		return st.FinalAnswer, nil
	}
	return strings.TrimSpace(content), nil
}

// useTool runs the requested tool. Every failure becomes the observation so
// the agent can correct itself.
func (r *run) useTool(ctx context.Context, st step) string {
	var tool tools.Tool
	for _, t := range r.toolset {
		if t.Name() == st.Action {
			tool = t
			break
		}
	}
	if tool == nil {
		names := make([]string, len(r.toolset))
		for i, t := range r.toolset {
			names[i] = t.Name()
		}
		return fmt.Sprintf("Error: '%s' is not a valid tool. Use one of [%s].", st.Action, strings.Join(names, ", "))
	}

	result, err := tool.Run(tools.WithUsage(ctx, r.usage), st.Args)
	if err != nil {
		r.logger.Debug("tool failed", "tool", st.Action, "error", err)
		return fmt.Sprintf("Error running tool '%s': %v", st.Action, err)
	}
	return result
}

// decode parses the answer into a fresh value of the schema type. On failure
// the model gets one chance to repair its answer.
func (r *run) decode(ctx context.Context, target any, answer string) (any, string, error) {
	t := reflect.TypeOf(target)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	value := reflect.New(t).Interface()
	err := schema.Decode(answer, value)
	if err == nil {
		raw, _ := schema.Extract(answer)
		return value, raw, nil
	}

	r.logger.Debug("final answer failed schema, requesting repair", "error", err)
	r.messages = append(r.messages,
		llm.AssistantMessage("Final Answer: "+answer),
		llm.UserMessage(fmt.Sprintf(repairMessage, err)),
	)
	repaired, cerr := r.complete(ctx)
	if cerr != nil {
		return nil, "", cerr
	}
	if st, ok := parseStep(repaired); ok && st.IsFinal {
		repaired = st.FinalAnswer
	}

	value = reflect.New(t).Interface()
	if err := schema.Decode(repaired, value); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrOutputSchema, err)
	}
	raw, _ := schema.Extract(repaired)
	return value, raw, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
