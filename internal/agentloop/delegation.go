package agentloop

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mpataki/nourishbot/internal/crew"
	"github.com/mpataki/nourishbot/internal/llm"
	"github.com/mpataki/nourishbot/internal/tools"
)

// delegateTool hands a piece of work or a question to a coworker agent. The
// coworker runs once, with its own tools but without delegation.
type delegateTool struct {
	name        string
	description string
	textKey     string
	exec        *Executor
	coworkers   []*crew.Agent
	usage       *llm.Usage
	logger      *slog.Logger
}

func delegationTools(e *Executor, coworkers []*crew.Agent, usage *llm.Usage, logger *slog.Logger) []tools.Tool {
	roles := make([]string, len(coworkers))
	for i, c := range coworkers {
		roles[i] = c.Role
	}
	list := strings.Join(roles, ", ")

	return []tools.Tool{
		&delegateTool{
			name: "delegate_work",
			description: fmt.Sprintf(`Hands a specific task to one of these coworkers: %s. `+
				`Arguments: {"task": "<what to do>", "context": "<everything they need to know>", "coworker": "<role>"}.`, list),
			textKey:   "task",
			exec:      e,
			coworkers: coworkers,
			usage:     usage,
			logger:    logger,
		},
		&delegateTool{
			name: "ask_question",
			description: fmt.Sprintf(`Asks a question to one of these coworkers: %s. `+
				`Arguments: {"question": "<the question>", "context": "<everything they need to know>", "coworker": "<role>"}.`, list),
			textKey:   "question",
			exec:      e,
			coworkers: coworkers,
			usage:     usage,
			logger:    logger,
		},
	}
}

func (t *delegateTool) Name() string        { return t.name }
func (t *delegateTool) Description() string { return t.description }

func (t *delegateTool) Run(ctx context.Context, args map[string]any) (string, error) {
	text := tools.StringArg(args, t.textKey, "input")
	if text == "" {
		return "", fmt.Errorf("%s requires a '%s' argument", t.name, t.textKey)
	}
	who := tools.StringArg(args, "coworker")

	coworker := t.find(who)
	if coworker == nil {
		roles := make([]string, len(t.coworkers))
		for i, c := range t.coworkers {
			roles[i] = c.Role
		}
		return "", fmt.Errorf("coworker '%s' not found, choose one of [%s]", who, strings.Join(roles, ", "))
	}

	t.logger.Debug("delegating", "tool", t.name, "coworker", coworker.Name)

	helper := *coworker
	helper.AllowDelegation = false

	r := &run{
		exec:    t.exec,
		agent:   &helper,
		toolset: helper.Tools,
		system:  systemPrompt(&helper, helper.Tools),
		logger:  t.logger.With("coworker", helper.Name),
		usage:   t.usage,
	}
	prompt := fmt.Sprintf("Current task: %s\n\nContext: %s\n\nBegin.", text, tools.StringArg(args, "context"))
	r.messages = []llm.Message{llm.UserMessage(prompt)}

	return r.loop(ctx)
}

// find matches a coworker by role or name, ignoring case. With a single
// coworker an empty name selects it.
func (t *delegateTool) find(who string) *crew.Agent {
	who = strings.ToLower(strings.TrimSpace(who))
	if who == "" && len(t.coworkers) == 1 {
		return t.coworkers[0]
	}
	for _, c := range t.coworkers {
		if strings.ToLower(strings.TrimSpace(c.Role)) == who || strings.ToLower(c.Name) == who {
			return c
		}
	}
	return nil
}
