package agentloop

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mpataki/nourishbot/internal/crew"
	"github.com/mpataki/nourishbot/internal/tools"
)

const toolsFormat = `You can use only the tools listed below. Never invent a tool.

%s

Work in this exact format:

Thought: reason about what to do next
Action: the tool to use, exactly one of [%s]
Action Input: the tool arguments as a JSON object
Observation: the tool result, which will be given to you

Repeat Thought, Action, Action Input and Observation as often as needed. When
you know the answer, reply with:

Thought: I now know the final answer
Final Answer: the complete answer to the task`

const noToolsFormat = `Reply in this exact format:

Thought: reason about the task
Final Answer: the complete answer to the task`

const formatErrorMessage = `Your reply did not follow the required format. Either call a tool with
"Action:" and "Action Input:" lines, or finish with a "Final Answer:" line.`

const forceFinalMessage = `You have used all of your steps. Stop using tools and reply now with your
best answer in the form:

Final Answer: the complete answer to the task`

const repairMessage = `Your final answer could not be used: %v

Reply with only the corrected JSON object matching the schema, with no other text.`

func systemPrompt(agent *crew.Agent, toolset []tools.Tool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s. %s\nYour personal goal is: %s\n\n", agent.Role, agent.Backstory, agent.Goal)
	if len(toolset) == 0 {
		b.WriteString(noToolsFormat)
		return b.String()
	}
	names := make([]string, len(toolset))
	for i, t := range toolset {
		names[i] = t.Name()
	}
	fmt.Fprintf(&b, toolsFormat, tools.Describe(toolset), strings.Join(names, ", "))
	return b.String()
}

func taskPrompt(description, expected, schemaJSON string, inputData map[string]any, context []*crew.TaskOutput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current task: %s\n\nYour final answer must meet this expectation: %s\n", description, expected)
	if schemaJSON != "" {
		fmt.Fprintf(&b, "\nThe final answer must be a single JSON object matching this JSON Schema:\n%s\n", schemaJSON)
	}
	if len(inputData) > 0 {
		b.WriteString("\nInput data:\n")
		keys := make([]string, 0, len(inputData))
		for k := range inputData {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %s\n", k, render(inputData[k]))
		}
	}
	if len(context) > 0 {
		b.WriteString("\nContext from earlier tasks:\n")
		for _, c := range context {
			fmt.Fprintf(&b, "### %s\n%s\n", c.Name, c.Raw)
		}
	}
	b.WriteString("\nBegin.")
	return b.String()
}

func render(v any) string {
	switch val := v.(type) {
	case nil:
		return "None"
	case *string:
		if val == nil {
			return "None"
		}
		return *val
	case string:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}
