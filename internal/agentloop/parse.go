package agentloop

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/mpataki/nourishbot/internal/schema"
)

// step is one parsed model turn.
type step struct {
	Thought     string
	Action      string
	ActionInput string
	Args        map[string]any
	FinalAnswer string
	IsFinal     bool
	// Text is the reply cut before any invented Observation.
	Text string
}

var (
	thoughtRe     = regexp.MustCompile(`(?s)^\s*(?:Thought\s*:)?\s*(.*?)\s*(?:\n\s*(?:Action|Final Answer)\s*:|$)`)
	actionRe      = regexp.MustCompile(`(?s)Action\s*:\s*([^\n]*?)\s*\n\s*Action\s*Input\s*:\s*(.*)`)
	finalAnswerRe = regexp.MustCompile(`(?s)Final\s+Answer\s*:\s*(.*)`)
	observationRe = regexp.MustCompile(`(?m)^\s*Observation\s*:`)
)

// parseStep reads a reply in the Thought / Action / Action Input or
// Thought / Final Answer format. ok is false when neither form is present.
func parseStep(text string) (st step, ok bool) {
	if loc := observationRe.FindStringIndex(text); loc != nil {
		text = text[:loc[0]]
	}
	st.Text = strings.TrimSpace(text)

	if m := thoughtRe.FindStringSubmatch(st.Text); m != nil {
		st.Thought = strings.TrimSpace(m[1])
	}

	if m := actionRe.FindStringSubmatch(st.Text); m != nil {
		st.Action = cleanToolName(m[1])
		st.ActionInput = strings.TrimSpace(m[2])
		// a trailing Final Answer after an action belongs to a later turn
		if i := finalAnswerRe.FindStringIndex(st.ActionInput); i != nil {
			st.ActionInput = strings.TrimSpace(st.ActionInput[:i[0]])
		}
		st.Args = parseArgs(st.ActionInput)
		return st, st.Action != ""
	}

	if m := finalAnswerRe.FindStringSubmatch(st.Text); m != nil {
		st.FinalAnswer = strings.TrimSpace(m[1])
		st.IsFinal = true
		return st, true
	}

	return st, false
}

func cleanToolName(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "`*\"' ")
	return strings.ToLower(s)
}

// parseArgs decodes a JSON object action input. Anything else is passed
// through under the "input" key.
func parseArgs(input string) map[string]any {
	if input == "" {
		return map[string]any{}
	}
	if raw, err := schema.Extract(input); err == nil && strings.HasPrefix(raw, "{") {
		var args map[string]any
		if err := json.Unmarshal([]byte(raw), &args); err == nil {
			return args
		}
	}
	return map[string]any{"input": strings.Trim(input, "`\"' \n")}
}
