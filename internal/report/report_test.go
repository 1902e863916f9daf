package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/nourishbot/internal/crew"
	"github.com/mpataki/nourishbot/internal/llm"
)

func sampleOutput() *crew.CrewOutput {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &crew.CrewOutput{
		Raw:        `{"recipes":[{"title":"Tofu bowl"}]}`,
		JSON:       map[string]any{"recipes": []any{map[string]any{"title": "Tofu bowl"}}},
		Structured: map[string]string{"title": "Tofu bowl"},
		TasksOutput: []*crew.TaskOutput{
			{Name: "ingredient_detection_task", Agent: "Ingredient Detection Specialist", Raw: "tofu\nrice", Usage: llm.Usage{PromptTokens: 10, CompletionTokens: 5}, StartedAt: start, CompletedAt: start.Add(2 * time.Second)},
			{Name: "recipe_suggestion_task", Agent: "Creative Recipe Developer", Raw: "Tofu bowl", StartedAt: start, CompletedAt: start},
		},
		TokenUsage: crew.UsageMetrics{TotalTokens: 15, PromptTokens: 10, CompletionTokens: 5, SuccessfulRequests: 1},
	}
}

func TestResultSectionOrder(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf)
	p.Welcome()
	require.NoError(t, p.Result(sampleOutput()))

	out := buf.String()
	order := []string{
		welcomeBanner,
		"Raw Output:",
		"JSON Output:",
		"Structured Output:",
		"Tasks Output:",
		"### ingredient_detection_task",
		"### recipe_suggestion_task",
		"Token Usage:",
		resultBanner,
	}
	last := -1
	for _, marker := range order {
		idx := strings.Index(out, marker)
		require.GreaterOrEqual(t, idx, 0, "missing %q", marker)
		assert.Greater(t, idx, last, "%q out of order", marker)
		last = idx
	}

	assert.Contains(t, out, "total_tokens=15 prompt_tokens=10 completion_tokens=5 successful_requests=1")
	assert.Contains(t, out, "    rice\n")
	assert.Contains(t, out, "2s")
	assert.Contains(t, out, "\"recipes\": [")
	assert.True(t, strings.HasSuffix(out, `{"recipes":[{"title":"Tofu bowl"}]}`+"\n"))
}

func TestResultOmitsEmptySections(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, New(&buf).Result(&crew.CrewOutput{Raw: "A balanced plate."}))

	out := buf.String()
	assert.NotContains(t, out, "JSON Output:")
	assert.NotContains(t, out, "Structured Output:")
	assert.Contains(t, out, "Raw Output: A balanced plate.")
}

func TestResultMarkdown(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf, WithMarkdown(true), WithWidth(60))
	require.NoError(t, p.Result(&crew.CrewOutput{Raw: "# Tofu bowl\n\n- tofu\n- rice"}))

	out := buf.String()
	assert.Contains(t, out, "Tofu bowl")
	assert.Contains(t, out, "tofu")
	assert.NotContains(t, out, "- tofu")
}
