package agentloop

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/nourishbot/internal/crew"
	"github.com/mpataki/nourishbot/internal/llm/llmtest"
	"github.com/mpataki/nourishbot/internal/models"
	"github.com/mpataki/nourishbot/internal/tools"
)

type stubTool struct {
	name   string
	result string
	err    error
	calls  []map[string]any
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "stub " + s.name }
func (s *stubTool) Run(_ context.Context, args map[string]any) (string, error) {
	s.calls = append(s.calls, args)
	return s.result, s.err
}

func request(agent *crew.Agent, schema any, coworkers ...*crew.Agent) *crew.ExecuteRequest {
	task := &crew.Task{Name: "test_task", Description: "Do the thing", ExpectedOutput: "A thing", Agent: agent, OutputSchema: schema}
	return &crew.ExecuteRequest{
		Task:           task,
		Agent:          agent,
		Description:    task.Description,
		ExpectedOutput: task.ExpectedOutput,
		Coworkers:      coworkers,
	}
}

func TestExecuteWithTool(t *testing.T) {
	tool := &stubTool{name: "extract_ingredients", result: `["rice","beans"]`}
	agent := &crew.Agent{Name: "detector", Role: "Ingredient Detection Specialist", Tools: []tools.Tool{tool}}
	fake := llmtest.New(
		"Thought: I should look at the image\nAction: extract_ingredients\nAction Input: {\"image_path\": \"bowl.jpg\"}\nObservation: made up",
		"Thought: I now know the final answer\nFinal Answer: rice, beans",
	)

	out, err := New(fake, nil).Execute(context.Background(), request(agent, nil))
	require.NoError(t, err)

	assert.Equal(t, "rice, beans", out.Raw)
	assert.Nil(t, out.Structured)
	require.Len(t, tool.calls, 1)
	assert.Equal(t, "bowl.jpg", tool.calls[0]["image_path"])

	require.Equal(t, 2, fake.Calls())
	assert.Equal(t, `Observation: ["rice","beans"]`, fake.LastUserMessage(1))
	assert.NotContains(t, fake.Transcript(1), "made up", "invented observations are dropped")
	assert.Equal(t, 2, out.Usage.Requests)
	assert.Equal(t, 30, out.Usage.Total())
}

func TestExecuteUsesAgentModel(t *testing.T) {
	agent := &crew.Agent{Name: "chef", Role: "Chef", Model: "gpt-4o"}
	fake := llmtest.New("Final Answer: soup")

	_, err := New(fake, nil).Execute(context.Background(), request(agent, nil))
	require.NoError(t, err)
	require.Equal(t, 1, fake.Calls())
	assert.Equal(t, "gpt-4o", fake.Requests[0].Model)
}

func TestExecuteCountsToolUsage(t *testing.T) {
	vision := llmtest.New(`["rice"]`)
	agent := &crew.Agent{Name: "detector", Role: "Detector", Tools: []tools.Tool{tools.NewExtractIngredients(vision, "", nil)}}
	fake := llmtest.New(
		"Thought: look\nAction: extract_ingredients\nAction Input: {\"image_path\": \"../tools/testdata/plate.png\"}",
		"Final Answer: rice",
	)

	out, err := New(fake, nil).Execute(context.Background(), request(agent, nil))
	require.NoError(t, err)
	assert.Equal(t, 1, vision.Calls())
	assert.Equal(t, 3, out.Usage.Requests)
	assert.Equal(t, 45, out.Usage.Total())
}

func TestExecuteToolFailuresBecomeObservations(t *testing.T) {
	broken := &stubTool{name: "dietary_filter", err: errors.New("rules engine is closed")}
	agent := &crew.Agent{Name: "filter", Role: "Dietary Compliance Analyst", Tools: []tools.Tool{broken}}
	fake := llmtest.New(
		"Thought: try a tool\nAction: search_web\nAction Input: vegan",
		"Thought: try the real one\nAction: dietary_filter\nAction Input: {\"ingredients\": [\"egg\"]}",
		"Final Answer: nothing allowed",
	)

	out, err := New(fake, nil).Execute(context.Background(), request(agent, nil))
	require.NoError(t, err)
	assert.Equal(t, "nothing allowed", out.Raw)
	assert.Contains(t, fake.LastUserMessage(1), "'search_web' is not a valid tool")
	assert.Contains(t, fake.LastUserMessage(2), "rules engine is closed")
}

func TestExecuteFormatError(t *testing.T) {
	agent := &crew.Agent{Name: "a", Role: "r", Tools: []tools.Tool{&stubTool{name: "t"}}}
	fake := llmtest.New("I am not sure what to do.", "Final Answer: ok")

	out, err := New(fake, nil).Execute(context.Background(), request(agent, nil))
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Raw)
	assert.Equal(t, formatErrorMessage, fake.LastUserMessage(1))
}

func TestExecuteWithoutToolsAcceptsPlainReply(t *testing.T) {
	agent := &crew.Agent{Name: "chef", Role: "Chef"}
	fake := llmtest.New("Here are some recipes.")

	out, err := New(fake, nil).Execute(context.Background(), request(agent, nil))
	require.NoError(t, err)
	assert.Equal(t, "Here are some recipes.", out.Raw)
	assert.Equal(t, 1, fake.Calls())
}

func TestExecuteForcesFinalAnswer(t *testing.T) {
	tool := &stubTool{name: "analyze_image", result: "{}"}
	agent := &crew.Agent{Name: "analyst", Role: "Nutrition Analyst", Tools: []tools.Tool{tool}, MaxIter: 2}
	action := "Thought: again\nAction: analyze_image\nAction Input: {\"image_path\": \"a.jpg\"}"
	fake := llmtest.New(action, action, "Final Answer: best guess")

	out, err := New(fake, nil).Execute(context.Background(), request(agent, nil))
	require.NoError(t, err)
	assert.Equal(t, "best guess", out.Raw)
	assert.Equal(t, 3, fake.Calls())
	assert.Len(t, tool.calls, 2)
	assert.Equal(t, forceFinalMessage, fake.LastUserMessage(2))
}

const validAnalysis = `{"dish_name": "Oatmeal", "calories": 300, "macronutrients": {"protein_g": 10, "carbohydrates_g": 54, "fat_g": 6}, "health_evaluation": "Good breakfast."}`

func TestExecuteStructuredOutput(t *testing.T) {
	agent := &crew.Agent{Name: "analyst", Role: "Nutrition Analyst"}
	fake := llmtest.New("Thought: done\nFinal Answer: ```json\n" + validAnalysis + "\n```")

	out, err := New(fake, nil).Execute(context.Background(), request(agent, &models.NutrientAnalysisOutput{}))
	require.NoError(t, err)

	analysis, ok := out.Structured.(*models.NutrientAnalysisOutput)
	require.True(t, ok)
	assert.Equal(t, "Oatmeal", analysis.DishName)
	assert.Equal(t, "Oatmeal", out.JSON["dish_name"])
	assert.JSONEq(t, validAnalysis, out.Raw)
	assert.Contains(t, fake.LastUserMessage(0), `"health_evaluation"`, "the schema is in the task prompt")
}

func TestExecuteRepairsOutput(t *testing.T) {
	agent := &crew.Agent{Name: "analyst", Role: "Nutrition Analyst"}
	fake := llmtest.New("Final Answer: about 300 calories", validAnalysis)

	out, err := New(fake, nil).Execute(context.Background(), request(agent, &models.NutrientAnalysisOutput{}))
	require.NoError(t, err)
	assert.Equal(t, 2, fake.Calls())
	assert.Equal(t, 300.0, out.Structured.(*models.NutrientAnalysisOutput).Calories)
	assert.Contains(t, fake.LastUserMessage(1), "corrected JSON")
}

func TestExecuteSchemaFailure(t *testing.T) {
	agent := &crew.Agent{Name: "chef", Role: "Chef"}
	fake := llmtest.New("Final Answer: {\"recipes\": []}", "Final Answer: still no recipes")

	_, err := New(fake, nil).Execute(context.Background(), request(agent, &models.RecipeSuggestionOutput{}))
	assert.ErrorIs(t, err, ErrOutputSchema)
	assert.Equal(t, 2, fake.Calls())
}

func TestExecuteDelegation(t *testing.T) {
	analyst := &crew.Agent{Name: "analyst", Role: "Nutrition Analyst", AllowDelegation: true}
	filter := &crew.Agent{Name: "filter", Role: "Dietary Compliance Analyst", AllowDelegation: true, Tools: []tools.Tool{&stubTool{name: "dietary_filter"}}}

	fake := llmtest.New(
		"Thought: ask for help\nAction: ask_question\nAction Input: {\"question\": \"Is tofu vegan?\", \"context\": \"user is vegan\", \"coworker\": \"nutrition analyst\"}",
		"Thought: easy\nFinal Answer: Yes, tofu is vegan.",
		"Final Answer: tofu",
	)

	out, err := New(fake, nil).Execute(context.Background(), request(filter, nil, analyst))
	require.NoError(t, err)
	assert.Equal(t, "tofu", out.Raw)

	assert.Contains(t, fake.Requests[0].System, "delegate_work")
	assert.Contains(t, fake.Requests[0].System, "ask_question")
	assert.Contains(t, fake.Requests[1].System, "You are Nutrition Analyst.")
	assert.NotContains(t, fake.Requests[1].System, "delegate_work", "coworkers cannot delegate again")
	assert.Contains(t, fake.LastUserMessage(1), "Is tofu vegan?")
	assert.Equal(t, "Observation: Yes, tofu is vegan.", fake.LastUserMessage(2))
	assert.Equal(t, 3, out.Usage.Requests, "coworker calls count toward the task")
}

func TestExecuteDelegationUnknownCoworker(t *testing.T) {
	analyst := &crew.Agent{Name: "analyst", Role: "Nutrition Analyst"}
	chef := &crew.Agent{Name: "chef", Role: "Chef"}
	filter := &crew.Agent{Name: "filter", Role: "Filter", AllowDelegation: true}

	fake := llmtest.New(
		"Action: delegate_work\nAction Input: {\"task\": \"cook\", \"coworker\": \"Sommelier\"}",
		"Final Answer: done alone",
	)

	out, err := New(fake, nil).Execute(context.Background(), request(filter, nil, analyst, chef))
	require.NoError(t, err)
	assert.Equal(t, "done alone", out.Raw)
	assert.Contains(t, fake.LastUserMessage(1), "coworker 'Sommelier' not found")
}

func TestExecutePropagatesClientErrors(t *testing.T) {
	agent := &crew.Agent{Name: "a", Role: "r"}
	boom := errors.New("provider down")
	fake := &llmtest.Client{Replies: []llmtest.Reply{{Err: boom}}}

	_, err := New(fake, nil).Execute(context.Background(), request(agent, nil))
	assert.ErrorIs(t, err, boom)
}
