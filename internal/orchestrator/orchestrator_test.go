package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/nourishbot/internal/cli"
	"github.com/mpataki/nourishbot/internal/config"
	"github.com/mpataki/nourishbot/internal/llm"
	"github.com/mpataki/nourishbot/internal/llm/llmtest"
	"github.com/mpataki/nourishbot/internal/metrics"
	"github.com/mpataki/nourishbot/internal/models"
	"github.com/mpataki/nourishbot/internal/pipeline"
	"github.com/mpataki/nourishbot/internal/storage"
)

const analysisAnswer = `Thought: I can estimate this plate directly.
Final Answer: {"dish_name":"Grilled salmon with rice","calories":620,"macronutrients":{"protein_g":42,"carbohydrates_g":55,"fat_g":22},"health_evaluation":"Balanced, high in protein."}`

const recipeAnswer = `Final Answer: {"recipes":[{"title":"Tofu rice bowl","ingredients":["200g tofu","1 cup rice"],"instructions":["Cook the rice.","Pan fry the tofu."]}]}`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		MetricsFile: filepath.Join(t.TempDir(), "nourishbot.prom"),
		LLM: config.LLMConfig{
			Provider:    config.ProviderOpenAI,
			Model:       "fake-model",
			VisionModel: "fake-vision",
			MaxTokens:   512,
			Temperature: 0.2,
		},
	}
}

func newStore(t *testing.T) *storage.Storage {
	t.Helper()
	s, err := storage.New(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func strPtr(s string) *string { return &s }

func TestRunAnalysis(t *testing.T) {
	cfg := testConfig(t)
	client := llmtest.New(analysisAnswer)
	store := newStore(t)
	var buf bytes.Buffer

	o := New(cfg, WithClient(client), WithStore(store), WithMetrics(metrics.New()), WithOutput(&buf))

	out, err := o.Run(context.Background(), &cli.Invocation{ImagePath: "plate.png", Workflow: "analysis"})
	require.NoError(t, err)

	require.Len(t, out.TasksOutput, 1)
	assert.Equal(t, pipeline.NutrientAnalysisTaskName, out.TasksOutput[0].Name)
	assert.Equal(t, "Grilled salmon with rice", out.JSON["dish_name"])
	require.IsType(t, &models.NutrientAnalysisOutput{}, out.Structured)
	assert.Equal(t, 42.0, out.Structured.(*models.NutrientAnalysisOutput).Macronutrients.ProteinG)
	assert.Equal(t, 15, out.TokenUsage.TotalTokens)
	assert.Equal(t, 1, client.Calls())

	printed := buf.String()
	assert.Contains(t, printed, "## Welcome to the AI NourishBot Crew")
	assert.Contains(t, printed, "## Here is the result")
	assert.Contains(t, printed, `"dish_name": "Grilled salmon with rice"`)

	runs, err := o.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunStatusComplete, runs[0].Status)
	assert.Equal(t, "analysis", runs[0].Workflow)
	assert.Nil(t, runs[0].DietaryRestrictions)
	assert.Equal(t, 15, runs[0].TotalTokens())
	assert.NotEmpty(t, runs[0].UUID)

	execs, err := o.GetExecutionsForRun(runs[0].ID)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, models.ExecStatusComplete, execs[0].Status)
	assert.Equal(t, pipeline.NutrientAnalysisAgentName, execs[0].AgentName)

	prom, err := os.ReadFile(cfg.MetricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `nourishbot_runs_total{status="complete",workflow="analysis"} 1`)
}

func TestRunRecipe(t *testing.T) {
	cfg := testConfig(t)
	client := llmtest.New(
		"Thought: I can see the plate.\nFinal Answer: tofu, rice, cheese",
		"Thought: Cheese is not vegan.\nFinal Answer: tofu, rice",
		recipeAnswer,
	)
	store := newStore(t)
	restriction := "Vegan AND gluten free"

	o := New(cfg, WithClient(client), WithStore(store), WithOutput(&bytes.Buffer{}))
	out, err := o.Run(context.Background(), &cli.Invocation{
		ImagePath:    "plate.png",
		Restrictions: strPtr(restriction),
		Workflow:     "recipe",
	})
	require.NoError(t, err)

	var names []string
	for _, task := range out.TasksOutput {
		names = append(names, task.Name)
	}
	assert.Equal(t, []string{
		pipeline.IngredientDetectionTaskName,
		pipeline.DietaryFilteringTaskName,
		pipeline.RecipeSuggestionTaskName,
	}, names)
	assert.Equal(t, 45, out.TokenUsage.TotalTokens)
	assert.Equal(t, 3, out.TokenUsage.SuccessfulRequests)
	require.IsType(t, &models.RecipeSuggestionOutput{}, out.Structured)

	require.Equal(t, 3, client.Calls())
	assert.Contains(t, client.Transcript(1), restriction)
	assert.Contains(t, client.Transcript(1), "tofu, rice, cheese")
	assert.Contains(t, client.Transcript(2), "tofu, rice")

	runs, err := store.ListRuns(1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.NotNil(t, runs[0].DietaryRestrictions)
	assert.Equal(t, restriction, *runs[0].DietaryRestrictions)
	assert.Equal(t, pipeline.RecipeSuggestionTaskName, runs[0].CurrentTask)

	execs, err := store.GetExecutionsForRun(runs[0].ID)
	require.NoError(t, err)
	require.Len(t, execs, 3)
	assert.Equal(t, "tofu, rice", execs[1].RawOutput)
	assert.NotNil(t, execs[2].JSONOutput["recipes"])
}

func TestRunCountsVisionToolUsage(t *testing.T) {
	client := llmtest.New(
		"Thought: I should look at the plate.\nAction: analyze_image\nAction Input: {\"image_path\": \"../tools/testdata/plate.png\"}",
		`{"dish_name":"Grilled salmon with rice","calories":620}`,
		analysisAnswer,
	)
	store := newStore(t)
	cfg := testConfig(t)

	o := New(cfg, WithClient(client), WithStore(store), WithMetrics(metrics.New()), WithOutput(&bytes.Buffer{}))
	out, err := o.Run(context.Background(), &cli.Invocation{ImagePath: "../tools/testdata/plate.png", Workflow: "analysis"})
	require.NoError(t, err)

	require.Equal(t, 3, client.Calls())
	assert.Equal(t, client.Calls(), out.TokenUsage.SuccessfulRequests)
	assert.Equal(t, 45, out.TokenUsage.TotalTokens)
	assert.Equal(t, 45, out.TasksOutput[0].Usage.Total())

	runs, err := store.ListRuns(1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 45, runs[0].TotalTokens())

	prom, err := os.ReadFile(cfg.MetricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `nourishbot_tokens_total{kind="prompt",workflow="analysis"} 30`)
}

func TestRunInvalidWorkflow(t *testing.T) {
	client := llmtest.New()
	o := New(testConfig(t), WithClient(client), WithOutput(&bytes.Buffer{}))

	_, err := o.Run(context.Background(), &cli.Invocation{ImagePath: "plate.png", Workflow: "dessert"})
	assert.ErrorIs(t, err, pipeline.ErrInvalidWorkflow)
	assert.Zero(t, client.Calls())
}

func TestRunTrain(t *testing.T) {
	client := llmtest.New()
	o := New(testConfig(t), WithClient(client))

	inv, err := cli.Parse([]string{"train", "3", "out.txt", "plate.png", "vegan", "analysis"})
	require.NoError(t, err)

	_, err = o.Run(context.Background(), inv)
	assert.ErrorIs(t, err, ErrTrainNotImplemented)
	assert.ErrorIs(t, o.Train(context.Background(), inv), ErrTrainNotImplemented)
	assert.Zero(t, client.Calls())
}

func TestRunFailureIsRecorded(t *testing.T) {
	boom := errors.New("provider down")
	client := &llmtest.Client{Replies: []llmtest.Reply{{Err: boom}}}
	store := newStore(t)
	cfg := testConfig(t)
	var buf bytes.Buffer

	o := New(cfg, WithClient(client), WithStore(store), WithMetrics(metrics.New()), WithOutput(&buf))
	_, err := o.Run(context.Background(), &cli.Invocation{ImagePath: "plate.png", Workflow: "analysis"})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), pipeline.NutrientAnalysisTaskName)
	assert.NotContains(t, buf.String(), "Here is the result")

	runs, err := store.ListRuns(1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunStatusFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, "provider down")

	execs, err := store.GetExecutionsForRun(runs[0].ID)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, models.ExecStatusFailed, execs[0].Status)

	prom, err := os.ReadFile(cfg.MetricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `nourishbot_task_duration_seconds_count{task="nutrient_analysis_task",workflow="analysis"} 1`)
	assert.Contains(t, string(prom), `nourishbot_runs_total{status="failed",workflow="analysis"} 1`)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := llmtest.New(analysisAnswer)
	o := New(testConfig(t), WithClient(client), WithOutput(&bytes.Buffer{}))
	_, err := o.Run(ctx, &cli.Invocation{ImagePath: "plate.png", Workflow: "analysis"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, client.Calls())
}

func TestRunUsesResponder(t *testing.T) {
	client := llmtest.New()
	client.Responder = func(req llm.Request) (string, bool) {
		if strings.Contains(req.System, "Nutrition Analyst") {
			return analysisAnswer, true
		}
		return "", false
	}

	o := New(testConfig(t), WithClient(client), WithOutput(&bytes.Buffer{}))
	out, err := o.Run(context.Background(), &cli.Invocation{ImagePath: "plate.png", Workflow: "analysis"})
	require.NoError(t, err)
	assert.Equal(t, "Grilled salmon with rice", out.JSON["dish_name"])
}

func TestCatalog(t *testing.T) {
	o := New(testConfig(t))
	c, err := o.Catalog()
	require.NoError(t, err)
	assert.Equal(t, "embedded", c.Source)
	assert.Len(t, c.Agents, 5)
	assert.Len(t, c.Tasks, 4)
}

func TestHistoryDisabled(t *testing.T) {
	o := New(testConfig(t))
	_, err := o.ListRuns(5)
	assert.ErrorIs(t, err, ErrNoHistory)
	assert.ErrorIs(t, o.DeleteRun(1), ErrNoHistory)
}

func TestDeleteRun(t *testing.T) {
	store := newStore(t)
	o := New(testConfig(t), WithClient(llmtest.New(analysisAnswer)), WithStore(store), WithOutput(&bytes.Buffer{}))
	_, err := o.Run(context.Background(), &cli.Invocation{ImagePath: "plate.png", Workflow: "analysis"})
	require.NoError(t, err)

	runs, err := o.ListRuns(1)
	require.NoError(t, err)
	require.NoError(t, o.DeleteRun(runs[0].ID))

	_, err = o.GetRun(runs[0].ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
