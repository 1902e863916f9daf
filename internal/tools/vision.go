package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mpataki/nourishbot/internal/llm"
	"github.com/mpataki/nourishbot/internal/models"
	"github.com/mpataki/nourishbot/internal/schema"
)

var imageArgKeys = []string{"image_path", "image", "uploaded_image", "path", "input"}

const extractPrompt = `List every edible ingredient you can see in this food image.
Include garnishes, sauces and condiments when they are visible. Do not guess at
hidden ingredients. Respond with a JSON array of lowercase ingredient names and
nothing else.`

const analyzePrompt = `Analyse the dish in this food image. Estimate the serving size,
the calories, the macronutrients in grams and any notable micronutrients, then
give a short evaluation of how healthy the dish is and list the diets it suits.
Respond with a single JSON object matching this JSON Schema and nothing else:

%s`

// visionTool sends the referenced image to the LLM with a fixed prompt.
type visionTool struct {
	name        string
	description string
	client      llm.Client
	model       string
	logger      *slog.Logger
	prompt      func() (string, error)
	parse       func(content string) (string, error)
}

func (t *visionTool) Name() string        { return t.name }
func (t *visionTool) Description() string { return t.description }

func (t *visionTool) Run(ctx context.Context, args map[string]any) (string, error) {
	ref := StringArg(args, imageArgKeys...)
	if ref == "" {
		return "", fmt.Errorf("%s requires an image_path argument", t.name)
	}

	img, err := LoadImage(ctx, ref)
	if err != nil {
		return "", err
	}

	prompt, err := t.prompt()
	if err != nil {
		return "", err
	}

	t.logger.Debug("calling vision model", "tool", t.name, "image", ref, "media_type", img.MediaType, "bytes", len(img.Data))
	resp, err := t.client.Complete(ctx, llm.Request{
		Model:    t.model,
		Messages: []llm.Message{llm.UserMessage(prompt, img)},
	})
	if err != nil {
		return "", fmt.Errorf("vision request failed: %w", err)
	}
	recordUsage(ctx, resp.Usage)

	return t.parse(resp.Content)
}

func orDiscard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return logger
}

// NewExtractIngredients returns the extract_ingredients tool.
func NewExtractIngredients(client llm.Client, model string, logger *slog.Logger) Tool {
	return &visionTool{
		name:        "extract_ingredients",
		description: `Detects the ingredients visible in a food image. Arguments: {"image_path": "<path or URL of the image>"}. Returns a JSON array of ingredient names.`,
		client:      client,
		model:       model,
		logger:      orDiscard(logger),
		prompt:      func() (string, error) { return extractPrompt, nil },
		parse: func(content string) (string, error) {
			raw, err := schema.Extract(content)
			if err != nil {
				// plain text lists are still useful to the agent
				return toJSON(SplitList(content))
			}
			var items []string
			if err := json.Unmarshal([]byte(raw), &items); err != nil {
				return toJSON(SplitList(content))
			}
			return toJSON(items)
		},
	}
}

// NewAnalyzeImage returns the analyze_image tool.
func NewAnalyzeImage(client llm.Client, model string, logger *slog.Logger) Tool {
	return &visionTool{
		name:        "analyze_image",
		description: `Estimates the nutrient content of the dish in a food image. Arguments: {"image_path": "<path or URL of the image>"}. Returns a JSON nutrient breakdown.`,
		client:      client,
		model:       model,
		logger:      orDiscard(logger),
		prompt: func() (string, error) {
			s, err := schema.For(&models.NutrientAnalysisOutput{})
			if err != nil {
				return "", err
			}
			return fmt.Sprintf(analyzePrompt, s), nil
		},
		parse: func(content string) (string, error) {
			raw, err := schema.Extract(content)
			if err != nil {
				return content, nil
			}
			return raw, nil
		},
	}
}
