package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mpataki/nourishbot/internal/crew"
)

// ErrInvalidWorkflow is returned for workflow types other than analysis and
// recipe.
var ErrInvalidWorkflow = errors.New("invalid workflow type")

type Workflow string

const (
	Analysis Workflow = "analysis"
	Recipe   Workflow = "recipe"
)

// ParseWorkflowType lowercases s and accepts only the known workflows.
func ParseWorkflowType(s string) (Workflow, error) {
	switch w := Workflow(strings.ToLower(strings.TrimSpace(s))); w {
	case Analysis, Recipe:
		return w, nil
	default:
		return "", fmt.Errorf("%w: %q (expected 'analysis' or 'recipe')", ErrInvalidWorkflow, s)
	}
}

// Pipeline builds the crew for one workflow.
type Pipeline interface {
	Workflow() Workflow
	Crew(logger *slog.Logger) (*crew.Crew, error)
}

func New(workflow Workflow, base *Base) (Pipeline, error) {
	switch workflow {
	case Analysis:
		return &AnalysisPipeline{base: base}, nil
	case Recipe:
		return &RecipePipeline{base: base}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidWorkflow, workflow)
	}
}

// AnalysisPipeline runs nutrient analysis alone. It needs no restriction.
type AnalysisPipeline struct {
	base *Base
}

func (p *AnalysisPipeline) Workflow() Workflow { return Analysis }

func (p *AnalysisPipeline) Crew(logger *slog.Logger) (*crew.Crew, error) {
	agent, err := p.base.NutrientAnalysisAgent()
	if err != nil {
		return nil, err
	}
	task, err := p.base.NutrientAnalysisTask(agent)
	if err != nil {
		return nil, err
	}
	return crew.New([]*crew.Agent{agent}, []*crew.Task{task}, crew.Sequential, logger)
}

// RecipePipeline runs ingredient detection, dietary filtering and recipe
// suggestion in that order.
type RecipePipeline struct {
	base *Base
}

func (p *RecipePipeline) Workflow() Workflow { return Recipe }

func (p *RecipePipeline) Crew(logger *slog.Logger) (*crew.Crew, error) {
	detector, err := p.base.IngredientDetectionAgent()
	if err != nil {
		return nil, err
	}
	filter, err := p.base.DietaryFilteringAgent()
	if err != nil {
		return nil, err
	}
	chef, err := p.base.RecipeSuggestionAgent()
	if err != nil {
		return nil, err
	}

	detect, err := p.base.IngredientDetectionTask(detector)
	if err != nil {
		return nil, err
	}
	sieve, err := p.base.DietaryFilteringTask(filter)
	if err != nil {
		return nil, err
	}
	suggest, err := p.base.RecipeSuggestionTask(chef)
	if err != nil {
		return nil, err
	}

	return crew.New(
		[]*crew.Agent{detector, filter, chef},
		[]*crew.Task{detect, sieve, suggest},
		crew.Sequential,
		logger,
	)
}
