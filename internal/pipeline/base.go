// Package pipeline assembles agents and tasks from the YAML definitions into
// the analysis and recipe crews.
package pipeline

import (
	"fmt"
	"slices"

	"github.com/mpataki/nourishbot/internal/config"
	"github.com/mpataki/nourishbot/internal/crew"
	"github.com/mpataki/nourishbot/internal/definitions"
	"github.com/mpataki/nourishbot/internal/models"
	"github.com/mpataki/nourishbot/internal/tools"
)

// Agent and task identifiers used in agents.yaml and tasks.yaml.
const (
	IngredientDetectionAgentName = "ingredient_detection_agent"
	DietaryFilteringAgentName    = "dietary_filtering_agent"
	NutrientAnalysisAgentName    = "nutrient_analysis_agent"
	HealthEvaluationAgentName    = "health_evaluation_agent"
	RecipeSuggestionAgentName    = "recipe_suggestion_agent"

	IngredientDetectionTaskName = "ingredient_detection_task"
	DietaryFilteringTaskName    = "dietary_filtering_task"
	NutrientAnalysisTaskName    = "nutrient_analysis_task"
	RecipeSuggestionTaskName    = "recipe_suggestion_task"
)

// Kickoff input keys.
const (
	InputImage        = "uploaded_image"
	InputRestrictions = "dietary_restrictions"
	InputWorkflow     = "workflow_type"
)

// Base holds what every pipeline is built from. Constructors return fresh
// values on each call.
type Base struct {
	cfg          *config.Config
	defs         *definitions.Definitions
	registry     *tools.Registry
	image        string
	restrictions *string
}

func NewBase(cfg *config.Config, defs *definitions.Definitions, registry *tools.Registry, image string, restrictions *string) *Base {
	return &Base{
		cfg:          cfg,
		defs:         defs,
		registry:     registry,
		image:        image,
		restrictions: restrictions,
	}
}

// Restrictions returns the restriction string exactly as supplied, or nil.
func (b *Base) Restrictions() any {
	if b.restrictions == nil {
		return nil
	}
	return *b.restrictions
}

// Inputs are the kickoff inputs for workflow.
func (b *Base) Inputs(workflow Workflow) map[string]any {
	return map[string]any{
		InputImage:        b.image,
		InputRestrictions: b.Restrictions(),
		InputWorkflow:     string(workflow),
	}
}

type agentSpec struct {
	tools      []string
	delegation bool
	maxIter    int
	dependsOn  []string
}

func (b *Base) agent(name string, spec agentSpec) (*crew.Agent, error) {
	def, err := b.defs.Agent(name)
	if err != nil {
		return nil, err
	}

	names := slices.Clone(spec.tools)
	for _, extra := range def.Tools {
		if !slices.Contains(names, extra) {
			names = append(names, extra)
		}
	}
	toolset, err := b.registry.Resolve(names...)
	if err != nil {
		return nil, fmt.Errorf("agent '%s': %w", name, err)
	}

	model := def.LLM
	if model == "" && b.cfg != nil {
		model = b.cfg.LLM.Model
	}

	return &crew.Agent{
		Name:            name,
		Role:            def.Role,
		Goal:            def.Goal,
		Backstory:       def.Backstory,
		Model:           model,
		Tools:           toolset,
		AllowDelegation: spec.delegation,
		MaxIter:         spec.maxIter,
		Verbose:         def.Verbose,
		DependsOn:       spec.dependsOn,
	}, nil
}

func (b *Base) IngredientDetectionAgent() (*crew.Agent, error) {
	return b.agent(IngredientDetectionAgentName, agentSpec{
		tools: []string{"extract_ingredients", "filter_ingredients"},
	})
}

func (b *Base) DietaryFilteringAgent() (*crew.Agent, error) {
	return b.agent(DietaryFilteringAgentName, agentSpec{
		tools:      []string{"dietary_filter"},
		delegation: true,
		maxIter:    6,
	})
}

func (b *Base) NutrientAnalysisAgent() (*crew.Agent, error) {
	return b.agent(NutrientAnalysisAgentName, agentSpec{
		tools:   []string{"analyze_image"},
		maxIter: 4,
	})
}

// HealthEvaluationAgent is declared for completeness. No pipeline schedules it.
func (b *Base) HealthEvaluationAgent() (*crew.Agent, error) {
	return b.agent(HealthEvaluationAgentName, agentSpec{
		dependsOn: []string{NutrientAnalysisTaskName},
	})
}

func (b *Base) RecipeSuggestionAgent() (*crew.Agent, error) {
	return b.agent(RecipeSuggestionAgentName, agentSpec{})
}

func (b *Base) task(name string, agent *crew.Agent) (*crew.Task, error) {
	def, err := b.defs.Task(name)
	if err != nil {
		return nil, err
	}
	if def.Agent != "" && def.Agent != agent.Name {
		return nil, fmt.Errorf("task '%s' is declared for agent '%s' but was given '%s'", name, def.Agent, agent.Name)
	}
	return &crew.Task{
		Name:           name,
		Description:    def.Description,
		ExpectedOutput: def.ExpectedOutput,
		Agent:          agent,
	}, nil
}

func (b *Base) IngredientDetectionTask(agent *crew.Agent) (*crew.Task, error) {
	return b.task(IngredientDetectionTaskName, agent)
}

// DietaryFilteringTask feeds the detected ingredients and the restriction
// string, untouched, to the filtering agent.
func (b *Base) DietaryFilteringTask(agent *crew.Agent) (*crew.Task, error) {
	t, err := b.task(DietaryFilteringTaskName, agent)
	if err != nil {
		return nil, err
	}
	t.DependsOn = []string{IngredientDetectionTaskName}
	t.InputData = func(prior map[string]*crew.TaskOutput) map[string]any {
		in := map[string]any{InputRestrictions: b.Restrictions()}
		if o, ok := prior[IngredientDetectionTaskName]; ok {
			in["ingredients"] = o.Raw
		}
		return in
	}
	return t, nil
}

func (b *Base) NutrientAnalysisTask(agent *crew.Agent) (*crew.Task, error) {
	t, err := b.task(NutrientAnalysisTaskName, agent)
	if err != nil {
		return nil, err
	}
	// calorie estimation is not part of any pipeline, so this edge is ignored
	t.DependsOn = []string{"calorie_estimation_task"}
	t.OutputSchema = &models.NutrientAnalysisOutput{}
	return t, nil
}

func (b *Base) RecipeSuggestionTask(agent *crew.Agent) (*crew.Task, error) {
	t, err := b.task(RecipeSuggestionTaskName, agent)
	if err != nil {
		return nil, err
	}
	t.DependsOn = []string{DietaryFilteringTaskName}
	t.OutputSchema = &models.RecipeSuggestionOutput{}
	t.InputData = func(prior map[string]*crew.TaskOutput) map[string]any {
		in := map[string]any{}
		if o, ok := prior[DietaryFilteringTaskName]; ok {
			in["filtered_ingredients"] = o.Raw
		}
		return in
	}
	return t, nil
}
