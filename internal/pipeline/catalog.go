package pipeline

import (
	"slices"

	"github.com/mpataki/nourishbot/internal/crew"
)

// Catalog is every agent and task the definitions can produce.
type Catalog struct {
	// Source is the definitions directory, or "embedded".
	Source string
	Agents []CatalogAgent
	Tasks  []CatalogTask
	// Unused lists identifiers declared in YAML that no constructor builds.
	Unused []string
}

type CatalogAgent struct {
	Name            string
	Role            string
	Tools           []string
	AllowDelegation bool
	MaxIter         int
	DependsOn       []string
}

type CatalogTask struct {
	Name      string
	Agent     string
	DependsOn []string
	Schema    bool
}

// Catalog constructs every known agent and task. It fails on the first one
// that cannot be built.
func (b *Base) Catalog() (*Catalog, error) {
	detector, err := b.IngredientDetectionAgent()
	if err != nil {
		return nil, err
	}
	filter, err := b.DietaryFilteringAgent()
	if err != nil {
		return nil, err
	}
	analyst, err := b.NutrientAnalysisAgent()
	if err != nil {
		return nil, err
	}
	health, err := b.HealthEvaluationAgent()
	if err != nil {
		return nil, err
	}
	chef, err := b.RecipeSuggestionAgent()
	if err != nil {
		return nil, err
	}

	detect, err := b.IngredientDetectionTask(detector)
	if err != nil {
		return nil, err
	}
	sieve, err := b.DietaryFilteringTask(filter)
	if err != nil {
		return nil, err
	}
	analyse, err := b.NutrientAnalysisTask(analyst)
	if err != nil {
		return nil, err
	}
	suggest, err := b.RecipeSuggestionTask(chef)
	if err != nil {
		return nil, err
	}

	c := &Catalog{Source: b.defs.Source}
	for _, a := range []*crew.Agent{detector, filter, analyst, health, chef} {
		names := make([]string, len(a.Tools))
		for i, t := range a.Tools {
			names[i] = t.Name()
		}
		c.Agents = append(c.Agents, CatalogAgent{
			Name:            a.Name,
			Role:            a.Role,
			Tools:           names,
			AllowDelegation: a.AllowDelegation,
			MaxIter:         a.Iterations(),
			DependsOn:       a.DependsOn,
		})
	}
	for _, t := range []*crew.Task{detect, sieve, analyse, suggest} {
		c.Tasks = append(c.Tasks, CatalogTask{
			Name:      t.Name,
			Agent:     t.Agent.Name,
			DependsOn: t.DependsOn,
			Schema:    t.OutputSchema != nil,
		})
	}

	known := []string{
		IngredientDetectionAgentName, DietaryFilteringAgentName, NutrientAnalysisAgentName,
		HealthEvaluationAgentName, RecipeSuggestionAgentName,
		IngredientDetectionTaskName, DietaryFilteringTaskName, NutrientAnalysisTaskName, RecipeSuggestionTaskName,
	}
	agents, tasks := b.defs.Names()
	for _, name := range append(agents, tasks...) {
		if !slices.Contains(known, name) {
			c.Unused = append(c.Unused, name)
		}
	}
	return c, nil
}
