package tools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mpataki/nourishbot/internal/lua"
)

type dietaryFilter struct {
	rules  *lua.Rules
	logger *slog.Logger
}

// NewDietaryFilter returns the dietary_filter tool backed by rules.
func NewDietaryFilter(rules *lua.Rules, logger *slog.Logger) Tool {
	return &dietaryFilter{rules: rules, logger: orDiscard(logger)}
}

func (t *dietaryFilter) Name() string { return "dietary_filter" }

func (t *dietaryFilter) Description() string {
	return `Checks ingredients against dietary restrictions such as vegan, gluten-free or nut-free. Arguments: {"ingredients": ["..."], "dietary_restrictions": "<restrictions exactly as given>"}. Returns JSON with the allowed and removed ingredients.`
}

func (t *dietaryFilter) Run(_ context.Context, args map[string]any) (string, error) {
	ingredients := ListArg(args, "ingredients", "input", "items")
	if len(ingredients) == 0 {
		return "", fmt.Errorf("dietary_filter requires a non-empty ingredients argument")
	}
	restrictions := StringArg(args, "dietary_restrictions", "restrictions", "diet")

	res, err := t.rules.Filter(ingredients, restrictions)
	if err != nil {
		return "", err
	}
	t.logger.Debug("dietary filter applied",
		"restrictions", res.Restrictions,
		"allowed", len(res.Allowed),
		"removed", len(res.Removed),
	)
	return toJSON(res)
}
