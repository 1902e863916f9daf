package tools

import (
	"context"
	"regexp"
	"strings"
)

var (
	bulletRe   = regexp.MustCompile(`^\s*(?:[-*•]+|\d+[.)])\s*`)
	parenRe    = regexp.MustCompile(`\([^)]*\)`)
	quantityRe = regexp.MustCompile(`^\s*(?:about\s+|approx\.?\s+)?[\d½¼¾⅓⅔]+(?:[.,/]\d+)?\s*(?:-\s*\d+\s*)?`)
	unitRe     = regexp.MustCompile(`^(?:kg|g|grams?|mg|ml|l|litres?|liters?|cups?|tbsp|tablespoons?|tsp|teaspoons?|oz|ounces?|lbs?|pounds?|slices?|pieces?|cloves?|pinch(?:es)?|handfuls?|cans?|sprigs?|stalks?|heads?|bunch(?:es)?|dash(?:es)?)\b\.?\s*(?:of\s+)?`)
	articleRe  = regexp.MustCompile(`^(?:a few|a|an|the|some|few)\s+`)
	spaceRe    = regexp.MustCompile(`\s+`)
)

var nonFood = map[string]bool{
	"plate": true, "bowl": true, "dish": true, "fork": true, "knife": true,
	"spoon": true, "napkin": true, "table": true, "glass": true, "tray": true,
	"cutting board": true, "pan": true, "pot": true, "mug": true, "chopsticks": true,
	"container": true, "wrapper": true, "packaging": true, "background": true,
	"none": true, "unknown": true, "n/a": true,
}

// NormalizeIngredient lowercases an ingredient and strips bullets,
// quantities, units and parenthetical notes.
func NormalizeIngredient(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = bulletRe.ReplaceAllString(s, "")
	s = parenRe.ReplaceAllString(s, "")
	s = articleRe.ReplaceAllString(s, "")
	s = quantityRe.ReplaceAllString(s, "")
	s = unitRe.ReplaceAllString(s, "")
	s = strings.Trim(s, " .,;:\"'`")
	return spaceRe.ReplaceAllString(s, " ")
}

// CleanIngredients normalises, drops non-food words and removes duplicates
// while keeping first-seen order.
func CleanIngredients(items []string) []string {
	out := []string{}
	seen := make(map[string]bool)
	for _, item := range items {
		name := NormalizeIngredient(item)
		if name == "" || nonFood[name] || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

type filterIngredients struct{}

// NewFilterIngredients returns the filter_ingredients tool.
func NewFilterIngredients() Tool {
	return filterIngredients{}
}

func (filterIngredients) Name() string { return "filter_ingredients" }

func (filterIngredients) Description() string {
	return `Cleans a raw ingredient list: lowercases names, strips quantities and units, removes duplicates and non-food items. Arguments: {"ingredients": ["..."]}. Returns a JSON array.`
}

func (filterIngredients) Run(_ context.Context, args map[string]any) (string, error) {
	return toJSON(CleanIngredients(ListArg(args, "ingredients", "input", "items")))
}
