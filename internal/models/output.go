package models

// Macronutrients per serving, in grams.
type Macronutrients struct {
	ProteinG       float64 `json:"protein_g" jsonschema:"title=protein_g,description=Protein in grams" validate:"gte=0"`
	CarbohydratesG float64 `json:"carbohydrates_g" jsonschema:"title=carbohydrates_g,description=Total carbohydrates in grams" validate:"gte=0"`
	FatG           float64 `json:"fat_g" jsonschema:"title=fat_g,description=Total fat in grams" validate:"gte=0"`
	FiberG         float64 `json:"fiber_g,omitempty" jsonschema:"title=fiber_g,description=Dietary fiber in grams" validate:"gte=0"`
	SugarG         float64 `json:"sugar_g,omitempty" jsonschema:"title=sugar_g,description=Total sugars in grams" validate:"gte=0"`
}

// Micronutrient is a single vitamin or mineral estimate.
type Micronutrient struct {
	Name   string  `json:"name" jsonschema:"title=name,description=Vitamin or mineral name" validate:"required"`
	Amount float64 `json:"amount" jsonschema:"title=amount,description=Estimated amount per serving" validate:"gte=0"`
	Unit   string  `json:"unit" jsonschema:"title=unit,description=Unit of the amount e.g. mg or mcg" validate:"required"`
}

// NutrientAnalysisOutput is the structured result of the analysis workflow.
type NutrientAnalysisOutput struct {
	DishName         string          `json:"dish_name" jsonschema:"title=dish_name,description=Name of the dish shown in the image" validate:"required"`
	ServingSize      string          `json:"serving_size,omitempty" jsonschema:"title=serving_size,description=Estimated serving size"`
	Calories         float64         `json:"calories" jsonschema:"title=calories,description=Estimated calories per serving" validate:"gte=0"`
	Macronutrients   Macronutrients  `json:"macronutrients" jsonschema:"title=macronutrients,description=Macronutrient breakdown per serving"`
	Micronutrients   []Micronutrient `json:"micronutrients,omitempty" jsonschema:"title=micronutrients,description=Notable vitamins and minerals" validate:"dive"`
	HealthEvaluation string          `json:"health_evaluation" jsonschema:"title=health_evaluation,description=Short evaluation of how healthy the dish is" validate:"required"`
	DietaryFlags     []string        `json:"dietary_flags,omitempty" jsonschema:"title=dietary_flags,description=Diets the dish is compatible with e.g. vegan or gluten-free"`
}

// Recipe is one suggested recipe.
type Recipe struct {
	Title              string   `json:"title" jsonschema:"title=title,description=Recipe name" validate:"required"`
	Ingredients        []string `json:"ingredients" jsonschema:"title=ingredients,description=Ingredients with quantities" validate:"required,min=1"`
	Instructions       []string `json:"instructions" jsonschema:"title=instructions,description=Ordered preparation steps" validate:"required,min=1"`
	CaloriesPerServing float64  `json:"calories_per_serving,omitempty" jsonschema:"title=calories_per_serving,description=Estimated calories per serving" validate:"gte=0"`
	DietaryNotes       string   `json:"dietary_notes,omitempty" jsonschema:"title=dietary_notes,description=How the recipe respects the dietary restrictions"`
}

// RecipeSuggestionOutput is the structured result of the recipe workflow.
type RecipeSuggestionOutput struct {
	Recipes []Recipe `json:"recipes" jsonschema:"title=recipes,description=Suggested recipes using only the allowed ingredients" validate:"required,min=1,dive"`
}
