package tools

import (
	"log/slog"

	"github.com/mpataki/nourishbot/internal/llm"
	"github.com/mpataki/nourishbot/internal/lua"
)

type options struct {
	visionModel string
}

type Option func(*options)

// WithVisionModel routes image tools to a model other than the client default.
func WithVisionModel(model string) Option {
	return func(o *options) { o.visionModel = model }
}

// NewDefaultRegistry registers every built-in tool.
func NewDefaultRegistry(client llm.Client, rules *lua.Rules, logger *slog.Logger, opts ...Option) (*Registry, error) {
	logger = orDiscard(logger)
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	r := NewRegistry()
	for _, t := range []Tool{
		NewExtractIngredients(client, o.visionModel, logger),
		NewFilterIngredients(),
		NewDietaryFilter(rules, logger),
		NewAnalyzeImage(client, o.visionModel, logger),
	} {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}
