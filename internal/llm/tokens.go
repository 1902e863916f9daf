package llm

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter estimates token counts for providers that do not report usage.
type TokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter uses the GPT-4 encoding for every model. It is close enough
// for other vendors' tokenizers to be useful as an estimate.
func NewTokenCounter() (*TokenCounter, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec: %w", err)
	}
	return &TokenCounter{codec: codec}, nil
}

// Count returns the number of tokens in text, falling back to four
// characters per token.
func (tc *TokenCounter) Count(text string) int {
	if tc == nil || tc.codec == nil {
		return len(text) / 4
	}
	count, err := tc.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return count
}

// Estimate fills usage from the request and response text.
func (tc *TokenCounter) Estimate(req Request, content string) Usage {
	return Usage{
		PromptTokens:     tc.Count(promptText(req)),
		CompletionTokens: tc.Count(content),
		Requests:         1,
	}
}
