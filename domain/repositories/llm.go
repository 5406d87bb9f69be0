package repositories

import (
	"context"

	"github.com/satriahrh/wicara/server/domain/entities"
)

// LanguageModel abstracts any chat/LLM provider used to generate assistant
// replies from the conversation history.
type LanguageModel interface {
	Generate(ctx context.Context, history []entities.Message, opts GenerateOptions) (string, error)
}

// GenerateOptions tunes a single generation call. Zero values mean provider
// defaults.
type GenerateOptions struct {
	Temperature float32 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}
