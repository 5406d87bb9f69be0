package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/satriahrh/wicara/server/domain/entities"
	"github.com/satriahrh/wicara/server/domain/repositories"
)

// MockLanguageModel is a placeholder implementation for local development
// without an API key.
type MockLanguageModel struct {
	logger *zap.Logger
}

// NewMockLanguageModel creates a new mock language model.
func NewMockLanguageModel(logger *zap.Logger) repositories.LanguageModel {
	return &MockLanguageModel{logger: logger}
}

// Generate implements repositories.LanguageModel.
func (m *MockLanguageModel) Generate(ctx context.Context, history []entities.Message, opts repositories.GenerateOptions) (string, error) {
	if len(history) == 0 {
		return "", fmt.Errorf("history cannot be empty")
	}

	last := history[len(history)-1]
	m.logger.Info("Generating mock reply",
		zap.Int("historyLength", len(history)),
		zap.String("lastMessage", last.Content))

	return fmt.Sprintf("Kamu bilang %q, menarik sekali. Ceritakan lebih banyak!", last.Content), nil
}
