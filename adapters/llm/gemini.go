// Package llm adapts Google's Gemini API to the LanguageModel repository
// interface.
package llm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/satriahrh/wicara/server/domain/entities"
	"github.com/satriahrh/wicara/server/domain/repositories"
)

const (
	defaultModel       = "gemini-2.0-flash"
	defaultTemperature = 0.7
	defaultMaxTokens   = 512
	defaultTimeout     = 30 * time.Second
)

// GeminiLLM implements the LanguageModel interface using Google's Gemini API.
type GeminiLLM struct {
	client       *genai.Client
	logger       *zap.Logger
	model        string
	systemPrompt string
}

var _ repositories.LanguageModel = (*GeminiLLM)(nil)

// NewGeminiLLM creates a new Gemini LLM instance.
func NewGeminiLLM(ctx context.Context, apiKey, model, systemPrompt string, logger *zap.Logger) (*GeminiLLM, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = defaultModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiLLM{
		client:       client,
		logger:       logger,
		model:        model,
		systemPrompt: systemPrompt,
	}, nil
}

// Generate produces the assistant's next reply given the conversation so far.
func (g *GeminiLLM) Generate(ctx context.Context, history []entities.Message, opts repositories.GenerateOptions) (string, error) {
	var contents []*genai.Content
	if g.systemPrompt != "" {
		contents = append(contents, genai.NewContentFromText(g.systemPrompt, genai.RoleUser))
	}
	contents = append(contents, convertHistory(history)...)

	temperature := opts.Temperature
	if temperature == 0 {
		temperature = defaultTemperature
	}
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(temperature),
		MaxOutputTokens: int32(maxTokens),
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	response, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	if len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return "", fmt.Errorf("no content generated")
	}

	var text string
	for _, part := range response.Candidates[0].Content.Parts {
		if part.Text != "" {
			text += part.Text
		}
	}
	if text == "" {
		return "", fmt.Errorf("empty response from model")
	}

	g.logger.Debug("Generated reply",
		zap.Int("historyLength", len(history)),
		zap.Int("replyLength", len(text)))
	return text, nil
}

// convertHistory converts conversation messages to Gemini format.
func convertHistory(messages []entities.Message) []*genai.Content {
	var contents []*genai.Content
	for _, msg := range messages {
		var role genai.Role
		switch msg.Role {
		case entities.RoleAssistant:
			role = genai.RoleModel
		default:
			// System messages are treated as user messages in Gemini.
			role = genai.RoleUser
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, role))
	}
	return contents
}
