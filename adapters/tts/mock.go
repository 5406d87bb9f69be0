package tts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/wicara/server/domain/repositories"
)

// MockSynthesizer is a placeholder implementation for local development
// without an API key. It streams silent PCM sized to roughly match the
// speaking time of the text.
type MockSynthesizer struct {
	logger     *zap.Logger
	sampleRate int
}

// NewMockSynthesizer creates a new mock synthesizer.
func NewMockSynthesizer(sampleRate int, logger *zap.Logger) repositories.SpeechSynthesizer {
	if sampleRate <= 0 {
		sampleRate = 24000
	}
	return &MockSynthesizer{logger: logger, sampleRate: sampleRate}
}

// Synthesize implements repositories.SpeechSynthesizer.
func (m *MockSynthesizer) Synthesize(ctx context.Context, text string, opts repositories.SynthesisOptions) (<-chan []byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}

	// Roughly 15 characters per second of speech.
	seconds := len(text) / 15
	if seconds < 1 {
		seconds = 1
	}
	chunks := seconds * 10 // 100ms chunks
	chunkBytes := m.sampleRate * 2 / 10

	m.logger.Info("Streaming mock synthesis",
		zap.Int("textLength", len(text)),
		zap.Int("chunks", chunks))

	out := make(chan []byte, 10)
	go func() {
		defer close(out)
		for i := 0; i < chunks; i++ {
			select {
			case <-ctx.Done():
				return
			case out <- make([]byte, chunkBytes):
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()
	return out, nil
}
