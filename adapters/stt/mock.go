package stt

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/satriahrh/wicara/server/domain/repositories"
)

// MockSpeechToText is a placeholder implementation for local development
// without cloud credentials.
type MockSpeechToText struct {
	logger *zap.Logger
}

// NewMockSpeechToText creates a new mock speech-to-text service.
func NewMockSpeechToText(logger *zap.Logger) repositories.SpeechToText {
	return &MockSpeechToText{logger: logger}
}

// Transcribe implements repositories.SpeechToText.
func (s *MockSpeechToText) Transcribe(ctx context.Context, audio []byte, config repositories.AudioConfig) (string, error) {
	s.logger.Info("Processing mock speech-to-text",
		zap.Int("audioSize", len(audio)),
		zap.Int("sampleRate", config.SampleRate))

	if len(audio) == 0 {
		return "", fmt.Errorf("no audio data received")
	}

	// Mock transcription based on audio size.
	switch {
	case len(audio) > 200000:
		return "Halo, apa kabar? Saya ingin bercerita tentang hari ini.", nil
	case len(audio) > 100000:
		return "Terima kasih sudah mendengarkan.", nil
	case len(audio) > 20000:
		return "Halo!", nil
	default:
		return "Hai", nil
	}
}
