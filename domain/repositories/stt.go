package repositories

import "context"

// SpeechToText abstracts synchronous speech recognition services.
type SpeechToText interface {
	// Transcribe converts raw 16-bit PCM audio to text.
	Transcribe(ctx context.Context, audio []byte, config AudioConfig) (string, error)
}

// AudioConfig describes the PCM audio handed to a recognizer.
type AudioConfig struct {
	SampleRate int    `json:"sample_rate"`
	Encoding   string `json:"encoding"`
	Language   string `json:"language"`
}
