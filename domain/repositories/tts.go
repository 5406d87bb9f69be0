package repositories

import "context"

// SpeechSynthesizer abstracts streaming text-to-speech services. Synthesized
// audio arrives as a stream of PCM chunks; the channel is closed when
// synthesis finishes. Cancelling the context stops chunk delivery.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text string, opts SynthesisOptions) (<-chan []byte, error)
}

// SynthesisOptions tunes a synthesis call. Zero values mean provider
// defaults.
type SynthesisOptions struct {
	Voice  string `json:"voice,omitempty"`
	Format string `json:"format,omitempty"`
	Speed  int    `json:"speed,omitempty"`
}
