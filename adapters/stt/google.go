// Package stt adapts Google Cloud Speech-to-Text to the SpeechToText
// repository interface.
package stt

import (
	"context"
	"fmt"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"

	"github.com/satriahrh/wicara/server/domain/repositories"
)

// GoogleSpeechToText implements SpeechToText for Google Cloud.
type GoogleSpeechToText struct{}

var _ repositories.SpeechToText = (*GoogleSpeechToText)(nil)

// NewGoogleSpeechToText creates the adapter. Credentials are discovered
// through the standard Google application-default mechanism.
func NewGoogleSpeechToText() *GoogleSpeechToText {
	return &GoogleSpeechToText{}
}

// Transcribe converts one utterance of audio into text.
func (g *GoogleSpeechToText) Transcribe(ctx context.Context, audio []byte, config repositories.AudioConfig) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("no audio data received")
	}

	client, err := speech.NewClient(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to create speech client: %w", err)
	}
	defer client.Close()

	encoding, err := getAudioEncoding(config.Encoding)
	if err != nil {
		return "", err
	}

	resp, err := client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:        encoding,
			SampleRateHertz: int32(config.SampleRate),
			LanguageCode:    config.Language,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to recognize audio: %w", err)
	}

	var sb strings.Builder
	for _, result := range resp.Results {
		if len(result.Alternatives) > 0 {
			sb.WriteString(result.Alternatives[0].Transcript)
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

// getAudioEncoding converts string encoding to Google Speech API enum.
func getAudioEncoding(encoding string) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch encoding {
	case "WAV", "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16, nil
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC, nil
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW, nil
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS, nil
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported encoding: %s", encoding)
	}
}
