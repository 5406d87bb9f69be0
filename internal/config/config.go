package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all server configuration. Every timing and energy constant of
// the audio pipeline is tunable here; the defaults are the reference values,
// not normative ones.
type Config struct {
	Port      string
	JWTSecret string

	// Audio wire format.
	SampleRate   int
	FrameSamples int

	// Client-side energy gate, mean absolute amplitude in the int16
	// domain.
	EnergyGateThreshold float64

	// Server-side VAD.
	SpeechThreshold float64       // normalized RMS
	Hangover        time.Duration // silence needed to end a turn
	InterimFlush    time.Duration // continuous speech before an interim flush
	RetainTail      time.Duration // audio kept as context after an interim flush
	TickInterval    time.Duration // cadence of silence checks between frames

	// Job orchestration.
	PollInterval time.Duration
	JobTimeout   time.Duration

	// Remote capability backends.
	RunpodAPIKey              string
	RunpodBaseURL             string
	RunpodTranscribeEndpoint  string
	RunpodGenerateEndpoint    string
	RunpodSynthesizeEndpoint  string
	ElevenLabsAPIKey          string
	GeminiAPIKey              string
	TranscriptionLanguage     string
	SynthesisVoice            string
	SynthesisFormat           string
}

// Load reads configuration from the environment, after loading .env if one
// is present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:      getString("PORT", "8080"),
		JWTSecret: getString("JWT_SECRET", ""),

		SampleRate:   getInt("AUDIO_SAMPLE_RATE", 24000),
		FrameSamples: getInt("AUDIO_FRAME_SAMPLES", 2400),

		EnergyGateThreshold: getFloat("ENERGY_GATE_THRESHOLD", 100),

		SpeechThreshold: getFloat("VAD_SPEECH_THRESHOLD", 0.01),
		Hangover:        getDuration("VAD_HANGOVER_MS", 1000*time.Millisecond),
		InterimFlush:    getDuration("VAD_INTERIM_FLUSH_MS", 2000*time.Millisecond),
		RetainTail:      getDuration("VAD_RETAIN_TAIL_MS", 1000*time.Millisecond),
		TickInterval:    getDuration("VAD_TICK_INTERVAL_MS", 250*time.Millisecond),

		PollInterval: getDuration("JOB_POLL_INTERVAL_MS", 1000*time.Millisecond),
		JobTimeout:   getDuration("JOB_TIMEOUT_MS", 60000*time.Millisecond),

		RunpodAPIKey:             getString("RUNPOD_API_KEY", ""),
		RunpodBaseURL:            getString("RUNPOD_BASE_URL", "https://api.runpod.ai/v2"),
		RunpodTranscribeEndpoint: getString("RUNPOD_TRANSCRIBE_ENDPOINT", ""),
		RunpodGenerateEndpoint:   getString("RUNPOD_GENERATE_ENDPOINT", ""),
		RunpodSynthesizeEndpoint: getString("RUNPOD_SYNTHESIZE_ENDPOINT", ""),
		ElevenLabsAPIKey:         getString("ELEVEN_LABS_API_KEY", ""),
		GeminiAPIKey:             getString("GEMINI_API_KEY", ""),
		TranscriptionLanguage:    getString("TRANSCRIPTION_LANGUAGE", "en"),
		SynthesisVoice:           getString("SYNTHESIS_VOICE", ""),
		SynthesisFormat:          getString("SYNTHESIS_FORMAT", "pcm_24000"),
	}
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return fallback
}
