package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/satriahrh/wicara/server/adapters"
	"github.com/satriahrh/wicara/server/adapters/llm"
	"github.com/satriahrh/wicara/server/adapters/runpod"
	"github.com/satriahrh/wicara/server/adapters/stt"
	"github.com/satriahrh/wicara/server/adapters/tts"
	"github.com/satriahrh/wicara/server/domain/entities"
	"github.com/satriahrh/wicara/server/domain/repositories"
	"github.com/satriahrh/wicara/server/internal/api"
	"github.com/satriahrh/wicara/server/internal/auth"
	"github.com/satriahrh/wicara/server/internal/config"
	"github.com/satriahrh/wicara/server/internal/jobs"
	"github.com/satriahrh/wicara/server/internal/session"
	"github.com/satriahrh/wicara/server/internal/turn"
	"github.com/satriahrh/wicara/server/internal/websocket"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.Load()

	// Create Echo instance
	e := echo.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Capability backends
	runners, synth := buildBackends(cfg, logger)

	// Session registry; each session gets its own orchestrator so job
	// supersession stays per-session.
	sessionCfg := session.Config{
		FrameSamples: cfg.FrameSamples,
		SampleRate:   cfg.SampleRate,
		TickInterval: cfg.TickInterval,
		Turn: turn.Config{
			SampleRate:      cfg.SampleRate,
			SpeechThreshold: cfg.SpeechThreshold,
			Hangover:        cfg.Hangover,
			InterimFlush:    cfg.InterimFlush,
			RetainTail:      cfg.RetainTail,
		},
		Language: cfg.TranscriptionLanguage,
		Voice:    cfg.SynthesisVoice,
		Format:   cfg.SynthesisFormat,
	}
	registry := session.NewRegistry(func(id string, events session.Events) *session.Session {
		orch := jobs.NewOrchestrator(runners, cfg.PollInterval, cfg.JobTimeout, logger)
		return session.New(id, sessionCfg, orch, synth, events, logger)
	}, logger)

	// Device store
	deviceRepo := adapters.NewMemoryDeviceRepository()
	seedDevice(deviceRepo, logger)

	authenticator := auth.New(cfg.JWTSecret, 24*time.Hour)

	// WebSocket hub
	hub := websocket.NewHub(registry, logger)
	go hub.Run()

	api.InitRoutes(e, hub, registry, deviceRepo, authenticator, logger)

	// Graceful shutdown
	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Server started",
		zap.String("port", cfg.Port),
		zap.Int("sampleRate", cfg.SampleRate),
		zap.Int("frameSamples", cfg.FrameSamples),
		zap.Float64("energyGate", cfg.EnergyGateThreshold))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}
	registry.Shutdown()

	logger.Info("Server exited")
}

// buildBackends wires each capability to its remote backend. A configured
// RunPod endpoint takes the asynchronous path; otherwise the capability runs
// synchronously against its direct API, falling back to mocks when no
// credentials are present.
func buildBackends(cfg *config.Config, logger *zap.Logger) (map[jobs.Capability]jobs.Runner, repositories.SpeechSynthesizer) {
	runners := make(map[jobs.Capability]jobs.Runner)

	endpoints := map[jobs.Capability]string{}
	if cfg.RunpodTranscribeEndpoint != "" {
		endpoints[jobs.CapabilityTranscribe] = cfg.RunpodTranscribeEndpoint
	}
	if cfg.RunpodGenerateEndpoint != "" {
		endpoints[jobs.CapabilityGenerate] = cfg.RunpodGenerateEndpoint
	}
	if cfg.RunpodSynthesizeEndpoint != "" {
		endpoints[jobs.CapabilitySynthesize] = cfg.RunpodSynthesizeEndpoint
	}

	var runpodClient *runpod.Client
	if cfg.RunpodAPIKey != "" && len(endpoints) > 0 {
		client, err := runpod.NewClient(runpod.Config{
			APIKey:    cfg.RunpodAPIKey,
			BaseURL:   cfg.RunpodBaseURL,
			Endpoints: endpoints,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to create RunPod client", zap.Error(err))
		}
		runpodClient = client
		for capability := range endpoints {
			runners[capability] = client
		}
	}

	if _, ok := runners[jobs.CapabilityTranscribe]; !ok {
		var sttRepo repositories.SpeechToText
		if os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") != "" {
			sttRepo = stt.NewGoogleSpeechToText()
		} else {
			logger.Warn("No transcription backend configured, using mock")
			sttRepo = stt.NewMockSpeechToText(logger)
		}
		runners[jobs.CapabilityTranscribe] = jobs.NewSyncRunner(func(ctx context.Context, req jobs.Request) ([]byte, error) {
			text, err := sttRepo.Transcribe(ctx, req.Audio, repositories.AudioConfig{
				SampleRate: cfg.SampleRate,
				Encoding:   "LINEAR16",
				Language:   req.Language,
			})
			return []byte(text), err
		})
	}

	if _, ok := runners[jobs.CapabilityGenerate]; !ok {
		var model repositories.LanguageModel
		if cfg.GeminiAPIKey != "" {
			gemini, err := llm.NewGeminiLLM(context.Background(), cfg.GeminiAPIKey, "", "", logger)
			if err != nil {
				logger.Fatal("Failed to create Gemini client", zap.Error(err))
			}
			model = gemini
		} else {
			logger.Warn("No generation backend configured, using mock")
			model = llm.NewMockLanguageModel(logger)
		}
		runners[jobs.CapabilityGenerate] = jobs.NewSyncRunner(func(ctx context.Context, req jobs.Request) ([]byte, error) {
			text, err := model.Generate(ctx, req.Messages, repositories.GenerateOptions{
				Temperature: req.Temperature,
				MaxTokens:   req.MaxTokens,
			})
			return []byte(text), err
		})
	}

	// When synthesis runs through RunPod jobs, the session takes the polled
	// path and no streaming synthesizer is needed.
	if runpodClient != nil {
		if _, ok := endpoints[jobs.CapabilitySynthesize]; ok {
			return runners, nil
		}
	}

	var synth repositories.SpeechSynthesizer
	if cfg.ElevenLabsAPIKey != "" {
		el, err := tts.NewElevenLabsTTS(tts.ElevenLabsConfig{
			APIKey:       cfg.ElevenLabsAPIKey,
			VoiceID:      cfg.SynthesisVoice,
			OutputFormat: cfg.SynthesisFormat,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to create Eleven Labs client", zap.Error(err))
		}
		synth = el
	} else {
		logger.Warn("No synthesis backend configured, using mock")
		synth = tts.NewMockSynthesizer(cfg.SampleRate, logger)
	}
	return runners, synth
}

// seedDevice registers a development device from the environment so the
// auth flow works out of the box.
func seedDevice(repo *adapters.MemoryDeviceRepository, logger *zap.Logger) {
	serial := os.Getenv("DEV_DEVICE_SERIAL")
	secret := os.Getenv("DEV_DEVICE_SECRET")
	if serial == "" || secret == "" {
		return
	}

	device := &entities.Device{
		SerialNumber: serial,
		Model:        "dev",
	}
	if err := repo.Create(context.Background(), device, secret); err != nil {
		logger.Warn("Failed to seed development device", zap.Error(err))
		return
	}
	logger.Info("Seeded development device", zap.String("serialNumber", serial))
}
