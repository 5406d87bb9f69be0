// Package session owns the per-connection conversation runtime: it feeds
// inbound audio frames through turn detection, drives the
// transcribe-generate-synthesize chain for each finished turn, and
// coordinates playback interruption.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/wicara/server/audio"
	"github.com/satriahrh/wicara/server/domain/entities"
	"github.com/satriahrh/wicara/server/domain/repositories"
	"github.com/satriahrh/wicara/server/internal/jobs"
	"github.com/satriahrh/wicara/server/internal/turn"
)

// ErrSessionClosed is returned when frames or commands arrive after End.
var ErrSessionClosed = errors.New("session closed")

// Events is the outbound surface of a session. The transport layer
// implements it by marshalling control messages to the client. Methods are
// called from session goroutines and must not block indefinitely.
type Events interface {
	PartialUserRequest(text string)
	FinalUserRequest(text string)
	FinalAssistantAnswer(text string)
	TTSChunk(pcm []byte)
	TTSInterruption()
	StopTTS()
	Error(err error)
}

// Config tunes one session's audio pipeline.
type Config struct {
	FrameSamples int
	SampleRate   int
	TickInterval time.Duration
	Turn         turn.Config

	Language string
	Voice    string
	Format   string

	// InterruptSuppression is how long playback reports are ignored after
	// an intentional interruption.
	InterruptSuppression time.Duration
}

func (c Config) withDefaults() Config {
	if c.FrameSamples <= 0 {
		c.FrameSamples = audio.DefaultFrameSamples
	}
	if c.SampleRate <= 0 {
		c.SampleRate = audio.DefaultSampleRate
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 250 * time.Millisecond
	}
	if c.InterruptSuppression <= 0 {
		c.InterruptSuppression = 500 * time.Millisecond
	}
	return c
}

// Session is the runtime for one connected device. Frames are processed in
// arrival order on a dedicated goroutine; the inference chain runs on its
// own goroutine per finished turn so slow backends never stall the audio
// path.
type Session struct {
	ID        string
	CreatedAt time.Time

	cfg    Config
	logger *zap.Logger
	events Events

	conv     *entities.Conversation
	turn     *turn.Buffer
	jobs     *jobs.Orchestrator
	playback *Playback
	synth    repositories.SpeechSynthesizer

	frames chan *audio.Frame
	ops    chan func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool

	speed atomic.Int32

	chainMu     sync.Mutex
	chainCancel context.CancelFunc

	convMu sync.Mutex
}

// New creates a session. synth may be nil when synthesis runs as a polled
// job instead of a local stream.
func New(id string, cfg Config, orch *jobs.Orchestrator, synth repositories.SpeechSynthesizer, events Events, logger *zap.Logger) *Session {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		ID:        id,
		CreatedAt: time.Now(),
		cfg:       cfg,
		logger:    logger.With(zap.String("sessionID", id)),
		events:    events,
		conv:      entities.NewConversation(id),
		jobs:      orch,
		synth:     synth,
		frames:    make(chan *audio.Frame, 64),
		ops:       make(chan func(), 8),
		ctx:       ctx,
		cancel:    cancel,
	}
	s.speed.Store(100)
	s.playback = NewPlayback(func(active bool) {
		s.logger.Debug("Playback state changed", zap.Bool("active", active))
	})
	s.turn = turn.NewBuffer(cfg.Turn, turn.Callbacks{
		OnSpeechStart: s.onSpeechStart,
		OnSpeechStop:  s.onSpeechStop,
		OnUtterance:   s.onUtterance,
	}, s.logger)
	return s
}

// Start launches the audio-processing goroutine.
func (s *Session) Start() {
	s.wg.Add(1)
	go s.run()
}

// Playback exposes the playback tracker, for transport-level state reports.
func (s *Session) Playback() *Playback {
	return s.playback
}

// History returns a snapshot of the conversation so far.
func (s *Session) History() []entities.Message {
	s.convMu.Lock()
	defer s.convMu.Unlock()
	return s.conv.History()
}

// HandleFrame decodes one wire frame and queues it for processing. A
// malformed frame is rejected with a FramingError and nothing is buffered.
func (s *Session) HandleFrame(data []byte) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}

	frame, err := audio.DecodeFrame(data, s.cfg.FrameSamples)
	if err != nil {
		return err
	}

	// The header carries the client's playback state at capture time.
	s.playback.SetActive(frame.PlaybackActive())

	select {
	case s.frames <- frame:
		return nil
	case <-s.ctx.Done():
		return ErrSessionClosed
	}
}

// SetPlaybackActive records a playback transition reported over the control
// channel (tts_start / tts_stop).
func (s *Session) SetPlaybackActive(active bool) {
	if s.closed.Load() {
		return
	}
	s.playback.SetActive(active)
}

// ClearHistory drops the conversation history and any buffered audio of the
// current turn. In-flight jobs are cancelled; their late results are
// dropped.
func (s *Session) ClearHistory() error {
	if s.closed.Load() {
		return ErrSessionClosed
	}

	s.cancelChain()
	s.jobs.CancelAll()

	s.convMu.Lock()
	s.conv.Clear()
	s.convMu.Unlock()

	// The turn buffer belongs to the audio goroutine.
	select {
	case s.ops <- func() { s.turn.Clear() }:
	case <-s.ctx.Done():
		return ErrSessionClosed
	}
	s.logger.Info("Conversation history cleared")
	return nil
}

// SetSpeed updates the synthesis speed as a percentage of normal, applied to
// subsequent synthesis requests.
func (s *Session) SetSpeed(percent int) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	if percent < 50 || percent > 200 {
		return errors.New("speed out of range [50, 200]")
	}
	s.speed.Store(int32(percent))
	return nil
}

// End tears the session down. All active jobs are cancelled, then the audio
// loop and any in-flight chain goroutines are joined, so no event reaches
// the transport after End returns. Remote calls are abandoned, not awaited.
func (s *Session) End() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.cancelChain()
	s.jobs.CancelAll()
	s.cancel()
	s.wg.Wait()
	s.logger.Info("Session ended")
}

// run is the audio-processing loop. It is the only goroutine that touches
// the turn buffer. The ticker drives end-of-turn detection during the gaps
// a silence-gating client leaves in the stream.
func (s *Session) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case op := <-s.ops:
			op()
		case frame := <-s.frames:
			s.turn.Process(frame.PCMBytes(), time.Now())
		case <-ticker.C:
			s.turn.Tick(time.Now())
		}
	}
}

// onSpeechStart triggers barge-in when the user starts talking over active
// playback.
func (s *Session) onSpeechStart() {
	s.logger.Debug("Speech started")
	if s.playback.Active() && !s.playback.Suppressed() {
		s.interrupt()
	}
}

func (s *Session) onSpeechStop() {
	s.logger.Debug("Speech stopped")
}

// onUtterance dispatches flushed audio. A final utterance starts a full
// inference chain, superseding any previous one; an interim flush only
// requests an early partial transcript.
func (s *Session) onUtterance(pcm []byte, final bool) {
	if !final {
		s.startInterimTranscribe(pcm)
		return
	}

	s.chainMu.Lock()
	if s.chainCancel != nil {
		s.chainCancel()
	}
	chainCtx, cancel := context.WithCancel(s.ctx)
	s.chainCancel = cancel
	s.chainMu.Unlock()

	// Joined by End so no event fires after teardown.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runChain(chainCtx, pcm)
	}()
}

func (s *Session) cancelChain() {
	s.chainMu.Lock()
	if s.chainCancel != nil {
		s.chainCancel()
		s.chainCancel = nil
	}
	s.chainMu.Unlock()
}

// startInterimTranscribe requests a partial transcript for a turn still in
// progress. Supersession cancels any older transcription automatically.
func (s *Session) startInterimTranscribe(pcm []byte) {
	handle, err := s.jobs.Submit(s.ctx, jobs.Request{
		Capability: jobs.CapabilityTranscribe,
		Audio:      pcm,
		Language:   s.cfg.Language,
	})
	if err != nil {
		s.logger.Warn("Interim transcription submit failed", zap.Error(err))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		result, err := handle.Wait(s.ctx)
		if err != nil {
			s.reportChainError(err)
			return
		}
		if text := string(result); text != "" {
			s.events.PartialUserRequest(text)
		}
	}()
}

// runChain drives one finished turn through transcription, response
// generation, and synthesis. Each stage checks for cancellation before
// touching the conversation or the client.
func (s *Session) runChain(ctx context.Context, pcm []byte) {
	text, err := s.transcribe(ctx, pcm)
	if err != nil {
		s.reportChainError(err)
		return
	}
	if text == "" {
		s.logger.Debug("Empty transcript, dropping turn")
		return
	}

	s.events.FinalUserRequest(text)
	s.convMu.Lock()
	s.conv.Append(entities.RoleUser, text)
	history := s.conv.History()
	s.convMu.Unlock()

	reply, err := s.generate(ctx, history)
	if err != nil {
		s.reportChainError(err)
		return
	}

	s.convMu.Lock()
	s.conv.Append(entities.RoleAssistant, reply)
	s.convMu.Unlock()
	s.events.FinalAssistantAnswer(reply)

	s.synthesize(ctx, reply)
}

func (s *Session) transcribe(ctx context.Context, pcm []byte) (string, error) {
	handle, err := s.jobs.Submit(ctx, jobs.Request{
		Capability: jobs.CapabilityTranscribe,
		Audio:      pcm,
		Language:   s.cfg.Language,
	})
	if err != nil {
		return "", err
	}
	result, err := handle.Wait(ctx)
	if err != nil {
		return "", err
	}
	return string(result), nil
}

func (s *Session) generate(ctx context.Context, history []entities.Message) (string, error) {
	handle, err := s.jobs.Submit(ctx, jobs.Request{
		Capability: jobs.CapabilityGenerate,
		Messages:   history,
	})
	if err != nil {
		return "", err
	}
	result, err := handle.Wait(ctx)
	if err != nil {
		return "", err
	}
	return string(result), nil
}

// synthesize streams synthesized audio to the client chunk by chunk. The
// stream is registered with the orchestrator so barge-in cancels it like
// any other job; chunks arriving after cancellation are dropped.
func (s *Session) synthesize(ctx context.Context, text string) {
	if s.synth == nil {
		s.synthesizeJob(ctx, text)
		return
	}

	handle, synthCtx := s.jobs.Track(ctx, jobs.CapabilitySynthesize)

	stream, err := s.synth.Synthesize(synthCtx, text, repositories.SynthesisOptions{
		Voice:  s.cfg.Voice,
		Format: s.cfg.Format,
		Speed:  int(s.speed.Load()),
	})
	if err != nil {
		failure := &jobs.FailureError{Capability: jobs.CapabilitySynthesize, Err: err}
		if handle.Fail(failure) {
			s.reportChainError(failure)
		}
		return
	}

	for chunk := range stream {
		if handle.State().Terminal() {
			// Interrupted mid-stream, drain and drop.
			continue
		}
		select {
		case <-synthCtx.Done():
			continue
		default:
		}
		s.events.TTSChunk(chunk)
	}
	if handle.Finish(nil) {
		return
	}
	// The stream ended because the handle went terminal first; surface a
	// timeout, swallow a cancellation.
	if _, err := handle.Wait(context.Background()); err != nil {
		s.reportChainError(err)
	}
}

// synthesizeJob runs synthesis through the polled job path when no
// streaming synthesizer is configured. The whole clip arrives as one chunk.
func (s *Session) synthesizeJob(ctx context.Context, text string) {
	handle, err := s.jobs.Submit(ctx, jobs.Request{
		Capability: jobs.CapabilitySynthesize,
		Text:       text,
		Voice:      s.cfg.Voice,
		Format:     s.cfg.Format,
		Speed:      int(s.speed.Load()),
	})
	if err != nil {
		s.reportChainError(err)
		return
	}
	clip, err := handle.Wait(ctx)
	if err != nil {
		s.reportChainError(err)
		return
	}
	if len(clip) > 0 {
		s.events.TTSChunk(clip)
	}
}

// interrupt implements barge-in: stop synthesis and generation, tell the
// client to stop playing, and open a suppression window so the resulting
// playback-stop reports are not treated as fresh transitions.
func (s *Session) interrupt() {
	s.logger.Info("Barge-in, interrupting playback")

	s.playback.Interrupt(s.cfg.InterruptSuppression)
	s.jobs.Cancel(jobs.CapabilitySynthesize)
	s.jobs.Cancel(jobs.CapabilityGenerate)
	s.cancelChain()

	s.events.TTSInterruption()
	s.events.StopTTS()
}

// reportChainError surfaces a failure to the client unless it is a
// cancellation, which is the normal outcome of supersession and barge-in.
func (s *Session) reportChainError(err error) {
	if err == nil ||
		errors.Is(err, jobs.ErrCancelled) ||
		errors.Is(err, context.Canceled) {
		return
	}
	s.logger.Warn("Inference chain failed", zap.Error(err))
	s.events.Error(err)
}
