package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/wicara/server/audio"
	"github.com/satriahrh/wicara/server/domain/repositories"
	"github.com/satriahrh/wicara/server/internal/jobs"
	"github.com/satriahrh/wicara/server/internal/turn"
)

type fakeEvents struct {
	mu            sync.Mutex
	partials      []string
	finals        []string
	answers       []string
	chunks        int
	interruptions int
	stops         int
	errs          []error
}

func (f *fakeEvents) PartialUserRequest(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.partials = append(f.partials, text)
}

func (f *fakeEvents) FinalUserRequest(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finals = append(f.finals, text)
}

func (f *fakeEvents) FinalAssistantAnswer(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, text)
}

func (f *fakeEvents) TTSChunk(pcm []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks++
}

func (f *fakeEvents) TTSInterruption() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interruptions++
}

func (f *fakeEvents) StopTTS() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
}

func (f *fakeEvents) Error(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, err)
}

func (f *fakeEvents) snapshot() (finals, answers []string, chunks, interruptions int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.finals...), append([]string(nil), f.answers...), f.chunks, f.interruptions
}

type fakeSynth struct {
	chunks int
}

func (f *fakeSynth) Synthesize(ctx context.Context, text string, opts repositories.SynthesisOptions) (<-chan []byte, error) {
	out := make(chan []byte, f.chunks)
	go func() {
		defer close(out)
		for i := 0; i < f.chunks; i++ {
			select {
			case <-ctx.Done():
				return
			case out <- make([]byte, 480):
			}
		}
	}()
	return out, nil
}

// slowSynth streams chunks at a fixed interval until its context is
// cancelled, like a long synthesis still in flight.
type slowSynth struct {
	interval time.Duration
}

func (f *slowSynth) Synthesize(ctx context.Context, text string, opts repositories.SynthesisOptions) (<-chan []byte, error) {
	out := make(chan []byte)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case out <- make([]byte, 480):
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(f.interval):
			}
		}
	}()
	return out, nil
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Expected condition not reached before timeout")
}

func loudFrame() []byte {
	return loudFrameWithFlags(0)
}

func loudFrameWithFlags(flags uint32) []byte {
	samples := make([]int16, audio.DefaultFrameSamples)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = 4000
		} else {
			samples[i] = -4000
		}
	}
	return audio.EncodeFrame(&audio.Frame{Flags: flags, Samples: samples})
}

func newTestSession(t *testing.T, events Events, synth repositories.SpeechSynthesizer, runners map[jobs.Capability]jobs.Runner) *Session {
	t.Helper()
	orch := jobs.NewOrchestrator(runners, 10*time.Millisecond, time.Second, zap.NewNop())
	s := New("test-session", Config{
		TickInterval: 10 * time.Millisecond,
		Turn: turn.Config{
			Hangover: 50 * time.Millisecond,
		},
	}, orch, synth, events, zap.NewNop())
	s.Start()
	t.Cleanup(s.End)
	return s
}

func textRunner(text string) jobs.Runner {
	return jobs.NewSyncRunner(func(ctx context.Context, req jobs.Request) ([]byte, error) {
		return []byte(text), nil
	})
}

func TestUtteranceDrivesFullChain(t *testing.T) {
	events := &fakeEvents{}
	synth := &fakeSynth{chunks: 3}
	s := newTestSession(t, events, synth, map[jobs.Capability]jobs.Runner{
		jobs.CapabilityTranscribe: textRunner("hello there"),
		jobs.CapabilityGenerate:   textRunner("hi, how can I help?"),
	})

	for i := 0; i < 3; i++ {
		if err := s.HandleFrame(loudFrame()); err != nil {
			t.Fatalf("Expected frame accepted, got error: %v", err)
		}
	}

	waitFor(t, 2*time.Second, func() bool {
		_, answers, chunks, _ := events.snapshot()
		return len(answers) == 1 && chunks == 3
	})

	finals, answers, _, _ := events.snapshot()
	if len(finals) != 1 || finals[0] != "hello there" {
		t.Errorf("Expected final user request %q, got %v", "hello there", finals)
	}
	if answers[0] != "hi, how can I help?" {
		t.Errorf("Expected assistant answer, got %v", answers)
	}

	history := s.History()
	if len(history) != 2 {
		t.Fatalf("Expected 2 history messages, got %d", len(history))
	}
	if history[0].Content != "hello there" || history[1].Content != "hi, how can I help?" {
		t.Errorf("Expected user and assistant turns in history, got %+v", history)
	}
}

func TestMalformedFrameRejected(t *testing.T) {
	events := &fakeEvents{}
	s := newTestSession(t, events, &fakeSynth{}, map[jobs.Capability]jobs.Runner{})

	err := s.HandleFrame(make([]byte, 100))
	var framing *audio.FramingError
	if !errors.As(err, &framing) {
		t.Fatalf("Expected FramingError, got %v", err)
	}

	// The session keeps working after a rejected frame.
	if err := s.HandleFrame(loudFrame()); err != nil {
		t.Errorf("Expected next frame accepted, got error: %v", err)
	}
}

func TestBargeInInterruptsPlayback(t *testing.T) {
	events := &fakeEvents{}
	s := newTestSession(t, events, &fakeSynth{}, map[jobs.Capability]jobs.Runner{
		jobs.CapabilityTranscribe: textRunner(""),
		jobs.CapabilityGenerate:   textRunner(""),
	})

	s.SetPlaybackActive(true)
	if !s.Playback().Active() {
		t.Fatal("Expected playback active")
	}

	// Speech captured while the client reports playback in the frame header.
	if err := s.HandleFrame(loudFrameWithFlags(audio.FlagPlaybackActive)); err != nil {
		t.Fatal(err)
	}

	waitFor(t, time.Second, func() bool {
		_, _, _, interruptions := events.snapshot()
		return interruptions == 1
	})

	if s.Playback().Active() {
		t.Errorf("Expected playback inactive after barge-in")
	}

	events.mu.Lock()
	stops := events.stops
	events.mu.Unlock()
	if stops != 1 {
		t.Errorf("Expected one stop_tts event, got %d", stops)
	}
}

func TestFailedTranscriptionSurfacesError(t *testing.T) {
	events := &fakeEvents{}
	s := newTestSession(t, events, &fakeSynth{}, map[jobs.Capability]jobs.Runner{
		jobs.CapabilityTranscribe: jobs.NewSyncRunner(func(ctx context.Context, req jobs.Request) ([]byte, error) {
			return nil, errors.New("backend down")
		}),
		jobs.CapabilityGenerate: textRunner("unused"),
	})

	if err := s.HandleFrame(loudFrame()); err != nil {
		t.Fatal(err)
	}

	waitFor(t, time.Second, func() bool {
		events.mu.Lock()
		defer events.mu.Unlock()
		return len(events.errs) == 1
	})

	// History is untouched by the failed chain.
	if len(s.History()) != 0 {
		t.Errorf("Expected empty history after failed transcription, got %d messages", len(s.History()))
	}
}

func TestClearHistory(t *testing.T) {
	events := &fakeEvents{}
	s := newTestSession(t, events, &fakeSynth{chunks: 1}, map[jobs.Capability]jobs.Runner{
		jobs.CapabilityTranscribe: textRunner("first turn"),
		jobs.CapabilityGenerate:   textRunner("noted"),
	})

	if err := s.HandleFrame(loudFrame()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 2*time.Second, func() bool {
		return len(s.History()) == 2
	})

	if err := s.ClearHistory(); err != nil {
		t.Fatalf("Expected clear to succeed, got error: %v", err)
	}
	if len(s.History()) != 0 {
		t.Errorf("Expected empty history after clear, got %d messages", len(s.History()))
	}
}

func TestSetSpeedValidatesRange(t *testing.T) {
	events := &fakeEvents{}
	s := newTestSession(t, events, &fakeSynth{}, map[jobs.Capability]jobs.Runner{})

	if err := s.SetSpeed(120); err != nil {
		t.Errorf("Expected speed 120 accepted, got error: %v", err)
	}
	if err := s.SetSpeed(10); err == nil {
		t.Errorf("Expected speed 10 rejected")
	}
	if err := s.SetSpeed(500); err == nil {
		t.Errorf("Expected speed 500 rejected")
	}
}

func TestEndJoinsInferenceChain(t *testing.T) {
	events := &fakeEvents{}
	synth := &slowSynth{interval: 10 * time.Millisecond}
	s := newTestSession(t, events, synth, map[jobs.Capability]jobs.Runner{
		jobs.CapabilityTranscribe: textRunner("keep going"),
		jobs.CapabilityGenerate:   textRunner("a very long answer"),
	})

	if err := s.HandleFrame(loudFrame()); err != nil {
		t.Fatal(err)
	}

	// Synthesis is mid-stream when the session ends.
	waitFor(t, 2*time.Second, func() bool {
		_, _, chunks, _ := events.snapshot()
		return chunks > 0
	})

	s.End()

	_, _, chunksAtEnd, _ := events.snapshot()
	time.Sleep(50 * time.Millisecond)
	_, _, chunksAfter, _ := events.snapshot()
	if chunksAfter != chunksAtEnd {
		t.Errorf("Expected no audio delivered after End returned, got %d late chunks", chunksAfter-chunksAtEnd)
	}
}

func TestOperationsAfterEnd(t *testing.T) {
	events := &fakeEvents{}
	orch := jobs.NewOrchestrator(map[jobs.Capability]jobs.Runner{}, 10*time.Millisecond, time.Second, zap.NewNop())
	s := New("ended", Config{}, orch, nil, events, zap.NewNop())
	s.Start()
	s.End()

	if err := s.HandleFrame(loudFrame()); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Expected ErrSessionClosed for frame, got %v", err)
	}
	if err := s.ClearHistory(); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Expected ErrSessionClosed for clear, got %v", err)
	}
	if err := s.SetSpeed(100); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Expected ErrSessionClosed for speed, got %v", err)
	}
}
