package turn

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

const frameBytes = 4800 // 100ms of 24kHz 16-bit PCM

func speechChunk() []byte {
	chunk := make([]byte, frameBytes)
	for i := 0; i < len(chunk); i += 2 {
		chunk[i] = 0x00
		chunk[i+1] = 0x10 // 4096, well above threshold
	}
	return chunk
}

func silentChunk() []byte {
	return make([]byte, frameBytes)
}

type recorded struct {
	pcm   []byte
	final bool
}

type recorder struct {
	starts     int
	stops      int
	utterances []recorded
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnSpeechStart: func() { r.starts++ },
		OnSpeechStop:  func() { r.stops++ },
		OnUtterance: func(pcm []byte, final bool) {
			r.utterances = append(r.utterances, recorded{pcm: pcm, final: final})
		},
	}
}

func newTestBuffer(r *recorder) *Buffer {
	return NewBuffer(Config{}, r.callbacks(), zap.NewNop())
}

func TestSilentStreamNeverFlushes(t *testing.T) {
	r := &recorder{}
	b := newTestBuffer(r)

	now := time.Now()
	for i := 0; i < 24; i++ {
		b.Process(silentChunk(), now.Add(time.Duration(i)*100*time.Millisecond))
	}
	b.Tick(now.Add(10 * time.Second))

	if b.Speaking() {
		t.Errorf("Expected buffer to stay silent")
	}
	if r.starts != 0 || r.stops != 0 {
		t.Errorf("Expected no transitions, got %d starts and %d stops", r.starts, r.stops)
	}
	if len(r.utterances) != 0 {
		t.Errorf("Expected zero flushes, got %d", len(r.utterances))
	}
}

func TestSpeechThenSilenceFlushesOnce(t *testing.T) {
	r := &recorder{}
	b := newTestBuffer(r)

	now := time.Now()
	for i := 0; i < 5; i++ {
		b.Process(speechChunk(), now.Add(time.Duration(i)*100*time.Millisecond))
	}
	for i := 5; i < 16; i++ {
		b.Process(silentChunk(), now.Add(time.Duration(i)*100*time.Millisecond))
	}

	if r.starts != 1 {
		t.Errorf("Expected one speech start, got %d", r.starts)
	}
	if r.stops != 1 {
		t.Errorf("Expected one speech stop, got %d", r.stops)
	}
	if len(r.utterances) != 1 {
		t.Fatalf("Expected exactly one flush, got %d", len(r.utterances))
	}

	u := r.utterances[0]
	if !u.final {
		t.Errorf("Expected a final flush")
	}
	// Silent chunks are not buffered; only the 5 spoken frames flush.
	if len(u.pcm) != 5*frameBytes {
		t.Errorf("Expected %d bytes of speech, got %d", 5*frameBytes, len(u.pcm))
	}
}

func TestContinuousSpeechInterimFlush(t *testing.T) {
	r := &recorder{}
	b := newTestBuffer(r)

	now := time.Now()
	for i := 0; i < 30; i++ {
		b.Process(speechChunk(), now.Add(time.Duration(i)*100*time.Millisecond))
	}

	if len(r.utterances) != 1 {
		t.Fatalf("Expected one interim flush during continuous speech, got %d", len(r.utterances))
	}
	interim := r.utterances[0]
	if interim.final {
		t.Errorf("Expected interim flush to be non-final")
	}
	// The flush fires once accumulated speech crosses 2000ms, on the 21st
	// frame.
	if len(interim.pcm) != 21*frameBytes {
		t.Errorf("Expected %d bytes in interim flush, got %d", 21*frameBytes, len(interim.pcm))
	}
	if r.stops != 0 {
		t.Errorf("Expected no speech stop during continuous speech, got %d", r.stops)
	}

	// End of speech arrives as a gap; the tick finalizes the turn with the
	// retained tail plus the frames after the interim flush.
	b.Tick(now.Add(30*100*time.Millisecond + 1100*time.Millisecond))

	if len(r.utterances) != 2 {
		t.Fatalf("Expected a final flush after the gap, got %d flushes", len(r.utterances))
	}
	final := r.utterances[1]
	if !final.final {
		t.Errorf("Expected final flush")
	}
	// 1s retained tail (10 frames) plus the 9 frames spoken afterwards.
	if len(final.pcm) != 19*frameBytes {
		t.Errorf("Expected %d bytes in final flush, got %d", 19*frameBytes, len(final.pcm))
	}
}

func TestGapEndsTurnViaTick(t *testing.T) {
	r := &recorder{}
	b := newTestBuffer(r)

	now := time.Now()
	b.Process(speechChunk(), now)
	b.Process(speechChunk(), now.Add(100*time.Millisecond))

	// No more chunks arrive. Ticks inside the hangover do nothing.
	b.Tick(now.Add(600 * time.Millisecond))
	if len(r.utterances) != 0 {
		t.Fatalf("Expected no flush before the hangover elapsed")
	}

	b.Tick(now.Add(1200 * time.Millisecond))
	if len(r.utterances) != 1 {
		t.Fatalf("Expected one flush after the hangover gap, got %d", len(r.utterances))
	}
	if len(r.utterances[0].pcm) != 2*frameBytes {
		t.Errorf("Expected %d bytes, got %d", 2*frameBytes, len(r.utterances[0].pcm))
	}
}

func TestSubThresholdChunksNotBuffered(t *testing.T) {
	r := &recorder{}
	b := newTestBuffer(r)

	now := time.Now()
	b.Process(speechChunk(), now)
	b.Process(silentChunk(), now.Add(100*time.Millisecond))
	b.Process(speechChunk(), now.Add(200*time.Millisecond))
	b.Process(silentChunk(), now.Add(1300*time.Millisecond))

	if len(r.utterances) != 1 {
		t.Fatalf("Expected one flush, got %d", len(r.utterances))
	}
	if len(r.utterances[0].pcm) != 2*frameBytes {
		t.Errorf("Expected only spoken chunks in the flush, got %d bytes", len(r.utterances[0].pcm))
	}
}

func TestClearDropsBufferedAudio(t *testing.T) {
	r := &recorder{}
	b := newTestBuffer(r)

	now := time.Now()
	b.Process(speechChunk(), now)
	b.Clear()

	if b.Speaking() {
		t.Errorf("Expected cleared buffer to be silent")
	}
	if b.BufferedBytes() != 0 {
		t.Errorf("Expected no buffered audio after clear, got %d bytes", b.BufferedBytes())
	}

	b.Tick(now.Add(5 * time.Second))
	if len(r.utterances) != 0 {
		t.Errorf("Expected no flush after clear, got %d", len(r.utterances))
	}
}

func TestShortSilenceDoesNotEndTurn(t *testing.T) {
	r := &recorder{}
	b := newTestBuffer(r)

	now := time.Now()
	b.Process(speechChunk(), now)
	// 900ms of silence, then speech resumes before the hangover elapses.
	b.Process(silentChunk(), now.Add(900*time.Millisecond))
	b.Process(speechChunk(), now.Add(950*time.Millisecond))

	if r.stops != 0 {
		t.Errorf("Expected turn to continue through short silence")
	}
	if len(r.utterances) != 0 {
		t.Errorf("Expected no flush yet, got %d", len(r.utterances))
	}

	b.Tick(now.Add(2 * time.Second))
	if len(r.utterances) != 1 {
		t.Fatalf("Expected one flush, got %d", len(r.utterances))
	}
	if len(r.utterances[0].pcm) != 2*frameBytes {
		t.Errorf("Expected both spoken chunks in the flush, got %d bytes", len(r.utterances[0].pcm))
	}
}
