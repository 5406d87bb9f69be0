// Package turn segments an inbound audio stream into spoken turns using
// energy-based voice activity detection.
package turn

import (
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/wicara/server/audio"
)

// Config tunes the VAD state machine. Zero values fall back to the reference
// defaults.
type Config struct {
	// SampleRate of the inbound 16-bit PCM stream.
	SampleRate int

	// SpeechThreshold is the normalized RMS energy above which a chunk
	// counts as speech.
	SpeechThreshold float64

	// Hangover is how long silence must persist before a turn is
	// considered finished.
	Hangover time.Duration

	// InterimFlush is how much continuous speech accumulates before an
	// interim flush sends it for early transcription.
	InterimFlush time.Duration

	// RetainTail is how much trailing audio an interim flush keeps as
	// continuation context.
	RetainTail time.Duration
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = audio.DefaultSampleRate
	}
	if c.SpeechThreshold <= 0 {
		c.SpeechThreshold = 0.01
	}
	if c.Hangover <= 0 {
		c.Hangover = time.Second
	}
	if c.InterimFlush <= 0 {
		c.InterimFlush = 2 * time.Second
	}
	if c.RetainTail <= 0 {
		c.RetainTail = time.Second
	}
	return c
}

// Callbacks receive VAD transitions and finalized audio. They are invoked
// synchronously on the audio-processing goroutine, so they must not block.
type Callbacks struct {
	// OnSpeechStart fires on the SILENT -> SPEAKING transition.
	OnSpeechStart func()

	// OnSpeechStop fires on the SPEAKING -> SILENT transition.
	OnSpeechStop func()

	// OnUtterance receives concatenated buffered audio. final is false
	// for interim flushes of a still-running turn.
	OnUtterance func(pcm []byte, final bool)
}

// Buffer accumulates audio for one session and detects turn boundaries.
//
// A Buffer is owned by a single session and mutated only by that session's
// audio-processing goroutine; it needs no locking. Silence is tracked by
// timestamps rather than audio length, so a sender that gates out silent
// frames entirely (leaving gaps in the stream) still ends turns via Tick.
type Buffer struct {
	cfg    Config
	cb     Callbacks
	logger *zap.Logger

	chunks        [][]byte
	bufferedBytes int

	speaking         bool
	silenceStartedAt time.Time // zero while speech is ongoing
	lastSpeechAt     time.Time
}

// NewBuffer creates a turn buffer.
func NewBuffer(cfg Config, cb Callbacks, logger *zap.Logger) *Buffer {
	return &Buffer{
		cfg:    cfg.withDefaults(),
		cb:     cb,
		logger: logger,
	}
}

// Speaking reports whether the buffer is currently inside a spoken turn.
func (b *Buffer) Speaking() bool {
	return b.speaking
}

// BufferedBytes returns the number of PCM bytes currently accumulated.
func (b *Buffer) BufferedBytes() int {
	return b.bufferedBytes
}

// Process handles one inbound PCM chunk stamped with its arrival time.
func (b *Buffer) Process(pcm []byte, now time.Time) {
	if len(pcm) == 0 {
		return
	}

	energy := audio.RMSEnergy(pcm)
	isSpeech := energy >= b.cfg.SpeechThreshold

	if !b.speaking {
		if !isSpeech {
			return
		}
		b.speaking = true
		b.silenceStartedAt = time.Time{}
		b.lastSpeechAt = now
		b.append(pcm)
		b.logger.Debug("Speech started", zap.Float64("energy", energy))
		if b.cb.OnSpeechStart != nil {
			b.cb.OnSpeechStart()
		}
		return
	}

	if isSpeech {
		b.silenceStartedAt = time.Time{}
		b.lastSpeechAt = now
		b.append(pcm)

		if b.bufferedDuration() > b.cfg.InterimFlush {
			b.interimFlush()
		}
		return
	}

	// Sub-threshold chunk while speaking: not buffered, starts (or
	// continues) the hangover countdown.
	if b.silenceStartedAt.IsZero() {
		b.silenceStartedAt = now
	}
	if now.Sub(b.lastSpeechAt) >= b.cfg.Hangover {
		b.finalize()
	}
}

// Tick checks for turn end in the absence of inbound chunks. Senders drop
// silent frames, so end-of-turn silence usually arrives as a gap, not as
// audio.
func (b *Buffer) Tick(now time.Time) {
	if !b.speaking {
		return
	}
	if now.Sub(b.lastSpeechAt) >= b.cfg.Hangover {
		if b.silenceStartedAt.IsZero() {
			b.silenceStartedAt = b.lastSpeechAt
		}
		b.finalize()
	}
}

// Clear drops all buffered audio and resets the state machine without
// emitting anything.
func (b *Buffer) Clear() {
	b.chunks = nil
	b.bufferedBytes = 0
	b.speaking = false
	b.silenceStartedAt = time.Time{}
}

func (b *Buffer) append(pcm []byte) {
	chunk := make([]byte, len(pcm))
	copy(chunk, pcm)
	b.chunks = append(b.chunks, chunk)
	b.bufferedBytes += len(chunk)
}

func (b *Buffer) bufferedDuration() time.Duration {
	bps := b.cfg.SampleRate * 2
	return time.Duration(b.bufferedBytes) * time.Second / time.Duration(bps)
}

// finalize ends the turn: emits speech-stop, flushes the utterance, clears
// the buffer.
func (b *Buffer) finalize() {
	b.speaking = false
	b.silenceStartedAt = time.Time{}

	if b.cb.OnSpeechStop != nil {
		b.cb.OnSpeechStop()
	}

	if b.bufferedBytes == 0 {
		return
	}

	utterance := b.concat()
	b.chunks = nil
	b.bufferedBytes = 0

	b.logger.Debug("Turn finalized", zap.Int("bytes", len(utterance)))
	if b.cb.OnUtterance != nil {
		b.cb.OnUtterance(utterance, true)
	}
}

// interimFlush sends everything buffered so far for early transcription
// while the speaker keeps talking, retaining only the most recent tail as
// continuation context.
func (b *Buffer) interimFlush() {
	utterance := b.concat()

	retain := int(b.cfg.RetainTail.Seconds() * float64(b.cfg.SampleRate) * 2)
	if retain > len(utterance) {
		retain = len(utterance)
	}
	tail := make([]byte, retain)
	copy(tail, utterance[len(utterance)-retain:])

	b.chunks = [][]byte{tail}
	b.bufferedBytes = len(tail)

	b.logger.Debug("Interim flush",
		zap.Int("bytes", len(utterance)),
		zap.Int("retainedBytes", len(tail)))
	if b.cb.OnUtterance != nil {
		b.cb.OnUtterance(utterance, false)
	}
}

func (b *Buffer) concat() []byte {
	out := make([]byte, 0, b.bufferedBytes)
	for _, c := range b.chunks {
		out = append(out, c...)
	}
	return out
}
