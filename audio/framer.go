package audio

import (
	"sync"
	"sync/atomic"
)

// FramerConfig tunes the client-side framing and energy gate.
type FramerConfig struct {
	// FrameSamples is the fixed payload size per frame. Defaults to
	// DefaultFrameSamples.
	FrameSamples int

	// SampleRate of the inbound sample stream. Defaults to
	// DefaultSampleRate. Only used to derive frame timestamps.
	SampleRate int

	// GateThreshold is the mean-absolute-amplitude threshold (int16
	// domain) below which a full frame is dropped instead of transmitted.
	// Zero disables the gate.
	GateThreshold float64
}

// Framer batches a live microphone sample stream into fixed-size,
// energy-gated wire frames. It is not safe for concurrent Push calls; the
// capture path is a single producer.
//
// Encode buffers are pooled per framer instance. The sink must not retain
// the frame slice after returning; it is reused for later frames.
type Framer struct {
	cfg  FramerConfig
	sink func(frame []byte) error

	buf      []int16
	filled   int
	consumed uint64 // total samples accepted, drives frame timestamps

	playbackActive atomic.Bool
	closed         bool

	pool sync.Pool
}

// NewFramer creates a framer delivering encoded frames to sink.
func NewFramer(cfg FramerConfig, sink func(frame []byte) error) *Framer {
	if cfg.FrameSamples <= 0 {
		cfg.FrameSamples = DefaultFrameSamples
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	f := &Framer{
		cfg:  cfg,
		sink: sink,
		buf:  make([]int16, cfg.FrameSamples),
	}
	f.pool.New = func() any {
		b := make([]byte, EncodedSize(cfg.FrameSamples))
		return &b
	}
	return f
}

// SetPlaybackActive records whether synthesized audio is currently audible.
// The flag is stamped into the header of every frame captured while set, so
// the server can detect barge-in.
func (f *Framer) SetPlaybackActive(active bool) {
	f.playbackActive.Store(active)
}

// Push accumulates captured samples, emitting a frame each time the buffer
// reaches the configured size. Frames whose mean absolute amplitude is at or
// below the gate threshold are dropped silently.
func (f *Framer) Push(samples []int16) error {
	for len(samples) > 0 {
		n := copy(f.buf[f.filled:], samples)
		f.filled += n
		f.consumed += uint64(n)
		samples = samples[n:]

		if f.filled == f.cfg.FrameSamples {
			if err := f.emit(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close flushes any short remainder, zero-padded to a full frame and
// evaluated exactly like a full frame. Push must not be called after Close.
func (f *Framer) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true

	if f.filled == 0 {
		return nil
	}
	// Account for the padding in the timestamp so it still marks the
	// frame's capture end-time.
	pad := f.cfg.FrameSamples - f.filled
	for i := f.filled; i < f.cfg.FrameSamples; i++ {
		f.buf[i] = 0
	}
	f.filled = f.cfg.FrameSamples
	f.consumed += uint64(pad)
	return f.emit()
}

func (f *Framer) emit() error {
	defer func() { f.filled = 0 }()

	if f.cfg.GateThreshold > 0 && MeanAbsAmplitude(f.buf) <= f.cfg.GateThreshold {
		return nil
	}

	var flags uint32
	if f.playbackActive.Load() {
		flags |= FlagPlaybackActive
	}
	frame := &Frame{
		Timestamp: f.captureEndMillis(),
		Flags:     flags,
		Samples:   f.buf,
	}

	bp := f.pool.Get().(*[]byte)
	frame.Encode(*bp)
	err := f.sink(*bp)
	f.pool.Put(bp)
	return err
}

func (f *Framer) captureEndMillis() uint32 {
	return uint32(f.consumed * 1000 / uint64(f.cfg.SampleRate))
}
