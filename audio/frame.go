package audio

import (
	"encoding/binary"
	"fmt"
)

// Wire format constants. A frame is an 8-byte header followed by a fixed
// number of 16-bit PCM samples. Header fields are big-endian, samples are
// little-endian.
const (
	HeaderSize = 8

	// DefaultFrameSamples is 100ms of audio at the default sample rate.
	DefaultFrameSamples = 2400

	// DefaultSampleRate is the PCM sample rate used end to end.
	DefaultSampleRate = 24000

	bytesPerSample = 2
)

// Header flag bits.
const (
	// FlagPlaybackActive is set when synthesized audio was audible on the
	// client at capture time. The server uses it for barge-in detection.
	FlagPlaybackActive uint32 = 1 << 0
)

// FramingError reports a malformed frame. The frame is dropped; the session
// keeps running.
type FramingError struct {
	Size     int
	Expected int
	Reason   string
}

func (e *FramingError) Error() string {
	if e.Expected > 0 {
		return fmt.Sprintf("malformed audio frame: %s (got %d bytes, expected %d)", e.Reason, e.Size, e.Expected)
	}
	return fmt.Sprintf("malformed audio frame: %s (got %d bytes)", e.Reason, e.Size)
}

// Frame is one fixed-size unit of captured audio.
type Frame struct {
	// Timestamp is the capture end-time in milliseconds since the capture
	// stream started.
	Timestamp uint32

	// Flags is the header bitfield, see Flag* constants.
	Flags uint32

	// Samples holds exactly the configured number of 16-bit PCM samples.
	// Short final frames are zero-padded before encoding.
	Samples []int16
}

// PlaybackActive reports whether the playback-active flag bit is set.
func (f *Frame) PlaybackActive() bool {
	return f.Flags&FlagPlaybackActive != 0
}

// EncodedSize returns the wire size of a frame carrying n samples.
func EncodedSize(n int) int {
	return HeaderSize + n*bytesPerSample
}

// Encode serializes the frame into dst, which must be at least
// EncodedSize(len(f.Samples)) bytes. It returns the number of bytes written.
func (f *Frame) Encode(dst []byte) int {
	binary.BigEndian.PutUint32(dst[0:4], f.Timestamp)
	binary.BigEndian.PutUint32(dst[4:8], f.Flags)
	off := HeaderSize
	for _, s := range f.Samples {
		binary.LittleEndian.PutUint16(dst[off:off+2], uint16(s))
		off += 2
	}
	return off
}

// EncodeFrame serializes the frame into a freshly allocated buffer.
func EncodeFrame(f *Frame) []byte {
	buf := make([]byte, EncodedSize(len(f.Samples)))
	f.Encode(buf)
	return buf
}

// DecodeFrame parses a wire frame carrying exactly frameSamples samples.
// Frames whose total length does not equal header plus payload size are
// rejected with a FramingError, never partially processed.
func DecodeFrame(data []byte, frameSamples int) (*Frame, error) {
	if len(data) < HeaderSize {
		return nil, &FramingError{Size: len(data), Expected: EncodedSize(frameSamples), Reason: "truncated header"}
	}
	if len(data) != EncodedSize(frameSamples) {
		return nil, &FramingError{Size: len(data), Expected: EncodedSize(frameSamples), Reason: "unexpected payload length"}
	}

	f := &Frame{
		Timestamp: binary.BigEndian.Uint32(data[0:4]),
		Flags:     binary.BigEndian.Uint32(data[4:8]),
		Samples:   make([]int16, frameSamples),
	}
	off := HeaderSize
	for i := range f.Samples {
		f.Samples[i] = int16(binary.LittleEndian.Uint16(data[off : off+2]))
		off += 2
	}
	return f, nil
}

// PCMBytes returns the frame payload as raw little-endian PCM bytes.
func (f *Frame) PCMBytes() []byte {
	out := make([]byte, len(f.Samples)*bytesPerSample)
	for i, s := range f.Samples {
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], uint16(s))
	}
	return out
}
