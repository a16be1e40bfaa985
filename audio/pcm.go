// Package audio holds the wire-level audio types that flow through a voice
// session: 16-bit mono PCM frames, their base64 transport encoding, and the
// conversions needed between capture devices, the Live service and
// telephone-grade mu-law streams.
package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// CaptureSampleRate is the rate the Live service accepts for user audio.
	CaptureSampleRate = 16000

	// PlaybackSampleRate is the rate the Live service emits synthesised audio at.
	PlaybackSampleRate = 24000

	// CaptureBufferSize is the number of samples per capture tick.
	CaptureBufferSize = 4096

	mimePrefix = "audio/pcm"
)

// ErrOddLength is returned when a PCM16 byte slice cannot hold whole samples.
var ErrOddLength = errors.New("audio: odd byte count in PCM16 data")

// Frame is a buffer of signed 16-bit mono PCM samples at SampleRate.
type Frame struct {
	Samples    []int16
	SampleRate int
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// Bytes returns the samples as little-endian PCM16.
func (f Frame) Bytes() []byte {
	out := make([]byte, len(f.Samples)*2)
	for i, s := range f.Samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// FrameFromBytes interprets b as little-endian PCM16 at rate.
func FrameFromBytes(b []byte, rate int) (Frame, error) {
	if len(b)%2 != 0 {
		return Frame{}, ErrOddLength
	}
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return Frame{Samples: samples, SampleRate: rate}, nil
}

// FrameFromFloat32 converts normalised [-1, 1] samples to PCM16, clamping
// values outside the range.
func FrameFromFloat32(samples []float32, rate int) Frame {
	out := make([]int16, len(samples))
	for i, v := range samples {
		scaled := float64(v) * 32768
		switch {
		case scaled > 32767:
			scaled = 32767
		case scaled < -32768:
			scaled = -32768
		}
		out[i] = int16(scaled)
	}
	return Frame{Samples: out, SampleRate: rate}
}

// Float32 returns the samples normalised to [-1, 1).
func (f Frame) Float32() []float32 {
	out := make([]float32, len(f.Samples))
	for i, s := range f.Samples {
		out[i] = float32(s) / 32768
	}
	return out
}

// Chunk is a base64-encoded PCM frame tagged with its MIME descriptor, the
// unit exchanged with the Live service.
type Chunk struct {
	Data     string
	MIMEType string
}

// MIMEType returns the descriptor for raw PCM at rate, e.g.
// "audio/pcm;rate=16000".
func MIMEType(rate int) string {
	return fmt.Sprintf("%s;rate=%d", mimePrefix, rate)
}

// RateFromMIME extracts the rate parameter from a PCM MIME descriptor. It
// returns fallback when the descriptor carries no usable rate.
func RateFromMIME(mime string, fallback int) int {
	for _, param := range strings.Split(mime, ";")[1:] {
		key, val, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || !strings.EqualFold(key, "rate") {
			continue
		}
		if rate, err := strconv.Atoi(val); err == nil && rate > 0 {
			return rate
		}
	}
	return fallback
}

// Encode wraps f into a transport chunk.
func Encode(f Frame) Chunk {
	return Chunk{
		Data:     base64.StdEncoding.EncodeToString(f.Bytes()),
		MIMEType: MIMEType(f.SampleRate),
	}
}

// Decode turns a base64 PCM16 payload back into a frame at rate.
func Decode(data string, rate int) (Frame, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return Frame{}, fmt.Errorf("audio: decode base64: %w", err)
	}
	f, err := FrameFromBytes(raw, rate)
	if err != nil {
		return Frame{}, fmt.Errorf("audio: decode pcm: %w", err)
	}
	return f, nil
}
