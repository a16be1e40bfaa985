package voice

import (
	"context"
	"time"

	"github.com/afsheen-enterprise/concierge/audio"
)

// Device gives a session access to audio hardware.
type Device interface {
	// RequestMicrophone asks for capture access. It may block until the user
	// answers; it must return when ctx is done. Any error is treated as a
	// denial.
	RequestMicrophone(ctx context.Context) (Microphone, error)

	// OpenInput creates the capture context running at sampleRate.
	OpenInput(ctx context.Context, sampleRate int) (Input, error)

	// OpenOutput creates the playback context running at sampleRate.
	OpenOutput(ctx context.Context, sampleRate int) (Output, error)
}

// Microphone is a granted capture stream.
type Microphone interface {
	Release() error
}

// Input is a capture context.
type Input interface {
	// Tap starts delivering microphone audio to fn, bufferSize samples per
	// call, until Close. fn may be called from any goroutine but never
	// concurrently with itself.
	Tap(mic Microphone, bufferSize int, fn func(audio.Frame)) error
	Close() error
}

// Output is a playback context with its own monotonic clock.
type Output interface {
	// Clock returns the current playback time.
	Clock() time.Duration

	// Play schedules f to start at the given playback time. ended is called
	// once when the source finishes naturally or is stopped. It may be called
	// from any goroutine, including synchronously from Play or Stop.
	Play(f audio.Frame, at time.Duration, ended func()) (Source, error)

	Close() error
}

// Source is one scheduled playback buffer.
type Source interface {
	Stop()
}

// Role tells who spoke a transcript line.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Transcript is a line of recognised speech.
type Transcript struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Handlers are the events a remote session delivers. A Connector may call
// them from any goroutine; unset fields are never called by Session.
type Handlers struct {
	// OnOpen reports that the remote session is ready for audio.
	OnOpen func()
	// OnAudio delivers one base64 PCM16 chunk with its MIME descriptor.
	OnAudio func(data, mimeType string)
	// OnInterrupted reports that the user barged in.
	OnInterrupted func()
	// OnTranscript delivers recognised speech for either side.
	OnTranscript func(Transcript)
	// OnTurnComplete reports the end of a model turn.
	OnTurnComplete func()
	// OnError reports a transport or protocol failure.
	OnError func(error)
	// OnClose reports an orderly close by the remote side.
	OnClose func()
}

// Connector opens remote sessions. ctx bounds the handshake only; the
// returned Remote lives until Close.
type Connector interface {
	Connect(ctx context.Context, h Handlers) (Remote, error)
}

// Remote is an open remote session.
type Remote interface {
	// Send streams one captured chunk. It must be safe to call concurrently
	// with Close.
	Send(chunk audio.Chunk) error
	Close() error
}
