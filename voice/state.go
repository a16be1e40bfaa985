// Package voice runs a duplex voice conversation with a remote Live model.
//
// A Session captures microphone audio, streams it to the remote side in
// fixed-size chunks and plays the synthesised replies back gaplessly. When
// the remote side reports that the user started talking over the reply
// (barge-in), everything still playing is cut off at once.
//
// Audio hardware and the network are reached only through the Device and
// Connector interfaces, so the same state machine serves a browser over
// WebSocket, a phone call, or a test fake.
package voice

import (
	"errors"
	"fmt"
)

// State is the lifecycle position of a Session.
type State int32

const (
	// Idle holds no resources. Start is only accepted here.
	Idle State = iota
	// Connecting is acquiring the microphone, audio contexts and the remote
	// session.
	Connecting
	// Active is streaming in both directions.
	Active
	// Closing is releasing resources on the way back to Idle.
	Closing
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Active:
		return "active"
	case Closing:
		return "closing"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

var (
	// ErrPermissionDenied is returned when microphone access is refused or no
	// capture device exists.
	ErrPermissionDenied = errors.New("voice: microphone permission denied")

	// ErrSessionOpen is returned when the audio contexts or the remote session
	// cannot be opened.
	ErrSessionOpen = errors.New("voice: failed to open session")

	// ErrSessionRuntime reports a remote error or a failed send on an active
	// session. The session is torn down.
	ErrSessionRuntime = errors.New("voice: session runtime error")

	// ErrDecode reports an inbound audio chunk that could not be decoded. The
	// session is torn down.
	ErrDecode = errors.New("voice: audio decode failed")

	// ErrTimeout is returned when permission or handshake take longer than
	// allowed.
	ErrTimeout = errors.New("voice: start timed out")

	// ErrAlreadyStarted is returned by Start on a session that is not Idle.
	ErrAlreadyStarted = errors.New("voice: session already started")

	// ErrStopped is returned by a Start that was cancelled by Stop.
	ErrStopped = errors.New("voice: session stopped")

	errRemoteClosed = errors.New("remote closed the session")
)

// errorKind names err for metrics.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrDecode):
		return "decode"
	case errors.Is(err, ErrSessionOpen):
		return "session_open"
	case errors.Is(err, ErrSessionRuntime):
		return "runtime"
	case errors.Is(err, ErrStopped):
		return "stopped"
	default:
		return "unknown"
	}
}
