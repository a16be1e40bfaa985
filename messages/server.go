package messages

import (
	"github.com/afsheen-enterprise/concierge/assistant"
	"github.com/afsheen-enterprise/concierge/geo"
	"github.com/afsheen-enterprise/concierge/mapsync"
)

// Error codes
const (
	ErrCodeInvalidMessage   = "INVALID_MESSAGE"
	ErrCodeGeminiError      = "GEMINI_ERROR"
	ErrCodeSessionFailed    = "SESSION_FAILED"
	ErrCodeConnectionClosed = "CONNECTION_CLOSED"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeVoiceError       = "VOICE_ERROR"
	ErrCodeSearchFailed     = "SEARCH_FAILED"
)

// Message types
const (
	TypeAudio        = "audio"
	TypeText         = "text"
	TypeStatus       = "status"
	TypeError        = "error"
	TypeMicRequest   = "mic_request"
	TypeStopAudio    = "stop_audio"
	TypeTranscript   = "transcript"
	TypeMap          = "map"
	TypeSearchResult = "search_result"
)

// Map operations
const (
	MapClear  = "clear"
	MapMarker = "marker"
	MapFit    = "fit"
	MapUser   = "user"
)

// ServerMessage represents a message sent to frontend client
type ServerMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Payload   any    `json:"payload"`
}

// AudioResponsePayload is one scheduled playback buffer. StartAt is the
// offset on the client's output clock, in milliseconds.
type AudioResponsePayload struct {
	ID       uint64  `json:"id"`
	Data     string  `json:"data"`     // Base64-encoded PCM audio
	MimeType string  `json:"mimeType"` // "audio/pcm;rate=24000"
	StartAt  float64 `json:"startAt"`
}

// StopAudioPayload cancels scheduled playback buffers.
type StopAudioPayload struct {
	IDs []uint64 `json:"ids"`
}

// TextResponsePayload contains text response
type TextResponsePayload struct {
	Text string `json:"text"`
}

// TranscriptPayload is a line of recognised speech.
type TranscriptPayload struct {
	Role string `json:"role"` // "user", "model"
	Text string `json:"text"`
}

// StatusPayload contains status updates
type StatusPayload struct {
	Status  string `json:"status"` // "connected", "voice_idle", "voice_connecting", "voice_active", "turn_complete", "pong"
	Message string `json:"message,omitempty"`
}

// ErrorPayload contains error information
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MapPayload is one map view command. Only the fields of its Op are set.
type MapPayload struct {
	Op       string            `json:"op"`
	Point    *geo.Point        `json:"point,omitempty"`
	Bounds   *geo.Bounds       `json:"bounds,omitempty"`
	Padding  int               `json:"padding,omitempty"`
	MaxZoom  int               `json:"maxZoom,omitempty"`
	Location *geo.LatLng       `json:"location,omitempty"`
	View     *mapsync.Viewport `json:"view,omitempty"`
}

// NewAudioMessage creates an audio response message
func NewAudioMessage(sessionID string, id uint64, data, mimeType string, startAt float64) *ServerMessage {
	return &ServerMessage{
		Type:      TypeAudio,
		SessionID: sessionID,
		Payload: AudioResponsePayload{
			ID:       id,
			Data:     data,
			MimeType: mimeType,
			StartAt:  startAt,
		},
	}
}

// NewStopAudioMessage creates a playback cancellation message
func NewStopAudioMessage(sessionID string, ids []uint64) *ServerMessage {
	return &ServerMessage{
		Type:      TypeStopAudio,
		SessionID: sessionID,
		Payload:   StopAudioPayload{IDs: ids},
	}
}

// NewMicRequestMessage asks the client for microphone access
func NewMicRequestMessage(sessionID string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeMicRequest,
		SessionID: sessionID,
		Payload:   struct{}{},
	}
}

// NewTextMessage creates a text response message
func NewTextMessage(sessionID, text string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeText,
		SessionID: sessionID,
		Payload: TextResponsePayload{
			Text: text,
		},
	}
}

// NewTranscriptMessage creates a transcript message
func NewTranscriptMessage(sessionID, role, text string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeTranscript,
		SessionID: sessionID,
		Payload:   TranscriptPayload{Role: role, Text: text},
	}
}

// NewStatusMessage creates a status message
func NewStatusMessage(sessionID, status, message string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeStatus,
		SessionID: sessionID,
		Payload: StatusPayload{
			Status:  status,
			Message: message,
		},
	}
}

// NewErrorMessage creates an error message
func NewErrorMessage(sessionID, code, message string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeError,
		SessionID: sessionID,
		Payload: ErrorPayload{
			Code:    code,
			Message: message,
		},
	}
}

// NewMapMessage creates a map command message
func NewMapMessage(sessionID string, payload MapPayload) *ServerMessage {
	return &ServerMessage{
		Type:      TypeMap,
		SessionID: sessionID,
		Payload:   payload,
	}
}

// NewSearchResultMessage carries a finished map search to the client
func NewSearchResultMessage(sessionID string, result assistant.PlaceResult) *ServerMessage {
	return &ServerMessage{
		Type:      TypeSearchResult,
		SessionID: sessionID,
		Payload:   result,
	}
}
