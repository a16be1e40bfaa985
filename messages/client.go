package messages

import "encoding/json"

// Client message types
const (
	TypeControl  = "control"
	TypeMic      = "mic"
	TypeChat     = "chat"
	TypeSearch   = "search"
	TypeLocation = "location"
)

// Control actions
const (
	ActionPing       = "ping"
	ActionStartVoice = "start_voice"
	ActionStopVoice  = "stop_voice"
)

// ClientMessage represents a text frame from the frontend client. Captured
// microphone audio travels separately as binary PCM16LE frames.
type ClientMessage struct {
	Type    string          `json:"type"` // "control", "mic", "chat", "search", "location"
	Payload json.RawMessage `json:"payload"`
}

// ControlPayload contains control commands
type ControlPayload struct {
	Action   string `json:"action"`             // "ping", "start_voice", "stop_voice"
	Language string `json:"language,omitempty"` // voice reply language, start_voice only
}

// MicPayload answers a mic_request. SampleRate is the rate of the binary
// frames that follow.
type MicPayload struct {
	Granted    bool   `json:"granted"`
	SampleRate int    `json:"sampleRate,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// ChatPayload is a typed consultation question.
type ChatPayload struct {
	Text string `json:"text"`
}

// SearchPayload is a map search. Lat and Lng bias the search when both are set.
type SearchPayload struct {
	Query string   `json:"query"`
	Lat   *float64 `json:"lat,omitempty"`
	Lng   *float64 `json:"lng,omitempty"`
}

// LocationPayload is the user's own position.
type LocationPayload struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}
