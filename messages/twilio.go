package messages

// Twilio media stream events
const (
	TwilioConnected = "connected"
	TwilioStart     = "start"
	TwilioMedia     = "media"
	TwilioStop      = "stop"
	TwilioMark      = "mark"
	TwilioClear     = "clear"
)

type Media struct {
	Payload string `json:"payload"` // Base64-encoded mu-law audio data
}

// TwilioEvent is one inbound frame of a Twilio media stream.
type TwilioEvent struct {
	Event     string           `json:"event"`
	StreamSid string           `json:"streamSid,omitempty"`
	Start     *TwilioStartData `json:"start,omitempty"`
	Media     *Media           `json:"media,omitempty"`
}

// TwilioStartData describes the stream on the "start" event.
type TwilioStartData struct {
	StreamSid string `json:"streamSid"`
	CallSid   string `json:"callSid"`
}

type TwilioMessageBack struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
	Media     *Media `json:"media,omitempty"`
}

func NewTwilioMessageBack(streamSid string, data string) *TwilioMessageBack {
	return &TwilioMessageBack{
		Event:     TwilioMedia,
		StreamSid: streamSid,
		Media:     &Media{Payload: data},
	}
}

// NewTwilioClear drops every buffered outbound media frame on the call.
func NewTwilioClear(streamSid string) *TwilioMessageBack {
	return &TwilioMessageBack{
		Event:     TwilioClear,
		StreamSid: streamSid,
	}
}
