package messages

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

// ErrMissingType is returned for a client frame without a type.
var ErrMissingType = errors.New("messages: missing type")

// Encode serialises an outbound message.
func Encode(msg any) ([]byte, error) {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("messages: encode: %w", err)
	}
	return data, nil
}

// DecodeClient parses a text frame from a browser or CLI client.
func DecodeClient(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("messages: decode client message: %w", err)
	}
	if msg.Type == "" {
		return nil, ErrMissingType
	}
	return &msg, nil
}

// DecodePayload parses msg's payload into v.
func DecodePayload(msg *ClientMessage, v any) error {
	if len(msg.Payload) == 0 {
		return fmt.Errorf("messages: %s: empty payload", msg.Type)
	}
	if err := sonic.Unmarshal(msg.Payload, v); err != nil {
		return fmt.Errorf("messages: %s payload: %w", msg.Type, err)
	}
	return nil
}

// DecodeTwilio parses one Twilio media stream frame.
func DecodeTwilio(data []byte) (*TwilioEvent, error) {
	var ev TwilioEvent
	if err := sonic.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("messages: decode twilio event: %w", err)
	}
	if ev.Event == "" {
		return nil, ErrMissingType
	}
	return &ev, nil
}
