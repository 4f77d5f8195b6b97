package protocol

import (
	"fmt"

	"github.com/bytedance/sonic"

	"stride/core"
)

// EncodeControl serializes an outbound control message.
func EncodeControl(msg interface{}) ([]byte, error) {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal control message: %w", err)
	}
	return data, nil
}

// DecodeEvent parses an inbound structured frame. Parse failures and frames
// without a type wrap core.ErrMalformedMessage.
func DecodeEvent(data []byte) (Event, error) {
	var ev Event
	if err := sonic.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("protocol: unmarshal event: %w: %v", core.ErrMalformedMessage, err)
	}
	if ev.Type == "" {
		return Event{}, fmt.Errorf("protocol: event missing type field: %w", core.ErrMalformedMessage)
	}
	return ev, nil
}
