package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Incoming is one classified inbound message: exactly one of Event or
// Reply is meaningful.
type Incoming struct {
	Event   Event
	IsEvent bool
	Reply   Reply
}

// Classify splits a decoded frame payload into an event or a reply.
// Any JSON object with an "event" key is an event; everything else is a
// reply.
func Classify(raw json.RawMessage) (Incoming, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Incoming{Reply: NewReply(trimmed)}, nil
	}

	var probe struct {
		Event  json.RawMessage `json:"event"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return Incoming{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if isNull(probe.Event) {
		return Incoming{Reply: NewReply(trimmed)}, nil
	}

	var ev Event
	if err := json.Unmarshal(probe.Event, &ev.Name); err != nil {
		return Incoming{}, fmt.Errorf("%w: event name is not a string", ErrInvalidEvent)
	}
	if !isNull(probe.Params) {
		if err := json.Unmarshal(probe.Params, &ev.Params); err != nil {
			return Incoming{}, fmt.Errorf("%w: params is not an array", ErrInvalidEvent)
		}
	}
	return Incoming{Event: ev, IsEvent: true}, nil
}

func isNull(raw json.RawMessage) bool {
	b := bytes.TrimSpace(raw)
	return len(b) == 0 || bytes.Equal(b, []byte("null"))
}
