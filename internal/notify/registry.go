package notify

import (
	"encoding/json"
	"fmt"
)

// UnknownTypeError is returned when a stored message type has no payload shape.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string { return "Unknown message type: " + e.Type }

var registry = map[string]func() Payload{
	TypeShiftBroadcast:    func() Payload { return &ShiftBroadcast{} },
	TypeInviteNotice:      func() Payload { return &InviteNotice{} },
	TypeAdminInviteNotice: func() Payload { return &AdminInviteNotice{} },
	TypeClaimConfirmation: func() Payload { return &ClaimConfirmation{} },
	TypeShiftReopened:     func() Payload { return &ShiftReopened{} },
	TypeShiftCancelled:    func() Payload { return &ShiftCancelled{} },
}

// Known reports whether messageType has a registered payload shape.
func Known(messageType string) bool {
	_, ok := registry[messageType]
	return ok
}

// Encode serializes p for storage.
func Encode(p Payload) (string, []byte, error) {
	if p == nil {
		return "", nil, fmt.Errorf("nil payload")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", nil, fmt.Errorf("marshal %s payload: %w", p.MessageType(), err)
	}
	return p.MessageType(), data, nil
}

// Decode resolves messageType and deserializes raw into its payload shape.
func Decode(messageType string, raw []byte) (Payload, error) {
	ctor, ok := registry[messageType]
	if !ok {
		return nil, &UnknownTypeError{Type: messageType}
	}
	p := ctor()
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", messageType, err)
	}
	return deref(p), nil
}

func deref(p Payload) Payload {
	switch v := p.(type) {
	case *ShiftBroadcast:
		return *v
	case *InviteNotice:
		return *v
	case *AdminInviteNotice:
		return *v
	case *ClaimConfirmation:
		return *v
	case *ShiftReopened:
		return *v
	case *ShiftCancelled:
		return *v
	}
	return p
}
