package protocol

import (
	"fmt"

	"outpost.client/internal/codec"
)

const Version = "1.0"

// Type is the frame type discriminant.
type Type uint16

// Message types.
const (
	TypePing      Type = 1
	TypePong      Type = 2
	TypeJoin      Type = 3
	TypeJoined    Type = 4
	TypeStay      Type = 5
	TypeLeave     Type = 6
	TypeGamestate Type = 7
	TypeMove      Type = 8
	TypeBuild     Type = 9
	TypeRepair    Type = 10
	TypeUse       Type = 11
)

var typeNames = map[Type]string{
	TypePing:      "ping",
	TypePong:      "pong",
	TypeJoin:      "join",
	TypeJoined:    "joined",
	TypeStay:      "stay",
	TypeLeave:     "leave",
	TypeGamestate: "gamestate",
	TypeMove:      "move",
	TypeBuild:     "build",
	TypeRepair:    "repair",
	TypeUse:       "use",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("type(%d)", uint16(t))
}

// Known reports whether t is a message type this client understands.
func (t Type) Known() bool {
	_, ok := typeNames[t]
	return ok
}

// ParseType maps a name like "gamestate" back to its Type.
func ParseType(name string) (Type, bool) {
	for t, s := range typeNames {
		if s == name {
			return t, true
		}
	}
	return 0, false
}

// Message is one decoded frame. Payload holds the serialized attribute map;
// its schema depends on Type.
type Message struct {
	Type    Type
	Payload []byte
}

// NewMessage serializes v as the payload of a message of type t.
func NewMessage(t Type, v any) (Message, error) {
	b, err := codec.Marshal(v)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s: %w", t, err)
	}
	return Message{Type: t, Payload: b}, nil
}

// Decode deserializes the payload into v.
func (m Message) Decode(v any) error {
	if err := codec.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s: %w", m.Type, err)
	}
	return nil
}

// Attrs decodes the payload as an untyped attribute map.
func (m Message) Attrs() (map[string]any, error) {
	var out map[string]any
	if err := m.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
