// Package engine is the deterministic rules core shared by every game: the
// command pipeline, the event reducer with its trigger cascade, and the
// interaction stack.
package engine

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PlayerID identifies a seat in a match.
type PlayerID = string

// SysPrefix marks commands and events owned by the systems layer.
const SysPrefix = "SYS_"

// Command is a player- or system-issued request to change state.
type Command struct {
	Type      string          `json:"type"`
	PlayerID  PlayerID        `json:"playerId"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// NewCommand builds a command with a JSON-encoded payload.
func NewCommand(typ string, player PlayerID, payload any) Command {
	return Command{Type: typ, PlayerID: player, Payload: mustRaw(payload)}
}

// Decode unmarshals the payload into v. An empty payload leaves v untouched.
func (c Command) Decode(v any) error {
	if len(c.Payload) == 0 || string(c.Payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(c.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", c.Type, err)
	}
	return nil
}

// IsSystem reports whether the command belongs to the systems layer.
func (c Command) IsSystem() bool { return strings.HasPrefix(c.Type, SysPrefix) }

// Event is the sole record of a state change.
type Event struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
	// Seq is assigned by the reducer and is unique within a match.
	Seq uint64 `json:"seq,omitempty"`
}

// NewEvent builds an event with a JSON-encoded payload. It panics if the
// payload cannot be encoded; the pipeline turns that into a command fault.
func NewEvent(typ string, payload any, ts int64) Event {
	return Event{Type: typ, Payload: mustRaw(payload), Timestamp: ts}
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// IsSystem reports whether the event belongs to the systems layer.
func (e Event) IsSystem() bool { return strings.HasPrefix(e.Type, SysPrefix) }

func mustRaw(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw
	}
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("encode payload %T: %v", v, err))
	}
	return b
}
