package engine

import (
	"encoding/json"
	"fmt"
	"slices"
)

// Option is one answer a player may give to an interaction.
type Option struct {
	ID       string          `json:"id"`
	Label    string          `json:"label"`
	Value    json.RawMessage `json:"value,omitempty"`
	Disabled bool            `json:"disabled,omitempty"`
}

// Descriptor is a pending player decision.
type Descriptor struct {
	ID          string   `json:"id"`
	SourceID    string   `json:"sourceId"`
	PlayerID    PlayerID `json:"playerId"`
	Kind        string   `json:"kind"`
	Options     []Option `json:"options"`
	ResolverKey string   `json:"resolverKey"`
	// Min and Max bound a multi-select; zero Max means single choice.
	Min         int  `json:"min,omitempty"`
	Max         int  `json:"max,omitempty"`
	Cancellable bool `json:"cancellable,omitempty"`
	// RefreshKey names the Refresher that rebuilds Options from the latest
	// state once the descriptor is current.
	RefreshKey string `json:"refreshKey,omitempty"`
	// AutoResolve answers the interaction for the player when exactly one
	// option is enabled.
	AutoResolve bool `json:"autoResolve,omitempty"`
	// EventSeq is the event that raised the interaction, if any.
	EventSeq uint64          `json:"eventSeq,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// Option looks up an option by id.
func (d Descriptor) Option(id string) (Option, bool) {
	for _, o := range d.Options {
		if o.ID == id {
			return o, true
		}
	}
	return Option{}, false
}

// Enabled returns the ids of the options that may be chosen.
func (d Descriptor) Enabled() []string {
	var ids []string
	for _, o := range d.Options {
		if !o.Disabled {
			ids = append(ids, o.ID)
		}
	}
	return ids
}

func (d Descriptor) clone() Descriptor {
	d.Options = slices.Clone(d.Options)
	return d
}

// InteractionStack serializes pending decisions: one current, the rest queued
// in discovery order.
type InteractionStack struct {
	Current *Descriptor  `json:"current,omitempty"`
	Queue   []Descriptor `json:"queue"`
}

// Pending reports whether a decision is outstanding.
func (s InteractionStack) Pending() bool { return s.Current != nil }

// Len counts current plus queued interactions.
func (s InteractionStack) Len() int {
	if s.Current == nil {
		return len(s.Queue)
	}
	return len(s.Queue) + 1
}

// All returns current followed by the queue.
func (s InteractionStack) All() []Descriptor {
	out := make([]Descriptor, 0, s.Len())
	if s.Current != nil {
		out = append(out, *s.Current)
	}
	return append(out, s.Queue...)
}

// Clone deep-copies the stack.
func (s InteractionStack) Clone() InteractionStack {
	var out InteractionStack
	if s.Queue != nil {
		out.Queue = make([]Descriptor, 0, len(s.Queue))
	}
	if s.Current != nil {
		c := s.Current.clone()
		out.Current = &c
	}
	for _, d := range s.Queue {
		out.Queue = append(out.Queue, d.clone())
	}
	return out
}

// Push makes d current if nothing is pending, otherwise appends it.
func (s InteractionStack) Push(d Descriptor) InteractionStack {
	out := s.Clone()
	if out.Current == nil {
		out.Current = &d
		return out
	}
	out.Queue = append(out.Queue, d)
	return out
}

// Advance drops current and promotes the head of the queue.
func (s InteractionStack) Advance() InteractionStack {
	out := s.Clone()
	if len(out.Queue) == 0 {
		out.Current = nil
		return out
	}
	next := out.Queue[0]
	out.Current = &next
	out.Queue = out.Queue[1:]
	return out
}

// ForPlayer keeps only the interactions owned by id.
func (s InteractionStack) ForPlayer(id PlayerID) InteractionStack {
	out := InteractionStack{Queue: []Descriptor{}}
	if s.Current != nil && s.Current.PlayerID == id {
		c := s.Current.clone()
		out.Current = &c
	}
	for _, d := range s.Queue {
		if d.PlayerID == id {
			out.Queue = append(out.Queue, d.clone())
		}
	}
	return out
}

// Enqueue assigns d an id when it has none and pushes it onto the stack.
func (s *SystemState) Enqueue(d Descriptor) Descriptor {
	if d.ID == "" {
		s.NextInteraction++
		d.ID = fmt.Sprintf("ix-%d", s.NextInteraction)
	}
	s.Interaction = s.Interaction.Push(d)
	return d
}

// Choice is a player's answer handed to a resolver.
type Choice struct {
	Interaction Descriptor        `json:"interaction"`
	OptionIDs   []string          `json:"optionIds,omitempty"`
	Values      []json.RawMessage `json:"values,omitempty"`
	Cancelled   bool              `json:"cancelled,omitempty"`
	Expired     bool              `json:"expired,omitempty"`
}

// First returns the first chosen option id.
func (c Choice) First() string {
	if len(c.OptionIDs) == 0 {
		return ""
	}
	return c.OptionIDs[0]
}
