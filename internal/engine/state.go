package engine

import (
	"encoding/json"
	"maps"
	"slices"
)

// Core is the game-specific part of a match state. Clone must return a copy
// that shares no mutable memory with the receiver.
type Core[C any] interface {
	Clone() C
}

// State is a full match snapshot: system bookkeeping plus the game's core.
type State[C Core[C]] struct {
	Sys  SystemState `json:"sys"`
	Core C           `json:"core"`
}

// Clone deep-copies the state.
func (s State[C]) Clone() State[C] {
	return State[C]{Sys: s.Sys.Clone(), Core: s.Core.Clone()}
}

// GameOver describes a finished match.
type GameOver struct {
	Winner  PlayerID         `json:"winner,omitempty"`
	Winners []PlayerID       `json:"winners,omitempty"`
	Draw    bool             `json:"draw,omitempty"`
	Scores  map[PlayerID]int `json:"scores,omitempty"`
}

const schemaVersion = 1

// SystemState holds each system's namespaced sub-state.
type SystemState struct {
	SchemaVersion   int                          `json:"schemaVersion"`
	MatchID         string                       `json:"matchId,omitempty"`
	Players         []PlayerID                   `json:"players"`
	Phase           string                       `json:"phase"`
	ActivePlayer    PlayerID                     `json:"activePlayer,omitempty"`
	TurnNumber      int                          `json:"turnNumber"`
	NextSeq         uint64                       `json:"nextSeq"`
	NextInteraction int                          `json:"nextInteraction"`
	Interaction     InteractionStack             `json:"interaction"`
	Undo            UndoState                    `json:"undo"`
	ResponseWindow  ResponseWindowState          `json:"responseWindow"`
	Tokens          map[PlayerID]map[string]int  `json:"tokens,omitempty"`
	Tutorial        TutorialState                `json:"tutorial"`
	Selection       SelectionState               `json:"selection"`
	Rematch         RematchState                 `json:"rematch"`
	Gameover        *GameOver                    `json:"gameover,omitempty"`
}

// Clone deep-copies the system state. Tutorial steps and undo snapshots are
// never mutated in place and are shared.
func (s SystemState) Clone() SystemState {
	out := s
	out.Players = slices.Clone(s.Players)
	out.Interaction = s.Interaction.Clone()
	out.Undo = s.Undo.clone()
	out.ResponseWindow = s.ResponseWindow.clone()
	if s.Tokens != nil {
		out.Tokens = make(map[PlayerID]map[string]int, len(s.Tokens))
		for p, bag := range s.Tokens {
			out.Tokens[p] = maps.Clone(bag)
		}
	}
	out.Tutorial = s.Tutorial.clone()
	out.Selection = s.Selection.clone()
	out.Rematch = s.Rematch.clone()
	if s.Gameover != nil {
		g := *s.Gameover
		g.Winners = slices.Clone(g.Winners)
		g.Scores = maps.Clone(g.Scores)
		out.Gameover = &g
	}
	return out
}

// HasPlayer reports whether id is seated in the match.
func (s SystemState) HasPlayer(id PlayerID) bool { return slices.Contains(s.Players, id) }

// Opponents returns every player except id, in seat order.
func (s SystemState) Opponents(id PlayerID) []PlayerID {
	out := make([]PlayerID, 0, len(s.Players))
	for _, p := range s.Players {
		if p != id {
			out = append(out, p)
		}
	}
	return out
}

// UndoRequest is a pending request to roll back the last snapshot.
type UndoRequest struct {
	Requester PlayerID   `json:"requester"`
	Approvals []PlayerID `json:"approvals"`
	Required  int        `json:"required"`
}

// UndoState holds encoded snapshots taken at action boundaries.
type UndoState struct {
	Snapshots []json.RawMessage `json:"snapshots,omitempty"`
	Max       int               `json:"max"`
	Pending   *UndoRequest      `json:"pending,omitempty"`
}

func (u UndoState) clone() UndoState {
	out := u
	out.Snapshots = slices.Clone(u.Snapshots)
	if u.Pending != nil {
		p := *u.Pending
		p.Approvals = slices.Clone(p.Approvals)
		out.Pending = &p
	}
	return out
}

// ResponseWindow offers reactive choices to a queue of responders.
type ResponseWindow struct {
	ID         string     `json:"id"`
	Kind       string     `json:"kind"`
	SourceID   string     `json:"sourceId,omitempty"`
	Responders []PlayerID `json:"responders"`
	Index      int        `json:"index"`
	Passed     []PlayerID `json:"passed,omitempty"`
	Responded  []PlayerID `json:"responded,omitempty"`
	// Pending is the responder's interaction the window waits on before it
	// moves to the next responder.
	Pending string `json:"pending,omitempty"`
}

// Responder returns the player currently allowed to respond.
func (w *ResponseWindow) Responder() PlayerID {
	if w == nil || w.Index >= len(w.Responders) {
		return ""
	}
	return w.Responders[w.Index]
}

// ResponseWindowState holds the open window, if any.
type ResponseWindowState struct {
	Current *ResponseWindow `json:"current,omitempty"`
}

func (r ResponseWindowState) clone() ResponseWindowState {
	if r.Current == nil {
		return r
	}
	w := *r.Current
	w.Responders = slices.Clone(w.Responders)
	w.Passed = slices.Clone(w.Passed)
	w.Responded = slices.Clone(w.Responded)
	return ResponseWindowState{Current: &w}
}

// EventMatcher matches an event type and, optionally, payload fields.
type EventMatcher struct {
	Type  string         `json:"type"`
	Match map[string]any `json:"match,omitempty"`
}

// Matches reports whether ev satisfies the matcher. Payload fields compare by
// their JSON encoding so 4 and 4.0 are equal.
func (m EventMatcher) Matches(ev Event) bool {
	if ev.Type != m.Type {
		return false
	}
	if len(m.Match) == 0 {
		return true
	}
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return false
	}
	for k, want := range m.Match {
		got, ok := payload[k]
		if !ok {
			return false
		}
		var g any
		if err := json.Unmarshal(got, &g); err != nil {
			return false
		}
		wb, err1 := json.Marshal(want)
		gb, err2 := json.Marshal(g)
		if err1 != nil || err2 != nil || string(wb) != string(gb) {
			return false
		}
	}
	return true
}

// TutorialStep is one scripted step.
type TutorialStep struct {
	ID              string         `json:"id"`
	AllowedCommands []string       `json:"allowedCommands,omitempty"`
	BlockedCommands []string       `json:"blockedCommands,omitempty"`
	AdvanceOn       []EventMatcher `json:"advanceOn,omitempty"`
	RequireAction   bool           `json:"requireAction,omitempty"`
	AllowManualSkip *bool          `json:"allowManualSkip,omitempty"`
	RandomPolicy    *RandomPolicy  `json:"randomPolicy,omitempty"`
}

// TutorialManifest is a full tutorial script.
type TutorialManifest struct {
	ID              string         `json:"id"`
	Steps           []TutorialStep `json:"steps"`
	AllowManualSkip *bool          `json:"allowManualSkip,omitempty"`
	RandomPolicy    *RandomPolicy  `json:"randomPolicy,omitempty"`
}

// TutorialState tracks the running tutorial.
type TutorialState struct {
	Active                  bool           `json:"active"`
	ManifestID              string         `json:"manifestId,omitempty"`
	StepIndex               int            `json:"stepIndex"`
	Steps                   []TutorialStep `json:"steps,omitempty"`
	ManifestAllowManualSkip *bool          `json:"manifestAllowManualSkip,omitempty"`
	ManifestRandomPolicy    *RandomPolicy  `json:"manifestRandomPolicy,omitempty"`
	RandomPolicy            *RandomPolicy  `json:"randomPolicy,omitempty"`
	AllowManualSkip         bool           `json:"allowManualSkip"`
}

// Step returns the active step, or nil.
func (t TutorialState) Step() *TutorialStep {
	if !t.Active || t.StepIndex < 0 || t.StepIndex >= len(t.Steps) {
		return nil
	}
	return &t.Steps[t.StepIndex]
}

func (t TutorialState) clone() TutorialState {
	out := t
	if t.RandomPolicy != nil {
		p := *t.RandomPolicy
		out.RandomPolicy = &p
	}
	return out
}

// SelectionState is the pre-game character selection record.
type SelectionState struct {
	Enabled  bool                `json:"enabled,omitempty"`
	Selected map[PlayerID]string `json:"selected,omitempty"`
	Ready    map[PlayerID]bool   `json:"ready,omitempty"`
	Host     PlayerID            `json:"host,omitempty"`
	Started  bool                `json:"started,omitempty"`
}

func (s SelectionState) clone() SelectionState {
	out := s
	out.Selected = maps.Clone(s.Selected)
	out.Ready = maps.Clone(s.Ready)
	return out
}

// RematchState records post-game votes.
type RematchState struct {
	Votes map[PlayerID]bool `json:"votes,omitempty"`
	Ready bool              `json:"ready"`
}

func (r RematchState) clone() RematchState {
	out := r
	out.Votes = maps.Clone(r.Votes)
	return out
}
