package game

import (
	"errors"

	"tabletop/internal/engine"
)

var (
	ErrUnknownGame = errors.New("unknown game")
	ErrPlayerCount = errors.New("wrong number of players")
)

// GameInfo describes a game type for the lobby.
type GameInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MinPlayers  int    `json:"minPlayers"`
	MaxPlayers  int    `json:"maxPlayers"`
}

// MatchConfig holds settings for creating a new match. A zero MatchID or Seed
// is generated.
type MatchConfig struct {
	MatchID   string
	PlayerIDs []string
	Seed      uint64
}

// PlayerResult holds the outcome for one player.
type PlayerResult struct {
	PlayerID string `json:"playerId"`
	Rank     int    `json:"rank"` // 1 = first place
	Score    int    `json:"score"`
}

// Outcome reports what happened to one command. Command carries the stamped
// command as accepted, for journaling.
type Outcome struct {
	Accepted bool             `json:"accepted"`
	Command  engine.Command   `json:"command"`
	Events   []engine.Event   `json:"events,omitempty"`
	Error    engine.ErrorCode `json:"error,omitempty"`
}

// Game describes a game type.
type Game interface {
	Info() GameInfo
	NewMatch(config MatchConfig) (Match, error)
}

// Match is one in-progress game session. Implementations serialize calls.
type Match interface {
	ID() string
	Config() MatchConfig
	// State is the snapshot sent to playerID; an empty id sees everything.
	State(playerID string) any
	LegalCommands(playerID string) []engine.Command
	Interactions(playerID string) engine.InteractionStack
	// EventsFor filters events down to what playerID may see.
	EventsFor(playerID string, events []engine.Event) []engine.Event
	// Apply runs a command. A rejection is reported in the Outcome; the
	// error is reserved for internal faults.
	Apply(cmd engine.Command) (Outcome, error)
	// Replay re-applies journaled commands, failing on the first rejection.
	Replay(cmds []engine.Command) error
	IsOver() bool
	Results() []PlayerResult
	// RematchReady reports that every player voted to play again.
	RematchReady() bool
	// Seq counts accepted commands.
	Seq() uint64
	// MarshalJSON / UnmarshalJSON support for persistence
	MarshalJSON() ([]byte, error)
	UnmarshalJSON(data []byte) error
}
