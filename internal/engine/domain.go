package engine

// Domain is a game's rule set. Every method is pure: no I/O, no ambient
// randomness, no retained state between calls.
type Domain[C Core[C]] interface {
	// ID names the rule set.
	ID() string
	// Setup builds the initial core for the seated players.
	Setup(players []PlayerID, rnd Random) C
	// Validate never mutates and reports expected misuse as a code.
	Validate(state State[C], cmd Command) ValidationResult
	// Execute turns a validated command into events. It is the only place
	// rule code may draw from rnd.
	Execute(state State[C], cmd Command, rnd Random) ([]Event, error)
	// Reduce applies one non-system event and returns the next core.
	Reduce(core C, ev Event) (C, error)
	// IsGameOver reports a finished match, or nil.
	IsGameOver(core C) *GameOver
}

// Trigger names a reactive hook that wants to see an event. SourceID is the
// card, unit or base owning the ability.
type Trigger struct {
	SourceID string `json:"sourceId"`
	HookKey  string `json:"hookKey"`
}

// Triggerer is implemented by domains with reactive abilities.
type Triggerer[C Core[C]] interface {
	Triggers(state State[C], ev Event) []Trigger
}

// Viewer is implemented by domains that hide information from some players.
type Viewer[C Core[C]] interface {
	PlayerView(state State[C], player PlayerID) any
}

// EventViewer is implemented by domains whose events carry hidden
// information. ViewEvent returns ev as player may see it, or false to drop it.
type EventViewer[C Core[C]] interface {
	ViewEvent(state State[C], player PlayerID, ev Event) (Event, bool)
}

// ViewEvents filters events for player through d when it is an EventViewer.
// An empty player sees everything.
func ViewEvents[C Core[C]](d Domain[C], state State[C], player PlayerID, events []Event) []Event {
	ev, ok := d.(EventViewer[C])
	if !ok || player == "" {
		return events
	}
	out := make([]Event, 0, len(events))
	for _, e := range events {
		if v, keep := ev.ViewEvent(state, player, e); keep {
			out = append(out, v)
		}
	}
	return out
}

// CommandLister is implemented by domains that can enumerate legal commands.
type CommandLister[C Core[C]] interface {
	LegalCommands(state State[C], player PlayerID) []Command
}

// Replay folds events onto core in order. System events are skipped.
func Replay[C Core[C]](d Domain[C], core C, events []Event) (C, error) {
	out := core.Clone()
	for _, ev := range events {
		if ev.IsSystem() {
			continue
		}
		next, err := d.Reduce(out, ev)
		if err != nil {
			return core, err
		}
		out = next
	}
	return out, nil
}
