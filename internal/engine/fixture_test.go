package engine

import (
	"errors"
	"maps"
	"slices"
)

// arena is a tiny rule set used to drive the pipeline in tests.
type arena struct {
	Counter int               `json:"counter"`
	Rolls   []int             `json:"rolls"`
	Units   map[string]string `json:"units"` // unit id -> base id
	Log     []string          `json:"log"`
}

func (a arena) Clone() arena {
	a.Rolls = slices.Clone(a.Rolls)
	a.Units = maps.Clone(a.Units)
	a.Log = slices.Clone(a.Log)
	return a
}

type arenaDomain struct {
	// observers repeats every trigger this many times, as if several layers
	// were watching the same event stream.
	observers int
}

type incPayload struct {
	N int `json:"n"`
}

type unitPayload struct {
	Unit string `json:"unit"`
	Base string `json:"base"`
}

func (arenaDomain) ID() string { return "arena" }

func (arenaDomain) Setup(players []PlayerID, rnd Random) arena {
	return arena{Units: map[string]string{"u1": "b1", "u2": "b1"}}
}

func (arenaDomain) Validate(st State[arena], cmd Command) ValidationResult {
	if !st.Sys.HasPlayer(cmd.PlayerID) {
		return Invalid(ErrPlayerMismatch)
	}
	switch cmd.Type {
	case "INC":
		var p incPayload
		if err := cmd.Decode(&p); err != nil {
			return Invalid(ErrInvalidPayload)
		}
		if p.N <= 0 {
			return Invalid("bad_amount")
		}
	case "DESTROY":
		var p unitPayload
		if err := cmd.Decode(&p); err != nil {
			return Invalid(ErrInvalidPayload)
		}
		if _, ok := st.Core.Units[p.Unit]; !ok {
			return Invalid("no_unit")
		}
	case "ROLL", "BOOM", "PANIC", "PING":
	default:
		return Invalid(ErrUnknownCommand)
	}
	return Valid()
}

func (arenaDomain) Execute(st State[arena], cmd Command, rnd Random) ([]Event, error) {
	switch cmd.Type {
	case "INC":
		var p incPayload
		_ = cmd.Decode(&p)
		return []Event{NewEvent("INCREMENTED", p, cmd.Timestamp)}, nil
	case "DESTROY":
		var p unitPayload
		_ = cmd.Decode(&p)
		p.Base = st.Core.Units[p.Unit]
		return []Event{NewEvent("UNIT_DESTROYED", p, cmd.Timestamp)}, nil
	case "ROLL":
		return []Event{NewEvent("ROLLED", map[string]int{"value": rnd.D(6)}, cmd.Timestamp)}, nil
	case "BOOM":
		return nil, errors.New("boom")
	case "PANIC":
		panic("exploded")
	case "PING":
		return []Event{NewEvent("PINGED", nil, cmd.Timestamp)}, nil
	}
	return nil, nil
}

func (arenaDomain) Reduce(core arena, ev Event) (arena, error) {
	core.Log = append(core.Log, ev.Type)
	switch ev.Type {
	case "INCREMENTED":
		var p incPayload
		if err := ev.Decode(&p); err != nil {
			return core, err
		}
		core.Counter += p.N
	case "ROLLED":
		var p map[string]int
		if err := ev.Decode(&p); err != nil {
			return core, err
		}
		core.Rolls = append(core.Rolls, p["value"])
	case "UNIT_DESTROYED":
		var p unitPayload
		if err := ev.Decode(&p); err != nil {
			return core, err
		}
		delete(core.Units, p.Unit)
	}
	return core, nil
}

func (arenaDomain) IsGameOver(core arena) *GameOver {
	if core.Counter >= 100 {
		return &GameOver{Winner: "p1"}
	}
	return nil
}

func (d arenaDomain) Triggers(st State[arena], ev Event) []Trigger {
	var out []Trigger
	switch ev.Type {
	case "UNIT_DESTROYED":
		var p unitPayload
		_ = ev.Decode(&p)
		out = []Trigger{
			{SourceID: p.Unit, HookKey: "unit.onDestroy"},
			{SourceID: p.Base, HookKey: "base.onDestroy"},
		}
	case "PINGED":
		out = []Trigger{{SourceID: "echo", HookKey: "echo"}}
	}
	repeated := out
	for i := 1; i < d.observers; i++ {
		repeated = append(repeated, out...)
	}
	return repeated
}

func arenaRegistry() *Registry[arena] {
	reg := NewRegistry[arena]()
	reg.RegisterHook("unit.onDestroy", func(st State[arena], ev Event, t Trigger, rnd Random) (Reaction, error) {
		return Reaction{Interactions: []Descriptor{{
			PlayerID:    st.Sys.ActivePlayer,
			Kind:        "choose",
			Options:     []Option{{ID: "a", Label: "a"}},
			ResolverKey: "noop",
		}}}, nil
	})
	reg.RegisterHook("base.onDestroy", func(st State[arena], ev Event, t Trigger, rnd Random) (Reaction, error) {
		return Reaction{
			Events: []Event{NewEvent("BASE_SHAKEN", map[string]string{"base": t.SourceID}, ev.Timestamp)},
			Interactions: []Descriptor{{
				PlayerID:    st.Sys.ActivePlayer,
				Kind:        "choose",
				Options:     []Option{{ID: "b", Label: "b"}},
				ResolverKey: "noop",
			}},
		}, nil
	})
	// echo re-emits a fresh event each time and never settles.
	reg.RegisterHook("echo", func(st State[arena], ev Event, t Trigger, rnd Random) (Reaction, error) {
		return Reaction{Events: []Event{NewEvent("PINGED", nil, ev.Timestamp)}}, nil
	})
	return reg
}

func newArena(systems ...System[arena]) (*Pipeline[arena], State[arena]) {
	p := NewPipeline[arena](arenaDomain{observers: 1}, arenaRegistry(), systems...)
	return p, p.Setup("m1", []PlayerID{"p1", "p2"}, NewSeeded(1, 0))
}

// recordingSystem logs calls and can veto or consume configured commands.
type recordingSystem struct {
	Base[arena]
	id       string
	priority int
	veto     map[string]ErrorCode
	consume  map[string][]Event
	calls    *[]string
}

func (s recordingSystem) ID() string    { return s.id }
func (s recordingSystem) Priority() int { return s.priority }

func (s recordingSystem) BeforeCommand(ctx *Context[arena]) Outcome {
	*s.calls = append(*s.calls, s.id)
	if code, ok := s.veto[ctx.Command.Type]; ok {
		return Veto(code)
	}
	if evs, ok := s.consume[ctx.Command.Type]; ok {
		return Consume(evs...)
	}
	return Pass()
}
