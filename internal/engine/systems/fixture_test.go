package systems

import (
	"maps"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"

	"tabletop/internal/engine"
)

// board is a small rule set for exercising systems.
type board struct {
	Placed []string       `json:"placed"`
	Score  map[string]int `json:"score"`
	Rolls  []int          `json:"rolls"`
	Hits   int            `json:"hits"`
	Blocks int            `json:"blocks"`
	Winner string         `json:"winner,omitempty"`
}

func (b board) Clone() board {
	b.Placed = slices.Clone(b.Placed)
	b.Score = maps.Clone(b.Score)
	b.Rolls = slices.Clone(b.Rolls)
	return b
}

type spot struct {
	Spot   string          `json:"spot"`
	Player engine.PlayerID `json:"player,omitempty"`
}

type boardDomain struct{}

func (boardDomain) ID() string { return "board" }

func (boardDomain) Setup(players []engine.PlayerID, rnd engine.Random) board {
	return board{Score: map[string]int{}}
}

func (boardDomain) Validate(st engine.State[board], cmd engine.Command) engine.ValidationResult {
	if !st.Sys.HasPlayer(cmd.PlayerID) {
		return engine.Invalid(engine.ErrPlayerMismatch)
	}
	switch cmd.Type {
	case "PLACE":
		var p spot
		if err := cmd.Decode(&p); err != nil || p.Spot == "" {
			return engine.Invalid(engine.ErrInvalidPayload)
		}
		if slices.Contains(st.Core.Placed, p.Spot) {
			return engine.Invalid("spot_taken")
		}
	case "ROLL", "ATTACK", "ASK", "FINISH", "CHAT":
	default:
		return engine.Invalid(engine.ErrUnknownCommand)
	}
	return engine.Valid()
}

func (boardDomain) Execute(st engine.State[board], cmd engine.Command, rnd engine.Random) ([]engine.Event, error) {
	ts := cmd.Timestamp
	switch cmd.Type {
	case "PLACE":
		var p spot
		_ = cmd.Decode(&p)
		p.Player = cmd.PlayerID
		return []engine.Event{
			engine.NewEvent("PLACED", p, ts),
			engine.NewEvent(EvTokenConsumed, TokenChange{PlayerID: cmd.PlayerID, TokenID: "marker", Amount: 1}, ts),
		}, nil
	case "ROLL":
		return []engine.Event{engine.NewEvent("ROLLED", map[string]int{"value": rnd.D(6)}, ts)}, nil
	case "ATTACK":
		return []engine.Event{
			engine.NewEvent("ATTACKED", nil, ts),
			OpenWindow(WindowOpened{WindowID: "w1", Kind: "defend", SourceID: "atk-1", Responders: st.Sys.Opponents(cmd.PlayerID)}, ts),
		}, nil
	case "ASK":
		return []engine.Event{engine.NewEvent("PROMPTED", PlayerRef{PlayerID: cmd.PlayerID}, ts)}, nil
	case "FINISH":
		return []engine.Event{engine.NewEvent("WON", PlayerRef{PlayerID: cmd.PlayerID}, ts)}, nil
	case "CHAT":
		return []engine.Event{engine.NewEvent("CHATTED", nil, ts)}, nil
	}
	return nil, nil
}

func (boardDomain) Reduce(core board, ev engine.Event) (board, error) {
	switch ev.Type {
	case "PLACED":
		var p spot
		if err := ev.Decode(&p); err != nil {
			return core, err
		}
		core.Placed = append(core.Placed, p.Spot)
	case "ROLLED":
		var p map[string]int
		if err := ev.Decode(&p); err != nil {
			return core, err
		}
		core.Rolls = append(core.Rolls, p["value"])
	case "SCORED":
		var p PlayerRef
		if err := ev.Decode(&p); err != nil {
			return core, err
		}
		core.Score[p.PlayerID]++
	case "HIT":
		core.Hits++
	case "BLOCKED":
		core.Blocks++
	case "WON":
		var p PlayerRef
		if err := ev.Decode(&p); err != nil {
			return core, err
		}
		core.Winner = p.PlayerID
	}
	return core, nil
}

func (boardDomain) IsGameOver(core board) *engine.GameOver {
	if core.Winner == "" {
		return nil
	}
	return &engine.GameOver{Winner: core.Winner}
}

func (boardDomain) Triggers(st engine.State[board], ev engine.Event) []engine.Trigger {
	switch ev.Type {
	case "PROMPTED":
		return []engine.Trigger{{SourceID: "oracle", HookKey: "prompt"}}
	case EvResponseWindowClosed:
		var p WindowClosed
		_ = ev.Decode(&p)
		return []engine.Trigger{{SourceID: p.SourceID, HookKey: "resolve"}}
	}
	return nil
}

func boardRegistry() *engine.Registry[board] {
	reg := engine.NewRegistry[board]()
	reg.RegisterHook("prompt", func(st engine.State[board], ev engine.Event, t engine.Trigger, rnd engine.Random) (engine.Reaction, error) {
		var p PlayerRef
		_ = ev.Decode(&p)
		return engine.Reaction{Interactions: []engine.Descriptor{{
			PlayerID: p.PlayerID,
			Kind:     "pick",
			Options: []engine.Option{
				{ID: "score", Label: "score"},
				{ID: "locked", Label: "locked", Disabled: true},
				{ID: "pass", Label: "pass"},
			},
			ResolverKey: "pick",
		}}}, nil
	})
	reg.RegisterHook("resolve", func(st engine.State[board], ev engine.Event, t engine.Trigger, rnd engine.Random) (engine.Reaction, error) {
		var p WindowClosed
		_ = ev.Decode(&p)
		if p.AllPassed {
			return engine.Reaction{Events: []engine.Event{engine.NewEvent("HIT", nil, ev.Timestamp)}}, nil
		}
		return engine.Reaction{Events: []engine.Event{engine.NewEvent("BLOCKED", nil, ev.Timestamp)}}, nil
	})
	reg.RegisterResolver("pick", func(st engine.State[board], player engine.PlayerID, c engine.Choice, rnd engine.Random, now int64) (engine.Reaction, error) {
		if c.First() != "score" {
			return engine.Reaction{}, nil
		}
		return engine.Reaction{Events: []engine.Event{engine.NewEvent("SCORED", PlayerRef{PlayerID: player}, now)}}, nil
	})
	reg.RegisterRefresher("spots", func(st engine.State[board], d engine.Descriptor) []engine.Option {
		opts := make([]engine.Option, 0, len(d.Options))
		for _, o := range d.Options {
			o.Disabled = slices.Contains(st.Core.Placed, o.ID)
			opts = append(opts, o)
		}
		return opts
	})
	return reg
}

var tokenDefs = []TokenDef{{ID: "marker", StackLimit: 5}, {ID: "shield", StackLimit: 2}}

// harness drives a board match through a pipeline.
type harness struct {
	t   *testing.T
	p   *engine.Pipeline[board]
	st  engine.State[board]
	seq uint64
}

func newHarness(t *testing.T, systems ...engine.System[board]) *harness {
	t.Helper()
	p := engine.NewPipeline[board](boardDomain{}, boardRegistry(), systems...)
	return &harness{t: t, p: p, st: p.Setup("m1", []engine.PlayerID{"p1", "p2"}, engine.NewSeeded(1, 0))}
}

// allSystems wires every system with board defaults.
func allSystems() []engine.System[board] {
	return append(Standard[board](DefaultUndoConfig()),
		NewResponseWindow[board](CmdUseToken),
		NewTokens[board](tokenDefs, map[string]int{"marker": 3, "shield": 1}),
	)
}

func (h *harness) exec(cmd engine.Command) engine.Result[board] {
	h.seq++
	return h.p.Execute(h.st, cmd, engine.NewSeeded(7, h.seq), int64(h.seq))
}

// ok runs cmd and requires it to commit.
func (h *harness) ok(typ string, player engine.PlayerID, payload any) engine.Result[board] {
	h.t.Helper()
	res := h.exec(engine.NewCommand(typ, player, payload))
	require.True(h.t, res.OK(), "%s by %s: code=%q fault=%v", typ, player, res.Error, res.Fault)
	h.st = res.State
	return res
}

// reject runs cmd and requires code with the state untouched.
func (h *harness) reject(typ string, player engine.PlayerID, payload any, code engine.ErrorCode) {
	h.t.Helper()
	before := h.st.Clone()
	res := h.exec(engine.NewCommand(typ, player, payload))
	require.Equal(h.t, code, res.Error, "%s by %s", typ, player)
	require.Nil(h.t, res.Fault)
	require.Equal(h.t, before, res.State)
}

func eventTypes(evs []engine.Event) []string {
	out := make([]string, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Type)
	}
	return out
}
