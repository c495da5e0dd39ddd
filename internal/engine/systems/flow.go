package systems

import (
	"slices"

	"tabletop/internal/engine"
)

const CmdAdvancePhase = "ADVANCE_PHASE"

const ErrFlowCannotAdvance engine.ErrorCode = "flow.cannot_advance"

// FlowHooks plug a game's phase rules into the flow system. Every hook is
// optional.
type FlowHooks[C engine.Core[C]] struct {
	// Phases is the turn cycle in order. Leaving the last phase wraps to the
	// first and starts a new turn.
	Phases []string
	// InitialPhase overrides Phases[0] at setup.
	InitialPhase func(state engine.State[C]) string
	// CanAdvance gates ADVANCE_PHASE.
	CanAdvance func(state engine.State[C], player engine.PlayerID) engine.ValidationResult
	// NextPhase overrides the cycle order.
	NextPhase func(state engine.State[C], from string) string
	OnExit    func(state engine.State[C], phase string, rnd engine.Random) []engine.Event
	OnEnter   func(state engine.State[C], phase string, rnd engine.Random) []engine.Event
	// ActivePlayer picks who acts in the phase being entered.
	ActivePlayer func(state engine.State[C], phase string, newTurn bool) engine.PlayerID
	// AutoContinue advances the current phase without a command.
	AutoContinue func(state engine.State[C]) bool
	// PhaseCommands restricts the commands accepted in a phase.
	PhaseCommands map[string][]string
	// AnyTime commands skip the active player and phase checks.
	AnyTime []string
}

// Flow drives the phase cycle and enforces turn ownership.
type Flow[C engine.Core[C]] struct {
	engine.Base[C]
	hooks FlowHooks[C]
}

func NewFlow[C engine.Core[C]](hooks FlowHooks[C]) *Flow[C] { return &Flow[C]{hooks: hooks} }

func (*Flow[C]) ID() string    { return "flow" }
func (*Flow[C]) Priority() int { return PriorityFlow }

func (f *Flow[C]) Setup(state *engine.State[C]) {
	if state.Sys.Phase != "" {
		return
	}
	switch {
	case f.hooks.InitialPhase != nil:
		state.Sys.Phase = f.hooks.InitialPhase(*state)
	case len(f.hooks.Phases) > 0:
		state.Sys.Phase = f.hooks.Phases[0]
	}
}

func (f *Flow[C]) BeforeCommand(ctx *engine.Context[C]) engine.Outcome {
	cmd := ctx.Command
	sys := ctx.State.Sys
	if cmd.IsSystem() || slices.Contains(f.hooks.AnyTime, cmd.Type) || sys.Gameover != nil {
		return engine.Pass()
	}
	// The response window system already vetted the responder's command.
	if r := sys.ResponseWindow.Current.Responder(); r != "" && cmd.PlayerID == r {
		return engine.Pass()
	}
	if sys.ActivePlayer != "" && cmd.PlayerID != sys.ActivePlayer {
		return engine.Veto(engine.ErrPlayerMismatch)
	}

	if cmd.Type == CmdAdvancePhase {
		if f.hooks.CanAdvance != nil {
			if v := f.hooks.CanAdvance(*ctx.State, cmd.PlayerID); !v.Valid {
				code := v.Error
				if code == "" {
					code = ErrFlowCannotAdvance
				}
				return engine.Veto(code)
			}
		}
		return engine.Consume(f.advance(*ctx.State, ctx.Random, cmd.Timestamp)...)
	}

	if allowed, ok := f.hooks.PhaseCommands[sys.Phase]; ok && !slices.Contains(allowed, cmd.Type) {
		return engine.Veto(engine.ErrInvalidPhase)
	}
	return engine.Pass()
}

// AfterEvents runs OnEnter for a phase just entered, otherwise asks
// AutoContinue whether to move on.
func (f *Flow[C]) AfterEvents(ctx *engine.Context[C]) []engine.Event {
	st := *ctx.State
	if st.Sys.Gameover != nil {
		return nil
	}
	for _, ev := range ctx.Events {
		if ev.Type != engine.EventPhaseChanged || f.hooks.OnEnter == nil {
			continue
		}
		if evs := f.hooks.OnEnter(st, st.Sys.Phase, ctx.Random); len(evs) > 0 {
			return evs
		}
	}
	if f.hooks.AutoContinue == nil || st.Sys.Interaction.Pending() || st.Sys.ResponseWindow.Current != nil {
		return nil
	}
	if st.Sys.Phase == SetupPhase && st.Sys.Selection.Enabled && !st.Sys.Selection.Started {
		return nil
	}
	if f.hooks.AutoContinue(st) {
		return f.advance(st, ctx.Random, ctx.Now)
	}
	return nil
}

func (f *Flow[C]) next(st engine.State[C]) string {
	if f.hooks.NextPhase != nil {
		return f.hooks.NextPhase(st, st.Sys.Phase)
	}
	phases := f.hooks.Phases
	if len(phases) == 0 {
		return st.Sys.Phase
	}
	i := slices.Index(phases, st.Sys.Phase)
	return phases[(i+1)%len(phases)]
}

func (f *Flow[C]) advance(st engine.State[C], rnd engine.Random, ts int64) []engine.Event {
	from := st.Sys.Phase
	to := f.next(st)

	newTurn := false
	if fi, ti := slices.Index(f.hooks.Phases, from), slices.Index(f.hooks.Phases, to); fi >= 0 && ti >= 0 && ti <= fi {
		newTurn = true
	}

	var events []engine.Event
	if f.hooks.OnExit != nil {
		events = append(events, f.hooks.OnExit(st, from, rnd)...)
	}

	active := st.Sys.ActivePlayer
	turn := st.Sys.TurnNumber
	if newTurn {
		turn++
		active = nextSeat(st.Sys.Players, active)
	}
	if f.hooks.ActivePlayer != nil {
		active = f.hooks.ActivePlayer(st, to, newTurn)
	}
	return append(events, engine.NewEvent(engine.EventPhaseChanged, engine.PhaseChanged{
		From:         from,
		To:           to,
		ActivePlayer: active,
		TurnNumber:   turn,
	}, ts))
}

func nextSeat(players []engine.PlayerID, cur engine.PlayerID) engine.PlayerID {
	if len(players) == 0 {
		return cur
	}
	i := slices.Index(players, cur)
	return players[(i+1)%len(players)]
}
