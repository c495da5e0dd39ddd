package systems

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"tabletop/internal/engine"
)

func turnHooks() FlowHooks[board] {
	return FlowHooks[board]{
		Phases: []string{"draw", "play", "end"},
		OnEnter: func(st engine.State[board], phase string, rnd engine.Random) []engine.Event {
			if phase == "draw" {
				return []engine.Event{engine.NewEvent("ROLLED", map[string]int{"value": 1}, 0)}
			}
			return nil
		},
		AutoContinue: func(st engine.State[board]) bool { return st.Sys.Phase == "draw" },
		CanAdvance: func(st engine.State[board], player engine.PlayerID) engine.ValidationResult {
			if st.Sys.Phase == "play" && len(st.Core.Placed) == 0 {
				return engine.Invalid("flow.must_place")
			}
			return engine.Valid()
		},
		PhaseCommands: map[string][]string{
			"play": {"PLACE", "ATTACK", CmdAdvancePhase},
			"end":  {CmdAdvancePhase},
		},
		AnyTime: []string{"CHAT"},
	}
}

func TestFlowInitialPhase(t *testing.T) {
	h := newHarness(t, NewFlow[board](turnHooks()))
	assert.Equal(t, "draw", h.st.Sys.Phase)

	h = newHarness(t, NewFlow[board](FlowHooks[board]{
		Phases:       []string{"a", "b"},
		InitialPhase: func(engine.State[board]) string { return "b" },
	}))
	assert.Equal(t, "b", h.st.Sys.Phase)
}

func TestFlowTurnCycle(t *testing.T) {
	h := newHarness(t, NewInteraction[board](), NewFlow[board](turnHooks()))
	h.st.Sys.Phase = "play"

	h.reject("PLACE", "p2", spot{Spot: "a"}, engine.ErrPlayerMismatch)
	h.reject("ROLL", "p1", nil, engine.ErrInvalidPhase)
	h.reject(CmdAdvancePhase, "p1", nil, "flow.must_place")
	h.ok("CHAT", "p2", nil)

	h.ok("PLACE", "p1", spot{Spot: "a"})
	h.ok(CmdAdvancePhase, "p1", nil)
	assert.Equal(t, "end", h.st.Sys.Phase)
	assert.Equal(t, 1, h.st.Sys.TurnNumber)
	h.reject("PLACE", "p1", spot{Spot: "b"}, engine.ErrInvalidPhase)

	// Leaving end wraps to draw, which rolls and auto-continues to play.
	res := h.ok(CmdAdvancePhase, "p1", nil)
	assert.Equal(t, "play", h.st.Sys.Phase)
	assert.Equal(t, "p2", h.st.Sys.ActivePlayer)
	assert.Equal(t, 2, h.st.Sys.TurnNumber)
	assert.Equal(t, []int{1}, h.st.Core.Rolls)
	assert.Equal(t, []string{engine.EventPhaseChanged, "ROLLED", engine.EventPhaseChanged}, eventTypes(res.Events))

	h.reject("PLACE", "p1", spot{Spot: "b"}, engine.ErrPlayerMismatch)
	h.ok("PLACE", "p2", spot{Spot: "b"})
}

func TestFlowExemptsResponder(t *testing.T) {
	h := newHarness(t, NewInteraction[board](), NewResponseWindow[board](CmdUseToken), NewFlow[board](turnHooks()),
		NewTokens[board](tokenDefs, map[string]int{"shield": 1}))
	h.st.Sys.Phase = "play"
	h.ok("ATTACK", "p1", nil)
	h.ok(CmdUseToken, "p2", UseToken{TokenID: "shield"})
	assert.Equal(t, 1, h.st.Core.Blocks)
}

func TestFlowCustomActivePlayer(t *testing.T) {
	hooks := turnHooks()
	hooks.ActivePlayer = func(st engine.State[board], phase string, newTurn bool) engine.PlayerID {
		return "p1"
	}
	hooks.CanAdvance = nil
	h := newHarness(t, NewFlow[board](hooks))
	h.st.Sys.Phase = "end"
	h.ok(CmdAdvancePhase, "p1", nil)
	assert.Equal(t, "play", h.st.Sys.Phase)
	assert.Equal(t, "p1", h.st.Sys.ActivePlayer)
}
