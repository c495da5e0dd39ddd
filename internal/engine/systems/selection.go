package systems

import (
	"slices"

	"tabletop/internal/engine"
)

const (
	CmdSelectCharacter = "SELECT_CHARACTER"
	CmdPlayerReady     = "PLAYER_READY"
	CmdHostStartGame   = "HOST_START_GAME"

	EvCharacterSelected = "CHARACTER_SELECTED"
	EvPlayerReady       = "PLAYER_READY"
	EvSetupCompleted    = "SYS_SETUP_COMPLETED"
)

const (
	ErrSetupNotStarted           engine.ErrorCode = "setup.not_started"
	ErrSetupInvalidCharacter     engine.ErrorCode = "setup.invalid_character"
	ErrSetupCharacterTaken       engine.ErrorCode = "setup.character_taken"
	ErrSetupCharacterNotSelected engine.ErrorCode = "setup.character_not_selected"
	ErrSetupNotReady             engine.ErrorCode = "setup.not_ready"
	ErrSetupAlreadyStarted       engine.ErrorCode = "setup.already_started"
	ErrSetupAlreadyReady         engine.ErrorCode = "setup.already_ready"
)

// SetupPhase is the phase a match sits in until selection completes.
const SetupPhase = "setup"

// SelectionConfig describes the pre-game selection.
type SelectionConfig struct {
	Characters []string
	// Exclusive forbids two players picking the same character.
	Exclusive bool
	// FirstPhase is entered once the host starts the game.
	FirstPhase string
	// AutoStart starts the game as soon as every player is ready.
	AutoStart bool
}

type SelectCharacter struct {
	CharacterID string `json:"characterId"`
}

type CharacterSelected struct {
	PlayerID    engine.PlayerID `json:"playerId"`
	CharacterID string          `json:"characterId"`
}

type SetupCompleted struct {
	Selected map[engine.PlayerID]string `json:"selected"`
}

// Selection gates a match until every player has picked a character and
// readied up and the host has started it.
type Selection[C engine.Core[C]] struct {
	engine.Base[C]
	cfg SelectionConfig
}

func NewSelection[C engine.Core[C]](cfg SelectionConfig) *Selection[C] {
	return &Selection[C]{cfg: cfg}
}

func (*Selection[C]) ID() string    { return "selection" }
func (*Selection[C]) Priority() int { return PrioritySelection }

func (s *Selection[C]) Setup(state *engine.State[C]) {
	sel := engine.SelectionState{
		Enabled:  true,
		Selected: make(map[engine.PlayerID]string),
		Ready:    make(map[engine.PlayerID]bool),
	}
	if len(state.Sys.Players) > 0 {
		sel.Host = state.Sys.Players[0]
	}
	state.Sys.Selection = sel
	state.Sys.Phase = SetupPhase
}

func (s *Selection[C]) BeforeCommand(ctx *engine.Context[C]) engine.Outcome {
	sys := &ctx.State.Sys
	sel := sys.Selection
	cmd := ctx.Command
	ts := cmd.Timestamp
	if !sel.Enabled {
		return engine.Pass()
	}

	switch cmd.Type {
	case CmdSelectCharacter, CmdPlayerReady, CmdHostStartGame:
		if sel.Started {
			return engine.Veto(ErrSetupAlreadyStarted)
		}
		if !sys.HasPlayer(cmd.PlayerID) {
			return engine.Veto(engine.ErrPlayerMismatch)
		}
	default:
		if !sel.Started && !cmd.IsSystem() {
			return engine.Veto(ErrSetupNotStarted)
		}
		return engine.Pass()
	}

	switch cmd.Type {
	case CmdSelectCharacter:
		var p SelectCharacter
		if err := cmd.Decode(&p); err != nil {
			return engine.Veto(engine.ErrInvalidPayload)
		}
		if !slices.Contains(s.cfg.Characters, p.CharacterID) {
			return engine.Veto(ErrSetupInvalidCharacter)
		}
		if sel.Ready[cmd.PlayerID] {
			return engine.Veto(ErrSetupAlreadyReady)
		}
		if s.cfg.Exclusive {
			for pid, c := range sel.Selected {
				if pid != cmd.PlayerID && c == p.CharacterID {
					return engine.Veto(ErrSetupCharacterTaken)
				}
			}
		}
		return engine.Consume(engine.NewEvent(EvCharacterSelected, CharacterSelected{PlayerID: cmd.PlayerID, CharacterID: p.CharacterID}, ts))

	case CmdPlayerReady:
		if sel.Selected[cmd.PlayerID] == "" {
			return engine.Veto(ErrSetupCharacterNotSelected)
		}
		if sel.Ready[cmd.PlayerID] {
			return engine.Veto(ErrSetupAlreadyReady)
		}
		return engine.Consume(engine.NewEvent(EvPlayerReady, PlayerRef{PlayerID: cmd.PlayerID}, ts))

	default:
		if cmd.PlayerID != sel.Host {
			return engine.Veto(engine.ErrPlayerMismatch)
		}
		if !allReady(sys.Players, sel.Ready) {
			return engine.Veto(ErrSetupNotReady)
		}
		return engine.Consume(s.startEvents(*sys, ts)...)
	}
}

func (s *Selection[C]) AfterEvents(ctx *engine.Context[C]) []engine.Event {
	sys := ctx.State.Sys
	if !s.cfg.AutoStart || !sys.Selection.Enabled || sys.Selection.Started {
		return nil
	}
	for _, ev := range ctx.Events {
		if ev.Type == EvPlayerReady && allReady(sys.Players, sys.Selection.Ready) {
			return s.startEvents(sys, ctx.Now)
		}
	}
	return nil
}

func (s *Selection[C]) startEvents(sys engine.SystemState, ts int64) []engine.Event {
	var first engine.PlayerID
	if len(sys.Players) > 0 {
		first = sys.Players[0]
	}
	return []engine.Event{
		engine.NewEvent(EvSetupCompleted, SetupCompleted{Selected: sys.Selection.Selected}, ts),
		engine.NewEvent(engine.EventPhaseChanged, engine.PhaseChanged{
			From:         sys.Phase,
			To:           s.cfg.FirstPhase,
			ActivePlayer: first,
			TurnNumber:   1,
		}, ts),
	}
}

func (s *Selection[C]) ReduceSys(state *engine.State[C], ev engine.Event) error {
	sel := &state.Sys.Selection
	switch ev.Type {
	case EvCharacterSelected:
		var p CharacterSelected
		if err := ev.Decode(&p); err != nil {
			return err
		}
		if sel.Selected == nil {
			sel.Selected = make(map[engine.PlayerID]string)
		}
		sel.Selected[p.PlayerID] = p.CharacterID
	case EvPlayerReady:
		var p PlayerRef
		if err := ev.Decode(&p); err != nil {
			return err
		}
		if sel.Ready == nil {
			sel.Ready = make(map[engine.PlayerID]bool)
		}
		sel.Ready[p.PlayerID] = true
	case EvSetupCompleted:
		sel.Started = true
	}
	return nil
}

func allReady(players []engine.PlayerID, ready map[engine.PlayerID]bool) bool {
	for _, p := range players {
		if !ready[p] {
			return false
		}
	}
	return len(players) > 0
}
