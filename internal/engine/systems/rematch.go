package systems

import (
	"maps"

	"tabletop/internal/engine"
)

const (
	CmdRematchVote = "SYS_REMATCH_VOTE"

	EvRematchVoted = "SYS_REMATCH_VOTED"
	EvRematchReady = "SYS_REMATCH_READY"
)

const (
	ErrRematchNotOver engine.ErrorCode = "rematch.not_over"
	ErrRematchClosed  engine.ErrorCode = "rematch.closed"
)

type RematchVote struct {
	Again bool `json:"again"`
}

type RematchVoted struct {
	PlayerID engine.PlayerID `json:"playerId"`
	Again    bool            `json:"again"`
}

// Rematch collects post-game votes. Once the match is over every other
// gameplay command is rejected.
type Rematch[C engine.Core[C]] struct {
	engine.Base[C]
}

func NewRematch[C engine.Core[C]]() *Rematch[C] { return &Rematch[C]{} }

func (*Rematch[C]) ID() string    { return "rematch" }
func (*Rematch[C]) Priority() int { return PriorityRematch }

func (s *Rematch[C]) BeforeCommand(ctx *engine.Context[C]) engine.Outcome {
	sys := &ctx.State.Sys
	cmd := ctx.Command
	over := sys.Gameover != nil

	if cmd.Type != CmdRematchVote {
		if over && !cmd.IsSystem() {
			return engine.Veto(engine.ErrMatchOver)
		}
		return engine.Pass()
	}
	if !over {
		return engine.Veto(ErrRematchNotOver)
	}
	if !sys.HasPlayer(cmd.PlayerID) {
		return engine.Veto(engine.ErrPlayerMismatch)
	}
	if sys.Rematch.Ready {
		return engine.Veto(ErrRematchClosed)
	}
	var p RematchVote
	if err := cmd.Decode(&p); err != nil {
		return engine.Veto(engine.ErrInvalidPayload)
	}

	events := []engine.Event{engine.NewEvent(EvRematchVoted, RematchVoted{PlayerID: cmd.PlayerID, Again: p.Again}, cmd.Timestamp)}
	votes := maps.Clone(sys.Rematch.Votes)
	if votes == nil {
		votes = make(map[engine.PlayerID]bool)
	}
	votes[cmd.PlayerID] = p.Again
	if allAgain(sys.Players, votes) {
		events = append(events, engine.NewEvent(EvRematchReady, nil, cmd.Timestamp))
	}
	return engine.Consume(events...)
}

func (s *Rematch[C]) ReduceSys(state *engine.State[C], ev engine.Event) error {
	switch ev.Type {
	case EvRematchVoted:
		var p RematchVoted
		if err := ev.Decode(&p); err != nil {
			return err
		}
		if state.Sys.Rematch.Votes == nil {
			state.Sys.Rematch.Votes = make(map[engine.PlayerID]bool)
		}
		state.Sys.Rematch.Votes[p.PlayerID] = p.Again
	case EvRematchReady:
		state.Sys.Rematch.Ready = true
	}
	return nil
}

func allAgain(players []engine.PlayerID, votes map[engine.PlayerID]bool) bool {
	if len(players) == 0 {
		return false
	}
	for _, p := range players {
		if !votes[p] {
			return false
		}
	}
	return true
}
