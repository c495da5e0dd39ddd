package systems

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"tabletop/internal/engine"
)

const (
	CmdUndoRequest = "SYS_UNDO_REQUEST"
	CmdUndoApprove = "SYS_UNDO_APPROVE"
	CmdUndoReject  = "SYS_UNDO_REJECT"
	CmdUndoCancel  = "SYS_UNDO_CANCEL"

	EvUndoRequested = "SYS_UNDO_REQUESTED"
	EvUndoApproved  = "SYS_UNDO_APPROVED"
	EvUndoRejected  = "SYS_UNDO_REJECTED"
	EvUndoCancelled = "SYS_UNDO_CANCELLED"
	EvUndoApplied   = "SYS_UNDO_APPLIED"
)

const (
	ErrUndoNoSnapshot      engine.ErrorCode = "undo.no_snapshot"
	ErrUndoRequestPending  engine.ErrorCode = "undo.request_pending"
	ErrUndoNoRequest       engine.ErrorCode = "undo.no_request"
	ErrUndoSelfApproval    engine.ErrorCode = "undo.self_approval"
	ErrUndoNotRequester    engine.ErrorCode = "undo.not_requester"
	ErrUndoAlreadyApproved engine.ErrorCode = "undo.already_approved"
	ErrUndoMatchOver       engine.ErrorCode = "undo.match_over"
)

// UndoConfig tunes the undo system.
type UndoConfig struct {
	MaxSnapshots      int
	RequireApproval   bool
	RequiredApprovals int
}

// DefaultUndoConfig keeps 50 snapshots and needs one partner approval.
func DefaultUndoConfig() UndoConfig {
	return UndoConfig{MaxSnapshots: 50, RequireApproval: true, RequiredApprovals: 1}
}

type PlayerRef struct {
	PlayerID engine.PlayerID `json:"playerId"`
}

type UndoApplied struct {
	Remaining int `json:"remaining"`
}

// Undo snapshots the state before each gameplay command and rolls back to
// the latest snapshot once a request is approved. A finished match cannot be
// undone.
type Undo[C engine.Core[C]] struct {
	engine.Base[C]
	cfg UndoConfig
}

func NewUndo[C engine.Core[C]](cfg UndoConfig) *Undo[C] {
	if cfg.MaxSnapshots <= 0 {
		cfg.MaxSnapshots = DefaultUndoConfig().MaxSnapshots
	}
	if cfg.RequiredApprovals <= 0 {
		cfg.RequiredApprovals = 1
	}
	return &Undo[C]{cfg: cfg}
}

func (*Undo[C]) ID() string    { return "undo" }
func (*Undo[C]) Priority() int { return PriorityUndo }

func (s *Undo[C]) Setup(state *engine.State[C]) {
	state.Sys.Undo = engine.UndoState{Max: s.cfg.MaxSnapshots}
}

func (s *Undo[C]) BeforeCommand(ctx *engine.Context[C]) engine.Outcome {
	cmd := ctx.Command
	undo := ctx.State.Sys.Undo
	ts := cmd.Timestamp
	who := PlayerRef{PlayerID: cmd.PlayerID}

	switch cmd.Type {
	case CmdUndoRequest:
		if !ctx.State.Sys.HasPlayer(cmd.PlayerID) {
			return engine.Veto(engine.ErrPlayerMismatch)
		}
		if ctx.State.Sys.Gameover != nil {
			return engine.Veto(ErrUndoMatchOver)
		}
		if len(undo.Snapshots) == 0 {
			return engine.Veto(ErrUndoNoSnapshot)
		}
		if undo.Pending != nil {
			return engine.Veto(ErrUndoRequestPending)
		}
		if !s.cfg.RequireApproval || len(ctx.State.Sys.Players) < 2 {
			return s.restore(ctx)
		}
		return engine.Consume(engine.NewEvent(EvUndoRequested, who, ts))

	case CmdUndoApprove:
		if undo.Pending == nil {
			return engine.Veto(ErrUndoNoRequest)
		}
		if cmd.PlayerID == undo.Pending.Requester {
			return engine.Veto(ErrUndoSelfApproval)
		}
		if !ctx.State.Sys.HasPlayer(cmd.PlayerID) {
			return engine.Veto(engine.ErrPlayerMismatch)
		}
		if slices.Contains(undo.Pending.Approvals, cmd.PlayerID) {
			return engine.Veto(ErrUndoAlreadyApproved)
		}
		if ctx.State.Sys.Gameover != nil {
			return engine.Veto(ErrUndoMatchOver)
		}
		if len(undo.Pending.Approvals)+1 >= undo.Pending.Required {
			return s.restore(ctx)
		}
		return engine.Consume(engine.NewEvent(EvUndoApproved, who, ts))

	case CmdUndoReject:
		if undo.Pending == nil {
			return engine.Veto(ErrUndoNoRequest)
		}
		if cmd.PlayerID == undo.Pending.Requester {
			return engine.Veto(ErrUndoSelfApproval)
		}
		if !ctx.State.Sys.HasPlayer(cmd.PlayerID) {
			return engine.Veto(engine.ErrPlayerMismatch)
		}
		return engine.Consume(engine.NewEvent(EvUndoRejected, who, ts))

	case CmdUndoCancel:
		if undo.Pending == nil {
			return engine.Veto(ErrUndoNoRequest)
		}
		if cmd.PlayerID != undo.Pending.Requester {
			return engine.Veto(ErrUndoNotRequester)
		}
		return engine.Consume(engine.NewEvent(EvUndoCancelled, who, ts))
	}

	if cmd.IsSystem() {
		return engine.Pass()
	}
	if undo.Pending != nil {
		return engine.Veto(ErrUndoRequestPending)
	}
	if err := s.snapshot(ctx.State); err != nil {
		return engine.Fail(err)
	}
	return engine.Pass()
}

// snapshot records the state as it is before the command runs. The undo
// history itself is left out of the snapshot.
func (s *Undo[C]) snapshot(state *engine.State[C]) error {
	snap := state.Clone()
	snap.Sys.Undo = engine.UndoState{}
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode undo snapshot: %w", err)
	}
	snaps := append(state.Sys.Undo.Snapshots, raw)
	if over := len(snaps) - s.cfg.MaxSnapshots; over > 0 {
		snaps = snaps[over:]
	}
	state.Sys.Undo.Snapshots = snaps
	return nil
}

// restore swaps the working state for the latest snapshot. Event and
// interaction counters never move backwards.
func (s *Undo[C]) restore(ctx *engine.Context[C]) engine.Outcome {
	cur := ctx.State
	snaps := cur.Sys.Undo.Snapshots
	if len(snaps) == 0 {
		return engine.Fail(errors.New("undo restore without snapshot"))
	}
	var restored engine.State[C]
	if err := json.Unmarshal(snaps[len(snaps)-1], &restored); err != nil {
		return engine.Fail(fmt.Errorf("decode undo snapshot: %w", err))
	}
	restored.Sys.Undo = engine.UndoState{
		Snapshots: slices.Clone(snaps[:len(snaps)-1]),
		Max:       cur.Sys.Undo.Max,
	}
	restored.Sys.NextSeq = cur.Sys.NextSeq
	restored.Sys.NextInteraction = cur.Sys.NextInteraction
	*cur = restored

	return engine.Consume(engine.NewEvent(EvUndoApplied, UndoApplied{Remaining: len(snaps) - 1}, ctx.Command.Timestamp))
}

func (s *Undo[C]) ReduceSys(state *engine.State[C], ev engine.Event) error {
	undo := &state.Sys.Undo
	switch ev.Type {
	case EvUndoRequested:
		var p PlayerRef
		if err := ev.Decode(&p); err != nil {
			return err
		}
		undo.Pending = &engine.UndoRequest{Requester: p.PlayerID, Approvals: []engine.PlayerID{}, Required: s.cfg.RequiredApprovals}
	case EvUndoApproved:
		var p PlayerRef
		if err := ev.Decode(&p); err != nil {
			return err
		}
		if undo.Pending != nil {
			undo.Pending.Approvals = append(undo.Pending.Approvals, p.PlayerID)
		}
	case EvUndoRejected, EvUndoCancelled:
		undo.Pending = nil
	}
	return nil
}
