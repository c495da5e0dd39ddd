// Package systems holds the cross-cutting state machines that wrap a game's
// domain: interaction gating, rematch voting, tutorials, undo, response
// windows, character selection, phase flow and tokens.
package systems

import (
	"encoding/json"
	"fmt"
	"slices"

	"tabletop/internal/engine"
)

// Pipeline priorities. Lower runs first.
const (
	PriorityInteraction    = 5
	PriorityRematch        = 7
	PriorityTutorial       = 9
	PriorityUndo           = 10
	PriorityResponseWindow = 15
	PrioritySelection      = 18
	PriorityFlow           = 25
	PriorityTokens         = 30
)

const (
	CmdInteractionRespond = "SYS_INTERACTION_RESPOND"
	CmdInteractionCancel  = "SYS_INTERACTION_CANCEL"
	CmdInteractionTimeout = "SYS_INTERACTION_TIMEOUT"

	EvInteractionResolved  = "SYS_INTERACTION_RESOLVED"
	EvInteractionCancelled = "SYS_INTERACTION_CANCELLED"
	EvInteractionExpired   = "SYS_INTERACTION_EXPIRED"
)

const (
	ErrInteractionNone           engine.ErrorCode = "interaction.none"
	ErrInteractionNotYours       engine.ErrorCode = "interaction.not_yours"
	ErrInteractionStale          engine.ErrorCode = "interaction.stale"
	ErrInteractionInvalidOption  engine.ErrorCode = "interaction.invalid_option"
	ErrInteractionOptionDisabled engine.ErrorCode = "interaction.option_disabled"
	ErrInteractionSelectionCount engine.ErrorCode = "interaction.selection_count"
	ErrInteractionNotCancellable engine.ErrorCode = "interaction.not_cancellable"
)

// RespondPayload answers the current interaction. InteractionID is optional
// and guards against answering a prompt that has already moved on.
type RespondPayload struct {
	InteractionID string   `json:"interactionId,omitempty"`
	OptionID      string   `json:"optionId,omitempty"`
	OptionIDs     []string `json:"optionIds,omitempty"`
}

// InteractionResolved is the payload of the resolved, cancelled and expired
// events.
type InteractionResolved struct {
	InteractionID string          `json:"interactionId"`
	SourceID      string          `json:"sourceId"`
	PlayerID      engine.PlayerID `json:"playerId"`
	OptionIDs     []string        `json:"optionIds,omitempty"`
	Auto          bool            `json:"auto,omitempty"`
}

// Interaction gates commands while a decision is pending and routes answers
// to the descriptor's resolver.
type Interaction[C engine.Core[C]] struct {
	engine.Base[C]
}

func NewInteraction[C engine.Core[C]]() *Interaction[C] { return &Interaction[C]{} }

func (*Interaction[C]) ID() string    { return "interaction" }
func (*Interaction[C]) Priority() int { return PriorityInteraction }

func (s *Interaction[C]) BeforeCommand(ctx *engine.Context[C]) engine.Outcome {
	cmd := ctx.Command
	cur := ctx.State.Sys.Interaction.Current
	switch cmd.Type {
	case CmdInteractionRespond, CmdInteractionCancel, CmdInteractionTimeout:
	default:
		if cur != nil && ctx.State.Sys.Gameover == nil {
			return engine.Veto(engine.ErrInteractionPending)
		}
		return engine.Pass()
	}
	if cur == nil {
		return engine.Veto(ErrInteractionNone)
	}

	var p RespondPayload
	if err := cmd.Decode(&p); err != nil {
		return engine.Veto(engine.ErrInvalidPayload)
	}
	if p.InteractionID != "" && p.InteractionID != cur.ID {
		return engine.Veto(ErrInteractionStale)
	}

	choice := engine.Choice{Interaction: *cur}
	evType := EvInteractionResolved
	switch cmd.Type {
	case CmdInteractionRespond:
		if cmd.PlayerID != cur.PlayerID {
			return engine.Veto(ErrInteractionNotYours)
		}
		ids := p.OptionIDs
		if p.OptionID != "" {
			ids = append([]string{p.OptionID}, ids...)
		}
		if code := checkSelection(*cur, ids); code != "" {
			return engine.Veto(code)
		}
		choice.OptionIDs = ids
		for _, id := range ids {
			o, _ := cur.Option(id)
			choice.Values = append(choice.Values, o.Value)
		}
	case CmdInteractionCancel:
		if cmd.PlayerID != cur.PlayerID {
			return engine.Veto(ErrInteractionNotYours)
		}
		if !cur.Cancellable {
			return engine.Veto(ErrInteractionNotCancellable)
		}
		choice.Cancelled = true
		evType = EvInteractionCancelled
	case CmdInteractionTimeout:
		choice.Expired = true
		if id := firstEnabled(*cur); id != "" && cur.Min > 0 {
			choice.OptionIDs = []string{id}
		}
		evType = EvInteractionExpired
	}

	events, err := s.resolve(ctx, choice, evType, false)
	if err != nil {
		return engine.Fail(err)
	}
	return engine.Consume(events...)
}

// resolve answers the current interaction with choice, promotes the next one
// and returns the resolution event followed by the resolver's events.
func (s *Interaction[C]) resolve(ctx *engine.Context[C], choice engine.Choice, evType string, auto bool) ([]engine.Event, error) {
	cur := choice.Interaction
	fn, ok := ctx.Registry.Resolver(cur.ResolverKey)
	if !ok {
		return nil, fmt.Errorf("no resolver registered for %q", cur.ResolverKey)
	}
	reaction, err := fn(*ctx.State, cur.PlayerID, choice, ctx.Random, ctx.Now)
	if err != nil {
		return nil, fmt.Errorf("resolver %s: %w", cur.ResolverKey, err)
	}

	ctx.State.Sys.Interaction = ctx.State.Sys.Interaction.Advance()
	for _, d := range reaction.Interactions {
		if d.SourceID == "" {
			d.SourceID = cur.SourceID
		}
		ctx.State.Sys.Enqueue(d)
	}

	events := []engine.Event{engine.NewEvent(evType, InteractionResolved{
		InteractionID: cur.ID,
		SourceID:      cur.SourceID,
		PlayerID:      cur.PlayerID,
		OptionIDs:     choice.OptionIDs,
		Auto:          auto,
	}, ctx.Command.Timestamp)}
	return append(events, reaction.Events...), nil
}

// AfterEvents rebuilds the current interaction's options from the latest
// state, then answers it when AutoResolve leaves a single enabled option.
// A failed automatic answer leaves the interaction to its player.
func (s *Interaction[C]) AfterEvents(ctx *engine.Context[C]) []engine.Event {
	cur := ctx.State.Sys.Interaction.Current
	if cur == nil {
		return nil
	}
	if cur.RefreshKey != "" {
		if refresh, ok := ctx.Registry.Refresher(cur.RefreshKey); ok {
			cur.Options = refresh(*ctx.State, *cur)
		}
	}
	if !cur.AutoResolve || ctx.State.Sys.Gameover != nil {
		return nil
	}
	ids := cur.Enabled()
	if len(ids) != 1 {
		return nil
	}
	o, _ := cur.Option(ids[0])
	choice := engine.Choice{Interaction: *cur, OptionIDs: ids, Values: []json.RawMessage{o.Value}}
	events, err := s.resolve(ctx, choice, EvInteractionResolved, true)
	if err != nil {
		return nil
	}
	return events
}

func checkSelection(d engine.Descriptor, ids []string) engine.ErrorCode {
	n := len(ids)
	if d.Max == 0 {
		if n != 1 {
			return ErrInteractionSelectionCount
		}
	} else if n < d.Min || n > d.Max {
		return ErrInteractionSelectionCount
	}
	seen := make(map[string]bool, n)
	for _, id := range ids {
		o, ok := d.Option(id)
		if !ok || seen[id] {
			return ErrInteractionInvalidOption
		}
		if o.Disabled {
			return ErrInteractionOptionDisabled
		}
		seen[id] = true
	}
	return ""
}

func firstEnabled(d engine.Descriptor) string {
	i := slices.IndexFunc(d.Options, func(o engine.Option) bool { return !o.Disabled })
	if i < 0 {
		return ""
	}
	return d.Options[i].ID
}

// Snapshot returns the interactions visible to player. An empty player sees
// the whole stack.
func Snapshot(sys engine.SystemState, player engine.PlayerID) engine.InteractionStack {
	if player == "" {
		return sys.Interaction.Clone()
	}
	return sys.Interaction.ForPlayer(player)
}
