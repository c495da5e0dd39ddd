package systems

import (
	"maps"

	"tabletop/internal/engine"
)

const (
	CmdUseToken = "USE_TOKEN"

	EvTokenGranted  = "TOKEN_GRANTED"
	EvTokenConsumed = "TOKEN_CONSUMED"
)

const (
	ErrTokensUnknown       engine.ErrorCode = "tokens.unknown"
	ErrTokensNoneAvailable engine.ErrorCode = "tokens.none_available"
)

// TokenDef declares a consumable counter. A zero StackLimit means unbounded.
type TokenDef struct {
	ID         string `json:"id"`
	StackLimit int    `json:"stackLimit"`
}

// Grant adds up to amount of def to bag, clamped to the stack limit. It
// returns the new bag and the amount actually added.
func Grant(bag map[string]int, def TokenDef, amount int) (map[string]int, int) {
	out := maps.Clone(bag)
	if out == nil {
		out = make(map[string]int)
	}
	if amount <= 0 {
		return out, 0
	}
	have := out[def.ID]
	next := have + amount
	if def.StackLimit > 0 && next > def.StackLimit {
		next = max(def.StackLimit, have)
	}
	out[def.ID] = next
	return out, next - have
}

// Consume removes up to amount of id from bag, never going below zero. It
// returns the new bag and the amount actually removed.
func Consume(bag map[string]int, id string, amount int) (map[string]int, int) {
	out := maps.Clone(bag)
	if out == nil {
		out = make(map[string]int)
	}
	if amount <= 0 {
		return out, 0
	}
	have := max(out[id], 0)
	used := min(amount, have)
	out[id] = have - used
	return out, used
}

type UseToken struct {
	TokenID string `json:"tokenId"`
	Amount  int    `json:"amount,omitempty"`
}

// TokenChange is the payload of TOKEN_GRANTED and TOKEN_CONSUMED.
type TokenChange struct {
	PlayerID engine.PlayerID `json:"playerId"`
	TokenID  string          `json:"tokenId"`
	Amount   int             `json:"amount"`
}

// GrantEvent is emitted by rule code to hand out tokens.
func GrantEvent(player engine.PlayerID, tokenID string, amount int, ts int64) engine.Event {
	return engine.NewEvent(EvTokenGranted, TokenChange{PlayerID: player, TokenID: tokenID, Amount: amount}, ts)
}

// Tokens is a per-player ledger of consumable counters.
type Tokens[C engine.Core[C]] struct {
	engine.Base[C]
	defs    map[string]TokenDef
	initial map[string]int
}

func NewTokens[C engine.Core[C]](defs []TokenDef, initial map[string]int) *Tokens[C] {
	m := make(map[string]TokenDef, len(defs))
	for _, d := range defs {
		m[d.ID] = d
	}
	return &Tokens[C]{defs: m, initial: initial}
}

func (*Tokens[C]) ID() string    { return "tokens" }
func (*Tokens[C]) Priority() int { return PriorityTokens }

func (s *Tokens[C]) Setup(state *engine.State[C]) {
	state.Sys.Tokens = make(map[engine.PlayerID]map[string]int, len(state.Sys.Players))
	for _, p := range state.Sys.Players {
		bag := make(map[string]int)
		for id, n := range s.initial {
			if def, ok := s.defs[id]; ok {
				bag, _ = Grant(bag, def, n)
			}
		}
		state.Sys.Tokens[p] = bag
	}
}

func (s *Tokens[C]) BeforeCommand(ctx *engine.Context[C]) engine.Outcome {
	cmd := ctx.Command
	if cmd.Type != CmdUseToken {
		return engine.Pass()
	}
	var p UseToken
	if err := cmd.Decode(&p); err != nil {
		return engine.Veto(engine.ErrInvalidPayload)
	}
	if _, ok := s.defs[p.TokenID]; !ok {
		return engine.Veto(ErrTokensUnknown)
	}
	if !ctx.State.Sys.HasPlayer(cmd.PlayerID) {
		return engine.Veto(engine.ErrPlayerMismatch)
	}
	amount := max(p.Amount, 1)
	if ctx.State.Sys.Tokens[cmd.PlayerID][p.TokenID] <= 0 {
		return engine.Veto(ErrTokensNoneAvailable)
	}
	_, used := Consume(ctx.State.Sys.Tokens[cmd.PlayerID], p.TokenID, amount)
	return engine.Consume(engine.NewEvent(EvTokenConsumed, TokenChange{PlayerID: cmd.PlayerID, TokenID: p.TokenID, Amount: used}, cmd.Timestamp))
}

// ReduceSys applies grants and consumption with clamping. Unknown token ids
// are ignored.
func (s *Tokens[C]) ReduceSys(state *engine.State[C], ev engine.Event) error {
	if ev.Type != EvTokenGranted && ev.Type != EvTokenConsumed {
		return nil
	}
	var p TokenChange
	if err := ev.Decode(&p); err != nil {
		return err
	}
	def, ok := s.defs[p.TokenID]
	if !ok {
		return nil
	}
	if state.Sys.Tokens == nil {
		state.Sys.Tokens = make(map[engine.PlayerID]map[string]int)
	}
	bag := state.Sys.Tokens[p.PlayerID]
	if ev.Type == EvTokenGranted {
		bag, _ = Grant(bag, def, p.Amount)
	} else {
		bag, _ = Consume(bag, def.ID, p.Amount)
	}
	state.Sys.Tokens[p.PlayerID] = bag
	return nil
}

// Count returns how many of id player holds.
func Count(sys engine.SystemState, player engine.PlayerID, id string) int {
	return sys.Tokens[player][id]
}
