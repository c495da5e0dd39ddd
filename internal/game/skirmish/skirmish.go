// Package skirmish is a small unit-and-base battle game. Players pick a
// faction, play units from a shuffled deck, attack opposing units and bases,
// and race to place three markers.
package skirmish

import (
	"fmt"
	"maps"
	"slices"
	"sort"

	"tabletop/internal/engine"
	"tabletop/internal/engine/systems"
	"tabletop/internal/game"
)

const (
	CmdPlayUnit   = "PLAY_UNIT"
	CmdAttack     = "ATTACK"
	CmdPlaceToken = "PLACE_TOKEN"

	EvCardDrawn      = "CARD_DRAWN"
	EvUnitPlayed     = "UNIT_PLAYED"
	EvUnitsReadied   = "UNITS_READIED"
	EvAttackDeclared = "ATTACK_DECLARED"
	EvAttackResolved = "ATTACK_RESOLVED"
	EvUnitDestroyed  = "UNIT_DESTROYED"
	EvUnitWeakened   = "UNIT_WEAKENED"
	EvBaseDamaged    = "BASE_DAMAGED"
	EvMarkerPlaced   = "MARKER_PLACED"
)

const (
	ErrCardNotInHand engine.ErrorCode = "card_not_in_hand"
	ErrBoardFull     engine.ErrorCode = "board_full"
	ErrUnitNotFound  engine.ErrorCode = "unit_not_found"
	ErrNotYourUnit   engine.ErrorCode = "not_your_unit"
	ErrUnitExhausted engine.ErrorCode = "unit_exhausted"
	ErrInvalidTarget engine.ErrorCode = "invalid_target"
	ErrAttackPending engine.ErrorCode = "attack_pending"
	ErrMarkersSpent  engine.ErrorCode = systems.ErrTokensNoneAvailable
)

const (
	PhaseDraw = "draw"
	PhasePlay = "play"
	PhaseEnd  = "end"
)

const (
	TokenMarker = "marker"
	TokenShield = "shield"
)

const (
	FactionEmber = "ember"
	FactionTide  = "tide"
	FactionGrove = "grove"
)

const (
	baseHealth     = 10
	groveHealth    = 3
	handSize       = 3
	maxUnits       = 3
	markersToWin   = 3
	attackMissRoll = 1
)

// Factions lists the selectable factions.
var Factions = []string{FactionEmber, FactionTide, FactionGrove}

// TokenDefs is the token catalogue.
var TokenDefs = []systems.TokenDef{
	{ID: TokenMarker, StackLimit: markersToWin},
	{ID: TokenShield, StackLimit: 2},
}

// Card is a unit template.
type Card struct {
	Power int
	// LastWords cards offer their owner a parting choice when destroyed.
	LastWords bool
}

var cards = map[string]Card{
	"scout":  {Power: 1},
	"knight": {Power: 2},
	"golem":  {Power: 3, LastWords: true},
	"martyr": {Power: 1, LastWords: true},
}

var deckList = []string{"scout", "scout", "knight", "knight", "golem", "golem", "martyr", "martyr"}

// New returns skirmish bound to the engine.
func New(undo systems.UndoConfig, opts ...game.Option) *game.Adapter[Arena] {
	return game.NewAdapter(game.Rules[Arena]{
		Info: game.GameInfo{
			Name:        "skirmish",
			Description: "Pick a faction, field units and place three markers first.",
			MinPlayers:  2,
			MaxPlayers:  len(Factions),
		},
		Domain:   Rules{},
		Registry: NewRegistry(),
		Systems:  Systems(undo),
	}, opts...)
}

// Systems returns the full system stack skirmish runs with.
func Systems(undo systems.UndoConfig) []engine.System[Arena] {
	return append(systems.Standard[Arena](undo),
		systems.NewResponseWindow[Arena](systems.CmdUseToken),
		systems.NewSelection[Arena](systems.SelectionConfig{
			Characters: Factions,
			Exclusive:  true,
			FirstPhase: PhaseDraw,
		}),
		systems.NewFlow[Arena](flowHooks()),
		systems.NewTokens[Arena](TokenDefs, map[string]int{TokenMarker: 2, TokenShield: 1}),
	)
}

// Unit is a card on the board.
type Unit struct {
	ID        string          `json:"id"`
	Owner     engine.PlayerID `json:"owner"`
	Card      string          `json:"card"`
	Power     int             `json:"power"`
	Exhausted bool            `json:"exhausted,omitempty"`
}

// Attack is the attack waiting on its defend window.
type Attack struct {
	ID           string          `json:"id"`
	Attacker     string          `json:"attacker"`
	Owner        engine.PlayerID `json:"owner"`
	TargetUnit   string          `json:"targetUnit,omitempty"`
	TargetPlayer engine.PlayerID `json:"targetPlayer"`
}

// Arena is the skirmish core state.
type Arena struct {
	Players    []engine.PlayerID            `json:"players"`
	Factions   map[engine.PlayerID]string   `json:"factions"`
	Decks      map[engine.PlayerID][]string `json:"decks"`
	Hands      map[engine.PlayerID][]string `json:"hands"`
	Units      map[string]Unit              `json:"units"`
	Bases      map[engine.PlayerID]int      `json:"bases"`
	Markers    map[engine.PlayerID]int      `json:"markers"`
	Attack     *Attack                      `json:"attack,omitempty"`
	NextUnit   int                          `json:"nextUnit"`
	NextAttack int                          `json:"nextAttack"`
	Winner     engine.PlayerID              `json:"winner,omitempty"`
}

func (a Arena) Clone() Arena {
	a.Players = slices.Clone(a.Players)
	a.Factions = maps.Clone(a.Factions)
	a.Decks = cloneLists(a.Decks)
	a.Hands = cloneLists(a.Hands)
	a.Units = maps.Clone(a.Units)
	a.Bases = maps.Clone(a.Bases)
	a.Markers = maps.Clone(a.Markers)
	if a.Attack != nil {
		atk := *a.Attack
		a.Attack = &atk
	}
	return a
}

func cloneLists(m map[engine.PlayerID][]string) map[engine.PlayerID][]string {
	if m == nil {
		return nil
	}
	out := make(map[engine.PlayerID][]string, len(m))
	for k, v := range m {
		out[k] = slices.Clone(v)
	}
	return out
}

// UnitsOf returns player's units ordered by id.
func (a Arena) UnitsOf(player engine.PlayerID) []Unit {
	var out []Unit
	for _, u := range a.Units {
		if u.Owner == player {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type PlayUnit struct {
	Card string `json:"card"`
}

type AttackOrder struct {
	UnitID         string          `json:"unitId"`
	TargetUnitID   string          `json:"targetUnitId,omitempty"`
	TargetPlayerID engine.PlayerID `json:"targetPlayerId,omitempty"`
}

type CardDrawn struct {
	PlayerID engine.PlayerID `json:"playerId"`
	Card     string          `json:"card"`
}

type AttackResolved struct {
	AttackID string `json:"attackId"`
	Outcome  string `json:"outcome"`
	Roll     int    `json:"roll,omitempty"`
}

type UnitDestroyed struct {
	UnitID string          `json:"unitId"`
	Owner  engine.PlayerID `json:"owner"`
	Card   string          `json:"card"`
	By     string          `json:"by,omitempty"`
}

type UnitWeakened struct {
	UnitID string `json:"unitId"`
	Amount int    `json:"amount"`
}

type BaseDamaged struct {
	PlayerID engine.PlayerID `json:"playerId"`
	Amount   int             `json:"amount"`
	By       engine.PlayerID `json:"by"`
}

// Rules implements engine.Domain for skirmish.
type Rules struct{}

func (Rules) ID() string { return "skirmish" }

func (Rules) Setup(players []engine.PlayerID, rnd engine.Random) Arena {
	a := Arena{
		Players:  slices.Clone(players),
		Factions: make(map[engine.PlayerID]string),
		Decks:    make(map[engine.PlayerID][]string),
		Hands:    make(map[engine.PlayerID][]string),
		Units:    make(map[string]Unit),
		Bases:    make(map[engine.PlayerID]int),
		Markers:  make(map[engine.PlayerID]int),
	}
	for _, p := range players {
		deck := slices.Clone(deckList)
		rnd.Shuffle(len(deck), func(i, j int) { deck[i], deck[j] = deck[j], deck[i] })
		a.Hands[p] = deck[:handSize:handSize]
		a.Decks[p] = deck[handSize:]
		a.Bases[p] = baseHealth
	}
	return a
}

func (Rules) Validate(st engine.State[Arena], cmd engine.Command) engine.ValidationResult {
	a := st.Core
	player := cmd.PlayerID
	if !st.Sys.HasPlayer(player) {
		return engine.Invalid(engine.ErrPlayerMismatch)
	}
	switch cmd.Type {
	case CmdPlayUnit:
		var p PlayUnit
		if err := cmd.Decode(&p); err != nil {
			return engine.Invalid(engine.ErrInvalidPayload)
		}
		if !slices.Contains(a.Hands[player], p.Card) {
			return engine.Invalid(ErrCardNotInHand)
		}
		if len(a.UnitsOf(player)) >= maxUnits {
			return engine.Invalid(ErrBoardFull)
		}
	case CmdAttack:
		var p AttackOrder
		if err := cmd.Decode(&p); err != nil {
			return engine.Invalid(engine.ErrInvalidPayload)
		}
		if a.Attack != nil {
			return engine.Invalid(ErrAttackPending)
		}
		u, ok := a.Units[p.UnitID]
		if !ok {
			return engine.Invalid(ErrUnitNotFound)
		}
		if u.Owner != player {
			return engine.Invalid(ErrNotYourUnit)
		}
		if u.Exhausted {
			return engine.Invalid(ErrUnitExhausted)
		}
		if _, ok := target(a, player, p); !ok {
			return engine.Invalid(ErrInvalidTarget)
		}
	case CmdPlaceToken:
		if systems.Count(st.Sys, player, TokenMarker) <= 0 {
			return engine.Invalid(ErrMarkersSpent)
		}
	default:
		return engine.Invalid(engine.ErrUnknownCommand)
	}
	return engine.Valid()
}

// target resolves the defending player of an attack order.
func target(a Arena, attacker engine.PlayerID, p AttackOrder) (engine.PlayerID, bool) {
	if p.TargetUnitID != "" {
		u, ok := a.Units[p.TargetUnitID]
		if !ok || u.Owner == attacker {
			return "", false
		}
		return u.Owner, true
	}
	if p.TargetPlayerID == attacker || !slices.Contains(a.Players, p.TargetPlayerID) {
		return "", false
	}
	return p.TargetPlayerID, true
}

func (Rules) Execute(st engine.State[Arena], cmd engine.Command, _ engine.Random) ([]engine.Event, error) {
	a := st.Core
	player := cmd.PlayerID
	ts := cmd.Timestamp

	switch cmd.Type {
	case CmdPlayUnit:
		var p PlayUnit
		if err := cmd.Decode(&p); err != nil {
			return nil, err
		}
		power := cards[p.Card].Power
		if a.Factions[player] == FactionEmber {
			power++
		}
		u := Unit{
			ID:    fmt.Sprintf("u%d", a.NextUnit+1),
			Owner: player,
			Card:  p.Card,
			Power: power,
		}
		return []engine.Event{engine.NewEvent(EvUnitPlayed, u, ts)}, nil

	case CmdAttack:
		var p AttackOrder
		if err := cmd.Decode(&p); err != nil {
			return nil, err
		}
		defender, _ := target(a, player, p)
		atk := Attack{
			ID:           fmt.Sprintf("atk-%d", a.NextAttack+1),
			Attacker:     p.UnitID,
			Owner:        player,
			TargetUnit:   p.TargetUnitID,
			TargetPlayer: defender,
		}
		return []engine.Event{
			engine.NewEvent(EvAttackDeclared, atk, ts),
			systems.OpenWindow(systems.WindowOpened{
				WindowID:   atk.ID,
				Kind:       windowDefend,
				SourceID:   atk.ID,
				Responders: []engine.PlayerID{defender},
			}, ts),
		}, nil

	case CmdPlaceToken:
		return []engine.Event{
			engine.NewEvent(systems.EvTokenConsumed, systems.TokenChange{PlayerID: player, TokenID: TokenMarker, Amount: 1}, ts),
			engine.NewEvent(EvMarkerPlaced, systems.PlayerRef{PlayerID: player}, ts),
		}, nil
	}
	return nil, fmt.Errorf("unhandled command %s", cmd.Type)
}

func (Rules) Reduce(a Arena, ev engine.Event) (Arena, error) {
	switch ev.Type {
	case systems.EvCharacterSelected:
		var p systems.CharacterSelected
		if err := ev.Decode(&p); err != nil {
			return a, err
		}
		a.Factions[p.PlayerID] = p.CharacterID
		a.Bases[p.PlayerID] = baseHealth
		if p.CharacterID == FactionGrove {
			a.Bases[p.PlayerID] += groveHealth
		}

	case EvCardDrawn:
		var p CardDrawn
		if err := ev.Decode(&p); err != nil {
			return a, err
		}
		deck := a.Decks[p.PlayerID]
		if i := slices.Index(deck, p.Card); i >= 0 {
			a.Decks[p.PlayerID] = slices.Delete(deck, i, i+1)
		}
		a.Hands[p.PlayerID] = append(a.Hands[p.PlayerID], p.Card)

	case EvUnitPlayed:
		var u Unit
		if err := ev.Decode(&u); err != nil {
			return a, err
		}
		hand := a.Hands[u.Owner]
		if i := slices.Index(hand, u.Card); i >= 0 {
			a.Hands[u.Owner] = slices.Delete(hand, i, i+1)
		}
		a.Units[u.ID] = u
		a.NextUnit++

	case EvUnitsReadied:
		var p systems.PlayerRef
		if err := ev.Decode(&p); err != nil {
			return a, err
		}
		for id, u := range a.Units {
			if u.Owner == p.PlayerID {
				u.Exhausted = false
				a.Units[id] = u
			}
		}

	case EvAttackDeclared:
		var atk Attack
		if err := ev.Decode(&atk); err != nil {
			return a, err
		}
		if u, ok := a.Units[atk.Attacker]; ok {
			u.Exhausted = true
			a.Units[atk.Attacker] = u
		}
		a.Attack = &atk
		a.NextAttack++

	case EvAttackResolved:
		a.Attack = nil

	case EvUnitDestroyed:
		var p UnitDestroyed
		if err := ev.Decode(&p); err != nil {
			return a, err
		}
		delete(a.Units, p.UnitID)

	case EvUnitWeakened:
		var p UnitWeakened
		if err := ev.Decode(&p); err != nil {
			return a, err
		}
		if u, ok := a.Units[p.UnitID]; ok {
			u.Power = max(u.Power-p.Amount, 0)
			a.Units[p.UnitID] = u
		}

	case EvBaseDamaged:
		var p BaseDamaged
		if err := ev.Decode(&p); err != nil {
			return a, err
		}
		a.Bases[p.PlayerID] -= p.Amount
		if a.Bases[p.PlayerID] <= 0 && a.Winner == "" {
			a.Winner = p.By
		}

	case EvMarkerPlaced:
		var p systems.PlayerRef
		if err := ev.Decode(&p); err != nil {
			return a, err
		}
		a.Markers[p.PlayerID]++
		if a.Markers[p.PlayerID] >= markersToWin && a.Winner == "" {
			a.Winner = p.PlayerID
		}
	}
	return a, nil
}

func (Rules) IsGameOver(a Arena) *engine.GameOver {
	if a.Winner == "" {
		return nil
	}
	return &engine.GameOver{Winner: a.Winner, Scores: maps.Clone(a.Markers)}
}

func (Rules) LegalCommands(st engine.State[Arena], player engine.PlayerID) []engine.Command {
	a := st.Core
	sys := st.Sys
	var cmds []engine.Command
	add := func(typ string, payload any) {
		cmds = append(cmds, engine.NewCommand(typ, player, payload))
	}

	if sys.Selection.Enabled && !sys.Selection.Started {
		for _, f := range Factions {
			add(systems.CmdSelectCharacter, systems.SelectCharacter{CharacterID: f})
		}
		add(systems.CmdPlayerReady, nil)
		add(systems.CmdHostStartGame, nil)
		return cmds
	}
	if sys.ResponseWindow.Current != nil {
		add(systems.CmdResponsePass, nil)
		add(systems.CmdUseToken, systems.UseToken{TokenID: TokenShield})
		return cmds
	}
	if sys.Phase != PhasePlay || sys.ActivePlayer != player {
		return nil
	}

	seen := make(map[string]bool)
	for _, c := range a.Hands[player] {
		if !seen[c] {
			seen[c] = true
			add(CmdPlayUnit, PlayUnit{Card: c})
		}
	}
	for _, u := range a.UnitsOf(player) {
		for _, opp := range sys.Opponents(player) {
			add(CmdAttack, AttackOrder{UnitID: u.ID, TargetPlayerID: opp})
			for _, t := range a.UnitsOf(opp) {
				add(CmdAttack, AttackOrder{UnitID: u.ID, TargetUnitID: t.ID})
			}
		}
	}
	add(CmdPlaceToken, nil)
	add(systems.CmdAdvancePhase, nil)
	return cmds
}

type playerView struct {
	Players   []engine.PlayerID          `json:"players"`
	Factions  map[engine.PlayerID]string `json:"factions"`
	Hand      []string                   `json:"hand"`
	HandSizes map[engine.PlayerID]int    `json:"handSizes"`
	DeckSizes map[engine.PlayerID]int    `json:"deckSizes"`
	Units     []Unit                     `json:"units"`
	Bases     map[engine.PlayerID]int    `json:"bases"`
	Markers   map[engine.PlayerID]int    `json:"markers"`
	Attack    *Attack                    `json:"attack,omitempty"`
	Winner    engine.PlayerID            `json:"winner,omitempty"`
}

// PlayerView hides other players' hands and every deck order.
func (Rules) PlayerView(st engine.State[Arena], player engine.PlayerID) any {
	a := st.Core
	v := playerView{
		Players:   a.Players,
		Factions:  a.Factions,
		Hand:      slices.Clone(a.Hands[player]),
		HandSizes: make(map[engine.PlayerID]int, len(a.Players)),
		DeckSizes: make(map[engine.PlayerID]int, len(a.Players)),
		Bases:     a.Bases,
		Markers:   a.Markers,
		Attack:    a.Attack,
		Winner:    a.Winner,
	}
	for _, p := range a.Players {
		v.HandSizes[p] = len(a.Hands[p])
		v.DeckSizes[p] = len(a.Decks[p])
		v.Units = append(v.Units, a.UnitsOf(p)...)
	}
	return v
}

// ViewEvent hides the card in another player's draw.
func (Rules) ViewEvent(_ engine.State[Arena], player engine.PlayerID, ev engine.Event) (engine.Event, bool) {
	if ev.Type != EvCardDrawn {
		return ev, true
	}
	var p CardDrawn
	if err := ev.Decode(&p); err != nil {
		return ev, false
	}
	if p.PlayerID == player {
		return ev, true
	}
	hidden := engine.NewEvent(ev.Type, CardDrawn{PlayerID: p.PlayerID}, ev.Timestamp)
	hidden.Seq = ev.Seq
	return hidden, true
}
