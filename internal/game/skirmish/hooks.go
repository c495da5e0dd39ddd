package skirmish

import (
	"encoding/json"
	"fmt"

	"tabletop/internal/engine"
	"tabletop/internal/engine/systems"
)

const windowDefend = "defend"

const (
	HookAttackResolve = "attack.resolve"
	HookLastWords     = "unit.last_words"
	HookBaseRally     = "base.rally"
	HookFactionBoons  = "faction.boons"
)

// Attack outcomes.
const (
	OutcomeHit     = "hit"
	OutcomeMissed  = "missed"
	OutcomeBlocked = "blocked"
	OutcomeFizzled = "fizzled"
)

// Interaction kinds and their options.
const (
	KindLastWords = "last_words"
	KindRally     = "rally"

	OptionShield = "shield"
	OptionWeaken = "weaken"
	OptionMarker = "marker"
	OptionPass   = "pass"
)

func baseSource(player engine.PlayerID) string { return "base:" + player }

// Triggers names the hooks interested in ev. A destroyed unit wakes its own
// last words, if it has any, and its owner's base.
func (Rules) Triggers(st engine.State[Arena], ev engine.Event) []engine.Trigger {
	switch ev.Type {
	case systems.EvResponseWindowClosed:
		var p systems.WindowClosed
		if err := ev.Decode(&p); err != nil || p.Kind != windowDefend {
			return nil
		}
		return []engine.Trigger{{SourceID: p.SourceID, HookKey: HookAttackResolve}}

	case EvUnitDestroyed:
		var p UnitDestroyed
		if err := ev.Decode(&p); err != nil {
			return nil
		}
		var out []engine.Trigger
		if cards[p.Card].LastWords {
			out = append(out, engine.Trigger{SourceID: p.UnitID, HookKey: HookLastWords})
		}
		return append(out, engine.Trigger{SourceID: baseSource(p.Owner), HookKey: HookBaseRally})

	case systems.EvSetupCompleted:
		return []engine.Trigger{{SourceID: "setup", HookKey: HookFactionBoons}}
	}
	return nil
}

type lastWordsData struct {
	Attacker string `json:"attacker,omitempty"`
}

// NewRegistry registers skirmish's hooks and resolvers.
func NewRegistry() *engine.Registry[Arena] {
	reg := engine.NewRegistry[Arena]()
	reg.RegisterHook(HookAttackResolve, resolveAttack)
	reg.RegisterHook(HookLastWords, lastWords)
	reg.RegisterHook(HookBaseRally, baseRally)
	reg.RegisterHook(HookFactionBoons, factionBoons)
	reg.RegisterResolver(HookLastWords, resolveLastWords)
	reg.RegisterResolver(HookBaseRally, resolveRally)
	reg.RegisterRefresher(HookLastWords, refreshLastWords)
	return reg
}

// resolveAttack settles an attack once its defend window closes. A defender
// who answered the window blocked it; otherwise a d6 roll of 1 misses.
func resolveAttack(st engine.State[Arena], ev engine.Event, t engine.Trigger, rnd engine.Random) (engine.Reaction, error) {
	var p systems.WindowClosed
	if err := ev.Decode(&p); err != nil {
		return engine.Reaction{}, err
	}
	atk := st.Core.Attack
	if atk == nil || atk.ID != t.SourceID {
		return engine.Reaction{}, nil
	}
	ts := ev.Timestamp
	resolved := func(outcome string, roll int) engine.Event {
		return engine.NewEvent(EvAttackResolved, AttackResolved{AttackID: atk.ID, Outcome: outcome, Roll: roll}, ts)
	}

	if !p.AllPassed {
		return engine.Reaction{Events: []engine.Event{resolved(OutcomeBlocked, 0)}}, nil
	}
	attacker, ok := st.Core.Units[atk.Attacker]
	if !ok {
		return engine.Reaction{Events: []engine.Event{resolved(OutcomeFizzled, 0)}}, nil
	}
	roll := rnd.D(6)
	if roll == attackMissRoll {
		return engine.Reaction{Events: []engine.Event{resolved(OutcomeMissed, roll)}}, nil
	}

	events := []engine.Event{resolved(OutcomeHit, roll)}
	if atk.TargetUnit == "" {
		events = append(events, engine.NewEvent(EvBaseDamaged, BaseDamaged{
			PlayerID: atk.TargetPlayer,
			Amount:   attacker.Power,
			By:       atk.Owner,
		}, ts))
		return engine.Reaction{Events: events}, nil
	}
	defender, ok := st.Core.Units[atk.TargetUnit]
	switch {
	case !ok:
	case attacker.Power >= defender.Power:
		events = append(events, engine.NewEvent(EvUnitDestroyed, UnitDestroyed{
			UnitID: defender.ID,
			Owner:  defender.Owner,
			Card:   defender.Card,
			By:     attacker.ID,
		}, ts))
	default:
		events = append(events, engine.NewEvent(EvUnitWeakened, UnitWeakened{UnitID: defender.ID, Amount: attacker.Power}, ts))
	}
	return engine.Reaction{Events: events}, nil
}

func lastWords(st engine.State[Arena], ev engine.Event, t engine.Trigger, _ engine.Random) (engine.Reaction, error) {
	var p UnitDestroyed
	if err := ev.Decode(&p); err != nil {
		return engine.Reaction{}, err
	}
	data, err := json.Marshal(lastWordsData{Attacker: p.By})
	if err != nil {
		return engine.Reaction{}, fmt.Errorf("encode last words: %w", err)
	}
	return engine.Reaction{Interactions: []engine.Descriptor{{
		PlayerID:    p.Owner,
		Kind:        KindLastWords,
		Options:     lastWordsOptions(st, p.By),
		ResolverKey: HookLastWords,
		RefreshKey:  HookLastWords,
		Min:         1,
		Max:         1,
		Data:        data,
	}}}, nil
}

func lastWordsOptions(st engine.State[Arena], attacker string) []engine.Option {
	_, attackerAlive := st.Core.Units[attacker]
	return []engine.Option{
		{ID: OptionShield, Label: "Raise a shield"},
		{ID: OptionWeaken, Label: "Weaken the attacker", Disabled: !attackerAlive},
	}
}

// refreshLastWords disables the weaken option once the attacker is gone.
func refreshLastWords(st engine.State[Arena], d engine.Descriptor) []engine.Option {
	var data lastWordsData
	if err := json.Unmarshal(d.Data, &data); err != nil {
		return d.Options
	}
	return lastWordsOptions(st, data.Attacker)
}

func resolveLastWords(st engine.State[Arena], player engine.PlayerID, c engine.Choice, _ engine.Random, now int64) (engine.Reaction, error) {
	switch c.First() {
	case OptionShield:
		return engine.Reaction{Events: []engine.Event{systems.GrantEvent(player, TokenShield, 1, now)}}, nil
	case OptionWeaken:
		var d lastWordsData
		if err := json.Unmarshal(c.Interaction.Data, &d); err != nil {
			return engine.Reaction{}, fmt.Errorf("decode last words: %w", err)
		}
		return engine.Reaction{Events: []engine.Event{
			engine.NewEvent(EvUnitWeakened, UnitWeakened{UnitID: d.Attacker, Amount: 1}, now),
		}}, nil
	}
	return engine.Reaction{}, nil
}

func baseRally(st engine.State[Arena], ev engine.Event, t engine.Trigger, _ engine.Random) (engine.Reaction, error) {
	var p UnitDestroyed
	if err := ev.Decode(&p); err != nil {
		return engine.Reaction{}, err
	}
	return engine.Reaction{Interactions: []engine.Descriptor{{
		PlayerID: p.Owner,
		Kind:     KindRally,
		Options: []engine.Option{
			{ID: OptionMarker, Label: "Take a marker"},
			{ID: OptionPass, Label: "Hold"},
		},
		ResolverKey: HookBaseRally,
		Cancellable: true,
	}}}, nil
}

func resolveRally(st engine.State[Arena], player engine.PlayerID, c engine.Choice, _ engine.Random, now int64) (engine.Reaction, error) {
	if c.First() != OptionMarker {
		return engine.Reaction{}, nil
	}
	return engine.Reaction{Events: []engine.Event{systems.GrantEvent(player, TokenMarker, 1, now)}}, nil
}

// factionBoons hands out the tide faction's extra shield once the game starts.
func factionBoons(st engine.State[Arena], ev engine.Event, _ engine.Trigger, _ engine.Random) (engine.Reaction, error) {
	var events []engine.Event
	for _, p := range st.Core.Players {
		if st.Core.Factions[p] == FactionTide {
			events = append(events, systems.GrantEvent(p, TokenShield, 1, ev.Timestamp))
		}
	}
	return engine.Reaction{Events: events}, nil
}

func flowHooks() systems.FlowHooks[Arena] {
	return systems.FlowHooks[Arena]{
		Phases: []string{PhaseDraw, PhasePlay, PhaseEnd},
		CanAdvance: func(st engine.State[Arena], _ engine.PlayerID) engine.ValidationResult {
			if st.Sys.Phase != PhasePlay {
				return engine.Invalid(engine.ErrInvalidPhase)
			}
			return engine.Valid()
		},
		OnEnter: func(st engine.State[Arena], phase string, _ engine.Random) []engine.Event {
			if phase != PhaseDraw {
				return nil
			}
			player := st.Sys.ActivePlayer
			events := []engine.Event{engine.NewEvent(EvUnitsReadied, systems.PlayerRef{PlayerID: player}, 0)}
			if deck := st.Core.Decks[player]; len(deck) > 0 {
				events = append(events, engine.NewEvent(EvCardDrawn, CardDrawn{PlayerID: player, Card: deck[0]}, 0))
			}
			return events
		},
		AutoContinue: func(st engine.State[Arena]) bool {
			return st.Sys.Phase == PhaseDraw || st.Sys.Phase == PhaseEnd
		},
		PhaseCommands: map[string][]string{
			PhaseDraw: {},
			PhasePlay: {CmdPlayUnit, CmdAttack, CmdPlaceToken},
			PhaseEnd:  {},
		},
	}
}

// TutorialManifest is the scripted first game.
func TutorialManifest() engine.TutorialManifest {
	return engine.TutorialManifest{
		ID: "skirmish-basics",
		Steps: []engine.TutorialStep{
			{
				ID:              "play-unit",
				AllowedCommands: []string{CmdPlayUnit},
				AdvanceOn:       []engine.EventMatcher{{Type: EvUnitPlayed}},
				RequireAction:   true,
			},
			{
				ID:              "attack",
				AllowedCommands: []string{CmdAttack, systems.CmdResponsePass},
				AdvanceOn:       []engine.EventMatcher{{Type: EvAttackResolved}},
				RequireAction:   true,
				RandomPolicy:    &engine.RandomPolicy{Mode: engine.PolicyFixed, Values: []int{6}},
			},
			{
				ID:              "place-marker",
				AllowedCommands: []string{CmdPlaceToken},
				AdvanceOn:       []engine.EventMatcher{{Type: EvMarkerPlaced}},
			},
			{
				ID:              "end-turn",
				AllowedCommands: []string{systems.CmdAdvancePhase},
				AdvanceOn: []engine.EventMatcher{{
					Type:  engine.EventPhaseChanged,
					Match: map[string]any{"to": PhaseEnd},
				}},
			},
		},
	}
}
