package engine

import (
	"errors"
	"fmt"
	"sort"
)

// maxAfterRounds bounds how many times systems may react to their own events.
const maxAfterRounds = 10

// Result is the outcome of one command. On rejection or fault State is the
// input state, untouched.
type Result[C Core[C]] struct {
	State  State[C]
	Events []Event
	Error  ErrorCode
	Fault  error
}

// OK reports whether the command committed.
func (r Result[C]) OK() bool { return r.Error == "" && r.Fault == nil }

// Pipeline runs commands through the systems and the domain.
type Pipeline[C Core[C]] struct {
	domain    Domain[C]
	registry  *Registry[C]
	systems   []System[C]
	reducers  []SysReducer[C]
	triggerer Triggerer[C]
}

// NewPipeline orders systems by priority, keeping registration order for
// ties. A nil registry is replaced with an empty one.
func NewPipeline[C Core[C]](d Domain[C], reg *Registry[C], systems ...System[C]) *Pipeline[C] {
	if reg == nil {
		reg = NewRegistry[C]()
	}
	sorted := append([]System[C](nil), systems...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority() < sorted[j].Priority() })

	p := &Pipeline[C]{domain: d, registry: reg, systems: sorted}
	for _, s := range sorted {
		if r, ok := s.(SysReducer[C]); ok {
			p.reducers = append(p.reducers, r)
		}
	}
	if t, ok := d.(Triggerer[C]); ok {
		p.triggerer = t
	}
	return p
}

func (p *Pipeline[C]) Domain() Domain[C]     { return p.domain }
func (p *Pipeline[C]) Registry() *Registry[C] { return p.registry }

// System looks up a system by id.
func (p *Pipeline[C]) System(id string) (System[C], bool) {
	for _, s := range p.systems {
		if s.ID() == id {
			return s, true
		}
	}
	return nil, false
}

// Setup creates the initial state for a match.
func (p *Pipeline[C]) Setup(matchID string, players []PlayerID, rnd Random) State[C] {
	st := State[C]{
		Sys: SystemState{
			SchemaVersion: schemaVersion,
			MatchID:       matchID,
			Players:       append([]PlayerID(nil), players...),
			TurnNumber:    1,
			Interaction:   InteractionStack{Queue: []Descriptor{}},
		},
		Core: p.domain.Setup(players, rnd),
	}
	if len(players) > 0 {
		st.Sys.ActivePlayer = players[0]
	}
	for _, s := range p.systems {
		s.Setup(&st)
	}
	return st
}

// Execute applies one command atomically. The input state is never modified:
// a veto, a failed validation or a fault returns it as is.
func (p *Pipeline[C]) Execute(state State[C], cmd Command, rnd Random, now int64) (res Result[C]) {
	defer func() {
		if r := recover(); r != nil {
			err, ok := r.(error)
			if !ok {
				err = fmt.Errorf("%v", r)
			}
			res = p.fault(state, cmd, err)
		}
	}()

	if cmd.Timestamp == 0 {
		cmd.Timestamp = now
	}
	work := state.Clone()

	tutorialStep := work.Sys.Tutorial.StepIndex
	rnd = WithPolicy(rnd, work.Sys.Tutorial.RandomPolicy)

	cas := newCascade(p, &work, rnd, now)
	ctx := &Context[C]{
		State:    &work,
		Command:  cmd,
		Random:   rnd,
		Now:      now,
		Domain:   p.domain,
		Registry: p.registry,
	}

	var applied []Event
	consumed := false
	for _, s := range p.systems {
		out := s.BeforeCommand(ctx)
		if out.Err != nil {
			return p.fault(state, cmd, fmt.Errorf("%s: %w", s.ID(), out.Err))
		}
		if out.Veto != "" {
			return Result[C]{State: state, Error: out.Veto}
		}
		if out.Consumed {
			evs, err := cas.apply(out.Events)
			if err != nil {
				return p.fault(state, cmd, err)
			}
			applied = evs
			consumed = true
			break
		}
	}

	if !consumed {
		v := p.domain.Validate(work, cmd)
		if !v.Valid {
			code := v.Error
			if code == "" {
				code = ErrCommandFailed
			}
			return Result[C]{State: state, Error: code}
		}
		evs, err := p.domain.Execute(work, cmd, rnd)
		if err != nil {
			return p.fault(state, cmd, err)
		}
		applied, err = cas.apply(evs)
		if err != nil {
			return p.fault(state, cmd, err)
		}
	}
	p.checkGameOver(&work)

	fresh := applied
	for round := 0; round < maxAfterRounds && len(fresh) > 0; round++ {
		ctx.Events = fresh
		ctx.Round = round
		var next []Event
		for _, s := range p.systems {
			next = append(next, s.AfterEvents(ctx)...)
		}
		if len(next) == 0 {
			break
		}
		evs, err := cas.apply(next)
		if err != nil {
			return p.fault(state, cmd, err)
		}
		applied = append(applied, evs...)
		fresh = evs
		p.checkGameOver(&work)
	}

	if pr, ok := rnd.(*PolicyRandom); ok {
		tut := &work.Sys.Tutorial
		if tut.Active && tut.StepIndex == tutorialStep && tut.RandomPolicy != nil {
			tut.RandomPolicy.Cursor = pr.Cursor()
		}
	}

	return Result[C]{State: work, Events: applied}
}

func (p *Pipeline[C]) checkGameOver(st *State[C]) {
	if st.Sys.Gameover != nil {
		return
	}
	st.Sys.Gameover = p.domain.IsGameOver(st.Core)
}

func (p *Pipeline[C]) fault(state State[C], cmd Command, err error) Result[C] {
	var f *Fault
	if !errors.As(err, &f) {
		f = &Fault{Command: cmd.Type, Err: err}
	}
	return Result[C]{State: state, Error: ErrCommandFailed, Fault: f}
}
