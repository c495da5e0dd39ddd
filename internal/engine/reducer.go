package engine

import (
	"fmt"
)

// MaxCascade bounds the events one command may apply, cascades included.
const MaxCascade = 512

const (
	EventPhaseChanged = "SYS_PHASE_CHANGED"
)

// PhaseChanged is the payload of SYS_PHASE_CHANGED.
type PhaseChanged struct {
	From         string   `json:"from"`
	To           string   `json:"to"`
	ActivePlayer PlayerID `json:"activePlayer,omitempty"`
	TurnNumber   int      `json:"turnNumber,omitempty"`
}

type dispatchKey struct {
	source string
	seq    uint64
}

// cascade applies events for a single command. It keeps the sequence numbers
// it has reduced and the (source, event) pairs it has dispatched so a hook
// never sees the same event twice, however the event is re-offered.
type cascade[C Core[C]] struct {
	domain    Domain[C]
	registry  *Registry[C]
	triggerer Triggerer[C]
	reducers  []SysReducer[C]

	state *State[C]
	rnd   Random
	now   int64

	seen    map[uint64]bool
	visited map[dispatchKey]bool
	count   int
}

func newCascade[C Core[C]](p *Pipeline[C], state *State[C], rnd Random, now int64) *cascade[C] {
	return &cascade[C]{
		domain:    p.domain,
		registry:  p.registry,
		triggerer: p.triggerer,
		reducers:  p.reducers,
		state:     state,
		rnd:       rnd,
		now:       now,
		seen:      make(map[uint64]bool),
		visited:   make(map[dispatchKey]bool),
	}
}

// apply reduces events and everything they trigger, breadth first, and
// returns the events that were actually applied in order.
func (c *cascade[C]) apply(events []Event) ([]Event, error) {
	queue := append([]Event(nil), events...)
	var applied []Event
	for len(queue) > 0 {
		ev := queue[0]
		queue = queue[1:]

		if ev.Seq != 0 && c.seen[ev.Seq] {
			continue
		}
		if c.count >= MaxCascade {
			return applied, ErrCascadeOverflow
		}
		c.count++

		if ev.Seq == 0 {
			c.state.Sys.NextSeq++
			ev.Seq = c.state.Sys.NextSeq
		} else if ev.Seq > c.state.Sys.NextSeq {
			c.state.Sys.NextSeq = ev.Seq
		}
		if ev.Timestamp == 0 {
			ev.Timestamp = c.now
		}
		c.seen[ev.Seq] = true

		if err := c.reduce(ev); err != nil {
			return applied, err
		}
		applied = append(applied, ev)

		follow, err := c.dispatch(ev)
		if err != nil {
			return applied, err
		}
		queue = append(queue, follow...)
	}
	return applied, nil
}

func (c *cascade[C]) reduce(ev Event) error {
	if ev.IsSystem() {
		if ev.Type == EventPhaseChanged {
			var p PhaseChanged
			if err := ev.Decode(&p); err != nil {
				return err
			}
			c.state.Sys.Phase = p.To
			c.state.Sys.ActivePlayer = p.ActivePlayer
			if p.TurnNumber > 0 {
				c.state.Sys.TurnNumber = p.TurnNumber
			}
		}
	} else {
		core, err := c.domain.Reduce(c.state.Core, ev)
		if err != nil {
			return fmt.Errorf("reduce %s: %w", ev.Type, err)
		}
		c.state.Core = core
	}
	for _, r := range c.reducers {
		if err := r.ReduceSys(c.state, ev); err != nil {
			return fmt.Errorf("system reduce %s: %w", ev.Type, err)
		}
	}
	return nil
}

// dispatch offers ev to each trigger once and collects follow-up events.
// Interactions are pushed in trigger order.
func (c *cascade[C]) dispatch(ev Event) ([]Event, error) {
	if c.triggerer == nil {
		return nil, nil
	}
	var follow []Event
	for _, t := range c.triggerer.Triggers(*c.state, ev) {
		key := dispatchKey{source: t.SourceID, seq: ev.Seq}
		if c.visited[key] {
			continue
		}
		c.visited[key] = true

		hook, ok := c.registry.Hook(t.HookKey)
		if !ok {
			return nil, fmt.Errorf("no hook registered for %q", t.HookKey)
		}
		reaction, err := hook(*c.state, ev, t, c.rnd)
		if err != nil {
			return nil, fmt.Errorf("hook %s on %s: %w", t.HookKey, t.SourceID, err)
		}
		for _, d := range reaction.Interactions {
			if d.SourceID == "" {
				d.SourceID = t.SourceID
			}
			if d.EventSeq == 0 {
				d.EventSeq = ev.Seq
			}
			c.state.Sys.Enqueue(d)
		}
		follow = append(follow, reaction.Events...)
	}
	return follow, nil
}
