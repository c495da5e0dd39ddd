package engine

// Outcome is a system's verdict on an incoming command.
type Outcome struct {
	// Veto rejects the command; the input state is returned unchanged.
	Veto ErrorCode
	// Consumed means the system handled the command itself and the domain
	// never sees it. Events are applied through the reducer.
	Consumed bool
	Events   []Event
	// Err is an internal failure and faults the command.
	Err error
}

// Pass lets the command continue down the pipeline.
func Pass() Outcome { return Outcome{} }

// Veto rejects the command with code.
func Veto(code ErrorCode) Outcome { return Outcome{Veto: code} }

// Consume handles the command and emits events.
func Consume(events ...Event) Outcome { return Outcome{Consumed: true, Events: events} }

// Fail faults the command.
func Fail(err error) Outcome { return Outcome{Err: err} }

// Context is handed to systems for one command. State is the pipeline's
// private working copy and may be modified in place.
type Context[C Core[C]] struct {
	State    *State[C]
	Command  Command
	Random   Random
	Now      int64
	Domain   Domain[C]
	Registry *Registry[C]
	// Events holds the events applied since the previous after-events round.
	Events []Event
	// Round counts after-events rounds, starting at zero.
	Round int
}

// System is a cross-cutting state machine wrapped around the domain.
type System[C Core[C]] interface {
	ID() string
	// Priority orders systems; lower runs first.
	Priority() int
	// Setup initializes the system's slice of a fresh match state.
	Setup(state *State[C])
	BeforeCommand(ctx *Context[C]) Outcome
	// AfterEvents may emit follow-up events for the events in ctx.Events.
	AfterEvents(ctx *Context[C]) []Event
}

// SysReducer is implemented by systems that keep sub-state driven by events.
type SysReducer[C Core[C]] interface {
	ReduceSys(state *State[C], ev Event) error
}

// Base gives a system no-op hooks to embed.
type Base[C Core[C]] struct{}

func (Base[C]) Setup(*State[C])                   {}
func (Base[C]) BeforeCommand(*Context[C]) Outcome { return Pass() }
func (Base[C]) AfterEvents(*Context[C]) []Event   { return nil }
