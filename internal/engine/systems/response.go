package systems

import (
	"slices"

	"tabletop/internal/engine"
)

const (
	CmdResponsePass = "RESPONSE_PASS"

	EvResponseWindowOpened           = "SYS_RESPONSE_WINDOW_OPENED"
	EvResponseWindowResponderChanged = "SYS_RESPONSE_WINDOW_RESPONDER_CHANGED"
	EvResponseWindowClosed           = "SYS_RESPONSE_WINDOW_CLOSED"
	EvResponseWindowLocked           = "SYS_RESPONSE_WINDOW_LOCKED"
)

const (
	ErrResponseWindowPending      engine.ErrorCode = "response_window.pending"
	ErrResponseWindowNotResponder engine.ErrorCode = "response_window.not_responder"
	ErrResponseWindowNone         engine.ErrorCode = "response_window.none"
	ErrResponseWindowLocked       engine.ErrorCode = "response_window.locked"
)

type WindowOpened struct {
	WindowID   string            `json:"windowId"`
	Kind       string            `json:"kind"`
	SourceID   string            `json:"sourceId,omitempty"`
	Responders []engine.PlayerID `json:"responders"`
}

// OpenWindow builds the event rule code emits to pause for responses.
func OpenWindow(w WindowOpened, ts int64) engine.Event {
	return engine.NewEvent(EvResponseWindowOpened, w, ts)
}

type ResponsePass struct {
	ForPlayerID engine.PlayerID `json:"forPlayerId,omitempty"`
}

// ResponderChanged moves the window on. Exactly one of Passed and
// RespondedBy names the previous responder.
type ResponderChanged struct {
	WindowID    string          `json:"windowId"`
	Passed      engine.PlayerID `json:"passed,omitempty"`
	RespondedBy engine.PlayerID `json:"respondedBy,omitempty"`
	Responder   engine.PlayerID `json:"responder"`
}

// WindowLocked holds the window until InteractionID is resolved.
type WindowLocked struct {
	WindowID      string `json:"windowId"`
	InteractionID string `json:"interactionId"`
}

type WindowClosed struct {
	WindowID    string          `json:"windowId"`
	Kind        string          `json:"kind"`
	SourceID    string          `json:"sourceId,omitempty"`
	AllPassed   bool            `json:"allPassed"`
	RespondedBy engine.PlayerID `json:"respondedBy,omitempty"`
}

// ResponseWindow pauses the turn while responders, in order, either pass or
// use one of the configured response commands. Each answer moves the window to
// the next responder; it closes after the last one. When a response leaves the
// responder with an interaction, the window waits for it to be resolved.
type ResponseWindow[C engine.Core[C]] struct {
	engine.Base[C]
	responses []string
}

func NewResponseWindow[C engine.Core[C]](responseCommands ...string) *ResponseWindow[C] {
	return &ResponseWindow[C]{responses: responseCommands}
}

func (*ResponseWindow[C]) ID() string    { return "response_window" }
func (*ResponseWindow[C]) Priority() int { return PriorityResponseWindow }

func (s *ResponseWindow[C]) BeforeCommand(ctx *engine.Context[C]) engine.Outcome {
	cmd := ctx.Command
	w := ctx.State.Sys.ResponseWindow.Current

	if w == nil {
		if cmd.Type == CmdResponsePass {
			return engine.Veto(ErrResponseWindowNone)
		}
		return engine.Pass()
	}
	responder := w.Responder()

	switch {
	case w.Pending != "" && (cmd.Type == CmdResponsePass || slices.Contains(s.responses, cmd.Type)):
		return engine.Veto(ErrResponseWindowLocked)
	case cmd.Type == CmdResponsePass:
		var p ResponsePass
		if err := cmd.Decode(&p); err != nil {
			return engine.Veto(engine.ErrInvalidPayload)
		}
		who := cmd.PlayerID
		if p.ForPlayerID != "" {
			who = p.ForPlayerID
		}
		if who != responder {
			return engine.Veto(ErrResponseWindowNotResponder)
		}
		return engine.Consume(passEvents(w, who, cmd.Timestamp))
	case cmd.IsSystem():
		return engine.Pass()
	case slices.Contains(s.responses, cmd.Type):
		if cmd.PlayerID != responder {
			return engine.Veto(ErrResponseWindowNotResponder)
		}
		return engine.Pass()
	}
	return engine.Veto(ErrResponseWindowPending)
}

func passEvents(w *engine.ResponseWindow, who engine.PlayerID, ts int64) engine.Event {
	return nextResponder(w, ResponderChanged{WindowID: w.ID, Passed: who}, ts)
}

// nextResponder moves w past its current responder, or closes it when nobody
// is left. The window counts as all passed only if nobody responded.
func nextResponder(w *engine.ResponseWindow, change ResponderChanged, ts int64) engine.Event {
	if w.Index+1 < len(w.Responders) {
		change.Responder = w.Responders[w.Index+1]
		return engine.NewEvent(EvResponseWindowResponderChanged, change, ts)
	}
	responded := slices.Clone(w.Responded)
	if change.RespondedBy != "" {
		responded = append(responded, change.RespondedBy)
	}
	closed := WindowClosed{
		WindowID:  w.ID,
		Kind:      w.Kind,
		SourceID:  w.SourceID,
		AllPassed: len(responded) == 0,
	}
	if len(responded) > 0 {
		closed.RespondedBy = responded[0]
	}
	return engine.NewEvent(EvResponseWindowClosed, closed, ts)
}

// AfterEvents moves the window on once its responder has responded, or has
// resolved the interaction the response raised. Windows opened with nobody to
// ask close straight away.
func (s *ResponseWindow[C]) AfterEvents(ctx *engine.Context[C]) []engine.Event {
	w := ctx.State.Sys.ResponseWindow.Current
	if w == nil {
		return nil
	}
	if len(w.Responders) == 0 {
		return []engine.Event{engine.NewEvent(EvResponseWindowClosed, WindowClosed{
			WindowID: w.ID, Kind: w.Kind, SourceID: w.SourceID, AllPassed: true,
		}, ctx.Now)}
	}
	responder := w.Responder()

	if w.Pending != "" {
		for _, ev := range ctx.Events {
			switch ev.Type {
			case EvInteractionResolved, EvInteractionCancelled, EvInteractionExpired:
				var p InteractionResolved
				if err := ev.Decode(&p); err == nil && p.InteractionID == w.Pending {
					return []engine.Event{nextResponder(w, ResponderChanged{WindowID: w.ID, RespondedBy: responder}, ctx.Now)}
				}
			}
		}
		return nil
	}

	cmd := ctx.Command
	if ctx.Round > 0 || !slices.Contains(s.responses, cmd.Type) || cmd.PlayerID != responder {
		return nil
	}
	for _, ev := range ctx.Events {
		if ev.Type == EvResponseWindowOpened {
			return nil
		}
	}
	for _, d := range ctx.State.Sys.Interaction.All() {
		if d.PlayerID == responder {
			return []engine.Event{engine.NewEvent(EvResponseWindowLocked, WindowLocked{WindowID: w.ID, InteractionID: d.ID}, ctx.Now)}
		}
	}
	return []engine.Event{nextResponder(w, ResponderChanged{WindowID: w.ID, RespondedBy: responder}, ctx.Now)}
}

func (s *ResponseWindow[C]) ReduceSys(state *engine.State[C], ev engine.Event) error {
	rw := &state.Sys.ResponseWindow
	switch ev.Type {
	case EvResponseWindowOpened:
		var p WindowOpened
		if err := ev.Decode(&p); err != nil {
			return err
		}
		rw.Current = &engine.ResponseWindow{
			ID:         p.WindowID,
			Kind:       p.Kind,
			SourceID:   p.SourceID,
			Responders: slices.Clone(p.Responders),
		}
	case EvResponseWindowResponderChanged:
		var p ResponderChanged
		if err := ev.Decode(&p); err != nil {
			return err
		}
		if w := rw.Current; w != nil {
			if p.Passed != "" {
				w.Passed = append(w.Passed, p.Passed)
			}
			if p.RespondedBy != "" {
				w.Responded = append(w.Responded, p.RespondedBy)
			}
			w.Index++
			w.Pending = ""
		}
	case EvResponseWindowLocked:
		var p WindowLocked
		if err := ev.Decode(&p); err != nil {
			return err
		}
		if rw.Current != nil {
			rw.Current.Pending = p.InteractionID
		}
	case EvResponseWindowClosed:
		rw.Current = nil
	}
	return nil
}
