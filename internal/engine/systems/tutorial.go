package systems

import (
	"slices"

	"tabletop/internal/engine"
)

const (
	CmdTutorialStart = "SYS_TUTORIAL_START"
	CmdTutorialNext  = "SYS_TUTORIAL_NEXT"
	CmdTutorialClose = "SYS_TUTORIAL_CLOSE"

	EvTutorialStarted     = "SYS_TUTORIAL_STARTED"
	EvTutorialStepChanged = "SYS_TUTORIAL_STEP_CHANGED"
	EvTutorialClosed      = "SYS_TUTORIAL_CLOSED"
)

const (
	ErrTutorialInvalidManifest engine.ErrorCode = "tutorial.invalid_manifest"
	ErrTutorialCommandBlocked  engine.ErrorCode = "tutorial.command_blocked"
	ErrTutorialStepLocked      engine.ErrorCode = "tutorial.step_locked"
	ErrTutorialNotActive       engine.ErrorCode = "tutorial.not_active"
)

type TutorialStart struct {
	Manifest engine.TutorialManifest `json:"manifest"`
}

type TutorialStepChanged struct {
	From   int    `json:"from"`
	To     int    `json:"to"`
	StepID string `json:"stepId"`
}

type TutorialClosed struct {
	ManifestID string `json:"manifestId"`
	Completed  bool   `json:"completed"`
}

// Tutorial keeps the player on a scripted path: each step narrows the legal
// command set and advances on a manual skip or a matching event.
type Tutorial[C engine.Core[C]] struct {
	engine.Base[C]
}

func NewTutorial[C engine.Core[C]]() *Tutorial[C] { return &Tutorial[C]{} }

func (*Tutorial[C]) ID() string    { return "tutorial" }
func (*Tutorial[C]) Priority() int { return PriorityTutorial }

// ValidateManifest checks that a manifest has an id and uniquely named steps.
func ValidateManifest(m engine.TutorialManifest) bool {
	if m.ID == "" || len(m.Steps) == 0 {
		return false
	}
	seen := make(map[string]bool, len(m.Steps))
	for _, st := range m.Steps {
		if st.ID == "" || seen[st.ID] {
			return false
		}
		seen[st.ID] = true
	}
	return true
}

func (s *Tutorial[C]) BeforeCommand(ctx *engine.Context[C]) engine.Outcome {
	cmd := ctx.Command
	tut := ctx.State.Sys.Tutorial
	ts := cmd.Timestamp

	switch cmd.Type {
	case CmdTutorialStart:
		var p TutorialStart
		if err := cmd.Decode(&p); err != nil || !ValidateManifest(p.Manifest) {
			return engine.Veto(ErrTutorialInvalidManifest)
		}
		return engine.Consume(engine.NewEvent(EvTutorialStarted, p, ts))
	case CmdTutorialNext:
		if !tut.Active {
			return engine.Veto(ErrTutorialNotActive)
		}
		if !tut.AllowManualSkip {
			return engine.Veto(ErrTutorialStepLocked)
		}
		return engine.Consume(advanceTutorial(tut, ts)...)
	case CmdTutorialClose:
		if !tut.Active {
			return engine.Veto(ErrTutorialNotActive)
		}
		return engine.Consume(engine.NewEvent(EvTutorialClosed, TutorialClosed{ManifestID: tut.ManifestID}, ts))
	}

	step := tut.Step()
	if step == nil || cmd.IsSystem() {
		return engine.Pass()
	}
	if slices.Contains(step.BlockedCommands, cmd.Type) {
		return engine.Veto(ErrTutorialCommandBlocked)
	}
	if len(step.AllowedCommands) > 0 && !slices.Contains(step.AllowedCommands, cmd.Type) {
		return engine.Veto(ErrTutorialCommandBlocked)
	}
	return engine.Pass()
}

func (s *Tutorial[C]) AfterEvents(ctx *engine.Context[C]) []engine.Event {
	tut := ctx.State.Sys.Tutorial
	step := tut.Step()
	if step == nil || len(step.AdvanceOn) == 0 {
		return nil
	}
	for _, ev := range ctx.Events {
		if ev.Type == EvTutorialStarted || ev.Type == EvTutorialStepChanged {
			continue
		}
		for _, m := range step.AdvanceOn {
			if m.Matches(ev) {
				return advanceTutorial(tut, ctx.Now)
			}
		}
	}
	return nil
}

func advanceTutorial(tut engine.TutorialState, ts int64) []engine.Event {
	next := tut.StepIndex + 1
	if next >= len(tut.Steps) {
		return []engine.Event{engine.NewEvent(EvTutorialClosed, TutorialClosed{ManifestID: tut.ManifestID, Completed: true}, ts)}
	}
	return []engine.Event{engine.NewEvent(EvTutorialStepChanged, TutorialStepChanged{
		From:   tut.StepIndex,
		To:     next,
		StepID: tut.Steps[next].ID,
	}, ts)}
}

func (s *Tutorial[C]) ReduceSys(state *engine.State[C], ev engine.Event) error {
	tut := &state.Sys.Tutorial
	switch ev.Type {
	case EvTutorialStarted:
		var p TutorialStart
		if err := ev.Decode(&p); err != nil {
			return err
		}
		*tut = engine.TutorialState{
			Active:                  true,
			ManifestID:              p.Manifest.ID,
			Steps:                   p.Manifest.Steps,
			ManifestAllowManualSkip: p.Manifest.AllowManualSkip,
			ManifestRandomPolicy:    p.Manifest.RandomPolicy,
		}
		enterStep(tut, 0)
	case EvTutorialStepChanged:
		var p TutorialStepChanged
		if err := ev.Decode(&p); err != nil {
			return err
		}
		enterStep(tut, p.To)
	case EvTutorialClosed:
		*tut = engine.TutorialState{}
	}
	return nil
}

func enterStep(tut *engine.TutorialState, i int) {
	tut.StepIndex = i
	step := tut.Steps[i]

	policy := step.RandomPolicy
	if policy == nil {
		policy = tut.ManifestRandomPolicy
	}
	tut.RandomPolicy = nil
	if policy != nil {
		p := *policy
		p.Values = slices.Clone(p.Values)
		tut.RandomPolicy = &p
	}

	switch {
	case step.RequireAction:
		tut.AllowManualSkip = false
	case step.AllowManualSkip != nil:
		tut.AllowManualSkip = *step.AllowManualSkip
	case tut.ManifestAllowManualSkip != nil:
		tut.AllowManualSkip = *tut.ManifestAllowManualSkip
	default:
		tut.AllowManualSkip = true
	}
}
