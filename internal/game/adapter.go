package game

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tabletop/internal/engine"
	"tabletop/internal/engine/systems"
)

// Rules bundle everything a game contributes to the engine.
type Rules[C engine.Core[C]] struct {
	Info     GameInfo
	Domain   engine.Domain[C]
	Registry *engine.Registry[C]
	Systems  []engine.System[C]
	// Results ranks players once the match is over. Nil ranks from the
	// recorded game-over winner.
	Results func(state engine.State[C]) []PlayerResult
}

// Adapter binds a rule set and its systems to the hosting Game contract.
type Adapter[C engine.Core[C]] struct {
	info     GameInfo
	pipeline *engine.Pipeline[C]
	results  func(state engine.State[C]) []PlayerResult
	logger   *zap.Logger
	clock    func() int64
}

// Option configures an Adapter.
type Option func(*adapterOptions)

type adapterOptions struct {
	logger *zap.Logger
	clock  func() int64
}

// WithLogger sets the logger used for rejected and faulted commands.
func WithLogger(l *zap.Logger) Option {
	return func(o *adapterOptions) { o.logger = l }
}

// WithClock replaces the millisecond clock used to stamp commands.
func WithClock(now func() int64) Option {
	return func(o *adapterOptions) { o.clock = now }
}

// NewAdapter builds the pipeline for rules.
func NewAdapter[C engine.Core[C]](rules Rules[C], opts ...Option) *Adapter[C] {
	o := adapterOptions{
		logger: zap.NewNop(),
		clock:  func() int64 { return time.Now().UnixMilli() },
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Adapter[C]{
		info:     rules.Info,
		pipeline: engine.NewPipeline(rules.Domain, rules.Registry, rules.Systems...),
		results:  rules.Results,
		logger:   o.logger.With(zap.String("game", rules.Info.Name)),
		clock:    o.clock,
	}
}

func (a *Adapter[C]) Info() GameInfo { return a.info }

// Pipeline exposes the underlying pipeline.
func (a *Adapter[C]) Pipeline() *engine.Pipeline[C] { return a.pipeline }

func (a *Adapter[C]) NewMatch(cfg MatchConfig) (Match, error) {
	return a.Start(cfg)
}

// Start creates a typed match.
func (a *Adapter[C]) Start(cfg MatchConfig) (*AdapterMatch[C], error) {
	n := len(cfg.PlayerIDs)
	if n < a.info.MinPlayers || (a.info.MaxPlayers > 0 && n > a.info.MaxPlayers) {
		return nil, fmt.Errorf("%w: %s needs %d-%d, got %d", ErrPlayerCount, a.info.Name, a.info.MinPlayers, a.info.MaxPlayers, n)
	}
	if cfg.MatchID == "" {
		cfg.MatchID = uuid.NewString()
	}
	if cfg.Seed == 0 {
		cfg.Seed = seedFrom(cfg.MatchID)
	}
	cfg.PlayerIDs = append([]string(nil), cfg.PlayerIDs...)
	return &AdapterMatch[C]{
		adapter: a,
		cfg:     cfg,
		state:   a.pipeline.Setup(cfg.MatchID, cfg.PlayerIDs, engine.NewSeeded(cfg.Seed, 0)),
	}, nil
}

// seedFrom derives a stable seed from a match id.
func seedFrom(id string) uint64 {
	u, err := uuid.Parse(id)
	if err != nil {
		u = uuid.NewSHA1(uuid.NameSpaceOID, []byte(id))
	}
	if s := binary.BigEndian.Uint64(u[:8]) ^ binary.BigEndian.Uint64(u[8:]); s != 0 {
		return s
	}
	return 1
}

// AdapterMatch is a live match. Every method takes the match lock, so the
// engine sees one command at a time.
type AdapterMatch[C engine.Core[C]] struct {
	mu      sync.Mutex
	adapter *Adapter[C]
	cfg     MatchConfig
	seq     uint64
	state   engine.State[C]
	last    []engine.Event
}

func (m *AdapterMatch[C]) ID() string { return m.cfg.MatchID }

func (m *AdapterMatch[C]) Config() MatchConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg := m.cfg
	cfg.PlayerIDs = append([]string(nil), m.cfg.PlayerIDs...)
	return cfg
}

// Snapshot returns a copy of the full engine state.
func (m *AdapterMatch[C]) Snapshot() engine.State[C] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

// Apply stamps cmd, derives the command's random stream from the match seed
// and the accepted-command count, and runs it through the pipeline.
func (m *AdapterMatch[C]) Apply(cmd engine.Command) (Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cmd.Timestamp == 0 {
		cmd.Timestamp = m.adapter.clock()
	}
	rnd := engine.NewSeeded(m.cfg.Seed, m.seq+1)
	res := m.adapter.pipeline.Execute(m.state, cmd, rnd, cmd.Timestamp)

	log := m.adapter.logger.With(
		zap.String("match", m.cfg.MatchID),
		zap.String("command", cmd.Type),
		zap.String("player", cmd.PlayerID),
	)
	if res.Fault != nil {
		log.Error("command faulted", zap.Error(res.Fault))
		return Outcome{Command: cmd, Error: res.Error}, res.Fault
	}
	if res.Error != "" {
		log.Debug("command rejected", zap.String("code", string(res.Error)))
		return Outcome{Command: cmd, Error: res.Error}, nil
	}

	m.state = res.State
	m.seq++
	m.last = res.Events
	return Outcome{Accepted: true, Command: cmd, Events: res.Events}, nil
}

// Replay re-applies journaled commands. Every command must be accepted
// again, otherwise the journal does not belong to this match.
func (m *AdapterMatch[C]) Replay(cmds []engine.Command) error {
	for i, cmd := range cmds {
		out, err := m.Apply(cmd)
		if err != nil {
			return fmt.Errorf("replay command %d: %w", i, err)
		}
		if !out.Accepted {
			return fmt.Errorf("replay command %d (%s): rejected with %s", i, cmd.Type, out.Error)
		}
	}
	return nil
}

// View is the per-player snapshot pushed to clients.
type View struct {
	MatchID        string                    `json:"matchId"`
	Players        []string                  `json:"players"`
	Phase          string                    `json:"phase"`
	ActivePlayer   string                    `json:"activePlayer,omitempty"`
	TurnNumber     int                       `json:"turnNumber"`
	Core           any                       `json:"core"`
	Interaction    engine.InteractionStack   `json:"interaction"`
	ResponseWindow *engine.ResponseWindow    `json:"responseWindow,omitempty"`
	Tokens         map[string]map[string]int `json:"tokens,omitempty"`
	Tutorial       *engine.TutorialStep      `json:"tutorialStep,omitempty"`
	Selection      *engine.SelectionState    `json:"selection,omitempty"`
	UndoPending    *engine.UndoRequest       `json:"undoPending,omitempty"`
	UndoAvailable  bool                      `json:"undoAvailable"`
	Rematch        engine.RematchState       `json:"rematch"`
	Gameover       *engine.GameOver          `json:"gameover,omitempty"`
	LastEvents     []engine.Event            `json:"lastEvents,omitempty"`
}

func (m *AdapterMatch[C]) State(playerID string) any {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.state.Clone()
	sys := st.Sys
	v := View{
		MatchID:        sys.MatchID,
		Players:        sys.Players,
		Phase:          sys.Phase,
		ActivePlayer:   sys.ActivePlayer,
		TurnNumber:     sys.TurnNumber,
		Core:           st.Core,
		Interaction:    systems.Snapshot(sys, playerID),
		ResponseWindow: sys.ResponseWindow.Current,
		Tokens:         sys.Tokens,
		Tutorial:       sys.Tutorial.Step(),
		UndoPending:    sys.Undo.Pending,
		UndoAvailable:  len(sys.Undo.Snapshots) > 0,
		Rematch:        sys.Rematch,
		Gameover:       sys.Gameover,
		LastEvents:     engine.ViewEvents(m.adapter.pipeline.Domain(), st, playerID, slices.Clone(m.last)),
	}
	if sys.Selection.Enabled {
		v.Selection = &sys.Selection
	}
	if viewer, ok := m.adapter.pipeline.Domain().(engine.Viewer[C]); ok && playerID != "" {
		v.Core = viewer.PlayerView(st, playerID)
	}
	return v
}

// EventsFor returns events as playerID may see them.
func (m *AdapterMatch[C]) EventsFor(playerID string, events []engine.Event) []engine.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return engine.ViewEvents(m.adapter.pipeline.Domain(), m.state, playerID, slices.Clone(events))
}

// LegalCommands lists the domain's candidate commands that would currently
// be accepted.
func (m *AdapterMatch[C]) LegalCommands(playerID string) []engine.Command {
	m.mu.Lock()
	defer m.mu.Unlock()

	lister, ok := m.adapter.pipeline.Domain().(engine.CommandLister[C])
	if !ok {
		return nil
	}
	var out []engine.Command
	for _, cmd := range lister.LegalCommands(m.state, playerID) {
		dry := cmd
		dry.Timestamp = 1
		res := m.adapter.pipeline.Execute(m.state, dry, engine.NewSeeded(m.cfg.Seed, m.seq+1), dry.Timestamp)
		if res.OK() {
			out = append(out, cmd)
		}
	}
	return out
}

func (m *AdapterMatch[C]) Interactions(playerID string) engine.InteractionStack {
	m.mu.Lock()
	defer m.mu.Unlock()
	return systems.Snapshot(m.state.Sys, playerID)
}

func (m *AdapterMatch[C]) IsOver() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Sys.Gameover != nil
}

func (m *AdapterMatch[C]) RematchReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Sys.Rematch.Ready
}

func (m *AdapterMatch[C]) Seq() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seq
}

func (m *AdapterMatch[C]) Results() []PlayerResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Sys.Gameover == nil {
		return nil
	}
	if m.adapter.results != nil {
		return m.adapter.results(m.state)
	}
	return rankFromGameOver(m.state.Sys)
}

func rankFromGameOver(sys engine.SystemState) []PlayerResult {
	g := sys.Gameover
	winners := make(map[string]bool)
	if g.Winner != "" {
		winners[g.Winner] = true
	}
	for _, w := range g.Winners {
		winners[w] = true
	}
	out := make([]PlayerResult, 0, len(sys.Players))
	for _, p := range sys.Players {
		rank := 2
		if g.Draw || winners[p] {
			rank = 1
		}
		out = append(out, PlayerResult{PlayerID: p, Rank: rank, Score: g.Scores[p]})
	}
	return out
}

type matchJSON[C engine.Core[C]] struct {
	MatchID string          `json:"matchId"`
	Players []string        `json:"players"`
	Seed    uint64          `json:"seed"`
	Seq     uint64          `json:"seq"`
	State   engine.State[C] `json:"state"`
}

func (m *AdapterMatch[C]) MarshalJSON() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return json.Marshal(matchJSON[C]{
		MatchID: m.cfg.MatchID,
		Players: m.cfg.PlayerIDs,
		Seed:    m.cfg.Seed,
		Seq:     m.seq,
		State:   m.state,
	})
}

func (m *AdapterMatch[C]) UnmarshalJSON(data []byte) error {
	var raw matchJSON[C]
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = MatchConfig{MatchID: raw.MatchID, PlayerIDs: raw.Players, Seed: raw.Seed}
	m.seq = raw.Seq
	m.state = raw.State
	m.last = nil
	return nil
}
