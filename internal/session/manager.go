package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"tabletop/internal/engine"
	"tabletop/internal/game"
	"tabletop/internal/metrics"
	"tabletop/internal/storage"
)

// Manager manages all active sessions.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	registry *game.Registry
	store    *storage.Store
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// Option configures a Manager.
type Option func(*Manager)

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// NewManager creates a session manager.
func NewManager(registry *game.Registry, store *storage.Store, opts ...Option) *Manager {
	m := &Manager{
		sessions: make(map[string]*Session),
		registry: registry,
		store:    store,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = metrics.New(nil)
	}
	return m
}

// Create makes a new session and persists it.
func (m *Manager) Create(gameType string) (*Session, error) {
	g, ok := m.registry.Get(gameType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", game.ErrUnknownGame, gameType)
	}
	s, err := m.create(generateCode(), gameType, g)
	if err != nil {
		return nil, err
	}
	m.refreshGauge()
	return s, nil
}

func (m *Manager) create(code, gameType string, g game.Game) (*Session, error) {
	if err := m.store.CreateSession(code, gameType); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}
	s := NewSession(code, gameType, g)
	m.mu.Lock()
	m.sessions[code] = s
	m.mu.Unlock()
	m.logger.Info("session created", zap.String("session", code), zap.String("game", gameType))
	return s, nil
}

// Get returns a session by code.
func (m *Manager) Get(code string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[code]
	return s, ok
}

func (m *Manager) all() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// List returns info for all active sessions.
func (m *Manager) List() []Info {
	sessions := m.all()
	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	return infos
}

// Join seats playerID, or reconnects them when already seated, and routes
// their messages to send.
func (m *Manager) Join(s *Session, playerID string, send chan []byte) error {
	if s.ConnectPlayer(playerID, send) {
		return nil
	}
	if err := s.AddPlayer(playerID); err != nil {
		return err
	}
	s.ConnectPlayer(playerID, send)
	return m.savePlayers(s)
}

func (m *Manager) savePlayers(s *Session) error {
	s.mu.RLock()
	code, host, seats := s.Code, s.HostID, slices.Clone(s.Seats)
	s.mu.RUnlock()
	if err := m.store.SavePlayers(code, host, seats); err != nil {
		return fmt.Errorf("persist players: %w", err)
	}
	return nil
}

// Start begins the session's match. A non-empty playerID must be the host.
func (m *Manager) Start(s *Session, playerID string) error {
	if playerID != "" && s.Info().HostID != playerID {
		return ErrNotHost
	}
	if err := m.start(s); err != nil {
		return err
	}
	m.refreshGauge()
	return nil
}

func (m *Manager) start(s *Session) error {
	if err := s.Start(); err != nil {
		return err
	}
	if err := m.savePlayers(s); err != nil {
		return err
	}
	cfg := s.Match.Config()
	if err := m.store.StartMatch(s.Code, cfg.MatchID, cfg.Seed); err != nil {
		return fmt.Errorf("persist match: %w", err)
	}
	if err := m.SaveMatchState(s); err != nil {
		return err
	}
	m.logger.Info("session started",
		zap.String("session", s.Code),
		zap.String("match", cfg.MatchID),
		zap.Strings("players", cfg.PlayerIDs),
	)
	return nil
}

// Applied reports a command's outcome and the rematch it spawned, if any.
type Applied struct {
	game.Outcome
	RematchCode string
}

// Apply runs cmd against the session's match on behalf of playerID. Commands
// of one session are applied one at a time, and every accepted command is
// journaled under the match's sequence number before the state is saved.
func (m *Manager) Apply(s *Session, playerID string, cmd engine.Command) (Applied, error) {
	start := time.Now()
	cmd.PlayerID = playerID

	res, finished, err := m.apply(s, cmd)

	result := metrics.ResultAccepted
	switch {
	case err != nil:
		result = metrics.ResultFaulted
	case !res.Accepted:
		result = metrics.ResultRejected
	}
	m.metrics.Commands.WithLabelValues(s.GameType, result).Inc()
	m.metrics.CommandDuration.WithLabelValues(s.GameType).Observe(time.Since(start).Seconds())
	if finished || res.RematchCode != "" {
		m.refreshGauge()
	}
	return res, err
}

func (m *Manager) apply(s *Session, cmd engine.Command) (Applied, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Match == nil {
		return Applied{}, false, ErrNotStarted
	}
	log := m.logger.With(zap.String("session", s.Code), zap.String("command", cmd.Type), zap.String("player", cmd.PlayerID))

	out, err := s.Match.Apply(cmd)
	res := Applied{Outcome: out}
	if err != nil {
		log.Error("command faulted", zap.Error(err))
		return res, false, err
	}
	if !out.Accepted {
		return res, false, nil
	}

	if data, err := json.Marshal(out.Command); err != nil {
		log.Error("encode command for journal", zap.Error(err))
	} else if _, err := m.store.AppendCommand(s.Code, s.Match.Seq(), string(data)); err != nil {
		log.Error("journal command; restore now depends on saved state", zap.Uint64("seq", s.Match.Seq()), zap.Error(err))
	}

	finished := false
	if s.Match.IsOver() && s.Status != StatusFinished {
		s.Status = StatusFinished
		finished = true
		log.Info("match finished", zap.Any("results", s.Match.Results()))
	}
	if err := m.saveLocked(s); err != nil {
		log.Error("save match state", zap.Error(err))
	}

	if s.Match.RematchReady() && s.RematchCode == "" {
		code, err := m.spawnRematch(s)
		if err != nil {
			log.Error("spawn rematch", zap.Error(err))
		} else {
			s.RematchCode = code
			res.RematchCode = code
			if err := m.store.SetRematchCode(s.Code, code); err != nil {
				log.Error("persist rematch link", zap.Error(err))
			}
		}
	}
	return res, finished, nil
}

// spawnRematch starts a new session for the same players with the seats
// rotated by one, so a different player opens. Caller holds s.mu.
func (m *Manager) spawnRematch(s *Session) (string, error) {
	seats := slices.Clone(s.Seats)
	if len(seats) > 1 {
		seats = append(seats[1:], seats[0])
	}
	next, err := m.create(generateCode(), s.GameType, s.game)
	if err != nil {
		return "", err
	}
	for _, p := range seats {
		if err := next.AddPlayer(p); err != nil {
			return "", fmt.Errorf("seat %s: %w", p, err)
		}
	}
	if err := m.start(next); err != nil {
		return "", err
	}
	m.metrics.Rematches.WithLabelValues(s.GameType).Inc()
	m.logger.Info("rematch spawned", zap.String("session", s.Code), zap.String("rematch", next.Code))
	return next.Code, nil
}

// SaveMatchState persists the current match state for a session.
func (m *Manager) SaveMatchState(s *Session) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return m.saveLocked(s)
}

func (m *Manager) saveLocked(s *Session) error {
	if err := m.store.UpdateSessionStatus(s.Code, string(s.Status)); err != nil {
		return err
	}
	if s.Match == nil {
		return nil
	}
	data, err := s.Match.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal match state: %w", err)
	}
	return m.store.SaveMatchState(s.Code, string(data))
}

// Restore loads sessions from the database on startup. A playing session's
// match comes back from its saved state, with any journaled commands past
// that state replayed on top; without usable state the whole journal is
// replayed onto a fresh match.
func (m *Manager) Restore() error {
	rows, err := m.store.ListSessions("")
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	for _, row := range rows {
		if row.Status == string(StatusFinished) {
			continue
		}
		log := m.logger.With(zap.String("session", row.Code), zap.String("game", row.GameType))
		g, ok := m.registry.Get(row.GameType)
		if !ok {
			log.Warn("skipping session: unknown game type")
			continue
		}
		players, err := m.store.ListPlayers(row.Code)
		if err != nil {
			log.Warn("skipping session: players", zap.Error(err))
			continue
		}
		s := NewSession(row.Code, row.GameType, g)
		s.Status = Status(row.Status)
		s.RematchCode = row.RematchCode
		for _, p := range players {
			s.seatLocked(p)
		}
		s.HostID = row.HostID

		if s.Status == StatusPlaying {
			match, source, err := m.restoreMatch(row, g, players)
			if err != nil {
				log.Warn("skipping session: restore match", zap.Error(err))
				continue
			}
			s.Match = match
			m.metrics.Restored.WithLabelValues(source).Inc()
			log.Info("session restored", zap.String("source", source), zap.Uint64("seq", match.Seq()))
		}
		m.mu.Lock()
		m.sessions[row.Code] = s
		m.mu.Unlock()
	}
	m.refreshGauge()
	return nil
}

func (m *Manager) restoreMatch(row storage.SessionRow, g game.Game, players []string) (game.Match, string, error) {
	cfg := game.MatchConfig{MatchID: row.MatchID, PlayerIDs: players, Seed: row.Seed}
	entries, err := m.store.Journal(row.Code)
	if err != nil {
		return nil, "", fmt.Errorf("load journal: %w", err)
	}
	// commands decodes the journal past after. It stops at the first missing
	// sequence number and reports the gap alongside what it decoded.
	commands := func(after uint64) ([]engine.Command, error) {
		var cmds []engine.Command
		for _, e := range entries {
			if e.Seq <= after {
				continue
			}
			if want := after + uint64(len(cmds)) + 1; e.Seq != want {
				return cmds, fmt.Errorf("%w: want seq %d, found %d", ErrJournalGap, want, e.Seq)
			}
			var cmd engine.Command
			if err := json.Unmarshal([]byte(e.CommandJSON), &cmd); err != nil {
				return nil, fmt.Errorf("journal entry %s: %w", e.ID, err)
			}
			cmds = append(cmds, cmd)
		}
		return cmds, nil
	}

	if stateJSON, err := m.store.GetMatchState(row.Code); err == nil {
		match, err := g.NewMatch(cfg)
		if err != nil {
			return nil, "", err
		}
		if err := match.UnmarshalJSON([]byte(stateJSON)); err == nil {
			tail, err := commands(match.Seq())
			if errors.Is(err, ErrJournalGap) {
				m.logger.Warn("journal tail has a gap", zap.String("session", row.Code), zap.Error(err))
				err = nil
			}
			if err == nil {
				err = match.Replay(tail)
			}
			if err == nil {
				return match, "state", nil
			}
			m.logger.Warn("saved state unusable", zap.String("session", row.Code), zap.Error(err))
		}
	}

	match, err := g.NewMatch(cfg)
	if err != nil {
		return nil, "", err
	}
	cmds, err := commands(0)
	if err != nil {
		return nil, "", err
	}
	if err := match.Replay(cmds); err != nil {
		return nil, "", err
	}
	return match, "journal", nil
}

// Remove deletes a session from memory and storage.
func (m *Manager) Remove(code string) {
	m.mu.Lock()
	delete(m.sessions, code)
	m.mu.Unlock()
	if err := m.store.DeleteSession(code); err != nil {
		m.logger.Warn("delete session", zap.String("session", code), zap.Error(err))
	}
	m.refreshGauge()
}

// CleanupLoop removes stale sessions periodically until ctx is done.
func (m *Manager) CleanupLoop(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.cleanup(maxAge)
		}
	}
}

func (m *Manager) cleanup(maxAge time.Duration) {
	now := time.Now()
	for _, s := range m.all() {
		s.mu.RLock()
		code := s.Code
		empty := len(s.Players) == 0
		finished := s.Status == StatusFinished
		s.mu.RUnlock()

		if !finished && !empty {
			continue
		}
		row, err := m.store.GetSession(code)
		if err != nil {
			m.mu.Lock()
			delete(m.sessions, code)
			m.mu.Unlock()
			continue
		}
		if now.Sub(row.CreatedAt) > maxAge || empty {
			m.logger.Info("cleaning up session", zap.String("session", code), zap.Bool("empty", empty))
			m.Remove(code)
		}
	}
}

func (m *Manager) refreshGauge() {
	counts := map[Status]int{StatusWaiting: 0, StatusPlaying: 0, StatusFinished: 0}
	for _, s := range m.all() {
		s.mu.RLock()
		counts[s.Status]++
		s.mu.RUnlock()
	}
	for status, n := range counts {
		m.metrics.Sessions.WithLabelValues(string(status)).Set(float64(n))
	}
}

func generateCode() string {
	b := make([]byte, 3) // 6 hex chars
	rand.Read(b)
	return hex.EncodeToString(b)
}
