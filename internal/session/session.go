package session

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"tabletop/internal/game"
)

var (
	ErrNotFound         = errors.New("session not found")
	ErrNotWaiting       = errors.New("session is not accepting players")
	ErrSessionFull      = errors.New("session is full")
	ErrAlreadyJoined    = errors.New("player already in session")
	ErrNotEnoughPlayers = errors.New("not enough players")
	ErrNotStarted       = errors.New("game not started")
	ErrNotHost          = errors.New("only the host can start")
	ErrJournalGap       = errors.New("command journal has a gap")
)

// Status represents the session lifecycle.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusPlaying  Status = "playing"
	StatusFinished Status = "finished"
)

// Player represents a connected player.
type Player struct {
	ID   string
	Send chan []byte // outbound messages
}

// Session is one game session with connected players.
type Session struct {
	mu       sync.RWMutex
	Code     string
	GameType string
	Status   Status
	HostID   string
	Players  map[string]*Player
	// Seats is the join order; it becomes the match's player order.
	Seats []string
	Match game.Match
	// RematchCode is the session spawned once every player voted for a rematch.
	RematchCode string
	game        game.Game
}

// NewSession creates a session in the waiting state.
func NewSession(code, gameType string, g game.Game) *Session {
	return &Session{
		Code:     code,
		GameType: gameType,
		Status:   StatusWaiting,
		Players:  make(map[string]*Player),
		game:     g,
	}
}

// AddPlayer adds a player to the session. Returns error if full or already playing.
func (s *Session) AddPlayer(playerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Status != StatusWaiting {
		return ErrNotWaiting
	}
	info := s.game.Info()
	if len(s.Players) >= info.MaxPlayers {
		return ErrSessionFull
	}
	if _, exists := s.Players[playerID]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyJoined, playerID)
	}
	s.seatLocked(playerID)
	return nil
}

func (s *Session) seatLocked(playerID string) {
	s.Players[playerID] = &Player{
		ID:   playerID,
		Send: make(chan []byte, 64),
	}
	s.Seats = append(s.Seats, playerID)
	if s.HostID == "" {
		s.HostID = playerID
	}
}

// RemovePlayer removes a player from the session.
func (s *Session) RemovePlayer(playerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.Players[playerID]
	if !ok {
		return
	}
	close(p.Send)
	delete(s.Players, playerID)
	s.Seats = slices.DeleteFunc(s.Seats, func(id string) bool { return id == playerID })
	if s.HostID == playerID {
		s.HostID = ""
		if len(s.Seats) > 0 {
			s.HostID = s.Seats[0]
		}
	}
}

// ConnectPlayer replaces the Send channel for a reconnecting player.
func (s *Session) ConnectPlayer(playerID string, send chan []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.Players[playerID]
	if !ok {
		return false
	}
	p.Send = send
	return true
}

// PlayerIDs returns the player IDs in seat order.
func (s *Session) PlayerIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.Seats)
}

// Start transitions the session from waiting to playing.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Status != StatusWaiting {
		return fmt.Errorf("%w: session is %s", ErrNotWaiting, s.Status)
	}
	info := s.game.Info()
	if len(s.Players) < info.MinPlayers {
		return fmt.Errorf("%w: need at least %d, have %d", ErrNotEnoughPlayers, info.MinPlayers, len(s.Players))
	}

	match, err := s.game.NewMatch(game.MatchConfig{PlayerIDs: slices.Clone(s.Seats)})
	if err != nil {
		return fmt.Errorf("new match: %w", err)
	}
	s.Match = match
	s.Status = StatusPlaying
	return nil
}

// Finish marks the session as finished.
func (s *Session) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = StatusFinished
}

// Broadcast sends a message to all connected players.
func (s *Session) Broadcast(msg []byte) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.Players {
		select {
		case p.Send <- msg:
		default:
			// drop message if buffer full
		}
	}
}

// GetPlayer returns a player's send channel, or nil if not found.
func (s *Session) GetPlayer(playerID string) *Player {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Players[playerID]
}

// Info returns session info for the API.
type Info struct {
	Code        string   `json:"code"`
	GameType    string   `json:"gameType"`
	Status      Status   `json:"status"`
	Players     []string `json:"players"`
	HostID      string   `json:"hostId"`
	MatchID     string   `json:"matchId,omitempty"`
	RematchCode string   `json:"rematchCode,omitempty"`
}

func (s *Session) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.infoLocked()
}

// InfoLocked returns info without acquiring the lock (caller must hold it).
func (s *Session) InfoLocked() Info {
	return s.infoLocked()
}

func (s *Session) infoLocked() Info {
	info := Info{
		Code:        s.Code,
		GameType:    s.GameType,
		Status:      s.Status,
		Players:     slices.Clone(s.Seats),
		HostID:      s.HostID,
		RematchCode: s.RematchCode,
	}
	if s.Match != nil {
		info.MatchID = s.Match.ID()
	}
	return info
}

// Lock/RLock/Unlock/RUnlock expose the mutex for the server's websocket handler.
func (s *Session) Lock()    { s.mu.Lock() }
func (s *Session) Unlock()  { s.mu.Unlock() }
func (s *Session) RLock()   { s.mu.RLock() }
func (s *Session) RUnlock() { s.mu.RUnlock() }
