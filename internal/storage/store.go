package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// SessionRow represents a session in the database.
type SessionRow struct {
	Code        string
	GameType    string
	Status      string // "waiting", "playing", "finished"
	HostID      string
	MatchID     string
	Seed        uint64
	RematchCode string
	CreatedAt   time.Time
}

// JournalEntry is one accepted command of a match.
type JournalEntry struct {
	ID          ulid.ULID
	SessionCode string
	Seq         uint64
	CommandJSON string
	CreatedAt   time.Time
}

// Store handles SQLite persistence.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database and runs migrations.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}
	// WAL mode for better concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			code         TEXT PRIMARY KEY,
			game_type    TEXT NOT NULL,
			status       TEXT NOT NULL DEFAULT 'waiting',
			host_id      TEXT NOT NULL DEFAULT '',
			match_id     TEXT NOT NULL DEFAULT '',
			seed         INTEGER NOT NULL DEFAULT 0,
			rematch_code TEXT NOT NULL DEFAULT '',
			created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS match_state (
			session_code TEXT PRIMARY KEY REFERENCES sessions(code),
			state_json   TEXT NOT NULL,
			updated_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS match_players (
			session_code TEXT NOT NULL REFERENCES sessions(code),
			player_id    TEXT NOT NULL,
			position     INTEGER NOT NULL,
			PRIMARY KEY (session_code, player_id)
		);
		CREATE TABLE IF NOT EXISTS command_journal (
			id           TEXT PRIMARY KEY,
			session_code TEXT NOT NULL REFERENCES sessions(code),
			seq          INTEGER NOT NULL,
			command_json TEXT NOT NULL,
			created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (session_code, seq)
		);
	`)
	return err
}

const sessionColumns = "code, game_type, status, host_id, match_id, seed, rematch_code, created_at"

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (SessionRow, error) {
	var sr SessionRow
	var seed int64
	err := row.Scan(&sr.Code, &sr.GameType, &sr.Status, &sr.HostID, &sr.MatchID, &seed, &sr.RematchCode, &sr.CreatedAt)
	sr.Seed = uint64(seed)
	return sr, err
}

// CreateSession inserts a new session.
func (s *Store) CreateSession(code, gameType string) error {
	_, err := s.db.Exec(
		"INSERT INTO sessions (code, game_type, status) VALUES (?, ?, 'waiting')",
		code, gameType,
	)
	return err
}

// GetSession retrieves a session by code.
func (s *Store) GetSession(code string) (*SessionRow, error) {
	sr, err := scanSession(s.db.QueryRow("SELECT "+sessionColumns+" FROM sessions WHERE code = ?", code))
	if err != nil {
		return nil, err
	}
	return &sr, nil
}

// UpdateSessionStatus changes a session's status.
func (s *Store) UpdateSessionStatus(code, status string) error {
	_, err := s.db.Exec("UPDATE sessions SET status = ? WHERE code = ?", status, code)
	return err
}

// StartMatch records the identity of the match a session is playing. The
// seed is stored as its two's-complement bit pattern.
func (s *Store) StartMatch(code, matchID string, seed uint64) error {
	_, err := s.db.Exec(
		"UPDATE sessions SET status = 'playing', match_id = ?, seed = ? WHERE code = ?",
		matchID, int64(seed), code,
	)
	return err
}

// SetRematchCode links a finished session to the session spawned for its rematch.
func (s *Store) SetRematchCode(code, rematchCode string) error {
	_, err := s.db.Exec("UPDATE sessions SET rematch_code = ? WHERE code = ?", rematchCode, code)
	return err
}

// ListSessions returns all sessions with the given status (or all if status is empty).
func (s *Store) ListSessions(status string) ([]SessionRow, error) {
	var rows *sql.Rows
	var err error
	if status == "" {
		rows, err = s.db.Query("SELECT " + sessionColumns + " FROM sessions ORDER BY created_at DESC")
	} else {
		rows, err = s.db.Query("SELECT "+sessionColumns+" FROM sessions WHERE status = ? ORDER BY created_at DESC", status)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []SessionRow
	for rows.Next() {
		sr, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sr)
	}
	return result, rows.Err()
}

// SavePlayers replaces a session's roster. Order is preserved.
func (s *Store) SavePlayers(code, hostID string, players []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM match_players WHERE session_code = ?", code); err != nil {
		return err
	}
	for i, p := range players {
		if _, err := tx.Exec(
			"INSERT INTO match_players (session_code, player_id, position) VALUES (?, ?, ?)",
			code, p, i,
		); err != nil {
			return fmt.Errorf("insert player %s: %w", p, err)
		}
	}
	if _, err := tx.Exec("UPDATE sessions SET host_id = ? WHERE code = ?", hostID, code); err != nil {
		return err
	}
	return tx.Commit()
}

// ListPlayers returns a session's roster in seat order.
func (s *Store) ListPlayers(code string) ([]string, error) {
	rows, err := s.db.Query("SELECT player_id FROM match_players WHERE session_code = ? ORDER BY position", code)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var players []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		players = append(players, p)
	}
	return players, rows.Err()
}

// SaveMatchState upserts match state JSON.
func (s *Store) SaveMatchState(sessionCode, stateJSON string) error {
	_, err := s.db.Exec(`
		INSERT INTO match_state (session_code, state_json, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(session_code) DO UPDATE SET state_json = excluded.state_json, updated_at = excluded.updated_at
	`, sessionCode, stateJSON)
	return err
}

// GetMatchState retrieves match state JSON.
func (s *Store) GetMatchState(sessionCode string) (string, error) {
	var stateJSON string
	err := s.db.QueryRow("SELECT state_json FROM match_state WHERE session_code = ?", sessionCode).Scan(&stateJSON)
	return stateJSON, err
}

// AppendCommand journals an accepted command under its match sequence number.
func (s *Store) AppendCommand(sessionCode string, seq uint64, commandJSON string) (ulid.ULID, error) {
	id := ulid.Make()
	_, err := s.db.Exec(
		"INSERT INTO command_journal (id, session_code, seq, command_json) VALUES (?, ?, ?, ?)",
		id.String(), sessionCode, int64(seq), commandJSON,
	)
	if err != nil {
		return ulid.ULID{}, fmt.Errorf("append command %d: %w", seq, err)
	}
	return id, nil
}

// Journal returns a session's commands in sequence order.
func (s *Store) Journal(sessionCode string) ([]JournalEntry, error) {
	rows, err := s.db.Query(
		"SELECT id, session_code, seq, command_json, created_at FROM command_journal WHERE session_code = ? ORDER BY seq",
		sessionCode,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []JournalEntry
	for rows.Next() {
		var e JournalEntry
		var id string
		var seq int64
		if err := rows.Scan(&id, &e.SessionCode, &seq, &e.CommandJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		if e.ID, err = ulid.Parse(id); err != nil {
			return nil, fmt.Errorf("journal id %q: %w", id, err)
		}
		e.Seq = uint64(seq)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DeleteSession removes a session with its roster, match state and journal.
func (s *Store) DeleteSession(code string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, q := range []string{
		"DELETE FROM command_journal WHERE session_code = ?",
		"DELETE FROM match_players WHERE session_code = ?",
		"DELETE FROM match_state WHERE session_code = ?",
		"DELETE FROM sessions WHERE code = ?",
	} {
		if _, err := tx.Exec(q, code); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
