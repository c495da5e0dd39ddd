package tictactoe

import (
	"fmt"

	"tabletop/internal/engine"
	"tabletop/internal/engine/systems"
	"tabletop/internal/game"
)

const (
	CmdClickCell = "CLICK_CELL"

	EvCellClaimed = "CELL_CLAIMED"
	EvTurnPassed  = "TURN_PASSED"
	EvGameWon     = "GAME_WON"
	EvGameDrawn   = "GAME_DRAWN"
)

const (
	ErrInvalidCell  engine.ErrorCode = "invalidCell"
	ErrCellOccupied engine.ErrorCode = "cellOccupied"
	ErrGameOver     engine.ErrorCode = "gameOver"
)

const phasePlay = "play"

// New returns tic-tac-toe bound to the engine.
func New(undo systems.UndoConfig, opts ...game.Option) *game.Adapter[Board] {
	return game.NewAdapter(game.Rules[Board]{
		Info: game.GameInfo{
			Name:        "tictactoe",
			Description: "Three in a row on a 3x3 grid.",
			MinPlayers:  2,
			MaxPlayers:  2,
		},
		Domain:   Rules{},
		Registry: engine.NewRegistry[Board](),
		Systems:  systems.Standard[Board](undo),
		Results:  results,
	}, opts...)
}

// Board is the tic-tac-toe core state.
type Board struct {
	Players [2]string `json:"players"`
	Cells   [9]int    `json:"cells"` // 0=empty, 1=player0(X), 2=player1(O)
	Turn    int       `json:"turn"`  // index into Players
	Done    bool      `json:"done"`
	Winner  int       `json:"winner"` // -1=draw, 0 or 1=winner index
}

func (b Board) Clone() Board { return b }

func (b Board) seat(player string) int {
	for i, p := range b.Players {
		if p == player {
			return i
		}
	}
	return -1
}

type cellPayload struct {
	Cell int `json:"cell"`
}

type claimed struct {
	Cell   int    `json:"cell"`
	Player string `json:"player"`
	Mark   int    `json:"mark"`
}

type turnPassed struct {
	Next int `json:"next"`
}

type gameWon struct {
	Winner int    `json:"winner"`
	Line   [3]int `json:"line"`
}

// Rules implements engine.Domain for tic-tac-toe.
type Rules struct{}

func (Rules) ID() string { return "tictactoe" }

func (Rules) Setup(players []engine.PlayerID, _ engine.Random) Board {
	return Board{Players: [2]string{players[0], players[1]}}
}

func (Rules) Validate(st engine.State[Board], cmd engine.Command) engine.ValidationResult {
	b := st.Core
	if cmd.Type != CmdClickCell {
		return engine.Invalid(engine.ErrUnknownCommand)
	}
	if b.Done {
		return engine.Invalid(ErrGameOver)
	}
	if cmd.PlayerID != b.Players[b.Turn] {
		return engine.Invalid(engine.ErrPlayerMismatch)
	}
	var p cellPayload
	if err := cmd.Decode(&p); err != nil {
		return engine.Invalid(engine.ErrInvalidPayload)
	}
	if p.Cell < 0 || p.Cell > 8 {
		return engine.Invalid(ErrInvalidCell)
	}
	if b.Cells[p.Cell] != 0 {
		return engine.Invalid(ErrCellOccupied)
	}
	return engine.Valid()
}

func (Rules) Execute(st engine.State[Board], cmd engine.Command, _ engine.Random) ([]engine.Event, error) {
	var p cellPayload
	if err := cmd.Decode(&p); err != nil {
		return nil, err
	}
	b := st.Core
	mark := b.Turn + 1
	ts := cmd.Timestamp
	events := []engine.Event{engine.NewEvent(EvCellClaimed, claimed{Cell: p.Cell, Player: cmd.PlayerID, Mark: mark}, ts)}

	b.Cells[p.Cell] = mark
	if line, ok := winningLine(b.Cells, mark); ok {
		return append(events, engine.NewEvent(EvGameWon, gameWon{Winner: b.Turn, Line: line}, ts)), nil
	}
	if full(b.Cells) {
		return append(events, engine.NewEvent(EvGameDrawn, nil, ts)), nil
	}
	next := 1 - b.Turn
	return append(events,
		engine.NewEvent(EvTurnPassed, turnPassed{Next: next}, ts),
		engine.NewEvent(engine.EventPhaseChanged, engine.PhaseChanged{
			From:         phasePlay,
			To:           phasePlay,
			ActivePlayer: b.Players[next],
			TurnNumber:   st.Sys.TurnNumber + 1,
		}, ts),
	), nil
}

func (Rules) Reduce(b Board, ev engine.Event) (Board, error) {
	switch ev.Type {
	case EvCellClaimed:
		var p claimed
		if err := ev.Decode(&p); err != nil {
			return b, err
		}
		if p.Cell < 0 || p.Cell > 8 {
			return b, fmt.Errorf("cell %d out of range", p.Cell)
		}
		b.Cells[p.Cell] = p.Mark
	case EvTurnPassed:
		var p turnPassed
		if err := ev.Decode(&p); err != nil {
			return b, err
		}
		b.Turn = p.Next
	case EvGameWon:
		var p gameWon
		if err := ev.Decode(&p); err != nil {
			return b, err
		}
		b.Done = true
		b.Winner = p.Winner
	case EvGameDrawn:
		b.Done = true
		b.Winner = -1
	}
	return b, nil
}

func (Rules) IsGameOver(b Board) *engine.GameOver {
	if !b.Done {
		return nil
	}
	if b.Winner == -1 {
		return &engine.GameOver{Draw: true}
	}
	return &engine.GameOver{
		Winner: b.Players[b.Winner],
		Scores: map[engine.PlayerID]int{b.Players[b.Winner]: 1},
	}
}

func (Rules) LegalCommands(st engine.State[Board], player engine.PlayerID) []engine.Command {
	b := st.Core
	if b.Done || player != b.Players[b.Turn] {
		return nil
	}
	var cmds []engine.Command
	for i, v := range b.Cells {
		if v == 0 {
			cmds = append(cmds, engine.NewCommand(CmdClickCell, player, cellPayload{Cell: i}))
		}
	}
	return cmds
}

type stateView struct {
	Board   [9]int   `json:"board"`
	Turn    string   `json:"turn"`
	You     int      `json:"you"` // 1=X, 2=O
	Players []string `json:"players"`
	Done    bool     `json:"done"`
	Winner  string   `json:"winner,omitempty"`
}

func (Rules) PlayerView(st engine.State[Board], player engine.PlayerID) any {
	b := st.Core
	view := stateView{
		Board:   b.Cells,
		Turn:    b.Players[b.Turn],
		You:     b.seat(player) + 1,
		Players: b.Players[:],
		Done:    b.Done,
	}
	if b.Done {
		if b.Winner == -1 {
			view.Winner = "draw"
		} else {
			view.Winner = b.Players[b.Winner]
		}
	}
	return view
}

func results(st engine.State[Board]) []game.PlayerResult {
	b := st.Core
	if b.Winner == -1 {
		return []game.PlayerResult{
			{PlayerID: b.Players[0], Rank: 1, Score: 0},
			{PlayerID: b.Players[1], Rank: 1, Score: 0},
		}
	}
	loser := 1 - b.Winner
	return []game.PlayerResult{
		{PlayerID: b.Players[b.Winner], Rank: 1, Score: 1},
		{PlayerID: b.Players[loser], Rank: 2, Score: 0},
	}
}

var winLines = [][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8}, // rows
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8}, // cols
	{0, 4, 8}, {2, 4, 6}, // diags
}

func winningLine(cells [9]int, mark int) ([3]int, bool) {
	for _, line := range winLines {
		if cells[line[0]] == mark && cells[line[1]] == mark && cells[line[2]] == mark {
			return line, true
		}
	}
	return [3]int{}, false
}

func full(cells [9]int) bool {
	for _, v := range cells {
		if v == 0 {
			return false
		}
	}
	return true
}
