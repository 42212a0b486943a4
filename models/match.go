// models/match.go
package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	GameTicTacToe = "tictactoe"
	GameCheckers  = "checkers"
)

const (
	MatchStatusWaiting  = "waiting"
	MatchStatusPlaying  = "playing"
	MatchStatusFinished = "finished"
)

// WinnerDraw marks a finished match with no winning side.
const WinnerDraw = "draw"

// Match is a two-player game session (tic-tac-toe or checkers).
//
// Lifecycle: waiting → playing → finished. Seat B stays empty while the
// match is waiting; the join that fills it must be a conditional update so
// two players can never both land in the same seat.
type Match struct {
	ID          string  `gorm:"primaryKey;type:uuid" json:"id"`
	Game        string  `gorm:"type:varchar(16);not null;index" json:"game"`
	PlayerA     string  `gorm:"type:uuid;not null;index" json:"player_a"`
	PlayerB     *string `gorm:"type:uuid;index" json:"player_b,omitempty"`
	CurrentTurn string  `gorm:"type:uuid" json:"current_turn"`
	Status      string  `gorm:"type:varchar(16);not null;index" json:"status"` // waiting | playing | finished
	Winner      *string `gorm:"type:varchar(64)" json:"winner,omitempty"`      // player id or "draw"

	// Board layout depends on Game: a flat array of 9 cells for tic-tac-toe,
	// an 8x8 grid for checkers. Cells hold "" / "X" / "O" / "W" / "B".
	Board datatypes.JSON `json:"board"`

	RoomName string `json:"room_name"`

	Timestamps
}

// Move is the append-only audit record for an accepted move. Position is set
// for tic-tac-toe; From/To (and Captured on jumps) for checkers.
type Move struct {
	ID       string         `gorm:"primaryKey;type:uuid" json:"id"`
	MatchID  string         `gorm:"type:uuid;not null;index" json:"match_id"`
	PlayerID string         `gorm:"type:uuid;not null" json:"player_id"`
	Symbol   string         `gorm:"type:varchar(8)" json:"symbol"`
	Payload  datatypes.JSON `json:"payload"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}
