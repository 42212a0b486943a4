// games/checkers.go
package games

const (
	PieceWhite = "W"
	PieceBlack = "B"
)

// BoardSize is the side length of the checkers grid.
const BoardSize = 8

// CheckersBoard is the 8x8 grid. Empty squares hold "".
type CheckersBoard [BoardSize][BoardSize]string

// Position is a board coordinate, row 0 at the top.
type Position struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// NewCheckersBoard returns the initial layout: black pieces on the dark
// squares of rows 0-2, white on rows 5-7. White moves up (toward row 0).
func NewCheckersBoard() CheckersBoard {
	var b CheckersBoard
	for row := 0; row < 3; row++ {
		for col := 0; col < BoardSize; col++ {
			if (row+col)%2 == 1 {
				b[row][col] = PieceBlack
			}
		}
	}
	for row := 5; row < BoardSize; row++ {
		for col := 0; col < BoardSize; col++ {
			if (row+col)%2 == 1 {
				b[row][col] = PieceWhite
			}
		}
	}
	return b
}

// Direction returns the row delta a side advances by.
func Direction(piece string) int {
	if piece == PieceWhite {
		return -1
	}
	return 1
}

// ValidMoves lists the legal destinations for the piece at from, owned by
// side. Rules are the simplified set: one diagonal step forward onto an
// empty square, or a two-square diagonal jump over an adjacent opposing
// piece onto an empty square. No kings, no multi-jump, no forced capture.
func ValidMoves(b CheckersBoard, from Position, side string) []Position {
	if !inBounds(from) {
		return nil
	}
	piece := b[from.Row][from.Col]
	if piece == "" || piece != side {
		return nil
	}

	var moves []Position
	dir := Direction(piece)

	// single step
	stepRow := from.Row + dir
	if stepRow >= 0 && stepRow < BoardSize {
		for _, dc := range []int{-1, 1} {
			col := from.Col + dc
			if col >= 0 && col < BoardSize && b[stepRow][col] == "" {
				moves = append(moves, Position{Row: stepRow, Col: col})
			}
		}
	}

	// jump capture
	jumpRow := from.Row + dir*2
	if jumpRow >= 0 && jumpRow < BoardSize {
		for _, dc := range []int{-1, 1} {
			overCol := from.Col + dc
			landCol := from.Col + dc*2
			if landCol < 0 || landCol >= BoardSize {
				continue
			}
			over := b[from.Row+dir][overCol]
			if over != "" && over != piece && b[jumpRow][landCol] == "" {
				moves = append(moves, Position{Row: jumpRow, Col: landCol})
			}
		}
	}

	return moves
}

// ApplyMove moves the piece at from to to, clearing the jumped square on a
// capture. It returns the new board, the captured position if any, and
// whether the move was legal. An illegal move returns the board unchanged.
func ApplyMove(b CheckersBoard, from, to Position, side string) (CheckersBoard, *Position, bool) {
	legal := false
	for _, m := range ValidMoves(b, from, side) {
		if m == to {
			legal = true
			break
		}
	}
	if !legal {
		return b, nil, false
	}

	piece := b[from.Row][from.Col]
	b[from.Row][from.Col] = ""
	b[to.Row][to.Col] = piece

	if abs(to.Row-from.Row) == 2 {
		captured := Position{Row: (from.Row + to.Row) / 2, Col: (from.Col + to.Col) / 2}
		b[captured.Row][captured.Col] = ""
		return b, &captured, true
	}
	return b, nil, true
}

// CountPieces returns how many squares hold the given piece.
func CountPieces(b CheckersBoard, piece string) int {
	n := 0
	for row := range b {
		for col := range b[row] {
			if b[row][col] == piece {
				n++
			}
		}
	}
	return n
}

// Opponent returns the other side.
func Opponent(piece string) string {
	if piece == PieceWhite {
		return PieceBlack
	}
	return PieceWhite
}

func inBounds(p Position) bool {
	return p.Row >= 0 && p.Row < BoardSize && p.Col >= 0 && p.Col < BoardSize
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
