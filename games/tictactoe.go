// games/tictactoe.go
package games

import "math/rand"

const (
	SymbolX = "X"
	SymbolO = "O"
)

// Draw is returned by CheckWinner when the board is full with no line.
const Draw = "draw"

// TTTBoard is the 3x3 board, row-major. Empty cells hold "".
type TTTBoard [9]string

// RandomMoveChance is the probability that the AI discards the minimax
// result and plays a random legal move instead. Intentionally > 0: the
// opponent is meant to be beatable.
var RandomMoveChance = 0.4

var winningLines = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8}, // rows
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8}, // columns
	{0, 4, 8}, {2, 4, 6}, // diagonals
}

// CheckWinner returns "X" or "O" for a completed line, Draw for a full board
// with no line, or "" while the game is still open.
func CheckWinner(b TTTBoard) string {
	for _, line := range winningLines {
		a, mid, c := line[0], line[1], line[2]
		if b[a] != "" && b[a] == b[mid] && b[a] == b[c] {
			return b[a]
		}
	}
	for _, cell := range b {
		if cell == "" {
			return ""
		}
	}
	return Draw
}

// Full reports whether every cell is occupied.
func (b TTTBoard) Full() bool {
	for _, cell := range b {
		if cell == "" {
			return false
		}
	}
	return true
}

// minimax scores the board for the AI ("O" maximizing). A win for O is worth
// 10-depth, a win for X depth-10, a draw 0. Each recursion adds a random
// factor in (-1, 1) so the AI is not perfectly predictable.
func minimax(b TTTBoard, depth int, maximizing bool, rng *rand.Rand) float64 {
	switch CheckWinner(b) {
	case SymbolX:
		return float64(depth - 10)
	case SymbolO:
		return float64(10 - depth)
	case Draw:
		return 0
	}

	randomFactor := rng.Float64()*2 - 1

	if maximizing {
		best := -1e9
		for i := range b {
			if b[i] != "" {
				continue
			}
			b[i] = SymbolO
			score := minimax(b, depth+1, false, rng) + randomFactor
			b[i] = ""
			if score > best {
				best = score
			}
		}
		return best
	}

	best := 1e9
	for i := range b {
		if b[i] != "" {
			continue
		}
		b[i] = SymbolX
		score := minimax(b, depth+1, true, rng) + randomFactor
		b[i] = ""
		if score < best {
			best = score
		}
	}
	return best
}

// BestMove picks the AI ("O") move for the given board. It runs minimax over
// every empty cell, then with probability RandomMoveChance throws the result
// away and returns a uniformly random legal move. Returns -1 on a full board.
//
// The randomness comes entirely from rng, so callers can pin it.
func BestMove(b TTTBoard, rng *rand.Rand) int {
	bestScore := -1e9
	bestMove := -1
	var available []int

	for i := range b {
		if b[i] != "" {
			continue
		}
		b[i] = SymbolO
		score := minimax(b, 0, false, rng)
		b[i] = ""

		available = append(available, i)
		if score > bestScore {
			bestScore = score
			bestMove = i
		}
	}

	if len(available) > 0 && rng.Float64() < RandomMoveChance {
		return available[rng.Intn(len(available))]
	}

	return bestMove
}
