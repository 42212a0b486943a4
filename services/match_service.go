// services/match_service.go
package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"casino-live-system/games"
	"casino-live-system/models"
	"casino-live-system/realtime"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrMatchNotFound   = errors.New("match not found")
	ErrMatchNotPlaying = errors.New("match is not in progress")
	ErrNotYourTurn     = errors.New("not your turn")
	ErrCellOccupied    = errors.New("cell already occupied")
	ErrIllegalMove     = errors.New("illegal move")
	ErrMoveConflict    = errors.New("move conflicted with a concurrent update")
	ErrNotCancellable  = errors.New("match can no longer be cancelled")
	ErrSeatConflict    = errors.New("could not secure a seat, retry matchmaking")
	ErrUnknownGame     = errors.New("unknown game")
)

// maxJoinAttempts bounds the search→conditional-join retry loop. Losing a
// join race removes that candidate from the waiting pool, so each retry
// makes progress; the cap only guards against pathological churn.
const maxJoinAttempts = 5

// MatchChannel names the realtime hub channel carrying row changes for one
// game's matches.
func MatchChannel(game string) string {
	return "matches:" + game
}

// MatchService pairs players into matches and mediates move application.
// The database is the single source of truth: every mutation is a
// conditional write, and the hub only ever re-broadcasts persisted rows.
type MatchService struct {
	DB  *gorm.DB
	Hub *realtime.Hub
}

func NewMatchService(db *gorm.DB, hub *realtime.Hub) *MatchService {
	return &MatchService{DB: db, Hub: hub}
}

// MovePayload carries a tic-tac-toe position or a checkers from/to pair.
type MovePayload struct {
	Position *int            `json:"position,omitempty"`
	From     *games.Position `json:"from,omitempty"`
	To       *games.Position `json:"to,omitempty"`
}

type moveAudit struct {
	Position *int            `json:"position,omitempty"`
	From     *games.Position `json:"from,omitempty"`
	To       *games.Position `json:"to,omitempty"`
	Captured *games.Position `json:"captured,omitempty"`
}

// FindOrCreateMatch returns a seat for the player: either by joining an open
// waiting match (conditionally, so a race loses cleanly and retries) or by
// creating a fresh waiting match with the player in seat A.
func (s *MatchService) FindOrCreateMatch(game, playerID string) (*models.Match, error) {
	if game != models.GameTicTacToe && game != models.GameCheckers {
		return nil, ErrUnknownGame
	}

	for attempt := 0; attempt < maxJoinAttempts; attempt++ {
		var open models.Match
		err := s.DB.
			Where("game = ? AND status = ? AND player_b IS NULL AND player_a <> ?",
				game, models.MatchStatusWaiting, playerID).
			Order("created_at ASC").
			First(&open).Error

		if errors.Is(err, gorm.ErrRecordNotFound) {
			return s.createMatch(game, playerID)
		}
		if err != nil {
			return nil, fmt.Errorf("search waiting matches: %w", err)
		}

		// Conditional seat-B assignment: only lands if the seat is still
		// empty. Zero rows affected means another player got there first —
		// loop back and search again.
		res := s.DB.Model(&models.Match{}).
			Where("id = ? AND status = ? AND player_b IS NULL",
				open.ID, models.MatchStatusWaiting).
			Updates(map[string]interface{}{
				"player_b":     playerID,
				"status":       models.MatchStatusPlaying,
				"current_turn": open.PlayerA,
			})
		if res.Error != nil {
			return nil, fmt.Errorf("join match %s: %w", open.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			log.Printf("[Match] Lost join race for match %s, retrying search", open.ID)
			continue
		}

		joined, err := s.GetMatch(open.ID)
		if err != nil {
			return nil, err
		}
		s.publish(joined)
		return joined, nil
	}

	return nil, ErrSeatConflict
}

func (s *MatchService) createMatch(game, playerID string) (*models.Match, error) {
	board, err := initialBoard(game)
	if err != nil {
		return nil, err
	}

	m := models.Match{
		ID:          uuid.NewString(),
		Game:        game,
		PlayerA:     playerID,
		CurrentTurn: playerID,
		Status:      models.MatchStatusWaiting,
		Board:       board,
		RoomName:    slug.Make(fmt.Sprintf("partida %s", uuid.NewString()[:8])),
	}
	if err := s.DB.Create(&m).Error; err != nil {
		return nil, fmt.Errorf("create match: %w", err)
	}
	s.publish(&m)
	return &m, nil
}

func initialBoard(game string) (datatypes.JSON, error) {
	switch game {
	case models.GameTicTacToe:
		return json.Marshal(games.TTTBoard{})
	case models.GameCheckers:
		return json.Marshal(games.NewCheckersBoard())
	default:
		return nil, ErrUnknownGame
	}
}

// GetMatch loads one match by id.
func (s *MatchService) GetMatch(id string) (*models.Match, error) {
	var m models.Match
	if err := s.DB.First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMatchNotFound
		}
		return nil, err
	}
	return &m, nil
}

// ActiveMatchFor returns the player's current non-finished match, if any.
func (s *MatchService) ActiveMatchFor(game, playerID string) (*models.Match, error) {
	var m models.Match
	err := s.DB.
		Where("game = ? AND status <> ? AND (player_a = ? OR player_b = ?)",
			game, models.MatchStatusFinished, playerID, playerID).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMatchNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// CancelSearch deletes a waiting match. Only the creator may cancel, and
// only while no opponent has joined — both enforced by the delete predicate.
func (s *MatchService) CancelSearch(matchID, playerID string) error {
	res := s.DB.
		Where("id = ? AND player_a = ? AND status = ?",
			matchID, playerID, models.MatchStatusWaiting).
		Delete(&models.Match{})
	if res.Error != nil {
		return fmt.Errorf("cancel match %s: %w", matchID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotCancellable
	}
	return nil
}

// SubmitMove validates and applies one move. Rejections leave the row
// untouched; acceptance persists board/turn/status through a conditional
// update keyed on current_turn, appends the audit record and broadcasts the
// fresh snapshot.
func (s *MatchService) SubmitMove(matchID, playerID string, mv MovePayload) (*models.Match, error) {
	m, err := s.GetMatch(matchID)
	if err != nil {
		return nil, err
	}
	if m.Status != models.MatchStatusPlaying {
		return nil, ErrMatchNotPlaying
	}
	if m.CurrentTurn != playerID {
		return nil, ErrNotYourTurn
	}

	var (
		board  datatypes.JSON
		symbol string
		audit  moveAudit
		winner *string
	)

	switch m.Game {
	case models.GameTicTacToe:
		board, symbol, winner, err = s.applyTicTacToe(m, playerID, mv, &audit)
	case models.GameCheckers:
		board, symbol, winner, err = s.applyCheckers(m, playerID, mv, &audit)
	default:
		err = ErrUnknownGame
	}
	if err != nil {
		return nil, err
	}

	status := models.MatchStatusPlaying
	nextTurn := otherSeat(m, playerID)
	if winner != nil {
		status = models.MatchStatusFinished
		nextTurn = ""
	}

	res := s.DB.Model(&models.Match{}).
		Where("id = ? AND status = ? AND current_turn = ?",
			m.ID, models.MatchStatusPlaying, playerID).
		Updates(map[string]interface{}{
			"board":        board,
			"current_turn": nextTurn,
			"status":       status,
			"winner":       winner,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("persist move on match %s: %w", m.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrMoveConflict
	}

	payload, _ := json.Marshal(audit)
	move := models.Move{
		ID:       uuid.NewString(),
		MatchID:  m.ID,
		PlayerID: playerID,
		Symbol:   symbol,
		Payload:  payload,
	}
	if err := s.DB.Create(&move).Error; err != nil {
		log.Printf("[Match] Failed to append move audit for match %s: %v", m.ID, err)
	}

	updated, err := s.GetMatch(m.ID)
	if err != nil {
		return nil, err
	}
	s.publish(updated)
	return updated, nil
}

func (s *MatchService) applyTicTacToe(m *models.Match, playerID string, mv MovePayload, audit *moveAudit) (datatypes.JSON, string, *string, error) {
	if mv.Position == nil || *mv.Position < 0 || *mv.Position > 8 {
		return nil, "", nil, ErrIllegalMove
	}
	var board games.TTTBoard
	if err := json.Unmarshal(m.Board, &board); err != nil {
		return nil, "", nil, fmt.Errorf("decode board for match %s: %w", m.ID, err)
	}
	pos := *mv.Position
	if board[pos] != "" {
		return nil, "", nil, ErrCellOccupied
	}

	symbol := games.SymbolO
	if m.PlayerA == playerID {
		symbol = games.SymbolX
	}
	board[pos] = symbol
	audit.Position = mv.Position

	var winner *string
	switch games.CheckWinner(board) {
	case symbol:
		winner = &playerID
	case games.Draw:
		draw := models.WinnerDraw
		winner = &draw
	}

	raw, err := json.Marshal(board)
	return raw, symbol, winner, err
}

func (s *MatchService) applyCheckers(m *models.Match, playerID string, mv MovePayload, audit *moveAudit) (datatypes.JSON, string, *string, error) {
	if mv.From == nil || mv.To == nil {
		return nil, "", nil, ErrIllegalMove
	}
	var board games.CheckersBoard
	if err := json.Unmarshal(m.Board, &board); err != nil {
		return nil, "", nil, fmt.Errorf("decode board for match %s: %w", m.ID, err)
	}

	side := games.PieceBlack
	if m.PlayerA == playerID {
		side = games.PieceWhite
	}

	next, captured, ok := games.ApplyMove(board, *mv.From, *mv.To, side)
	if !ok {
		return nil, "", nil, ErrIllegalMove
	}
	audit.From = mv.From
	audit.To = mv.To
	audit.Captured = captured

	var winner *string
	if games.CountPieces(next, games.Opponent(side)) == 0 {
		winner = &playerID
	}

	raw, err := json.Marshal(next)
	return raw, side, winner, err
}

func otherSeat(m *models.Match, playerID string) string {
	if m.PlayerA == playerID && m.PlayerB != nil {
		return *m.PlayerB
	}
	return m.PlayerA
}

func (s *MatchService) publish(m *models.Match) {
	if s.Hub == nil {
		return
	}
	s.Hub.Publish(realtime.Snapshot{
		Table:     MatchChannel(m.Game),
		ID:        m.ID,
		UpdatedAt: m.UpdatedAt,
		Row:       m,
	})
}

// ---- AI opponent (single-player tic-tac-toe) ----

// AIRound is the outcome of one request against the AI opponent.
type AIRound struct {
	Board   games.TTTBoard `json:"board"`
	AIMove  *int           `json:"ai_move,omitempty"`
	Outcome string         `json:"outcome,omitempty"` // win | loss | draw, from the player's view
}

// PlayAIRound applies the player's X move, and while the game is still open
// answers with the AI's O move. Pure except for rng, which callers inject.
func PlayAIRound(board games.TTTBoard, position int, rng *rand.Rand) (AIRound, error) {
	if position < 0 || position > 8 {
		return AIRound{}, ErrIllegalMove
	}
	if board[position] != "" {
		return AIRound{}, ErrCellOccupied
	}

	board[position] = games.SymbolX
	switch games.CheckWinner(board) {
	case games.SymbolX:
		return AIRound{Board: board, Outcome: models.GameResultWin}, nil
	case games.Draw:
		return AIRound{Board: board, Outcome: models.GameResultDraw}, nil
	}

	aiMove := games.BestMove(board, rng)
	if aiMove < 0 {
		return AIRound{Board: board, Outcome: models.GameResultDraw}, nil
	}
	board[aiMove] = games.SymbolO

	round := AIRound{Board: board, AIMove: &aiMove}
	switch games.CheckWinner(board) {
	case games.SymbolO:
		round.Outcome = models.GameResultLoss
	case games.Draw:
		round.Outcome = models.GameResultDraw
	}
	return round, nil
}

// ---- Fiber handlers ----

type searchRequest struct {
	Game string `json:"game"`
}

// Search finds or creates a match for the authenticated player.
func (s *MatchService) Search(c *fiber.Ctx) error {
	var req searchRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	playerID := c.Locals("user_id").(string)

	m, err := s.FindOrCreateMatch(req.Game, playerID)
	switch {
	case errors.Is(err, ErrUnknownGame):
		return c.Status(400).JSON(fiber.Map{"error": "unknown game"})
	case errors.Is(err, ErrSeatConflict):
		// Treated as "keep searching", not a failure the user should see.
		return c.Status(409).JSON(fiber.Map{"status": "retry"})
	case err != nil:
		log.Printf("[Match] Search failed for player %s: %v", playerID, err)
		return c.Status(500).JSON(fiber.Map{"error": "database error"})
	}
	return c.JSON(m)
}

// Current returns the player's active match for a game, if any.
func (s *MatchService) Current(c *fiber.Ctx) error {
	playerID := c.Locals("user_id").(string)
	game := c.Params("game")

	m, err := s.ActiveMatchFor(game, playerID)
	if errors.Is(err, ErrMatchNotFound) {
		return c.Status(404).JSON(fiber.Map{"error": "no active match"})
	}
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "database error"})
	}
	return c.JSON(m)
}

// Get returns one match snapshot.
func (s *MatchService) Get(c *fiber.Ctx) error {
	m, err := s.GetMatch(c.Params("id"))
	if errors.Is(err, ErrMatchNotFound) {
		return c.Status(404).JSON(fiber.Map{"error": "match not found"})
	}
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "database error"})
	}
	return c.JSON(m)
}

// Cancel deletes the caller's waiting match.
func (s *MatchService) Cancel(c *fiber.Ctx) error {
	playerID := c.Locals("user_id").(string)
	err := s.CancelSearch(c.Params("id"), playerID)
	if errors.Is(err, ErrNotCancellable) {
		return c.Status(409).JSON(fiber.Map{"error": "match can no longer be cancelled"})
	}
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "database error"})
	}
	return c.JSON(fiber.Map{"status": "cancelled"})
}

// Move applies one move for the authenticated player.
func (s *MatchService) Move(c *fiber.Ctx) error {
	var mv MovePayload
	if err := c.BodyParser(&mv); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	playerID := c.Locals("user_id").(string)

	m, err := s.SubmitMove(c.Params("id"), playerID, mv)
	switch {
	case errors.Is(err, ErrMatchNotFound):
		return c.Status(404).JSON(fiber.Map{"error": "match not found"})
	case errors.Is(err, ErrMatchNotPlaying),
		errors.Is(err, ErrNotYourTurn),
		errors.Is(err, ErrCellOccupied),
		errors.Is(err, ErrIllegalMove),
		errors.Is(err, ErrMoveConflict):
		// Invalid and conflicting moves are silent no-ops: the client just
		// re-renders the unchanged board.
		current, getErr := s.GetMatch(c.Params("id"))
		if getErr != nil {
			return c.Status(409).JSON(fiber.Map{"status": "rejected"})
		}
		return c.Status(409).JSON(fiber.Map{"status": "rejected", "match": current})
	case err != nil:
		log.Printf("[Match] Move failed on match %s: %v", c.Params("id"), err)
		return c.Status(500).JSON(fiber.Map{"error": "database error"})
	}
	return c.JSON(m)
}

type aiMoveRequest struct {
	Board    games.TTTBoard `json:"board"`
	Position int            `json:"position"`
}

// AIMove plays one round against the AI opponent and settles the wallet on a
// terminal board. Daily usage limits gate the endpoint.
func (s *MatchService) AIMove(wallets *WalletService, usage *UsageService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req aiMoveRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
		}
		userID := c.Locals("user_id").(string)

		if usage != nil {
			if err := usage.Consume(userID); err != nil {
				if errors.Is(err, ErrDailyLimitReached) {
					return c.Status(429).JSON(fiber.Map{"error": "daily limit reached"})
				}
				return c.Status(500).JSON(fiber.Map{"error": "database error"})
			}
		}

		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		round, err := PlayAIRound(req.Board, req.Position, rng)
		switch {
		case errors.Is(err, ErrCellOccupied), errors.Is(err, ErrIllegalMove):
			return c.Status(409).JSON(fiber.Map{"status": "rejected", "board": req.Board})
		case err != nil:
			return c.Status(500).JSON(fiber.Map{"error": "internal error"})
		}

		if round.Outcome != "" && wallets != nil {
			if err := wallets.ProcessGameResult(userID, "tictactoe-ai", round.Outcome); err != nil {
				log.Printf("[Match] Wallet settlement failed for user %s: %v", userID, err)
			}
		}
		return c.JSON(round)
	}
}
