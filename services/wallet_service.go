// services/wallet_service.go
package services

import (
	"errors"
	"fmt"
	"log"

	"casino-live-system/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Credit amounts in centavos for one beta-game round.
const (
	WinCredit = 100
	LossDebit = 100
)

// WalletService manages the play-money wallet used by the beta board games.
type WalletService struct {
	DB *gorm.DB
}

func NewWalletService(db *gorm.DB) *WalletService {
	return &WalletService{DB: db}
}

// GetOrCreate returns the user's wallet, creating an empty one on first use.
func (s *WalletService) GetOrCreate(userID string) (*models.BetaWallet, error) {
	var w models.BetaWallet
	err := s.DB.Where("user_id = ?", userID).First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		w = models.BetaWallet{ID: uuid.NewString(), UserID: userID}
		if err := s.DB.Create(&w).Error; err != nil {
			return nil, fmt.Errorf("create wallet for user %s: %w", userID, err)
		}
		return &w, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// ProcessGameResult settles one finished round: win credits, loss debits
// (clamped at zero — the balance never goes negative), draw records a zero
// entry. The balance change is a single conditional expression so two
// concurrent settlements cannot overdraw.
func (s *WalletService) ProcessGameResult(userID, gameID, result string) error {
	w, err := s.GetOrCreate(userID)
	if err != nil {
		return err
	}

	var delta int64
	switch result {
	case models.GameResultWin:
		delta = WinCredit
	case models.GameResultLoss:
		delta = -LossDebit
	case models.GameResultDraw:
		delta = 0
	default:
		return fmt.Errorf("unknown game result %q", result)
	}

	if delta != 0 {
		err = s.DB.Model(&models.BetaWallet{}).
			Where("id = ?", w.ID).
			Update("balance", gorm.Expr(
				"CASE WHEN balance + ? >= 0 THEN balance + ? ELSE 0 END", delta, delta)).
			Error
		if err != nil {
			return fmt.Errorf("settle wallet %s: %w", w.ID, err)
		}
	}

	entry := models.WalletEntry{
		ID:       uuid.NewString(),
		WalletID: w.ID,
		GameID:   gameID,
		Result:   result,
		Delta:    delta,
	}
	if err := s.DB.Create(&entry).Error; err != nil {
		return fmt.Errorf("record wallet entry: %w", err)
	}
	return nil
}

// Debit removes amount from the wallet only if the balance covers it.
// Returns false when funds were insufficient.
func (s *WalletService) Debit(userID string, amount int64) (bool, error) {
	if amount <= 0 {
		return false, fmt.Errorf("invalid debit amount %d", amount)
	}
	w, err := s.GetOrCreate(userID)
	if err != nil {
		return false, err
	}
	res := s.DB.Model(&models.BetaWallet{}).
		Where("id = ? AND balance >= ?", w.ID, amount).
		Update("balance", gorm.Expr("balance - ?", amount))
	if res.Error != nil {
		return false, fmt.Errorf("debit wallet %s: %w", w.ID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// GetWallet returns the authenticated user's wallet.
func (s *WalletService) GetWallet(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)
	w, err := s.GetOrCreate(userID)
	if err != nil {
		log.Printf("[Wallet] Failed to load wallet for user %s: %v", userID, err)
		return c.Status(500).JSON(fiber.Map{"error": "database error"})
	}
	return c.JSON(w)
}
