// services/usage_service.go
package services

import (
	"errors"
	"fmt"
	"time"

	"casino-live-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrDailyLimitReached signals the user exhausted today's allowance.
var ErrDailyLimitReached = errors.New("daily usage limit reached")

// DefaultDailyLimit is how many rate-limited interactions (AI rounds) a user
// gets per calendar day.
const DefaultDailyLimit = 50

// UsageService tracks per-user per-day interaction counters. Counters are
// process-external state in the database, wiped at midnight by the
// scheduler, so every instance sees the same budget.
type UsageService struct {
	DB    *gorm.DB
	Limit int
}

func NewUsageService(db *gorm.DB) *UsageService {
	return &UsageService{DB: db, Limit: DefaultDailyLimit}
}

func today() string {
	return time.Now().Format("2006-01-02")
}

// Consume spends one unit of today's allowance. The increment is a
// conditional update capped at the limit, so concurrent calls cannot
// overspend.
func (s *UsageService) Consume(userID string) error {
	day := today()

	var row models.DailyUsage
	err := s.DB.Where("user_id = ? AND day = ?", userID, day).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		row = models.DailyUsage{ID: uuid.NewString(), UserID: userID, Day: day, Calls: 1}
		createErr := s.DB.Create(&row).Error
		if createErr == nil {
			return nil
		}
		// Two first-of-the-day calls race on the unique (user_id, day)
		// index. The loser re-reads the winner's row and increments it.
		if err := s.DB.Where("user_id = ? AND day = ?", userID, day).First(&row).Error; err != nil {
			return fmt.Errorf("create usage row: %w", createErr)
		}
	} else if err != nil {
		return err
	}

	res := s.DB.Model(&models.DailyUsage{}).
		Where("id = ? AND calls < ?", row.ID, s.Limit).
		Update("calls", gorm.Expr("calls + 1"))
	if res.Error != nil {
		return fmt.Errorf("increment usage: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrDailyLimitReached
	}
	return nil
}

// ResetBefore drops counters from days before the given day. Called by the
// midnight job with today's date.
func (s *UsageService) ResetBefore(day string) (int64, error) {
	res := s.DB.Where("day < ?", day).Delete(&models.DailyUsage{})
	return res.RowsAffected, res.Error
}
