package services

import (
	"fmt"
	"io"
	"testing"

	"casino-live-system/models"
	"casino-live-system/realtime"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// testDB opens a fresh in-memory database with the full schema.
func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.Match{},
		&models.Move{},
		&models.RouletteTable{},
		&models.RouletteResult{},
		&models.BetaWallet{},
		&models.WalletEntry{},
		&models.Plan{},
		&models.Payment{},
		&models.PaymentWebhook{},
		&models.Withdrawal{},
		&models.DailyUsage{},
	))
	return db
}

func testHub() *realtime.Hub {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return realtime.NewHub(log)
}
