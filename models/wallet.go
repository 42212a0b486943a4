// models/wallet.go
package models

// BetaWallet holds the play-money balance used by the beta board games.
// Balance is stored in centavos.
type BetaWallet struct {
	ID      string `gorm:"primaryKey;type:uuid" json:"id"`
	UserID  string `gorm:"type:uuid;not null;uniqueIndex" json:"user_id"`
	Balance int64  `gorm:"not null;default:0" json:"balance"`

	Timestamps
}

const (
	GameResultWin  = "win"
	GameResultLoss = "loss"
	GameResultDraw = "draw"
)

// WalletEntry is the append-only ledger behind every balance change.
type WalletEntry struct {
	ID       string `gorm:"primaryKey;type:uuid" json:"id"`
	WalletID string `gorm:"type:uuid;not null;index" json:"wallet_id"`
	GameID   string `gorm:"type:varchar(32)" json:"game_id"`
	Result   string `gorm:"type:varchar(16)" json:"result"` // win | loss | draw
	Delta    int64  `json:"delta"`

	Timestamps
}
