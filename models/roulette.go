// models/roulette.go
package models

import "time"

// RouletteTable is one live table we keep a feed subscription for.
type RouletteTable struct {
	ID       string `gorm:"primaryKey;type:uuid" json:"id"`
	TableKey string `gorm:"type:varchar(32);not null;uniqueIndex" json:"table_key"` // feed subscription key
	CasinoID string `gorm:"type:varchar(64);not null" json:"casino_id"`
	Name     string `json:"name"`
	Currency string `gorm:"type:varchar(8);default:'BRL'" json:"currency"`
	Active   bool   `gorm:"default:true" json:"active"`

	Timestamps
}

// RouletteResult is one spin outcome as delivered by the feed. ResultTime is
// the feed-assigned timestamp and is treated as an opaque string — it is only
// ever compared for equality (dedup), never parsed.
type RouletteResult struct {
	ID         string `gorm:"primaryKey;type:uuid" json:"id"`
	TableKey   string `gorm:"type:varchar(32);not null;index:idx_result_table_time" json:"table_key"`
	Result     string `gorm:"type:varchar(8);not null" json:"result"` // pocket 0-36
	ResultTime string `gorm:"type:varchar(64);not null;index:idx_result_table_time" json:"time"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}
