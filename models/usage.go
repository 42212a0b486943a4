// models/usage.go
package models

// DailyUsage counts per-user interactions with rate-limited features
// (e.g. AI opponent rounds) for one calendar day. Rows are wiped by the
// midnight scheduler job, so Day is always "today" in practice.
type DailyUsage struct {
	ID     string `gorm:"primaryKey;type:uuid" json:"id"`
	UserID string `gorm:"type:uuid;not null;index:idx_usage_user_day,unique" json:"user_id"`
	Day    string `gorm:"type:varchar(10);not null;index:idx_usage_user_day,unique" json:"day"` // YYYY-MM-DD
	Calls  int    `gorm:"not null;default:0" json:"calls"`

	Timestamps
}
