// models/payment.go
package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
)

// Plan is a purchasable access plan. Pricing rules live upstream; we only
// mirror what the checkout needs.
type Plan struct {
	ID            string `gorm:"primaryKey;type:uuid" json:"id"`
	Name          string `gorm:"not null;uniqueIndex" json:"name"`
	Price         int64  `gorm:"not null" json:"price"` // centavos
	DurationHours int    `gorm:"not null" json:"duration_hours"`
	Active        bool   `gorm:"default:true" json:"active"`

	Timestamps
}

// Payment is one PIX charge. It is created pending with the gateway
// transaction reference and completed later by the webhook.
type Payment struct {
	ID            string         `gorm:"primaryKey;type:uuid" json:"id"`
	UserID        string         `gorm:"type:uuid;not null;index" json:"user_id"`
	PlanID        string         `gorm:"type:uuid;not null" json:"plan_id"`
	Amount        int64          `gorm:"not null" json:"amount"`
	Status        string         `gorm:"type:varchar(16);not null;index" json:"status"`
	TransactionID string         `gorm:"index" json:"transaction_id"`
	Metadata      datatypes.JSON `json:"metadata"`
	PaidAt        *time.Time     `json:"paid_at,omitempty"`
	ExpiresAt     *time.Time     `json:"expires_at,omitempty"`

	Timestamps
}

// PaymentWebhook is the raw audit row for every gateway callback received.
type PaymentWebhook struct {
	ID            string         `gorm:"primaryKey;type:uuid" json:"id"`
	TransactionID string         `gorm:"index" json:"transaction_id"`
	EventType     string         `gorm:"type:varchar(32)" json:"event_type"`
	Payload       datatypes.JSON `json:"payload"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// Withdrawal is a PIX payout request debited from the beta wallet.
type Withdrawal struct {
	ID     string `gorm:"primaryKey;type:uuid" json:"id"`
	UserID string `gorm:"type:uuid;not null;index" json:"user_id"`
	Amount int64  `gorm:"not null" json:"amount"`
	PixKey string `gorm:"not null" json:"pix_key"`
	Status string `gorm:"type:varchar(16);not null;default:'pending'" json:"status"`

	Timestamps
}
