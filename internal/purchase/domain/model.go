package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// PurchaseRecord is the authoritative record that a user paid for a game.
type PurchaseRecord struct {
	ID                   snowflake.ID      `json:"id" gorm:"primaryKey"`
	UserID               string            `json:"user_id" gorm:"type:text;not null"`
	GameID               string            `json:"game_id" gorm:"type:text;not null"`
	Amount               int64             `json:"amount" gorm:"not null"`
	Currency             string            `json:"currency" gorm:"type:text;not null"`
	PaymentStatus        PaymentStatus     `json:"payment_status" gorm:"type:text;not null"`
	PaymentGateway       string            `json:"payment_gateway" gorm:"type:text;not null"`
	GatewayOrderID       string            `json:"gateway_order_id" gorm:"type:text;not null"`
	GatewayTransactionID *string           `json:"gateway_transaction_id,omitempty" gorm:"type:text"`
	PaymentDetails       datatypes.JSONMap `json:"payment_details" gorm:"type:jsonb;not null"`
	PurchaseDate         time.Time         `json:"purchase_date" gorm:"not null"`
	UpdatedAt            time.Time         `json:"updated_at" gorm:"not null"`
}

func (PurchaseRecord) TableName() string { return "purchases" }

// PaymentStatus is the only status vocabulary the store holds.
type PaymentStatus string

const (
	StatusPending   PaymentStatus = "pending"
	StatusCompleted PaymentStatus = "completed"
	StatusFailed    PaymentStatus = "failed"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

func (s PaymentStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether moving from s to next is a forward transition.
// Identity is not a transition; callers treat it as a no-op.
func (s PaymentStatus) CanTransition(next PaymentStatus) bool {
	return s == StatusPending && next.IsTerminal()
}

// ParseGatewayStatus maps gateway status vocabulary onto PaymentStatus.
// Unknown values map to pending so that they never change a record.
func ParseGatewayStatus(raw string) PaymentStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "success", "succeeded", "completed", "paid", "settlement", "captured":
		return StatusCompleted
	case "failed", "failure", "expired", "denied", "declined", "voided", "cancelled", "canceled", "reversed":
		return StatusFailed
	default:
		return StatusPending
	}
}

// UpdateStatusParams describes a conditional status change of one record.
type UpdateStatusParams struct {
	ID            snowflake.ID
	From          PaymentStatus
	To            PaymentStatus
	TransactionID *string
	Details       datatypes.JSONMap
	UpdatedAt     time.Time
}

// LibraryCursor positions a page of a user's completed purchases.
type LibraryCursor struct {
	PurchaseDate time.Time
	ID           snowflake.ID
}
