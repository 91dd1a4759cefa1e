// models/receipt.go
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PayoutRoleCreator  = "creator"
	PayoutRoleOpponent = "opponent"
	PayoutRoleWinner   = "winner"
)

// SettlementReceipt is the append-only audit row for one executed payout leg.
// A draw produces up to two receipts, a decisive game exactly one. Receipts
// are written as each ledger transfer confirms, so a retried completion can
// see which legs already paid and never re-pay them.
type SettlementReceipt struct {
	ID        string          `json:"id" gorm:"primaryKey"`
	GameID    string          `json:"game_id" gorm:"index;not null"`
	Role      string          `json:"role" gorm:"not null"` // creator | opponent | winner
	Recipient string          `json:"recipient" gorm:"not null"`
	Token     string          `json:"token" gorm:"not null"`
	Amount    decimal.Decimal `json:"amount" gorm:"type:numeric(30,10);not null"`
	Fee       decimal.Decimal `json:"fee" gorm:"type:numeric(30,10)"`
	Outcome   string          `json:"outcome" gorm:"not null"` // draw | decisive
	Signature string          `json:"signature" gorm:"not null"`

	// ArchiveURL is set when the receipt JSON has been mirrored to object
	// storage. Best effort, may stay empty.
	ArchiveURL string `json:"archive_url,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
