// models/game.go
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	// StatusCreated is the initial state: the creator has registered the
	// wager but the deposit may not be verified yet.
	StatusCreated = "created"
	// StatusMatched means both sides have deposited and the game is
	// awaiting its on-board conclusion.
	StatusMatched = "matched"
	// StatusCompleted is terminal: funds have left escrow.
	StatusCompleted = "completed"
)

// Game is the sole durable entity of the escrow service. One row per wagered
// chess match. Status only moves forward; Version guards every write.
type Game struct {
	ID            string `json:"id" gorm:"primaryKey"`
	LichessGameID string `json:"lichess_game_id" gorm:"index;not null"`

	CreatorUsername  string  `json:"creator_username" gorm:"not null"`
	OpponentUsername *string `json:"opponent_username,omitempty"`

	WagerAmount decimal.Decimal `json:"wager_amount" gorm:"type:numeric(30,10);not null"`
	Token       string          `json:"token" gorm:"not null"`

	CreatorAddress  string  `json:"creator_address" gorm:"not null"`
	OpponentAddress *string `json:"opponent_address,omitempty"`
	EscrowAddress   string  `json:"escrow_address" gorm:"not null"`

	CreatorSignature  *string `json:"creator_signature,omitempty"`
	OpponentSignature *string `json:"opponent_signature,omitempty"`

	IsVerified bool `json:"is_verified" gorm:"default:false"`
	IsPublic   bool `json:"is_public" gorm:"default:false"`

	// JoinCode is the shareable slug used to look up link-only games.
	JoinCode string `json:"join_code" gorm:"uniqueIndex"`

	Status string `json:"status" gorm:"default:'created'"`

	// SettlingAt marks an in-flight payout attempt. It is taken via a
	// conditional write before any funds move and cleared if the ledger
	// submission fails, so a crashed attempt can be retried after the
	// stale window passes.
	SettlingAt *time.Time `json:"settling_at,omitempty"`

	// PendingPayoutRole/PendingPayoutSignature record a leg that was
	// submitted to the ledger but never confirmed. A later completion
	// attempt must resolve this signature's fate on the ledger before it
	// may move funds for that leg again.
	PendingPayoutRole      *string `json:"pending_payout_role,omitempty"`
	PendingPayoutSignature *string `json:"pending_payout_signature,omitempty"`

	// Version is the optimistic-lock counter. Every transition is an
	// UPDATE ... WHERE id = ? AND version = ?.
	Version int `json:"version" gorm:"not null;default:1"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Receipts []SettlementReceipt `json:"receipts,omitempty" gorm:"foreignKey:GameID"`
}

// HasOpponent reports whether a second party ever completed a join.
func (g *Game) HasOpponent() bool {
	return g.OpponentAddress != nil && *g.OpponentAddress != ""
}
