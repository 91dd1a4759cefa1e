// services/payout.go
package services

import (
	"github.com/shopspring/decimal"

	"github.com/devvspaces/zk-chess-clash/models"
)

// SettlementOutcome classifies a concluded match for payout purposes.
type SettlementOutcome string

const (
	OutcomeDraw     SettlementOutcome = "draw"
	OutcomeDecisive SettlementOutcome = "decisive"
)

// PayoutInstruction is one fund movement the engine must execute: who gets
// paid (by role, resolved to an address by the engine) and how much.
type PayoutInstruction struct {
	Role   string
	Amount decimal.Decimal
}

var oneHundred = decimal.NewFromInt(100)

// ComputeFee returns min(wager * ratePercent / 100, cap), never negative.
func ComputeFee(wager, ratePercent, cap decimal.Decimal) decimal.Decimal {
	fee := wager.Mul(ratePercent).Div(oneHundred)
	if fee.GreaterThan(cap) {
		fee = cap
	}
	if fee.IsNegative() {
		return decimal.Zero
	}
	return fee
}

// ComputePayout converts an outcome into payout instructions. Pure and
// deterministic; the engine alone executes the result.
//
// Draw: each side gets its wager back minus the fee, charged once per side.
// Decisive: the winner takes the full pot minus a single fee. A game that
// never reached the matched state only ever holds one wager, so both branches
// pay out at most that single deposit: the draw refunds only the creator and
// the decisive pot is the lone wager, never double it.
func ComputePayout(wager, ratePercent, cap decimal.Decimal, outcome SettlementOutcome, hasOpponent bool) []PayoutInstruction {
	fee := ComputeFee(wager, ratePercent, cap)

	if outcome == OutcomeDraw {
		refund := wager.Sub(fee)
		instructions := []PayoutInstruction{
			{Role: models.PayoutRoleCreator, Amount: refund},
		}
		if hasOpponent {
			instructions = append(instructions, PayoutInstruction{
				Role:   models.PayoutRoleOpponent,
				Amount: refund,
			})
		}
		return instructions
	}

	pot := wager
	if hasOpponent {
		pot = wager.Mul(decimal.NewFromInt(2))
	}
	return []PayoutInstruction{
		{Role: models.PayoutRoleWinner, Amount: pot.Sub(fee)},
	}
}
