package services

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devvspaces/zk-chess-clash/models"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestComputeFee(t *testing.T) {
	tests := []struct {
		name  string
		wager string
		rate  string
		cap   string
		want  string
	}{
		{"below cap", "2", "5", "1", "0.1"},
		{"capped", "3", "10", "0.2", "0.2"},
		{"zero rate", "10", "0", "1", "0"},
		{"exact cap", "20", "5", "1", "1"},
		{"negative rate clamps to zero", "10", "-5", "1", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fee := ComputeFee(dec(tt.wager), dec(tt.rate), dec(tt.cap))
			assert.True(t, fee.Equal(dec(tt.want)), "fee = %s, want %s", fee, tt.want)
		})
	}
}

func TestComputeFeeNeverExceedsCap(t *testing.T) {
	cap := dec("1")
	for _, wager := range []string{"0.1", "1", "5", "100", "100000"} {
		fee := ComputeFee(dec(wager), dec("5"), cap)
		assert.False(t, fee.IsNegative(), "fee negative for wager %s", wager)
		assert.True(t, fee.LessThanOrEqual(cap), "fee %s exceeds cap for wager %s", fee, wager)
	}
}

func TestComputePayoutDraw(t *testing.T) {
	// wager=2.0, rate=5%, cap=1.0 -> fee=0.1, each side gets 1.9
	payouts := ComputePayout(dec("2"), dec("5"), dec("1"), OutcomeDraw, true)
	require.Len(t, payouts, 2)
	assert.Equal(t, models.PayoutRoleCreator, payouts[0].Role)
	assert.True(t, payouts[0].Amount.Equal(dec("1.9")))
	assert.Equal(t, models.PayoutRoleOpponent, payouts[1].Role)
	assert.True(t, payouts[1].Amount.Equal(dec("1.9")))

	// Total paid never exceeds the pot.
	total := payouts[0].Amount.Add(payouts[1].Amount)
	assert.True(t, total.LessThanOrEqual(dec("4")))
}

func TestComputePayoutDrawWithoutOpponent(t *testing.T) {
	// Game never reached the matched state: only the creator is refunded.
	payouts := ComputePayout(dec("2"), dec("5"), dec("1"), OutcomeDraw, false)
	require.Len(t, payouts, 1)
	assert.Equal(t, models.PayoutRoleCreator, payouts[0].Role)
	assert.True(t, payouts[0].Amount.Equal(dec("1.9")))
}

func TestComputePayoutDecisive(t *testing.T) {
	// wager=3.0, rate=10%, cap=0.2 -> fee=0.2, winner gets 5.8
	payouts := ComputePayout(dec("3"), dec("10"), dec("0.2"), OutcomeDecisive, true)
	require.Len(t, payouts, 1)
	assert.Equal(t, models.PayoutRoleWinner, payouts[0].Role)
	assert.True(t, payouts[0].Amount.Equal(dec("5.8")), "got %s", payouts[0].Amount)
}

func TestComputePayoutDecisiveWithoutOpponent(t *testing.T) {
	// Only one wager ever reached escrow, so the pot is that single wager.
	payouts := ComputePayout(dec("3"), dec("10"), dec("0.2"), OutcomeDecisive, false)
	require.Len(t, payouts, 1)
	assert.Equal(t, models.PayoutRoleWinner, payouts[0].Role)
	assert.True(t, payouts[0].Amount.Equal(dec("2.8")), "got %s", payouts[0].Amount)
}

func TestComputePayoutNoFee(t *testing.T) {
	payouts := ComputePayout(dec("1"), dec("0"), dec("1"), OutcomeDraw, true)
	total := payouts[0].Amount.Add(payouts[1].Amount)
	assert.True(t, total.Equal(dec("2")), "draw with no fee must conserve the pot")
}
