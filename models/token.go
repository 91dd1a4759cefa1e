// models/token.go
package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

// TokenInfo describes one entry of the closed set of wagerable assets: the
// native coin plus a fixed list of SPL mints with known decimal precision.
type TokenInfo struct {
	Symbol   string `json:"symbol"`
	Mint     string `json:"mint,omitempty"` // empty for the native coin
	Decimals int32  `json:"decimals"`
	Native   bool   `json:"native"`
}

// SupportedTokens is the registry of assets a wager may be denominated in.
// Unknown symbols are rejected at game creation.
var SupportedTokens = map[string]TokenInfo{
	"SOL":  {Symbol: "SOL", Decimals: 9, Native: true},
	"USDC": {Symbol: "USDC", Mint: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Decimals: 6},
	"USDT": {Symbol: "USDT", Mint: "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB", Decimals: 6},
	"BONK": {Symbol: "BONK", Mint: "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263", Decimals: 5},
}

// LookupToken resolves a symbol case-insensitively against the registry.
func LookupToken(symbol string) (TokenInfo, bool) {
	t, ok := SupportedTokens[strings.ToUpper(strings.TrimSpace(symbol))]
	return t, ok
}

// FromBaseUnits converts a raw on-ledger amount (lamports, token base units)
// into the token's decimal representation.
func (t TokenInfo) FromBaseUnits(raw decimal.Decimal) decimal.Decimal {
	return raw.Shift(-t.Decimals)
}

// ToBaseUnits converts a decimal amount into raw base units, truncating any
// precision beyond what the token can represent on ledger.
func (t TokenInfo) ToBaseUnits(amount decimal.Decimal) decimal.Decimal {
	return amount.Shift(t.Decimals).Truncate(0)
}
