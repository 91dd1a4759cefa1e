// services/payment_verifier.go
package services

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/devvspaces/zk-chess-clash/models"
)

// PaymentVerifier binds a claimed transfer signature to an expected
// (recipient, token, amount) triple. Read-only against the ledger; it either
// accepts the deposit or reports exactly why it cannot.
type PaymentVerifier struct {
	Ledger LedgerReader
}

func NewPaymentVerifier(ledger LedgerReader) *PaymentVerifier {
	return &PaymentVerifier{Ledger: ledger}
}

// VerifyDeposit confirms that the transaction behind signature is finalized
// and that its first transfer-shaped instruction pays exactly
// expectedAmount of token to recipient.
func (v *PaymentVerifier) VerifyDeposit(ctx context.Context, signature, recipient string, token models.TokenInfo, expectedAmount decimal.Decimal) error {
	status, err := v.Ledger.GetSignatureStatus(ctx, signature)
	if err != nil {
		return WrapErr(KindTransactionNotFinal, err, "could not fetch transaction status")
	}
	if !status.Final() {
		return Errf(KindTransactionNotFinal, "transaction %s is %s, need confirmed or finalized", signature, status)
	}

	tx, err := v.Ledger.GetParsedTransaction(ctx, signature)
	if err != nil {
		return WrapErr(KindTransactionFailed, err, "could not fetch parsed transaction")
	}
	if tx == nil {
		return Errf(KindTransactionFailed, "transaction %s not found on ledger", signature)
	}
	if tx.Failed {
		return Errf(KindTransactionFailed, "transaction %s failed on ledger", signature)
	}

	transfer, ok := firstTransfer(tx.Instructions)
	if !ok {
		return Errf(KindPaymentMismatch, "transaction %s contains no recognized transfer instruction", signature)
	}

	if token.Native {
		return v.checkNative(transfer, recipient, token, expectedAmount)
	}
	return v.checkToken(transfer, recipient, token, expectedAmount)
}

// firstTransfer returns the first instruction with a recognized transfer
// shape. The deposit is expected to be the simplest possible transaction, so
// the check is deliberately bounded to that one instruction.
func firstTransfer(instructions []ParsedInstruction) (ParsedInstruction, bool) {
	for _, in := range instructions {
		if in.Kind != InstructionUnrecognized {
			return in, true
		}
	}
	return ParsedInstruction{}, false
}

func (v *PaymentVerifier) checkNative(in ParsedInstruction, recipient string, token models.TokenInfo, expected decimal.Decimal) error {
	if in.Kind != InstructionNativeTransfer {
		return Errf(KindPaymentMismatch, "expected a native transfer, got %s", in.Kind)
	}
	if in.Destination != recipient {
		return Errf(KindPaymentMismatch, "transfer destination %s is not the escrow account", in.Destination)
	}
	got := token.FromBaseUnits(in.Lamports)
	if !got.Equal(expected) {
		return Errf(KindPaymentMismatch, "transfer amount %s does not match wager %s %s", got, expected, token.Symbol)
	}
	return nil
}

func (v *PaymentVerifier) checkToken(in ParsedInstruction, recipient string, token models.TokenInfo, expected decimal.Decimal) error {
	if in.Kind != InstructionTokenTransferChecked {
		return Errf(KindPaymentMismatch, "expected a checked token transfer, got %s", in.Kind)
	}
	if in.Mint != token.Mint {
		return Errf(KindPaymentMismatch, "transfer mint %s does not match %s", in.Mint, token.Symbol)
	}
	if in.Destination != recipient {
		return Errf(KindPaymentMismatch, "transfer destination %s is not the escrow account", in.Destination)
	}
	got := in.Amount.Shift(-in.Decimals)
	if in.Decimals != token.Decimals {
		// The instruction's own decimals disagree with the registry; scale
		// by the registry since that is what the wager was quoted in.
		got = token.FromBaseUnits(in.Amount)
	}
	if !got.Equal(expected) {
		return Errf(KindPaymentMismatch, "transfer amount %s does not match wager %s %s", got, expected, token.Symbol)
	}
	return nil
}
