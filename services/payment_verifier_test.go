package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devvspaces/zk-chess-clash/models"
)

const escrowAddr = "9escrowescrowescrowescrowescrowescrowescrow"

type fakeLedgerReader struct {
	status SignatureStatus
	tx     *ParsedTransaction
}

func (f *fakeLedgerReader) GetSignatureStatus(ctx context.Context, sig string) (SignatureStatus, error) {
	return f.status, nil
}

func (f *fakeLedgerReader) GetParsedTransaction(ctx context.Context, sig string) (*ParsedTransaction, error) {
	return f.tx, nil
}

func nativeDeposit(destination, lamports string) *ParsedTransaction {
	return &ParsedTransaction{
		Instructions: []ParsedInstruction{{
			Kind:        InstructionNativeTransfer,
			Destination: destination,
			Lamports:    dec(lamports),
		}},
	}
}

func solToken(t *testing.T) models.TokenInfo {
	t.Helper()
	token, ok := models.LookupToken("SOL")
	require.True(t, ok)
	return token
}

func usdcToken(t *testing.T) models.TokenInfo {
	t.Helper()
	token, ok := models.LookupToken("USDC")
	require.True(t, ok)
	return token
}

func TestVerifyDepositNativeExactMatch(t *testing.T) {
	// 1.0 SOL sent to escrow, finalized: the deposit verifies.
	v := NewPaymentVerifier(&fakeLedgerReader{
		status: SigStatusFinalized,
		tx:     nativeDeposit(escrowAddr, "1000000000"),
	})
	err := v.VerifyDeposit(context.Background(), "sig", escrowAddr, solToken(t), dec("1"))
	assert.NoError(t, err)
}

func TestVerifyDepositNativeWrongAmount(t *testing.T) {
	// 0.5 SOL against an expected 1.0 fails and names the mismatch.
	v := NewPaymentVerifier(&fakeLedgerReader{
		status: SigStatusFinalized,
		tx:     nativeDeposit(escrowAddr, "500000000"),
	})
	err := v.VerifyDeposit(context.Background(), "sig", escrowAddr, solToken(t), dec("1"))
	require.Error(t, err)
	assert.Equal(t, KindPaymentMismatch, KindOf(err))
}

func TestVerifyDepositNativeWrongRecipient(t *testing.T) {
	v := NewPaymentVerifier(&fakeLedgerReader{
		status: SigStatusFinalized,
		tx:     nativeDeposit("somebodyelse", "1000000000"),
	})
	err := v.VerifyDeposit(context.Background(), "sig", escrowAddr, solToken(t), dec("1"))
	require.Error(t, err)
	assert.Equal(t, KindPaymentMismatch, KindOf(err))
}

func TestVerifyDepositNotFinalized(t *testing.T) {
	for _, status := range []SignatureStatus{SigStatusProcessed, SigStatusUnknown} {
		v := NewPaymentVerifier(&fakeLedgerReader{
			status: status,
			tx:     nativeDeposit(escrowAddr, "1000000000"),
		})
		err := v.VerifyDeposit(context.Background(), "sig", escrowAddr, solToken(t), dec("1"))
		require.Error(t, err)
		assert.Equal(t, KindTransactionNotFinal, KindOf(err), "status %s", status)
	}
}

func TestVerifyDepositFailedTransaction(t *testing.T) {
	v := NewPaymentVerifier(&fakeLedgerReader{
		status: SigStatusConfirmed,
		tx: &ParsedTransaction{
			Failed: true,
			Instructions: []ParsedInstruction{{
				Kind:        InstructionNativeTransfer,
				Destination: escrowAddr,
				Lamports:    dec("1000000000"),
			}},
		},
	})
	err := v.VerifyDeposit(context.Background(), "sig", escrowAddr, solToken(t), dec("1"))
	require.Error(t, err)
	assert.Equal(t, KindTransactionFailed, KindOf(err))
}

func TestVerifyDepositMissingTransaction(t *testing.T) {
	v := NewPaymentVerifier(&fakeLedgerReader{status: SigStatusFinalized, tx: nil})
	err := v.VerifyDeposit(context.Background(), "sig", escrowAddr, solToken(t), dec("1"))
	require.Error(t, err)
	assert.Equal(t, KindTransactionFailed, KindOf(err))
}

func TestVerifyDepositTokenTransferChecked(t *testing.T) {
	usdc := usdcToken(t)
	v := NewPaymentVerifier(&fakeLedgerReader{
		status: SigStatusFinalized,
		tx: &ParsedTransaction{
			Instructions: []ParsedInstruction{{
				Kind:        InstructionTokenTransferChecked,
				Destination: escrowAddr,
				Mint:        usdc.Mint,
				Amount:      dec("25000000"), // 25 USDC in base units
				Decimals:    6,
			}},
		},
	})
	err := v.VerifyDeposit(context.Background(), "sig", escrowAddr, usdc, dec("25"))
	assert.NoError(t, err)
}

func TestVerifyDepositTokenWrongMint(t *testing.T) {
	usdc := usdcToken(t)
	usdt, _ := models.LookupToken("USDT")
	v := NewPaymentVerifier(&fakeLedgerReader{
		status: SigStatusFinalized,
		tx: &ParsedTransaction{
			Instructions: []ParsedInstruction{{
				Kind:        InstructionTokenTransferChecked,
				Destination: escrowAddr,
				Mint:        usdt.Mint,
				Amount:      dec("25000000"),
				Decimals:    6,
			}},
		},
	})
	err := v.VerifyDeposit(context.Background(), "sig", escrowAddr, usdc, dec("25"))
	require.Error(t, err)
	assert.Equal(t, KindPaymentMismatch, KindOf(err))
}

func TestVerifyDepositTokenAgainstNativeWager(t *testing.T) {
	// A token transfer cannot satisfy a SOL wager.
	usdc := usdcToken(t)
	v := NewPaymentVerifier(&fakeLedgerReader{
		status: SigStatusFinalized,
		tx: &ParsedTransaction{
			Instructions: []ParsedInstruction{{
				Kind:        InstructionTokenTransferChecked,
				Destination: escrowAddr,
				Mint:        usdc.Mint,
				Amount:      dec("1000000000"),
				Decimals:    6,
			}},
		},
	})
	err := v.VerifyDeposit(context.Background(), "sig", escrowAddr, solToken(t), dec("1"))
	require.Error(t, err)
	assert.Equal(t, KindPaymentMismatch, KindOf(err))
}

func TestVerifyDepositNoRecognizedInstruction(t *testing.T) {
	v := NewPaymentVerifier(&fakeLedgerReader{
		status: SigStatusFinalized,
		tx: &ParsedTransaction{
			Instructions: []ParsedInstruction{{Kind: InstructionUnrecognized}},
		},
	})
	err := v.VerifyDeposit(context.Background(), "sig", escrowAddr, solToken(t), dec("1"))
	require.Error(t, err)
	assert.Equal(t, KindPaymentMismatch, KindOf(err))
}
