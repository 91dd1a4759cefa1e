// services/solana_keys.go
//
// Minimal Solana key handling and legacy transaction serialization: base58
// public keys, program-derived addresses for associated token accounts, and
// the compact-u16 message wire format. Only the two transfer shapes the
// escrow ever submits are supported.
package services

import (
	"crypto/sha256"
	"encoding/binary"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
)

const (
	systemProgramID          = "11111111111111111111111111111111"
	tokenProgramID           = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	associatedTokenProgramID = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"

	systemInstructionTransfer       = 2  // u32 tag in system program data
	tokenInstructionTransferChecked = 12 // u8 tag in spl-token data
)

type solanaPubkey [32]byte

func parsePubkey(s string) (solanaPubkey, error) {
	var pk solanaPubkey
	raw, err := base58.Decode(s)
	if err != nil {
		return pk, errors.Wrapf(err, "invalid base58 address %q", s)
	}
	if len(raw) != 32 {
		return pk, errors.Errorf("address %q decodes to %d bytes, want 32", s, len(raw))
	}
	copy(pk[:], raw)
	return pk, nil
}

func (pk solanaPubkey) String() string {
	return base58.Encode(pk[:])
}

// isOnCurve reports whether the bytes are a valid ed25519 curve point.
// Program-derived addresses must be off-curve so no private key can exist
// for them.
func isOnCurve(b solanaPubkey) bool {
	_, err := new(edwards25519.Point).SetBytes(b[:])
	return err == nil
}

// findProgramAddress walks the bump seed down from 255 until the derived
// address falls off the curve.
func findProgramAddress(seeds [][]byte, program solanaPubkey) (solanaPubkey, error) {
	for bump := 255; bump >= 0; bump-- {
		h := sha256.New()
		for _, seed := range seeds {
			h.Write(seed)
		}
		h.Write([]byte{byte(bump)})
		h.Write(program[:])
		h.Write([]byte("ProgramDerivedAddress"))

		var candidate solanaPubkey
		copy(candidate[:], h.Sum(nil))
		if !isOnCurve(candidate) {
			return candidate, nil
		}
	}
	return solanaPubkey{}, errors.New("no viable program address bump found")
}

// associatedTokenAddress derives the canonical token account for a wallet
// and mint.
func associatedTokenAddress(wallet, mint solanaPubkey) (solanaPubkey, error) {
	tokenProgram, err := parsePubkey(tokenProgramID)
	if err != nil {
		return solanaPubkey{}, err
	}
	ataProgram, err := parsePubkey(associatedTokenProgramID)
	if err != nil {
		return solanaPubkey{}, err
	}
	return findProgramAddress([][]byte{wallet[:], tokenProgram[:], mint[:]}, ataProgram)
}

// appendShortvecLen appends a compact-u16 length prefix.
func appendShortvecLen(buf []byte, n int) []byte {
	for {
		if n < 0x80 {
			return append(buf, byte(n))
		}
		buf = append(buf, byte(n&0x7f|0x80))
		n >>= 7
	}
}

type compiledInstruction struct {
	programIndex   byte
	accountIndexes []byte
	data           []byte
}

// solanaMessage is a legacy-format transaction message with a single
// required signer (the escrow key).
type solanaMessage struct {
	numReadonlyUnsigned byte
	accounts            []solanaPubkey
	blockhash           [32]byte
	instructions        []compiledInstruction
}

func (m *solanaMessage) serialize() []byte {
	buf := []byte{1, 0, m.numReadonlyUnsigned}
	buf = appendShortvecLen(buf, len(m.accounts))
	for _, acc := range m.accounts {
		buf = append(buf, acc[:]...)
	}
	buf = append(buf, m.blockhash[:]...)
	buf = appendShortvecLen(buf, len(m.instructions))
	for _, in := range m.instructions {
		buf = append(buf, in.programIndex)
		buf = appendShortvecLen(buf, len(in.accountIndexes))
		buf = append(buf, in.accountIndexes...)
		buf = appendShortvecLen(buf, len(in.data))
		buf = append(buf, in.data...)
	}
	return buf
}

// nativeTransferMessage builds a system-program transfer of lamports from
// the escrow account.
func nativeTransferMessage(escrow, recipient solanaPubkey, lamports uint64, blockhash [32]byte) (*solanaMessage, error) {
	system, err := parsePubkey(systemProgramID)
	if err != nil {
		return nil, err
	}

	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], systemInstructionTransfer)
	binary.LittleEndian.PutUint64(data[4:12], lamports)

	return &solanaMessage{
		numReadonlyUnsigned: 1,
		accounts:            []solanaPubkey{escrow, recipient, system},
		blockhash:           blockhash,
		instructions: []compiledInstruction{{
			programIndex:   2,
			accountIndexes: []byte{0, 1},
			data:           data,
		}},
	}, nil
}

// tokenTransferMessage builds an spl-token transferChecked from the escrow's
// associated token account to the recipient's.
func tokenTransferMessage(escrow, recipient, mint solanaPubkey, amount uint64, decimals int32, blockhash [32]byte) (*solanaMessage, error) {
	tokenProgram, err := parsePubkey(tokenProgramID)
	if err != nil {
		return nil, err
	}
	source, err := associatedTokenAddress(escrow, mint)
	if err != nil {
		return nil, err
	}
	destination, err := associatedTokenAddress(recipient, mint)
	if err != nil {
		return nil, err
	}

	data := make([]byte, 10)
	data[0] = tokenInstructionTransferChecked
	binary.LittleEndian.PutUint64(data[1:9], amount)
	data[9] = byte(decimals)

	// Account layout: signer first, then writable token accounts, then the
	// two readonly accounts (mint, token program).
	return &solanaMessage{
		numReadonlyUnsigned: 2,
		accounts:            []solanaPubkey{escrow, source, destination, mint, tokenProgram},
		blockhash:           blockhash,
		instructions: []compiledInstruction{{
			programIndex: 4,
			// transferChecked order: source, mint, destination, owner.
			accountIndexes: []byte{1, 3, 2, 0},
			data:           data,
		}},
	}, nil
}
