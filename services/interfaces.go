// services/interfaces.go
package services

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/devvspaces/zk-chess-clash/models"
)

// SignatureStatus is the ledger's view of a submitted transaction.
type SignatureStatus string

const (
	SigStatusFinalized SignatureStatus = "finalized"
	SigStatusConfirmed SignatureStatus = "confirmed"
	SigStatusProcessed SignatureStatus = "processed"
	SigStatusUnknown   SignatureStatus = "unknown"
)

// Final reports whether the status is settled enough to accept a deposit.
func (s SignatureStatus) Final() bool {
	return s == SigStatusFinalized || s == SigStatusConfirmed
}

// InstructionKind tags the recognized shapes of a parsed ledger instruction.
// Anything outside the closed set decodes to InstructionUnrecognized and is
// treated as a payment mismatch, never a crash.
type InstructionKind string

const (
	InstructionNativeTransfer       InstructionKind = "native_transfer"
	InstructionTokenTransferChecked InstructionKind = "token_transfer_checked"
	InstructionUnrecognized         InstructionKind = "unrecognized"
)

// ParsedInstruction is the tagged-variant decoding of one instruction from a
// parsed transaction. Only the fields relevant to the tagged kind are set.
type ParsedInstruction struct {
	Kind        InstructionKind
	Source      string
	Destination string
	Mint        string          // token transfers only
	Lamports    decimal.Decimal // native transfers, base units
	Amount      decimal.Decimal // token transfers, base units
	Decimals    int32           // token transfers
}

// ParsedTransaction is the subset of a ledger transaction the verifier
// inspects.
type ParsedTransaction struct {
	Failed       bool
	Instructions []ParsedInstruction
}

// LedgerReader is the read-only ledger capability used to verify deposits.
type LedgerReader interface {
	GetSignatureStatus(ctx context.Context, signature string) (SignatureStatus, error)
	GetParsedTransaction(ctx context.Context, signature string) (*ParsedTransaction, error)
}

// LedgerSubmitter moves funds out of the custodial escrow account. The
// implementation builds, signs and submits a transfer and waits until the
// ledger confirms it.
type LedgerSubmitter interface {
	TransferFromEscrow(ctx context.Context, recipient string, token models.TokenInfo, amount decimal.Decimal) (signature string, err error)
}

// AttestedGame is the third-party claim about a chess match, as fetched from
// the attestation service.
type AttestedGame struct {
	ID     string
	Status string
	Winner string // "white" | "black" | "" (no declared winner)
	White  string // username playing white
	Black  string // username playing black
}

// AttestationClient fetches match outcomes and confirms player identities.
type AttestationClient interface {
	FetchGame(ctx context.Context, lichessGameID string) (*AttestedGame, error)
	UserExists(ctx context.Context, username string) (bool, error)
}

// GameStore is the durable storage capability. UpdateIfVersion is the
// conditional-write primitive every transition rides on: the write applies
// only if the stored version still equals expectedVersion, and bumps the
// version by one when it does.
type GameStore interface {
	Get(ctx context.Context, id string) (*models.Game, error)
	GetByJoinCode(ctx context.Context, code string) (*models.Game, error)
	ActiveByLichessID(ctx context.Context, lichessGameID string) (*models.Game, error)
	ListOpen(ctx context.Context) ([]models.Game, error)
	ListMatched(ctx context.Context) ([]models.Game, error)
	Create(ctx context.Context, game *models.Game) error
	UpdateIfVersion(ctx context.Context, id string, expectedVersion int, changes map[string]interface{}) error
	SaveReceipt(ctx context.Context, receipt *models.SettlementReceipt) error
	ReceiptsByGame(ctx context.Context, gameID string) ([]models.SettlementReceipt, error)
}

// ReceiptArchiver mirrors a settlement receipt to object storage. Optional;
// a nil archiver disables archival.
type ReceiptArchiver interface {
	Archive(ctx context.Context, receipt *models.SettlementReceipt) (url string, err error)
}
