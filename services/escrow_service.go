// services/escrow_service.go
package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"

	"github.com/devvspaces/zk-chess-clash/models"
)

// staleSettleWindow is how long an in-flight settling marker is honored
// before a new completion attempt may take over a crashed one.
const staleSettleWindow = 5 * time.Minute

// EscrowService is the game lifecycle engine. It owns the state machine and
// drives the verifier, resolver and payout calculator at the right
// transition points. All collaborators are injected; the service keeps no
// cross-request state outside the store.
type EscrowService struct {
	Store    GameStore
	Verifier *PaymentVerifier
	Resolver *OutcomeResolver
	Ledger   LedgerSubmitter
	Attestor AttestationClient
	Archiver ReceiptArchiver // optional

	EscrowAddress  string
	FeeRatePercent decimal.Decimal
	FeeCap         decimal.Decimal
}

func NewEscrowService(store GameStore, verifier *PaymentVerifier, resolver *OutcomeResolver,
	ledger LedgerSubmitter, attestor AttestationClient, archiver ReceiptArchiver,
	escrowAddress string, feeRatePercent, feeCap decimal.Decimal) *EscrowService {
	return &EscrowService{
		Store:          store,
		Verifier:       verifier,
		Resolver:       resolver,
		Ledger:         ledger,
		Attestor:       attestor,
		Archiver:       archiver,
		EscrowAddress:  escrowAddress,
		FeeRatePercent: feeRatePercent,
		FeeCap:         feeCap,
	}
}

type CreateGameInput struct {
	LichessGameID   string
	CreatorUsername string
	CreatorAddress  string
	WagerAmount     decimal.Decimal
	Token           string
	IsPublic        bool
}

type JoinGameInput struct {
	OpponentUsername string
	OpponentAddress  string
	Signature        string
}

// CreateGame registers a new wager in the created/unverified state.
func (s *EscrowService) CreateGame(ctx context.Context, in CreateGameInput) (*models.Game, error) {
	if in.LichessGameID == "" {
		return nil, Errf(KindValidation, "lichess_game_id is required")
	}
	if in.CreatorUsername == "" {
		return nil, Errf(KindValidation, "creator_username is required")
	}
	if _, err := parsePubkey(in.CreatorAddress); err != nil {
		return nil, WrapErr(KindValidation, err, "creator_address is not a valid ledger address")
	}
	if !in.WagerAmount.IsPositive() {
		return nil, Errf(KindValidation, "wager_amount must be positive")
	}
	if _, ok := models.LookupToken(in.Token); !ok {
		return nil, Errf(KindValidation, "unsupported token %q", in.Token)
	}

	if err := s.requireIdentity(ctx, in.CreatorUsername); err != nil {
		return nil, err
	}

	existing, err := s.Store.ActiveByLichessID(ctx, in.LichessGameID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, Errf(KindValidation, "an active wager already exists for match %s", in.LichessGameID)
	}

	game := &models.Game{
		ID:              uuid.NewString(),
		LichessGameID:   in.LichessGameID,
		CreatorUsername: in.CreatorUsername,
		CreatorAddress:  in.CreatorAddress,
		WagerAmount:     in.WagerAmount,
		Token:           strings.ToUpper(strings.TrimSpace(in.Token)),
		EscrowAddress:   s.EscrowAddress,
		IsPublic:        in.IsPublic,
		JoinCode:        fmt.Sprintf("%s-%s", slug.Make(in.LichessGameID), uuid.NewString()[:8]),
		Status:          models.StatusCreated,
		Version:         1,
	}

	if err := s.Store.Create(ctx, game); err != nil {
		return nil, err
	}
	log.Printf("[ESCROW] created game %s for match %s (%s %s, public=%v)",
		game.ID, game.LichessGameID, game.WagerAmount, game.Token, game.IsPublic)
	return game, nil
}

// VerifyCreatorDeposit confirms the creator's deposit and flips the
// verification gate. At-most-once: the conditional write re-checks the
// version the unverified record was read at.
func (s *EscrowService) VerifyCreatorDeposit(ctx context.Context, gameID, signature string) (*models.Game, error) {
	if signature == "" {
		return nil, Errf(KindValidation, "transaction signature is required")
	}

	game, err := s.Store.Get(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if game.Status == models.StatusCompleted {
		return nil, Errf(KindAlreadyCompleted, "game %s is already completed", gameID)
	}
	if game.Status != models.StatusCreated {
		return nil, Errf(KindIllegalTransition, "game %s is %s, deposit verification is only valid while created", gameID, game.Status)
	}
	if game.IsVerified {
		return nil, Errf(KindIllegalTransition, "creator deposit for game %s is already verified", gameID)
	}

	token, err := s.tokenOf(game)
	if err != nil {
		return nil, err
	}
	if err := s.Verifier.VerifyDeposit(ctx, signature, game.EscrowAddress, token, game.WagerAmount); err != nil {
		return nil, err
	}

	changes := map[string]interface{}{
		"is_verified":       true,
		"creator_signature": signature,
	}
	if err := s.Store.UpdateIfVersion(ctx, game.ID, game.Version, changes); err != nil {
		return nil, err
	}

	game.IsVerified = true
	game.CreatorSignature = &signature
	game.Version++
	log.Printf("[ESCROW] verified creator deposit for game %s (%s)", game.ID, signature)
	return game, nil
}

// JoinGame admits a second party: identity and deposit are checked in one
// intent, and the opponent's fields are only persisted once the deposit
// verifies. Ownership constraints are re-derived from the stored record.
func (s *EscrowService) JoinGame(ctx context.Context, gameID string, in JoinGameInput) (*models.Game, error) {
	if in.Signature == "" {
		return nil, Errf(KindValidation, "transaction signature is required")
	}
	if in.OpponentUsername == "" {
		return nil, Errf(KindValidation, "opponent_username is required")
	}
	if _, err := parsePubkey(in.OpponentAddress); err != nil {
		return nil, WrapErr(KindValidation, err, "opponent_address is not a valid ledger address")
	}

	game, err := s.Store.Get(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if game.Status == models.StatusCompleted {
		return nil, Errf(KindAlreadyCompleted, "game %s is already completed", gameID)
	}
	if game.Status != models.StatusCreated {
		return nil, Errf(KindIllegalTransition, "game %s already has an opponent", gameID)
	}
	if !game.IsVerified {
		return nil, Errf(KindIllegalTransition, "creator deposit for game %s is not verified yet", gameID)
	}
	if strings.EqualFold(in.OpponentUsername, game.CreatorUsername) {
		return nil, Errf(KindIllegalTransition, "cannot join your own game")
	}
	if in.OpponentAddress == game.CreatorAddress {
		return nil, Errf(KindIllegalTransition, "opponent address matches the creator's address")
	}

	if err := s.requireIdentity(ctx, in.OpponentUsername); err != nil {
		return nil, err
	}

	token, err := s.tokenOf(game)
	if err != nil {
		return nil, err
	}
	if err := s.Verifier.VerifyDeposit(ctx, in.Signature, game.EscrowAddress, token, game.WagerAmount); err != nil {
		return nil, err
	}

	changes := map[string]interface{}{
		"opponent_username":  in.OpponentUsername,
		"opponent_address":   in.OpponentAddress,
		"opponent_signature": in.Signature,
		"status":             models.StatusMatched,
	}
	if err := s.Store.UpdateIfVersion(ctx, game.ID, game.Version, changes); err != nil {
		return nil, err
	}

	game.OpponentUsername = &in.OpponentUsername
	game.OpponentAddress = &in.OpponentAddress
	game.OpponentSignature = &in.Signature
	game.Status = models.StatusMatched
	game.Version++
	log.Printf("[ESCROW] game %s matched: %s vs %s", game.ID, game.CreatorUsername, in.OpponentUsername)
	return game, nil
}

// CompleteGame resolves the attested outcome, pays out and moves the record
// to its terminal state. The slow attestation fetch happens before any gate
// is taken; eligibility is re-validated from a fresh read afterwards, and
// the settling marker plus per-leg receipts make the payout at-most-once.
func (s *EscrowService) CompleteGame(ctx context.Context, gameID string) (*models.Game, []models.SettlementReceipt, error) {
	game, err := s.Store.Get(ctx, gameID)
	if err != nil {
		return nil, nil, err
	}
	if game.Status == models.StatusCompleted {
		return nil, nil, Errf(KindAlreadyCompleted, "game %s is already completed", gameID)
	}
	if !game.IsVerified {
		return nil, nil, Errf(KindIllegalTransition, "game %s has no verified deposit, nothing to settle", gameID)
	}

	outcome, err := s.Resolver.Resolve(ctx, game.LichessGameID)
	if err != nil {
		return nil, nil, err
	}

	// The attestation fetch is slow; whatever we read before it is stale.
	game, err = s.Store.Get(ctx, gameID)
	if err != nil {
		return nil, nil, err
	}
	if game.Status == models.StatusCompleted {
		return nil, nil, Errf(KindAlreadyCompleted, "game %s is already completed", gameID)
	}
	if !game.IsVerified {
		return nil, nil, Errf(KindIllegalTransition, "game %s has no verified deposit, nothing to settle", gameID)
	}
	if game.SettlingAt != nil && time.Since(*game.SettlingAt) < staleSettleWindow {
		return nil, nil, Errf(KindConcurrentModification, "settlement for game %s is already in progress", gameID)
	}

	now := time.Now().UTC()
	if err := s.Store.UpdateIfVersion(ctx, game.ID, game.Version, map[string]interface{}{
		"settling_at": now,
	}); err != nil {
		return nil, nil, err
	}
	game.SettlingAt = &now
	game.Version++

	receipts, err := s.executePayout(ctx, game, outcome)
	if err != nil {
		return nil, nil, err
	}

	if err := s.Store.UpdateIfVersion(ctx, game.ID, game.Version, map[string]interface{}{
		"status":      models.StatusCompleted,
		"settling_at": nil,
	}); err != nil {
		return nil, nil, err
	}
	game.Status = models.StatusCompleted
	game.SettlingAt = nil
	game.Version++

	log.Printf("[SETTLE] game %s completed (%s), %d payout(s)", game.ID, outcome.Result, len(receipts))
	return game, receipts, nil
}

// executePayout runs the calculator and submits each leg, skipping legs a
// previous crashed attempt already paid. The settling gate is held by the
// caller; it is released here only when it is safe to retry from scratch.
func (s *EscrowService) executePayout(ctx context.Context, game *models.Game, outcome *MatchOutcome) ([]models.SettlementReceipt, error) {
	token, err := s.tokenOf(game)
	if err != nil {
		s.releaseGate(ctx, game)
		return nil, err
	}

	recipients, err := s.resolveRecipients(game, outcome)
	if err != nil {
		s.releaseGate(ctx, game)
		return nil, err
	}

	instructions := ComputePayout(game.WagerAmount, s.FeeRatePercent, s.FeeCap, outcome.Result, game.HasOpponent())
	fee := ComputeFee(game.WagerAmount, s.FeeRatePercent, s.FeeCap)

	if err := s.reconcilePendingLeg(ctx, game, outcome, token, recipients, instructions, fee); err != nil {
		// The pending leg's fate is still unknown; the gate stays held.
		return nil, err
	}

	paid := map[string]bool{}
	previous, err := s.Store.ReceiptsByGame(ctx, game.ID)
	if err != nil {
		s.releaseGate(ctx, game)
		return nil, err
	}
	for _, r := range previous {
		paid[r.Role] = true
	}

	var receipts []models.SettlementReceipt
	for _, in := range instructions {
		if paid[in.Role] {
			log.Printf("[SETTLE] game %s: leg %s already paid by an earlier attempt, skipping", game.ID, in.Role)
			continue
		}

		recipient := recipients[in.Role]
		signature, err := s.Ledger.TransferFromEscrow(ctx, recipient, token, in.Amount)
		if err != nil {
			if signature != "" {
				// Submitted but unconfirmed: the funds may still move. Record
				// the signature so the next attempt checks the ledger before
				// it may pay this leg again, and keep the gate held.
				if uerr := s.Store.UpdateIfVersion(ctx, game.ID, game.Version, map[string]interface{}{
					"pending_payout_role":      in.Role,
					"pending_payout_signature": signature,
				}); uerr != nil {
					log.Printf("[SETTLE] game %s: could not record pending payout %s: %v", game.ID, signature, uerr)
				}
				return nil, WrapErr(KindLedger, err,
					fmt.Sprintf("payout leg %s submitted as %s but unconfirmed", in.Role, signature))
			}
			s.releaseGate(ctx, game)
			return nil, WrapErr(KindLedger, err, fmt.Sprintf("payout leg %s failed", in.Role))
		}

		receipt := models.SettlementReceipt{
			ID:        uuid.NewString(),
			GameID:    game.ID,
			Role:      in.Role,
			Recipient: recipient,
			Token:     token.Symbol,
			Amount:    in.Amount,
			Fee:       fee,
			Outcome:   string(outcome.Result),
			Signature: signature,
		}
		if s.Archiver != nil {
			if url, err := s.Archiver.Archive(ctx, &receipt); err != nil {
				log.Printf("[SETTLE] failed to archive receipt for game %s: %v", game.ID, err)
			} else {
				receipt.ArchiveURL = url
			}
		}
		if err := s.Store.SaveReceipt(ctx, &receipt); err != nil {
			// The transfer happened but the marker did not stick. Keep the
			// gate so a retry cannot re-pay before the books are fixed.
			return nil, err
		}
		receipts = append(receipts, receipt)
	}

	return append(previous, receipts...), nil
}

// reconcilePendingLeg settles the fate of a leg an earlier attempt submitted
// without ever seeing a confirmation. The ledger is the arbiter: a landed
// submission becomes a receipt so the leg is skipped, a dropped one (the
// blockhash expires well inside the stale window) is cleared for
// resubmission, and anything still in flight keeps the gate held.
func (s *EscrowService) reconcilePendingLeg(ctx context.Context, game *models.Game, outcome *MatchOutcome,
	token models.TokenInfo, recipients map[string]string, instructions []PayoutInstruction, fee decimal.Decimal) error {
	if game.PendingPayoutSignature == nil {
		return nil
	}
	signature := *game.PendingPayoutSignature
	var role string
	if game.PendingPayoutRole != nil {
		role = *game.PendingPayoutRole
	}

	status, err := s.Verifier.Ledger.GetSignatureStatus(ctx, signature)
	if err != nil {
		return WrapErr(KindLedger, err, fmt.Sprintf("could not reconcile pending payout %s", signature))
	}

	switch {
	case status.Final():
		amount := decimal.Zero
		for _, in := range instructions {
			if in.Role == role {
				amount = in.Amount
			}
		}
		receipt := models.SettlementReceipt{
			ID:        uuid.NewString(),
			GameID:    game.ID,
			Role:      role,
			Recipient: recipients[role],
			Token:     token.Symbol,
			Amount:    amount,
			Fee:       fee,
			Outcome:   string(outcome.Result),
			Signature: signature,
		}
		if err := s.Store.SaveReceipt(ctx, &receipt); err != nil {
			return err
		}
		log.Printf("[SETTLE] game %s: pending payout %s landed, recorded leg %s", game.ID, signature, role)
	case status == SigStatusProcessed:
		return Errf(KindConcurrentModification, "pending payout %s for game %s is still in flight", signature, game.ID)
	default:
		log.Printf("[SETTLE] game %s: pending payout %s never landed, leg %s will be resubmitted", game.ID, signature, role)
	}

	if err := s.Store.UpdateIfVersion(ctx, game.ID, game.Version, map[string]interface{}{
		"pending_payout_role":      nil,
		"pending_payout_signature": nil,
	}); err != nil {
		return err
	}
	game.PendingPayoutRole = nil
	game.PendingPayoutSignature = nil
	game.Version++
	return nil
}

// resolveRecipients maps payout roles to ledger addresses from the stored
// record, never from caller-supplied claims.
func (s *EscrowService) resolveRecipients(game *models.Game, outcome *MatchOutcome) (map[string]string, error) {
	recipients := map[string]string{
		models.PayoutRoleCreator: game.CreatorAddress,
	}
	if game.HasOpponent() {
		recipients[models.PayoutRoleOpponent] = *game.OpponentAddress
	}

	if outcome.Result == OutcomeDecisive {
		winner := outcome.WinnerUsername()
		switch {
		case strings.EqualFold(winner, game.CreatorUsername):
			recipients[models.PayoutRoleWinner] = game.CreatorAddress
		case game.OpponentUsername != nil && strings.EqualFold(winner, *game.OpponentUsername):
			recipients[models.PayoutRoleWinner] = *game.OpponentAddress
		default:
			return nil, Errf(KindWinnerUnresolved,
				"attested winner %q matches neither registered player of game %s", winner, game.ID)
		}
	}

	return recipients, nil
}

// releaseGate clears the settling marker so the whole intent can be retried.
// Best effort: a failure here just means the gate expires via the stale
// window instead.
func (s *EscrowService) releaseGate(ctx context.Context, game *models.Game) {
	err := s.Store.UpdateIfVersion(ctx, game.ID, game.Version, map[string]interface{}{
		"settling_at": nil,
	})
	if err != nil {
		log.Printf("[SETTLE] could not release settling gate for game %s: %v", game.ID, err)
		return
	}
	game.SettlingAt = nil
	game.Version++
}

func (s *EscrowService) requireIdentity(ctx context.Context, username string) error {
	exists, err := s.Attestor.UserExists(ctx, username)
	if err != nil {
		return WrapErr(KindOutcomeUnavailable, err, "identity lookup failed")
	}
	if !exists {
		return Errf(KindUnknownIdentity, "username %q does not exist on lichess", username)
	}
	return nil
}

func (s *EscrowService) tokenOf(game *models.Game) (models.TokenInfo, error) {
	token, ok := models.LookupToken(game.Token)
	if !ok {
		return models.TokenInfo{}, Errf(KindValidation, "game %s holds unsupported token %q", game.ID, game.Token)
	}
	return token, nil
}

// GetGame is the read path for a single record.
func (s *EscrowService) GetGame(ctx context.Context, id string) (*models.Game, error) {
	return s.Store.Get(ctx, id)
}

// GetGameByJoinCode resolves a shareable link-only code.
func (s *EscrowService) GetGameByJoinCode(ctx context.Context, code string) (*models.Game, error) {
	return s.Store.GetByJoinCode(ctx, code)
}

// ListOpenGames returns public, verified games still waiting for an
// opponent.
func (s *EscrowService) ListOpenGames(ctx context.Context) ([]models.Game, error) {
	return s.Store.ListOpen(ctx)
}

// ListMatchedGames returns games awaiting completion; used by the sweeper.
func (s *EscrowService) ListMatchedGames(ctx context.Context) ([]models.Game, error) {
	return s.Store.ListMatched(ctx)
}
