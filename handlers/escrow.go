// handlers/escrow.go — thin fiber shim over the escrow lifecycle engine
package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/devvspaces/zk-chess-clash/middleware"
	"github.com/devvspaces/zk-chess-clash/services"
)

// EscrowHandler wires the lifecycle engine to HTTP. It parses input, calls
// the engine and translates typed errors; no business rules live here.
type EscrowHandler struct {
	Svc    *services.EscrowService
	Ledger *services.SolanaClient
}

func SetupEscrowRoutes(app *fiber.App, h *EscrowHandler) {
	// Read paths are open; mutating routes require the gateway token.
	app.Get("/games", h.ListOpenGames)
	app.Get("/games/:id", h.GetGame)
	app.Get("/g/:code", h.GetGameByJoinCode)
	app.Get("/escrow/balance", h.EscrowBalance)

	secured := app.Group("/", middleware.GatewayAuthMiddleware())
	secured.Post("/games", h.CreateGame)
	secured.Post("/games/:id/verify", h.VerifyDeposit)
	secured.Post("/games/:id/join", h.JoinGame)
	secured.Post("/games/:id/complete", h.CompleteGame)
}

func (h *EscrowHandler) CreateGame(c *fiber.Ctx) error {
	var input struct {
		LichessGameID   string          `json:"lichess_game_id"`
		CreatorUsername string          `json:"creator_username"`
		CreatorAddress  string          `json:"creator_address"`
		WagerAmount     decimal.Decimal `json:"wager_amount"`
		Token           string          `json:"token"`
		IsPublic        bool            `json:"is_public"`
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	game, err := h.Svc.CreateGame(c.Context(), services.CreateGameInput{
		LichessGameID:   input.LichessGameID,
		CreatorUsername: input.CreatorUsername,
		CreatorAddress:  input.CreatorAddress,
		WagerAmount:     input.WagerAmount,
		Token:           input.Token,
		IsPublic:        input.IsPublic,
	})
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"game":      game,
		"join_code": game.JoinCode,
		"next_step": "send the wager to the escrow address, then POST /games/" + game.ID + "/verify",
	})
}

func (h *EscrowHandler) VerifyDeposit(c *fiber.Ctx) error {
	var input struct {
		Signature string `json:"signature"`
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	game, err := h.Svc.VerifyCreatorDeposit(c.Context(), c.Params("id"), input.Signature)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"game":      game,
		"next_step": "share the join code so an opponent can POST /games/" + game.ID + "/join",
	})
}

func (h *EscrowHandler) JoinGame(c *fiber.Ctx) error {
	var input struct {
		OpponentUsername string `json:"opponent_username"`
		OpponentAddress  string `json:"opponent_address"`
		Signature        string `json:"signature"`
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	game, err := h.Svc.JoinGame(c.Context(), c.Params("id"), services.JoinGameInput{
		OpponentUsername: input.OpponentUsername,
		OpponentAddress:  input.OpponentAddress,
		Signature:        input.Signature,
	})
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"game":      game,
		"next_step": "play the match; POST /games/" + game.ID + "/complete once it ends",
	})
}

func (h *EscrowHandler) CompleteGame(c *fiber.Ctx) error {
	game, receipts, err := h.Svc.CompleteGame(c.Context(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"game":     game,
		"receipts": receipts,
	})
}

func (h *EscrowHandler) GetGame(c *fiber.Ctx) error {
	game, err := h.Svc.GetGame(c.Context(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(game)
}

func (h *EscrowHandler) GetGameByJoinCode(c *fiber.Ctx) error {
	game, err := h.Svc.GetGameByJoinCode(c.Context(), c.Params("code"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(game)
}

func (h *EscrowHandler) ListOpenGames(c *fiber.Ctx) error {
	games, err := h.Svc.ListOpenGames(c.Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"games": games})
}

func (h *EscrowHandler) EscrowBalance(c *fiber.Ctx) error {
	balance, err := h.Ledger.GetBalance(c.Context(), h.Svc.EscrowAddress)
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "failed to fetch escrow balance"})
	}
	return c.JSON(fiber.Map{
		"escrow_address": h.Svc.EscrowAddress,
		"balance_sol":    balance,
	})
}

// respondError maps the closed error-kind taxonomy onto HTTP statuses.
func respondError(c *fiber.Ctx, err error) error {
	var ee *services.EscrowError
	if !errors.As(err, &ee) {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	status := fiber.StatusInternalServerError
	switch ee.Kind {
	case services.KindValidation:
		status = fiber.StatusBadRequest
	case services.KindNotFound:
		status = fiber.StatusNotFound
	case services.KindUnknownIdentity, services.KindWinnerUnresolved, services.KindMatchNotConcluded:
		status = fiber.StatusUnprocessableEntity
	case services.KindPaymentMismatch, services.KindTransactionNotFinal, services.KindTransactionFailed:
		status = fiber.StatusPaymentRequired
	case services.KindIllegalTransition, services.KindAlreadyCompleted, services.KindConcurrentModification:
		status = fiber.StatusConflict
	case services.KindOutcomeUnavailable, services.KindLedger:
		status = fiber.StatusBadGateway
	case services.KindStorage:
		status = fiber.StatusInternalServerError
	}

	return c.Status(status).JSON(fiber.Map{
		"error": ee.Message,
		"kind":  string(ee.Kind),
	})
}
