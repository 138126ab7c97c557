package handlers

import (
	"errors"

	"github.com/escrow-market/backend/internal/http/dto"
	"github.com/escrow-market/backend/internal/middleware"
	"github.com/escrow-market/backend/internal/models"
	"github.com/escrow-market/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type EscrowHandler struct {
	escrowService *services.EscrowService
	log           *zap.Logger
}

func NewEscrowHandler(escrowService *services.EscrowService, log *zap.Logger) *EscrowHandler {
	return &EscrowHandler{escrowService: escrowService, log: log}
}

func (h *EscrowHandler) CreateEscrow(c *fiber.Ctx) error {
	var req dto.CreateEscrowRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	txID, err := uuid.Parse(req.TransactionID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid transaction_id"})
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid amount"})
	}

	escrow, err := h.escrowService.Create(c.Context(), services.CreateEscrowInput{
		TransactionID: txID,
		Amount:        amount,
		BuyerAddress:  req.BuyerAddress,
		SellerAddress: req.SellerAddress,
		TimeoutHours:  req.TimeoutHours,
		Memo:          req.Memo,
	})
	if err != nil {
		return h.errorResponse(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: dto.CreateEscrowResponse{
		Escrow:            escrow,
		ConfirmationToken: h.escrowService.ConfirmationToken(escrow.TransactionID),
	}})
}

func (h *EscrowHandler) GetEscrow(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow id"})
	}

	escrow, err := h.escrowService.GetEscrow(c.Context(), id)
	if err != nil {
		return h.errorResponse(c, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: escrow})
}

func (h *EscrowHandler) GetByTransaction(c *fiber.Ctx) error {
	txID, err := uuid.Parse(c.Params("transactionId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid transaction id"})
	}

	escrow, err := h.escrowService.GetByTransaction(c.Context(), txID)
	if err != nil {
		return h.errorResponse(c, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: escrow})
}

func (h *EscrowHandler) ReleaseEscrow(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow id"})
	}

	var req dto.ReleaseEscrowRequest
	if err := c.BodyParser(&req); err != nil || req.BuyerSignature == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "buyer_signature is required"})
	}

	return h.release(c, id, req.BuyerSignature)
}

// ConfirmEscrow is the buyer confirmation flow; with confirmed=true it
// is the same transition as release.
func (h *EscrowHandler) ConfirmEscrow(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow id"})
	}

	var req dto.ConfirmEscrowRequest
	if err := c.BodyParser(&req); err != nil || req.BuyerSignature == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "buyer_signature is required"})
	}
	if !req.Confirmed {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "confirmed must be true"})
	}

	return h.release(c, id, req.BuyerSignature)
}

func (h *EscrowHandler) release(c *fiber.Ctx, id uuid.UUID, signature string) error {
	escrow, ref, err := h.escrowService.Release(c.Context(), id, signature)
	if err != nil {
		return h.errorResponse(c, err)
	}

	resp := dto.ReleaseResponse{Escrow: escrow}
	if ref != "" {
		resp.LedgerReference = &ref
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: resp})
}

func (h *EscrowHandler) PartialRelease(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow id"})
	}

	var req dto.PartialReleaseRequest
	if err := c.BodyParser(&req); err != nil || req.Recipient == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "amount and recipient are required"})
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid amount"})
	}

	escrow, err := h.escrowService.PartialRelease(c.Context(), id, amount, req.Recipient)
	if err != nil {
		return h.errorResponse(c, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: escrow})
}

func (h *EscrowHandler) DisputeEscrow(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow id"})
	}

	var req dto.DisputeEscrowRequest
	if err := c.BodyParser(&req); err != nil || req.Reason == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "reason is required"})
	}

	escrow, err := h.escrowService.InitiateDispute(c.Context(), id, req.Reason, req.InitiatorSignature)
	if err != nil {
		return h.errorResponse(c, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: escrow})
}

func (h *EscrowHandler) ResolveDispute(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow id"})
	}

	var req dto.ResolveDisputeRequest
	if err := c.BodyParser(&req); err != nil || req.Resolution == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "resolution is required"})
	}

	adminID := middleware.GetUserID(c)
	escrow, err := h.escrowService.ResolveDispute(c.Context(), id, req.Resolution, adminID)
	if err != nil {
		return h.errorResponse(c, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: escrow})
}

func (h *EscrowHandler) GetEscrowEvents(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow id"})
	}

	entries, err := h.escrowService.GetEvents(c.Context(), id)
	if err != nil {
		return h.errorResponse(c, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: entries})
}

// errorResponse maps domain errors to HTTP codes: absent records are
// 404, rejected transitions 409 (current state in the message), bad
// signatures 403, ledger outages 503 (retryable), validation failures
// 400. Anything unrecognized is an infrastructure failure: 500 with a
// generic body so internals never leak to clients.
func (h *EscrowHandler) errorResponse(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, models.ErrEscrowNotFound) || errors.Is(err, models.ErrTransactionNotFound):
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, models.ErrInvalidTransition):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, models.ErrSignatureMismatch):
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, models.ErrLedgerUnavailable):
		h.log.Error("ledger unavailable", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, models.ErrInvalidInput) ||
		errors.Is(err, models.ErrEscrowExists) ||
		errors.Is(err, models.ErrAmountExceedsBalance):
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	default:
		h.log.Error("internal error", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
}
