package handlers

import (
	"context"
	"errors"

	"github.com/chat-escrow/backend/internal/http/dto"
	"github.com/chat-escrow/backend/internal/middleware"
	"github.com/chat-escrow/backend/internal/models"
	"github.com/chat-escrow/backend/internal/rates"
	"github.com/chat-escrow/backend/internal/repositories"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type OperatorFlow interface {
	OperatorRelease(ctx context.Context, code, address string, operatorID int64) (models.Deal, error)
	ListDeals(ctx context.Context) []models.Deal
}

type RateRefresher interface {
	Refresh(ctx context.Context) (bool, error)
	Current() (rates.Snapshot, error)
}

type LedgerReader interface {
	GetByCode(ctx context.Context, code string) (*models.EscrowLedger, error)
	ListByStatus(ctx context.Context, status string, limit int) ([]models.EscrowLedger, error)
}

// DealHistory looks up the audit trail of a deal by its code.
type DealHistory interface {
	ListByDealCode(ctx context.Context, code string, limit, offset int) ([]models.AuditLog, error)
}

// AdminHandler serves operator-only endpoints.
type AdminHandler struct {
	deals   OperatorFlow
	rates   RateRefresher
	ledger  LedgerReader
	history DealHistory
	log     *zap.Logger
}

func NewAdminHandler(deals OperatorFlow, rates RateRefresher, ledger LedgerReader, history DealHistory, log *zap.Logger) *AdminHandler {
	return &AdminHandler{deals: deals, rates: rates, ledger: ledger, history: history, log: log}
}

func (h *AdminHandler) Release(c *fiber.Ctx) error {
	var req dto.OperatorReleaseRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Code == "" || req.Address == "" {
		return badRequest(c, "code and address are required")
	}

	operatorID := middleware.GetTelegramUserID(c)
	deal, err := h.deals.OperatorRelease(c.UserContext(), req.Code, req.Address, operatorID)
	if err != nil {
		return respondError(c, h.log, err)
	}

	h.log.Info("operator release",
		zap.Int64("operator_id", operatorID),
		zap.String("deal_code", deal.Code),
		zap.String("tx_id", deal.ReleaseTxID),
	)
	return c.JSON(dto.SuccessResponse{OK: true, Data: deal})
}

// RefreshRate forces an oracle fetch and reports the resulting rate.
func (h *AdminHandler) RefreshRate(c *fiber.Ctx) error {
	changed, err := h.rates.Refresh(c.UserContext())
	if err != nil {
		h.log.Warn("manual rate refresh failed", zap.Error(err))
	}

	snap, curErr := h.rates.Current()
	if curErr != nil {
		if err != nil {
			return respondError(c, h.log, errors.Join(curErr, err))
		}
		return respondError(c, h.log, curErr)
	}

	return c.JSON(dto.SuccessResponse{OK: err == nil, Data: dto.RateResponse{
		Price:      snap.Price.String(),
		ObservedAt: snap.ObservedAt,
		Changed:    changed,
	}})
}

func (h *AdminHandler) ListDeals(c *fiber.Ctx) error {
	return c.JSON(dto.SuccessResponse{OK: true, Data: h.deals.ListDeals(c.UserContext())})
}

func (h *AdminHandler) ListLedger(c *fiber.Ctx) error {
	status := c.Query("status", models.EscrowStatusFunded)
	entries, err := h.ledger.ListByStatus(c.UserContext(), status, c.QueryInt("limit", 100))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: entries})
}

func (h *AdminHandler) GetLedger(c *fiber.Ctx) error {
	entry, err := h.ledger.GetByCode(c.UserContext(), c.Params("code"))
	if errors.Is(err, repositories.ErrLedgerNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: entry})
}

// GetLedgerEvents returns the stage history of a deal by code. It works for
// deals already removed from the registry.
func (h *AdminHandler) GetLedgerEvents(c *fiber.Ctx) error {
	code := c.Params("code")
	logs, err := h.history.ListByDealCode(c.UserContext(), code, c.QueryInt("limit", 50), c.QueryInt("offset", 0))
	if err != nil {
		return respondError(c, h.log, err)
	}
	if len(logs) == 0 {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "no events for deal " + code})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: logs})
}
