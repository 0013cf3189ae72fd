package handlers

import (
	"context"
	"strconv"

	"github.com/chat-escrow/backend/internal/http/dto"
	"github.com/chat-escrow/backend/internal/middleware"
	"github.com/chat-escrow/backend/internal/models"
	"github.com/chat-escrow/backend/internal/rbac"
	"github.com/chat-escrow/backend/internal/repositories"
	"github.com/chat-escrow/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// DealFlow is the part of services.DealService driven by participants.
type DealFlow interface {
	StartDeal(ctx context.Context, sessionID string, creatorID, counterpartyID int64) (models.Deal, error)
	SelectRole(ctx context.Context, dealID string, actorID int64, role string) (models.Deal, error)
	Confirm(ctx context.Context, dealID string, actorID int64) (models.Deal, error)
	Cancel(ctx context.Context, dealID string, actorID int64) (models.Deal, error)
	SubmitAmount(ctx context.Context, dealID string, actorID int64, text string) (models.Deal, error)
	Release(ctx context.Context, dealID string, actorID int64, address string) (models.Deal, error)
	GetDeal(ctx context.Context, dealID string) (models.Deal, error)
	Invoice(ctx context.Context, dealID string) (services.Invoice, error)
}

type AuditReader interface {
	GetByEntity(ctx context.Context, entityType, entityID string, limit, offset int) ([]models.AuditLog, error)
}

type DealHandler struct {
	deals DealFlow
	audit AuditReader
	log   *zap.Logger
}

func NewDealHandler(deals DealFlow, audit AuditReader, log *zap.Logger) *DealHandler {
	return &DealHandler{deals: deals, audit: audit, log: log}
}

func (h *DealHandler) StartDeal(c *fiber.Ctx) error {
	var req dto.StartDealRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.SessionID == "" || req.CounterpartyID == 0 {
		return badRequest(c, "session_id and counterparty_id are required")
	}

	deal, err := h.deals.StartDeal(c.UserContext(), req.SessionID, middleware.GetTelegramUserID(c), req.CounterpartyID)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: deal})
}

func (h *DealHandler) SelectRole(c *fiber.Ctx) error {
	var req dto.SelectRoleRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	deal, err := h.deals.SelectRole(c.UserContext(), c.Params("id"), middleware.GetTelegramUserID(c), req.Role)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: deal})
}

func (h *DealHandler) Confirm(c *fiber.Ctx) error {
	deal, err := h.deals.Confirm(c.UserContext(), c.Params("id"), middleware.GetTelegramUserID(c))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: deal})
}

func (h *DealHandler) Cancel(c *fiber.Ctx) error {
	deal, err := h.deals.Cancel(c.UserContext(), c.Params("id"), middleware.GetTelegramUserID(c))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: deal})
}

func (h *DealHandler) SubmitAmount(c *fiber.Ctx) error {
	var req dto.SubmitAmountRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	deal, err := h.deals.SubmitAmount(c.UserContext(), c.Params("id"), middleware.GetTelegramUserID(c), req.Amount)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: deal})
}

func (h *DealHandler) Release(c *fiber.Ctx) error {
	var req dto.ReleaseRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	deal, err := h.deals.Release(c.UserContext(), c.Params("id"), middleware.GetTelegramUserID(c), req.Address)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: deal})
}

// viewable loads a deal the caller may see.
func (h *DealHandler) viewable(c *fiber.Ctx) (models.Deal, error) {
	deal, err := h.deals.GetDeal(c.UserContext(), c.Params("id"))
	if err != nil {
		return models.Deal{}, err
	}
	if !rbac.Can(&deal, middleware.GetTelegramUserID(c), middleware.IsOperator(c), rbac.PermViewDeal) {
		return models.Deal{}, services.ErrUnauthorized
	}
	return deal, nil
}

func (h *DealHandler) GetDeal(c *fiber.Ctx) error {
	deal, err := h.viewable(c)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: deal})
}

func (h *DealHandler) GetInvoice(c *fiber.Ctx) error {
	deal, err := h.viewable(c)
	if err != nil {
		return respondError(c, h.log, err)
	}

	inv, err := h.deals.Invoice(c.UserContext(), deal.ID)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: inv})
}

func (h *DealHandler) GetDealEvents(c *fiber.Ctx) error {
	deal, err := h.viewable(c)
	if err != nil {
		return respondError(c, h.log, err)
	}

	limit, offset := 50, 0
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	logs, err := h.audit.GetByEntity(c.UserContext(), repositories.EntityDeal, deal.ID, limit, offset)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: logs})
}
