package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/chat-escrow/backend/internal/chain"
	"github.com/chat-escrow/backend/internal/metrics"
	"github.com/chat-escrow/backend/internal/models"
	"github.com/chat-escrow/backend/internal/rbac"
	"github.com/chat-escrow/backend/internal/registry"
	"go.uber.org/zap"
)

// Authority identifies who asks for a release.
type Authority struct {
	UserID   int64
	Operator bool
}

// ReleaseExecutor pays the escrowed amount out of the custodial address.
type ReleaseExecutor struct {
	deals   *registry.Registry
	network chain.Network
	key     string
	ledger  Ledger
	log     *zap.Logger
}

func NewReleaseExecutor(deals *registry.Registry, network chain.Network, custodialKey string, ledger Ledger, log *zap.Logger) *ReleaseExecutor {
	return &ReleaseExecutor{
		deals:   deals,
		network: network,
		key:     custodialKey,
		ledger:  ledger,
		log:     log,
	}
}

// Release validates the request, broadcasts the payout and commits the deal
// as Released. It returns the committed deal and the stage it left. A failed
// broadcast leaves the deal in its stage so the release can be retried.
func (e *ReleaseExecutor) Release(ctx context.Context, dealID, address string, auth Authority) (models.Deal, models.Stage, error) {
	address = strings.TrimSpace(address)
	if err := e.network.Validator.ValidateAddress(address); err != nil {
		return models.Deal{}, "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}

	var from models.Stage
	deal, err := e.deals.Update(dealID, func(d *models.Deal) error {
		from = d.Stage
		override := auth.Operator && rbac.Can(d, auth.UserID, auth.Operator, rbac.PermOverrideRelease)
		if !override && !rbac.Can(d, auth.UserID, false, rbac.PermRelease) {
			return ErrUnauthorized
		}
		switch {
		case d.Stage == models.StageAwaitingRelease:
		case override && models.CanOverrideRelease(d.Stage):
		default:
			return fmt.Errorf("%w: cannot release from %s", ErrInvalidState, d.Stage)
		}
		if d.Releasing {
			return fmt.Errorf("%w: release already in progress", ErrInvalidState)
		}
		d.Releasing = true
		return nil
	})
	if err != nil {
		return deal, from, err
	}

	log := e.log.With(
		zap.String("deal_id", deal.ID),
		zap.String("deal_code", deal.Code),
		zap.Bool("operator", auth.Operator),
	)

	txid, err := e.network.Broadcaster.Send(ctx, address, deal.AmountCoin, e.key)
	if err != nil {
		metrics.Escrow.Releases.WithLabelValues("failed").Inc()
		log.Error("payout broadcast failed", zap.String("address", address), zap.Error(err))
		cleared, uerr := e.deals.Update(dealID, func(d *models.Deal) error {
			d.Releasing = false
			return nil
		})
		if uerr != nil {
			log.Warn("failed to clear release guard", zap.Error(uerr))
			cleared = deal
			cleared.Releasing = false
		}
		return cleared, from, fmt.Errorf("%w: %v", ErrBroadcast, err)
	}

	released, err := e.deals.Update(dealID, func(d *models.Deal) error {
		d.Releasing = false
		d.ReleaseTxID = txid
		d.ReleaseAddress = address
		d.Stage = models.StageReleased
		return nil
	})
	if err != nil {
		// the payout is on chain; the record must still say so
		log.Error("payout broadcast but deal could not be committed",
			zap.String("txid", txid), zap.Error(err))
		released = deal
		released.Releasing = false
		released.ReleaseTxID = txid
		released.ReleaseAddress = address
		released.Stage = models.StageReleased
	}

	metrics.Escrow.Releases.WithLabelValues("ok").Inc()
	log.Info("deal released",
		zap.String("txid", txid),
		zap.String("address", address),
		zap.String("amount", deal.AmountCoin.String()),
	)

	if e.ledger != nil {
		if err := e.ledger.MarkReleased(ctx, dealID, address, txid, auth.Operator); err != nil {
			log.Error("failed to record release in ledger", zap.String("txid", txid), zap.Error(err))
		}
	}
	return released, from, nil
}
