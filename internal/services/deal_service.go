package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/chat-escrow/backend/internal/chain"
	"github.com/chat-escrow/backend/internal/events"
	"github.com/chat-escrow/backend/internal/metrics"
	"github.com/chat-escrow/backend/internal/models"
	"github.com/chat-escrow/backend/internal/rbac"
	"github.com/chat-escrow/backend/internal/registry"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	codeAlphabet       = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength         = 12
	defaultFinishedLRU = 1024
)

type AuditLogger interface {
	Log(ctx context.Context, entry models.AuditLog) error
}

type Ledger interface {
	Create(ctx context.Context, entry *models.EscrowLedger) error
	MarkFunded(ctx context.Context, dealID, txHash string) error
	MarkReleased(ctx context.Context, dealID, address, txHash string, byOperator bool) error
	MarkExpired(ctx context.Context, dealID string) error
}

type RateSource interface {
	ConvertUSDToCoin(usd decimal.Decimal) (coin decimal.Decimal, rate decimal.Decimal, err error)
}

type PaymentMonitor interface {
	Start(dealID string) error
	Stop(dealID string)
}

type Notifier interface {
	StageChanged(ctx context.Context, deal models.Deal, from models.Stage)
	DealUpdated(ctx context.Context, deal models.Deal)
	Prompt(ctx context.Context, deal models.Deal, prompt string, data map[string]any)
	PaymentProgress(ctx context.Context, deal models.Deal, tx chain.Transaction, required int)
	SessionClosed(ctx context.Context, deal models.Deal, reason string)
}

type Settings struct {
	CustodialAddress       string
	QRLink                 string
	MinAmountUSD           decimal.Decimal
	InputTimeout           time.Duration
	RequiredConfirmations  int
	OperatorIDs            []int64
	FinishedDealsCacheSize int
}

type Invoice struct {
	DealCode   string    `json:"deal_code"`
	AmountUSD  string    `json:"amount_usd"`
	AmountCoin string    `json:"amount_coin"`
	Rate       string    `json:"rate"`
	Symbol     string    `json:"symbol"`
	Address    string    `json:"address"`
	QRLink     string    `json:"qr_link,omitempty"`
	InvoicedAt time.Time `json:"invoiced_at"`
}

// errNoChange aborts a registry update without reporting an error.
var errNoChange = errors.New("no change")

type DealService struct {
	deals    *registry.Registry
	finished *lru.Cache[string, models.Deal]
	rates    RateSource
	monitor  PaymentMonitor
	releaser *ReleaseExecutor
	network  chain.Network
	auditLog AuditLogger
	ledger   Ledger
	notifier Notifier
	settings Settings
	timers   *inputTimers
	log      *zap.Logger
	now      func() time.Time
}

func NewDealService(
	deals *registry.Registry,
	rates RateSource,
	monitor PaymentMonitor,
	releaser *ReleaseExecutor,
	network chain.Network,
	auditLog AuditLogger,
	ledger Ledger,
	notifier Notifier,
	settings Settings,
	log *zap.Logger,
) *DealService {
	size := settings.FinishedDealsCacheSize
	if size <= 0 {
		size = defaultFinishedLRU
	}
	finished, _ := lru.New[string, models.Deal](size)

	return &DealService{
		deals:    deals,
		finished: finished,
		rates:    rates,
		monitor:  monitor,
		releaser: releaser,
		network:  network,
		auditLog: auditLog,
		ledger:   ledger,
		notifier: notifier,
		settings: settings,
		timers:   newInputTimers(),
		log:      log,
		now:      time.Now,
	}
}

// Close cancels every pending input wait.
func (s *DealService) Close() {
	s.timers.stopAll()
}

// apply mutates the deal under its lock, checks the resulting stage change
// against the transition table and records it.
func (s *DealService) apply(ctx context.Context, dealID string, actorID *int64, actorType string, mutate func(*models.Deal) error) (models.Deal, models.Stage, error) {
	var from models.Stage
	deal, err := s.deals.Update(dealID, func(d *models.Deal) error {
		from = d.Stage
		if err := mutate(d); err != nil {
			return err
		}
		if d.Stage != from && !models.IsValidTransition(from, d.Stage) {
			return fmt.Errorf("%w: %s to %s", ErrInvalidState, from, d.Stage)
		}
		return nil
	})
	if errors.Is(err, errNoChange) {
		return deal, from, nil
	}
	if err != nil {
		return deal, from, s.missing(dealID, err)
	}
	if deal.Stage != from {
		s.transitioned(ctx, deal, from, actorID, actorType)
	}
	return deal, from, nil
}

// missing turns a not-found error for a recently finished deal into a
// state error.
func (s *DealService) missing(dealID string, err error) error {
	if !errors.Is(err, registry.ErrNotFound) {
		return err
	}
	if done, ok := s.finished.Get(dealID); ok {
		return fmt.Errorf("%w: deal is already %s (%w)", ErrInvalidState, done.Stage, registry.ErrNotFound)
	}
	return err
}

func (s *DealService) transitioned(ctx context.Context, deal models.Deal, from models.Stage, actorID *int64, actorType string) {
	metrics.Escrow.Transitions.WithLabelValues(string(deal.Stage)).Inc()

	s.audit(ctx, actorID, actorType, fmt.Sprintf("deal_stage_%s_to_%s", from, deal.Stage), deal.ID, map[string]any{
		"deal_code": deal.Code,
		"old_stage": from,
		"new_stage": deal.Stage,
	})
	s.notifier.StageChanged(ctx, deal, from)

	s.log.Info("deal stage changed",
		zap.String("deal_id", deal.ID),
		zap.String("deal_code", deal.Code),
		zap.String("from", string(from)),
		zap.String("to", string(deal.Stage)),
		zap.String("actor_type", actorType),
	)

	if deal.Stage.IsTerminal() {
		s.teardown(ctx, deal)
		return
	}
	s.syncTimer(deal)
}

func (s *DealService) syncTimer(deal models.Deal) {
	if deal.Stage.AwaitsInput() && s.settings.InputTimeout > 0 {
		s.timers.arm(deal.ID, deal.Revision, deal.Stage, s.settings.InputTimeout, s.expireInput)
		return
	}
	s.timers.disarm(deal.ID, deal.Revision)
}

func (s *DealService) teardown(ctx context.Context, deal models.Deal) {
	s.timers.forget(deal.ID)
	s.monitor.Stop(deal.ID)
	s.deals.Remove(deal.ID)
	s.finished.Add(deal.ID, deal)
	metrics.Escrow.DealsActive.Set(float64(s.deals.Len()))

	if deal.Stage == models.StageExpired && deal.InvoicedAt != nil && s.ledger != nil {
		if err := s.ledger.MarkExpired(ctx, deal.ID); err != nil {
			s.log.Warn("failed to mark ledger expired", zap.String("deal_id", deal.ID), zap.Error(err))
		}
	}
	s.notifier.SessionClosed(ctx, deal, string(deal.Stage))
}

func (s *DealService) audit(ctx context.Context, actorID *int64, actorType, action, dealID string, meta map[string]any) {
	if s.auditLog == nil {
		return
	}
	err := s.auditLog.Log(ctx, models.AuditLog{
		ActorUserID: actorID,
		ActorType:   actorType,
		Action:      action,
		EntityType:  "deal",
		EntityID:    dealID,
		Meta:        meta,
	})
	if err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
	}
}

func (s *DealService) isOperator(userID int64) bool {
	for _, id := range s.settings.OperatorIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func stateErr(stage models.Stage) error {
	return fmt.Errorf("%w: deal is %s", ErrInvalidState, stage)
}

func ptr(v int64) *int64 { return &v }

func (s *DealService) newCode() string {
	for {
		b := make([]byte, codeLength)
		for i := range b {
			n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
			if err != nil {
				panic(err)
			}
			b[i] = codeAlphabet[n.Int64()]
		}
		code := string(b)
		if _, err := s.deals.FindByCode(code); errors.Is(err, registry.ErrNotFound) {
			return code
		}
	}
}

// StartDeal opens a deal for a new session between creator and counterparty.
func (s *DealService) StartDeal(ctx context.Context, sessionID string, creatorID, counterpartyID int64) (models.Deal, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return models.Deal{}, fmt.Errorf("%w: session id is required", ErrValidation)
	}
	if creatorID == 0 || counterpartyID == 0 {
		return models.Deal{}, fmt.Errorf("%w: both identities are required", ErrValidation)
	}
	if creatorID == counterpartyID {
		return models.Deal{}, ErrSameIdentity
	}

	deal, err := s.deals.Create(models.Deal{
		ID:             sessionID,
		Code:           s.newCode(),
		CreatorID:      creatorID,
		CounterpartyID: counterpartyID,
		Stage:          models.StageRoleSelection,
		StartTime:      s.now(),
	})
	if err != nil {
		return models.Deal{}, err
	}
	s.finished.Remove(sessionID)
	metrics.Escrow.DealsActive.Set(float64(s.deals.Len()))

	s.audit(ctx, ptr(creatorID), "user", "deal_created", deal.ID, map[string]any{
		"deal_code":       deal.Code,
		"counterparty_id": counterpartyID,
	})
	s.log.Info("deal started",
		zap.String("deal_id", deal.ID),
		zap.String("deal_code", deal.Code),
		zap.Int64("creator_id", creatorID),
		zap.Int64("counterparty_id", counterpartyID),
	)

	s.syncTimer(deal)
	s.notifier.Prompt(ctx, deal, events.PromptChooseRole, nil)
	return deal, nil
}

// SelectRole assigns actor as sender or receiver. Once both roles are
// held the deal moves on to role confirmation.
func (s *DealService) SelectRole(ctx context.Context, dealID string, actorID int64, role string) (models.Deal, error) {
	deal, _, err := s.apply(ctx, dealID, ptr(actorID), "user", func(d *models.Deal) error {
		if d.Stage != models.StageRoleSelection {
			return stateErr(d.Stage)
		}
		if !rbac.Can(d, actorID, false, rbac.PermChooseRole) {
			return ErrUnauthorized
		}
		switch role {
		case rbac.RoleSender:
			if d.IsSender(actorID) {
				return errNoChange
			}
			if d.IsReceiver(actorID) {
				return ErrSameIdentity
			}
			d.Sender = ptr(actorID)
		case rbac.RoleReceiver:
			if d.IsReceiver(actorID) {
				return errNoChange
			}
			if d.IsSender(actorID) {
				return ErrSameIdentity
			}
			d.Receiver = ptr(actorID)
		default:
			return fmt.Errorf("%w: unknown role %q", ErrValidation, role)
		}
		if d.Sender != nil && d.Receiver != nil {
			d.Acks = nil
			d.Stage = models.StageRoleConfirmation
		}
		return nil
	})
	if err != nil {
		return deal, err
	}

	if deal.Stage == models.StageRoleConfirmation {
		s.notifier.Prompt(ctx, deal, events.PromptConfirmRoles, map[string]any{
			"sender":   *deal.Sender,
			"receiver": *deal.Receiver,
		})
	} else {
		s.notifier.DealUpdated(ctx, deal)
	}
	return deal, nil
}

// Confirm records actor's agreement with the pending roles or amount. The
// second confirmation advances the deal; confirming the amount issues the
// invoice at the current rate and starts payment monitoring.
func (s *DealService) Confirm(ctx context.Context, dealID string, actorID int64) (models.Deal, error) {
	deal, _, err := s.apply(ctx, dealID, ptr(actorID), "user", func(d *models.Deal) error {
		if d.Stage != models.StageRoleConfirmation && d.Stage != models.StageAmountConfirmation {
			return stateErr(d.Stage)
		}
		if !rbac.Can(d, actorID, false, rbac.PermConfirm) {
			return ErrUnauthorized
		}
		d.Ack(actorID)
		if len(d.Acks) < 2 {
			return nil
		}
		d.Acks = nil

		if d.Stage == models.StageRoleConfirmation {
			d.Stage = models.StageAwaitingAmount
			return nil
		}

		coin, rate, err := s.rates.ConvertUSDToCoin(d.AmountUSD)
		if err != nil {
			return err
		}
		now := s.now()
		d.AmountCoin = coin
		d.Rate = rate
		d.InvoicedAt = &now
		d.Stage = models.StageAwaitingPayment
		return nil
	})
	if err != nil {
		return deal, err
	}

	switch deal.Stage {
	case models.StageAwaitingAmount:
		s.notifier.Prompt(ctx, deal, events.PromptEnterAmount, map[string]any{
			"sender":         *deal.Sender,
			"min_amount_usd": s.settings.MinAmountUSD.StringFixed(2),
		})
	case models.StageAwaitingPayment:
		s.invoiced(ctx, deal)
	default:
		s.notifier.DealUpdated(ctx, deal)
	}
	return deal, nil
}

func (s *DealService) invoiced(ctx context.Context, deal models.Deal) {
	if s.ledger != nil {
		err := s.ledger.Create(ctx, &models.EscrowLedger{
			DealID:         deal.ID,
			DealCode:       deal.Code,
			Network:        s.network.Name,
			AmountUSD:      deal.AmountUSD.String(),
			AmountCoin:     deal.AmountCoin.String(),
			Rate:           deal.Rate.String(),
			DepositAddress: s.settings.CustodialAddress,
			SenderID:       *deal.Sender,
			ReceiverID:     *deal.Receiver,
			Status:         models.EscrowStatusAwaiting,
		})
		if err != nil {
			s.log.Error("failed to create ledger entry", zap.String("deal_id", deal.ID), zap.Error(err))
		}
	}

	if err := s.monitor.Start(deal.ID); err != nil {
		s.log.Warn("payment monitor not started", zap.String("deal_id", deal.ID), zap.Error(err))
	}

	inv := s.invoiceFor(deal)
	s.notifier.Prompt(ctx, deal, events.PromptInvoice, map[string]any{"invoice": inv})
}

func (s *DealService) invoiceFor(deal models.Deal) Invoice {
	inv := Invoice{
		DealCode:   deal.Code,
		AmountUSD:  deal.AmountUSD.StringFixed(2),
		AmountCoin: deal.AmountCoin.StringFixed(s.network.Decimals),
		Rate:       deal.Rate.String(),
		Symbol:     s.network.Symbol,
		Address:    s.settings.CustodialAddress,
		QRLink:     s.settings.QRLink,
	}
	if deal.InvoicedAt != nil {
		inv.InvoicedAt = *deal.InvoicedAt
	}
	return inv
}

// Cancel backs out of the current step. In a confirmation step it returns
// to the preceding input step; elsewhere before the invoice it ends the
// deal.
func (s *DealService) Cancel(ctx context.Context, dealID string, actorID int64) (models.Deal, error) {
	deal, _, err := s.apply(ctx, dealID, ptr(actorID), "user", func(d *models.Deal) error {
		switch d.Stage {
		case models.StageRoleSelection, models.StageAwaitingAmount:
			if !rbac.Can(d, actorID, false, rbac.PermCancelSetup) {
				return ErrUnauthorized
			}
			d.Stage = models.StageCancelled
		case models.StageRoleConfirmation:
			if !rbac.Can(d, actorID, false, rbac.PermCancelConfirm) {
				return ErrUnauthorized
			}
			d.ClearRoles()
			d.Stage = models.StageRoleSelection
		case models.StageAmountConfirmation:
			if !rbac.Can(d, actorID, false, rbac.PermCancelConfirm) {
				return ErrUnauthorized
			}
			d.ClearAmount()
			d.Stage = models.StageAwaitingAmount
		default:
			return stateErr(d.Stage)
		}
		return nil
	})
	if err != nil {
		return deal, err
	}

	switch deal.Stage {
	case models.StageRoleSelection:
		s.notifier.Prompt(ctx, deal, events.PromptChooseRole, nil)
	case models.StageAwaitingAmount:
		s.notifier.Prompt(ctx, deal, events.PromptEnterAmount, map[string]any{
			"sender":         *deal.Sender,
			"min_amount_usd": s.settings.MinAmountUSD.StringFixed(2),
		})
	}
	return deal, nil
}

// parseAmount accepts a USD amount with an optional dollar sign.
func parseAmount(text string) (decimal.Decimal, error) {
	cleaned := strings.TrimSpace(strings.ReplaceAll(text, "$", ""))
	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q is not an amount", ErrValidation, text)
	}
	return amount, nil
}

// SubmitAmount sets the USD amount entered by the sender and prices it at
// the current rate.
func (s *DealService) SubmitAmount(ctx context.Context, dealID string, actorID int64, text string) (models.Deal, error) {
	deal, _, err := s.apply(ctx, dealID, ptr(actorID), "user", func(d *models.Deal) error {
		if d.Stage != models.StageAwaitingAmount {
			return stateErr(d.Stage)
		}
		if !rbac.Can(d, actorID, false, rbac.PermEnterAmount) {
			return ErrUnauthorized
		}
		usd, err := parseAmount(text)
		if err != nil {
			return err
		}
		if usd.LessThan(s.settings.MinAmountUSD) {
			return fmt.Errorf("%w: $%s is less than $%s", ErrBelowMinimum, usd.String(), s.settings.MinAmountUSD.StringFixed(2))
		}
		coin, rate, err := s.rates.ConvertUSDToCoin(usd)
		if err != nil {
			return err
		}
		d.AmountUSD = usd
		d.AmountCoin = coin
		d.Rate = rate
		d.Acks = nil
		d.Stage = models.StageAmountConfirmation
		return nil
	})
	if err != nil {
		return deal, err
	}

	s.notifier.Prompt(ctx, deal, events.PromptConfirmAmount, map[string]any{
		"amount_usd":  deal.AmountUSD.StringFixed(2),
		"amount_coin": deal.AmountCoin.String(),
		"rate":        deal.Rate.String(),
		"symbol":      s.network.Symbol,
	})
	return deal, nil
}

// Release pays the escrow out to address on the sender's request.
func (s *DealService) Release(ctx context.Context, dealID string, actorID int64, address string) (models.Deal, error) {
	auth := Authority{UserID: actorID, Operator: s.isOperator(actorID)}
	deal, from, err := s.releaser.Release(ctx, dealID, address, auth)
	if err != nil {
		return deal, s.missing(dealID, err)
	}

	actorType := "user"
	if !deal.IsSender(actorID) {
		actorType = "operator"
	}
	s.transitioned(ctx, deal, from, ptr(actorID), actorType)
	return deal, nil
}

// OperatorRelease releases the deal with the given code regardless of the
// normal release stage, as long as it has been invoiced.
func (s *DealService) OperatorRelease(ctx context.Context, code, address string, operatorID int64) (models.Deal, error) {
	if !s.isOperator(operatorID) {
		return models.Deal{}, ErrUnauthorized
	}
	code = strings.ToUpper(strings.TrimSpace(code))

	deal, err := s.deals.FindByCode(code)
	if err != nil {
		for _, done := range s.finished.Values() {
			if done.Code == code {
				return done, fmt.Errorf("%w: deal is already %s", ErrInvalidState, done.Stage)
			}
		}
		return models.Deal{}, err
	}

	released, from, err := s.releaser.Release(ctx, deal.ID, address, Authority{UserID: operatorID, Operator: true})
	if err != nil {
		return released, s.missing(deal.ID, err)
	}
	s.transitioned(ctx, released, from, ptr(operatorID), "operator")
	return released, nil
}

// GetDeal returns an active deal, or a recently finished one.
func (s *DealService) GetDeal(ctx context.Context, dealID string) (models.Deal, error) {
	deal, err := s.deals.Get(dealID)
	if errors.Is(err, registry.ErrNotFound) {
		if done, ok := s.finished.Get(dealID); ok {
			return done, nil
		}
	}
	return deal, err
}

func (s *DealService) ListDeals(ctx context.Context) []models.Deal {
	return s.deals.List()
}

// Invoice returns the payment instructions of an invoiced deal.
func (s *DealService) Invoice(ctx context.Context, dealID string) (Invoice, error) {
	deal, err := s.deals.Get(dealID)
	if err != nil {
		return Invoice{}, s.missing(dealID, err)
	}
	if deal.Stage.BeforeInvoice() || deal.InvoicedAt == nil {
		return Invoice{}, stateErr(deal.Stage)
	}
	return s.invoiceFor(deal), nil
}

// OnPayment applies an observation of the matched transfer. It reports
// final once the transfer has the required confirmations.
func (s *DealService) OnPayment(ctx context.Context, dealID string, tx chain.Transaction) (bool, error) {
	required := s.settings.RequiredConfirmations
	final := false
	deal, from, err := s.apply(ctx, dealID, nil, "system", func(d *models.Deal) error {
		if d.Stage != models.StageAwaitingPayment && d.Stage != models.StagePaymentDetected {
			final = true
			return errNoChange
		}
		if d.PaymentTxID == "" {
			d.PaymentTxID = tx.TxID
		}
		d.Confirmations = tx.Confirmations
		if d.Releasing {
			return nil
		}
		if tx.Confirmations >= required {
			d.Stage = models.StageAwaitingRelease
			final = true
		} else if d.Stage == models.StageAwaitingPayment {
			d.Stage = models.StagePaymentDetected
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if from != models.StageAwaitingPayment && from != models.StagePaymentDetected {
		return true, nil
	}

	s.notifier.PaymentProgress(ctx, deal, tx, required)

	if deal.Stage == models.StageAwaitingRelease {
		if s.ledger != nil {
			if err := s.ledger.MarkFunded(ctx, deal.ID, tx.TxID); err != nil {
				s.log.Error("failed to mark ledger funded", zap.String("deal_id", deal.ID), zap.Error(err))
			}
		}
		s.notifier.Prompt(ctx, deal, events.PromptReleaseAddress, map[string]any{
			"sender": *deal.Sender,
			"symbol": s.network.Symbol,
		})
	}
	return final, nil
}

// OnPaymentTimeout expires a deal whose payment never arrived.
func (s *DealService) OnPaymentTimeout(ctx context.Context, dealID string) {
	_, _, err := s.apply(ctx, dealID, nil, "system", func(d *models.Deal) error {
		if d.Stage != models.StageAwaitingPayment || d.Releasing {
			return errNoChange
		}
		d.Stage = models.StageExpired
		return nil
	})
	if err != nil {
		s.log.Info("payment timeout ignored", zap.String("deal_id", dealID), zap.Error(err))
	}
}

func (s *DealService) expireInput(dealID string, stage models.Stage) {
	ctx := context.Background()
	deal, _, err := s.apply(ctx, dealID, nil, "system", func(d *models.Deal) error {
		if d.Stage != stage {
			return errNoChange
		}
		d.Stage = models.StageExpired
		return nil
	})
	if err != nil {
		s.log.Info("input timeout ignored", zap.String("deal_id", dealID), zap.Error(err))
		return
	}
	if deal.Stage == models.StageExpired {
		s.log.Info("deal expired waiting for input",
			zap.String("deal_id", dealID),
			zap.String("stage", string(stage)),
		)
	}
}
