package events

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chat-escrow/backend/internal/chain"
	"github.com/chat-escrow/backend/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Prompts ask the session for the next human input.
const (
	PromptChooseRole     = "choose_role"
	PromptConfirmRoles   = "confirm_roles"
	PromptEnterAmount    = "enter_amount"
	PromptConfirmAmount  = "confirm_amount"
	PromptInvoice        = "invoice"
	PromptReleaseAddress = "release_address"
)

// DealNotifier turns deal changes into events on the deal stream. Publish
// failures are logged and never surface to the caller.
type DealNotifier struct {
	publisher Publisher
	symbol    string
	log       *zap.Logger
}

func NewDealNotifier(publisher Publisher, symbol string, log *zap.Logger) *DealNotifier {
	return &DealNotifier{publisher: publisher, symbol: symbol, log: log}
}

func (n *DealNotifier) publish(ctx context.Context, eventType string, payload map[string]any) {
	if err := n.publisher.Publish(ctx, StreamDeals, Event{Type: eventType, Payload: payload}); err != nil {
		n.log.Warn("failed to publish event", zap.String("type", eventType), zap.Error(err))
	}
}

func dealPayload(deal models.Deal) map[string]any {
	return map[string]any{
		"session_id": deal.ID,
		"deal_code":  deal.Code,
		"stage":      string(deal.Stage),
		"recipients": Recipients(deal),
	}
}

// Recipients lists everyone who should see updates of deal.
func Recipients(deal models.Deal) []int64 {
	ids := []int64{deal.CreatorID}
	add := func(id int64) {
		for _, existing := range ids {
			if existing == id {
				return
			}
		}
		ids = append(ids, id)
	}
	add(deal.CounterpartyID)
	if deal.Sender != nil {
		add(*deal.Sender)
	}
	if deal.Receiver != nil {
		add(*deal.Receiver)
	}
	return ids
}

func (n *DealNotifier) StageChanged(ctx context.Context, deal models.Deal, from models.Stage) {
	p := dealPayload(deal)
	p["old_stage"] = string(from)
	p["new_stage"] = string(deal.Stage)
	p["text"] = fmt.Sprintf("Deal %s: %s → %s", deal.Code, from, deal.Stage)
	n.publish(ctx, EventDealStageChanged, p)
}

func (n *DealNotifier) DealUpdated(ctx context.Context, deal models.Deal) {
	p := dealPayload(deal)
	p["deal"] = deal
	if deal.HasAmount() {
		p["text"] = fmt.Sprintf("Deal %s: $%s = %s %s at $%s",
			deal.Code, deal.AmountUSD.StringFixed(2), deal.AmountCoin.String(), n.symbol, deal.Rate.String())
	}
	n.publish(ctx, EventDealUpdated, p)
}

func (n *DealNotifier) Prompt(ctx context.Context, deal models.Deal, prompt string, data map[string]any) {
	p := dealPayload(deal)
	p["prompt"] = prompt
	for k, v := range data {
		p[k] = v
	}
	n.publish(ctx, EventDealPrompt, p)
}

func (n *DealNotifier) PaymentProgress(ctx context.Context, deal models.Deal, tx chain.Transaction, required int) {
	p := dealPayload(deal)
	p["txid"] = tx.TxID
	p["confirmations"] = tx.Confirmations
	p["required"] = required
	p["progress"] = ProgressBar(tx.Confirmations, required)
	p["text"] = fmt.Sprintf("Payment %s: %d/%d confirmations %s",
		tx.TxID, min(tx.Confirmations, required), required, ProgressBar(tx.Confirmations, required))
	n.publish(ctx, EventPaymentProgress, p)
}

func (n *DealNotifier) RateChanged(ctx context.Context, price decimal.Decimal, observedAt time.Time) {
	n.publish(ctx, EventRateChanged, map[string]any{
		"symbol":      n.symbol,
		"price_usd":   price.String(),
		"observed_at": observedAt.UTC().Format(time.RFC3339),
		"text":        fmt.Sprintf("1 %s = $%s", n.symbol, price.StringFixed(2)),
	})
}

func (n *DealNotifier) SessionClosed(ctx context.Context, deal models.Deal, reason string) {
	p := dealPayload(deal)
	p["reason"] = reason
	p["text"] = fmt.Sprintf("Deal %s closed: %s", deal.Code, reason)
	n.publish(ctx, EventSessionClosed, p)
}

// ProgressBar renders confirmations out of required as filled and empty
// squares.
func ProgressBar(confirmations, required int) string {
	if required <= 0 {
		return ""
	}
	done := max(0, min(confirmations, required))
	return strings.Repeat("🟩", done) + strings.Repeat("⬜", required-done)
}
