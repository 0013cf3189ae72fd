package events

import "context"

// StreamDeals carries every deal event.
const StreamDeals = "events:deal"

// Event types
const (
	EventDealStageChanged = "deal_stage_changed"
	EventDealUpdated      = "deal_updated"
	EventDealPrompt       = "deal_prompt"
	EventPaymentProgress  = "payment_progress"
	EventRateChanged      = "rate_changed"
	EventSessionClosed    = "session_closed"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}
