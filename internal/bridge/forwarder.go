package bridge

import (
	"context"
	"fmt"

	"github.com/chat-escrow/backend/internal/events"
	"github.com/chat-escrow/backend/internal/services"
	"go.uber.org/zap"
)

type Bot interface {
	PostToSession(ctx context.Context, sessionID string, msg services.SessionMessage) error
	CloseSession(ctx context.Context, sessionID, reason string) error
	SendNotification(ctx context.Context, telegramUserID int64, text string) error
}

// Forwarder relays deal events from the event channel to the chat bot.
// Session events go to the session they name; rate changes go to operators.
type Forwarder struct {
	bot       Bot
	operators []int64
	log       *zap.Logger
}

func NewForwarder(bot Bot, operators []int64, log *zap.Logger) *Forwarder {
	return &Forwarder{bot: bot, operators: operators, log: log}
}

func (f *Forwarder) Handle(ctx context.Context, event events.Event) error {
	text, _ := event.Payload["text"].(string)

	if event.Type == events.EventRateChanged {
		var firstErr error
		for _, id := range f.operators {
			if err := f.bot.SendNotification(ctx, id, text); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}

	sessionID, _ := event.Payload["session_id"].(string)
	if sessionID == "" {
		return fmt.Errorf("event %s has no session_id", event.Type)
	}

	msg := services.SessionMessage{Type: event.Type, Text: text, Payload: event.Payload}
	if err := f.bot.PostToSession(ctx, sessionID, msg); err != nil {
		return err
	}

	if event.Type == events.EventSessionClosed {
		reason, _ := event.Payload["reason"].(string)
		return f.bot.CloseSession(ctx, sessionID, reason)
	}
	return nil
}

// Run subscribes to deal events and forwards them until ctx is done.
func (f *Forwarder) Run(ctx context.Context, sub events.Subscriber) error {
	if err := sub.Subscribe(ctx, events.StreamDeals, func(event events.Event) {
		if err := f.Handle(ctx, event); err != nil {
			f.log.Warn("failed to forward event", zap.String("type", event.Type), zap.Error(err))
			return
		}
		f.log.Debug("event forwarded", zap.String("type", event.Type))
	}); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}
