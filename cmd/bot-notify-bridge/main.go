package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/chat-escrow/backend/internal/bridge"
	"github.com/chat-escrow/backend/internal/config"
	"github.com/chat-escrow/backend/internal/db"
	"github.com/chat-escrow/backend/internal/events"
	"github.com/chat-escrow/backend/internal/services"
	"go.uber.org/zap"
)

// bot-notify-bridge subscribes to deal events in Redis and forwards them to
// the chat bot's internal API.

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	subscriber := events.NewRedisSubscriber(rdb, log)
	forwarder := bridge.NewForwarder(services.NewBotClient(cfg.BotInternalURL, log), cfg.OperatorTelegramIDs, log)

	log.Info("bot-notify-bridge started", zap.String("bot_url", cfg.BotInternalURL))
	if err := forwarder.Run(ctx, subscriber); err != nil {
		log.Fatal("bridge failed", zap.Error(err))
	}
	log.Info("shutting down bot-notify-bridge")
}
