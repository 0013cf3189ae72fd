package http

import (
	"time"

	"github.com/chat-escrow/backend/internal/config"
	"github.com/chat-escrow/backend/internal/http/handlers"
	"github.com/chat-escrow/backend/internal/middleware"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	authHandler *handlers.AuthHandler,
	dealHandler *handlers.DealHandler,
	adminHandler *handlers.AdminHandler,
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORSOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api/v1")
	api.Post("/auth/telegram", middleware.RateLimitMiddleware(rdb, 20, time.Minute), authHandler.TelegramAuth)

	protected := api.Group("", middleware.AuthMiddleware(cfg, log))
	protected.Use(middleware.RateLimitMiddleware(rdb, cfg.RateLimitRPM, time.Minute))

	// Deals
	protected.Post("/deals", dealHandler.StartDeal)
	protected.Get("/deals/:id", dealHandler.GetDeal)
	protected.Post("/deals/:id/role", dealHandler.SelectRole)
	protected.Post("/deals/:id/confirm", dealHandler.Confirm)
	protected.Post("/deals/:id/cancel", dealHandler.Cancel)
	protected.Post("/deals/:id/amount", dealHandler.SubmitAmount)
	protected.Get("/deals/:id/invoice", dealHandler.GetInvoice)
	protected.Post("/deals/:id/release", dealHandler.Release)
	protected.Get("/deals/:id/events", dealHandler.GetDealEvents)

	// Operator
	admin := protected.Group("/admin", middleware.OperatorMiddleware())
	admin.Post("/release", adminHandler.Release)
	admin.Post("/rate/refresh", adminHandler.RefreshRate)
	admin.Get("/deals", adminHandler.ListDeals)
	admin.Get("/ledger", adminHandler.ListLedger)
	admin.Get("/ledger/:code", adminHandler.GetLedger)
	admin.Get("/ledger/:code/events", adminHandler.GetLedgerEvents)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(wsHub.HandleWS))
}
