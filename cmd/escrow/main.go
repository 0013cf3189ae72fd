package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chat-escrow/backend/internal/chain"
	"github.com/chat-escrow/backend/internal/chain/litecoin"
	"github.com/chat-escrow/backend/internal/config"
	"github.com/chat-escrow/backend/internal/db"
	"github.com/chat-escrow/backend/internal/events"
	apphttp "github.com/chat-escrow/backend/internal/http"
	"github.com/chat-escrow/backend/internal/http/handlers"
	"github.com/chat-escrow/backend/internal/monitor"
	"github.com/chat-escrow/backend/internal/rates"
	"github.com/chat-escrow/backend/internal/registry"
	"github.com/chat-escrow/backend/internal/repositories"
	"github.com/chat-escrow/backend/internal/services"
	"github.com/chat-escrow/backend/internal/ton"
	"github.com/chat-escrow/backend/migrations"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	if err := cfg.Validate(log); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}
	if err := cfg.LoadSecrets(); err != nil {
		log.Fatal("failed to load secrets", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, int32(cfg.PostgresMaxConns), log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := db.RunMigrations(ctx, pool, migrations.FS, log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	network, err := buildNetwork(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to set up network", zap.Error(err))
	}
	if err := network.Validator.ValidateAddress(cfg.CustodialAddress); err != nil {
		log.Fatal("custodial address is invalid", zap.Error(err))
	}

	// Repositories
	escrowRepo := repositories.NewEscrowRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)
	notifier := events.NewDealNotifier(publisher, network.Symbol, log)

	// Core
	deals := registry.New()
	rateCache := rates.NewCache(
		rates.NewCoinGecko(cfg.RateAPIURL, cfg.RateCoinID, log),
		rates.NewRedisStore(rdb, cfg.RateCoinID),
		deals, notifier, network.Decimals, log,
	)
	rateCache.Restore(ctx)

	paymentMonitor := monitor.New(network.Lookup, deals, monitor.NewRedisClaims(rdb), monitor.Config{
		Address:     cfg.CustodialAddress,
		Interval:    cfg.PaymentPollInterval,
		Tolerance:   cfg.PaymentTolerance,
		DealTimeout: cfg.DealTimeout,
	}, log)

	releaser := services.NewReleaseExecutor(deals, network, cfg.SigningKey, escrowRepo, log)
	dealService := services.NewDealService(deals, rateCache, paymentMonitor, releaser, network, auditRepo, escrowRepo, notifier, services.Settings{
		CustodialAddress:       cfg.CustodialAddress,
		QRLink:                 cfg.QRLink,
		MinAmountUSD:           cfg.MinAmountUSD,
		InputTimeout:           cfg.InputTimeout,
		RequiredConfirmations:  cfg.RequiredConfirmations,
		OperatorIDs:            cfg.OperatorTelegramIDs,
		FinishedDealsCacheSize: cfg.FinishedDealsCache,
	}, log)
	paymentMonitor.SetHandler(dealService)

	// HTTP
	wsHub := handlers.NewWSHub(cfg, subscriber, log)
	if err := wsHub.Start(ctx); err != nil {
		log.Fatal("failed to subscribe ws hub", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var e *fiber.Error
			if errors.As(err, &e) {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})
	apphttp.SetupRouter(app, cfg, log, rdb,
		handlers.NewAuthHandler(cfg, log),
		handlers.NewDealHandler(dealService, auditRepo, log),
		handlers.NewAdminHandler(dealService, rateCache, escrowRepo, auditRepo, log),
		wsHub,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rateCache.Run(gctx, cfg.RateRefreshInterval)
		return nil
	})
	g.Go(func() error {
		addr := fmt.Sprintf(":%s", cfg.APIPort)
		log.Info("starting escrow API", zap.String("addr", addr), zap.String("coin", network.Symbol))
		return app.Listen(addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down...")
		dealService.Close()
		paymentMonitor.Close()
		return app.ShutdownWithTimeout(10 * time.Second)
	})

	if err := g.Wait(); err != nil {
		log.Error("escrow stopped with error", zap.Error(err))
	}
}

func buildNetwork(ctx context.Context, cfg *config.Config, log *zap.Logger) (chain.Network, error) {
	switch cfg.Coin {
	case config.CoinTON:
		api, err := ton.Connect(ctx, ton.Config{
			Network:        cfg.TONNetwork,
			LiteServerHost: cfg.LiteServerHost,
			LiteServerPort: cfg.LiteServerPort,
			LiteServerKey:  cfg.LiteServerKey,
		}, log)
		if err != nil {
			return chain.Network{}, err
		}
		return chain.Network{
			Name:        config.CoinTON,
			Symbol:      "TON",
			Decimals:    ton.Decimals,
			Lookup:      ton.NewLookup(api, cfg.RequiredConfirmations, log),
			Broadcaster: ton.NewWalletBroadcaster(api, log),
			Validator:   ton.NewAddressValidator(),
		}, nil
	default:
		if err := litecoin.ValidateWIF(cfg.SigningKey); err != nil {
			return chain.Network{}, fmt.Errorf("signing key: %w", err)
		}
		return chain.Network{
			Name:        config.CoinLTC,
			Symbol:      "LTC",
			Decimals:    8,
			Lookup:      litecoin.NewSoChainClient(cfg.SoChainBaseURL, log),
			Broadcaster: litecoin.NewRPCBroadcaster(cfg.LitecoindRPCURL, cfg.LitecoindRPCUser, cfg.LitecoindRPCPass, cfg.CustodialAddress, cfg.ReleaseFee, log),
			Validator:   litecoin.NewAddressValidator(),
		}, nil
	}
}
