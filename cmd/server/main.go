package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	"github.com/kursadbilgin/campaign-engine/internal/config"
	"github.com/kursadbilgin/campaign-engine/internal/engine"
	"github.com/kursadbilgin/campaign-engine/internal/handler"
	"github.com/kursadbilgin/campaign-engine/internal/observability"
	"github.com/kursadbilgin/campaign-engine/internal/provider"
	"github.com/kursadbilgin/campaign-engine/internal/ratelimit"
	"github.com/kursadbilgin/campaign-engine/internal/store"
	"github.com/kursadbilgin/campaign-engine/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// A missing .env is fine in production; the environment is authoritative.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	outbox, report, err := store.Tables(cfg.DataDir)
	if err != nil {
		logger.Fatal("data tables initialization failed", zap.Error(err))
	}

	client := resty.New()
	client.SetTimeout(cfg.ProviderTimeout())
	twilio, err := provider.NewTwilioProviderWithClient(cfg.TwilioAccountSID, cfg.TwilioAuthToken, client)
	if err != nil {
		logger.Fatal("provider initialization failed", zap.Error(err))
	}

	pacer := ratelimit.NewIntervalPacer(cfg.SendInterval())

	metrics := observability.NewMetrics()

	eng, err := engine.New(outbox, twilio, pacer, nil, logger)
	if err != nil {
		logger.Fatal("engine initialization failed", zap.Error(err))
	}
	eng.SetMetrics(metrics)
	eng.SetProgressMinInterval(cfg.ProgressMinInterval())

	app := fiber.New(fiber.Config{
		ErrorHandler:          transport.ErrorHandler(logger),
		DisableStartupMessage: true,
	})
	app.Use(metrics.HTTPMiddleware())

	if err := handler.RegisterCallbackRoutes(app, report, logger, metrics); err != nil {
		logger.Fatal("callback routes registration failed", zap.Error(err))
	}
	defaults := handler.SenderDefaults{
		From:        cfg.FromNumber,
		CallbackURL: cfg.CallbackURL,
	}
	if err := handler.RegisterCampaignRoutes(app, eng, outbox, report, defaults); err != nil {
		logger.Fatal("campaign routes registration failed", zap.Error(err))
	}
	handler.RegisterHealthRoutes(app, cfg.DataDir)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("campaign-engine api started", zap.Int("port", cfg.APIPort))
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			logger.Warn("http shutdown failed", zap.Error(err))
		}
		if err := eng.Shutdown(shutdownCtx); err != nil {
			logger.Warn("engine shutdown failed", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
	logger.Info("campaign-engine api stopped")
}
